package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devgrid/portal/pkg/database"
	"github.com/devgrid/portal/pkg/registry"
)

// Server is the portal messaging server. It owns the group registry, the
// session table and the HTTP listener that carries the websocket endpoint.
type Server struct {
	store    Store
	registry *registry.Registry[*Session]
	sessions *SessionManager
	config   ServerConfig
	metrics  *Metrics

	// createMu serializes the personal-group check-and-create at connect
	// time so two racing connections cannot both create the same group.
	createMu sync.Mutex

	systemGroupID string

	httpServer *http.Server
	shutdown   chan struct{}
	wg         sync.WaitGroup
}

// NewServer opens the database and builds a server instance.
func NewServer(config ServerConfig) (*Server, error) {
	dbPath, err := ExpandPath(config.DatabasePath)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	srv := newServer(db, config, NewMetrics())
	if err := srv.ensureSystemGroup(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return srv, nil
}

// newServer wires a server around an existing store. Tests use this with a
// mock store and nil metrics.
func newServer(store Store, config ServerConfig, metrics *Metrics) *Server {
	return &Server{
		store:    store,
		registry: registry.New[*Session](),
		sessions: NewSessionManager(),
		config:   config,
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}
}

// ensureSystemGroup creates the shared system group on first boot and pins
// it in the registry so it survives with zero members.
func (s *Server) ensureSystemGroup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StorageTimeout)
	defer cancel()

	group, err := s.store.FindGroupByName(ctx, s.config.SystemGroup)
	if errors.Is(err, database.ErrGroupNotFound) {
		group, err = s.store.CreateGroup(ctx, s.config.SystemGroup)
	}
	if err != nil {
		return fmt.Errorf("failed to ensure system group: %w", err)
	}

	s.systemGroupID = group.GroupID
	s.registry.SetSystemGroup(group.GroupID)
	debugLog.Printf("system group %q ready (id %s)", group.GroupName, group.GroupID)
	return nil
}

// Start begins listening for HTTP traffic. It returns once the listener is
// bound; serving happens on a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{Handler: mux}
	errorLog.Printf("listening on %s", addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("http server: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}

	s.sessions.CloseAll()
	s.wg.Wait()

	return s.store.Close()
}

// storageCtx derives a bounded context for a single storage call.
func (s *Server) storageCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.StorageTimeout)
}

// updateRegistryMetrics publishes the registry gauges after a change.
func (s *Server) updateRegistryMetrics() {
	s.metrics.SetRegistrySize(s.registry.GroupCount(), s.registry.MembershipCount())
}
