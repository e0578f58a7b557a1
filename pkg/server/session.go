package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devgrid/portal/pkg/protocol"
)

// Identity describes the authenticated principal behind a session. Exactly
// one of UserID or DevSN is set for real clients; the system principal has
// UserID set to SystemUserID.
type Identity struct {
	UserID string
	DevSN  string
	Role   string
}

// SystemUserID is the reserved principal used for internal provisioning
// traffic. It bypasses the role gates on group creation and listing.
const SystemUserID = "SYSTEM_WS_USER"

// IsDevice reports whether the session belongs to a hardware device.
func (id Identity) IsDevice() bool { return id.DevSN != "" }

// IsSystem reports whether the session is the internal system principal.
func (id Identity) IsSystem() bool { return id.UserID == SystemUserID }

// ClientID returns the wire identifier of the principal, the UserID for
// users and the serial number for devices.
func (id Identity) ClientID() string {
	if id.IsDevice() {
		return id.DevSN
	}
	return id.UserID
}

// wsConn is the write side of a websocket connection. *websocket.Conn
// satisfies it; tests substitute a recording fake.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session represents an active client connection
type Session struct {
	ID       uint64
	Identity Identity

	// PersonalGroupID is the durable id of the session's personal group,
	// set once during connection setup.
	PersonalGroupID string

	conn    wsConn
	writeMu sync.Mutex // websocket allows one concurrent writer

	closeOnce sync.Once
	closed    chan struct{}

	writeTimeout time.Duration
}

// NewSession wraps an upgraded websocket connection.
func NewSession(id uint64, identity Identity, conn wsConn, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           id,
		Identity:     identity,
		conn:         conn,
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// SendPacket encodes and writes a single frame. Safe for concurrent use.
func (s *Session) SendPacket(header, argument string, value any) error {
	frame, err := protocol.Encode(header, argument, value)
	if err != nil {
		return err
	}
	return s.writeFrame(frame)
}

func (s *Session) writeFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return websocket.ErrCloseSent
	default:
	}

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// ping sends a websocket ping control frame.
func (s *Session) ping(timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Close tears down the underlying connection. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// SessionManager manages all active sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		nextID:   1,
	}
}

// Register wraps the connection in a Session and tracks it.
func (sm *SessionManager) Register(identity Identity, conn wsConn, writeTimeout time.Duration) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess := NewSession(sm.nextID, identity, conn, writeTimeout)
	sm.sessions[sess.ID] = sess
	sm.nextID++
	return sess
}

// Remove forgets a session. The caller closes the connection itself.
func (sm *SessionManager) Remove(id uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Get returns a session by ID, or nil.
func (sm *SessionManager) Get(id uint64) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot of the live sessions.
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll tears down every session, used during shutdown.
func (sm *SessionManager) CloseAll() {
	for _, s := range sm.All() {
		s.Close()
	}
}
