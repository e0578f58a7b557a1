package server

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devgrid/portal/pkg/database"
	"github.com/devgrid/portal/pkg/protocol"
	"github.com/devgrid/portal/pkg/serial"
)

var userIDPattern = regexp.MustCompile(`^[0-9A-Z]{4}-[0-9A-Z]{4}-[0-9A-Z]{4}-[0-9A-Z]{4}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The portal fronts this endpoint; browser origin checks happen there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket classifies the caller from the query string, upgrades the
// connection and runs its read loop until close or heartbeat timeout.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolveIdentity(r)
	if err != nil {
		debugLog.Printf("ws connect rejected: %v", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("websocket upgrade failed: %v", err)
		return
	}

	sess := s.sessions.Register(identity, conn, 10*time.Second)
	kind := "user"
	if identity.IsDevice() {
		kind = "device"
	}
	s.metrics.ConnectionOpened(kind)
	debugLog.Printf("session %d connected (%s %s)", sess.ID, kind, identity.ClientID())

	reason := s.runSession(sess, conn)

	s.teardown(sess, reason)
}

// resolveIdentity validates the connection parameters. Users present a
// UserID matching the 4-block pattern; devices present a serial number plus
// name and firmware, which upserts their durable record.
func (s *Server) resolveIdentity(r *http.Request) (Identity, error) {
	q := r.URL.Query()
	ctx, cancel := s.storageCtx()
	defer cancel()

	// The system principal never authenticates over the wire; its sessions
	// are constructed in-process. The pattern check below rejects the name.
	if userID := q.Get("UserID"); userID != "" {
		if !userIDPattern.MatchString(userID) {
			return Identity{}, errors.New("malformed UserID")
		}
		user, err := s.store.FindUser(ctx, userID)
		if err != nil {
			return Identity{}, errors.New("unknown UserID")
		}
		if err := s.store.SetUserOnline(ctx, user.UserID, true); err != nil {
			errorLog.Printf("failed to mark user %s online: %v", user.UserID, err)
		}
		return Identity{UserID: user.UserID, Role: user.Role}, nil
	}

	if rawSN := q.Get("DevSN"); rawSN != "" {
		devSN, err := serial.Validate(rawSN)
		if err != nil {
			return Identity{}, ErrInvalidSerial
		}
		catalog, err := s.store.FindCatalog(ctx, serial.CatalogID(devSN))
		if err != nil {
			return Identity{}, errors.New("unregistered device type")
		}
		devName := q.Get("DevName")
		if devName == "" {
			devName = catalog.DevName
		}
		if _, err := s.store.UpsertDevice(ctx, devSN, catalog.DevID, devName, q.Get("DevFW")); err != nil {
			return Identity{}, errors.New("device registration failed")
		}
		return Identity{DevSN: devSN}, nil
	}

	return Identity{}, errors.New("missing UserID or DevSN")
}

// runSession attaches the session to its groups and pumps inbound frames
// until the connection dies. Returns the disconnect reason for metrics.
func (s *Server) runSession(sess *Session, conn *websocket.Conn) string {
	if err := s.attachGroups(sess); err != nil {
		errorLog.Printf("session %d: group attach failed: %v", sess.ID, err)
		return "error"
	}

	if !sess.Identity.IsDevice() {
		s.sendInitialGroupList(sess)
	}

	conn.SetReadLimit(int64(s.config.MaxFrameBytes))

	// The read deadline covers one full heartbeat cycle. Each pong pushes
	// it forward; a silent peer times out and falls into teardown.
	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	s.wg.Add(1)
	go s.pingLoop(sess, pingDone)

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "closed"
			}
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				return "heartbeat"
			}
			return "error"
		}
		if msgType != websocket.BinaryMessage {
			s.metrics.PacketDropped("decode")
			debugLog.Printf("session %d: non-binary message dropped", sess.ID)
			continue
		}

		pkt, err := protocol.Decode(frame)
		if err != nil {
			// The frame failed integrity checks, so its sender cannot
			// be trusted enough to answer. Log and drop.
			s.metrics.PacketDropped("decode")
			debugLog.Printf("session %d: undecodable frame: %v", sess.ID, err)
			continue
		}

		s.dispatch(sess, pkt)
	}
}

// pingLoop sends websocket pings on the heartbeat interval until the
// session ends.
func (s *Server) pingLoop(sess *Session, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := sess.ping(s.config.HeartbeatTimeout); err != nil {
				debugLog.Printf("session %d: ping failed: %v", sess.ID, err)
				sess.Close()
				return
			}
		}
	}
}

// attachGroups joins the session to the System group and to its personal
// group, creating the latter on first connect. The check-and-create pair is
// serialized so racing reconnects cannot allocate the group twice.
func (s *Server) attachGroups(sess *Session) error {
	s.registry.Join(sess, s.systemGroupID)

	personal, err := s.ensureGroup(sess.Identity.ClientID())
	if err != nil {
		return err
	}
	sess.PersonalGroupID = personal.GroupID
	s.registry.Join(sess, personal.GroupID)
	s.updateRegistryMetrics()
	return nil
}

// ensureGroup returns the durable group with the given name, creating it
// when absent.
func (s *Server) ensureGroup(groupName string) (*database.Group, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	ctx, cancel := s.storageCtx()
	defer cancel()

	group, err := s.store.FindGroupByName(ctx, groupName)
	if errors.Is(err, database.ErrGroupNotFound) {
		group, err = s.store.CreateGroup(ctx, groupName)
	}
	return group, err
}

// sendInitialGroupList pushes a GroupList snapshot to a freshly connected
// user so the client can render without an extra round trip.
func (s *Server) sendInitialGroupList(sess *Session) {
	value, cmdErr := s.buildGroupList(sess.Identity)
	if cmdErr != nil {
		debugLog.Printf("session %d: initial group list skipped: %v", sess.ID, cmdErr)
		return
	}
	s.sendTo(sess, toRequester(protocol.HeaderOK, protocol.ArgGroupList, value))
}

// teardown runs the common disconnect path for every exit reason.
func (s *Server) teardown(sess *Session, reason string) {
	sess.Close()
	s.registry.LeaveAll(sess)
	s.sessions.Remove(sess.ID)
	s.updateRegistryMetrics()
	s.metrics.ConnectionClosed(reason)

	ctx, cancel := s.storageCtx()
	defer cancel()

	id := sess.Identity
	switch {
	case id.IsSystem():
		// No durable presence for the internal principal.
	case id.IsDevice():
		if err := s.store.SetDeviceOnline(ctx, id.DevSN, false); err != nil {
			errorLog.Printf("failed to mark device %s offline: %v", id.DevSN, err)
		}
	default:
		if err := s.store.SetUserOnline(ctx, id.UserID, false); err != nil {
			errorLog.Printf("failed to mark user %s offline: %v", id.UserID, err)
		}
	}

	debugLog.Printf("session %d disconnected (%s)", sess.ID, reason)
}
