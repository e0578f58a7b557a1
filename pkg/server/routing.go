package server

import "github.com/devgrid/portal/pkg/protocol"

// SendMode selects who receives the reply produced by a command handler.
type SendMode int

const (
	// ToRequester delivers only to the session that issued the command.
	ToRequester SendMode = iota
	// ToGroup delivers to every member of the group, requester included.
	ToGroup
	// ToGroupExceptRequester delivers to every member except the requester.
	ToGroupExceptRequester
)

// reply is a routed outbound packet produced by a command handler. Handlers
// return the acknowledgement for the requester and, for state changes that
// concern the whole group, an echo for the other members.
type reply struct {
	mode     SendMode
	groupID  string
	header   string
	argument string
	value    any
}

func toRequester(header, argument string, value any) reply {
	return reply{mode: ToRequester, header: header, argument: argument, value: value}
}

func toGroup(groupID, header, argument string, value any) reply {
	return reply{mode: ToGroup, groupID: groupID, header: header, argument: argument, value: value}
}

func toGroupExcept(groupID, header, argument string, value any) reply {
	return reply{mode: ToGroupExceptRequester, groupID: groupID, header: header, argument: argument, value: value}
}

// deliver routes a single reply according to its mode. The frame is
// encoded once; slow or dead peers only affect their own session, and a
// failed write tears that session down.
func (s *Server) deliver(requester *Session, r reply) {
	frame, err := protocol.Encode(r.header, r.argument, r.value)
	if err != nil {
		errorLog.Printf("failed to encode %s %s: %v", r.header, r.argument, err)
		return
	}

	switch r.mode {
	case ToRequester:
		s.sendFrame(requester, r.header, frame)
	case ToGroup:
		s.fanOut(requester, r, frame, true)
	case ToGroupExceptRequester:
		s.fanOut(requester, r, frame, false)
	}
}

func (s *Server) fanOut(requester *Session, r reply, frame []byte, includeRequester bool) {
	members := s.registry.MembersOf(r.groupID)
	delivered := 0
	for _, member := range members {
		if !includeRequester && member == requester {
			continue
		}
		if s.sendFrame(member, r.header, frame) {
			delivered++
		}
	}
	s.metrics.BroadcastDelivered(delivered)
}

// sendTo encodes and delivers one packet to one session.
func (s *Server) sendTo(sess *Session, r reply) bool {
	frame, err := protocol.Encode(r.header, r.argument, r.value)
	if err != nil {
		errorLog.Printf("failed to encode %s %s: %v", r.header, r.argument, err)
		return false
	}
	return s.sendFrame(sess, r.header, frame)
}

// sendFrame writes an encoded frame to one session, closing the session on
// write failure.
func (s *Server) sendFrame(sess *Session, header string, frame []byte) bool {
	if sess == nil || sess.Closed() {
		return false
	}
	if err := sess.writeFrame(frame); err != nil {
		debugLog.Printf("session %d: write failed, closing: %v", sess.ID, err)
		sess.Close()
		return false
	}
	s.metrics.PacketSent(header)
	return true
}
