package server

import (
	"errors"

	"github.com/devgrid/portal/pkg/protocol"
)

// dispatch routes one decoded packet to its command handler and delivers
// the handler's replies. Handler errors become an ER! packet addressed to
// the requester only; unknown headers and arguments are logged and dropped.
func (s *Server) dispatch(sess *Session, pkt *protocol.Packet) {
	s.metrics.PacketReceived(pkt.Header)

	var replies []reply
	var err error

	switch pkt.Header {
	case protocol.HeaderSys:
		switch pkt.Argument {
		case protocol.ArgJoinGroup:
			replies, err = s.handleJoinGroup(sess, pkt)
		case protocol.ArgLeaveGroup:
			replies, err = s.handleLeaveGroup(sess, pkt)
		case protocol.ArgLeaveGroups:
			replies, err = s.handleLeaveGroups(sess)
		case protocol.ArgCreateGroup:
			replies, err = s.handleCreateGroup(sess, pkt)
		case protocol.ArgDeleteGroup:
			replies, err = s.handleDeleteGroup(sess, pkt)
		case protocol.ArgGroupList:
			replies, err = s.handleGroupList(sess)
		case protocol.ArgStatus:
			replies, err = s.handleStatus(sess, pkt)
		default:
			s.dropPacket(sess, pkt, "unknown_argument")
			return
		}

	case protocol.HeaderGet:
		switch pkt.Argument {
		case protocol.ArgGroupMessages:
			replies, err = s.handleGetMessages(sess, pkt)
		case protocol.ArgModuleList, protocol.ArgModuleConfig:
			replies, err = s.handleModuleRequest(sess, pkt)
		default:
			s.dropPacket(sess, pkt, "unknown_argument")
			return
		}

	case protocol.HeaderSet:
		switch pkt.Argument {
		case protocol.ArgDeleteMessage:
			replies, err = s.handleDeleteMessage(sess, pkt)
		default:
			// Any other SET verb, GroupMessage included, is a message
			// relay: the argument travels into the stored body.
			replies, err = s.handleSetMessage(sess, pkt)
		}

	case protocol.HeaderOK:
		switch pkt.Argument {
		case protocol.ArgModuleList, protocol.ArgModuleConfig:
			replies, err = s.handleModuleReply(sess, pkt)
		default:
			// Acknowledgements from clients need no action.
			debugLog.Printf("session %d: OK! %s ignored", sess.ID, pkt.Argument)
			return
		}

	case protocol.HeaderError:
		debugLog.Printf("session %d: peer error %s: %s", sess.ID, pkt.Argument, pkt.Value)
		return

	default:
		s.dropPacket(sess, pkt, "unknown_header")
		return
	}

	if err != nil {
		s.sendError(sess, pkt.Argument, err)
		return
	}
	for _, r := range replies {
		s.deliver(sess, r)
	}
}

func (s *Server) dropPacket(sess *Session, pkt *protocol.Packet, reason string) {
	s.metrics.PacketDropped(reason)
	debugLog.Printf("session %d: dropped %s %s (%s)", sess.ID, pkt.Header, pkt.Argument, reason)
}

// sendError converts a handler failure into an ER! packet for the
// requester, keeping the failed command's argument so the client can match
// the error to its request. Unnamed failures surface as ER_INTERNAL with
// the detail kept in the server log.
func (s *Server) sendError(sess *Session, argument string, err error) {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		errorLog.Printf("session %d: %s: internal error: %v", sess.ID, argument, err)
		cmdErr = ErrInternal
	}

	s.metrics.CommandError(cmdErr.Code)
	value := protocol.ErrorValue{
		ClientID: sess.Identity.ClientID(),
		Error:    cmdErr.Code,
		Detail:   cmdErr.Detail,
	}
	s.sendTo(sess, toRequester(protocol.HeaderError, argument, value))
}
