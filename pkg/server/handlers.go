package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/devgrid/portal/pkg/database"
	"github.com/devgrid/portal/pkg/protocol"
	"github.com/devgrid/portal/pkg/serial"
)

// handleJoinGroup attaches the requester to an existing group. The group
// must already exist durably; membership itself is volatile.
func (s *Server) handleJoinGroup(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !allowed(sess.Identity, actionJoinGroup) {
		return nil, ErrForbidden
	}

	var req protocol.JoinGroupValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("JoinGroup: %v", err)
	}
	if req.GroupID == "" {
		return nil, invalidRequest("JoinGroup: missing GroupID")
	}

	ctx, cancel := s.storageCtx()
	defer cancel()

	group, err := s.store.FindGroupByID(ctx, req.GroupID)
	if errors.Is(err, database.ErrGroupNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}

	s.registry.Join(sess, group.GroupID)
	s.updateRegistryMetrics()

	value := protocol.JoinGroupValue{
		ClientID:  sess.Identity.ClientID(),
		GroupID:   group.GroupID,
		GroupName: &group.GroupName,
	}
	return []reply{toRequester(protocol.HeaderOK, protocol.ArgJoinGroup, value)}, nil
}

// handleLeaveGroup drops a single membership. Leaving a group the session
// never joined is a no-op, acknowledged the same way.
func (s *Server) handleLeaveGroup(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	var req protocol.JoinGroupValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("LeaveGroup: %v", err)
	}
	if req.GroupID == "" {
		return nil, invalidRequest("LeaveGroup: missing GroupID")
	}

	// System and personal memberships belong to the connection lifecycle
	// and cannot be left explicitly.
	if req.GroupID == s.systemGroupID || req.GroupID == sess.PersonalGroupID {
		return nil, ErrForbidden
	}

	// The remaining members hear about the leave while the membership
	// still exists; the requester gets a direct ack regardless of whether
	// they were ever a member.
	value := protocol.JoinGroupValue{
		ClientID: sess.Identity.ClientID(),
		GroupID:  req.GroupID,
	}
	s.deliver(sess, toGroupExcept(req.GroupID, protocol.HeaderOK, protocol.ArgLeaveGroup, value))
	s.registry.Leave(sess, req.GroupID)
	s.updateRegistryMetrics()

	return []reply{toRequester(protocol.HeaderOK, protocol.ArgLeaveGroup, value)}, nil
}

// handleLeaveGroups drops every membership except the System group and the
// session's personal group, which belong to the connection lifecycle.
func (s *Server) handleLeaveGroups(sess *Session) ([]reply, error) {
	for _, groupID := range s.registry.GroupsOf(sess) {
		if groupID == s.systemGroupID || groupID == sess.PersonalGroupID {
			continue
		}
		s.registry.Leave(sess, groupID)
	}
	s.updateRegistryMetrics()

	value := protocol.JoinGroupValue{ClientID: sess.Identity.ClientID()}
	return []reply{toRequester(protocol.HeaderOK, protocol.ArgLeaveGroups, value)}, nil
}

// handleCreateGroup creates a named chat group and joins the creator. The
// system principal recovers from a duplicate name by joining the existing
// group; everybody else gets ER_GROUP_ALREADY_EXISTS.
func (s *Server) handleCreateGroup(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !allowed(sess.Identity, actionCreateGroup) {
		return nil, ErrForbidden
	}

	var req protocol.CreateGroupValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("CreateGroup: %v", err)
	}
	if req.GroupName == nil || *req.GroupName == "" {
		return nil, invalidRequest("CreateGroup: missing GroupName")
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	ctx, cancel := s.storageCtx()
	defer cancel()

	group, err := s.store.CreateGroup(ctx, *req.GroupName)
	if errors.Is(err, database.ErrGroupExists) {
		if !sess.Identity.IsSystem() {
			return nil, ErrGroupExists
		}
		// Provisioning traffic retries blindly; treat the existing
		// group as success so the principal ends up joined either way.
		group, err = s.store.FindGroupByName(ctx, *req.GroupName)
	}
	if err != nil {
		return nil, err
	}

	s.registry.Join(sess, group.GroupID)
	s.updateRegistryMetrics()

	value := protocol.CreateGroupValue{
		ClientID:  sess.Identity.ClientID(),
		GroupID:   group.GroupID,
		GroupName: &group.GroupName,
	}
	return []reply{toRequester(protocol.HeaderOK, protocol.ArgCreateGroup, value)}, nil
}

// handleDeleteGroup removes a group and all its messages. Online members
// are notified before their registry entries go away.
func (s *Server) handleDeleteGroup(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !allowed(sess.Identity, actionDeleteGroup) {
		return nil, ErrForbidden
	}

	var req protocol.DeleteGroupValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("DeleteGroup: %v", err)
	}
	if req.GroupID == "" {
		return nil, invalidRequest("DeleteGroup: missing GroupID")
	}
	if req.GroupID == s.systemGroupID {
		return nil, ErrForbidden
	}

	ctx, cancel := s.storageCtx()
	defer cancel()

	if err := s.store.DeleteGroup(ctx, req.GroupID); err != nil {
		if errors.Is(err, database.ErrGroupNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}

	// Notify the remaining members before the membership is gone, then
	// evict them from the dead group.
	value := protocol.DeleteGroupValue{
		ClientID: sess.Identity.ClientID(),
		GroupID:  req.GroupID,
	}
	s.deliver(sess, toGroupExcept(req.GroupID, protocol.HeaderSys, protocol.ArgDeleteGroup, value))
	for _, member := range s.registry.MembersOf(req.GroupID) {
		s.registry.Leave(member, req.GroupID)
	}
	s.updateRegistryMetrics()

	return []reply{toRequester(protocol.HeaderOK, protocol.ArgDeleteGroup, value)}, nil
}

// handleGroupList answers with the durable group list.
func (s *Server) handleGroupList(sess *Session) ([]reply, error) {
	if !allowed(sess.Identity, actionGroupList) {
		return nil, ErrForbidden
	}

	value, err := s.buildGroupList(sess.Identity)
	if err != nil {
		return nil, err
	}
	return []reply{toRequester(protocol.HeaderOK, protocol.ArgGroupList, value)}, nil
}

// buildGroupList assembles the GroupList payload. The system principal
// gets the raw list; ordinary callers get personal-group names resolved to
// the owning user and must have a personal group of their own.
func (s *Server) buildGroupList(id Identity) (*protocol.GroupListValue, error) {
	ctx, cancel := s.storageCtx()
	defer cancel()

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	value := &protocol.GroupListValue{
		ClientID:  id.ClientID(),
		GroupList: make([]protocol.GroupEntry, 0, len(groups)),
	}

	if id.IsSystem() {
		for _, g := range groups {
			value.GroupList = append(value.GroupList, protocol.GroupEntry{
				GroupID:   g.GroupID,
				GroupName: g.GroupName,
			})
		}
		return value, nil
	}

	for _, g := range groups {
		entry := protocol.GroupEntry{GroupID: g.GroupID, GroupName: g.GroupName}
		if userIDPattern.MatchString(g.GroupName) {
			if owner, err := s.store.FindUser(ctx, g.GroupName); err == nil {
				entry.FirstName = &owner.FirstName
				entry.LastName = &owner.LastName
			}
		}
		value.GroupList = append(value.GroupList, entry)
	}

	if _, err := s.store.FindGroupByName(ctx, id.ClientID()); err != nil {
		if errors.Is(err, database.ErrGroupNotFound) {
			return nil, ErrUserGroupNotFound
		}
		return nil, err
	}

	return value, nil
}

// handleStatus relays a live status payload to the rest of the group
// without persisting anything.
func (s *Server) handleStatus(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	var req protocol.StatusValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("Status: %v", err)
	}
	if req.GroupID == "" {
		return nil, invalidRequest("Status: missing GroupID")
	}

	if sess.Identity.IsDevice() {
		req.DevSN = sess.Identity.DevSN
	} else {
		req.ClientID = sess.Identity.ClientID()
	}

	return []reply{
		toGroupExcept(req.GroupID, protocol.HeaderSys, protocol.ArgStatus, req),
		toRequester(protocol.HeaderOK, protocol.ArgStatus, req),
	}, nil
}

// handleSetMessage persists a relayed write and echoes it to the rest of
// the group. The verb travels into the stored body, so any SET argument is
// replayable from history.
func (s *Server) handleSetMessage(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !allowed(sess.Identity, actionPostMessage) {
		return nil, ErrForbidden
	}

	var req protocol.GroupMessageValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("%s: %v", pkt.Argument, err)
	}

	ctx, cancel := s.storageCtx()
	defer cancel()

	lookup := req.GroupID
	if lookup == "" {
		lookup = req.GroupName
	}
	if lookup == "" {
		return nil, invalidRequest("%s: missing GroupID", pkt.Argument)
	}
	group, err := s.store.FindGroup(ctx, lookup)
	if errors.Is(err, database.ErrGroupNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}

	var userID, devSN *string
	var author *protocol.Author
	if sess.Identity.IsDevice() {
		// Device identity resolves through the catalog, not the user
		// table.
		sn := sess.Identity.DevSN
		if _, err := s.store.FindCatalog(ctx, serial.CatalogID(sn)); err != nil {
			return nil, ErrDeviceNotFound
		}
		devSN = &sn
	} else if !sess.Identity.IsSystem() {
		user, err := s.store.FindUser(ctx, sess.Identity.UserID)
		if err != nil {
			return nil, ErrUserNotFound
		}
		userID = &user.UserID
		author = &protocol.Author{
			UserID:    user.UserID,
			NickName:  user.NickName,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		}
	}

	body := pkt.Argument + " | " + string(req.Message)
	msg, err := s.store.CreateMessage(ctx, group.GroupID, userID, devSN, body)
	if err != nil {
		return nil, err
	}

	echo := protocol.GroupMessageValue{
		ClientID:  sess.Identity.ClientID(),
		GroupID:   group.GroupID,
		GroupName: group.GroupName,
		MessageID: msg.MessageID,
		Message:   req.Message,
		Created:   formatCreated(msg.CreatedAt),
		Author:    author,
	}
	if devSN != nil {
		echo.DevSN = *devSN
	}

	return []reply{
		toGroupExcept(group.GroupID, protocol.HeaderSet, pkt.Argument, echo),
		toRequester(protocol.HeaderOK, pkt.Argument, echo),
	}, nil
}

// handleGetMessages pages through a group's history, newest first. The
// cursor is the oldest MessageID the caller already holds.
func (s *Server) handleGetMessages(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !allowed(sess.Identity, actionReadMessages) {
		return nil, ErrForbidden
	}

	var req protocol.GroupMessagesRequest
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("GroupMessages: %v", err)
	}
	if req.GroupID == "" {
		return nil, invalidRequest("GroupMessages: missing GroupID")
	}

	ctx, cancel := s.storageCtx()
	defer cancel()

	group, err := s.store.FindGroup(ctx, req.GroupID)
	if errors.Is(err, database.ErrGroupNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.config.PageSize
	}

	messages, err := s.store.FindMessages(ctx, group.GroupID, req.Cursor, limit)
	if err != nil {
		return nil, err
	}

	value := protocol.GroupMessagesValue{
		ClientID:      sess.Identity.ClientID(),
		GroupID:       group.GroupID,
		GroupName:     group.GroupName,
		GroupMessages: make([]protocol.GroupMessageValue, 0, len(messages)),
		HasMore:       len(messages) == limit,
	}

	authors := make(map[string]*protocol.Author)
	for _, msg := range messages {
		entry := protocol.GroupMessageValue{
			GroupID:   group.GroupID,
			MessageID: msg.MessageID,
			Message:   messageBody(msg.Body),
			Created:   formatCreated(msg.CreatedAt),
		}
		if msg.DevSN != nil {
			entry.DevSN = *msg.DevSN
		}
		if msg.UserID != nil {
			author, ok := authors[*msg.UserID]
			if !ok {
				if user, err := s.store.FindUser(ctx, *msg.UserID); err == nil {
					author = &protocol.Author{
						UserID:    user.UserID,
						NickName:  user.NickName,
						FirstName: user.FirstName,
						LastName:  user.LastName,
					}
				}
				authors[*msg.UserID] = author
			}
			entry.Author = author
		}
		value.GroupMessages = append(value.GroupMessages, entry)
	}

	return []reply{toRequester(protocol.HeaderOK, protocol.ArgGroupMessages, value)}, nil
}

// handleDeleteMessage removes one message and tells the group about it.
func (s *Server) handleDeleteMessage(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !allowed(sess.Identity, actionDeleteMessage) {
		return nil, ErrForbidden
	}

	var req protocol.DeleteMessageValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("DeleteMessage: %v", err)
	}
	if req.MessageID == 0 {
		return nil, invalidRequest("DeleteMessage: missing MessageID")
	}

	ctx, cancel := s.storageCtx()
	defer cancel()

	deleted, err := s.store.DeleteMessage(ctx, req.MessageID)
	if errors.Is(err, database.ErrMessageNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	value := protocol.DeleteMessageValue{
		ClientID:  sess.Identity.ClientID(),
		GroupID:   deleted.GroupID,
		MessageID: deleted.MessageID,
	}
	return []reply{
		toGroupExcept(deleted.GroupID, protocol.HeaderSet, protocol.ArgDeleteMessage, value),
		toRequester(protocol.HeaderOK, protocol.ArgDeleteMessage, value),
	}, nil
}

// handleModuleRequest records a module query in the group history and
// relays it to the rest of the group, where the target device picks it up.
// The answer arrives asynchronously as the device's OK!.
func (s *Server) handleModuleRequest(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !allowed(sess.Identity, actionModuleControl) {
		return nil, ErrForbidden
	}

	var req protocol.ModuleConfigValue
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("%s: %v", pkt.Argument, err)
	}
	if req.GroupID == "" {
		return nil, invalidRequest("%s: missing GroupID", pkt.Argument)
	}

	ctx, cancel := s.storageCtx()
	defer cancel()

	if err := s.persistModuleEvent(ctx, sess, pkt.Argument, req.GroupID, req.ModuleSN); err != nil {
		return nil, err
	}

	relay := protocol.ModuleConfigValue{
		ClientID: req.ClientID,
		DevSN:    req.DevSN,
		ModuleSN: req.ModuleSN,
		GroupID:  req.GroupID,
	}
	return []reply{toGroupExcept(req.GroupID, protocol.HeaderGet, pkt.Argument, relay)}, nil
}

// handleModuleReply accepts a device's answer to a module query, records
// it in the group history, stores the inventory on the device record for
// ModuleList and relays the payload to the rest of the group.
func (s *Server) handleModuleReply(sess *Session, pkt *protocol.Packet) ([]reply, error) {
	if !sess.Identity.IsDevice() {
		debugLog.Printf("session %d: %s reply from non-device ignored", sess.ID, pkt.Argument)
		return nil, nil
	}
	devSN := sess.Identity.DevSN

	var req struct {
		GroupID      string          `json:"GroupID"`
		ModuleList   json.RawMessage `json:"ModuleList"`
		ModuleConfig json.RawMessage `json:"ModuleConfig"`
	}
	if err := pkt.DecodeValue(&req); err != nil {
		return nil, invalidRequest("%s: %v", pkt.Argument, err)
	}
	if req.GroupID == "" {
		return nil, invalidRequest("%s: missing GroupID", pkt.Argument)
	}

	ctx, cancel := s.storageCtx()
	defer cancel()

	var relay reply
	switch pkt.Argument {
	case protocol.ArgModuleList:
		if err := s.persistModuleEvent(ctx, sess, pkt.Argument, req.GroupID, string(req.ModuleList)); err != nil {
			return nil, err
		}
		if err := s.store.SetDeviceModules(ctx, devSN, string(req.ModuleList)); err != nil {
			errorLog.Printf("failed to store modules for %s: %v", devSN, err)
		}
		relay = toGroupExcept(req.GroupID, protocol.HeaderOK, pkt.Argument, protocol.ModuleListValue{
			ClientID:   devSN,
			DevSN:      devSN,
			GroupID:    req.GroupID,
			ModuleList: req.ModuleList,
		})
	default:
		if err := s.persistModuleEvent(ctx, sess, pkt.Argument, req.GroupID, string(req.ModuleConfig)); err != nil {
			return nil, err
		}
		relay = toGroupExcept(req.GroupID, protocol.HeaderOK, pkt.Argument, protocol.ModuleConfigValue{
			ClientID:     devSN,
			DevSN:        devSN,
			GroupID:      req.GroupID,
			ModuleConfig: req.ModuleConfig,
		})
	}

	return []reply{relay}, nil
}

// persistModuleEvent stores a module command or reply in the group history
// under the requester's identity, body format "Argument | payload".
func (s *Server) persistModuleEvent(ctx context.Context, sess *Session, argument, groupID, payload string) error {
	group, err := s.store.FindGroup(ctx, groupID)
	if errors.Is(err, database.ErrGroupNotFound) {
		return ErrGroupNotFound
	}
	if err != nil {
		return err
	}

	var userID, devSN *string
	if sess.Identity.IsDevice() {
		sn := sess.Identity.DevSN
		devSN = &sn
	} else if !sess.Identity.IsSystem() {
		uid := sess.Identity.UserID
		userID = &uid
	}

	if _, err := s.store.CreateMessage(ctx, group.GroupID, userID, devSN, argument+" | "+payload); err != nil {
		return err
	}
	return nil
}

// messageBody converts a stored body into the wire Message field. Stored
// text is "Argument | payload"; the payload goes out verbatim when it is
// valid JSON and as a JSON string otherwise.
func messageBody(stored string) json.RawMessage {
	_, payload, found := strings.Cut(stored, " | ")
	if !found {
		payload = stored
	}
	if json.Valid([]byte(payload)) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(payload)
	return quoted
}

// formatCreated renders a storage timestamp (Unix milliseconds) for the
// wire.
func formatCreated(unixMillis int64) string {
	return time.UnixMilli(unixMillis).UTC().Format(time.RFC3339)
}
