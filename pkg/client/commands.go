package client

import (
	"encoding/json"

	"github.com/devgrid/portal/pkg/protocol"
)

// Typed command helpers. Each sends one request packet; replies arrive
// asynchronously on Incoming.

// JoinGroup asks to join an existing group by id.
func (c *Connection) JoinGroup(groupID string) error {
	return c.Send(protocol.HeaderSys, protocol.ArgJoinGroup, protocol.JoinGroupValue{
		ClientID: c.clientID(),
		GroupID:  groupID,
	})
}

// LeaveGroup drops a single group membership.
func (c *Connection) LeaveGroup(groupID string) error {
	return c.Send(protocol.HeaderSys, protocol.ArgLeaveGroup, protocol.JoinGroupValue{
		ClientID: c.clientID(),
		GroupID:  groupID,
	})
}

// LeaveGroups drops every membership except the lifecycle-owned ones.
func (c *Connection) LeaveGroups() error {
	return c.Send(protocol.HeaderSys, protocol.ArgLeaveGroups, protocol.JoinGroupValue{
		ClientID: c.clientID(),
	})
}

// CreateGroup creates a named chat group.
func (c *Connection) CreateGroup(groupName string) error {
	return c.Send(protocol.HeaderSys, protocol.ArgCreateGroup, protocol.CreateGroupValue{
		ClientID:  c.clientID(),
		GroupName: &groupName,
	})
}

// DeleteGroup deletes a group and its history.
func (c *Connection) DeleteGroup(groupID string) error {
	return c.Send(protocol.HeaderSys, protocol.ArgDeleteGroup, protocol.DeleteGroupValue{
		ClientID: c.clientID(),
		GroupID:  groupID,
	})
}

// RequestGroupList asks for the group list snapshot.
func (c *Connection) RequestGroupList() error {
	return c.Send(protocol.HeaderSys, protocol.ArgGroupList, protocol.GroupListValue{
		ClientID: c.clientID(),
	})
}

// PostMessage publishes a message to a group. The payload may be any
// JSON-marshalable value.
func (c *Connection) PostMessage(groupID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Send(protocol.HeaderSet, protocol.ArgGroupMessage, protocol.GroupMessageValue{
		ClientID: c.clientID(),
		GroupID:  groupID,
		Message:  raw,
	})
}

// RequestMessages pages through a group's history. Cursor zero starts at
// the newest message; limit zero selects the server default.
func (c *Connection) RequestMessages(groupID string, cursor int64, limit int) error {
	return c.Send(protocol.HeaderGet, protocol.ArgGroupMessages, protocol.GroupMessagesRequest{
		ClientID: c.clientID(),
		GroupID:  groupID,
		Cursor:   cursor,
		Limit:    limit,
	})
}

// DeleteMessage removes one message by id.
func (c *Connection) DeleteMessage(messageID int64) error {
	return c.Send(protocol.HeaderSet, protocol.ArgDeleteMessage, protocol.DeleteMessageValue{
		ClientID:  c.clientID(),
		MessageID: messageID,
	})
}

// PublishStatus broadcasts a live status payload to a group without
// persisting it. Used by device clients.
func (c *Connection) PublishStatus(groupID string, status any) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.Send(protocol.HeaderSys, protocol.ArgStatus, protocol.StatusValue{
		DevSN:   c.identity.DevSN,
		GroupID: groupID,
		Status:  raw,
	})
}

// RequestModuleList asks a device, via the shared group, for its
// installed module list.
func (c *Connection) RequestModuleList(groupID, devSN string) error {
	return c.Send(protocol.HeaderGet, protocol.ArgModuleList, protocol.ModuleListValue{
		ClientID: c.clientID(),
		DevSN:    devSN,
		GroupID:  groupID,
	})
}

// RequestModuleConfig asks a device, via the shared group, for one
// module's configuration.
func (c *Connection) RequestModuleConfig(groupID, devSN, moduleSN string) error {
	return c.Send(protocol.HeaderGet, protocol.ArgModuleConfig, protocol.ModuleConfigValue{
		ClientID: c.clientID(),
		DevSN:    devSN,
		ModuleSN: moduleSN,
		GroupID:  groupID,
	})
}

func (c *Connection) clientID() string {
	if c.identity.UserID != "" {
		return c.identity.UserID
	}
	return c.identity.DevSN
}
