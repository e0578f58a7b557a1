package protocol

import "encoding/json"

// Author identifies who wrote a group message.
type Author struct {
	UserID    string `json:"UserID"`
	NickName  string `json:"NickName"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
}

// JoinGroupValue is the VALUE for SYS/OK! JoinGroup and LeaveGroup.
type JoinGroupValue struct {
	ClientID  string  `json:"ClientID"`
	DevSN     *string `json:"DevSN,omitempty"`
	GroupID   string  `json:"GroupID"`
	GroupName *string `json:"GroupName"`
}

// CreateGroupValue is the VALUE for SYS/OK! CreateGroup.
type CreateGroupValue struct {
	ClientID  string  `json:"ClientID"`
	GroupID   string  `json:"GroupID"`
	GroupName *string `json:"GroupName"`
}

// DeleteGroupValue is the VALUE for SYS/OK! DeleteGroup.
type DeleteGroupValue struct {
	ClientID string `json:"ClientID"`
	GroupID  string `json:"GroupID"`
}

// GroupEntry is one group in a GroupList VALUE. FirstName/LastName are set
// only for personal groups whose name resolves to a user.
type GroupEntry struct {
	GroupID   string  `json:"GroupID"`
	GroupName string  `json:"GroupName"`
	FirstName *string `json:"FirstName,omitempty"`
	LastName  *string `json:"LastName,omitempty"`
}

// GroupListValue is the VALUE for SYS/OK! GroupList.
type GroupListValue struct {
	ClientID  string       `json:"ClientID"`
	GroupID   string       `json:"GroupID,omitempty"`
	GroupList []GroupEntry `json:"GroupList"`
}

// GroupMessageValue is the VALUE for SET GroupMessage requests and the SET
// echo broadcast to the rest of the group.
type GroupMessageValue struct {
	ClientID  string          `json:"ClientID,omitempty"`
	DevSN     string          `json:"DevSN,omitempty"`
	GroupID   string          `json:"GroupID"`
	GroupName string          `json:"GroupName,omitempty"`
	MessageID int64           `json:"MessageID,omitempty"`
	Message   json.RawMessage `json:"Message,omitempty"`
	Created   string          `json:"Created,omitempty"`
	Author    *Author         `json:"Author,omitempty"`
}

// GroupMessagesRequest is the VALUE of a GET GroupMessages request. Cursor
// is the MessageID of the oldest message the client already has; zero means
// start from the newest. Limit zero selects the server default.
type GroupMessagesRequest struct {
	ClientID string `json:"ClientID"`
	GroupID  string `json:"GroupID"`
	Cursor   int64  `json:"Cursor,omitempty"`
	Limit    int    `json:"Limit,omitempty"`
}

// GroupMessagesValue is the VALUE of the OK! GroupMessages response.
type GroupMessagesValue struct {
	ClientID      string              `json:"ClientID"`
	GroupID       string              `json:"GroupID"`
	GroupName     string              `json:"GroupName"`
	GroupMessages []GroupMessageValue `json:"GroupMessages"`
	HasMore       bool                `json:"HasMore"`
}

// DeleteMessageValue is the VALUE for SET/OK! DeleteMessage.
type DeleteMessageValue struct {
	ClientID  string `json:"ClientID"`
	GroupID   string `json:"GroupID"`
	MessageID int64  `json:"MessageID"`
}

// StatusValue is the VALUE for SYS Status. Status payloads are relayed to
// the group without being persisted.
type StatusValue struct {
	ClientID string          `json:"ClientID,omitempty"`
	DevSN    string          `json:"DevSN"`
	GroupID  string          `json:"GroupID"`
	Status   json.RawMessage `json:"Status"`
}

// ModuleListValue is the VALUE for GET/OK! ModuleList. The request carries
// no module data; the device's OK! reply fills ModuleList.
type ModuleListValue struct {
	ClientID   string          `json:"ClientID,omitempty"`
	DevSN      string          `json:"DevSN,omitempty"`
	GroupID    string          `json:"GroupID"`
	ModuleList json.RawMessage `json:"ModuleList,omitempty"`
}

// ModuleConfigValue is the VALUE for GET/OK! ModuleConfig.
type ModuleConfigValue struct {
	ClientID     string          `json:"ClientID,omitempty"`
	DevSN        string          `json:"DevSN,omitempty"`
	GroupID      string          `json:"GroupID"`
	ModuleSN     string          `json:"ModuleSN,omitempty"`
	ModuleConfig json.RawMessage `json:"ModuleConfig,omitempty"`
}

// ErrorValue is the VALUE of an ER! packet sent back to the requester.
type ErrorValue struct {
	ClientID string `json:"ClientID,omitempty"`
	Error    string `json:"Error"`
	Detail   string `json:"Detail,omitempty"`
}
