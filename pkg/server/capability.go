package server

import "github.com/devgrid/portal/pkg/database"

// action is a gated operation a principal can attempt.
type action int

const (
	actionJoinGroup action = iota
	actionCreateGroup
	actionDeleteGroup
	actionGroupList
	actionPostMessage
	actionReadMessages
	actionDeleteMessage
	actionModuleControl
)

// elevated holds the roles above plain USER.
var elevated = map[string]bool{
	database.RoleEngineer: true,
	database.RoleManager:  true,
	database.RoleAdmin:    true,
}

// allowed is the single decision point for (identity, action). Devices never
// carry a role; their authorization is the registered device record checked
// at connect time, so device capabilities are fixed here.
func allowed(id Identity, act action) bool {
	if id.IsSystem() {
		return true
	}

	if id.IsDevice() {
		switch act {
		case actionJoinGroup, actionCreateGroup, actionPostMessage:
			return true
		default:
			return false
		}
	}

	switch act {
	case actionCreateGroup:
		// Any authenticated user may create their personal group.
		return true
	case actionDeleteGroup:
		return id.Role == database.RoleManager || id.Role == database.RoleAdmin
	case actionJoinGroup, actionGroupList, actionPostMessage, actionReadMessages, actionDeleteMessage, actionModuleControl:
		return elevated[id.Role]
	default:
		return false
	}
}
