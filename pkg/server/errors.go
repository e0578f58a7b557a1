package server

import "fmt"

// CommandError is a named protocol-level failure. The code travels to the
// requester inside an ER! packet; the detail stays in the server log.
type CommandError struct {
	Code   string
	Detail string
}

func (e *CommandError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Named errors surfaced to clients. One code per failure condition; the
// taxonomy (NotFound, Forbidden, AlreadyExists, InvalidInput,
// Unauthenticated) is encoded in the names.
var (
	ErrGroupNotFound     = &CommandError{Code: "ER_GROUP_NOT_FOUND"}
	ErrGroupExists       = &CommandError{Code: "ER_GROUP_ALREADY_EXISTS"}
	ErrUserNotFound      = &CommandError{Code: "ER_USER_NOT_FOUND"}
	ErrUserGroupNotFound = &CommandError{Code: "ER_USER_GROUP_NOT_FOUND"}
	ErrDeviceNotFound    = &CommandError{Code: "ER_DEVICE_NOT_FOUND"}
	ErrMessageNotFound   = &CommandError{Code: "ER_MESSAGE_NOT_FOUND"}
	ErrForbidden         = &CommandError{Code: "ER_USER_FORBIDDEN"}
	ErrInvalidRequest    = &CommandError{Code: "ER_INVALID_REQUEST"}
	ErrInvalidSerial     = &CommandError{Code: "ER_VALIDATE_DEVSN"}
	ErrUnauthenticated   = &CommandError{Code: "ER_UNAUTHENTICATED"}
	ErrInternal          = &CommandError{Code: "ER_INTERNAL"}
)

// invalidRequest builds an ER_INVALID_REQUEST with a human-readable detail.
func invalidRequest(format string, args ...any) *CommandError {
	return &CommandError{Code: ErrInvalidRequest.Code, Detail: fmt.Sprintf(format, args...)}
}
