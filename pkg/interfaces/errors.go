package interfaces

import "errors"

// Common errors shared by MessageStore implementations
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("requester is not the message author")
	ErrAlreadyDeleted  = errors.New("message already deleted")
	ErrStoreClosed     = errors.New("message store is closed")
)
