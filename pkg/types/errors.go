package types

import "errors"

// Payload validation errors surfaced to the sending connection.
var (
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrBlankUsername   = errors.New("username cannot be blank")
	ErrEmptyText       = errors.New("text message cannot be empty")
	ErrInvalidSection  = errors.New("section must be chat or media")
	ErrInvalidKind     = errors.New("message type must be text or media")
)
