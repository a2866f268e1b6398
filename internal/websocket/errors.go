package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full, frame dropped")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrDuplicateConnection     = errors.New("connection already registered")
	ErrConnectionNotRegistered = errors.New("connection not registered")
	ErrAlreadyBound            = errors.New("connection already bound to another identity")
)
