package router

import "errors"

var (
	ErrUnknownUser       = errors.New("unknown user")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrIdentityMismatch  = errors.New("connection already bound to another identity")
	ErrUnknownRoom       = errors.New("unknown room")
	ErrUnknownEvent      = errors.New("unknown event")
)
