package database

import "errors"

// ErrWriteTimeout is returned when the writer goroutine does not finish a
// queued write within the configured timeout.
var ErrWriteTimeout = errors.New("database write timed out")
