package interfaces

// Connection represents a live client transport as seen by the relay
// Implementations must serialize writes internally; WriteJSON is called from many goroutines
type Connection interface {
	// ID returns the process-unique identifier assigned when the connection was accepted
	ID() string

	// WriteJSON queues v for delivery to the client
	// It must not block on a slow peer: a full queue is reported as an error and the frame dropped
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its writer goroutine
	Close() error
}
