package interfaces

import (
	"context"

	"roomrelay/pkg/types"
)

// EventRouter applies inbound events to relay state and fans out the results
// Calls are made from a single goroutine, one event at a time
type EventRouter interface {
	// Dispatch decodes and handles one inbound envelope from conn
	Dispatch(ctx context.Context, conn Connection, envelope types.Envelope)

	// Disconnect releases everything held on behalf of conn
	Disconnect(ctx context.Context, conn Connection)
}
