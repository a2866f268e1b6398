package interfaces

import (
	"context"

	"roomrelay/pkg/types"
)

// MessageStore is the append-only log of messages keyed by (room, section)
// Insertion order is the canonical order and is never re-sorted
type MessageStore interface {
	// Append adds message to the end of its (room, section) log
	Append(ctx context.Context, message types.Message) error

	// History returns a copy of the (room, section) log in arrival order
	History(ctx context.Context, room string, section types.Section) ([]types.Message, error)

	// SoftDelete tombstones the message with the given id when requester is its author
	// Returns ErrMessageNotFound when the id is absent and ErrForbidden when the author differs;
	// in both cases the stored message is unchanged
	// Deleting an already deleted message by its author returns the stored tombstone with ErrAlreadyDeleted
	SoftDelete(ctx context.Context, room string, section types.Section, id, requester, placeholder string) (types.Message, error)

	// HealthCheck verifies the backend can serve reads
	HealthCheck(ctx context.Context) error

	// Close releases backend resources
	Close() error
}
