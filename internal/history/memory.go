// Package history keeps per-room, per-section message logs in memory.
package history

import (
	"context"
	"sync"

	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

type key struct {
	room    string
	section types.Section
}

// MemoryStore implements interfaces.MessageStore with in-process slices.
// Logs are kept in arrival order. When maxMessages is positive each log is
// capped and the oldest entries are evicted first.
type MemoryStore struct {
	mu          sync.RWMutex
	logs        map[key][]types.Message
	maxMessages int
	closed      bool
}

// NewMemoryStore creates a store. maxMessages <= 0 keeps every message.
func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		logs:        make(map[key][]types.Message),
		maxMessages: maxMessages,
	}
}

func (s *MemoryStore) Append(ctx context.Context, message types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return interfaces.ErrStoreClosed
	}

	k := key{room: message.Room, section: message.Section}
	log := append(s.logs[k], message)
	if s.maxMessages > 0 && len(log) > s.maxMessages {
		evicted := len(log) - s.maxMessages
		// Copy down so the evicted prefix can be collected.
		log = append(log[:0:0], log[evicted:]...)
	}
	s.logs[k] = log
	return nil
}

func (s *MemoryStore) History(ctx context.Context, room string, section types.Section) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, interfaces.ErrStoreClosed
	}

	log := s.logs[key{room: room, section: section}]
	out := make([]types.Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, room string, section types.Section, id, requester, placeholder string) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Message{}, interfaces.ErrStoreClosed
	}

	log := s.logs[key{room: room, section: section}]
	for i := range log {
		if log[i].ID != id {
			continue
		}
		if log[i].Username != requester {
			return types.Message{}, interfaces.ErrForbidden
		}
		if !log[i].MarkDeleted(placeholder) {
			return log[i], interfaces.ErrAlreadyDeleted
		}
		return log[i], nil
	}
	return types.Message{}, interfaces.ErrMessageNotFound
}

// Len returns the total number of stored messages across all logs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, log := range s.logs {
		n += len(log)
	}
	return n
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logs = make(map[key][]types.Message)
	return nil
}
