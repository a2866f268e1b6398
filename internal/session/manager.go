// Package session holds the participant directory: one identity record per
// display name, kept for the life of the process.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"roomrelay/pkg/types"
)

// Manager implements interfaces.ParticipantDirectory.
type Manager struct {
	participants map[string]*types.Participant // name -> record
	mu           sync.RWMutex
	now          func() time.Time
}

// NewManager creates an empty directory.
func NewManager() *Manager {
	return &Manager{
		participants: make(map[string]*types.Participant),
		now:          time.Now,
	}
}

// Upsert records city for name, last write wins. It returns the previous city
// and whether a record already existed.
func (m *Manager) Upsert(name, city string) (previous string, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.participants[name]; ok {
		previous = p.City
		p.City = city
		return previous, true
	}

	m.participants[name] = &types.Participant{
		Name:      name,
		City:      city,
		FirstSeen: m.now(),
	}
	return "", false
}

// Lookup returns a copy of the record for name.
func (m *Manager) Lookup(name string) (types.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[name]
	if !ok {
		return types.Participant{}, false
	}
	return *p, true
}

// Count returns the number of known identities.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.participants)
}

// List returns a copy of every record ordered by name.
func (m *Manager) List() []types.Participant {
	m.mu.RLock()
	list := lo.MapToSlice(m.participants, func(_ string, p *types.Participant) types.Participant {
		return *p
	})
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
