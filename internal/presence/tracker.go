// Package presence tracks which participants are currently in which rooms.
package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"roomrelay/pkg/types"
)

// Tracker keeps room -> participants and participant -> rooms in step.
// A participant is in room R's set iff R is in that participant's set; every
// mutating method updates both maps under the same lock.
type Tracker struct {
	mu           sync.RWMutex
	rooms        map[string]map[string]struct{}
	participants map[string]map[string]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		rooms:        make(map[string]map[string]struct{}),
		participants: make(map[string]map[string]struct{}),
	}
}

// Join adds participant to room and returns the room's new count.
// Joining a room twice is a no-op.
func (t *Tracker) Join(participant, room string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		t.rooms[room] = members
	}
	members[participant] = struct{}{}

	joined, ok := t.participants[participant]
	if !ok {
		joined = make(map[string]struct{})
		t.participants[participant] = joined
	}
	joined[room] = struct{}{}

	return len(members)
}

// Leave removes participant from room. It returns the room's count and whether
// the participant was present; callers broadcast only when present is true.
func (t *Tracker) Leave(participant, room string) (count int, present bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(participant, room)
}

func (t *Tracker) leaveLocked(participant, room string) (int, bool) {
	members := t.rooms[room]
	if _, ok := members[participant]; !ok {
		return len(members), false
	}

	delete(members, participant)
	if len(members) == 0 {
		delete(t.rooms, room)
	}

	if joined := t.participants[participant]; joined != nil {
		delete(joined, room)
		if len(joined) == 0 {
			delete(t.participants, participant)
		}
	}

	return len(t.rooms[room]), true
}

// RemoveParticipant leaves every room participant had joined and returns each
// affected room's updated count, sorted by room name.
func (t *Tracker) RemoveParticipant(participant string) []types.RoomCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms := lo.Keys(t.participants[participant])
	sort.Strings(rooms)

	updates := make([]types.RoomCount, 0, len(rooms))
	for _, room := range rooms {
		count, _ := t.leaveLocked(participant, room)
		updates = append(updates, types.RoomCount{Room: room, UserCount: count})
	}
	return updates
}

// Count returns the number of participants present in room.
func (t *Tracker) Count(room string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[room])
}

// Counts returns a snapshot of every non-empty room's count.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.MapValues(t.rooms, func(members map[string]struct{}, _ string) int {
		return len(members)
	})
}

// Rooms returns the rooms participant is in, sorted.
func (t *Tracker) Rooms(participant string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms := lo.Keys(t.participants[participant])
	sort.Strings(rooms)
	return rooms
}

// Members returns the participants present in room, sorted.
func (t *Tracker) Members(room string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := lo.Keys(t.rooms[room])
	sort.Strings(members)
	return members
}

// Participants returns how many participants are present in at least one room.
func (t *Tracker) Participants() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.participants)
}
