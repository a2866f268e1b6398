package websocket

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

// Subscription is the (room, section) a connection currently views.
type Subscription struct {
	Room    string
	Section types.Section
}

type entry struct {
	conn         interfaces.Connection
	name         string
	subscription *Subscription
	order        uint64
}

// Registry tracks live connections, the identity each is bound to, and the
// (room, section) each is subscribed to.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*entry // connection id -> entry
	byName      map[string]map[string]struct{}
	next        uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*entry),
		byName:      make(map[string]map[string]struct{}),
	}
}

// Register adds an unbound connection.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.next++
	r.connections[conn.ID()] = &entry{conn: conn, order: r.next}
	return nil
}

// Unregister removes the connection and returns the name it was bound to.
// Unregistering an unknown id is a no-op.
func (r *Registry) Unregister(id string) (name string, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connections[id]
	if !ok {
		return "", false
	}
	delete(r.connections, id)

	if e.name != "" {
		if ids := r.byName[e.name]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.byName, e.name)
			}
		}
	}
	return e.name, true
}

// Bind ties the connection to name. Binding again to the same name is a
// no-op; binding to a different name fails with ErrAlreadyBound and returns
// the current name.
func (r *Registry) Bind(id, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connections[id]
	if !ok {
		return "", ErrConnectionNotRegistered
	}
	if e.name != "" {
		if e.name != name {
			return e.name, ErrAlreadyBound
		}
		return e.name, nil
	}

	e.name = name
	ids, ok := r.byName[name]
	if !ok {
		ids = make(map[string]struct{})
		r.byName[name] = ids
	}
	ids[id] = struct{}{}
	return name, nil
}

// Identity returns the name the connection is bound to.
func (r *Registry) Identity(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.connections[id]
	if !ok || e.name == "" {
		return "", false
	}
	return e.name, true
}

// HasIdentity reports whether any live connection is bound to name.
func (r *Registry) HasIdentity(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[name]) > 0
}

// Subscribe sets the connection's current (room, section).
func (r *Registry) Subscribe(id, room string, section types.Section) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.connections[id]; ok {
		e.subscription = &Subscription{Room: room, Section: section}
	}
}

// Unsubscribe clears the connection's subscription if it points at room.
func (r *Registry) Unsubscribe(id, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.connections[id]; ok && e.subscription != nil && e.subscription.Room == room {
		e.subscription = nil
	}
}

// SubscriptionOf returns the connection's current subscription.
func (r *Registry) SubscriptionOf(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.connections[id]
	if !ok || e.subscription == nil {
		return Subscription{}, false
	}
	return *e.subscription, true
}

// Connections returns every live connection in registration order.
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(*entry) bool { return true })
}

// Subscribers returns the connections subscribed to exactly (room, section),
// in registration order.
func (r *Registry) Subscribers(room string, section types.Section) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(e *entry) bool {
		return e.subscription != nil && e.subscription.Room == room && e.subscription.Section == section
	})
}

// collect must be called with r.mu held.
func (r *Registry) collect(keep func(*entry) bool) []interfaces.Connection {
	entries := lo.Filter(lo.Values(r.connections), func(e *entry, _ int) bool { return keep(e) })
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	return lo.Map(entries, func(e *entry, _ int) interfaces.Connection { return e.conn })
}

// Stats returns counts for monitoring.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Connections: len(r.connections),
		Identities:  len(r.byName),
	}
	for _, e := range r.connections {
		if e.name != "" {
			stats.Bound++
		}
	}
	return stats
}

// RegistryStats is a point-in-time view of the registry.
type RegistryStats struct {
	Connections int `json:"connections"`
	Bound       int `json:"bound_connections"`
	Identities  int `json:"identities"`
}
