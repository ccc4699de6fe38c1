// internal/app/system/presence/registry.go
package presence

import "sync"

// Registry maps a user to the set of live connections that user has open.
//
// A user is online iff they have a non-empty connection set. Empty sets are
// deleted, never kept, so IsOnline is a plain existence test. A connection ID
// belongs to at most one user at a time.
//
// Registry is safe for concurrent use. It is owned by Service; nothing else
// should hold a reference to it.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // userID -> connIDs
	owner  map[string]string              // connID -> userID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		owner:  make(map[string]string),
	}
}

// AddConnection records connID under userID. Adding the same pair twice is a
// no-op. It reports whether this call took the user from offline to online.
//
// If connID is already registered to a different user the call is ignored
// and returns false.
func (r *Registry) AddConnection(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owner[connID]; ok {
		return false // same pair again, or owned by someone else
	}

	conns, existed := r.byUser[userID]
	if !existed {
		conns = make(map[string]struct{}, 1)
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.owner[connID] = userID
	return !existed
}

// RemoveConnection drops connID from userID's set. It reports whether the
// removal emptied the set (the user just went offline). Removing a pair that
// was never added is a no-op that returns false.
func (r *Registry) RemoveConnection(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner[connID] != userID {
		return false
	}
	conns, ok := r.byUser[userID]
	if !ok {
		return false
	}

	delete(conns, connID)
	delete(r.owner, connID)
	if len(conns) > 0 {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// OnlineUserIDs returns a point-in-time snapshot of every online user.
// Order is unspecified.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount returns how many live connections userID has.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Counts returns the number of online users and total live connections.
func (r *Registry) Counts() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.owner)
}
