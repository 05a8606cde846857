package websocket

import (
	"sync"

	"parley/pkg/interfaces"
)

// Registry maps conversation ids to the members currently joined to them.
// It is the single source of truth for broadcast targets. A conversation key
// exists only while at least one member is joined.
type Registry struct {
	mu            sync.RWMutex
	conversations map[string][]interfaces.Member
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		conversations: make(map[string][]interfaces.Member),
	}
}

// Join appends member to the conversation's live set.
// The caller joins each accepted connection exactly once; a second Join of the
// same member duplicates its deliveries.
func (r *Registry) Join(conversationID string, member interfaces.Member) error {
	if member == nil {
		return ErrNilConnection
	}
	if conversationID == "" {
		return ErrEmptyConversationID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conversations[conversationID] = append(r.conversations[conversationID], member)
	return nil
}

// Leave removes member from the conversation and deletes the entry once it is
// empty. Leaving an absent conversation or member is a no-op so disconnect
// races never fail.
func (r *Registry) Leave(conversationID string, member interfaces.Member) {
	if member == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.conversations[conversationID]
	if !exists {
		return
	}

	for i, m := range members {
		if m != member {
			continue
		}
		// Copy rather than reslice in place: snapshots handed out earlier share
		// the old backing array.
		remaining := make([]interfaces.Member, 0, len(members)-1)
		remaining = append(remaining, members[:i]...)
		remaining = append(remaining, members[i+1:]...)
		if len(remaining) == 0 {
			delete(r.conversations, conversationID)
		} else {
			r.conversations[conversationID] = remaining
		}
		return
	}
}

// MembersOf returns a point-in-time copy of the conversation's members in
// join order. Mutations after the call never show through.
func (r *Registry) MembersOf(conversationID string) []interfaces.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.conversations[conversationID]
	if len(members) == 0 {
		return nil
	}
	snapshot := make([]interfaces.Member, len(members))
	copy(snapshot, members)
	return snapshot
}

// Has reports whether the conversation currently has any member
func (r *Registry) Has(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.conversations[conversationID]
	return exists
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.conversations {
		total += len(members)
	}

	return map[string]int{
		"total_connections":    total,
		"active_conversations": len(r.conversations),
	}
}

// CloseAll empties the registry and closes every member. Closing happens
// outside the lock because a member's own cleanup calls Leave.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conversations := r.conversations
	r.conversations = make(map[string][]interfaces.Member)
	r.mu.Unlock()

	closed := 0
	for _, members := range conversations {
		for _, m := range members {
			_ = m.Close()
			closed++
		}
	}
	return closed
}
