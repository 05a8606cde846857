package websocket

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeMember records what it receives without any transport
type fakeMember struct {
	id             string
	conversationID string
	closed         atomic.Int32
}

func newFakeMember(id, conversationID string) *fakeMember {
	return &fakeMember{id: id, conversationID: conversationID}
}

func (f *fakeMember) ID() string                { return f.id }
func (f *fakeMember) ConversationID() string    { return f.conversationID }
func (f *fakeMember) UserID() string            { return "" }
func (f *fakeMember) Send(payload []byte) error { return nil }
func (f *fakeMember) Close() error {
	f.closed.Add(1)
	return nil
}

// Functional Validation Tests

func TestRegistry_NewRegistryInitialization(t *testing.T) {
	registry := NewRegistry()

	stats := registry.GetStats()
	if stats["total_connections"] != 0 || stats["active_conversations"] != 0 {
		t.Errorf("Expected empty registry, got %v", stats)
	}
}

func TestRegistry_JoinValidation(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Join("c1", nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if err := registry.Join("", newFakeMember("a", "")); err != ErrEmptyConversationID {
		t.Errorf("Expected ErrEmptyConversationID, got %v", err)
	}
	if registry.Has("") {
		t.Error("Rejected joins must not create entries")
	}
}

func TestRegistry_JoinAndMembersOf(t *testing.T) {
	registry := NewRegistry()
	a := newFakeMember("a", "c1")
	b := newFakeMember("b", "c1")

	registry.Join("c1", a)
	registry.Join("c1", b)

	members := registry.MembersOf("c1")
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
	if members[0] != a || members[1] != b {
		t.Error("Members should be returned in join order")
	}
	if !registry.Has("c1") {
		t.Error("Expected c1 to be active")
	}
}

func TestRegistry_LastLeaveDeletesEntry(t *testing.T) {
	registry := NewRegistry()
	a := newFakeMember("a", "c1")

	registry.Join("c1", a)
	registry.Leave("c1", a)

	if registry.Has("c1") {
		t.Error("Conversation entry should be removed after last leave")
	}
	if members := registry.MembersOf("c1"); len(members) != 0 {
		t.Errorf("Expected no members, got %d", len(members))
	}
	if stats := registry.GetStats(); stats["active_conversations"] != 0 {
		t.Errorf("Expected 0 active conversations, got %d", stats["active_conversations"])
	}
}

func TestRegistry_JoinLeaveScenario(t *testing.T) {
	// B joins c1, A joins c1, B leaves: only A remains
	registry := NewRegistry()
	a := newFakeMember("a", "c1")
	b := newFakeMember("b", "c1")

	registry.Join("c1", b)
	registry.Join("c1", a)
	registry.Leave("c1", b)

	members := registry.MembersOf("c1")
	if len(members) != 1 || members[0] != a {
		t.Errorf("Expected only A in c1, got %v", members)
	}
}

func TestRegistry_LeaveIsNoOpWhenAbsent(t *testing.T) {
	registry := NewRegistry()
	a := newFakeMember("a", "c1")
	stranger := newFakeMember("s", "c1")

	// Unknown conversation
	registry.Leave("nope", a)
	registry.Leave("c1", nil)

	// Unknown member in a known conversation
	registry.Join("c1", a)
	registry.Leave("c1", stranger)
	if len(registry.MembersOf("c1")) != 1 {
		t.Error("Leaving with an unknown member must not change membership")
	}

	// Double leave
	registry.Leave("c1", a)
	registry.Leave("c1", a)
	if registry.Has("c1") {
		t.Error("Expected c1 to be absent")
	}
}

func TestRegistry_DuplicateJoinDuplicatesMembership(t *testing.T) {
	registry := NewRegistry()
	a := newFakeMember("a", "c1")

	registry.Join("c1", a)
	registry.Join("c1", a)
	if got := len(registry.MembersOf("c1")); got != 2 {
		t.Fatalf("Expected duplicate join to be kept, got %d members", got)
	}

	registry.Leave("c1", a)
	if got := len(registry.MembersOf("c1")); got != 1 {
		t.Errorf("One leave should remove one registration, got %d", got)
	}
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	registry := NewRegistry()
	a := newFakeMember("a", "c1")
	b := newFakeMember("b", "c1")
	registry.Join("c1", a)
	registry.Join("c1", b)

	snapshot := registry.MembersOf("c1")
	registry.Leave("c1", a)
	registry.Join("c1", newFakeMember("c", "c1"))

	if len(snapshot) != 2 || snapshot[0] != a || snapshot[1] != b {
		t.Errorf("Snapshot changed after mutation: %v", snapshot)
	}
}

func TestRegistry_ConversationsAreIndependent(t *testing.T) {
	registry := NewRegistry()
	registry.Join("c1", newFakeMember("a", "c1"))
	registry.Join("c2", newFakeMember("b", "c2"))
	registry.Join("c2", newFakeMember("c", "c2"))

	stats := registry.GetStats()
	if stats["total_connections"] != 3 || stats["active_conversations"] != 2 {
		t.Errorf("Unexpected stats %v", stats)
	}
	if len(registry.MembersOf("c1")) != 1 || len(registry.MembersOf("c2")) != 2 {
		t.Error("Membership leaked across conversations")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	registry := NewRegistry()
	a := newFakeMember("a", "c1")
	b := newFakeMember("b", "c2")
	registry.Join("c1", a)
	registry.Join("c2", b)

	if closed := registry.CloseAll(); closed != 2 {
		t.Errorf("Expected 2 closed members, got %d", closed)
	}
	if a.closed.Load() != 1 || b.closed.Load() != 1 {
		t.Error("Every member should be closed exactly once")
	}
	if registry.Has("c1") || registry.Has("c2") {
		t.Error("Registry should be empty after CloseAll")
	}

	// Late leaves from closing handlers are harmless
	registry.Leave("c1", a)
}

// Concurrency Tests

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	registry := NewRegistry()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conversation := fmt.Sprintf("c%d", i%5)
			m := newFakeMember(fmt.Sprintf("m%d", i), conversation)
			registry.Join(conversation, m)
			_ = registry.MembersOf(conversation)
			registry.Leave(conversation, m)
		}(i)
	}
	wg.Wait()

	stats := registry.GetStats()
	if stats["total_connections"] != 0 || stats["active_conversations"] != 0 {
		t.Errorf("Expected empty registry after balanced join/leave, got %v", stats)
	}
}

func TestRegistry_EntryExistsIffUnmatchedJoin(t *testing.T) {
	registry := NewRegistry()
	members := make([]*fakeMember, 4)
	for i := range members {
		members[i] = newFakeMember(fmt.Sprintf("m%d", i), "c1")
	}

	steps := []struct {
		join   bool
		member int
		want   bool
	}{
		{true, 0, true},
		{true, 1, true},
		{false, 0, true},
		{false, 3, true},
		{false, 1, false},
		{false, 1, false},
		{true, 2, true},
		{false, 2, false},
	}

	for i, step := range steps {
		if step.join {
			registry.Join("c1", members[step.member])
		} else {
			registry.Leave("c1", members[step.member])
		}
		if got := registry.Has("c1"); got != step.want {
			t.Errorf("step %d: Has(c1) = %v, want %v", i, got, step.want)
		}
	}
}
