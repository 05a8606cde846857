package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/internal/config"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

type testMember struct {
	id             string
	conversationID string
	userID         string
}

func (m *testMember) ID() string             { return m.id }
func (m *testMember) ConversationID() string { return m.conversationID }
func (m *testMember) UserID() string         { return m.userID }
func (m *testMember) Send([]byte) error      { return nil }
func (m *testMember) Close() error           { return nil }

type appendCall struct {
	conversationID string
	senderID       *string
	content        string
}

// mockStore implements interfaces.MessageStore
type mockStore struct {
	mu    sync.Mutex
	calls []appendCall
	err   error
	block bool
}

func (s *mockStore) AppendMessage(ctx context.Context, conversationID string, senderID *string, content string) (*types.Message, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, appendCall{conversationID, senderID, content})
	if s.err != nil {
		return nil, s.err
	}
	return &types.Message{ID: "m1", ConversationID: conversationID, SenderID: senderID, Content: content}, nil
}

func (s *mockStore) ListMessages(ctx context.Context, conversationID string) ([]*types.Message, error) {
	return nil, nil
}

func (s *mockStore) appended() []appendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appendCall(nil), s.calls...)
}

type broadcastCall struct {
	conversationID string
	payload        string
	exclude        interfaces.Member
}

// mockBroadcaster implements interfaces.Broadcaster
type mockBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *mockBroadcaster) Broadcast(conversationID string, payload []byte, exclude interfaces.Member) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{conversationID, string(payload), exclude})
	return 1
}

func (b *mockBroadcaster) broadcasts() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

func newTestRouter(store interfaces.MessageStore, options Options) (*Router, *mockBroadcaster) {
	b := &mockBroadcaster{}
	return NewRouter(store, b, options, nil), b
}

// Functional Validation Tests

func TestRouter_PersistThenBroadcast(t *testing.T) {
	store := &mockStore{}
	r, b := newTestRouter(store, DefaultOptions())
	sender := &testMember{id: "conn-a", conversationID: "c1", userID: "A"}

	if err := r.RouteMessage(context.Background(), sender, []byte("hello")); err != nil {
		t.Fatalf("RouteMessage failed: %v", err)
	}

	appended := store.appended()
	if len(appended) != 1 {
		t.Fatalf("Expected 1 append, got %d", len(appended))
	}
	if appended[0].conversationID != "c1" || appended[0].content != "hello" {
		t.Errorf("Unexpected append: %+v", appended[0])
	}
	if appended[0].senderID == nil || *appended[0].senderID != "A" {
		t.Errorf("Expected sender id A, got %v", appended[0].senderID)
	}

	sent := b.broadcasts()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(sent))
	}
	if sent[0].payload != "hello" || sent[0].conversationID != "c1" {
		t.Errorf("Payload should be relayed verbatim, got %+v", sent[0])
	}
	if sent[0].exclude != sender {
		t.Error("Sender must be excluded from its own broadcast")
	}
}

func TestRouter_AnonymousSenderPersistsNullSender(t *testing.T) {
	store := &mockStore{}
	r, _ := newTestRouter(store, DefaultOptions())

	r.RouteMessage(context.Background(), &testMember{id: "conn-x", conversationID: "c1"}, []byte("hi"))

	appended := store.appended()
	if len(appended) != 1 || appended[0].senderID != nil {
		t.Errorf("Anonymous sender should persist a nil sender id, got %+v", appended)
	}
}

func TestRouter_StoreFailureStillBroadcasts(t *testing.T) {
	store := &mockStore{err: errors.New("disk on fire")}
	r, b := newTestRouter(store, DefaultOptions())

	err := r.RouteMessage(context.Background(), &testMember{id: "a", conversationID: "c1", userID: "A"}, []byte("x"))
	if err != nil {
		t.Errorf("Store failures must not surface to the sender, got %v", err)
	}
	if len(b.broadcasts()) != 1 {
		t.Error("Broadcast should proceed when persistence fails")
	}
}

func TestRouter_RequirePersistDropsOnFailure(t *testing.T) {
	store := &mockStore{err: interfaces.ErrStoreUnavailable}
	options := DefaultOptions()
	options.RequirePersist = true
	r, b := newTestRouter(store, options)

	err := r.RouteMessage(context.Background(), &testMember{id: "a", conversationID: "c1", userID: "A"}, []byte("x"))
	if err != nil {
		t.Errorf("Dropped messages are not an error, got %v", err)
	}
	if len(b.broadcasts()) != 0 {
		t.Error("RequirePersist should suppress the broadcast")
	}
}

func TestRouter_PersistTimeout(t *testing.T) {
	store := &mockStore{block: true}
	options := DefaultOptions()
	options.PersistTimeout = 20 * time.Millisecond
	r, b := newTestRouter(store, options)

	start := time.Now()
	err := r.RouteMessage(context.Background(), &testMember{id: "a", conversationID: "c1"}, []byte("x"))
	if err != nil {
		t.Errorf("Timeout should be absorbed, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Persist should be bounded by PersistTimeout")
	}
	if len(b.broadcasts()) != 1 {
		t.Error("Broadcast should follow a timed out persist")
	}
}

func TestRouter_CancelledContextIsError(t *testing.T) {
	store := &mockStore{}
	r, b := newTestRouter(store, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.RouteMessage(ctx, &testMember{id: "a", conversationID: "c1"}, []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(store.appended()) != 0 || len(b.broadcasts()) != 0 {
		t.Error("Nothing should happen after cancellation")
	}
}

func TestRouter_NilStore(t *testing.T) {
	r, b := newTestRouter(nil, DefaultOptions())

	if err := r.RouteMessage(context.Background(), &testMember{id: "a", conversationID: "c1"}, []byte("x")); err != nil {
		t.Errorf("Expected no error without a store, got %v", err)
	}
	if len(b.broadcasts()) != 1 {
		t.Error("Expected broadcast without a store")
	}
}

func TestRouter_DefaultConfigRelaysEverything(t *testing.T) {
	ws := config.DefaultConfig().WebSocket
	store := &mockStore{}
	r, b := newTestRouter(store, Options{
		RateLimitPerMinute: ws.RateLimitPerMinute,
		PersistTimeout:     ws.PersistTimeout,
		RequirePersist:     ws.RequirePersist,
	})
	sender := &testMember{id: "a", conversationID: "c1", userID: "A"}

	const sent = 250
	for i := 0; i < sent; i++ {
		if err := r.RouteMessage(context.Background(), sender, []byte("x")); err != nil {
			t.Fatalf("RouteMessage %d failed: %v", i, err)
		}
	}
	if got := len(store.appended()); got != sent {
		t.Errorf("Expected all %d messages persisted, got %d", sent, got)
	}
	if got := len(b.broadcasts()); got != sent {
		t.Errorf("Expected all %d messages broadcast, got %d", sent, got)
	}
}

func TestRouter_RateLimitDropsSilently(t *testing.T) {
	store := &mockStore{}
	r, b := newTestRouter(store, Options{RateLimitPerMinute: 2})
	sender := &testMember{id: "a", conversationID: "c1", userID: "A"}

	for i := 0; i < 5; i++ {
		if err := r.RouteMessage(context.Background(), sender, []byte("x")); err != nil {
			t.Fatalf("Rate limited messages must not error, got %v", err)
		}
	}
	if got := len(b.broadcasts()); got != 2 {
		t.Errorf("Expected 2 broadcasts under the limit, got %d", got)
	}
	if got := len(store.appended()); got != 2 {
		t.Errorf("Expected 2 appends under the limit, got %d", got)
	}

	// Same user on another connection shares the budget
	other := &testMember{id: "b", conversationID: "c2", userID: "A"}
	r.RouteMessage(context.Background(), other, []byte("x"))
	if got := len(b.broadcasts()); got != 2 {
		t.Errorf("Per-user budget should span connections, got %d broadcasts", got)
	}

	// Anonymous connections are limited per connection
	anon := &testMember{id: "anon", conversationID: "c1"}
	r.RouteMessage(context.Background(), anon, []byte("x"))
	if got := len(b.broadcasts()); got != 3 {
		t.Errorf("Anonymous sender should have its own budget, got %d broadcasts", got)
	}
}
