package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"parley/pkg/interfaces"
	"parley/pkg/types"
)

type routedMessage struct {
	conversationID string
	userID         string
	payload        string
}

// mockRouter records routed messages and can be told to fail
type mockRouter struct {
	mu       sync.Mutex
	messages []routedMessage
	err      error
}

func (r *mockRouter) RouteMessage(ctx context.Context, sender interfaces.Member, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, routedMessage{sender.ConversationID(), sender.UserID(), string(payload)})
	return r.err
}

func (r *mockRouter) received() []routedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]routedMessage(nil), r.messages...)
}

type mockAuth struct {
	tokens map[string]string
}

func (a *mockAuth) Verify(token string) (string, error) {
	if userID, ok := a.tokens[token]; ok {
		return userID, nil
	}
	return "", errors.New("invalid token")
}

func (a *mockAuth) Resolve(ctx context.Context, userID string) (*types.User, error) {
	return &types.User{ID: userID}, nil
}

type mockDirectory struct {
	members map[string][]string
	err     error
}

func (d *mockDirectory) Exists(ctx context.Context, conversationID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	_, ok := d.members[conversationID]
	return ok, nil
}

func (d *mockDirectory) MembersAuthorized(ctx context.Context, conversationID, userID string) (bool, error) {
	for _, m := range d.members[conversationID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

type handlerFixture struct {
	registry *Registry
	router   *mockRouter
	server   *httptest.Server
}

func newHandlerFixture(t *testing.T, config HandlerConfig, auth interfaces.AuthGateway, directory interfaces.ConversationDirectory) *handlerFixture {
	t.Helper()
	registry := NewRegistry()
	router := &mockRouter{}
	handler := NewHandler(registry, router, auth, directory, config, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{conversationId}", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
	})

	return &handlerFixture{registry: registry, router: router, server: server}
}

func (f *handlerFixture) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func expectStatus(t *testing.T, resp *http.Response, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected handshake failure with %d", status)
	}
	if resp == nil {
		t.Fatalf("Expected HTTP response, got error %v", err)
	}
	if resp.StatusCode != status {
		t.Errorf("Expected status %d, got %d", status, resp.StatusCode)
	}
}

// Functional Validation Tests

func TestHandler_RejectsInvalidParameters(t *testing.T) {
	f := newHandlerFixture(t, DefaultHandlerConfig(), nil, nil)

	_, resp, err := f.dial(t, "/ws/bad%00id", nil)
	expectStatus(t, resp, err, http.StatusBadRequest)

	_, resp, err = f.dial(t, "/ws/"+strings.Repeat("a", 257), nil)
	expectStatus(t, resp, err, http.StatusBadRequest)

	_, resp, err = f.dial(t, "/ws/c1?user_id=ctl%01char", nil)
	expectStatus(t, resp, err, http.StatusBadRequest)
}

func TestHandler_AcceptsOpaqueIDs(t *testing.T) {
	f := newHandlerFixture(t, DefaultHandlerConfig(), nil, nil)

	if _, _, err := f.dial(t, "/ws/room:42%20lobby?user_id=ada@example.com", nil); err != nil {
		t.Fatalf("Dial with an opaque conversation id failed: %v", err)
	}
	waitFor(t, "join", func() bool { return f.registry.Has("room:42 lobby") })
	if uid := f.registry.MembersOf("room:42 lobby")[0].UserID(); uid != "ada@example.com" {
		t.Errorf("Expected opaque user id preserved, got %q", uid)
	}
}

func TestHandler_JoinAndLeave(t *testing.T) {
	f := newHandlerFixture(t, DefaultHandlerConfig(), nil, nil)

	conn, _, err := f.dial(t, "/ws/c1?user_id=alice", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "join", func() bool { return f.registry.Has("c1") })

	members := f.registry.MembersOf("c1")
	if len(members) != 1 || members[0].UserID() != "alice" {
		t.Fatalf("Expected alice joined, got %v", members)
	}

	conn.Close()
	waitFor(t, "leave", func() bool { return !f.registry.Has("c1") })
}

func TestHandler_AnonymousJoin(t *testing.T) {
	f := newHandlerFixture(t, DefaultHandlerConfig(), nil, nil)

	if _, _, err := f.dial(t, "/ws/c1", nil); err != nil {
		t.Fatalf("Anonymous dial failed: %v", err)
	}
	waitFor(t, "join", func() bool { return f.registry.Has("c1") })
	if uid := f.registry.MembersOf("c1")[0].UserID(); uid != "" {
		t.Errorf("Expected anonymous member, got %q", uid)
	}
}

func TestHandler_RoutesTextMessages(t *testing.T) {
	f := newHandlerFixture(t, DefaultHandlerConfig(), nil, nil)

	conn, _, err := f.dial(t, "/ws/c1?user_id=alice", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
	conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	conn.WriteMessage(websocket.TextMessage, []byte("world"))

	waitFor(t, "two routed messages", func() bool { return len(f.router.received()) == 2 })
	got := f.router.received()
	if got[0].payload != "hello" || got[1].payload != "world" {
		t.Errorf("Messages routed out of order: %+v", got)
	}
	if got[0].conversationID != "c1" || got[0].userID != "alice" {
		t.Errorf("Unexpected sender context: %+v", got[0])
	}
}

func TestHandler_RouterErrorDisconnects(t *testing.T) {
	f := newHandlerFixture(t, DefaultHandlerConfig(), nil, nil)
	f.router.err = errors.New("pipeline broken")

	conn, _, err := f.dial(t, "/ws/c1", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "join", func() bool { return f.registry.Has("c1") })

	conn.WriteMessage(websocket.TextMessage, []byte("boom"))
	waitFor(t, "leave after router error", func() bool { return !f.registry.Has("c1") })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the server to close the socket")
	}
}

func TestHandler_ServerCloseLeavesOnce(t *testing.T) {
	f := newHandlerFixture(t, DefaultHandlerConfig(), nil, nil)

	if _, _, err := f.dial(t, "/ws/c1", nil); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if _, _, err := f.dial(t, "/ws/c1", nil); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "two joins", func() bool { return len(f.registry.MembersOf("c1")) == 2 })

	// Close one member from the server side while its reader is blocked
	victim := f.registry.MembersOf("c1")[0]
	victim.Close()

	waitFor(t, "one member left", func() bool { return len(f.registry.MembersOf("c1")) == 1 })
	if f.registry.MembersOf("c1")[0] == victim {
		t.Error("The closed member should be the one removed")
	}
}

func TestHandler_TokenOverridesUserID(t *testing.T) {
	auth := &mockAuth{tokens: map[string]string{"good": "verified-user"}}
	f := newHandlerFixture(t, DefaultHandlerConfig(), auth, nil)

	header := http.Header{"Authorization": []string{"Bearer good"}}
	if _, _, err := f.dial(t, "/ws/c1?user_id=spoofed", header); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "join", func() bool { return f.registry.Has("c1") })
	if uid := f.registry.MembersOf("c1")[0].UserID(); uid != "verified-user" {
		t.Errorf("Expected verified user id, got %q", uid)
	}

	_, resp, err := f.dial(t, "/ws/c1?token=bad", nil)
	expectStatus(t, resp, err, http.StatusUnauthorized)
}

func TestHandler_RequireAuth(t *testing.T) {
	auth := &mockAuth{tokens: map[string]string{"alice-token": "alice", "carol-token": "carol"}}
	directory := &mockDirectory{members: map[string][]string{"c1": {"alice", "bob"}}}
	config := DefaultHandlerConfig()
	config.RequireAuth = true
	f := newHandlerFixture(t, config, auth, directory)

	_, resp, err := f.dial(t, "/ws/c1?user_id=alice", nil)
	expectStatus(t, resp, err, http.StatusUnauthorized)

	_, resp, err = f.dial(t, "/ws/missing?token=alice-token", nil)
	expectStatus(t, resp, err, http.StatusNotFound)

	_, resp, err = f.dial(t, "/ws/c1?token=carol-token", nil)
	expectStatus(t, resp, err, http.StatusForbidden)

	if _, _, err := f.dial(t, "/ws/c1?token=alice-token", nil); err != nil {
		t.Fatalf("Authorized dial failed: %v", err)
	}
	waitFor(t, "join", func() bool { return f.registry.Has("c1") })

	directory.err = errors.New("directory down")
	_, resp, err = f.dial(t, "/ws/c1?token=alice-token", nil)
	expectStatus(t, resp, err, http.StatusInternalServerError)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/c1?token=q", nil)
	r.Header.Set("Authorization", "Bearer h")
	if got := bearerToken(r); got != "q" {
		t.Errorf("Query token should win, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws/c1", nil)
	r.Header.Set("Authorization", "bearer  h ")
	if got := bearerToken(r); got != "h" {
		t.Errorf("Expected header token, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws/c1", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := bearerToken(r); got != "" {
		t.Errorf("Non-bearer auth should be ignored, got %q", got)
	}
}
