package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/app"
	"parley/internal/config"
)

// TestEnv is a running application bound to a loopback port
type TestEnv struct {
	App     *app.Application
	BaseURL string
	WSURL   string
}

// TestUser is an account created through the REST API
type TestUser struct {
	ID          string
	Email       string
	AccessToken string
}

// StartTestApplication boots the full stack on SQLite in a temp dir.
// mutate may adjust the config before startup.
func StartTestApplication(t *testing.T, mutate func(*config.Config)) *TestEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Auth.JWTSecret = "integration-secret"
	cfg.Redis.URL = ""
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		application.Stop(ctx)
	})

	addr := application.GetAddr()
	return &TestEnv{
		App:     application,
		BaseURL: "http://" + addr,
		WSURL:   "ws://" + addr,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// Do sends a JSON request and decodes the response into out when non-nil
func (e *TestEnv) Do(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// Signup registers email with a fixed password
func (e *TestEnv) Signup(t *testing.T, email string) TestUser {
	t.Helper()
	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"email": email, "password": "abc12345"}
	if code := e.Do(t, "POST", "/api/auth/signup", "", body, &resp); code != http.StatusCreated {
		t.Fatalf("Signup %s: expected 201, got %d", email, code)
	}
	return TestUser{ID: resp.User.ID, Email: email, AccessToken: resp.AccessToken}
}

// CreateConversation opens a conversation between creator and others
func (e *TestEnv) CreateConversation(t *testing.T, creator TestUser, others ...TestUser) string {
	t.Helper()
	ids := make([]string, 0, len(others))
	for _, u := range others {
		ids = append(ids, u.ID)
	}
	var resp struct {
		ID string `json:"id"`
	}
	body := map[string][]string{"user_ids": ids}
	if code := e.Do(t, "POST", "/api/chat/conversations", creator.AccessToken, body, &resp); code != http.StatusCreated {
		t.Fatalf("Create conversation: expected 201, got %d", code)
	}
	return resp.ID
}

// Dial opens a socket on conversationID authenticated as user
func (e *TestEnv) Dial(t *testing.T, conversationID string, user TestUser) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("%s/ws/%s?token=%s", e.WSURL, conversationID, user.AccessToken)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial %s as %s failed (status %d): %v", conversationID, user.Email, status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// WaitForMembers polls the registry until conversationID has n members
func (e *TestEnv) WaitForMembers(t *testing.T, conversationID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.App.Registry().MembersOf(conversationID)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d members in %s, got %d", n, conversationID, len(e.App.Registry().MembersOf(conversationID)))
}

// ReadText reads one frame within timeout
func ReadText(conn *websocket.Conn, timeout time.Duration) (string, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	return string(data), err
}
