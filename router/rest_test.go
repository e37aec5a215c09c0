package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"realtalk-service/config"
	"realtalk-service/controller"
	"realtalk-service/database"
	"realtalk-service/event"
	"realtalk-service/presence"
	"realtalk-service/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
)

type memoryTokens map[string]string

func (m memoryTokens) SetRefresh(_ context.Context, userID, token string) error {
	m[userID] = token
	return nil
}

func (m memoryTokens) GetRefresh(_ context.Context, userID string) (string, error) {
	return m[userID], nil
}

type staticEnforcer bool

func (s staticEnforcer) Enforce(...interface{}) (bool, error) { return bool(s), nil }

type envelope struct {
	Status  string          `json:"status"`
	Message any             `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// testRequestTimeout leaves room for full-cost bcrypt under the race detector.
const testRequestTimeout = 30 * time.Second

func newTestApp(t *testing.T, allowAdmin bool) (*fiber.App, *presence.Registry) {
	t.Helper()
	return newTestAppWithTimeout(t, allowAdmin, testRequestTimeout)
}

func newTestAppWithTimeout(t *testing.T, allowAdmin bool, timeout time.Duration) (*fiber.App, *presence.Registry) {
	t.Helper()
	t.Setenv("JWT_ACCESS_KEY", "access-secret")
	t.Setenv("JWT_REFRESH_KEY", "refresh-secret")

	db, err := database.Open(sqlite.Open(filepath.Join(t.TempDir(), "rest.db") + "?_busy_timeout=5000"))
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	users := service.NewUserService(db, logger)
	chats := service.NewChatService(db, logger)
	messages := service.NewMessageService(db, chats, event.Discard{}, logger)
	friends := service.NewFriendService(db, users, event.Discard{}, logger)
	identity := service.NewIdentityService(db, memoryTokens{}, nil, "realtalk", logger)
	registry := presence.NewRegistry(users, logger)

	app := fiber.New()
	Rest(app, &config.Settings{RequestTimeout: timeout}, Controllers{
		Auth:     controller.NewAuth(identity, logger),
		Users:    controller.NewUsers(users, friends, logger),
		Chats:    controller.NewChats(chats, logger),
		Messages: controller.NewMessages(messages, logger),
		Admin:    controller.NewAdmin(registry),
	}, staticEnforcer(allowAdmin), logger)
	return app, registry
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out envelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

// register signs a user up and in, returning its id and access token.
func register(t *testing.T, app *fiber.App, name string) (string, string) {
	t.Helper()
	status, res := call(t, app, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"name": name, "email": name + "@example.com", "password": "secret",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup %s: got %d %v", name, status, res.Message)
	}
	var created struct{ ID string }
	_ = json.Unmarshal(res.Data, &created)

	status, res = call(t, app, http.MethodPost, "/v1/auth/signin", "", map[string]string{
		"email": name + "@example.com", "password": "secret",
	})
	if status != http.StatusOK {
		t.Fatalf("signin %s: got %d %v", name, status, res.Message)
	}
	var tokens struct{ Access string }
	_ = json.Unmarshal(res.Data, &tokens)
	return created.ID, tokens.Access
}

func TestRestChatFlow(t *testing.T) {
	app, _ := newTestApp(t, false)
	alice, aliceToken := register(t, app, "alice")
	bob, bobToken := register(t, app, "bob")

	status, res := call(t, app, http.MethodGet, "/v1/users/profile", aliceToken, nil)
	if status != http.StatusOK || res.Status != "success" {
		t.Fatalf("profile: got %d %v", status, res.Message)
	}

	status, res = call(t, app, http.MethodPost, "/v1/chats", aliceToken, map[string]string{"userId": bob})
	if status != http.StatusOK {
		t.Fatalf("access chat: got %d %v", status, res.Message)
	}
	var chat struct{ ID string }
	_ = json.Unmarshal(res.Data, &chat)

	status, res = call(t, app, http.MethodPost, "/v1/messages", aliceToken, map[string]string{"chatId": chat.ID, "content": "hi"})
	if status != http.StatusCreated {
		t.Fatalf("send: got %d %v", status, res.Message)
	}
	var sent struct {
		ReadBy []string `json:"read_by"`
	}
	_ = json.Unmarshal(res.Data, &sent)
	if len(sent.ReadBy) != 1 || sent.ReadBy[0] != alice {
		t.Errorf("got read_by %v, want [%s]", sent.ReadBy, alice)
	}

	status, _ = call(t, app, http.MethodPut, "/v1/messages/read/"+chat.ID, bobToken, nil)
	if status != http.StatusOK {
		t.Fatalf("mark read: got %d", status)
	}

	status, res = call(t, app, http.MethodGet, "/v1/messages/"+chat.ID, bobToken, nil)
	if status != http.StatusOK {
		t.Fatalf("list: got %d %v", status, res.Message)
	}
	var listed []struct {
		ReadBy []string `json:"read_by"`
	}
	_ = json.Unmarshal(res.Data, &listed)
	if len(listed) != 1 || len(listed[0].ReadBy) != 2 {
		t.Errorf("got %+v, want one message read by both", listed)
	}
}

func TestRestErrors(t *testing.T) {
	app, _ := newTestApp(t, false)
	_, aliceToken := register(t, app, "alice")
	bob, _ := register(t, app, "bob")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		kind   string
	}{
		{name: "missing token", method: http.MethodGet, path: "/v1/chats", status: http.StatusBadRequest},
		{name: "bad token", method: http.MethodGet, path: "/v1/chats", token: "nope", status: http.StatusUnauthorized},
		{name: "small group", method: http.MethodPost, path: "/v1/chats/group", token: aliceToken,
			body: map[string]any{"name": "g", "users": []string{bob}}, status: http.StatusBadRequest, kind: "validation"},
		{name: "unknown chat", method: http.MethodGet, path: "/v1/messages/missing", token: aliceToken,
			status: http.StatusNotFound, kind: "not_found"},
		{name: "self friend request", method: http.MethodPost, path: "/v1/users/friend-request", token: aliceToken,
			body: map[string]string{"email": "alice@example.com"}, status: http.StatusBadRequest, kind: "validation"},
		{name: "duplicate email", method: http.MethodPost, path: "/v1/auth/signup",
			body: map[string]string{"name": "x", "email": "bob@example.com", "password": "x"}, status: http.StatusConflict, kind: "conflict"},
		{name: "admin denied", method: http.MethodGet, path: "/v1/admin/presence", token: aliceToken, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := call(t, app, tt.method, tt.path, tt.token, tt.body)
			if status != tt.status {
				t.Fatalf("got %d (%v), want %d", status, res.Message, tt.status)
			}
			if res.Status != "error" {
				t.Errorf("got status %q, want error", res.Status)
			}
			if tt.kind == "" {
				return
			}
			var data struct {
				Kind      string `json:"kind"`
				Retryable bool   `json:"retryable"`
			}
			_ = json.Unmarshal(res.Data, &data)
			if data.Kind != tt.kind || data.Retryable {
				t.Errorf("got %+v, want non-retryable %s", data, tt.kind)
			}
		})
	}
}

func TestRestDeadlineIsRetryable(t *testing.T) {
	app, _ := newTestAppWithTimeout(t, false, time.Nanosecond)

	status, res := call(t, app, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"name": "alice", "email": "alice@example.com", "password": "secret",
	})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("got %d (%v), want 503", status, res.Message)
	}
	var data struct {
		Kind      string `json:"kind"`
		Retryable bool   `json:"retryable"`
	}
	_ = json.Unmarshal(res.Data, &data)
	if data.Kind != "timeout" || !data.Retryable {
		t.Errorf("got %+v, want retryable timeout", data)
	}
}

type nopConn string

func (c nopConn) ID() string { return string(c) }

func (c nopConn) Emit(string, any) error { return nil }

func TestRestAdminPresence(t *testing.T) {
	app, registry := newTestApp(t, true)
	alice, aliceToken := register(t, app, "alice")
	registry.Connect(context.Background(), alice, nopConn("c1"))

	status, res := call(t, app, http.MethodGet, "/v1/admin/presence", aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("got %d %v", status, res.Message)
	}
	var data struct {
		Count int      `json:"count"`
		Users []string `json:"users"`
	}
	_ = json.Unmarshal(res.Data, &data)
	if data.Count != 1 || data.Users[0] != alice {
		t.Errorf("got %+v, want alice online", data)
	}
}

func TestRestFriendFlow(t *testing.T) {
	app, _ := newTestApp(t, false)
	alice, aliceToken := register(t, app, "alice")
	bob, bobToken := register(t, app, "bob")

	status, res := call(t, app, http.MethodPost, "/v1/users/friend-request", aliceToken, map[string]string{"userId": bob})
	if status != http.StatusCreated {
		t.Fatalf("request: got %d %v", status, res.Message)
	}
	status, _ = call(t, app, http.MethodPost, "/v1/users/friend-request", bobToken, map[string]string{"userId": alice})
	if status != http.StatusConflict {
		t.Errorf("reverse request: got %d, want 409", status)
	}
	status, res = call(t, app, http.MethodPost, "/v1/users/accept-request", bobToken, map[string]string{"userId": alice})
	if status != http.StatusOK {
		t.Fatalf("accept: got %d %v", status, res.Message)
	}

	status, res = call(t, app, http.MethodGet, "/v1/users/friends", aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("friends: got %d", status)
	}
	var friends []struct{ ID string }
	_ = json.Unmarshal(res.Data, &friends)
	if len(friends) != 1 || friends[0].ID != bob {
		t.Errorf("got %+v, want bob", friends)
	}

	status, res = call(t, app, http.MethodGet, "/v1/users?search=bo", aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("search: got %d %v", status, res.Message)
	}
	var found []struct{ ID string }
	_ = json.Unmarshal(res.Data, &found)
	if len(found) != 1 || found[0].ID != bob {
		t.Errorf("got %+v, want bob", found)
	}
}
