package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"realtalk-service/model"
	"realtalk-service/presence"
	"realtalk-service/service"

	"go.uber.org/zap"
)

type emitted struct {
	event   string
	payload any
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []emitted
	signal chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, signal: make(chan struct{}, 64)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	c.events = append(c.events, emitted{event: event, payload: payload})
	c.mu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) received(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

// waitFor blocks until conn has seen n events named event.
func (c *fakeConn) waitFor(t *testing.T, event string, n int) []any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := c.received(event); len(got) >= n {
			return got
		}
		select {
		case <-c.signal:
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %d %q events, got %d", c.id, n, event, len(c.received(event)))
		}
	}
}

type nopStore struct{}

func (nopStore) SetOnline(context.Context, string, bool) error { return nil }

type fakeMessages struct {
	messages map[string]*model.Message
	members  map[string][]string
}

func (f *fakeMessages) Find(_ context.Context, id string) (*model.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	return msg, nil
}

func (f *fakeMessages) Get(ctx context.Context, id, requester string) (*model.Message, error) {
	msg, err := f.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, m := range f.members[msg.ChatID] {
		if m == requester {
			return msg, nil
		}
	}
	return nil, service.ErrForbidden
}

func (f *fakeMessages) Members(_ context.Context, chatID string) ([]string, error) {
	ids, ok := f.members[chatID]
	if !ok {
		return nil, service.ErrNotFound
	}
	return ids, nil
}

type fixture struct {
	registry *presence.Registry
	router   *Router
	store    *fakeMessages
	conns    map[string]*fakeConn
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	registry := presence.NewRegistry(nopStore{}, zap.NewNop())
	store := &fakeMessages{
		messages: make(map[string]*model.Message),
		members:  make(map[string][]string),
	}
	f := &fixture{
		registry: registry,
		router:   NewRouter(registry, store, store, zap.NewNop()),
		store:    store,
		conns:    make(map[string]*fakeConn),
	}
	for _, u := range users {
		conn := newFakeConn("conn-" + u)
		f.conns[u] = conn
		registry.Connect(context.Background(), u, conn)
	}
	return f
}

func (f *fixture) addMessage(id, chatID, sender string) *model.Message {
	msg := &model.Message{ID: id, ChatID: chatID, SenderID: sender, Content: "hello"}
	f.store.messages[id] = msg
	return msg
}

func TestDeliverReachesEachMemberOnce(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	f.store.members["c1"] = []string{"u1", "u2", "u3"}
	msg := f.addMessage("m1", "c1", "u1")

	f.router.Join("c1", f.conns["u1"])
	f.router.Join("c1", f.conns["u2"])

	n := f.router.Deliver(msg, f.store.members["c1"], f.conns["u1"])
	if n != 2 {
		t.Fatalf("got %d deliveries, want 2", n)
	}

	if got := len(f.conns["u1"].received(EventMessageReceived)); got != 0 {
		t.Errorf("sender got %d copies, want 0", got)
	}
	if got := len(f.conns["u2"].received(EventMessageReceived)); got != 1 {
		t.Errorf("subscribed member got %d copies, want 1", got)
	}
	if got := len(f.conns["u3"].received(EventMessageReceived)); got != 1 {
		t.Errorf("unsubscribed member got %d copies, want 1", got)
	}
}

func TestDeliverSkipsOfflineMembers(t *testing.T) {
	f := newFixture(t, "u1")
	f.store.members["c1"] = []string{"u1", "u2"}
	msg := f.addMessage("m1", "c1", "u1")

	if n := f.router.Deliver(msg, f.store.members["c1"], f.conns["u1"]); n != 0 {
		t.Fatalf("got %d deliveries, want 0", n)
	}
}

func TestDeliverStoredExcludesSender(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	f.store.members["c1"] = []string{"u1", "u2"}
	f.addMessage("m1", "c1", "u1")
	f.router.Join("c1", f.conns["u1"])

	n, err := f.router.DeliverStored(context.Background(), "m1")
	if err != nil {
		t.Fatalf("DeliverStored: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d deliveries, want 1", n)
	}
	if got := len(f.conns["u1"].received(EventMessageReceived)); got != 0 {
		t.Errorf("sender got %d copies, want 0", got)
	}

	if _, err := f.router.DeliverStored(context.Background(), "missing"); service.KindOf(err) != service.KindNotFound {
		t.Errorf("got %v, want not found", err)
	}
}

func TestLeaveAllDropsSubscriptions(t *testing.T) {
	f := newFixture(t, "u1")
	conn := f.conns["u1"]

	f.router.Join("c1", conn)
	f.router.Join("c2", conn)
	f.router.Leave("c1", conn)
	if f.router.Subscribed("c1", conn) {
		t.Error("still subscribed to c1 after Leave")
	}
	if !f.router.Subscribed("c2", conn) {
		t.Error("not subscribed to c2")
	}

	f.router.LeaveAll(conn)
	if f.router.Subscribed("c2", conn) {
		t.Error("still subscribed to c2 after LeaveAll")
	}
	if len(f.router.rooms) != 0 || len(f.router.subs) != 0 {
		t.Errorf("bookkeeping not empty: rooms=%d subs=%d", len(f.router.rooms), len(f.router.subs))
	}
}

func TestRelaySkipsSender(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	f.router.Join("c1", f.conns["u1"])
	f.router.Join("c1", f.conns["u2"])

	f.router.Relay(EventTyping, "c1", f.conns["u1"], TypingPayload{ChatID: "c1"})

	if got := len(f.conns["u1"].received(EventTyping)); got != 0 {
		t.Errorf("sender got %d typing events, want 0", got)
	}
	if got := len(f.conns["u2"].received(EventTyping)); got != 1 {
		t.Errorf("subscriber got %d typing events, want 1", got)
	}
	if got := len(f.conns["u3"].received(EventTyping)); got != 0 {
		t.Errorf("non-subscriber got %d typing events, want 0", got)
	}
}

func TestNotifyOffline(t *testing.T) {
	f := newFixture(t, "u1")
	if f.router.Notify("ghost", EventNewFriendRequest, nil) {
		t.Error("notify to offline user reported delivered")
	}
	if !f.router.Notify("u1", EventNewFriendRequest, nil) {
		t.Error("notify to online user reported dropped")
	}
}
