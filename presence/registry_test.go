package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fmt.Sprintf("%s %v", event, payload))
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fakeStore struct {
	mu     sync.Mutex
	online map[string]bool
	fail   bool
}

func (s *fakeStore) SetOnline(_ context.Context, userID string, online bool) error {
	if s.fail {
		return errors.New("db down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = online
	return nil
}

func newTestRegistry() (*Registry, *fakeStore) {
	store := &fakeStore{online: make(map[string]bool)}
	return NewRegistry(store, zap.NewNop()), store
}

func TestConnectBroadcastsToOthers(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()

	a := &fakeConn{id: "ca"}
	b := &fakeConn{id: "cb"}
	r.Connect(ctx, "alice", a)
	r.Connect(ctx, "bob", b)

	if got := a.count(); got != 1 {
		t.Errorf("alice got %d events, want 1 (bob online)", got)
	}
	if got := b.count(); got != 0 {
		t.Errorf("bob got %d events, want 0", got)
	}
	if !store.online["alice"] || !store.online["bob"] {
		t.Errorf("online flags = %v, want both true", store.online)
	}
}

func TestLastConnectionWins(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()

	first := &fakeConn{id: "c1"}
	second := &fakeConn{id: "c2"}
	r.Connect(ctx, "alice", first)
	r.Connect(ctx, "alice", second)

	conn, ok := r.Lookup("alice")
	if !ok || conn.ID() != "c2" {
		t.Fatalf("lookup = %v, want c2", conn)
	}

	// The replaced connection closing must not log alice out.
	if r.Disconnect(ctx, "alice", first) {
		t.Error("stale disconnect removed the entry")
	}
	if _, ok := r.Lookup("alice"); !ok {
		t.Error("alice should still be online")
	}
	if !store.online["alice"] {
		t.Error("online flag flipped by stale disconnect")
	}

	if !r.Disconnect(ctx, "alice", second) {
		t.Error("current disconnect should remove the entry")
	}
	if _, ok := r.Lookup("alice"); ok {
		t.Error("alice should be offline")
	}
	if store.online["alice"] {
		t.Error("online flag should be false")
	}
}

func TestDisconnectBroadcasts(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	a := &fakeConn{id: "ca"}
	b := &fakeConn{id: "cb"}
	r.Connect(ctx, "alice", a)
	r.Connect(ctx, "bob", b)
	r.Disconnect(ctx, "bob", b)

	if got := a.count(); got != 2 {
		t.Errorf("alice got %d events, want 2 (online + offline)", got)
	}
}

func TestStoreFailureIsNotFatal(t *testing.T) {
	r, store := newTestRegistry()
	store.fail = true

	r.Connect(context.Background(), "alice", &fakeConn{id: "ca"})
	if _, ok := r.Lookup("alice"); !ok {
		t.Error("registration must survive a failed online flag write")
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			conn := &fakeConn{id: "conn-" + user}
			r.Connect(ctx, user, conn)
			if i%2 == 0 {
				r.Disconnect(ctx, user, conn)
			}
		}(i)
	}
	wg.Wait()

	if got := len(r.Online()); got != 25 {
		t.Errorf("online = %d, want 25", got)
	}
}

func TestClose(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()
	r.Connect(ctx, "alice", &fakeConn{id: "ca"})
	r.Close(ctx)

	if len(r.Online()) != 0 {
		t.Error("registry should be empty after Close")
	}
	if store.online["alice"] {
		t.Error("alice should be marked offline")
	}
}
