package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EventStatusChange is emitted to every other connection when a user comes
// online or goes offline.
const EventStatusChange = "user_status_change"

// Conn is a live realtime connection.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
}

// StatusStore mirrors presence into the persisted user record.
type StatusStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

type StatusChange struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// Registry maps each online user to its single active connection. The last
// connection to register for a user wins.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	store  StatusStore
	logger *zap.Logger
}

func NewRegistry(store StatusStore, logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		store:  store,
		logger: logger,
	}
}

// Connect registers conn as userID's connection, replacing any previous one,
// and announces the user as online to everybody else.
func (r *Registry) Connect(ctx context.Context, userID string, conn Conn) {
	r.mu.Lock()
	r.conns[userID] = conn
	r.mu.Unlock()

	r.mirror(ctx, userID, true)
	r.broadcast(StatusChange{UserID: userID, IsOnline: true}, conn.ID())
}

// Disconnect removes userID's entry if it still belongs to conn. A stale
// connection closing after a newer one registered leaves the user online.
func (r *Registry) Disconnect(ctx context.Context, userID string, conn Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current.ID() != conn.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	r.mirror(ctx, userID, false)
	r.broadcast(StatusChange{UserID: userID, IsOnline: false}, "")
	return true
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// Online returns the ids of all registered users.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Close forgets every connection and marks their users offline.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	users := make([]string, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, id := range users {
		r.mirror(ctx, id, false)
	}
}

func (r *Registry) mirror(ctx context.Context, userID string, online bool) {
	if r.store == nil {
		return
	}
	if err := r.store.SetOnline(ctx, userID, online); err != nil {
		r.logger.Warn("online flag not persisted",
			zap.String("user", userID),
			zap.Bool("online", online),
			zap.Error(err),
		)
	}
}

// broadcast emits outside the lock so a slow connection cannot stall
// connect/disconnect of unrelated users.
func (r *Registry) broadcast(change StatusChange, skipConn string) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.ID() != skipConn {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Emit(EventStatusChange, change); err != nil {
			r.logger.Debug("status change not delivered", zap.String("conn", c.ID()), zap.Error(err))
		}
	}
}
