package realtime

import (
	"context"
	"sync"

	"realtalk-service/model"
	"realtalk-service/presence"

	"go.uber.org/zap"
)

// Events exchanged with clients.
const (
	EventJoinChat              = "join_chat"
	EventLeaveChat             = "leave_chat"
	EventNewMessage            = "new_message"
	EventMessageReceived       = "message_received"
	EventTyping                = "typing"
	EventStopTyping            = "stop_typing"
	EventFriendRequest         = "friend_request"
	EventNewFriendRequest      = "new_friend_request"
	EventFriendRequestResponse = "friend_request_response"
	EventRequestFailed         = "request_failed"
)

// Messages is the part of the message pipeline the router reads from.
type Messages interface {
	Get(ctx context.Context, messageID, requester string) (*model.Message, error)
	Find(ctx context.Context, messageID string) (*model.Message, error)
}

// Chats resolves chat membership for direct delivery.
type Chats interface {
	Members(ctx context.Context, chatID string) ([]string, error)
}

type TypingPayload struct {
	ChatID string        `json:"chatId"`
	User   model.Profile `json:"user"`
}

type FriendRequestPayload struct {
	User model.Profile `json:"user"`
}

type FriendResponsePayload struct {
	User     model.Profile `json:"user"`
	Accepted bool          `json:"accepted"`
}

// Router is the only component that writes to live connections. It keeps
// room subscriptions and fans events out through rooms and the presence
// registry; all state changes are delegated to the services.
type Router struct {
	presence *presence.Registry
	messages Messages
	chats    Chats
	logger   *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]presence.Conn // chat id -> conn id -> conn
	subs  map[string]map[string]struct{}      // conn id -> chat ids
}

func NewRouter(registry *presence.Registry, messages Messages, chats Chats, logger *zap.Logger) *Router {
	return &Router{
		presence: registry,
		messages: messages,
		chats:    chats,
		logger:   logger,
		rooms:    make(map[string]map[string]presence.Conn),
		subs:     make(map[string]map[string]struct{}),
	}
}

// Join subscribes conn to the chat's room. Membership is not checked here.
func (r *Router) Join(chatID string, conn presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[chatID]
	if !ok {
		room = make(map[string]presence.Conn)
		r.rooms[chatID] = room
	}
	room[conn.ID()] = conn

	chats, ok := r.subs[conn.ID()]
	if !ok {
		chats = make(map[string]struct{})
		r.subs[conn.ID()] = chats
	}
	chats[chatID] = struct{}{}
}

func (r *Router) Leave(chatID string, conn presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(chatID, conn.ID())
}

// LeaveAll drops every subscription of conn.
func (r *Router) LeaveAll(conn presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID := range r.subs[conn.ID()] {
		r.leave(chatID, conn.ID())
	}
	delete(r.subs, conn.ID())
}

func (r *Router) leave(chatID, connID string) {
	if room, ok := r.rooms[chatID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if chats, ok := r.subs[connID]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.subs, connID)
		}
	}
}

// Subscribed reports whether conn is in the chat's room.
func (r *Router) Subscribed(chatID string, conn presence.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[chatID][conn.ID()]
	return ok
}

func (r *Router) roomSnapshot(chatID string) []presence.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[chatID]
	conns := make([]presence.Conn, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	return conns
}

// Deliver fans a persisted message out to the chat's room and, through the
// presence registry, to every member not reached by the room. Each connection
// receives the message at most once per call; from (the sender's connection)
// receives nothing. When from is nil the sender's registered connection is
// skipped instead. It returns the number of connections reached.
func (r *Router) Deliver(msg *model.Message, members []string, from presence.Conn) int {
	notified := make(map[string]struct{})
	if from != nil {
		notified[from.ID()] = struct{}{}
	} else if conn, ok := r.presence.Lookup(msg.SenderID); ok {
		notified[conn.ID()] = struct{}{}
	}
	skipped := len(notified)

	for _, conn := range r.roomSnapshot(msg.ChatID) {
		r.emitOnce(notified, conn, EventMessageReceived, msg)
	}

	for _, member := range members {
		if member == msg.SenderID {
			continue
		}
		conn, ok := r.presence.Lookup(member)
		if !ok {
			continue
		}
		r.emitOnce(notified, conn, EventMessageReceived, msg)
	}

	return len(notified) - skipped
}

// DeliverStored loads a message persisted elsewhere and delivers it.
func (r *Router) DeliverStored(ctx context.Context, messageID string) (int, error) {
	msg, err := r.messages.Find(ctx, messageID)
	if err != nil {
		return 0, err
	}
	members, err := r.chats.Members(ctx, msg.ChatID)
	if err != nil {
		return 0, err
	}
	return r.Deliver(msg, members, nil), nil
}

// Relay forwards a best-effort indicator to the chat's room, except from.
func (r *Router) Relay(event, chatID string, from presence.Conn, payload any) {
	for _, conn := range r.roomSnapshot(chatID) {
		if conn.ID() == from.ID() {
			continue
		}
		r.emit(conn, event, payload)
	}
}

// Notify delivers an event to userID's registered connection. It reports
// false, dropping the event, when the user is offline.
func (r *Router) Notify(userID, event string, payload any) bool {
	conn, ok := r.presence.Lookup(userID)
	if !ok {
		r.logger.Debug("recipient offline, event dropped", zap.String("user", userID), zap.String("event", event))
		return false
	}
	r.emit(conn, event, payload)
	return true
}

func (r *Router) emitOnce(notified map[string]struct{}, conn presence.Conn, event string, payload any) {
	if _, ok := notified[conn.ID()]; ok {
		return
	}
	notified[conn.ID()] = struct{}{}
	r.emit(conn, event, payload)
}

func (r *Router) emit(conn presence.Conn, event string, payload any) {
	if err := conn.Emit(event, payload); err != nil {
		r.logger.Debug("emit failed", zap.String("conn", conn.ID()), zap.String("event", event), zap.Error(err))
	}
}
