package realtime

import (
	"context"
	"math"
	"sync"
	"time"

	"realtalk-service/model"
	"realtalk-service/presence"
	"realtalk-service/service"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const inboxSize = 64

// Failure is emitted as request_failed when a client event cannot be handled.
type Failure struct {
	Event     string `json:"event"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type ClientOptions struct {
	Timeout    time.Duration
	TypingRate float64
}

type inbound struct {
	event string
	args  []any
}

// Client handles the events of one authenticated connection in arrival
// order on its own goroutine. Blocking work never runs on the transport's
// callback goroutine.
type Client struct {
	conn    presence.Conn
	user    model.Profile
	router  *Router
	timeout time.Duration
	typing  *rate.Limiter
	logger  *zap.Logger

	inbox chan inbound
	done  chan struct{}
	once  sync.Once
}

func (r *Router) NewClient(conn presence.Conn, user model.Profile, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.TypingRate <= 0 {
		opts.TypingRate = 5
	}
	return &Client{
		conn:    conn,
		user:    user,
		router:  r,
		timeout: opts.Timeout,
		typing:  rate.NewLimiter(rate.Limit(opts.TypingRate), int(math.Ceil(opts.TypingRate))),
		logger:  r.logger.With(zap.String("user", user.ID), zap.String("conn", conn.ID())),
		inbox:   make(chan inbound, inboxSize),
		done:    make(chan struct{}),
	}
}

func (c *Client) Conn() presence.Conn { return c.conn }

func (c *Client) User() model.Profile { return c.user }

// Dispatch queues an event for Run. It reports false once the client is closed.
func (c *Client) Dispatch(event string, args ...any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- inbound{event: event, args: args}:
		return true
	case <-c.done:
		return false
	}
}

// Run processes queued events until ctx ends or Close is called.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case in := <-c.inbox:
			c.handle(ctx, in)
		}
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) handle(ctx context.Context, in inbound) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	switch in.event {
	case EventJoinChat:
		err = c.joinChat(in.args)
	case EventLeaveChat:
		err = c.leaveChat(in.args)
	case EventNewMessage:
		err = c.newMessage(ctx, in.args)
	case EventTyping, EventStopTyping:
		err = c.relayTyping(in.event, in.args)
	case EventFriendRequest:
		err = c.friendRequest(in.args)
	case EventFriendRequestResponse:
		err = c.friendResponse(in.args)
	default:
		c.logger.Debug("unknown event ignored", zap.String("event", in.event))
		return
	}
	if err != nil {
		c.fail(in.event, err)
	}
}

func (c *Client) joinChat(args []any) error {
	chatID := stringArg(args, "chatId", "chat_id", "_id", "id")
	if chatID == "" {
		return invalid("chat id is required")
	}
	c.router.Join(chatID, c.conn)
	return nil
}

func (c *Client) leaveChat(args []any) error {
	chatID := stringArg(args, "chatId", "chat_id", "_id", "id")
	if chatID == "" {
		return invalid("chat id is required")
	}
	c.router.Leave(chatID, c.conn)
	return nil
}

// newMessage announces a message the user already persisted. The message is
// reloaded so only stored content from its own sender is ever delivered.
func (c *Client) newMessage(ctx context.Context, args []any) error {
	messageID := stringArg(args, "_id", "id", "messageId", "message_id")
	if messageID == "" {
		return invalid("message id is required")
	}
	msg, err := c.router.messages.Get(ctx, messageID, c.user.ID)
	if err != nil {
		return err
	}
	if msg.SenderID != c.user.ID {
		return &service.Error{Kind: service.KindForbidden, Message: "only the sender can announce a message"}
	}
	members, err := c.router.chats.Members(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	c.router.Deliver(msg, members, c.conn)
	return nil
}

func (c *Client) relayTyping(event string, args []any) error {
	chatID := stringArg(args, "chatId", "chat_id", "_id", "id")
	if chatID == "" {
		return invalid("chat id is required")
	}
	if event == EventTyping && !c.typing.Allow() {
		return nil
	}
	c.router.Relay(event, chatID, c.conn, TypingPayload{ChatID: chatID, User: c.user})
	return nil
}

func (c *Client) friendRequest(args []any) error {
	target := stringArg(args, "userId", "user_id", "_id", "id")
	if target == "" {
		return invalid("user id is required")
	}
	c.router.Notify(target, EventNewFriendRequest, FriendRequestPayload{User: c.user})
	return nil
}

func (c *Client) friendResponse(args []any) error {
	target := stringArg(args, "userId", "user_id", "_id", "id")
	if target == "" {
		return invalid("user id is required")
	}
	c.router.Notify(target, EventFriendRequestResponse, FriendResponsePayload{
		User:     c.user,
		Accepted: boolArg(args, "accepted"),
	})
	return nil
}

func (c *Client) fail(event string, err error) {
	kind := service.KindOf(err)
	message := err.Error()
	if kind == service.KindInternal {
		c.logger.Error("event failed", zap.String("event", event), zap.Error(err))
		message = "internal error"
	}
	failure := Failure{
		Event:     event,
		Kind:      kind.String(),
		Message:   message,
		Retryable: service.Retryable(err),
	}
	if err := c.conn.Emit(EventRequestFailed, failure); err != nil {
		c.logger.Debug("emit failed", zap.Error(err))
	}
}

func invalid(message string) error {
	return &service.Error{Kind: service.KindValidation, Message: message}
}

// stringArg reads the first argument either as a bare string or as an object
// holding one of keys.
func stringArg(args []any, keys ...string) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case map[string]any:
		for _, k := range keys {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func boolArg(args []any, key string) bool {
	for _, a := range args {
		switch v := a.(type) {
		case bool:
			return v
		case map[string]any:
			if b, ok := v[key].(bool); ok {
				return b
			}
		}
	}
	return false
}
