package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"realtalk-service/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Domain actions published on the outbound queue.
const (
	ActionMessageCreated  = "message.created"
	ActionFriendRequested = "friend.requested"
	ActionFriendAccepted  = "friend.accepted"
	ActionFriendRejected  = "friend.rejected"
)

const RabbitMQActionHeader string = "x-action"

// Publisher receives domain events after the state change is persisted.
// Delivery is best-effort: failures are logged by the implementation.
type Publisher interface {
	Publish(ctx context.Context, action string, payload any)
}

// Discard drops every event. Used when EVENT_MODE is DISABLE and in tests.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) {}

// Delivery is one inbound message taken off a queue.
type Delivery struct {
	Action string
	Data   []byte
}

type RabbitMQ struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	queues     map[string]amqp.Queue
	out        string
	journal    *Journal
	logger     *zap.Logger

	// amqp channels must not be used for concurrent publishing.
	mu sync.Mutex
}

func RabbitMQConnect(settings *config.Settings, journal *Journal, logger *zap.Logger) (*RabbitMQ, error) {
	connection, err := amqp.Dial(fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		settings.RabbitMQUser,
		settings.RabbitMQPassword,
		settings.RabbitMQHost,
		settings.RabbitMQPort,
	))
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	logger.Info("connection opened to RabbitMQ server")

	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}

	r := &RabbitMQ{
		connection: connection,
		channel:    channel,
		queues:     make(map[string]amqp.Queue),
		out:        settings.EventQueueOut,
		journal:    journal,
		logger:     logger,
	}

	for _, name := range []string{settings.EventQueueOut, settings.EventQueueIn} {
		queue, err := channel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
		r.queues[name] = queue
		logger.Info("declared RabbitMQ queue", zap.String("queue", name))
	}

	return r, nil
}

// Subscribe consumes queue and forwards every message as a Delivery until the
// queue channel closes or ctx is done.
func (r *RabbitMQ) Subscribe(ctx context.Context, queue string) (<-chan Delivery, error) {
	msgs, err := r.channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("register consumer on %s: %w", queue, err)
	}
	r.logger.Info("subscribed to RabbitMQ queue", zap.String("queue", queue))

	out := make(chan Delivery)
	go r.forward(ctx, queue, msgs, out)
	return out, nil
}

// forward acks a message only once the consumer has taken it. A message still
// pending when ctx ends is requeued.
func (r *RabbitMQ) forward(ctx context.Context, queue string, msgs <-chan amqp.Delivery, out chan<- Delivery) {
	defer close(out)
	for {
		var msg amqp.Delivery
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			msg = m
		}
		action, _ := msg.Headers[RabbitMQActionHeader].(string)

		if r.journal != nil {
			if err := r.journal.In(Record{
				Time:    time.Now().UnixMicro(),
				Service: queue,
				Action:  action,
				Data:    string(msg.Body),
			}); err != nil {
				r.logger.Warn("journal write failed", zap.Error(err))
			}
		}

		select {
		case out <- Delivery{Action: action, Data: msg.Body}:
			if err := msg.Ack(false); err != nil {
				r.logger.Warn("ack failed", zap.Error(err))
			}
		case <-ctx.Done():
			if err := msg.Nack(false, true); err != nil {
				r.logger.Warn("requeue failed", zap.Error(err))
			}
			return
		}
	}
}

// Emit publishes raw data with its action header on queue.
func (r *RabbitMQ) Emit(ctx context.Context, queue, action string, data []byte, log bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r.mu.Lock()
	err := r.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers: amqp.Table{
				RabbitMQActionHeader: action,
			},
			Body: data,
		},
	)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", action, err)
	}

	if log && r.journal != nil {
		return r.journal.Out(Record{
			Time:    time.Now().UnixMicro(),
			Service: queue,
			Action:  action,
			Data:    string(data),
		})
	}
	return nil
}

func (r *RabbitMQ) Publish(ctx context.Context, action string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("marshal event", zap.String("action", action), zap.Error(err))
		return
	}
	// The request context may already be finishing; publishing is detached from it.
	if err := r.Emit(context.WithoutCancel(ctx), r.out, action, data, true); err != nil {
		r.logger.Warn("event not published", zap.String("action", action), zap.Error(err))
	}
}

// ReplayOut re-publishes every journaled outbound event.
func (r *RabbitMQ) ReplayOut(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}
	return r.journal.ReplayOut(func(rec Record) error {
		return r.Emit(ctx, rec.Service, rec.Action, []byte(rec.Data), false)
	})
}

func (r *RabbitMQ) Close() error {
	var firstErr error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if r.connection != nil {
		if err := r.connection.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
