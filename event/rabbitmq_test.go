package event

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	requeue chan uint64
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{requeue: make(chan uint64, 8)}
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	if requeue {
		a.requeue <- tag
	}
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func (a *fakeAcknowledger) ackedTags() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acked...)
}

func delivery(ack amqp.Acknowledger, tag uint64, action string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Headers:      amqp.Table{RabbitMQActionHeader: action},
		Body:         []byte(`{"message_id":"m1"}`),
	}
}

func TestForwardAcksTakenDeliveries(t *testing.T) {
	dir := t.TempDir()
	journal, err := OpenJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer journal.Close()

	r := &RabbitMQ{journal: journal, logger: zap.NewNop()}
	ack := newFakeAcknowledger()
	msgs := make(chan amqp.Delivery, 2)
	msgs <- delivery(ack, 1, ActionMessageCreated)
	msgs <- delivery(ack, 2, ActionMessageCreated)
	close(msgs)

	out := make(chan Delivery)
	go r.forward(context.Background(), "realtalk.api", msgs, out)

	var got []Delivery
	for d := range out {
		got = append(got, d)
	}
	if len(got) != 2 || got[0].Action != ActionMessageCreated {
		t.Fatalf("got %+v, want two message.created deliveries", got)
	}
	if tags := ack.ackedTags(); len(tags) != 2 || tags[0] != 1 || tags[1] != 2 {
		t.Errorf("got acked %v, want [1 2]", tags)
	}
}

func TestForwardRequeuesOnShutdown(t *testing.T) {
	r := &RabbitMQ{logger: zap.NewNop()}
	ack := newFakeAcknowledger()
	msgs := make(chan amqp.Delivery)
	out := make(chan Delivery)

	ctx, cancel := context.WithCancel(context.Background())
	go r.forward(ctx, "realtalk.api", msgs, out)

	// Nobody reads out, so the delivery stays pending until ctx ends.
	msgs <- delivery(ack, 7, ActionMessageCreated)
	cancel()

	select {
	case tag := <-ack.requeue:
		if tag != 7 {
			t.Errorf("got requeued tag %d, want 7", tag)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending delivery was not requeued")
	}

	select {
	case _, ok := <-out:
		if ok {
			t.Error("got a delivery after shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("forwarding did not stop")
	}
	if tags := ack.ackedTags(); len(tags) != 0 {
		t.Errorf("got acked %v, want none", tags)
	}
}
