package natsadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Subscriber delivers sync trigger events to the sync worker.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeSyncTriggers invokes handler for every trigger event. The
// handler runs on the NATS delivery goroutine and must not block.
func (s *Subscriber) SubscribeSyncTriggers(ctx context.Context, handler func(ctx context.Context, priority string)) error {
	sub, err := s.js.Subscribe(SubjectSyncTrigger+">", func(msg *nats.Msg) {
		handler(ctx, string(msg.Data))
		_ = msg.Ack()
	}, nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("subscribe sync triggers: %w", err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains the connection.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
