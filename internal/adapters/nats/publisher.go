package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

// Subjects published by the map subsystem. Progress is fire-and-forget
// core NATS; completions, errors and sync triggers go through JetStream
// so a briefly disconnected worker still sees them.
const (
	SubjectProgressPrefix = "maps.download.progress."
	SubjectCompletePrefix = "maps.download.complete."
	SubjectErrorPrefix    = "maps.download.error."
	SubjectSyncTrigger    = "maps.sync.trigger."
)

// Publisher implements ports.ProgressPublisher using NATS.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
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

	// Ensure streams exist
	streams := []nats.StreamConfig{
		{
			Name:      "MAP_DOWNLOADS",
			Subjects:  []string{"maps.download.complete.>", "maps.download.error.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "SYNC_TRIGGERS",
			Subjects:  []string{"maps.sync.trigger.>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishProgress fans out one per-tile progress tick. Plain publish;
// a dropped tick is harmless because the next one supersedes it.
func (p *Publisher) PublishProgress(ctx context.Context, progress domain.DownloadProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return p.conn.Publish(SubjectProgressPrefix+progress.Region, data)
}

func (p *Publisher) PublishComplete(ctx context.Context, result domain.DownloadResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectCompletePrefix+result.Region, data)
	return err
}

func (p *Publisher) PublishDownloadError(ctx context.Context, region string, cause error) error {
	data, err := json.Marshal(map[string]string{
		"region": region,
		"error":  cause.Error(),
	})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectErrorPrefix+region, data)
	return err
}

func (p *Publisher) PublishSyncTrigger(ctx context.Context, priority domain.SyncPriority) error {
	_, err := p.js.Publish(SubjectSyncTrigger+priority.String(), []byte(priority.String()))
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
