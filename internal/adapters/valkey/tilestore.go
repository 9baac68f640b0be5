package valkey

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

const scanBatch = 1000

// TileStore implements ports.TileStore on Valkey (Redis-compatible).
// Every key carries a versioned namespace prefix so bumping the cache
// version retires the whole tile set at once, and Clear can drop the
// namespace without touching unrelated keys.
type TileStore struct {
	client valkey.Client
	prefix string
}

// NewTileStore connects to Valkey. version becomes part of the key
// namespace, e.g. "offline-maps-v1.0.0".
func NewTileStore(addr, version string) (*TileStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &TileStore{
		client: client,
		prefix: "offline-maps-" + version + ":",
	}, nil
}

// Put stores tile bytes under the normalized URL. Entries have no TTL;
// offline tiles must outlive any session.
func (s *TileStore) Put(ctx context.Context, url string, data []byte, contentType string) error {
	cmd := s.client.Do(ctx, s.client.B().Hset().Key(s.prefix+url).
		FieldValue().
		FieldValue("data", string(data)).
		FieldValue("content_type", contentType).
		Build())
	if err := cmd.Error(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// Get retrieves tile bytes by normalized URL. A missing entry returns an
// error that callers treat as a cache miss.
func (s *TileStore) Get(ctx context.Context, url string) ([]byte, string, error) {
	cmd := s.client.Do(ctx, s.client.B().Hgetall().Key(s.prefix+url).Build())
	if err := cmd.Error(); err != nil {
		return nil, "", err
	}
	fields, err := cmd.AsStrMap()
	if err != nil {
		return nil, "", err
	}
	data, ok := fields["data"]
	if !ok {
		return nil, "", valkey.Nil
	}
	return []byte(data), fields["content_type"], nil
}

// Delete removes one entry, reporting whether it existed.
func (s *TileStore) Delete(ctx context.Context, url string) (bool, error) {
	cmd := s.client.Do(ctx, s.client.B().Del().Key(s.prefix+url).Build())
	n, err := cmd.AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear deletes the whole versioned namespace.
func (s *TileStore) Clear(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		cmd := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build())
		return cmd.Error()
	})
}

// Count returns how many tiles are cached.
func (s *TileStore) Count(ctx context.Context) (int64, error) {
	var total int64
	err := s.scan(ctx, func(keys []string) error {
		total += int64(len(keys))
		return nil
	})
	return total, err
}

// scan walks the namespace in batches.
func (s *TileStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		cmd := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).
			Match(s.prefix+"*").Count(scanBatch).Build())
		entry, err := cmd.AsScanEntry()
		if err != nil {
			return fmt.Errorf("scan tile namespace: %w", err)
		}
		if len(entry.Elements) > 0 {
			if err := fn(entry.Elements); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the client.
func (s *TileStore) Close() {
	s.client.Close()
}
