// Package cancel implements the process-external cancellation store.
//
// Cancellation is a pull model: the executor polls IsCancelled every second
// during a run. All operations are best-effort — loss of Redis connectivity
// degrades to "not cancelled", never to a false positive.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// TTL bounds how long a cancellation flag outlives its run.
const TTL = time.Hour

// opTimeout is the per-operation Redis timeout.
const opTimeout = 5 * time.Second

// Store persists cancellation flags in the shared key-value service.
type Store struct {
	client *goredis.Client
}

// New creates a cancellation store from a Redis URL.
func New(url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("cancellation store requires a Redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cancellation store: invalid URL: %w", err)
	}
	return &Store{client: goredis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing Redis client. The caller keeps ownership
// of the client's lifecycle.
func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

func key(runID string) string {
	return "cancel:" + runID
}

// SetCancellation persists the flag for runID with the store TTL.
func (s *Store) SetCancellation(ctx context.Context, runID string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.client.Set(opCtx, key(runID), "1", TTL).Err(); err != nil {
		return fmt.Errorf("set cancellation %s: %w", runID, err)
	}
	return nil
}

// IsCancelled reports whether runID has been flagged. Errors degrade to
// false: a flaky store must never kill a healthy run.
func (s *Store) IsCancelled(ctx context.Context, runID string) bool {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	val, err := s.client.Get(opCtx, key(runID)).Result()
	if err != nil {
		return false
	}
	return val == "1"
}

// ClearCancellation removes the flag for runID. Best-effort; the TTL is the
// backstop.
func (s *Store) ClearCancellation(ctx context.Context, runID string) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_ = s.client.Del(opCtx, key(runID)).Err()
}

// Close releases the underlying client when the store owns it.
func (s *Store) Close() error {
	return s.client.Close()
}
