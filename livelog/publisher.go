// Package livelog publishes live console output for in-flight runs.
//
// Chunks are published as UTF-8 strings on the channel
// k6:run:{runId}:console. Publishing is fire-and-forget: a lost chunk is a
// degraded live view, never a failed run.
package livelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// publishTimeout is the per-chunk publish timeout.
const publishTimeout = 2 * time.Second

// Publisher streams console chunks over Redis pub/sub.
type Publisher struct {
	client *goredis.Client
}

// New creates a publisher from a Redis URL.
func New(url string) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("livelog publisher requires a Redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("livelog publisher: invalid URL: %w", err)
	}
	return &Publisher{client: goredis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing Redis client. The caller keeps ownership
// of the client's lifecycle.
func NewWithClient(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

// Channel returns the console channel name for a run.
func Channel(runID string) string {
	return fmt.Sprintf("k6:run:%s:console", runID)
}

// Publish sends one console chunk for runID. Errors are returned for the
// caller to log; they must not fail the run.
func (p *Publisher) Publish(ctx context.Context, runID string, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.client.Publish(opCtx, Channel(runID), string(chunk)).Err()
}

// Sink adapts the publisher to a per-run io.Writer for use as a container
// stream sink.
type Sink struct {
	publisher *Publisher
	runID     string
	ctx       context.Context
	onError   func(error)
}

// NewSink creates a write sink bound to one run. onError, when non-nil,
// receives publish failures; writes always report success upstream.
func (p *Publisher) NewSink(ctx context.Context, runID string, onError func(error)) *Sink {
	return &Sink{publisher: p, runID: runID, ctx: ctx, onError: onError}
}

// Write implements io.Writer.
func (s *Sink) Write(b []byte) (int, error) {
	if err := s.publisher.Publish(s.ctx, s.runID, b); err != nil && s.onError != nil {
		s.onError(err)
	}
	return len(b), nil
}

// Close releases the underlying client when the publisher owns it.
func (p *Publisher) Close() error {
	return p.client.Close()
}
