// Package aggregate combines per-location monitor results into one verdict:
// a Redis barrier elects the last-reporting worker as aggregator, a strategy
// folds location outcomes into a monitor status, and the alert gate decides
// what to notify.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/fleet/types"
)

// barrierTTL caps how long an incomplete barrier lingers. A location that
// never reports (crash, retry exhaustion) leaves the group unaggregated and
// the key expires on its own.
const barrierTTL = 120 * time.Second

// barrierOpTimeout bounds the barrier admin calls.
const barrierOpTimeout = 5 * time.Second

// Barrier is the shared set electing the aggregating worker. Each register
// runs SADD and SCARD in one MULTI/EXEC transaction, so exactly one caller
// observes the set reach the expected size.
type Barrier struct {
	client *redis.Client
}

// NewBarrier creates a barrier over an existing client.
func NewBarrier(client *redis.Client) *Barrier {
	return &Barrier{client: client}
}

func barrierKey(groupID string) string {
	return "barrier:" + groupID
}

// Register adds a location to the group's set and returns the set size.
func (b *Barrier) Register(ctx context.Context, groupID string, location types.LocationCode) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, barrierOpTimeout)
	defer cancel()

	// MULTI/EXEC, not a plain pipeline: SADD and SCARD must be one atomic
	// unit or two concurrent registrations can both read the final count
	// and both aggregate the group.
	key := barrierKey(groupID)
	pipe := b.client.TxPipeline()
	pipe.SAdd(ctx, key, string(location))
	pipe.Expire(ctx, key, barrierTTL)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("register %s in barrier %s: %w", location, groupID, err)
	}
	return card.Val(), nil
}

// Delete removes a completed group's barrier, best-effort.
func (b *Barrier) Delete(ctx context.Context, groupID string) {
	ctx, cancel := context.WithTimeout(ctx, barrierOpTimeout)
	defer cancel()
	_ = b.client.Del(ctx, barrierKey(groupID)).Err()
}
