package aggregate

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/supercheck-io/fleet/types"
)

func newTestBarrier(t *testing.T) (*Barrier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBarrier(client), mr
}

func TestBarrier_CountsDistinctLocations(t *testing.T) {
	b, _ := newTestBarrier(t)
	ctx := context.Background()

	locations := []types.LocationCode{"us-east", "eu-central", "asia-pacific"}
	for i, loc := range locations {
		n, err := b.Register(ctx, "grp-1", loc)
		if err != nil {
			t.Fatal(err)
		}
		if n != int64(i+1) {
			t.Errorf("register %s: count = %d, want %d", loc, n, i+1)
		}
	}
}

func TestBarrier_ExactlyOneCallerSeesCompletion(t *testing.T) {
	b, _ := newTestBarrier(t)
	ctx := context.Background()

	completions := 0
	for _, loc := range []types.LocationCode{"us-east", "eu-central", "asia-pacific"} {
		n, err := b.Register(ctx, "grp-2", loc)
		if err != nil {
			t.Fatal(err)
		}
		if n == 3 {
			completions++
		}
	}
	if completions != 1 {
		t.Errorf("completions = %d, want exactly 1", completions)
	}
}

func TestBarrier_ConcurrentRegistersElectOneAggregator(t *testing.T) {
	b, _ := newTestBarrier(t)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		group := fmt.Sprintf("grp-race-%d", i)
		counts := make([]int64, 2)
		var wg sync.WaitGroup
		for j, loc := range []types.LocationCode{"us-east", "eu-central"} {
			wg.Add(1)
			go func(slot int, loc types.LocationCode) {
				defer wg.Done()
				n, err := b.Register(ctx, group, loc)
				if err != nil {
					t.Error(err)
					return
				}
				counts[slot] = n
			}(j, loc)
		}
		wg.Wait()

		completions := 0
		for _, n := range counts {
			if n == 2 {
				completions++
			}
		}
		if completions != 1 {
			t.Fatalf("group %s: counts = %v, want exactly one caller to see the full set", group, counts)
		}
	}
}

func TestBarrier_ReRegisterDoesNotInflate(t *testing.T) {
	b, _ := newTestBarrier(t)
	ctx := context.Background()

	if _, err := b.Register(ctx, "grp-3", "us-east"); err != nil {
		t.Fatal(err)
	}
	n, err := b.Register(ctx, "grp-3", "us-east")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count after retry = %d, want 1", n)
	}
}

func TestBarrier_KeyExpires(t *testing.T) {
	b, mr := newTestBarrier(t)
	ctx := context.Background()

	if _, err := b.Register(ctx, "grp-4", "us-east"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("barrier:grp-4"); ttl != barrierTTL {
		t.Errorf("ttl = %v, want %v", ttl, barrierTTL)
	}
	mr.FastForward(barrierTTL)
	if mr.Exists("barrier:grp-4") {
		t.Error("barrier key should expire on its own")
	}
}

func TestBarrier_DeleteRemovesKey(t *testing.T) {
	b, mr := newTestBarrier(t)
	ctx := context.Background()

	if _, err := b.Register(ctx, "grp-5", "us-east"); err != nil {
		t.Fatal(err)
	}
	b.Delete(ctx, "grp-5")
	if mr.Exists("barrier:grp-5") {
		t.Error("delete should remove the barrier key")
	}
}
