package livelog

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestChannel(t *testing.T) {
	if got := Channel("run-42"); got != "k6:run:run-42:console" {
		t.Errorf("Channel = %q", got)
	}
}

func TestPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewWithClient(client)
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel("run-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	if err := p.Publish(ctx, "run-1", []byte("vus=10 iteration=3\n")); err != nil {
		t.Fatal(err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Payload != "vus=10 iteration=3\n" {
		t.Errorf("payload = %q", msg.Payload)
	}
}

func TestPublish_EmptyChunkIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewWithClient(client)
	if err := p.Publish(context.Background(), "run-1", nil); err != nil {
		t.Errorf("empty chunk should be a no-op, got %v", err)
	}
}

func TestSink_SwallowsPublishErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewWithClient(client)
	var sawErr error
	sink := p.NewSink(context.Background(), "run-1", func(err error) { sawErr = err })

	mr.Close()
	n, err := sink.Write([]byte("chunk"))
	if err != nil {
		t.Errorf("sink writes must never fail upstream, got %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
	if sawErr == nil {
		t.Error("onError should have observed the publish failure")
	}
}
