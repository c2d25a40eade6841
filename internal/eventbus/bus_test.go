package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
)

func TestConnect_ValkeyScheme(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "valkey://"+mr.Addr(), time.Second)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	_ = client.Close()
}

func TestConnect_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), "://missing-scheme", time.Second); err == nil {
		t.Fatal("Connect() expected error for invalid URL, got nil")
	}
}

func TestConnect_UnreachableHost(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), "redis://localhost:1", 100*time.Millisecond); err == nil {
		t.Fatal("Connect() expected error for unreachable host, got nil")
	}
}

func newTestBus(t *testing.T) (*Bus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, zerolog.Nop()), client
}

func TestBus_PublishDeliversToRun(t *testing.T) {
	t.Parallel()

	bus, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan protocol.Frame, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = bus.Run(ctx, func(f protocol.Frame) { received <- f })
	}()

	// give the subscriber a moment to establish before publishing.
	time.Sleep(50 * time.Millisecond)

	frame := protocol.Frame{Type: protocol.TypeBroadcastMessage, SenderID: "agent-1"}
	if err := bus.Publish(context.Background(), frame); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case got := <-received:
		if got.SenderID != "agent-1" || got.Type != protocol.TypeBroadcastMessage {
			t.Errorf("received frame = %+v, want matching SenderID/Type", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published frame")
	}

	cancel()
	wg.Wait()
}
