// Package eventbus wraps a Valkey/Redis pub/sub channel used to decouple frame production (the router fanning out
// broadcast messages) from frame delivery (the registry's live connections).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
)

// eventsChannel is the single pub/sub channel every hub process publishes fan-out frames to.
const eventsChannel = "agenthub.events"

// Connect parses rawURL, connects to Valkey/Redis, and pings to verify the connection. The valkey:// scheme is
// rewritten to redis:// for go-redis compatibility.
func Connect(ctx context.Context, rawURL string, dialTimeout time.Duration) (*redis.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse valkey URL: %w", err)
	}
	if strings.EqualFold(parsed.Scheme, "valkey") {
		parsed.Scheme = "redis"
	}

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse valkey URL: %w", err)
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return client, nil
}

// Bus publishes frames to, and delivers frames from, the shared pub/sub channel.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New creates a Bus over an already-connected client.
func New(rdb *redis.Client, logger zerolog.Logger) *Bus {
	return &Bus{rdb: rdb, log: logger.With().Str("component", "eventbus").Logger()}
}

// Publish serialises frame and publishes it to the shared channel for every subscribed hub process to receive.
func (b *Bus) Publish(ctx context.Context, frame protocol.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal event frame: %w", err)
	}
	if err := b.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish event frame: %w", err)
	}
	return nil
}

// Run subscribes to the shared channel and invokes handler for every frame received, until ctx is cancelled or the
// subscription fails. Decode errors are logged and skipped rather than aborting the loop — a single malformed
// payload from a misbehaving process must not take down delivery for every other agent.
func (b *Bus) Run(ctx context.Context, handler func(protocol.Frame)) error {
	sub := b.rdb.Subscribe(ctx, eventsChannel)
	defer func() { _ = sub.Close() }()

	b.log.Info().Str("channel", eventsChannel).Msg("Event bus subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			frame, err := protocol.Decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn().Err(err).Msg("Dropping malformed event bus frame")
				continue
			}
			handler(frame)
		}
	}
}
