package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agenthub/hub/internal/config"
	"github.com/agenthub/hub/internal/delivery"
	"github.com/agenthub/hub/internal/dispatcher"
	"github.com/agenthub/hub/internal/eventbus"
	"github.com/agenthub/hub/internal/heartbeat"
	"github.com/agenthub/hub/internal/httputil"
	"github.com/agenthub/hub/internal/hub"
	"github.com/agenthub/hub/internal/identity"
	"github.com/agenthub/hub/internal/mod"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
	"github.com/agenthub/hub/internal/router"
	"github.com/agenthub/hub/internal/search"
	"github.com/agenthub/hub/internal/threadmod"
	"github.com/agenthub/hub/internal/transport"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting agent hub")

	ctx := context.Background()
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	reg := registry.New()
	idm := identity.NewManager(cfg.SecretKey, cfg.CertTTL, log.Logger)
	go idm.RunSweeper(subCtx.Done(), cfg.CertSweepInterval)

	var rdb *redis.Client
	rawRDB, err := eventbus.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("Valkey unreachable; event bus fan-out stays local to this process and thumbnails are disabled")
	} else {
		rdb = rawRDB
		defer func() { _ = rdb.Close() }()
		log.Info().Msg("Valkey connected")
	}

	var searchIndex *search.Index
	if cfg.SearchEnabled {
		searchIndex = search.NewIndex(cfg.TypesenseURL, cfg.TypesenseAPIKey, 5*time.Second, log.Logger)
		searchIndex.EnsureCollection(ctx)
	}

	deliveryImpl := delivery.New(reg, log.Logger)

	var bus *eventbus.Bus
	if rdb != nil {
		bus = eventbus.New(rdb, log.Logger)
		go runWithBackoff(subCtx, "event-bus-subscriber", func(ctx context.Context) error {
			return bus.Run(ctx, func(frame protocol.Frame) {
				deliveryImpl.Broadcast(frame, append(frame.ExcludeAgentIDs, frame.SenderID)...)
			})
		})
	}

	seeds := make([]threadmod.ChannelSeed, 0, len(cfg.Channels))
	for _, name := range cfg.Channels {
		seeds = append(seeds, threadmod.ChannelSeed{Name: name})
	}
	threadMod := threadmod.New(threadmod.Config{
		Channels:               seeds,
		ChannelHistoryCapacity: cfg.ChannelHistoryCapacity,
		MaxFileSizeBytes:       cfg.MaxFileSizeBytes,
		MaxThreadDepth:         cfg.MaxThreadDepth,
	}, deliveryImpl, searchIndex, log.Logger)

	if rawRDB != nil {
		threadMod.SetThumbnailStream(rawRDB)
		worker := threadmod.NewThumbnailWorker(rawRDB, threadMod, log.Logger)
		worker.EnsureStream(subCtx)
		go runWithBackoff(subCtx, "thumbnail-worker", worker.Run)
	}

	modHost := mod.NewHost(log.Logger, threadMod)

	networkID := uuid.New().String()
	disp := dispatcher.New(reg, idm, modHost, threadMod, searchIndex, cfg.ServerEnv, networkID, log.Logger)
	var broadcaster router.Broadcaster
	if bus != nil {
		broadcaster = bus
	}
	rt := router.New(reg, deliveryImpl, modHost, threadMod, broadcaster, log.Logger)
	hbMonitor := heartbeat.NewMonitor(reg, deliveryImpl, cfg.HeartbeatInterval, cfg.AgentTimeout, cfg.PingTimeout, log.Logger)
	go hbMonitor.Run(subCtx.Done())

	h := hub.New(reg, modHost, disp, rt, hbMonitor, log.Logger)

	srv := transport.New(transport.Options{
		MaxMessageSizeBytes: int64(cfg.MaxMessageSizeBytes),
		WriteTimeout:        cfg.WriteTimeout,
		ReadTimeout:         cfg.AgentTimeout + cfg.PingTimeout,
		RateLimitCount:      cfg.RateLimitRequests,
		RateLimitWindow:     time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
	}, h, log.Logger)

	app := fiber.New(fiber.Config{AppName: "agenthub"})
	app.Use(httputil.RequestLogger(log.Logger))
	app.Get("/connect", srv.Upgrade)
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.SendString("ok")
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down agent hub")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Agent hub listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled
// error. If fn returns nil or context.Canceled the goroutine exits.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}
