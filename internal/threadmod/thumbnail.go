package threadmod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// thumbnailStream/thumbnailGroup name the Redis stream this worker consumes from; jobs carry a file_id looked up
// against this mod's in-memory FileBlob arena rather than an object-storage key.
const (
	thumbnailStream  = "agenthub.jobs.thumbnails"
	thumbnailGroup   = "agenthub-workers"
	thumbnailWidth   = 400
	thumbnailQuality = 85
)

// thumbnailJob names the FileBlob a worker should generate a thumbnail for.
type thumbnailJob struct {
	FileID string `json:"file_id"`
}

// ThumbnailWorker consumes thumbnail jobs enqueued by UploadFile and writes the generated JPEG back onto the
// originating FileBlob.
type ThumbnailWorker struct {
	rdb *redis.Client
	mod *Mod
	log zerolog.Logger
}

// NewThumbnailWorker creates a worker bound to mod's file arena.
func NewThumbnailWorker(rdb *redis.Client, m *Mod, logger zerolog.Logger) *ThumbnailWorker {
	return &ThumbnailWorker{rdb: rdb, mod: m, log: logger.With().Str("component", "thumbnail_worker").Logger()}
}

// EnsureStream creates the consumer group, tolerating BUSYGROUP if it already exists.
func (w *ThumbnailWorker) EnsureStream(ctx context.Context) {
	err := w.rdb.XGroupCreateMkStream(ctx, thumbnailStream, thumbnailGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		w.log.Warn().Err(err).Msg("Failed to create thumbnail consumer group")
	}
}

// Run reads and processes thumbnail jobs until ctx is cancelled.
func (w *ThumbnailWorker) Run(ctx context.Context) error {
	consumer := "worker-" + uuid.New().String()[:8]

	for {
		streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    thumbnailGroup,
			Consumer: consumer,
			Streams:  []string{thumbnailStream, ">"},
			Count:    1,
			Block:    0,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.processJob(ctx, msg)
			}
		}
	}
}

func (w *ThumbnailWorker) processJob(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["job"]
	if !ok {
		w.ack(ctx, msg.ID)
		return
	}

	var job thumbnailJob
	if err := json.Unmarshal([]byte(raw.(string)), &job); err != nil {
		w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to unmarshal thumbnail job")
		w.ack(ctx, msg.ID)
		return
	}

	if err := w.generate(job); err != nil {
		w.log.Warn().Err(err).Str("file_id", job.FileID).Msg("Thumbnail generation failed")
	}
	w.ack(ctx, msg.ID)
}

func (w *ThumbnailWorker) generate(job thumbnailJob) error {
	fileID, err := uuid.Parse(job.FileID)
	if err != nil {
		return fmt.Errorf("parse file id: %w", err)
	}

	w.mod.filesMu.RLock()
	blob, ok := w.mod.files[fileID]
	var source []byte
	if ok {
		source = blob.Bytes
	}
	w.mod.filesMu.RUnlock()
	if !ok {
		return ErrFileNotFound
	}

	img, _, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	w.mod.filesMu.Lock()
	if blob, ok := w.mod.files[fileID]; ok {
		blob.ThumbnailBytes = buf.Bytes()
		blob.ThumbnailPending = false
	}
	w.mod.filesMu.Unlock()

	return nil
}

// enqueueThumbnail marks fileID's blob as pending and, if a stream client is configured, publishes a generation
// job. The thumbnail is a derived artifact: an unreachable or unconfigured Valkey instance simply leaves the blob
// without a thumbnail, not a failed upload.
func (m *Mod) enqueueThumbnail(fileID uuid.UUID) {
	m.filesMu.Lock()
	if blob, ok := m.files[fileID]; ok {
		blob.ThumbnailPending = true
	}
	m.filesMu.Unlock()

	if m.thumbnailStream == nil {
		return
	}
	data, err := json.Marshal(thumbnailJob{FileID: fileID.String()})
	if err != nil {
		return
	}
	if err := m.thumbnailStream.XAdd(context.Background(), &redis.XAddArgs{
		Stream: thumbnailStream,
		Values: map[string]any{"job": string(data)},
	}).Err(); err != nil {
		m.log.Warn().Err(err).Str("file_id", fileID.String()).Msg("Failed to enqueue thumbnail job")
	}
}
