package threadmod

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/mod"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/search"
)

// Error strings returned in mod_message/system_response envelopes — each rejection reason has a specific string,
// never a generic failure; a missing file and a missing message both report "not_found".
var (
	ErrChannelNotFound     = errors.New("channel_not_found")
	ErrParentNotFound      = errors.New("parent_not_found")
	ErrThreadDepthExceeded = errors.New("thread_depth_exceeded")
	ErrFileTooLarge        = errors.New("file_too_large")
	ErrFileNotFound        = errors.New("not_found")
	ErrMessageNotFound     = errors.New("not_found")
)

// MaxThreadLevel mirrors protocol.MaxThreadLevel: a reply's level may never exceed 4 (5 tiers including the root).
const MaxThreadLevel = protocol.MaxThreadLevel

// Config configures the mod's limits, sourced from internal/config.Config.
type Config struct {
	Channels               []ChannelSeed
	ChannelHistoryCapacity int
	MaxFileSizeBytes       int
	MaxThreadDepth         int
	AutoCreateChannels     bool
}

// ChannelSeed pre-seeds a channel at startup from configuration.
type ChannelSeed struct {
	Name        string
	Description string
}

// Mod implements mod.Mod — the threaded channel-messaging mod.
type Mod struct {
	cfg Config

	channelsMu sync.RWMutex
	channels   map[string]*Channel

	writersMu      sync.Mutex
	channelWriters map[string]*sync.Mutex
	dmWriters      map[dmKey]*sync.Mutex

	messagesMu sync.RWMutex
	messages   map[uuid.UUID]*StoredMessage

	threadsMu sync.RWMutex
	threads   map[uuid.UUID]*ThreadNode

	filesMu sync.RWMutex
	files   map[uuid.UUID]*FileBlob

	dmMu      sync.RWMutex
	dmHistory map[dmKey][]uuid.UUID

	sender          mod.Sender
	search          *search.Index
	sanitize        *bluemonday.Policy
	thumbnailStream *redis.Client
	log             zerolog.Logger
}

// SetThumbnailStream wires a Valkey client used to enqueue async thumbnail generation jobs. Optional — without it,
// uploaded images are simply never thumbnailed.
func (m *Mod) SetThumbnailStream(rdb *redis.Client) { m.thumbnailStream = rdb }

// New creates a threadmod.Mod, pre-seeding the configured channels. searchIndex may be nil when search is disabled
// — callers check for that before using it.
func New(cfg Config, sender mod.Sender, searchIndex *search.Index, logger zerolog.Logger) *Mod {
	m := &Mod{
		cfg:            cfg,
		channels:       make(map[string]*Channel, len(cfg.Channels)),
		channelWriters: make(map[string]*sync.Mutex),
		dmWriters:      make(map[dmKey]*sync.Mutex),
		messages:       make(map[uuid.UUID]*StoredMessage),
		threads:        make(map[uuid.UUID]*ThreadNode),
		files:          make(map[uuid.UUID]*FileBlob),
		dmHistory:      make(map[dmKey][]uuid.UUID),
		sender:         sender,
		search:         searchIndex,
		sanitize:       bluemonday.StrictPolicy(),
		log:            logger.With().Str("component", "threadmod").Logger(),
	}
	for _, seed := range cfg.Channels {
		m.channels[seed.Name] = &Channel{
			Name:        seed.Name,
			Description: seed.Description,
			Members:     make(map[string]struct{}),
		}
	}
	return m
}

// Name identifies this mod for list_mods/get_mod_manifest and frame.Mod routing.
func (m *Mod) Name() string { return "channels" }

// Manifest describes this mod's identity and capabilities.
func (m *Mod) Manifest() mod.Manifest {
	return mod.Manifest{
		Name:    m.Name(),
		Version: "1.0.0",
		Capabilities: []string{
			"direct_message", "channel_message", "reply_message",
			"reactions", "file_upload", "search",
		},
	}
}

// OnAgentConnect has no channel-membership side effect: membership is established by sending to a channel, not by
// connecting — there is no separate join operation.
func (m *Mod) OnAgentConnect(string, map[string]any) {}

// OnAgentDisconnect leaves agentID's connection lifecycle alone; channel membership persists across reconnects so a
// returning agent keeps receiving channel traffic without re-announcing itself.
func (m *Mod) OnAgentDisconnect(string) {}

// OnModMessage is unused: channel_message/reply_message frames are forwarded to this mod directly by the router,
// not wrapped as mod_message envelopes naming mod="channels".
func (m *Mod) OnModMessage(protocol.Frame) {}

// Commands exposes no mod-specific system commands of its own; retrieval, upload, download, listing, and reactions
// are invoked directly by the router/dispatcher via this type's exported methods rather than through the generic
// Commands() table, since each needs typed arguments the system_request envelope alone does not carry cleanly.
func (m *Mod) Commands() map[string]mod.CommandHandler { return nil }

func (m *Mod) channelWriter(name string) *sync.Mutex {
	m.writersMu.Lock()
	defer m.writersMu.Unlock()
	w, ok := m.channelWriters[name]
	if !ok {
		w = &sync.Mutex{}
		m.channelWriters[name] = w
	}
	return w
}

func (m *Mod) dmWriter(key dmKey) *sync.Mutex {
	m.writersMu.Lock()
	defer m.writersMu.Unlock()
	w, ok := m.dmWriters[key]
	if !ok {
		w = &sync.Mutex{}
		m.dmWriters[key] = w
	}
	return w
}

func (m *Mod) historyCapacity() int {
	if m.cfg.ChannelHistoryCapacity > 0 {
		return m.cfg.ChannelHistoryCapacity
	}
	return 2000
}

func (m *Mod) maxDepth() int {
	if m.cfg.MaxThreadDepth > 0 && m.cfg.MaxThreadDepth <= MaxThreadLevel+1 {
		return m.cfg.MaxThreadDepth - 1
	}
	return MaxThreadLevel
}
