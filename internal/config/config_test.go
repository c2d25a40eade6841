package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_ENV", "SERVER_PORT", "VALKEY_URL", "SECRET_KEY", "CERT_TTL", "CERT_SWEEP_INTERVAL",
		"MAX_CONNECTIONS", "HEARTBEAT_INTERVAL", "AGENT_TIMEOUT", "PING_TIMEOUT", "WRITE_TIMEOUT",
		"MAX_MESSAGE_SIZE_BYTES", "CHANNELS", "MAX_FILE_SIZE_BYTES", "CHANNEL_HISTORY_CAPACITY",
		"MAX_THREAD_DEPTH", "TYPESENSE_URL", "TYPESENSE_API_KEY", "RATE_LIMIT_REQUESTS",
		"RATE_LIMIT_WINDOW_SECONDS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_FailsWithoutSecretKey(t *testing.T) {
	clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with no SECRET_KEY = nil error, want validation failure")
	}
}

func TestLoad_DefaultsWithValidSecretKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "00112233445566778899aabbccddeeff")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.AgentTimeout != 90*time.Second {
		t.Errorf("AgentTimeout = %s, want 90s", cfg.AgentTimeout)
	}
	if cfg.MaxThreadDepth != 5 {
		t.Errorf("MaxThreadDepth = %d, want 5", cfg.MaxThreadDepth)
	}
	if cfg.MaxConnections != 1000 {
		t.Errorf("MaxConnections = %d, want 1000", cfg.MaxConnections)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Errorf("PingTimeout = %s, want 5s", cfg.PingTimeout)
	}
	if cfg.MaxMessageSizeBytes != 104_857_600 {
		t.Errorf("MaxMessageSizeBytes = %d, want 104857600", cfg.MaxMessageSizeBytes)
	}
	if cfg.MaxFileSizeBytes != 10_485_760 {
		t.Errorf("MaxFileSizeBytes = %d, want 10485760", cfg.MaxFileSizeBytes)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0] != "general" {
		t.Errorf("Channels = %v, want [general]", cfg.Channels)
	}
	if cfg.SearchEnabled {
		t.Error("SearchEnabled = true with no TYPESENSE_URL set, want false")
	}
}

func TestLoad_ParsesChannelList(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "00112233445566778899aabbccddeeff")
	t.Setenv("CHANNELS", "general, dev ,ops")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"general", "dev", "ops"}
	if len(cfg.Channels) != len(want) {
		t.Fatalf("Channels = %v, want %v", cfg.Channels, want)
	}
	for i, c := range want {
		if cfg.Channels[i] != c {
			t.Errorf("Channels[%d] = %q, want %q", i, cfg.Channels[i], c)
		}
	}
}

func TestLoad_RejectsInvalidSecretKeyHex(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "not-hex")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with invalid hex SECRET_KEY = nil error, want failure")
	}
}

func TestLoad_RejectsAgentTimeoutBelowHeartbeat(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "00112233445566778899aabbccddeeff")
	t.Setenv("HEARTBEAT_INTERVAL", "60s")
	t.Setenv("AGENT_TIMEOUT", "30s")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with AgentTimeout < HeartbeatInterval = nil error, want failure")
	}
}

func TestLoad_EnablesSearchWhenTypesenseURLSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "00112233445566778899aabbccddeeff")
	t.Setenv("TYPESENSE_URL", "http://typesense:8108")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.SearchEnabled {
		t.Error("SearchEnabled = false with TYPESENSE_URL set, want true")
	}
}
