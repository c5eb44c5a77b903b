package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PLATESYNC_REMOTE_URL", "https://abc.supabase.co")
	t.Setenv("PLATESYNC_REMOTE_API_KEY", "service-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.EntryTimeout != 30*time.Second {
		t.Errorf("EntryTimeout = %v, want 30s", cfg.EntryTimeout)
	}
	if cfg.PhotoBucket != "meal-photos" {
		t.Errorf("PhotoBucket = %q", cfg.PhotoBucket)
	}
	if cfg.ListenAddr != "127.0.0.1:8390" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PLATESYNC_SYNC_INTERVAL", "90s")
	t.Setenv("PLATESYNC_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("SyncInterval = %v, want 90s", cfg.SyncInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadTrimsBaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PLATESYNC_REMOTE_URL", "https://abc.supabase.co/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.HasSuffix(cfg.RemoteBaseURL, "/") {
		t.Errorf("RemoteBaseURL not trimmed: %q", cfg.RemoteBaseURL)
	}
}

func TestLoadMissingRemoteURL(t *testing.T) {
	t.Setenv("PLATESYNC_REMOTE_URL", "")
	t.Setenv("PLATESYNC_REMOTE_API_KEY", "service-key")

	if _, err := Load(); err == nil {
		t.Fatal("Load should require PLATESYNC_REMOTE_URL")
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("PLATESYNC_REMOTE_URL", "https://abc.supabase.co")
	t.Setenv("PLATESYNC_REMOTE_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load should require PLATESYNC_REMOTE_API_KEY")
	}
}

func TestLoadBadDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PLATESYNC_SYNC_INTERVAL", "whenever")

	_, err := Load()
	if err == nil {
		t.Fatal("Load should reject malformed durations")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Errorf("Error missing parse env prefix: %v", err)
	}
}
