package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want :8000", cfg.BindAddr)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 15s", cfg.ShutdownTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9999")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("AGENT_COMMAND", "node")
	t.Setenv("AGENT_ARGS", "index.js --headless")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9999" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.AgentCommand != "node" || len(cfg.AgentArgs) != 2 {
		t.Fatalf("agent command = %q args = %v", cfg.AgentCommand, cfg.AgentArgs)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject invalid duration")
	}
}

func TestStoreDefaultsFromEnv(t *testing.T) {
	t.Setenv("WARMING_ENABLED", "false")
	t.Setenv("WARMING_ACTIVE_SCRIPTS", "small-talk, custom ")
	t.Setenv("SECURITY_MAX_SESSIONS", "7")

	s, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	w := s.Warming()
	if w.Enabled {
		t.Fatalf("warming should be disabled")
	}
	if len(w.ActiveScripts) != 2 || w.ActiveScripts[1] != "custom" {
		t.Fatalf("ActiveScripts = %v", w.ActiveScripts)
	}
	if s.Security().MaxSessions != 7 {
		t.Fatalf("MaxSessions = %d, want 7", s.Security().MaxSessions)
	}
}

func TestReplaceIsWholeObject(t *testing.T) {
	s, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	// A replacement that omits ActiveScripts really clears it: replace, not merge.
	next := Warming{
		Enabled:          true,
		Interval:         time.Minute,
		MaxConversations: 3,
		MinReplyDelay:    time.Second,
		MaxReplyDelay:    2 * time.Second,
	}
	if err := s.ReplaceWarming(next); err != nil {
		t.Fatalf("ReplaceWarming() error = %v", err)
	}
	got := s.Warming()
	if len(got.ActiveScripts) != 0 {
		t.Fatalf("ActiveScripts = %v, want empty after whole-object replace", got.ActiveScripts)
	}
	if got.Interval != time.Minute {
		t.Fatalf("Interval = %v, want 1m", got.Interval)
	}
}

func TestReplaceValidates(t *testing.T) {
	s, _ := NewStore()
	if err := s.ReplaceWarming(Warming{Interval: 0, MaxConversations: 1}); err == nil {
		t.Fatalf("ReplaceWarming() should reject zero interval")
	}
	if err := s.ReplaceSecurity(Security{MaxSessions: 10, SessionTimeout: 0}); err == nil {
		t.Fatalf("ReplaceSecurity() should reject zero timeout")
	}
}

func TestWarmingSnapshotIsIsolated(t *testing.T) {
	s, _ := NewStore()
	w := s.Warming()
	if len(w.ActiveScripts) == 0 {
		t.Fatalf("expected default active scripts")
	}
	w.ActiveScripts[0] = "mutated"
	if s.Warming().ActiveScripts[0] == "mutated" {
		t.Fatalf("snapshot mutation leaked into the store")
	}
}
