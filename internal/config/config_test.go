package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log settings = %q/%q, want info/text", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestSchedulerConfig_Validate(t *testing.T) {
	tests := []struct {
		delay   time.Duration
		wantErr bool
	}{
		{0, false},
		{500 * time.Millisecond, false},
		{-time.Millisecond, true},
	}
	for _, tt := range tests {
		err := SchedulerConfig{InterSwitchDelay: tt.delay}.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%v) error = %v, wantErr %v", tt.delay, err, tt.wantErr)
		}
	}
}

func TestResolveDBPath(t *testing.T) {
	got, err := ResolveDBPath(":memory:")
	if err != nil || got != ":memory:" {
		t.Errorf("explicit path = %q, %v", got, err)
	}

	t.Setenv("PORTSCHED_DB", "/tmp/env.db")
	got, err = ResolveDBPath("")
	if err != nil || got != "/tmp/env.db" {
		t.Errorf("env path = %q, %v", got, err)
	}

	home := t.TempDir()
	t.Setenv("PORTSCHED_DB", "")
	t.Setenv("HOME", home)
	got, err = ResolveDBPath("")
	if err != nil {
		t.Fatalf("default path: %v", err)
	}
	if want := filepath.Join(home, ".portsched", "traces.db"); got != want {
		t.Errorf("default path = %q, want %q", got, want)
	}
}
