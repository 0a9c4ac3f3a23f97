package tcp

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_DefaultsMatchDocumentedValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.InitialRTOMillis != 1000 || cfg.MaxRTOMillis != 64000 || cfg.MaxRetries != 9 {
		t.Fatalf("unexpected RTO defaults: %+v", cfg)
	}
	if cfg.TCPNoDelay {
		t.Fatal("tcp_nodelay should default to false")
	}
}

func TestConfig_LoadOverridesOnlySpecifiedKnobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tcp.yaml")
	const doc = "max_retries: 3\ntcp_nodelay: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected overridden max_retries=3, got %d", cfg.MaxRetries)
	}
	if !cfg.TCPNoDelay {
		t.Fatal("expected overridden tcp_nodelay=true")
	}
	if cfg.InitialRTOMillis != 1000 {
		t.Fatalf("expected un-overridden initial_rto_ms to keep its default, got %d", cfg.InitialRTOMillis)
	}
}

func TestConfig_LoadMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestConfig_TimerConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	tc := cfg.TimerConfig()
	if tc.InitialRTO != 1*time.Second {
		t.Fatalf("InitialRTO = %v, want 1s", tc.InitialRTO)
	}
	if tc.MaxRTO != 64*time.Second {
		t.Fatalf("MaxRTO = %v, want 64s", tc.MaxRTO)
	}
	if tc.KeepaliveIdle != 7200*time.Second {
		t.Fatalf("KeepaliveIdle = %v, want 7200s", tc.KeepaliveIdle)
	}
	if tc.MaxRetries != cfg.MaxRetries {
		t.Fatalf("MaxRetries = %d, want %d", tc.MaxRetries, cfg.MaxRetries)
	}
}
