package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9000"
live:
  code_length: 8
  trust_client_timing: false
redis:
  relay: true
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Live.CodeLength != 8 || !cfg.Redis.Relay {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.TrustClientTiming() {
		t.Fatalf("trust_client_timing: false was ignored")
	}
}

func TestTrustClientTimingDefaultsToTrue(t *testing.T) {
	if !(Config{}).TrustClientTiming() {
		t.Fatalf("unset trust_client_timing should default to true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTTLDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":      time.Minute,
		"90s":   90 * time.Second,
		"bogus": time.Minute,
	}
	for raw, want := range cases {
		if got := TTLDuration(raw, time.Minute); got != want {
			t.Fatalf("TTLDuration(%q) = %v, want %v", raw, got, want)
		}
	}
}
