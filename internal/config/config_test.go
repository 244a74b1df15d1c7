package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("VIEWSTREAM_TEST_ADDR", "localhost:9090")

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"set var", "addr: ${VIEWSTREAM_TEST_ADDR}", "addr: localhost:9090"},
		{"unset with default", "addr: ${VIEWSTREAM_UNSET:-:7070}", "addr: :7070"},
		{"unset without default left alone", "addr: ${VIEWSTREAM_UNSET}", "addr: ${VIEWSTREAM_UNSET}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SubstituteEnvVars(tc.input); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoadConfigAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
queue:
  capacity: 4096
retention:
  policy: expire
  ttl: 1h
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Queue.Capacity != 4096 {
		t.Errorf("expected overridden capacity 4096, got %d", cfg.Queue.Capacity)
	}
	if cfg.Queue.Backpressure != "drop-oldest" {
		t.Errorf("expected default backpressure to survive, got %q", cfg.Queue.Backpressure)
	}
	if cfg.Retention.Policy != "expire" || cfg.Retention.TTL != time.Hour {
		t.Errorf("unexpected retention: %+v", cfg.Retention)
	}
	if cfg.Engine.HealthWindow != 100 {
		t.Errorf("expected default health window 100, got %d", cfg.Engine.HealthWindow)
	}
}
