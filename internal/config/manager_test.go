package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
publisher:
  base_url: https://api.example.com
  token: secret
  destination:
    id: dest-a
    name: main account
storage:
  driver: file
  path: ./ledger
schedule:
  mode: manual
  start_date: "2026-03-10"
  start_time: "09:00"
  end_time: "22:00"
  interval_minutes: 60
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Publisher.Destination.ID != "dest-a" {
		t.Fatalf("destination = %q, want dest-a", cfg.Publisher.Destination.ID)
	}
	if cfg.Schedule.Mode != "manual" || cfg.Schedule.IntervalMinutes != 60 {
		t.Fatalf("unexpected schedule: %+v", cfg.Schedule)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML+"\nunknown_section:\n  x: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"logging":{"console":true},"publisher":{"base_url":"x","token":"t","destination":{"id":"d"}},"schedule":{"mode":"manual"}}{}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("pipeline.pause_poll", " 250ms ")
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("parse: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "not-a-duration"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
