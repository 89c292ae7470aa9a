package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
data:
  csv: /srv/study/replay_data.csv

database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: replay
  name: study

server:
  port: 9090

playback:
  frame_interval: 20ms
  default_speed: 2
  speeds: [1, 2, 4]
  progress_epsilon: 0.5

seek:
  poll_interval: 10ms
  tolerance: 100ms
  max_attempts: 50

ingest:
  schedule: "*/15 * * * *"
  watch: true

viewer:
  idle_timeout: 5m
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Data.CSV != "/srv/study/replay_data.csv" {
		t.Errorf("Data.CSV = %q", cfg.Data.CSV)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3307 {
		t.Errorf("Database addr = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.User != "replay" || cfg.Database.Name != "study" {
		t.Errorf("Database user/name = %q/%q", cfg.Database.User, cfg.Database.Name)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Playback.FrameInterval != 20*time.Millisecond {
		t.Errorf("Playback.FrameInterval = %v", cfg.Playback.FrameInterval)
	}
	if cfg.Playback.DefaultSpeed != 2 || len(cfg.Playback.Speeds) != 3 {
		t.Errorf("Playback speeds = %v default %v", cfg.Playback.Speeds, cfg.Playback.DefaultSpeed)
	}
	if cfg.Playback.ProgressEpsilon != 0.5 {
		t.Errorf("Playback.ProgressEpsilon = %v", cfg.Playback.ProgressEpsilon)
	}
	if cfg.Seek.PollInterval != 10*time.Millisecond || cfg.Seek.Tolerance != 100*time.Millisecond {
		t.Errorf("Seek = %+v", cfg.Seek)
	}
	if cfg.Seek.MaxAttempts != 50 {
		t.Errorf("Seek.MaxAttempts = %d", cfg.Seek.MaxAttempts)
	}
	if cfg.Ingest.Schedule != "*/15 * * * *" || !cfg.Ingest.Watch {
		t.Errorf("Ingest = %+v", cfg.Ingest)
	}
	if cfg.Viewer.IdleTimeout != 5*time.Minute {
		t.Errorf("Viewer.IdleTimeout = %v", cfg.Viewer.IdleTimeout)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"csv", cfg.Data.CSV, "data/replay_data.csv"},
		{"driver", cfg.Database.Driver, "sqlite"},
		{"path", cfg.Database.Path, "gptreplay.db"},
		{"server port", cfg.Server.Port, 8080},
		{"frame interval", cfg.Playback.FrameInterval, 16 * time.Millisecond},
		{"default speed", cfg.Playback.DefaultSpeed, 1.0},
		{"speeds", len(cfg.Playback.Speeds), 8},
		{"epsilon", cfg.Playback.ProgressEpsilon, 0.01},
		{"poll interval", cfg.Seek.PollInterval, 5 * time.Millisecond},
		{"tolerance", cfg.Seek.Tolerance, 50 * time.Millisecond},
		{"max attempts", cfg.Seek.MaxAttempts, 2000},
		{"idle timeout", cfg.Viewer.IdleTimeout, 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: mysql\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" || cfg.Database.Port != 3306 {
		t.Errorf("addr = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.User != "root" || cfg.Database.Name != "gptreplay" {
		t.Errorf("user/name = %q/%q", cfg.Database.User, cfg.Database.Name)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Path = %q, want empty for mysql", cfg.Database.Path)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			yaml:    "database:\n  driver: postgres\n",
			wantErr: "database.driver",
		},
		{
			name:    "server port out of range",
			yaml:    "server:\n  port: 70000\n",
			wantErr: "server.port 70000 is out of range",
		},
		{
			name:    "negative speed",
			yaml:    "playback:\n  speeds: [1, -2]\n",
			wantErr: "playback.speeds[1] must be a positive number",
		},
		{
			name:    "default speed not offered",
			yaml:    "playback:\n  default_speed: 2.5\n",
			wantErr: "playback.default_speed 2.5 is not one of playback.speeds",
		},
		{
			name:    "bad schedule",
			yaml:    "ingest:\n  schedule: every tuesday\n",
			wantErr: "ingest.schedule",
		},
		{
			name:    "negative idle timeout",
			yaml:    "viewer:\n  idle_timeout: -1m\n",
			wantErr: "viewer.idle_timeout must not be negative",
		},
		{
			name:    "negative max attempts",
			yaml:    "seek:\n  max_attempts: -3\n",
			wantErr: "seek.max_attempts must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "config: validation failed: ") {
				t.Errorf("error = %q, want validation prefix", err.Error())
			}
		})
	}
}

func TestParse_MultipleErrors(t *testing.T) {
	_, err := Parse([]byte("server:\n  port: -1\nviewer:\n  idle_timeout: -1s\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected joined errors, got %q", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unterminated"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want config: parse prefix", err.Error())
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("GPTREPLAY_PORT", "7070")
	t.Setenv("GPTREPLAY_CSV", "/tmp/other.csv")
	t.Setenv("GPTREPLAY_SPEEDS", "1,5")
	t.Setenv("GPTREPLAY_IDLE_TIMEOUT", "90s")

	cfg, err := Parse([]byte("server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Data.CSV != "/tmp/other.csv" {
		t.Errorf("Data.CSV = %q", cfg.Data.CSV)
	}
	if len(cfg.Playback.Speeds) != 2 || cfg.Playback.Speeds[1] != 5 {
		t.Errorf("Speeds = %v", cfg.Playback.Speeds)
	}
	if cfg.Viewer.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.Viewer.IdleTimeout)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gptreplay.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/gptreplay.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestHasSpeed(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []float64{0.1, 1.5, 100} {
		if !cfg.HasSpeed(s) {
			t.Errorf("HasSpeed(%v) = false", s)
		}
	}
	if cfg.HasSpeed(4) {
		t.Error("HasSpeed(4) = true")
	}
}
