package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.Transport != TransportREST {
		t.Fatalf("expected rest transport, got %q", cfg.Backend.Transport)
	}
	if cfg.Backend.TurnTimeout() != 30*time.Second {
		t.Fatalf("expected 30s turn timeout, got %s", cfg.Backend.TurnTimeout())
	}
	if cfg.Audio.InputSampleRate != 16000 {
		t.Fatalf("expected 16 kHz input, got %d", cfg.Audio.InputSampleRate)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ema.yaml")
	data := []byte(`
backend:
  url: https://ema.example
  transport: stream
  user_id: u1
  partner_user_id: u2
vad:
  redemption_frames: 12
store:
  retention_mode: ephemeral
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.URL != "https://ema.example" || cfg.Backend.Transport != TransportStream {
		t.Fatalf("expected backend from file, got %+v", cfg.Backend)
	}
	if cfg.VAD.RedemptionFrames != 12 {
		t.Fatalf("expected 12 redemption frames, got %d", cfg.VAD.RedemptionFrames)
	}
	if cfg.VAD.MinSpeechFrames != 3 {
		t.Fatalf("expected unset fields to keep defaults, got %d", cfg.VAD.MinSpeechFrames)
	}
	if cfg.Store.RetentionMode != RetentionEphemeral {
		t.Fatalf("expected ephemeral store, got %q", cfg.Store.RetentionMode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EMA_BACKEND_URL", "http://override:8080")
	t.Setenv("EMA_BACKEND_USER_ID", "alice")
	t.Setenv("EMA_BACKEND_TURN_TIMEOUT_MS", "5000")
	t.Setenv("EMA_AUDIO_DEVICE", "portaudio")
	t.Setenv("EMA_VAD_POSITIVE_THRESHOLD", "0.6")
	t.Setenv("EMA_BUS_ENABLED", "true")
	t.Setenv("EMA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("EMA_STORE_MAX_SESSIONS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.URL != "http://override:8080" || cfg.Backend.UserID != "alice" {
		t.Fatalf("expected backend overrides, got %+v", cfg.Backend)
	}
	if cfg.Backend.TurnTimeout() != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.Backend.TurnTimeout())
	}
	if cfg.Audio.Device != DevicePortaudio {
		t.Fatalf("expected portaudio, got %q", cfg.Audio.Device)
	}
	if cfg.VAD.PositiveThreshold != 0.6 {
		t.Fatalf("expected threshold 0.6, got %v", cfg.VAD.PositiveThreshold)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if cfg.Store.MaxSessions != 5 {
		t.Fatalf("expected 5 max sessions, got %d", cfg.Store.MaxSessions)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown transport":    func(c *Config) { c.Backend.Transport = "grpc" },
		"zero timeout":         func(c *Config) { c.Backend.TurnTimeoutMS = 0 },
		"partner without user": func(c *Config) { c.Backend.PartnerUserID = "u2" },
		"unknown device":       func(c *Config) { c.Audio.Device = "alsa" },
		"inverted thresholds":  func(c *Config) { c.VAD.NegativeThreshold = 0.9 },
		"unknown retention":    func(c *Config) { c.Store.RetentionMode = "session" },
		"bus without subject":  func(c *Config) { c.Bus.Enabled = true; c.Bus.Subject = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
