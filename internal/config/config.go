// Package config loads the ema-voice client configuration from YAML with
// EMA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportREST   = "rest"
	TransportStream = "stream"

	DeviceMiniaudio = "miniaudio"
	DevicePortaudio = "portaudio"

	RetentionEphemeral  = "ephemeral"
	RetentionPersistent = "persistent"
)

type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Store     StoreConfig     `yaml:"store"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type BackendConfig struct {
	URL           string `yaml:"url"`
	Transport     string `yaml:"transport"` // rest, stream
	StreamPath    string `yaml:"stream_path"`
	UserID        string `yaml:"user_id"`
	PartnerUserID string `yaml:"partner_user_id"`
	TurnTimeoutMS int    `yaml:"turn_timeout_ms"`
}

// TurnTimeout is the per-turn deadline as a duration.
func (b BackendConfig) TurnTimeout() time.Duration {
	return time.Duration(b.TurnTimeoutMS) * time.Millisecond
}

type AudioConfig struct {
	Device           string `yaml:"device"` // miniaudio, portaudio
	InputSampleRate  int    `yaml:"input_sample_rate"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	FrameSize        int    `yaml:"frame_size"`
}

type VADConfig struct {
	PositiveThreshold float64 `yaml:"positive_threshold"`
	NegativeThreshold float64 `yaml:"negative_threshold"`
	RedemptionFrames  int     `yaml:"redemption_frames"`
	MinSpeechFrames   int     `yaml:"min_speech_frames"`
	PrePadFrames      int     `yaml:"pre_pad_frames"`
	ReferenceRMS      float64 `yaml:"reference_rms"`
	MinVolume         float64 `yaml:"min_volume"`
}

type PlaybackConfig struct {
	// FallbackSampleRate applies to raw PCM replies whose mime type names no
	// rate.
	FallbackSampleRate int `yaml:"fallback_sample_rate"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Subject        string   `yaml:"subject"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:           "http://localhost:3000",
			Transport:     TransportREST,
			StreamPath:    "/api/voice-stream",
			TurnTimeoutMS: 30000,
		},
		Audio: AudioConfig{
			Device:           DeviceMiniaudio,
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			FrameSize:        512,
		},
		VAD: VADConfig{
			PositiveThreshold: 0.5,
			NegativeThreshold: 0.35,
			RedemptionFrames:  8,
			MinSpeechFrames:   3,
			PrePadFrames:      3,
			ReferenceRMS:      0.1,
			MinVolume:         0.005,
		},
		Playback: PlaybackConfig{
			FallbackSampleRate: 24000,
		},
		Store: StoreConfig{
			Path:          "./data/ema-voice.db",
			RetentionMode: RetentionPersistent,
			RetentionDays: 30,
			MaxSessions:   200,
		},
		Bus: BusConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "ema.voice.events",
			ConnectTimeout: 2000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFile:        "ema-voice.log",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Backend.URL, "EMA_BACKEND_URL")
	overrideString(&cfg.Backend.Transport, "EMA_BACKEND_TRANSPORT")
	overrideString(&cfg.Backend.StreamPath, "EMA_BACKEND_STREAM_PATH")
	overrideString(&cfg.Backend.UserID, "EMA_BACKEND_USER_ID")
	overrideString(&cfg.Backend.PartnerUserID, "EMA_BACKEND_PARTNER_USER_ID")
	overrideInt(&cfg.Backend.TurnTimeoutMS, "EMA_BACKEND_TURN_TIMEOUT_MS")
	overrideString(&cfg.Audio.Device, "EMA_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.InputSampleRate, "EMA_AUDIO_INPUT_SAMPLE_RATE")
	overrideInt(&cfg.Audio.OutputSampleRate, "EMA_AUDIO_OUTPUT_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameSize, "EMA_AUDIO_FRAME_SIZE")
	overrideFloat(&cfg.VAD.PositiveThreshold, "EMA_VAD_POSITIVE_THRESHOLD")
	overrideFloat(&cfg.VAD.NegativeThreshold, "EMA_VAD_NEGATIVE_THRESHOLD")
	overrideInt(&cfg.VAD.RedemptionFrames, "EMA_VAD_REDEMPTION_FRAMES")
	overrideInt(&cfg.VAD.MinSpeechFrames, "EMA_VAD_MIN_SPEECH_FRAMES")
	overrideInt(&cfg.VAD.PrePadFrames, "EMA_VAD_PRE_PAD_FRAMES")
	overrideInt(&cfg.Playback.FallbackSampleRate, "EMA_PLAYBACK_FALLBACK_SAMPLE_RATE")
	overrideString(&cfg.Store.Path, "EMA_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "EMA_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "EMA_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "EMA_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Bus.Enabled, "EMA_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "EMA_BUS_SERVERS")
	overrideString(&cfg.Bus.Subject, "EMA_BUS_SUBJECT")
	overrideString(&cfg.Bus.Token, "EMA_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "EMA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "EMA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "EMA_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "EMA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "EMA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "EMA_TELEMETRY_PROMETHEUS_BIND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Backend.URL == "" {
		return errors.New("backend.url must not be empty")
	}
	switch cfg.Backend.Transport {
	case TransportREST, TransportStream:
	default:
		return errors.New("backend.transport must be one of rest|stream")
	}
	if cfg.Backend.TurnTimeoutMS <= 0 {
		return errors.New("backend.turn_timeout_ms must be positive")
	}
	if cfg.Backend.UserID == "" && cfg.Backend.PartnerUserID != "" {
		return errors.New("backend.user_id must be set when partner_user_id is")
	}
	switch cfg.Audio.Device {
	case DeviceMiniaudio, DevicePortaudio:
	default:
		return errors.New("audio.device must be one of miniaudio|portaudio")
	}
	if cfg.Audio.InputSampleRate <= 0 || cfg.Audio.OutputSampleRate <= 0 {
		return errors.New("audio sample rates must be positive")
	}
	if cfg.Audio.FrameSize <= 0 {
		return errors.New("audio.frame_size must be positive")
	}
	if cfg.VAD.NegativeThreshold > cfg.VAD.PositiveThreshold {
		return errors.New("vad.negative_threshold must not exceed positive_threshold")
	}
	if cfg.VAD.PrePadFrames < 0 {
		return errors.New("vad.pre_pad_frames must be >= 0")
	}
	if cfg.Playback.FallbackSampleRate <= 0 {
		return errors.New("playback.fallback_sample_rate must be positive")
	}
	switch cfg.Store.RetentionMode {
	case RetentionEphemeral:
	case RetentionPersistent:
		if cfg.Store.Path == "" {
			return errors.New("store.path must not be empty when retention is persistent")
		}
	default:
		return errors.New("store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty when the bus is enabled")
		}
	}
	return nil
}
