// Package config handles daemon configuration: documented defaults, an optional YAML file,
// then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
)

type Config struct {
	HTTPAddr     string `yaml:"http_addr"`
	HealthAddr   string `yaml:"health_addr"`
	SettingsPath string `yaml:"settings_path"`

	Log         LogConfig         `yaml:"log"`
	Audio       AudioConfig       `yaml:"audio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Translation TranslationConfig `yaml:"translation"`
	Transcripts TranscriptConfig  `yaml:"transcripts"`
	Permissions PermissionConfig  `yaml:"permissions"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

type AudioConfig struct {
	SampleRate          int      `yaml:"sample_rate"`
	FramesPerBuffer     int      `yaml:"frames_per_buffer"`
	RampMS              int      `yaml:"ramp_ms"`
	SettleDelayMS       int      `yaml:"settle_delay_ms"`
	AmplitudeIntervalMS int      `yaml:"amplitude_interval_ms"`
	RoutePollMS         int      `yaml:"route_poll_ms"`
	QueueDepth          int      `yaml:"queue_depth"`
	RecordPath          string   `yaml:"record_path"`
	ExcludedDevices     []string `yaml:"excluded_devices"`
}

type RecognitionConfig struct {
	URL                string `yaml:"url"`
	Language           string `yaml:"language"`
	Continuous         bool   `yaml:"continuous"`
	StripDeletedPrefix bool   `yaml:"strip_deleted_prefix"`
	ConnectTimeoutMS   int    `yaml:"connect_timeout_ms"`
}

type TranslationConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TranscriptConfig struct {
	Driver     string `yaml:"driver"` // memory|sqlite
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// PermissionConfig stands in for OS consent prompts on hosts that have none.
type PermissionConfig struct {
	Microphone bool `yaml:"microphone"`
	Speech     bool `yaml:"speech"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		HTTPAddr:     ":8000",
		HealthAddr:   ":8001",
		SettingsPath: "settings.yaml",
		Log:          LogConfig{Level: "info", Format: "text"},
		Audio: AudioConfig{
			SampleRate:          48000,
			FramesPerBuffer:     256,
			RampMS:              20,
			SettleDelayMS:       500,
			AmplitudeIntervalMS: 50,
			RoutePollMS:         1000,
			QueueDepth:          32,
			ExcludedDevices:     []string{"blackhole", "loopback", "monitor"},
		},
		Recognition: RecognitionConfig{
			URL:                "ws://localhost:8090/v1/recognize",
			Language:           "en-US",
			Continuous:         true,
			StripDeletedPrefix: true,
			ConnectTimeoutMS:   5000,
		},
		Translation: TranslationConfig{
			Endpoint:  "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			Source:    "en",
			TimeoutMS: 15000,
		},
		Transcripts: TranscriptConfig{Driver: "memory", Path: "data/transcripts.db", MaxEntries: 500},
		Permissions: PermissionConfig{Microphone: true, Speech: true},
	}
}

// Load reads path (optional) over the defaults, applies env overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.HealthAddr = getEnv("HEALTH_ADDR", cfg.HealthAddr)
	cfg.SettingsPath = getEnv("SETTINGS_PATH", cfg.SettingsPath)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Audio.SampleRate = getEnvInt("SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.FramesPerBuffer = getEnvInt("FRAMES_PER_BUFFER", cfg.Audio.FramesPerBuffer)
	cfg.Audio.RampMS = getEnvInt("PARAM_RAMP_MS", cfg.Audio.RampMS)
	cfg.Audio.SettleDelayMS = getEnvInt("ROUTE_SETTLE_DELAY_MS", cfg.Audio.SettleDelayMS)
	cfg.Audio.AmplitudeIntervalMS = getEnvInt("AMPLITUDE_INTERVAL_MS", cfg.Audio.AmplitudeIntervalMS)
	cfg.Audio.RoutePollMS = getEnvInt("ROUTE_POLL_MS", cfg.Audio.RoutePollMS)
	cfg.Audio.QueueDepth = getEnvInt("AUDIO_QUEUE_DEPTH", cfg.Audio.QueueDepth)
	cfg.Audio.RecordPath = getEnv("RECORD_PATH", cfg.Audio.RecordPath)
	cfg.Audio.ExcludedDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", cfg.Audio.ExcludedDevices)

	cfg.Recognition.URL = getEnv("RECOGNITION_URL", cfg.Recognition.URL)
	cfg.Recognition.Language = getEnv("RECOGNITION_LANGUAGE", cfg.Recognition.Language)
	cfg.Recognition.Continuous = getEnvBool("RECOGNITION_CONTINUOUS", cfg.Recognition.Continuous)
	cfg.Recognition.StripDeletedPrefix = getEnvBool("RECOGNITION_STRIP_DELETED_PREFIX", cfg.Recognition.StripDeletedPrefix)

	cfg.Translation.Endpoint = getEnv("TRANSLATION_ENDPOINT", cfg.Translation.Endpoint)
	cfg.Translation.APIKey = getEnv("TRANSLATION_API_KEY", cfg.Translation.APIKey)
	cfg.Translation.Model = getEnv("TRANSLATION_MODEL", cfg.Translation.Model)
	cfg.Translation.Source = getEnv("TRANSLATION_SOURCE", cfg.Translation.Source)
	cfg.Translation.Target = getEnv("TRANSLATION_TARGET", cfg.Translation.Target)

	cfg.Transcripts.Driver = getEnv("TRANSCRIPT_DRIVER", cfg.Transcripts.Driver)
	cfg.Transcripts.Path = getEnv("TRANSCRIPT_PATH", cfg.Transcripts.Path)
	cfg.Transcripts.MaxEntries = getEnvInt("TRANSCRIPT_MAX_ENTRIES", cfg.Transcripts.MaxEntries)

	cfg.Permissions.Microphone = getEnvBool("MICROPHONE_PERMISSION", cfg.Permissions.Microphone)
	cfg.Permissions.Speech = getEnvBool("SPEECH_PERMISSION", cfg.Permissions.Speech)
}

// Validate rejects configurations the audio path cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000:
		return invalid("audio.sample_rate", c.Audio.SampleRate)
	case c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > 8192:
		return invalid("audio.frames_per_buffer", c.Audio.FramesPerBuffer)
	case c.Audio.RampMS < 0:
		return invalid("audio.ramp_ms", c.Audio.RampMS)
	case c.Audio.SettleDelayMS < 0:
		return invalid("audio.settle_delay_ms", c.Audio.SettleDelayMS)
	case c.Audio.AmplitudeIntervalMS <= 0:
		return invalid("audio.amplitude_interval_ms", c.Audio.AmplitudeIntervalMS)
	case c.Audio.QueueDepth < 2:
		return invalid("audio.queue_depth", c.Audio.QueueDepth)
	}
	switch c.Transcripts.Driver {
	case "memory", "sqlite":
	default:
		return invalid("transcripts.driver", c.Transcripts.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", c.Log.Format)
	}
	return nil
}

func invalid(field string, value any) error {
	return apperrors.Newf(apperrors.CodeConfigInvalid, "invalid %s: %v", field, value).WithMetadata("field", field)
}

// SettleDelay is the pause between reconfiguring the session and restarting the engine.
func (a AudioConfig) SettleDelay() time.Duration {
	return time.Duration(a.SettleDelayMS) * time.Millisecond
}

func (a AudioConfig) AmplitudeInterval() time.Duration {
	return time.Duration(a.AmplitudeIntervalMS) * time.Millisecond
}

func (a AudioConfig) RoutePollInterval() time.Duration {
	if a.RoutePollMS <= 0 {
		return time.Second
	}
	return time.Duration(a.RoutePollMS) * time.Millisecond
}

func (r RecognitionConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMS) * time.Millisecond
}

func (t TranslationConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
