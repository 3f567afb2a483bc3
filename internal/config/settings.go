package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings are the user's persisted audio choices. They are read once at startup and
// written back whenever a control call changes them.
type Settings struct {
	Mode             string             `yaml:"mode"`   // hearing_aid|recognize
	Volume           float64            `yaml:"volume"` // UI percent, 0..100
	Balance          float64            `yaml:"balance"`
	NoiseSuppression bool               `yaml:"noise_suppression"`
	EqualizerGains   []float64          `yaml:"equalizer_gains,omitempty"` // empty means graph defaults
	Microphone       string             `yaml:"microphone"`                // bottom|front|back|headphones
	OutputPort       string             `yaml:"output_port"`               // default|speaker
	DisabledNodes    []string           `yaml:"disabled_nodes,omitempty"`
	Parameters       map[string]float64 `yaml:"parameters,omitempty"` // "node.param" -> value
	Continuous       bool               `yaml:"continuous"`
	TranslateTo      string             `yaml:"translate_to,omitempty"`
}

// DefaultSettings returns the first-launch settings.
func DefaultSettings() Settings {
	return Settings{
		Mode:       "hearing_aid",
		Volume:     getEnvFloat("DEFAULT_VOLUME", 20),
		Microphone: "bottom",
		OutputPort: "default",
		Continuous: true,
	}
}

// LoadSettings reads settings from path. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// SaveSettings writes settings atomically (temp file + rename).
func SaveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close settings: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
