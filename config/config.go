// Package config loads the YAML configuration that tunes voice capture
// and the assistant query parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var responseStyles = map[string]bool{
	"concise":  true,
	"detailed": true,
	"formal":   true,
}

// Config is the application configuration.
type Config struct {
	// Assistant service settings
	Assistant struct {
		URL                 string  `yaml:"url"`
		Token               string  `yaml:"token"`
		Language            string  `yaml:"language"`
		Limit               int     `yaml:"limit"`
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		ResponseStyle       string  `yaml:"response_style"`
	} `yaml:"assistant"`

	// Live transcription settings
	Transcript struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
	} `yaml:"transcript"`

	// Audio capture settings
	Audio struct {
		Device      string  `yaml:"device"`
		Format      string  `yaml:"format"` // "flac" or "wav"
		Sensitivity float64 `yaml:"sensitivity"`
		NoiseGate   float64 `yaml:"noise_gate"`
	} `yaml:"audio"`

	// Silence handling
	Silence struct {
		AutoFinalize bool `yaml:"auto_finalize"`
	} `yaml:"silence"`
}

// Default returns a configuration with default values.
func Default() *Config {
	cfg := &Config{}

	cfg.Assistant.Language = "tr"
	cfg.Assistant.Limit = 5
	cfg.Assistant.SimilarityThreshold = 0.3
	cfg.Assistant.ResponseStyle = "detailed"

	cfg.Transcript.Enabled = false
	cfg.Transcript.Endpoint = "wss://api.deepgram.com/v1/listen"

	cfg.Audio.Format = "flac"
	cfg.Audio.Sensitivity = 3.5
	cfg.Audio.NoiseGate = 0.03

	cfg.Silence.AutoFinalize = false

	return cfg
}

// Load reads and validates configuration from a file, with defaults
// filling anything the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithFallback attempts explicit path, then ~/.lexvoicerc, then
// /etc/lexvoice/config.yaml, then plain defaults.
func LoadWithFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".lexvoicerc")
		if _, err := os.Stat(userPath); err == nil {
			if cfg, err := Load(userPath); err == nil {
				return cfg, nil
			}
		}
	}

	systemPath := "/etc/lexvoice/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		if cfg, err := Load(systemPath); err == nil {
			return cfg, nil
		}
	}

	return Default(), nil
}

// Validate rejects values the service or the audio pipeline would choke
// on later.
func (c *Config) Validate() error {
	if c.Assistant.Limit < 1 {
		return fmt.Errorf("assistant.limit must be at least 1, got %d", c.Assistant.Limit)
	}
	if c.Assistant.SimilarityThreshold < 0 || c.Assistant.SimilarityThreshold > 1 {
		return fmt.Errorf("assistant.similarity_threshold must be within [0,1], got %g", c.Assistant.SimilarityThreshold)
	}
	if !responseStyles[c.Assistant.ResponseStyle] {
		return fmt.Errorf("assistant.response_style must be concise, detailed, or formal, got %q", c.Assistant.ResponseStyle)
	}
	switch c.Audio.Format {
	case "flac", "wav":
	default:
		return fmt.Errorf("audio.format must be flac or wav, got %q", c.Audio.Format)
	}
	if c.Audio.Sensitivity <= 0 {
		return fmt.Errorf("audio.sensitivity must be positive, got %g", c.Audio.Sensitivity)
	}
	if c.Audio.NoiseGate < 0 || c.Audio.NoiseGate > 1 {
		return fmt.Errorf("audio.noise_gate must be within [0,1], got %g", c.Audio.NoiseGate)
	}
	return nil
}

// Save writes the configuration to a file, creating the directory when
// needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
