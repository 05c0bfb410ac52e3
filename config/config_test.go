package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
assistant:
  url: https://assistant.example.com/ask
  language: en
  limit: 10
  similarity_threshold: 0.5
  response_style: concise
audio:
  format: wav
  sensitivity: 2.0
silence:
  auto_finalize: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.URL != "https://assistant.example.com/ask" {
		t.Errorf("url = %q", cfg.Assistant.URL)
	}
	if cfg.Assistant.Limit != 10 || cfg.Assistant.SimilarityThreshold != 0.5 {
		t.Errorf("query params not applied: %+v", cfg.Assistant)
	}
	if cfg.Audio.Format != "wav" || cfg.Audio.Sensitivity != 2.0 {
		t.Errorf("audio settings not applied: %+v", cfg.Audio)
	}
	if !cfg.Silence.AutoFinalize {
		t.Error("auto_finalize not applied")
	}
	// Omitted fields keep their defaults.
	if cfg.Audio.NoiseGate != 0.03 {
		t.Errorf("noise_gate = %g, want default 0.03", cfg.Audio.NoiseGate)
	}
	if cfg.Assistant.ResponseStyle != "concise" {
		t.Errorf("response_style = %q", cfg.Assistant.ResponseStyle)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"threshold too high", "assistant:\n  similarity_threshold: 1.5\n", "similarity_threshold"},
		{"negative threshold", "assistant:\n  similarity_threshold: -0.1\n", "similarity_threshold"},
		{"zero limit", "assistant:\n  limit: 0\n", "limit"},
		{"unknown style", "assistant:\n  response_style: sarcastic\n", "response_style"},
		{"unknown format", "audio:\n  format: mp3\n", "format"},
		{"zero sensitivity", "audio:\n  sensitivity: 0\n", "sensitivity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadWithFallbackDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // no ~/.lexvoicerc
	cfg, err := LoadWithFallback("")
	if err != nil {
		t.Fatalf("LoadWithFallback: %v", err)
	}
	if cfg.Assistant.Limit != Default().Assistant.Limit {
		t.Error("fallback did not return defaults")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Assistant.URL = "https://example.com"
	cfg.Silence.AutoFinalize = true

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Assistant.URL != cfg.Assistant.URL || !loaded.Silence.AutoFinalize {
		t.Error("round trip lost values")
	}
}
