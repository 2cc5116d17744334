package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	defaultEndpoint   = "http://localhost:8000"
	defaultOversample = 2
)

// Config holds the settings the viewer reads at startup. Values come from
// the config file, overridden by environment variables, overridden by
// flags.
type Config struct {
	// AnswerEndpoint is the base URL of the question-answering service.
	AnswerEndpoint string `json:"answerEndpoint"`
	// CacheDir overrides where fetched documents are stored.
	CacheDir string `json:"cacheDir,omitempty"`
	// LogFile receives structured logs; the terminal belongs to the UI.
	LogFile string `json:"logFile,omitempty"`
	// Oversample controls text-layer raster density. Minimum 2.
	Oversample int `json:"oversample,omitempty"`
}

func Default() Config {
	return Config{
		AnswerEndpoint: defaultEndpoint,
		Oversample:     defaultOversample,
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. Environment variables DOCSCOPE_ENDPOINT,
// DOCSCOPE_CACHE_DIR, DOCSCOPE_LOG_FILE and DOCSCOPE_OVERSAMPLE override
// file values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.AnswerEndpoint == "" {
		cfg.AnswerEndpoint = defaultEndpoint
	}
	if cfg.Oversample < defaultOversample {
		cfg.Oversample = defaultOversample
	}
	return cfg, nil
}

// Save writes the config file, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultPath is the per-user config location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "docscope.json")
	}
	return filepath.Join(dir, "docscope", "config.json")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCSCOPE_ENDPOINT"); v != "" {
		cfg.AnswerEndpoint = v
	}
	if v := os.Getenv("DOCSCOPE_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("DOCSCOPE_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("DOCSCOPE_OVERSAMPLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Oversample = n
		}
	}
}
