package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all fabler configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`

	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`

	StepTimeoutSec int `json:"step_timeout_sec"`
	StepRetries    int `json:"step_retries"`
	MaxRunTimeSec  int `json:"max_run_time_sec"`

	QualityTarget  float64 `json:"quality_target"`
	MaxPasses      int     `json:"max_passes"`
	ScoreGroupSize int     `json:"score_group_size"`

	PoolSize int `json:"pool_size"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(fablerDir(), "fabler.db"),
		LogLevel:       "info",
		Model:          "gpt-4o",
		StepTimeoutSec: 60,
		StepRetries:    2,
		MaxRunTimeSec:  300,
		QualityTarget:  8.0,
		MaxPasses:      3,
		ScoreGroupSize: 4,
		PoolSize:       2,
	}
}

func fablerDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fabler"
	}
	return filepath.Join(home, ".fabler")
}

func settingsPath() string {
	return filepath.Join(fablerDir(), "settings.json")
}

// loadConfig layers settings from path (or the default settings.json when
// path is empty) and FABLER_* environment variables over the defaults.
func loadConfig(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = settingsPath()
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("FABLER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FABLER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FABLER_API_KEY"); v != "" {
		cfg.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("FABLER_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FABLER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("FABLER_QUALITY_TARGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.QualityTarget = f
		}
	}
	if v := os.Getenv("FABLER_MAX_PASSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPasses = n
		}
	}
	if v := os.Getenv("FABLER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}

	return cfg
}
