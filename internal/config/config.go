// Package config loads the client configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes everything the client needs to talk to one deployment
// of the feed API.
type Config struct {
	APIBase            string `yaml:"api_base"`
	FeedPageSize       int    `yaml:"feed_page_size"`
	CommentsPageSize   int    `yaml:"comments_page_size"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`
	TokenFile          string `yaml:"token_file"`
	LogLevel           string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat          string `yaml:"log_format"` // text or json
}

// Default returns the development defaults, matching the page sizes the
// server assumes.
func Default() Config {
	return Config{
		APIBase:            "http://localhost:8080",
		FeedPageSize:       10,
		CommentsPageSize:   20,
		HTTPTimeoutSeconds: 30,
		TokenFile:          filepath.Join(defaultStateDir(), "token"),
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load reads the file at path and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HTTPTimeout returns the request timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c Config) validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("api_base is required")
	}
	if c.FeedPageSize <= 0 {
		return fmt.Errorf("feed_page_size must be positive, got %d", c.FeedPageSize)
	}
	if c.CommentsPageSize <= 0 {
		return fmt.Errorf("comments_page_size must be positive, got %d", c.CommentsPageSize)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("http_timeout_seconds must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".feedsync")
}
