package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"buzzmaster-console/internal/layout"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Backend struct {
		URL           string `yaml:"url"`
		Timeout       string `yaml:"timeout"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay"`
		QuestionTTL   string `yaml:"question_ttl"`
	} `yaml:"backend"`
	Channel struct {
		Driver         string `yaml:"driver"` // "websocket" or "nats"
		URL            string `yaml:"url"`
		ConnectTimeout string `yaml:"connect_timeout"`
		ReconnectWait  string `yaml:"reconnect_wait"`
		MaxReconnects  int    `yaml:"max_reconnects"`
		SubjectIn      string `yaml:"subject_in"`
		SubjectOut     string `yaml:"subject_out"`
	} `yaml:"channel"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Game struct {
		MCQDuration             int  `yaml:"mcq_duration"`    // milliseconds
		BuzzerDuration          int  `yaml:"buzzer_duration"` // milliseconds
		ShowCorrectAnswer       bool `yaml:"show_correct_answer"`
		ShowIntermediateRanking bool `yaml:"show_intermediate_ranking"`
	} `yaml:"game"`
	Layout layout.Geometry `yaml:"layout"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Geometry returns the configured canvas geometry, falling back to the
// presenter defaults when the section is absent.
func (c Config) Geometry() layout.Geometry {
	if c.Layout.CanvasWidth <= 0 || c.Layout.CanvasHeight <= 0 {
		return layout.DefaultGeometry()
	}
	return c.Layout
}
