package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`

		// Relay fans broadcast events out to every instance over pub/sub.
		Relay        bool   `yaml:"relay"`
		RelayChannel string `yaml:"relay_channel"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Quiz struct {
		TTL  string `yaml:"ttl"`
		File string `yaml:"file"`
	} `yaml:"quiz"`
	Live struct {
		CodeLength        int    `yaml:"code_length"`
		CodeTTL           string `yaml:"code_ttl"`
		CodeAttempts      int    `yaml:"code_attempts"`
		LeaderboardSize   int    `yaml:"leaderboard_size"`
		DefaultTimeLimit  string `yaml:"default_time_limit"`
		TrustClientTiming *bool  `yaml:"trust_client_timing"`
	} `yaml:"live"`
	Sweep struct {
		Interval   string `yaml:"interval"`
		StaleAfter string `yaml:"stale_after"`
	} `yaml:"sweep"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
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

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// TrustClientTiming defaults to true when unset.
func (c Config) TrustClientTiming() bool {
	if c.Live.TrustClientTiming == nil {
		return true
	}
	return *c.Live.TrustClientTiming
}
