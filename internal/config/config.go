// Package config defines service configuration structures and loading hooks.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the state store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `koanf:"sqlite_path"`

	// FanoutWorkers sets the number of change fan-out workers.
	FanoutWorkers int `koanf:"fanout_workers"`

	// FanoutQueueSize bounds the committed-change queue.
	FanoutQueueSize int `koanf:"fanout_queue_size"`

	// SubscriberBuffer is the snapshot buffer of each subscription.
	SubscriberBuffer int `koanf:"subscriber_buffer"`

	// TxMaxAttempts bounds optimistic transaction retries.
	TxMaxAttempts int `koanf:"tx_max_attempts"`

	// LeaderboardSize is the length of the leaderboard view.
	LeaderboardSize int `koanf:"leaderboard_size"`

	// OneVotePerTrack rejects a second grade from the same user for the
	// same track.
	OneVotePerTrack bool `koanf:"one_vote_per_track"`

	// DedupeSize sets the size of the grader dedupe cache.
	DedupeSize int `koanf:"dedupe_size"`

	// JWTSecret signs and verifies identity tokens.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// PingInterval is how often websocket peers are pinged.
	PingInterval time.Duration `koanf:"ping_interval"`

	// PongTimeout is how long a websocket peer may stay silent before it is
	// considered dropped.
	PongTimeout time.Duration `koanf:"pong_timeout"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		StoreDriver:      "memory",
		SQLitePath:       "data/putmeon.db",
		FanoutWorkers:    runtime.NumCPU(),
		FanoutQueueSize:  4096,
		SubscriberBuffer: 1,
		TxMaxAttempts:    16,
		LeaderboardSize:  15,
		OneVotePerTrack:  true,
		DedupeSize:       50_000,
		TokenTTL:         24 * time.Hour,
		PingInterval:     20 * time.Second,
		PongTimeout:      45 * time.Second,
	}
}
