package config

// Config is the on-disk configuration for the bridge daemon.
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1h").
// Unknown keys are rejected so typos are caught at startup rather than
// silently ignored.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Bridge   BridgeConfig   `json:"bridge"`
	Queue    QueueConfig    `json:"queue"`
	Pairing  PairingConfig  `json:"pairing"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// SendTimeout bounds a single sendMessage attempt. Default "5s".
	SendTimeout string `json:"send_timeout,omitempty"`

	// RatePerSec caps outbound Bot API calls (flood protection). Default 25.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// APIBaseURL overrides the Bot API endpoint. Tests only; leave empty
	// for https://api.telegram.org.
	APIBaseURL string `json:"api_base_url,omitempty"`
}

// BridgeConfig controls which host events are forwarded and how queued
// messages are retried.
type BridgeConfig struct {
	// Events is the interest set. If omitted, the default set covers
	// session:start, prompt:submit, prompt:complete, provider:request,
	// provider:response and tool:post.
	Events []string `json:"events,omitempty"`

	// RetrySchedule drives the background retry pass. Accepts a cron spec
	// or "@every <duration>". Default "@every 60s".
	RetrySchedule string `json:"retry_schedule,omitempty"`
}

type QueueConfig struct {
	Capacity    int    `json:"capacity,omitempty"`     // default 100
	TTL         string `json:"ttl,omitempty"`          // default "1h"
	MaxRetries  int    `json:"max_retries,omitempty"`  // default 5
	BackoffBase string `json:"backoff_base,omitempty"` // default "1s"
	BackoffMax  string `json:"backoff_max,omitempty"`  // default "60s"
}

type PairingConfig struct {
	// File is the pairing registry path. Default ".tgbridge/pairing.json".
	File string `json:"file,omitempty"`

	// Enabled starts the Telegram pairing listener (/pair, /unpair, /status).
	// The registry is still read for recipients when disabled; pairing then
	// has to happen through an external writer.
	Enabled bool `json:"enabled,omitempty"`

	// Code is the shared secret required by /pair.
	Code string `json:"code,omitempty"`

	MaxAttempts   int    `json:"max_attempts,omitempty"`   // default 5
	BlockDuration string `json:"block_duration,omitempty"` // default "1h"
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional delivery record store.
//
// Driver values:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If the section is omitted or Driver is "none", recording is disabled.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DefaultEvents is the interest set used when bridge.events is omitted.
func DefaultEvents() []string {
	return []string{
		"session:start",
		"prompt:submit",
		"prompt:complete",
		"provider:request",
		"provider:response",
		"tool:post",
	}
}
