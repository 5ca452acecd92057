package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the delivery record store.
//
// Driver values:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord captures the final or intermediate fate of one message.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At      time.Time `json:"at"`
	ChatID  int64     `json:"chat_id"`
	Event   string    `json:"event,omitempty"`
	Outcome string    `json:"outcome"` // sent|queued|evicted|expired|exhausted|registry_changed
	Retries int       `json:"retries,omitempty"`
	Error   string    `json:"error,omitempty"`
}
