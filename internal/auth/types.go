package auth

import (
	"strings"
	"time"
)

// Recipient is an authorized Telegram user. UserID is the principal
// identity; ChatID is where notifications for that user go.
type Recipient struct {
	UserID   int64   `json:"user_id"`
	ChatID   int64   `json:"chat_id"`
	Username *string `json:"username"`
	PairedAt string  `json:"paired_at"`
}

// RateLimit tracks failed pairing attempts for one identity.
//
// Note: FailedAttempts is only ever cleared by lazy expiry of BlockedUntil
// inside IsRateLimited; a successful pairing does not reset it. That
// asymmetry is inherited behavior and kept on purpose; see DESIGN.md.
type RateLimit struct {
	FailedAttempts int     `json:"failed_attempts"`
	BlockedUntil   *string `json:"blocked_until"`
}

// registry is the pairing file schema. Field names are stable: external
// tooling reads and writes this file.
type registry struct {
	Version         string               `json:"version"`
	AuthorizedUsers []Recipient          `json:"authorized_users"`
	RateLimits      map[string]RateLimit `json:"rate_limits"`
}

const registryVersion = "1.0"

func newRegistry() *registry {
	return &registry{
		Version:         registryVersion,
		AuthorizedUsers: []Recipient{},
		RateLimits:      map[string]RateLimit{},
	}
}

// timestampLayouts covers RFC3339 (what we write) plus the zone-less
// ISO-8601 variants older registry writers produced.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
