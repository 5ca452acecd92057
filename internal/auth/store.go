package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	logx "tgbridge/pkg/logx"
)

// Store is the system of record for who may receive notifications.
//
// Contract:
//   - Every operation independently loads and parses the whole registry
//     file, and mutations write the whole file back. There is no
//     cross-process lock: a concurrent external writer (e.g. a pairing
//     tool) can race and lose an update. Known limitation, not a bug.
//   - Read or parse failures never propagate: reads return safe defaults
//     (empty set / false) and mutations report failure via their bool
//     return. The caller is never blocked by a corrupt file.
//
// In-process calls are serialized by a mutex so the bridge and the pairing
// listener don't interleave their read-modify-write cycles.
type Store struct {
	path string
	log  logx.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{path: path, log: log, now: time.Now}
	s.ensureFile()
	return s
}

// Path returns the registry file path (for the watcher and diagnostics).
func (s *Store) Path() string { return s.path }

func (s *Store) ensureFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Error("creating registry directory failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	if err := s.writeLocked(newRegistry()); err != nil {
		s.log.Error("creating default registry failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.log.Info("created default pairing registry", logx.String("path", s.path))
}

func (s *Store) loadLocked() (*registry, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var reg registry
	if err := json.Unmarshal(b, &reg); err != nil {
		return nil, err
	}
	if reg.RateLimits == nil {
		reg.RateLimits = map[string]RateLimit{}
	}
	if reg.AuthorizedUsers == nil {
		reg.AuthorizedUsers = []Recipient{}
	}
	if reg.Version == "" {
		reg.Version = registryVersion
	}
	return &reg, nil
}

func (s *Store) writeLocked(reg *registry) error {
	b, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, append(b, '\n'), 0o600)
}

// ChatIDs returns the destinations to notify: the deduplicated chat IDs of
// all authorized recipients. On any read failure it returns an empty slice
// (no recipients means no sends, never a crash).
func (s *Store) ChatIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.loadLocked()
	if err != nil {
		s.log.Error("reading pairing registry failed", logx.String("path", s.path), logx.Err(err))
		return nil
	}
	seen := make(map[int64]struct{}, len(reg.AuthorizedUsers))
	out := make([]int64, 0, len(reg.AuthorizedUsers))
	for _, u := range reg.AuthorizedUsers {
		if _, dup := seen[u.ChatID]; dup {
			continue
		}
		seen[u.ChatID] = struct{}{}
		out = append(out, u.ChatID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsAuthorized reports whether the user is in the registry.
func (s *Store) IsAuthorized(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.loadLocked()
	if err != nil {
		s.log.Error("reading pairing registry failed", logx.String("path", s.path), logx.Err(err))
		return false
	}
	for _, u := range reg.AuthorizedUsers {
		if u.UserID == userID {
			return true
		}
	}
	return false
}

// AddRecipient authorizes a user. Idempotent: re-adding an existing user
// succeeds without duplicating the entry.
func (s *Store) AddRecipient(userID, chatID int64, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.loadLocked()
	if err != nil {
		s.log.Error("adding recipient failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}

	for _, u := range reg.AuthorizedUsers {
		if u.UserID == userID {
			s.log.Info("recipient already authorized", logx.Int64("user_id", userID))
			return true
		}
	}

	rec := Recipient{UserID: userID, ChatID: chatID, PairedAt: formatTimestamp(s.now())}
	if username != "" {
		rec.Username = &username
	}
	reg.AuthorizedUsers = append(reg.AuthorizedUsers, rec)

	if err := s.writeLocked(reg); err != nil {
		s.log.Error("adding recipient failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	s.log.Info("recipient authorized", logx.Int64("user_id", userID), logx.Int64("chat_id", chatID), logx.String("username", username))
	return true
}

// RemoveRecipient deletes a user from the registry. Returns false if the
// user wasn't present (a no-op, not an error).
func (s *Store) RemoveRecipient(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.loadLocked()
	if err != nil {
		s.log.Error("removing recipient failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}

	kept := reg.AuthorizedUsers[:0]
	for _, u := range reg.AuthorizedUsers {
		if u.UserID != userID {
			kept = append(kept, u)
		}
	}
	if len(kept) == len(reg.AuthorizedUsers) {
		s.log.Warn("recipient not found", logx.Int64("user_id", userID))
		return false
	}
	reg.AuthorizedUsers = kept

	if err := s.writeLocked(reg); err != nil {
		s.log.Error("removing recipient failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	s.log.Info("recipient removed", logx.Int64("user_id", userID))
	return true
}

// IsRateLimited reports whether the identity is currently blocked.
// A block whose deadline has passed is expired lazily here: the entry's
// counters are cleared and persisted before answering false.
func (s *Store) IsRateLimited(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.loadLocked()
	if err != nil {
		s.log.Error("rate limit check failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}

	key := strconv.FormatInt(userID, 10)
	rl, ok := reg.RateLimits[key]
	if !ok {
		return false
	}
	if rl.BlockedUntil == nil {
		return false
	}

	until, ok := parseTimestamp(*rl.BlockedUntil)
	if ok && s.now().Before(until) {
		return true
	}

	// Expired (or unparseable) block: clear it and reset the counter.
	rl.BlockedUntil = nil
	rl.FailedAttempts = 0
	reg.RateLimits[key] = rl
	if err := s.writeLocked(reg); err != nil {
		s.log.Error("clearing expired block failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	return false
}

// RecordFailedAttempt bumps the identity's failure counter and sets a block
// once it reaches maxAttempts.
//
// The counter is not reset by a later successful attempt; only the lazy
// expiry in IsRateLimited clears it.
func (s *Store) RecordFailedAttempt(userID int64, maxAttempts int, blockDuration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.loadLocked()
	if err != nil {
		s.log.Error("recording failed attempt failed", logx.Int64("user_id", userID), logx.Err(err))
		return
	}

	key := strconv.FormatInt(userID, 10)
	rl := reg.RateLimits[key]
	rl.FailedAttempts++

	if rl.FailedAttempts >= maxAttempts {
		until := formatTimestamp(s.now().Add(blockDuration))
		rl.BlockedUntil = &until
		s.log.Warn("identity blocked", logx.Int64("user_id", userID), logx.String("until", until))
	}
	reg.RateLimits[key] = rl

	if err := s.writeLocked(reg); err != nil {
		s.log.Error("recording failed attempt failed", logx.Int64("user_id", userID), logx.Err(err))
	}
}
