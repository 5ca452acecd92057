package queue

import (
	"context"
	"sync"
	"time"

	"tgbridge/internal/eventbus"
	logx "tgbridge/pkg/logx"
)

// Config bounds the queue in space and time.
type Config struct {
	Capacity    int           // default 100
	TTL         time.Duration // default 1h
	MaxRetries  int           // default 5
	BackoffBase time.Duration // default 1s
	BackoffMax  time.Duration // default 60s
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 100
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 60 * time.Second
	}
}

// Message is a delivery that failed its live attempt and is waiting for
// the retry driver. Owned exclusively by the queue.
type Message struct {
	ChatID   int64
	Text     string
	QueuedAt time.Time
	Retries  int
}

// Status is a read-only snapshot for observability.
type Status struct {
	Queued    int
	Capacity  int
	OldestAge time.Duration
}

// SendFunc performs one bare delivery attempt. It must NOT feed failures
// back into this queue; the retry pass accounts for them itself (letting
// the full sender re-enqueue here would duplicate entries).
type SendFunc func(ctx context.Context, chatID int64, text string) error

// Queue is a bounded FIFO of failed deliveries.
//
// Invariants:
//   - len never exceeds Capacity; enqueueing when full evicts the oldest
//     entry (ring semantics). Evictions are logged and published on the
//     bus, never silent.
//   - Entries leave the queue by exactly one of: successful retry, TTL
//     expiry, or retry exhaustion.
//
// Enqueue/Status are safe under concurrency with a running retry pass.
// Retry passes themselves are serialized: a second DrainAndRetry blocks
// until the first finishes (the cron driver additionally skips overlapping
// runs, so in practice this never waits).
type Queue struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu    sync.Mutex
	items []Message

	passMu sync.Mutex

	now func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Queue {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{cfg: cfg, log: log, bus: bus, now: time.Now}
}

// Enqueue appends a fresh message, evicting the oldest entry first when at
// capacity.
func (q *Queue) Enqueue(chatID int64, text string) {
	q.mu.Lock()
	q.pushLocked(Message{ChatID: chatID, Text: text, QueuedAt: q.now()})
	n := len(q.items)
	q.mu.Unlock()

	q.log.Info("message queued for retry", logx.Int64("chat_id", chatID), logx.Int("queued", n))
	q.publish(eventbus.TypeDeliveryQueued, eventbus.DeliveryEvent{ChatID: chatID, At: q.now()})
}

func (q *Queue) pushLocked(m Message) {
	if len(q.items) >= q.cfg.Capacity {
		evicted := q.items[0]
		q.items = q.items[1:]
		q.log.Warn("queue full, dropping oldest message",
			logx.Int("capacity", q.cfg.Capacity),
			logx.Int64("chat_id", evicted.ChatID),
			logx.Time("queued_at", evicted.QueuedAt),
		)
		q.publish(eventbus.TypeQueueEvicted, eventbus.DeliveryEvent{ChatID: evicted.ChatID, At: q.now(), Retries: evicted.Retries})
	}
	q.items = append(q.items, m)
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Status reports depth, capacity and the age of the oldest entry.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{Queued: len(q.items), Capacity: q.cfg.Capacity}
	if len(q.items) > 0 {
		st.OldestAge = q.now().Sub(q.items[0].QueuedAt)
	}
	return st
}

// DrainAndRetry runs one synchronous retry pass over the messages queued at
// the time of the call and returns how many were sent.
//
// Per message, oldest first:
//   - past TTL → dropped (expired), no send attempt
//   - retries exhausted → dropped
//   - otherwise: sleep min(base·2^retries, max), then one attempt via send;
//     failures get their retry count bumped and are held aside
//
// Held failures are re-inserted after the pass so a future pass picks them
// up. Backoff sleeps honor ctx: cancellation ends the pass early and
// re-inserts everything not yet resolved.
func (q *Queue) DrainAndRetry(ctx context.Context, send SendFunc) int {
	q.passMu.Lock()
	defer q.passMu.Unlock()

	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	sent := 0
	var failed []Message

	for i, msg := range batch {
		if ctx.Err() != nil {
			// Abandon the pass: everything not yet resolved goes back.
			failed = append(failed, batch[i:]...)
			break
		}

		age := q.now().Sub(msg.QueuedAt)
		if age > q.cfg.TTL {
			q.log.Warn("queued message expired, dropping", logx.Int64("chat_id", msg.ChatID), logx.Duration("age", age))
			q.publish(eventbus.TypeQueueExpired, eventbus.DeliveryEvent{ChatID: msg.ChatID, At: q.now(), Retries: msg.Retries})
			continue
		}
		if msg.Retries >= q.cfg.MaxRetries {
			q.log.Warn("queued message exceeded max retries, dropping", logx.Int64("chat_id", msg.ChatID), logx.Int("retries", msg.Retries))
			q.publish(eventbus.TypeQueueExhausted, eventbus.DeliveryEvent{ChatID: msg.ChatID, At: q.now(), Retries: msg.Retries})
			continue
		}

		backoff := q.backoffFor(msg.Retries)
		q.log.Debug("retrying queued message", logx.Int64("chat_id", msg.ChatID), logx.Int("attempt", msg.Retries+1), logx.Duration("backoff", backoff))
		if !sleep(ctx, backoff) {
			failed = append(failed, batch[i:]...)
			break
		}

		if err := send(ctx, msg.ChatID, msg.Text); err != nil {
			msg.Retries++
			failed = append(failed, msg)
			q.log.Debug("retry attempt failed", logx.Int64("chat_id", msg.ChatID), logx.Int("retries", msg.Retries), logx.Err(err))
			continue
		}
		sent++
	}

	if len(failed) > 0 {
		q.mu.Lock()
		for _, m := range failed {
			q.pushLocked(m)
		}
		q.mu.Unlock()
	}

	q.log.Info("retry pass complete", logx.Int("sent", sent), logx.Int("remaining", q.Len()))
	return sent
}

func (q *Queue) backoffFor(retries int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= q.cfg.BackoffMax {
			return q.cfg.BackoffMax
		}
	}
	if d > q.cfg.BackoffMax {
		d = q.cfg.BackoffMax
	}
	return d
}

func (q *Queue) publish(typ string, ev eventbus.DeliveryEvent) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// sleep waits d, returning false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
