package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tgbridge/internal/format"
	"tgbridge/internal/queue"
	logx "tgbridge/pkg/logx"
)

// fakeSender mimics the real client: Send enqueues on failure, Attempt is bare.
type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	queue *queue.Queue
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) bool {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	if f.fail {
		f.queue.Enqueue(chatID, text)
		return false
	}
	return true
}

func (f *fakeSender) Attempt(ctx context.Context, chatID int64, text string) error {
	if f.fail {
		return errors.New("send failed")
	}
	return nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixedRecipients []int64

func (r fixedRecipients) ChatIDs() []int64 { return r }

func newTestBridge(recipients Recipients, sender Sender, q *queue.Queue) *Bridge {
	return New(Config{
		Events:      []string{"session:start", "prompt:submit"},
		SendTimeout: time.Second,
	}, recipients, sender, q, format.Event, logx.Nop(), nil)
}

func TestHandleEventFailedSendQueuesOnce(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{}, logx.Nop(), nil)
	sender := &fakeSender{fail: true, queue: q}
	b := newTestBridge(fixedRecipients{42}, sender, q)

	res := b.HandleEvent(context.Background(), "session:start", map[string]any{"session_id": "abc"})
	if res.Action != ActionContinue {
		t.Fatalf("Action = %q, want continue", res.Action)
	}
	if q.Len() != 1 {
		t.Fatalf("queue depth = %d, want 1", q.Len())
	}
	if !strings.Contains(sender.sent[0], "abc") {
		t.Fatalf("sent text %q does not carry the session id", sender.sent[0])
	}
}

func TestHandleEventNoRecipients(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{}, logx.Nop(), nil)
	sender := &fakeSender{queue: q}
	b := newTestBridge(fixedRecipients{}, sender, q)

	res := b.HandleEvent(context.Background(), "session:start", map[string]any{"session_id": "x"})
	if res.Action != ActionContinue {
		t.Fatalf("Action = %q, want continue", res.Action)
	}
	if sender.calls() != 0 {
		t.Fatalf("sender invoked %d times with no recipients, want 0", sender.calls())
	}
	if q.Len() != 0 {
		t.Fatalf("queue depth = %d, want 0", q.Len())
	}
}

func TestHandleEventIgnoresUninterestedEvent(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{}, logx.Nop(), nil)
	sender := &fakeSender{queue: q}
	b := newTestBridge(fixedRecipients{1}, sender, q)

	res := b.HandleEvent(context.Background(), "tool:post", map[string]any{"tool_name": "x"})
	if res.Action != ActionContinue {
		t.Fatalf("Action = %q, want continue", res.Action)
	}
	if sender.calls() != 0 {
		t.Fatalf("sender invoked for an event outside the interest set")
	}
}

func TestHandleEventFansOutToAllRecipients(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{}, logx.Nop(), nil)
	sender := &fakeSender{queue: q}
	b := newTestBridge(fixedRecipients{1, 2, 3}, sender, q)

	b.HandleEvent(context.Background(), "session:start", map[string]any{"session_id": "s"})
	if sender.calls() != 3 {
		t.Fatalf("sender invoked %d times, want 3", sender.calls())
	}
}

func TestHandleEventRecoversFromPanic(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{}, logx.Nop(), nil)
	sender := &fakeSender{queue: q}
	b := New(Config{Events: []string{"session:start"}}, fixedRecipients{1}, sender, q,
		func(event string, payload map[string]any) []string { panic("formatter blew up") },
		logx.Nop(), nil)

	res := b.HandleEvent(context.Background(), "session:start", nil)
	if res.Action != ActionContinue {
		t.Fatalf("Action = %q after panic, want continue", res.Action)
	}
}

func TestCoercePayload(t *testing.T) {
	t.Parallel()
	if got := coercePayload(nil); len(got) != 0 {
		t.Fatalf("coercePayload(nil) = %v, want empty map", got)
	}
	m := map[string]any{"a": 1}
	if got := coercePayload(m); got["a"] != 1 {
		t.Fatalf("coercePayload(map) = %v", got)
	}
	if got := coercePayload("raw"); got["data"] != "raw" {
		t.Fatalf("coercePayload(string) = %v", got)
	}
}

func TestNewDriverRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{}, logx.Nop(), nil)
	if _, err := newDriver("not a schedule", q, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if _, err := newDriver("@every 1s", q, nil, logx.Nop()); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
}
