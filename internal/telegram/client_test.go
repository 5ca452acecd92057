package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tgbridge/internal/queue"
	logx "tgbridge/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*Client, *queue.Queue) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	q := queue.New(queue.Config{}, logx.Nop(), nil)
	c, err := New(Config{
		Token:       "123:test",
		BaseURL:     srv.URL,
		SendTimeout: timeout,
	}, q, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, q
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, nil, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSendSuccess(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotReq sendMessageRequest
	c, q := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}, time.Second)

	if !c.Send(context.Background(), 42, "hello") {
		t.Fatal("Send() = false, want true")
	}
	if gotPath != "/bot123:test/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotReq.ChatID != 42 || gotReq.Text != "hello" || gotReq.ParseMode != "Markdown" {
		t.Fatalf("request = %+v", gotReq)
	}
	if q.Len() != 0 {
		t.Fatalf("queue depth = %d after success, want 0", q.Len())
	}
}

func TestSendServerErrorQueues(t *testing.T) {
	t.Parallel()
	c, q := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)

	if c.Send(context.Background(), 7, "oops") {
		t.Fatal("Send() = true on 500, want false")
	}
	if q.Len() != 1 {
		t.Fatalf("queue depth = %d, want 1", q.Len())
	}
}

func TestSendAPIFailureQueues(t *testing.T) {
	t.Parallel()
	c, q := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 but the API says no.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "error_code": 403, "description": "bot was blocked by the user",
		})
	}, time.Second)

	if c.Send(context.Background(), 7, "blocked") {
		t.Fatal("Send() = true on ok=false, want false")
	}
	if q.Len() != 1 {
		t.Fatalf("queue depth = %d, want 1", q.Len())
	}
}

func TestSendTimeoutQueues(t *testing.T) {
	t.Parallel()
	c, q := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}, 50*time.Millisecond)

	if c.Send(context.Background(), 9, "slow") {
		t.Fatal("Send() = true on timeout, want false")
	}
	if q.Len() != 1 {
		t.Fatalf("queue depth = %d, want 1", q.Len())
	}
}

func TestAttemptHasNoEnqueueSideEffect(t *testing.T) {
	t.Parallel()
	c, q := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)

	if err := c.Attempt(context.Background(), 5, "bare"); err == nil {
		t.Fatal("Attempt() = nil on 502, want error")
	}
	if q.Len() != 0 {
		t.Fatalf("queue depth = %d, want 0: Attempt must not enqueue", q.Len())
	}
}

func TestSendAsyncWait(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	c, q := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(done)
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)

	c.SendAsync(context.Background(), 3, "bg")
	<-done
	c.Wait()
	if q.Len() != 1 {
		t.Fatalf("queue depth = %d after Wait, want 1", q.Len())
	}
}
