package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tgbridge/internal/eventbus"
	"tgbridge/internal/queue"
	logx "tgbridge/pkg/logx"
)

const defaultBaseURL = "https://api.telegram.org"

type Config struct {
	Token string

	// SendTimeout bounds one sendMessage attempt. Default 5s.
	SendTimeout time.Duration

	// RatePerSec caps outbound Bot API calls. Default 25 (the Bot API
	// allows ~30 messages/second overall).
	RatePerSec int

	// BaseURL overrides the Bot API endpoint (tests). Default
	// https://api.telegram.org.
	BaseURL string
}

// Client sends notifications through the Telegram Bot API.
//
// Send performs one live attempt; any failure (non-2xx, ok=false, timeout,
// transport fault) hands the message to the delivery queue: a failed
// delivery is never dropped at this layer. Attempt is the bare call without
// that side effect; the queue's retry pass uses it.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	queue   *queue.Queue
	log     logx.Logger
	bus     eventbus.Bus

	asyncWG sync.WaitGroup
}

func New(cfg Config, q *queue.Queue, log logx.Logger, bus eventbus.Bus) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.SendTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   q,
		log:     log,
		bus:     bus,
	}, nil
}

// Send performs one delivery attempt and reports success. On failure the
// message is enqueued for retry before false is returned.
func (c *Client) Send(ctx context.Context, chatID int64, text string) bool {
	err := c.Attempt(ctx, chatID, text)
	if err == nil {
		c.log.Debug("message sent", logx.Int64("chat_id", chatID))
		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: eventbus.DeliveryEvent{ChatID: chatID, At: time.Now()}})
		}
		return true
	}

	c.log.Warn("send failed, queueing for retry", logx.Int64("chat_id", chatID), logx.Err(err))
	c.queue.Enqueue(chatID, text)
	return false
}

// SendAsync is Send without blocking the caller: the attempt (and its
// enqueue-on-failure side effect) runs on its own goroutine. ctx should
// outlive the attempt; use the client's Wait during shutdown.
func (c *Client) SendAsync(ctx context.Context, chatID int64, text string) {
	c.asyncWG.Add(1)
	go func() {
		defer c.asyncWG.Done()
		c.Send(ctx, chatID, text)
	}()
}

// Wait blocks until all in-flight async sends have finished.
func (c *Client) Wait() { c.asyncWG.Wait() }

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Attempt performs exactly one sendMessage call, classified but without the
// enqueue side effect. Success is a 2xx status with ok=true.
func (c *Client) Attempt(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}

	url := c.cfg.BaseURL + "/bot" + strings.TrimSpace(c.cfg.Token) + "/sendMessage"
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram sendMessage failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram sendMessage failed: http=%d", resp.StatusCode)
	}
	return nil
}
