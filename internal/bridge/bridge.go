package bridge

import (
	"context"
	"runtime/debug"
	"time"

	"tgbridge/internal/eventbus"
	"tgbridge/internal/queue"
	rtsup "tgbridge/internal/runtime/supervisor"
	logx "tgbridge/pkg/logx"
)

// Action is what the bridge tells its host after handling an event.
// There is exactly one value: notification delivery never alters host
// control flow, whatever happened internally.
type Action string

const ActionContinue Action = "continue"

type Result struct {
	Action Action
}

// Sender performs delivery attempts. Send enqueues failures for retry;
// Attempt is the bare call used by the retry pass.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) bool
	Attempt(ctx context.Context, chatID int64, text string) error
}

// Recipients yields the destinations to notify. An empty result means
// "nothing to do", never an error.
type Recipients interface {
	ChatIDs() []int64
}

// Formatter renders an event into sendable message chunks. It must not
// fail: on internal trouble it still returns at least one chunk.
type Formatter func(event string, payload map[string]any) []string

type Config struct {
	// Events is the interest set; events outside it are ignored.
	Events []string

	// RetrySchedule drives the background retry pass (cron spec or
	// "@every <duration>"). Default "@every 60s".
	RetrySchedule string

	// SendTimeout bounds each (destination, chunk) send on the event path.
	// Default 5s.
	SendTimeout time.Duration
}

// Bridge fans host application events out to all authorized recipients and
// owns the background retry driver for the delivery queue.
type Bridge struct {
	cfg    Config
	events map[string]struct{}

	recipients Recipients
	sender     Sender
	queue      *queue.Queue
	format     Formatter
	log        logx.Logger
	bus        eventbus.Bus

	sup    *rtsup.Supervisor
	driver *driver
}

func New(cfg Config, recipients Recipients, sender Sender, q *queue.Queue, format Formatter, log logx.Logger, bus eventbus.Bus) *Bridge {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	events := make(map[string]struct{}, len(cfg.Events))
	for _, e := range cfg.Events {
		events[e] = struct{}{}
	}
	return &Bridge{
		cfg:        cfg,
		events:     events,
		recipients: recipients,
		sender:     sender,
		queue:      q,
		format:     format,
		log:        log,
		bus:        bus,
	}
}

// HandleEvent forwards one host event to every authorized recipient.
//
// It always returns Continue: an uninteresting event, an empty recipient
// set, send timeouts, even a panic somewhere below: none of it reaches
// the host. Failed sends are queued by the sender for the retry driver.
func (b *Bridge) HandleEvent(ctx context.Context, event string, payload map[string]any) (res Result) {
	res = Result{Action: ActionContinue}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic handling event", logx.String("event", event), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	if _, interested := b.events[event]; !interested {
		return res
	}

	chatIDs := b.recipients.ChatIDs()
	if len(chatIDs) == 0 {
		b.log.Debug("no authorized recipients, skipping event", logx.String("event", event))
		return res
	}

	chunks := b.format(event, payload)

	for _, chatID := range chatIDs {
		for _, chunk := range chunks {
			sctx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
			ok := b.sender.Send(sctx, chatID, chunk)
			cancel()
			if ok {
				b.log.Debug("event delivered", logx.String("event", event), logx.Int64("chat_id", chatID))
			} else {
				b.log.Warn("event delivery failed (queued for retry)", logx.String("event", event), logx.Int64("chat_id", chatID))
			}
		}
	}
	return res
}

// Start mounts the bridge: it subscribes to host events on the bus and
// launches the retry driver. Fails only on an invalid retry schedule.
func (b *Bridge) Start(ctx context.Context) error {
	b.sup = rtsup.New(ctx,
		rtsup.WithLogger(b.log.With(logx.String("comp", "bridge"))),
		rtsup.WithCancelOnError(false),
	)

	d, err := newDriver(b.cfg.RetrySchedule, b.queue, b.sender.Attempt, b.log)
	if err != nil {
		b.sup.Cancel()
		return err
	}
	b.driver = d
	d.start(b.sup)

	ch, unsub := b.bus.Subscribe(256)
	b.sup.Go0("events", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				b.HandleEvent(c, ev.Type, coercePayload(ev.Data))
			}
		}
	})

	b.log.Info("bridge mounted", logx.Int("events", len(b.events)))
	return nil
}

// Stop unmounts the bridge. The retry driver is cancelled cooperatively:
// an in-flight pass observes the cancellation at its next backoff wait and
// re-queues what it had not resolved.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.driver != nil {
		b.driver.stop(ctx)
	}
	if b.sup == nil {
		return nil
	}
	err := b.sup.Stop(ctx)
	b.log.Info("bridge unmounted")
	return err
}

func coercePayload(data any) map[string]any {
	switch v := data.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"data": v}
	}
}
