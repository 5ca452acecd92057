package pairing

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgbridge/internal/auth"
	"tgbridge/internal/eventbus"
	"tgbridge/internal/queue"
	rtsup "tgbridge/internal/runtime/supervisor"
	logx "tgbridge/pkg/logx"
)

type Config struct {
	Code          string
	MaxAttempts   int           // default 5
	BlockDuration time.Duration // default 1h
	PollTimeout   time.Duration // default 10s
}

// Listener is the conversational end of pairing: a long-polling bot that
// handles /start, /pair <code>, /unpair and /status. Everything beyond
// that is out of scope on purpose.
//
// Failed /pair attempts feed the auth store's rate limiter; a blocked
// identity is refused before its code is even compared.
type Listener struct {
	cfg   Config
	bot   *tele.Bot
	store *auth.Store
	state func() queue.Status
	log   logx.Logger
	bus   eventbus.Bus

	sup *rtsup.Supervisor
}

func New(cfg Config, token string, store *auth.Store, state func() queue.Status, log logx.Logger, bus eventbus.Bus) (*Listener, error) {
	if strings.TrimSpace(cfg.Code) == "" {
		return nil, errors.New("pairing code is empty")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = time.Hour
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}

	l := &Listener{cfg: cfg, bot: b, store: store, state: state, log: log, bus: bus}
	l.registerHandlers()
	return l, nil
}

func (l *Listener) registerHandlers() {
	l.bot.Handle("/start", func(c tele.Context) error {
		return c.Send("Send /pair <code> to receive session notifications here.")
	})
	l.bot.Handle("/pair", func(c tele.Context) error {
		return c.Send(l.Pair(c.Sender().ID, c.Chat().ID, c.Sender().Username, c.Args()))
	})
	l.bot.Handle("/unpair", func(c tele.Context) error {
		return c.Send(l.Unpair(c.Sender().ID))
	})
	l.bot.Handle("/status", func(c tele.Context) error {
		return c.Send(l.Status(c.Sender().ID))
	})
}

// Pair runs one pairing attempt and returns the reply text.
func (l *Listener) Pair(userID, chatID int64, username string, args []string) string {
	if l.store.IsRateLimited(userID) {
		l.log.Warn("pairing refused: identity blocked", logx.Int64("user_id", userID))
		return "Too many failed attempts. Try again later."
	}
	if l.store.IsAuthorized(userID) {
		return "Already paired."
	}
	if len(args) != 1 || !codeMatches(l.cfg.Code, args[0]) {
		l.store.RecordFailedAttempt(userID, l.cfg.MaxAttempts, l.cfg.BlockDuration)
		l.log.Warn("pairing attempt failed", logx.Int64("user_id", userID))
		return "Invalid pairing code."
	}

	if !l.store.AddRecipient(userID, chatID, username) {
		return "Pairing failed, try again later."
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientPaired, Data: eventbus.DeliveryEvent{ChatID: chatID, At: time.Now()}})
	}
	return "Paired. You will receive session notifications in this chat."
}

// Unpair removes the caller from the registry.
func (l *Listener) Unpair(userID int64) string {
	if !l.store.RemoveRecipient(userID) {
		return "You are not paired."
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientUnpaired, Data: eventbus.DeliveryEvent{At: time.Now()}})
	}
	return "Unpaired. No further notifications will be sent."
}

// Status reports queue health to authorized users only.
func (l *Listener) Status(userID int64) string {
	if !l.store.IsAuthorized(userID) {
		return "Not paired. Send /pair <code> first."
	}
	st := l.state()
	if st.Queued == 0 {
		return "All clear: no messages waiting for retry."
	}
	return fmt.Sprintf("%d/%d messages queued for retry, oldest %s old.",
		st.Queued, st.Capacity, st.OldestAge.Round(time.Second))
}

func codeMatches(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimSpace(got))) == 1
}

// Start begins long-polling on its own goroutine.
func (l *Listener) Start(ctx context.Context) {
	l.sup = rtsup.New(ctx,
		rtsup.WithLogger(l.log.With(logx.String("comp", "pairing"))),
		rtsup.WithCancelOnError(false),
	)
	l.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		l.bot.Stop()
	})
	l.sup.Go0("telebot.poll", func(c context.Context) {
		l.log.Info("pairing listener started")
		l.bot.Start()
		l.log.Info("pairing listener stopped")
	})
}

// Stop halts polling, waiting (bounded by ctx) for the poll loop to exit.
func (l *Listener) Stop(ctx context.Context) {
	if l.sup == nil {
		return
	}
	l.sup.Cancel()
	if err := l.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.log.Warn("pairing listener stop", logx.Err(err))
	}
}
