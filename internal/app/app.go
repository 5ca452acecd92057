package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tgbridge/internal/auth"
	"tgbridge/internal/bridge"
	"tgbridge/internal/config"
	"tgbridge/internal/eventbus"
	"tgbridge/internal/format"
	"tgbridge/internal/pairing"
	"tgbridge/internal/queue"
	rtsup "tgbridge/internal/runtime/supervisor"
	"tgbridge/internal/storage"
	"tgbridge/internal/telegram"
	logx "tgbridge/pkg/logx"
)

// App assembles and owns every component of the bridge daemon.
type App struct {
	cfg      *config.Config
	log      logx.Logger
	closeLog func() error

	bus      eventbus.Bus
	store    *auth.Store
	queue    *queue.Queue
	client   *telegram.Client
	bridge   *bridge.Bridge
	listener *pairing.Listener
	records  storage.Store

	sup *rtsup.Supervisor
}

// New loads and validates config and sets up logging. A missing bot token
// fails here, before anything is mounted.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, closeLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || (!cfg.Logging.File.Enabled),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	return &App{cfg: cfg, log: log, closeLog: closeLog}, nil
}

// Bus is where the host publishes application events for the bridge.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Bridge exposes the mounted bridge (nil before Start).
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfg
	a.bus = eventbus.New()

	a.store = auth.NewStore(cfg.PairingFile(), a.log.With(logx.String("comp", "auth")))

	ttl, _ := config.ParseDurationOrDefault("queue.ttl", cfg.Queue.TTL, time.Hour)
	backoffBase, _ := config.ParseDurationOrDefault("queue.backoff_base", cfg.Queue.BackoffBase, time.Second)
	backoffMax, _ := config.ParseDurationOrDefault("queue.backoff_max", cfg.Queue.BackoffMax, 60*time.Second)
	a.queue = queue.New(queue.Config{
		Capacity:    cfg.Queue.Capacity,
		TTL:         ttl,
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: backoffBase,
		BackoffMax:  backoffMax,
	}, a.log.With(logx.String("comp", "queue")), a.bus)

	sendTimeout, _ := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 5*time.Second)
	client, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		SendTimeout: sendTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
		BaseURL:     cfg.Telegram.APIBaseURL,
	}, a.queue, a.log.With(logx.String("comp", "telegram")), a.bus)
	if err != nil {
		return err
	}
	a.client = client

	events := cfg.Bridge.Events
	if len(events) == 0 {
		events = config.DefaultEvents()
	}
	a.bridge = bridge.New(bridge.Config{
		Events:        events,
		RetrySchedule: cfg.Bridge.RetrySchedule,
		SendTimeout:   sendTimeout,
	}, a.store, client, a.queue, format.Event, a.log.With(logx.String("comp", "bridge")), a.bus)

	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "app"))),
		rtsup.WithCancelOnError(false),
	)

	// Optional delivery record store.
	if cfg.Storage != nil {
		busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busyTimeout,
		}, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if st != nil {
			a.records = st
			rec := storage.NewRecorder(st, a.bus, a.log.With(logx.String("comp", "recorder")))
			a.sup.Go0("recorder", rec.Run)
		}
	}

	// Registry watcher: surfaces external pairing-file edits.
	watcher := auth.NewWatcher(a.store, a.bus, a.log.With(logx.String("comp", "watcher")))
	a.sup.Go("registry.watch", watcher.Watch)

	if err := a.bridge.Start(ctx); err != nil {
		return err
	}

	if cfg.Pairing.Enabled {
		blockDuration, _ := config.ParseDurationOrDefault("pairing.block_duration", cfg.Pairing.BlockDuration, time.Hour)
		l, err := pairing.New(pairing.Config{
			Code:          cfg.Pairing.Code,
			MaxAttempts:   cfg.Pairing.MaxAttempts,
			BlockDuration: blockDuration,
		}, cfg.Telegram.Token, a.store, a.queue.Status, a.log.With(logx.String("comp", "pairing")), a.bus)
		if err != nil {
			return fmt.Errorf("pairing: %w", err)
		}
		a.listener = l
		l.Start(ctx)
	}

	// Best-effort readiness for systemd units (no-op outside systemd).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("tgbridge started",
		logx.Int("events", len(events)),
		logx.String("registry", cfg.PairingFile()),
		logx.Bool("pairing", cfg.Pairing.Enabled),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.listener != nil {
		a.listener.Stop(ctx)
	}
	if a.bridge != nil {
		_ = a.bridge.Stop(ctx)
	}
	if a.client != nil {
		a.client.Wait()
	}
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.records != nil {
		_ = a.records.Close()
	}

	a.log.Info("tgbridge stopped")
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}
