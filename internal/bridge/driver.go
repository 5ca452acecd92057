package bridge

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"tgbridge/internal/queue"
	rtsup "tgbridge/internal/runtime/supervisor"
	logx "tgbridge/pkg/logx"
)

const defaultRetrySchedule = "@every 60s"

// driver periodically runs the queue's retry pass. Scheduling is delegated
// to cron with SkipIfStillRunning, so two passes can never overlap even if
// a pass (with its backoff sleeps) outlasts the interval.
type driver struct {
	cron  *cron.Cron
	queue *queue.Queue
	send  queue.SendFunc
	log   logx.Logger

	// runCtx carries the supervisor context into cron-scheduled jobs so a
	// pass in progress observes unmount promptly.
	runCtx context.Context
}

func newDriver(schedule string, q *queue.Queue, send queue.SendFunc, log logx.Logger) (*driver, error) {
	if schedule == "" {
		schedule = defaultRetrySchedule
	}
	d := &driver{
		queue: q,
		send:  send,
		log:   log.With(logx.String("comp", "retry_driver")),
	}
	d.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{d.log}),
		cron.SkipIfStillRunning(cronLogger{d.log}),
	))
	if _, err := d.cron.AddFunc(schedule, d.pass); err != nil {
		return nil, fmt.Errorf("invalid retry schedule %q: %w", schedule, err)
	}
	return d, nil
}

func (d *driver) start(sup *rtsup.Supervisor) {
	d.runCtx = sup.Context()
	d.cron.Start()
	// Keep a goroutine parked on the supervisor so unmount stops the cron
	// scheduler exactly once.
	sup.Go0("retry.schedule", func(c context.Context) {
		<-c.Done()
		d.cron.Stop()
	})
}

func (d *driver) stop(ctx context.Context) {
	// Stop scheduling and wait (bounded by ctx) for a running pass.
	done := d.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (d *driver) pass() {
	ctx := d.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	n := d.queue.Len()
	if n == 0 {
		return
	}
	d.log.Info("retrying queued messages", logx.Int("queued", n))
	sent := d.queue.DrainAndRetry(ctx, d.send)
	if sent > 0 {
		d.log.Info("queued messages sent", logx.Int("sent", sent))
	}
}

// cronLogger adapts logx to cron's logging interface.
type cronLogger struct {
	log logx.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, logx.Any("kv", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Warn(msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
