package storage

import (
	"context"
	"time"

	"tgbridge/internal/eventbus"
	logx "tgbridge/pkg/logx"
)

// Recorder subscribes to delivery lifecycle events on the bus and appends
// them to the store. Best-effort: a failed append is logged, never retried,
// and never slows down the publisher (the bus drops rather than blocks).
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

var recordedOutcomes = map[string]string{
	eventbus.TypeDeliverySent:    "sent",
	eventbus.TypeDeliveryQueued:  "queued",
	eventbus.TypeQueueEvicted:    "evicted",
	eventbus.TypeQueueExpired:    "expired",
	eventbus.TypeQueueExhausted:  "exhausted",
	eventbus.TypeRegistryChanged: "registry_changed",
}

// Run blocks until ctx is cancelled, draining bus events into the store.
func (r *Recorder) Run(ctx context.Context) {
	if r.store == nil || r.bus == nil {
		return
	}
	ch, unsub := r.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			outcome, interested := recordedOutcomes[ev.Type]
			if !interested {
				continue
			}
			rec := DeliveryRecord{At: ev.Time, Outcome: outcome}
			if de, ok := ev.Data.(eventbus.DeliveryEvent); ok {
				rec.ChatID = de.ChatID
				rec.Event = de.Event
				rec.Retries = de.Retries
				rec.Error = de.Error
				if !de.At.IsZero() {
					rec.At = de.At
				}
			}

			cctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			if err := r.store.AppendDelivery(cctx, rec); err != nil {
				r.log.Debug("delivery record append failed", logx.String("outcome", outcome), logx.Err(err))
			}
			cancel()
		}
	}
}
