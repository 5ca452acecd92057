package auth

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tgbridge/internal/eventbus"
	logx "tgbridge/pkg/logx"
)

// Watcher observes the registry file for external writes (a pairing tool,
// a manual edit) and publishes registry.changed on the bus. The store reads
// the file fresh on every call, so nothing needs invalidating; this exists
// for operator visibility and the delivery recorder.
type Watcher struct {
	store *Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewWatcher(store *Store, bus eventbus.Bus, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{store: store, bus: bus, log: log}
}

// Watch blocks until ctx is cancelled. Events are debounced so editors
// that write in several steps produce one notification.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	file := filepath.Base(w.store.Path())

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			w.log.Info("pairing registry changed on disk", logx.String("path", w.store.Path()))
			if w.bus != nil {
				w.bus.Publish(eventbus.Event{Type: eventbus.TypeRegistryChanged, Data: w.store.Path()})
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("registry watcher error", logx.Err(err))
		}
	}
}
