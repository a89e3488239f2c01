package prompts

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads prompt overrides when their files change
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func(role string)

	timers   map[string]*time.Timer
	timersMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

// Watch starts watching the store directory, creating it if missing.
// onReload may be nil.
func Watch(store *Store, debounce time.Duration, onReload func(role string)) (*Watcher, error) {
	if store.Dir() == "" {
		return nil, fmt.Errorf("prompt directory is not configured")
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if err := os.MkdirAll(store.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create prompt directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", store.Dir(), err)
	}

	w := &Watcher{
		store:    store,
		watcher:  fw,
		debounce: debounce,
		onReload: onReload,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	go w.eventLoop()

	store.logger.Info().Str("path", store.Dir()).Msg("Prompt watcher started")
	return w, nil
}

// Stop stops watching
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timersMu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	clear(w.timers)
	w.timersMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if role, ok := roleForPath(event.Name); ok {
				w.schedule(role)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Error().Err(err).Msg("Prompt watcher error")

		case <-w.done:
			return
		}
	}
}

// schedule debounces bursts of events for the same role
func (w *Watcher) schedule(role string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if t, ok := w.timers[role]; ok {
		t.Stop()
	}
	w.timers[role] = time.AfterFunc(w.debounce, func() {
		w.timersMu.Lock()
		delete(w.timers, role)
		w.timersMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		if err := w.store.Reload(role); err != nil {
			// keep serving the previous prompt
			w.store.logger.Error().Err(err).Str("role", role).Msg("Prompt reload failed")
			return
		}
		if w.onReload != nil {
			w.onReload(role)
		}
	})
}
