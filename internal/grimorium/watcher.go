package grimorium

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"magetools/internal/logging"
	"magetools/internal/manifest"
)

// Watcher keeps the engine fresh without polling: filesystem events under
// the discovery root are debounced and collapsed into one Scan+Sync pass.
// Only .go files and manifests trigger a refresh.
type Watcher struct {
	engine *Engine

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  bool
	lastHit  time.Time
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool

	// Refreshed is called after each completed refresh pass, if set.
	// Intended for CLI progress output and tests.
	Refreshed func(*ScanReport)
}

// NewWatcher creates a watcher over the engine's discovery root.
func NewWatcher(e *Engine) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		engine:   e,
		watcher:  fw,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching the root and every grimorium directory. fsnotify
// does not recurse, so each immediate subdirectory is added individually;
// directories created later are picked up from their create events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	root := w.engine.cfg.Root
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	for _, g := range w.engine.Snapshot().Grimoriums() {
		if err := w.watcher.Add(g.Dir); err != nil {
			logging.WatchDebug("cannot watch %s: %v", g.Dir, err)
		}
	}
	logging.Watch("watching %s", root)

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and waits for it to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("close failed: %v", err)
	}
	logging.Watch("stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watch error: %v", err)

		case <-tick.C:
			w.maybeRefresh(ctx)
		}
	}
}

// handleEvent marks a refresh pending when the event touches spell content.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	relevant := strings.HasSuffix(name, ".go") || name == manifest.Filename

	// A new grimorium directory needs its own watch before file events
	// inside it can arrive.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err == nil {
				relevant = true
			}
		}
	}
	if !relevant {
		return
	}

	logging.WatchDebug("%s %s", event.Op, event.Name)
	w.mu.Lock()
	w.pending = true
	w.lastHit = time.Now()
	w.mu.Unlock()
}

// maybeRefresh runs Scan+Sync once the event burst has settled.
func (w *Watcher) maybeRefresh(ctx context.Context) {
	w.mu.Lock()
	due := w.pending && time.Since(w.lastHit) >= w.debounce
	if due {
		w.pending = false
	}
	w.mu.Unlock()
	if !due {
		return
	}

	report, err := w.engine.Scan(ctx)
	if err != nil {
		logging.Get(logging.CategoryWatch).Error("rescan failed: %v", err)
		return
	}
	logging.Watch("rescan: %d grimoriums, %d spells, %d quarantined",
		report.ActiveGrimoriums, report.Spells, report.QuarantinedUnits)

	if _, err := w.engine.Sync(ctx); err != nil {
		logging.Get(logging.CategoryWatch).Error("resync failed: %v", err)
	}
	if w.Refreshed != nil {
		w.Refreshed(report)
	}
}
