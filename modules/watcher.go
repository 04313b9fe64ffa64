package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/logger"
)

// DefaultWatchDebounce coalesces bursts of file events.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher calls onChange after the module directory settles.
type Watcher struct {
	dir      string
	clock    clock.Clock
	debounce time.Duration
	onChange func()

	mu    sync.Mutex
	timer *clock.Timer
}

// NewWatcher watches dir. onChange runs on a timer goroutine.
func NewWatcher(dir string, clk clock.Clock, debounce time.Duration, onChange func()) *Watcher {
	if clk == nil {
		clk = clock.Real()
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &Watcher{
		dir:      filepath.Clean(dir),
		clock:    clk,
		debounce: debounce,
		onChange: onChange,
	}
}

// Run watches until ctx is done. When dir does not exist yet its parent is
// watched until it appears.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create module watcher: %w", err)
	}
	defer fw.Close()
	defer w.stopTimer()

	watchingParent, err := w.addTree(fw)
	if err != nil {
		return err
	}
	logger.Debug("Watching module directory", "dir", w.dir, "waiting_for_creation", watchingParent)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if event.Name == w.dir {
						if watchingParent, err = w.addTree(fw); err != nil {
							logger.Warn("Failed to watch module directory", "dir", w.dir, "error", err)
						}
					} else if filepath.Dir(event.Name) == w.dir {
						if err := fw.Add(event.Name); err != nil {
							logger.Warn("Failed to watch module", "path", event.Name, "error", err)
						}
					}
				}
			}
			w.trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Module watcher error", "dir", w.dir, "error", err)
		}
	}
}

// addTree watches dir and each module directory inside it.
func (w *Watcher) addTree(fw *fsnotify.Watcher) (bool, error) {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		parent := filepath.Dir(w.dir)
		if err := fw.Add(parent); err != nil {
			return false, fmt.Errorf("watch %s: %w", parent, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", w.dir, err)
	}
	if err := fw.Add(w.dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := fw.Add(filepath.Join(w.dir, entry.Name())); err != nil {
				logger.Warn("Failed to watch module", "module", entry.Name(), "error", err)
			}
		}
	}
	return false, nil
}

func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	return name == w.dir || strings.HasPrefix(name, w.dir+string(filepath.Separator))
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
	w.timer = w.clock.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
	w.timer = nil
}
