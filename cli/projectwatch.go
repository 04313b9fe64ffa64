package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/logger"
)

const defaultProjectDebounce = 200 * time.Millisecond

// ProjectWatcher calls onChange after the project file settles. It watches
// the parent directory so that editors saving through a rename are seen.
type ProjectWatcher struct {
	path     string
	clock    clock.Clock
	debounce time.Duration
	onChange func()

	mu    sync.Mutex
	timer *clock.Timer
}

func NewProjectWatcher(path string, debounce time.Duration, onChange func()) *ProjectWatcher {
	if debounce <= 0 {
		debounce = defaultProjectDebounce
	}
	return &ProjectWatcher{
		path:     filepath.Clean(path),
		clock:    clock.Real(),
		debounce: debounce,
		onChange: onChange,
	}
}

// Run blocks until ctx is done.
func (w *ProjectWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create project watcher: %w", err)
	}
	defer fw.Close()
	defer w.stop()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Debug("Watching project file", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.trigger()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Project watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *ProjectWatcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
	w.timer = w.clock.AfterFunc(w.debounce, w.onChange)
}

func (w *ProjectWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
	w.timer = nil
}
