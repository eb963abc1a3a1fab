package sysevents

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/sakina/internal/events"
	"github.com/msageha/sakina/internal/logging"
)

// FileWatcher publishes EventFilesChanged when any of the named files in dir
// is written, created, renamed or removed. Bursts within the debounce window
// produce one event. The directory is watched rather than the files because
// atomic writes replace them.
type FileWatcher struct {
	dir      string
	names    map[string]bool
	bus      *events.Bus
	debounce time.Duration
	logger   *logging.Logger
}

func NewFileWatcher(dir string, names []string, bus *events.Bus, logger *logging.Logger) *FileWatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return &FileWatcher{dir: dir, names: set, bus: bus, debounce: 500 * time.Millisecond, logger: logger}
}

func (w *FileWatcher) Name() string { return "files" }

func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()
	var changed []string

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("fsnotify event=%s file=%s", event.Op, event.Name)
			changed = appendUnique(changed, filepath.Base(event.Name))
			settle.Reset(w.debounce)
		case <-settle.C:
			w.bus.Publish(events.EventFilesChanged, map[string]any{"reason": "files_changed", "files": changed})
			changed = nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error=%v", err)
		}
	}
}

func (w *FileWatcher) relevant(event fsnotify.Event) bool {
	if !w.names[filepath.Base(event.Name)] {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
