package refresh

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher re-imports local .ics sources when their file changes. It watches
// the parent directories so that editors that replace files by rename are
// still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	importer *Importer
	debounce time.Duration

	files map[string]ics.Source // absolute path -> source

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher watches every source with a Path. Sources without one are
// ignored.
func NewWatcher(importer *Importer, sources []ics.Source, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		importer: importer,
		debounce: debounce,
		files:    make(map[string]ics.Source),
		timers:   make(map[string]*time.Timer),
	}

	dirs := make(map[string]bool)
	for _, src := range sources {
		if src.Path == "" {
			continue
		}
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = src

		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
		dirs[dir] = true
	}
	return w, nil
}

// Len is the number of watched files.
func (w *Watcher) Len() int {
	return len(w.files)
}

// Run handles file events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if src, watched := w.files[filepath.Clean(event.Name)]; watched {
				w.schedule(ctx, event.Name, src)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			appLog.Error("file watcher error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

// schedule coalesces bursts of events on one file into a single import.
func (w *Watcher) schedule(ctx context.Context, name string, src ics.Source) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, name)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		n, err := w.importer.ImportOne(ctx, src)
		if err != nil {
			appLog.Error("re-import after file change failed", err, "id", src.ID, "path", src.Path)
			return
		}
		appLog.Info("re-imported changed file", "id", src.ID, "path", src.Path, "templates", n)
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
	w.mu.Unlock()

	w.watcher.Close()
}
