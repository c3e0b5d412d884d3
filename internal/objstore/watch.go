package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies an object change.
type ChangeKind int

const (
	// Changed means the object was created or rewritten.
	Changed ChangeKind = iota
	// Removed means the object's document was deleted.
	Removed
)

func (k ChangeKind) String() string {
	if k == Removed {
		return "removed"
	}
	return "changed"
}

// Change is a debounced object-change notification.
type Change struct {
	Kind ChangeKind
	PID  string
	Path string
}

// ChangeHandler processes one change. Errors are logged; the watcher
// keeps running.
type ChangeHandler func(ctx context.Context, c Change) error

// DefaultDebounce is the quiet period before pending events are flushed.
const DefaultDebounce = 200 * time.Millisecond

// Watcher turns file system events under a DirStore into object changes.
type Watcher struct {
	store    *DirStore
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher watches store's directory and every subdirectory.
func NewWatcher(store *DirStore, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{store: store, fs: fw, debounce: debounce, logger: logger}
	err = filepath.WalkDir(store.Dir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			logger.Warn("failed to watch directory", "dir", path, "error", err)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Dir(), err)
	}
	return w, nil
}

// Run delivers changes to handle until ctx is done. Events for the same
// path within the debounce window collapse into one change. Run closes
// the underlying watcher before returning.
func (w *Watcher) Run(ctx context.Context, handle ChangeHandler) error {
	defer w.fs.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fs.Add(ev.Name); err != nil {
						w.logger.Warn("failed to watch directory", "dir", ev.Name, "error", err)
					}
					continue
				}
			}
			if !w.store.Matches(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			w.flush(ctx, pending, handle)
			pending = make(map[string]struct{})
		}
	}
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}, handle ChangeHandler) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		c, ok := w.classify(path)
		if !ok {
			continue
		}
		w.logger.Debug("object change", "pid", c.PID, "kind", c.Kind.String())
		if err := handle(ctx, c); err != nil {
			w.logger.Error("object change failed", "pid", c.PID, "kind", c.Kind.String(), "error", err)
		}
	}
}

func (w *Watcher) classify(path string) (Change, bool) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		pid, ok := w.store.Forget(path)
		if !ok {
			return Change{}, false
		}
		return Change{Kind: Removed, PID: pid, Path: path}, true
	}
	pid, err := w.store.Resolve(path)
	if err != nil {
		w.logger.Warn("skipping unreadable object document", "path", path, "error", err)
		return Change{}, false
	}
	return Change{Kind: Changed, PID: pid, Path: path}, true
}
