package change

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher records filesystem writes under a root while a session is
// paused. The dirty set is advisory; Resume still runs full signature
// comparison, the watcher only provides early visibility.
type Watcher struct {
	fw     *fsnotify.Watcher
	logger *zap.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
	done  chan struct{}
}

// NewWatcher starts watching root and all directories below it.
func NewWatcher(root string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	w := &Watcher{
		fw:     fw,
		logger: logger,
		dirty:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.dirty[ev.Name] = struct{}{}
				w.mu.Unlock()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Dirty returns the paths touched since the watcher started.
func (w *Watcher) Dirty() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirty))
	for p := range w.dirty {
		out = append(out, p)
	}
	return out
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
