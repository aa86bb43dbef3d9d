// Package watch feeds history dumps dropped into a directory to a callback.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay quiet before it is read.
const DefaultSettle = 200 * time.Millisecond

// ImportFunc receives the contents of a settled *.json file.
type ImportFunc func(path string, data []byte) error

// Watcher watches one directory for *.json files.
type Watcher struct {
	dir    string
	settle time.Duration
	logger *slog.Logger
	onFile ImportFunc
}

// New returns a Watcher for dir. A zero settle uses DefaultSettle.
func New(dir string, settle time.Duration, logger *slog.Logger, onFile ImportFunc) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, settle: settle, logger: logger, onFile: onFile}
}

// Run watches the directory until ctx is cancelled. A path is read once no
// Create or Write event has been seen for it during the settle period.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("watch: create dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", w.dir, err)
	}
	w.logger.Info("import watcher: started", slog.String("dir", w.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("import watcher: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[ev.Name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, ev.Name)
			}

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.process(path)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("import watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) process(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("import watcher: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if err := w.onFile(path, data); err != nil {
		w.logger.Warn("import watcher: import rejected", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	w.logger.Info("import watcher: imported", slog.String("path", path))
}
