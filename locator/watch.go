package locator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/model"
)

// Watch calls fn with the id of every chunk file that appears in the cache
// directory until ctx is done. Downloads are renamed into place, so fn only
// sees complete files.
func (l *Locator) Watch(ctx context.Context, fn func(model.ChunkID)) error {
	dir := l.local.Root()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("locator: watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("locator: watch: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("locator: watch %s: %w", dir, err)
	}
	l.logger.Info("watching chunk cache", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			id, ok := chunkfile.ParseFileName(filepath.Base(ev.Name))
			if !ok {
				continue
			}
			fn(id)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("chunk cache watcher error", "error", err)
		}
	}
}
