package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the catalog whenever a model file or the agents file changes.
// It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range append(append([]string(nil), c.cfg.ModelFiles...), c.cfg.AgentsFile) {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			c.logger.Debug("Catalog watch skipped directory", "dir", dir, "error", err)
		}
	}
	c.logger.Info("Catalog watching for changes", "dirs", len(dirs))

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, tracked := files[filepath.Clean(event.Name)]; !tracked {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, c.Reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("Catalog fsnotify error", "error", err)
		}
	}
}
