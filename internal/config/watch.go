package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/suykerbuyk/cardfill/internal/logger"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the config at path whenever it (or the mappings file it
// names) changes, calling onChange with each config that loads cleanly.
// A config that fails to load is logged and ignored. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, log *logger.Logger, onChange func(Config)) error {
	if log == nil {
		log = logger.Nop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Directories, not files: editors save by rename.
	watched := map[string]bool{}
	names := map[string]bool{}
	add := func(file string) {
		if file == "" {
			return
		}
		names[filepath.Clean(file)] = true
		dir := filepath.Dir(file)
		if watched[dir] {
			return
		}
		if err := w.Add(dir); err != nil {
			log.Warn("cannot watch config dir", "dir", dir, "error", err)
			return
		}
		watched[dir] = true
	}

	add(path)
	if cur, err := LoadFile(path); err == nil {
		add(cur.MappingsFile)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)
		case <-fire:
			fire = nil
			cfg, err := LoadFile(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous", "path", path, "error", err)
				continue
			}
			add(cfg.MappingsFile)
			log.Info("config reloaded", "path", path, "mappings", len(cfg.Mappings))
			onChange(cfg)
		}
	}
}
