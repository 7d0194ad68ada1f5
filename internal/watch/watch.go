// Package watch fills record files dropped into an inbox directory. Each
// *.json or *.jsonl file is run with the mining trigger, then moved to
// done/ (or failed/ when it could not be read or any record failed).
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/suykerbuyk/cardfill/internal/batch"
	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/record"
)

const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// settle is how long a file must stay quiet before it is processed.
const settle = 250 * time.Millisecond

// Batcher runs records of mixed note types. *batch.Scheduler implements it.
type Batcher interface {
	RunGroups(ctx context.Context, trigger mapping.Trigger, recs []*record.Record) batch.Result
}

// Options configures Run.
type Options struct {
	Logger *logger.Logger
	// OnResult is called after each processed file.
	OnResult func(file string, res batch.Result)
}

// Run processes files already in dir, then every file that appears, until
// ctx is done. Files are handled one at a time.
func Run(ctx context.Context, dir string, b Batcher, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	for _, sub := range []string{DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("watching inbox", "dir", dir)

	existing, err := pendingFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range existing {
		if ctx.Err() != nil {
			return nil
		}
		processFile(ctx, path, dir, b, log, opts.OnResult)
	}

	// path → last event time; processed once quiet for settle.
	dirty := map[string]time.Time{}
	tick := time.NewTicker(settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Dir(ev.Name) != filepath.Clean(dir) || !isRecordFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				dirty[ev.Name] = time.Now()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)
		case now := <-tick.C:
			var ready []string
			for path, last := range dirty {
				if now.Sub(last) >= settle {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				delete(dirty, path)
				if ctx.Err() != nil {
					return nil
				}
				if _, err := os.Stat(path); err != nil {
					continue
				}
				processFile(ctx, path, dir, b, log, opts.OnResult)
			}
		}
	}
}

func pendingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isRecordFile(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func isRecordFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".json") || record.IsJSONL(base)
}

// processFile fills one file and moves it out of the inbox.
func processFile(ctx context.Context, path, dir string, b Batcher, log *logger.Logger, onResult func(string, batch.Result)) {
	name := filepath.Base(path)
	log = log.With("file", name)

	recs, err := record.ReadFile(path)
	if err != nil {
		log.Warn("unreadable record file", "error", err)
		moveTo(path, filepath.Join(dir, FailedDir, name), log)
		return
	}
	single := len(recs) == 1 && record.IsObjectFile(path)

	res := b.RunGroups(ctx, mapping.TriggerMining, recs)
	if res.Cancelled {
		// Leave the file for the next run; nothing is written back.
		log.Info("cancelled, file left in inbox")
		return
	}
	if onResult != nil {
		onResult(path, res)
	}

	dest := filepath.Join(dir, DoneDir, name)
	if failed(res) {
		dest = filepath.Join(dir, FailedDir, name)
	}
	if err := record.WriteFile(path, recs, single); err != nil {
		log.Error("write back failed", "error", err)
		dest = filepath.Join(dir, FailedDir, name)
	}
	moveTo(path, dest, log)
	log.Info("file processed", "records", len(recs), "success", res.Summary.Success, "error", res.Summary.Error, "moved_to", filepath.Base(filepath.Dir(dest)))
}

func failed(res batch.Result) bool {
	for _, o := range res.Outcomes {
		if o.Status == generate.StatusError {
			return true
		}
	}
	return false
}

func moveTo(src, dest string, log *logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = strings.TrimSuffix(dest, ext) + "-" + time.Now().UTC().Format("20060102T150405") + ext
	}
	if err := os.Rename(src, dest); err != nil {
		log.Error("move failed", "dest", dest, "error", err)
	}
}
