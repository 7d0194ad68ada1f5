// Command gen-man writes the cardfill man pages into a directory
// (default "man"). Stale cardfill*.1 pages left from removed commands are
// deleted so the directory matches the command registry.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/suykerbuyk/cardfill/internal/help"
)

func main() {
	dir := "man"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := run(dir, buildDate()); err != nil {
		fmt.Fprintf(os.Stderr, "gen-man: %v\n", err)
		os.Exit(1)
	}
}

// buildDate honours SOURCE_DATE_EPOCH for reproducible packages.
func buildDate() string {
	if epoch := os.Getenv("SOURCE_DATE_EPOCH"); epoch != "" {
		if sec, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC().Format("2006-01-02")
		}
	}
	return time.Now().UTC().Format("2006-01-02")
}

func run(dir, date string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	pages := help.ManPages(date)
	want := make(map[string]bool, len(pages))
	for _, p := range pages {
		want[p.Name] = true
		path := filepath.Join(dir, p.Name)
		if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("  %s\n", path)
	}

	stale, err := filepath.Glob(filepath.Join(dir, "cardfill*.1"))
	if err != nil {
		return err
	}
	for _, path := range stale {
		if want[filepath.Base(path)] {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale %s: %w", path, err)
		}
		fmt.Printf("  removed %s\n", path)
	}
	return nil
}
