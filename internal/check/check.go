package check

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/config"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/store"
)

// Status represents the outcome of a single check.
type Status int

const (
	Pass Status = iota
	Warn
	Fail
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "pass"
	case Warn:
		return "warn"
	case Fail:
		return "FAIL"
	default:
		return "unknown"
	}
}

// Result holds the outcome of a single check.
type Result struct {
	Name   string
	Status Status
	Detail string
}

// Report aggregates all check results.
type Report struct {
	Results []Result
}

// HasFailures returns true if any result has Fail status.
func (r Report) HasFailures() bool {
	for _, res := range r.Results {
		if res.Status == Fail {
			return true
		}
	}
	return false
}

// Format returns the human-readable report string.
func (r Report) Format() string {
	if len(r.Results) == 0 {
		return "cardfill check\n\n  no checks ran\n"
	}

	// Find max name length for alignment.
	maxName := 0
	for _, res := range r.Results {
		if len(res.Name) > maxName {
			maxName = len(res.Name)
		}
	}

	var b strings.Builder
	b.WriteString("cardfill check\n\n")

	var passed, warnings, failures int
	for _, res := range r.Results {
		switch res.Status {
		case Pass:
			passed++
		case Warn:
			warnings++
		case Fail:
			failures++
		}
		fmt.Fprintf(&b, "  %-4s  %-*s  %s\n", res.Status, maxName, res.Name, res.Detail)
	}

	fmt.Fprintf(&b, "\n%d passed, %d warning, %d failure\n", passed, warnings, failures)
	return b.String()
}

// CheckConfig reports where the config came from. A broken file never
// gets here: it fails the load.
func CheckConfig(cfg config.Config) Result {
	if cfg.Path == "" {
		return Result{Name: "config", Status: Warn, Detail: "no config file, using defaults (run cardfill init)"}
	}
	return Result{Name: "config", Status: Pass, Detail: config.CompressHome(cfg.Path)}
}

// CheckMappingsFile reports whether the external mappings file is in use.
func CheckMappingsFile(path string) Result {
	if path == "" {
		return Result{Name: "mappings_file", Status: Pass, Detail: "not configured"}
	}
	if _, err := os.Stat(path); err != nil {
		return Result{Name: "mappings_file", Status: Fail, Detail: config.CompressHome(path) + " not found"}
	}
	return Result{Name: "mappings_file", Status: Pass, Detail: config.CompressHome(path)}
}

// CheckMappings summarizes the usable mappings and lists every problem
// found while loading them, one result per problem.
func CheckMappings(set mapping.Set, problems mapping.Problems) []Result {
	var results []Result
	switch n := len(set); {
	case n == 0:
		results = append(results, Result{Name: "mappings", Status: Warn, Detail: "no usable note type mappings"})
	default:
		results = append(results, Result{Name: "mappings", Status: Pass,
			Detail: fmt.Sprintf("%d note type(s): %s", n, strings.Join(set.NoteTypes(), ", "))})
	}
	for _, p := range problems {
		st := Warn
		if p.Severity == mapping.SeverityError {
			st = Fail
		}
		name := "mapping"
		if p.NoteType != "" {
			name = "mapping:" + p.NoteType
		}
		results = append(results, Result{Name: name, Status: st, Detail: p.Message})
	}
	return results
}

// CheckAPIKey warns when openai mode has no key. Local ollama needs none.
func CheckAPIKey(cfg config.Config) Result {
	bc := cfg.Backend()
	if bc.Mode != backend.ModeOpenAI {
		return Result{Name: "api_key", Status: Pass, Detail: "not required for " + string(bc.Mode)}
	}
	if bc.APIKey != "" {
		if cfg.APIKey == "" {
			return Result{Name: "api_key", Status: Pass, Detail: cfg.APIKeyEnv + " set"}
		}
		return Result{Name: "api_key", Status: Pass, Detail: "set in config"}
	}
	if cfg.APIKeyEnv != "" {
		return Result{Name: "api_key", Status: Warn, Detail: cfg.APIKeyEnv + " not set"}
	}
	return Result{Name: "api_key", Status: Warn, Detail: "no api_key (fine for keyless OpenAI-compatible servers)"}
}

// CheckStateDir checks whether the state directory exists.
func CheckStateDir(stateDir string) Result {
	if info, err := os.Stat(stateDir); err == nil && info.IsDir() {
		return Result{Name: "state", Status: Pass, Detail: config.CompressHome(stateDir)}
	}
	return Result{Name: "state", Status: Warn, Detail: config.CompressHome(stateDir) + " not found (created on first import)"}
}

// CheckStore opens the note store and reports how many notes it holds.
// A missing database is not an error.
func CheckStore(ctx context.Context, dbPath string) Result {
	if _, err := os.Stat(dbPath); err != nil {
		return Result{Name: "store", Status: Warn, Detail: "no note store yet"}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return Result{Name: "store", Status: Fail, Detail: err.Error()}
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return Result{Name: "store", Status: Fail, Detail: fmt.Sprintf("%s unreadable: %v", config.CompressHome(dbPath), err)}
	}
	notes, err := st.List(ctx, store.Filter{})
	if err != nil {
		return Result{Name: "store", Status: Fail, Detail: err.Error()}
	}
	return Result{Name: "store", Status: Pass, Detail: fmt.Sprintf("%s (%d notes)", config.CompressHome(dbPath), len(notes))}
}

// CheckBackend probes the configured backend. probe defaults to
// backend.TestConnection.
func CheckBackend(ctx context.Context, cfg backend.Config, probe func(context.Context, backend.Config) error) Result {
	if probe == nil {
		probe = func(ctx context.Context, c backend.Config) error { return backend.TestConnection(ctx, c) }
	}
	target := fmt.Sprintf("%s %s (%s)", cfg.Mode, cfg.BaseURL, cfg.Model)
	if err := probe(ctx, cfg); err != nil {
		be := backend.AsError(err)
		return Result{Name: "backend", Status: Fail, Detail: fmt.Sprintf("%s: %s: %s", target, be.Kind, be.Message)}
	}
	return Result{Name: "backend", Status: Pass, Detail: target}
}

// Options controls Run.
type Options struct {
	// SkipBackend omits the network probe.
	SkipBackend bool
	Probe       func(context.Context, backend.Config) error
}

// Run executes all checks against the given config and returns a report.
func Run(ctx context.Context, cfg config.Config, opts Options) Report {
	var results []Result

	results = append(results, CheckConfig(cfg))
	results = append(results, CheckMappingsFile(cfg.MappingsFile))
	results = append(results, CheckMappings(cfg.Mappings, cfg.Problems)...)
	results = append(results, CheckAPIKey(cfg))
	results = append(results, CheckStateDir(cfg.StateDir))
	results = append(results, CheckStore(ctx, cfg.DBPath()))
	if !opts.SkipBackend {
		results = append(results, CheckBackend(ctx, cfg.Backend(), opts.Probe))
	}

	return Report{Results: results}
}
