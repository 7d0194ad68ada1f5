package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/config"
	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/help"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/store"
)

func main() {
	cfgPath, args := splitConfigFlag(os.Args[1:])
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "help", "--help", "-h":
		runHelp(rest)
		return
	case "version":
		fmt.Printf("cardfill v%s\n", help.Version)
		return
	}

	if _, ok := help.Lookup(cmd); !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if hasFlag(rest, "--help") || hasFlag(rest, "-h") {
		c, _ := help.Lookup(cmd)
		fmt.Print(help.FormatTerminal(c))
		return
	}

	if cmd == "init" {
		runInit(cfgPath, rest)
		return
	}

	cfg := mustLoadConfig(cfgPath)
	log := logger.Must(cfg.Logger())
	defer log.Sync()
	for _, p := range cfg.Problems {
		if p.Severity != mapping.SeverityError {
			log.Warn("mapping problem", "problem", p.Error())
		}
	}
	if err := cfg.MappingErrors(); err != nil {
		log.Error("mappings dropped", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: log}
	switch cmd {
	case "check":
		a.check(ctx, rest)
	case "test-connection":
		a.testConnection(ctx)
	case "hook":
		a.hook(ctx, rest)
	case "import":
		a.importRecords(ctx, rest)
	case "fill":
		a.fill(ctx, rest)
	case "watch":
		a.watch(ctx, rest)
	case "serve":
		a.serve(ctx, rest)
	case "runs":
		a.runs(ctx, rest)
	case "report":
		a.report(ctx, rest)
	}
}

// app carries the loaded config into each subcommand.
type app struct {
	cfg config.Config
	log *logger.Logger
}

func usage() {
	fmt.Fprint(os.Stderr, help.FormatUsage(help.TopLevel, help.Subcommands))
}

func runHelp(args []string) {
	if len(args) > 0 {
		if c, ok := help.Lookup(args[0]); ok {
			fmt.Print(help.FormatTerminal(c))
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		os.Exit(1)
	}
	fmt.Print(help.FormatUsage(help.TopLevel, help.Subcommands))
}

func runInit(cfgPath string, args []string) {
	path := cfgPath
	if pos := positional(args); len(pos) > 0 {
		path = pos[0]
	}
	if path == "" {
		path = config.DefaultPath()
	}
	written, action, err := config.WriteDefault(path)
	if err != nil {
		fatal("init: %v", err)
	}
	switch action {
	case "exists":
		fmt.Printf("config already exists: %s\n", config.CompressHome(written))
	default:
		fmt.Printf("created: %s\n", config.CompressHome(written))
		fmt.Println("next: edit note_type_mappings, then run cardfill check")
	}
}

func mustLoadConfig(path string) config.Config {
	var (
		cfg config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fatal("load config: %v", err)
	}
	return cfg
}

// retryPolicy maps the [retry] table onto the orchestrator's policy.
func retryPolicy(rc config.RetryConfig) generate.RetryPolicy {
	p := generate.DefaultRetryPolicy()
	p.MaxAttempts = rc.MaxAttempts
	p.InitialDelay = time.Duration(rc.InitialDelayMs) * time.Millisecond
	p.MaxDelay = time.Duration(rc.MaxDelayMs) * time.Millisecond
	p.Multiplier = rc.Multiplier
	return p
}

// newOrchestrator builds the pipeline for cfg. obs may be nil.
func newOrchestrator(cfg config.Config, log *logger.Logger, obs generate.Observer) (*generate.Orchestrator, error) {
	client, err := backend.New(cfg.Backend())
	if err != nil {
		return nil, err
	}
	opts := []generate.Option{
		generate.WithRetry(retryPolicy(cfg.Retry)),
		generate.WithLogger(log),
	}
	if obs != nil {
		opts = append(opts, generate.WithObserver(obs))
	}
	return generate.New(client, cfg.Mappings, opts...), nil
}

// openStore opens the note store, creating the state directory.
func openStore(cfg config.Config) *store.Store {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		fatal("create state dir: %v", err)
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		fatal("%v", err)
	}
	return st
}

// openStoreIfExists returns nil when no store has been created yet.
func openStoreIfExists(cfg config.Config) *store.Store {
	if _, err := os.Stat(cfg.DBPath()); err != nil {
		return nil
	}
	return openStore(cfg)
}

// resolveSchemas re-validates mappings against the field names of stored
// notes. Problems found only this way are logged.
func (a *app) resolveSchemas(ctx context.Context, st *store.Store) {
	if st == nil {
		return
	}
	schemas, err := st.Schemas(ctx)
	if err != nil {
		a.log.Warn("cannot read note schemas", "error", err)
		return
	}
	seen := map[string]bool{}
	for _, p := range a.cfg.Problems {
		seen[p.Error()] = true
	}
	if err := a.cfg.ResolveMappings(schemas); err != nil {
		fatal("%v", err)
	}
	for _, p := range a.cfg.Problems {
		if !seen[p.Error()] {
			a.log.Warn("mapping problem", "problem", p.Error())
		}
	}
}

// splitConfigFlag removes a leading or embedded --config <path> (or
// --config=<path>) from args.
func splitConfigFlag(args []string) (string, []string) {
	var path string
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--config" && i+1 < len(args):
			path = args[i+1]
			i++
		case strings.HasPrefix(a, "--config="):
			path = strings.TrimPrefix(a, "--config=")
		default:
			out = append(out, a)
		}
	}
	return path, out
}

// valueFlags take an argument; positional skips their values.
var valueFlags = map[string]bool{
	"--trigger":   true,
	"--note-type": true,
	"--limit":     true,
	"--id":        true,
	"--listen":    true,
}

// positional returns args that are neither flags nor flag values.
func positional(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			if valueFlags[a] {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func intFlag(args []string, flag string, def int) int {
	v := flagValue(args, flag)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		fatal("%s: want a non-negative number, got %q", flag, v)
	}
	return n
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "cardfill: "+format+"\n", args...)
	os.Exit(1)
}
