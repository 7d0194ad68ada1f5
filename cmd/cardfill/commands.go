package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suykerbuyk/cardfill/internal/archive"
	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/batch"
	"github.com/suykerbuyk/cardfill/internal/check"
	"github.com/suykerbuyk/cardfill/internal/config"
	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/hook"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/metrics"
	"github.com/suykerbuyk/cardfill/internal/record"
	"github.com/suykerbuyk/cardfill/internal/runlog"
	"github.com/suykerbuyk/cardfill/internal/server"
	"github.com/suykerbuyk/cardfill/internal/store"
	"github.com/suykerbuyk/cardfill/internal/watch"
)

func (a *app) check(ctx context.Context, args []string) {
	if st := openStoreIfExists(a.cfg); st != nil {
		a.resolveSchemas(ctx, st)
		st.Close()
	}
	report := check.Run(ctx, a.cfg, check.Options{SkipBackend: hasFlag(args, "--offline")})
	fmt.Print(report.Format())
	if report.HasFailures() {
		os.Exit(1)
	}
}

func (a *app) testConnection(ctx context.Context) {
	bc := a.cfg.Backend()
	if err := backend.TestConnection(ctx, bc); err != nil {
		be := backend.AsError(err)
		fatal("%s %s: %s: %s", bc.Mode, bc.BaseURL, be.Kind, be.Message)
	}
	fmt.Printf("ok: %s %s (%s)\n", bc.Mode, bc.BaseURL, bc.Model)
}

func (a *app) hook(ctx context.Context, args []string) {
	orch, err := newOrchestrator(a.cfg, a.log, nil)
	if err != nil {
		fatal("%v", err)
	}
	err = hook.Handle(ctx, os.Stdin, os.Stdout, orch, hook.Options{
		Trigger:           flagValue(args, "--trigger"),
		Overwrite:         hasFlag(args, "--overwrite"),
		AutoFillOnNewCard: a.cfg.AutoFillOnNewCard,
		MappingErrors:     a.cfg.MappingErrors(),
		Logger:            a.log,
	})
	if err != nil {
		fatal("%v", err)
	}
}

func (a *app) importRecords(ctx context.Context, args []string) {
	pos := positional(args)
	if len(pos) < 1 {
		fatal("usage: cardfill import <file>")
	}
	recs, err := record.ReadFile(pos[0])
	if err != nil {
		fatal("import: %v", err)
	}
	st := openStore(a.cfg)
	defer st.Close()
	n, err := st.Import(ctx, recs)
	if err != nil {
		fatal("import: %v", err)
	}
	fmt.Printf("imported %d records into %s\n", n, config.CompressHome(a.cfg.DBPath()))
}

func (a *app) fill(ctx context.Context, args []string) {
	triggerName := flagValue(args, "--trigger")
	if triggerName == "" {
		triggerName = string(mapping.TriggerBrowse)
	}
	trigger, err := mapping.ParseTrigger(triggerName)
	if err != nil {
		fatal("%v", err)
	}
	noteType := flagValue(args, "--note-type")
	limit := intFlag(args, "--limit", 0)
	id := flagValue(args, "--id")

	st := openStore(a.cfg)
	defer st.Close()

	var (
		file   string
		single bool
		recs   []*record.Record
	)
	if pos := positional(args); len(pos) > 0 {
		file = pos[0]
		recs, err = record.ReadFile(file)
		if err != nil {
			fatal("fill: %v", err)
		}
		single = len(recs) == 1 && record.IsObjectFile(file)
		if limit > 0 || id != "" {
			fatal("--limit and --id apply to the note store, not files")
		}
	} else if id != "" {
		a.resolveSchemas(ctx, st)
		rec, err := st.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			fatal("fill: no note with id %s", id)
		}
		if err != nil {
			fatal("fill: %v", err)
		}
		recs = []*record.Record{rec}
	} else {
		a.resolveSchemas(ctx, st)
		recs, err = st.List(ctx, store.Filter{NoteType: noteType, Limit: limit})
		if err != nil {
			fatal("fill: %v", err)
		}
	}
	if len(recs) == 0 {
		fmt.Println("no records to fill")
		return
	}

	orch, err := newOrchestrator(a.cfg, a.log, nil)
	if err != nil {
		fatal("%v", err)
	}
	sched := batch.New(orch,
		batch.WithDelay(a.cfg.Delay()),
		batch.WithResolveOptions(mapping.Options{ForceOverwrite: hasFlag(args, "--overwrite")}),
		batch.WithLogger(a.log),
		batch.WithProgress(func(done, total int, out generate.Outcome) {
			fmt.Fprintf(os.Stderr, "[%d/%d] %-7s %s\n", done, total, out.Status, out.RecordID)
		}))

	var res batch.Result
	if noteType != "" {
		res = sched.RunMany(ctx, noteType, trigger, recs)
	} else {
		res = sched.RunGroups(ctx, trigger, recs)
	}

	// Persist even after Ctrl-C: finished records keep their values.
	persistCtx := context.WithoutCancel(ctx)
	if file != "" {
		if err := record.WriteFile(file, recs, single); err != nil {
			fatal("fill: %v", err)
		}
	} else {
		for i, out := range res.Outcomes {
			if len(out.Applied) == 0 {
				continue
			}
			if err := st.Update(persistCtx, recs[i]); err != nil {
				a.log.Error("store update failed", "record", recs[i].ID, "error", err)
			}
		}
	}

	rec := runlog.Recorder{Store: st, ArchiveDir: a.cfg.RunsDir(), Logger: a.log}
	report, err := rec.Record(persistCtx, res)
	if err != nil {
		a.log.Warn("run history incomplete", "error", err)
	}

	printSummary(res)
	if report != "" {
		fmt.Printf("report: %s\n", config.CompressHome(report))
	}
	if res.Summary.Error > 0 || res.Cancelled {
		os.Exit(1)
	}
}

func printSummary(res batch.Result) {
	s := res.Summary
	fmt.Printf("run %s: %d records, %d success, %d skip, %d error", res.RunID, s.Total, s.Success, s.Skip, s.Error)
	if s.NotStarted > 0 {
		fmt.Printf(", %d not started", s.NotStarted)
	}
	if res.Cancelled {
		fmt.Print(" (cancelled)")
	}
	fmt.Println()
}

// liveBatcher lets the config watcher swap the scheduler between files.
type liveBatcher struct {
	mu    sync.Mutex
	sched *batch.Scheduler
}

func (l *liveBatcher) RunGroups(ctx context.Context, trigger mapping.Trigger, recs []*record.Record) batch.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sched.RunGroups(ctx, trigger, recs)
}

func (l *liveBatcher) set(s *batch.Scheduler) {
	l.mu.Lock()
	l.sched = s
	l.mu.Unlock()
}

func (a *app) scheduler(cfg config.Config) (*batch.Scheduler, error) {
	orch, err := newOrchestrator(cfg, a.log, nil)
	if err != nil {
		return nil, err
	}
	return batch.New(orch, batch.WithDelay(cfg.Delay()), batch.WithLogger(a.log)), nil
}

func (a *app) watch(ctx context.Context, args []string) {
	pos := positional(args)
	if len(pos) < 1 {
		fatal("usage: cardfill watch <dir>")
	}
	sched, err := a.scheduler(a.cfg)
	if err != nil {
		fatal("%v", err)
	}
	live := &liveBatcher{sched: sched}

	st := openStore(a.cfg)
	defer st.Close()
	rec := runlog.Recorder{Store: st, ArchiveDir: a.cfg.RunsDir(), Logger: a.log}

	if a.cfg.Path != "" {
		go a.watchConfig(ctx, func(cfg config.Config) {
			s, err := a.scheduler(cfg)
			if err != nil {
				a.log.Error("reload rejected", "error", err)
				return
			}
			live.set(s)
		})
	}

	err = watch.Run(ctx, pos[0], live, watch.Options{
		Logger: a.log,
		OnResult: func(file string, res batch.Result) {
			if _, err := rec.Record(ctx, res); err != nil {
				a.log.Warn("run history incomplete", "file", file, "error", err)
			}
		},
	})
	if err != nil {
		fatal("watch: %v", err)
	}
}

func (a *app) serve(ctx context.Context, args []string) {
	listen := flagValue(args, "--listen")
	if listen == "" {
		listen = a.cfg.Server.Listen
	}

	collector := metrics.New()
	orch, err := newOrchestrator(a.cfg, a.log, collector)
	if err != nil {
		fatal("%v", err)
	}
	st := openStore(a.cfg)
	defer st.Close()

	srv := server.New(server.Deps{
		Pipeline: server.Pipeline{Orchestrator: orch, Backend: a.cfg.Backend(), Delay: a.cfg.Delay()},
		Store:    st,
		Metrics:  collector,
		Recorder: runlog.Recorder{Store: st, ArchiveDir: a.cfg.RunsDir(), Metrics: collector, Logger: a.log},
		Logger:   a.log,
	})

	if a.cfg.Path != "" {
		go a.watchConfig(ctx, func(cfg config.Config) {
			o, err := newOrchestrator(cfg, a.log, collector)
			if err != nil {
				a.log.Error("reload rejected", "error", err)
				return
			}
			srv.SetPipeline(server.Pipeline{Orchestrator: o, Backend: cfg.Backend(), Delay: cfg.Delay()})
		})
	}

	if err := srv.Run(ctx, listen); err != nil {
		fatal("%v", err)
	}
}

func (a *app) watchConfig(ctx context.Context, apply func(config.Config)) {
	err := config.Watch(ctx, a.cfg.Path, a.log, func(cfg config.Config) {
		for _, p := range cfg.Problems {
			a.log.Warn("mapping problem", "problem", p.Error())
		}
		apply(cfg)
		a.log.Info("config reloaded", "note_types", len(cfg.Mappings))
	})
	if err != nil {
		a.log.Error("config watch stopped", "error", err)
	}
}

func (a *app) runs(ctx context.Context, args []string) {
	st := openStoreIfExists(a.cfg)
	if st == nil {
		fmt.Println("no runs yet")
		return
	}
	defer st.Close()
	runs, err := st.ListRuns(ctx, intFlag(args, "--limit", 20))
	if err != nil {
		fatal("runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs yet")
		return
	}
	fmt.Printf("%-36s  %-16s  %-10s  %-12s  %5s  %5s  %5s  %5s\n",
		"RUN", "STARTED", "TRIGGER", "NOTE TYPE", "TOTAL", "OK", "SKIP", "ERR")
	for _, r := range runs {
		noteType := r.NoteType
		if noteType == "" {
			noteType = "(mixed)"
		}
		line := fmt.Sprintf("%-36s  %-16s  %-10s  %-12s  %5d  %5d  %5d  %5d",
			r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Trigger, noteType,
			r.Summary.Total, r.Summary.Success, r.Summary.Skip, r.Summary.Error)
		if r.Cancelled {
			line += "  cancelled"
		}
		fmt.Println(line)
	}
}

func (a *app) report(ctx context.Context, args []string) {
	pos := positional(args)
	if len(pos) < 1 {
		fatal("usage: cardfill report <run-id>")
	}
	runID := pos[0]
	if _, err := uuid.Parse(runID); err != nil {
		fatal("invalid run id %q", runID)
	}

	dir := a.cfg.RunsDir()
	if archive.IsArchived(runID, dir) {
		res, err := archive.ReadReport(archive.ReportPath(runID, dir))
		if err != nil {
			fatal("report: %v", err)
		}
		fmt.Print(formatReport(res))
		return
	}

	// Runs recorded while archiving failed still have a summary row.
	st := openStoreIfExists(a.cfg)
	if st == nil {
		fatal("no archived report for run %s", runID)
	}
	run, err := st.GetRun(ctx, runID)
	st.Close()
	if errors.Is(err, store.ErrNotFound) {
		fatal("no archived report for run %s", runID)
	}
	if err != nil {
		fatal("report: %v", err)
	}
	fmt.Print(formatRun(run))
}

// formatRun prints the stored summary of a run whose report is missing.
func formatRun(r store.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (report not archived)\n", r.RunID)
	fmt.Fprintf(&b, "  trigger   %s\n", r.Trigger)
	if r.NoteType != "" {
		fmt.Fprintf(&b, "  note type %s\n", r.NoteType)
	}
	fmt.Fprintf(&b, "  started   %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	s := r.Summary
	fmt.Fprintf(&b, "  summary   %d records, %d success, %d skip, %d error, %d not started\n",
		s.Total, s.Success, s.Skip, s.Error, s.NotStarted)
	if r.Cancelled {
		b.WriteString("  cancelled\n")
	}
	return b.String()
}

func formatReport(res batch.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", res.RunID)
	fmt.Fprintf(&b, "  trigger   %s\n", res.Trigger)
	if res.NoteType != "" {
		fmt.Fprintf(&b, "  note type %s\n", res.NoteType)
	}
	fmt.Fprintf(&b, "  started   %s\n", res.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  elapsed   %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	s := res.Summary
	fmt.Fprintf(&b, "  summary   %d records, %d success, %d skip, %d error, %d not started\n\n",
		s.Total, s.Success, s.Skip, s.Error, s.NotStarted)

	for _, o := range res.Outcomes {
		fmt.Fprintf(&b, "  %-7s %s", o.Status, o.RecordID)
		if len(o.Applied) > 0 {
			fmt.Fprintf(&b, "  applied: %s", strings.Join(o.Applied, ", "))
		}
		if o.Reason != "" {
			fmt.Fprintf(&b, "  (%s)", o.Reason)
		}
		b.WriteString("\n")
		for _, fe := range o.Errors {
			fmt.Fprintf(&b, "          %s: %s: %s\n", fe.Field, fe.Kind, fe.Message)
		}
		if o.Unexpected != "" {
			fmt.Fprintf(&b, "          unexpected: %s\n", o.Unexpected)
		}
		if len(o.Pending) > 0 {
			fmt.Fprintf(&b, "          not attempted: %s\n", strings.Join(o.Pending, ", "))
		}
	}
	return b.String()
}
