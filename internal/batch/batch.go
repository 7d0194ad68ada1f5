// Package batch runs the generation pipeline over many records, one at a
// time, with a pause between records.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/record"
)

// Runner runs one record. *generate.Orchestrator implements it.
type Runner interface {
	RunOneWith(ctx context.Context, noteType string, trigger mapping.Trigger, rec *record.Record, opts mapping.Options) generate.Outcome
}

// ProgressFunc is called after each record with the number done so far.
type ProgressFunc func(done, total int, out generate.Outcome)

// Summary counts outcomes by status.
type Summary struct {
	Total      int `json:"total"`
	Success    int `json:"success"`
	Skip       int `json:"skip"`
	Error      int `json:"error"`
	NotStarted int `json:"not_started,omitempty"`
}

// Result is one batch run.
type Result struct {
	RunID      string             `json:"run_id"`
	NoteType   string             `json:"note_type,omitempty"` // empty for mixed runs
	Trigger    mapping.Trigger    `json:"trigger"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Outcomes   []generate.Outcome `json:"outcomes"`
	Summary    Summary            `json:"summary"`
	Cancelled  bool               `json:"cancelled,omitempty"`
}

// Scheduler runs records strictly in input order.
type Scheduler struct {
	runner   Runner
	delay    time.Duration
	opts     mapping.Options
	log      *logger.Logger
	progress ProgressFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDelay sets the pause between one record's completion and the next
// record's start.
func WithDelay(d time.Duration) Option { return func(s *Scheduler) { s.delay = d } }

// WithResolveOptions passes resolver options to every record.
func WithResolveOptions(o mapping.Options) Option { return func(s *Scheduler) { s.opts = o } }

func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithProgress(fn ProgressFunc) Option { return func(s *Scheduler) { s.progress = fn } }

// New returns a Scheduler over runner.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{runner: runner, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunMany runs every record as noteType. Unless cancelled, the result
// holds exactly one outcome per record, in input order. On cancellation
// the outcomes gathered so far are returned with Cancelled set.
func (s *Scheduler) RunMany(ctx context.Context, noteType string, trigger mapping.Trigger, recs []*record.Record) Result {
	return s.run(ctx, noteType, trigger, recs)
}

// RunGroups runs records of mixed note types, each as its own note type.
func (s *Scheduler) RunGroups(ctx context.Context, trigger mapping.Trigger, recs []*record.Record) Result {
	return s.run(ctx, "", trigger, recs)
}

func (s *Scheduler) run(ctx context.Context, noteType string, trigger mapping.Trigger, recs []*record.Record) Result {
	res := Result{
		RunID:     uuid.NewString(),
		NoteType:  noteType,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Outcomes:  make([]generate.Outcome, 0, len(recs)),
	}
	log := s.log.With("run", res.RunID, "trigger", string(trigger))
	log.Info("batch started", "records", len(recs), "note_type", noteType)

	for i, rec := range recs {
		if i > 0 && s.delay > 0 {
			if err := sleep(ctx, s.delay); err != nil {
				res.Cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		out := s.runOne(ctx, noteType, trigger, rec)
		res.Outcomes = append(res.Outcomes, out)
		if s.progress != nil {
			s.progress(i+1, len(recs), out)
		}
		if out.Cancelled {
			res.Cancelled = true
			break
		}
	}

	res.FinishedAt = time.Now().UTC()
	res.Summary = summarize(res.Outcomes)
	res.Summary.Total = len(recs)
	res.Summary.NotStarted = len(recs) - len(res.Outcomes)
	log.Info("batch finished",
		"success", res.Summary.Success,
		"skip", res.Summary.Skip,
		"error", res.Summary.Error,
		"not_started", res.Summary.NotStarted,
		"cancelled", res.Cancelled,
		"elapsed", res.FinishedAt.Sub(res.StartedAt))
	return res
}

// runOne isolates a failing record from the rest of the batch. The
// orchestrator recovers its own panics and keeps partial progress; this
// guard covers other Runner implementations.
func (s *Scheduler) runOne(ctx context.Context, noteType string, trigger mapping.Trigger, rec *record.Record) (out generate.Outcome) {
	if rec == nil {
		s.log.Error("nil record in batch")
		return generate.UnexpectedOutcome("", noteType, "nil record")
	}
	nt := noteType
	if nt == "" {
		nt = rec.NoteType
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("record panicked", "record", rec.ID, "panic", r)
			out = generate.UnexpectedOutcome(rec.ID, nt, fmt.Sprintf("panic: %v", r))
		}
	}()
	return s.runner.RunOneWith(ctx, nt, trigger, rec, s.opts)
}

func summarize(outs []generate.Outcome) Summary {
	var sum Summary
	for _, o := range outs {
		switch o.Status {
		case generate.StatusSuccess:
			sum.Success++
		case generate.StatusSkip:
			sum.Skip++
		default:
			sum.Error++
		}
	}
	return sum
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
