// Package generate runs one record through the generation pipeline:
// resolve targets, render prompts, call the backend and write results.
package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/record"
	"github.com/suykerbuyk/cardfill/internal/template"
)

// State is a target field's position in the per-field lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRendering State = "rendering"
	StateCalling   State = "calling"
	StateApplied   State = "applied"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Observer receives orchestrator events. Implementations must be cheap;
// they run inline.
type Observer interface {
	// FieldState is called on every target state transition.
	FieldState(noteType, field string, s State)
	// BackendCall is called after every backend attempt.
	BackendCall(noteType string, elapsed time.Duration, err *backend.Error)
}

// Orchestrator runs RunOne for a fixed backend and mapping set.
type Orchestrator struct {
	client   backend.Client
	mappings mapping.Set
	retry    RetryPolicy
	log      *logger.Logger
	observer Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRetry(p RetryPolicy) Option { return func(o *Orchestrator) { o.retry = p } }

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

// New returns an Orchestrator. The mapping set is not copied and must not
// be modified while the orchestrator is in use.
func New(client backend.Client, mappings mapping.Set, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		mappings: mappings,
		retry:    DefaultRetryPolicy(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Mappings returns the mapping set in use.
func (o *Orchestrator) Mappings() mapping.Set { return o.mappings }

// RunOne generates the target fields trigger selects for rec. noteType
// overrides rec.NoteType when non-empty.
func (o *Orchestrator) RunOne(ctx context.Context, noteType string, trigger mapping.Trigger, rec *record.Record) Outcome {
	return o.RunOneWith(ctx, noteType, trigger, rec, mapping.Options{})
}

// RunOneWith is RunOne with resolver options.
//
// Every prompt is rendered from one snapshot of rec taken before the first
// call: a value generated for an earlier target is not visible to later
// templates in the same pass. rec is only modified for targets whose call
// succeeded.
//
// A panic while handling a target ends the pass: fields applied before it
// stay in the outcome, later targets are listed as pending and the panic
// is reported in Unexpected.
func (o *Orchestrator) RunOneWith(ctx context.Context, noteType string, trigger mapping.Trigger, rec *record.Record, opts mapping.Options) (out Outcome) {
	if rec == nil {
		return UnexpectedOutcome("", noteType, "nil record")
	}
	if noteType == "" {
		noteType = rec.NoteType
	}
	log := o.log.With("note_type", noteType, "record", rec.ID, "trigger", string(trigger))

	out = Outcome{RecordID: rec.ID, NoteType: noteType, Values: map[string]string{}}
	var res mapping.Resolution
	current := -1 // index of the target in progress
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		out.Unexpected = fmt.Sprintf("panic: %v", r)
		if current >= 0 && current < len(res.Targets) {
			field := res.Targets[current].Config.FieldName
			out.Unexpected = fmt.Sprintf("%s: panic: %v", field, r)
			o.state(noteType, field, StateFailed)
			for _, t := range res.Targets[current+1:] {
				out.Pending = append(out.Pending, t.Config.FieldName)
			}
		}
		out.finish()
		log.Error("record panicked", "panic", r, "applied", len(out.Applied), "pending", len(out.Pending))
	}()

	res = mapping.Resolve(o.mappings, noteType, trigger, rec.Fields, opts)
	out.Skipped = res.Skipped
	out.Reason = res.Reason
	for _, f := range res.Skipped {
		o.state(noteType, f, StateSkipped)
	}
	if len(res.Targets) == 0 {
		log.Debug("nothing to generate", "reason", res.Reason)
		out.finish()
		return out
	}

	snapshot := rec.Snapshot()
	systemPrompt := res.Mapping.SystemPrompt

	for i, tgt := range res.Targets {
		current = i
		field := tgt.Config.FieldName
		if ctx.Err() != nil {
			out.markPending(res.Targets[i:])
			break
		}

		o.state(noteType, field, StateRendering)
		prompt := template.Render(tgt.Config.PromptTemplate, snapshot)

		o.state(noteType, field, StateCalling)
		text, err := o.retry.call(ctx,
			func(attempt int) (string, error) {
				start := time.Now()
				text, err := o.client.Generate(ctx, systemPrompt, prompt)
				var be *backend.Error
				if err != nil {
					be = backend.AsError(err)
				}
				if o.observer != nil {
					o.observer.BackendCall(noteType, time.Since(start), be)
				}
				return text, err
			},
			func(be *backend.Error, wait time.Duration) {
				log.Warn("backend call failed, retrying", "field", field, "kind", string(be.Kind), "wait", wait, "error", be.Message)
			},
		)
		if err != nil {
			be := backend.AsError(err)
			out.Errors = append(out.Errors, newFieldError(field, be))
			o.state(noteType, field, StateFailed)
			log.Warn("field generation failed", "field", field, "kind", string(be.Kind), "error", be.Message)
			if backend.IsKind(err, backend.KindCanceled) {
				out.markPending(res.Targets[i+1:])
				break
			}
			continue
		}

		rec.Set(field, text)
		out.Applied = append(out.Applied, field)
		out.Values[field] = text
		o.state(noteType, field, StateApplied)
		log.Debug("field applied", "field", field, "chars", len(text))
	}
	current = -1

	out.finish()
	log.Info("record processed", "status", string(out.Status), "applied", len(out.Applied), "skipped", len(out.Skipped), "failed", len(out.Errors))
	return out
}

func (o *Outcome) markPending(rest []mapping.Target) {
	o.Cancelled = true
	for _, t := range rest {
		o.Pending = append(o.Pending, t.Config.FieldName)
	}
}

func (o *Orchestrator) state(noteType, field string, s State) {
	if o.observer != nil {
		o.observer.FieldState(noteType, field, s)
	}
}
