// Package hook handles one host event per invocation: a record arrives as
// JSON on stdin, the generation pass runs, and the updated record is
// written as JSON to stdout.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/suykerbuyk/cardfill/internal/config"
	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/record"
)

// ReasonAutoFillOff is the outcome reason when add_cards events are
// ignored by configuration.
const ReasonAutoFillOff = "auto_fill_on_new_card is disabled"

const stdinTimeout = 2 * time.Second

// Input is the JSON object a host sends on stdin.
type Input struct {
	Trigger   string         `json:"trigger"`
	Overwrite bool           `json:"overwrite,omitempty"`
	// Field is the editor field that lost focus, for focus_lost events.
	Field  string         `json:"field,omitempty"`
	Record *record.Record `json:"record"`
}

// Output is written to stdout after the pass.
type Output struct {
	Record  *record.Record   `json:"record"`
	Outcome generate.Outcome `json:"outcome"`
}

// Runner runs one record. *generate.Orchestrator implements it.
type Runner interface {
	RunOneWith(ctx context.Context, noteType string, trigger mapping.Trigger, rec *record.Record, opts mapping.Options) generate.Outcome
}

// Options are the command-line and config settings for one invocation.
type Options struct {
	Trigger           string // overrides Input.Trigger when set
	Overwrite         bool
	AutoFillOnNewCard bool
	// MappingErrors is config.Config.MappingErrors from the last load. A
	// record whose mapping was dropped reports the config error instead of
	// "no mapping".
	MappingErrors error
	Logger        *logger.Logger
}

// Handle reads one event from in, processes it and writes the result to out.
func Handle(ctx context.Context, in io.Reader, out io.Writer, runner Runner, opts Options) error {
	input, err := readInput(in, stdinTimeout)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	result, err := handleInput(ctx, input, runner, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func readInput(r io.Reader, timeout time.Duration) (*Input, error) {
	// Read all input with a timeout
	done := make(chan []byte, 1)
	errCh := make(chan error, 1)

	go func() {
		data, err := io.ReadAll(r)
		if err != nil {
			errCh <- err
			return
		}
		done <- data
	}()

	var data []byte
	select {
	case data = <-done:
	case err := <-errCh:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("stdin read timeout")
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("empty stdin")
	}

	var input Input
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse stdin JSON: %w", err)
	}

	return &input, nil
}

func handleInput(ctx context.Context, input *Input, runner Runner, opts Options) (*Output, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	if input.Record == nil {
		return nil, fmt.Errorf("no record in hook input")
	}

	name := input.Trigger
	if opts.Trigger != "" {
		name = opts.Trigger
	}
	trigger, err := mapping.ParseTrigger(name)
	if err != nil {
		return nil, err
	}

	rec := input.Record
	if trigger == mapping.TriggerAddCards && !opts.AutoFillOnNewCard {
		log.Debug("add_cards ignored", "record", rec.ID)
		return &Output{
			Record:  rec,
			Outcome: generate.Outcome{RecordID: rec.ID, NoteType: rec.NoteType, Status: generate.StatusSkip, Reason: ReasonAutoFillOff},
		}, nil
	}

	resolve := mapping.Options{
		ForceOverwrite: opts.Overwrite || input.Overwrite,
		FocusedField:   input.Field,
	}
	outcome := runner.RunOneWith(ctx, rec.NoteType, trigger, rec, resolve)
	if outcome.Reason == mapping.ReasonNoMapping {
		if ce := droppedMapping(opts.MappingErrors, rec.NoteType); ce != nil {
			log.Warn("mapping rejected at load", "record", rec.ID, "error", ce)
			outcome.Reason = "mapping rejected: " + ce.Message
		}
	}
	return &Output{Record: rec, Outcome: outcome}, nil
}

// droppedMapping finds the first config error for noteType in err, which
// may be a join of several.
func droppedMapping(err error, noteType string) *config.ConfigError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if ce := droppedMapping(e, noteType); ce != nil {
				return ce
			}
		}
		return nil
	}
	var ce *config.ConfigError
	if errors.As(err, &ce) && ce.NoteType == noteType {
		return ce
	}
	return nil
}
