package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/suykerbuyk/cardfill/internal/config"
	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/record"
)

type stubClient struct{ calls int }

func (s *stubClient) Generate(_ context.Context, _, user string) (string, error) {
	s.calls++
	return "LLM: " + user, nil
}

func testRunner(client *stubClient) *generate.Orchestrator {
	set := mapping.Set{"Basic": {
		NoteType:     "Basic",
		SourceFields: []string{"Front"},
		Triggers:     []mapping.Trigger{mapping.TriggerAddCards, mapping.TriggerToolbar, mapping.TriggerFocusLost},
		Targets:      []mapping.TargetFieldConfig{{FieldName: "Back", PromptTemplate: "Define {{Front}}"}},
	}}
	return generate.New(client, set, generate.WithRetry(generate.NoRetry()))
}

const addCardsEvent = `{"trigger":"add_cards","record":{"id":"1","note_type":"Basic","fields":{"Front":"apple","Back":""}}}`

func TestHandle_AddCards(t *testing.T) {
	client := &stubClient{}
	var out bytes.Buffer

	err := Handle(context.Background(), strings.NewReader(addCardsEvent), &out, testRunner(client), Options{AutoFillOnNewCard: true})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var got Output
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if got.Record.Get("Back") != "LLM: Define apple" {
		t.Errorf("Back = %q", got.Record.Get("Back"))
	}
	if got.Outcome.Status != generate.StatusSuccess {
		t.Errorf("status = %q", got.Outcome.Status)
	}
	if got.Record.Order[0] != "Front" {
		t.Errorf("field order lost: %v", got.Record.Order)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d", client.calls)
	}
}

func TestHandle_AutoFillDisabled(t *testing.T) {
	client := &stubClient{}
	var out bytes.Buffer

	if err := Handle(context.Background(), strings.NewReader(addCardsEvent), &out, testRunner(client), Options{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("calls = %d, want 0", client.calls)
	}
	if !strings.Contains(out.String(), ReasonAutoFillOff) {
		t.Errorf("output missing reason: %s", out.String())
	}
}

func TestHandleInput_TriggerOverrideAndOverwrite(t *testing.T) {
	client := &stubClient{}
	rec := record.New("1", "Basic")
	rec.Set("Front", "pear")
	rec.Set("Back", "existing")

	got, err := handleInput(context.Background(), &Input{Trigger: "add_cards", Record: rec}, testRunner(client),
		Options{Trigger: "toolbar", Overwrite: true})
	if err != nil {
		t.Fatalf("handleInput: %v", err)
	}
	if got.Record.Get("Back") != "LLM: Define pear" {
		t.Errorf("Back = %q, want regenerated", got.Record.Get("Back"))
	}
}

func TestHandle_FocusLostOnSourceField(t *testing.T) {
	event := func(field string) string {
		return `{"trigger":"focus_lost","field":"` + field + `","record":{"id":"1","note_type":"Basic","fields":{"Front":"fig","Back":""}}}`
	}

	client := &stubClient{}
	var out bytes.Buffer
	if err := Handle(context.Background(), strings.NewReader(event("Back")), &out, testRunner(client), Options{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var got Output
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got.Outcome.Status != generate.StatusSkip || got.Outcome.Reason != mapping.ReasonFocusField {
		t.Errorf("outcome = %+v, want skip on non-source field", got.Outcome)
	}
	if client.calls != 0 {
		t.Errorf("calls = %d, want 0", client.calls)
	}

	out.Reset()
	if err := Handle(context.Background(), strings.NewReader(event("Front")), &out, testRunner(client), Options{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got = Output{}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got.Record.Get("Back") != "LLM: Define fig" {
		t.Errorf("Back = %q", got.Record.Get("Back"))
	}
}

func TestHandleInput_DroppedMappingReason(t *testing.T) {
	dropped := errors.Join(
		&config.ConfigError{NoteType: "Other", Message: "unrelated"},
		&config.ConfigError{NoteType: "Cloze", Field: "Extra", Message: "prompt_template is empty"},
	)
	rec := record.New("9", "Cloze")
	rec.Set("Text", "x")

	got, err := handleInput(context.Background(), &Input{Trigger: "toolbar", Record: rec}, testRunner(&stubClient{}),
		Options{MappingErrors: dropped})
	if err != nil {
		t.Fatalf("handleInput: %v", err)
	}
	if got.Outcome.Reason != "mapping rejected: prompt_template is empty" {
		t.Errorf("reason = %q", got.Outcome.Reason)
	}

	// Note types without a config error keep the plain reason.
	got, err = handleInput(context.Background(), &Input{Trigger: "toolbar", Record: record.New("10", "Plain")}, testRunner(&stubClient{}),
		Options{MappingErrors: dropped})
	if err != nil {
		t.Fatalf("handleInput: %v", err)
	}
	if got.Outcome.Reason != mapping.ReasonNoMapping {
		t.Errorf("reason = %q", got.Outcome.Reason)
	}
}

func TestHandleInput_Errors(t *testing.T) {
	runner := testRunner(&stubClient{})

	if _, err := handleInput(context.Background(), &Input{Trigger: "browse"}, runner, Options{}); err == nil {
		t.Error("expected error for missing record")
	}

	_, err := handleInput(context.Background(), &Input{Trigger: "on_save", Record: record.New("1", "Basic")}, runner, Options{})
	if err == nil || !strings.Contains(err.Error(), "unknown trigger") {
		t.Errorf("err = %v, want unknown trigger", err)
	}
}

func TestReadInput(t *testing.T) {
	if _, err := readInput(strings.NewReader(""), time.Second); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := readInput(strings.NewReader("{not json"), time.Second); err == nil {
		t.Error("expected error for bad JSON")
	}

	pr, pw := io.Pipe()
	defer pw.Close()
	_, err := readInput(pr, 50*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("err = %v, want timeout", err)
	}
}
