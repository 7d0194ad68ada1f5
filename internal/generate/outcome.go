package generate

import (
	"github.com/suykerbuyk/cardfill/internal/backend"
)

// Status summarizes one record's generation pass.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkip    Status = "skip"
	StatusError   Status = "error"
)

// FieldError records why one target field was not written.
type FieldError struct {
	Field      string         `json:"field"`
	Kind       backend.Kind   `json:"kind"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code,omitempty"`
	Err        *backend.Error `json:"-"`
}

func newFieldError(field string, be *backend.Error) FieldError {
	return FieldError{
		Field:      field,
		Kind:       be.Kind,
		Message:    be.Message,
		StatusCode: be.StatusCode,
		Err:        be,
	}
}

// Outcome is the result of running one record.
type Outcome struct {
	RecordID string            `json:"record_id,omitempty"`
	NoteType string            `json:"note_type"`
	Applied  []string          `json:"applied,omitempty"`
	Skipped  []string          `json:"skipped,omitempty"`
	Pending  []string          `json:"pending,omitempty"`
	Errors   []FieldError      `json:"errors,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	Status   Status            `json:"status"`
	// Reason explains an empty selection (no mapping, trigger disabled).
	Reason string `json:"reason,omitempty"`
	// Unexpected holds a recovered failure outside the backend call.
	Unexpected string `json:"unexpected,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}

func (o *Outcome) finish() {
	switch {
	case len(o.Errors) > 0 || o.Unexpected != "":
		o.Status = StatusError
	case len(o.Applied) > 0:
		o.Status = StatusSuccess
	default:
		o.Status = StatusSkip
	}
}

// UnexpectedOutcome reports a record that could not be processed at all.
func UnexpectedOutcome(recordID, noteType, msg string) Outcome {
	o := Outcome{RecordID: recordID, NoteType: noteType, Unexpected: msg}
	o.finish()
	return o
}
