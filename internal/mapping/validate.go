package mapping

import (
	"fmt"
	"strings"

	"github.com/suykerbuyk/cardfill/internal/template"
)

// Severity of a validation problem.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Problem is one validation finding about a mapping.
type Problem struct {
	Severity Severity
	NoteType string
	Field    string // offending field, if any
	Message  string
}

func (p Problem) Error() string {
	var b strings.Builder
	b.WriteString(p.Severity.String())
	if p.NoteType != "" {
		fmt.Fprintf(&b, " [%s", p.NoteType)
		if p.Field != "" {
			fmt.Fprintf(&b, ".%s", p.Field)
		}
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(p.Message)
	return b.String()
}

// Problems is a list of findings.
type Problems []Problem

// HasErrors reports whether any finding is an error.
func (ps Problems) HasErrors() bool {
	for _, p := range ps {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ByNoteType returns the note types with at least one error.
func (ps Problems) ByNoteType() map[string]bool {
	bad := make(map[string]bool)
	for _, p := range ps {
		if p.Severity == SeverityError && p.NoteType != "" {
			bad[p.NoteType] = true
		}
	}
	return bad
}

func (ps *Problems) addError(noteType, field, format string, args ...any) {
	*ps = append(*ps, Problem{Severity: SeverityError, NoteType: noteType, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (ps *Problems) addWarning(noteType, field, format string, args ...any) {
	*ps = append(*ps, Problem{Severity: SeverityWarning, NoteType: noteType, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the structure of m. When schema (the note type's field
// names) is non-nil, field references are checked against it as well.
func Validate(m FieldMapping, schema []string) Problems {
	var ps Problems
	nt := m.NoteType

	if strings.TrimSpace(nt) == "" {
		ps.addError("", "", "mapping has no note type")
	}

	known := map[string]bool(nil)
	if schema != nil {
		known = make(map[string]bool, len(schema))
		for _, f := range schema {
			known[f] = true
		}
	}

	seenSource := make(map[string]bool)
	for _, s := range m.SourceFields {
		switch {
		case strings.TrimSpace(s) == "":
			ps.addError(nt, "", "empty source field name")
		case seenSource[s]:
			ps.addError(nt, s, "duplicate source field")
		case known != nil && !known[s]:
			ps.addError(nt, s, "source field does not exist on note type")
		}
		seenSource[s] = true
	}

	for _, t := range m.Triggers {
		if _, err := ParseTrigger(string(t)); err != nil {
			ps.addError(nt, "", "%v", err)
		}
	}

	if len(m.Targets) == 0 {
		ps.addError(nt, "", "mapping has no target fields")
	}

	seenTarget := make(map[string]bool)
	for i, t := range m.Targets {
		name := t.FieldName
		switch {
		case strings.TrimSpace(name) == "":
			ps.addError(nt, "", "target #%d has no field_name", i+1)
			continue
		case seenTarget[name]:
			ps.addError(nt, name, "duplicate target field")
		case known != nil && !known[name]:
			ps.addError(nt, name, "target field does not exist on note type")
		}
		seenTarget[name] = true

		if strings.TrimSpace(t.PromptTemplate) == "" {
			ps.addWarning(nt, name, "empty prompt_template")
		}
		if known != nil {
			for _, p := range template.Placeholders(t.PromptTemplate) {
				if !known[p] {
					ps.addWarning(nt, name, "placeholder {{%s}} names no field and will render empty", p)
				}
			}
		}
	}

	return ps
}

// ValidateSet validates every mapping in s against the optional schemas
// (note type → field names). Note types missing from schemas are only
// checked structurally.
func ValidateSet(s Set, schemas map[string][]string) Problems {
	var ps Problems
	for _, nt := range s.NoteTypes() {
		m := s[nt]
		if m.NoteType == "" {
			m.NoteType = nt
		}
		ps = append(ps, Validate(m, schemas[nt])...)
	}
	return ps
}
