package mapping

import (
	"slices"
	"strings"
)

// Options carries per-event context for resolution.
type Options struct {
	// ForceOverwrite treats every target as overwrite=true (the editor's
	// "regenerate" button).
	ForceOverwrite bool
	// FocusedField names the editor field that lost focus. A focus_lost
	// trigger only generates when it is one of the mapping's source fields.
	FocusedField string
}

// Target is a target field selected for generation.
type Target struct {
	Config TargetFieldConfig
	// Inputs holds the declared source fields' current values.
	Inputs map[string]string
}

// Resolution is the resolver's answer for one record and trigger.
type Resolution struct {
	Mapping *FieldMapping // nil when no mapping applies
	Targets []Target      // to generate, declared order
	Skipped []string      // excluded by the overwrite rule, declared order
	Reason  string        // why nothing was selected, when Targets is empty
}

const (
	ReasonNoMapping    = "no mapping for note type"
	ReasonTrigger      = "trigger not enabled for note type"
	ReasonSourcesEmpty = "all source fields are empty"
	ReasonAllFilled    = "all target fields already filled"
	ReasonFocusField   = "focused field is not a source field"
)

// Resolve selects the target fields of noteType's mapping that trigger
// should generate for a record whose current values are fields.
//
// A target is selected unless overwrite is off and the record already
// holds a non-blank value for it. Resolve never fails: a missing mapping
// or a disabled trigger yields an empty Resolution, as does focus_lost on
// a field that is not a source field.
func Resolve(set Set, noteType string, trigger Trigger, fields map[string]string, opts Options) Resolution {
	m, ok := set.Lookup(noteType)
	if !ok {
		return Resolution{Reason: ReasonNoMapping}
	}
	if !m.Allows(trigger) {
		return Resolution{Mapping: &m, Reason: ReasonTrigger}
	}
	if trigger == TriggerFocusLost && !slices.Contains(m.SourceFields, opts.FocusedField) {
		return Resolution{Mapping: &m, Reason: ReasonFocusField}
	}

	inputs := make(map[string]string, len(m.SourceFields))
	sourcesBlank := true
	for _, name := range m.SourceFields {
		v := fields[name]
		inputs[name] = v
		if strings.TrimSpace(v) != "" {
			sourcesBlank = false
		}
	}

	res := Resolution{Mapping: &m}
	if m.SkipIfSourcesEmpty && sourcesBlank {
		res.Skipped = m.TargetNames()
		res.Reason = ReasonSourcesEmpty
		return res
	}

	for _, tc := range m.Targets {
		overwrite := tc.Overwrite || opts.ForceOverwrite
		if !overwrite && strings.TrimSpace(fields[tc.FieldName]) != "" {
			res.Skipped = append(res.Skipped, tc.FieldName)
			continue
		}
		res.Targets = append(res.Targets, Target{Config: tc, Inputs: inputs})
	}
	if len(res.Targets) == 0 && len(res.Skipped) > 0 {
		res.Reason = ReasonAllFilled
	}
	return res
}
