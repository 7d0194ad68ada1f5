// Package mapping holds the per-note-type generation rules and decides
// which target fields a trigger should (re)generate.
package mapping

import (
	"fmt"
	"sort"
	"strings"
)

// Trigger is a host lifecycle event that may activate generation.
type Trigger string

const (
	TriggerMining    Trigger = "mining"     // note added by an external tool (Yomitan, AnkiConnect)
	TriggerAddCards  Trigger = "add_cards"  // note added in the host's Add dialog
	TriggerBrowse    Trigger = "browse"     // bulk action on selected notes
	TriggerFocusLost Trigger = "focus_lost" // editor field lost focus
	TriggerToolbar   Trigger = "toolbar"    // explicit editor button
)

// AllTriggers lists every known trigger in display order.
var AllTriggers = []Trigger{TriggerMining, TriggerAddCards, TriggerBrowse, TriggerFocusLost, TriggerToolbar}

// ParseTrigger validates a trigger name.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTriggers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown trigger %q (want one of %s)", s, triggerList())
}

func triggerList() string {
	names := make([]string, len(AllTriggers))
	for i, t := range AllTriggers {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// TargetFieldConfig says how one field is generated.
type TargetFieldConfig struct {
	FieldName      string `json:"field_name"`
	PromptTemplate string `json:"prompt_template"`
	Overwrite      bool   `json:"overwrite"`
}

// FieldMapping is the generation configuration of one note type.
type FieldMapping struct {
	NoteType     string              `json:"note_type"`
	SourceFields []string            `json:"source_fields"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	Triggers     []Trigger           `json:"triggers,omitempty"` // empty means every trigger
	Targets      []TargetFieldConfig `json:"target_fields"`

	// SkipIfSourcesEmpty selects nothing when every source field is blank.
	SkipIfSourcesEmpty bool `json:"skip_if_sources_empty,omitempty"`
}

// Allows reports whether trigger t may activate this mapping.
func (m FieldMapping) Allows(t Trigger) bool {
	if len(m.Triggers) == 0 {
		return true
	}
	for _, allowed := range m.Triggers {
		if allowed == t {
			return true
		}
	}
	return false
}

// TargetNames returns the target field names in declared order.
func (m FieldMapping) TargetNames() []string {
	names := make([]string, len(m.Targets))
	for i, t := range m.Targets {
		names[i] = t.FieldName
	}
	return names
}

// Set holds at most one FieldMapping per note type.
type Set map[string]FieldMapping

// Lookup returns the mapping for noteType.
func (s Set) Lookup(noteType string) (FieldMapping, bool) {
	m, ok := s[noteType]
	return m, ok
}

// NoteTypes returns the configured note types, sorted.
func (s Set) NoteTypes() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
