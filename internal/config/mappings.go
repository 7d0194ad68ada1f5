package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/suykerbuyk/cardfill/internal/mapping"
)

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler for StringList.
func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = []string{single}
		return nil
	}

	var multi []string
	if err := unmarshal(&multi); err == nil {
		*s = multi
		return nil
	}

	return errors.New("expected string or list of strings")
}

// UnmarshalTOML implements toml.Unmarshaler for StringList.
func (s *StringList) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		*s = []string{val}
		return nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, str)
		}
		*s = out
		return nil
	}
	return fmt.Errorf("expected string or array of strings, got %T", v)
}

type rawTarget struct {
	FieldName      string `toml:"field_name" yaml:"field_name"`
	PromptTemplate string `toml:"prompt_template" yaml:"prompt_template"`
	Overwrite      bool   `toml:"overwrite" yaml:"overwrite"`
}

// rawMapping is one note type's mapping as written in TOML or YAML,
// including the legacy source_field and triggered_by spellings.
type rawMapping struct {
	NoteType           string      `toml:"note_type" yaml:"note_type"`
	SourceFields       StringList  `toml:"source_fields" yaml:"source_fields"`
	SourceField        string      `toml:"source_field" yaml:"source_field"`
	SystemPrompt       string      `toml:"system_prompt" yaml:"system_prompt"`
	Triggers           StringList  `toml:"triggers" yaml:"triggers"`
	TriggeredBy        StringList  `toml:"triggered_by" yaml:"triggered_by"`
	Targets            []rawTarget `toml:"target_fields" yaml:"targets"`
	TargetFields       []rawTarget `toml:"-" yaml:"target_fields"`
	SkipIfSourcesEmpty bool        `toml:"skip_if_sources_empty" yaml:"skip_if_sources_empty"`
}

type mappingsFile struct {
	Mappings []rawMapping `yaml:"mappings"`
}

func loadMappingsFile(path string) ([]rawMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings file %s: %w", path, err)
	}
	return parseMappings(data)
}

func parseMappings(data []byte) ([]rawMapping, error) {
	var mf mappingsFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse mappings YAML: %w", err)
	}
	return mf.Mappings, nil
}

func (r rawMapping) toMapping(noteType string) mapping.FieldMapping {
	m := mapping.FieldMapping{
		NoteType:           noteType,
		SystemPrompt:       r.SystemPrompt,
		SkipIfSourcesEmpty: r.SkipIfSourcesEmpty,
	}

	if r.SourceField != "" && !contains(r.SourceFields, r.SourceField) {
		m.SourceFields = append(m.SourceFields, r.SourceField)
	}
	m.SourceFields = append(m.SourceFields, r.SourceFields...)

	seen := make(map[mapping.Trigger]bool)
	for _, s := range append(append([]string{}, r.Triggers...), r.TriggeredBy...) {
		t, err := mapping.ParseTrigger(s)
		if err != nil {
			// kept verbatim so validation reports it
			t = mapping.Trigger(s)
		}
		if !seen[t] {
			seen[t] = true
			m.Triggers = append(m.Triggers, t)
		}
	}

	for _, t := range append(append([]rawTarget{}, r.Targets...), r.TargetFields...) {
		m.Targets = append(m.Targets, mapping.TargetFieldConfig{
			FieldName:      strings.TrimSpace(t.FieldName),
			PromptTemplate: t.PromptTemplate,
			Overwrite:      t.Overwrite,
		})
	}
	return m
}

// assemble merges TOML mappings (keyed by note type) and YAML mappings
// into a validated Set. Note types with any error are left out.
func assemble(fromTOML map[string]rawMapping, fromYAML []rawMapping, schemas map[string][]string) (mapping.Set, mapping.Problems) {
	var ps mapping.Problems
	candidates := make(map[string]mapping.FieldMapping)
	duplicate := make(map[string]bool)

	keys := make([]string, 0, len(fromTOML))
	for k := range fromTOML {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, nt := range keys {
		candidates[nt] = fromTOML[nt].toMapping(nt)
	}

	for i, r := range fromYAML {
		nt := strings.TrimSpace(r.NoteType)
		if nt == "" {
			ps = append(ps, mapping.Problem{
				Severity: mapping.SeverityError,
				Message:  fmt.Sprintf("mappings file entry #%d has no note_type", i+1),
			})
			continue
		}
		if _, exists := candidates[nt]; exists {
			duplicate[nt] = true
			continue
		}
		candidates[nt] = r.toMapping(nt)
	}

	set := make(mapping.Set, len(candidates))
	for nt, m := range candidates {
		set[nt] = m
	}
	for _, nt := range set.NoteTypes() {
		if duplicate[nt] {
			ps = append(ps, mapping.Problem{
				Severity: mapping.SeverityError,
				NoteType: nt,
				Message:  "duplicate mapping for note type",
			})
		}
	}
	ps = append(ps, mapping.ValidateSet(set, schemas)...)

	for nt := range ps.ByNoteType() {
		delete(set, nt)
	}
	return set, ps
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
