// Package template substitutes {{FieldName}} placeholders in prompt
// templates with record field values.
package template

import "strings"

const (
	open  = "{{"
	close = "}}"
)

// Render replaces every well-formed {{Name}} placeholder in tmpl with
// fields[Name]. Names missing from fields render as the empty string.
//
// A placeholder is well-formed when a non-empty name containing no '{',
// '}' or line break sits between "{{" and "}}". Anything else that starts
// with "{{" is copied through verbatim. Substituted values are never
// rescanned.
func Render(tmpl string, fields map[string]string) string {
	if !strings.Contains(tmpl, open) {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))

	rest := tmpl
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		rest = rest[i:]

		name, n, ok := placeholderAt(rest)
		if !ok {
			// Inert: emit one brace and rescan from the next byte so that
			// "{{{Name}}" still resolves the inner placeholder.
			b.WriteByte(rest[0])
			rest = rest[1:]
			continue
		}
		b.WriteString(fields[name])
		rest = rest[n:]
	}
	return b.String()
}

// Placeholders returns the placeholder names in tmpl, in order of first
// appearance, without duplicates.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)

	rest := tmpl
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			return names
		}
		rest = rest[i:]
		name, n, ok := placeholderAt(rest)
		if !ok {
			rest = rest[1:]
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		rest = rest[n:]
	}
}

// placeholderAt parses a placeholder at the start of s, which must begin
// with "{{". It returns the name and the number of bytes consumed.
func placeholderAt(s string) (string, int, bool) {
	body := s[len(open):]
	end := strings.Index(body, close)
	if end <= 0 {
		return "", 0, false
	}
	name := body[:end]
	if strings.ContainsAny(name, "{}\r\n") {
		return "", 0, false
	}
	return name, len(open) + end + len(close), true
}
