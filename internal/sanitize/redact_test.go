package sanitize

import "testing"

func TestStripReasoning_NoTags(t *testing.T) {
	input := "a small domesticated carnivore"
	if got := StripReasoning("  " + input + "\n"); got != input {
		t.Errorf("StripReasoning = %q, want %q", got, input)
	}
}

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"think", "<think>the user wants a gloss</think>\n\ncat", "cat"},
		{"thinking", "<thinking>hmm</thinking>cat", "cat"},
		{"reasoning", "<reasoning>step 1\nstep 2</reasoning> cat", "cat"},
		{"multiline", "<think>\nline one\nline two\n</think>\nneko (cat)", "neko (cat)"},
		{"two blocks", "<think>a</think>cat<think>b</think>", "cat"},
		{"unterminated", "<think>still thinking when max_tokens ran out", ""},
		{"mid-text open tag kept", "use <think> tags sparingly", "use <think> tags sparingly"},
		{"html kept", "<b>neko</b>", "<b>neko</b>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripReasoning(tt.input); got != tt.want {
				t.Errorf("StripReasoning(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		text    string
		secrets []string
		want    string
	}{
		{"bad key sk-123", []string{"sk-123"}, "bad key [REDACTED]"},
		{"sk-123 and sk-123", []string{"sk-123"}, "[REDACTED] and [REDACTED]"},
		{"nothing here", []string{"sk-123"}, "nothing here"},
		{"empty secret", []string{""}, "empty secret"},
		{"a b", []string{"a", "b"}, "[REDACTED] [REDACTED]"},
	}
	for _, tt := range tests {
		if got := Redact(tt.text, tt.secrets...); got != tt.want {
			t.Errorf("Redact(%q, %q) = %q, want %q", tt.text, tt.secrets, got, tt.want)
		}
	}
}
