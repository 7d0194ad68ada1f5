package logger

import "testing"

func TestSanitizeKVs(t *testing.T) {
	got := sanitizeKVs([]interface{}{"model", "llama3.2", "api_key", "sk-123", "Authorization", "Bearer x", "dangling"})

	want := []interface{}{"model", "llama3.2", "api_key", "[REDACTED]", "Authorization", "[REDACTED]", "dangling"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kv[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNew_BadLevelFallsBack(t *testing.T) {
	l, err := New(Options{Level: "loud", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hello", "k", "v")
	l.With("record", "1").Debug("dropped at info level")
}

func TestNop(t *testing.T) {
	Nop().Error("discarded", "err", "x")
}

func TestIsRedactKey(t *testing.T) {
	for key, want := range map[string]bool{
		"token":         true,
		"access_token":  true,
		"max_tokens":    false,
		"client_secret": true,
		"field":         false,
	} {
		if got := isRedactKey(key); got != want {
			t.Errorf("isRedactKey(%q) = %v, want %v", key, got, want)
		}
	}
}
