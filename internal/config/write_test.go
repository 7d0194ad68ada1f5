package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteDefault_CreatesConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvConfigPath, "")

	path, action, err := WriteDefault("")
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if action != "created" {
		t.Errorf("action = %q, want %q", action, "created")
	}

	want := filepath.Join(dir, "cardfill", "config.toml")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	for _, section := range []string{"api_mode", "[retry]", "[log]", "[server]", "note_type_mappings"} {
		if !strings.Contains(content, section) {
			t.Errorf("config missing %s", section)
		}
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if _, _, err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	def := DefaultConfig()
	if cfg.Model != def.Model || cfg.MaxTokens != def.MaxTokens || cfg.Retry != def.Retry || cfg.Server != def.Server {
		t.Errorf("written default differs from DefaultConfig: %+v", cfg)
	}
}

func TestWriteDefault_KeepsExisting(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `model = "mine"`)

	got, action, err := WriteDefault(path)
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if action != "exists" || got != path {
		t.Errorf("action = %q path = %q", action, got)
	}

	data, _ := os.ReadFile(path)
	if string(data) != `model = "mine"` {
		t.Errorf("existing config was modified: %q", data)
	}
}

func TestCompressHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in, want string
	}{
		{filepath.Join(home, "state"), "~/state"},
		{home, "~"},
		{"/other/path", "/other/path"},
		{home + "x/y", home + "x/y"},
	}
	for _, tt := range tests {
		if got := CompressHome(tt.in); got != tt.want {
			t.Errorf("CompressHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
