package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigDir returns the cardfill config directory path.
// Uses $XDG_CONFIG_HOME/cardfill if set, otherwise ~/.config/cardfill.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cardfill")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cardfill")
}

// DefaultPath returns the config file that Load reads when no override is
// set.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

const defaultTOML = `# cardfill configuration

api_base_url = "http://localhost:11434"
api_key = ""
# api_key_env = "OPENAI_API_KEY"
model = "llama3.2"
api_mode = "ollama"            # ollama | openai
temperature = 0.7
max_tokens = 500
timeout = 60                   # seconds per request
auto_fill_on_new_card = true
delay_between_requests_ms = 500
# mappings_file = "mappings.yaml"
state_dir = "~/.local/share/cardfill"

[retry]
max_attempts = 3
initial_delay_ms = 500
max_delay_ms = 5000
multiplier = 2.0

[log]
level = "info"                 # debug | info | warn | error
format = "console"             # console | json

[server]
listen = "127.0.0.1:8765"

# [note_type_mappings."Basic"]
# source_fields = ["Front"]
# system_prompt = "You are a concise dictionary."
# triggers = ["add_cards", "browse", "toolbar"]
#
# [[note_type_mappings."Basic".target_fields]]
# field_name = "Back"
# prompt_template = "Define {{Front}}."
# overwrite = false
`

// WriteDefault writes a commented default config.toml to path (DefaultPath
// when empty). Returns the path and "created", or "exists" when a file is
// already there; existing files are never overwritten.
func WriteDefault(path string) (string, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		return path, "exists", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("create config dir: %w", err)
	}

	// 0600: the file may later hold an api_key.
	if err := os.WriteFile(path, []byte(defaultTOML), 0o600); err != nil {
		return "", "", fmt.Errorf("write config: %w", err)
	}

	return path, "created", nil
}

// CompressHome replaces $HOME prefix with ~/ for display.
func CompressHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home+"/") {
		return "~/" + path[len(home)+1:]
	}
	if path == home {
		return "~"
	}
	return path
}
