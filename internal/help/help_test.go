package help

import (
	"fmt"
	"strings"
	"testing"
)

// expectedTerminal maps command name → exact expected terminal output.
var expectedTerminal = map[string]string{
	"init": "cardfill init — write a default config file\n" +
		"\n" +
		"Usage: cardfill init [path]\n" +
		"\n" +
		"Arguments:\n" +
		"  path   Config file to create (default: ~/.config/cardfill/config.toml)\n" +
		"\n" +
		"Writes a commented config.toml with backend defaults for a local\n" +
		"Ollama server and an example note type mapping. An existing file is\n" +
		"never overwritten.\n" +
		"\n" +
		"Examples:\n" +
		"  cardfill init                          Create the default config\n" +
		"  cardfill init ./cardfill.toml          Create a config at a specific path\n" +
		"\n" +
		"See also: cardfill check\n",

	"fill": "cardfill fill — batch-generate fields for many records\n" +
		"\n" +
		"Usage: cardfill fill [file] [--note-type <name>] [--trigger <name>] [--overwrite] [--limit <n>] [--id <id>]\n" +
		"\n" +
		"Arguments:\n" +
		"  file                 Record file to fill in place (default: the note store)\n" +
		"\n" +
		"Flags:\n" +
		"  --note-type <name>   Run every record as this note type\n" +
		"  --trigger <name>     Trigger to evaluate (default: browse)\n" +
		"  --overwrite          Regenerate filled target fields\n" +
		"  --limit <n>          Only process the first n store records\n" +
		"  --id <id>            Only process the store note with this ID\n" +
		"\n" +
		"Runs records one at a time with delay_between_requests_ms between\n" +
		"them. One failing record never stops the batch. Interrupt (Ctrl-C)\n" +
		"stops cleanly: finished records keep their values and the rest are\n" +
		"reported as not started.\n" +
		"\n" +
		"Each run is archived to the state directory and listed by cardfill runs.\n" +
		"\n" +
		"Examples:\n" +
		"  cardfill fill deck.json                  Fill a file in place\n" +
		"  cardfill fill --note-type Vocab          Fill Vocab notes in the store\n" +
		"  cardfill fill --overwrite --limit 10     Regenerate the first 10 notes\n" +
		"\n" +
		"See also: cardfill runs, cardfill report\n",

	"runs": "cardfill runs — list recent batch runs\n" +
		"\n" +
		"Usage: cardfill runs [--limit <n>]\n" +
		"\n" +
		"Flags:\n" +
		"  --limit <n>   Number of runs to show (default: 20)\n" +
		"\n" +
		"See also: cardfill report\n",

	"test-connection": "cardfill test-connection — probe the configured backend\n" +
		"\n" +
		"Usage: cardfill test-connection\n" +
		"\n" +
		"Sends one minimal request to the configured backend and reports\n" +
		"success, or the error kind and message. Exit code 1 on failure.\n" +
		"\n" +
		"See also: cardfill check\n",

	"version": "cardfill version — print version\n" +
		"\n" +
		"Usage: cardfill version\n",
}

func TestFormatTerminal(t *testing.T) {
	for name, expected := range expectedTerminal {
		t.Run(name, func(t *testing.T) {
			cmd, ok := Lookup(name)
			if !ok {
				t.Fatalf("no command %q", name)
			}
			got := FormatTerminal(cmd)
			if got != expected {
				t.Errorf("FormatTerminal(%q) mismatch.\n--- expected ---\n%s\n--- got ---\n%s\n--- diff ---\n%s",
					name, quote(expected), quote(got), diff(expected, got))
			}
		})
	}
}

func TestFormatTerminal_AllCommands(t *testing.T) {
	for _, cmd := range Subcommands {
		t.Run(cmd.Name, func(t *testing.T) {
			out := FormatTerminal(cmd)
			prefix := fmt.Sprintf("cardfill %s — %s\n", cmd.Name, cmd.Synopsis)
			if !strings.HasPrefix(out, prefix) {
				t.Errorf("FormatTerminal(%q) header mismatch.\nwant prefix: %q\ngot:         %q", cmd.Name, prefix, out[:min(len(out), len(prefix)+20)])
			}
			if !strings.Contains(out, "Usage: "+cmd.Usage) {
				t.Errorf("FormatTerminal(%q) missing usage line", cmd.Name)
			}
			for _, f := range cmd.Flags {
				if !strings.Contains(out, "  "+f.Name) {
					t.Errorf("FormatTerminal(%q) missing flag %q", cmd.Name, f.Name)
				}
			}
			if strings.Contains(out, "\n\n\n") {
				t.Errorf("FormatTerminal(%q) has a double blank line", cmd.Name)
			}
		})
	}
}

func TestFormatUsage(t *testing.T) {
	expected := fmt.Sprintf("cardfill v%s — LLM field generation for flashcards\n", Version) +
		"\n" +
		"Usage:\n" +
		"  cardfill init [path]               Write a default config file\n" +
		"  cardfill check [--offline]         Validate config, mappings, store, and backend\n" +
		"  cardfill test-connection           Probe the configured backend\n" +
		"  cardfill hook [--trigger T]        Hook mode (record on stdin, result on stdout)\n" +
		"  cardfill import <file>             Load records into the note store\n" +
		"  cardfill fill [file] [flags]       Batch-generate fields for many records\n" +
		"  cardfill watch <dir>               Fill record files dropped into a directory\n" +
		"  cardfill serve [--listen <addr>]   Serve the generation API over HTTP\n" +
		"  cardfill runs [--limit <n>]        List recent batch runs\n" +
		"  cardfill report <run-id>           Show the outcomes of an archived run\n" +
		"  cardfill version                   Print version\n" +
		"  cardfill help [command]            Show this help\n" +
		"\n" +
		"Global flags:\n" +
		"  --config <path>   Config file (default: $CARDFILL_CONFIG or ~/.config/cardfill/config.toml)\n" +
		"\n" +
		"Host integration:\n" +
		"  cardfill hook < event.json > result.json\n" +
		"\n" +
		"Configuration: ~/.config/cardfill/config.toml\n"

	got := FormatUsage(TopLevel, Subcommands)
	if got != expected {
		t.Errorf("FormatUsage mismatch.\n--- expected ---\n%s\n--- got ---\n%s\n--- diff ---\n%s",
			quote(expected), quote(got), diff(expected, got))
	}
}

func TestRelatedCommands(t *testing.T) {
	got := relatedCommands([]string{"cardfill(1)", "cardfill-check(1)", "cardfill-test-connection(1)", "zstd(1)"})
	want := []string{"cardfill check", "cardfill test-connection"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("relatedCommands = %q, want %q", got, want)
	}
	if got := relatedCommands([]string{"cardfill(1)"}); len(got) != 0 {
		t.Errorf("top-level ref only: got %q", got)
	}
}

func TestRegistryCompleteness(t *testing.T) {
	expectedNames := []string{
		"init", "check", "test-connection", "hook", "import",
		"fill", "watch", "serve", "runs", "report", "version",
	}
	if len(Subcommands) != len(expectedNames) {
		t.Fatalf("expected %d subcommands, got %d", len(expectedNames), len(Subcommands))
	}
	for i, name := range expectedNames {
		if Subcommands[i].Name != name {
			t.Errorf("Subcommands[%d].Name = %q, want %q", i, Subcommands[i].Name, name)
		}
		if Subcommands[i].Synopsis == "" {
			t.Errorf("Subcommands[%d] (%s) has empty Synopsis", i, name)
		}
		if Subcommands[i].Usage == "" {
			t.Errorf("Subcommands[%d] (%s) has empty Usage", i, name)
		}
		if Subcommands[i].Brief == "" {
			t.Errorf("Subcommands[%d] (%s) has empty Brief", i, name)
		}
	}
}

func TestLookup(t *testing.T) {
	if c, ok := Lookup("fill"); !ok || c.Name != "fill" {
		t.Errorf("Lookup(fill) = %+v, %v", c, ok)
	}
	if _, ok := Lookup("process"); ok {
		t.Error("Lookup(process) should fail")
	}
}

func TestManName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", "cardfill"},
		{"init", "cardfill-init"},
		{"test-connection", "cardfill-test-connection"},
	}
	for _, tt := range tests {
		c := Command{Name: tt.name}
		if got := c.ManName(); got != tt.want {
			t.Errorf("Command{Name: %q}.ManName() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEscapeRoff(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`simple text`, `simple text`},
		{`back\slash`, `back\\slash`},
		{`.leading dot`, `\&.leading dot`},
		{"line1\n.line2", "line1\n\\&.line2"},
		{`--flag`, `\-\-flag`},
		{`a-b`, `a\-b`},
		{`.cardfill-123.tmp`, `\&.cardfill\-123.tmp`},
		{`'quoted`, `\&'quoted`},
		{"ok\n'x", "ok\n\\&'x"},
	}
	for _, tt := range tests {
		got := escapeRoff(tt.input)
		if got != tt.want {
			t.Errorf("escapeRoff(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatRoffStructure(t *testing.T) {
	fixedDate := "2026-02-27"

	for _, cmd := range Subcommands {
		t.Run(cmd.Name, func(t *testing.T) {
			out := FormatRoff(cmd, fixedDate)

			required := []string{".TH", ".SH NAME", ".SH SYNOPSIS"}
			for _, section := range required {
				if !strings.Contains(out, section) {
					t.Errorf("FormatRoff(%q) missing required section %q", cmd.Name, section)
				}
			}

			expectedTH := strings.ToUpper(cmd.ManName())
			if !strings.Contains(out, ".TH "+expectedTH) {
				t.Errorf("FormatRoff(%q) .TH should contain %q", cmd.Name, expectedTH)
			}

			if cmd.Description != "" && !strings.Contains(out, ".SH DESCRIPTION") {
				t.Errorf("FormatRoff(%q) has Description but missing .SH DESCRIPTION", cmd.Name)
			}
			if (len(cmd.Args) > 0 || len(cmd.Flags) > 0) && !strings.Contains(out, ".SH OPTIONS") {
				t.Errorf("FormatRoff(%q) has Args/Flags but missing .SH OPTIONS", cmd.Name)
			}
			if len(cmd.Examples) > 0 && !strings.Contains(out, ".SH EXAMPLES") {
				t.Errorf("FormatRoff(%q) has Examples but missing .SH EXAMPLES", cmd.Name)
			}
			if len(cmd.SeeAlso) > 0 && !strings.Contains(out, ".SH SEE ALSO") {
				t.Errorf("FormatRoff(%q) has SeeAlso but missing .SH SEE ALSO", cmd.Name)
			}
		})
	}
}

func TestFormatRoffTopLevelStructure(t *testing.T) {
	fixedDate := "2026-02-27"
	out := FormatRoffTopLevel(TopLevel, Subcommands, fixedDate)

	required := []string{
		".TH CARDFILL 1",
		".SH NAME",
		".SH SYNOPSIS",
		".SH DESCRIPTION",
		".SH COMMANDS",
		".SH TRIGGERS",
		".SH FILES",
		".SH ENVIRONMENT",
		".SH EXIT STATUS",
		".SH SEE ALSO",
	}
	for _, section := range required {
		if !strings.Contains(out, section) {
			t.Errorf("FormatRoffTopLevel missing section %q", section)
		}
	}

	for _, cmd := range Subcommands {
		escaped := escapeRoff(cmd.Brief)
		if !strings.Contains(out, escaped) {
			t.Errorf("FormatRoffTopLevel missing subcommand brief %q (escaped: %q)", cmd.Brief, escaped)
		}
	}
}

func TestFormatRoffTopLevelListsTriggers(t *testing.T) {
	out := FormatRoffTopLevel(TopLevel, Subcommands, "2026-02-27")
	for _, tr := range []string{"mining", "add_cards", "browse", "focus_lost", "toolbar"} {
		if !strings.Contains(out, ".B "+tr+"\n") {
			t.Errorf("TRIGGERS section missing %q", tr)
		}
	}
	if !strings.Contains(out, ".B CARDFILL_CONFIG\n") {
		t.Error("ENVIRONMENT section missing CARDFILL_CONFIG")
	}
}

func TestFormatRoffExitStatus(t *testing.T) {
	out := FormatRoff(CmdFill, "2026-02-27")
	if !strings.Contains(out, ".SH EXIT STATUS\n.TP\n.B 0\n") {
		t.Errorf("fill page missing exit status:\n%s", out)
	}
	if strings.Contains(FormatRoff(CmdVersion, "2026-02-27"), ".SH EXIT STATUS") {
		t.Error("version page should have no EXIT STATUS section")
	}
	// Terminal help stays short.
	if strings.Contains(FormatTerminal(CmdFill), "was interrupted") {
		t.Error("exit status leaked into terminal help")
	}
}

func TestManPages(t *testing.T) {
	pages := ManPages("2026-02-27")
	if len(pages) != len(Subcommands)+1 {
		t.Fatalf("got %d pages, want %d", len(pages), len(Subcommands)+1)
	}
	if pages[0].Name != "cardfill.1" || !strings.HasPrefix(pages[0].Content, ".TH CARDFILL 1 ") {
		t.Errorf("first page = %q", pages[0].Name)
	}
	seen := map[string]bool{}
	for _, p := range pages {
		if seen[p.Name] {
			t.Errorf("duplicate page %s", p.Name)
		}
		seen[p.Name] = true
		if !strings.Contains(p.Content, `"2026-02-27"`) {
			t.Errorf("%s: date not used", p.Name)
		}
	}
	if !seen["cardfill-test-connection.1"] {
		t.Error("missing cardfill-test-connection.1")
	}
}

func TestFormatRoffEscapesHookPayload(t *testing.T) {
	out := FormatRoff(CmdHook, "2026-02-27")
	if !strings.Contains(out, `add_cards`) {
		t.Error("FormatRoff(hook) lost the trigger list")
	}
	if strings.Contains(out, "\n--") {
		t.Error("FormatRoff(hook) left a bare leading hyphen")
	}
}

func TestWriteDescription(t *testing.T) {
	var b strings.Builder
	writeDescription(&b, "Reads a payload:\n\n  {\"trigger\": \"mining\"}\n  .dot-line\n\nthen exits.\nSecond line.")
	want := "Reads a payload:\n" +
		".PP\n" +
		".RS 4\n.nf\n" +
		"{\"trigger\": \"mining\"}\n" +
		"\\&.dot\\-line\n" +
		".fi\n.RE\n" +
		".PP\n" +
		"then exits.\n" +
		"Second line.\n"
	if got := b.String(); got != want {
		t.Errorf("writeDescription:\ngot:  %s\nwant: %s", quote(got), quote(want))
	}
}

func TestFormatRoffKeepsServeEndpointsVerbatim(t *testing.T) {
	out := FormatRoff(CmdServe, "2026-02-27")
	if !strings.Contains(out, ".nf\nGET  /healthz") {
		t.Errorf("endpoint table not in a no-fill block:\n%s", out)
	}
	if strings.Count(out, ".nf\n") != strings.Count(out, ".fi\n") {
		t.Error("unbalanced .nf/.fi")
	}
}

func TestFormatManRef(t *testing.T) {
	if got := formatManRef("cardfill-init(1)"); got != `.BR cardfill\-init (1)` {
		t.Errorf("formatManRef = %q", got)
	}
	if got := formatManRef("zstd"); got != ".B zstd" {
		t.Errorf("formatManRef(no section) = %q", got)
	}
}

// quote shows a string with escape sequences visible.
func quote(s string) string {
	return fmt.Sprintf("%q", s)
}

// diff shows a line-by-line comparison highlighting the first difference.
func diff(expected, got string) string {
	el := strings.Split(expected, "\n")
	gl := strings.Split(got, "\n")
	max := len(el)
	if len(gl) > max {
		max = len(gl)
	}
	var b strings.Builder
	for i := 0; i < max; i++ {
		var e, g string
		if i < len(el) {
			e = el[i]
		}
		if i < len(gl) {
			g = gl[i]
		}
		if e != g {
			fmt.Fprintf(&b, "! line %d:\n  exp: %q\n  got: %q\n", i+1, e, g)
		}
	}
	return b.String()
}
