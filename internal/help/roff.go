package help

import (
	"fmt"
	"strings"
	"time"
)

// FormatRoff renders a subcommand as a roff-formatted man page (.1).
// If date is empty, today's date is used (pass a fixed date for reproducible builds).
func FormatRoff(c Command, date string) string {
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	var b strings.Builder

	// .TH header
	fmt.Fprintf(&b, ".TH %s 1 %q %q %q\n",
		strings.ToUpper(c.ManName()), date, "cardfill "+Version, "Cardfill Manual")

	// NAME
	b.WriteString(".SH NAME\n")
	fmt.Fprintf(&b, "%s \\- %s\n", c.ManName(), escapeRoff(c.Synopsis))

	// SYNOPSIS
	b.WriteString(".SH SYNOPSIS\n")
	b.WriteString(".B " + escapeRoff(c.Usage) + "\n")

	// DESCRIPTION
	if c.Description != "" {
		b.WriteString(".SH DESCRIPTION\n")
		writeDescription(&b, c.Description)
	}

	// OPTIONS (args + flags)
	if len(c.Args) > 0 || len(c.Flags) > 0 {
		b.WriteString(".SH OPTIONS\n")
		for _, a := range c.Args {
			fmt.Fprintf(&b, ".TP\n.B %s\n%s\n", escapeRoff(a.Name), escapeRoff(a.Desc))
		}
		for _, f := range c.Flags {
			fmt.Fprintf(&b, ".TP\n.B %s\n%s\n", escapeRoff(f.Name), escapeRoff(f.Desc))
		}
	}

	// EXAMPLES
	if len(c.Examples) > 0 {
		b.WriteString(".SH EXAMPLES\n")
		b.WriteString(".nf\n")
		for _, e := range c.Examples {
			b.WriteString(escapeRoff(e) + "\n")
		}
		b.WriteString(".fi\n")
	}

	if len(c.ExitStatus) > 0 {
		writeExitStatus(&b, c.ExitStatus)
	}

	// SEE ALSO
	if len(c.SeeAlso) > 0 {
		b.WriteString(".SH SEE ALSO\n")
		refs := make([]string, len(c.SeeAlso))
		for i, ref := range c.SeeAlso {
			refs[i] = formatManRef(ref)
		}
		b.WriteString(strings.Join(refs, ",\n") + "\n")
	}

	return b.String()
}

// FormatRoffTopLevel renders the top-level cardfill.1 man page with a COMMANDS section.
func FormatRoffTopLevel(top Command, subs []Command, date string) string {
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	var b strings.Builder

	// .TH header
	fmt.Fprintf(&b, ".TH CARDFILL 1 %q %q %q\n",
		date, "cardfill "+Version, "Cardfill Manual")

	// NAME
	b.WriteString(".SH NAME\n")
	fmt.Fprintf(&b, "cardfill \\- %s\n", escapeRoff(top.Synopsis))

	// SYNOPSIS
	b.WriteString(".SH SYNOPSIS\n")
	b.WriteString(".B cardfill\n.RB [ \\-\\-config\n.IR path ]\n.I command\n.RI [ options ]\n")

	// DESCRIPTION
	b.WriteString(".SH DESCRIPTION\n")
	b.WriteString(".B cardfill\n")
	b.WriteString("fills flashcard fields with text generated by a local Ollama server or an\n")
	b.WriteString("OpenAI-compatible API. Each note type maps source fields to prompt\n")
	b.WriteString("templates; the result of each prompt is written to a target field.\n")

	// COMMANDS
	b.WriteString(".SH COMMANDS\n")
	for _, s := range subs {
		fmt.Fprintf(&b, ".TP\n.B \"%s\"\n%s\n", escapeRoff(s.tableUsage()), escapeRoff(s.Brief))
	}

	b.WriteString(".SH TRIGGERS\n")
	b.WriteString("Each note type mapping lists the host events that may start generation.\n")
	for _, t := range triggers {
		fmt.Fprintf(&b, ".TP\n.B %s\n%s\n", escapeRoff(t.name), escapeRoff(t.desc))
	}

	b.WriteString(".SH FILES\n")
	for _, f := range files {
		fmt.Fprintf(&b, ".TP\n.I %s\n%s\n", escapeRoff(f.name), escapeRoff(f.desc))
	}

	b.WriteString(".SH ENVIRONMENT\n")
	for _, e := range environment {
		fmt.Fprintf(&b, ".TP\n.B %s\n%s\n", escapeRoff(e.name), escapeRoff(e.desc))
	}

	writeExitStatus(&b, []Exit{
		{0, "Success"},
		{1, "Usage error, configuration error, or a failed command (see each command's page)"},
	})

	// SEE ALSO
	b.WriteString(".SH SEE ALSO\n")
	refs := make([]string, len(subs))
	for i, s := range subs {
		refs[i] = formatManRef(s.ManName() + "(1)")
	}
	b.WriteString(strings.Join(refs, ",\n") + "\n")

	return b.String()
}

type manEntry struct{ name, desc string }

var triggers = []manEntry{
	{"mining", "A note was added by an external tool such as a dictionary popup"},
	{"add_cards", "A note was added in the host's Add dialog; requires auto_fill_on_new_card"},
	{"browse", "A bulk action on selected notes; the default for cardfill fill"},
	{"focus_lost", "An editor field lost focus"},
	{"toolbar", "An explicit editor button"},
}

var files = []manEntry{
	{"~/.config/cardfill/config.toml", "Configuration: backend, retry policy, logging and note type mappings. Written by cardfill init."},
	{"~/.local/share/cardfill/cardfill.db", "SQLite note store and batch run history (state_dir)."},
	{"~/.local/share/cardfill/runs/<run-id>.jsonl.zst", "zstd-compressed per-record outcomes of each batch run, read by cardfill report."},
}

var environment = []manEntry{
	{"CARDFILL_CONFIG", "Config file path, used when --config is not given."},
	{"XDG_CONFIG_HOME", "Base directory for the default config path."},
	{"api_key_env", "The config key api_key_env names a variable holding the API key, for example OPENAI_API_KEY."},
}

func writeExitStatus(b *strings.Builder, codes []Exit) {
	b.WriteString(".SH EXIT STATUS\n")
	for _, e := range codes {
		fmt.Fprintf(b, ".TP\n.B %d\n%s\n", e.Code, escapeRoff(e.Desc))
	}
}

// Page is one generated man page.
type Page struct {
	Name    string // file name, e.g. "cardfill-fill.1"
	Content string
}

// ManPages renders the top-level page followed by one page per subcommand.
func ManPages(date string) []Page {
	pages := []Page{{Name: "cardfill.1", Content: FormatRoffTopLevel(TopLevel, Subcommands, date)}}
	for _, c := range Subcommands {
		pages = append(pages, Page{Name: c.ManName() + ".1", Content: FormatRoff(c, date)})
	}
	return pages
}

var roffEscaper = strings.NewReplacer(`\`, `\\`, "-", `\-`)

// escapeRoff makes s safe as roff text. No line may open with "." or "'",
// which roff would read as a request.
func escapeRoff(s string) string {
	lines := strings.Split(roffEscaper.Replace(s), "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, ".") || strings.HasPrefix(l, "'") {
			lines[i] = `\&` + l
		}
	}
	return strings.Join(lines, "\n")
}

// writeDescription renders a command description. Blank lines separate
// paragraphs; runs of lines indented by two spaces (payloads, endpoint
// tables) are kept as written in an indented no-fill block.
func writeDescription(b *strings.Builder, text string) {
	verbatim, paragraph := false, false
	for _, line := range strings.Split(text, "\n") {
		indented := strings.HasPrefix(line, "  ") && strings.TrimSpace(line) != ""
		if verbatim && !indented {
			b.WriteString(".fi\n.RE\n")
			verbatim = false
		}
		switch {
		case strings.TrimSpace(line) == "":
			if paragraph {
				b.WriteString(".PP\n")
				paragraph = false
			}
		case indented:
			if !verbatim {
				b.WriteString(".RS 4\n.nf\n")
				verbatim = true
			}
			b.WriteString(escapeRoff(line[2:]) + "\n")
			paragraph = true
		default:
			b.WriteString(escapeRoff(line) + "\n")
			paragraph = true
		}
	}
	if verbatim {
		b.WriteString(".fi\n.RE\n")
	}
}

// formatManRef turns "cardfill-init(1)" into ".BR cardfill\-init (1)".
func formatManRef(ref string) string {
	name, section, ok := strings.Cut(ref, "(")
	if !ok {
		return ".B " + escapeRoff(ref)
	}
	return fmt.Sprintf(".BR %s (%s", escapeRoff(name), section)
}
