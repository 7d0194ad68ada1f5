package help

import "strings"

// Version is the cardfill release version, set at build time via -ldflags.
// Defaults to "dev" when built without version injection (e.g. `go run`).
var Version = "dev"

// Flag describes a command-line flag.
type Flag struct {
	Name string // e.g. "--overwrite" or "--trigger <name>"
	Desc string
}

// Arg describes a positional argument.
type Arg struct {
	Name     string // e.g. "file" or "run-id"
	Desc     string
	Optional bool
}

// Command describes a cardfill subcommand (or the top-level binary when Name is "").
type Command struct {
	Name        string   // "init", "fill", etc; "" for top-level
	Synopsis    string   // one-line description (lowercase, for --help header)
	Brief       string   // short description for usage table (capitalized)
	Usage       string   // full usage line, e.g. "cardfill fill [file] [--overwrite]"
	TableUsage  string   // shortened usage for the top-level table (if different from Usage)
	Args        []Arg
	Flags       []Flag
	Description string   // multi-line prose (stored verbatim)
	Examples    []string // one per line, without leading 2-space indent
	SeeAlso     []string // man page cross-refs, e.g. "cardfill(1)"
	ExitStatus  []Exit   // man page only
}

// Exit documents one exit code in a man page's EXIT STATUS section.
type Exit struct {
	Code int
	Desc string
}

// tableUsage returns TableUsage if set, otherwise Usage.
func (c Command) tableUsage() string {
	if c.TableUsage != "" {
		return c.TableUsage
	}
	return c.Usage
}

// ManName returns the man page name: "cardfill" for top-level,
// "cardfill-<name>" for subs.
func (c Command) ManName() string {
	if c.Name == "" {
		return "cardfill"
	}
	return "cardfill-" + strings.ReplaceAll(c.Name, " ", "-")
}

// Lookup returns the subcommand named name.
func Lookup(name string) (Command, bool) {
	for _, c := range Subcommands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// TopLevel is the top-level cardfill command (used by FormatUsage).
var TopLevel = Command{
	Name:     "",
	Synopsis: "LLM field generation for flashcards",
}

// GlobalFlags apply to every subcommand.
var GlobalFlags = []Flag{
	{Name: "--config <path>", Desc: "Config file (default: $CARDFILL_CONFIG or ~/.config/cardfill/config.toml)"},
}

var CmdInit = Command{
	Name:     "init",
	Synopsis: "write a default config file",
	Brief:    "Write a default config file",
	Usage:    "cardfill init [path]",
	Args: []Arg{
		{Name: "path", Desc: "Config file to create (default: ~/.config/cardfill/config.toml)", Optional: true},
	},
	Description: `Writes a commented config.toml with backend defaults for a local
Ollama server and an example note type mapping. An existing file is
never overwritten.`,
	Examples: []string{
		"cardfill init                          Create the default config",
		"cardfill init ./cardfill.toml          Create a config at a specific path",
	},
	SeeAlso: []string{"cardfill(1)", "cardfill-check(1)"},
}

var CmdCheck = Command{
	Name:     "check",
	Synopsis: "validate config, mappings, store, and backend",
	Brief:    "Validate config, mappings, store, and backend",
	Usage:    "cardfill check [--offline]",
	Flags: []Flag{
		{Name: "--offline", Desc: "Skip the backend connection probe"},
	},
	Description: `Runs diagnostic checks and prints a pass/warn/FAIL report:
  - Config file location
  - Mappings file and every mapping problem found while loading
  - API key for openai mode
  - State directory and note store
  - Backend reachability

Exit code 0 if all checks pass or warn, 1 if any check fails.`,
	SeeAlso: []string{"cardfill(1)", "cardfill-init(1)", "cardfill-test-connection(1)"},
}

var CmdTestConnection = Command{
	Name:     "test-connection",
	Synopsis: "probe the configured backend",
	Brief:    "Probe the configured backend",
	Usage:    "cardfill test-connection",
	Description: `Sends one minimal request to the configured backend and reports
success, or the error kind and message. Exit code 1 on failure.`,
	SeeAlso: []string{"cardfill(1)", "cardfill-check(1)"},
}

var CmdHook = Command{
	Name:       "hook",
	Synopsis:   "fill one record delivered on stdin",
	Brief:      "Hook mode (record on stdin, result on stdout)",
	Usage:      "cardfill hook [--trigger <name>] [--overwrite]",
	TableUsage: "cardfill hook [--trigger T]",
	Flags: []Flag{
		{Name: "--trigger <name>", Desc: "Override the trigger in the payload"},
		{Name: "--overwrite", Desc: "Regenerate filled target fields"},
	},
	Description: `Reads a JSON object from stdin:

  {"trigger": "mining", "record": {"id": "1", "note_type": "Vocab", "fields": {...}}}

runs the generation pass, and writes {"record": ..., "outcome": ...} to
stdout. Triggers: mining, add_cards, browse, focus_lost, toolbar.
add_cards events are ignored when auto_fill_on_new_card is false.
focus_lost events carry "field", the field that lost focus, and only
generate when it is one of the mapping's source fields.

This command is meant to be called by a host application.`,
	SeeAlso: []string{"cardfill(1)", "cardfill-serve(1)"},
	ExitStatus: []Exit{
		{0, "A result was written, including skip and error outcomes"},
		{1, "The payload could not be read or named an unknown trigger"},
	},
}

var CmdImport = Command{
	Name:     "import",
	Synopsis: "load records into the note store",
	Brief:    "Load records into the note store",
	Usage:    "cardfill import <file>",
	Args: []Arg{
		{Name: "file", Desc: "JSON (object or array) or JSON Lines record file"},
	},
	Description: `Inserts or replaces records in the SQLite note store under the state
directory. Records without an id are assigned one. The store's field
names are used by check and fill to validate mapping placeholders.`,
	Examples: []string{
		"cardfill import deck.jsonl",
	},
	SeeAlso: []string{"cardfill(1)", "cardfill-fill(1)"},
}

var CmdFill = Command{
	Name:       "fill",
	Synopsis:   "batch-generate fields for many records",
	Brief:      "Batch-generate fields for many records",
	Usage:      "cardfill fill [file] [--note-type <name>] [--trigger <name>] [--overwrite] [--limit <n>] [--id <id>]",
	TableUsage: "cardfill fill [file] [flags]",
	Args: []Arg{
		{Name: "file", Desc: "Record file to fill in place (default: the note store)", Optional: true},
	},
	Flags: []Flag{
		{Name: "--note-type <name>", Desc: "Run every record as this note type"},
		{Name: "--trigger <name>", Desc: "Trigger to evaluate (default: browse)"},
		{Name: "--overwrite", Desc: "Regenerate filled target fields"},
		{Name: "--limit <n>", Desc: "Only process the first n store records"},
		{Name: "--id <id>", Desc: "Only process the store note with this ID"},
	},
	Description: `Runs records one at a time with delay_between_requests_ms between
them. One failing record never stops the batch. Interrupt (Ctrl-C)
stops cleanly: finished records keep their values and the rest are
reported as not started.

Each run is archived to the state directory and listed by cardfill runs.`,
	Examples: []string{
		"cardfill fill deck.json                  Fill a file in place",
		"cardfill fill --note-type Vocab          Fill Vocab notes in the store",
		"cardfill fill --overwrite --limit 10     Regenerate the first 10 notes",
	},
	SeeAlso: []string{"cardfill(1)", "cardfill-runs(1)", "cardfill-report(1)"},
	ExitStatus: []Exit{
		{0, "Every record succeeded or was skipped"},
		{1, "At least one record failed, or the run was interrupted"},
	},
}

var CmdWatch = Command{
	Name:     "watch",
	Synopsis: "fill record files dropped into a directory",
	Brief:    "Fill record files dropped into a directory",
	Usage:    "cardfill watch <dir>",
	Args: []Arg{
		{Name: "dir", Desc: "Inbox directory to watch"},
	},
	Description: `Processes every *.json and *.jsonl file in dir with the mining
trigger, then each new file as it appears. Filled files move to done/,
files that could not be read or had a failing record move to failed/.

The config file is watched too: edits to mappings or backend settings
apply to the next file without a restart.`,
	SeeAlso: []string{"cardfill(1)", "cardfill-fill(1)"},
}

var CmdServe = Command{
	Name:     "serve",
	Synopsis: "serve the generation API over HTTP",
	Brief:    "Serve the generation API over HTTP",
	Usage:    "cardfill serve [--listen <addr>]",
	Flags: []Flag{
		{Name: "--listen <addr>", Desc: "Listen address (default: server.listen, 127.0.0.1:8765)"},
	},
	Description: `Endpoints:
  GET  /healthz              503 when the note store is unusable
  POST /v1/generate          one record, same payload as cardfill hook
  POST /v1/batch             many records, returns the run result
  POST /v1/test-connection
  GET  /v1/runs
  GET  /v1/runs/<run-id>     one recorded run
  GET  /metrics              Prometheus metrics

Generation requests are served one at a time. Config changes are
picked up without a restart.`,
	SeeAlso: []string{"cardfill(1)", "cardfill-hook(1)"},
}

var CmdRuns = Command{
	Name:     "runs",
	Synopsis: "list recent batch runs",
	Brief:    "List recent batch runs",
	Usage:    "cardfill runs [--limit <n>]",
	Flags: []Flag{
		{Name: "--limit <n>", Desc: "Number of runs to show (default: 20)"},
	},
	SeeAlso: []string{"cardfill(1)", "cardfill-report(1)"},
}

var CmdReport = Command{
	Name:     "report",
	Synopsis: "show the outcomes of an archived run",
	Brief:    "Show the outcomes of an archived run",
	Usage:    "cardfill report <run-id>",
	Args: []Arg{
		{Name: "run-id", Desc: "Run ID as listed by cardfill runs"},
	},
	Description: `Reads runs/{run-id}.jsonl.zst from the state directory and prints the
summary and one line per record, with the error kind of each failed
field. When the report was never archived, the run summary recorded in
the note store is printed instead.`,
	SeeAlso: []string{"cardfill(1)", "cardfill-runs(1)"},
}

var CmdVersion = Command{
	Name:     "version",
	Synopsis: "print version",
	Brief:    "Print version",
	Usage:    "cardfill version",
	SeeAlso:  []string{"cardfill(1)"},
}

// Subcommands is the ordered list of all subcommands.
var Subcommands = []Command{
	CmdInit,
	CmdCheck,
	CmdTestConnection,
	CmdHook,
	CmdImport,
	CmdFill,
	CmdWatch,
	CmdServe,
	CmdRuns,
	CmdReport,
	CmdVersion,
}
