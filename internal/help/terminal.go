package help

import (
	"fmt"
	"strings"
)

// minColumn keeps the description column steady when a command has both
// arguments and flags with short names.
const minColumn = 13

type row struct{ name, desc string }

// FormatTerminal renders a subcommand's help text for terminal --help output.
func FormatTerminal(c Command) string {
	sections := []string{
		fmt.Sprintf("cardfill %s — %s", c.Name, c.Synopsis),
		"Usage: " + c.Usage,
	}

	args := make([]row, len(c.Args))
	for i, a := range c.Args {
		args[i] = row{a.Name, a.Desc}
	}
	flags := make([]row, len(c.Flags))
	for i, f := range c.Flags {
		flags[i] = row{f.Name, f.Desc}
	}

	col := 2 + widest(args, flags) + 3
	if len(args) > 0 && len(flags) > 0 && col < minColumn {
		col = minColumn
	}
	if len(args) > 0 {
		sections = append(sections, table("Arguments:", args, col))
	}
	if len(flags) > 0 {
		sections = append(sections, table("Flags:", flags, col))
	}

	if c.Description != "" {
		sections = append(sections, c.Description)
	}

	if len(c.Examples) > 0 {
		lines := []string{"Examples:"}
		for _, e := range c.Examples {
			lines = append(lines, "  "+e)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if related := relatedCommands(c.SeeAlso); len(related) > 0 {
		sections = append(sections, "See also: "+strings.Join(related, ", "))
	}

	return strings.Join(sections, "\n\n") + "\n"
}

func widest(groups ...[]row) int {
	n := 0
	for _, g := range groups {
		for _, r := range g {
			n = max(n, len(r.name))
		}
	}
	return n
}

// table renders rows with descriptions starting at column col.
func table(title string, rows []row, col int) string {
	lines := []string{title}
	for _, r := range rows {
		lines = append(lines, "  "+r.name+strings.Repeat(" ", col-2-len(r.name))+r.desc)
	}
	return strings.Join(lines, "\n")
}

// relatedCommands turns man refs such as "cardfill-check(1)" into
// "cardfill check". The top-level page is left out.
func relatedCommands(refs []string) []string {
	var out []string
	for _, ref := range refs {
		name, _, _ := strings.Cut(ref, "(")
		sub, ok := strings.CutPrefix(name, "cardfill-")
		if !ok {
			continue
		}
		out = append(out, "cardfill "+sub)
	}
	return out
}

// FormatUsage renders the top-level usage text (for cardfill --help / cardfill help).
func FormatUsage(top Command, subs []Command) string {
	var b strings.Builder

	fmt.Fprintf(&b, "cardfill v%s — %s\n", Version, top.Synopsis)

	entries := make([]row, 0, len(subs)+1)
	for _, s := range subs {
		entries = append(entries, row{s.tableUsage(), s.Brief})
	}
	entries = append(entries, row{"cardfill help [command]", "Show this help"})

	b.WriteString("\nUsage:\n")
	b.WriteString(table("", entries, 2+widest(entries)+3)[1:])
	b.WriteString("\n")

	b.WriteString("\nGlobal flags:\n")
	for _, f := range GlobalFlags {
		fmt.Fprintf(&b, "  %s   %s\n", f.Name, f.Desc)
	}

	b.WriteString(`
Host integration:
  cardfill hook < event.json > result.json

Configuration: ~/.config/cardfill/config.toml
`)
	return b.String()
}
