package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

// Group lists the names a prefix flag accepts, for the help page only.
type Group struct {
	Name    string
	Prefix  string
	Kind    string
	Entries []GroupEntry
}

type GroupEntry struct {
	Name    string
	Usage   string
	Enabled bool
}

// AddGroup documents the values of an existing prefix flag.
func (f *FlagSet) AddGroup(g Group) {
	f.groups = append(f.groups, g)
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error

	Stdout io.Writer
	Stderr io.Writer
	// Width reports the terminal width the help page wraps to.
	Width func() int
}

func NewApp(name string) *App {
	return &App{
		Name:    name,
		FlagSet: NewFlagSet(name),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Width:   terminalWidth,
	}
}

// Run parses arguments and calls Action with the positional ones. A parse
// error prints the short usage to Stderr and is returned.
func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintf(a.Stderr, "%s: %v\n", a.Name, err)
		a.usage(a.Stderr)
		return err
	}
	if help {
		a.help(a.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

// Usage writes the short usage page.
func (a *App) Usage(w io.Writer) { a.usage(w) }

func (a *App) usage(w io.Writer) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage: %s %s\n", a.Name, a.Synopsis)
	fmt.Fprintf(&sb, "\nRun '%s --help' for all available options.\n", a.Name)
	io.WriteString(w, sb.String())
}

func (a *App) help(w io.Writer) {
	var sb strings.Builder
	p := &page{sb: &sb, width: a.Width()}

	options := a.options()
	for _, f := range options {
		p.fit(formatFlag(f))
	}
	for _, g := range a.FlagSet.groups {
		p.fit(fmt.Sprintf("-%sno-<%s>", g.Prefix, g.Kind))
		for _, e := range g.Entries {
			p.fit(e.Name)
		}
	}

	if len(a.Authors) > 0 {
		fmt.Fprintf(&sb, "\n    Copyright (c): %s and contributors\n", strings.Join(a.Authors, ", "))
	}
	if a.Repository != "" {
		fmt.Fprintf(&sb, "    For more details refer to %s\n", a.Repository)
	}
	if a.Synopsis != "" {
		fmt.Fprintf(&sb, "\n    Synopsis\n        %s %s\n", a.Name, a.Synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n    Description\n")
		for _, line := range wrap(a.Description, p.width-8) {
			fmt.Fprintf(&sb, "        %s\n", line)
		}
	}

	if len(options) > 0 {
		fmt.Fprintf(&sb, "\n    Options\n")
		for _, f := range options {
			right := ""
			if f.DefValue != "" && !f.isBool() {
				right = "|" + f.DefValue + "|"
			}
			p.row(formatFlag(f), f.Usage, right)
		}
	}

	for _, g := range a.FlagSet.groups {
		fmt.Fprintf(&sb, "\n    %s\n", g.Name)
		p.row(fmt.Sprintf("-%s<%s>", g.Prefix, g.Kind), "Enable a specific "+g.Kind, "")
		p.row(fmt.Sprintf("-%sno-<%s>", g.Prefix, g.Kind), "Disable a specific "+g.Kind, "")
		entries := append([]GroupEntry(nil), g.Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			mark := "|-|"
			if e.Enabled {
				mark = "|x|"
			}
			p.row(e.Name, e.Usage, mark)
		}
	}
	io.WriteString(w, sb.String())
}

// options returns the non-prefix flags sorted by name.
func (a *App) options() []*Flag {
	var out []*Flag
	for name, f := range a.FlagSet.flags {
		if _, isPrefix := a.FlagSet.prefixes[name]; !isPrefix {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func formatFlag(f *Flag) string {
	var sb strings.Builder
	if f.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s, ", f.Shorthand)
	}
	fmt.Fprintf(&sb, "--%s", f.Name)
	if !f.isBool() && f.ExpectedType != "" {
		fmt.Fprintf(&sb, " <%s>", f.ExpectedType)
	}
	return sb.String()
}

// page lays out two-column rows with the usage text wrapped to width.
type page struct {
	sb    *strings.Builder
	width int
	left  int
}

func (p *page) fit(s string) {
	if len(s) > p.left {
		p.left = len(s)
	}
}

func (p *page) row(left, usage, right string) {
	const indent = "        "
	avail := p.width - len(indent) - p.left - 1 - len(right) - 2
	if avail < 10 {
		avail = 10
	}
	lines := wrap(usage, avail)
	if len(lines) == 0 {
		lines = []string{""}
	}
	if right != "" {
		fmt.Fprintf(p.sb, "%s%-*s %-*s  %s\n", indent, p.left, left, avail, lines[0], right)
	} else {
		fmt.Fprintf(p.sb, "%s%-*s %s\n", indent, p.left, left, lines[0])
	}
	for _, l := range lines[1:] {
		fmt.Fprintf(p.sb, "%s%s %s\n", indent, strings.Repeat(" ", p.left), l)
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	if width < 20 {
		return 20
	}
	return width
}

func wrap(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if maxWidth <= 0 || len(words) == 0 {
		return words
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > maxWidth {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}
