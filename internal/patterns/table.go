// Package patterns holds the prompt pattern table and the response selector.
package patterns

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"claude-auto/internal/config"
	"claude-auto/internal/logger"
)

// Source records where a pattern entry came from.
type Source string

const (
	SourceBuiltin      Source = "builtin"
	SourceConfigDocker Source = "config-docker"
	SourceConfigN8N    Source = "config-n8n"
)

// Enter answers "press enter" style prompts. The supervisor appends its
// own newline, so the child sees an empty line followed by another.
const Enter = "\n"

// Entry binds a case-insensitive matcher to the response injected when it
// matches. Entries are immutable once built.
type Entry struct {
	Matcher  *regexp.Regexp
	Response string
	Source   Source
}

// Pattern returns the expression the entry was compiled from, without the
// case-insensitivity flag.
func (e Entry) Pattern() string {
	return e.Matcher.String()[len(caseInsensitive):]
}

const caseInsensitive = "(?i)"

type rule struct {
	expr     string
	response string
}

var genericRules = []rule{
	{`Do you want to proceed\?`, "yes"},
	{`Do you want to make this edit`, "yes"},
	{`Save file to continue`, Enter},
	{`Opened changes in Cursor`, Enter},
	{`Bash command.*Do you want to proceed`, "yes"},
	{`Are you sure`, "yes"},
	{`Continue\?`, "yes"},
	{`Confirm`, "yes"},
	{`Overwrite`, "yes"},
	{`\(Y/n\)`, "Y"},
	{`\(y/N\)`, "y"},
	{`yes/no`, "yes"},
	{`Press.*to continue`, Enter},
	{`Enter to continue`, Enter},
	{`Would you like to`, "yes"},
	{`Create.*\?`, "yes"},
	{`Install.*\?`, "yes"},
	{`Execute.*\?`, "yes"},
	{`Run.*\?`, "yes"},
	{`Apply.*\?`, "yes"},
	{`Update.*\?`, "yes"},
	{`Delete.*\?`, "yes"},
	{`Remove.*\?`, "yes"},
}

// Container lifecycle and workflow phrasing that is always answered.
var domainRules = []rule{
	{`Stop container`, "yes"},
	{`Remove container`, "yes"},
	{`Prune.*(containers|images|volumes)`, "yes"},
	{`Pull image`, "yes"},
	{`Activate workflow`, "yes"},
	{`Deactivate workflow`, "yes"},
	{`Import workflow`, "yes"},
}

var dockerRules = []rule{
	{`docker.*\?`, "yes"},
	{`Push image`, "yes"},
	{`Restart container`, "yes"},
}

var n8nRules = []rule{
	{`n8n.*\?`, "yes"},
	{`Execute workflow`, "yes"},
	{`Save workflow`, "yes"},
	{`Overwrite workflow`, "yes"},
}

func compile(expr string) (*regexp.Regexp, error) {
	return regexp.Compile(caseInsensitive + expr)
}

func mustEntries(rules []rule, src Source) []Entry {
	entries := make([]Entry, 0, len(rules))
	for _, r := range rules {
		re, err := compile(r.expr)
		if err != nil {
			panic(fmt.Sprintf("patterns: bad builtin expression %q: %v", r.expr, err))
		}
		entries = append(entries, Entry{Matcher: re, Response: r.response, Source: src})
	}
	return entries
}

var builtin = append(mustEntries(genericRules, SourceBuiltin), mustEntries(domainRules, SourceBuiltin)...)

// Builtin returns a copy of the hard-coded entries in priority order.
func Builtin() []Entry {
	out := make([]Entry, len(builtin))
	copy(out, builtin)
	return out
}

// Table is an ordered, immutable list of entries. The first matching entry wins.
type Table struct {
	entries []Entry
}

// NewTable builds the builtin entries followed by whichever config blocks
// settings enables. Operator patterns are regular expressions and are not
// escaped; one that fails to compile is skipped with a warning.
func NewTable(settings config.Settings, log *logger.Logger) *Table {
	if log == nil {
		log = logger.Nop()
	}

	entries := Builtin()

	if settings.Automation.Docker.Enabled {
		entries = append(entries, mustEntries(dockerRules, SourceConfigDocker)...)
		for _, expr := range settings.Automation.Docker.Patterns {
			re, err := compile(expr)
			if err != nil {
				log.Warn("skipping invalid docker pattern",
					zap.String("pattern", expr), zap.Error(err))
				continue
			}
			entries = append(entries, Entry{Matcher: re, Response: "yes", Source: SourceConfigDocker})
		}
	}

	if settings.N8N.AutoApprove {
		entries = append(entries, mustEntries(n8nRules, SourceConfigN8N)...)
	}

	return &Table{entries: entries}
}

// NewTableFromEntries wraps a caller-built entry list.
func NewTableFromEntries(entries []Entry) *Table {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Table{entries: out}
}

// Entries returns a copy of the table's entries.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// CountBySource reports how many entries each source contributed.
func (t *Table) CountBySource() map[Source]int {
	counts := make(map[Source]int)
	for _, e := range t.entries {
		counts[e.Source]++
	}
	return counts
}
