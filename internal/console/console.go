// Package console serializes what the operator sees: echoed child output
// and short styled notices about what the supervisor did.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)

// Console writes child output and operator notices. Writes from
// concurrent pumps never interleave within a line.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	notices io.Writer
}

// New returns a Console echoing output to out and notices to notices.
func New(out, notices io.Writer) *Console {
	return &Console{out: out, notices: notices}
}

// Echo writes one line of child output exactly as read.
func (c *Console) Echo(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, line)
}

// Notice writes a dim one-line status message.
func (c *Console) Notice(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.notices, noticeStyle.Render(fmt.Sprintf(format, args...)))
}

// Errorf writes a bold error message.
func (c *Console) Errorf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.notices, errorStyle.Render(fmt.Sprintf(format, args...)))
}

// Response formats an injected response for display.
func Response(resp string) string {
	if strings.TrimSpace(resp) == "" {
		return "<enter>"
	}
	return resp
}
