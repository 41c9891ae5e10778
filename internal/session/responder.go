package session

import (
	"fmt"
	"strings"
	"time"

	"claude-auto/internal/patterns"
)

// LineWriter accepts one answer line at a time.
type LineWriter interface {
	WriteLine(s string) error
}

// Response is one answer written to the child.
type Response struct {
	Text    string
	Entry   patterns.Entry
	Matched bool // false when the default answered
	At      time.Time
}

// Responder owns the output buffer and the response timer. It is driven
// from a single goroutine and does no locking.
type Responder struct {
	table    *patterns.Table
	w        LineWriter
	debounce time.Duration

	buf    strings.Builder
	last   time.Time // zero until the first response
	broken bool
}

// NewResponder returns a Responder answering through w.
func NewResponder(table *patterns.Table, w LineWriter, debounce time.Duration) *Responder {
	return &Responder{table: table, w: w, debounce: debounce}
}

// Step appends events to the buffer and, when the buffer is non-empty and
// more than the debounce interval has passed since the last response,
// answers it and clears the buffer. Inside the window the buffer keeps
// accumulating so a burst collapses into one answer.
//
// A write failure disables the responder for the rest of its life.
func (r *Responder) Step(events []OutputEvent, now time.Time) (*Response, error) {
	for _, e := range events {
		r.buf.WriteString(e.Data)
	}
	if r.buf.Len() == 0 {
		return nil, nil
	}
	if r.broken {
		r.buf.Reset()
		return nil, nil
	}
	if !r.last.IsZero() && now.Sub(r.last) <= r.debounce {
		return nil, nil
	}

	buffer := r.buf.String()
	entry, matched := r.table.Match(buffer)
	text := patterns.DefaultResponse
	if matched {
		text = entry.Response
	}

	if err := r.w.WriteLine(text); err != nil {
		r.broken = true
		r.buf.Reset()
		return nil, fmt.Errorf("write response: %w", err)
	}

	r.last = now
	r.buf.Reset()
	return &Response{Text: text, Entry: entry, Matched: matched, At: now}, nil
}
