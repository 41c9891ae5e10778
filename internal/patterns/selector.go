package patterns

// DefaultResponse is selected when no entry matches.
const DefaultResponse = "yes"

// Match returns the first entry whose matcher occurs anywhere in buffer.
func (t *Table) Match(buffer string) (Entry, bool) {
	for _, e := range t.entries {
		if e.Matcher.MatchString(buffer) {
			return e, true
		}
	}
	return Entry{}, false
}

// Select returns the response of the first matching entry, or
// DefaultResponse. It has no side effects.
func (t *Table) Select(buffer string) string {
	if e, ok := t.Match(buffer); ok {
		return e.Response
	}
	return DefaultResponse
}
