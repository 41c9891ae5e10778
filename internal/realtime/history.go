package realtime

// history is a fixed-capacity circular buffer so late clients can catch up
// on recent activity. Callers synchronize access.
type history[T any] struct {
	buf  []T
	pos  int // next write position
	full bool
}

func newHistory[T any](capacity int) *history[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &history[T]{buf: make([]T, capacity)}
}

func (h *history[T]) add(v T) {
	h.buf[h.pos] = v
	h.pos = (h.pos + 1) % len(h.buf)
	if h.pos == 0 {
		h.full = true
	}
}

// items returns the buffered values oldest first.
func (h *history[T]) items() []T {
	if !h.full {
		out := make([]T, h.pos)
		copy(out, h.buf[:h.pos])
		return out
	}
	out := make([]T, len(h.buf))
	n := copy(out, h.buf[h.pos:])
	copy(out[n:], h.buf[:h.pos])
	return out
}

func (h *history[T]) len() int {
	if h.full {
		return len(h.buf)
	}
	return h.pos
}
