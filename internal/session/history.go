package session

import (
	"sync"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
)

// History is one session's bounded message log. It is a ring buffer:
// once full, each append overwrites the oldest entry.
type History struct {
	mu    sync.Mutex
	buf   []ai.Message
	start int
	n     int
}

func newHistory(capacity int) *History {
	return &History{buf: make([]ai.Message, capacity)}
}

func (h *History) Append(m ai.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = m
		h.n++
		return
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns a copy in insertion order.
func (h *History) Snapshot() []ai.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ai.Message, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func (h *History) Cap() int { return len(h.buf) }
