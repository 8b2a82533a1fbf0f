package directory

import "runtime"

// secureZero overwrites a ChatMessage's Content and Encrypted byte ranges
// with zero before the message is dropped, defending against post-free
// memory disclosure. runtime.KeepAlive pins the backing arrays through the
// loop so the write can't be proven dead and elided by the optimizer.
func secureZero(m *ChatMessage) {
	if m == nil {
		return
	}
	for i := range m.Content {
		m.Content[i] = 0
	}
	for i := range m.Encrypted {
		m.Encrypted[i] = 0
	}
	runtime.KeepAlive(m.Content)
	runtime.KeepAlive(m.Encrypted)
}

// secureZeroAll wipes every message in a history slice and returns the
// slice truncated to length zero (same backing array) so callers can
// reassign in place.
func secureZeroAll(history []*ChatMessage) []*ChatMessage {
	for _, m := range history {
		secureZero(m)
	}
	return history[:0]
}
