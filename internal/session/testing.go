package session

import "time"

// Advance moves the in-memory store's clock forward so tests can expire keys
// without sleeping. It is safe to call from inside an Update callback.
func Advance(s Store, d time.Duration) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.offset.Add(int64(d))
	}
}
