package locks

import "sync"

// TransactionalSupport guards the live registries. Mutable transactions are
// exclusive; immutable ones are shared with each other.
type TransactionalSupport struct {
	mu sync.RWMutex
}

// BeginTrans opens a transaction. With failEarly set it returns false instead
// of waiting when the lock is held elsewhere.
func (s *TransactionalSupport) BeginTrans(mutable, failEarly bool) bool {
	switch {
	case mutable && failEarly:
		return s.mu.TryLock()
	case mutable:
		s.mu.Lock()
	case failEarly:
		return s.mu.TryRLock()
	default:
		s.mu.RLock()
	}
	return true
}

// EndTrans closes a transaction opened with the same mutability.
func (s *TransactionalSupport) EndTrans(mutable bool) {
	if mutable {
		s.mu.Unlock()
		return
	}
	s.mu.RUnlock()
}
