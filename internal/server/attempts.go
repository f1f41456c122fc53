package server

import "sync"

// AttemptGate serializes submissions per (user, exercise) so that counting
// attempts and recording a new one happen atomically.
type AttemptGate struct {
	mu    sync.Mutex
	locks map[string]*attemptLock
}

type attemptLock struct {
	mu   sync.Mutex
	refs int
}

// NewAttemptGate creates an empty gate.
func NewAttemptGate() *AttemptGate {
	return &AttemptGate{locks: make(map[string]*attemptLock)}
}

// Lock blocks until the caller holds the (user, exercise) slot and returns
// the function that releases it.
func (g *AttemptGate) Lock(userID, exerciseID string) func() {
	key := userID + "\x00" + exerciseID

	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &attemptLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}

// Len returns the number of slots currently held or awaited.
func (g *AttemptGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
