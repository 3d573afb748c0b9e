// Package reentry provides the cross-operation reentrancy lock.
//
// The host executes one batch at a time, so this is not a concurrency
// primitive: it exists to stop a guarded operation that triggers an
// external effect from being re-entered before its state is fully
// committed. The check runs before any state mutation in the nested call.
package reentry

import (
	"sync"

	"github.com/ppiankov/sessionguard/internal/model"
)

// Guard is a scoped-acquisition lock. Zero value is ready to use.
type Guard struct {
	mu   sync.Mutex
	held bool
}

// Enter acquires the guard. On success it returns a release func that must
// run on every exit path (defer it immediately). If the guard is already
// held, Enter fails with ErrReentrancyDetected and mutates nothing.
func (g *Guard) Enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil, model.ErrReentrancyDetected
	}
	g.held = true
	return g.release, nil
}

// Held reports whether the guard is currently held.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

func (g *Guard) release() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
}
