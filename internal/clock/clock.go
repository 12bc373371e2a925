// Package clock provides the time source injected into every component
// that stamps or compares timestamps, so tests can advance virtual time
// deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current time in Unix milliseconds.
type Clock interface {
	NowMs() int64
}

// System reads the wall clock.
type System struct{}

// NowMs returns the current wall-clock time in milliseconds.
func (System) NowMs() int64 {
	return time.Now().UnixMilli()
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu sync.Mutex
	ms int64
}

// NewFake creates a fake clock starting at startMs.
func NewFake(startMs int64) *Fake {
	return &Fake{ms: startMs}
}

// NowMs returns the fake's current time.
func (f *Fake) NowMs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ms
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.ms += d.Milliseconds()
	f.mu.Unlock()
}

// Set jumps the fake clock to ms.
func (f *Fake) Set(ms int64) {
	f.mu.Lock()
	f.ms = ms
	f.mu.Unlock()
}
