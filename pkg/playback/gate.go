// Package playback speaks reply text and tracks whether speech is currently
// audible so capture can ignore the engine's own voice.
package playback

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate is the process-wide "speech is playing" flag. Active is lock-free and
// safe to poll from the capture goroutine.
type Gate struct {
	active atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	gen      uint64
	onChange func(active bool)
}

// NewGate returns an inactive gate.
func NewGate() *Gate {
	return &Gate{}
}

// OnChange registers fn to be called after every transition.
func (g *Gate) OnChange(fn func(active bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// Active reports whether playback is in progress.
func (g *Gate) Active() bool {
	return g.active.Load()
}

// Begin marks playback active and returns a context that ForceStop cancels.
// The returned func clears the flag; call it when playback ends.
func (g *Gate) Begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.gen++
	gen := g.gen
	g.cancel = cancel
	g.active.Store(true)
	notify := g.onChange
	g.mu.Unlock()

	if notify != nil {
		notify(true)
	}

	var once sync.Once
	end := func() {
		once.Do(func() {
			g.mu.Lock()
			changed := g.gen == gen && g.cancel != nil
			if changed {
				g.cancel = nil
				g.active.Store(false)
			}
			notify := g.onChange
			g.mu.Unlock()

			cancel()
			if changed && notify != nil {
				notify(false)
			}
		})
	}
	return ctx, end
}

// ForceStop interrupts the current playback. It reports whether anything
// was playing.
func (g *Gate) ForceStop() bool {
	g.mu.Lock()
	if g.cancel == nil {
		g.mu.Unlock()
		return false
	}
	g.cancel()
	g.cancel = nil
	g.active.Store(false)
	notify := g.onChange
	g.mu.Unlock()

	if notify != nil {
		notify(false)
	}
	return true
}
