package server

import (
	"context"
	"sync"
)

// Gate holds back starts until something outside the server has happened, such as the collection that declared
// the server being discovered again after it was restored from the cache.
// NewGate should be used to create instances of Gate.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a gate that has not been opened.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases every current and future waiter. Opening an open gate does nothing.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

// IsOpen reports whether Open was called.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
