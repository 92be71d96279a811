// Package connection manages the lifecycle of one attempt to reach a server.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// Connection owns at most one transport channel at a time and exposes its lifecycle as a single observable state.
// Concurrent calls to Start share one attempt.
type Connection struct {
	id        string
	nonce     string
	transport transport.Transport
	logger    hclog.Logger

	state  *reactive.Value[*State]
	starts singleflight.Group

	mu            sync.Mutex
	epoch         uint64
	channel       transport.Channel
	disposeWatch  func()
	cancelAttempt context.CancelFunc
}

// New returns a stopped connection for the definition identified by id, started with the launch configuration
// whose cache nonce is nonce.
func New(logger hclog.Logger, id string, nonce string, t transport.Transport) (*Connection, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if t == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	return &Connection{
		id:        id,
		nonce:     nonce,
		transport: t,
		logger:    logger.Named("connection").With("server", id),
		state:     reactive.NewValue(Stopped()),
	}, nil
}

// ID returns the definition identifier this connection was created for.
func (c *Connection) ID() string {
	return c.id
}

// Nonce returns the definition nonce this connection was created with.
func (c *Connection) Nonce() string {
	return c.nonce
}

// State returns the observable lifecycle.
// Transitions are published in order, so listeners run while later transitions wait; they must not call Start or
// Stop synchronously.
func (c *Connection) State() reactive.Observable[*State] {
	return c.state
}

// Start brings the connection up and returns the state it settled in.
// If the connection is already running the current state is returned. Concurrent callers share one attempt and
// receive the same state value. Cancelling ctx abandons the wait without aborting the shared attempt.
func (c *Connection) Start(ctx context.Context) *State {
	if cur := c.state.Get(); cur.Status == transport.StatusRunning {
		return cur
	}

	ch := c.starts.DoChan("start", func() (any, error) {
		return c.start(ctx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(*State)
	case <-ctx.Done():
		return c.state.Get()
	}
}

func (c *Connection) start(callerCtx context.Context) (st *State) {
	if cur := c.state.Get(); cur.Status == transport.StatusRunning {
		return cur
	}

	// The attempt context lives as long as the channel it produces, since network transports bind their
	// streams to it. Stop cancels it.
	c.mu.Lock()
	c.releaseLocked(callerCtx)
	epoch := c.epoch
	ctx, cancel := context.WithCancel(context.WithoutCancel(callerCtx))
	c.cancelAttempt = cancel
	c.mu.Unlock()
	defer func() {
		if st.IsRunning() {
			return
		}
		cancel()
		c.mu.Lock()
		if c.epoch == epoch {
			c.cancelAttempt = nil
		}
		c.mu.Unlock()
	}()

	if !c.transport.CanStart() {
		return c.settle(epoch, failed(
			transport.ErrorCodeGeneric,
			fmt.Sprintf("server '%s' cannot be started: its launch configuration is incomplete", c.id),
			false,
		))
	}

	c.settle(epoch, starting())
	c.logger.Debug("Starting connection")

	ch, err := c.transport.Start(ctx)
	if err != nil {
		code := transport.ErrorCodeGeneric
		if errors.Is(err, apperrors.ErrCommandNotFound) {
			code = transport.ErrorCodeCommandNotFound
		}
		c.logger.Error("Failed to start server", "error", err)
		return c.settle(epoch, failed(code, err.Error(), false))
	}

	if !c.adopt(epoch, ch) {
		// Stopped while the transport was starting.
		_ = ch.Stop(context.WithoutCancel(ctx))
		return c.state.Get()
	}

	chState, err := waitReady(ctx, ch)
	if err != nil {
		return c.state.Get()
	}
	switch chState.Status {
	case transport.StatusError:
		c.teardown(ctx, epoch)
		return c.settle(epoch, failed(chState.Code, chState.Message, chState.ShouldRetry))
	case transport.StatusStopped:
		c.teardown(ctx, epoch)
		return c.settle(epoch, Stopped())
	}

	handler, err := ch.Initialize(ctx)
	if err != nil {
		c.logger.Error("Handshake failed", "error", err)
		c.teardown(ctx, epoch)
		return c.settle(epoch, failed(transport.ErrorCodeGeneric, fmt.Sprintf("handshake failed: %s", err), false))
	}

	st = c.settle(epoch, running(handler))
	if st.Handler == handler {
		c.watch(epoch, ch)
		c.logger.Info("Connection running")
	}
	return st
}

// waitReady blocks until the channel leaves Starting or ctx ends.
func waitReady(ctx context.Context, ch transport.Channel) (transport.ChannelState, error) {
	changed := make(chan struct{}, 1)
	dispose := ch.State().Subscribe(func(transport.ChannelState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer dispose()

	for {
		st := ch.State().Get()
		if st.Status != transport.StatusStarting {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// watch follows the channel after it reached Running so crashes and lost connections surface as state changes.
func (c *Connection) watch(epoch uint64, ch transport.Channel) {
	dispose := ch.State().Subscribe(func(st transport.ChannelState) {
		switch st.Status {
		case transport.StatusError:
			c.logger.Warn("Connection failed", "message", st.Message, "retry", st.ShouldRetry)
			c.settle(epoch, failed(st.Code, st.Message, st.ShouldRetry))
		case transport.StatusStopped:
			c.logger.Info("Connection stopped by transport")
			c.settle(epoch, Stopped())
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		dispose()
		return
	}
	c.disposeWatch = dispose
}

// releaseLocked drops what a previous attempt left behind after it failed.
func (c *Connection) releaseLocked(ctx context.Context) {
	if c.disposeWatch != nil {
		c.disposeWatch()
		c.disposeWatch = nil
	}
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	if c.channel != nil {
		ch := c.channel
		c.channel = nil
		go func() { _ = ch.Stop(context.WithoutCancel(ctx)) }()
	}
}

// adopt records ch as the live channel unless Stop ran since the attempt began.
func (c *Connection) adopt(epoch uint64, ch transport.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.channel = ch
	return true
}

func (c *Connection) teardown(ctx context.Context, epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Stop(context.WithoutCancel(ctx))
	}
}

// settle publishes next if no Stop happened since the attempt identified by epoch began,
// and returns whichever state is current afterwards.
func (c *Connection) settle(epoch uint64, next *State) *State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return c.state.Get()
	}
	c.state.Set(next, nil)
	return next
}

// Stop tears down the channel, if any, and leaves the connection Stopped. Stopping a stopped connection is a no-op.
func (c *Connection) Stop(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	if ch == nil && c.cancelAttempt == nil && c.state.Get() == stopped {
		c.mu.Unlock()
		return nil
	}

	c.epoch++
	c.channel = nil
	dispose := c.disposeWatch
	c.disposeWatch = nil
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.state.Set(Stopped(), nil)
	c.mu.Unlock()

	if dispose != nil {
		dispose()
	}

	if ch == nil {
		return nil
	}

	c.logger.Debug("Stopping connection")
	if err := ch.Stop(ctx); err != nil {
		return fmt.Errorf("error stopping server '%s': %w", c.id, err)
	}
	return nil
}
