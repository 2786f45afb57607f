package routing

import (
	"context"
	"sync"
)

// Completion is the handle returned by registration operations. It settles exactly
// once, either immediately or when a deferred parent forwarding finishes.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewCompletion returns an unsettled completion
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolved returns a completion that already succeeded
func Resolved() *Completion {
	c := NewCompletion()
	c.Resolve()
	return c
}

// Rejected returns a completion that already failed with err
func Rejected(err error) *Completion {
	c := NewCompletion()
	c.Reject(err)
	return c
}

// Resolve settles the completion successfully. Later calls have no effect.
func (c *Completion) Resolve() {
	c.Settle(nil)
}

// Reject settles the completion with err. Later calls have no effect.
func (c *Completion) Reject(err error) {
	c.Settle(err)
}

// Settle resolves the completion when err is nil and rejects it otherwise.
func (c *Completion) Settle(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the completion has settled
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the settled error. It is nil while the completion is pending.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Settled reports whether the completion has settled
func (c *Completion) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the completion settles or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
