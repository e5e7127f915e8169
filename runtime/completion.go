package runtime

import (
	"context"
	"sync"
)

// Completion reports the outcome of an asynchronous operation, exactly once.
type Completion struct {
	id   string
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion(id string) *Completion {
	return &Completion{id: id, done: make(chan struct{})}
}

// Completed returns an already resolved completion.
func Completed(id string, err error) *Completion {
	c := newCompletion(id)
	c.Resolve(err)
	return c
}

// ID is the operation id. For invitations it is the invitation id.
func (c *Completion) ID() string { return c.id }

func (c *Completion) Done() <-chan struct{} { return c.done }

// Err is nil until the completion is resolved.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve settles the completion. Only the first call counts.
func (c *Completion) Resolve(err error) bool {
	resolved := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}
