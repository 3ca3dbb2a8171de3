package announce

import (
	"context"

	"github.com/pkg/errors"
)

// ErrPoolClosed is returned by Acquire once the pool is closed
var ErrPoolClosed = errors.New("validation context pool is closed")

// Pool hands out a fixed set of validation contexts so concurrent checks
// never share one.
type Pool struct {
	contexts chan *Context
	size     int
}

// NewPool allocates size contexts. size below one is treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{contexts: make(chan *Context, size), size: size}
	for i := 0; i < size; i++ {
		p.contexts <- NewContext()
	}
	return p
}

// Size returns the number of contexts the pool owns
func (p *Pool) Size() int {
	return p.size
}

// Acquire blocks until a context is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case c, ok := <-p.contexts:
		if !ok {
			return nil, ErrPoolClosed
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a context obtained from Acquire.
func (p *Pool) Release(c *Context) {
	c.mustBeLive()
	p.contexts <- c
}

// Close waits for every context to be released, destroys them and makes
// further Acquire calls fail. Close must be called once.
func (p *Pool) Close() {
	for i := 0; i < p.size; i++ {
		c := <-p.contexts
		c.Destroy()
	}
	close(p.contexts)
}
