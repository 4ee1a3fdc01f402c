// Package groutine runs named, pprof-labelled goroutines so platform worker
// threads can be told apart in profiles and logs.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey struct{}

// Go starts fn on a new goroutine labelled with name. A nil parent is
// replaced with context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name a goroutine was started with, or "" outside Go
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

// Group owns a set of named goroutines that share one cancellation.
// Stop cancels them and waits for every one to return.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup creates a group derived from parent
func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Go starts fn in the group
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Done is closed once the group is stopped
func (g *Group) Done() <-chan struct{} {
	return g.ctx.Done()
}

// Stop cancels the group and blocks until all its goroutines returned.
// It is safe to call more than once.
func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}
