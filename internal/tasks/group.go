// Package tasks runs detached background work that callers never await.
package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/studyquest/offline-engine/internal/logger"
)

// Group tracks detached tasks. Errors and panics are logged, never returned
// to the code that spawned the task.
type Group struct {
	log logger.Logger
	wg  sync.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	onError func(name string, err error)
}

// NewGroup creates a task group. Tasks receive a context that is canceled by
// Close, not by the context of the request that spawned them.
func NewGroup(log logger.Logger) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		log:    log.Module("tasks"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnError registers a hook invoked for every failed task, e.g. a metrics counter.
func (g *Group) OnError(fn func(name string, err error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onError = fn
}

// Go starts fn in its own goroutine. It reports false if the group is closed.
func (g *Group) Go(name string, fn func(ctx context.Context) error) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.log.Debug("task dropped after close", logger.String("task", name))
		return false
	}
	g.wg.Add(1)
	ctx := g.ctx
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		g.run(ctx, name, fn)
	}()
	return true
}

func (g *Group) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(name, fmt.Errorf("task panicked: %v", r))
			g.log.Error("task panic stack", logger.String("task", name), logger.String("stack", string(debug.Stack())))
		}
	}()
	if err := fn(ctx); err != nil {
		g.fail(name, err)
	}
}

func (g *Group) fail(name string, err error) {
	g.log.Warn("background task failed", logger.String("task", name), logger.Error(err))
	g.mu.Lock()
	hook := g.onError
	g.mu.Unlock()
	if hook != nil {
		hook(name, err)
	}
}

// Wait blocks until every started task has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Close stops accepting tasks, cancels the running ones and waits for them.
func (g *Group) Close() {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		g.cancel()
	}
	g.mu.Unlock()
	g.wg.Wait()
}
