// Package safego provides panic-recovering goroutine launchers for background work.
package safego

import (
	"log/slog"
	"sync"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged
// instead of crashing the process.
func Go(fn func()) {
	GoNamed("background", fn)
}

// GoNamed is Go with a task name attached to the recovery log line.
func GoNamed(name string, fn func()) {
	go func() {
		defer recoverAndLog(name)
		fn()
	}()
}

func recoverAndLog(name string) {
	if r := recover(); r != nil {
		slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
	}
}

// Group tracks panic-safe goroutines so a caller can wait for them to finish,
// typically while shutting down a component that fans work out asynchronously.
// The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go runs fn in a tracked goroutine.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer recoverAndLog(name)
		fn()
	}()
}

// Wait blocks until every goroutine started with g.Go has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
