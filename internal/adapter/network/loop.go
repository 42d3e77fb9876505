package network

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

const loopQueueSize = 1024

// Loop is the process-wide dispatcher every outbound request goes through.
// One goroutine owns the queue and starts each submitted task; tasks run
// concurrently on the Go runtime's network poller.
type Loop struct {
	tasks chan func()
}

var (
	loopOnce    sync.Once
	defaultLoop *Loop
)

// Init starts the dispatcher goroutine once per process. Later calls are
// no-ops. The goroutine is never stopped.
func Init() {
	loopOnce.Do(func() {
		defaultLoop = newLoop()
	})
}

// GetLoop returns the process loop, starting it if needed.
func GetLoop() *Loop {
	Init()
	return defaultLoop
}

func newLoop() *Loop {
	l := &Loop{tasks: make(chan func(), loopQueueSize)}
	go l.run()
	return l
}

func (l *Loop) run() {
	for task := range l.tasks {
		go task()
	}
}

// Call submits fn and blocks until it returns or ctx is done. When ctx ends
// first, Call returns ctx.Err() and fn keeps running with the same ctx.
// A panic in fn is returned as an error.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in loop task: %v\n%s", r, debug.Stack())
			}
		}()
		done <- fn(ctx)
	}

	select {
	case l.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
