package worker

import (
	"context"
	"time"
)

// Worker is the contract shared by every generation backend.
//
// A Worker is owned by a single caller goroutine. Only Shutdown may block,
// and only for as long as it takes the worker goroutine to exit.
type Worker interface {
	// Start spawns the worker goroutine. It is a no-op when already alive.
	Start(ctx context.Context) error
	// Stop asks the worker to cancel the in-flight generation.
	Stop() error
	// Shutdown disconnects the worker and waits for its goroutine to exit.
	// Handles are cleared even when the goroutine panicked.
	Shutdown() error
	// Predict queues a generation request. Options are cloned before sending.
	Predict(prompt string, opts Options) error
	// Send queues an arbitrary command.
	Send(cmd Command) error
	// TryReceive polls for the next response without blocking. It returns
	// ErrDisconnected exactly once when the worker goroutine has exited.
	TryReceive() (Response, bool, error)
	// IsAlive reports whether a worker goroutine is owned.
	IsAlive() bool
}

// Notifier lets a worker ask its owner to re-render.
type Notifier interface {
	RequestRedraw()
	RequestRedrawAfter(d time.Duration)
}

// NotifierFunc adapts a function to Notifier. Delayed requests are
// delivered from a timer goroutine.
type NotifierFunc func()

func (f NotifierFunc) RequestRedraw() { f() }

func (f NotifierFunc) RequestRedrawAfter(d time.Duration) {
	if d <= 0 {
		f()
		return
	}
	time.AfterFunc(d, f)
}

// NopNotifier ignores redraw requests. Headless callers use it.
type NopNotifier struct{}

func (NopNotifier) RequestRedraw()                   {}
func (NopNotifier) RequestRedrawAfter(time.Duration) {}

// DoneRedrawDelay re-arms a redraw after Done so the final piece is painted.
const DoneRedrawDelay = 100 * time.Millisecond

// IsTerminal reports whether r ends the current request.
func IsTerminal(r Response) bool {
	switch r.(type) {
	case Done, Error:
		return true
	default:
		return false
	}
}
