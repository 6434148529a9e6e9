// internal/commands/session.go
package weave

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"

	"github.com/mwiater/weave/internal/providerfactory"
	"github.com/mwiater/weave/internal/worker"
)

var (
	// newWorker is a function alias to providerfactory.NewWorker so tests can substitute a worker.
	newWorker = providerfactory.NewWorker

	// notifyInterrupt returns a context cancelled on Ctrl+C.
	notifyInterrupt = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, os.Interrupt)
	}

	successText = color.New(color.FgGreen).SprintFunc()
	failedText  = color.New(color.FgRed).SprintFunc()
	noticeText  = color.New(color.FgYellow).SprintFunc()
)

// sessionPoll re-checks the worker in case a redraw request was coalesced away.
const sessionPoll = 50 * time.Millisecond

// session drives a worker from a headless command.
type session struct {
	w    worker.Worker
	wake chan struct{}
}

// newSessionNotifier returns a wake channel and the notifier that signals it.
func newSessionNotifier() (chan struct{}, worker.Notifier) {
	wake := make(chan struct{}, 1)
	return wake, worker.NotifierFunc(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
}

// next blocks until the worker produces a response, the worker disconnects,
// or ctx is done.
func (s *session) next(ctx context.Context) (worker.Response, error) {
	for {
		resp, ok, err := s.w.TryReceive()
		if err != nil {
			return nil, err
		}
		if ok {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.wake:
		case <-time.After(sessionPoll):
		}
	}
}
