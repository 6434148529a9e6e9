// Package remote streams generations from a network service on a dedicated
// goroutine.
//
// Commands and responses travel over bounded channels. The command queue is
// small on purpose: while streaming, the worker echoes commands back as Busy
// instead of letting stale requests pile up.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

// Config configures a remote worker.
type Config struct {
	Client providers.Client
	// CommandBuffer and ResponseBuffer size the two channels. Zero selects
	// the configuration defaults.
	CommandBuffer  int
	ResponseBuffer int
	Notifier       worker.Notifier
}

// Validator is implemented by clients that can reject their configuration
// before a goroutine is spawned.
type Validator interface {
	Validate() error
}

// Worker manages the remote streaming goroutine and its channels.
type Worker struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	wg        *conc.WaitGroup
	commands  chan worker.Command
	responses chan worker.Response
	exited    chan struct{}
	cancel    context.CancelFunc
}

var _ worker.Worker = (*Worker)(nil)

// New returns an idle worker.
func New(cfg Config) *Worker {
	if cfg.Notifier == nil {
		cfg.Notifier = worker.NopNotifier{}
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = appconfig.RemoteConfig{}.CommandBufferSize()
	}
	if cfg.ResponseBuffer <= 0 {
		cfg.ResponseBuffer = appconfig.RemoteConfig{}.ResponseBufferSize()
	}
	return &Worker{cfg: cfg, log: logging.Named("remote")}
}

// Start validates the client and spawns the worker goroutine. It is a no-op
// when the worker is already alive.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.wg != nil {
		w.log.Debug("start ignored; worker already alive")
		return nil
	}
	if w.cfg.Client == nil {
		return fmt.Errorf("%w: no remote client configured", worker.ErrInvalidConfig)
	}
	if v, ok := w.cfg.Client.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	commands := make(chan worker.Command, w.cfg.CommandBuffer)
	responses := make(chan worker.Response, w.cfg.ResponseBuffer)
	exited := make(chan struct{})
	l := &loop{
		client:    w.cfg.Client,
		commands:  commands,
		responses: responses,
		notifier:  w.cfg.Notifier,
		log:       w.log.With(zap.String("client", w.cfg.Client.Name())),
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		defer close(exited)
		defer close(responses)
		l.run(ctx)
	})

	w.wg = wg
	w.commands = commands
	w.responses = responses
	w.exited = exited
	w.cancel = cancel
	w.log.Info("worker started",
		zap.String("client", w.cfg.Client.Name()),
		zap.Int("command_buffer", w.cfg.CommandBuffer),
		zap.Int("response_buffer", w.cfg.ResponseBuffer),
	)
	return nil
}

// Stop asks the worker to cancel the current generation. It does nothing
// when the worker is not alive.
func (w *Worker) Stop() error {
	if !w.IsAlive() {
		return nil
	}
	w.log.Debug("stop requested")
	return w.Send(worker.Stop{})
}

// Shutdown closes the command channel, cancels the in-flight stream and
// waits for the goroutine to exit. Handles are cleared first.
func (w *Worker) Shutdown() error {
	w.mu.Lock()
	wg, commands, cancel := w.wg, w.commands, w.cancel
	w.wg, w.commands, w.responses, w.exited, w.cancel = nil, nil, nil, nil, nil
	if commands != nil {
		close(commands)
	}
	w.mu.Unlock()

	if wg == nil {
		return nil
	}

	w.log.Debug("shutting down worker")
	cancel()
	if r := wg.WaitAndRecover(); r != nil {
		w.log.Error("worker goroutine panicked", zap.Any("panic", r.Value), zap.ByteString("stack", r.Stack))
		return &worker.PanicError{Value: r.Value, Stack: r.Stack}
	}
	w.log.Info("worker shut down")
	return nil
}

// Predict queues a prediction with a private copy of opts.
func (w *Worker) Predict(prompt string, opts worker.Options) error {
	return w.Send(worker.Predict{Prompt: prompt, Options: opts.Clone()})
}

// FetchModels queues a catalog request.
func (w *Worker) FetchModels() error {
	return w.Send(worker.FetchModels{})
}

// Send queues cmd without blocking. A full queue, a dead goroutine or a
// missing worker all return cmd inside a *worker.SendError.
func (w *Worker) Send(cmd worker.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.commands == nil {
		return &worker.SendError{Command: cmd, Err: worker.ErrNotAlive}
	}
	select {
	case <-w.exited:
		return &worker.SendError{Command: cmd, Err: worker.ErrDisconnected}
	default:
	}
	select {
	case w.commands <- cmd:
		return nil
	default:
		return &worker.SendError{Command: cmd, Err: worker.ErrQueueFull}
	}
}

// TryReceive returns the next response without blocking. A closed response
// channel means the goroutine exited; the worker is then shut down and
// worker.ErrDisconnected is returned, joined with the panic if there was one.
func (w *Worker) TryReceive() (worker.Response, bool, error) {
	w.mu.Lock()
	responses := w.responses
	w.mu.Unlock()

	if responses == nil {
		return nil, false, nil
	}
	select {
	case resp, ok := <-responses:
		if ok {
			return resp, true, nil
		}
	default:
		return nil, false, nil
	}

	w.log.Warn("worker disconnected")
	if err := w.Shutdown(); err != nil {
		return nil, false, errors.Join(worker.ErrDisconnected, err)
	}
	return nil, false, worker.ErrDisconnected
}

// IsAlive reports whether the worker owns a goroutine.
func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wg != nil
}
