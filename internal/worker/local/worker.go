// Package local runs a local inference engine on a dedicated goroutine.
//
// The caller and the worker goroutine exchange messages through two
// unbounded mailboxes, so neither Predict nor piece delivery ever blocks.
// Closing the command mailbox is the termination signal.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

// Config configures a local worker.
type Config struct {
	// ModelPath is the model file loaded on the first prediction.
	ModelPath string
	// ContextSize is the context of the first engine. It never drops below
	// appconfig.MinContextSize.
	ContextSize int
	Loader      providers.EngineLoader
	Notifier    worker.Notifier
}

// Worker manages the local engine goroutine and its mailboxes.
type Worker struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	wg        *conc.WaitGroup
	commands  *worker.Mailbox[worker.Command]
	responses *worker.Mailbox[worker.Response]
	cancel    context.CancelFunc
}

var _ worker.Worker = (*Worker)(nil)

// New returns an idle worker. Call Start to spawn its goroutine.
func New(cfg Config) *Worker {
	if cfg.Notifier == nil {
		cfg.Notifier = worker.NopNotifier{}
	}
	if cfg.ContextSize < appconfig.MinContextSize {
		cfg.ContextSize = appconfig.MinContextSize
	}
	return &Worker{cfg: cfg, log: logging.Named("local")}
}

// Start validates the model path and spawns the worker goroutine.
// It is a no-op when the worker is already alive.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.wg != nil {
		w.log.Debug("start ignored; worker already alive")
		return nil
	}
	if w.cfg.Loader == nil {
		return fmt.Errorf("%w: no engine loader configured", worker.ErrInvalidConfig)
	}
	if err := checkModelFile(w.cfg.ModelPath); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	commands := worker.NewMailbox[worker.Command]()
	responses := worker.NewMailbox[worker.Response]()
	l := &loop{
		commands:    commands,
		responses:   responses,
		notifier:    w.cfg.Notifier,
		loader:      w.cfg.Loader,
		log:         w.log,
		modelPath:   w.cfg.ModelPath,
		contextSize: w.cfg.ContextSize,
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() { l.run(ctx) })

	w.wg = wg
	w.commands = commands
	w.responses = responses
	w.cancel = cancel
	w.log.Info("worker started", zap.String("model", w.cfg.ModelPath), zap.Int("context_size", w.cfg.ContextSize))
	return nil
}

func checkModelFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no model path configured", worker.ErrModelNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", worker.ErrModelNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", worker.ErrModelNotFound, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", worker.ErrModelNotFound, path)
	}
	return nil
}

// Stop asks the worker to cancel the current generation after the next
// piece. It does nothing when the worker is not alive.
func (w *Worker) Stop() error {
	w.mu.Lock()
	alive := w.wg != nil
	w.mu.Unlock()
	if !alive {
		return nil
	}
	w.log.Debug("stop requested")
	return w.Send(worker.Stop{})
}

// Shutdown closes the command mailbox, cancels in-flight engine calls and
// waits for the goroutine to exit. Handles are cleared before waiting, so
// the worker can be started again even when the goroutine panicked.
func (w *Worker) Shutdown() error {
	w.mu.Lock()
	wg, commands, cancel := w.wg, w.commands, w.cancel
	w.wg, w.commands, w.responses, w.cancel = nil, nil, nil, nil
	w.mu.Unlock()

	if wg == nil {
		return nil
	}

	w.log.Debug("shutting down worker")
	commands.Close()
	cancel()
	if r := wg.WaitAndRecover(); r != nil {
		w.log.Error("worker goroutine panicked", zap.Any("panic", r.Value), zap.ByteString("stack", r.Stack))
		return &worker.PanicError{Value: r.Value, Stack: r.Stack}
	}
	w.log.Info("worker shut down")
	return nil
}

// Predict queues a prediction. The options are cloned so later caller-side
// changes cannot reach the request.
func (w *Worker) Predict(prompt string, opts worker.Options) error {
	return w.Send(worker.Predict{Prompt: prompt, Options: opts.Clone()})
}

// LoadModel queues a model swap.
func (w *Worker) LoadModel(path string) error {
	return w.Send(worker.LoadModel{Path: path})
}

// Send queues cmd. The returned error carries cmd back to the caller.
func (w *Worker) Send(cmd worker.Command) error {
	w.mu.Lock()
	commands := w.commands
	w.mu.Unlock()

	if commands == nil {
		return &worker.SendError{Command: cmd, Err: worker.ErrNotAlive}
	}
	if !commands.Send(cmd) {
		return &worker.SendError{Command: cmd, Err: worker.ErrDisconnected}
	}
	return nil
}

// TryReceive returns the next response without blocking. When the worker
// goroutine has exited it joins it, clears the handles and returns
// worker.ErrDisconnected, joined with the panic if there was one.
func (w *Worker) TryReceive() (worker.Response, bool, error) {
	w.mu.Lock()
	responses := w.responses
	w.mu.Unlock()

	if responses == nil {
		return nil, false, nil
	}
	resp, ok, closed := responses.TryRecv()
	if ok {
		return resp, true, nil
	}
	if !closed {
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
