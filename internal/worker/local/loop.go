package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

// loop is the state owned by the worker goroutine. Nothing here is touched
// from the caller's goroutine.
type loop struct {
	commands  *worker.Mailbox[worker.Command]
	responses *worker.Mailbox[worker.Response]
	notifier  worker.Notifier
	loader    providers.EngineLoader
	log       *zap.Logger

	modelPath   string
	contextSize int
	engine      providers.Engine
}

type checkpoint int

const (
	keepGoing checkpoint = iota
	stopRequested
	disconnected
)

func (l *loop) run(ctx context.Context) {
	defer l.responses.Close()
	defer l.commands.Close()
	defer l.closeEngine()

	for {
		cmd, ok := l.commands.Recv(ctx)
		if !ok {
			l.log.Debug("command mailbox closed; worker exiting")
			return
		}

		switch c := cmd.(type) {
		case worker.Stop:
			// A stop can race with natural completion; acknowledge it anyway.
			l.done()
		case worker.LoadModel:
			l.loadModel(ctx, c.Path)
		case worker.Predict:
			if exit := l.predict(ctx, c); exit {
				return
			}
		default:
			l.emit(worker.Error{Err: fmt.Errorf("%w: %s is not handled by the local backend", errors.ErrUnsupported, worker.Describe(cmd))})
		}
	}
}

func (l *loop) emit(resp worker.Response) {
	l.responses.Send(resp)
	l.notifier.RequestRedraw()
}

func (l *loop) done() {
	l.responses.Send(worker.Done{})
	l.notifier.RequestRedraw()
	l.notifier.RequestRedrawAfter(worker.DoneRedrawDelay)
}

// poll drains queued commands until a Stop is found or the mailbox is empty.
// Anything else is echoed back as Busy.
func (l *loop) poll() checkpoint {
	for {
		cmd, ok, closed := l.commands.TryRecv()
		if closed {
			return disconnected
		}
		if !ok {
			return keepGoing
		}
		if _, isStop := cmd.(worker.Stop); isStop {
			return stopRequested
		}
		l.emit(worker.Busy{Command: cmd})
	}
}

// predict runs one generation. It reports true when the worker must exit.
func (l *loop) predict(ctx context.Context, req worker.Predict) bool {
	log := l.log.With(zap.String("request_id", uuid.NewString()))

	opts := req.Options.Clone()
	if err := opts.Validate(); err != nil {
		l.emit(worker.Error{Err: err})
		return false
	}

	engine, err := l.ensureEngine(ctx, opts.MaxTokens)
	if err != nil {
		log.Warn("prediction rejected", zap.Error(err))
		if errors.Is(err, worker.ErrNoModelLoaded) {
			err = &worker.NoModelLoadedError{Request: req}
		}
		l.emit(worker.Error{Err: err})
		return false
	}

	// Model stop markers are added here rather than by the caller so a model
	// swap never leaves stale markers in the caller's options.
	opts = opts.WithStops(engine.StopSequences()...)

	log.Debug("generation started", zap.Int("max_tokens", opts.MaxTokens), zap.Int("prompt_chars", len(req.Prompt)))
	stream, err := engine.Predict(ctx, providers.CompletionRequest{
		Prompt:     req.Prompt,
		MaxTokens:  opts.MaxTokens,
		Stop:       opts.Stop,
		Seed:       opts.Seed,
		Parameters: opts.Parameters,
	})
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		l.emit(worker.Error{Err: &worker.StreamError{Err: err}})
		return false
	}
	defer stream.Close()

	pieces := 0
	for pieces < opts.MaxTokens && stream.Next() {
		switch l.poll() {
		case stopRequested:
			log.Debug("generation cancelled", zap.Int("pieces", pieces))
			l.done()
			return false
		case disconnected:
			log.Debug("disconnected during generation")
			return true
		}
		l.emit(worker.Predicted{Piece: stream.Piece()})
		pieces++
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.Warn("generation failed", zap.Error(err), zap.Int("pieces", pieces))
		l.emit(worker.Error{Err: &worker.StreamError{Err: err}})
		return false
	}

	log.Debug("generation finished", zap.Int("pieces", pieces))
	l.done()
	return false
}
