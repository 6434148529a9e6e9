package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

type loop struct {
	client    providers.Client
	commands  <-chan worker.Command
	responses chan<- worker.Response
	notifier  worker.Notifier
	log       *zap.Logger
}

// chunkResult is what the stream reader hands to the loop. The final result
// has end set and carries the stream error, if any.
type chunkResult struct {
	chunk providers.Chunk
	end   bool
	err   error
}

func (l *loop) run(ctx context.Context) {
	for {
		select {
		case cmd, ok := <-l.commands:
			if !ok {
				l.log.Debug("command channel closed; worker exiting")
				return
			}
			if exit := l.handle(ctx, cmd); exit {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *loop) handle(ctx context.Context, cmd worker.Command) bool {
	switch c := cmd.(type) {
	case worker.Stop:
		return !l.done(ctx)
	case worker.FetchModels:
		return !l.fetchModels(ctx)
	case worker.Predict:
		return l.predict(ctx, c)
	default:
		return !l.emit(ctx, worker.Error{Err: fmt.Errorf("%w: %s is not handled by the remote backend", errors.ErrUnsupported, worker.Describe(cmd))})
	}
}

// emit delivers resp unless the worker is being torn down.
func (l *loop) emit(ctx context.Context, resp worker.Response) bool {
	select {
	case l.responses <- resp:
		l.notifier.RequestRedraw()
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *loop) done(ctx context.Context) bool {
	if !l.emit(ctx, worker.Done{}) {
		return false
	}
	l.notifier.RequestRedrawAfter(worker.DoneRedrawDelay)
	return true
}

func (l *loop) fetchModels(ctx context.Context) bool {
	models, err := l.client.ListModels(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		l.log.Warn("couldn't fetch models", zap.Error(err))
		return l.emit(ctx, worker.Error{Err: fmt.Errorf("fetch models: %w", err)})
	}
	catalog := append([]string(nil), models...)
	sort.Strings(catalog)
	l.log.Debug("fetched models", zap.Int("count", len(catalog)))
	return l.emit(ctx, worker.Models{Catalog: catalog})
}

// poll drains queued commands at a chunk boundary. It returns true when a
// Stop was found, and reports a closed channel as disconnected.
func (l *loop) poll(ctx context.Context) (stop, disconnected bool) {
	for {
		select {
		case cmd, ok := <-l.commands:
			if !ok {
				return false, true
			}
			if _, isStop := cmd.(worker.Stop); isStop {
				return true, false
			}
			if !l.emit(ctx, worker.Busy{Command: cmd}) {
				return false, true
			}
		default:
			return false, false
		}
	}
}

// predict streams one generation. It reports true when the worker must exit.
func (l *loop) predict(ctx context.Context, req worker.Predict) bool {
	log := l.log.With(zap.String("request_id", uuid.NewString()))

	opts := req.Options.Clone()
	if err := opts.Validate(); err != nil {
		return !l.emit(ctx, worker.Error{Err: err})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Debug("stream requested", zap.String("model", opts.Model), zap.Int("max_tokens", opts.MaxTokens))
	stream, err := l.client.Stream(streamCtx, chatRequest(req.Prompt, opts))
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.Warn("couldn't open stream", zap.Error(err))
		return !l.emit(ctx, worker.Error{Err: &worker.StreamError{Err: err}})
	}

	chunks := make(chan chunkResult)
	var reader conc.WaitGroup
	// Closing the stream unblocks a reader whose Next ignores streamCtx.
	defer reader.Wait()
	defer stream.Close()
	defer cancel()

	reader.Go(func() {
		for stream.Next() {
			select {
			case chunks <- chunkResult{chunk: stream.Current()}:
			case <-streamCtx.Done():
				return
			}
		}
		select {
		case chunks <- chunkResult{end: true, err: stream.Err()}:
		case <-streamCtx.Done():
		}
	})

	received := 0
	for {
		select {
		case <-ctx.Done():
			return true

		case cmd, ok := <-l.commands:
			// Commands are also observed while waiting on a slow stream.
			if !ok {
				log.Debug("disconnected during generation")
				return true
			}
			if _, isStop := cmd.(worker.Stop); isStop {
				log.Debug("generation cancelled while waiting", zap.Int("chunks", received))
				return !l.done(ctx)
			}
			if !l.emit(ctx, worker.Busy{Command: cmd}) {
				return true
			}

		case res := <-chunks:
			if res.end {
				if res.err != nil {
					if ctx.Err() != nil {
						return true
					}
					log.Warn("stream failed", zap.Error(res.err), zap.Int("chunks", received))
					return !l.emit(ctx, worker.Error{Err: &worker.StreamError{Err: res.err}})
				}
				log.Debug("stream ended without a finish reason", zap.Int("chunks", received))
				return !l.done(ctx)
			}

			stop, disconnected := l.poll(ctx)
			if disconnected {
				return true
			}
			if stop {
				log.Debug("generation cancelled", zap.Int("chunks", received))
				return !l.done(ctx)
			}

			received++
			if delta := res.chunk.Delta; delta != "" {
				if !l.emit(ctx, worker.Predicted{Piece: delta}) {
					return true
				}
			}

			switch classifyFinish(res.chunk.FinishReason) {
			case finishDone:
				log.Debug("generation finished", zap.String("finish_reason", res.chunk.FinishReason), zap.Int("chunks", received))
				return !l.done(ctx)
			case finishAbnormal:
				log.Warn("unexpected finish reason", zap.String("finish_reason", res.chunk.FinishReason))
				return !l.emit(ctx, worker.Error{Err: &worker.FinishError{Reason: res.chunk.FinishReason}})
			}
		}
	}
}

func chatRequest(prompt string, opts worker.Options) providers.ChatRequest {
	history := make([]providers.ChatMessage, 0, len(opts.Messages))
	for _, m := range opts.Messages {
		history = append(history, providers.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return providers.ChatRequest{
		Model:      opts.Model,
		System:     opts.System,
		History:    history,
		Prompt:     prompt,
		MaxTokens:  opts.MaxTokens,
		Stop:       opts.Stop,
		Seed:       opts.Seed,
		Parameters: opts.Parameters,
	}
}
