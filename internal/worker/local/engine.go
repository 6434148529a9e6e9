package local

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

// load creates an engine with at least the minimum context and checks that
// the model was trained for the requested size.
func (l *loop) load(ctx context.Context, path string, contextSize int) (providers.Engine, error) {
	size := max(contextSize, appconfig.MinContextSize)
	l.log.Info("creating engine", zap.String("model", path), zap.Int("context_size", size))

	engine, err := l.loader.Load(ctx, path, size)
	if err != nil {
		return nil, &worker.LoadError{Path: path, Err: err}
	}
	if supported := engine.TrainedContextSize(); supported > 0 && contextSize > supported {
		_ = engine.Close()
		return nil, &worker.ContextTooLargeError{Requested: contextSize, Supported: supported}
	}
	return engine, nil
}

func (l *loop) closeEngine() {
	if l.engine == nil {
		return
	}
	if err := l.engine.Close(); err != nil {
		l.log.Warn("closing engine", zap.Error(err))
	}
	l.engine = nil
}

// loadModel swaps the active model. The old engine is released first so two
// models are never resident at once.
func (l *loop) loadModel(ctx context.Context, path string) {
	l.closeEngine()

	engine, err := l.load(ctx, path, l.contextSize)
	if err != nil {
		l.modelPath = ""
		l.log.Warn("model load failed", zap.String("model", path), zap.Error(err))
		l.emit(worker.Error{Err: err})
		return
	}

	l.engine = engine
	l.modelPath = path
	caps := capabilitiesOf(engine)
	l.log.Info("model loaded",
		zap.String("model", filepath.Base(path)),
		zap.Int("context_size", caps.ContextSize),
		zap.Int("trained_context_size", caps.TrainedContextSize),
		zap.Any("metadata", caps.Metadata),
	)
	l.emit(worker.LoadedModel{Path: path, Capabilities: caps})
}

// ensureEngine returns an engine able to hold maxTokens, recreating it with
// a larger context when needed. On failure the model path is forgotten and
// later predictions report that no model is loaded.
func (l *loop) ensureEngine(ctx context.Context, maxTokens int) (providers.Engine, error) {
	if l.engine == nil {
		if l.modelPath == "" {
			return nil, worker.ErrNoModelLoaded
		}
		engine, err := l.load(ctx, l.modelPath, max(l.contextSize, maxTokens))
		if err != nil {
			l.modelPath = ""
			return nil, err
		}
		l.engine = engine
		return engine, nil
	}

	if maxTokens <= max(l.engine.ContextSize(), appconfig.MinContextSize) {
		return l.engine, nil
	}

	l.log.Info("context too small; recreating engine",
		zap.Int("current", l.engine.ContextSize()),
		zap.Int("requested", maxTokens),
	)
	l.closeEngine()
	engine, err := l.load(ctx, l.modelPath, maxTokens)
	if err != nil {
		l.modelPath = ""
		return nil, err
	}
	l.engine = engine
	return engine, nil
}

func capabilitiesOf(engine providers.Engine) worker.Capabilities {
	meta := make(map[string]string, len(engine.Metadata()))
	for k, v := range engine.Metadata() {
		meta[k] = v
	}
	return worker.Capabilities{
		ContextSize:        engine.ContextSize(),
		TrainedContextSize: engine.TrainedContextSize(),
		Metadata:           meta,
	}
}
