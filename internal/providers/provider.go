// internal/providers/provider.go

// Package providers defines the adapter interfaces the generation workers
// drive. A local backend is an Engine yielding a blocking piece iterator; a
// remote backend is a Client yielding a stream of delta chunks.
package providers

import (
	"context"

	"github.com/mwiater/weave/internal/appconfig"
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a raw text continuation request for a local engine.
type CompletionRequest struct {
	Prompt     string
	MaxTokens  int
	Stop       []string
	Seed       *int64
	Parameters appconfig.Parameters
}

// PieceStream is a blocking iterator over detokenized pieces.
//
//	for s.Next() {
//		piece := s.Piece()
//	}
//	if err := s.Err(); err != nil { ... }
type PieceStream interface {
	Next() bool
	Piece() string
	Err() error
	Close() error
}

// Engine is a loaded local model. It is owned by one goroutine at a time.
type Engine interface {
	// ContextSize is the context the engine was created with.
	ContextSize() int
	// TrainedContextSize is the largest context the model supports.
	TrainedContextSize() int
	Metadata() map[string]string
	// StopSequences are the model's own end-of-generation markers.
	StopSequences() []string
	Predict(ctx context.Context, req CompletionRequest) (PieceStream, error)
	Close() error
}

// EngineLoader creates engines for a model file.
type EngineLoader interface {
	Load(ctx context.Context, modelPath string, contextSize int) (Engine, error)
}

// EngineLoaderFunc adapts a function to EngineLoader.
type EngineLoaderFunc func(ctx context.Context, modelPath string, contextSize int) (Engine, error)

func (f EngineLoaderFunc) Load(ctx context.Context, modelPath string, contextSize int) (Engine, error) {
	return f(ctx, modelPath, contextSize)
}

// ChatRequest is a streaming request for a remote client.
type ChatRequest struct {
	Model      string
	System     string
	History    []ChatMessage
	Prompt     string
	MaxTokens  int
	Stop       []string
	Seed       *int64
	Parameters appconfig.Parameters
}

// Chunk is one delta received from a remote stream.
type Chunk struct {
	Delta string
	// FinishReason is empty while the stream continues.
	FinishReason string
}

// ChunkStream is a blocking iterator over remote chunks.
type ChunkStream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Client is a remote text generation service.
type Client interface {
	// Name identifies the service in logs.
	Name() string
	ListModels(ctx context.Context) ([]string, error)
	Stream(ctx context.Context, req ChatRequest) (ChunkStream, error)
}
