// internal/providers/openai/client.go
// Package openai provides a remote streaming client backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

// Example turns sent ahead of the story when a request carries no history.
const (
	bootstrapUser      = "Hi, GPT! Let's write a story together."
	bootstrapAssistant = "Sure, I'd love to help. How about you start us off? I'll try to match your tone and style."
)

// Client implements providers.Client.
type Client struct {
	client  openai.Client
	apiKey  string
	baseURL string
	log     *zap.Logger
}

var _ providers.Client = (*Client)(nil)

// New constructs a Client from the remote configuration.
func New(cfg *appconfig.Config) *Client {
	return NewClient(cfg.Remote.APIKey, cfg.Remote.BaseURL)
}

// NewClient constructs a Client for apiKey. An empty baseURL selects the
// public API.
func NewClient(apiKey, baseURL string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	baseURL = strings.TrimSpace(baseURL)

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Failures surface to the worker as stream errors; the caller decides
		// whether to try again.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client:  openai.NewClient(opts...),
		apiKey:  apiKey,
		baseURL: baseURL,
		log:     logging.Named("openai"),
	}
}

func (c *Client) Name() string { return appconfig.ProviderOpenAI }

// Validate rejects a client without credentials.
func (c *Client) Validate() error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: openai api key is empty (set remote.apiKey or OPENAI_API_KEY)", worker.ErrInvalidConfig)
	}
	return nil
}

// ListModels returns every model id visible to the credential.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	logging.LogRequest("WEAVE->LLM", c.host(), "", "", map[string]string{"method": "GET", "path": "models"})

	var ids []string
	iter := c.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		ids = append(ids, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	logging.LogRequest("LLM->WEAVE", c.host(), "", "", ids)
	return ids, nil
}

// Stream opens a streaming chat completion. Request failures are reported by
// the returned stream's Err.
func (c *Client) Stream(ctx context.Context, req providers.ChatRequest) (providers.ChunkStream, error) {
	params := buildParams(req)
	logging.LogRequest("WEAVE->LLM", c.host(), req.Model, "", params)
	c.log.Debug("opening chat stream", zap.String("model", req.Model), zap.Int("messages", len(params.Messages)))

	return &chunkStream{
		stream: c.client.Chat.Completions.NewStreaming(ctx, params),
		host:   c.host(),
		model:  req.Model,
	}, nil
}

func (c *Client) host() string {
	if c.baseURL == "" {
		return "api.openai.com"
	}
	return c.baseURL
}

func buildParams(req providers.ChatRequest) openai.ChatCompletionNewParams {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = appconfig.DefaultRemoteModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: buildMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: append([]string(nil), req.Stop...)}
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}

	p := req.Parameters
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}
	if p.TopP != nil {
		params.TopP = openai.Float(*p.TopP)
	}
	if p.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*p.PresencePenalty)
	}
	if p.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*p.FrequencyPenalty)
	}
	return params
}

// buildMessages lays out system prompt, history and the story text as the
// final user turn.
func buildMessages(req providers.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	system := strings.TrimSpace(req.System)
	if system == "" {
		system = appconfig.DefaultSystemPrompt
	}
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}

	history := req.History
	if len(history) == 0 {
		history = []providers.ChatMessage{
			{Role: "user", Content: bootstrapUser},
			{Role: "assistant", Content: bootstrapAssistant},
		}
	}
	for _, m := range history {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return append(messages, openai.UserMessage(req.Prompt))
}

// chunkStream adapts the SDK's event stream to providers.ChunkStream.
type chunkStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	host   string
	model  string

	current providers.Chunk
}

func (s *chunkStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		logging.LogRequest("LLM->WEAVE", s.host, s.model, "", chunk.RawJSON())
		// Usage-only chunks carry no choices.
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		s.current = providers.Chunk{
			Delta:        choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		}
		return true
	}
	return false
}

func (s *chunkStream) Current() providers.Chunk { return s.current }

func (s *chunkStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	return nil
}

func (s *chunkStream) Close() error { return s.stream.Close() }
