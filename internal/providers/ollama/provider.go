// internal/providers/ollama/provider.go
// Package ollama provides a remote streaming client backed by Ollama HTTP endpoints.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

// Client implements providers.Client using Ollama HTTP APIs.
type Client struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

var _ providers.Client = (*Client)(nil)

// New constructs a Client configured from the remote settings.
func New(cfg *appconfig.Config) *Client {
	return NewClient(cfg.Remote.BaseURL, cfg.RequestTimeout())
}

// NewClient constructs a Client for the server at baseURL. timeout bounds
// non-streaming requests only.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = appconfig.Config{}.RequestTimeout()
	}
	return &Client{
		// Streams run until the worker cancels them.
		client:  &http.Client{Transport: &http.Transport{ForceAttemptHTTP2: false}},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
	}
}

func (c *Client) Name() string { return appconfig.ProviderOllama }

// Validate rejects a client without a server address.
func (c *Client) Validate() error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: ollama requires remote.baseURL", worker.ErrInvalidConfig)
	}
	return nil
}

// tagsResponse defines the structure of the response from the /api/tags endpoint.
type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// streamChunk covers both /api/generate and /api/chat stream lines.
type streamChunk struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Message  struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
	EvalCount  int    `json:"eval_count"`
}

func (c streamChunk) text() string {
	if c.Response != "" {
		return c.Response
	}
	return c.Message.Content
}

// ListModels returns the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/api/tags"
	logging.LogRequest("WEAVE->LLM", c.baseURL, "", "", map[string]string{"method": http.MethodGet, "url": endpoint})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.LogRequest("LLM->WEAVE", c.baseURL, "", "", body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: /api/tags returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

// Stream issues a streaming request. A bare prompt goes to /api/generate;
// a request carrying history goes to /api/chat.
func (c *Client) Stream(ctx context.Context, req providers.ChatRequest) (providers.ChunkStream, error) {
	options := buildOptions(req.Parameters)
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}
	if req.Seed != nil {
		options["seed"] = *req.Seed
	}

	path := "/api/generate"
	payload := map[string]any{
		"model":   req.Model,
		"options": options,
		"stream":  true,
	}
	if len(req.History) == 0 {
		payload["prompt"] = req.Prompt
		payload["raw"] = false
		if strings.TrimSpace(req.System) != "" {
			payload["system"] = req.System
		}
	} else {
		path = "/api/chat"
		payload["messages"] = chatMessages(req)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	logging.LogRequest("WEAVE->LLM", c.baseURL, req.Model, "", body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		logging.LogRequest("LLM->WEAVE", c.baseURL, req.Model, "", raw)
		return nil, fmt.Errorf("ollama: %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(raw)))
	}

	return &chunkStream{
		body:    resp.Body,
		decoder: json.NewDecoder(resp.Body),
		host:    c.baseURL,
		model:   req.Model,
	}, nil
}

func chatMessages(req providers.ChatRequest) []providers.ChatMessage {
	messages := make([]providers.ChatMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, providers.ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, req.History...)
	return append(messages, providers.ChatMessage{Role: "user", Content: req.Prompt})
}

// chunkStream decodes newline-delimited JSON stream objects.
type chunkStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	host    string
	model   string

	current  providers.Chunk
	err      error
	finished bool
}

func (s *chunkStream) Next() bool {
	if s.finished {
		return false
	}
	var chunk streamChunk
	if err := s.decoder.Decode(&chunk); err != nil {
		s.finished = true
		if !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("ollama: decode stream: %w", err)
		}
		return false
	}
	if data, err := json.Marshal(chunk); err == nil {
		logging.LogRequest("LLM->WEAVE", s.host, s.model, "", data)
	}

	if chunk.Error != "" {
		s.finished = true
		s.err = fmt.Errorf("ollama: %s", chunk.Error)
		return false
	}

	s.current = providers.Chunk{Delta: chunk.text()}
	if chunk.Done {
		s.finished = true
		s.current.FinishReason = chunk.DoneReason
		if s.current.FinishReason == "" {
			s.current.FinishReason = "stop"
		}
	}
	return true
}

func (s *chunkStream) Current() providers.Chunk { return s.current }
func (s *chunkStream) Err() error               { return s.err }

func (s *chunkStream) Close() error {
	s.finished = true
	return s.body.Close()
}

func buildOptions(params appconfig.Parameters) map[string]any {
	options := map[string]any{}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MinP != nil {
		options["min_p"] = *params.MinP
	}
	if params.TFSZ != nil {
		options["tfs_z"] = *params.TFSZ
	}
	if params.TypicalP != nil {
		options["typical_p"] = *params.TypicalP
	}
	if params.RepeatLastN != nil {
		options["repeat_last_n"] = *params.RepeatLastN
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.RepeatPenalty != nil {
		options["repeat_penalty"] = *params.RepeatPenalty
	}
	if params.PresencePenalty != nil {
		options["presence_penalty"] = *params.PresencePenalty
	}
	if params.FrequencyPenalty != nil {
		options["frequency_penalty"] = *params.FrequencyPenalty
	}
	return options
}
