package llamacpp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providers"
)

type completionChunk struct {
	Content  string `json:"content"`
	Stop     bool   `json:"stop"`
	StopType string `json:"stop_type"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Predict posts a streaming /completion request and returns an iterator over
// its pieces. The request is cancelled with ctx.
func (e *Engine) Predict(ctx context.Context, req providers.CompletionRequest) (providers.PieceStream, error) {
	payload := map[string]any{
		"prompt":       req.Prompt,
		"n_predict":    req.MaxTokens,
		"stream":       true,
		"cache_prompt": true,
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	applyParameters(payload, req.Parameters)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	logging.LogRequest("WEAVE->LLM", e.baseURL, e.modelPath, "", body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		logging.LogRequest("LLM->WEAVE", e.baseURL, e.modelPath, "", raw)
		return nil, fmt.Errorf("llama.cpp: /completion returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	return &pieceStream{
		body:      resp.Body,
		reader:    bufio.NewReader(resp.Body),
		host:      e.baseURL,
		modelPath: e.modelPath,
	}, nil
}

// pieceStream reads server-sent events one line at a time.
type pieceStream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	host      string
	modelPath string

	piece    string
	err      error
	finished bool
}

func (s *pieceStream) Next() bool {
	for !s.finished {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			s.finished = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.finished = true
			return false
		}
		logging.LogRequest("LLM->WEAVE", s.host, s.modelPath, "", data)

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.finished = true
			s.err = fmt.Errorf("llama.cpp: decode stream chunk: %w", err)
			return false
		}
		if chunk.Error != nil {
			s.finished = true
			s.err = fmt.Errorf("llama.cpp: %s (code %d)", chunk.Error.Message, chunk.Error.Code)
			return false
		}
		if chunk.Stop {
			s.finished = true
		}
		if chunk.Content != "" {
			s.piece = chunk.Content
			return true
		}
	}
	return false
}

func (s *pieceStream) Piece() string { return s.piece }
func (s *pieceStream) Err() error    { return s.err }

func (s *pieceStream) Close() error {
	s.finished = true
	return s.body.Close()
}
