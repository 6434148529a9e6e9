// internal/providers/llamacpp/provider.go
// Package llamacpp provides a local engine backed by llama.cpp's HTTP server.
// The engine either owns a llama-server subprocess or attaches to one that is
// already running.
package llamacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providers"
)

// Options configures how engines are created.
type Options struct {
	// ServerBinary is the llama-server executable.
	ServerBinary string
	// ServerURL attaches to a running server instead of spawning one.
	ServerURL string
	Port      int
	GPULayers int
	// Threads defaults to the number of CPUs.
	Threads int
	// Timeout bounds every non-streaming request and server startup.
	Timeout time.Duration
}

// OptionsFromConfig maps the local configuration onto engine options.
func OptionsFromConfig(cfg *appconfig.Config) Options {
	threads := cfg.Local.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return Options{
		ServerBinary: cfg.Local.ServerBinaryPath(),
		ServerURL:    strings.TrimRight(strings.TrimSpace(cfg.Local.ServerURL), "/"),
		Port:         cfg.Local.ServerPort(),
		GPULayers:    cfg.Local.GPULayers,
		Threads:      threads,
		Timeout:      cfg.RequestTimeout(),
	}
}

// Loader implements providers.EngineLoader.
type Loader struct {
	opts   Options
	client *http.Client
	log    *zap.Logger
}

var _ providers.EngineLoader = (*Loader)(nil)

// New constructs a Loader configured from the application config.
func New(cfg *appconfig.Config) *Loader {
	return NewLoader(OptionsFromConfig(cfg))
}

// NewLoader constructs a Loader from explicit options.
func NewLoader(opts Options) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = appconfig.Config{}.RequestTimeout()
	}
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	return &Loader{
		opts: opts,
		// Streams can outlive any fixed timeout; requests carry their own deadlines.
		client: &http.Client{Transport: &http.Transport{ForceAttemptHTTP2: false}},
		log:    logging.Named("llamacpp"),
	}
}

// Load starts or attaches to a server holding modelPath with contextSize
// tokens of context and reads the model's properties.
func (l *Loader) Load(ctx context.Context, modelPath string, contextSize int) (providers.Engine, error) {
	e := &Engine{
		client:    l.client,
		timeout:   l.opts.Timeout,
		modelPath: modelPath,
		requested: contextSize,
		log:       l.log,
	}

	if l.opts.ServerURL != "" {
		e.baseURL = l.opts.ServerURL
		l.log.Info("attaching to llama.cpp server", zap.String("url", e.baseURL))
	} else {
		proc, err := startServer(ctx, l.opts, modelPath, contextSize, l.log)
		if err != nil {
			return nil, err
		}
		e.proc = proc
		e.baseURL = fmt.Sprintf("http://127.0.0.1:%d", l.opts.Port)
	}

	if err := e.waitHealthy(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	if err := e.readProperties(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// Engine is a model served by llama.cpp.
type Engine struct {
	client    *http.Client
	timeout   time.Duration
	baseURL   string
	modelPath string
	requested int
	proc      *serverProcess
	log       *zap.Logger

	contextSize int
	trained     int
	eosToken    string
	metadata    map[string]string
}

var _ providers.Engine = (*Engine)(nil)

func (e *Engine) ContextSize() int        { return e.contextSize }
func (e *Engine) TrainedContextSize() int { return e.trained }

func (e *Engine) Metadata() map[string]string {
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// StopSequences returns the model's end-of-sequence text, if it has one.
func (e *Engine) StopSequences() []string {
	if strings.TrimSpace(e.eosToken) == "" {
		return nil
	}
	return []string{e.eosToken}
}

// Close stops the owned server process. Attached servers are left running.
func (e *Engine) Close() error {
	if e.proc == nil {
		return nil
	}
	err := e.proc.stop()
	e.proc = nil
	return err
}

type propsResponse struct {
	DefaultGenerationSettings struct {
		NCtx int `json:"n_ctx"`
	} `json:"default_generation_settings"`
	NCtx       int    `json:"n_ctx"`
	ModelPath  string `json:"model_path"`
	EOSToken   string `json:"eos_token"`
	BOSToken   string `json:"bos_token"`
	BuildInfo  string `json:"build_info"`
	TotalSlots int    `json:"total_slots"`
}

type modelsResponse struct {
	Data   []llamaModel `json:"data"`
	Models []llamaModel `json:"models"`
}

type llamaModel struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Model string         `json:"model"`
	Path  string         `json:"path"`
	Meta  map[string]any `json:"meta"`
}

func (e *Engine) waitHealthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var exited <-chan struct{}
	if e.proc != nil {
		exited = e.proc.exited
	}
	for {
		status, err := e.health(ctx)
		if err == nil && status == http.StatusOK {
			return nil
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("llama.cpp: server at %s not ready: %w", e.baseURL, err)
			}
			return fmt.Errorf("llama.cpp: server at %s not ready before timeout (status %d)", e.baseURL, status)
		case <-exited:
			return fmt.Errorf("llama.cpp: server exited while loading %s: %w", e.modelPath, e.proc.waitErr())
		case <-ticker.C:
		}
	}
}

func (e *Engine) health(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// readProperties fills context sizes, stop text and metadata from /props and /v1/models.
func (e *Engine) readProperties(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := e.get(ctx, "/props")
	if err != nil {
		return err
	}
	var props propsResponse
	if err := json.Unmarshal(body, &props); err != nil {
		return fmt.Errorf("llama.cpp: decode /props: %w", err)
	}

	e.contextSize = props.DefaultGenerationSettings.NCtx
	if e.contextSize == 0 {
		e.contextSize = props.NCtx
	}
	if e.contextSize == 0 {
		e.contextSize = e.requested
	}
	e.eosToken = props.EOSToken
	e.metadata = map[string]string{}
	if props.ModelPath != "" {
		e.metadata["model_path"] = props.ModelPath
	}
	if props.BuildInfo != "" {
		e.metadata["build_info"] = props.BuildInfo
	}

	// Model listings are optional; older servers lack them.
	body, err = e.get(ctx, "/v1/models")
	if err != nil {
		e.log.Debug("model metadata unavailable", zap.Error(err))
		return nil
	}
	models, err := parseModels(body)
	if err != nil || len(models) == 0 {
		return nil
	}
	for k, v := range models[0].Meta {
		e.metadata[k] = fmt.Sprint(v)
	}
	if n, ok := models[0].Meta["n_ctx_train"].(float64); ok {
		e.trained = int(n)
	}
	if name := modelDisplayName(models[0]); name != "" {
		e.metadata["name"] = name
	}
	return nil
}

func (e *Engine) get(ctx context.Context, path string) ([]byte, error) {
	endpoint := e.baseURL + path
	logging.LogRequest("WEAVE->LLM", e.baseURL, e.modelPath, "", map[string]string{"method": http.MethodGet, "url": endpoint})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.LogRequest("LLM->WEAVE", e.baseURL, e.modelPath, "", body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llama.cpp: %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func parseModels(body []byte) ([]llamaModel, error) {
	var wrapped modelsResponse
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Data) > 0 {
			return wrapped.Data, nil
		}
		if len(wrapped.Models) > 0 {
			return wrapped.Models, nil
		}
	}

	var direct []llamaModel
	if err := json.Unmarshal(body, &direct); err == nil && len(direct) > 0 {
		return direct, nil
	}

	return nil, fmt.Errorf("llama.cpp: unrecognized /v1/models response")
}

func modelDisplayName(model llamaModel) string {
	for _, candidate := range []string{model.ID, model.Name, model.Model, model.Path} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

func applyParameters(payload map[string]any, params appconfig.Parameters) {
	if params.TopK != nil {
		payload["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		payload["top_p"] = *params.TopP
	}
	if params.MinP != nil {
		payload["min_p"] = *params.MinP
	}
	if params.TFSZ != nil {
		payload["tfs_z"] = *params.TFSZ
	}
	if params.TypicalP != nil {
		payload["typical_p"] = *params.TypicalP
	}
	if params.RepeatLastN != nil {
		payload["repeat_last_n"] = *params.RepeatLastN
	}
	if params.Temperature != nil {
		payload["temperature"] = *params.Temperature
	}
	if params.RepeatPenalty != nil {
		payload["repeat_penalty"] = *params.RepeatPenalty
	}
	if params.PresencePenalty != nil {
		payload["presence_penalty"] = *params.PresencePenalty
	}
	if params.FrequencyPenalty != nil {
		payload["frequency_penalty"] = *params.FrequencyPenalty
	}
}
