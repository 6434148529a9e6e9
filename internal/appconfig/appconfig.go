// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// legacyConfigPath is the path to the configuration file used in previous versions.
	legacyConfigPath = "config.json"
	// defaultRequestTimeout bounds non-streaming HTTP calls (health checks, model lists).
	defaultRequestTimeout = 600 * time.Second
	// defaultMaxTokens is the token budget used when a request does not set one.
	defaultMaxTokens = 256
	// defaultServerBinary is the llama.cpp server executable looked up on PATH.
	defaultServerBinary = "llama-server"
	// defaultServerPort is the port the managed llama.cpp server listens on.
	defaultServerPort = 18080
	// defaultCommandBuffer caps how many commands can queue for the remote worker.
	defaultCommandBuffer = 16
	// defaultResponseBuffer absorbs bursts of streamed deltas from the remote worker.
	defaultResponseBuffer = 4096
	// MinContextSize is the smallest context a local engine is ever created with.
	MinContextSize = 512
)

// Backend names accepted in the configuration.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Remote provider names accepted in the configuration.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// DefaultRemoteModel is used when the remote model is left empty.
const DefaultRemoteModel = "gpt-3.5-turbo"

// DefaultSystemPrompt frames the remote chat model as a co-author.
const DefaultSystemPrompt = "A user and an assistant are collaborating on a story. The user starts by writing a paragraph, then the assistant writes a paragraph, and so on. Both will be credited for the end result."

// Config represents the top-level application configuration.
type Config struct {
	Backend        string           `json:"backend" mapstructure:"backend"`
	Local          LocalConfig      `json:"local" mapstructure:"local"`
	Remote         RemoteConfig     `json:"remote" mapstructure:"remote"`
	Generation     GenerationConfig `json:"generation" mapstructure:"generation"`
	Debug          bool             `json:"debug" mapstructure:"debug"`
	TimeoutSeconds int              `json:"timeout,omitempty" mapstructure:"timeout"`
	LogFile        string           `json:"logFile,omitempty" mapstructure:"logFile"`
	ConfigPath     string           `json:"-" mapstructure:"-"`
}

// LocalConfig configures the in-process llama.cpp engine worker.
type LocalConfig struct {
	ModelPath    string `json:"modelPath" mapstructure:"modelPath"`
	ServerBinary string `json:"serverBinary,omitempty" mapstructure:"serverBinary"`
	// ServerURL attaches to an already running llama.cpp server instead of spawning one.
	ServerURL   string `json:"serverURL,omitempty" mapstructure:"serverURL"`
	ContextSize int    `json:"contextSize,omitempty" mapstructure:"contextSize"`
	GPULayers   int    `json:"gpuLayers,omitempty" mapstructure:"gpuLayers"`
	Threads     int    `json:"threads,omitempty" mapstructure:"threads"`
	Port        int    `json:"port,omitempty" mapstructure:"port"`
}

// RemoteConfig configures the streaming network worker.
type RemoteConfig struct {
	Provider       string `json:"provider" mapstructure:"provider"`
	APIKey         string `json:"apiKey,omitempty" mapstructure:"apiKey"`
	BaseURL        string `json:"baseURL,omitempty" mapstructure:"baseURL"`
	Model          string `json:"model,omitempty" mapstructure:"model"`
	SystemPrompt   string `json:"systemPrompt,omitempty" mapstructure:"systemPrompt"`
	CommandBuffer  int    `json:"commandBuffer,omitempty" mapstructure:"commandBuffer"`
	ResponseBuffer int    `json:"responseBuffer,omitempty" mapstructure:"responseBuffer"`
}

// GenerationConfig holds the default per-request generation options.
type GenerationConfig struct {
	MaxTokens  int        `json:"maxTokens,omitempty" mapstructure:"maxTokens"`
	Stop       []string   `json:"stop,omitempty" mapstructure:"stop"`
	Seed       *int64     `json:"seed,omitempty" mapstructure:"seed"`
	Profile    string     `json:"profile,omitempty" mapstructure:"profile"`
	Parameters Parameters `json:"parameters" mapstructure:"parameters"`
}

// Parameters defines the set of parameters that can be used to control a language model's behavior.
type Parameters struct {
	TopK             *int     `json:"top_k,omitempty" mapstructure:"top_k"`
	TopP             *float64 `json:"top_p,omitempty" mapstructure:"top_p"`
	MinP             *float64 `json:"min_p,omitempty" mapstructure:"min_p"`
	TFSZ             *float64 `json:"tfs_z,omitempty" mapstructure:"tfs_z"`
	TypicalP         *float64 `json:"typical_p,omitempty" mapstructure:"typical_p"`
	RepeatLastN      *int     `json:"repeat_last_n,omitempty" mapstructure:"repeat_last_n"`
	Temperature      *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty" mapstructure:"repeat_penalty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty" mapstructure:"presence_penalty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty" mapstructure:"frequency_penalty"`
}

// Clone returns a deep copy so the caller and a worker never share pointers.
func (p Parameters) Clone() Parameters {
	return Parameters{
		TopK:             clonePtr(p.TopK),
		TopP:             clonePtr(p.TopP),
		MinP:             clonePtr(p.MinP),
		TFSZ:             clonePtr(p.TFSZ),
		TypicalP:         clonePtr(p.TypicalP),
		RepeatLastN:      clonePtr(p.RepeatLastN),
		Temperature:      clonePtr(p.Temperature),
		RepeatPenalty:    clonePtr(p.RepeatPenalty),
		PresencePenalty:  clonePtr(p.PresencePenalty),
		FrequencyPenalty: clonePtr(p.FrequencyPenalty),
	}
}

// Merge fills every unset field of p from fallback.
func (p Parameters) Merge(fallback Parameters) Parameters {
	out := p.Clone()
	fb := fallback.Clone()
	if out.TopK == nil {
		out.TopK = fb.TopK
	}
	if out.TopP == nil {
		out.TopP = fb.TopP
	}
	if out.MinP == nil {
		out.MinP = fb.MinP
	}
	if out.TFSZ == nil {
		out.TFSZ = fb.TFSZ
	}
	if out.TypicalP == nil {
		out.TypicalP = fb.TypicalP
	}
	if out.RepeatLastN == nil {
		out.RepeatLastN = fb.RepeatLastN
	}
	if out.Temperature == nil {
		out.Temperature = fb.Temperature
	}
	if out.RepeatPenalty == nil {
		out.RepeatPenalty = fb.RepeatPenalty
	}
	if out.PresencePenalty == nil {
		out.PresencePenalty = fb.PresencePenalty
	}
	if out.FrequencyPenalty == nil {
		out.FrequencyPenalty = fb.FrequencyPenalty
	}
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// RequestTimeout returns the timeout duration for HTTP requests, falling back to the default if not specified.
func (c Config) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	if path := c.LogFile; strings.TrimSpace(path) != "" {
		return path
	}
	return "weave.log"
}

// BackendName returns the normalized backend, defaulting to the local engine.
func (c Config) BackendName() string {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", BackendLocal, "llama.cpp", "llamacpp":
		return BackendLocal
	case BackendRemote:
		return BackendRemote
	default:
		return strings.ToLower(strings.TrimSpace(c.Backend))
	}
}

// ServerBinaryPath returns the llama.cpp server executable.
func (l LocalConfig) ServerBinaryPath() string {
	if b := strings.TrimSpace(l.ServerBinary); b != "" {
		return b
	}
	return defaultServerBinary
}

// ServerPort returns the port for a managed llama.cpp server.
func (l LocalConfig) ServerPort() int {
	if l.Port <= 0 {
		return defaultServerPort
	}
	return l.Port
}

// InitialContextSize is the context the first engine is created with.
func (l LocalConfig) InitialContextSize() int {
	if l.ContextSize < MinContextSize {
		return MinContextSize
	}
	return l.ContextSize
}

// ProviderName returns the normalized remote provider, defaulting to OpenAI.
func (r RemoteConfig) ProviderName() string {
	p := strings.ToLower(strings.TrimSpace(r.Provider))
	if p == "" {
		return ProviderOpenAI
	}
	return p
}

// ModelName returns the remote model, applying the default.
func (r RemoteConfig) ModelName() string {
	if m := strings.TrimSpace(r.Model); m != "" {
		return m
	}
	return DefaultRemoteModel
}

// SystemPromptText returns the configured system prompt or the co-author default.
func (r RemoteConfig) SystemPromptText() string {
	if s := strings.TrimSpace(r.SystemPrompt); s != "" {
		return s
	}
	return DefaultSystemPrompt
}

// CommandBufferSize returns the remote command channel capacity.
func (r RemoteConfig) CommandBufferSize() int {
	if r.CommandBuffer <= 0 {
		return defaultCommandBuffer
	}
	return r.CommandBuffer
}

// ResponseBufferSize returns the remote response channel capacity.
func (r RemoteConfig) ResponseBufferSize() int {
	if r.ResponseBuffer <= 0 {
		return defaultResponseBuffer
	}
	return r.ResponseBuffer
}

// TokenBudget returns the default token budget.
func (g GenerationConfig) TokenBudget() int {
	if g.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return g.MaxTokens
}

// EffectiveParameters merges the explicit parameters over the selected profile.
func (g GenerationConfig) EffectiveParameters() Parameters {
	if strings.TrimSpace(g.Profile) == "" {
		return g.Parameters.Clone()
	}
	return g.Parameters.Merge(ParamsForProfile(g.Profile))
}

// Load reads the application configuration from the specified path, with fallback to a legacy path.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	config, err := loadFromPath(path)
	if err == nil {
		config.ConfigPath = path
		return config, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		if path == DefaultConfigPath {
			config, legacyErr := loadFromPath(legacyConfigPath)
			if legacyErr == nil {
				config.ConfigPath = legacyConfigPath
				return config, nil
			}
			if errors.Is(legacyErr, os.ErrNotExist) {
				return Config{}, fmt.Errorf("no configuration file found (searched %q and %q)", DefaultConfigPath, legacyConfigPath)
			}
			return Config{}, fmt.Errorf("could not read config file %q: %w", legacyConfigPath, legacyErr)
		}
		return Config{}, fmt.Errorf("no configuration file found at %q", path)
	}

	return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
}

// loadFromPath validates the file against the schema and decodes it.
func loadFromPath(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(data); err != nil {
		return Config{}, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = int(defaultRequestTimeout.Seconds())
	}

	return config, nil
}
