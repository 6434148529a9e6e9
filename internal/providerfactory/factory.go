// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/providers/llamacpp"
	"github.com/mwiater/weave/internal/providers/ollama"
	"github.com/mwiater/weave/internal/providers/openai"
	"github.com/mwiater/weave/internal/worker"
	"github.com/mwiater/weave/internal/worker/local"
	"github.com/mwiater/weave/internal/worker/remote"
)

// NewWorker builds the idle worker selected by cfg.Backend. The notifier may
// be nil for headless callers.
func NewWorker(cfg *appconfig.Config, notifier worker.Notifier) (worker.Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config provided to provider factory")
	}

	switch backend := cfg.BackendName(); backend {
	case appconfig.BackendLocal:
		logging.LogEvent("local backend selected: model=%s", cfg.Local.ModelPath)
		return local.New(local.Config{
			ModelPath:   cfg.Local.ModelPath,
			ContextSize: cfg.Local.InitialContextSize(),
			Loader:      llamacpp.New(cfg),
			Notifier:    notifier,
		}), nil
	case appconfig.BackendRemote:
		client, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		logging.LogEvent("remote backend selected: provider=%s model=%s", client.Name(), cfg.Remote.ModelName())
		return remote.New(remote.Config{
			Client:         client,
			CommandBuffer:  cfg.Remote.CommandBufferSize(),
			ResponseBuffer: cfg.Remote.ResponseBufferSize(),
			Notifier:       notifier,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", worker.ErrInvalidConfig, backend)
	}
}

// NewClient selects the remote client named by cfg.Remote.Provider.
func NewClient(cfg *appconfig.Config) (providers.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config provided to provider factory")
	}
	switch provider := cfg.Remote.ProviderName(); provider {
	case appconfig.ProviderOpenAI:
		return openai.New(cfg), nil
	case appconfig.ProviderOllama:
		return ollama.New(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported remote provider %q", worker.ErrInvalidConfig, provider)
	}
}
