package appconfig

import (
	"fmt"
	"io"
	"strings"

	"github.com/k0kubun/pp"
)

// ShowConfig prints the effective configuration. Secrets are masked.
func ShowConfig(out io.Writer, file string, cfg *Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}
	if cfg == nil {
		cfg = &Config{}
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Debug:           %v\n", cfg.Debug)
	fmt.Fprintf(out, "  Backend:         %s\n", cfg.BackendName())
	fmt.Fprintf(out, "  Request Timeout: %s\n", cfg.RequestTimeout())
	fmt.Fprintf(out, "  Log File:        %s\n", cfg.LogFilePath())

	switch cfg.BackendName() {
	case BackendRemote:
		fmt.Fprintf(out, "  Provider:        %s\n", cfg.Remote.ProviderName())
		fmt.Fprintf(out, "  Model:           %s\n", cfg.Remote.ModelName())
		fmt.Fprintf(out, "  Base URL:        %s\n", valueOrDefault(cfg.Remote.BaseURL, "(provider default)"))
		fmt.Fprintf(out, "  API Key:         %s\n", MaskSecret(cfg.Remote.APIKey))
		fmt.Fprintf(out, "  Queues:          commands=%d responses=%d\n", cfg.Remote.CommandBufferSize(), cfg.Remote.ResponseBufferSize())
	default:
		fmt.Fprintf(out, "  Model Path:      %s\n", valueOrDefault(cfg.Local.ModelPath, "(unset)"))
		if cfg.Local.ServerURL != "" {
			fmt.Fprintf(out, "  Server URL:      %s\n", cfg.Local.ServerURL)
		} else {
			fmt.Fprintf(out, "  Server Binary:   %s (port %d)\n", cfg.Local.ServerBinaryPath(), cfg.Local.ServerPort())
		}
		fmt.Fprintf(out, "  Context Size:    %d\n", cfg.Local.InitialContextSize())
	}

	fmt.Fprintf(out, "  Max Tokens:      %d\n", cfg.Generation.TokenBudget())
	fmt.Fprintf(out, "  Profile:         %s\n", valueOrDefault(cfg.Generation.Profile, "(none)"))
	if len(cfg.Generation.Stop) > 0 {
		fmt.Fprintf(out, "  Stop:            %q\n", cfg.Generation.Stop)
	}
}

// Dump pretty-prints the whole configuration struct, masking the API key.
func Dump(out io.Writer, cfg Config) {
	cfg.Remote.APIKey = MaskSecret(cfg.Remote.APIKey)
	_, _ = pp.Fprintln(out, cfg)
}

// MaskSecret keeps only the last four characters of a secret.
func MaskSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}

func valueOrDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
