// internal/appconfig/appconfig_test.go
package appconfig

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

// TestLoad checks that a valid file loads with defaults applied and that
// malformed, schema-violating and missing files are rejected.
func TestLoad(t *testing.T) {
	validConfig := `{
        "backend": "local",
        "local": { "modelPath": "/models/story.gguf", "contextSize": 2048 },
        "generation": { "maxTokens": 64, "stop": ["\n\n"], "profile": "creative" }
    }`
	cfg, err := Load(writeTempConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() with valid config failed: %v", err)
	}
	if cfg.BackendName() != BackendLocal {
		t.Fatalf("expected local backend, got %q", cfg.BackendName())
	}
	if cfg.Local.ModelPath != "/models/story.gguf" {
		t.Fatalf("unexpected model path %q", cfg.Local.ModelPath)
	}
	if cfg.TimeoutSeconds != 600 {
		t.Fatalf("expected default timeout of 600 seconds, got %d", cfg.TimeoutSeconds)
	}
	if cfg.RequestTimeout() != 600*time.Second {
		t.Fatalf("expected default request timeout of 600s, got %v", cfg.RequestTimeout())
	}
	if cfg.Generation.TokenBudget() != 64 {
		t.Fatalf("expected token budget 64, got %d", cfg.Generation.TokenBudget())
	}

	if _, err := Load(writeTempConfig(t, `{ "backend": [`)); err == nil {
		t.Fatal("Load() with invalid JSON should have failed")
	}

	if _, err := Load(writeTempConfig(t, `{ "backend": "carrier-pigeon" }`)); err == nil {
		t.Fatal("Load() with unknown backend should have failed schema validation")
	}

	if _, err := Load(writeTempConfig(t, `{ "generation": { "stop": [""] } }`)); err == nil {
		t.Fatal("Load() with an empty stop string should have failed schema validation")
	}

	if _, err := Load("nonexistent.json"); err == nil {
		t.Fatal("Load() with nonexistent file should have failed")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.BackendName() != BackendLocal {
		t.Fatalf("expected local default backend, got %q", cfg.BackendName())
	}
	if cfg.LogFilePath() != "weave.log" {
		t.Fatalf("unexpected log path %q", cfg.LogFilePath())
	}
	if cfg.Local.InitialContextSize() != MinContextSize {
		t.Fatalf("expected context floor %d, got %d", MinContextSize, cfg.Local.InitialContextSize())
	}
	if cfg.Local.ServerBinaryPath() != "llama-server" {
		t.Fatalf("unexpected server binary %q", cfg.Local.ServerBinaryPath())
	}
	if cfg.Remote.ProviderName() != ProviderOpenAI {
		t.Fatalf("expected openai default provider, got %q", cfg.Remote.ProviderName())
	}
	if cfg.Remote.ModelName() != DefaultRemoteModel {
		t.Fatalf("unexpected default model %q", cfg.Remote.ModelName())
	}
	if cfg.Remote.CommandBufferSize() != 16 || cfg.Remote.ResponseBufferSize() != 4096 {
		t.Fatalf("unexpected queue sizes %d/%d", cfg.Remote.CommandBufferSize(), cfg.Remote.ResponseBufferSize())
	}
	if cfg.Generation.TokenBudget() != 256 {
		t.Fatalf("expected default budget 256, got %d", cfg.Generation.TokenBudget())
	}
	if cfg.Remote.SystemPromptText() != DefaultSystemPrompt {
		t.Fatal("expected default system prompt")
	}
}

func TestParametersCloneIsDeep(t *testing.T) {
	temp := 0.7
	params := Parameters{Temperature: &temp}
	clone := params.Clone()
	*params.Temperature = 1.9

	if clone.Temperature == nil || *clone.Temperature != 0.7 {
		t.Fatalf("clone shares memory with original: %v", clone.Temperature)
	}
}

func TestEffectiveParametersMergesProfile(t *testing.T) {
	temp := 0.3
	gen := GenerationConfig{Profile: "Creative", Parameters: Parameters{Temperature: &temp}}
	params := gen.EffectiveParameters()

	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Fatalf("explicit temperature should win, got %v", params.Temperature)
	}
	if params.PresencePenalty == nil || *params.PresencePenalty != 0.5 {
		t.Fatalf("expected creative presence penalty, got %v", params.PresencePenalty)
	}
}

func TestParamsForProfileFallsBackToBalanced(t *testing.T) {
	got := ParamsForProfile("does-not-exist")
	want := DefaultBalancedParams()
	if *got.Temperature != *want.Temperature || *got.MinP != *want.MinP {
		t.Fatalf("unknown profile should fall back to balanced")
	}
}

func TestShowConfigMasksAPIKey(t *testing.T) {
	cfg := &Config{Backend: "remote", Remote: RemoteConfig{APIKey: "sk-secret-1234"}}
	var buf bytes.Buffer
	ShowConfig(&buf, "config/config.json", cfg)

	out := buf.String()
	if strings.Contains(out, "sk-secret") {
		t.Fatalf("API key leaked: %s", out)
	}
	if !strings.Contains(out, "********1234") {
		t.Fatalf("expected masked key, got: %s", out)
	}
	if !strings.Contains(out, "Provider:        openai") {
		t.Fatalf("expected provider line, got: %s", out)
	}
}
