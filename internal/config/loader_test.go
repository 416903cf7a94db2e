package config_test

import (
	"strings"
	"testing"

	"github.com/livetranscripts/livetranscripts/internal/config"
)

func TestLoadFromReader_DefaultsApply(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`openai_api_key: sk-test`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("sample_rate: got %d, want 16000", cfg.SampleRate)
	}
	if cfg.TranscriptionModel != "gpt-4o-transcribe" {
		t.Errorf("transcription_model: got %q, want gpt-4o-transcribe", cfg.TranscriptionModel)
	}
	if cfg.AI.Provider != "gemini" || cfg.AI.Model != "gemini-2.0-flash-lite" {
		t.Errorf("ai defaults: got %q/%q", cfg.AI.Provider, cfg.AI.Model)
	}
	if cfg.ServerPort != 8765 {
		t.Errorf("server_port: got %d, want 8765", cfg.ServerPort)
	}
}

func TestLoadFromReader_OverridesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
transcription_model: whisper-1
model_fallback: [gpt-4o-mini-transcribe]
min_batch_duration: 2.0
server_port: 9000
ai:
  provider: openai
  model: gpt-4o-mini
  max_tokens: 512
  temperature: 0.2
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	models := cfg.Models()
	if len(models) != 2 || models[0] != "whisper-1" || models[1] != "gpt-4o-mini-transcribe" {
		t.Errorf("Models() = %v, want [whisper-1 gpt-4o-mini-transcribe]", models)
	}
	if cfg.ServerPort != 9000 {
		t.Errorf("server_port: got %d, want 9000", cfg.ServerPort)
	}
	if cfg.AI.MaxTokens != 512 {
		t.Errorf("ai.max_tokens: got %d, want 512", cfg.AI.MaxTokens)
	}
	// Untouched keys keep their defaults.
	if cfg.MaxBatchDuration != 30.0 {
		t.Errorf("max_batch_duration: got %.1f, want 30.0", cfg.MaxBatchDuration)
	}
}

func TestLoadFromReader_UnknownKeyRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`transcriptoin_model: whisper-1`))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestValidate_BatchWindowOrdering(t *testing.T) {
	t.Parallel()
	yaml := `
min_batch_duration: 30.0
max_batch_duration: 3.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for max <= min, got nil")
	}
	if !strings.Contains(err.Error(), "max_batch_duration") {
		t.Errorf("error should mention max_batch_duration, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
sample_rate: 0
server_port: 99999
log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"sample_rate", "server_port", "log_level"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("LT_TRANSCRIPTION_MODEL", "whisper-1")
	t.Setenv("LT_SERVER_PORT", "9100")
	t.Setenv("LT_LOG_LEVEL", "debug")
	t.Setenv("OPENAI_API_KEY", "sk-conventional")

	cfg := config.Default()
	config.ApplyEnv(cfg)

	if cfg.TranscriptionModel != "whisper-1" {
		t.Errorf("transcription_model: got %q, want whisper-1", cfg.TranscriptionModel)
	}
	if cfg.ServerPort != 9100 {
		t.Errorf("server_port: got %d, want 9100", cfg.ServerPort)
	}
	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want debug", cfg.LogLevel)
	}
	if cfg.OpenAIAPIKey != "sk-conventional" {
		t.Errorf("openai_api_key: got %q, want the conventional env fallback", cfg.OpenAIAPIKey)
	}
}

func TestApplyEnv_ExplicitKeyBeatsConventional(t *testing.T) {
	t.Setenv("LT_OPENAI_API_KEY", "sk-explicit")
	t.Setenv("OPENAI_API_KEY", "sk-conventional")

	cfg := config.Default()
	config.ApplyEnv(cfg)
	if cfg.OpenAIAPIKey != "sk-explicit" {
		t.Errorf("openai_api_key: got %q, want sk-explicit", cfg.OpenAIAPIKey)
	}
}

func TestApplyEnv_MalformedPortIgnored(t *testing.T) {
	t.Setenv("LT_SERVER_PORT", "not-a-port")

	cfg := config.Default()
	config.ApplyEnv(cfg)
	if cfg.ServerPort != 8765 {
		t.Errorf("server_port: got %d, want the default kept", cfg.ServerPort)
	}
}
