package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidTranscriptionModels lists the model ids known to work with the
// transcription backend. [Validate] warns about others rather than rejecting
// them, since new models appear faster than releases.
var ValidTranscriptionModels = []string{
	"gpt-4o-transcribe", "gpt-4o-mini-transcribe", "whisper-1",
}

// ValidAIProviders lists the any-llm provider names this build is expected to
// run against.
var ValidAIProviders = []string{
	"gemini", "openai", "anthropic", "mistral", "groq", "ollama",
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides maps LT_-prefixed environment variables onto config fields.
var envOverrides = map[string]func(*Config, string) error{
	"LT_TRANSCRIPTION_MODEL": func(c *Config, v string) error { c.TranscriptionModel = v; return nil },
	"LT_OPENAI_API_KEY":      func(c *Config, v string) error { c.OpenAIAPIKey = v; return nil },
	"LT_GEMINI_API_KEY":      func(c *Config, v string) error { c.GeminiAPIKey = v; return nil },
	"LT_SERVER_HOST":         func(c *Config, v string) error { c.ServerHost = v; return nil },
	"LT_AI_MODEL":            func(c *Config, v string) error { c.AI.Model = v; return nil },
	"LT_AI_PROVIDER":         func(c *Config, v string) error { c.AI.Provider = v; return nil },
	"LT_LOG_LEVEL": func(c *Config, v string) error {
		c.LogLevel = LogLevel(v)
		return nil
	},
	"LT_SERVER_PORT": func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not a port number: %q", v)
		}
		c.ServerPort = port
		return nil
	},
}

// ApplyEnv overlays LT_-prefixed environment variables onto cfg, then fills
// empty API keys from the conventional OPENAI_API_KEY and GEMINI_API_KEY
// variables. Malformed values are logged and skipped, never fatal.
func ApplyEnv(cfg *Config) {
	for key, apply := range envOverrides {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		if err := apply(cfg, v); err != nil {
			slog.Warn("ignoring malformed environment override", "var", key, "error", err)
		}
	}
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", cfg.SampleRate))
	}
	if cfg.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size %d must be positive", cfg.ChunkSize))
	}
	if cfg.BufferDuration <= 0 {
		errs = append(errs, fmt.Errorf("buffer_duration %.1f must be positive", cfg.BufferDuration))
	}
	if cfg.MinBatchDuration <= 0 {
		errs = append(errs, fmt.Errorf("min_batch_duration %.1f must be positive", cfg.MinBatchDuration))
	}
	if cfg.MaxBatchDuration <= cfg.MinBatchDuration {
		errs = append(errs, fmt.Errorf("max_batch_duration %.1f must exceed min_batch_duration %.1f",
			cfg.MaxBatchDuration, cfg.MinBatchDuration))
	}
	if cfg.SilenceDurationThreshold <= 0 {
		errs = append(errs, fmt.Errorf("silence_duration_threshold %.2f must be positive", cfg.SilenceDurationThreshold))
	}
	if cfg.BatchOverlap < 0 {
		errs = append(errs, fmt.Errorf("batch_overlap %.2f must not be negative", cfg.BatchOverlap))
	}
	if cfg.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("silence_threshold %.0f must be positive", cfg.SilenceThreshold))
	}
	if cfg.BatchQueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("batch_queue_capacity %d must be positive", cfg.BatchQueueCapacity))
	}
	if cfg.TranscriptionModel == "" {
		errs = append(errs, errors.New("transcription_model is required"))
	}
	if cfg.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("max_retries %d must be positive", cfg.MaxRetries))
	}
	if cfg.TranscriptionParallelism <= 0 {
		errs = append(errs, fmt.Errorf("transcription_parallelism %d must be positive", cfg.TranscriptionParallelism))
	}
	if cfg.InsightInterval <= 0 {
		errs = append(errs, fmt.Errorf("insight_interval %.1f must be positive", cfg.InsightInterval))
	}
	if cfg.QuestionUpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("question_update_interval %.1f must be positive", cfg.QuestionUpdateInterval))
	}
	if cfg.NumDynamicQuestions <= 0 {
		errs = append(errs, fmt.Errorf("num_dynamic_questions %d must be positive", cfg.NumDynamicQuestions))
	}
	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server_port %d is out of range [1, 65535]", cfg.ServerPort))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("ai.temperature %.2f is out of range [0, 2]", cfg.AI.Temperature))
	}
	if cfg.AI.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("ai.max_tokens %d must be positive", cfg.AI.MaxTokens))
	}

	// Name checks warn only.
	for _, m := range cfg.Models() {
		if m != "" && !slices.Contains(ValidTranscriptionModels, m) {
			slog.Warn("unknown transcription model, assuming a compatible API",
				"model", m, "known", ValidTranscriptionModels)
		}
	}
	if p := cfg.AI.Provider; p != "" && !slices.Contains(ValidAIProviders, p) {
		slog.Warn("unknown ai.provider, passing it through to any-llm",
			"provider", p, "known", ValidAIProviders)
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("no OpenAI API key configured; transcription calls will fail until one is provided")
	}

	return errors.Join(errs...)
}
