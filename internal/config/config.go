// Package config provides the configuration schema, loader, environment
// overrides, and file watcher for the Live Transcripts server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader]; zero-valued fields take the
// defaults from [Default]. Duration-like fields are float seconds in YAML,
// matching the wire format of the original deployment configs; use the
// accessor methods for [time.Duration] values.
type Config struct {
	// --- Audio capture ---

	// SampleRate is the capture sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// ChunkSize is the capture read size in samples.
	ChunkSize int `yaml:"chunk_size"`

	// BufferDuration is the ring buffer length in seconds.
	BufferDuration float64 `yaml:"buffer_duration"`

	// --- Utterance batching ---

	// MinBatchDuration is the minimum voiced seconds before an utterance may
	// be cut at a silence boundary.
	MinBatchDuration float64 `yaml:"min_batch_duration"`

	// MaxBatchDuration forces an utterance cut at this many seconds.
	MaxBatchDuration float64 `yaml:"max_batch_duration"`

	// SilenceDurationThreshold is the continuous silence in seconds that
	// ends an utterance.
	SilenceDurationThreshold float64 `yaml:"silence_duration_threshold"`

	// BatchOverlap is the seconds of audio carried from each utterance into
	// the next.
	BatchOverlap float64 `yaml:"batch_overlap"`

	// SilenceThreshold is the RMS level above which a frame counts as voice.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// BatchQueueCapacity bounds the transcription queue.
	BatchQueueCapacity int `yaml:"batch_queue_capacity"`

	// BatchEnqueueTimeout is how long the batcher blocks on a full queue (in
	// seconds) before evicting the oldest utterance.
	BatchEnqueueTimeout float64 `yaml:"batch_enqueue_timeout"`

	// --- Transcription ---

	// TranscriptionModel is the primary transcription model id.
	TranscriptionModel string `yaml:"transcription_model"`

	// ModelFallback lists fallback model ids tried in order after the
	// primary exhausts its retries.
	ModelFallback []string `yaml:"model_fallback"`

	// APITimeout is the per-request provider timeout in seconds.
	APITimeout float64 `yaml:"api_timeout"`

	// MaxRetries is the number of attempts per model.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base retry backoff in seconds.
	RetryDelay float64 `yaml:"retry_delay"`

	// TranscriptionParallelism is the dispatcher worker count.
	TranscriptionParallelism int `yaml:"transcription_parallelism"`

	// --- AI generation ---

	AI AIConfig `yaml:"ai"`

	// InsightInterval is the seconds between insight generations.
	InsightInterval float64 `yaml:"insight_interval"`

	// QuestionUpdateInterval is the seconds between suggested question
	// rotations.
	QuestionUpdateInterval float64 `yaml:"question_update_interval"`

	// NumDynamicQuestions is K, the number of rotating question slots.
	NumDynamicQuestions int `yaml:"num_dynamic_questions"`

	// KnowledgeByteBudget truncates rendered knowledge in prompts. 0 = no
	// limit.
	KnowledgeByteBudget int `yaml:"knowledge_byte_budget"`

	// TranscriptByteBudget truncates the rendered transcript in prompts,
	// dropping oldest lines. 0 = full transcript.
	TranscriptByteBudget int `yaml:"transcript_byte_budget"`

	// --- Server ---

	// ServerHost is the bind host.
	ServerHost string `yaml:"server_host"`

	// ServerPort is the bind port.
	ServerPort int `yaml:"server_port"`

	// --- Operational ---

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// SessionLogDir, when set, receives a markdown transcript file per
	// session.
	SessionLogDir string `yaml:"session_log_dir"`

	// KnowledgeDir, when set, is scanned for .md/.txt knowledge documents at
	// startup.
	KnowledgeDir string `yaml:"knowledge_dir"`

	// OpenAIAPIKey authenticates transcription calls. Falls back to the
	// OPENAI_API_KEY environment variable.
	OpenAIAPIKey string `yaml:"openai_api_key"`

	// GeminiAPIKey authenticates generation calls when ai.provider is
	// "gemini". Falls back to the GEMINI_API_KEY environment variable.
	GeminiAPIKey string `yaml:"gemini_api_key"`
}

// AIConfig selects and tunes the generative backend.
type AIConfig struct {
	// Provider is the any-llm provider name ("gemini", "openai",
	// "anthropic", ...).
	Provider string `yaml:"provider"`

	// Model is the generative model id.
	Model string `yaml:"model"`

	// MaxTokens caps each completion.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	return &Config{
		SampleRate:               16000,
		ChunkSize:                1024,
		BufferDuration:           10.0,
		MinBatchDuration:         3.0,
		MaxBatchDuration:         30.0,
		SilenceDurationThreshold: 0.5,
		BatchOverlap:             0.5,
		SilenceThreshold:         500,
		BatchQueueCapacity:       100,
		BatchEnqueueTimeout:      5.0,
		TranscriptionModel:       "gpt-4o-transcribe",
		APITimeout:               30.0,
		MaxRetries:               3,
		RetryDelay:               1.0,
		TranscriptionParallelism: 1,
		AI: AIConfig{
			Provider:    "gemini",
			Model:       "gemini-2.0-flash-lite",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		InsightInterval:        60.0,
		QuestionUpdateInterval: 15.0,
		NumDynamicQuestions:    4,
		KnowledgeByteBudget:    32768,
		TranscriptByteBudget:   0,
		ServerHost:             "localhost",
		ServerPort:             8765,
		LogLevel:               LogInfo,
	}
}

// seconds converts a float-seconds config value to a duration.
func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// BufferLen returns the ring buffer length.
func (c *Config) BufferLen() time.Duration { return seconds(c.BufferDuration) }

// MinBatch returns the minimum utterance duration.
func (c *Config) MinBatch() time.Duration { return seconds(c.MinBatchDuration) }

// MaxBatch returns the forced-cut utterance duration.
func (c *Config) MaxBatch() time.Duration { return seconds(c.MaxBatchDuration) }

// SilenceBoundary returns the silence run that ends an utterance.
func (c *Config) SilenceBoundary() time.Duration { return seconds(c.SilenceDurationThreshold) }

// Overlap returns the inter-utterance overlap.
func (c *Config) Overlap() time.Duration { return seconds(c.BatchOverlap) }

// EnqueueTimeout returns the batcher's blocking bound on a full queue.
func (c *Config) EnqueueTimeout() time.Duration { return seconds(c.BatchEnqueueTimeout) }

// RequestTimeout returns the per-request provider timeout.
func (c *Config) RequestTimeout() time.Duration { return seconds(c.APITimeout) }

// RetryBackoff returns the base retry delay.
func (c *Config) RetryBackoff() time.Duration { return seconds(c.RetryDelay) }

// InsightEvery returns the insight generation interval.
func (c *Config) InsightEvery() time.Duration { return seconds(c.InsightInterval) }

// QuestionsEvery returns the suggested question rotation interval.
func (c *Config) QuestionsEvery() time.Duration { return seconds(c.QuestionUpdateInterval) }

// Models returns the transcription model chain: primary first, then the
// fallbacks in order.
func (c *Config) Models() []string {
	models := make([]string, 0, 1+len(c.ModelFallback))
	models = append(models, c.TranscriptionModel)
	models = append(models, c.ModelFallback...)
	return models
}

// SlogLevel maps the configured level to its slog equivalent.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
