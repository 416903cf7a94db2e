// Command livetranscripts is the main entry point for the Live Transcripts
// server: it captures system audio, transcribes it in near real time, and
// serves the transcript plus AI answers, insights, and suggested questions
// over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/livetranscripts/livetranscripts/internal/app"
	"github.com/livetranscripts/livetranscripts/internal/config"
	"github.com/livetranscripts/livetranscripts/internal/observe"
	"github.com/livetranscripts/livetranscripts/internal/resilience"
	"github.com/livetranscripts/livetranscripts/pkg/audio"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai"
	"github.com/livetranscripts/livetranscripts/pkg/provider/genai/anyllm"
	"github.com/livetranscripts/livetranscripts/pkg/provider/transcribe"
	sttopenai "github.com/livetranscripts/livetranscripts/pkg/provider/transcribe/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "stdin", `audio input: "stdin" (raw PCM on stdin), "tone" (synthetic test tone), or a raw PCM file path`)
	inputRate := flag.Int("input-rate", 0, "input sample rate in Hz when it differs from the pipeline rate (e.g. 48000 loopback capture)")
	inputChannels := flag.Int("input-channels", 1, "input channel count (stereo input is downmixed)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livetranscripts: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livetranscripts: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can retune it.
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("livetranscripts starting",
		"config", *configPath,
		"input", *input,
		"addr", fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "livetranscripts",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg, *input, *inputRate, *inputChannels)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *input)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.SlogLevel())
			slog.Info("applied log level", "level", d.NewLogLevel)
		}
		application.ApplyDiff(d)
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders assembles the audio source, the transcription model chain,
// and the generative backend from config and flags.
func buildProviders(cfg *config.Config, input string, inputRate, inputChannels int) (*app.Providers, error) {
	src, err := buildSource(cfg, input, inputRate, inputChannels)
	if err != nil {
		return nil, fmt.Errorf("audio source %q: %w", input, err)
	}

	group, err := buildTranscribers(cfg)
	if err != nil {
		return nil, err
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		return nil, err
	}

	return &app.Providers{Source: src, Transcribers: group, Generator: gen}, nil
}

// buildSource selects the capture source. "stdin" expects raw 16-bit LE PCM
// on standard input, typically piped from an OS loopback capture tool; a
// file path replays a raw PCM recording at real-time pace; "tone" is a
// synthetic voiced/silent pattern for smoke testing without a capture
// device.
func buildSource(cfg *config.Config, input string, inputRate, inputChannels int) (audio.Source, error) {
	var readerOpts []audio.ReaderOption
	if inputRate > 0 || inputChannels > 1 {
		rate := inputRate
		if rate <= 0 {
			rate = cfg.SampleRate
		}
		readerOpts = append(readerOpts, audio.WithInputFormat(rate, inputChannels))
	}

	switch input {
	case "tone":
		return audio.NewToneSource(cfg.SampleRate, cfg.ChunkSize), nil
	case "stdin":
		return audio.NewReaderSource(os.Stdin, cfg.SampleRate, cfg.ChunkSize, readerOpts...)
	default:
		f, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		readerOpts = append(readerOpts, audio.WithRealtimePacing())
		return audio.NewReaderSource(f, cfg.SampleRate, cfg.ChunkSize, readerOpts...)
	}
}

// buildTranscribers creates the transcription fallback chain: the primary
// model first, then each model_fallback entry in order.
func buildTranscribers(cfg *config.Config) (*resilience.FallbackGroup[transcribe.Transcriber], error) {
	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	newTranscriber := func(model string) (transcribe.Transcriber, error) {
		return sttopenai.New(apiKey, model,
			sttopenai.WithTimeout(cfg.RequestTimeout()))
	}

	primary, err := newTranscriber(cfg.TranscriptionModel)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", cfg.TranscriptionModel, err)
	}
	group := resilience.NewFallbackGroup[transcribe.Transcriber](
		primary, cfg.TranscriptionModel, resilience.FallbackConfig{})

	for _, model := range cfg.ModelFallback {
		fb, err := newTranscriber(model)
		if err != nil {
			return nil, fmt.Errorf("create fallback transcriber %q: %w", model, err)
		}
		group.AddFallback(model, fb)
		slog.Info("transcription fallback registered", "model", model)
	}
	return group, nil
}

// buildGenerator creates the any-llm generative backend named in ai.provider.
func buildGenerator(cfg *config.Config) (genai.Generator, error) {
	var opts []anyllmlib.Option
	if key := generatorAPIKey(cfg); key != "" {
		opts = append(opts, anyllmlib.WithAPIKey(key))
	}
	gen, err := anyllm.New(cfg.AI.Provider, cfg.AI.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("create generator %s/%s: %w", cfg.AI.Provider, cfg.AI.Model, err)
	}
	return gen, nil
}

// generatorAPIKey resolves the API key for the configured AI provider,
// falling back to the conventional environment variables.
func generatorAPIKey(cfg *config.Config) string {
	switch cfg.AI.Provider {
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			return cfg.GeminiAPIKey
		}
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return cfg.OpenAIAPIKey
		}
		return os.Getenv("OPENAI_API_KEY")
	default:
		// Local providers (ollama) need no key; others read their own env.
		return ""
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, input string) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║      Live Transcripts — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Transcription", strings.Join(cfg.Models(), " → "))
	printRow("AI backend", cfg.AI.Provider+" / "+cfg.AI.Model)
	printRow("Audio input", input)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.SampleRate))
	printRow("Listen addr", fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort))
	if cfg.KnowledgeDir != "" {
		printRow("Knowledge dir", cfg.KnowledgeDir)
	}
	if cfg.SessionLogDir != "" {
		printRow("Session logs", cfg.SessionLogDir)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 23 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-14s : %-23s ║\n", kind, value)
}
