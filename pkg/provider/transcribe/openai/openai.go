// Package openai provides a transcription backend for the OpenAI audio API
// (gpt-4o-transcribe, gpt-4o-mini-transcribe, whisper-1).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/livetranscripts/livetranscripts/pkg/audio"
	"github.com/livetranscripts/livetranscripts/pkg/provider/fault"
	"github.com/livetranscripts/livetranscripts/pkg/provider/transcribe"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = "gpt-4o-transcribe"

// Ensure Transcriber implements the transcribe.Transcriber interface.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcriber implements transcribe.Transcriber using the OpenAI audio API.
// One value per model; values sharing an API key share HTTP connections via
// the SDK's default transport.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Primarily used in
// tests to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets an ISO-639-1 language hint on all requests.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout. The dispatcher usually
// enforces its own per-call deadline via context; this is a backstop.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI transcription backend.
// If model is empty, DefaultModel (gpt-4o-transcribe) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcribe: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retry policy lives in the dispatcher; the SDK must not add its own.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Transcriber{client: client, model: model, language: cfg.language}, nil
}

// Transcribe implements transcribe.Transcriber. The PCM payload is wrapped
// in a WAV container and uploaded in one request.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcribe.Result, error) {
	if len(pcm) == 0 {
		return transcribe.Result{}, fault.Newf(fault.ClientError, "openai transcribe: empty audio payload")
	}
	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(t.model),
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return transcribe.Result{}, classify(err)
	}
	return transcribe.Result{Text: resp.Text}, nil
}

// Model implements transcribe.Transcriber.
func (t *Transcriber) Model() string {
	return t.model
}

// classify maps SDK errors into the shared fault taxonomy.
func classify(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		fe := &fault.Error{
			Class:  fault.FromStatus(apierr.StatusCode),
			Status: apierr.StatusCode,
			Err:    err,
		}
		if fe.Class == fault.RateLimited && apierr.Response != nil {
			if d, ok := parseRetryAfter(apierr.Response.Header.Get("Retry-After")); ok {
				fe.RetryAfter = d
			}
		}
		return fe
	}
	return fault.New(fault.ClassOf(err), err)
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}
