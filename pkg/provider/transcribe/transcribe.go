// Package transcribe defines the batch speech-to-text abstraction used by
// the transcription dispatcher.
//
// The pipeline segments captured audio into utterance-sized batches and
// submits each batch as one [Transcriber.Transcribe] call. Streaming
// recognition is deliberately out of scope: batch calls keep the provider
// surface small enough that any HTTP transcription API can implement it.
//
// Implementations wrap failures with pkg/provider/fault so the dispatcher
// can tell transient failures (retry, then fail over) from permanent ones
// (fail over immediately).
package transcribe

import "context"

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the verbatim transcription. Empty when the service heard
	// nothing intelligible; an empty text with a nil error is a valid
	// result, not a failure.
	Text string
}

// Transcriber converts one utterance of audio to text.
//
// Transcribe blocks until the service responds, the context is cancelled,
// or the deadline passes. Implementations must be safe for concurrent use:
// the dispatcher may run several utterances in parallel.
type Transcriber interface {
	// Transcribe converts 16-bit signed little-endian mono PCM at
	// sampleRate to text.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error)

	// Model returns the model identifier requests are billed against. It is
	// recorded on every transcript entry and in per-model metrics.
	Model() string
}
