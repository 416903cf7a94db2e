// Package audio defines the capture-side types of the transcription pipeline:
// the [Chunk] unit that flows from a capture source into the ring buffer and
// the [Source] interface that capture implementations satisfy.
//
// All audio in the pipeline is 16-bit signed little-endian PCM, mono. The
// sample rate is fixed by configuration (16 kHz by default) and carried
// out-of-band; chunks hold raw sample bytes only.
//
// This package lives under pkg/ because external code (alternative capture
// adapters, e.g. an OS loopback device wrapper) is expected to implement
// [Source].
package audio

import "context"

// Chunk is a single unit of captured audio.
type Chunk struct {
	// Seq is the capture sequence number, strictly increasing per source,
	// starting at 1.
	Seq uint64

	// Data is raw 16-bit signed little-endian PCM, mono. Length is always
	// even; the final chunk of a stream may be shorter than the configured
	// chunk size.
	Data []byte
}

// Samples returns the number of 16-bit samples in the chunk.
func (c Chunk) Samples() int { return len(c.Data) / 2 }

// Source delivers captured audio chunk by chunk.
//
// ReadChunk blocks until the next chunk is available, the context is
// cancelled, or the stream ends. Implementations return io.EOF once the
// stream is exhausted; every other error is terminal for the stream.
// Sources need not support concurrent ReadChunk calls: the pipeline reads
// from exactly one goroutine.
type Source interface {
	ReadChunk(ctx context.Context) (Chunk, error)

	// Close releases capture resources. ReadChunk calls after Close report
	// end of stream. Close is idempotent.
	Close() error
}
