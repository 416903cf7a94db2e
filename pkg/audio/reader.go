package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Compile-time assertion that ReaderSource satisfies Source.
var _ Source = (*ReaderSource)(nil)

// ReaderSource adapts an io.Reader producing raw 16-bit little-endian PCM
// into a [Source]. It is the capture path for piped input from an OS capture
// utility (e.g. `parec`, `sox -d`) and for prerecorded PCM files.
//
// The underlying Read is not interruptible; context cancellation is observed
// between chunks.
type ReaderSource struct {
	r          io.Reader
	chunkBytes int
	interval   time.Duration // 0 means no pacing
	conv       *Converter    // nil means input is already in pipeline format

	mu     sync.Mutex
	seq    uint64
	eof    bool
	closed bool
}

// ReaderOption configures a ReaderSource.
type ReaderOption func(*ReaderSource)

// WithRealtimePacing makes ReadChunk deliver chunks no faster than the
// capture rate they represent. Use it when replaying a file through the live
// pipeline; pipes from live capture utilities are already paced by the OS.
func WithRealtimePacing() ReaderOption {
	return func(s *ReaderSource) {
		s.interval = -1 // resolved against the sample rate in NewReaderSource
	}
}

// WithInputFormat declares the format the reader actually delivers. Chunks
// are downmixed and resampled to mono at the pipeline rate. chunkSize still
// counts source samples, so the emitted chunks shrink accordingly.
func WithInputFormat(sampleRate, channels int) ReaderOption {
	return func(s *ReaderSource) {
		s.conv = &Converter{SourceRate: sampleRate, SourceChannels: channels}
	}
}

// NewReaderSource returns a Source that reads chunkSize samples per chunk
// from r. sampleRate is only used for pacing and error messages; the bytes
// are passed through untouched.
func NewReaderSource(r io.Reader, sampleRate, chunkSize int, opts ...ReaderOption) (*ReaderSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: reader source: sample rate must be positive, got %d", sampleRate)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("audio: reader source: chunk size must be positive, got %d", chunkSize)
	}
	s := &ReaderSource{
		r:          r,
		chunkBytes: chunkSize * 2,
	}
	for _, o := range opts {
		o(s)
	}
	if s.conv != nil {
		s.conv.TargetRate = sampleRate
		if s.conv.SourceChannels == 2 {
			s.chunkBytes = chunkSize * 4
		}
	}
	if s.interval < 0 {
		rate := sampleRate
		if s.conv != nil && s.conv.SourceRate > 0 {
			rate = s.conv.SourceRate
		}
		s.interval = Duration(int64(chunkSize), rate)
	}
	return s, nil
}

// ReadChunk reads the next chunk. The final chunk of a stream may be shorter
// than the configured size; subsequent calls return io.EOF.
func (s *ReaderSource) ReadChunk(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	done := s.eof || s.closed
	s.mu.Unlock()
	if done {
		return Chunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.interval > 0 {
		t := time.NewTimer(s.interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Chunk{}, ctx.Err()
		}
	}

	buf := make([]byte, s.chunkBytes)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
	case err == io.ErrUnexpectedEOF && n >= 2:
		// Trailing partial chunk. Deliver the even-byte prefix; the next
		// call reports end of stream.
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
		buf = buf[:n-n%2]
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
		return Chunk{}, io.EOF
	default:
		return Chunk{}, fmt.Errorf("audio: read pcm: %w", err)
	}

	if s.conv != nil {
		buf = s.conv.Convert(buf)
	}

	s.mu.Lock()
	s.seq++
	c := Chunk{Seq: s.seq, Data: buf}
	s.mu.Unlock()
	return c, nil
}

// Close marks the source closed and closes the underlying reader when it
// implements io.Closer.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
