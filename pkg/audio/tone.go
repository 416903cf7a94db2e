package audio

import (
	"context"
	"io"
	"math"
	"sync"
	"time"
)

// Compile-time assertion that ToneSource satisfies Source.
var _ Source = (*ToneSource)(nil)

const (
	defaultToneFrequency = 440.0
	defaultToneAmplitude = 8000
	defaultToneVoiced    = 4 * time.Second
	defaultToneSilence   = 2 * time.Second
)

// ToneSource synthesizes a repeating speak/pause pattern: a sine tone for
// the voiced span, then digital silence for the pause span. It paces chunks
// in real time by default and exists so the full pipeline can be exercised
// without a microphone (`-input tone`).
type ToneSource struct {
	sampleRate int
	chunkSize  int
	freq       float64
	amplitude  int16
	voiced     time.Duration
	silence    time.Duration
	paced      bool

	mu     sync.Mutex
	seq    uint64
	pos    int64 // absolute sample position
	closed bool
}

// ToneOption configures a ToneSource.
type ToneOption func(*ToneSource)

// WithToneCycle sets the voiced and silent span lengths of the pattern.
func WithToneCycle(voiced, silence time.Duration) ToneOption {
	return func(s *ToneSource) {
		s.voiced = voiced
		s.silence = silence
	}
}

// WithToneFrequency sets the sine frequency in Hz.
func WithToneFrequency(hz float64) ToneOption {
	return func(s *ToneSource) { s.freq = hz }
}

// WithToneAmplitude sets the peak sample value of the voiced span.
func WithToneAmplitude(a int16) ToneOption {
	return func(s *ToneSource) { s.amplitude = a }
}

// WithoutPacing disables real-time pacing. Chunks are produced as fast as
// they are read; used by tests and soak benchmarks.
func WithoutPacing() ToneOption {
	return func(s *ToneSource) { s.paced = false }
}

// NewToneSource returns a paced synthetic source producing chunkSize samples
// per chunk at the given rate.
func NewToneSource(sampleRate, chunkSize int, opts ...ToneOption) *ToneSource {
	s := &ToneSource{
		sampleRate: sampleRate,
		chunkSize:  chunkSize,
		freq:       defaultToneFrequency,
		amplitude:  defaultToneAmplitude,
		voiced:     defaultToneVoiced,
		silence:    defaultToneSilence,
		paced:      true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReadChunk synthesizes the next chunk of the pattern.
func (s *ToneSource) ReadChunk(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Chunk{}, io.EOF
	}
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.paced {
		t := time.NewTimer(Duration(int64(s.chunkSize), s.sampleRate))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Chunk{}, ctx.Err()
		}
	}

	voicedSamples := SampleCount(s.voiced, s.sampleRate)
	cycleSamples := voicedSamples + SampleCount(s.silence, s.sampleRate)
	if cycleSamples == 0 {
		cycleSamples = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Chunk{}, io.EOF
	}
	data := make([]byte, s.chunkSize*2)
	for i := 0; i < s.chunkSize; i++ {
		cyclePos := (s.pos + int64(i)) % cycleSamples
		var v int16
		if cyclePos < voicedSamples {
			t := float64(s.pos+int64(i)) / float64(s.sampleRate)
			v = int16(float64(s.amplitude) * math.Sin(2*math.Pi*s.freq*t))
		}
		data[i*2] = byte(v)
		data[i*2+1] = byte(uint16(v) >> 8)
	}
	s.pos += int64(s.chunkSize)
	s.seq++
	return Chunk{Seq: s.seq, Data: data}, nil
}

// Close stops the source. Subsequent ReadChunk calls return io.EOF.
func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
