// Package mock provides an in-memory scripted implementation of
// [audio.Source] for use in unit tests.
//
// The mock is safe for concurrent use. It serves chunks from an exported
// Script field so tests can feed exact PCM sequences through the pipeline,
// and it records calls so tests can assert on lifecycle behavior.
//
// Typical usage:
//
//	src := &mock.Source{Script: [][]byte{voiced, voiced, silence}}
//	chunk, err := src.ReadChunk(ctx)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/livetranscripts/livetranscripts/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. Chunks are served from
// Script in order. When the script is exhausted, ReadChunk returns io.EOF,
// or blocks until context cancellation if HoldOpen is set.
type Source struct {
	mu sync.Mutex

	// Script holds the PCM payloads returned by successive ReadChunk calls.
	Script [][]byte

	// HoldOpen keeps ReadChunk blocking (until ctx cancellation or Close)
	// after the script is exhausted, instead of returning io.EOF. This
	// mimics a live capture device that has simply gone quiet.
	HoldOpen bool

	// ReadError, when set, is returned by the next ReadChunk call.
	ReadError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next   int
	seq    uint64
	closed chan struct{}
	once   sync.Once
}

// ReadChunk implements [audio.Source].
func (s *Source) ReadChunk(ctx context.Context) (audio.Chunk, error) {
	s.mu.Lock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	if s.ReadError != nil {
		err := s.ReadError
		s.mu.Unlock()
		return audio.Chunk{}, err
	}
	select {
	case <-s.closed:
		s.mu.Unlock()
		return audio.Chunk{}, io.EOF
	default:
	}
	if s.next < len(s.Script) {
		data := s.Script[s.next]
		s.next++
		s.seq++
		c := audio.Chunk{Seq: s.seq, Data: data}
		s.mu.Unlock()
		return c, nil
	}
	hold := s.HoldOpen
	closed := s.closed
	s.mu.Unlock()

	if !hold {
		return audio.Chunk{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return audio.Chunk{}, ctx.Err()
	case <-closed:
		return audio.Chunk{}, io.EOF
	}
}

// Close implements [audio.Source]. It releases any ReadChunk call blocked in
// HoldOpen mode.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	s.CallCountClose++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return s.CloseError
}
