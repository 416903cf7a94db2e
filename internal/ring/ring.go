// Package ring holds the in-process audio transport: a fixed-duration ring
// buffer sitting between the capture task and the batcher.
package ring

import (
	"fmt"
	"log/slog"
	"sync"
)

// Buffer is a fixed-capacity circular buffer of 16-bit mono PCM holding the
// most recent window of captured audio (10 s by default). The writer never
// blocks: once the window is full, new samples overwrite the oldest.
//
// Readers track their own position with a cursor, an absolute sample count
// since creation. ReadSince reports when a cursor has been overtaken so the
// caller can resynchronize.
//
// Safe for concurrent use by one writer and any number of readers.
type Buffer struct {
	mu   sync.Mutex
	buf  []byte
	size int64 // capacity in samples
	head int64 // total samples written since creation

	warnOdd sync.Once
	notify  chan struct{}
}

// New returns a Buffer holding capSamples samples.
func New(capSamples int64) (*Buffer, error) {
	if capSamples <= 0 {
		return nil, fmt.Errorf("ring: capacity must be positive, got %d", capSamples)
	}
	return &Buffer{
		buf:    make([]byte, capSamples*2),
		size:   capSamples,
		notify: make(chan struct{}, 1),
	}, nil
}

// Write appends pcm to the buffer, overwriting the oldest samples when the
// window is full. Write never blocks. An odd trailing byte is dropped.
func (b *Buffer) Write(pcm []byte) {
	n := int64(len(pcm) / 2)
	if int64(len(pcm)) != n*2 {
		b.warnOdd.Do(func() {
			slog.Warn("ring: odd byte count in PCM write, trailing byte dropped", "bytes", len(pcm))
		})
	}
	if n == 0 {
		return
	}
	pcm = pcm[:n*2]

	b.mu.Lock()
	pos := b.head % b.size
	for off := int64(0); off < n; {
		chunk := min(b.size-pos, n-off)
		copy(b.buf[pos*2:(pos+chunk)*2], pcm[off*2:(off+chunk)*2])
		pos = (pos + chunk) % b.size
		off += chunk
	}
	b.head += n
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Head returns the total number of samples written since creation. Use it as
// the starting cursor for a reader that only wants audio captured from now on.
func (b *Buffer) Head() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head
}

// Cap returns the window capacity in samples.
func (b *Buffer) Cap() int64 { return b.size }

// ReadSince returns a copy of every sample written after cursor, the cursor
// to use for the next call, and whether audio between cursor and the start
// of the retained window was lost to overwriting. On truncation the returned
// samples begin at the oldest retained position; callers should treat the
// gap as a discontinuity and reset any accumulated state.
func (b *Buffer) ReadSince(cursor int64) (pcm []byte, next int64, truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cursor < 0 {
		cursor = 0
	}
	if cursor > b.head {
		cursor = b.head
	}
	if b.head-cursor > b.size {
		truncated = true
		cursor = b.head - b.size
	}
	n := b.head - cursor
	if n == 0 {
		return nil, b.head, truncated
	}
	out := make([]byte, n*2)
	pos := cursor % b.size
	for off := int64(0); off < n; {
		chunk := min(b.size-pos, n-off)
		copy(out[off*2:(off+chunk)*2], b.buf[pos*2:(pos+chunk)*2])
		pos = (pos + chunk) % b.size
		off += chunk
	}
	return out, b.head, truncated
}

// C returns a channel that receives a signal after each write. The channel
// is buffered and coalesces signals; after each receive the reader should
// drain with ReadSince.
func (b *Buffer) C() <-chan struct{} { return b.notify }
