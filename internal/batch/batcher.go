package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/observe"
	"github.com/livetranscripts/livetranscripts/internal/ring"
	"github.com/livetranscripts/livetranscripts/pkg/audio"
)

// Utterance is one batched audio segment, roughly a speaker turn. The PCM
// is 16-bit little-endian mono; Start and End are absolute sample positions
// in the capture stream (End counts only through the last voiced frame, so
// End-Start can exceed the sample count when interior silence was trimmed).
type Utterance struct {
	// Seq is the batch sequence number: dense, strictly increasing,
	// starting at 1.
	Seq uint64

	// PCM holds the segment audio, including any overlap carried from the
	// previous utterance.
	PCM []byte

	// Start and End are absolute capture sample positions.
	Start, End int64

	// Final marks the tail utterance flushed when the audio stream ends.
	Final bool
}

// Samples returns the number of 16-bit samples in the utterance.
func (u Utterance) Samples() int { return len(u.PCM) / 2 }

// Duration returns the play time of the utterance at the given rate.
func (u Utterance) Duration(sampleRate int) time.Duration {
	return audio.Duration(int64(u.Samples()), sampleRate)
}

// batcherState names the batcher's position in its emission state machine.
type batcherState int

const (
	stateWaitingForVoice batcherState = iota
	stateAccumulating
	stateOverlapCarry
)

// BatcherConfig holds the emission policy of a Batcher. All durations are
// converted to sample counts at construction.
type BatcherConfig struct {
	// SampleRate of the capture stream in Hz.
	SampleRate int

	// MinBatch is the minimum voiced content before an utterance may be
	// emitted at a silence boundary. Default 3 s.
	MinBatch time.Duration

	// MaxBatch forces emission when the accumulated segment reaches this
	// length regardless of silence. Default 30 s.
	MaxBatch time.Duration

	// SilenceThreshold is the continuous unvoiced run that marks an
	// utterance boundary. Default 500 ms.
	SilenceThreshold time.Duration

	// Overlap is the audio tail carried from each emitted utterance into
	// the next, so a word cut at the boundary survives in one of the two.
	// Default 500 ms.
	Overlap time.Duration

	// FrameDuration is the VAD analysis frame. Default 20 ms.
	FrameDuration time.Duration

	// EnqueueWait bounds how long Put may block on a full queue before the
	// oldest queued utterance is evicted. Default 5 s.
	EnqueueWait time.Duration

	// Metrics, when non-nil, receives the emitted-utterance counter.
	Metrics *observe.Metrics
}

func (c *BatcherConfig) withDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.MinBatch <= 0 {
		c.MinBatch = 3 * time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 30 * time.Second
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 500 * time.Millisecond
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	} else if c.Overlap == 0 {
		c.Overlap = 500 * time.Millisecond
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = 5 * time.Second
	}
}

// BatcherStats is a point-in-time snapshot of batcher counters.
type BatcherStats struct {
	Emitted     uint64 `json:"utterances_emitted"`
	ForceCuts   uint64 `json:"force_cuts"`
	Truncations uint64 `json:"ring_truncations"`
	LastSeq     uint64 `json:"last_batch_seq"`
}

// Batcher reads the capture stream out of the ring buffer, runs VAD over
// fixed frames, and emits Utterances under three simultaneous policies: no
// emission before MinBatch of voiced content, emission at a SilenceThreshold
// boundary (the utterance ends at the start of the silence run), and forced
// emission at exactly MaxBatch. Each emitted utterance's last Overlap is
// carried into the next one.
//
// Run is the only goroutine touching the accumulation state; SetPaused and
// CloseInput may be called from anywhere.
type Batcher struct {
	ringBuf *ring.Buffer
	queue   *Queue
	det     *Detector
	cfg     BatcherConfig

	frameSamples   int64
	minSamples     int64
	maxSamples     int64
	silenceFrames  int
	overlapSamples int64

	cursor  int64
	pending []byte

	state      batcherState
	accum      []byte
	startAbs   int64
	endAbs     int64
	voicedEnd  int // byte offset into accum after the last voiced frame
	silenceRun int
	gapping    bool // trimming an interior silence run on a too-short segment
	carry      []byte

	paused    atomic.Bool
	seq       atomic.Uint64
	emitted   atomic.Uint64
	forceCuts atomic.Uint64
	truncs    atomic.Uint64

	inputDone chan struct{}
	doneOnce  sync.Once
}

// NewBatcher wires a Batcher between the ring buffer and the queue. The
// detector must be dedicated to this batcher.
func NewBatcher(rb *ring.Buffer, q *Queue, det *Detector, cfg BatcherConfig) *Batcher {
	cfg.withDefaults()
	b := &Batcher{
		ringBuf:   rb,
		queue:     q,
		det:       det,
		cfg:       cfg,
		cursor:    rb.Head(),
		inputDone: make(chan struct{}),
	}
	b.frameSamples = audio.SampleCount(cfg.FrameDuration, cfg.SampleRate)
	b.minSamples = audio.SampleCount(cfg.MinBatch, cfg.SampleRate)
	b.maxSamples = audio.SampleCount(cfg.MaxBatch, cfg.SampleRate)
	b.overlapSamples = audio.SampleCount(cfg.Overlap, cfg.SampleRate)
	b.silenceFrames = int(audio.SampleCount(cfg.SilenceThreshold, cfg.SampleRate) / b.frameSamples)
	if b.silenceFrames < 1 {
		b.silenceFrames = 1
	}
	return b
}

// SetPaused pauses or resumes batching. While paused the batcher keeps
// draining the ring (so the cursor never falls behind) but discards all
// audio, and any in-progress accumulation is dropped. Resuming returns to
// waiting for the next voiced frame.
func (b *Batcher) SetPaused(p bool) { b.paused.Store(p) }

// CloseInput signals that the capture stream has ended. Run drains whatever
// the ring still holds, flushes a sufficiently long tail utterance, closes
// the queue, and returns.
func (b *Batcher) CloseInput() {
	b.doneOnce.Do(func() { close(b.inputDone) })
}

// Stats returns a snapshot of the batcher counters.
func (b *Batcher) Stats() BatcherStats {
	return BatcherStats{
		Emitted:     b.emitted.Load(),
		ForceCuts:   b.forceCuts.Load(),
		Truncations: b.truncs.Load(),
		LastSeq:     b.seq.Load(),
	}
}

// Run processes ring writes until the context is cancelled or CloseInput is
// called. It returns nil on a clean end of input.
func (b *Batcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.queue.Close()
			return ctx.Err()
		case <-b.inputDone:
			if err := b.drain(ctx); err != nil {
				b.queue.Close()
				return err
			}
			b.flush(ctx)
			b.queue.Close()
			return nil
		case <-b.ringBuf.C():
			if err := b.drain(ctx); err != nil {
				b.queue.Close()
				return err
			}
		}
	}
}

// drain pulls everything new out of the ring and feeds it through the frame
// processor.
func (b *Batcher) drain(ctx context.Context) error {
	pcm, next, truncated := b.ringBuf.ReadSince(b.cursor)
	b.cursor = next
	if truncated {
		b.truncs.Add(1)
		slog.Warn("audio ring overtook batcher cursor, resetting utterance",
			"cursor", next, "dropped_state", b.state != stateWaitingForVoice)
		b.reset()
	}
	if len(pcm) == 0 {
		return nil
	}

	b.pending = append(b.pending, pcm...)
	frameBytes := int(b.frameSamples) * 2
	for len(b.pending) >= frameBytes {
		frame := b.pending[:frameBytes]
		framePos := b.cursor - int64(len(b.pending))/2
		if err := b.processFrame(ctx, frame, framePos); err != nil {
			return err
		}
		b.pending = b.pending[frameBytes:]
	}
	// Keep the partial frame without aliasing the drained slice.
	if len(b.pending) > 0 {
		b.pending = append([]byte(nil), b.pending...)
	} else {
		b.pending = nil
	}
	return nil
}

// processFrame advances the state machine by one VAD frame.
func (b *Batcher) processFrame(ctx context.Context, frame []byte, framePos int64) error {
	voiced := b.det.Process(frame)

	if b.paused.Load() {
		b.reset()
		return nil
	}

	switch b.state {
	case stateWaitingForVoice:
		if !voiced {
			return nil
		}
		b.beginAccum(nil, framePos)
		b.appendVoiced(frame, framePos)

	case stateOverlapCarry:
		if !voiced {
			return nil // inter-utterance silence is discarded
		}
		b.beginAccum(b.carry, framePos)
		b.carry = nil
		b.appendVoiced(frame, framePos)

	case stateAccumulating:
		if b.gapping {
			if !voiced {
				return nil
			}
			b.gapping = false
		}
		b.accum = append(b.accum, frame...)
		if voiced {
			b.appendedVoicedTail(framePos)
		} else {
			b.silenceRun++
		}

		if int64(len(b.accum))/2 >= b.maxSamples {
			return b.emit(ctx, true)
		}
		if b.silenceRun >= b.silenceFrames {
			if int64(b.voicedEnd)/2 >= b.minSamples {
				return b.emit(ctx, false)
			}
			// Segment too short to emit: collapse the silence run and
			// wait for the voice to come back.
			b.accum = b.accum[:b.voicedEnd]
			b.silenceRun = 0
			b.gapping = true
		}
	}
	return nil
}

func (b *Batcher) beginAccum(carry []byte, framePos int64) {
	b.state = stateAccumulating
	b.accum = append([]byte(nil), carry...)
	b.startAbs = framePos - int64(len(carry))/2
	b.endAbs = framePos
	b.voicedEnd = len(b.accum)
	b.silenceRun = 0
	b.gapping = false
}

func (b *Batcher) appendVoiced(frame []byte, framePos int64) {
	b.accum = append(b.accum, frame...)
	b.appendedVoicedTail(framePos)
}

// appendedVoicedTail records that the frame just appended was voiced.
func (b *Batcher) appendedVoicedTail(framePos int64) {
	b.silenceRun = 0
	b.voicedEnd = len(b.accum)
	b.endAbs = framePos + b.frameSamples
}

// emit cuts and enqueues the current accumulation. Forced cuts take exactly
// MaxBatch of audio; silence cuts end at the start of the silence run.
func (b *Batcher) emit(ctx context.Context, forced bool) error {
	var pcm, remainder []byte
	end := b.endAbs
	if forced {
		cut := int(b.maxSamples) * 2
		pcm = b.accum[:cut:cut]
		remainder = b.accum[cut:]
		end = b.startAbs + b.maxSamples
		b.forceCuts.Add(1)
	} else {
		pcm = b.accum[:b.voicedEnd:b.voicedEnd]
	}

	u := Utterance{
		Seq:   b.seq.Add(1),
		PCM:   pcm,
		Start: b.startAbs,
		End:   end,
	}
	if err := b.queue.Put(ctx, u, b.cfg.EnqueueWait); err != nil {
		return err
	}
	b.emitted.Add(1)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.UtterancesEmitted.Add(ctx, 1)
	}
	slog.Debug("utterance emitted",
		"seq", u.Seq, "duration", u.Duration(b.cfg.SampleRate), "forced", forced)

	// Carry the tail so the next utterance overlaps the cut.
	ob := int(b.overlapSamples) * 2
	if ob > len(pcm) {
		ob = len(pcm)
	}
	b.carry = append([]byte(nil), pcm[len(pcm)-ob:]...)

	if len(remainder) > 0 {
		// Forced cut landed mid-speech: resume immediately with the
		// overlap plus whatever spilled past the cut.
		b.beginAccum(append(b.carry, remainder...), end+int64(len(remainder))/2)
		b.carry = nil
		b.appendedVoicedTail(end + int64(len(remainder))/2 - b.frameSamples)
		return nil
	}
	b.state = stateOverlapCarry
	b.accum = nil
	return nil
}

// flush emits the tail accumulation at end of input, if it is long enough to
// transcribe meaningfully.
func (b *Batcher) flush(ctx context.Context) {
	if b.state != stateAccumulating || int64(b.voicedEnd)/2 < b.minSamples {
		return
	}
	u := Utterance{
		Seq:   b.seq.Add(1),
		PCM:   b.accum[:b.voicedEnd:b.voicedEnd],
		Start: b.startAbs,
		End:   b.endAbs,
		Final: true,
	}
	if err := b.queue.Put(ctx, u, b.cfg.EnqueueWait); err != nil {
		return
	}
	b.emitted.Add(1)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.UtterancesEmitted.Add(ctx, 1)
	}
	slog.Info("flushed tail utterance at end of input",
		"seq", u.Seq, "duration", u.Duration(b.cfg.SampleRate))
	b.accum = nil
	b.state = stateWaitingForVoice
}

// reset drops any in-progress accumulation and returns to waiting for voice.
func (b *Batcher) reset() {
	b.state = stateWaitingForVoice
	b.accum = nil
	b.carry = nil
	b.voicedEnd = 0
	b.silenceRun = 0
	b.gapping = false
	b.det.Reset()
}
