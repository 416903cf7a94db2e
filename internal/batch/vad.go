// Package batch converts the unbounded capture stream into utterance-sized
// segments: an RMS voice-activity detector, the batcher state machine that
// applies the min/silence/max emission policies, and the bounded queue that
// feeds the transcription dispatcher.
package batch

import (
	"math"
	"sync"

	"github.com/livetranscripts/livetranscripts/pkg/audio"
)

// Default VAD tuning on the int16 sample scale.
const (
	// DefaultEnterThreshold is the frame RMS above which a frame counts as
	// voiced.
	DefaultEnterThreshold = 500.0

	// DefaultExitRatio scales the enter threshold down to the exit
	// threshold. Exit below enter gives the detector hysteresis so a brief
	// dip mid-word does not end the voiced run.
	DefaultExitRatio = 0.6

	// DefaultMinUnvoiceFrames is how many consecutive sub-exit frames are
	// required before a voiced detector goes unvoiced.
	DefaultMinUnvoiceFrames = 2
)

// Detector classifies fixed-size PCM frames as voiced or unvoiced using an
// RMS threshold with hysteresis: a frame whose RMS exceeds the enter
// threshold starts a voiced run, and the run only ends after at least
// minUnvoiceFrames consecutive frames fall below the exit threshold.
//
// Detector keeps per-stream state; create one per audio stream and do not
// share across goroutines.
type Detector struct {
	enter           float64
	exit            float64
	minUnvoice      int
	thresholdGuard  sync.Mutex // SetEnterThreshold may be called from config reload
	voiced          bool
	framesBelowExit int
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithExitThreshold overrides the derived exit threshold.
func WithExitThreshold(rms float64) DetectorOption {
	return func(d *Detector) { d.exit = rms }
}

// WithMinUnvoiceFrames sets how many consecutive sub-exit frames end a
// voiced run.
func WithMinUnvoiceFrames(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.minUnvoice = n
		}
	}
}

// NewDetector returns a Detector with the given enter threshold. Zero or
// negative enter falls back to DefaultEnterThreshold; the exit threshold
// defaults to DefaultExitRatio × enter.
func NewDetector(enter float64, opts ...DetectorOption) *Detector {
	if enter <= 0 {
		enter = DefaultEnterThreshold
	}
	d := &Detector{
		enter:      enter,
		minUnvoice: DefaultMinUnvoiceFrames,
	}
	for _, o := range opts {
		o(d)
	}
	if d.exit <= 0 {
		d.exit = enter * DefaultExitRatio
	}
	return d
}

// Process classifies one frame of 16-bit little-endian mono PCM and returns
// whether the stream is voiced after consuming it.
func (d *Detector) Process(frame []byte) bool {
	rms := audio.RMS(frame)
	d.thresholdGuard.Lock()
	enter, exit := d.enter, d.exit
	d.thresholdGuard.Unlock()

	switch {
	case !d.voiced:
		if rms > enter {
			d.voiced = true
			d.framesBelowExit = 0
		}
	case rms < exit:
		d.framesBelowExit++
		if d.framesBelowExit >= d.minUnvoice {
			d.voiced = false
		}
	default:
		d.framesBelowExit = 0
	}
	return d.voiced
}

// Voiced reports the detector's current state without consuming a frame.
func (d *Detector) Voiced() bool { return d.voiced }

// Reset returns the detector to the unvoiced state.
func (d *Detector) Reset() {
	d.voiced = false
	d.framesBelowExit = 0
}

// SetEnterThreshold changes the enter threshold (and re-derives the exit
// threshold) at runtime. Used by config hot reload.
func (d *Detector) SetEnterThreshold(enter float64) {
	if enter <= 0 || math.IsNaN(enter) {
		return
	}
	d.thresholdGuard.Lock()
	d.enter = enter
	d.exit = enter * DefaultExitRatio
	d.thresholdGuard.Unlock()
}
