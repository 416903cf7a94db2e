package audio

import (
	"log/slog"
	"sync"
)

// Converter normalizes incoming PCM to the pipeline format: mono 16-bit at
// the target rate. The downmix happens before the resample so stereo input is
// only resampled once. A zero Converter (or one whose source format already
// matches the target) passes data through untouched.
//
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	// SourceRate and SourceChannels describe the incoming PCM. Zero values
	// mean "already in pipeline format".
	SourceRate     int
	SourceChannels int

	// TargetRate is the pipeline sample rate.
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts one buffer of raw PCM bytes. When no conversion is needed
// the input slice is returned as-is.
func (c *Converter) Convert(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, trimming",
				"bytes", len(pcm))
		})
		pcm = pcm[:len(pcm)-1]
	}
	if !c.active() {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio input format converted",
			"from_rate", c.SourceRate, "from_channels", c.SourceChannels,
			"to_rate", c.TargetRate, "to_channels", 1)
	})

	if c.SourceChannels == 2 {
		pcm = StereoToMono(pcm)
	}
	if c.SourceRate > 0 && c.SourceRate != c.TargetRate {
		pcm = ResampleMono16(pcm, c.SourceRate, c.TargetRate)
	}
	return pcm
}

func (c *Converter) active() bool {
	if c.SourceChannels == 2 {
		return true
	}
	return c.SourceRate > 0 && c.TargetRate > 0 && c.SourceRate != c.TargetRate
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
