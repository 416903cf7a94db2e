package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" {
		t.Errorf("magic = %q, want RIFF", wav[0:4])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if string(wav[8:12]) != "WAVE" {
		t.Errorf("format = %q, want WAVE", wav[8:12])
	}
	if string(wav[12:16]) != "fmt " {
		t.Errorf("fmt chunk id = %q, want 'fmt '", wav[12:16])
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("data chunk id = %q, want data", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if string(wav[44:]) != string(pcm) {
		t.Errorf("payload mismatch")
	}
}

func TestEncodeWAV_EmptyPayload(t *testing.T) {
	t.Parallel()

	wav := EncodeWAV(nil, 16000, 1)
	if len(wav) != 44 {
		t.Fatalf("len = %d, want 44", len(wav))
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 0 {
		t.Errorf("data size = %d, want 0", got)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		want float64
		tol  float64
	}{
		{name: "empty", pcm: nil, want: 0},
		{name: "single byte", pcm: []byte{0x7f}, want: 0},
		{name: "silence", pcm: make([]byte, 640), want: 0},
		{name: "square wave", pcm: squareWave(1000, 160), want: 1000},
		{name: "sine wave", pcm: sineWave(8000, 440, 16000, 1600), want: 8000 / math.Sqrt2, tol: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RMS(tt.pcm)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("RMS = %.2f, want %.2f (±%.2f)", got, tt.want, tt.tol)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		samples int64
		rate    int
		want    time.Duration
	}{
		{16000, 16000, time.Second},
		{8000, 16000, 500 * time.Millisecond},
		{480, 16000, 30 * time.Millisecond},
		{0, 16000, 0},
		{16000, 0, 0},
	}
	for _, tt := range tests {
		if got := Duration(tt.samples, tt.rate); got != tt.want {
			t.Errorf("Duration(%d, %d) = %v, want %v", tt.samples, tt.rate, got, tt.want)
		}
	}
}

func TestSampleCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		rate int
		want int64
	}{
		{time.Second, 16000, 16000},
		{500 * time.Millisecond, 16000, 8000},
		{30 * time.Millisecond, 16000, 480},
		{0, 16000, 0},
		{time.Second, 0, 0},
	}
	for _, tt := range tests {
		if got := SampleCount(tt.d, tt.rate); got != tt.want {
			t.Errorf("SampleCount(%v, %d) = %d, want %d", tt.d, tt.rate, got, tt.want)
		}
	}
}

// squareWave produces n samples alternating between +amp and -amp.
func squareWave(amp int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// sineWave produces n samples of a sine tone at the given frequency.
func sineWave(amp int16, freq float64, rate, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(float64(amp) * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}
