package batch

import (
	"encoding/binary"
	"testing"
)

// constPCM builds n samples all holding value v.
func constPCM(v int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestDetector_EnterOnLoudFrame(t *testing.T) {
	t.Parallel()

	d := NewDetector(500)
	if d.Process(constPCM(100, 320)) {
		t.Error("quiet frame should not be voiced")
	}
	if !d.Process(constPCM(3000, 320)) {
		t.Error("loud frame should be voiced")
	}
}

func TestDetector_Hysteresis(t *testing.T) {
	t.Parallel()

	// exit = 0.6 × 500 = 300; two consecutive sub-exit frames end the run.
	d := NewDetector(500)
	d.Process(constPCM(3000, 320))

	// A value between exit and enter must not end the run, ever.
	for i := 0; i < 10; i++ {
		if !d.Process(constPCM(400, 320)) {
			t.Fatalf("frame %d between exit and enter ended the voiced run", i)
		}
	}

	// One sub-exit frame is not enough.
	if !d.Process(constPCM(0, 320)) {
		t.Error("single sub-exit frame ended the voiced run")
	}
	// A voiced-band frame resets the counter.
	d.Process(constPCM(400, 320))
	if !d.Process(constPCM(0, 320)) {
		t.Error("counter should have been reset by the in-band frame")
	}
	// The second consecutive sub-exit frame ends the run.
	if d.Process(constPCM(0, 320)) {
		t.Error("two consecutive sub-exit frames should end the voiced run")
	}

	// Back below enter but above exit: still unvoiced.
	if d.Process(constPCM(400, 320)) {
		t.Error("sub-enter frame should not restart the voiced run")
	}
}

func TestDetector_Reset(t *testing.T) {
	t.Parallel()

	d := NewDetector(500)
	d.Process(constPCM(3000, 320))
	if !d.Voiced() {
		t.Fatal("expected voiced state")
	}
	d.Reset()
	if d.Voiced() {
		t.Error("Reset should clear the voiced state")
	}
}

func TestDetector_SetEnterThreshold(t *testing.T) {
	t.Parallel()

	d := NewDetector(500)
	d.SetEnterThreshold(5000)
	if d.Process(constPCM(3000, 320)) {
		t.Error("frame below the raised threshold should not be voiced")
	}
	d.SetEnterThreshold(100)
	if !d.Process(constPCM(3000, 320)) {
		t.Error("frame above the lowered threshold should be voiced")
	}
}

func TestDetector_Defaults(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	if !d.Process(constPCM(600, 320)) {
		t.Error("600 RMS should exceed the default enter threshold of 500")
	}
}
