package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestDecodeLinear16NormalisesSamples(t *testing.T) {
	samples, err := DecodeLinear16([]byte{0x00, 0x40, 0x00, 0xC0})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0] != 0.5 || samples[1] != -0.5 {
		t.Fatalf("expected samples [0.5 -0.5], got %v", samples)
	}
}

func TestDecodeLinear16RejectsOddLength(t *testing.T) {
	if _, err := DecodeLinear16([]byte{1, 2, 3}); !errors.Is(err, ErrOddPCMLength) {
		t.Fatalf("expected ErrOddPCMLength, got %v", err)
	}
}

func TestEncodeLinear16ClipsOutOfRangeSamples(t *testing.T) {
	decoded, err := DecodeLinear16(EncodeLinear16([]float32{2, -2, 0}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if decoded[0] < 0.99 || decoded[1] > -0.99 || decoded[2] != 0 {
		t.Fatalf("expected clipped samples near [1 -1 0], got %v", decoded)
	}
}

func TestRMSOfConstantSignal(t *testing.T) {
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected rms 0.5, got %f", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected rms 0 for empty input, got %f", got)
	}
}

func TestResampleHalvesLengthWhenDownsampling(t *testing.T) {
	samples := make([]float32, 480)
	if got := len(Resample(samples, 48000, 24000)); got != 240 {
		t.Fatalf("expected 240 samples, got %d", got)
	}
}

func TestEncodingInfoDurationAndBytesAgree(t *testing.T) {
	info := GetDefaultEncodingInfo()

	bytes := info.BytesFor(20 * time.Millisecond)
	if bytes != 640 {
		t.Fatalf("expected 640 bytes for 20ms at 16kHz linear16, got %d", bytes)
	}
	if got := info.Duration(bytes); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms, got %s", got)
	}
}
