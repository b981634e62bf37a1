package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddPCMLength is returned when a linear16 payload does not contain a
// whole number of samples.
var ErrOddPCMLength = errors.New("pcm payload has odd length")

const pcmMaxAmplitude = 32768.0

// DecodeLinear16 converts little-endian signed 16-bit PCM into samples
// normalised to [-1, 1).
func DecodeLinear16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(pcm))
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / pcmMaxAmplitude
	}
	return samples, nil
}

// EncodeLinear16 converts normalised samples back to little-endian signed
// 16-bit PCM, clipping anything outside [-1, 1].
func EncodeLinear16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		clipped := math.Max(-1, math.Min(1, float64(sample)))
		value := int16(math.Round(clipped * (pcmMaxAmplitude - 1)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(value))
	}
	return pcm
}

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Resample converts samples between rates with linear interpolation, which is
// enough for speech.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)
	for i := range out {
		position := float64(i) * ratio
		index := int(position)
		if index >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		fraction := float32(position - float64(index))
		out[i] = samples[index]*(1-fraction) + samples[index+1]*fraction
	}
	return out
}
