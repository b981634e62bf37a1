package audio

import "time"

const DefaultSampleRate = 16000

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: EncodingLinear16}
}

// EncodingInfo describes a mono PCM stream.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesFor returns the number of bytes needed to hold d of audio.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	samples := int(int64(e.SampleRate) * int64(d) / int64(time.Second))
	return samples * e.Format.ByteSize()
}

// Duration returns how long byteLen bytes of audio play for.
func (e EncodingInfo) Duration(byteLen int) time.Duration {
	if e.SampleRate <= 0 || e.Format.ByteSize() <= 0 {
		return 0
	}

	samples := byteLen / e.Format.ByteSize()
	return time.Duration(samples) * time.Second / time.Duration(e.SampleRate)
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	if e == EncodingLinear16 {
		return 2
	}
	return -1
}

// EncodingLinear16 is little-endian signed 16-bit PCM, the only format the
// session streams in either direction.
const EncodingLinear16 encodingFormat = "linear16"
