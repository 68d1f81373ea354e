package vaudio

import (
	"fmt"

	"github.com/go-audio/audio"
)

// Format describes the samples of a stream.
type Format struct {
	Encoding   Encoding
	Precision  uint32 // Bits per sample in storage.
	ValidBits  uint32 // Significant bits, 0 means Precision.
	Channels   uint32
	SampleRate uint32
}

// DefaultSessionFormat is applied to every new session.
var DefaultSessionFormat = Format{
	Encoding:   AUDIO_ENCODING_ULAW,
	Precision:  8,
	ValidBits:  8,
	Channels:   1,
	SampleRate: 8000,
}

// DefaultFormat is the intermediate mix format used when the hardware accepts it.
var DefaultFormat = Format{
	Encoding:   AUDIO_ENCODING_SLINEAR_LE,
	Precision:  16,
	ValidBits:  16,
	Channels:   2,
	SampleRate: 44100,
}

// String returns a short description such as "slinear_le:16/16 2ch 44100Hz".
func (f Format) String() string {
	return fmt.Sprintf("%s:%d/%d %dch %dHz", f.Encoding, f.Precision, f.ValidBits, f.Channels, f.SampleRate)
}

// Check validates the format and returns its normalized form. Alias encodings
// are rewritten to the little-endian variant and ValidBits defaults to Precision.
// The returned error wraps ErrInvalidFormat.
func (f Format) Check() (Format, error) {
	switch f.Encoding {
	case AUDIO_ENCODING_PCM16:
		if f.Precision == 8 {
			f.Encoding = AUDIO_ENCODING_ULINEAR_LE
		} else {
			f.Encoding = AUDIO_ENCODING_SLINEAR_LE
		}
	case AUDIO_ENCODING_PCM8:
		if f.Precision != 8 {
			return f, fmt.Errorf("precision %d for %s: %w", f.Precision, f.Encoding, ErrInvalidFormat)
		}
		f.Encoding = AUDIO_ENCODING_ULINEAR_LE
	case AUDIO_ENCODING_SLINEAR:
		f.Encoding = AUDIO_ENCODING_SLINEAR_LE
	case AUDIO_ENCODING_ULINEAR:
		f.Encoding = AUDIO_ENCODING_ULINEAR_LE
	}

	switch f.Encoding {
	case AUDIO_ENCODING_ULAW, AUDIO_ENCODING_ALAW:
		if f.Precision != 8 {
			return f, fmt.Errorf("precision %d for %s: %w", f.Precision, f.Encoding, ErrInvalidFormat)
		}
	case AUDIO_ENCODING_ADPCM:
		if f.Precision != 4 && f.Precision != 8 {
			return f, fmt.Errorf("precision %d for %s: %w", f.Precision, f.Encoding, ErrInvalidFormat)
		}
	case AUDIO_ENCODING_SLINEAR_LE, AUDIO_ENCODING_SLINEAR_BE,
		AUDIO_ENCODING_ULINEAR_LE, AUDIO_ENCODING_ULINEAR_BE:
		switch f.Precision {
		case 8:
			if f.Encoding == AUDIO_ENCODING_SLINEAR_BE {
				f.Encoding = AUDIO_ENCODING_SLINEAR_LE
			}
			if f.Encoding == AUDIO_ENCODING_ULINEAR_BE {
				f.Encoding = AUDIO_ENCODING_ULINEAR_LE
			}
		case 16, 24, 32:
		default:
			return f, fmt.Errorf("precision %d for %s: %w", f.Precision, f.Encoding, ErrInvalidFormat)
		}
	case AUDIO_ENCODING_MPEG_L1_STREAM, AUDIO_ENCODING_MPEG_L1_PACKETS,
		AUDIO_ENCODING_MPEG_L1_SYSTEM, AUDIO_ENCODING_MPEG_L2_STREAM,
		AUDIO_ENCODING_MPEG_L2_PACKETS, AUDIO_ENCODING_MPEG_L2_SYSTEM,
		AUDIO_ENCODING_AC3:
	default:
		return f, fmt.Errorf("encoding %d: %w", uint32(f.Encoding), ErrInvalidFormat)
	}

	if f.ValidBits == 0 {
		f.ValidBits = f.Precision
	}
	if f.ValidBits > f.Precision {
		return f, fmt.Errorf("validbits %d above precision %d: %w", f.ValidBits, f.Precision, ErrInvalidFormat)
	}

	if f.Channels < 1 || f.Channels > AUDIO_MAX_CHANNELS {
		return f, fmt.Errorf("channels %d: %w", f.Channels, ErrInvalidFormat)
	}

	if f.SampleRate == 0 {
		return f, fmt.Errorf("sample rate %d: %w", f.SampleRate, ErrInvalidFormat)
	}

	return f, nil
}

// SampleSize returns the bytes used by one sample.
func (f Format) SampleSize() int {
	return int(f.Precision+7) / 8
}

// FrameSize returns the bytes used by one sample of every channel.
func (f Format) FrameSize() int {
	return f.SampleSize() * int(f.Channels)
}

// BytesToFrames converts a byte count to whole frames.
func (f Format) BytesToFrames(n int) int {
	fs := f.FrameSize()
	if fs == 0 {
		return 0
	}

	return n / fs
}

// FramesToBytes converts a frame count to bytes.
func (f Format) FramesToBytes(n int) int {
	return n * f.FrameSize()
}

// BlockSize returns the bytes in ms milliseconds of audio, rounded down to a frame.
func (f Format) BlockSize(ms int) int {
	n := int(f.SampleRate) * ms / 1000 * int(f.Channels) * int(f.Precision) / 8
	if fs := f.FrameSize(); fs > 0 {
		n -= n % fs
	}

	return n
}

// IsBigEndian reports whether multi-byte samples are stored most significant byte first.
func (f Format) IsBigEndian() bool {
	return f.Encoding == AUDIO_ENCODING_SLINEAR_BE || f.Encoding == AUDIO_ENCODING_ULINEAR_BE
}

// IsUnsigned reports whether linear samples are offset binary.
func (f Format) IsUnsigned() bool {
	return f.Encoding == AUDIO_ENCODING_ULINEAR_LE || f.Encoding == AUDIO_ENCODING_ULINEAR_BE
}

// FillSilence writes the silence pattern of the format to p.
func (f Format) FillSilence(p []byte) {
	var fill byte
	nfill := 1

	switch f.Encoding {
	case AUDIO_ENCODING_ULAW:
		fill = 0x7f
	case AUDIO_ENCODING_ALAW:
		fill = 0x55
	case AUDIO_ENCODING_ULINEAR_LE, AUDIO_ENCODING_ULINEAR_BE:
		fill = 0x80
		nfill = f.SampleSize()
	}

	if nfill <= 1 {
		for i := range p {
			p[i] = fill
		}

		return
	}

	// Unsigned midpoint: 0x80 in the most significant byte.
	msb := nfill - 1
	if f.IsBigEndian() {
		msb = 0
	}
	for i := range p {
		if i%nfill == msb {
			p[i] = fill
		} else {
			p[i] = 0
		}
	}
}

// AudioFormat returns the go-audio description of the format.
func (f Format) AudioFormat() *audio.Format {
	return &audio.Format{
		NumChannels: int(f.Channels),
		SampleRate:  int(f.SampleRate),
	}
}

// formatsEqual compares two checked formats, ignoring ValidBits.
func formatsEqual(a, b Format) bool {
	return a.Encoding == b.Encoding && a.Precision == b.Precision &&
		a.Channels == b.Channels && a.SampleRate == b.SampleRate
}
