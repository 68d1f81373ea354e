package loopback

import (
	"encoding/binary"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gen2brain/vaudio"
)

// EncodePlayed reads the played output, which is in format f, and writes
// it to enc. It returns the number of frames written. Only little endian
// linear formats of 8 to 32 bits are supported, as WAV stores them.
func (d *Device) EncodePlayed(enc *wav.Encoder, f vaudio.Format) (int, error) {
	size := int(f.Precision / 8)
	switch {
	case f.Channels == 0:
		return 0, fmt.Errorf("format %s: %w", f, vaudio.ErrInvalidFormat)
	case f.Encoding == vaudio.AUDIO_ENCODING_ULINEAR_LE && size == 1:
	case f.Encoding == vaudio.AUDIO_ENCODING_SLINEAR_LE && size >= 2 && size <= 4:
	default:
		return 0, fmt.Errorf("no WAV layout for %s: %w", f, vaudio.ErrInvalidFormat)
	}

	frame := size * int(f.Channels)
	p := make([]byte, d.Played()/frame*frame)
	n := d.ReadPlayed(p)
	if n == 0 {
		return 0, nil
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(f.Channels), SampleRate: int(f.SampleRate)},
		Data:           make([]int, n/size),
		SourceBitDepth: int(f.Precision),
	}
	for i := range buf.Data {
		buf.Data[i] = sample(p[i*size:], size)
	}
	if err := enc.Write(buf); err != nil {
		return 0, err
	}

	return n / frame, nil
}

func sample(p []byte, size int) int {
	switch size {
	case 1:
		// The WAV encoder stores 8-bit values as they are.
		return int(p[0])
	case 2:
		return int(int16(binary.LittleEndian.Uint16(p)))
	case 3:
		return int(int32(uint32(p[0])<<8|uint32(p[1])<<16|uint32(p[2])<<24) >> 8)
	default:
		return int(int32(binary.LittleEndian.Uint32(p)))
	}
}
