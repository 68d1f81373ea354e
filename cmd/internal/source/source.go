// Package source decodes audio files into sample buffers for the command
// line tools.
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/gen2brain/vaudio"
)

// Decoder reads interleaved integer samples from an audio stream.
type Decoder interface {
	// PCMBuffer fills buf.Data and returns the number of samples read.
	PCMBuffer(buf *audio.IntBuffer) (int, error)
	// Format is the session format the samples are written in.
	Format() vaudio.Format
	Duration() (time.Duration, error)
}

// File is an open audio file.
type File struct {
	Decoder
	Path string
	f    *os.File
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// Open opens path and picks a decoder by its extension.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var dec Decoder
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		dec, err = NewWav(f)
	case ".mp3":
		dec, err = NewMp3(f)
	case ".ogg", ".oga":
		dec, err = NewOgg(f)
	default:
		err = fmt.Errorf("unknown file type %q", filepath.Ext(path))
	}
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &File{Decoder: dec, Path: path, f: f}, nil
}

// signed16 is the format of decoders producing 16-bit samples.
func signed16(channels, rate int) vaudio.Format {
	return vaudio.Format{
		Encoding:   vaudio.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  16,
		ValidBits:  16,
		Channels:   uint32(channels),
		SampleRate: uint32(rate),
	}
}

type wavDecoder struct {
	*wav.Decoder
}

// NewWav returns a decoder for integer PCM WAV files.
func NewWav(r io.ReadSeeker) (Decoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("WAV audio format %d is not integer PCM", dec.WavAudioFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, err
	}

	return &wavDecoder{Decoder: dec}, nil
}

func (w *wavDecoder) Format() vaudio.Format {
	f := signed16(int(w.NumChans), int(w.SampleRate))
	f.Precision = uint32(w.BitDepth)
	f.ValidBits = f.Precision
	if w.BitDepth == 8 {
		f.Encoding = vaudio.AUDIO_ENCODING_ULINEAR_LE
	}

	return f
}

func (w *wavDecoder) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	n, err := w.Decoder.PCMBuffer(buf)
	if w.BitDepth == 8 {
		// The WAV decoder yields unsigned bytes as is.
		for i := range buf.Data[:n] {
			buf.Data[i] -= 128
		}
	}
	buf.SourceBitDepth = int(w.BitDepth)

	return n, err
}

type mp3Decoder struct {
	dec *mp3.Decoder
	raw []byte
}

// NewMp3 returns a decoder for MP3 streams, always 16-bit stereo.
func NewMp3(r io.Reader) (Decoder, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3Decoder{dec: dec}, nil
}

func (m *mp3Decoder) Format() vaudio.Format {
	return signed16(2, m.dec.SampleRate())
}

func (m *mp3Decoder) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	if cap(m.raw) < 2*len(buf.Data) {
		m.raw = make([]byte, 2*len(buf.Data))
	}
	raw := m.raw[:2*len(buf.Data)]

	n, err := io.ReadFull(m.dec, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	buf.SourceBitDepth = 16

	return samples, err
}

func (m *mp3Decoder) Duration() (time.Duration, error) {
	frames := m.dec.Length() / 4
	if frames < 0 {
		return 0, errors.New("unknown length")
	}

	return time.Duration(frames) * time.Second / time.Duration(m.dec.SampleRate()), nil
}

type oggDecoder struct {
	dec *oggvorbis.Reader
	fl  []float32
}

// NewOgg returns a decoder for Ogg Vorbis streams, converted to 16 bits.
func NewOgg(r io.Reader) (Decoder, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, err
	}

	return &oggDecoder{dec: dec}, nil
}

func (o *oggDecoder) Format() vaudio.Format {
	return signed16(o.dec.Channels(), o.dec.SampleRate())
}

func (o *oggDecoder) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	ch := o.dec.Channels()
	want := len(buf.Data) - len(buf.Data)%ch
	if cap(o.fl) < want {
		o.fl = make([]float32, want)
	}

	n, err := o.dec.Read(o.fl[:want])
	for i, v := range o.fl[:n] {
		buf.Data[i] = int(math.Round(float64(max(-1, min(1, v))) * math.MaxInt16))
	}
	buf.SourceBitDepth = 16

	return n, err
}

func (o *oggDecoder) Duration() (time.Duration, error) {
	frames := o.dec.Length()
	if frames <= 0 {
		return 0, errors.New("unknown length")
	}

	return time.Duration(frames) * time.Second / time.Duration(o.dec.SampleRate()), nil
}
