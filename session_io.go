package vaudio

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/go-audio/audio"
)

// checkSlice verifies that data is a slice of a supported numeric type and
// returns its length in bytes.
func checkSlice(data any) (byteLen int, err error) {
	if data == nil {
		return 0, errors.New("data cannot be nil")
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice {
		return 0, fmt.Errorf("expected a slice, got %T", data)
	}

	if rv.Len() == 0 {
		return 0, nil
	}

	switch rv.Type().Elem().Kind() {
	case reflect.Int8, reflect.Uint8,
		reflect.Int16, reflect.Uint16,
		reflect.Int32, reflect.Uint32,
		reflect.Float32, reflect.Float64:
	default:
		return 0, fmt.Errorf("unsupported slice element type: %s", rv.Type().Elem().Kind())
	}

	return rv.Len() * int(rv.Type().Elem().Size()), nil
}

// sliceBytes returns the memory of a numeric slice as bytes.
func sliceBytes(data any) ([]byte, error) {
	byteLen, err := checkSlice(data)
	if err != nil {
		return nil, err
	}
	if byteLen == 0 {
		return nil, nil
	}
	ptr := unsafe.Pointer(reflect.ValueOf(data).Index(0).Addr().Pointer())

	return unsafe.Slice((*byte)(ptr), byteLen), nil
}

// WriteSamples writes interleaved samples held in a numeric slice, e.g. []int16,
// in the session play format. It returns the number of frames written.
func (s *Session) WriteSamples(data any) (int, error) {
	p, err := sliceBytes(data)
	if err != nil {
		return 0, fmt.Errorf("invalid data type for WriteSamples: %w", err)
	}
	defer runtime.KeepAlive(data)

	f := s.playFormat()
	if fs := f.FrameSize(); fs > 0 && len(p)%fs != 0 {
		return 0, fmt.Errorf("data of %d bytes is not a whole number of %d-byte frames", len(p), fs)
	}

	n, err := s.Write(p)

	return f.BytesToFrames(n), err
}

// ReadSamples reads interleaved samples into a numeric slice in the session
// record format. It returns the number of frames read.
func (s *Session) ReadSamples(data any) (int, error) {
	p, err := sliceBytes(data)
	if err != nil {
		return 0, fmt.Errorf("invalid buffer type for ReadSamples: %w", err)
	}
	defer runtime.KeepAlive(data)

	f := s.recordFormat()
	if fs := f.FrameSize(); fs > 0 {
		p = p[:len(p)-len(p)%fs]
	}

	n, err := s.Read(p)

	return f.BytesToFrames(n), err
}

// WriteBuffer encodes buf in the session play format and writes it. The
// buffer channel count must match the play format.
func (s *Session) WriteBuffer(buf *audio.IntBuffer) (int, error) {
	if buf == nil || buf.Format == nil {
		return 0, errors.New("buffer has no format")
	}
	f := s.playFormat()
	if buf.Format.NumChannels != int(f.Channels) {
		return 0, fmt.Errorf("buffer has %d channels, play format %d: %w", buf.Format.NumChannels, f.Channels, ErrInvalidFormat)
	}
	codec, err := newSampleCodec(f)
	if err != nil {
		return 0, err
	}

	depth := buf.SourceBitDepth
	if depth <= 0 || depth > 32 {
		depth = 16
	}
	p := make([]byte, len(buf.Data)*codec.size)
	for i, v := range buf.Data {
		codec.encode(p[i*codec.size:], int32(v)<<(32-depth))
	}

	n, err := s.Write(p)

	return n / codec.size, err
}

// ReadBuffer fills buf.Data with samples decoded from the session record
// format and sets the buffer format to match.
func (s *Session) ReadBuffer(buf *audio.IntBuffer) (int, error) {
	if buf == nil {
		return 0, errors.New("nil buffer")
	}
	f := s.recordFormat()
	codec, err := newSampleCodec(f)
	if err != nil {
		return 0, err
	}

	depth := int(f.Precision)
	if f.Encoding == AUDIO_ENCODING_ULAW || f.Encoding == AUDIO_ENCODING_ALAW {
		depth = 16
	}
	buf.Format = f.AudioFormat()
	buf.SourceBitDepth = depth

	n := len(buf.Data) - len(buf.Data)%int(f.Channels)
	p := make([]byte, n*codec.size)
	got, err := s.Read(p)
	got /= codec.size
	for i := 0; i < got; i++ {
		buf.Data[i] = int(codec.decode(p[i*codec.size:]) >> (32 - depth))
	}

	return got, err
}

func (s *Session) playFormat() Format {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	return s.ch.pparams
}

func (s *Session) recordFormat() Format {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	return s.ch.rparams
}
