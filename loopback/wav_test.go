package loopback_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/loopback"
)

func TestEncodePlayed(t *testing.T) {
	hw := loopback.New(nil)
	d, err := vaudio.NewDevice(hw, &vaudio.Config{Format: format})
	require.NoError(t, err)
	defer d.Close()

	s, err := d.Open(vaudio.AUOPEN_WRITE)
	require.NoError(t, err)
	ai := vaudio.InitInfo()
	ai.Play.SetFormat(format)
	require.NoError(t, s.SetInfo(&ai))

	blk := d.BlockSize()
	data := make([]byte, 2*blk)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(i*7-4000)))
	}
	_, err = s.Write(data)
	require.NoError(t, err)
	require.True(t, hw.StepOutput())
	require.True(t, hw.StepOutput())

	path := filepath.Join(t.TempDir(), "played.wav")
	out, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(out, int(format.SampleRate), int(format.Precision), int(format.Channels), 1)

	frames, err := hw.EncodePlayed(enc, format)
	require.NoError(t, err)
	assert.Equal(t, len(data)/4, frames)
	assert.Zero(t, hw.Played(), "The tap is drained")

	frames, err = hw.EncodePlayed(enc, format)
	require.NoError(t, err)
	assert.Zero(t, frames)

	require.NoError(t, enc.Close())
	require.NoError(t, out.Close())

	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()

	dec := wav.NewDecoder(in)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint32(8000), dec.SampleRate)
	require.Len(t, buf.Data, len(data)/2)
	for i, v := range buf.Data {
		require.Equal(t, int(int16(binary.LittleEndian.Uint16(data[2*i:]))), v, "Sample %d", i)
	}
}

func TestEncodePlayedFormats(t *testing.T) {
	hw := loopback.New(nil)
	enc := wav.NewEncoder(nil, 8000, 16, 2, 1)

	for _, f := range []vaudio.Format{
		{Encoding: vaudio.AUDIO_ENCODING_SLINEAR_BE, Precision: 16, Channels: 2},
		{Encoding: vaudio.AUDIO_ENCODING_ULAW, Precision: 8, Channels: 1},
		{Encoding: vaudio.AUDIO_ENCODING_SLINEAR_LE, Precision: 16},
	} {
		_, err := hw.EncodePlayed(enc, f)
		assert.ErrorIs(t, err, vaudio.ErrInvalidFormat, "%s", f)
	}
}
