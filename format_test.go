package vaudio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vaudio"
)

func TestFormatCheck(t *testing.T) {
	linear := func(enc vaudio.Encoding, prec uint32) vaudio.Format {
		return vaudio.Format{Encoding: enc, Precision: prec, Channels: 2, SampleRate: 48000}
	}

	tests := []struct {
		name string
		in   vaudio.Format
		want vaudio.Encoding
		err  bool
	}{
		{"SlinearLE16", linear(vaudio.AUDIO_ENCODING_SLINEAR_LE, 16), vaudio.AUDIO_ENCODING_SLINEAR_LE, false},
		{"SlinearBE24", linear(vaudio.AUDIO_ENCODING_SLINEAR_BE, 24), vaudio.AUDIO_ENCODING_SLINEAR_BE, false},
		{"UlinearBE32", linear(vaudio.AUDIO_ENCODING_ULINEAR_BE, 32), vaudio.AUDIO_ENCODING_ULINEAR_BE, false},
		{"Slinear8BE", linear(vaudio.AUDIO_ENCODING_SLINEAR_BE, 8), vaudio.AUDIO_ENCODING_SLINEAR_LE, false},
		{"Ulinear8BE", linear(vaudio.AUDIO_ENCODING_ULINEAR_BE, 8), vaudio.AUDIO_ENCODING_ULINEAR_LE, false},
		{"PCM16", linear(vaudio.AUDIO_ENCODING_PCM16, 16), vaudio.AUDIO_ENCODING_SLINEAR_LE, false},
		{"PCM16As8", linear(vaudio.AUDIO_ENCODING_PCM16, 8), vaudio.AUDIO_ENCODING_ULINEAR_LE, false},
		{"PCM8", linear(vaudio.AUDIO_ENCODING_PCM8, 8), vaudio.AUDIO_ENCODING_ULINEAR_LE, false},
		{"PCM8Wide", linear(vaudio.AUDIO_ENCODING_PCM8, 16), 0, true},
		{"Slinear", linear(vaudio.AUDIO_ENCODING_SLINEAR, 16), vaudio.AUDIO_ENCODING_SLINEAR_LE, false},
		{"Ulinear", linear(vaudio.AUDIO_ENCODING_ULINEAR, 16), vaudio.AUDIO_ENCODING_ULINEAR_LE, false},
		{"Ulaw", linear(vaudio.AUDIO_ENCODING_ULAW, 8), vaudio.AUDIO_ENCODING_ULAW, false},
		{"UlawWide", linear(vaudio.AUDIO_ENCODING_ULAW, 16), 0, true},
		{"Alaw", linear(vaudio.AUDIO_ENCODING_ALAW, 8), vaudio.AUDIO_ENCODING_ALAW, false},
		{"ADPCM4", linear(vaudio.AUDIO_ENCODING_ADPCM, 4), vaudio.AUDIO_ENCODING_ADPCM, false},
		{"ADPCM16", linear(vaudio.AUDIO_ENCODING_ADPCM, 16), 0, true},
		{"Precision12", linear(vaudio.AUDIO_ENCODING_SLINEAR_LE, 12), 0, true},
		{"AC3", linear(vaudio.AUDIO_ENCODING_AC3, 16), vaudio.AUDIO_ENCODING_AC3, false},
		{"Unknown", linear(vaudio.Encoding(99), 16), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Check()
			if tt.err {
				assert.ErrorIs(t, err, vaudio.ErrInvalidFormat)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Encoding)
			assert.Equal(t, got.Precision, got.ValidBits, "ValidBits defaults to the precision")
		})
	}

	t.Run("Layout", func(t *testing.T) {
		f := mixFormat

		f.Channels = 0
		_, err := f.Check()
		assert.ErrorIs(t, err, vaudio.ErrInvalidFormat)

		f.Channels = vaudio.AUDIO_MAX_CHANNELS
		_, err = f.Check()
		assert.NoError(t, err)

		f.Channels = vaudio.AUDIO_MAX_CHANNELS + 1
		_, err = f.Check()
		assert.ErrorIs(t, err, vaudio.ErrInvalidFormat)

		f = mixFormat
		f.SampleRate = 0
		_, err = f.Check()
		assert.ErrorIs(t, err, vaudio.ErrInvalidFormat)

		f = mixFormat
		f.ValidBits = 20
		_, err = f.Check()
		assert.ErrorIs(t, err, vaudio.ErrInvalidFormat)

		f.ValidBits = 12
		got, err := f.Check()
		require.NoError(t, err)
		assert.Equal(t, uint32(12), got.ValidBits)
	})
}

func TestFormatSizes(t *testing.T) {
	assert.Equal(t, 2, mixFormat.SampleSize())
	assert.Equal(t, 4, mixFormat.FrameSize())
	assert.Equal(t, blk, mixFormat.BlockSize(50))
	assert.Equal(t, 10, mixFormat.BytesToFrames(43))
	assert.Equal(t, 40, mixFormat.FramesToBytes(10))

	f := vaudio.Format{Encoding: vaudio.AUDIO_ENCODING_SLINEAR_LE, Precision: 24, Channels: 3, SampleRate: 44100}
	assert.Equal(t, 3, f.SampleSize())
	assert.Equal(t, 9, f.FrameSize())
	assert.Equal(t, 0, f.BlockSize(50)%9, "Blocks hold whole frames")

	assert.Equal(t, 0, vaudio.Format{}.BytesToFrames(100))
}

func TestFormatFillSilence(t *testing.T) {
	tests := []struct {
		name string
		f    vaudio.Format
		want []byte
	}{
		{"Slinear", mixFormat, []byte{0, 0, 0, 0}},
		{"Ulaw", vaudio.DefaultSessionFormat, []byte{0x7f, 0x7f, 0x7f, 0x7f}},
		{"Alaw", vaudio.Format{Encoding: vaudio.AUDIO_ENCODING_ALAW, Precision: 8}, []byte{0x55, 0x55, 0x55, 0x55}},
		{"Ulinear8", byteFormat, []byte{0x80, 0x80, 0x80, 0x80}},
		{"UlinearLE16", vaudio.Format{Encoding: vaudio.AUDIO_ENCODING_ULINEAR_LE, Precision: 16}, []byte{0, 0x80, 0, 0x80}},
		{"UlinearBE16", vaudio.Format{Encoding: vaudio.AUDIO_ENCODING_ULINEAR_BE, Precision: 16}, []byte{0x80, 0, 0x80, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := []byte{1, 2, 3, 4}
			tt.f.FillSilence(p)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestEncodingString(t *testing.T) {
	assert.Equal(t, "slinear_le", vaudio.AUDIO_ENCODING_SLINEAR_LE.String())
	assert.True(t, vaudio.AUDIO_ENCODING_ULINEAR_BE.IsLinear())
	assert.False(t, vaudio.AUDIO_ENCODING_ULAW.IsLinear())
	assert.True(t, vaudio.AUDIO_ENCODING_AC3.IsCompressed())
	assert.Equal(t, "slinear_le:16/16 2ch 8000Hz", mixFormat.String())
}

func TestPropsString(t *testing.T) {
	assert.Equal(t, "none", vaudio.Props(0).String())
	assert.Equal(t, "playback|capture", (vaudio.AUDIO_PROP_PLAYBACK | vaudio.AUDIO_PROP_CAPTURE).String())
	assert.True(t, vaudio.AUDIO_PROP_CAPTURE.CanRecord())
	assert.False(t, vaudio.AUDIO_PROP_CAPTURE.CanPlay())
}
