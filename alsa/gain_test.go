package alsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vaudio"
)

func TestHardwareProps(t *testing.T) {
	h := newHardware(HardwareConfig{Card: 1, Device: 2}, true, false)
	assert.Equal(t, "hw:1,2", h.Name())
	assert.Equal(t, vaudio.AUDIO_PROP_PLAYBACK, h.Props())

	_, err := h.stream(vaudio.AUMODE_RECORD)
	assert.ErrorIs(t, err, vaudio.ErrInvalidFormat)
	assert.Equal(t, SNDRV_PCM_FORMAT_INVALID, h.Granted(vaudio.AUMODE_PLAY))

	h = newHardware(HardwareConfig{}, true, true)
	assert.Equal(t, vaudio.AUDIO_PROP_PLAYBACK|vaudio.AUDIO_PROP_CAPTURE|
		vaudio.AUDIO_PROP_FULLDUPLEX|vaudio.AUDIO_PROP_INDEPENDENT, h.Props())
	assert.Len(t, h.streams(), 2)
}

func TestCachedGain(t *testing.T) {
	h := newHardware(HardwareConfig{}, true, true)

	gain, balance, err := h.Gain(vaudio.AUMODE_PLAY)
	require.NoError(t, err)
	assert.Equal(t, uint32(vaudio.AUDIO_MAX_VOLUME), gain)
	assert.Equal(t, uint32(balanceCenter), balance)

	require.NoError(t, h.SetGain(vaudio.AUMODE_RECORD, 100, 10), "Kept until the mixer opens")
	gain, balance, err = h.Gain(vaudio.AUMODE_RECORD)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), gain)
	assert.Equal(t, uint32(10), balance)
	assert.True(t, h.rec.gainSet)
	assert.False(t, h.play.gainSet)

	assert.ErrorIs(t, h.SetGain(vaudio.AUMODE_PLAY, 256, 32), vaudio.ErrInvalidFormat)
	assert.ErrorIs(t, h.SetGain(vaudio.AUMODE_PLAY, 10, 65), vaudio.ErrInvalidFormat)
}

func TestPorts(t *testing.T) {
	h := newHardware(HardwareConfig{}, false, true)

	assert.Equal(t, uint32(onlyPort), h.Ports(vaudio.AUMODE_RECORD))
	assert.Zero(t, h.Ports(vaudio.AUMODE_PLAY))

	port, err := h.Port(vaudio.AUMODE_RECORD)
	require.NoError(t, err)
	assert.Equal(t, uint32(onlyPort), port)

	assert.NoError(t, h.SetPort(vaudio.AUMODE_RECORD, onlyPort))
	assert.ErrorIs(t, h.SetPort(vaudio.AUMODE_RECORD, 2), vaudio.ErrInvalidFormat)
	assert.Error(t, h.SetPort(vaudio.AUMODE_PLAY, onlyPort))
}
