package alsa_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vaudio/alsa"
)

func TestMixerNil(t *testing.T) {
	var nilMixer *alsa.Mixer
	var nilCtl *alsa.MixerCtl

	assert.NotPanics(t, func() {
		assert.NoError(t, nilMixer.Close())
	}, "Close on nil mixer should not panic")

	assert.Equal(t, "", nilMixer.Name())
	assert.Equal(t, 0, nilMixer.NumCtls())

	_, err := nilMixer.Ctl(0)
	assert.Error(t, err)
	_, err = nilMixer.CtlByName("test")
	assert.Error(t, err)
	_, err = nilMixer.CtlByNames("a", "b")
	assert.Error(t, err)

	assert.Equal(t, "", nilCtl.Name())
	assert.Equal(t, ^uint32(0), nilCtl.ID())
	assert.Equal(t, alsa.SNDRV_CTL_ELEM_TYPE_UNKNOWN, nilCtl.Type())
	assert.Equal(t, uint32(0), nilCtl.NumValues())

	_, _, err = nilCtl.Range()
	assert.Error(t, err)
	_, err = nilCtl.Value(0)
	assert.Error(t, err)
	assert.Error(t, nilCtl.SetValue(0, 0))
	_, err = nilCtl.Scaled(0, 255)
	assert.Error(t, err)
	assert.Error(t, nilCtl.SetScaled(0, 128, 255))
}

func TestMixerOpenFail(t *testing.T) {
	mixer, err := alsa.MixerOpen(1000)
	assert.Error(t, err)
	assert.Nil(t, mixer)
}

func TestMixerDummy(t *testing.T) {
	card := dummyCard(t)

	mixer, err := alsa.MixerOpen(card)
	require.NoError(t, err)
	defer mixer.Close()

	assert.NotEmpty(t, mixer.Name())
	require.Positive(t, mixer.NumCtls(), "The dummy card has controls")

	t.Run("Lookup", func(t *testing.T) {
		ctl, err := mixer.CtlByNames("No Such Control", "Master Volume")
		require.NoError(t, err)
		assert.Equal(t, "Master Volume", ctl.Name())
		assert.Equal(t, alsa.SNDRV_CTL_ELEM_TYPE_INTEGER, ctl.Type())
		assert.Equal(t, "INT", ctl.Type().String())

		byID, err := mixer.Ctl(ctl.ID())
		require.NoError(t, err)
		assert.Same(t, ctl, byID)

		_, err = mixer.CtlByName("No Such Control")
		assert.Error(t, err)
	})

	t.Run("Values", func(t *testing.T) {
		ctl, err := mixer.CtlByName("Master Volume")
		require.NoError(t, err)

		lo, hi, err := ctl.Range()
		require.NoError(t, err)
		require.Less(t, lo, hi)

		orig, err := ctl.Value(0)
		require.NoError(t, err)
		defer func() { _ = ctl.SetValue(0, orig) }()

		require.NoError(t, ctl.SetValue(0, hi+100))
		v, err := ctl.Value(0)
		require.NoError(t, err)
		assert.Equal(t, hi, v, "Clamped to the range")

		require.NoError(t, ctl.SetScaled(0, 0, 255))
		v, err = ctl.Value(0)
		require.NoError(t, err)
		assert.Equal(t, lo, v)

		require.NoError(t, ctl.SetScaled(0, 255, 255))
		s, err := ctl.Scaled(0, 255)
		require.NoError(t, err)
		assert.Equal(t, 255, s)

		_, err = ctl.Value(ctl.NumValues())
		assert.Error(t, err, "Index out of range")
	})
}
