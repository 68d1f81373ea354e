package vaudio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/loopback"
)

func TestMixSingleChannel(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		d, hw := newTestDevice(t, nil)
		s := openNative(t, d, vaudio.AUOPEN_WRITE)

		data := pattern(2*blk, -3000)
		n, err := s.Write(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)

		require.True(t, hw.StepOutput())
		require.True(t, hw.StepOutput())
		assert.Equal(t, data, readPlayed(t, hw, 2*blk), "A lone channel at full volume is mixed at unity")
	})

	t.Run("Volume", func(t *testing.T) {
		d, hw := newTestDevice(t, nil)
		s := openNative(t, d, vaudio.AUOPEN_WRITE)

		ai := vaudio.InitInfo()
		ai.Play.Gain = 127
		require.NoError(t, s.SetInfo(&ai))

		data := pattern(2*blk, 5000)
		_, err := s.Write(data)
		require.NoError(t, err)

		require.True(t, hw.StepOutput())
		require.True(t, hw.StepOutput())
		played := samples(readPlayed(t, hw, 2*blk))
		for i, v := range samples(data) {
			require.Equal(t, v/2, played[i], "Sample %d should be halved", i)
		}
	})
}

// mixTwo plays a alone for two priming blocks and then a and b together.
// It returns the third played block, the first one holding both.
func mixTwo(t *testing.T, saturate bool, a, b []byte) []byte {
	t.Helper()

	d, hw := newTestDevice(t, nil)
	d.SetSaturate(saturate)
	sa := openNative(t, d, vaudio.AUOPEN_WRITE)
	sb := openNative(t, d, vaudio.AUOPEN_WRITE)

	// Priming mixes two blocks of the first writer only.
	_, err := sa.Write(append(make([]byte, 2*blk), a...))
	require.NoError(t, err)
	_, err = sb.Write(b)
	require.NoError(t, err)
	waitMixCycles(t, d, 2)

	require.True(t, hw.StepOutput())
	waitMixCycles(t, d, 3)
	require.True(t, hw.StepOutput())
	waitMixCycles(t, d, 4)
	require.True(t, hw.StepOutput())

	played := readPlayed(t, hw, 3*blk)

	return played[2*blk:]
}

func TestMixTwoChannels(t *testing.T) {
	a := pattern(blk, 1000)
	b := pattern(blk, -2000)

	t.Run("Divisor", func(t *testing.T) {
		got := samples(mixTwo(t, false, a, b))
		sa, sb := samples(a), samples(b)
		for i := range got {
			require.Equal(t, sa[i]/2+sb[i]/2, got[i], "Sample %d", i)
		}
	})

	t.Run("Saturation", func(t *testing.T) {
		got := samples(mixTwo(t, true, a, b))
		sa, sb := samples(a), samples(b)
		for i := range got {
			// Recovery doubles a sum only while the double fits.
			sum := sa[i]/2 + sb[i]/2
			want := sum
			if sum >= -16384 && sum <= 16383 {
				want = 2 * sum
			}
			require.Equal(t, want, got[i], "Sample %d", i)
		}
	})

	t.Run("SaturationBound", func(t *testing.T) {
		loud := make([]byte, blk)
		for i := 0; i+1 < blk; i += 2 {
			loud[i], loud[i+1] = 0x00, 0x60 // 24576
		}
		got := samples(mixTwo(t, true, loud, loud))
		for i := range got {
			require.Equal(t, int16(24576), got[i], "Sample %d must not clip", i)
		}
	})
}

func TestMixStartIdempotent(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	_, err := s.Write(pattern(2*blk, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, hw.CallCount("TriggerOutput"))
	cycles := d.Stats().MixCycles

	_, err = s.Write(pattern(2*blk, 0))
	require.NoError(t, err)

	ai := vaudio.InitInfo()
	ai.Play.Pause = 0
	require.NoError(t, s.SetInfo(&ai), "Unpausing a running channel")

	assert.Equal(t, 1, hw.CallCount("TriggerOutput"), "A running channel is not triggered again")
	assert.Equal(t, cycles, d.Stats().MixCycles, "A running channel is not primed again")

	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), info.Play.Active)
	assert.Equal(t, uint32(2*blk), info.Play.Seek)
}

func TestMixUnderrun(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	// One block and a partial one: the second priming cycle pads the rest.
	data := pattern(blk+1000, 700)
	n, err := s.Write(data)
	require.NoError(t, err, "An underrun is not an error")
	assert.Equal(t, len(data), n)

	drops, err := s.Drops(vaudio.AUMODE_PLAY)
	require.NoError(t, err)
	assert.Equal(t, int64(blk-1000), drops, "Drops count the padding")

	// With nothing written the mixer pads a whole block.
	require.True(t, hw.StepOutput())
	waitMixCycles(t, d, 3)
	drops, err = s.Drops(vaudio.AUMODE_PLAY)
	require.NoError(t, err)
	assert.Equal(t, int64(2*blk-1000), drops)

	require.True(t, hw.StepOutput())
	played := readPlayed(t, hw, 2*blk)
	assert.Equal(t, data, played[:len(data)])
	assert.Equal(t, make([]byte, blk-1000), played[len(data):], "The gap is silence")

	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), info.Play.Error)
}

func TestMixPlayAll(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	ai := vaudio.InitInfo()
	ai.Mode = vaudio.AUMODE_PLAY
	require.NoError(t, s.SetInfo(&ai))

	_, err := s.Write(pattern(blk+1000, 0))
	require.NoError(t, err)

	// The 600 padded bytes are skipped from the next write to stay in time.
	next := pattern(blk, 9)
	n, err := s.Write(next)
	require.NoError(t, err)
	assert.Equal(t, blk, n)

	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), info.Play.Seek)
	assert.Equal(t, 1, hw.CallCount("TriggerOutput"))
}

func TestMixPause(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	ai := vaudio.InitInfo()
	ai.Play.Pause = 1
	require.NoError(t, s.SetInfo(&ai))

	_, err := s.Write(pattern(2*blk, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, hw.CallCount("TriggerOutput"), "A paused channel does not start")
	assert.NoError(t, s.Drain(), "Draining a paused channel returns at once")

	ai = vaudio.InitInfo()
	ai.Play.Pause = 0
	require.NoError(t, s.SetInfo(&ai))
	assert.Equal(t, 1, hw.CallCount("TriggerOutput"), "Unpausing starts playback")

	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), info.Play.Pause)
	assert.Equal(t, uint8(1), info.Play.Active)
}

func TestMixMmap(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	buf, err := s.Mmap(0)
	require.NoError(t, err)
	require.Len(t, buf, ringSize)
	assert.Equal(t, 1, hw.CallCount("TriggerOutput"), "Mapping starts playback")

	_, err = s.Write([]byte{1, 2})
	assert.ErrorIs(t, err, vaudio.ErrInvalidFormat, "A mapped ring is not written")

	// Blocks 0 and 1 were primed; the mixer reads block 2 next.
	data := pattern(blk, 42)
	copy(buf[2*blk:], data)

	require.True(t, hw.StepOutput())
	waitMixCycles(t, d, 3)
	require.True(t, hw.StepOutput())
	waitMixCycles(t, d, 4)

	o, err := s.Offsets(vaudio.AUMODE_PLAY)
	require.NoError(t, err)
	assert.Equal(t, int64(4*blk), o.Samples)
	assert.Equal(t, 4, o.Deltablks)
	assert.Equal(t, 5*blk, o.Offset, "The next block after the mixer position")

	o, err = s.Offsets(vaudio.AUMODE_PLAY)
	require.NoError(t, err)
	assert.Equal(t, 0, o.Deltablks, "Deltablks counts since the previous query")

	require.True(t, hw.StepOutput())
	played := readPlayed(t, hw, 3*blk)
	assert.Equal(t, data, played[2*blk:])

	t.Run("Unsupported", func(t *testing.T) {
		d, _ := newTestDevice(t, &loopback.Config{Props: vaudio.AUDIO_PROP_PLAYBACK})
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)
		_, err = s.Mmap(0)
		assert.ErrorIs(t, err, vaudio.ErrInvalidFormat)
	})

	t.Run("NeedsConversion", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)
		_, err = s.Mmap(0)
		assert.ErrorIs(t, err, vaudio.ErrInvalidFormat, "The default session format is converted")
	})
}

func TestMixHardwareFailure(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	hw.Fail("TriggerOutput", errBoom)
	_, err := s.Write(pattern(2*blk, 0))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, uint64(1), d.Stats().HardwareErrors)

	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), info.Play.Active, "The direction is halted")

	hw.Fail("TriggerOutput", nil)
	_, err = s.Write(pattern(blk, 0))
	require.NoError(t, err, "The error is reported once")
	assert.Equal(t, 2, hw.CallCount("TriggerOutput"))
	out, _ := hw.Running()
	assert.True(t, out)
}

func TestMixQueuedCompletions(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	step := func(data []byte) {
		t.Helper()
		_, err := s.Write(data)
		require.NoError(t, err)
		cycles := d.Stats().MixCycles
		require.True(t, hw.StepOutput())
		waitMixCycles(t, d, cycles+1)
	}

	// Loud audio until every block of the mix ring has held some.
	_, err := s.Write(pattern(2*blk, 9000))
	require.NoError(t, err)
	for i := 0; i < d.MixBlocks()+4; i++ {
		step(pattern(blk, 9000))
	}
	// Then silence until the loud blocks left the session ring.
	for i := 0; i < 4; i++ {
		step(make([]byte, blk))
	}

	_, err = s.Write(make([]byte, 2*blk))
	require.NoError(t, err)
	cycles := d.Stats().MixCycles

	// Two completions reach the mixer in one wakeup.
	release := d.HoldThreadLock()
	require.True(t, hw.StepOutput())
	require.True(t, hw.StepOutput())
	release()
	waitMixCycles(t, d, cycles+2)

	mixed := d.Mixed()
	require.NotEmpty(t, mixed)
	assert.Equal(t, make([]byte, len(mixed)), mixed, "Silence mixes to silence")
}
