package vaudio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/loopback"
)

// startCapture starts recording on s with a non-blocking read and waits for
// the leading silent block to reach the sessions.
func startCapture(t *testing.T, d *vaudio.Device, s *vaudio.Session) {
	t.Helper()

	_, err := s.Read(make([]byte, blk))
	require.ErrorIs(t, err, vaudio.ErrWouldBlock)
	waitUpmixCycles(t, d, 1)
}

func TestRecordRoundTrip(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)
	startCapture(t, d, s)
	assert.Equal(t, 1, hw.CallCount("TriggerInput"))

	buf := make([]byte, blk)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, blk, n)
	assert.Equal(t, make([]byte, blk), buf, "Capture starts with a silent block")

	for i := 1; i <= 3; i++ {
		data := pattern(blk, int16(i*100))
		hw.InjectInput(data)
		require.True(t, hw.StepInput())
		waitUpmixCycles(t, d, uint64(1+i))

		n, err := s.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, blk, n)
		assert.Equal(t, data, buf, "Block %d", i)
	}

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, vaudio.ErrWouldBlock)
	assert.Equal(t, 1, hw.CallCount("TriggerInput"))

	o, err := s.Offsets(vaudio.AUMODE_RECORD)
	require.NoError(t, err)
	assert.Equal(t, int64(4*blk), o.Samples)
	assert.Equal(t, 4, o.Deltablks)
}

func TestRecordVolume(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)

	ai := vaudio.InitInfo()
	ai.Record.Gain = 127
	require.NoError(t, s.SetInfo(&ai))

	startCapture(t, d, s)
	buf := make([]byte, blk)
	_, err := s.Read(buf)
	require.NoError(t, err)

	data := pattern(blk, -4000)
	hw.InjectInput(data)
	require.True(t, hw.StepInput())
	waitUpmixCycles(t, d, 2)

	_, err = s.Read(buf)
	require.NoError(t, err)
	got := samples(buf)
	for i, v := range samples(data) {
		require.Equal(t, v/2, got[i], "Sample %d should be halved", i)
	}
}

func TestRecordOverrun(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	full := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)
	reader := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)

	// The first session gets the silent block and is never read again.
	startCapture(t, d, full)
	_, err := reader.Read(make([]byte, blk))
	require.ErrorIs(t, err, vaudio.ErrWouldBlock)

	const steps = 50
	buf := make([]byte, blk)
	var prev int64
	started := 0
	for i := 1; i <= steps; i++ {
		data := pattern(blk, int16(i))
		hw.InjectInput(data)
		require.True(t, hw.StepInput(), "The callback never waits for a session")
		waitUpmixCycles(t, d, uint64(1+i))

		n, err := reader.Read(buf)
		require.NoError(t, err)
		require.Equal(t, blk, n)
		require.Equal(t, data, buf, "The reading session is unaffected, block %d", i)

		drops, err := full.Drops(vaudio.AUMODE_RECORD)
		require.NoError(t, err)
		if started == 0 && drops > 0 {
			started = i
		}
		if started > 0 {
			require.Equal(t, prev+blk, drops, "One block per cycle is dropped, block %d", i)
		}
		prev = drops
	}

	assert.Positive(t, started, "The full session must overrun")
	assert.Equal(t, int64(steps-started+1)*blk, prev)

	drops, err := reader.Drops(vaudio.AUMODE_RECORD)
	require.NoError(t, err)
	assert.Zero(t, drops)
	assert.Equal(t, uint64(steps), d.Stats().RecordInterrupts)

	info, err := full.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), info.Record.Error)
	assert.LessOrEqual(t, info.Record.Seek, uint32(ringSize))
}

func TestRecordPause(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)
	startCapture(t, d, s)
	_, err := s.Read(make([]byte, blk))
	require.NoError(t, err)

	ai := vaudio.InitInfo()
	ai.Record.Pause = 1
	require.NoError(t, s.SetInfo(&ai))

	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), info.Record.Pause)

	hw.InjectInput(pattern(blk, 1))
	require.True(t, hw.StepInput())
	waitUpmixCycles(t, d, 2)

	_, err = s.Read(make([]byte, blk))
	assert.ErrorIs(t, err, vaudio.ErrWouldBlock, "A paused session does not receive blocks")
}

func TestRecordHalfDuplex(t *testing.T) {
	props := vaudio.AUDIO_PROP_PLAYBACK | vaudio.AUDIO_PROP_CAPTURE | vaudio.AUDIO_PROP_INDEPENDENT
	d, hw := newTestDevice(t, &loopback.Config{Props: props})
	s := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_WRITE|vaudio.AUOPEN_NONBLOCK)
	assert.False(t, s.FullDuplex())
	assert.ErrorIs(t, s.SetFullDuplex(true), vaudio.ErrInvalidFormat)

	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, vaudio.AUMODE_PLAY|vaudio.AUMODE_PLAY_ALL, info.Mode, "Playing wins in half duplex")

	assert.Zero(t, s.Poll(vaudio.PollIn))
	_, err = s.Write(pattern(2*blk, 3))
	require.NoError(t, err)
	assert.Equal(t, vaudio.PollIn, s.Poll(vaudio.PollIn))

	// Reads return silence paced by the played blocks.
	buf := make([]byte, 4*blk)
	for i := range buf {
		buf[i] = 0xaa
	}
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2*blk, n)
	assert.Equal(t, make([]byte, 2*blk), buf[:n])
	assert.Equal(t, 0, hw.CallCount("TriggerInput"))

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, vaudio.ErrWouldBlock)

	t.Run("RecordMode", func(t *testing.T) {
		d, hw := newTestDevice(t, &loopback.Config{Props: props})
		s := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_WRITE|vaudio.AUOPEN_NONBLOCK)

		ai := vaudio.InitInfo()
		ai.Mode = vaudio.AUMODE_RECORD
		require.NoError(t, s.SetInfo(&ai))

		n, err := s.Write(pattern(2*blk, 3))
		require.NoError(t, err)
		assert.Equal(t, 2*blk, n, "Writes are discarded while recording")
		assert.Equal(t, 0, hw.CallCount("TriggerOutput"))
		assert.Equal(t, vaudio.PollOut, s.Poll(vaudio.PollOut))
	})
}

func TestRecordHardwareFailure(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)

	hw.Fail("TriggerInput", errBoom)
	_, err := s.Read(make([]byte, blk))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, uint64(1), d.Stats().HardwareErrors)

	hw.Fail("TriggerInput", nil)
	startCapture(t, d, s)
	_, in := hw.Running()
	assert.True(t, in)
}

func TestRecordLoop(t *testing.T) {
	d, hw := newTestDevice(t, &loopback.Config{Loop: true})
	s := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_WRITE|vaudio.AUOPEN_NONBLOCK)
	require.True(t, s.FullDuplex())

	startCapture(t, d, s)
	_, err := s.Read(make([]byte, blk))
	require.NoError(t, err)

	data := pattern(2*blk, 11)
	_, err = s.Write(data)
	require.NoError(t, err)
	require.True(t, hw.StepOutput())
	require.True(t, hw.StepOutput())

	require.True(t, hw.StepInput())
	require.True(t, hw.StepInput())
	waitUpmixCycles(t, d, 3)

	buf := make([]byte, 2*blk)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2*blk, n)
	assert.Equal(t, data, buf, "Played blocks come back through capture")
}
