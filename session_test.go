package vaudio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/loopback"
)

func TestSessionDefaults(t *testing.T) {
	d, _ := newTestDevice(t, nil)
	s, err := d.Open(vaudio.AUOPEN_WRITE)
	require.NoError(t, err)

	info, err := s.GetInfo()
	require.NoError(t, err)

	assert.Equal(t, vaudio.DefaultSessionFormat.Encoding, info.Play.Encoding)
	assert.Equal(t, vaudio.DefaultSessionFormat.Precision, info.Play.Precision)
	assert.Equal(t, vaudio.DefaultSessionFormat.Channels, info.Play.Channels)
	assert.Equal(t, vaudio.DefaultSessionFormat.SampleRate, info.Play.SampleRate)
	assert.Equal(t, uint32(vaudio.AUDIO_MAX_VOLUME), info.Play.Gain)
	assert.Equal(t, uint32(blk), info.BlockSize)
	assert.Equal(t, vaudio.AUMODE_PLAY|vaudio.AUMODE_PLAY_ALL, info.Mode)
	assert.Equal(t, uint8(1), info.Play.Open)
	assert.Equal(t, uint8(0), info.Record.Open)
	assert.Equal(t, uint8(0), info.Play.Active)
	assert.Greater(t, info.HiWat, info.LoWat)
	assert.Equal(t, uint32(0x3), info.Play.AvailPorts)
	assert.Equal(t, uint8(32), info.Play.Balance)
}

func TestSessionSetInfo(t *testing.T) {
	t.Run("InvalidPrecision", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE | vaudio.AUOPEN_READ)
		require.NoError(t, err)

		ai := vaudio.InitInfo()
		ai.HiWat, ai.LoWat = 10, 4
		ai.Play.Gain = 200
		require.NoError(t, s.SetInfo(&ai))
		before, err := s.GetInfo()
		require.NoError(t, err)

		ai = vaudio.InitInfo()
		ai.Play.Encoding = vaudio.AUDIO_ENCODING_SLINEAR_LE
		ai.Play.Precision = 12
		ai.Play.Gain = 10
		assert.ErrorIs(t, s.SetInfo(&ai), vaudio.ErrInvalidFormat)

		after, err := s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, before, after, "A rejected format changes nothing")
		assert.Equal(t, uint32(10), after.HiWat)
		assert.Equal(t, uint32(4), after.LoWat)
	})

	t.Run("InvalidRecordKeepsPlay", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE | vaudio.AUOPEN_READ)
		require.NoError(t, err)
		before, err := s.GetInfo()
		require.NoError(t, err)

		ai := vaudio.InitInfo()
		ai.Play.SetFormat(mixFormat)
		ai.Record.SetFormat(mixFormat)
		ai.Record.Channels = vaudio.AUDIO_MAX_CHANNELS + 1
		assert.ErrorIs(t, s.SetInfo(&ai), vaudio.ErrInvalidFormat)

		after, err := s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, before, after, "The valid play half is not applied either")
	})

	t.Run("InvalidFields", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)

		for name, mutate := range map[string]func(ai *vaudio.Info){
			"Gain":     func(ai *vaudio.Info) { ai.Play.Gain = vaudio.AUDIO_MAX_VOLUME + 1 },
			"Balance":  func(ai *vaudio.Info) { ai.Play.Balance = 65 },
			"Pause":    func(ai *vaudio.Info) { ai.Record.Pause = 2 },
			"Mode":     func(ai *vaudio.Info) { ai.Mode = 0x80 },
			"Encoding": func(ai *vaudio.Info) { ai.Play.Encoding = 99 },
			"Rate":     func(ai *vaudio.Info) { ai.Play.SampleRate = 0 },
		} {
			t.Run(name, func(t *testing.T) {
				ai := vaudio.InitInfo()
				mutate(&ai)
				assert.ErrorIs(t, s.SetInfo(&ai), vaudio.ErrInvalidFormat)
			})
		}
	})

	t.Run("BlockSize", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)

		ai := vaudio.InitInfo()
		ai.BlockSize = blk + 400
		require.NoError(t, s.SetInfo(&ai))
		info, err := s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, uint32(2*blk), info.BlockSize, "Rounded up to whole device blocks")

		ai.BlockSize = 1
		require.NoError(t, s.SetInfo(&ai))
		info, err = s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, uint32(blk), info.BlockSize, "Never below the device block")

		ai.BlockSize = 0
		require.NoError(t, s.SetInfo(&ai))
		info, err = s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, uint32(blk), info.BlockSize)
	})

	t.Run("PortAndBalance", func(t *testing.T) {
		d, hw := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)

		ai := vaudio.InitInfo()
		ai.Play.Port = 2
		ai.Play.Balance = 10
		require.NoError(t, s.SetInfo(&ai))

		port, err := hw.Port(vaudio.AUMODE_PLAY)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), port)
		_, balance, err := hw.Gain(vaudio.AUMODE_PLAY)
		require.NoError(t, err)
		assert.Equal(t, uint32(10), balance)

		info, err := s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, uint32(2), info.Play.Port)
		assert.Equal(t, uint8(10), info.Play.Balance)

		ai = vaudio.InitInfo()
		ai.Play.Port = 4
		assert.ErrorIs(t, s.SetInfo(&ai), vaudio.ErrInvalidFormat)
	})

	t.Run("PortFailureKeepsFormat", func(t *testing.T) {
		d, hw := newTestDevice(t, nil)
		s := openNative(t, d, vaudio.AUOPEN_WRITE)

		hw.Fail("SetGain", errBoom)
		ai := vaudio.InitInfo()
		ai.Play.Encoding = vaudio.AUDIO_ENCODING_SLINEAR_BE
		ai.Play.Port = 2
		ai.Record.Balance = 10
		assert.ErrorIs(t, s.SetInfo(&ai), errBoom)

		port, err := hw.Port(vaudio.AUMODE_PLAY)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), port, "The play port is put back")
		assert.Equal(t, 2, hw.CallCount("SetPort"))

		info, err := s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, mixFormat.Encoding, info.Play.Encoding, "The play format is kept")
		assert.Equal(t, uint32(1), info.Play.Port)

		// The old chain still carries audio unchanged.
		data := pattern(2*blk, 321)
		_, err = s.Write(data)
		require.NoError(t, err)
		require.True(t, hw.StepOutput())
		require.True(t, hw.StepOutput())
		assert.Equal(t, data, readPlayed(t, hw, 2*blk))
	})

	t.Run("FormatChange", func(t *testing.T) {
		d, hw := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)

		ai := vaudio.InitInfo()
		ai.Play.Encoding = vaudio.AUDIO_ENCODING_SLINEAR_BE
		ai.Play.Precision = 24
		ai.Play.Channels = 6
		ai.Play.SampleRate = 22050
		require.NoError(t, s.SetInfo(&ai))

		info, err := s.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, vaudio.AUDIO_ENCODING_SLINEAR_BE, info.Play.Encoding)
		assert.Equal(t, uint32(24), info.Play.Precision)
		assert.Equal(t, uint32(6), info.Play.Channels)
		assert.Equal(t, uint32(22050), info.Play.SampleRate)
		assert.Equal(t, 0, hw.CallCount("TriggerOutput"))
	})

	t.Run("Compressed", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)

		ai := vaudio.InitInfo()
		ai.Play.Encoding = vaudio.AUDIO_ENCODING_AC3
		assert.ErrorIs(t, s.SetInfo(&ai), vaudio.ErrInvalidFormat, "No converter for a bitstream")
	})
}

func TestSessionConversion(t *testing.T) {
	t.Run("MonoToStereo", func(t *testing.T) {
		d, hw := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)

		mono := mixFormat
		mono.Channels = 1
		ai := vaudio.InitInfo()
		ai.Play.SetFormat(mono)
		require.NoError(t, s.SetInfo(&ai))

		data := pattern(blk, 300)
		n, err := s.Write(data)
		require.NoError(t, err)
		assert.Equal(t, blk, n)

		require.True(t, hw.StepOutput())
		require.True(t, hw.StepOutput())
		played := samples(readPlayed(t, hw, 2*blk))
		for i, v := range samples(data) {
			require.Equal(t, v, played[2*i], "Left %d", i)
			require.Equal(t, v, played[2*i+1], "Right %d", i)
		}
	})

	t.Run("Ulaw", func(t *testing.T) {
		d, hw := newTestDevice(t, nil)
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		require.NoError(t, err)

		// 0xff is mu-law zero, 0x80 is its largest positive value.
		data := make([]byte, blk)
		for i := range data {
			data[i] = 0xff
			if i%2 == 1 {
				data[i] = 0x80
			}
		}
		_, err = s.Write(data)
		require.NoError(t, err)

		require.True(t, hw.StepOutput())
		require.True(t, hw.StepOutput())
		played := samples(readPlayed(t, hw, 2*blk))
		for i := 0; i < len(played); i += 2 {
			want := int16(0)
			if (i/2)%2 == 1 {
				want = 32124
			}
			require.Equal(t, want, played[i], "Frame %d", i/2)
			require.Equal(t, played[i], played[i+1])
		}
	})
}

func TestSessionDrain(t *testing.T) {
	t.Run("Clocked", func(t *testing.T) {
		d, hw := newTestDevice(t, &loopback.Config{Interval: time.Millisecond, TapSize: 16 << 20})
		s := openNative(t, d, vaudio.AUOPEN_WRITE)

		data := pattern(3*blk+500, 1)
		_, err := s.Write(data)
		require.NoError(t, err)
		require.NoError(t, s.Drain())

		assert.Positive(t, hw.CallCount("Drain"), "The hardware is drained by the only session")
		require.Eventually(t, func() bool { return hw.Played() >= len(data) }, 2*time.Second, time.Millisecond)
		assert.Equal(t, data, readPlayed(t, hw, len(data)))
	})

	t.Run("Partial", func(t *testing.T) {
		d, hw := newTestDevice(t, &loopback.Config{Interval: time.Millisecond, TapSize: 16 << 20})
		s := openNative(t, d, vaudio.AUOPEN_WRITE)

		data := pattern(700, 1)
		_, err := s.Write(data)
		require.NoError(t, err)
		assert.Equal(t, 0, hw.CallCount("TriggerOutput"), "Less than a block does not start")

		require.NoError(t, s.Drain())
		assert.Equal(t, 1, hw.CallCount("TriggerOutput"), "Drain pads and starts")
		require.Eventually(t, func() bool { return hw.Played() >= len(data) }, 2*time.Second, time.Millisecond)
		assert.Equal(t, data, readPlayed(t, hw, len(data)))
	})

	t.Run("NonBlocking", func(t *testing.T) {
		d, _ := newTestDevice(t, nil)
		s := openNative(t, d, vaudio.AUOPEN_WRITE|vaudio.AUOPEN_NONBLOCK)

		assert.NoError(t, s.Drain(), "Nothing to drain")
		_, err := s.Write(pattern(3*blk, 1))
		require.NoError(t, err)
		assert.ErrorIs(t, s.Drain(), vaudio.ErrWouldBlock)
	})

	t.Run("Close", func(t *testing.T) {
		d, hw := newTestDevice(t, &loopback.Config{Interval: time.Millisecond, TapSize: 16 << 20})
		s := openNative(t, d, vaudio.AUOPEN_WRITE)

		_, err := s.Write(pattern(4*blk, 1))
		require.NoError(t, err)
		require.NoError(t, s.Close())

		assert.Equal(t, 1, hw.CallCount("HaltOutput"))
		assert.Equal(t, 1, hw.CallCount("Close"))
		out, _ := hw.Running()
		assert.False(t, out)
	})
}

func TestSessionFlush(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE)

	_, err := s.Write(pattern(6*blk, 1))
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	info, err := s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), info.Play.Seek)
	assert.Equal(t, uint8(0), info.Play.Active, "Nothing is left to play")

	_, err = s.Write(pattern(2*blk, 1))
	require.NoError(t, err)
	info, err = s.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), info.Play.Active)
	assert.Equal(t, 1, hw.CallCount("TriggerOutput"), "The hardware kept running")
}

func TestSessionPoll(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	w := openNative(t, d, vaudio.AUOPEN_WRITE|vaudio.AUOPEN_NONBLOCK)
	r := openNative(t, d, vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)

	assert.Equal(t, vaudio.PollOut, w.Poll(vaudio.PollIn|vaudio.PollOut))
	assert.Zero(t, r.Poll(vaudio.PollIn))

	// A full ring is not writable.
	n, err := w.Write(make([]byte, 2*ringSize))
	require.NoError(t, err, "A non-blocking write returns what fits")
	assert.Equal(t, ringSize+2*blk, n)
	assert.Zero(t, w.Poll(vaudio.PollOut))
	_, err = w.Write(make([]byte, blk))
	assert.ErrorIs(t, err, vaudio.ErrWouldBlock)

	startCapture(t, d, r)
	assert.Equal(t, vaudio.PollIn, r.Poll(vaudio.PollIn))

	// One mixed block makes room for one block, still above the low water mark.
	require.True(t, hw.StepOutput())
	waitMixCycles(t, d, 3)
	assert.Zero(t, w.Poll(vaudio.PollOut))
	n, err = w.Write(make([]byte, 2*blk))
	require.NoError(t, err)
	assert.Equal(t, blk, n)
}

func TestSessionAsync(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	a := openNative(t, d, vaudio.AUOPEN_WRITE)
	b := openNative(t, d, vaudio.AUOPEN_WRITE)

	require.NoError(t, a.SetAsync(true))
	require.NoError(t, a.SetAsync(true), "Registering twice is harmless")
	assert.ErrorIs(t, b.SetAsync(true), vaudio.ErrBusy)

	_, err := a.Write(pattern(2*blk, 1))
	require.NoError(t, err)
	select {
	case <-a.Notify():
	case <-time.After(2 * time.Second):
		t.Fatal("No notification after starting playback")
	}

	require.True(t, hw.StepOutput())
	select {
	case <-a.Notify():
	case <-time.After(2 * time.Second):
		t.Fatal("No notification after a mix cycle")
	}

	require.NoError(t, a.SetAsync(false))
	require.NoError(t, b.SetAsync(true))
}

func TestSessionSamples(t *testing.T) {
	d, hw := newTestDevice(t, nil)
	s := openNative(t, d, vaudio.AUOPEN_WRITE|vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)

	_, err := s.WriteSamples(nil)
	assert.Error(t, err)
	_, err = s.WriteSamples([]int64{1, 2})
	assert.Error(t, err, "Unsupported element type")
	_, err = s.WriteSamples([]int16{1, 2, 3})
	assert.Error(t, err, "Not a whole number of frames")

	src := make([]int16, blk) // Two blocks of stereo frames.
	for i := range src {
		src[i] = int16(i * 13)
	}
	frames, err := s.WriteSamples(src)
	require.NoError(t, err)
	assert.Equal(t, blk/2, frames)

	require.True(t, hw.StepOutput())
	require.True(t, hw.StepOutput())
	played := readPlayed(t, hw, 2*blk)
	for i, v := range src {
		require.Equal(t, v, int16(binary.LittleEndian.Uint16(played[2*i:])), "Sample %d", i)
	}

	startCapture(t, d, s)
	dst := make([]int16, blk/2+1)
	frames, err = s.ReadSamples(dst)
	require.NoError(t, err)
	assert.Equal(t, blk/4, frames, "One silent block of stereo frames")
}

func TestSessionBuffer(t *testing.T) {
	d, hw := newTestDevice(t, &loopback.Config{Loop: true})
	s := openNative(t, d, vaudio.AUOPEN_WRITE|vaudio.AUOPEN_READ|vaudio.AUOPEN_NONBLOCK)

	startCapture(t, d, s)
	_, err := s.Read(make([]byte, blk))
	require.NoError(t, err)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 8000},
		SourceBitDepth: 16,
		Data:           make([]int, blk),
	}
	for i := range buf.Data {
		buf.Data[i] = i*11 - 5000
	}
	n, err := s.WriteBuffer(buf)
	require.NoError(t, err)
	assert.Equal(t, blk, n)

	require.True(t, hw.StepOutput())
	require.True(t, hw.StepOutput())
	require.True(t, hw.StepInput())
	require.True(t, hw.StepInput())
	waitUpmixCycles(t, d, 3)

	in := &audio.IntBuffer{Data: make([]int, blk)}
	n, err = s.ReadBuffer(in)
	require.NoError(t, err)
	assert.Equal(t, blk, n)
	assert.Equal(t, 2, in.Format.NumChannels)
	assert.Equal(t, 8000, in.Format.SampleRate)
	assert.Equal(t, 16, in.SourceBitDepth)
	assert.Equal(t, buf.Data, in.Data)

	_, err = s.WriteBuffer(&audio.IntBuffer{Format: &audio.Format{NumChannels: 1}})
	assert.ErrorIs(t, err, vaudio.ErrInvalidFormat, "Channel count must match")
}
