// Package vaudio multiplexes one audio device between many sessions.
//
// Every session owns a virtual channel with a private play and record ring, a
// format conversion chain and a software volume. A mixer task sums all playing
// channels into the hardware play ring, and an unmixer task fans every captured
// block out to all recording channels. The physical device is reached through
// the Hardware interface; see the alsa and loopback packages.
package vaudio

import (
	"strings"
)

const (
	// VAUDIOCHANS is the size of the channel table. Slot 0 is the hardware aggregate.
	VAUDIOCHANS = 32
	// AUDIO_MAX_FILTERS is the longest conversion chain a channel can hold.
	AUDIO_MAX_FILTERS = 8
	// AUDIO_MAX_CHANNELS is the highest channel count of a format.
	AUDIO_MAX_CHANNELS = 12
	// AU_RING_SIZE is the capacity of a channel ring and of every filter stream.
	AU_RING_SIZE = 65536
	// AUMINBUF is the smallest ring buffer.
	AUMINBUF = 512
	// AUMINBLK is the smallest block.
	AUMINBLK = 32
	// AUMINNOBLK is the minimum number of blocks in a ring.
	AUMINNOBLK = 3
	// AUDIO_BLK_MS is the default block duration in milliseconds.
	AUDIO_BLK_MS = 50
	// AUDIO_MAX_VOLUME is the highest software volume.
	AUDIO_MAX_VOLUME = 255
)

// mixUnity is the divisor unit of the mix kernels: a lone channel at
// AUDIO_MAX_VOLUME is mixed at unity gain.
const mixUnity = (AUDIO_MAX_VOLUME + 1) * 16

// Encoding defines the sample encoding of a stream.
// The values follow the AUDIO_ENCODING_* constants of the NetBSD audio interface.
type Encoding uint32

const (
	AUDIO_ENCODING_NONE            Encoding = 0
	AUDIO_ENCODING_ULAW            Encoding = 1
	AUDIO_ENCODING_ALAW            Encoding = 2
	AUDIO_ENCODING_PCM16           Encoding = 3 // Alias, normalized by Check.
	AUDIO_ENCODING_PCM8            Encoding = 4 // Alias, normalized by Check.
	AUDIO_ENCODING_ADPCM           Encoding = 5
	AUDIO_ENCODING_SLINEAR_LE      Encoding = 6
	AUDIO_ENCODING_SLINEAR_BE      Encoding = 7
	AUDIO_ENCODING_ULINEAR_LE      Encoding = 8
	AUDIO_ENCODING_ULINEAR_BE      Encoding = 9
	AUDIO_ENCODING_SLINEAR         Encoding = 10 // Alias, normalized by Check.
	AUDIO_ENCODING_ULINEAR         Encoding = 11 // Alias, normalized by Check.
	AUDIO_ENCODING_MPEG_L1_STREAM  Encoding = 12
	AUDIO_ENCODING_MPEG_L1_PACKETS Encoding = 13
	AUDIO_ENCODING_MPEG_L1_SYSTEM  Encoding = 14
	AUDIO_ENCODING_MPEG_L2_STREAM  Encoding = 15
	AUDIO_ENCODING_MPEG_L2_PACKETS Encoding = 16
	AUDIO_ENCODING_MPEG_L2_SYSTEM  Encoding = 17
	AUDIO_ENCODING_AC3             Encoding = 18
)

// EncodingNames provides human-readable names for encodings.
var EncodingNames = map[Encoding]string{
	AUDIO_ENCODING_NONE:            "none",
	AUDIO_ENCODING_ULAW:            "mulaw",
	AUDIO_ENCODING_ALAW:            "alaw",
	AUDIO_ENCODING_PCM16:           "pcm16",
	AUDIO_ENCODING_PCM8:            "pcm8",
	AUDIO_ENCODING_ADPCM:           "adpcm",
	AUDIO_ENCODING_SLINEAR_LE:      "slinear_le",
	AUDIO_ENCODING_SLINEAR_BE:      "slinear_be",
	AUDIO_ENCODING_ULINEAR_LE:      "ulinear_le",
	AUDIO_ENCODING_ULINEAR_BE:      "ulinear_be",
	AUDIO_ENCODING_SLINEAR:         "slinear",
	AUDIO_ENCODING_ULINEAR:         "ulinear",
	AUDIO_ENCODING_MPEG_L1_STREAM:  "mpeg_l1_stream",
	AUDIO_ENCODING_MPEG_L1_PACKETS: "mpeg_l1_packets",
	AUDIO_ENCODING_MPEG_L1_SYSTEM:  "mpeg_l1_system",
	AUDIO_ENCODING_MPEG_L2_STREAM:  "mpeg_l2_stream",
	AUDIO_ENCODING_MPEG_L2_PACKETS: "mpeg_l2_packets",
	AUDIO_ENCODING_MPEG_L2_SYSTEM:  "mpeg_l2_system",
	AUDIO_ENCODING_AC3:             "ac3",
}

// String returns the name of the encoding.
func (e Encoding) String() string {
	if name, ok := EncodingNames[e]; ok {
		return name
	}

	return "unknown"
}

// IsLinear reports whether samples are plain signed or unsigned integers.
func (e Encoding) IsLinear() bool {
	switch e {
	case AUDIO_ENCODING_SLINEAR_LE, AUDIO_ENCODING_SLINEAR_BE,
		AUDIO_ENCODING_ULINEAR_LE, AUDIO_ENCODING_ULINEAR_BE:
		return true
	default:
		return false
	}
}

// IsCompressed reports whether the encoding is a pass-through bitstream.
func (e Encoding) IsCompressed() bool {
	return e >= AUDIO_ENCODING_MPEG_L1_STREAM && e <= AUDIO_ENCODING_AC3
}

// Mode is the set of directions a channel is running in.
type Mode uint32

const (
	// AUMODE_PLAY enables playback.
	AUMODE_PLAY Mode = 0x01
	// AUMODE_RECORD enables recording.
	AUMODE_RECORD Mode = 0x02
	// AUMODE_PLAY_ALL plays every written byte even after an underrun. Without it,
	// bytes padded with silence are skipped from later writes to stay in time.
	AUMODE_PLAY_ALL Mode = 0x04
)

// OpenFlag defines flags for opening a session.
type OpenFlag uint32

const (
	// AUOPEN_READ opens the record direction.
	AUOPEN_READ OpenFlag = 0x01
	// AUOPEN_WRITE opens the play direction.
	AUOPEN_WRITE OpenFlag = 0x02
	// AUOPEN_NONBLOCK makes Read, Write and Drain return ErrWouldBlock instead of waiting.
	AUOPEN_NONBLOCK OpenFlag = 0x10
)

// Props describes the capabilities of the hardware.
type Props uint32

const (
	AUDIO_PROP_FULLDUPLEX  Props = 0x01
	AUDIO_PROP_MMAP        Props = 0x02
	AUDIO_PROP_INDEPENDENT Props = 0x04
	AUDIO_PROP_PLAYBACK    Props = 0x10
	AUDIO_PROP_CAPTURE     Props = 0x20
)

// CanPlay reports whether the hardware has a playback direction.
func (p Props) CanPlay() bool {
	return p&AUDIO_PROP_PLAYBACK != 0
}

// CanRecord reports whether the hardware has a capture direction.
func (p Props) CanRecord() bool {
	return p&AUDIO_PROP_CAPTURE != 0
}

// String lists the set capabilities, e.g. "playback|capture|fullduplex".
func (p Props) String() string {
	var names []string
	for _, prop := range []struct {
		p    Props
		name string
	}{
		{AUDIO_PROP_PLAYBACK, "playback"},
		{AUDIO_PROP_CAPTURE, "capture"},
		{AUDIO_PROP_FULLDUPLEX, "fullduplex"},
		{AUDIO_PROP_INDEPENDENT, "independent"},
		{AUDIO_PROP_MMAP, "mmap"},
	} {
		if p&prop.p != 0 {
			names = append(names, prop.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}

	return strings.Join(names, "|")
}
