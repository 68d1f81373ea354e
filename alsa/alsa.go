// Package alsa drives a Linux ALSA card as a vaudio.Hardware.
//
// Only direct hardware devices are supported (/dev/snd/pcmC*D*p,
// /dev/snd/controlC*); the ALSA plugin layer is not used. Interleaved
// read/write transfers move the aggregate blocks of a vaudio.Device from
// one goroutine per direction.
package alsa

// PcmFormat defines the sample format for a PCM stream.
// These values correspond to the SNDRV_PCM_FORMAT_* constants in the ALSA kernel headers.
type PcmFormat int32

const (
	SNDRV_PCM_FORMAT_INVALID PcmFormat = -1
	SNDRV_PCM_FORMAT_S8      PcmFormat = 0
	SNDRV_PCM_FORMAT_U8      PcmFormat = 1
	SNDRV_PCM_FORMAT_S16_LE  PcmFormat = 2
	SNDRV_PCM_FORMAT_S16_BE  PcmFormat = 3
	SNDRV_PCM_FORMAT_U16_LE  PcmFormat = 4
	SNDRV_PCM_FORMAT_U16_BE  PcmFormat = 5
	SNDRV_PCM_FORMAT_S24_LE  PcmFormat = 6
	SNDRV_PCM_FORMAT_S24_BE  PcmFormat = 7
	SNDRV_PCM_FORMAT_U24_LE  PcmFormat = 8
	SNDRV_PCM_FORMAT_U24_BE  PcmFormat = 9
	SNDRV_PCM_FORMAT_S32_LE  PcmFormat = 10
	SNDRV_PCM_FORMAT_S32_BE  PcmFormat = 11
	SNDRV_PCM_FORMAT_U32_LE  PcmFormat = 12
	SNDRV_PCM_FORMAT_U32_BE  PcmFormat = 13
	SNDRV_PCM_FORMAT_MU_LAW  PcmFormat = 20
	SNDRV_PCM_FORMAT_A_LAW   PcmFormat = 21
	SNDRV_PCM_FORMAT_S24_3LE PcmFormat = 32
	SNDRV_PCM_FORMAT_S24_3BE PcmFormat = 33
	SNDRV_PCM_FORMAT_U24_3LE PcmFormat = 34
	SNDRV_PCM_FORMAT_U24_3BE PcmFormat = 35
)

// PcmFormatNames provides human-readable names for PCM formats.
var PcmFormatNames = map[PcmFormat]string{
	SNDRV_PCM_FORMAT_S8:      "S8",
	SNDRV_PCM_FORMAT_U8:      "U8",
	SNDRV_PCM_FORMAT_S16_LE:  "S16_LE",
	SNDRV_PCM_FORMAT_S16_BE:  "S16_BE",
	SNDRV_PCM_FORMAT_U16_LE:  "U16_LE",
	SNDRV_PCM_FORMAT_U16_BE:  "U16_BE",
	SNDRV_PCM_FORMAT_S24_LE:  "S24_LE",
	SNDRV_PCM_FORMAT_S24_BE:  "S24_BE",
	SNDRV_PCM_FORMAT_U24_LE:  "U24_LE",
	SNDRV_PCM_FORMAT_U24_BE:  "U24_BE",
	SNDRV_PCM_FORMAT_S32_LE:  "S32_LE",
	SNDRV_PCM_FORMAT_S32_BE:  "S32_BE",
	SNDRV_PCM_FORMAT_U32_LE:  "U32_LE",
	SNDRV_PCM_FORMAT_U32_BE:  "U32_BE",
	SNDRV_PCM_FORMAT_MU_LAW:  "MU_LAW",
	SNDRV_PCM_FORMAT_A_LAW:   "A_LAW",
	SNDRV_PCM_FORMAT_S24_3LE: "S24_3LE",
	SNDRV_PCM_FORMAT_S24_3BE: "S24_3BE",
	SNDRV_PCM_FORMAT_U24_3LE: "U24_3LE",
	SNDRV_PCM_FORMAT_U24_3BE: "U24_3BE",
}

// String returns the ALSA name of the format.
func (f PcmFormat) String() string {
	if name, ok := PcmFormatNames[f]; ok {
		return name
	}

	return "INVALID"
}

// PcmFlag defines flags for opening a PCM stream.
type PcmFlag uint32

const (
	// PCM_OUT specifies a playback stream.
	PCM_OUT PcmFlag = 0
	// PCM_IN specifies a capture stream.
	PCM_IN PcmFlag = 0x10000000
	// PCM_NONBLOCK specifies that I/O operations should not block.
	PCM_NONBLOCK PcmFlag = 0x00000010
)

// PcmParam identifies a hardware parameter for a PCM device.
// These values correspond to the SNDRV_PCM_HW_PARAM_* constants.
type PcmParam int

const (
	SNDRV_PCM_HW_PARAM_ACCESS       PcmParam = 0
	SNDRV_PCM_HW_PARAM_FORMAT       PcmParam = 1
	SNDRV_PCM_HW_PARAM_SUBFORMAT    PcmParam = 2
	SNDRV_PCM_HW_PARAM_SAMPLE_BITS  PcmParam = 8
	SNDRV_PCM_HW_PARAM_FRAME_BITS   PcmParam = 9
	SNDRV_PCM_HW_PARAM_CHANNELS     PcmParam = 10
	SNDRV_PCM_HW_PARAM_RATE         PcmParam = 11
	SNDRV_PCM_HW_PARAM_PERIOD_TIME  PcmParam = 12
	SNDRV_PCM_HW_PARAM_PERIOD_SIZE  PcmParam = 13
	SNDRV_PCM_HW_PARAM_PERIOD_BYTES PcmParam = 14
	SNDRV_PCM_HW_PARAM_PERIODS      PcmParam = 15
	SNDRV_PCM_HW_PARAM_BUFFER_TIME  PcmParam = 16
	SNDRV_PCM_HW_PARAM_BUFFER_SIZE  PcmParam = 17
	SNDRV_PCM_HW_PARAM_BUFFER_BYTES PcmParam = 18
	SNDRV_PCM_HW_PARAM_TICK_TIME    PcmParam = 19
)

const (
	paramFirstMask     = SNDRV_PCM_HW_PARAM_ACCESS
	paramLastMask      = SNDRV_PCM_HW_PARAM_SUBFORMAT
	paramFirstInterval = SNDRV_PCM_HW_PARAM_SAMPLE_BITS
	paramLastInterval  = SNDRV_PCM_HW_PARAM_TICK_TIME
)

// Bitfields of snd_interval.flags.
const (
	SNDRV_PCM_INTERVAL_OPENMIN = 1 << 0
	SNDRV_PCM_INTERVAL_OPENMAX = 1 << 1
	SNDRV_PCM_INTERVAL_INTEGER = 1 << 2
	SNDRV_PCM_INTERVAL_EMPTY   = 1 << 3
)

// Access types of a PCM stream.
const (
	SNDRV_PCM_ACCESS_MMAP_INTERLEAVED = 0
	SNDRV_PCM_ACCESS_RW_INTERLEAVED   = 3
)

// MixerCtlType defines the value type of mixer control.
type MixerCtlType int32

const (
	SNDRV_CTL_ELEM_TYPE_NONE       MixerCtlType = 0
	SNDRV_CTL_ELEM_TYPE_BOOLEAN    MixerCtlType = 1
	SNDRV_CTL_ELEM_TYPE_INTEGER    MixerCtlType = 2
	SNDRV_CTL_ELEM_TYPE_ENUMERATED MixerCtlType = 3
	SNDRV_CTL_ELEM_TYPE_BYTES      MixerCtlType = 4
	SNDRV_CTL_ELEM_TYPE_IEC958     MixerCtlType = 5
	SNDRV_CTL_ELEM_TYPE_INTEGER64  MixerCtlType = 6
	SNDRV_CTL_ELEM_TYPE_UNKNOWN    MixerCtlType = -1
)

var mixerCtlTypeNames = map[MixerCtlType]string{
	SNDRV_CTL_ELEM_TYPE_NONE:       "NONE",
	SNDRV_CTL_ELEM_TYPE_BOOLEAN:    "BOOL",
	SNDRV_CTL_ELEM_TYPE_INTEGER:    "INT",
	SNDRV_CTL_ELEM_TYPE_ENUMERATED: "ENUM",
	SNDRV_CTL_ELEM_TYPE_BYTES:      "BYTE",
	SNDRV_CTL_ELEM_TYPE_IEC958:     "IEC958",
	SNDRV_CTL_ELEM_TYPE_INTEGER64:  "INT64",
}

// String returns a short name of the control type.
func (t MixerCtlType) String() string {
	if name, ok := mixerCtlTypeNames[t]; ok {
		return name
	}

	return "UNKNOWN"
}

// CtlAccessFlag defines the access permissions for a mixer control.
type CtlAccessFlag uint32

const (
	// If set, the control is readable.
	SNDRV_CTL_ELEM_ACCESS_READ CtlAccessFlag = 1 << 0
	// If set, the control is writable.
	SNDRV_CTL_ELEM_ACCESS_WRITE CtlAccessFlag = 1 << 1
)

// PcmParamMask represents a bitmask for a PCM hardware parameter.
// It allows checking which specific capabilities (e.g., formats) are supported.
type PcmParamMask struct {
	bits [8]uint32
}

// Test checks if a specific bit in the mask is set.
func (m *PcmParamMask) Test(bit uint) bool {
	if bit >= 256 {
		return false
	}

	return m.bits[bit>>5]&(1<<(bit&31)) != 0
}

// Set sets a bit in the mask.
func (m *PcmParamMask) Set(bit uint) {
	if bit >= 256 {
		return
	}

	m.bits[bit>>5] |= 1 << (bit & 31)
}
