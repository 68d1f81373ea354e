//go:build linux && (386 || arm)

package alsa

// SndPcmUframesT is an unsigned long in the ALSA headers.
type SndPcmUframesT = uint32

// clong is the C long.
type clong = int32

// sndPcmHwParams contains hardware parameters for a PCM device.
type sndPcmHwParams struct {
	Flags     uint32
	Masks     [3]sndMask
	Mres      [5]sndMask
	Intervals [12]sndInterval
	Ires      [9]sndInterval
	Rmask     uint32
	Cmask     uint32
	Info      uint32
	Msbits    uint32
	RateNum   uint32
	RateDen   uint32
	FifoSize  SndPcmUframesT
	Reserved  [64]byte
}

// sndPcmSwParams contains software parameters for a PCM device.
type sndPcmSwParams struct {
	TstampMode       uint32
	PeriodStep       uint32
	SleepMin         uint32
	AvailMin         SndPcmUframesT
	XferAlign        SndPcmUframesT
	StartThreshold   SndPcmUframesT
	StopThreshold    SndPcmUframesT
	SilenceThreshold SndPcmUframesT
	SilenceSize      SndPcmUframesT
	Boundary         SndPcmUframesT
	Reserved         [64]byte
}

// sndCtlElemValue holds the value of a control element.
type sndCtlElemValue struct {
	Id sndCtlElemId
	// unsigned int indirect:1
	_ [4]byte
	// long value[128]
	Value    [512]byte
	Reserved [128]byte
}
