package alsa

// sndMask is a bitmask for hardware parameters.
type sndMask struct {
	Bits [8]uint32
}

// sndInterval represents a range of values for a hardware parameter.
type sndInterval struct {
	MinVal uint32
	MaxVal uint32
	Flags  uint32
}

// sndPcmInfo contains general information about a PCM device.
type sndPcmInfo struct {
	Device          uint32
	Subdevice       uint32
	Stream          int32
	Card            int32
	Id              [64]byte
	Name            [80]byte
	Subname         [32]byte
	DevClass        int32
	DevSubclass     int32
	SubdevicesCount uint32
	SubdevicesAvail uint32
	Sync            [16]byte
	Reserved        [64]byte
}

// sndXferi is for interleaved read/write operations.
type sndXferi struct {
	Result int // ssize_t
	Buf    uintptr
	Frames SndPcmUframesT
}

// sndCtlCardInfo contains general information about a sound card.
type sndCtlCardInfo struct {
	Card       int32
	Pad        int32
	Id         [16]byte
	Driver     [16]byte
	Name       [32]byte
	Longname   [80]byte
	Reserved_  [16]byte
	Mixername  [80]byte
	Components [128]byte
}

// sndCtlElemId identifies a single control element.
type sndCtlElemId struct {
	Numid     uint32
	Iface     int32
	Device    uint32
	Subdevice uint32
	Name      [44]byte
	Index     uint32
}

// sndCtlElemInfo contains metadata about a control element.
type sndCtlElemInfo struct {
	Id     sndCtlElemId
	Typ    int32
	Access uint32
	Count  uint32
	Owner  int32
	// The value union, sized to its largest member.
	Value    [128]byte
	Reserved [64]byte
}

// sndCtlInteger is the integer member of the sndCtlElemInfo value union.
type sndCtlInteger struct {
	Min  clong
	Max  clong
	Step clong
}

// sndCtlElemList is used to enumerate control elements.
type sndCtlElemList struct {
	Offset   uint32
	Space    uint32
	Used     uint32
	Count    uint32
	Pids     uintptr // *sndCtlElemId
	Reserved [50]byte
}
