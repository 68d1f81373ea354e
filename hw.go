package vaudio

import (
	"sync/atomic"
)

// Hardware is the physical device driven by a Device.
//
// The core calls these methods with its locks held, except Open and Close.
// TriggerOutput and TriggerInput must not block: the hardware keeps the
// DMA handle, calls Transfer for every block it moves and Complete after it.
type Hardware interface {
	// Open prepares the hardware for the given directions.
	Open(mode Mode) error
	// Close releases the hardware after the last session is gone.
	Close() error
	// Props returns the capabilities of the hardware.
	Props() Props
	// SetParams negotiates formats. The hardware may rewrite play and rec to what
	// it actually uses; the core then converts. A nil format is not requested.
	SetParams(mode Mode, play, rec *Format) error
	// TriggerOutput starts cyclic playback of the blocks behind dma.
	TriggerOutput(dma *DMA) error
	// TriggerInput starts cyclic capture into the blocks behind dma.
	TriggerInput(dma *DMA) error
	// HaltOutput stops playback. It must not call back into the DMA handle.
	HaltOutput() error
	// HaltInput stops capture. It must not call back into the DMA handle.
	HaltInput() error
}

// BlockRounder adjusts a block size to what the hardware can transfer.
type BlockRounder interface {
	RoundBlockSize(blk int, mode Mode, f Format) int
}

// BufferRounder adjusts the size of the aggregate rings.
type BufferRounder interface {
	RoundBufferSize(mode Mode, size int) int
}

// Allocator provides the memory of the aggregate rings, for example a mapped DMA area.
type Allocator interface {
	Alloc(mode Mode, size int) ([]byte, error)
	Free(mode Mode, buf []byte)
}

// OutputInitializer is told the play region before the first trigger.
type OutputInitializer interface {
	InitOutput(buf []byte) error
}

// InputInitializer is told the record region before the first trigger.
type InputInitializer interface {
	InitInput(buf []byte) error
}

// Drainer waits until the hardware played what it was given.
type Drainer interface {
	Drain() error
}

// SettingsCommitter applies settings collected by SetParams and port calls in one step.
type SettingsCommitter interface {
	CommitSettings() error
}

// FilterRequester converts on the hardware side of the mix rings. Stages
// requested for a direction replace the core conversion of that direction;
// the first entry of each list must carry the granted format. Called after
// SetParams with the granted formats.
type FilterRequester interface {
	RequestFilters(mode Mode, play, rec Format, pfil, rfil *FilterList) error
}

// Gainer controls the hardware ports of the device.
type Gainer interface {
	// SetGain sets the gain of a direction, 0..AUDIO_MAX_VOLUME, and a balance 0..64.
	SetGain(mode Mode, gain, balance uint32) error
	Gain(mode Mode) (gain, balance uint32, err error)
	SetPort(mode Mode, port uint32) error
	Port(mode Mode) (uint32, error)
	// Ports returns the available port mask of a direction.
	Ports(mode Mode) uint32
}

// DMA is the handle through which the hardware moves blocks of the aggregate
// play or record ring. It is safe to call from any goroutine.
type DMA struct {
	d    *Device
	mode Mode
	// pos is the hardware position inside the ring, guarded by the interrupt lock.
	pos int
	blk int
	fmt Format

	transfers atomic.Int64
}

// Mode returns AUMODE_PLAY or AUMODE_RECORD.
func (dma *DMA) Mode() Mode {
	return dma.mode
}

// BlockSize returns the bytes of one transfer.
func (dma *DMA) BlockSize() int {
	return dma.blk
}

// Format returns the hardware format of the ring.
func (dma *DMA) Format() Format {
	return dma.fmt
}

// Transfers returns the number of completed blocks.
func (dma *DMA) Transfers() int64 {
	return dma.transfers.Load()
}

// Transfer moves one block between p and the ring at the hardware position and
// advances that position. For play it copies out of the ring, for record into
// it. It returns the bytes moved, zero once the device is detached.
func (dma *DMA) Transfer(p []byte) int {
	d := dma.d
	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	if d.dying {
		return 0
	}

	var r *RingBuffer
	if dma.mode == AUMODE_PLAY {
		r = d.vchan[0].mpr
	} else {
		r = d.vchan[0].mrr
	}
	if r.Size() == 0 {
		return 0
	}

	n := min(len(p), dma.blk)
	a, b := r.span(dma.pos, n)
	if dma.mode == AUMODE_PLAY {
		copy(p, a)
		copy(p[len(a):], b)
	} else {
		copy(a, p)
		copy(b, p[len(a):n])
	}
	dma.pos = (dma.pos + n) % r.Size()

	return n
}

// Complete reports that the hardware finished a block. It never blocks on
// the thread lock and never waits for a session.
func (dma *DMA) Complete() {
	dma.transfers.Add(1)
	if dma.mode == AUMODE_PLAY {
		dma.d.playIntr()
	} else {
		dma.d.recordIntr()
	}
}
