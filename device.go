package vaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Formats tried when no mix format is configured, in order of preference.
var (
	autoConfigPrecision = []uint32{32, 16, 8}
	autoConfigChannels  = []uint32{2, 1, 4, 6, 8}
	autoConfigRates     = []uint32{48000, 44100, 96000, 192000, 32000, 22050, 16000, 11025, 8000}
)

// Stats are running counters of a Device.
type Stats struct {
	MixCycles        uint64
	UpmixCycles      uint64
	PlayInterrupts   uint64
	RecordInterrupts uint64
	HardwareErrors   uint64
}

// EncodingInfo describes one user encoding accepted by the device.
type EncodingInfo struct {
	Encoding  Encoding
	Precision uint32
	// Emulated is true when a conversion chain is needed to reach the mix format.
	Emulated bool
}

// Device multiplexes one Hardware between up to VAUDIOCHANS-1 sessions.
type Device struct {
	hw    Hardware
	props Props
	cfg   Config

	// mu is the thread lock: channel table, formats, chains and the
	// user-facing cursors. intrMu is the interrupt lock: everything the
	// hardware callbacks touch. mu is always taken first.
	mu     sync.Mutex
	intrMu sync.Mutex
	wchan  *sync.Cond // Writers and drain.
	rchan  *sync.Cond // Readers.
	idle   *sync.Cond // A user copy finished.

	format   Format // Mix format.
	vchan    [VAUDIOCHANS]*channel
	pr       *RingBuffer // Play accumulation ring.
	rr       *RingBuffer // Captured blocks waiting for the unmixer.
	opens    int
	recOpens int
	eof      int64

	triggerStarted bool
	recStarted     bool
	dying          bool
	saturate       bool

	playDMA *DMA
	recDMA  *DMA
	hwErr   error

	mixPending   int
	upmixPending int
	wakeWriters  bool
	wakeReaders  bool

	asyncOwner *Session

	mixWake   chan struct{}
	upmixWake chan struct{}
	cancel    context.CancelFunc
	group     *errgroup.Group

	mixCycles   atomic.Uint64
	upmixCycles atomic.Uint64
	playIntrs   atomic.Uint64
	recIntrs    atomic.Uint64
	hwErrors    atomic.Uint64
}

// NewDevice attaches the core to hw. With a nil config DefaultConfig is used.
// The mix format is negotiated with the hardware and the mixer and unmixer
// tasks are started. Close detaches.
func NewDevice(hw Hardware, config *Config) (*Device, error) {
	if hw == nil {
		return nil, fmt.Errorf("no hardware: %w", ErrNoDevice)
	}

	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Device{
		hw:        hw,
		props:     hw.Props(),
		cfg:       cfg,
		saturate:  cfg.Saturate,
		mixWake:   make(chan struct{}, 1),
		upmixWake: make(chan struct{}, 1),
	}
	d.wchan = sync.NewCond(&d.mu)
	d.rchan = sync.NewCond(&d.mu)
	d.idle = sync.NewCond(&d.mu)

	if !d.props.CanPlay() && !d.props.CanRecord() {
		return nil, fmt.Errorf("hardware has neither playback nor capture: %w", ErrNoDevice)
	}

	if err := d.allocAggregate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if cfg.Format == (Format{}) {
		err = d.autoConfig()
	} else {
		err = d.setFormat(cfg.Format)
	}
	if err == nil {
		d.resetAggregate()
	}
	d.mu.Unlock()
	if err != nil {
		d.freeAggregate()

		return nil, err
	}

	d.startTasks()

	log.Infof("Attached %s hardware, mix format %s, block %d bytes",
		d.props, d.format, d.vchan[0].mpr.BlockSize)

	return d, nil
}

// allocRing allocates a ring for one direction. Aggregate rings come from
// the hardware Allocator when there is one.
func (d *Device) allocRing(mode Mode, size int, aggregate bool) (*RingBuffer, error) {
	if size < AUMINBUF {
		size = AUMINBUF
	}
	size &^= 15
	if br, ok := d.hw.(BufferRounder); ok {
		size = br.RoundBufferSize(mode, size)
	}
	if size <= 0 {
		return nil, fmt.Errorf("ring of %d bytes: %w", size, ErrOutOfMemory)
	}

	if a, ok := d.hw.(Allocator); ok && aggregate {
		buf, err := a.Alloc(mode, size)
		if err != nil {
			return nil, fmt.Errorf("allocate %d bytes: %w", size, errors.Join(ErrOutOfMemory, err))
		}
		if len(buf) < size {
			a.Free(mode, buf)

			return nil, fmt.Errorf("allocator returned %d of %d bytes: %w", len(buf), size, ErrOutOfMemory)
		}
		r := &RingBuffer{}
		r.buf = buf[:size]
		r.end = size

		return r, nil
	}

	return NewRingBuffer(size, Format{}), nil
}

func (d *Device) allocAggregate() error {
	size := int(d.cfg.RingSize)

	mpr, err := d.allocRing(AUMODE_PLAY, size, d.props.CanPlay())
	if err != nil {
		return err
	}
	mrr, err := d.allocRing(AUMODE_RECORD, size, d.props.CanRecord())
	if err != nil {
		d.freeRing(AUMODE_PLAY, mpr, d.props.CanPlay())

		return err
	}

	d.vchan[0] = newChannel(0, mpr, mrr)
	d.vchan[0].fullDuplex = true
	d.vchan[0].volume = d.cfg.PlayVolume
	d.vchan[0].recVolume = d.cfg.RecordVolume
	d.pr = NewRingBuffer(size, Format{})
	d.rr = NewRingBuffer(size, Format{})

	return nil
}

func (d *Device) freeRing(mode Mode, r *RingBuffer, aggregate bool) {
	if a, ok := d.hw.(Allocator); ok && aggregate && r != nil {
		a.Free(mode, r.buf)
	}
}

func (d *Device) freeAggregate() {
	if vc := d.vchan[0]; vc != nil {
		d.freeRing(AUMODE_PLAY, vc.mpr, d.props.CanPlay())
		d.freeRing(AUMODE_RECORD, vc.mrr, d.props.CanRecord())
		vc.pchain.close()
		vc.rchain.close()
	}
	d.vchan[0] = nil
}

// autoConfig searches the hardware for a signed linear mix format it accepts
// without conversion of layout. Called with mu held.
func (d *Device) autoConfig() error {
	for _, precision := range autoConfigPrecision {
		for _, channels := range autoConfigChannels {
			for _, rate := range autoConfigRates {
				f := Format{
					Encoding:   AUDIO_ENCODING_SLINEAR_LE,
					Precision:  precision,
					ValidBits:  precision,
					Channels:   channels,
					SampleRate: rate,
				}
				err := d.setFormat(f)
				if err == nil {
					log.Infof("Mix format configured: %s", f)

					return nil
				}
				log.Tracef("Mix format %s rejected: %v", f, err)
			}
		}
	}

	return fmt.Errorf("no mix format accepted by the hardware: %w", ErrInvalidFormat)
}

// setFormat makes f the mix format and negotiates it on slot 0. The hardware
// may change the encoding but not the frame layout. A failure before the new
// chains are installed keeps the previous format. Called with mu held.
func (d *Device) setFormat(f Format) error {
	f, err := checkMixFormat(f)
	if err != nil {
		return err
	}

	vc := d.vchan[0]
	old, oldP, oldR, oldBlkset := d.format, vc.pparams, vc.rparams, vc.blkset
	d.format = f
	vc.blkset = false

	ai := InitInfo()
	ai.Play.SampleRate, ai.Play.Encoding, ai.Play.Channels, ai.Play.Precision = f.SampleRate, f.Encoding, f.Channels, f.Precision
	ai.Record.SampleRate, ai.Record.Encoding, ai.Record.Channels, ai.Record.Precision = f.SampleRate, f.Encoding, f.Channels, f.Precision
	ai.Play.Pause, ai.Record.Pause = 0, 0
	ai.Mode = AUMODE_PLAY | AUMODE_PLAY_ALL | AUMODE_RECORD

	if err := d.setInfo(vc, &ai, true); err != nil {
		if vc.pparams == oldP && vc.rparams == oldR {
			d.format, vc.blkset = old, oldBlkset
		}

		return err
	}

	return nil
}

// resetAggregate sizes the accumulation rings after the blocks of slot 0.
func (d *Device) resetAggregate() {
	d.pr.Format = d.format
	d.pr.setup(d.vchan[0].mpr.BlockSize)
	d.rr.Format = d.format
	d.rr.setup(d.vchan[0].mrr.BlockSize)
}

// Close detaches the device. Every waiting session is woken and every later
// call returns ErrCancelled.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.dying {
		d.mu.Unlock()

		return ErrCancelled
	}

	var errs []error
	d.intrMu.Lock()
	d.dying = true
	if d.triggerStarted {
		errs = append(errs, d.hw.HaltOutput())
		d.triggerStarted = false
	}
	if d.recStarted {
		errs = append(errs, d.hw.HaltInput())
		d.recStarted = false
	}
	d.intrMu.Unlock()

	d.wchan.Broadcast()
	d.rchan.Broadcast()
	d.idle.Broadcast()
	opens := d.opens
	d.mu.Unlock()

	d.cancel()
	errs = append(errs, d.group.Wait())

	if opens > 0 {
		errs = append(errs, d.hw.Close())
	}

	d.mu.Lock()
	d.freeAggregate()
	d.mu.Unlock()

	log.Infof("Detached")

	return errors.Join(errs...)
}

// Props returns the hardware capabilities.
func (d *Device) Props() Props {
	return d.props
}

// Format returns the mix format.
func (d *Device) Format() Format {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.format
}

// HardwareFormat returns the format of the hardware play ring.
func (d *Device) HardwareFormat() Format {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.vchan[0] == nil {
		return Format{}
	}

	return d.vchan[0].mpr.Format
}

// BlockSize returns the bytes of one mix block.
func (d *Device) BlockSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pr.BlockSize
}

// Opens returns the number of open sessions.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.opens
}

// SetSaturate enables or disables the gain recovery pass.
func (d *Device) SetSaturate(on bool) {
	d.mu.Lock()
	d.intrMu.Lock()
	d.saturate = on
	d.intrMu.Unlock()
	d.mu.Unlock()
}

// Saturate reports whether the gain recovery pass is enabled.
func (d *Device) Saturate() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.saturate
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	return Stats{
		MixCycles:        d.mixCycles.Load(),
		UpmixCycles:      d.upmixCycles.Load(),
		PlayInterrupts:   d.playIntrs.Load(),
		RecordInterrupts: d.recIntrs.Load(),
		HardwareErrors:   d.hwErrors.Load(),
	}
}

// Reconfigure changes the mix format. It fails with ErrBusy while sessions are open.
func (d *Device) Reconfigure(f Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dying {
		return ErrCancelled
	}
	if d.opens > 0 {
		return fmt.Errorf("reconfigure with %d sessions open: %w", d.opens, ErrBusy)
	}

	old := d.format
	if err := d.setFormat(f); err != nil {
		// Unless the new chains went in, only the hardware moved on.
		restore := d.regrant
		if d.format != old {
			restore = func() error { return d.setFormat(old) }
		}
		if rerr := restore(); rerr != nil {
			log.Errorf("Restoring mix format %s failed: %v", old, rerr)
		}

		return err
	}
	d.resetAggregate()
	log.Infof("Mix format reconfigured: %s", d.format)

	return nil
}

// Encodings lists the user encodings sessions may select.
func (d *Device) Encodings() []EncodingInfo {
	d.mu.Lock()
	mix := d.format
	d.mu.Unlock()

	var list []EncodingInfo
	add := func(e Encoding, precision uint32) {
		list = append(list, EncodingInfo{
			Encoding:  e,
			Precision: precision,
			Emulated:  e != mix.Encoding || precision != mix.Precision,
		})
	}

	add(AUDIO_ENCODING_ULAW, 8)
	add(AUDIO_ENCODING_ALAW, 8)
	add(AUDIO_ENCODING_SLINEAR_LE, 8)
	add(AUDIO_ENCODING_ULINEAR_LE, 8)
	for _, precision := range []uint32{16, 24, 32} {
		add(AUDIO_ENCODING_SLINEAR_LE, precision)
		add(AUDIO_ENCODING_SLINEAR_BE, precision)
		add(AUDIO_ENCODING_ULINEAR_LE, precision)
		add(AUDIO_ENCODING_ULINEAR_BE, precision)
	}

	return list
}

// HardwareGain returns the hardware port gain and balance of a direction.
func (d *Device) HardwareGain(mode Mode) (gain, balance uint32, err error) {
	g, ok := d.hw.(Gainer)
	if !ok {
		return 0, 0, fmt.Errorf("hardware has no gain control: %w", ErrInvalidFormat)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dying {
		return 0, 0, ErrCancelled
	}

	return g.Gain(mode)
}

// SetHardwareGain sets the hardware port gain of a direction through Gainer.
func (d *Device) SetHardwareGain(mode Mode, gain uint32) error {
	g, ok := d.hw.(Gainer)
	if !ok {
		return fmt.Errorf("hardware has no gain control: %w", ErrInvalidFormat)
	}
	if gain > AUDIO_MAX_VOLUME {
		return fmt.Errorf("gain %d: %w", gain, ErrInvalidFormat)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dying {
		return ErrCancelled
	}
	_, balance, err := g.Gain(mode)
	if err != nil {
		return fmt.Errorf("get gain failed: %w", err)
	}
	if err := g.SetGain(mode, gain, balance); err != nil {
		return fmt.Errorf("set gain failed: %w", err)
	}

	return nil
}
