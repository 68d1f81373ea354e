// Package loopback implements a software vaudio.Hardware.
//
// Blocks are moved either by a clock or by explicit StepOutput and
// StepInput calls. Every played block is kept for inspection and, with
// Config.Loop, fed back into capture. Calls are recorded and any call can
// be made to fail.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
	"golang.org/x/sync/errgroup"

	"github.com/gen2brain/vaudio"
)

// Config encapsulates the behavior of a loopback Device.
type Config struct {
	// Props are the advertised capabilities. Zero means playback, capture,
	// full duplex, independent formats and mmap.
	Props vaudio.Props
	// Accept decides which formats SetParams grants. Nil accepts every format.
	Accept func(f vaudio.Format) bool
	// Encoding, if set, replaces the requested encoding in SetParams.
	Encoding vaudio.Encoding
	// Interval is the clock period. Zero disables the clock; blocks then move
	// only through StepOutput and StepInput.
	Interval time.Duration
	// Loop feeds played blocks back into capture.
	Loop bool
	// BlockAlign rounds block sizes down to a multiple of it, if not zero.
	BlockAlign int
	// Filters, if set, picks the hardware-side stages after SetParams.
	Filters func(mode vaudio.Mode, play, rec vaudio.Format, pfil, rfil *vaudio.FilterList) error
	// TapSize is the capacity of the played-output and capture FIFOs, 1 MiB if zero.
	TapSize int
}

// Call is one recorded Hardware call.
type Call struct {
	Name string
	Mode vaudio.Mode
}

// Device is a software audio device.
type Device struct {
	cfg Config

	mu      sync.Mutex
	open    bool
	playDMA *vaudio.DMA
	recDMA  *vaudio.DMA
	calls   []Call
	fail    map[string]error

	gain    map[vaudio.Mode]uint32
	balance map[vaudio.Mode]uint32
	port    map[vaudio.Mode]uint32

	tap  *ringbuffer.RingBuffer // Played output.
	wire *ringbuffer.RingBuffer // Capture input.

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New returns a loopback device. With a nil config the device is stepped
// manually, has every capability and does not loop.
func New(config *Config) *Device {
	var cfg Config
	if config != nil {
		cfg = *config
	}
	if cfg.Props == 0 {
		cfg.Props = vaudio.AUDIO_PROP_PLAYBACK | vaudio.AUDIO_PROP_CAPTURE |
			vaudio.AUDIO_PROP_FULLDUPLEX | vaudio.AUDIO_PROP_INDEPENDENT | vaudio.AUDIO_PROP_MMAP
	}
	if cfg.TapSize <= 0 {
		cfg.TapSize = 1 << 20
	}

	return &Device{
		cfg:     cfg,
		fail:    make(map[string]error),
		gain:    map[vaudio.Mode]uint32{vaudio.AUMODE_PLAY: vaudio.AUDIO_MAX_VOLUME, vaudio.AUMODE_RECORD: vaudio.AUDIO_MAX_VOLUME},
		balance: map[vaudio.Mode]uint32{vaudio.AUMODE_PLAY: 32, vaudio.AUMODE_RECORD: 32},
		port:    map[vaudio.Mode]uint32{vaudio.AUMODE_PLAY: 1, vaudio.AUMODE_RECORD: 1},
		tap:     ringbuffer.New(cfg.TapSize),
		wire:    ringbuffer.New(cfg.TapSize),
	}
}

// record notes a call and returns its injected failure. Called with mu held.
func (d *Device) record(name string, mode vaudio.Mode) error {
	d.calls = append(d.calls, Call{Name: name, Mode: mode})

	return d.fail[name]
}

// Fail makes every later call of the named method return err. A nil err
// clears the failure.
func (d *Device) Fail(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		delete(d.fail, name)

		return
	}
	d.fail[name] = err
}

// Calls returns the recorded calls in order.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Call(nil), d.calls...)
}

// CallCount returns how often the named method was called.
func (d *Device) CallCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.calls {
		if c.Name == name {
			n++
		}
	}

	return n
}

// Open starts the clock, if configured.
func (d *Device) Open(mode vaudio.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("Open", mode); err != nil {
		return err
	}
	if d.open {
		return fmt.Errorf("loopback already open: %w", vaudio.ErrBusy)
	}
	d.open = true

	if d.cfg.Interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		d.group, ctx = errgroup.WithContext(ctx)
		d.group.Go(func() error {
			return d.clock(ctx, d.StepOutput)
		})
		d.group.Go(func() error {
			return d.clock(ctx, d.StepInput)
		})
	}
	log.Debugf("Opened, mode %#x", uint32(mode))

	return nil
}

func (d *Device) clock(ctx context.Context, step func() bool) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			step()
		}
	}
}

// Close stops the clock and waits for it.
func (d *Device) Close() error {
	d.mu.Lock()
	err := d.record("Close", 0)
	d.open = false
	d.playDMA, d.recDMA = nil, nil
	cancel, group := d.cancel, d.group
	d.cancel, d.group = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		if gerr := group.Wait(); gerr != nil {
			err = errors.Join(err, gerr)
		}
	}

	return err
}

// Props returns the configured capabilities.
func (d *Device) Props() vaudio.Props {
	return d.cfg.Props
}

// SetParams grants the requested formats, rewriting the encoding if configured.
func (d *Device) SetParams(mode vaudio.Mode, play, rec *vaudio.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("SetParams", mode); err != nil {
		return err
	}
	for _, f := range []*vaudio.Format{play, rec} {
		if f == nil {
			continue
		}
		if d.cfg.Accept != nil && !d.cfg.Accept(*f) {
			return fmt.Errorf("format %s: %w", f, vaudio.ErrInvalidFormat)
		}
		if d.cfg.Encoding != 0 {
			f.Encoding = d.cfg.Encoding
		}
	}

	return nil
}

// RequestFilters hands the granted formats to Config.Filters.
func (d *Device) RequestFilters(mode vaudio.Mode, play, rec vaudio.Format, pfil, rfil *vaudio.FilterList) error {
	d.mu.Lock()
	err := d.record("RequestFilters", mode)
	d.mu.Unlock()
	if err != nil || d.cfg.Filters == nil {
		return err
	}

	return d.cfg.Filters(mode, play, rec, pfil, rfil)
}

// TriggerOutput starts moving play blocks.
func (d *Device) TriggerOutput(dma *vaudio.DMA) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("TriggerOutput", vaudio.AUMODE_PLAY); err != nil {
		return err
	}
	d.playDMA = dma
	log.Debugf("Output triggered, %d byte blocks of %s", dma.BlockSize(), dma.Format())

	return nil
}

// TriggerInput starts moving capture blocks.
func (d *Device) TriggerInput(dma *vaudio.DMA) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("TriggerInput", vaudio.AUMODE_RECORD); err != nil {
		return err
	}
	d.recDMA = dma
	log.Debugf("Input triggered, %d byte blocks of %s", dma.BlockSize(), dma.Format())

	return nil
}

// HaltOutput stops moving play blocks.
func (d *Device) HaltOutput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.playDMA = nil

	return d.record("HaltOutput", vaudio.AUMODE_PLAY)
}

// HaltInput stops moving capture blocks.
func (d *Device) HaltInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recDMA = nil

	return d.record("HaltInput", vaudio.AUMODE_RECORD)
}

// RoundBlockSize aligns blk to Config.BlockAlign.
func (d *Device) RoundBlockSize(blk int, _ vaudio.Mode, _ vaudio.Format) int {
	if a := d.cfg.BlockAlign; a > 0 && blk >= a {
		return blk / a * a
	}

	return blk
}

// InitOutput records the play region.
func (d *Device) InitOutput(buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.record("InitOutput", vaudio.AUMODE_PLAY)
}

// InitInput records the capture region.
func (d *Device) InitInput(buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.record("InitInput", vaudio.AUMODE_RECORD)
}

// Drain returns at once: played blocks are already in the tap.
func (d *Device) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.record("Drain", vaudio.AUMODE_PLAY)
}

// CommitSettings records the commit.
func (d *Device) CommitSettings() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.record("CommitSettings", 0)
}

// SetGain stores the gain and balance of a direction.
func (d *Device) SetGain(mode vaudio.Mode, gain, balance uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("SetGain", mode); err != nil {
		return err
	}
	d.gain[mode] = gain
	d.balance[mode] = balance

	return nil
}

// Gain returns the gain and balance of a direction.
func (d *Device) Gain(mode vaudio.Mode) (uint32, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.gain[mode], d.balance[mode], d.fail["Gain"]
}

// SetPort selects the port of a direction. Ports 1 and 2 exist.
func (d *Device) SetPort(mode vaudio.Mode, port uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("SetPort", mode); err != nil {
		return err
	}
	if port&^d.ports() != 0 || port == 0 {
		return fmt.Errorf("port %#x: %w", port, vaudio.ErrInvalidFormat)
	}
	d.port[mode] = port

	return nil
}

// Port returns the port of a direction.
func (d *Device) Port(mode vaudio.Mode) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.port[mode], nil
}

// Ports returns the available port mask.
func (d *Device) Ports(vaudio.Mode) uint32 {
	return d.ports()
}

func (d *Device) ports() uint32 {
	return 0x3
}

// StepOutput plays one block. It returns false when output is not running.
func (d *Device) StepOutput() bool {
	d.mu.Lock()
	dma := d.playDMA
	d.mu.Unlock()
	if dma == nil {
		return false
	}

	buf := make([]byte, dma.BlockSize())
	n := dma.Transfer(buf)
	if n == 0 {
		return false
	}
	d.push(d.tap, buf[:n])
	if d.cfg.Loop {
		d.push(d.wire, buf[:n])
	}
	dma.Complete()

	return true
}

// StepInput captures one block from the capture FIFO, padded with zeros.
// It returns false when input is not running.
func (d *Device) StepInput() bool {
	d.mu.Lock()
	dma := d.recDMA
	d.mu.Unlock()
	if dma == nil {
		return false
	}

	buf := make([]byte, dma.BlockSize())
	_, _ = d.wire.TryRead(buf)
	if dma.Transfer(buf) == 0 {
		return false
	}
	dma.Complete()

	return true
}

// Step moves one block in each running direction.
func (d *Device) Step() {
	d.StepOutput()
	d.StepInput()
}

// push appends p to a FIFO, discarding the oldest bytes when it is full.
func (d *Device) push(rb *ringbuffer.RingBuffer, p []byte) {
	if over := len(p) - rb.Free(); over > 0 {
		discard := make([]byte, over)
		_, _ = rb.TryRead(discard)
	}
	_, _ = rb.Write(p)
}

// InjectInput queues p for capture.
func (d *Device) InjectInput(p []byte) {
	d.push(d.wire, p)
}

// ReadPlayed reads played bytes in order.
func (d *Device) ReadPlayed(p []byte) int {
	n, _ := d.tap.TryRead(p)

	return n
}

// Played returns the number of played bytes not yet read.
func (d *Device) Played() int {
	return d.tap.Length()
}

// Running reports whether output and input are triggered.
func (d *Device) Running() (output, input bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.playDMA != nil, d.recDMA != nil
}
