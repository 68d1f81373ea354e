package alsa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gen2brain/vaudio"
)

// HardwareConfig selects the card and device driven by a Hardware.
type HardwareConfig struct {
	Card   uint
	Device uint
	// Periods is the number of blocks in the ALSA buffer, 4 if zero.
	Periods uint32
	// PlayControls and RecordControls name the mixer controls used for the
	// gain, tried in order.
	PlayControls   []string
	RecordControls []string
}

var (
	defaultPlayControls   = []string{"Master Playback Volume", "PCM Playback Volume", "Speaker Playback Volume"}
	defaultRecordControls = []string{"Capture Volume", "Mic Capture Volume"}
)

var (
	_ vaudio.Hardware     = (*Hardware)(nil)
	_ vaudio.Gainer       = (*Hardware)(nil)
	_ vaudio.Drainer      = (*Hardware)(nil)
	_ vaudio.BlockRounder = (*Hardware)(nil)
)

// Hardware drives one PCM device of a card.
type Hardware struct {
	cfg   HardwareConfig
	props vaudio.Props

	mu    sync.Mutex
	play  *stream
	rec   *stream
	mixer *Mixer

	cancel context.CancelFunc
	group  *errgroup.Group
}

// stream is one direction of the device.
type stream struct {
	mode  vaudio.Mode
	flags PcmFlag
	ctls  []string

	// ioMu serializes configuration with transfers.
	ioMu sync.Mutex
	pcm  *PCM

	mu      sync.Mutex
	dma     *vaudio.DMA
	granted PcmFormat
	minPer  uint32 // Period size bounds in frames.
	maxPer  uint32
	gain    uint32
	balance uint32
	gainSet bool

	kick chan struct{}
}

// NewHardware looks up the card and device in /proc/asound and returns a
// Hardware with the directions the device has.
func NewHardware(config *HardwareConfig) (*Hardware, error) {
	var cfg HardwareConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Periods == 0 {
		cfg.Periods = 4
	}
	if cfg.PlayControls == nil {
		cfg.PlayControls = defaultPlayControls
	}
	if cfg.RecordControls == nil {
		cfg.RecordControls = defaultRecordControls
	}

	cards, err := EnumerateCards()
	if err != nil {
		return nil, err
	}
	var dev SoundCardDevice
	found := false
	for _, c := range cards {
		if c.ID == int(cfg.Card) {
			dev, found = c.Device(int(cfg.Device))
		}
	}
	if !found {
		return nil, fmt.Errorf("no PCM device hw:%d,%d: %w", cfg.Card, cfg.Device, vaudio.ErrNoDevice)
	}

	return newHardware(cfg, dev.Playback, dev.Capture), nil
}

func newHardware(cfg HardwareConfig, playback, capture bool) *Hardware {
	h := &Hardware{cfg: cfg}
	if playback {
		h.props |= vaudio.AUDIO_PROP_PLAYBACK
		h.play = newStream(vaudio.AUMODE_PLAY, PCM_OUT, cfg.PlayControls)
	}
	if capture {
		h.props |= vaudio.AUDIO_PROP_CAPTURE
		h.rec = newStream(vaudio.AUMODE_RECORD, PCM_IN, cfg.RecordControls)
	}
	if playback && capture {
		h.props |= vaudio.AUDIO_PROP_FULLDUPLEX | vaudio.AUDIO_PROP_INDEPENDENT
	}

	return h
}

func newStream(mode vaudio.Mode, flags PcmFlag, ctls []string) *stream {
	return &stream{
		mode:    mode,
		flags:   flags,
		ctls:    ctls,
		granted: SNDRV_PCM_FORMAT_INVALID,
		gain:    vaudio.AUDIO_MAX_VOLUME,
		balance: 32,
		kick:    make(chan struct{}, 1),
	}
}

// Name returns the device name in the "hw:C,D" form.
func (h *Hardware) Name() string {
	return fmt.Sprintf("hw:%d,%d", h.cfg.Card, h.cfg.Device)
}

func (h *Hardware) streams() []*stream {
	var out []*stream
	for _, s := range []*stream{h.play, h.rec} {
		if s != nil {
			out = append(out, s)
		}
	}

	return out
}

func (h *Hardware) stream(mode vaudio.Mode) (*stream, error) {
	s := h.rec
	if mode&vaudio.AUMODE_PLAY != 0 {
		s = h.play
	}
	if s == nil {
		return nil, fmt.Errorf("%s has no such direction: %w", h.Name(), vaudio.ErrInvalidFormat)
	}

	return s, nil
}

// Props returns the directions of the device.
func (h *Hardware) Props() vaudio.Props {
	return h.props
}

// Open opens every direction of the device and starts its transfer goroutines.
func (h *Hardware) Open(mode vaudio.Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.group != nil {
		return fmt.Errorf("%s already open: %w", h.Name(), vaudio.ErrBusy)
	}

	for _, s := range h.streams() {
		pcm, err := PcmOpen(h.cfg.Card, h.cfg.Device, s.flags, nil)
		if err != nil {
			h.closeStreams()

			return err
		}
		s.ioMu.Lock()
		s.pcm = pcm
		s.ioMu.Unlock()
	}

	m, err := MixerOpen(h.cfg.Card)
	if err != nil {
		log.Warnf("No mixer for %s, gain is not applied: %v", h.Name(), err)
	} else {
		h.mixer = m
		for _, s := range h.streams() {
			if s.gainSet {
				if err := h.applyGain(s); err != nil {
					log.Warnf("Restoring gain failed: %v", err)
				}
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.group, ctx = errgroup.WithContext(ctx)
	for _, s := range h.streams() {
		s := s
		h.group.Go(func() error {
			return s.run(ctx)
		})
	}
	log.Debugf("Opened %s, mode %#x", h.Name(), uint32(mode))

	return nil
}

func (h *Hardware) closeStreams() {
	for _, s := range h.streams() {
		s.ioMu.Lock()
		if s.pcm != nil {
			_ = s.pcm.Close()
			s.pcm = nil
		}
		s.ioMu.Unlock()
	}
}

// Close stops the transfer goroutines and closes the device.
func (h *Hardware) Close() error {
	h.mu.Lock()
	cancel, group := h.cancel, h.group
	h.cancel, h.group = nil, nil
	h.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		for _, s := range h.streams() {
			s.detach()
			// Unblocks a pending transfer.
			if s.pcm != nil {
				errs = append(errs, s.pcm.Stop())
			}
		}
		errs = append(errs, group.Wait())
	}

	h.mu.Lock()
	h.closeStreams()
	errs = append(errs, h.mixer.Close())
	h.mixer = nil
	h.mu.Unlock()
	log.Debugf("Closed %s", h.Name())

	return errors.Join(errs...)
}

// refine narrows req to what the device of s supports.
func (h *Hardware) refine(s *stream, req *PcmParams) (*PcmParams, error) {
	if s.pcm != nil {
		return s.pcm.Refine(req)
	}

	return PcmParamsGetRefined(h.cfg.Card, h.cfg.Device, s.flags, req)
}

// SetParams grants the requested layout with the first sample format the
// device supports at the same precision. The encoding of play and rec is
// rewritten to the granted one.
func (h *Hardware) SetParams(mode vaudio.Mode, play, rec *vaudio.Format) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, req := range []struct {
		mode vaudio.Mode
		f    *vaudio.Format
	}{{vaudio.AUMODE_PLAY, play}, {vaudio.AUMODE_RECORD, rec}} {
		if req.f == nil || mode&req.mode == 0 {
			continue
		}
		s, err := h.stream(req.mode)
		if err != nil {
			return err
		}
		if err := h.setParams(s, req.f); err != nil {
			return err
		}
	}

	return nil
}

func (h *Hardware) setParams(s *stream, f *vaudio.Format) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	layout := NewPcmParams()
	layout.SetInt(SNDRV_PCM_HW_PARAM_CHANNELS, f.Channels)
	layout.SetInt(SNDRV_PCM_HW_PARAM_RATE, f.SampleRate)
	space, err := h.refine(s, layout)
	if err != nil {
		return fmt.Errorf("%s rejects %d channels at %d Hz: %w", h.Name(), f.Channels, f.SampleRate,
			errors.Join(vaudio.ErrInvalidFormat, err))
	}

	for _, pf := range candidates(*f) {
		if !space.FormatIsSupported(pf) {
			continue
		}
		granted, err := FormatOf(pf, f.Channels, f.SampleRate)
		if err != nil {
			continue
		}

		layout.SetFormat(pf)
		periods, err := h.refine(s, layout)
		if err != nil {
			continue
		}
		lo, _ := periods.RangeMin(SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
		hi, _ := periods.RangeMax(SNDRV_PCM_HW_PARAM_PERIOD_SIZE)

		s.mu.Lock()
		s.granted, s.minPer, s.maxPer = pf, lo, hi
		s.mu.Unlock()
		*f = granted
		log.Debugf("%s %s granted %s, periods %d..%d frames", h.Name(), dirName(s.mode), pf, lo, hi)

		return nil
	}

	return fmt.Errorf("%s supports no format for %s: %w", h.Name(), f, vaudio.ErrInvalidFormat)
}

// Granted returns the sample format SetParams chose for a direction.
func (h *Hardware) Granted(mode vaudio.Mode) PcmFormat {
	s, err := h.stream(mode)
	if err != nil {
		return SNDRV_PCM_FORMAT_INVALID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.granted
}

func dirName(mode vaudio.Mode) string {
	if mode&vaudio.AUMODE_PLAY != 0 {
		return "playback"
	}

	return "capture"
}

// RoundBlockSize rounds blk to whole frames within the period sizes of the device.
func (h *Hardware) RoundBlockSize(blk int, mode vaudio.Mode, f vaudio.Format) int {
	s, err := h.stream(mode)
	if err != nil {
		return blk
	}
	s.mu.Lock()
	lo, hi := s.minPer, s.maxPer
	s.mu.Unlock()

	return roundPeriod(blk, f.FrameSize(), lo, hi)
}

func roundPeriod(blk, frameSize int, lo, hi uint32) int {
	if frameSize <= 0 {
		return blk
	}

	frames := blk / frameSize
	if hi > 0 && uint64(frames) > uint64(hi) {
		frames = int(hi)
	}
	if uint64(frames) < uint64(lo) {
		frames = int(lo)
	}

	return max(frames, 1) * frameSize
}

// TriggerOutput configures playback for the blocks of dma and starts moving them.
func (h *Hardware) TriggerOutput(dma *vaudio.DMA) error {
	return h.trigger(h.play, dma)
}

// TriggerInput configures capture for the blocks of dma and starts moving them.
func (h *Hardware) TriggerInput(dma *vaudio.DMA) error {
	return h.trigger(h.rec, dma)
}

func (h *Hardware) trigger(s *stream, dma *vaudio.DMA) error {
	if s == nil {
		return fmt.Errorf("%s has no such direction: %w", h.Name(), vaudio.ErrInvalidFormat)
	}

	if err := s.configure(dma, h.cfg.Periods); err != nil {
		return err
	}

	s.mu.Lock()
	s.dma = dma
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
	log.Debugf("%s %s triggered, %d byte blocks of %s", h.Name(), dirName(s.mode), dma.BlockSize(), dma.Format())

	return nil
}

// HaltOutput stops playback. Queued frames are dropped.
func (h *Hardware) HaltOutput() error {
	return h.halt(h.play)
}

// HaltInput stops capture.
func (h *Hardware) HaltInput() error {
	return h.halt(h.rec)
}

func (h *Hardware) halt(s *stream) error {
	if s == nil {
		return nil
	}
	s.detach()

	return s.stop()
}

// Drain waits until the device played its buffer.
func (h *Hardware) Drain() error {
	s := h.play
	if s == nil {
		return nil
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.pcm == nil || !s.pcm.configured {
		return nil
	}

	return s.pcm.Drain()
}

func (s *stream) current() *vaudio.DMA {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dma
}

func (s *stream) detach() {
	s.mu.Lock()
	s.dma = nil
	s.mu.Unlock()
}

func (s *stream) stop() error {
	if s.pcm == nil {
		return nil
	}
	if n := s.pcm.Xruns(); n > 0 {
		log.Debugf("%s stopped, %d xruns so far", dirName(s.mode), n)
	}

	return s.pcm.Stop()
}

// configure sets the PCM up for blocks of dma, one period per block.
func (s *stream) configure(dma *vaudio.DMA, periods uint32) error {
	f := dma.Format()
	pf, err := PcmFormatOf(f)
	if err != nil {
		return err
	}
	fs := f.FrameSize()
	if fs == 0 || dma.BlockSize()%fs != 0 {
		return fmt.Errorf("block of %d bytes is not whole frames of %s: %w", dma.BlockSize(), f, vaudio.ErrInvalidFormat)
	}

	cfg := Config{
		Channels:    f.Channels,
		Rate:        f.SampleRate,
		PeriodSize:  uint32(dma.BlockSize() / fs),
		PeriodCount: periods,
		Format:      pf,
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.pcm == nil {
		return fmt.Errorf("device is not open: %w", vaudio.ErrNoDevice)
	}
	cur := s.pcm.Config()
	if s.pcm.configured && cur.Channels == cfg.Channels && cur.Rate == cfg.Rate &&
		cur.PeriodSize == cfg.PeriodSize && cur.PeriodCount == cfg.PeriodCount && cur.Format == cfg.Format {
		_ = s.pcm.Stop()

		return s.pcm.Prepare()
	}
	if err := s.pcm.SetConfig(&cfg); err != nil {
		return err
	}
	log.Debugf("%s subdevice %d: buffer %d frames, period %v", dirName(s.mode), s.pcm.Subdevice(),
		s.pcm.BufferSize(), s.pcm.PeriodTime())
	// Blocks are written whole, so a differing period only changes wakeups.
	if got := s.pcm.Config().PeriodSize; got != cfg.PeriodSize {
		log.Debugf("%s periods are %d frames, blocks %d", dirName(s.mode), got, cfg.PeriodSize)
	}

	return nil
}

// xfer moves p through the PCM, preparing the stream again once if it was
// stopped by a drain.
func (s *stream) xfer(dma *vaudio.DMA, p []byte) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.pcm == nil {
		return fmt.Errorf("device is closed")
	}

	io := s.pcm.Read
	if s.mode == vaudio.AUMODE_PLAY {
		io = s.pcm.Write
	}

	_, err := io(p)
	if errors.Is(err, syscall.EBADFD) && s.current() == dma {
		if perr := s.pcm.Prepare(); perr != nil {
			return perr
		}
		_, err = io(p)
	}

	return err
}

// run moves the blocks of the triggered DMA handle until ctx is done.
func (s *stream) run(ctx context.Context) error {
	var buf []byte
	for {
		dma := s.current()
		if dma == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.kick:
			}

			continue
		}
		if len(buf) != dma.BlockSize() {
			buf = make([]byte, dma.BlockSize())
		}

		var err error
		if s.mode == vaudio.AUMODE_PLAY {
			if dma.Transfer(buf) == 0 {
				s.detachIf(dma)

				continue
			}
			err = s.xfer(dma, buf)
		} else {
			err = s.xfer(dma, buf)
			if err == nil && dma.Transfer(buf) == 0 {
				s.detachIf(dma)

				continue
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.current() != dma {
				continue
			}
			log.Warnf("%s transfer failed: %v", dirName(s.mode), err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(blockTime(dma)):
			}

			continue
		}
		dma.Complete()
	}
}

func (s *stream) detachIf(dma *vaudio.DMA) {
	s.mu.Lock()
	if s.dma == dma {
		s.dma = nil
	}
	s.mu.Unlock()
}

func blockTime(dma *vaudio.DMA) time.Duration {
	f := dma.Format()
	bps := f.FrameSize() * int(f.SampleRate)
	if bps == 0 {
		return 10 * time.Millisecond
	}

	return time.Duration(dma.BlockSize()) * time.Second / time.Duration(bps)
}
