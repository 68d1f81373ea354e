package vaudio

import (
	"errors"
	"fmt"
)

// Events is a set of readiness conditions for Poll.
type Events uint32

const (
	// PollIn is set when Read would not block.
	PollIn Events = 0x01
	// PollOut is set when Write would not block.
	PollOut Events = 0x04
)

// Offsets reports the progress of one direction, like AUDIO_GETOOFFS and AUDIO_GETIOFFS.
type Offsets struct {
	// Samples is the number of bytes moved through the user stream.
	Samples int64
	// Deltablks is the number of blocks since the previous query.
	Deltablks int
	// Offset is the position in the user stream of the next transfer.
	Offset int
}

// Session is one open of a Device. Its methods are safe for concurrent use.
type Session struct {
	d      *Device
	ch     *channel
	flags  OpenFlag
	closed bool
	notify chan struct{}
}

// Open opens a session with the given flags. It starts in the session default
// format, DefaultSessionFormat, in both directions.
func (d *Device) Open(flags OpenFlag) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dying {
		return nil, ErrCancelled
	}
	if flags&(AUOPEN_READ|AUOPEN_WRITE) == 0 {
		return nil, fmt.Errorf("open with neither read nor write: %w", ErrInvalidFormat)
	}
	if flags&AUOPEN_READ != 0 && !d.props.CanRecord() {
		return nil, fmt.Errorf("hardware cannot record: %w", ErrNoDevice)
	}
	if flags&AUOPEN_WRITE != 0 && !d.props.CanPlay() {
		return nil, fmt.Errorf("hardware cannot play: %w", ErrNoDevice)
	}

	n := 1
	for ; n < VAUDIOCHANS; n++ {
		if d.vchan[n] == nil {
			break
		}
	}
	if n == VAUDIOCHANS {
		return nil, fmt.Errorf("all %d channels in use: %w", VAUDIOCHANS-1, ErrBusy)
	}

	size := int(d.cfg.RingSize)
	mpr, err := d.allocRing(AUMODE_PLAY, size, false)
	if err != nil {
		return nil, err
	}
	mrr, err := d.allocRing(AUMODE_RECORD, size, false)
	if err != nil {
		return nil, err
	}
	ch := newChannel(n, mpr, mrr)
	ch.volume = d.cfg.PlayVolume
	ch.recVolume = d.cfg.RecordVolume

	var mode Mode
	if flags&AUOPEN_READ != 0 {
		ch.open |= AUOPEN_READ
		mode |= AUMODE_RECORD
	}
	if flags&AUOPEN_WRITE != 0 {
		ch.open |= AUOPEN_WRITE
		mode |= AUMODE_PLAY | AUMODE_PLAY_ALL
	}

	first := d.opens == 0
	if first {
		if err := d.hw.Open(mode); err != nil {
			return nil, fmt.Errorf("hardware open failed: %w", err)
		}
		d.intrMu.Lock()
		d.resetAggregate()
		err = d.initBufs(d.vchan[0])
		d.eof = 0
		d.hwErr = nil
		d.wakeWriters, d.wakeReaders = false, false
		d.intrMu.Unlock()
		if err != nil {
			_ = d.hw.Close()

			return nil, err
		}
	}

	ch.fullDuplex = flags&(AUOPEN_READ|AUOPEN_WRITE) == AUOPEN_READ|AUOPEN_WRITE &&
		d.props&AUDIO_PROP_FULLDUPLEX != 0

	ai := InitInfo()
	ai.Play.SetFormat(DefaultSessionFormat)
	ai.Record.SetFormat(DefaultSessionFormat)
	ai.Play.Pause, ai.Record.Pause = 0, 0
	ai.Mode = mode
	if err := d.setInfo(ch, &ai, true); err != nil {
		ch.pchain.close()
		ch.rchain.close()
		if first {
			_ = d.hw.Close()
		}

		return nil, err
	}
	ch.calcWater()

	d.intrMu.Lock()
	d.vchan[n] = ch
	if flags&AUOPEN_READ != 0 {
		d.recOpens++
	}
	d.opens++
	d.intrMu.Unlock()

	log.Debugf("Channel %d opened, flags %#x, %d open", n, uint32(flags), d.opens)

	return &Session{d: d, ch: ch, flags: flags, notify: make(chan struct{}, 1)}, nil
}

// check fails when the session or the device is gone or the session lacks a
// direction in need. Called with the thread lock held.
func (s *Session) check(need OpenFlag) error {
	if s.d.dying {
		return ErrCancelled
	}
	if s.closed {
		return ErrNoDevice
	}
	if need != 0 && s.ch.open&need == 0 {
		return fmt.Errorf("session not open for %#x: %w", uint32(need), ErrInvalidFormat)
	}

	return nil
}

func (s *Session) nonblock() bool {
	return s.flags&AUOPEN_NONBLOCK != 0
}

// pendingErr returns a hardware error once.
func (s *Session) pendingErr() error {
	d := s.d
	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	return d.takeHwErr()
}

// Slot returns the channel table slot of the session.
func (s *Session) Slot() int {
	return s.ch.slot
}

// Close drains pending playback and releases the channel. The last close
// stops the hardware.
func (s *Session) Close() error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return err
	}
	ch := s.ch
	if err := d.waitIdle(ch); err != nil {
		return err
	}

	var errs []error
	d.intrMu.Lock()
	if d.recOpens == 1 && ch.open&AUOPEN_READ != 0 && ch.rbus {
		errs = append(errs, d.hw.HaltInput())
		ch.rbus = false
		d.recStarted = false
	}
	ch.mpr.UsedLow = ch.mpr.BlockSize
	d.intrMu.Unlock()

	if ch.open&AUOPEN_WRITE != 0 && ch.pbus {
		if !ch.mpr.Pause {
			if err := d.drain(ch, false); err != nil {
				return err
			}
		}
		ch.pbus = false
	}

	last := d.opens == 1
	if last {
		d.intrMu.Lock()
		d.silenceTail()
		d.intrMu.Unlock()
		if dr, ok := d.hw.(Drainer); ok {
			errs = append(errs, dr.Drain())
		}
		d.intrMu.Lock()
		errs = append(errs, d.hw.HaltOutput())
		d.triggerStarted = false
		d.intrMu.Unlock()
	}

	d.intrMu.Lock()
	if ch.open&AUOPEN_READ != 0 && d.recOpens == 1 {
		d.recStarted = false
	}
	d.vchan[ch.slot] = nil
	if ch.open&AUOPEN_READ != 0 {
		d.recOpens--
	}
	d.opens--
	d.intrMu.Unlock()

	if last {
		errs = append(errs, d.hw.Close())
		d.asyncOwner = nil
	}
	if d.asyncOwner == s {
		d.asyncOwner = nil
	}

	ch.pchain.close()
	ch.rchain.close()
	ch.open, ch.mode, ch.fullDuplex = 0, 0, false
	s.closed = true
	log.Debugf("Channel %d closed, %d open", ch.slot, d.opens)

	return errors.Join(errs...)
}

// silenceTail hands the remaining mixed blocks to the hardware and fills the
// rest of the hardware ring with silence. Called with the interrupt lock held.
func (d *Device) silenceTail() {
	vc := d.vchan[0]
	if !d.triggerStarted || d.playDMA == nil {
		return
	}
	for d.pr.Used() >= d.pr.BlockSize && vc.pustream.Space() >= d.pr.BlockSize {
		d.mixWrite()
	}

	r := vc.mpr
	n := (d.playDMA.pos - r.In() + r.Size()) % r.Size()
	if n == 0 {
		n = r.Size()
	}
	r.fillSilence(r.In(), n)
}

// Write plays p. It blocks while the play buffer is above its high water
// mark. A zero-length write records an EOF mark.
func (s *Session) Write(p []byte) (int, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(AUOPEN_WRITE); err != nil {
		return 0, err
	}
	if err := s.pendingErr(); err != nil {
		return 0, err
	}
	ch := s.ch
	r := ch.mpr
	if r.Mmapped {
		return 0, fmt.Errorf("play ring is mapped: %w", ErrInvalidFormat)
	}

	if len(p) == 0 {
		d.eof++

		return 0, nil
	}

	// Half-duplex recording throws play data away.
	if !ch.fullDuplex && ch.mode&AUMODE_RECORD != 0 {
		return len(p), nil
	}

	skipped := 0
	if ch.mode&AUMODE_PLAY_ALL == 0 && ch.playDrop > 0 {
		skipped = min(ch.playDrop, len(p))
		ch.playDrop -= skipped
		p = p[skipped:]
		if len(p) == 0 {
			return skipped, nil
		}
	}

	uf := &userFetcher{d: d, src: p, usedHigh: r.UsedHigh}
	for uf.remaining() > 0 {
		err := d.wait(d.wchan, s.nonblock(), func() bool {
			return s.closed || ch.pustream.Used() < r.UsedHigh
		})
		if err == nil && s.closed {
			err = ErrNoDevice
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) && uf.done > 0 {
				err = nil
			}

			return skipped + uf.done, err
		}

		inBefore := r.In()
		r.Copying = true
		if ch.pchain.len() > 0 {
			done := uf.done
			ch.pchain.filters[0].SetFetcher(uf)
			err = ch.pchain.last().FetchTo(&r.Stream, 2*r.BlockSize)
			if err != nil || uf.done == done {
				// The ring is full: park the data in the user stream.
				if ferr := uf.FetchTo(ch.pustream, ch.pustream.Size()); err == nil {
					err = ferr
				}
			}
			r.FStamp += int64(uf.lastUsed - ch.pustream.Used())
		} else {
			err = uf.FetchTo(&r.Stream, r.Size())
		}
		ch.silCount = 0

		cc := 0
		inAfter := r.In()
		if r.NeedFill && inBefore != inAfter && inBefore/r.BlockSize == inAfter/r.BlockSize {
			cc = r.BlockSize - inAfter%r.BlockSize
			log.Tracef("Channel %d: partial block, %d bytes of fill", ch.slot, cc)
		}
		r.NeedFill = false
		r.Copying = false
		d.idle.Broadcast()

		if cc != 0 {
			r.fillSilence(inAfter, cc)
		}
		if !ch.pbus && !r.Pause {
			d.intrMu.Lock()
			serr := d.startPlay(ch)
			d.intrMu.Unlock()
			if err == nil {
				err = serr
			}
		}
		d.kick()

		if err != nil {
			return skipped + uf.done, err
		}
	}

	return skipped + uf.done, nil
}

// Read records into p and blocks until p is full. A non-blocking session
// returns what is available.
func (s *Session) Read(p []byte) (int, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(AUOPEN_READ); err != nil {
		return 0, err
	}
	if err := s.pendingErr(); err != nil {
		return 0, err
	}
	ch := s.ch
	if ch.mrr.Mmapped {
		return 0, fmt.Errorf("record ring is mapped: %w", ErrInvalidFormat)
	}
	if len(p) == 0 {
		return 0, nil
	}

	// Half-duplex playing reads silence at the play rate.
	if !ch.fullDuplex && ch.mode&AUMODE_PLAY != 0 {
		return s.readPhantom(p)
	}

	n := 0
	for n < len(p) {
		for ch.rustream.Used() <= 0 {
			if s.closed {
				return n, ErrNoDevice
			}
			if !ch.rbus && !ch.mrr.Pause {
				d.intrMu.Lock()
				err := d.startRecord(ch)
				d.intrMu.Unlock()
				d.kick()
				if err != nil {
					return n, err
				}
				if ch.rustream.Used() > 0 {
					break
				}
			}
			err := d.wait(d.rchan, s.nonblock(), func() bool {
				return s.closed || ch.rustream.Used() > 0
			})
			if err != nil {
				if errors.Is(err, ErrWouldBlock) && n > 0 {
					err = nil
				}

				return n, err
			}
		}

		region := ch.rustream.contiguousOut()
		cc := min(len(region), len(p)-n)
		ch.mrr.Copying = true
		d.mu.Unlock()
		copy(p[n:n+cc], region[:cc])
		d.mu.Lock()
		ch.rustream.AdvanceOut(min(cc, ch.rustream.Used()))
		ch.mrr.Copying = false
		d.idle.Broadcast()
		n += cc
	}

	return n, nil
}

func (s *Session) readPhantom(p []byte) (int, error) {
	d, ch := s.d, s.ch
	n := 0
	for n < len(p) {
		err := d.wait(d.rchan, s.nonblock(), func() bool {
			return s.closed || ch.mpr.Stamp-ch.wstamp > 0
		})
		if err == nil && s.closed {
			err = ErrNoDevice
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) && n > 0 {
				err = nil
			}

			return n, err
		}
		cc := min(int(ch.mpr.Stamp-ch.wstamp), len(p)-n)
		ch.rparams.FillSilence(p[n : n+cc])
		ch.wstamp += int64(cc)
		n += cc
	}

	return n, nil
}

// drain waits until everything written to ch was played. Called with the
// thread lock held.
func (d *Device) drain(ch *channel, nonblock bool) error {
	r := ch.mpr
	if r.Mmapped || r.Pause {
		return nil
	}

	used := r.Used()
	for _, c := range []*chain{ch.pchain} {
		if c != nil {
			for _, st := range c.streams {
				used += st.Used()
			}
		}
	}
	if used <= 0 {
		return nil
	}

	if !ch.pbus {
		// Never started: the data is shorter than a block.
		cc := min(r.BlockSize-r.In()%r.BlockSize, r.Space())
		r.fillSilence(r.In(), cc)
		r.AdvanceIn(cc)
		d.intrMu.Lock()
		err := d.startPlay(ch)
		d.intrMu.Unlock()
		d.kick()
		if err != nil {
			return err
		}
	}

	drops := r.Drops
	return d.wait(d.wchan, nonblock, func() bool {
		return r.Drops != drops || !ch.pbus
	})
}

// Drain blocks until the written data has been played.
func (s *Session) Drain() error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(AUOPEN_WRITE); err != nil {
		return err
	}
	if err := d.drain(s.ch, s.nonblock()); err != nil {
		return err
	}
	if dr, ok := d.hw.(Drainer); ok && d.opens == 1 {
		if err := dr.Drain(); err != nil {
			return fmt.Errorf("hardware drain failed: %w", err)
		}
	}

	return nil
}

// Flush discards buffered data in both directions and restarts the
// directions that were running.
func (s *Session) Flush() error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return err
	}
	ch := s.ch
	if err := d.waitIdle(ch); err != nil {
		return err
	}

	d.intrMu.Lock()
	pbus, rbus := ch.pbus, ch.rbus
	d.clearChannel(ch)
	for _, c := range []*chain{ch.pchain, ch.rchain} {
		if c != nil {
			for _, st := range c.streams {
				st.Reset()
			}
		}
	}
	ch.playDrop = 0
	err := d.restart(ch, pbus, rbus, true, func() bool { return false })
	d.intrMu.Unlock()
	d.kick()

	return err
}

// SetInfo changes the session parameters given in ai. Fields left at
// Unspecified are not touched. A rejected parameter changes nothing; an error
// from committing the settings or restarting the session is reported after
// the new parameters took effect.
func (s *Session) SetInfo(ai *Info) error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return err
	}
	if err := d.waitIdle(s.ch); err != nil {
		return err
	}
	err := d.setInfo(s.ch, ai, false)
	d.kick()

	return err
}

// GetInfo returns the session parameters and counters.
func (s *Session) GetInfo() (Info, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return Info{}, err
	}

	return d.getInfo(s.ch), nil
}

// Poll returns the subset of events that are ready.
func (s *Session) Poll(events Events) Events {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.check(0) != nil {
		return 0
	}
	ch := s.ch

	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	var revents Events
	if events&PollIn != 0 {
		var ready bool
		if !ch.fullDuplex && ch.mode&AUMODE_PLAY != 0 {
			ready = ch.mpr.Stamp > ch.wstamp
		} else {
			ready = ch.rustream.Used() > ch.mrr.UsedLow
		}
		if ready {
			revents |= PollIn
		}
	}
	if events&PollOut != 0 {
		if (!ch.fullDuplex && ch.mode&AUMODE_RECORD != 0) ||
			(ch.mode&AUMODE_PLAY_ALL == 0 && ch.playDrop > 0) ||
			ch.pustream.Used() <= ch.mpr.UsedLow {
			revents |= PollOut
		}
	}

	return revents
}

// Mmap maps the play ring from offset. The first map fills it with silence
// and starts playback; afterwards the mixer plays the ring cyclically and
// Offsets reports where. The session format must equal the mix format.
func (s *Session) Mmap(offset int) ([]byte, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(AUOPEN_WRITE); err != nil {
		return nil, err
	}
	if d.props&AUDIO_PROP_MMAP == 0 {
		return nil, fmt.Errorf("hardware cannot map: %w", ErrInvalidFormat)
	}
	ch := s.ch
	if ch.pchain.len() > 0 {
		return nil, fmt.Errorf("play format %s needs conversion: %w", ch.pparams, ErrInvalidFormat)
	}
	r := ch.mpr
	if offset < 0 || offset >= r.Size() {
		return nil, fmt.Errorf("offset %d: %w", offset, ErrInvalidFormat)
	}

	if !r.Mmapped {
		if err := d.waitIdle(ch); err != nil {
			return nil, err
		}
		d.intrMu.Lock()
		r.Format.FillSilence(r.Bytes())
		r.Reset()
		r.AdvanceIn(r.Size())
		r.Mmapped = true
		ch.pustream = &r.Stream
		var err error
		if !ch.pbus && !r.Pause {
			err = d.startPlay(ch)
		}
		d.intrMu.Unlock()
		d.kick()
		if err != nil {
			return nil, err
		}
	}

	return r.Bytes()[offset:], nil
}

// Offsets reports the progress of a direction and remembers the stamp for
// the next Deltablks.
func (s *Session) Offsets(dir Mode) (Offsets, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return Offsets{}, err
	}
	ch := s.ch

	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	var o Offsets
	switch dir {
	case AUMODE_PLAY:
		r := ch.mpr
		stamp := r.FStamp
		if ch.pustream == &r.Stream {
			stamp = r.Stamp
		}
		o.Samples = stamp
		o.Deltablks = int(stamp/int64(r.BlockSize) - r.StampLast/int64(r.BlockSize))
		r.StampLast = stamp
		o.Offset = ch.pustream.Out() + r.BlockSize
		if o.Offset >= ch.pustream.Size() {
			o.Offset = 0
		}
	case AUMODE_RECORD:
		r := ch.mrr
		stamp := r.FStamp
		if ch.rustream == &r.Stream {
			stamp = r.Stamp
		}
		o.Samples = stamp
		o.Deltablks = int(stamp/int64(r.BlockSize) - r.StampLast/int64(r.BlockSize))
		r.StampLast = stamp
		o.Offset = ch.rustream.In()
	default:
		return Offsets{}, fmt.Errorf("direction %#x: %w", uint32(dir), ErrInvalidFormat)
	}

	return o, nil
}

// Drops returns the bytes lost or padded in a direction, like AUDIO_PERROR and AUDIO_RERROR.
func (s *Session) Drops(dir Mode) (int64, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return 0, err
	}

	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	switch dir {
	case AUMODE_PLAY:
		return s.ch.mpr.Drops, nil
	case AUMODE_RECORD:
		return s.ch.mrr.Drops, nil
	default:
		return 0, fmt.Errorf("direction %#x: %w", uint32(dir), ErrInvalidFormat)
	}
}

// SetFullDuplex switches between full and half duplex. Full duplex needs
// hardware support.
func (s *Session) SetFullDuplex(on bool) error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return err
	}
	if on && d.props&AUDIO_PROP_FULLDUPLEX == 0 {
		return fmt.Errorf("hardware is half duplex: %w", ErrInvalidFormat)
	}
	d.intrMu.Lock()
	s.ch.fullDuplex = on
	d.intrMu.Unlock()

	return nil
}

// FullDuplex reports whether the session runs both directions at once.
func (s *Session) FullDuplex() bool {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	return s.ch.fullDuplex
}

// Props returns the hardware capabilities.
func (s *Session) Props() Props {
	return s.d.props
}

// SetAsync registers the session for readiness notifications on Notify.
// Only one session per device may be registered.
func (s *Session) SetAsync(on bool) error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := s.check(0); err != nil {
		return err
	}
	if !on {
		if d.asyncOwner == s {
			d.asyncOwner = nil
		}

		return nil
	}
	if d.asyncOwner != nil && d.asyncOwner != s {
		return fmt.Errorf("async listener already registered: %w", ErrBusy)
	}
	d.asyncOwner = s

	return nil
}

// Notify returns the channel poked when the session may read or write.
func (s *Session) Notify() <-chan struct{} {
	return s.notify
}
