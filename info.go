package vaudio

import (
	"fmt"
)

// Unspecified marks a field of Info that SetInfo leaves alone.
const (
	Unspecified   = ^uint32(0)
	Unspecified8  = ^uint8(0)
	balanceCenter = 32
	balanceMax    = 64
)

// PrInfo is the per-direction part of Info.
type PrInfo struct {
	SampleRate uint32
	Channels   uint32
	Precision  uint32
	Encoding   Encoding
	Gain       uint32 // Software volume, 0..AUDIO_MAX_VOLUME.
	Port       uint32
	Balance    uint8

	Pause uint8

	// Reported by GetInfo only.
	Seek       uint32
	Samples    int64
	EOF        int64
	Error      uint8
	Waiting    uint8
	Open       uint8
	Active     uint8
	BufferSize uint32
	AvailPorts uint32
}

// Info is the settable and reported state of a session.
type Info struct {
	Play   PrInfo
	Record PrInfo

	BlockSize uint32 // Bytes; zero restores the default.
	HiWat     uint32 // Blocks.
	LoWat     uint32 // Blocks.
	Mode      Mode
}

func initPrInfo(p *PrInfo) {
	*p = PrInfo{
		SampleRate: Unspecified,
		Channels:   Unspecified,
		Precision:  Unspecified,
		Encoding:   Encoding(Unspecified),
		Gain:       Unspecified,
		Port:       Unspecified,
		Balance:    Unspecified8,
		Pause:      Unspecified8,
	}
}

// InitInfo returns an Info with every settable field unspecified.
func InitInfo() Info {
	var ai Info
	initPrInfo(&ai.Play)
	initPrInfo(&ai.Record)
	ai.BlockSize = Unspecified
	ai.HiWat = Unspecified
	ai.LoWat = Unspecified
	ai.Mode = Mode(Unspecified)

	return ai
}

// SetFormat sets the format fields of p.
func (p *PrInfo) SetFormat(f Format) {
	p.SampleRate = f.SampleRate
	p.Channels = f.Channels
	p.Precision = f.Precision
	p.Encoding = f.Encoding
}

// Format returns the format fields of p.
func (p *PrInfo) Format() Format {
	return Format{
		Encoding:   p.Encoding,
		Precision:  p.Precision,
		ValidBits:  p.Precision,
		Channels:   p.Channels,
		SampleRate: p.SampleRate,
	}
}

func specified(v uint32) bool {
	return v != Unspecified
}

func specified8(v uint8) bool {
	return v != Unspecified8
}

// mergeParams applies the specified format fields of p to f and counts them.
func mergeParams(f Format, p *PrInfo) (Format, int) {
	n := 0
	if specified(p.SampleRate) {
		f.SampleRate = p.SampleRate
		n++
	}
	if specified(uint32(p.Encoding)) {
		f.Encoding = p.Encoding
		n++
	}
	if specified(p.Precision) {
		f.Precision = p.Precision
		f.ValidBits = p.Precision
		n++
	}
	if specified(p.Channels) {
		f.Channels = p.Channels
		n++
	}

	return f, n
}

// sameLayout reports whether the hardware kept the frame layout of f.
func sameLayout(hw, f Format) bool {
	return hw.SampleRate == f.SampleRate && hw.Channels == f.Channels && hw.Precision == f.Precision
}

// checkPrInfo validates the fields of p that do not depend on the format.
func (d *Device) checkPrInfo(p *PrInfo) error {
	if specified(p.Gain) && p.Gain > AUDIO_MAX_VOLUME {
		return fmt.Errorf("gain %d: %w", p.Gain, ErrInvalidFormat)
	}
	if specified8(p.Balance) && p.Balance > balanceMax {
		return fmt.Errorf("balance %d: %w", p.Balance, ErrInvalidFormat)
	}
	if specified8(p.Pause) && p.Pause > 1 {
		return fmt.Errorf("pause %d: %w", p.Pause, ErrInvalidFormat)
	}
	if _, ok := d.hw.(Gainer); !ok && (specified(p.Port) || specified8(p.Balance)) {
		return fmt.Errorf("hardware has no port control: %w", ErrInvalidFormat)
	}

	return nil
}

// negotiate asks the hardware for pp and rp on slot 0 and returns the
// conversions between them and what the hardware granted. The hardware may
// change the encoding only.
func (d *Device) negotiate(setmode Mode, pp, rp Format) (pfil, rfil *FilterList, hp, hr Format, err error) {
	hp, hr = pp, rp
	var pptr, rptr *Format
	if setmode&AUMODE_PLAY != 0 {
		pptr = &hp
	}
	if setmode&AUMODE_RECORD != 0 {
		rptr = &hr
	}
	if err = d.hw.SetParams(setmode, pptr, rptr); err != nil {
		return nil, nil, hp, hr, fmt.Errorf("set params failed: %w", err)
	}
	if !sameLayout(hp, pp) || !sameLayout(hr, rp) {
		return nil, nil, hp, hr, fmt.Errorf("hardware changed layout to %s / %s: %w", hp, hr, ErrInvalidFormat)
	}
	log.Debugf("Hardware granted play %s, record %s", hp, hr)

	pfil, rfil = &FilterList{}, &FilterList{}
	if fr, ok := d.hw.(FilterRequester); ok {
		if err = fr.RequestFilters(setmode, hp, hr, pfil, rfil); err != nil {
			return nil, nil, hp, hr, fmt.Errorf("request filters failed: %w", err)
		}
	}
	if pfil, err = hardwareFilters("play", pp, hp, pfil); err != nil {
		return nil, nil, hp, hr, err
	}
	if rfil, err = hardwareFilters("record", rp, hr, rfil); err != nil {
		return nil, nil, hp, hr, err
	}

	return pfil, rfil, hp, hr, nil
}

// hardwareFilters returns the stages the hardware asked for, or the core
// conversion between user and hw when it asked for none.
func hardwareFilters(dir string, user, hw Format, list *FilterList) (*FilterList, error) {
	if list.Len() == 0 {
		return setConverter(user, hw)
	}
	if f := list.Entries()[0].Format; !formatsEqual(f, hw) {
		return nil, fmt.Errorf("%s filters end at %s, hardware uses %s: %w", dir, f, hw, ErrInvalidFormat)
	}
	log.Debugf("Hardware requested %d %s stages", list.Len(), dir)

	return list, nil
}

// regrant asks the hardware again for the formats slot 0 runs with, after a
// failed negotiation left it holding others. Called with mu held.
func (d *Device) regrant() error {
	vc := d.vchan[0]
	pp, rp := vc.pparams, vc.rparams

	var setmode Mode
	var pptr, rptr *Format
	if d.props.CanPlay() {
		setmode |= AUMODE_PLAY
		pptr = &pp
	}
	if d.props.CanRecord() {
		setmode |= AUMODE_RECORD
		rptr = &rp
	}
	if err := d.hw.SetParams(setmode, pptr, rptr); err != nil {
		return fmt.Errorf("set params failed: %w", err)
	}
	if sc, ok := d.hw.(SettingsCommitter); ok && d.opens == 0 {
		if err := sc.CommitSettings(); err != nil {
			return fmt.Errorf("commit settings failed: %w", err)
		}
	}

	return nil
}

// setInfo applies ai to ch. Every format is validated, both chains are built
// and the hardware ports and balances are set before the channel changes, so
// those failures leave everything as it was. Failures of CommitSettings and
// the restart come after the change. reset forces renegotiation. Called with
// the thread lock held.
func (d *Device) setInfo(ch *channel, ai *Info, reset bool) error {
	p, r := &ai.Play, &ai.Record
	pbus, rbus := ch.pbus, ch.rbus

	pp, np := mergeParams(ch.pparams, p)
	rp, nr := mergeParams(ch.rparams, r)
	if !d.props.CanRecord() {
		nr = 0
	}
	if !d.props.CanPlay() {
		np = 0
	}

	var err error
	if nr > 0 {
		if rp, err = rp.Check(); err != nil {
			return err
		}
	}
	if np > 0 {
		if pp, err = pp.Check(); err != nil {
			return err
		}
	}
	if err := d.checkPrInfo(p); err != nil {
		return err
	}
	if err := d.checkPrInfo(r); err != nil {
		return err
	}

	var setmode Mode
	if nr > 0 {
		setmode |= AUMODE_RECORD
	}
	if np > 0 {
		setmode |= AUMODE_PLAY
	}
	modechange := setmode != 0

	mode := ch.mode
	if specified(uint32(ai.Mode)) {
		if ai.Mode&^(AUMODE_PLAY|AUMODE_RECORD|AUMODE_PLAY_ALL) != 0 {
			return fmt.Errorf("mode %#x: %w", uint32(ai.Mode), ErrInvalidFormat)
		}
		modechange = true
		mode = ai.Mode
		if mode&AUMODE_PLAY_ALL != 0 {
			mode |= AUMODE_PLAY
		}
		if mode&AUMODE_PLAY != 0 && !ch.fullDuplex {
			mode &^= AUMODE_RECORD
		}
	}

	var pc, rc *chain
	hp, hr := d.format, d.format
	if modechange || reset {
		if d.props&AUDIO_PROP_INDEPENDENT == 0 {
			switch setmode {
			case AUMODE_RECORD:
				pp = rp
			case AUMODE_PLAY:
				rp = pp
			}
		}

		var pfil, rfil *FilterList
		if ch.slot == 0 {
			pfil, rfil, hp, hr, err = d.negotiate(setmode, pp, rp)
		} else {
			if pfil, err = setConverter(pp, d.format); err == nil {
				rfil, err = setConverter(rp, d.format)
			}
		}
		if err != nil {
			return err
		}

		if ch.mpr.Mmapped && pfil.Len() > 0 {
			return fmt.Errorf("mapped play ring cannot convert %s: %w", pp, ErrInvalidFormat)
		}

		if setmode&AUMODE_PLAY != 0 {
			if pc, err = buildPlayChain(pp, pfil); err != nil {
				return err
			}
		}
		if setmode&AUMODE_RECORD != 0 {
			if rc, err = buildRecordChain(&ch.mrr.Stream, rp, rfil); err != nil {
				pc.close()

				return err
			}
		}
		log.Debugf("Channel %d: play %s in %d stages, record %s in %d stages",
			ch.slot, pp, pc.len(), rp, rc.len())
	}

	if err := d.setPorts(p, r); err != nil {
		pc.close()
		rc.close()

		return err
	}

	// Validation is over; from here on the channel changes.
	cleared := false
	clearMotion := func() {
		if !cleared {
			d.intrMu.Lock()
			d.clearChannel(ch)
			d.intrMu.Unlock()
			cleared = true
		}
	}

	oldPBlk, oldRBlk := ch.mpr.BlockSize, ch.mrr.BlockSize
	oldPus, oldRus := ch.pustream, ch.rustream

	if modechange {
		clearMotion()
	}
	if modechange || reset {
		var oldP, oldR *chain
		d.intrMu.Lock()
		if setmode&AUMODE_PLAY != 0 {
			oldP = ch.installPlayChain(pc, pp, hp)
		}
		if setmode&AUMODE_RECORD != 0 {
			oldR = ch.installRecordChain(rc, rp, hr)
		}
		d.intrMu.Unlock()
		oldP.close()
		oldR.close()

		ch.pparams, ch.rparams = pp, rp
		ch.mode = mode
	}

	if nr > 0 || np > 0 || reset {
		ch.blkset = false
		d.calcBlockSize(ch)
	}

	if specified(p.Port) || specified(r.Port) {
		clearMotion()
	}
	if specified(p.Gain) {
		ch.volume = p.Gain
	}
	if specified(r.Gain) {
		ch.recVolume = r.Gain
	}

	pausechange := false
	if specified8(p.Pause) {
		ch.mpr.Pause = p.Pause != 0
		pbus = p.Pause == 0
		pausechange = true
	}
	if specified8(r.Pause) {
		ch.mrr.Pause = r.Pause != 0
		rbus = r.Pause == 0
		pausechange = true
	}

	if specified(ai.BlockSize) {
		clearMotion()
		if ai.BlockSize == 0 {
			ch.blkset = false
		} else {
			ch.blkset = true
			ch.blkReq = int(ai.BlockSize)
		}
		d.calcBlockSize(ch)
	}

	if specified(uint32(ai.Mode)) && ch.mode&AUMODE_PLAY != 0 && d.opens == 0 {
		ch.wstamp = ch.mpr.Stamp
	}

	if sc, ok := d.hw.(SettingsCommitter); ok && d.opens == 0 {
		if err := sc.CommitSettings(); err != nil {
			return fmt.Errorf("commit settings failed: %w", err)
		}
	}

	if cleared || pausechange || reset {
		d.intrMu.Lock()
		err := d.restart(ch, pbus, rbus, !pausechange || reset, func() bool {
			return ch.mpr.BlockSize != oldPBlk || ch.mrr.BlockSize != oldRBlk ||
				ch.pustream != oldPus || ch.rustream != oldRus
		})
		d.intrMu.Unlock()
		if err != nil {
			return err
		}
	}

	if specified(ai.HiWat) {
		blks := min(int(ai.HiWat), ch.mpr.MaxBlocks)
		blks = max(blks, 2)
		ch.mpr.UsedHigh = blks * ch.mpr.BlockSize
	}
	if specified(ai.LoWat) {
		blks := min(int(ai.LoWat), ch.mpr.MaxBlocks-1)
		ch.mpr.UsedLow = blks * ch.mpr.BlockSize
	}
	if specified(ai.HiWat) || specified(ai.LoWat) {
		if ch.mpr.UsedLow > ch.mpr.UsedHigh-ch.mpr.BlockSize {
			ch.mpr.UsedLow = ch.mpr.UsedHigh - ch.mpr.BlockSize
		}
	}

	return nil
}

// restart reinitializes the rings of ch when init is set, recomputes the
// watermarks when changed reports so, and resumes the directions that were
// busy. Called with both locks held.
func (d *Device) restart(ch *channel, pbus, rbus, init bool, changed func() bool) error {
	if init {
		if err := d.initBufs(ch); err != nil {
			return err
		}
	}
	if changed() {
		ch.calcWater()
	}
	if ch.mode&AUMODE_PLAY != 0 && pbus && !ch.pbus {
		if err := d.startPlay(ch); err != nil {
			return err
		}
	}
	if ch.mode&AUMODE_RECORD != 0 && rbus && !ch.rbus {
		if err := d.startRecord(ch); err != nil {
			return err
		}
	}

	return nil
}

// setPorts applies the ports and balances given in p and r. The hardware gain
// is kept. On failure the settings already applied are put back.
func (d *Device) setPorts(p, r *PrInfo) (err error) {
	g, ok := d.hw.(Gainer)
	if !ok {
		return nil
	}

	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	for _, dir := range []struct {
		mode Mode
		name string
		pr   *PrInfo
	}{{AUMODE_PLAY, "play", p}, {AUMODE_RECORD, "record", r}} {
		mode := dir.mode
		if specified(dir.pr.Port) {
			old, err := g.Port(mode)
			if err != nil {
				return fmt.Errorf("get %s port failed: %w", dir.name, err)
			}
			if err := g.SetPort(mode, dir.pr.Port); err != nil {
				return fmt.Errorf("set %s port failed: %w", dir.name, err)
			}
			undo = append(undo, func() { _ = g.SetPort(mode, old) })
		}
		if specified8(dir.pr.Balance) {
			gain, old, err := g.Gain(mode)
			if err != nil {
				return fmt.Errorf("get %s gain failed: %w", dir.name, err)
			}
			if err := g.SetGain(mode, gain, uint32(dir.pr.Balance)); err != nil {
				return fmt.Errorf("set %s balance failed: %w", dir.name, err)
			}
			undo = append(undo, func() { _ = g.SetGain(mode, gain, old) })
		}
	}

	return nil
}

// calcBlockSize sets the block sizes of ch. Slot 0 follows the configured
// block duration; sessions use whole device blocks.
func (d *Device) calcBlockSize(ch *channel) {
	if ch.slot == 0 {
		// The hardware keeps the frame layout, so the mix format sizes both rings.
		blk := d.format.BlockSize(int(d.cfg.BlockMs))
		ch.mpr.BlockSize = blk
		ch.mrr.BlockSize = blk

		return
	}

	dev := d.pr.BlockSize
	if dev <= 0 {
		return
	}
	blk := dev
	if ch.blkset {
		blk = (ch.blkReq + dev - 1) / dev * dev
		limit := ch.mpr.Capacity() / AUMINNOBLK / dev * dev
		blk = max(min(blk, limit), dev)
	}
	ch.mpr.BlockSize = blk
	ch.mrr.BlockSize = blk
}

// initRing resets one ring of ch. The aggregate rings are sized with the
// hardware rounding, session rings keep their exact block.
func (d *Device) initRing(ch *channel, r *RingBuffer, mode Mode) {
	if ch.slot != 0 {
		r.setup(r.BlockSize)

		return
	}

	br, ok := d.hw.(BlockRounder)
	if !ok {
		r.Init(nil)

		return
	}
	r.Init(func(blk int) int {
		return br.RoundBlockSize(blk, mode, r.Format)
	})
}

// initBufs resets the rings of ch and tells the hardware about the aggregate
// regions on first use. Called with both locks held.
func (d *Device) initBufs(ch *channel) error {
	vc := d.vchan[0]

	if d.props.CanRecord() || ch.open&AUOPEN_READ != 0 {
		d.initRing(ch, ch.mrr, AUMODE_RECORD)
		if ii, ok := d.hw.(InputInitializer); ok && d.opens == 0 && ch.mode&AUMODE_RECORD != 0 {
			if err := ii.InitInput(vc.mrr.Bytes()); err != nil {
				return fmt.Errorf("init input failed: %w", err)
			}
		}
	}

	if d.props.CanPlay() || ch.open&AUOPEN_WRITE != 0 {
		d.initRing(ch, ch.mpr, AUMODE_PLAY)
		ch.silCount = 0
		if oi, ok := d.hw.(OutputInitializer); ok && d.opens == 0 && ch.mode&AUMODE_PLAY != 0 {
			if err := oi.InitOutput(vc.mpr.Bytes()); err != nil {
				return fmt.Errorf("init output failed: %w", err)
			}
		}
	}

	return nil
}

// getInfo reports the state of ch. Called with the thread lock held.
func (d *Device) getInfo(ch *channel) Info {
	var ai Info
	p, r := &ai.Play, &ai.Record

	p.SetFormat(ch.pparams)
	r.SetFormat(ch.rparams)

	p.Gain = ch.volume
	r.Gain = ch.recVolume
	p.Balance, r.Balance = balanceCenter, balanceCenter
	if g, ok := d.hw.(Gainer); ok {
		if port, err := g.Port(AUMODE_PLAY); err == nil {
			p.Port = port
		}
		if port, err := g.Port(AUMODE_RECORD); err == nil {
			r.Port = port
		}
		p.AvailPorts = g.Ports(AUMODE_PLAY)
		r.AvailPorts = g.Ports(AUMODE_RECORD)
		if _, balance, err := g.Gain(AUMODE_PLAY); err == nil {
			p.Balance = uint8(balance)
		}
		if _, balance, err := g.Gain(AUMODE_RECORD); err == nil {
			r.Balance = uint8(balance)
		}
	}

	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	p.Seek = uint32(ch.pustream.Used())
	r.Seek = uint32(ch.rustream.Used())

	p.Samples = ch.mpr.FStamp
	if ch.pustream == &ch.mpr.Stream {
		p.Samples = ch.mpr.Stamp
	}
	p.Samples -= ch.mpr.Drops
	r.Samples = ch.mrr.FStamp
	if ch.rustream == &ch.mrr.Stream {
		r.Samples = ch.mrr.Stamp
	}
	r.Samples -= ch.mrr.Drops

	p.EOF = d.eof
	p.Pause = boolByte(ch.mpr.Pause)
	r.Pause = boolByte(ch.mrr.Pause)
	p.Error = boolByte(ch.mpr.Drops != 0)
	r.Error = boolByte(ch.mrr.Drops != 0)
	p.Open = boolByte(ch.open&AUOPEN_WRITE != 0)
	r.Open = boolByte(ch.open&AUOPEN_READ != 0)
	p.Active = boolByte(ch.pbus)
	r.Active = boolByte(ch.rbus)
	p.BufferSize = uint32(ch.pustream.Size())
	r.BufferSize = uint32(ch.rustream.Size())

	ai.BlockSize = uint32(ch.mpr.BlockSize)
	if ch.mpr.BlockSize > 0 {
		ai.HiWat = uint32(ch.mpr.UsedHigh / ch.mpr.BlockSize)
		ai.LoWat = uint32(ch.mpr.UsedLow / ch.mpr.BlockSize)
	}
	ai.Mode = ch.mode

	return ai
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}
