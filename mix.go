package vaudio

import (
	"encoding/binary"
	"math"
)

// walk calls fn over n bytes at doff of dst and soff of src, in chunks that
// are contiguous in both regions.
func walk(dst *Stream, doff int, src *Stream, soff, n int, fn func(d, s []byte)) {
	for n > 0 {
		doff %= dst.end
		soff %= src.end
		c := min(n, dst.end-doff, src.end-soff)
		fn(dst.buf[doff:doff+c], src.buf[soff:soff+c])
		doff += c
		soff += c
		n -= c
	}
}

// each calls fn over n bytes at off of s, in contiguous chunks.
func each(s *Stream, off, n int, fn func(p []byte)) {
	a, b := s.span(off, n)
	fn(a)
	if len(b) > 0 {
		fn(b)
	}
}

// mixChannel adds one block of ch's play ring, at its out cursor, to pr at its
// in cursor. Sums wrap like the native integer type.
func (d *Device) mixChannel(ch *channel, blk int) {
	vol := (int64(ch.volume) + 1) * 16
	div := int64(d.opens) * mixUnity
	if div == 0 {
		div = mixUnity
	}

	switch d.format.Precision {
	case 8:
		walk(&d.pr.Stream, d.pr.in, &ch.mpr.Stream, ch.mpr.out, blk, func(dp, sp []byte) {
			for i := range dp {
				s := int64(int8(sp[i]))
				dp[i] = byte(int8(dp[i]) + int8(s*vol/div))
			}
		})
	case 16:
		walk(&d.pr.Stream, d.pr.in, &ch.mpr.Stream, ch.mpr.out, blk, func(dp, sp []byte) {
			for i := 0; i+1 < len(dp); i += 2 {
				s := int64(int16(binary.LittleEndian.Uint16(sp[i:])))
				v := int16(binary.LittleEndian.Uint16(dp[i:])) + int16(s*vol/div)
				binary.LittleEndian.PutUint16(dp[i:], uint16(v))
			}
		})
	case 32:
		walk(&d.pr.Stream, d.pr.in, &ch.mpr.Stream, ch.mpr.out, blk, func(dp, sp []byte) {
			for i := 0; i+3 < len(dp); i += 4 {
				s := int64(int32(binary.LittleEndian.Uint32(sp[i:])))
				v := int32(binary.LittleEndian.Uint32(dp[i:])) + int32(s*vol/div)
				binary.LittleEndian.PutUint32(dp[i:], uint32(v))
			}
		})
	}
}

// gain returns the saturation factor for one sample.
func gain(s, smax, smin, opens int64) int64 {
	var i int64
	switch {
	case s > 0:
		i = smax / s
	case s < 0:
		i = smin / s
	}

	return min(i, opens)
}

// saturateBlock scales the freshly mixed samples of pr back up by at most the
// number of opens, without leaving the sample range.
func (d *Device) saturateBlock(n int) {
	opens := int64(d.opens)

	switch d.format.Precision {
	case 8:
		each(&d.pr.Stream, d.pr.in, n, func(p []byte) {
			for i := range p {
				s := int64(int8(p[i]))
				p[i] = byte(int8(s * gain(s, math.MaxInt8, math.MinInt8, opens)))
			}
		})
	case 16:
		each(&d.pr.Stream, d.pr.in, n, func(p []byte) {
			for i := 0; i+1 < len(p); i += 2 {
				s := int64(int16(binary.LittleEndian.Uint16(p[i:])))
				binary.LittleEndian.PutUint16(p[i:], uint16(int16(s*gain(s, math.MaxInt16, math.MinInt16, opens))))
			}
		})
	case 32:
		each(&d.pr.Stream, d.pr.in, n, func(p []byte) {
			for i := 0; i+3 < len(p); i += 4 {
				s := int64(int32(binary.LittleEndian.Uint32(p[i:])))
				binary.LittleEndian.PutUint32(p[i:], uint32(int32(s*gain(s, math.MaxInt32, math.MinInt32, opens))))
			}
		})
	}
}

// recordVolume scales n captured bytes at off of r by the record volume.
// AUDIO_MAX_VOLUME leaves samples untouched.
func (d *Device) recordVolume(r *RingBuffer, off, n int, vol uint32) {
	if vol >= AUDIO_MAX_VOLUME {
		return
	}
	v := int64(vol) + 1

	switch d.format.Precision {
	case 8:
		each(&r.Stream, off, n, func(p []byte) {
			for i := range p {
				p[i] = byte(int8(int64(int8(p[i])) * v / 256))
			}
		})
	case 16:
		each(&r.Stream, off, n, func(p []byte) {
			for i := 0; i+1 < len(p); i += 2 {
				s := int64(int16(binary.LittleEndian.Uint16(p[i:])))
				binary.LittleEndian.PutUint16(p[i:], uint16(int16(s*v/256)))
			}
		})
	case 32:
		each(&r.Stream, off, n, func(p []byte) {
			for i := 0; i+3 < len(p); i += 4 {
				s := int64(int32(binary.LittleEndian.Uint32(p[i:])))
				binary.LittleEndian.PutUint32(p[i:], uint32(int32(s*v/256)))
			}
		})
	}
}

// mix sums one block of every playing channel into pr. Called with both locks held.
func (d *Device) mix() {
	pr := d.pr
	blk := pr.BlockSize
	if d.dying || pr.Space() < blk {
		return
	}
	d.mixCycles.Add(1)
	// The target block still holds whatever was mixed one lap ago.
	pr.zero(pr.In(), blk)

	writeme := false
	for n := 1; n < VAUDIOCHANS; n++ {
		ch := d.vchan[n]
		if ch == nil || ch.open&AUOPEN_WRITE == 0 || !ch.pbus {
			continue
		}
		r := ch.mpr
		if r.Pause {
			continue
		}

		writeme = true
		r.Stamp += int64(blk)
		if r.Mmapped {
			d.mixChannel(ch, blk)
			r.rotate(blk)

			continue
		}

		if r.Used() <= r.UsedLow && !r.Copying && ch.pchain.len() > 0 {
			r.FStamp += int64(ch.drainPlayChain(min(2*blk, r.Size())))
		}

		if r.Used() < blk {
			if r.Copying {
				// The writer pads the partial block when it is done.
				r.NeedFill = true
				log.Tracef("Channel %d: copy in progress, block skipped", n)

				continue
			}

			cc := blk - r.In()%blk
			r.Drops += int64(cc)
			ch.playDrop += cc
			ch.padSilence(r.In(), cc)
			r.AdvanceIn(cc)
			log.Tracef("Channel %d: underrun, %d bytes of silence", n, cc)

			if r.Used()+blk < r.Size() {
				ch.padSilence(r.In(), blk)
			}
		}

		d.mixChannel(ch, blk)
		r.AdvanceOut(blk)

		if ch.mode&AUMODE_PLAY != 0 && r.Used() <= r.UsedLow {
			d.wakeWriters = true
		}
		// Half-duplex readers get phantom blocks paced by play.
		if !ch.fullDuplex && ch.open&AUOPEN_READ != 0 {
			d.wakeReaders = true
		}
	}

	if d.saturate && d.opens > 1 {
		n := blk
		if !d.triggerStarted {
			n *= 2
		}
		d.saturateBlock(n)
	}
	pr.AdvanceIn(blk)

	if !writeme {
		d.vchan[0].mpr.Drops += int64(blk)
		d.wakeWriters = true
	}
}

// mixWrite hands the next mixed block of pr to the hardware ring and starts
// the hardware the first time. Called with the interrupt lock held.
func (d *Device) mixWrite() {
	vc := d.vchan[0]
	pr := d.pr
	blk := pr.BlockSize

	if vc.pustream.Space() >= blk {
		walk(vc.pustream, vc.pustream.In(), &pr.Stream, pr.Out(), blk, func(dp, sp []byte) {
			copy(dp, sp)
		})
		vc.pustream.AdvanceIn(blk)
	} else {
		vc.mpr.Drops += int64(blk)
	}

	pr.AdvanceOut(min(blk, pr.Used()))

	if vc.pchain.len() > 0 {
		vc.pchain.filters[0].SetFetcher(nullFetcher{})
		if err := vc.pchain.last().FetchTo(&vc.mpr.Stream, vc.mpr.Used()+blk); err != nil {
			log.Warnf("Hardware play conversion failed: %v", err)
		}
	}

	if d.triggerStarted {
		return
	}

	d.playDMA = &DMA{d: d, mode: AUMODE_PLAY, pos: vc.mpr.Out(), blk: vc.mpr.BlockSize, fmt: vc.mpr.Format}
	if err := d.hw.TriggerOutput(d.playDMA); err != nil {
		log.Errorf("Trigger output failed: %v", err)
		d.hwErrors.Add(1)
		d.hwErr = err
		d.haltPlay()

		return
	}
	d.triggerStarted = true
	log.Debugf("Output triggered, block %d bytes", d.playDMA.blk)
}

// haltPlay stops every playing channel after a hardware failure.
func (d *Device) haltPlay() {
	d.triggerStarted = false
	for n := 0; n < VAUDIOCHANS; n++ {
		if ch := d.vchan[n]; ch != nil && ch.pbus {
			ch.pbus = false
			ch.mpr.Pause = false
		}
	}
	d.wakeWriters = true
}

// haltRecord stops every recording channel after a hardware failure.
func (d *Device) haltRecord() {
	d.recStarted = false
	for n := 0; n < VAUDIOCHANS; n++ {
		if ch := d.vchan[n]; ch != nil && ch.rbus {
			ch.rbus = false
			ch.mrr.Pause = false
		}
	}
	d.wakeReaders = true
}

// mixRead takes the block the hardware just captured into slot 0's record ring,
// converts it to the mix format and queues it on rr for the unmixer. The first
// call starts capture. Called with the interrupt lock held.
func (d *Device) mixRead() {
	vc := d.vchan[0]
	mrr := vc.mrr
	blk := mrr.BlockSize

	if !d.recStarted {
		d.recDMA = &DMA{d: d, mode: AUMODE_RECORD, pos: (mrr.In() + blk) % mrr.Size(), blk: blk, fmt: mrr.Format}
		if err := d.hw.TriggerInput(d.recDMA); err != nil {
			log.Errorf("Trigger input failed: %v", err)
			d.hwErrors.Add(1)
			d.hwErr = err
			d.haltRecord()

			return
		}
		d.recStarted = true
		log.Debugf("Input triggered, block %d bytes", blk)
	}

	if mrr.Space() < blk {
		mrr.AdvanceOut(blk)
		mrr.Drops += int64(blk)
	}
	mrr.AdvanceIn(blk)

	if vc.rchain.len() > 0 {
		vc.drainRecordChain()
	}

	n := vc.rustream.Used()
	if d.rr.Space() < n {
		mrr.Drops += int64(n)
		vc.rustream.AdvanceOut(n)
		log.Warnf("Capture overrun, %d bytes dropped", n)

		return
	}
	walk(&d.rr.Stream, d.rr.In(), vc.rustream, vc.rustream.Out(), n, func(dp, sp []byte) {
		copy(dp, sp)
	})
	d.rr.AdvanceIn(n)
	vc.rustream.AdvanceOut(n)
}

// upmix copies every captured block of rr to every recording channel.
// A full channel loses the block; the others are unaffected. Called with
// both locks held.
func (d *Device) upmix() {
	rr := d.rr
	blk := rr.BlockSize
	if d.dying {
		return
	}

	for rr.Used() >= blk {
		d.upmixCycles.Add(1)

		for n := 1; n < VAUDIOCHANS; n++ {
			ch := d.vchan[n]
			if ch == nil || ch.open&AUOPEN_READ == 0 || !ch.rbus {
				continue
			}
			r := ch.mrr

			if r.Space() < blk {
				r.Drops += int64(blk)
				r.AdvanceOut(min(blk, r.Used()))
				log.Tracef("Channel %d: overrun, block dropped", n)

				continue
			}

			walk(&r.Stream, r.In(), &rr.Stream, rr.Out(), blk, func(dp, sp []byte) {
				copy(dp, sp)
			})
			d.recordVolume(r, r.In(), blk, ch.recVolume)
			r.AdvanceIn(blk)
			r.Stamp += int64(blk)
			if r.Mmapped {
				continue
			}

			if !r.Pause && ch.rchain.len() > 0 {
				r.FStamp += int64(ch.drainRecordChain())
			}

			switch {
			case r.Pause:
				r.PDrops += int64(blk)
				r.AdvanceOut(min(blk, r.Used()))
			case r.Used()+blk > r.Size() && !r.Copying:
				r.Drops += int64(blk)
				r.AdvanceOut(blk)
			}
			d.wakeReaders = true
		}

		rr.AdvanceOut(blk)
	}
}

// clearChannel stops the motion of ch. Called with the interrupt lock held.
func (d *Device) clearChannel(ch *channel) {
	if ch.rbus {
		d.wakeReaders = true
		if d.recOpens == 1 {
			if err := d.hw.HaltInput(); err != nil {
				log.Errorf("Halt input failed: %v", err)
			}
			d.recStarted = false
		}
		ch.rbus = false
		ch.mrr.Pause = false
	}
	if ch.pbus {
		d.wakeWriters = true
		ch.pbus = false
		ch.mpr.Pause = false
	}
}

// startPlay marks ch as playing and primes the hardware with two mixed blocks
// the first time. Called with both locks held.
func (d *Device) startPlay(ch *channel) error {
	if ch.slot == 0 {
		return nil
	}
	if !d.props.CanPlay() {
		return ErrInvalidFormat
	}
	if !ch.mpr.Mmapped && ch.mpr.Used() < ch.mpr.BlockSize {
		d.wakeWriters = true

		return nil
	}

	ch.pbus = true
	if d.triggerStarted {
		return nil
	}

	d.mix()
	d.mixWrite()
	if !d.triggerStarted {
		return d.takeHwErr()
	}
	vc := d.vchan[0]
	vc.mpr.AdvanceOut(min(vc.mpr.BlockSize, vc.mpr.Used()))
	d.mix()
	d.mixWrite()
	d.wakeWriters = true

	return nil
}

// startRecord marks ch as recording and starts capture if it is not running.
// Called with both locks held.
func (d *Device) startRecord(ch *channel) error {
	if ch.slot == 0 {
		return nil
	}
	if !d.props.CanRecord() {
		return ErrInvalidFormat
	}

	if !d.recStarted {
		d.mixRead()
		if !d.recStarted {
			return d.takeHwErr()
		}
		d.upmixPending++
		poke(d.upmixWake)
	}
	ch.rbus = true

	return nil
}

// takeHwErr returns and clears the pending hardware error.
func (d *Device) takeHwErr() error {
	err := d.hwErr
	d.hwErr = nil

	return err
}

// playIntr runs when the hardware finished playing a block.
func (d *Device) playIntr() {
	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	if d.dying || !d.triggerStarted {
		return
	}
	d.playIntrs.Add(1)

	vc := d.vchan[0]
	if d.pr.Used() >= d.pr.BlockSize {
		vc.mpr.AdvanceOut(min(vc.mpr.BlockSize, vc.mpr.Used()))
		d.mixWrite()
	}

	d.mixPending++
	poke(d.mixWake)
}

// recordIntr runs when the hardware finished capturing a block.
func (d *Device) recordIntr() {
	d.intrMu.Lock()
	defer d.intrMu.Unlock()

	if d.dying || !d.recStarted {
		return
	}
	d.recIntrs.Add(1)

	d.mixRead()

	d.upmixPending++
	poke(d.upmixWake)
}
