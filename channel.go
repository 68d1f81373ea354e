package vaudio

// channel is one slot of the channel table. Slot 0 is the hardware aggregate;
// its rings are in the hardware format and its user side is the mix format.
type channel struct {
	slot int
	open OpenFlag
	mode Mode

	fullDuplex bool
	pbus       bool // Play is running.
	rbus       bool // Record is running.
	blkset     bool // Block size was set explicitly.
	blkReq     int  // Requested block size when blkset.

	// playDrop counts padded bytes to skip from later writes without AUMODE_PLAY_ALL.
	playDrop int
	// wstamp is the play stamp consumed by half-duplex phantom reads.
	wstamp int64

	// Region of the play ring last filled with silence.
	silStart int
	silCount int

	volume    uint32
	recVolume uint32

	pparams Format // User play format.
	rparams Format // User record format.

	mpr *RingBuffer // Play ring, mix format.
	mrr *RingBuffer // Record ring, mix format.

	pchain *chain
	rchain *chain

	pustream *Stream // User side of the play path.
	rustream *Stream // User side of the record path.
}

func newChannel(slot int, mpr, mrr *RingBuffer) *channel {
	ch := &channel{
		slot:      slot,
		volume:    AUDIO_MAX_VOLUME,
		recVolume: AUDIO_MAX_VOLUME,
		mpr:       mpr,
		mrr:       mrr,
	}
	ch.pustream = &mpr.Stream
	ch.rustream = &mrr.Stream

	return ch
}

// copying reports whether a user copy is in flight on either ring.
func (ch *channel) copying() bool {
	return ch.mpr.Copying || ch.mrr.Copying
}

// installPlayChain swaps in a play chain built for user format pp. An empty
// chain makes the play ring itself the user-facing stream.
func (ch *channel) installPlayChain(c *chain, pp, hwSide Format) *chain {
	old := ch.pchain
	if c.len() == 0 {
		ch.pchain = nil
		ch.mpr.Format = pp
		ch.pustream = &ch.mpr.Stream
	} else {
		ch.pchain = c
		ch.mpr.Format = hwSide
		ch.pustream = c.streams[0]
	}

	return old
}

// installRecordChain swaps in a record chain built for user format rp.
func (ch *channel) installRecordChain(c *chain, rp, hwSide Format) *chain {
	old := ch.rchain
	if c.len() == 0 {
		ch.rchain = nil
		ch.mrr.Format = rp
		ch.rustream = &ch.mrr.Stream
	} else {
		ch.rchain = c
		ch.mrr.Format = hwSide
		ch.rustream = c.streams[len(c.streams)-1]
	}

	return old
}

// drainPlayChain pushes data resident in the play chain into the play ring,
// at most maxUsed bytes in the ring. It returns the user bytes consumed.
func (ch *channel) drainPlayChain(maxUsed int) int {
	if ch.pchain.len() == 0 {
		return 0
	}
	before := ch.pustream.Used()
	ch.pchain.filters[0].SetFetcher(nullFetcher{})
	if err := ch.pchain.last().FetchTo(&ch.mpr.Stream, maxUsed); err != nil {
		log.Warnf("Channel %d: play conversion failed: %v", ch.slot, err)
	}

	return before - ch.pustream.Used()
}

// drainRecordChain converts data resident in the record ring into the
// user-facing stream. It returns the user bytes produced.
func (ch *channel) drainRecordChain() int {
	if ch.rchain.len() == 0 {
		return 0
	}
	before := ch.rustream.Used()
	ch.rchain.filters[0].SetFetcher(nil)
	if err := ch.rchain.last().FetchTo(ch.rustream, ch.rustream.Size()); err != nil {
		log.Warnf("Channel %d: record conversion failed: %v", ch.slot, err)
	}

	return ch.rustream.Used() - before
}

// calcWater sets the watermarks from the user-facing streams.
func (ch *channel) calcWater() {
	ch.mpr.setPlayWater(ch.pustream.Size())
	ch.mrr.setRecordWater(ch.rustream.Size())
}

// padSilence fills cc bytes at off of the play ring with silence, skipping
// what the last pad already covers.
func (ch *channel) padSilence(off, cc int) {
	r := ch.mpr
	if ch.silCount > 0 {
		s := ch.silStart
		e := s + ch.silCount
		p := off
		if p < s {
			p += r.Size()
		}
		q := p + cc
		if s <= p && p < e && s <= q && q <= e {
			return
		}
		if s <= p {
			ch.silCount = max(ch.silCount, q-s)
		}
	} else {
		ch.silStart = off
		ch.silCount = cc
	}
	r.fillSilence(off, cc)
}
