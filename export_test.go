package vaudio

// HoldThreadLock takes the thread lock and returns its release. Hardware
// completions queue up for the mixer while it is held.
func (d *Device) HoldThreadLock() func() {
	d.mu.Lock()

	return d.mu.Unlock
}

// MixBlocks returns how many blocks the play mix ring holds.
func (d *Device) MixBlocks() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pr.Size() / d.pr.BlockSize
}

// Mixed returns a copy of the mixed bytes not yet handed to the hardware.
func (d *Device) Mixed() []byte {
	d.mu.Lock()
	d.intrMu.Lock()
	defer d.mu.Unlock()
	defer d.intrMu.Unlock()

	p := make([]byte, d.pr.Used())
	d.pr.Peek(p)

	return p
}

// HardwarePath describes the hardware side of one direction.
type HardwarePath struct {
	Stages int
	User   *Stream
	Low    int
	High   int
}

// HardwarePaths returns the play and record paths of the hardware slot.
func (d *Device) HardwarePaths() (play, rec HardwarePath) {
	d.mu.Lock()
	d.intrMu.Lock()
	defer d.mu.Unlock()
	defer d.intrMu.Unlock()

	vc := d.vchan[0]
	play = HardwarePath{Stages: vc.pchain.len(), User: vc.pustream, Low: vc.mpr.UsedLow, High: vc.mpr.UsedHigh}
	rec = HardwarePath{Stages: vc.rchain.len(), User: vc.rustream, Low: vc.mrr.UsedLow, High: vc.mrr.UsedHigh}

	return play, rec
}
