package vaudio

import (
	"fmt"
)

// Stream is a circular byte region with an input and an output cursor.
// The usable part of the region is [0, Size()).
type Stream struct {
	buf  []byte
	end  int
	in   int
	out  int
	used int

	// Format describes the bytes held by the stream.
	Format Format
}

// NewStream allocates a stream of at most AU_RING_SIZE bytes, rounded down to a whole frame.
func NewStream(size int, f Format) *Stream {
	if size > AU_RING_SIZE {
		size = AU_RING_SIZE
	}
	if fs := f.FrameSize(); fs > 0 {
		size -= size % fs
	}
	if size < 0 {
		size = 0
	}

	return &Stream{buf: make([]byte, size), end: size, Format: f}
}

// Size returns the usable capacity.
func (s *Stream) Size() int {
	return s.end
}

// Used returns the bytes between out and in.
func (s *Stream) Used() int {
	return s.used
}

// Space returns the free bytes.
func (s *Stream) Space() int {
	return s.end - s.used
}

// In returns the offset of the input cursor.
func (s *Stream) In() int {
	return s.in
}

// Out returns the offset of the output cursor.
func (s *Stream) Out() int {
	return s.out
}

// Bytes returns the usable region.
func (s *Stream) Bytes() []byte {
	return s.buf[:s.end]
}

// AdvanceIn marks n bytes at the input cursor as written.
// It panics if n exceeds the free space.
func (s *Stream) AdvanceIn(n int) {
	if n < 0 || n > s.Space() {
		panic(fmt.Sprintf("vaudio: advance in by %d with %d free", n, s.Space()))
	}
	if n == 0 {
		return
	}

	s.in = (s.in + n) % s.end
	s.used += n
}

// AdvanceOut marks n bytes at the output cursor as consumed.
// It panics if n exceeds the used bytes.
func (s *Stream) AdvanceOut(n int) {
	if n < 0 || n > s.used {
		panic(fmt.Sprintf("vaudio: advance out by %d with %d used", n, s.used))
	}
	if n == 0 {
		return
	}

	s.out = (s.out + n) % s.end
	s.used -= n
}

// Reset empties the stream and rewinds both cursors.
func (s *Stream) Reset() {
	s.in, s.out, s.used = 0, 0, 0
}

// CopyIn writes as much of p as fits at the input cursor and advances it.
func (s *Stream) CopyIn(p []byte) int {
	n := min(len(p), s.Space())
	a, b := s.span(s.in, n)
	copy(a, p)
	copy(b, p[len(a):n])
	s.AdvanceIn(n)

	return n
}

// CopyOut reads as much as p holds from the output cursor and advances it.
func (s *Stream) CopyOut(p []byte) int {
	n := s.Peek(p)
	s.AdvanceOut(n)

	return n
}

// Peek reads from the output cursor without consuming.
func (s *Stream) Peek(p []byte) int {
	n := min(len(p), s.used)
	a, b := s.span(s.out, n)
	copy(p, a)
	copy(p[len(a):], b)

	return n
}

// span returns the n bytes starting at off as at most two contiguous slices.
func (s *Stream) span(off, n int) (a, b []byte) {
	if n <= 0 || s.end == 0 {
		return nil, nil
	}
	off %= s.end
	if off+n <= s.end {
		return s.buf[off : off+n], nil
	}

	return s.buf[off:s.end], s.buf[:n-(s.end-off)]
}

// contiguousIn returns the free bytes at the input cursor up to the end of the region.
func (s *Stream) contiguousIn() []byte {
	n := min(s.Space(), s.end-s.in)

	return s.buf[s.in : s.in+n]
}

// contiguousOut returns the used bytes at the output cursor up to the end of the region.
func (s *Stream) contiguousOut() []byte {
	n := min(s.used, s.end-s.out)

	return s.buf[s.out : s.out+n]
}

// zero clears n bytes starting at off, with wrap.
func (s *Stream) zero(off, n int) {
	a, b := s.span(off, n)
	clear(a)
	clear(b)
}

// fillSilence writes the format's silence to n bytes starting at off, with wrap.
func (s *Stream) fillSilence(off, n int) {
	a, b := s.span(off, n)
	s.Format.FillSilence(a)
	s.Format.FillSilence(b)
}

// RingBuffer is a Stream divided into blocks, with the flow control state of
// one direction of a channel.
type RingBuffer struct {
	Stream

	BlockSize int // Bytes per block.
	MaxBlocks int // Whole blocks in the region.
	UsedHigh  int // Writers block above this level.
	UsedLow   int // Writers are woken at or below this level.

	Pause    bool // The direction is paused by the user.
	Mmapped  bool // The region is mapped into the user's address space.
	Copying  bool // A user copy is in flight without the thread lock.
	NeedFill bool // The mixer skipped the ring while it was being written.

	Stamp     int64 // Bytes moved through the ring.
	FStamp    int64 // Bytes moved through the conversion chain.
	StampLast int64 // Stamp at the last offsets query.
	Drops     int64 // Bytes lost or padded.
	PDrops    int64 // Bytes skipped while paused.
}

// NewRingBuffer allocates a ring of size bytes for format f.
func NewRingBuffer(size int, f Format) *RingBuffer {
	r := &RingBuffer{}
	r.buf = make([]byte, size)
	r.end = size
	r.Format = f

	return r
}

// Capacity returns the allocated bytes, which may exceed Size after Init.
func (r *RingBuffer) Capacity() int {
	return len(r.buf)
}

// Init clamps the block size to [AUMINBLK, Capacity()/AUMINNOBLK], rounds it
// to 16 bytes and then with round, if not nil. The usable region becomes a
// whole number of blocks. Cursors, counters, flags and contents are reset.
func (r *RingBuffer) Init(round func(blk int) int) {
	blk := r.BlockSize
	if blk < AUMINBLK {
		blk = AUMINBLK
	}
	if blk > len(r.buf)/AUMINNOBLK {
		blk = len(r.buf) / AUMINNOBLK
	}
	blk &^= 15
	if round != nil {
		blk = round(blk)
	}
	if blk <= 0 {
		panic(fmt.Sprintf("vaudio: ring block size %d", blk))
	}

	r.setup(blk)
}

// setup makes blk the exact block size, clamped to the capacity, and resets the ring.
func (r *RingBuffer) setup(blk int) {
	if blk > len(r.buf)/AUMINNOBLK {
		blk = len(r.buf) / AUMINNOBLK
	}
	if blk <= 0 {
		panic(fmt.Sprintf("vaudio: ring block size %d", blk))
	}

	r.BlockSize = blk
	r.MaxBlocks = len(r.buf) / blk
	r.end = r.MaxBlocks * blk
	r.Reset()
	r.Stamp, r.StampLast, r.FStamp = 0, 0, 0
	r.Drops, r.PDrops = 0, 0
	r.Copying, r.NeedFill, r.Mmapped = false, false, false
	r.Format.FillSilence(r.buf)
}

// rotate moves a mapped ring on by one block. The ring stays full: the
// user owns every byte and the mixer reads the block after the previous one.
func (r *RingBuffer) rotate(blk int) {
	r.out = (r.out + blk) % r.end
	r.in = r.out
	r.used = r.end
}

// setPlayWater sets the play watermarks for a user-facing stream of size bytes.
func (r *RingBuffer) setPlayWater(size int) {
	r.UsedHigh = size
	r.UsedLow = r.UsedHigh * 3 / 4
	if r.UsedLow == r.UsedHigh {
		r.UsedLow -= r.BlockSize
	}
}

// setRecordWater sets the record watermarks for a user-facing stream of size bytes.
func (r *RingBuffer) setRecordWater(size int) {
	r.UsedHigh = size - r.BlockSize
	r.UsedLow = 0
}
