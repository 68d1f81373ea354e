package vaudio

import (
	"encoding/binary"
	"fmt"
)

// sampleCodec reads and writes single samples of a format as int32 values
// scaled to the full 32-bit range.
type sampleCodec struct {
	f     Format
	size  int
	shift uint
	big   bool
	uns   bool
}

func newSampleCodec(f Format) (sampleCodec, error) {
	c := sampleCodec{f: f, size: f.SampleSize()}
	switch f.Encoding {
	case AUDIO_ENCODING_ULAW, AUDIO_ENCODING_ALAW:
	case AUDIO_ENCODING_SLINEAR_LE, AUDIO_ENCODING_SLINEAR_BE,
		AUDIO_ENCODING_ULINEAR_LE, AUDIO_ENCODING_ULINEAR_BE:
		if c.size < 1 || c.size > 4 {
			return c, fmt.Errorf("precision %d: %w", f.Precision, ErrInvalidFormat)
		}
		c.shift = uint(32 - 8*c.size)
		c.big = f.IsBigEndian()
		c.uns = f.IsUnsigned()
	default:
		return c, fmt.Errorf("no codec for %s: %w", f.Encoding, ErrInvalidFormat)
	}

	return c, nil
}

func (c sampleCodec) decode(p []byte) int32 {
	switch c.f.Encoding {
	case AUDIO_ENCODING_ULAW:
		return int32(ulawToLinear(p[0])) << 16
	case AUDIO_ENCODING_ALAW:
		return int32(alawToLinear(p[0])) << 16
	}

	var u uint32
	switch c.size {
	case 1:
		u = uint32(p[0])
	case 2:
		if c.big {
			u = uint32(binary.BigEndian.Uint16(p))
		} else {
			u = uint32(binary.LittleEndian.Uint16(p))
		}
	case 3:
		if c.big {
			u = uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
		} else {
			u = uint32(p[2])<<16 | uint32(p[1])<<8 | uint32(p[0])
		}
	case 4:
		if c.big {
			u = binary.BigEndian.Uint32(p)
		} else {
			u = binary.LittleEndian.Uint32(p)
		}
	}
	u <<= c.shift
	if c.uns {
		u ^= 0x80000000
	}

	return int32(u)
}

func (c sampleCodec) encode(p []byte, v int32) {
	switch c.f.Encoding {
	case AUDIO_ENCODING_ULAW:
		p[0] = linearToUlaw(int16(v >> 16))

		return
	case AUDIO_ENCODING_ALAW:
		p[0] = linearToAlaw(int16(v >> 16))

		return
	}

	u := uint32(v)
	if c.uns {
		u ^= 0x80000000
	}
	u >>= c.shift
	switch c.size {
	case 1:
		p[0] = byte(u)
	case 2:
		if c.big {
			binary.BigEndian.PutUint16(p, uint16(u))
		} else {
			binary.LittleEndian.PutUint16(p, uint16(u))
		}
	case 3:
		if c.big {
			p[0], p[1], p[2] = byte(u>>16), byte(u>>8), byte(u)
		} else {
			p[0], p[1], p[2] = byte(u), byte(u>>8), byte(u>>16)
		}
	case 4:
		if c.big {
			binary.BigEndian.PutUint32(p, u)
		} else {
			binary.LittleEndian.PutUint32(p, u)
		}
	}
}

// G.711 mu-law and a-law, 16-bit linear side.

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0f) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(0x84 - t)
	}

	return int16(t - 0x84)
}

func linearToUlaw(s int16) byte {
	const clip = 32635

	v := int(s)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > clip {
		v = clip
	}
	v += 0x84

	exp := 7
	for mask := 0x4000; v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (v >> (exp + 3)) & 0x0f

	return ^byte(sign | exp<<4 | mant)
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0f) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}

	return int16(-t)
}

var alawSegEnd = [8]int{0x1f, 0x3f, 0x7f, 0xff, 0x1ff, 0x3ff, 0x7ff, 0xfff}

func linearToAlaw(s int16) byte {
	v := int(s) >> 3
	mask := 0xd5
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}

	seg := 0
	for seg < len(alawSegEnd) && v > alawSegEnd[seg] {
		seg++
	}
	if seg >= len(alawSegEnd) {
		return byte(0x7f ^ mask)
	}

	aval := seg << 4
	if seg < 2 {
		aval |= (v >> 1) & 0x0f
	} else {
		aval |= (v >> seg) & 0x0f
	}

	return byte(aval ^ mask)
}

// frameFilter is the common part of the converters: an input stream, the
// upstream fetcher and codecs for both sides.
type frameFilter struct {
	prev  Fetcher
	src   *Stream
	from  Format
	to    Format
	in    sampleCodec
	out   sampleCodec
	inFS  int
	outFS int

	frame []int32
	tmp   []byte
}

func newFrameFilter(req FilterRequest) (frameFilter, error) {
	in, err := newSampleCodec(req.From)
	if err != nil {
		return frameFilter{}, err
	}
	out, err := newSampleCodec(req.To)
	if err != nil {
		return frameFilter{}, err
	}

	return frameFilter{
		from:  req.From,
		to:    req.To,
		in:    in,
		out:   out,
		inFS:  req.From.FrameSize(),
		outFS: req.To.FrameSize(),
		frame: make([]int32, max(req.From.Channels, req.To.Channels)),
		tmp:   make([]byte, max(req.From.FrameSize(), req.To.FrameSize())),
	}, nil
}

func (f *frameFilter) SetFetcher(prev Fetcher) {
	f.prev = prev
}

func (f *frameFilter) SetInput(s *Stream) {
	f.src = s
}

func (f *frameFilter) Close() error {
	f.src, f.prev = nil, nil

	return nil
}

// pull asks the upstream stage for enough input to hold n bytes.
func (f *frameFilter) pull(n int) error {
	if f.prev == nil || f.src == nil {
		return nil
	}

	return f.prev.FetchTo(f.src, min(n, f.src.Size()))
}

// readFrame decodes the frame at the input cursor and consumes it.
func (f *frameFilter) readFrame() {
	f.src.Peek(f.tmp[:f.inFS])
	for ch := 0; ch < int(f.from.Channels); ch++ {
		f.frame[ch] = f.in.decode(f.tmp[ch*f.in.size:])
	}
	f.src.AdvanceOut(f.inFS)
}

// writeFrame encodes samples into dst at its input cursor.
func (f *frameFilter) writeFrame(dst *Stream, samples []int32) {
	for ch := 0; ch < int(f.to.Channels); ch++ {
		f.out.encode(f.tmp[ch*f.out.size:], samples[ch])
	}
	dst.CopyIn(f.tmp[:f.outFS])
}

// outFrames returns the frames dst should receive to reach maxUsed.
func (f *frameFilter) outFrames(dst *Stream, maxUsed int) int {
	want := min(maxUsed, dst.Size()) - dst.Used()
	if want <= 0 {
		return 0
	}

	return min(want, dst.Space()) / f.outFS
}

// encodingFilter converts between encodings and precisions frame by frame.
type encodingFilter struct {
	frameFilter
}

// EncodingFilter converts the sample encoding and precision. Channels and rate must match.
func EncodingFilter(req FilterRequest) (Filter, error) {
	if req.From.Channels != req.To.Channels || req.From.SampleRate != req.To.SampleRate {
		return nil, fmt.Errorf("encoding stage cannot change layout %s -> %s: %w", req.From, req.To, ErrInvalidFormat)
	}
	ff, err := newFrameFilter(req)
	if err != nil {
		return nil, err
	}

	return &encodingFilter{frameFilter: ff}, nil
}

func (f *encodingFilter) FetchTo(dst *Stream, maxUsed int) error {
	n := f.outFrames(dst, maxUsed)
	if n == 0 {
		return nil
	}
	if err := f.pull(n * f.inFS); err != nil {
		return err
	}

	n = min(n, f.src.Used()/f.inFS)
	for i := 0; i < n; i++ {
		f.readFrame()
		f.writeFrame(dst, f.frame)
	}

	return nil
}

// channelFilter remaps channels: mono is duplicated, a downmix to mono is
// averaged and other counts copy channels cyclically.
type channelFilter struct {
	frameFilter
	mapped []int32
}

// ChannelFilter converts the channel count. Encoding and rate must match.
func ChannelFilter(req FilterRequest) (Filter, error) {
	if req.From.SampleRate != req.To.SampleRate || req.From.Encoding != req.To.Encoding ||
		req.From.Precision != req.To.Precision {
		return nil, fmt.Errorf("channel stage cannot change encoding or rate %s -> %s: %w", req.From, req.To, ErrInvalidFormat)
	}
	ff, err := newFrameFilter(req)
	if err != nil {
		return nil, err
	}

	return &channelFilter{frameFilter: ff, mapped: make([]int32, req.To.Channels)}, nil
}

func (f *channelFilter) FetchTo(dst *Stream, maxUsed int) error {
	n := f.outFrames(dst, maxUsed)
	if n == 0 {
		return nil
	}
	if err := f.pull(n * f.inFS); err != nil {
		return err
	}

	inCh, outCh := int(f.from.Channels), int(f.to.Channels)
	n = min(n, f.src.Used()/f.inFS)
	for i := 0; i < n; i++ {
		f.readFrame()
		switch {
		case outCh == 1 && inCh > 1:
			var sum int64
			for ch := 0; ch < inCh; ch++ {
				sum += int64(f.frame[ch])
			}
			f.mapped[0] = int32(sum / int64(inCh))
		default:
			for ch := 0; ch < outCh; ch++ {
				f.mapped[ch] = f.frame[ch%inCh]
			}
		}
		f.writeFrame(dst, f.mapped)
	}

	return nil
}

// rateFilter resamples by linear interpolation. The position between the last
// consumed frame and the next one is carried across fetches in 32.32 fixed point.
type rateFilter struct {
	frameFilter
	step   uint64
	pos    uint64
	primed bool
	x0     []int32
	out    []int32
}

// RateFilter converts the sample rate. Encoding and channels must match.
func RateFilter(req FilterRequest) (Filter, error) {
	if req.From.Channels != req.To.Channels || req.From.Encoding != req.To.Encoding ||
		req.From.Precision != req.To.Precision {
		return nil, fmt.Errorf("rate stage cannot change encoding or channels %s -> %s: %w", req.From, req.To, ErrInvalidFormat)
	}
	ff, err := newFrameFilter(req)
	if err != nil {
		return nil, err
	}

	return &rateFilter{
		frameFilter: ff,
		step:        uint64(req.From.SampleRate) << 32 / uint64(req.To.SampleRate),
		x0:          make([]int32, req.From.Channels),
		out:         make([]int32, req.From.Channels),
	}, nil
}

func (f *rateFilter) FetchTo(dst *Stream, maxUsed int) error {
	n := f.outFrames(dst, maxUsed)
	if n == 0 {
		return nil
	}
	need := int(uint64(n)*f.step>>32) + 2
	if err := f.pull(need * f.inFS); err != nil {
		return err
	}

	channels := int(f.from.Channels)
	if !f.primed {
		if f.src.Used() < f.inFS {
			return nil
		}
		f.readFrame()
		copy(f.x0, f.frame[:channels])
		f.primed = true
	}

	for ; n > 0; n-- {
		for f.pos >= 1<<32 {
			if f.src.Used() < f.inFS {
				return nil
			}
			f.readFrame()
			copy(f.x0, f.frame[:channels])
			f.pos -= 1 << 32
		}
		if f.src.Used() < f.inFS {
			return nil
		}
		// x1 is the next unread frame.
		f.src.Peek(f.tmp[:f.inFS])
		frac := int64(f.pos>>16) & 0xffff
		for ch := 0; ch < channels; ch++ {
			x1 := int64(f.in.decode(f.tmp[ch*f.in.size:]))
			x0 := int64(f.x0[ch])
			f.out[ch] = int32(x0 + (x1-x0)*frac>>16)
		}
		f.writeFrame(dst, f.out)
		f.pos += f.step
	}

	return nil
}

// setConverter returns the stages converting between a user format and the
// hardware-side format hw, hardware side first. Both directions use the same
// list: the encoding stage sits next to the user and the rate stage next to the hardware.
func setConverter(user, hw Format) (*FilterList, error) {
	list := &FilterList{}
	if formatsEqual(user, hw) {
		return list, nil
	}

	if user.Encoding.IsCompressed() || hw.Encoding.IsCompressed() ||
		user.Encoding == AUDIO_ENCODING_ADPCM || hw.Encoding == AUDIO_ENCODING_ADPCM {
		return nil, fmt.Errorf("no converter for %s -> %s: %w", user, hw, ErrInvalidFormat)
	}

	cur := hw
	if user.SampleRate != hw.SampleRate {
		if err := list.Append(RateFilter, cur); err != nil {
			return nil, err
		}
		cur.SampleRate = user.SampleRate
	}
	if user.Channels != hw.Channels {
		if err := list.Append(ChannelFilter, cur); err != nil {
			return nil, err
		}
		cur.Channels = user.Channels
	}
	if user.Encoding != hw.Encoding || user.Precision != hw.Precision {
		if err := list.Append(EncodingFilter, cur); err != nil {
			return nil, err
		}
	}

	return list, nil
}
