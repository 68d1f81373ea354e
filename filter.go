package vaudio

import (
	"errors"
	"fmt"
)

// Fetcher produces data into a stream on demand.
type Fetcher interface {
	// FetchTo adds data to dst until it holds maxUsed bytes or the source runs dry.
	FetchTo(dst *Stream, maxUsed int) error
}

// Filter is one stage of a conversion chain. It reads its input stream,
// refilled from the upstream fetcher, and converts into the stream it is asked to fill.
type Filter interface {
	Fetcher
	// SetFetcher sets the upstream stage. A nil fetcher means the input is filled externally.
	SetFetcher(f Fetcher)
	// SetInput sets the stream the filter converts from.
	SetInput(s *Stream)
	// Close releases the filter.
	Close() error
}

// FilterRequest is the conversion a factory is asked to build.
type FilterRequest struct {
	From Format
	To   Format
}

// FilterFactory builds a filter for a conversion, or fails if it cannot do it.
type FilterFactory func(req FilterRequest) (Filter, error)

// FilterEntry is one requested stage. Format is the format on the hardware side of the stage.
type FilterEntry struct {
	Factory FilterFactory
	Format  Format
}

// FilterList is an ordered list of requested stages, hardware side first.
type FilterList struct {
	entries []FilterEntry
}

// Len returns the number of requested stages.
func (l *FilterList) Len() int {
	return len(l.entries)
}

// Entries returns the requested stages, hardware side first.
func (l *FilterList) Entries() []FilterEntry {
	return l.entries
}

// Append adds a stage on the user side of the list.
func (l *FilterList) Append(factory FilterFactory, f Format) error {
	if len(l.entries) >= AUDIO_MAX_FILTERS {
		return fmt.Errorf("filter list full (%d stages): %w", AUDIO_MAX_FILTERS, ErrInvalidFormat)
	}
	l.entries = append(l.entries, FilterEntry{Factory: factory, Format: f})

	return nil
}

// Prepend adds a stage on the hardware side of the list.
func (l *FilterList) Prepend(factory FilterFactory, f Format) error {
	if len(l.entries) >= AUDIO_MAX_FILTERS {
		return fmt.Errorf("filter list full (%d stages): %w", AUDIO_MAX_FILTERS, ErrInvalidFormat)
	}
	l.entries = append([]FilterEntry{{Factory: factory, Format: f}}, l.entries...)

	return nil
}

// Set replaces stage i.
func (l *FilterList) Set(i int, factory FilterFactory, f Format) error {
	if i < 0 || i >= AUDIO_MAX_FILTERS {
		return fmt.Errorf("filter index %d: %w", i, ErrInvalidFormat)
	}
	for len(l.entries) <= i {
		l.entries = append(l.entries, FilterEntry{})
	}
	l.entries[i] = FilterEntry{Factory: factory, Format: f}

	return nil
}

// Reset empties the list.
func (l *FilterList) Reset() {
	l.entries = l.entries[:0]
}

// chain is an installed conversion chain. streams[i] is the input of filters[i].
type chain struct {
	filters []Filter
	streams []*Stream
}

func (c *chain) len() int {
	if c == nil {
		return 0
	}

	return len(c.filters)
}

// last returns the stage closest to the output.
func (c *chain) last() Filter {
	return c.filters[len(c.filters)-1]
}

func (c *chain) close() {
	if c == nil {
		return
	}
	for _, f := range c.filters {
		_ = f.Close()
	}
	c.filters, c.streams = nil, nil
}

// buildPlayChain builds the stages converting user format from into the
// hardware-side formats of list. streams[0] becomes the user-facing stream.
func buildPlayChain(from Format, list *FilterList) (*chain, error) {
	n := list.Len()
	c := &chain{
		filters: make([]Filter, 0, n),
		streams: make([]*Stream, 0, n),
	}

	for i := 0; i < n; i++ {
		entry := list.entries[n-i-1]
		to, err := entry.Format.Check()
		if err != nil {
			c.close()

			return nil, err
		}
		if entry.Factory == nil {
			c.close()

			return nil, fmt.Errorf("play stage %d has no factory: %w", i, ErrInvalidFormat)
		}
		f, err := entry.Factory(FilterRequest{From: from, To: to})
		if err != nil {
			c.close()

			return nil, fmt.Errorf("play stage %d %s -> %s: %w", i, from, to, errors.Join(ErrInvalidFormat, err))
		}
		s := NewStream(AU_RING_SIZE, from)
		f.SetInput(s)
		if i > 0 {
			f.SetFetcher(c.filters[i-1])
		}
		c.filters = append(c.filters, f)
		c.streams = append(c.streams, s)
		from = to
	}

	return c, nil
}

// buildRecordChain builds the stages converting the hardware-side formats of
// list into user format to. The first stage reads in, the last stream is the user-facing stream.
func buildRecordChain(in *Stream, to Format, list *FilterList) (*chain, error) {
	n := list.Len()
	c := &chain{
		filters: make([]Filter, 0, n),
		streams: make([]*Stream, 0, n),
	}

	for i := 0; i < n; i++ {
		from, err := list.entries[i].Format.Check()
		if err != nil {
			c.close()

			return nil, err
		}
		out := to
		if i+1 < n {
			if out, err = list.entries[i+1].Format.Check(); err != nil {
				c.close()

				return nil, err
			}
		}
		if list.entries[i].Factory == nil {
			c.close()

			return nil, fmt.Errorf("record stage %d has no factory: %w", i, ErrInvalidFormat)
		}
		f, err := list.entries[i].Factory(FilterRequest{From: from, To: out})
		if err != nil {
			c.close()

			return nil, fmt.Errorf("record stage %d %s -> %s: %w", i, from, out, errors.Join(ErrInvalidFormat, err))
		}
		if i == 0 {
			f.SetInput(in)
		} else {
			f.SetInput(c.streams[i-1])
			f.SetFetcher(c.filters[i-1])
		}
		c.filters = append(c.filters, f)
		c.streams = append(c.streams, NewStream(AU_RING_SIZE, out))
	}

	return c, nil
}

// nullFetcher never produces data. Installed upstream of a chain it drains
// what is already resident in the intermediate streams.
type nullFetcher struct{}

func (nullFetcher) FetchTo(*Stream, int) error {
	return nil
}

// userFetcher copies caller bytes into the user-facing stream. The thread lock
// is released around each copy; the caller marks the ring as copying.
type userFetcher struct {
	d        *Device
	src      []byte
	done     int
	usedHigh int
	lastUsed int
}

// FetchTo moves as much as fits, ignoring maxUsed, so the user-facing stream
// reports the true backlog.
func (u *userFetcher) FetchTo(dst *Stream, _ int) error {
	u.lastUsed = dst.Used()
	if u.lastUsed >= u.usedHigh {
		return nil
	}

	size := min(len(u.src)-u.done, dst.Space())
	for size > 0 {
		region := dst.contiguousIn()
		n := min(size, len(region))
		u.d.mu.Unlock()
		copy(region[:n], u.src[u.done:u.done+n])
		u.d.mu.Lock()
		dst.AdvanceIn(n)
		u.done += n
		size -= n
	}
	u.lastUsed = dst.Used()

	return nil
}

func (u *userFetcher) remaining() int {
	return len(u.src) - u.done
}
