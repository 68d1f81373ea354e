// Package otohw plays the output of a vaudio.Device through the system audio
// layer of oto. It has no capture direction.
package otohw

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/gen2brain/vaudio"
)

var _ vaudio.Hardware = (*Hardware)(nil)

// oto allows a single context per process. Guarded by the mu of the
// Hardware that makes it.
var (
	ctxOnce sync.Once
	ctx     *oto.Context
	ctxFmt  vaudio.Format
	ctxErr  error
)

// Hardware is a playback-only vaudio.Hardware on top of an oto player.
type Hardware struct {
	// Buffer is the latency of the oto player.
	Buffer time.Duration

	mu     sync.Mutex
	open   bool
	format vaudio.Format
	player *oto.Player
	dma    *vaudio.DMA

	// Bytes of the current block not yet handed to oto.
	pending []byte
	block   []byte
}

// New returns a Hardware with the given player latency.
func New(buffer time.Duration) *Hardware {
	return &Hardware{Buffer: buffer}
}

// Open is a no-op: the oto context is made on the first trigger, when the
// format is known.
func (h *Hardware) Open(vaudio.Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.open {
		return vaudio.ErrBusy
	}
	h.open = true

	return nil
}

// Close stops the player.
func (h *Hardware) Close() error {
	h.mu.Lock()
	player := h.player
	h.player, h.dma, h.open = nil, nil, false
	h.mu.Unlock()

	if player != nil {
		return player.Close()
	}

	return nil
}

// Props reports playback only.
func (h *Hardware) Props() vaudio.Props {
	return vaudio.AUDIO_PROP_PLAYBACK
}

// SetParams grants 16-bit signed little endian at the requested layout.
// Once the oto context exists, its layout is the only one granted.
func (h *Hardware) SetParams(_ vaudio.Mode, play, rec *vaudio.Format) error {
	if rec != nil {
		return fmt.Errorf("oto has no capture: %w", vaudio.ErrInvalidFormat)
	}
	if play == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f := *play
	f.Encoding = vaudio.AUDIO_ENCODING_SLINEAR_LE
	f.Precision, f.ValidBits = 16, 16
	if ctx != nil && (f.Channels != ctxFmt.Channels || f.SampleRate != ctxFmt.SampleRate) {
		return fmt.Errorf("oto is running at %s: %w", ctxFmt, vaudio.ErrInvalidFormat)
	}
	if f.Channels == 0 || f.Channels > 2 {
		return fmt.Errorf("%d channels: %w", f.Channels, vaudio.ErrInvalidFormat)
	}

	h.format = f
	*play = f

	return nil
}

func otoContext(f vaudio.Format, buffer time.Duration) (*oto.Context, error) {
	ctxOnce.Do(func() {
		var ready chan struct{}
		ctx, ready, ctxErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   int(f.SampleRate),
			ChannelCount: int(f.Channels),
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   buffer,
		})
		if ctxErr == nil {
			<-ready
			ctxFmt = f
		}
	})

	return ctx, ctxErr
}

// TriggerOutput starts a player that pulls blocks from dma.
func (h *Hardware) TriggerOutput(dma *vaudio.DMA) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := otoContext(h.format, h.Buffer)
	if err != nil {
		return errors.Join(vaudio.ErrNoDevice, err)
	}

	h.dma = dma
	h.block = make([]byte, dma.BlockSize())
	h.pending = nil
	if h.player == nil {
		h.player = c.NewPlayer(h)
	}
	// Play prefills from Read, which needs both this lock and the caller's.
	go h.player.Play()

	return nil
}

// TriggerInput fails, there is no capture.
func (h *Hardware) TriggerInput(*vaudio.DMA) error {
	return vaudio.ErrInvalidFormat
}

// HaltOutput detaches the DMA handle. The player keeps pulling silence.
func (h *Hardware) HaltOutput() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dma = nil
	h.pending = nil

	return nil
}

// HaltInput does nothing.
func (h *Hardware) HaltInput() error {
	return nil
}

// Read feeds the oto player. It moves at most one block per call and fills
// the rest with silence when no block is available.
func (h *Hardware) Read(p []byte) (int, error) {
	h.mu.Lock()
	dma, blk := h.dma, h.block
	if len(h.pending) == 0 && dma != nil {
		h.mu.Unlock()
		n := dma.Transfer(blk)
		h.mu.Lock()
		if h.dma == dma && n > 0 {
			h.pending = blk[:n]
		}
		h.mu.Unlock()
		if n > 0 {
			dma.Complete()
		}
		h.mu.Lock()
	}

	n := copy(p, h.pending)
	h.pending = h.pending[n:]
	h.mu.Unlock()

	if n == 0 {
		clear(p)
		n = len(p)
	}

	return n, nil
}
