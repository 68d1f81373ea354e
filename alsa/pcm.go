package alsa

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Config encapsulates the hardware and software parameters of a PCM stream.
type Config struct {
	Channels    uint32
	Rate        uint32
	PeriodSize  uint32
	PeriodCount uint32
	Format      PcmFormat
	// StartThreshold is the number of queued frames that starts playback.
	// Zero means a full buffer for playback and one frame for capture.
	StartThreshold uint32
	AvailMin       uint32
}

// PCM represents an open ALSA PCM device handle.
type PCM struct {
	file       *os.File
	config     Config
	flags      PcmFlag
	configured bool
	bufferSize uint32 // In frames
	subdevice  uint32
	xruns      atomic.Int64
}

func pcmPath(card, device uint, flags PcmFlag) string {
	stream := 'p'
	if flags&PCM_IN != 0 {
		stream = 'c'
	}

	return fmt.Sprintf("/dev/snd/pcmC%dD%d%c", card, device, stream)
}

// ParseName parses a device name in the format "hw:C,D".
func ParseName(name string) (card, device uint, err error) {
	if !strings.HasPrefix(name, "hw:") {
		return 0, 0, fmt.Errorf("invalid PCM name %q: missing 'hw:' prefix", name)
	}

	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid PCM name %q: expected 'hw:card,device'", name)
	}

	c, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid card number '%s': %w", parts[0], err)
	}
	d, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid device number '%s': %w", parts[1], err)
	}

	return uint(c), uint(d), nil
}

// PcmOpen opens an ALSA PCM device. A non-nil config is applied at once,
// otherwise SetConfig must be called before any transfer.
func PcmOpen(card, device uint, flags PcmFlag, config *Config) (*PCM, error) {
	path := pcmPath(card, device, flags)

	// Always open non-blocking so a busy device does not hang, then clear the
	// flag if blocking I/O was requested.
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	if flags&PCM_NONBLOCK == 0 {
		fl, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fcntl F_GETFL for %s failed: %w", path, err)
		}
		if _, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, fl&^syscall.O_NONBLOCK); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
		}
	}

	var info sndPcmInfo
	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	pcm := &PCM{
		file:      file,
		flags:     flags,
		subdevice: info.Subdevice,
	}

	if config != nil {
		if err := pcm.SetConfig(config); err != nil {
			_ = pcm.Close()

			return nil, fmt.Errorf("failed to set PCM config: %w", err)
		}
	}

	return pcm, nil
}

// IsReady checks if the PCM handle is valid.
func (p *PCM) IsReady() bool {
	return p != nil && p.file != nil
}

// Close closes the PCM device handle.
func (p *PCM) Close() error {
	if !p.IsReady() {
		return nil
	}

	err := p.file.Close()
	p.file = nil
	p.bufferSize = 0
	p.configured = false

	return err
}

// Config returns a copy of the PCM's current configuration.
func (p *PCM) Config() Config {
	return p.config
}

// BufferSize returns the PCM's total buffer size in frames.
func (p *PCM) BufferSize() uint32 {
	return p.bufferSize
}

// Subdevice returns the subdevice number of the PCM stream.
func (p *PCM) Subdevice() uint32 {
	return p.subdevice
}

// Xruns returns the number of underruns or overruns recovered from.
func (p *PCM) Xruns() int {
	return int(p.xruns.Load())
}

// FrameSize returns the size of a single frame in bytes.
func (p *PCM) FrameSize() uint32 {
	return p.config.Channels * (PcmFormatToBits(p.config.Format) / 8)
}

// PeriodTime returns the duration of a single period.
func (p *PCM) PeriodTime() time.Duration {
	if p.config.Rate == 0 {
		return 0
	}

	return time.Duration(uint64(p.config.PeriodSize) * uint64(time.Second) / uint64(p.config.Rate))
}

// SetConfig sets the hardware and software parameters of a stopped stream and
// prepares it.
func (p *PCM) SetConfig(config *Config) error {
	if !p.IsReady() {
		return fmt.Errorf("PCM handle is not valid")
	}
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if p.configured {
		_ = ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0)
		if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_FREE, 0); err != nil {
			return fmt.Errorf("ioctl HW_FREE failed: %w", err)
		}
		p.configured = false
	}

	hw := &sndPcmHwParams{}
	paramInit(hw)
	paramSetMask(hw, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)
	paramSetMask(hw, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
	paramSetMin(hw, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, config.PeriodSize)
	paramSetInt(hw, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
	paramSetInt(hw, SNDRV_PCM_HW_PARAM_PERIODS, config.PeriodCount)
	paramSetInt(hw, SNDRV_PCM_HW_PARAM_RATE, config.Rate)

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_PARAMS, uintptr(unsafe.Pointer(hw))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS failed: %w", err)
	}

	p.config = *config
	p.config.PeriodSize = paramGetInt(hw, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	p.config.PeriodCount = paramGetInt(hw, SNDRV_PCM_HW_PARAM_PERIODS)
	p.config.Channels = paramGetInt(hw, SNDRV_PCM_HW_PARAM_CHANNELS)
	p.config.Rate = paramGetInt(hw, SNDRV_PCM_HW_PARAM_RATE)
	p.bufferSize = p.config.PeriodSize * p.config.PeriodCount

	if p.config.Channels == 0 || p.config.Rate == 0 || p.config.PeriodSize == 0 || p.config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (Channels=%d, Rate=%d, PeriodSize=%d, PeriodCount=%d)",
			p.config.Channels, p.config.Rate, p.config.PeriodSize, p.config.PeriodCount)
	}

	sw := &sndPcmSwParams{}
	sw.TstampMode = 1
	sw.PeriodStep = 1
	if p.config.AvailMin == 0 {
		p.config.AvailMin = p.config.PeriodSize
	}
	sw.AvailMin = SndPcmUframesT(p.config.AvailMin)

	if p.config.StartThreshold == 0 {
		if p.flags&PCM_IN != 0 {
			p.config.StartThreshold = 1
		} else {
			p.config.StartThreshold = p.bufferSize
		}
	}
	sw.StartThreshold = SndPcmUframesT(p.config.StartThreshold)
	sw.StopThreshold = SndPcmUframesT(p.bufferSize)
	sw.XferAlign = SndPcmUframesT(p.config.PeriodSize / 2)

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SW_PARAMS, uintptr(unsafe.Pointer(sw))); err != nil {
		return fmt.Errorf("ioctl SW_PARAMS failed: %w", err)
	}
	p.configured = true

	return p.Prepare()
}

// Prepare readies the PCM device for I/O operations.
func (p *PCM) Prepare() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_PREPARE, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return nil
}

// Stop abruptly stops the PCM stream, dropping any pending frames. A
// transfer blocked in another goroutine returns.
func (p *PCM) Stop() error {
	if !p.IsReady() {
		return nil
	}
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// Drain waits for all pending frames in the buffer to be played.
func (p *PCM) Drain() error {
	if !p.IsReady() {
		return fmt.Errorf("PCM handle is not valid")
	}
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DRAIN, 0); err != nil {
		return fmt.Errorf("ioctl DRAIN failed: %w", err)
	}

	return nil
}

// Write writes interleaved frames to a playback stream. It returns the
// number of frames written.
func (p *PCM) Write(data []byte) (int, error) {
	if p.flags&PCM_IN != 0 {
		return 0, fmt.Errorf("cannot write to a capture device")
	}

	return p.transfer(SNDRV_PCM_IOCTL_WRITEI_FRAMES, data)
}

// Read reads interleaved frames from a capture stream. It returns the
// number of frames read.
func (p *PCM) Read(data []byte) (int, error) {
	if p.flags&PCM_IN == 0 {
		return 0, fmt.Errorf("cannot read from a playback device")
	}

	return p.transfer(SNDRV_PCM_IOCTL_READI_FRAMES, data)
}

func (p *PCM) transfer(req uintptr, data []byte) (int, error) {
	if !p.IsReady() || !p.configured {
		return 0, fmt.Errorf("PCM is not configured")
	}

	fs := p.FrameSize()
	if fs == 0 {
		return 0, fmt.Errorf("invalid frame size")
	}
	frames := uint32(len(data)) / fs
	if frames == 0 {
		return 0, fmt.Errorf("buffer of %d bytes holds no frame", len(data))
	}
	defer runtime.KeepAlive(data)

	done := uint32(0)
	for done < frames {
		xfer := sndXferi{
			Frames: SndPcmUframesT(frames - done),
			Buf:    uintptr(unsafe.Pointer(&data[done*fs])),
		}

		err := ioctl(p.file.Fd(), req, uintptr(unsafe.Pointer(&xfer)))
		if xfer.Result > 0 {
			done += uint32(xfer.Result)
		}
		if err == nil {
			continue
		}

		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ESTRPIPE) {
			if rerr := p.xrunRecover(err); rerr != nil {
				return int(done), rerr
			}

			continue
		}
		if p.flags&PCM_NONBLOCK != 0 && errors.Is(err, syscall.EAGAIN) {
			return int(done), syscall.EAGAIN
		}

		return int(done), fmt.Errorf("ioctl transfer failed: %w", err)
	}

	return int(done), nil
}

// xrunRecover prepares the stream again after an underrun, overrun or
// system suspend.
func (p *PCM) xrunRecover(err error) error {
	if errors.Is(err, syscall.ESTRPIPE) {
		for {
			rerr := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_RESUME, 0)
			if !errors.Is(rerr, syscall.EAGAIN) {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	} else {
		p.xruns.Add(1)
	}

	if perr := p.Prepare(); perr != nil {
		return fmt.Errorf("recovery failed: %w", perr)
	}

	return nil
}

// PcmFormatToBits returns the number of bits per sample for a given format.
// This reflects the space occupied in memory, so 24-bit formats in 32-bit containers return 32.
func PcmFormatToBits(f PcmFormat) uint32 {
	switch f {
	case SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_S32_BE, SNDRV_PCM_FORMAT_U32_LE, SNDRV_PCM_FORMAT_U32_BE,
		SNDRV_PCM_FORMAT_S24_LE, SNDRV_PCM_FORMAT_S24_BE, SNDRV_PCM_FORMAT_U24_LE, SNDRV_PCM_FORMAT_U24_BE:
		return 32
	case SNDRV_PCM_FORMAT_S24_3LE, SNDRV_PCM_FORMAT_S24_3BE, SNDRV_PCM_FORMAT_U24_3LE, SNDRV_PCM_FORMAT_U24_3BE:
		return 24
	case SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_S16_BE, SNDRV_PCM_FORMAT_U16_LE, SNDRV_PCM_FORMAT_U16_BE:
		return 16
	case SNDRV_PCM_FORMAT_S8, SNDRV_PCM_FORMAT_U8, SNDRV_PCM_FORMAT_MU_LAW, SNDRV_PCM_FORMAT_A_LAW:
		return 8
	default:
		return 0
	}
}
