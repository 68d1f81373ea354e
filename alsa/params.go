package alsa

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"unsafe"
)

// PcmParams holds the hardware parameter space of a PCM device.
type PcmParams struct {
	params *sndPcmHwParams
}

// PcmParamsGetRefined asks the kernel to restrict the full parameter space to
// what the device supports. Constraints already set in req are kept; a nil
// req starts from everything.
func PcmParamsGetRefined(card, device uint, flags PcmFlag, req *PcmParams) (*PcmParams, error) {
	path := pcmPath(card, device, flags)

	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s for query: %w", path, err)
	}
	defer file.Close()

	hw := &sndPcmHwParams{}
	if req != nil && req.params != nil {
		*hw = *req.params
	} else {
		paramInit(hw)
	}

	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_HW_REFINE, uintptr(unsafe.Pointer(hw))); err != nil {
		return nil, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return &PcmParams{params: hw}, nil
}

// Refine is PcmParamsGetRefined on an open handle.
func (p *PCM) Refine(req *PcmParams) (*PcmParams, error) {
	if !p.IsReady() {
		return nil, fmt.Errorf("PCM handle is not valid")
	}

	hw := &sndPcmHwParams{}
	if req != nil && req.params != nil {
		*hw = *req.params
	} else {
		paramInit(hw)
	}
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_REFINE, uintptr(unsafe.Pointer(hw))); err != nil {
		return nil, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return &PcmParams{params: hw}, nil
}

// NewPcmParams returns an unrestricted parameter space.
func NewPcmParams() *PcmParams {
	hw := &sndPcmHwParams{}
	paramInit(hw)

	return &PcmParams{params: hw}
}

// SetFormat restricts the space to one format.
func (pp *PcmParams) SetFormat(f PcmFormat) {
	paramSetMask(pp.params, SNDRV_PCM_HW_PARAM_FORMAT, uint32(f))
}

// SetInt restricts an interval parameter to exactly val.
func (pp *PcmParams) SetInt(param PcmParam, val uint32) {
	paramSetInt(pp.params, param, val)
}

// RangeMin returns the minimum value for an interval parameter.
func (pp *PcmParams) RangeMin(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}
	if param < paramFirstInterval || param > paramLastInterval {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return pp.params.Intervals[param-paramFirstInterval].MinVal, nil
}

// RangeMax returns the maximum value for an interval parameter.
func (pp *PcmParams) RangeMax(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}
	if param < paramFirstInterval || param > paramLastInterval {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return pp.params.Intervals[param-paramFirstInterval].MaxVal, nil
}

// Mask returns the bitmask for a mask-type parameter.
func (pp *PcmParams) Mask(param PcmParam) (*PcmParamMask, error) {
	if pp == nil || pp.params == nil {
		return nil, fmt.Errorf("params not initialized")
	}
	if param < paramFirstMask || param > paramLastMask {
		return nil, fmt.Errorf("parameter %v is not a mask type", param)
	}

	return (*PcmParamMask)(unsafe.Pointer(&pp.params.Masks[param-paramFirstMask])), nil
}

// FormatIsSupported checks if a given PCM format is supported.
func (pp *PcmParams) FormatIsSupported(format PcmFormat) bool {
	mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_FORMAT)
	if err != nil || format < 0 {
		return false
	}

	return mask.Test(uint(format))
}

// String returns a human-readable representation of the PCM device's capabilities.
func (pp *PcmParams) String() string {
	if pp == nil || pp.params == nil {
		return "<nil>"
	}

	var b strings.Builder

	var formats []PcmFormat
	for f := range PcmFormatNames {
		if pp.FormatIsSupported(f) {
			formats = append(formats, f)
		}
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	if len(formats) > 0 {
		names := make([]string, len(formats))
		for i, f := range formats {
			names[i] = f.String()
		}
		b.WriteString(fmt.Sprintf("%12s: %s\n", "Format", strings.Join(names, ", ")))
	}

	printInterval := func(name string, param PcmParam, unit string) {
		lo, _ := pp.RangeMin(param)
		hi, _ := pp.RangeMax(param)
		if hi == 0 || hi == ^uint32(0) {
			return
		}
		b.WriteString(fmt.Sprintf("%12s: min=%-6d max=%-6d %s\n", name, lo, hi, unit))
	}
	printInterval("Rate", SNDRV_PCM_HW_PARAM_RATE, "Hz")
	printInterval("Channels", SNDRV_PCM_HW_PARAM_CHANNELS, "")
	printInterval("Sample bits", SNDRV_PCM_HW_PARAM_SAMPLE_BITS, "")
	printInterval("Period size", SNDRV_PCM_HW_PARAM_PERIOD_SIZE, "frames")
	printInterval("Period bytes", SNDRV_PCM_HW_PARAM_PERIOD_BYTES, "")
	printInterval("Periods", SNDRV_PCM_HW_PARAM_PERIODS, "")

	return b.String()
}

// paramInit initializes a sndPcmHwParams struct to allow all possible values.
func paramInit(p *sndPcmHwParams) {
	for n := range p.Masks {
		for i := range p.Masks[n].Bits {
			p.Masks[n].Bits[i] = ^uint32(0)
		}
	}
	for n := range p.Mres {
		for i := range p.Mres[n].Bits {
			p.Mres[n].Bits[i] = ^uint32(0)
		}
	}
	for n := range p.Intervals {
		p.Intervals[n] = sndInterval{MaxVal: ^uint32(0)}
	}
	for n := range p.Ires {
		p.Ires[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	p.Rmask = ^uint32(0)
	p.Info = ^uint32(0)
}

func paramSetMask(p *sndPcmHwParams, param PcmParam, bit uint32) {
	if param < paramFirstMask || param > paramLastMask {
		return
	}

	mask := &p.Masks[param-paramFirstMask]
	mask.Bits = [8]uint32{}
	if bit < 256 {
		mask.Bits[bit>>5] |= 1 << (bit & 31)
	}
}

func paramSetInt(p *sndPcmHwParams, param PcmParam, val uint32) {
	if param < paramFirstInterval || param > paramLastInterval {
		return
	}

	p.Intervals[param-paramFirstInterval] = sndInterval{MinVal: val, MaxVal: val, Flags: SNDRV_PCM_INTERVAL_INTEGER}
}

func paramSetMin(p *sndPcmHwParams, param PcmParam, val uint32) {
	if param < paramFirstInterval || param > paramLastInterval {
		return
	}

	p.Intervals[param-paramFirstInterval].MinVal = val
}

// paramGetInt returns the value the driver narrowed an interval to.
func paramGetInt(p *sndPcmHwParams, param PcmParam) uint32 {
	if param < paramFirstInterval || param > paramLastInterval {
		return 0
	}

	return p.Intervals[param-paramFirstInterval].MinVal
}
