package alsa

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"
)

// Mixer represents an open ALSA control device handle.
type Mixer struct {
	file     *os.File
	cardInfo sndCtlCardInfo
	Ctls     []*MixerCtl
	ctlMap   map[string][]*MixerCtl // Maps a name to one or more controls
	ctlIdMap map[uint32]*MixerCtl
}

// MixerCtl represents an individual mixer control handle.
type MixerCtl struct {
	mixer *Mixer
	info  sndCtlElemInfo
}

// MixerOpen opens the control device of a card and enumerates its controls.
func MixerOpen(card uint) (*Mixer, error) {
	path := fmt.Sprintf("/dev/snd/controlC%d", card)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open mixer device %s: %w", path, err)
	}

	m := &Mixer{
		file:     file,
		ctlMap:   make(map[string][]*MixerCtl),
		ctlIdMap: make(map[uint32]*MixerCtl),
	}

	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_CARD_INFO, uintptr(unsafe.Pointer(&m.cardInfo))); err != nil {
		_ = m.Close()

		return nil, fmt.Errorf("ioctl CARD_INFO failed: %w", err)
	}

	if err := m.enumerate(); err != nil {
		_ = m.Close()

		return nil, fmt.Errorf("failed to enumerate controls: %w", err)
	}

	return m, nil
}

// Close closes the mixer device handle.
func (m *Mixer) Close() error {
	if m == nil || m.file == nil {
		return nil
	}

	err := m.file.Close()
	m.file = nil

	return err
}

// Name returns the name of the sound card.
func (m *Mixer) Name() string {
	if m == nil {
		return ""
	}

	return cString(m.cardInfo.Name[:])
}

// NumCtls returns the total number of controls found on the mixer.
func (m *Mixer) NumCtls() int {
	if m == nil {
		return 0
	}

	return len(m.Ctls)
}

// Ctl returns a mixer control by its numeric ID.
func (m *Mixer) Ctl(id uint32) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	ctl, ok := m.ctlIdMap[id]
	if !ok {
		return nil, fmt.Errorf("control with id %d not found", id)
	}

	return ctl, nil
}

// CtlByName returns the first mixer control found with the given name.
func (m *Mixer) CtlByName(name string) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	ctls := m.ctlMap[name]
	if len(ctls) == 0 {
		return nil, fmt.Errorf("control not found: %s", name)
	}

	return ctls[0], nil
}

// CtlByNames returns the first control found, trying the names in order.
func (m *Mixer) CtlByNames(names ...string) (*MixerCtl, error) {
	for _, name := range names {
		if ctl, err := m.CtlByName(name); err == nil {
			return ctl, nil
		}
	}

	return nil, fmt.Errorf("none of the controls %q found", names)
}

func (m *Mixer) enumerate() error {
	list := &sndCtlElemList{}
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST (get count) failed: %w", err)
	}
	if list.Count == 0 {
		return nil
	}

	ids := make([]sndCtlElemId, list.Count)
	list.Space = list.Count
	list.Pids = uintptr(unsafe.Pointer(&ids[0]))
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST (get ids) failed: %w", err)
	}

	m.Ctls = make([]*MixerCtl, 0, list.Used)
	for i := uint32(0); i < list.Used; i++ {
		ctl := &MixerCtl{mixer: m}
		ctl.info.Id = ids[i]
		// Controls without readable info are skipped.
		if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_INFO, uintptr(unsafe.Pointer(&ctl.info))); err != nil {
			continue
		}

		m.Ctls = append(m.Ctls, ctl)
		m.ctlMap[ctl.Name()] = append(m.ctlMap[ctl.Name()], ctl)
		m.ctlIdMap[ctl.ID()] = ctl
	}

	return nil
}

// Name returns the name of the control.
func (c *MixerCtl) Name() string {
	if c == nil {
		return ""
	}

	return cString(c.info.Id.Name[:])
}

// ID returns the numeric ID of the control.
func (c *MixerCtl) ID() uint32 {
	if c == nil {
		return ^uint32(0)
	}

	return c.info.Id.Numid
}

// Type returns the value type of the control.
func (c *MixerCtl) Type() MixerCtlType {
	if c == nil {
		return SNDRV_CTL_ELEM_TYPE_UNKNOWN
	}

	return MixerCtlType(c.info.Typ)
}

// NumValues returns the number of values, one per channel for volumes.
func (c *MixerCtl) NumValues() uint32 {
	if c == nil {
		return 0
	}

	return c.info.Count
}

// Range returns the bounds of an integer control.
func (c *MixerCtl) Range() (lo, hi int, err error) {
	if c == nil {
		return 0, 0, fmt.Errorf("control is nil")
	}
	if c.Type() != SNDRV_CTL_ELEM_TYPE_INTEGER {
		return 0, 0, fmt.Errorf("control %s is %s, not INT", c.Name(), c.Type())
	}

	r := (*sndCtlInteger)(unsafe.Pointer(&c.info.Value[0]))

	return int(r.Min), int(r.Max), nil
}

func (c *MixerCtl) read() (*sndCtlElemValue, error) {
	if c == nil || c.mixer == nil || c.mixer.file == nil {
		return nil, fmt.Errorf("control is not open")
	}

	v := &sndCtlElemValue{Id: c.info.Id}
	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_ELEM_READ, uintptr(unsafe.Pointer(v))); err != nil {
		return nil, fmt.Errorf("ioctl ELEM_READ failed: %w", err)
	}

	return v, nil
}

// longs views the value union as the C long array of integer and boolean controls.
func longs(v *sndCtlElemValue) []clong {
	n := len(v.Value) / int(unsafe.Sizeof(clong(0)))

	return unsafe.Slice((*clong)(unsafe.Pointer(&v.Value[0])), n)
}

// Value returns value i of an integer or boolean control.
func (c *MixerCtl) Value(i uint32) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("control is nil")
	}
	if i >= c.NumValues() {
		return 0, fmt.Errorf("value index %d out of range for %s", i, c.Name())
	}
	switch c.Type() {
	case SNDRV_CTL_ELEM_TYPE_INTEGER, SNDRV_CTL_ELEM_TYPE_BOOLEAN:
	default:
		return 0, fmt.Errorf("control %s of type %s has no integer value", c.Name(), c.Type())
	}

	v, err := c.read()
	if err != nil {
		return 0, err
	}

	return int(longs(v)[i]), nil
}

// SetValue sets value i of an integer or boolean control, clamped to its range.
func (c *MixerCtl) SetValue(i uint32, val int) error {
	if c == nil {
		return fmt.Errorf("control is nil")
	}
	if i >= c.NumValues() {
		return fmt.Errorf("value index %d out of range for %s", i, c.Name())
	}
	if CtlAccessFlag(c.info.Access)&SNDRV_CTL_ELEM_ACCESS_WRITE == 0 {
		return fmt.Errorf("control %s is read-only", c.Name())
	}

	switch c.Type() {
	case SNDRV_CTL_ELEM_TYPE_INTEGER:
		lo, hi, _ := c.Range()
		val = min(max(val, lo), hi)
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN:
		val = min(max(val, 0), 1)
	default:
		return fmt.Errorf("control %s of type %s has no integer value", c.Name(), c.Type())
	}

	v, err := c.read()
	if err != nil {
		return err
	}
	longs(v)[i] = clong(val)
	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_ELEM_WRITE, uintptr(unsafe.Pointer(v))); err != nil {
		return fmt.Errorf("ioctl ELEM_WRITE failed: %w", err)
	}

	return nil
}

// Scaled returns value i mapped from the control range to 0..limit.
func (c *MixerCtl) Scaled(i uint32, limit int) (int, error) {
	lo, hi, err := c.Range()
	if err != nil {
		return 0, err
	}
	v, err := c.Value(i)
	if err != nil {
		return 0, err
	}

	return scale(v, lo, hi, limit), nil
}

// SetScaled sets value i from 0..limit mapped onto the control range.
func (c *MixerCtl) SetScaled(i uint32, val, limit int) error {
	lo, hi, err := c.Range()
	if err != nil {
		return err
	}

	return c.SetValue(i, unscale(val, lo, hi, limit))
}

func scale(v, lo, hi, limit int) int {
	if hi <= lo {
		return 0
	}

	return ((v-lo)*limit + (hi-lo)/2) / (hi - lo)
}

func unscale(v, lo, hi, limit int) int {
	if limit <= 0 {
		return lo
	}
	v = min(max(v, 0), limit)

	return lo + (v*(hi-lo)+limit/2)/limit
}

// cString converts a C-style null-terminated byte array to a Go string.
func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return string(b)
	}

	return string(b[:i])
}
