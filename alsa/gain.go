package alsa

import (
	"fmt"

	"github.com/gen2brain/vaudio"
)

const balanceCenter = 32

// The device has a single port per direction.
const onlyPort = 1

// SetGain sets the gain of a direction on its mixer control. Left and right
// are attenuated by the balance. Without an open mixer the values are kept
// and applied on the next Open.
func (h *Hardware) SetGain(mode vaudio.Mode, gain, balance uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.stream(mode)
	if err != nil {
		return err
	}
	if gain > vaudio.AUDIO_MAX_VOLUME || balance > 2*balanceCenter {
		return fmt.Errorf("gain %d balance %d: %w", gain, balance, vaudio.ErrInvalidFormat)
	}

	s.mu.Lock()
	s.gain, s.balance, s.gainSet = gain, balance, true
	s.mu.Unlock()

	if h.mixer == nil {
		return nil
	}

	return h.applyGain(s)
}

// channelGains splits gain into left and right by balance, 0 being full left.
func channelGains(gain, balance uint32) (left, right uint32) {
	left, right = gain, gain
	if balance > balanceCenter {
		left = gain * (2*balanceCenter - balance) / balanceCenter
	} else if balance < balanceCenter {
		right = gain * balance / balanceCenter
	}

	return left, right
}

// balanceOf is the inverse of channelGains.
func balanceOf(left, right uint32) (gain, balance uint32) {
	switch {
	case left == right:
		return left, balanceCenter
	case left > right:
		return left, right * balanceCenter / left
	default:
		return right, 2*balanceCenter - left*balanceCenter/right
	}
}

// applyGain writes the stored gain of s to its control. Called with mu held.
func (h *Hardware) applyGain(s *stream) error {
	ctl, err := h.mixer.CtlByNames(s.ctls...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	left, right := channelGains(s.gain, s.balance)
	s.mu.Unlock()

	for i := uint32(0); i < ctl.NumValues(); i++ {
		v := left
		if ctl.NumValues() > 1 && i%2 == 1 {
			v = right
		}
		if err := ctl.SetScaled(i, int(v), vaudio.AUDIO_MAX_VOLUME); err != nil {
			return err
		}
	}
	log.Debugf("%s gain %d, %d on %q", dirName(s.mode), left, right, ctl.Name())

	return nil
}

// Gain returns the gain and balance of a direction, read from the mixer
// control when there is one.
func (h *Hardware) Gain(mode vaudio.Mode) (uint32, uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.stream(mode)
	if err != nil {
		return 0, 0, err
	}

	if h.mixer != nil {
		if ctl, err := h.mixer.CtlByNames(s.ctls...); err == nil {
			left, err := ctl.Scaled(0, vaudio.AUDIO_MAX_VOLUME)
			if err != nil {
				return 0, 0, err
			}
			right := left
			if ctl.NumValues() > 1 {
				if right, err = ctl.Scaled(1, vaudio.AUDIO_MAX_VOLUME); err != nil {
					return 0, 0, err
				}
			}
			gain, balance := balanceOf(uint32(left), uint32(right))

			return gain, balance, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gain, s.balance, nil
}

// SetPort accepts the single port of a direction.
func (h *Hardware) SetPort(mode vaudio.Mode, port uint32) error {
	if _, err := h.stream(mode); err != nil {
		return err
	}
	if port != onlyPort {
		return fmt.Errorf("port %#x: %w", port, vaudio.ErrInvalidFormat)
	}

	return nil
}

// Port returns the single port of a direction.
func (h *Hardware) Port(mode vaudio.Mode) (uint32, error) {
	if _, err := h.stream(mode); err != nil {
		return 0, err
	}

	return onlyPort, nil
}

// Ports returns the port mask of a direction.
func (h *Hardware) Ports(mode vaudio.Mode) uint32 {
	if _, err := h.stream(mode); err != nil {
		return 0
	}

	return onlyPort
}
