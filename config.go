package vaudio

import (
	"fmt"
)

// Config encapsulates the parameters of a Device.
type Config struct {
	// Format is the intermediate mix format. The zero value searches the hardware
	// for a signed linear format it accepts unchanged.
	Format Format
	// BlockMs is the duration of a mix block, AUDIO_BLK_MS if zero.
	BlockMs uint32
	// RingSize is the capacity of every channel ring, AU_RING_SIZE if zero.
	RingSize uint32
	// Saturate enables the gain recovery pass when more than one channel plays.
	// It is off in a zero Config and on in DefaultConfig, which a nil Config selects.
	Saturate bool
	// PlayVolume and RecordVolume are the initial software volumes of new
	// sessions. Zero selects AUDIO_MAX_VOLUME; VolumeMuted starts them at zero.
	PlayVolume   uint32
	RecordVolume uint32
}

// VolumeMuted configures an initial session volume of zero, the lowest mix step.
const VolumeMuted = Unspecified

// DefaultConfig returns the configuration used when NewDevice is given nil.
func DefaultConfig() Config {
	return Config{
		BlockMs:      AUDIO_BLK_MS,
		RingSize:     AU_RING_SIZE,
		Saturate:     true,
		PlayVolume:   AUDIO_MAX_VOLUME,
		RecordVolume: AUDIO_MAX_VOLUME,
	}
}

// withDefaults validates the configuration and fills zero fields.
func (c Config) withDefaults() (Config, error) {
	if c.BlockMs == 0 {
		c.BlockMs = AUDIO_BLK_MS
	}
	if c.RingSize == 0 {
		c.RingSize = AU_RING_SIZE
	}
	c.PlayVolume = initialVolume(c.PlayVolume)
	c.RecordVolume = initialVolume(c.RecordVolume)

	if c.RingSize < AUMINBUF || c.RingSize > AU_RING_SIZE {
		return c, fmt.Errorf("ring size %d out of range [%d, %d]: %w", c.RingSize, AUMINBUF, AU_RING_SIZE, ErrInvalidFormat)
	}
	if c.PlayVolume > AUDIO_MAX_VOLUME || c.RecordVolume > AUDIO_MAX_VOLUME {
		return c, fmt.Errorf("volume above %d: %w", AUDIO_MAX_VOLUME, ErrInvalidFormat)
	}

	if c.Format != (Format{}) {
		f, err := checkMixFormat(c.Format)
		if err != nil {
			return c, err
		}
		c.Format = f
	}

	return c, nil
}

func initialVolume(v uint32) uint32 {
	switch v {
	case 0:
		return AUDIO_MAX_VOLUME
	case VolumeMuted:
		return 0
	}

	return v
}

// checkMixFormat validates an intermediate format. The mix kernels work on
// native signed samples, so only signed linear little-endian 8, 16 or 32 bits qualify.
func checkMixFormat(f Format) (Format, error) {
	f, err := f.Check()
	if err != nil {
		return f, err
	}

	if f.Encoding != AUDIO_ENCODING_SLINEAR_LE {
		return f, fmt.Errorf("mix encoding %s: %w", f.Encoding, ErrInvalidFormat)
	}

	switch f.Precision {
	case 8, 16, 32:
	default:
		return f, fmt.Errorf("mix precision %d: %w", f.Precision, ErrInvalidFormat)
	}

	return f, nil
}
