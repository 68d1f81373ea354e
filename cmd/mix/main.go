package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/alsa"
	"github.com/gen2brain/vaudio/cmd/internal/clilog"
)

type options struct {
	card     uint
	device   uint
	play     string
	record   string
	balance  int
	rbalance int
}

func main() {
	var (
		o        options
		controls bool
		verbose  bool
	)

	flag.UintVar(&o.card, "card", 0, "The card to use")
	flag.UintVar(&o.device, "device", 0, "The device to use")
	flag.StringVar(&o.play, "play", "", "Play gain, 0-255 or a percentage such as 75%")
	flag.StringVar(&o.record, "record", "", "Record gain, 0-255 or a percentage")
	flag.IntVar(&o.balance, "balance", -1, "Play balance, 0 (left) to 64 (right)")
	flag.IntVar(&o.rbalance, "rbalance", -1, "Record balance, 0 (left) to 64 (right)")
	flag.BoolVar(&controls, "controls", false, "List the raw mixer controls of the card and exit")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nShows and changes the hardware gain, balance and port of a device.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	logger := clilog.New(verbose)
	if controls {
		if err := listControls(o.card); err != nil {
			logger.Fatal().Err(err).Uint("card", o.card).Msg("Listing controls failed")
		}

		return
	}

	if err := run(logger, o); err != nil {
		logger.Fatal().Err(err).Msg("Mixer failed")
	}
}

func run(logger zerolog.Logger, o options) error {
	hw, err := alsa.NewHardware(&alsa.HardwareConfig{Card: o.card, Device: o.device})
	if err != nil {
		return err
	}
	props := hw.Props()

	d, err := vaudio.NewDevice(hw, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	// An open session keeps the PCM and its mixer open.
	flags := vaudio.AUOPEN_WRITE
	if !props.CanPlay() {
		flags = vaudio.AUOPEN_READ
	}
	s, err := d.Open(flags | vaudio.AUOPEN_NONBLOCK)
	if err != nil {
		return err
	}
	defer s.Close()

	ai := vaudio.InitInfo()
	dirs := []struct {
		name    string
		mode    vaudio.Mode
		ok      bool
		gain    string
		balance int
		pr      *vaudio.PrInfo
	}{
		{"play", vaudio.AUMODE_PLAY, props.CanPlay(), o.play, o.balance, &ai.Play},
		{"record", vaudio.AUMODE_RECORD, props.CanRecord(), o.record, o.rbalance, &ai.Record},
	}

	for _, dir := range dirs {
		if !dir.ok {
			if dir.gain != "" || dir.balance >= 0 {
				return fmt.Errorf("%s has no %s direction: %w", hw.Name(), dir.name, vaudio.ErrNoDevice)
			}

			continue
		}
		if dir.gain != "" {
			gain, err := parseGain(dir.gain)
			if err != nil {
				return err
			}
			if err := d.SetHardwareGain(dir.mode, gain); err != nil {
				return err
			}
			logger.Debug().Str("dir", dir.name).Uint32("gain", gain).Msg("Gain set")
		}
		if dir.balance >= 0 {
			if dir.balance > 64 {
				return fmt.Errorf("%s balance %d is not within 0-64", dir.name, dir.balance)
			}
			dir.pr.Balance = uint8(dir.balance)
		}
	}
	if err := s.SetInfo(&ai); err != nil {
		return err
	}

	info, err := s.GetInfo()
	if err != nil {
		return err
	}
	fmt.Printf("%s: mix %s, hardware %s, %d byte blocks\n", hw.Name(), d.Format(), d.HardwareFormat(), d.BlockSize())
	for _, dir := range dirs {
		if !dir.ok {
			continue
		}
		gain, balance, err := d.HardwareGain(dir.mode)
		if err != nil {
			return err
		}
		pr := info.Play
		if dir.mode == vaudio.AUMODE_RECORD {
			pr = info.Record
		}
		fmt.Printf("  %-6s gain %3d (%3d%%), balance %2d, port %d of %#x\n",
			dir.name, gain, gain*100/vaudio.AUDIO_MAX_VOLUME, balance, pr.Port, pr.AvailPorts)
	}

	return nil
}

// parseGain reads a gain given as 0-255 or as a percentage.
func parseGain(s string) (uint32, error) {
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseUint(pct, 10, 32)
		if err != nil || v > 100 {
			return 0, fmt.Errorf("invalid gain percentage %q", s)
		}

		return uint32(v) * vaudio.AUDIO_MAX_VOLUME / 100, nil
	}

	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v > vaudio.AUDIO_MAX_VOLUME {
		return 0, fmt.Errorf("invalid gain %q, use 0-%d or a percentage", s, vaudio.AUDIO_MAX_VOLUME)
	}

	return uint32(v), nil
}

// listControls prints every control of the card with its current values.
func listControls(card uint) error {
	mixer, err := alsa.MixerOpen(card)
	if err != nil {
		return err
	}
	defer mixer.Close()

	fmt.Printf("Mixer card '%s' has %d controls.\n", mixer.Name(), mixer.NumCtls())
	for _, ctl := range mixer.Ctls {
		var vals []string
		for i := uint32(0); i < ctl.NumValues(); i++ {
			v, err := ctl.Value(i)
			if err != nil {
				vals = append(vals, "?")

				continue
			}
			vals = append(vals, strconv.Itoa(v))
		}

		line := fmt.Sprintf("%d: %s (%s) %s", ctl.ID(), ctl.Name(), ctl.Type(), strings.Join(vals, ","))
		if ctl.Type() == alsa.SNDRV_CTL_ELEM_TYPE_INTEGER {
			if lo, hi, err := ctl.Range(); err == nil {
				line += fmt.Sprintf(" [%d-%d]", lo, hi)
			}
		}
		fmt.Println(line)
	}

	return nil
}
