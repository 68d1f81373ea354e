package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/alsa"
)

func main() {
	var (
		card   int
		device uint
		stream string
		list   bool
	)

	flag.IntVar(&card, "card", -1, "The sound card number (-1 = all cards)")
	flag.UintVar(&device, "device", 0, "The device number")
	flag.StringVar(&stream, "stream", "playback", "The stream direction ('playback' or 'capture')")
	flag.BoolVar(&list, "list", false, "Only list the cards and their devices")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays the ALSA PCM devices and the formats the mixer can use on them.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	var flags alsa.PcmFlag
	switch strings.ToLower(stream) {
	case "playback":
		flags = alsa.PCM_OUT
	case "capture":
		flags = alsa.PCM_IN
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid stream direction '%s'. Must be 'playback' or 'capture'.\n", stream)
		os.Exit(1)
	}

	cards, err := alsa.EnumerateCards()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error enumerating cards: %v\n", err)
		os.Exit(1)
	}

	for _, c := range cards {
		if card >= 0 && c.ID != card {
			continue
		}
		fmt.Print(c)
		if list {
			continue
		}

		for _, dev := range c.Devices {
			if card >= 0 && dev.ID != int(device) {
				continue
			}
			if (flags == alsa.PCM_OUT && !dev.Playback) || (flags == alsa.PCM_IN && !dev.Capture) {
				continue
			}
			printDevice(uint(c.ID), uint(dev.ID), flags)
		}
	}
}

func printDevice(card, device uint, flags alsa.PcmFlag) {
	fmt.Printf("\nhw:%d,%d %s:\n", card, device, map[alsa.PcmFlag]string{alsa.PCM_OUT: "playback", alsa.PCM_IN: "capture"}[flags])

	params, err := alsa.PcmParamsGetRefined(card, device, flags, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  Error getting PCM parameters: %v\n", err)

		return
	}
	fmt.Print(params)

	var usable []string
	for pf := range alsa.PcmFormatNames {
		if !params.FormatIsSupported(pf) {
			continue
		}
		f, err := alsa.FormatOf(pf, 2, 48000)
		if err != nil {
			continue
		}
		if f.Encoding == vaudio.AUDIO_ENCODING_SLINEAR_LE || f.Encoding == vaudio.AUDIO_ENCODING_SLINEAR_BE {
			usable = append(usable, fmt.Sprintf("%s (%s %d/%d)", pf, f.Encoding, f.Precision, f.ValidBits))
		}
	}
	sort.Strings(usable)
	if len(usable) > 0 {
		fmt.Printf("%12s: %s\n", "Mix formats", strings.Join(usable, ", "))
	}
}
