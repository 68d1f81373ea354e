package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/alsa"
	"github.com/gen2brain/vaudio/cmd/internal/clilog"
)

func main() {
	var (
		card      uint
		device    uint
		channels  uint
		rate      uint
		formatStr string
		duration  time.Duration
		volume    uint
		verbose   bool
	)

	flag.UintVar(&card, "card", 0, "The card to capture from")
	flag.UintVar(&device, "device", 0, "The device to capture from")
	flag.UintVar(&channels, "channels", 2, "The number of channels of the file")
	flag.UintVar(&rate, "rate", 48000, "The sample rate of the file in Hz")
	flag.StringVar(&formatStr, "format", "s16", "The sample format of the file (u8, s16, s24, s32)")
	flag.DurationVar(&duration, "duration", 5*time.Second, "The duration of the capture")
	flag.UintVar(&volume, "volume", vaudio.AUDIO_MAX_VOLUME, "Record volume, 0-255")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <output-wav-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := clilog.New(verbose)

	f, err := fileFormat(formatStr, uint32(channels), uint32(rate))
	if err != nil {
		logger.Fatal().Err(err).Msg("Bad format")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	frames, err := capture(ctx, logger, flag.Arg(0), f, card, device, uint32(min(volume, vaudio.AUDIO_MAX_VOLUME)))
	if err != nil {
		logger.Fatal().Err(err).Msg("Capture failed")
	}

	logger.Info().Int("frames", frames).
		Dur("duration", time.Duration(frames)*time.Second/time.Duration(f.SampleRate)).
		Str("file", flag.Arg(0)).Msg("Capture finished")
}

// fileFormat maps a format name to the session record format.
func fileFormat(name string, channels, rate uint32) (vaudio.Format, error) {
	f := vaudio.Format{Encoding: vaudio.AUDIO_ENCODING_SLINEAR_LE, Channels: channels, SampleRate: rate}
	switch name {
	case "u8":
		f.Encoding, f.Precision = vaudio.AUDIO_ENCODING_ULINEAR_LE, 8
	case "s16":
		f.Precision = 16
	case "s24":
		f.Precision = 24
	case "s32":
		f.Precision = 32
	default:
		return f, fmt.Errorf("unsupported format %q, use u8, s16, s24 or s32", name)
	}
	f.ValidBits = f.Precision

	return f.Check()
}

func capture(ctx context.Context, logger zerolog.Logger, path string, f vaudio.Format, card, device uint, volume uint32) (int, error) {
	hw, err := alsa.NewHardware(&alsa.HardwareConfig{Card: card, Device: device})
	if err != nil {
		return 0, err
	}
	if !hw.Props().CanRecord() {
		return 0, fmt.Errorf("%s cannot capture: %w", hw.Name(), vaudio.ErrNoDevice)
	}

	d, err := vaudio.NewDevice(hw, nil)
	if err != nil {
		return 0, err
	}
	defer d.Close()
	logger.Info().Str("device", hw.Name()).Stringer("hardware", d.HardwareFormat()).
		Stringer("file", f).Msg("Capturing")

	s, err := d.Open(vaudio.AUOPEN_READ | vaudio.AUOPEN_NONBLOCK)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	ai := vaudio.InitInfo()
	ai.Record.SetFormat(f)
	ai.Record.Gain = volume
	if err := s.SetInfo(&ai); err != nil {
		return 0, err
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	enc := wav.NewEncoder(out, int(f.SampleRate), int(f.Precision), int(f.Channels), 1)
	buf := &audio.IntBuffer{Data: make([]int, int(f.SampleRate/10)*int(f.Channels))}

	frames := 0
	ticker := time.NewTicker(vaudio.AUDIO_BLK_MS * time.Millisecond)
	defer ticker.Stop()
	for {
		n, err := s.ReadBuffer(buf)
		if n > 0 {
			chunk := &audio.IntBuffer{Format: buf.Format, Data: buf.Data[:n], SourceBitDepth: buf.SourceBitDepth}
			if err := enc.Write(chunk); err != nil {
				return frames, err
			}
			frames += n / int(f.Channels)
		}
		if err != nil && !errors.Is(err, vaudio.ErrWouldBlock) {
			return frames, err
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			if drops, err := s.Drops(vaudio.AUMODE_RECORD); err == nil && drops > 0 {
				logger.Warn().Int64("bytes", drops).Msg("Overruns while capturing")
			}

			return frames, enc.Close()
		case <-ticker.C:
		}
	}
}
