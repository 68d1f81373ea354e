package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/alsa"
	"github.com/gen2brain/vaudio/cmd/internal/clilog"
	"github.com/gen2brain/vaudio/cmd/internal/otohw"
	"github.com/gen2brain/vaudio/cmd/internal/source"
	"github.com/gen2brain/vaudio/loopback"
)

func main() {
	var (
		backend  string
		card     uint
		device   uint
		rate     uint
		channels uint
		volume   uint
		output   string
		verbose  bool
	)

	flag.StringVar(&backend, "backend", "alsa", "Output backend: alsa, oto or wav")
	flag.UintVar(&card, "card", 0, "The card to play on (alsa)")
	flag.UintVar(&device, "device", 0, "The device to play on (alsa)")
	flag.UintVar(&rate, "rate", 0, "Mix rate in Hz (0 = rate of the first file)")
	flag.UintVar(&channels, "channels", 2, "Mix channels")
	flag.UintVar(&volume, "volume", vaudio.AUDIO_MAX_VOLUME, "Software volume of every file, 0-255")
	flag.StringVar(&output, "out", "mix.wav", "Output file (wav)")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file>...\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nPlays WAV, MP3 and Ogg Vorbis files at once, each in its own session.")
		fmt.Fprintln(os.Stderr, "Keys: space pauses, + and - change the volume, q quits.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	logger := clilog.New(verbose)
	if err := run(logger, flag.Args(), options{
		backend:  backend,
		card:     card,
		device:   device,
		rate:     uint32(rate),
		channels: uint32(channels),
		volume:   uint32(min(volume, vaudio.AUDIO_MAX_VOLUME)),
		output:   output,
	}); err != nil {
		logger.Fatal().Err(err).Msg("Playback failed")
	}
}

type options struct {
	backend  string
	card     uint
	device   uint
	rate     uint32
	channels uint32
	volume   uint32
	output   string
}

func run(logger zerolog.Logger, paths []string, opts options) error {
	files := make([]*source.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, path := range paths {
		f, err := source.Open(path)
		if err != nil {
			return err
		}
		files = append(files, f)
		dur, _ := f.Duration()
		logger.Info().Str("file", path).Stringer("format", f.Format()).Dur("duration", dur).Msg("Opened")
	}

	mix := vaudio.Format{
		Encoding:   vaudio.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  16,
		ValidBits:  16,
		Channels:   opts.channels,
		SampleRate: opts.rate,
	}
	if mix.SampleRate == 0 {
		mix.SampleRate = files[0].Format().SampleRate
	}

	hw, finish, err := newHardware(logger, opts, mix)
	if err != nil {
		return err
	}

	d, err := vaudio.NewDevice(hw, &vaudio.Config{Format: mix, Saturate: true})
	if errors.Is(err, vaudio.ErrInvalidFormat) && opts.backend == "alsa" {
		logger.Warn().Stringer("format", mix).Msg("Format refused, probing the device")
		d, err = vaudio.NewDevice(hw, nil)
	}
	if err != nil {
		return err
	}
	logger.Info().Stringer("mix", d.Format()).Stringer("hardware", d.HardwareFormat()).
		Int("block", d.BlockSize()).Msg("Device ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &player{d: d, volume: opts.volume}
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		s, err := d.Open(vaudio.AUOPEN_WRITE)
		if err != nil {
			return err
		}
		p.add(s)
		g.Go(func() error {
			return p.play(gctx, logger, s, f)
		})
	}
	if err := p.apply(); err != nil {
		return err
	}
	// A paused session would never take the rest of its file.
	context.AfterFunc(ctx, p.resume)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		restore := keys(ctx, stop, p, logger)
		defer restore()
	}

	start := time.Now()
	err = g.Wait()
	p.closeAll()
	if cerr := d.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if finish != nil {
		err = errors.Join(err, finish())
	}
	st := d.Stats()
	logger.Info().Dur("elapsed", time.Since(start)).Uint64("blocks", st.PlayInterrupts).
		Uint64("errors", st.HardwareErrors).Msg("Finished")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// newHardware builds the backend. finish, if set, completes the output after
// the device is closed.
func newHardware(logger zerolog.Logger, opts options, mix vaudio.Format) (vaudio.Hardware, func() error, error) {
	switch opts.backend {
	case "alsa":
		hw, err := alsa.NewHardware(&alsa.HardwareConfig{Card: opts.card, Device: opts.device})
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("device", hw.Name()).Msg("Using ALSA")

		return hw, nil, nil
	case "oto":
		return otohw.New(100 * time.Millisecond), nil, nil
	case "wav":
		return renderWav(logger, opts.output, mix)
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", opts.backend)
	}
}

// renderWav plays into a loopback device clocked in real time and encodes
// every played block into path.
func renderWav(logger zerolog.Logger, path string, mix vaudio.Format) (vaudio.Hardware, func() error, error) {
	out, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	enc := wav.NewEncoder(out, int(mix.SampleRate), int(mix.Precision), int(mix.Channels), 1)

	hw := loopback.New(&loopback.Config{
		Props:    vaudio.AUDIO_PROP_PLAYBACK,
		Interval: vaudio.AUDIO_BLK_MS * time.Millisecond,
		Accept: func(f vaudio.Format) bool {
			return f.Encoding == mix.Encoding && f.Precision == mix.Precision
		},
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	var encErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(vaudio.AUDIO_BLK_MS * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-done:
				_, encErr = hw.EncodePlayed(enc, mix)

				return
			}
			if _, err := hw.EncodePlayed(enc, mix); err != nil {
				encErr = err

				return
			}
		}
	}()

	finish := func() error {
		close(done)
		wg.Wait()
		err := errors.Join(encErr, enc.Close(), out.Close())
		logger.Info().Str("file", path).Msg("Rendered")

		return err
	}

	return hw, finish, nil
}

// player tracks the sessions so keys can act on all of them.
type player struct {
	d *vaudio.Device

	mu       sync.Mutex
	sessions []*vaudio.Session
	volume   uint32
	paused   bool
}

func (p *player) add(s *vaudio.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions = append(p.sessions, s)
}

func (p *player) apply() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ai := vaudio.InitInfo()
	ai.Play.Gain = p.volume
	ai.Play.Pause = 0
	if p.paused {
		ai.Play.Pause = 1
	}

	var errs []error
	for _, s := range p.sessions {
		if err := s.SetInfo(&ai); err != nil && !errors.Is(err, vaudio.ErrCancelled) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (p *player) resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()

	_ = p.apply()
}

func (p *player) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.sessions {
		_ = s.Close()
	}
}

func (p *player) play(ctx context.Context, logger zerolog.Logger, s *vaudio.Session, f *source.File) error {
	ai := vaudio.InitInfo()
	ai.Play.SetFormat(f.Format())
	if err := s.SetInfo(&ai); err != nil {
		return fmt.Errorf("%s: %w", f.Path, err)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: int(f.Format().Channels), SampleRate: int(f.Format().SampleRate)},
		Data:   make([]int, 4096*int(f.Format().Channels)),
	}
	for ctx.Err() == nil {
		n, err := f.PCMBuffer(buf)
		if n > 0 {
			chunk := &audio.IntBuffer{Format: buf.Format, Data: buf.Data[:n], SourceBitDepth: buf.SourceBitDepth}
			if _, werr := s.WriteBuffer(chunk); werr != nil {
				return fmt.Errorf("%s: %w", f.Path, werr)
			}
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	err := s.Drain()
	logger.Info().Str("file", f.Path).Msg("Done")

	return err
}

// keys reads single key presses from the terminal until ctx ends.
func keys(ctx context.Context, quit func(), p *player, logger zerolog.Logger) func() {
	fd := int(os.Stdin.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn().Err(err).Msg("No raw terminal, keys disabled")

		return func() {}
	}

	go func() {
		b := make([]byte, 1)
		for ctx.Err() == nil {
			if _, err := os.Stdin.Read(b); err != nil {
				return
			}

			p.mu.Lock()
			switch b[0] {
			case 'q', 3:
				p.mu.Unlock()
				quit()

				return
			case ' ':
				p.paused = !p.paused
			case '+', '=':
				p.volume = min(p.volume+16, vaudio.AUDIO_MAX_VOLUME)
			case '-':
				p.volume -= min(p.volume, 16)
			}
			volume, paused := p.volume, p.paused
			p.mu.Unlock()

			if err := p.apply(); err != nil {
				logger.Warn().Err(err).Msg("Update failed")
			}
			logger.Info().Uint32("volume", volume).Bool("paused", paused).Msg("Changed")
		}
	}()

	return func() {
		_ = term.Restore(fd, old)
	}
}
