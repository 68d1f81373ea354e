package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gen2brain/vaudio/cmd/internal/source"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <file>...\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nShows the session format of WAV, MP3 and Ogg Vorbis files.")
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	status := 0
	for _, path := range flag.Args() {
		if err := show(path); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			status = 1
		}
	}
	os.Exit(status)
}

func show(path string) error {
	f, err := source.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	format := f.Format()
	fmt.Printf("Filename:           %s\n", path)
	fmt.Printf("Channels:           %d\n", format.Channels)
	fmt.Printf("Sample Rate:        %d Hz\n", format.SampleRate)
	fmt.Printf("Bits Per Sample:    %d\n", format.Precision)
	fmt.Printf("Encoding:           %s\n", format.Encoding)

	if _, err := format.Check(); err != nil {
		fmt.Printf("Session format:     unusable (%v)\n", err)
	} else {
		fmt.Printf("Session format:     %s\n", format)
	}

	duration, err := f.Duration()
	if err != nil {
		fmt.Printf("Duration:           unknown\n\n")

		return nil
	}
	fmt.Printf("Duration:           %s\n", formatDuration(duration))
	fmt.Printf("Frames:             %d\n\n", int64(duration.Seconds()*float64(format.SampleRate)))

	return nil
}

// formatDuration formats a time.Duration into a more readable HH:MM:SS.ms format.
func formatDuration(d time.Duration) string {
	millis := d.Milliseconds() % 1000
	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
