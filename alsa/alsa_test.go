package alsa_test

import (
	"testing"

	"github.com/gen2brain/vaudio/alsa"
)

// To run the hardware tests, the 'snd-dummy' kernel module must be loaded:
//
// sudo modprobe snd-dummy
//
// This creates a virtual card with playback and capture PCMs and mixer controls.

// dummyCard returns the number of the dummy card or skips the test.
func dummyCard(t *testing.T) uint {
	t.Helper()

	card := alsa.FindCard("Dummy")
	if card < 0 {
		t.Skip("ALSA dummy device not found, run: sudo modprobe snd-dummy")
	}

	return uint(card)
}
