package alsa

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SoundCardDevice represents a single PCM device on a sound card.
type SoundCardDevice struct {
	ID          int
	Description string
	Playback    bool
	Capture     bool
}

// String returns a human-readable representation of the SoundCardDevice.
func (d SoundCardDevice) String() string {
	var dirs []string
	if d.Playback {
		dirs = append(dirs, "playback")
	}
	if d.Capture {
		dirs = append(dirs, "capture")
	}

	return fmt.Sprintf("  Device %d: %s [%s]", d.ID, d.Description, strings.Join(dirs, ", "))
}

// SoundCard represents an enumerated sound card with its devices.
type SoundCard struct {
	ID          int
	Name        string
	Description string
	Devices     []SoundCardDevice
}

// String returns a human-readable representation of the SoundCard.
func (c SoundCard) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Card %d: %s (%s)\n", c.ID, c.Name, c.Description))
	for _, dev := range c.Devices {
		sb.WriteString(dev.String() + "\n")
	}

	return sb.String()
}

// Device returns the PCM device with the given number.
func (c SoundCard) Device(id int) (SoundCardDevice, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}

	return SoundCardDevice{}, false
}

var (
	// " 0 [Loopback       ]: Loopback - Loopback"
	cardRegex = regexp.MustCompile(`^\s*(\d+)\s+\[\s*([^]]*?)\s*\]:\s*(.*)`)
	// "02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8"
	pcmRegex = regexp.MustCompile(`^(\d+)-(\d+): (.*?) :.*`)
)

// EnumerateCards scans /proc/asound to find all available sound cards and their PCM devices.
func EnumerateCards() ([]SoundCard, error) {
	cards, err := os.ReadFile("/proc/asound/cards")
	if err != nil {
		return nil, fmt.Errorf("could not read /proc/asound/cards: %w", err)
	}
	pcms, err := os.ReadFile("/proc/asound/pcm")
	if err != nil {
		return nil, fmt.Errorf("could not read /proc/asound/pcm: %w", err)
	}

	return ParseCards(string(cards), string(pcms)), nil
}

// ParseCards builds the card list from the contents of /proc/asound/cards
// and /proc/asound/pcm.
func ParseCards(cards, pcms string) []SoundCard {
	cardMap := make(map[int]*SoundCard)
	for _, line := range strings.Split(cards, "\n") {
		m := cardRegex.FindStringSubmatch(line)
		if len(m) != 4 {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		cardMap[id] = &SoundCard{
			ID:          id,
			Name:        strings.TrimSpace(m[2]),
			Description: strings.TrimSpace(m[3]),
		}
	}

	for _, line := range strings.Split(pcms, "\n") {
		m := pcmRegex.FindStringSubmatch(line)
		if len(m) < 4 {
			continue
		}
		cardID, _ := strconv.Atoi(m[1])
		devID, _ := strconv.Atoi(m[2])
		card, ok := cardMap[cardID]
		if !ok {
			continue
		}

		card.Devices = append(card.Devices, SoundCardDevice{
			ID:          devID,
			Description: strings.TrimSpace(m[3]),
			Playback:    strings.Contains(line, "playback"),
			Capture:     strings.Contains(line, "capture"),
		})
	}

	ids := make([]int, 0, len(cardMap))
	for id := range cardMap {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	result := make([]SoundCard, 0, len(ids))
	for _, id := range ids {
		result = append(result, *cardMap[id])
	}

	return result
}

// FindCard returns the number of the first card whose name or description
// contains name, or -1.
func FindCard(name string) int {
	cards, err := EnumerateCards()
	if err != nil {
		return -1
	}
	for _, c := range cards {
		if strings.Contains(c.Name, name) || strings.Contains(c.Description, name) {
			return c.ID
		}
	}

	return -1
}
