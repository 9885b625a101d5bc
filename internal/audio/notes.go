package audio

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// Note is one (frequency, duration) step of a note sequence.
type Note struct {
	Frequency float64 `json:"frequency"`
	Duration  float64 `json:"duration"` // seconds
}

var semitones = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// NoteFrequency converts a note name such as "A4", "F#3" or "Bb" to Hz using
// twelve-tone equal temperament with A4 = 440 Hz. A missing octave means 4.
func NoteFrequency(name string) (float64, error) {
	key, err := noteKey(name)
	if err != nil {
		return 0, err
	}
	return KeyFrequency(key), nil
}

// KeyFrequency returns the frequency of a MIDI key number.
func KeyFrequency(key int) float64 {
	return 440 * math.Pow(2, float64(key-69)/12)
}

// FrequencyKey returns the MIDI key closest to freq, clamped to 0..127.
func FrequencyKey(freq float64) int {
	if freq <= 0 {
		return 0
	}
	k := int(math.Round(69 + 12*math.Log2(freq/440)))
	return max(0, min(127, k))
}

func noteKey(name string) (int, error) {
	s := strings.TrimSpace(name)
	if s == "" {
		return 0, fmt.Errorf("empty note name: %w", errs.ErrInvalidArgument)
	}
	semi, ok := semitones[strings.ToUpper(s[:1])[0]]
	if !ok {
		return 0, fmt.Errorf("note %q: %w", name, errs.ErrInvalidArgument)
	}
	rest := s[1:]
	switch {
	case strings.HasPrefix(rest, "#"):
		semi++
		rest = rest[1:]
	case strings.HasPrefix(rest, "b"):
		semi--
		rest = rest[1:]
	}
	octave := 4
	if rest != "" {
		o, err := strconv.Atoi(rest)
		if err != nil || o < -1 || o > 9 {
			return 0, fmt.Errorf("note %q: bad octave: %w", name, errs.ErrInvalidArgument)
		}
		octave = o
	}
	return (octave+1)*12 + semi, nil
}

// ParseNotes turns a whitespace separated list of note names into a note
// sequence where every note lasts duration seconds. Tokens that are not
// notes are skipped; a description without any note is rejected.
func ParseNotes(desc string, duration float64) ([]Note, error) {
	if !(duration > 0) {
		return nil, fmt.Errorf("note duration %v must be positive: %w", duration, errs.ErrInvalidArgument)
	}
	var notes []Note
	for _, tok := range strings.Fields(desc) {
		f, err := NoteFrequency(tok)
		if err != nil {
			continue
		}
		notes = append(notes, Note{Frequency: f, Duration: duration})
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("no notes in %q: %w", desc, errs.ErrInvalidArgument)
	}
	return notes, nil
}
