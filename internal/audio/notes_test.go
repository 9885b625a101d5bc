package audio

import (
	"errors"
	"math"
	"testing"

	"github.com/satindergrewal/tonelab/internal/errs"
)

func TestNoteFrequency(t *testing.T) {
	tests := []struct {
		name string
		want float64
	}{
		{"A4", 440},
		{"A", 440},
		{"C", 261.6256},
		{"c4", 261.6256},
		{"A5", 880},
		{"F#3", 184.9972},
		{"Bb", 466.1638},
		{"C-1", 8.1758},
	}
	for _, tt := range tests {
		got, err := NoteFrequency(tt.name)
		if err != nil {
			t.Errorf("NoteFrequency(%q): %v", tt.name, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("NoteFrequency(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNoteFrequencyRejects(t *testing.T) {
	for _, name := range []string{"", "H", "C#x", "A12"} {
		if _, err := NoteFrequency(name); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Errorf("NoteFrequency(%q) err = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestFrequencyKeyRoundTrip(t *testing.T) {
	for key := 0; key <= 127; key++ {
		if got := FrequencyKey(KeyFrequency(key)); got != key {
			t.Errorf("FrequencyKey(KeyFrequency(%d)) = %d", key, got)
		}
	}
}

func TestParseNotesSkipsJunk(t *testing.T) {
	notes, err := ParseNotes("C D ?? E", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 3 {
		t.Fatalf("ParseNotes returned %d notes, want 3", len(notes))
	}
	for _, n := range notes {
		if n.Duration != 0.5 {
			t.Errorf("note duration = %v, want 0.5", n.Duration)
		}
	}
}

func TestParseNotesEmpty(t *testing.T) {
	if _, err := ParseNotes("?? !!", 0.5); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
	if _, err := ParseNotes("C", 0); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("zero duration err = %v, want ErrInvalidArgument", err)
	}
}
