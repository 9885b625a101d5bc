package studio

import (
	"fmt"
	"io"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/errs"
)

// MIDIResolution is the ticks-per-quarter-note of exported MIDI files.
const MIDIResolution = 960

const midiVelocity = 100

// WriteWAV mixes the session and writes it to w as 16-bit stereo PCM.
func (s *Studio) WriteWAV(w io.WriteSeeker) error {
	return audio.WriteStereoWAV(w, s.Mix(), s.sampleRate)
}

// WriteMIDI writes a format 1 Standard MIDI File: a conductor track with
// tempo and meter, then one track per generated note sequence. Muted tracks
// are skipped. Note lengths are converted to ticks at the session tempo.
func (s *Studio) WriteMIDI(w io.Writer) error {
	s.mu.Lock()
	tempo := s.tempo
	sig := s.timeSig
	type seq struct {
		name  string
		notes []audio.Note
	}
	var seqs []seq
	for _, id := range s.order {
		t := s.tracks[id]
		if t.Muted || len(t.Notes) == 0 {
			continue
		}
		seqs = append(seqs, seq{name: id, notes: append([]audio.Note(nil), t.Notes...)})
	}
	s.mu.Unlock()

	if len(seqs) == 0 {
		return fmt.Errorf("no generated tracks to export: %w", errs.ErrInvalidState)
	}

	res := smf.MetricTicks(MIDIResolution)
	file := smf.New()
	file.TimeFormat = res

	var conductor smf.Track
	conductor.Add(0, smf.MetaMeter(uint8(sig[0]), uint8(sig[1])))
	conductor.Add(0, smf.MetaTempo(float64(tempo)))
	conductor.Close(0)
	if err := file.Add(conductor); err != nil {
		return fmt.Errorf("add conductor track: %w", err)
	}

	// seconds -> ticks: one quarter note lasts 60/tempo seconds
	ticksPerSecond := float64(res.Ticks4th()) * float64(tempo) / 60
	for ch, sq := range seqs {
		channel := uint8(ch % 16)
		var tr smf.Track
		tr.Add(0, smf.MetaTrackSequenceName(sq.name))
		for _, n := range sq.notes {
			key := uint8(audio.FrequencyKey(n.Frequency))
			ticks := uint32(n.Duration*ticksPerSecond + 0.5)
			tr.Add(0, midi.NoteOn(channel, key, midiVelocity))
			tr.Add(ticks, midi.NoteOff(channel, key))
		}
		tr.Close(0)
		if err := file.Add(tr); err != nil {
			return fmt.Errorf("add track %s: %w", sq.name, err)
		}
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}
