package studio

import (
	"context"
	"fmt"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/errs"
)

// TrackState describes one track without its audio.
type TrackState struct {
	Name     string          `json:"name"`
	Muted    bool            `json:"muted"`
	Volume   float64         `json:"volume"`
	Pan      float64         `json:"pan"`
	Samples  int             `json:"samples"`
	Seconds  float64         `json:"seconds"`
	Waveform audio.Waveform  `json:"waveform,omitempty"`
	Notes    int             `json:"notes,omitempty"`
	Effects  []AppliedEffect `json:"effects"`
}

// State is a point-in-time snapshot of the session settings.
type State struct {
	SampleRate    int          `json:"sample_rate"`
	Tempo         int          `json:"tempo"`
	TimeSignature [2]int       `json:"time_signature"`
	MasterVolume  float64      `json:"master_volume"`
	NumTracks     int          `json:"num_tracks"`
	Tracks        []TrackState `json:"tracks"`
}

// State returns a snapshot of the session.
func (s *Studio) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		SampleRate:    s.sampleRate,
		Tempo:         s.tempo,
		TimeSignature: s.timeSig,
		MasterVolume:  s.masterVolume,
		NumTracks:     len(s.order),
		Tracks:        make([]TrackState, 0, len(s.order)),
	}
	for _, id := range s.order {
		st.Tracks = append(st.Tracks, s.trackState(s.tracks[id]))
	}
	return st
}

// Track returns the state of a single track.
func (s *Studio) Track(id string) (TrackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return TrackState{}, err
	}
	return s.trackState(t), nil
}

func (s *Studio) trackState(t *Track) TrackState {
	return TrackState{
		Name:     t.ID,
		Muted:    t.Muted,
		Volume:   t.Volume,
		Pan:      t.Pan,
		Samples:  len(t.Samples),
		Seconds:  float64(len(t.Samples)) / float64(s.sampleRate),
		Waveform: t.Waveform,
		Notes:    len(t.Notes),
		Effects:  append([]AppliedEffect{}, t.Effects...),
	}
}

// Active returns the ids of tracks that hold audio.
func (st State) Active() []string {
	var ids []string
	for _, t := range st.Tracks {
		if t.Samples > 0 {
			ids = append(ids, t.Name)
		}
	}
	return ids
}

// Collaborate answers orchestrator collaboration tasks with a snapshot of
// the session.
func (s *Studio) Collaborate(_ context.Context, task string, _ map[string]any) (any, error) {
	switch task {
	case "compose", "state":
		return s.State(), nil
	}
	return nil, fmt.Errorf("task %q: %w", task, errs.ErrNotFound)
}
