package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/errs"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.pipeline.Status()
	st := s.app.State()
	resp := map[string]any{
		"tempo":            st.Tempo,
		"time_signature":   st.TimeSignature,
		"master_volume":    st.MasterVolume,
		"tracks":           st.Tracks,
		"active_tracks":    st.Active(),
		"module_states":    s.app.Orchestrator().States(),
		"rendition_id":     now.ID,
		"rendition_name":   now.Name,
		"position":         now.Position.Seconds(),
		"duration":         now.Duration.Seconds(),
		"queue_size":       s.pipeline.QueueSize(),
		"crossfade":        s.pipeline.CrossfadeDuration().Seconds(),
		"http_listeners":   s.broadcaster.ListenerCount(),
		"webrtc_listeners": s.webrtc.PeerCount(),
		"uptime":           time.Since(s.started).Seconds(),
	}
	if s.dj != nil {
		resp["auto_dj"] = s.dj.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Info())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("limit %q: %w", v, errs.ErrInvalidArgument))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.app.Orchestrator().EventLog(limit)})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Studio().Track(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes    string `json:"notes"`
		Waveform string `json:"waveform"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	wf := audio.Sine
	if req.Waveform != "" {
		var err error
		if wf, err = audio.ParseWaveform(req.Waveform); err != nil {
			writeError(w, err)
			return
		}
	}
	id := r.PathValue("id")
	n, err := s.app.GenerateTrackWith(id, req.Notes, wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "track": id, "notes": n, "waveform": wf})
}

func (s *Server) handleEffect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Effect string       `json:"effect"`
		Params audio.Params `json:"params"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.app.AddEffect(id, req.Effect, req.Params); err != nil {
		writeError(w, err)
		return
	}
	t, _ := s.app.Studio().Track(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "track": id, "effects": t.Effects})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Volume == nil {
		writeError(w, fmt.Errorf("volume is required: %w", errs.ErrInvalidArgument))
		return
	}
	id := r.PathValue("id")
	if err := s.app.SetVolume(id, *req.Volume); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "track": id, "volume": *req.Volume})
}

func (s *Server) handlePan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pan *float64 `json:"pan"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Pan == nil {
		writeError(w, fmt.Errorf("pan is required: %w", errs.ErrInvalidArgument))
		return
	}
	id := r.PathValue("id")
	if err := s.app.SetPan(id, *req.Pan); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "track": id, "pan": *req.Pan})
}

func (s *Server) handleMute(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.app.SetMuted(id, muted); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "track": id, "muted": muted})
	}
}

func (s *Server) handleTempo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tempo int `json:"tempo"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.app.SetTempo(req.Tempo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tempo": req.Tempo})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Queue  bool   `json:"queue"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.app.Prompt(r.Context(), req.Prompt)
	if err != nil {
		if res.Failed == "" {
			writeError(w, err)
			return
		}
		// Partial results from the steps that ran are still useful.
		writeJSON(w, statusFor(err), map[string]any{"ok": false, "result": res, "error": errs.UserMessage(err), "detail": err.Error()})
		return
	}
	resp := map[string]any{"ok": true, "result": res}
	if req.Queue {
		resp["rendition"] = s.enqueue("")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	text, err := s.app.Suggest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "suggestion": text})
}

func (s *Server) handleCollaborate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task   string         `json:"task"`
		Params map[string]any `json:"params"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.app.Collaborate(r.Context(), req.Task, req.Params)
	if err != nil && len(res.Results) == 0 {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// renditionInfo describes a queued mix.
type renditionInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	Queued   bool    `json:"queued"`
}

func (s *Server) enqueue(name string) renditionInfo {
	rend := s.app.Render(name)
	return renditionInfo{
		ID:       rend.ID,
		Name:     rend.Name,
		Duration: (time.Duration(rend.Frames()) * audio.FrameDuration).Seconds(),
		Queued:   s.pipeline.Enqueue(rend),
	}
}

func (s *Server) handleMix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	info := s.enqueue(req.Name)
	status := http.StatusOK
	if !info.Queued {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": info.Queued, "rendition": info, "queue_size": s.pipeline.QueueSize()})
}

func (s *Server) handleMixWAV(w http.ResponseWriter, r *http.Request) {
	serveTempFile(w, r, "mix.wav", "audio/wav", func(f *os.File) error {
		return s.app.Studio().WriteWAV(f)
	})
}

func (s *Server) handleMixMIDI(w http.ResponseWriter, r *http.Request) {
	serveTempFile(w, r, "mix.mid", "audio/midi", func(f *os.File) error {
		return s.app.Studio().WriteMIDI(f)
	})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Skip()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGenre(w http.ResponseWriter, r *http.Request) {
	if s.dj == nil {
		writeError(w, fmt.Errorf("auto-DJ is off: %w", errs.ErrInvalidState))
		return
	}
	var req struct {
		Genre string `json:"genre"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.dj.SetGenre(req.Genre); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "genre": req.Genre})
}

func (s *Server) handleAutoDJ(w http.ResponseWriter, r *http.Request) {
	if s.dj == nil {
		writeError(w, fmt.Errorf("auto-DJ is off: %w", errs.ErrInvalidState))
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.dj.SetAutoDJ(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "auto_dj": req.Enabled})
}

func (s *Server) handleCrossfade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Seconds < 0 || req.Seconds > 30 {
		writeError(w, fmt.Errorf("crossfade must be 0-30 seconds: %w", errs.ErrInvalidArgument))
		return
	}
	s.pipeline.SetCrossfade(time.Duration(req.Seconds * float64(time.Second)))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "crossfade": req.Seconds})
}
