// Package server exposes one studio session over HTTP: a JSON API for the
// studio and the pipeline, the rendered mix as WAV or MIDI, and the live
// playback stream over MP3 and WebRTC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/satindergrewal/tonelab/internal/app"
	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/autodj"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/stream"
)

// StreamName is announced to MP3 listeners and labels the WebRTC track.
const StreamName = "tonelab"

// Server owns the playback pipeline and its listeners for one App.
type Server struct {
	app         *app.App
	pipeline    *audio.Pipeline
	broadcaster *stream.Broadcaster
	webrtc      *stream.WebRTCHandler
	dj          *autodj.Scheduler
	started     time.Time
}

// New builds the playback side for a. With auto-DJ enabled in the server
// config, a scheduler keeps the queue filled from genre prompts.
func New(a *app.App) (*Server, error) {
	cfg := a.Config().Server
	s := &Server{
		app:         a,
		pipeline:    audio.NewPipeline(cfg.Crossfade),
		broadcaster: stream.NewBroadcaster(stream.DefaultBuffer),
		started:     time.Now(),
	}
	s.webrtc = stream.NewWebRTCHandler(s.broadcaster, StreamName)

	if cfg.AutoDJ {
		dj, err := autodj.NewScheduler(a.RenderPrompt, s.pipeline, autodj.Config{
			StartingGenre: cfg.Genre,
			BufferAhead:   cfg.BufferAhead,
			DwellMin:      cfg.DwellMin,
			DwellMax:      cfg.DwellMax,
			Seed:          uint64(s.started.UnixNano()),
		})
		if err != nil {
			return nil, err
		}
		dj.SetListenerCountFunc(s.Listeners)
		s.dj = dj
	}
	return s, nil
}

// Listeners counts HTTP and WebRTC listeners.
func (s *Server) Listeners() int {
	return s.broadcaster.ListenerCount() + s.webrtc.PeerCount()
}

// Pipeline returns the playback pipeline.
func (s *Server) Pipeline() *audio.Pipeline { return s.pipeline }

// Run starts playback, the broadcaster and the auto-DJ, then serves HTTP on
// addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.pipeline.Run(ctx)
	go s.broadcaster.Run(ctx, s.pipeline.Frames())
	if s.dj != nil {
		go s.dj.Run(ctx)
	}

	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("tonelab live on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Handler routes the API and the streams.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/stream", stream.NewHTTPHandler(s.broadcaster, StreamName))
	mux.Handle("/offer", s.webrtc)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/tracks/{id}", s.handleTrack)
	mux.HandleFunc("POST /api/tracks/{id}/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/tracks/{id}/effects", s.handleEffect)
	mux.HandleFunc("POST /api/tracks/{id}/volume", s.handleVolume)
	mux.HandleFunc("POST /api/tracks/{id}/pan", s.handlePan)
	mux.HandleFunc("POST /api/tracks/{id}/mute", s.handleMute(true))
	mux.HandleFunc("POST /api/tracks/{id}/unmute", s.handleMute(false))
	mux.HandleFunc("POST /api/tempo", s.handleTempo)
	mux.HandleFunc("POST /api/prompt", s.handlePrompt)
	mux.HandleFunc("POST /api/suggest", s.handleSuggest)
	mux.HandleFunc("POST /api/collaborate", s.handleCollaborate)
	mux.HandleFunc("POST /api/mix", s.handleMix)
	mux.HandleFunc("GET /api/mix.wav", s.handleMixWAV)
	mux.HandleFunc("GET /api/mix.mid", s.handleMixMIDI)
	mux.HandleFunc("POST /api/skip", s.handleSkip)
	mux.HandleFunc("POST /api/genre", s.handleGenre)
	mux.HandleFunc("POST /api/autodj", s.handleAutoDJ)
	mux.HandleFunc("POST /api/crossfade", s.handleCrossfade)
	return mux
}

// writeJSON sends v with the API's common headers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrExternalFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError sends err with its mapped status and a user-facing message.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("API error: %v", err)
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": errs.UserMessage(err), "detail": err.Error()})
}

// decode reads a JSON body into v. A malformed body is ErrInvalidArgument.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("request body: %v: %w", err, errs.ErrInvalidArgument)
	}
	return nil
}

// serveTempFile runs write against a temporary file and serves the result.
func serveTempFile(w http.ResponseWriter, r *http.Request, name, contentType string, write func(f *os.File) error) {
	f, err := os.CreateTemp("", "tonelab-*")
	if err != nil {
		writeError(w, err)
		return
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := write(f); err != nil {
		writeError(w, err)
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	http.ServeContent(w, r, name, time.Now(), f)
}
