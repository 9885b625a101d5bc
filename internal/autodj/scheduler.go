// Package autodj keeps the playback queue filled in serve mode. It dwells on
// a genre for a while, then wanders to a neighbouring genre, and asks the
// studio for a new rendition whenever the queue runs low.
package autodj

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
)

// RenderFunc produces one rendition from a prompt in genre.
type RenderFunc func(ctx context.Context, genre, prompt string) (audio.Rendition, error)

// Queue is the playback queue renditions are fed to. *audio.Pipeline
// implements it.
type Queue interface {
	Enqueue(audio.Rendition) bool
	QueueSize() int
	Skip()
}

// Config holds auto-DJ parameters.
type Config struct {
	StartingGenre string
	BufferAhead   int // renditions to keep queued
	DwellMin      time.Duration
	DwellMax      time.Duration
	Poll          time.Duration // pause while the queue is full or nobody listens
	Retry         time.Duration // pause after a failed render
	Seed          uint64
}

// Status is the current state of the auto-DJ.
type Status struct {
	Genre          string  `json:"genre"`
	AutoDJ         bool    `json:"auto_dj"`
	Idle           bool    `json:"idle"`
	DwellRemaining float64 `json:"dwell_remaining"` // seconds
	QueueSize      int     `json:"queue_size"`
	LastPrompt     string  `json:"last_prompt"`
	Rendered       int     `json:"rendered"`
	Failures       int     `json:"failures"`
}

// Scheduler manages genre transitions and rendition generation.
type Scheduler struct {
	render RenderFunc
	queue  Queue
	cfg    Config
	now    func() time.Time

	mu         sync.Mutex
	genre      string
	autoDJ     bool
	dwellEnd   time.Time
	lastPrompt string
	rendered   int
	failures   int
	listeners  func() int
	rng        *rand.Rand

	override chan string
}

// NewScheduler creates a scheduler. The starting genre must have a profile.
func NewScheduler(render RenderFunc, queue Queue, cfg Config) (*Scheduler, error) {
	if render == nil || queue == nil {
		return nil, fmt.Errorf("scheduler needs a renderer and a queue: %w", errs.ErrInvalidArgument)
	}
	if cfg.StartingGenre == "" {
		cfg.StartingGenre = llm.DefaultGenre
	}
	if !llm.IsValidGenre(cfg.StartingGenre) {
		return nil, fmt.Errorf("genre %q: %w", cfg.StartingGenre, errs.ErrInvalidArgument)
	}
	if cfg.BufferAhead < 1 {
		cfg.BufferAhead = 1
	}
	if cfg.DwellMax < cfg.DwellMin {
		cfg.DwellMax = cfg.DwellMin
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 5 * time.Second
	}
	return &Scheduler{
		render:   render,
		queue:    queue,
		cfg:      cfg,
		now:      time.Now,
		genre:    cfg.StartingGenre,
		autoDJ:   true,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5851f42d4c957f2d)),
		override: make(chan string, 1),
	}, nil
}

// SetListenerCountFunc enables idle detection: while fn reports zero
// listeners nothing new is rendered.
func (s *Scheduler) SetListenerCountFunc(fn func() int) {
	s.mu.Lock()
	s.listeners = fn
	s.mu.Unlock()
}

// Prompt describes genre the way a user would ask for it.
func Prompt(genre string) string {
	p := llm.Profiles[genre]
	if p == nil {
		return genre
	}
	return fmt.Sprintf("%s %s in %s at %d bpm", p.Mood, p.Name, p.Key, p.Tempo)
}

// Status returns the current DJ state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.dwellEnd.Sub(s.now()).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Genre:          s.genre,
		AutoDJ:         s.autoDJ,
		Idle:           s.idleLocked(),
		DwellRemaining: remaining,
		QueueSize:      s.queue.QueueSize(),
		LastPrompt:     s.lastPrompt,
		Rendered:       s.rendered,
		Failures:       s.failures,
	}
}

// SetGenre overrides the current genre from the next rendition on.
func (s *Scheduler) SetGenre(genre string) error {
	if !llm.IsValidGenre(genre) {
		return fmt.Errorf("genre %q: %w", genre, errs.ErrInvalidArgument)
	}
	select {
	case s.override <- genre:
	default:
	}
	return nil
}

// Skip skips the rendition that is playing.
func (s *Scheduler) Skip() {
	s.queue.Skip()
}

// SetAutoDJ enables or disables automatic genre transitions.
func (s *Scheduler) SetAutoDJ(enabled bool) {
	s.mu.Lock()
	s.autoDJ = enabled
	if enabled {
		s.resetDwell()
	}
	s.mu.Unlock()
}

// Run keeps the queue filled. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.resetDwell()
	genre := s.genre
	s.mu.Unlock()
	log.Printf("Auto-DJ started with genre: %s", genre)

	for {
		pause := s.tick(ctx)
		if pause <= 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}

// tick runs one scheduling round and returns how long to wait before the
// next one.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	select {
	case genre := <-s.override:
		s.mu.Lock()
		s.genre = genre
		s.resetDwell()
		s.mu.Unlock()
		log.Printf("Genre manually set to: %s", genre)
	default:
	}

	s.mu.Lock()
	if s.autoDJ && s.now().After(s.dwellEnd) {
		s.transition()
	}
	idle := s.idleLocked()
	s.mu.Unlock()

	if idle || s.queue.QueueSize() >= s.cfg.BufferAhead {
		return s.cfg.Poll
	}
	if err := s.generate(ctx); err != nil {
		return s.cfg.Retry
	}
	return 0
}

func (s *Scheduler) generate(ctx context.Context) error {
	s.mu.Lock()
	genre := s.genre
	prompt := Prompt(genre)
	s.lastPrompt = prompt
	s.mu.Unlock()

	log.Printf("Rendering %s...", genre)
	r, err := s.render(ctx, genre, prompt)
	if err != nil {
		s.mu.Lock()
		s.failures++
		s.mu.Unlock()
		log.Printf("Render error: %v", err)
		return err
	}
	if !s.queue.Enqueue(r) {
		log.Printf("Queue full, dropped %s", r.Name)
		return nil
	}
	s.mu.Lock()
	s.rendered++
	s.mu.Unlock()
	log.Printf("Rendition ready: %s [%s] (genre: %s)", r.Name, r.ID, genre)
	return nil
}

// transition moves to a random neighbour of the current genre. Must be
// called with mu held.
func (s *Scheduler) transition() {
	p := llm.Profiles[s.genre]
	if p == nil || len(p.Adjacent) == 0 {
		s.resetDwell()
		return
	}
	next := p.Adjacent[s.rng.IntN(len(p.Adjacent))]
	log.Printf("Auto-DJ transition: %s -> %s", s.genre, next)
	s.genre = next
	s.resetDwell()
}

// resetDwell draws a new dwell time in [DwellMin, DwellMax]. Must be called
// with mu held.
func (s *Scheduler) resetDwell() {
	dwell := s.cfg.DwellMin
	if spread := s.cfg.DwellMax - s.cfg.DwellMin; spread > 0 {
		dwell += time.Duration(s.rng.Int64N(int64(spread)))
	}
	s.dwellEnd = s.now().Add(dwell)
}

func (s *Scheduler) idleLocked() bool {
	return s.listeners != nil && s.listeners() == 0
}
