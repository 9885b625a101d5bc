package autodj

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
)

// fakeQueue records enqueued renditions.
type fakeQueue struct {
	mu    sync.Mutex
	items []audio.Rendition
	cap   int
	skips int
}

func (q *fakeQueue) Enqueue(r audio.Rendition) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cap > 0 && len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, r)
	return true
}

func (q *fakeQueue) QueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fakeQueue) Skip() {
	q.mu.Lock()
	q.skips++
	q.mu.Unlock()
}

// recorder is a RenderFunc that remembers the genres it was asked for.
type recorder struct {
	mu     sync.Mutex
	genres []string
	err    error
}

func (r *recorder) render(_ context.Context, genre, prompt string) (audio.Rendition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return audio.Rendition{}, r.err
	}
	r.genres = append(r.genres, genre)
	id := fmt.Sprintf("r%d", len(r.genres))
	return audio.Rendition{ID: id, Name: llm.TrackName(genre, id)}, nil
}

func newTestScheduler(t *testing.T, rec *recorder, q Queue, cfg Config) *Scheduler {
	t.Helper()
	cfg.Poll = time.Millisecond
	cfg.Retry = time.Millisecond
	s, err := NewScheduler(rec.render, q, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// --- Construction ---

func TestNewSchedulerDefaults(t *testing.T) {
	s, err := NewScheduler((&recorder{}).render, &fakeQueue{}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	st := s.Status()
	if st.Genre != llm.DefaultGenre {
		t.Errorf("Genre = %q, want %q", st.Genre, llm.DefaultGenre)
	}
	if !st.AutoDJ {
		t.Error("AutoDJ should start enabled")
	}
	if s.cfg.BufferAhead != 1 {
		t.Errorf("BufferAhead = %d, want 1", s.cfg.BufferAhead)
	}
}

func TestNewSchedulerRejects(t *testing.T) {
	if _, err := NewScheduler(nil, &fakeQueue{}, Config{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("nil renderer error = %v, want ErrInvalidArgument", err)
	}
	if _, err := NewScheduler((&recorder{}).render, &fakeQueue{}, Config{StartingGenre: "polka"}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("unknown genre error = %v, want ErrInvalidArgument", err)
	}
}

// --- Prompts ---

func TestPrompt(t *testing.T) {
	for _, name := range llm.GenreNames() {
		p := Prompt(name)
		if !strings.Contains(p, name) {
			t.Errorf("Prompt(%q) = %q, missing genre", name, p)
		}
		if !strings.Contains(p, fmt.Sprintf("%d bpm", llm.Profiles[name].Tempo)) {
			t.Errorf("Prompt(%q) = %q, missing tempo", name, p)
		}
	}
	if got := Prompt("polka"); got != "polka" {
		t.Errorf("Prompt(polka) = %q", got)
	}
}

func TestPromptTempoSurvivesHeuristic(t *testing.T) {
	for _, name := range llm.GenreNames() {
		in, err := llm.Heuristic{}.Interpret(context.Background(), Prompt(name), nil)
		if err != nil {
			t.Fatal(err)
		}
		if in.Tempo != llm.Profiles[name].Tempo {
			t.Errorf("%s: tempo = %d, want %d", name, in.Tempo, llm.Profiles[name].Tempo)
		}
	}
}

// --- Scheduling ---

func TestTickFillsBuffer(t *testing.T) {
	rec := &recorder{}
	q := &fakeQueue{}
	s := newTestScheduler(t, rec, q, Config{StartingGenre: "jazz", BufferAhead: 2, DwellMin: time.Hour, DwellMax: time.Hour})
	s.SetAutoDJ(true)

	ctx := context.Background()
	for range 5 {
		s.tick(ctx)
	}
	if q.QueueSize() != 2 {
		t.Errorf("QueueSize = %d, want 2", q.QueueSize())
	}
	st := s.Status()
	if st.Rendered != 2 || st.Genre != "jazz" || !strings.Contains(st.LastPrompt, "jazz") {
		t.Errorf("status = %+v", st)
	}
}

func TestTickRetriesAfterFailure(t *testing.T) {
	rec := &recorder{err: errors.New("mixer offline")}
	q := &fakeQueue{}
	s := newTestScheduler(t, rec, q, Config{StartingGenre: "jazz", DwellMin: time.Hour, DwellMax: time.Hour})
	s.SetAutoDJ(true)

	if pause := s.tick(context.Background()); pause != s.cfg.Retry {
		t.Errorf("pause = %v, want %v", pause, s.cfg.Retry)
	}
	if st := s.Status(); st.Failures != 1 || st.Rendered != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestIdleStopsRendering(t *testing.T) {
	rec := &recorder{}
	q := &fakeQueue{}
	s := newTestScheduler(t, rec, q, Config{StartingGenre: "jazz", DwellMin: time.Hour, DwellMax: time.Hour})
	listeners := 0
	s.SetListenerCountFunc(func() int { return listeners })

	s.tick(context.Background())
	if q.QueueSize() != 0 || !s.Status().Idle {
		t.Errorf("rendered while idle: queue %d", q.QueueSize())
	}
	listeners = 1
	s.tick(context.Background())
	if q.QueueSize() != 1 {
		t.Errorf("QueueSize = %d, want 1", q.QueueSize())
	}
}

func TestTransitionFollowsGraph(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec, &fakeQueue{}, Config{StartingGenre: "jazz", Seed: 7})
	for range 50 {
		s.mu.Lock()
		from := s.genre
		s.transition()
		to := s.genre
		s.mu.Unlock()
		found := false
		for _, adj := range llm.Profiles[from].Adjacent {
			if adj == to {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("transition %s -> %s is not an edge", from, to)
		}
	}
}

func TestDwellExpiryTransitions(t *testing.T) {
	rec := &recorder{}
	q := &fakeQueue{}
	s := newTestScheduler(t, rec, q, Config{StartingGenre: "bossa nova", BufferAhead: 5, DwellMin: time.Minute, DwellMax: time.Minute})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	s.SetAutoDJ(true)

	s.tick(context.Background())
	if s.Status().Genre != "bossa nova" {
		t.Fatalf("genre changed before dwell expired: %s", s.Status().Genre)
	}
	if got := s.Status().DwellRemaining; got != 60 {
		t.Errorf("DwellRemaining = %v, want 60", got)
	}

	clock = clock.Add(2 * time.Minute)
	s.tick(context.Background())
	// bossa nova has a single neighbour.
	if got := s.Status().Genre; got != "jazz" {
		t.Errorf("genre after dwell = %q, want jazz", got)
	}
}

func TestAutoDJOffHoldsGenre(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec, &fakeQueue{}, Config{StartingGenre: "bossa nova", BufferAhead: 5})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	s.SetAutoDJ(false)
	clock = clock.Add(time.Hour)
	s.tick(context.Background())
	if got := s.Status().Genre; got != "bossa nova" {
		t.Errorf("genre = %q, want bossa nova", got)
	}
}

func TestSetGenre(t *testing.T) {
	rec := &recorder{}
	q := &fakeQueue{}
	s := newTestScheduler(t, rec, q, Config{StartingGenre: "jazz", BufferAhead: 5, DwellMin: time.Hour, DwellMax: time.Hour})
	if err := s.SetGenre("polka"); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("SetGenre(polka) = %v, want ErrInvalidArgument", err)
	}
	if err := s.SetGenre("rock"); err != nil {
		t.Fatal(err)
	}
	s.tick(context.Background())
	if len(rec.genres) != 1 || rec.genres[0] != "rock" {
		t.Errorf("rendered genres = %v, want [rock]", rec.genres)
	}
}

func TestSkipReachesQueue(t *testing.T) {
	q := &fakeQueue{}
	s := newTestScheduler(t, &recorder{}, q, Config{})
	s.Skip()
	if q.skips != 1 {
		t.Errorf("skips = %d, want 1", q.skips)
	}
}

func TestFullQueueDropsRendition(t *testing.T) {
	rec := &recorder{}
	q := &fakeQueue{cap: 1}
	s := newTestScheduler(t, rec, q, Config{StartingGenre: "jazz", BufferAhead: 3, DwellMin: time.Hour, DwellMax: time.Hour})
	s.tick(context.Background())
	s.tick(context.Background())
	if st := s.Status(); st.Rendered != 1 || q.QueueSize() != 1 {
		t.Errorf("rendered = %d, queue = %d, want 1, 1", st.Rendered, q.QueueSize())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, rec, &fakeQueue{}, Config{StartingGenre: "jazz"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if s.Status().Rendered < 1 {
		t.Error("Run rendered nothing")
	}
}
