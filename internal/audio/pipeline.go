package audio

import (
	"context"
	"log"
	"sync"
	"time"
)

// QueueCapacity is how many renditions may wait behind the one playing.
const QueueCapacity = 8

// Rendition is a finished stereo mix queued for playback, already converted
// to interleaved 48 kHz int16 PCM.
type Rendition struct {
	ID      string
	Name    string
	Samples []int16
}

// Frames returns the number of whole 20ms frames in the rendition.
func (r Rendition) Frames() int {
	return len(r.Samples) / FrameSamples
}

// Duration is the playing time of the rendition on the stream clock.
func (r Rendition) Duration() time.Duration {
	return time.Duration(r.Frames()) * FrameDuration
}

func (r Rendition) frame(i int) []int16 {
	return r.Samples[i*FrameSamples : (i+1)*FrameSamples]
}

// NewRendition converts a studio mix rendered at sampleRate into a Rendition
// on the stream clock.
func NewRendition(id, name string, mix Stereo, sampleRate int) Rendition {
	if sampleRate != SampleRate {
		mix = ResampleStereo(mix, sampleRate, SampleRate)
	}
	pcm := PCM16(mix)
	if short := len(pcm) % FrameSamples; short != 0 {
		pcm = append(pcm, make([]int16, FrameSamples-short)...)
	}
	return Rendition{ID: id, Name: name, Samples: pcm}
}

// NowPlaying describes the rendition on air.
type NowPlaying struct {
	ID       string
	Name     string
	Position time.Duration
	Duration time.Duration
}

// deck is a rendition with a read cursor in frames.
type deck struct {
	r   Rendition
	pos int
}

// Pipeline plays queued renditions back to back at real-time rate,
// crossfading each into the next, and emits 20ms PCM frames.
type Pipeline struct {
	queue chan Rendition
	out   chan []int16
	skip  chan struct{}

	mu        sync.RWMutex
	crossfade time.Duration
	now       NowPlaying
}

// NewPipeline creates a playback pipeline with the given crossfade duration.
func NewPipeline(crossfade time.Duration) *Pipeline {
	return &Pipeline{
		queue:     make(chan Rendition, QueueCapacity),
		out:       make(chan []int16, 100),
		skip:      make(chan struct{}, 1),
		crossfade: crossfade,
	}
}

// Frames returns the channel of outgoing PCM frames. It is closed when Run
// returns.
func (p *Pipeline) Frames() <-chan []int16 { return p.out }

// Enqueue adds a rendition to the playback queue. It reports false when the
// queue is full instead of blocking the caller.
func (p *Pipeline) Enqueue(r Rendition) bool {
	select {
	case p.queue <- r:
		return true
	default:
		return false
	}
}

// QueueSize returns the number of renditions waiting.
func (p *Pipeline) QueueSize() int { return len(p.queue) }

// Skip ends the current rendition at the next frame boundary.
func (p *Pipeline) Skip() {
	select {
	case p.skip <- struct{}{}:
	default:
	}
}

// SetCrossfade changes the crossfade length used from the next transition on.
func (p *Pipeline) SetCrossfade(d time.Duration) {
	p.mu.Lock()
	p.crossfade = d
	p.mu.Unlock()
}

// CrossfadeDuration returns the configured crossfade length.
func (p *Pipeline) CrossfadeDuration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.crossfade
}

// Status reports what is on air.
func (p *Pipeline) Status() NowPlaying {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.now
}

// Run plays the queue until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.out)

	clock := time.NewTicker(FrameDuration)
	defer clock.Stop()

	var cur *deck
	for {
		if cur == nil {
			select {
			case <-ctx.Done():
				return
			case r := <-p.queue:
				cur = &deck{r: r}
			}
		}
		next, ok := p.play(ctx, clock, cur)
		if !ok && ctx.Err() != nil {
			return
		}
		cur = next
	}
}

// play runs d to its end. If another rendition is waiting when the fade zone
// starts the two are blended and the incoming deck is returned part-played.
// ok is false when playback was cut short by skip or cancel.
func (p *Pipeline) play(ctx context.Context, clock *time.Ticker, d *deck) (next *deck, ok bool) {
	total := d.r.Frames()
	fade := min(int(p.CrossfadeDuration()/FrameDuration), total/2)
	fadeAt := total - fade

	p.onAir(d)
	log.Printf("Now playing: %s (%s, frames: %d)", d.r.Name, d.r.ID, total)

	for ; d.pos < fadeAt; d.pos++ {
		if !p.emit(ctx, clock, d.r.frame(d.pos)) {
			return nil, false
		}
		p.advance(d.pos)
	}

	select {
	case r := <-p.queue:
		next = &deck{r: r}
	default:
	}

	for ; d.pos < total; d.pos++ {
		frame := d.r.frame(d.pos)
		if next != nil && next.pos < next.r.Frames() {
			progress := float64(d.pos-fadeAt) / float64(fade)
			frame = CrossfadeFrames(frame, next.r.frame(next.pos), progress)
			next.pos++
		}
		if !p.emit(ctx, clock, frame) {
			return nil, false
		}
		p.advance(d.pos)
	}
	if next != nil {
		log.Printf("Crossfaded into: %s (%s)", next.r.Name, next.r.ID)
	}
	return next, true
}

// emit waits for the frame clock and hands one frame downstream.
func (p *Pipeline) emit(ctx context.Context, clock *time.Ticker, frame []int16) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.skip:
		log.Println("Rendition skipped")
		return false
	case <-clock.C:
	}
	select {
	case p.out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) onAir(d *deck) {
	p.mu.Lock()
	p.now = NowPlaying{
		ID:       d.r.ID,
		Name:     d.r.Name,
		Position: time.Duration(d.pos) * FrameDuration,
		Duration: d.r.Duration(),
	}
	p.mu.Unlock()
}

func (p *Pipeline) advance(frame int) {
	p.mu.Lock()
	p.now.Position = time.Duration(frame) * FrameDuration
	p.mu.Unlock()
}
