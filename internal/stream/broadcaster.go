// Package stream delivers the playback pipeline's PCM frames to listeners:
// a fan-out broadcaster, an MP3 stream over HTTP and an Opus stream over
// WebRTC.
package stream

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is a listener's frame buffer, about three seconds of 20ms frames.
const DefaultBuffer = 150

// Listener is one subscriber's view of the broadcast.
type Listener struct {
	C chan []int16

	done    chan struct{}
	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped counts frames skipped because C was full.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

func (l *Listener) offer(frame []int16) {
	select {
	case l.C <- frame:
	default:
		l.dropped.Add(1)
	}
}

// Broadcaster copies every source frame to each subscribed listener. A full
// listener loses the frame; nobody blocks the source.
type Broadcaster struct {
	buffer int
	frames atomic.Int64

	mu   sync.Mutex // serialises membership changes
	live atomic.Pointer[[]*Listener]
}

// NewBroadcaster creates a broadcaster whose listeners buffer up to buffer
// frames. buffer <= 0 means DefaultBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b := &Broadcaster{buffer: buffer}
	b.live.Store(&[]*Listener{})
	return b
}

func (b *Broadcaster) snapshot() []*Listener { return *b.live.Load() }

// Subscribe adds a listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{C: make(chan []int16, b.buffer), done: make(chan struct{})}
	b.mu.Lock()
	next := append(slices.Clone(b.snapshot()), l)
	b.live.Store(&next)
	b.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel. Repeated calls are no-ops.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.snapshot()
	i := slices.Index(cur, l)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	b.live.Store(&next)
	close(l.done)
}

// ListenerCount returns the number of subscribed listeners.
func (b *Broadcaster) ListenerCount() int { return len(b.snapshot()) }

// Frames returns how many source frames have been broadcast.
func (b *Broadcaster) Frames() int64 { return b.frames.Load() }

// Run fans source out until ctx ends or source is closed.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		var frame []int16
		select {
		case <-ctx.Done():
			return
		case f, ok := <-source:
			if !ok {
				return
			}
			frame = f
		}
		b.frames.Add(1)
		for _, l := range b.snapshot() {
			l.offer(frame)
		}
	}
}
