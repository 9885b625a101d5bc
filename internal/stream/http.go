package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/tonelab/internal/audio"
)

// DefaultMP3Bitrate is the encoder bitrate in kbit/s.
const DefaultMP3Bitrate = 192

// HTTPHandler serves the broadcast as an endless MP3 response, one ffmpeg
// encoder per connection.
type HTTPHandler struct {
	broadcaster *Broadcaster
	name        string
	bitrate     int
	ffmpeg      string
}

// NewHTTPHandler creates an MP3 stream handler announcing itself as name.
func NewHTTPHandler(b *Broadcaster, name string) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, name: name, bitrate: DefaultMP3Bitrate, ffmpeg: "ffmpeg"}
}

// ffmpegArgs reads raw stream-clock PCM from stdin and writes MP3 to stdout
// with no output buffering.
func ffmpegArgs(kbps int) []string {
	in := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
	}
	out := []string{
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(kbps) + "k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
	return append(in, out...)
}

// mp3Encoder is a running ffmpeg with its pipes.
type mp3Encoder struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out io.ReadCloser
}

func (h *HTTPHandler) startEncoder(ctx context.Context) (*mp3Encoder, error) {
	cmd := exec.CommandContext(ctx, h.ffmpeg, ffmpegArgs(h.bitrate)...)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &mp3Encoder{cmd: cmd, in: in, out: out}, nil
}

// flushWriter pushes every chunk to the client as soon as it is written.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	enc, err := h.startEncoder(ctx)
	if err != nil {
		log.Printf("HTTP stream: encoder: %v", err)
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	defer enc.cmd.Wait()
	defer cancel()

	hdr := w.Header()
	hdr.Set("Content-Type", "audio/mpeg")
	hdr.Set("Cache-Control", "no-cache, no-store")
	hdr.Set("Connection", "close")
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("ICY-Name", h.name)

	l := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(l)
	log.Printf("HTTP listener connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Printf("HTTP listener disconnected")

	go func() {
		defer enc.in.Close()
		pump(ctx, l, func(frame []int16) error {
			_, err := enc.in.Write(audio.SamplesToBytes(frame))
			return err
		})
	}()

	_, err = io.CopyBuffer(flushWriter{w, flusher}, enc.out, make([]byte, 4096))
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		log.Printf("HTTP stream: %v", err)
	}
}

// pump hands the listener's frames to sink until ctx ends, the listener is
// unsubscribed or sink fails.
func pump(ctx context.Context, l *Listener, sink func([]int16) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok || sink(frame) != nil {
				return
			}
		}
	}
}
