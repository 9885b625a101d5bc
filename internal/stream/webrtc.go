package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/tonelab/internal/audio"
)

// DefaultOpusBitrate is the Opus encoder bitrate in bit/s.
const DefaultOpusBitrate = 128000

// maxOpusPacket bounds one encoded 20ms frame.
const maxOpusPacket = 4000

// frameEncoder compresses one 20ms interleaved PCM frame.
type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// sampleWriter accepts encoded media samples. *webrtc.TrackLocalStaticSample
// implements it.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// WebRTCHandler answers SDP offers and streams the broadcast as Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	streamID    string

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]context.CancelFunc
}

// NewWebRTCHandler creates a WebRTC stream handler. streamID labels the
// outgoing audio track.
func NewWebRTCHandler(b *Broadcaster, streamID string) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		streamID:    streamID,
		peers:       make(map[*webrtc.PeerConnection]context.CancelFunc),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// offerError is a failed negotiation step and the status it maps to.
type offerError struct {
	status int
	step   string
	err    error
}

func (e *offerError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }

// answer builds a peer connection carrying one Opus track for offer and
// returns it with the track once ICE gathering is complete.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, &offerError{http.StatusInternalServerError, "create peer connection", err}
	}
	fail := func(status int, step string, err error) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, &offerError{status, step, err}
	}

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels}
	track, err := webrtc.NewTrackLocalStaticSample(codec, "audio", h.streamID)
	if err != nil {
		return fail(http.StatusInternalServerError, "create audio track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail(http.StatusInternalServerError, "add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description", err)
	}
	sdp, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "create answer", err)
	}
	if err := pc.SetLocalDescription(sdp); err != nil {
		return fail(http.StatusInternalServerError, "set local description", err)
	}
	<-webrtc.GatheringCompletePromise(pc)
	return pc, track, nil
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.answer(offer)
	if err != nil {
		log.Printf("WebRTC: %v", err)
		var oe *offerError
		if errors.As(err, &oe) {
			http.Error(w, oe.step+" failed", oe.status)
			return
		}
		http.Error(w, "negotiation failed", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.peers[pc] = cancel
	n := len(h.peers)
	h.mu.Unlock()
	log.Printf("WebRTC peer connected (total: %d)", n)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.drop(pc)
		}
	})
	go h.streamToPeer(ctx, track)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// drop forgets pc, stops its stream and closes it once.
func (h *WebRTCHandler) drop(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	cancel, ok := h.peers[pc]
	delete(h.peers, pc)
	n := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	pc.Close()
	log.Printf("WebRTC peer disconnected (remaining: %d)", n)
}

func (h *WebRTCHandler) streamToPeer(ctx context.Context, track sampleWriter) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC: opus encoder: %v", err)
		return
	}
	if err := enc.SetBitrate(DefaultOpusBitrate); err != nil {
		log.Printf("WebRTC: opus bitrate: %v", err)
	}

	l := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(l)
	streamOpus(ctx, l, enc, track)
}

// streamOpus encodes every frame the listener receives and writes it to
// track until the listener stops or the track refuses a sample. Frames that
// fail to encode are skipped.
func streamOpus(ctx context.Context, l *Listener, enc frameEncoder, track sampleWriter) {
	packet := make([]byte, maxOpusPacket)
	pump(ctx, l, func(frame []int16) error {
		n, err := enc.Encode(frame, packet)
		if err != nil {
			log.Printf("WebRTC: opus encode: %v", err)
			return nil
		}
		return track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration})
	})
}
