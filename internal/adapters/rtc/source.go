package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

var ErrSourceBusy = errors.New("capture source already acquired")

// StaticSource vends static RTP tracks fed by the embedding application.
// The hardware invariant holds here: one live stream at a time, a new
// Acquire fails until the previous stream is released.
type StaticSource struct {
	mu   sync.Mutex
	busy bool
}

func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

func (s *StaticSource) Acquire(ctx context.Context, t domain.CallType) (core.MediaStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrSourceBusy
	}

	streamID := uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	tracks := []webrtc.TrackLocal{audio}

	if t == domain.CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID,
		)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, video)
	}

	s.busy = true
	log.Info().Str("module", "rtc").Str("stream", streamID).Str("type", string(t)).Msg("capture acquired")
	return &staticStream{source: s, id: streamID, tracks: tracks}, nil
}

type staticStream struct {
	source *StaticSource
	id     string

	mu            sync.Mutex
	tracks        []webrtc.TrackLocal
	constraints   domain.VideoQualitySettings
	muted         bool
	videoDisabled bool
	released      bool
}

func (st *staticStream) Tracks() []webrtc.TrackLocal {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tracks
}

// ApplyVideoConstraints records the target settings; the frame producer
// reads them via Constraints before encoding.
func (st *staticStream) ApplyVideoConstraints(q domain.VideoQualitySettings) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.released {
		return ErrConnectionClosed
	}
	st.constraints = q
	log.Info().Str("module", "rtc").Str("stream", st.id).
		Int("width", q.Width).Int("height", q.Height).Int("fps", q.FrameRate).Msg("video constraints applied")
	return nil
}

// Constraints returns the settings the producer should encode with.
func (st *staticStream) Constraints() domain.VideoQualitySettings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.constraints
}

func (st *staticStream) SetMuted(muted bool) {
	st.mu.Lock()
	st.muted = muted
	st.mu.Unlock()
}

func (st *staticStream) SetVideoDisabled(disabled bool) {
	st.mu.Lock()
	st.videoDisabled = disabled
	st.mu.Unlock()
}

// Muted reports whether the producer should drop audio frames.
func (st *staticStream) Muted() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.muted
}

// VideoDisabled reports whether the producer should drop video frames.
func (st *staticStream) VideoDisabled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.videoDisabled
}

// Release frees the hardware handle. Idempotent.
func (st *staticStream) Release() {
	st.mu.Lock()
	if st.released {
		st.mu.Unlock()
		return
	}
	st.released = true
	st.mu.Unlock()

	st.source.mu.Lock()
	st.source.busy = false
	st.source.mu.Unlock()
	log.Info().Str("module", "rtc").Str("stream", st.id).Msg("capture released")
}
