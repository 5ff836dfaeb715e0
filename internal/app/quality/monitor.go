// Package quality samples transport statistics on a fixed interval,
// classifies link quality, and steps video settings along a ladder with
// hysteresis so single noisy samples do not cause oscillation.
package quality

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type Reason string

const (
	ReasonAdaptive Reason = "adaptive"
	ReasonManual   Reason = "manual"
)

// Adjusted reports a ladder step that was actually applied.
type Adjusted struct {
	CallID domain.CallID
	From   domain.VideoQualitySettings
	To     domain.VideoQualitySettings
	Reason Reason
}

// Warning fires when a sample classifies as poor.
type Warning struct {
	CallID  domain.CallID
	Metrics domain.QualityMetrics
}

// StatsSource provides one sample of link statistics per call.
type StatsSource interface {
	Stats() (domain.LinkStats, error)
}

// Hysteresis thresholds: a candidate must move the combined resolution by
// more than 100 pixels or the frame rate by more than 5 fps to be applied.
const (
	resolutionDelta = 100
	frameRateDelta  = 5
)

// Monitor drives adaptive quality for one call. Sampling stops as soon as
// the connection leaves a live state; a tick after teardown is a no-op.
type Monitor struct {
	Adjusted core.Emitter[Adjusted]
	Warnings core.Emitter[Warning]

	cfg      domain.AdaptiveQualityConfig
	callID   domain.CallID
	callType domain.CallType
	stats    StatsSource
	live     func() bool
	stream   core.MediaStream

	mu      sync.Mutex
	current int
	metrics domain.QualityMetrics
	stopped bool
	stop    chan struct{}
}

// NewMonitor builds a monitor for one call. live gates sampling and is
// typically the tracker's ConnectionState.Live.
func NewMonitor(callID domain.CallID, callType domain.CallType, cfg domain.AdaptiveQualityConfig, stats StatsSource, live func() bool, stream core.MediaStream) *Monitor {
	if len(cfg.Ladder) == 0 {
		cfg = domain.DefaultAdaptiveQualityConfig()
	}
	return &Monitor{
		cfg:      cfg,
		callID:   callID,
		callType: callType,
		stats:    stats,
		live:     live,
		stream:   stream,
		stop:     make(chan struct{}),
	}
}

// Start runs the sampling loop until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts sampling. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stop)
	m.mu.Unlock()
	log.Info().Str("module", "quality").Str("call", string(m.callID)).Msg("quality monitor stopped")
}

// Metrics returns the live quality value for the call.
func (m *Monitor) Metrics() domain.QualityMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Current returns the active ladder settings.
func (m *Monitor) Current() domain.VideoQualitySettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Ladder[m.current]
}

// SetQuality applies a ladder rung directly, bypassing hysteresis. Used for
// manual overrides.
func (m *Monitor) SetQuality(index int) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	index = m.clamp(index)
	from := m.cfg.Ladder[m.current]
	to := m.cfg.Ladder[index]
	m.current = index
	m.mu.Unlock()

	if m.stream != nil {
		if err := m.stream.ApplyVideoConstraints(to); err != nil {
			log.Error().Err(err).Str("module", "quality").Str("call", string(m.callID)).Msg("apply constraints")
		}
	}
	m.Adjusted.Emit(Adjusted{CallID: m.callID, From: from, To: to, Reason: ReasonManual})
}

func (m *Monitor) sample() {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped || !m.live() {
		return
	}

	stats, err := m.stats.Stats()
	if err != nil {
		// Sampling failure skips this tick, never kills the call.
		log.Warn().Err(err).Str("module", "quality").Str("call", string(m.callID)).Msg("stats sampling failed")
		return
	}
	if stats.SampledAt.IsZero() {
		stats.SampledAt = time.Now()
	}

	level := Classify(stats)
	metrics := domain.QualityMetrics{LinkStats: stats, Level: level}

	m.mu.Lock()
	m.metrics = metrics
	m.mu.Unlock()

	if level == domain.QualityPoor {
		log.Warn().Str("module", "quality").Str("call", string(m.callID)).
			Dur("rtt", stats.RTT).Uint32("lost", stats.PacketsLost).Dur("jitter", stats.Jitter).Msg("poor link quality")
		m.Warnings.Emit(Warning{CallID: m.callID, Metrics: metrics})
	}

	if !m.cfg.Enabled || m.callType != domain.CallTypeVideo {
		return
	}
	m.adapt(stats)
}

func (m *Monitor) adapt(stats domain.LinkStats) {
	target := m.clamp(m.tierFor(stats.BandwidthKbps))

	m.mu.Lock()
	from := m.cfg.Ladder[m.current]
	to := m.cfg.Ladder[target]
	if !shouldStep(from, to) {
		m.mu.Unlock()
		return
	}
	m.current = target
	m.mu.Unlock()

	if m.stream != nil {
		if err := m.stream.ApplyVideoConstraints(to); err != nil {
			log.Error().Err(err).Str("module", "quality").Str("call", string(m.callID)).Msg("apply constraints")
			return
		}
	}
	log.Info().Str("module", "quality").Str("call", string(m.callID)).
		Int("width", to.Width).Int("height", to.Height).Int("fps", to.FrameRate).Msg("quality adjusted")
	m.Adjusted.Emit(Adjusted{CallID: m.callID, From: from, To: to, Reason: ReasonAdaptive})
}

// tierFor maps estimated bandwidth onto a ladder index, best rung first.
func (m *Monitor) tierFor(kbps uint32) int {
	t := m.cfg.Thresholds
	switch {
	case kbps >= t.Excellent:
		return 0
	case kbps >= t.Good:
		return 1
	case kbps >= t.Fair:
		return 2
	default:
		return len(m.cfg.Ladder) - 1
	}
}

func (m *Monitor) clamp(index int) int {
	min, max := m.cfg.Min, m.cfg.Max
	if max <= 0 || max >= len(m.cfg.Ladder) {
		max = len(m.cfg.Ladder) - 1
	}
	if index < min {
		return min
	}
	if index > max {
		return max
	}
	return index
}

// shouldStep is the hysteresis gate.
func shouldStep(from, to domain.VideoQualitySettings) bool {
	dw := abs(from.Width - to.Width)
	dh := abs(from.Height - to.Height)
	df := abs(from.FrameRate - to.FrameRate)
	return dw+dh > resolutionDelta || df > frameRateDelta
}

// Classify derives the quality label from one raw sample.
func Classify(s domain.LinkStats) domain.QualityLevel {
	switch {
	case s.RTT > 200*time.Millisecond || s.PacketsLost > 10 || s.Jitter > 50*time.Millisecond:
		return domain.QualityPoor
	case s.RTT > 100*time.Millisecond || s.PacketsLost > 5 || s.Jitter > 30*time.Millisecond:
		return domain.QualityFair
	case s.RTT > 50*time.Millisecond || s.PacketsLost > 2 || s.Jitter > 15*time.Millisecond:
		return domain.QualityGood
	default:
		return domain.QualityExcellent
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
