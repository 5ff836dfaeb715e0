package domain

import "time"

type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
)

// LinkStats is one raw sample of transport statistics.
type LinkStats struct {
	RTT           time.Duration `json:"rtt"`
	Jitter        time.Duration `json:"jitter"`
	PacketsLost   uint32        `json:"packetsLost"`
	BandwidthKbps uint32        `json:"bandwidthKbps"`
	SampledAt     time.Time     `json:"sampledAt"`
}

// QualityMetrics is the live per-call quality value, replaced on every
// sampling tick.
type QualityMetrics struct {
	LinkStats
	Level QualityLevel `json:"level"`
}

// VideoQualitySettings is one rung of the quality ladder.
type VideoQualitySettings struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FrameRate     int    `json:"frameRate"`
	TargetBitrate uint32 `json:"targetBitrate"` // kbps
}

// BandwidthThresholds maps estimated bandwidth (kbps) to a quality tier.
type BandwidthThresholds struct {
	Excellent uint32 `mapstructure:"excellent"`
	Good      uint32 `mapstructure:"good"`
	Fair      uint32 `mapstructure:"fair"`
	Poor      uint32 `mapstructure:"poor"`
}

// AdaptiveQualityConfig controls the quality monitor. Ladder is ordered best
// to worst; Min/Max are indices into it.
type AdaptiveQualityConfig struct {
	Enabled    bool
	Min        int
	Max        int
	Ladder     []VideoQualitySettings
	Thresholds BandwidthThresholds
	Interval   time.Duration
}

// DefaultQualityLadder is the stock four-step ladder used when no ladder is
// configured.
func DefaultQualityLadder() []VideoQualitySettings {
	return []VideoQualitySettings{
		{Width: 1280, Height: 720, FrameRate: 30, TargetBitrate: 2500},
		{Width: 960, Height: 540, FrameRate: 30, TargetBitrate: 1200},
		{Width: 640, Height: 360, FrameRate: 24, TargetBitrate: 700},
		{Width: 320, Height: 240, FrameRate: 15, TargetBitrate: 300},
	}
}

func DefaultAdaptiveQualityConfig() AdaptiveQualityConfig {
	ladder := DefaultQualityLadder()
	return AdaptiveQualityConfig{
		Enabled: true,
		Min:     0,
		Max:     len(ladder) - 1,
		Ladder:  ladder,
		Thresholds: BandwidthThresholds{
			Excellent: 2000,
			Good:      1000,
			Fair:      500,
			Poor:      250,
		},
		Interval: 5 * time.Second,
	}
}
