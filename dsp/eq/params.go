// Package eq implements a twelve-band parametric equalizer with static
// biquad cascades, per-band dynamic gain driven by an envelope follower,
// and mid/side routing.
package eq

import "github.com/cwbudde/algo-eq/dsp/core"

// FilterType selects the response shape of a band.
type FilterType int

const (
	Bell FilterType = iota
	LowShelf
	HighShelf
	LowCut
	HighCut
	Notch
	BandPass
	TiltShelf
	AllPass
	FlatTilt
)

// UsesGain reports whether the type consumes the band's gain parameter.
// Cuts, Notch, BandPass and AllPass ignore it.
func (t FilterType) UsesGain() bool {
	switch t {
	case Bell, LowShelf, HighShelf, TiltShelf, FlatTilt:
		return true
	default:
		return false
	}
}

// ChannelMode selects which signal a band processes.
type ChannelMode int

const (
	Stereo ChannelMode = iota
	LeftOnly
	RightOnly
	Mid
	Side
)

const (
	// MaxBands is the number of band slots in a processor.
	MaxBands = 12

	// MaxCascade is the deepest cut-filter cascade (96 dB/oct).
	MaxCascade = 8

	MinFrequency = 20.0
	MaxFrequency = 20000.0
	MinGainDB    = -30.0
	MaxGainDB    = 30.0
	MinQ         = 0.1
	MaxQ         = 18.0
	DefaultQ     = 0.71
	MinSlope     = 6
	MaxSlope     = 96

	MinThresholdDB = -60.0
	MaxThresholdDB = 0.0
	MinRatio       = 1.0
	MaxRatio       = 10.0
	MinAttackMS    = 0.1
	MaxAttackMS    = 500.0
	MinReleaseMS   = 10.0
	MaxReleaseMS   = 2000.0

	// gainBypassEpsilon skips the input/output gain stage when the
	// linear gain is this close to unity.
	gainBypassEpsilon = 1e-4
)

// defaultFrequencies spreads the twelve band slots across the audible
// range, two slots per ISO-ish octave center.
var defaultFrequencies = [MaxBands]float64{
	30, 60, 120, 250, 500, 1000, 2000, 4000, 8000, 12000, 16000, 20000,
}

// BandParameters is the full user-facing state of one band. Plain
// scalars; a torn cross-thread read of any field is absorbed by the
// coefficient smoothers downstream.
type BandParameters struct {
	Type      FilterType
	Channel   ChannelMode
	Frequency float64
	GainDB    float64
	Q         float64

	// SlopeDBPerOct applies to LowCut/HighCut only (6..96 dB/oct).
	SlopeDBPerOct int

	Active   bool
	Bypassed bool
	Solo     bool

	// Dynamic mode.
	DynamicEnabled bool
	ThresholdDB    float64
	Ratio          float64
	AttackMS       float64
	ReleaseMS      float64
}

// DefaultBandParameters returns the initial state of band slot index.
func DefaultBandParameters(index int) BandParameters {
	freq := 1000.0
	if index >= 0 && index < MaxBands {
		freq = defaultFrequencies[index]
	}

	return BandParameters{
		Type:          Bell,
		Channel:       Stereo,
		Frequency:     freq,
		GainDB:        0,
		Q:             DefaultQ,
		SlopeDBPerOct: 12,
		Active:        false,
		ThresholdDB:   -30,
		Ratio:         4,
		AttackMS:      10,
		ReleaseMS:     100,
	}
}

func (p *BandParameters) clamp() {
	p.Frequency = core.Clamp(p.Frequency, MinFrequency, MaxFrequency)
	p.GainDB = core.Clamp(p.GainDB, MinGainDB, MaxGainDB)
	p.Q = core.Clamp(p.Q, MinQ, MaxQ)
	p.ThresholdDB = core.Clamp(p.ThresholdDB, MinThresholdDB, MaxThresholdDB)
	p.Ratio = core.Clamp(p.Ratio, MinRatio, MaxRatio)
	p.AttackMS = core.Clamp(p.AttackMS, MinAttackMS, MaxAttackMS)
	p.ReleaseMS = core.Clamp(p.ReleaseMS, MinReleaseMS, MaxReleaseMS)
	p.SlopeDBPerOct = core.ClampInt(p.SlopeDBPerOct, MinSlope, MaxSlope)
}
