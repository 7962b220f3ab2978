// Package analyzer computes smoothed magnitude spectra from a running
// audio feed. The audio thread pushes samples into an internal
// accumulation buffer; every time a full frame is collected the frame is
// windowed, transformed and folded into an asymmetrically smoothed dB
// spectrum (fast attack, slow release). Readers poll the spectrum for
// display or feed it to the resonance suppressor.
package analyzer

import (
	"fmt"
	"math"
	"sync/atomic"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-eq/dsp/core"
	"github.com/cwbudde/algo-eq/dsp/window"
)

// Resolution selects the analysis FFT size.
type Resolution int

const (
	// ResolutionLow uses 1024-point frames.
	ResolutionLow Resolution = iota
	// ResolutionMedium uses 2048-point frames.
	ResolutionMedium
	// ResolutionHigh uses 4096-point frames.
	ResolutionHigh
	// ResolutionMaximum uses 8192-point frames.
	ResolutionMaximum
)

// FFTSize returns the frame length for resolution r.
func (r Resolution) FFTSize() int {
	switch r {
	case ResolutionLow:
		return 1024
	case ResolutionHigh:
		return 4096
	case ResolutionMaximum:
		return 8192
	default:
		return 2048
	}
}

// Speed selects the asymmetric smoothing preset.
type Speed int

const (
	// SpeedVerySlow holds peaks the longest.
	SpeedVerySlow Speed = iota
	// SpeedSlow releases slowly.
	SpeedSlow
	// SpeedMedium is the default ballistic preset.
	SpeedMedium
	// SpeedFast releases quickly.
	SpeedFast
	// SpeedVeryFast tracks the input almost directly.
	SpeedVeryFast
)

// coefficients returns the (attack, release) one-pole coefficients for s.
func (s Speed) coefficients() (attack, release float64) {
	switch s {
	case SpeedVerySlow:
		return 0.7, 0.97
	case SpeedSlow:
		return 0.6, 0.93
	case SpeedFast:
		return 0.3, 0.70
	case SpeedVeryFast:
		return 0.15, 0.45
	default:
		return 0.5, 0.85
	}
}

const (
	// MaxFFTSize is the largest supported frame length.
	MaxFFTSize = 8192
	// MaxNumBins is the matching spectrum length.
	MaxNumBins = MaxFFTSize/2 + 1

	defaultFloorDB = -100.0

	minTiltCenterHz = 100.0
	maxTiltCenterHz = 10000.0
	maxTiltSlopeDB  = 12.0
)

type config struct {
	resolution Resolution
	speed      Speed
	floorDB    float64
}

// Option configures the analyzer at construction time.
type Option func(*config)

// WithResolution selects the initial FFT resolution.
func WithResolution(r Resolution) Option {
	return func(cfg *config) {
		cfg.resolution = r
	}
}

// WithSpeed selects the initial smoothing preset.
func WithSpeed(s Speed) Option {
	return func(cfg *config) {
		cfg.speed = s
	}
}

// WithFloorDB overrides the magnitude floor in dB.
func WithFloorDB(floor float64) Option {
	return func(cfg *config) {
		if floor < 0 {
			cfg.floorDB = floor
		}
	}
}

// Analyzer accumulates samples and maintains a smoothed dB spectrum.
type Analyzer struct {
	sampleRate float64

	resolution Resolution
	fftSize    int
	numBins    int

	plan *algofft.Plan[complex128]
	win  []float64

	// Accumulation buffer at the current FFT size.
	fifo      []float64
	fifoIndex int

	timeBuf []complex128
	freqBuf []complex128

	re  []float64
	im  []float64
	mag []float64

	magnitudes []float64
	smoothed   []float64
	frozenMags []float64

	speed        Speed
	attackCoeff  float64
	releaseCoeff float64

	tiltEnabled  bool
	tiltSlopeDB  float64
	tiltCenterHz float64

	floorDB float64

	frozen  atomic.Bool
	newData atomic.Bool

	// Guards resolution changes against concurrent pushes.
	lock atomic.Bool
}

// New creates an analyzer for the given sample rate.
func New(sampleRate float64, opts ...Option) (*Analyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("analyzer: invalid sample rate %g", sampleRate)
	}

	cfg := config{
		resolution: ResolutionMedium,
		speed:      SpeedMedium,
		floorDB:    defaultFloorDB,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	a := &Analyzer{
		sampleRate:   sampleRate,
		floorDB:      cfg.floorDB,
		tiltSlopeDB:  4.5,
		tiltCenterHz: 1000,
		fifo:         make([]float64, MaxFFTSize),
		timeBuf:      make([]complex128, MaxFFTSize),
		freqBuf:      make([]complex128, MaxFFTSize),
		re:           make([]float64, MaxNumBins),
		im:           make([]float64, MaxNumBins),
		mag:          make([]float64, MaxNumBins),
		magnitudes:   make([]float64, MaxNumBins),
		smoothed:     make([]float64, MaxNumBins),
		frozenMags:   make([]float64, MaxNumBins),
	}

	a.SetSpeed(cfg.speed)

	if err := a.applyResolution(cfg.resolution); err != nil {
		return nil, err
	}

	return a, nil
}

// Prepare updates the sample rate and clears all state.
func (a *Analyzer) Prepare(sampleRate float64) error {
	if sampleRate <= 0 {
		return fmt.Errorf("analyzer: invalid sample rate %g", sampleRate)
	}

	a.sampleRate = sampleRate
	a.Reset()

	return nil
}

// Reset clears the accumulation buffer and floors the spectrum.
func (a *Analyzer) Reset() {
	core.Zero(a.fifo)
	a.fifoIndex = 0

	for i := range a.smoothed {
		a.magnitudes[i] = a.floorDB
		a.smoothed[i] = a.floorDB
	}

	a.newData.Store(false)
}

// SampleRate returns the configured sample rate.
func (a *Analyzer) SampleRate() float64 {
	return a.sampleRate
}

// Resolution returns the current resolution.
func (a *Analyzer) Resolution() Resolution {
	return a.resolution
}

// FFTSize returns the current frame length.
func (a *Analyzer) FFTSize() int {
	return a.fftSize
}

// NumBins returns the current spectrum length.
func (a *Analyzer) NumBins() int {
	return a.numBins
}

// SetResolution switches the FFT size and restarts accumulation.
// Concurrent pushes during the switch drop their samples.
func (a *Analyzer) SetResolution(r Resolution) error {
	if r == a.resolution {
		return nil
	}

	for a.lock.Swap(true) {
	}
	defer a.lock.Store(false)

	return a.applyResolution(r)
}

func (a *Analyzer) applyResolution(r Resolution) error {
	n := r.FFTSize()

	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return fmt.Errorf("analyzer: fft plan: %w", err)
	}

	win, err := window.BlackmanHarris(n)
	if err != nil {
		return fmt.Errorf("analyzer: window: %w", err)
	}

	a.resolution = r
	a.fftSize = n
	a.numBins = n/2 + 1
	a.plan = plan
	a.win = win

	a.Reset()

	return nil
}

// SetSpeed applies a smoothing preset.
func (a *Analyzer) SetSpeed(s Speed) {
	a.speed = s
	a.attackCoeff, a.releaseCoeff = s.coefficients()
}

// Speed returns the active smoothing preset.
func (a *Analyzer) Speed() Speed {
	return a.speed
}

// SetCustomSmoothing overrides the one-pole coefficients directly.
func (a *Analyzer) SetCustomSmoothing(attack, release float64) {
	a.attackCoeff = core.Clamp(attack, 0, 0.99)
	a.releaseCoeff = core.Clamp(release, 0, 0.99)
}

// SetTiltEnabled toggles display tilt compensation.
func (a *Analyzer) SetTiltEnabled(enabled bool) {
	a.tiltEnabled = enabled
}

// SetTiltSlope sets the tilt in dB per octave.
func (a *Analyzer) SetTiltSlope(slopeDBPerOctave float64) {
	a.tiltSlopeDB = core.Clamp(slopeDBPerOctave, -maxTiltSlopeDB, maxTiltSlopeDB)
}

// SetTiltCenterFrequency sets the tilt pivot frequency in Hz.
func (a *Analyzer) SetTiltCenterFrequency(freqHz float64) {
	a.tiltCenterHz = core.Clamp(freqHz, minTiltCenterHz, maxTiltCenterHz)
}

// SetFrozen freezes or resumes the displayed spectrum. Freezing captures
// the current smoothed state; pushed samples are ignored while frozen.
func (a *Analyzer) SetFrozen(freeze bool) {
	if freeze && !a.frozen.Load() {
		copy(a.frozenMags[:a.numBins], a.smoothed[:a.numBins])
	}

	a.frozen.Store(freeze)
}

// Frozen reports whether the spectrum is frozen.
func (a *Analyzer) Frozen() bool {
	return a.frozen.Load()
}

// HasNewData reports whether a frame completed since the last clear.
func (a *Analyzer) HasNewData() bool {
	return a.newData.Load()
}

// ClearNewData resets the new-frame flag.
func (a *Analyzer) ClearNewData() {
	a.newData.Store(false)
}

// PushSamples feeds mono samples. Each completed frame triggers an
// analysis pass. Samples are dropped while frozen or while a resolution
// change is in flight.
func (a *Analyzer) PushSamples(samples []float64) {
	if a.frozen.Load() {
		return
	}

	if a.lock.Swap(true) {
		return
	}
	defer a.lock.Store(false)

	for _, x := range samples {
		a.fifo[a.fifoIndex] = x
		a.fifoIndex++

		if a.fifoIndex >= a.fftSize {
			a.fifoIndex = 0
			a.processFrame()
		}
	}
}

// PushStereo feeds a stereo block as its mono mix.
func (a *Analyzer) PushStereo(left, right []float64) {
	if a.frozen.Load() {
		return
	}

	if a.lock.Swap(true) {
		return
	}
	defer a.lock.Store(false)

	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	for i := 0; i < n; i++ {
		a.fifo[a.fifoIndex] = 0.5 * (left[i] + right[i])
		a.fifoIndex++

		if a.fifoIndex >= a.fftSize {
			a.fifoIndex = 0
			a.processFrame()
		}
	}
}

func (a *Analyzer) processFrame() {
	n := a.fftSize

	for i := 0; i < n; i++ {
		a.timeBuf[i] = complex(a.fifo[i]*a.win[i], 0)
	}

	if err := a.plan.Forward(a.freqBuf[:n], a.timeBuf[:n]); err != nil {
		return
	}

	bins := a.numBins
	for i := 0; i < bins; i++ {
		a.re[i] = real(a.freqBuf[i])
		a.im[i] = imag(a.freqBuf[i])
	}

	vecmath.Magnitude(a.mag[:bins], a.re[:bins], a.im[:bins])

	scale := 1 / float64(n)

	for i := 0; i < bins; i++ {
		db := core.LinearToDB(a.mag[i] * scale)
		if db < a.floorDB || math.IsNaN(db) {
			db = a.floorDB
		}

		prev := a.smoothed[i]
		if db > prev {
			a.smoothed[i] = a.attackCoeff*prev + (1-a.attackCoeff)*db
		} else {
			a.smoothed[i] = a.releaseCoeff*prev + (1-a.releaseCoeff)*db
		}

		a.magnitudes[i] = db
	}

	a.newData.Store(true)
}

// Magnitudes returns the smoothed spectrum in dB, one value per bin up
// to Nyquist. The slice aliases internal state; callers must not hold it
// across a resolution change.
func (a *Analyzer) Magnitudes() []float64 {
	if a.frozen.Load() {
		return a.frozenMags[:a.numBins]
	}

	return a.smoothed[:a.numBins]
}

// RawMagnitudes returns the unsmoothed spectrum of the latest frame.
func (a *Analyzer) RawMagnitudes() []float64 {
	return a.magnitudes[:a.numBins]
}

// FrequencyForBin converts a bin index to Hz.
func (a *Analyzer) FrequencyForBin(bin int) float64 {
	return float64(bin) * a.sampleRate / float64(a.fftSize)
}

// BinForFrequency converts a frequency to the nearest lower bin index.
func (a *Analyzer) BinForFrequency(freqHz float64) int {
	bin := int(freqHz * float64(a.fftSize) / a.sampleRate)

	return core.ClampInt(bin, 0, a.numBins-1)
}

// RawMagnitudeForFrequency returns the smoothed level at freqHz using
// linear interpolation between neighboring bins, without tilt.
func (a *Analyzer) RawMagnitudeForFrequency(freqHz float64) float64 {
	mags := a.Magnitudes()

	exact := freqHz * float64(a.fftSize) / a.sampleRate

	lower := int(exact)
	if lower < 0 {
		return mags[0]
	}

	upper := lower + 1
	if upper >= a.numBins {
		return mags[a.numBins-1]
	}

	frac := exact - float64(lower)

	return mags[lower]*(1-frac) + mags[upper]*frac
}

// MagnitudeForFrequency returns the smoothed level at freqHz with tilt
// compensation applied when enabled.
func (a *Analyzer) MagnitudeForFrequency(freqHz float64) float64 {
	db := a.RawMagnitudeForFrequency(freqHz)

	if !a.tiltEnabled || freqHz <= 0 {
		return db
	}

	octaves := math.Log2(freqHz / a.tiltCenterHz)

	return db + octaves*a.tiltSlopeDB
}
