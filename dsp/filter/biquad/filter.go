package biquad

import "math"

const (
	// smoothingPole is the one-pole crossfade coefficient applied to all
	// five coefficients after an update.
	smoothingPole = 0.999

	// smoothingEpsilon is the convergence threshold: once every
	// coefficient delta is below it, the smoothed set snaps to the
	// target and per-sample smoothing stops.
	smoothingEpsilon = 1e-8

	// denormalThreshold flushes delay states to exact zero.
	denormalThreshold = 1e-20
)

// Filter is a single biquad section with coefficient crossfade smoothing
// and Direct Form II Transposed processing.
//
// Coefficient jumps cause filter-state discontinuities that are audible
// as clicks; the crossfade converts a jump into a short glide. The very
// first coefficient set after construction is applied directly so the
// filter does not ring in from the zero state.
type Filter struct {
	target   Coefficients
	smoothed Coefficients

	d0, d1 float64

	needsSmoothing bool
	initialized    bool
}

// NewFilter returns a Filter initialized with unity coefficients.
func NewFilter() *Filter {
	f := &Filter{}
	f.SetCoefficients(Unity())

	return f
}

// SetCoefficients installs a new target coefficient set. The first set
// after construction takes effect immediately; later sets crossfade.
func (f *Filter) SetCoefficients(c Coefficients) {
	f.target = c

	if !f.initialized {
		f.smoothed = c
		f.initialized = true
		f.needsSmoothing = false

		return
	}

	f.needsSmoothing = f.coefficientsDiffer()
}

// Coefficients returns the current target coefficient set.
func (f *Filter) Coefficients() Coefficients {
	return f.target
}

// Reset clears the delay line and snaps the smoothed coefficients to the
// target, cancelling any running crossfade.
func (f *Filter) Reset() {
	f.d0 = 0
	f.d1 = 0
	f.smoothed = f.target
	f.needsSmoothing = false
}

// ProcessSample filters one input sample and returns the output.
func (f *Filter) ProcessSample(x float64) float64 {
	if f.needsSmoothing {
		f.advanceSmoothing()
	}

	c := &f.smoothed
	y := c.B0*x + f.d0
	f.d0 = c.B1*x - c.A1*y + f.d1
	f.d1 = c.B2*x - c.A2*y

	if f.d0 > -denormalThreshold && f.d0 < denormalThreshold {
		f.d0 = 0
	}

	if f.d1 > -denormalThreshold && f.d1 < denormalThreshold {
		f.d1 = 0
	}

	return y
}

// ProcessBlock filters a block of samples in-place. Zero-alloc.
func (f *Filter) ProcessBlock(buf []float64) {
	for i, x := range buf {
		buf[i] = f.ProcessSample(x)
	}
}

// MagnitudeDB returns the target-coefficient magnitude response in dB.
func (f *Filter) MagnitudeDB(freqHz, sampleRate float64) float64 {
	return f.target.MagnitudeDB(freqHz, sampleRate)
}

// Phase returns the target-coefficient phase response in radians.
func (f *Filter) Phase(freqHz, sampleRate float64) float64 {
	return f.target.Phase(freqHz, sampleRate)
}

// IsSmoothing reports whether a coefficient crossfade is in progress.
func (f *Filter) IsSmoothing() bool {
	return f.needsSmoothing
}

func (f *Filter) advanceSmoothing() {
	s, t := &f.smoothed, &f.target
	s.B0 = smoothingPole*s.B0 + (1-smoothingPole)*t.B0
	s.B1 = smoothingPole*s.B1 + (1-smoothingPole)*t.B1
	s.B2 = smoothingPole*s.B2 + (1-smoothingPole)*t.B2
	s.A1 = smoothingPole*s.A1 + (1-smoothingPole)*t.A1
	s.A2 = smoothingPole*s.A2 + (1-smoothingPole)*t.A2

	if !f.coefficientsDiffer() {
		f.smoothed = f.target
		f.needsSmoothing = false
	}
}

func (f *Filter) coefficientsDiffer() bool {
	s, t := &f.smoothed, &f.target

	return math.Abs(s.B0-t.B0) > smoothingEpsilon ||
		math.Abs(s.B1-t.B1) > smoothingEpsilon ||
		math.Abs(s.B2-t.B2) > smoothingEpsilon ||
		math.Abs(s.A1-t.A1) > smoothingEpsilon ||
		math.Abs(s.A2-t.A2) > smoothingEpsilon
}
