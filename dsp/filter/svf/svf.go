// Package svf implements a topology-preserving transform (TPT)
// state-variable filter after Zavalishin/Simper (Cytomic).
//
// Unlike a biquad, whose five coefficients cannot change every sample
// without state artifacts, the SVF's integrator formulation is
// modulation-stable: gain can be recomputed at sample rate with no
// zipper noise. The dynamic-EQ path and the resonance-suppressor
// filterbank both modulate gain continuously and rely on this.
package svf

import "math"

// Type identifies the filter shape realized by the output mix.
type Type int

const (
	Bell Type = iota
	LowShelf
	HighShelf
	LowCut
	HighCut
	Notch
	BandPass
	AllPass
)

const (
	// stateFlushThreshold zeroes integrator states to avoid denormals.
	stateFlushThreshold = 1e-15

	// gainUpdateEpsilon short-circuits UpdateGainOnly for insignificant
	// gain deltas.
	gainUpdateEpsilon = 0.01

	freqUpdateEpsilon = 0.01
	qUpdateEpsilon    = 0.001
)

// Filter is a single TPT state-variable filter.
//
// SetParameters computes the full coefficient set including the
// tan prewarp; UpdateGainOnly recomputes only the output mix using the
// cached warp term, which is the hot path for per-sample modulation.
type Filter struct {
	sampleRate float64

	filterType Type
	frequency  float64
	gainDB     float64
	q          float64

	// cachedG is tan(pi * fc / fs), retained for gain-only updates.
	cachedG float64

	// Integrator coefficients.
	a1, a2, a3 float64

	// Output mix: out = m0*input + m1*v1 + m2*v2.
	m0, m1, m2 float64

	// Integrator states.
	ic1eq, ic2eq float64
}

// New returns a Filter prepared for the given sample rate, configured
// as a unity bell.
func New(sampleRate float64) *Filter {
	f := &Filter{
		sampleRate: sampleRate,
		filterType: Bell,
		frequency:  1000,
		gainDB:     0,
		q:          0.71,
		a1:         1,
		m0:         1,
	}
	f.SetParameters(Bell, 1000, 0, 0.71)

	return f
}

// Prepare updates the sample rate and resets the integrator states.
func (f *Filter) Prepare(sampleRate float64) {
	f.sampleRate = sampleRate
	f.Reset()
	f.SetParameters(f.filterType, f.frequency, f.gainDB, f.q)
}

// Reset zeroes the integrator states.
func (f *Filter) Reset() {
	f.ic1eq = 0
	f.ic2eq = 0
}

// SetParameters installs all filter parameters at once, including the
// tan prewarp. Safe to call from the audio thread; the topology is
// modulation-stable.
func (f *Filter) SetParameters(filterType Type, frequency, gainDB, q float64) {
	f.filterType = filterType
	f.frequency = frequency
	f.gainDB = gainDB
	f.q = q

	freq := frequency
	if freq < 20 {
		freq = 20
	}

	if upper := f.sampleRate * 0.499; freq > upper {
		freq = upper
	}

	qc := q
	if qc < 0.1 {
		qc = 0.1
	} else if qc > 18 {
		qc = 18
	}

	f.cachedG = math.Tan(math.Pi * freq / f.sampleRate)
	f.computeMixCoefficients(filterType, gainDB, qc, f.cachedG, 1/qc)
}

// UpdateGainOnly recomputes only the mix coefficients using the cached
// warp term, skipping the tan evaluation. SetParameters must have been
// called at least once with the correct frequency and Q.
func (f *Filter) UpdateGainOnly(gainDB float64) {
	if math.Abs(gainDB-f.gainDB) < gainUpdateEpsilon {
		return
	}

	f.gainDB = gainDB
	f.computeMixCoefficients(f.filterType, gainDB, f.q, f.cachedG, 1/f.q)
}

// NeedsFullUpdate reports whether frequency, Q or type changed enough to
// require SetParameters (including the tan). A gain-only change is
// served by UpdateGainOnly.
func (f *Filter) NeedsFullUpdate(filterType Type, frequency, q float64) bool {
	return filterType != f.filterType ||
		math.Abs(frequency-f.frequency) > freqUpdateEpsilon ||
		math.Abs(q-f.q) > qUpdateEpsilon
}

// ProcessSample executes one TPT tick (zero-delay feedback form).
func (f *Filter) ProcessSample(input float64) float64 {
	v3 := input - f.ic2eq
	v1 := f.a1*f.ic1eq + f.a2*v3
	v2 := f.ic2eq + f.a2*f.ic1eq + f.a3*v3

	f.ic1eq = 2*v1 - f.ic1eq
	f.ic2eq = 2*v2 - f.ic2eq

	out := f.m0*input + f.m1*v1 + f.m2*v2

	if f.ic1eq > -stateFlushThreshold && f.ic1eq < stateFlushThreshold {
		f.ic1eq = 0
	}

	if f.ic2eq > -stateFlushThreshold && f.ic2eq < stateFlushThreshold {
		f.ic2eq = 0
	}

	return out
}

// ProcessBlock filters a block of samples in-place.
func (f *Filter) ProcessBlock(buf []float64) {
	for i, x := range buf {
		buf[i] = f.ProcessSample(x)
	}
}

// GainDB returns the last applied gain in dB.
func (f *Filter) GainDB() float64 { return f.gainDB }

func (f *Filter) computeMixCoefficients(filterType Type, gainDB, q, g, k float64) {
	switch filterType {
	case Bell:
		// a >= 1 always; a cut is the exact reciprocal of the boost
		// with the same a, so boost followed by cut is flat.
		a := math.Pow(10, math.Abs(gainDB)/40)
		if gainDB >= 0 {
			kBell := 1 / (q * a)
			f.a1 = 1 / (1 + g*kBell + g*g)
			f.a2 = g * f.a1
			f.a3 = g * f.a2
			f.m0 = 1
			f.m1 = kBell * (a*a - 1)
			f.m2 = 0
		} else {
			kBell := a / q
			f.a1 = 1 / (1 + g*kBell + g*g)
			f.a2 = g * f.a1
			f.a3 = g * f.a2
			f.m0 = 1
			f.m1 = kBell * (1/(a*a) - 1)
			f.m2 = 0
		}

	case LowShelf:
		a := math.Pow(10, gainDB/40)
		gS := g / math.Sqrt(a)
		f.a1 = 1 / (1 + gS*k + gS*gS)
		f.a2 = gS * f.a1
		f.a3 = gS * f.a2
		f.m0 = 1
		f.m1 = k * (a - 1)
		f.m2 = a*a - 1

	case HighShelf:
		a := math.Pow(10, gainDB/40)
		gS := g * math.Sqrt(a)
		f.a1 = 1 / (1 + gS*k + gS*gS)
		f.a2 = gS * f.a1
		f.a3 = gS * f.a2
		f.m0 = a * a
		f.m1 = k * (1 - a) * a
		f.m2 = 1 - a*a

	case LowCut:
		f.a1 = 1 / (1 + g*k + g*g)
		f.a2 = g * f.a1
		f.a3 = g * f.a2
		f.m0 = 1
		f.m1 = -k
		f.m2 = -1

	case HighCut:
		f.a1 = 1 / (1 + g*k + g*g)
		f.a2 = g * f.a1
		f.a3 = g * f.a2
		f.m0 = 0
		f.m1 = 0
		f.m2 = 1

	case Notch:
		f.a1 = 1 / (1 + g*k + g*g)
		f.a2 = g * f.a1
		f.a3 = g * f.a2
		f.m0 = 1
		f.m1 = -k
		f.m2 = 0

	case BandPass:
		f.a1 = 1 / (1 + g*k + g*g)
		f.a2 = g * f.a1
		f.a3 = g * f.a2
		f.m0 = 0
		f.m1 = 1
		f.m2 = 0

	case AllPass:
		f.a1 = 1 / (1 + g*k + g*g)
		f.a2 = g * f.a1
		f.a3 = g * f.a2
		f.m0 = 1
		f.m1 = -2 * k
		f.m2 = 0

	default:
		f.a1 = 1
		f.a2 = 0
		f.a3 = 0
		f.m0 = 1
		f.m1 = 0
		f.m2 = 0
	}
}
