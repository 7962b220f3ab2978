package biquad

import "math"

// Parameter limits shared by every design function. Out-of-range inputs
// are clamped silently; the design formulas are stable over these ranges.
const (
	MinFrequency = 20.0
	MinQ         = 0.1
	MaxQ         = 18.0

	// minA0 guards the normalization divide.
	minA0 = 1e-10
)

// prewarped returns sin(w0) and cos(w0) for the prewarped normalized
// frequency, computed through tan-half-angle identities so the response
// stays accurate close to Nyquist.
func prewarped(freq, sampleRate float64) (sinw, cosw float64) {
	omega := 2 * math.Pi * freq / sampleRate
	t := math.Tan(omega / 2)
	t2 := t * t
	denom := 1 + t2

	return 2 * t / denom, (1 - t2) / denom
}

func clampFreq(freq, sampleRate float64) float64 {
	upper := 0.499 * sampleRate
	if freq < MinFrequency {
		return MinFrequency
	}

	if freq > upper {
		return upper
	}

	return freq
}

func clampQ(q float64) float64 {
	if q < MinQ {
		return MinQ
	}

	if q > MaxQ {
		return MaxQ
	}

	return q
}

func normalize(b0, b1, b2, a0, a1, a2 float64) Coefficients {
	if math.Abs(a0) < minA0 {
		a0 = 1
	}

	return Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}

// Bell designs a peaking-EQ section with gain in dB.
func Bell(freq, gainDB, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	a := math.Pow(10, gainDB/40)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)

	return normalize(
		1+alpha*a, -2*cosw, 1-alpha*a,
		1+alpha/a, -2*cosw, 1-alpha/a,
	)
}

// LowShelf designs a low-shelf section with gain in dB.
func LowShelf(freq, gainDB, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	a := math.Pow(10, gainDB/40)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)
	beta := 2 * math.Sqrt(a) * alpha

	return normalize(
		a*((a+1)-(a-1)*cosw+beta),
		2*a*((a-1)-(a+1)*cosw),
		a*((a+1)-(a-1)*cosw-beta),
		(a+1)+(a-1)*cosw+beta,
		-2*((a-1)+(a+1)*cosw),
		(a+1)+(a-1)*cosw-beta,
	)
}

// HighShelf designs a high-shelf section with gain in dB.
func HighShelf(freq, gainDB, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	a := math.Pow(10, gainDB/40)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)
	beta := 2 * math.Sqrt(a) * alpha

	return normalize(
		a*((a+1)+(a-1)*cosw+beta),
		-2*a*((a-1)+(a+1)*cosw),
		a*((a+1)+(a-1)*cosw-beta),
		(a+1)-(a-1)*cosw+beta,
		2*((a-1)-(a+1)*cosw),
		(a+1)-(a-1)*cosw-beta,
	)
}

// LowCut designs a second-order highpass section. Steeper slopes are
// built by cascading sections with Butterworth stage Qs.
func LowCut(freq, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)

	return normalize(
		(1+cosw)/2, -(1 + cosw), (1+cosw)/2,
		1+alpha, -2*cosw, 1-alpha,
	)
}

// HighCut designs a second-order lowpass section.
func HighCut(freq, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)

	return normalize(
		(1-cosw)/2, 1-cosw, (1-cosw)/2,
		1+alpha, -2*cosw, 1-alpha,
	)
}

// Notch designs a notch section centered at freq.
func Notch(freq, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)

	return normalize(
		1, -2*cosw, 1,
		1+alpha, -2*cosw, 1-alpha,
	)
}

// BandPass designs a constant-peak-gain bandpass section.
func BandPass(freq, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)

	return normalize(
		alpha, 0, -alpha,
		1+alpha, -2*cosw, 1-alpha,
	)
}

// AllPass designs a unity-magnitude allpass section.
func AllPass(freq, q, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	q = clampQ(q)
	sinw, cosw := prewarped(freq, sampleRate)
	alpha := sinw / (2 * q)

	return normalize(
		1-alpha, -2*cosw, 1+alpha,
		1+alpha, -2*cosw, 1-alpha,
	)
}

// TiltShelf designs a tilt EQ around freq: a low shelf with a wide
// fixed Q of 0.5, pairing with the implicit opposite high-frequency
// trend of the shelf shape.
func TiltShelf(freq, gainDB, sampleRate float64) Coefficients {
	return LowShelf(freq, gainDB, 0.5, sampleRate)
}

// FlatTilt designs a gentle first-order tilt section around freq with
// roughly 3 dB/oct slope. Positive gain boosts highs and cuts lows.
func FlatTilt(freq, gainDB, sampleRate float64) Coefficients {
	freq = clampFreq(freq, sampleRate)
	a := math.Pow(10, gainDB/40)
	omega := 2 * math.Pi * freq / sampleRate
	t := math.Tan(omega / 2)
	sqrtA := math.Sqrt(a)

	return normalize(
		sqrtA*t+a, sqrtA*t-a, 0,
		sqrtA*t+1, sqrtA*t-1, 0,
	)
}

// ButterworthStageQ returns the Q of stage k (0-based) in an n-section
// cascade whose composite response is a maximally flat Butterworth
// lowpass/highpass of order 2n:
//
//	Q_k = 1 / (2*sin(pi*(2k+1) / (4n)))
func ButterworthStageQ(k, n int) float64 {
	if n < 1 {
		n = 1
	}

	return 1 / (2 * math.Sin(math.Pi*float64(2*k+1)/float64(4*n)))
}
