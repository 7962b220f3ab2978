// Package testutil provides deterministic signal generators and
// tolerance helpers shared by the EQ package tests.
package testutil

import (
	"math"
	"math/rand"
)

// DeterministicSine generates a deterministic sine wave.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	step := 2 * math.Pi * freqHz / sampleRate

	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}

	return out
}

// DeterministicNoise generates white noise with a fixed seed for
// reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))

	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}

	return out
}

// Impulse generates a unit impulse at the given position.
func Impulse(length, pos int) []float64 {
	out := make([]float64, length)
	if pos >= 0 && pos < length {
		out[pos] = 1
	}

	return out
}

// PinkishSpectrumDB generates a magnitude-in-dB vector resembling a pink
// noise spectrum: a gentle downward tilt with small deterministic ripple.
// Bin 0 carries the same level as bin 1.
func PinkishSpectrumDB(seed int64, numBins int, levelDB float64) []float64 {
	out := make([]float64, numBins)
	rng := rand.New(rand.NewSource(seed))

	for i := range out {
		bin := i
		if bin == 0 {
			bin = 1
		}

		// -3 dB/oct from bin 1, plus up to +-0.5 dB ripple.
		tilt := -3 * math.Log2(float64(bin))
		out[i] = levelDB + tilt + (rng.Float64()-0.5)
	}

	return out
}
