// Package linphase implements the zero-phase-distortion processing
// path: a windowed overlap-add FFT pipeline that applies a magnitude
// response to the signal without touching its phase. The single audible
// effect is the amplitude change plus a fixed reported latency.
package linphase

import (
	"fmt"
	"sync/atomic"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-eq/dsp/core"
	"github.com/cwbudde/algo-eq/dsp/window"
)

// MagnitudeSource supplies a composite magnitude response in dB. The
// equalizer processor satisfies this.
type MagnitudeSource interface {
	TotalMagnitudeDB(freqHz float64) float64
}

// LatencyMode selects the FFT size, which equals the engine latency in
// samples.
type LatencyMode int

const (
	LatencyLow    LatencyMode = iota // 2048 samples
	LatencyMedium                    // 4096 samples
	LatencyHigh                      // 8192 samples
)

// FFTSize returns the FFT length for the mode.
func (m LatencyMode) FFTSize() int {
	switch m {
	case LatencyLow:
		return 2048
	case LatencyHigh:
		return 8192
	default:
		return 4096
	}
}

const numChannels = 2

// Engine is the linear-phase processor. Audio enters a per-channel ring
// buffer; every hop = FFT/2 samples a frame is windowed with a periodic
// Hann (the 50% COLA condition), transformed, scaled per bin by the
// published magnitude response with real and imaginary parts multiplied
// equally, inverse transformed, and overlap-added into the output ring.
//
// A second synthesis window would break COLA and amplitude-modulate the
// output; the single analysis window reconstructs the bypass case
// exactly after the startup transient.
type Engine struct {
	sampleRate float64
	mode       LatencyMode
	enabled    bool

	fftSize int
	hopSize int

	plan *algofft.Plan[complex128]
	win  []float64

	input  [numChannels][]float64 // ring, fftSize
	output [numChannels][]float64 // overlap-add ring, 2*fftSize

	inputWritePos   int
	outputReadPos   int
	samplesUntilFFT int

	timeBuf []complex128
	freqBuf []complex128

	// Linear per-bin gains, fftSize/2+1. current belongs to the audio
	// thread; target is written by the publisher under the spin lock.
	current []float64
	target  []float64

	lock  atomic.Bool
	dirty atomic.Bool
}

// New returns an engine for the given mode. The sample rate is only
// used for bin-to-frequency conversion when sampling a magnitude
// source.
func New(sampleRate float64, mode LatencyMode) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("linphase: invalid sample rate %g", sampleRate)
	}

	e := &Engine{
		sampleRate: sampleRate,
		enabled:    true,
	}

	if err := e.rebuild(mode); err != nil {
		return nil, err
	}

	return e, nil
}

// Prepare updates the sample rate and resets state. Not audio-thread
// safe.
func (e *Engine) Prepare(sampleRate float64) {
	if sampleRate > 0 {
		e.sampleRate = sampleRate
	}

	e.Reset()
}

// SetLatencyMode resizes all buffers for the new FFT size and resets
// the engine. Must be called from a non-audio thread.
func (e *Engine) SetLatencyMode(mode LatencyMode) error {
	if mode == e.mode && e.plan != nil {
		return nil
	}

	return e.rebuild(mode)
}

// LatencyMode returns the current mode.
func (e *Engine) Mode() LatencyMode { return e.mode }

// LatencyInSamples returns the true input-to-output delay: one full
// FFT frame.
func (e *Engine) LatencyInSamples() int { return e.fftSize }

// FFTSize returns the current FFT length.
func (e *Engine) FFTSize() int { return e.fftSize }

// SetEnabled toggles processing. A disabled engine passes audio
// through untouched (and unbuffered).
func (e *Engine) SetEnabled(on bool) { e.enabled = on }

// Enabled reports whether the engine is processing.
func (e *Engine) Enabled() bool { return e.enabled }

// Reset zeroes the rings and restores unity response alignment.
func (e *Engine) Reset() {
	for ch := 0; ch < numChannels; ch++ {
		core.Zero(e.input[ch])
		core.Zero(e.output[ch])
	}

	e.inputWritePos = 0
	e.outputReadPos = 0
	e.samplesUntilFFT = e.hopSize
}

func (e *Engine) rebuild(mode LatencyMode) error {
	n := mode.FFTSize()

	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return fmt.Errorf("linphase: fft plan: %w", err)
	}

	e.mode = mode
	e.fftSize = n
	e.hopSize = n / 2
	e.plan = plan
	e.win = window.Generate(window.TypeHann, n, window.WithPeriodic())

	for ch := 0; ch < numChannels; ch++ {
		e.input[ch] = make([]float64, n)
		e.output[ch] = make([]float64, 2*n)
	}

	e.timeBuf = make([]complex128, n)
	e.freqBuf = make([]complex128, n)

	bins := n/2 + 1
	e.current = make([]float64, bins)
	e.target = make([]float64, bins)

	for i := 0; i < bins; i++ {
		e.current[i] = 1
		e.target[i] = 1
	}

	e.dirty.Store(false)
	e.Reset()

	return nil
}

// UpdateMagnitudeResponse samples the source at every bin frequency,
// converts dB to linear gain, and publishes the result for the audio
// thread. Non-audio threads only; the spin lock is contended solely
// against the audio thread's try-swap.
func (e *Engine) UpdateMagnitudeResponse(src MagnitudeSource) {
	bins := e.fftSize/2 + 1
	binHz := e.sampleRate / float64(e.fftSize)

	for e.lock.Swap(true) {
		// Audio thread holds the lock for a bounded copy; spin.
	}

	for bin := 0; bin < bins; bin++ {
		freq := float64(bin) * binHz
		if freq < 1 {
			freq = 1
		}

		e.target[bin] = core.DBToLinear(src.TotalMagnitudeDB(freq))
	}

	e.dirty.Store(true)
	e.lock.Store(false)
}

// swapResponseIfDirty is the audio-thread side of the hand-off: a
// non-blocking try. A miss is benign; the previous response stays in
// effect for one more block.
func (e *Engine) swapResponseIfDirty() {
	if !e.dirty.Load() {
		return
	}

	if e.lock.Swap(true) {
		return // publisher mid-write; retry next block
	}

	copy(e.current, e.target)
	e.dirty.Store(false)
	e.lock.Store(false)
}

// ProcessBlock runs the overlap-add pipeline over the stereo block in
// place. Output is delayed by LatencyInSamples.
func (e *Engine) ProcessBlock(left, right []float64) {
	if !e.enabled || e.plan == nil {
		return
	}

	e.swapResponseIfDirty()

	n := len(left)
	ringSize := e.fftSize
	outSize := 2 * e.fftSize

	for i := 0; i < n; i++ {
		e.input[0][e.inputWritePos] = left[i]
		e.input[1][e.inputWritePos] = right[i]
		e.inputWritePos = (e.inputWritePos + 1) % ringSize

		e.samplesUntilFFT--
		if e.samplesUntilFFT <= 0 {
			e.processFrame(0)
			e.processFrame(1)
			e.samplesUntilFFT = e.hopSize
		}

		left[i] = e.output[0][e.outputReadPos]
		right[i] = e.output[1][e.outputReadPos]
		e.output[0][e.outputReadPos] = 0
		e.output[1][e.outputReadPos] = 0
		e.outputReadPos = (e.outputReadPos + 1) % outSize
	}
}

// processFrame windows the newest fftSize input samples, applies the
// magnitude response in the frequency domain, and overlap-adds the
// result just past the output read position.
func (e *Engine) processFrame(ch int) {
	n := e.fftSize
	ring := e.input[ch]

	// Oldest-first extraction: inputWritePos points at the oldest
	// sample after the write in ProcessBlock.
	for i := 0; i < n; i++ {
		idx := e.inputWritePos + i
		if idx >= n {
			idx -= n
		}

		e.timeBuf[i] = complex(ring[idx]*e.win[i], 0)
	}

	if err := e.plan.Forward(e.freqBuf, e.timeBuf); err != nil {
		return
	}

	// Scale each bin and its conjugate mirror by the same real gain:
	// magnitude changes, the signal's own phase does not, and the
	// spectrum stays Hermitian.
	half := n / 2

	e.freqBuf[0] *= complex(e.current[0], 0)
	e.freqBuf[half] *= complex(e.current[half], 0)

	for bin := 1; bin < half; bin++ {
		g := complex(e.current[bin], 0)
		e.freqBuf[bin] *= g
		e.freqBuf[n-bin] *= g
	}

	if err := e.plan.Inverse(e.timeBuf, e.freqBuf); err != nil {
		return
	}

	out := e.output[ch]
	outSize := 2 * n

	start := e.outputReadPos + 1
	for i := 0; i < n; i++ {
		idx := start + i
		if idx >= outSize {
			idx -= outSize
		}

		out[idx] += real(e.timeBuf[i])
	}
}

// MagnitudeAt returns the audio-side linear gain currently applied at
// the given bin, for diagnostics.
func (e *Engine) MagnitudeAt(bin int) float64 {
	if bin < 0 || bin >= len(e.current) {
		return 1
	}

	return e.current[bin]
}

// ResponseFromTable publishes a precomputed dB response directly. The
// table is resampled by nearest bin when its length differs.
func (e *Engine) ResponseFromTable(dbTable []float64) {
	if len(dbTable) == 0 {
		return
	}

	bins := e.fftSize/2 + 1

	for e.lock.Swap(true) {
	}

	for bin := 0; bin < bins; bin++ {
		srcIdx := bin * (len(dbTable) - 1) / maxInt(bins-1, 1)
		e.target[bin] = core.DBToLinear(dbTable[srcIdx])
	}

	e.dirty.Store(true)
	e.lock.Store(false)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
