package eq

import (
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-eq/dsp/analyzer"
	"github.com/cwbudde/algo-eq/dsp/core"
	"github.com/cwbudde/algo-eq/dsp/linphase"
	"github.com/cwbudde/algo-eq/dsp/oversample"
	"github.com/cwbudde/algo-eq/dsp/suppress"
)

const wetMixBypassThreshold = 0.99

// Engine is the complete processing chain: input gain, the twelve-band
// processor under either oversampling or the linear-phase renderer,
// wet/dry mix, the resonance suppressor fed by the post analyzer, output
// gain, and an optional delta monitor. Linear phase and oversampling are
// mutually exclusive; linear phase wins while both are requested.
type Engine struct {
	sampleRate float64
	maxBlock   int

	proc *Processor
	lin  *linphase.Engine
	ovs  *oversample.Oversampler
	sup  *suppress.Suppressor

	preAnalyzer  *analyzer.Analyzer
	postAnalyzer *analyzer.Analyzer

	inputGainDB  float64
	outputGainDB float64
	inputGain    float64
	outputGain   float64

	wetDryMix float64
	delta     bool

	linearPhaseOn bool
	analyzerOn    bool

	dry    [numChannels][]float64
	inCopy [numChannels][]float64
}

// bandsSource samples the band curve without the gain stages; the
// engine applies those around the linear-phase renderer itself.
type bandsSource struct{ p *Processor }

func (s bandsSource) TotalMagnitudeDB(freqHz float64) float64 {
	return s.p.TotalMagnitudeDB(freqHz) - s.p.OutputGainDB()
}

// NewEngine builds the full chain for the given sample rate.
func NewEngine(sampleRate float64) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("eq: invalid sample rate %g", sampleRate)
	}

	proc, err := NewProcessor(sampleRate)
	if err != nil {
		return nil, err
	}

	lin, err := linphase.New(sampleRate, linphase.LatencyMedium)
	if err != nil {
		return nil, err
	}

	lin.SetEnabled(false)

	ovs, err := oversample.New(oversample.FactorOff)
	if err != nil {
		return nil, err
	}

	sup, err := suppress.New(sampleRate, defaultBlockSize)
	if err != nil {
		return nil, err
	}

	sup.SetEnabled(false)

	pre, err := analyzer.New(sampleRate)
	if err != nil {
		return nil, err
	}

	post, err := analyzer.New(sampleRate)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		sampleRate:   sampleRate,
		proc:         proc,
		lin:          lin,
		ovs:          ovs,
		sup:          sup,
		preAnalyzer:  pre,
		postAnalyzer: post,
		inputGain:    1,
		outputGain:   1,
		wetDryMix:    1,
		analyzerOn:   true,
	}

	sup.SetFFTSize(post.FFTSize())
	e.Prepare(sampleRate, defaultBlockSize)

	return e, nil
}

// Prepare sizes every stage for the given block size and resets state.
// Not audio-thread safe.
func (e *Engine) Prepare(sampleRate float64, blockSize int) {
	if sampleRate > 0 {
		e.sampleRate = sampleRate
	}

	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}

	e.maxBlock = blockSize

	ratio := e.ovs.Ratio()
	e.proc.Prepare(e.sampleRate*float64(ratio), blockSize*ratio)
	e.ovs.Prepare(blockSize)
	e.lin.Prepare(e.sampleRate)
	e.sup.Prepare(e.sampleRate, blockSize)
	e.sup.SetFFTSize(e.postAnalyzer.FFTSize())
	e.preAnalyzer.Prepare(e.sampleRate)
	e.postAnalyzer.Prepare(e.sampleRate)

	for ch := 0; ch < numChannels; ch++ {
		e.dry[ch] = core.EnsureLen(e.dry[ch], blockSize)
		e.inCopy[ch] = core.EnsureLen(e.inCopy[ch], blockSize)
	}

	e.publishResponse()
}

// Reset clears all runtime state without reallocating.
func (e *Engine) Reset() {
	e.proc.Reset()
	e.lin.Reset()
	e.ovs.Reset()
	e.sup.Reset()
	e.preAnalyzer.Reset()
	e.postAnalyzer.Reset()
}

// SampleRate returns the prepared base sample rate.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// Processor exposes the band processor for parameter inspection.
func (e *Engine) Processor() *Processor { return e.proc }

// Suppressor exposes the resonance suppressor.
func (e *Engine) Suppressor() *suppress.Suppressor { return e.sup }

// PreAnalyzer returns the pre-chain spectrum analyzer.
func (e *Engine) PreAnalyzer() *analyzer.Analyzer { return e.preAnalyzer }

// PostAnalyzer returns the post-chain spectrum analyzer.
func (e *Engine) PostAnalyzer() *analyzer.Analyzer { return e.postAnalyzer }

// SetBandParameters installs parameters on band slot i and republishes
// the linear-phase response.
func (e *Engine) SetBandParameters(i int, params BandParameters) error {
	if err := e.proc.SetBandParameters(i, params); err != nil {
		return err
	}

	e.publishResponse()

	return nil
}

// CopyBand duplicates band src onto band dst.
func (e *Engine) CopyBand(src, dst int) error {
	if err := e.proc.CopyBand(src, dst); err != nil {
		return err
	}

	e.publishResponse()

	return nil
}

// SetInputGainDB sets the gain applied before any processing.
func (e *Engine) SetInputGainDB(db float64) {
	e.inputGainDB = db
	e.inputGain = core.DBToLinear(db)
}

// InputGainDB returns the pre-chain gain in dB.
func (e *Engine) InputGainDB() float64 { return e.inputGainDB }

// SetOutputGainDB sets the gain applied after the suppressor.
func (e *Engine) SetOutputGainDB(db float64) {
	e.outputGainDB = db
	e.outputGain = core.DBToLinear(db)
}

// OutputGainDB returns the post-chain gain in dB.
func (e *Engine) OutputGainDB() float64 { return e.outputGainDB }

// SetWetDryMix sets the wet fraction in [0, 1]; 1 is fully processed.
func (e *Engine) SetWetDryMix(mix float64) {
	e.wetDryMix = core.Clamp(mix, 0, 1)
}

// WetDryMix returns the wet fraction.
func (e *Engine) WetDryMix() float64 { return e.wetDryMix }

// SetDeltaEnabled toggles delta monitoring: the output becomes the
// difference between the chain input and the processed signal.
func (e *Engine) SetDeltaEnabled(on bool) { e.delta = on }

// DeltaEnabled reports whether delta monitoring is active.
func (e *Engine) DeltaEnabled() bool { return e.delta }

// SetAnalyzerEnabled toggles the pre-chain analyzer feed. The post
// analyzer always runs; the suppressor depends on it.
func (e *Engine) SetAnalyzerEnabled(on bool) { e.analyzerOn = on }

// SetLinearPhaseEnabled switches between the IIR band chain and the
// linear-phase renderer.
func (e *Engine) SetLinearPhaseEnabled(on bool) {
	e.linearPhaseOn = on
	e.lin.SetEnabled(on)

	if on {
		e.publishResponse()
	}
}

// LinearPhaseEnabled reports whether the linear-phase path is active.
func (e *Engine) LinearPhaseEnabled() bool { return e.linearPhaseOn }

// SetLinearPhaseMode selects the linear-phase latency mode.
func (e *Engine) SetLinearPhaseMode(mode linphase.LatencyMode) error {
	if err := e.lin.SetLatencyMode(mode); err != nil {
		return err
	}

	e.publishResponse()

	return nil
}

// SetOversamplingFactor rebuilds the oversampler and re-prepares the
// band processor at the internal rate, so band frequencies stay put.
// Not audio-thread safe.
func (e *Engine) SetOversamplingFactor(factor oversample.Factor) error {
	if factor == e.ovs.Factor() {
		return nil
	}

	ovs, err := oversample.New(factor)
	if err != nil {
		return err
	}

	ovs.Prepare(e.maxBlock)
	e.ovs = ovs

	ratio := factor.Ratio()
	e.proc.Prepare(e.sampleRate*float64(ratio), e.maxBlock*ratio)

	return nil
}

// OversamplingFactor returns the configured factor.
func (e *Engine) OversamplingFactor() oversample.Factor { return e.ovs.Factor() }

// LatencyInSamples reports the chain latency: the linear-phase frame
// when that path is active, otherwise the oversampler round trip.
func (e *Engine) LatencyInSamples() int {
	if e.linearPhaseOn {
		return e.lin.LatencyInSamples()
	}

	return e.ovs.LatencyInSamples()
}

// TotalMagnitudeDB returns the static chain response at freqHz,
// including both gain stages.
func (e *Engine) TotalMagnitudeDB(freqHz float64) float64 {
	return e.inputGainDB + bandsSource{e.proc}.TotalMagnitudeDB(freqHz) + e.outputGainDB
}

// publishResponse pushes the current band curve to the linear-phase
// renderer. Control thread only.
func (e *Engine) publishResponse() {
	e.lin.UpdateMagnitudeResponse(bandsSource{e.proc})
}

// ProcessBlock runs the whole chain in place on a stereo block.
func (e *Engine) ProcessBlock(left, right []float64) {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	if n == 0 {
		return
	}

	left, right = left[:n], right[:n]

	if math.Abs(e.inputGain-1) > gainBypassEpsilon {
		vecmath.ScaleBlockInPlace(left, e.inputGain)
		vecmath.ScaleBlockInPlace(right, e.inputGain)
	}

	if e.analyzerOn {
		e.preAnalyzer.PushStereo(left, right)
	}

	// Oversized blocks fall back to plain band processing: the dry and
	// delta scratch cannot hold them.
	haveScratch := n <= e.maxBlock

	needsDry := e.wetDryMix < wetMixBypassThreshold
	if haveScratch && needsDry {
		copy(e.dry[0][:n], left)
		copy(e.dry[1][:n], right)
	}

	if haveScratch && e.delta {
		copy(e.inCopy[0][:n], left)
		copy(e.inCopy[1][:n], right)
	}

	if e.linearPhaseOn {
		e.lin.ProcessBlock(left, right)
	} else if e.ovs.Factor() != oversample.FactorOff && haveScratch {
		upL, upR := e.ovs.Upsample(left, right)
		e.proc.ProcessBlock(upL, upR)
		e.ovs.Downsample(upL, upR, left, right)
	} else {
		e.proc.ProcessBlock(left, right)
	}

	if haveScratch && needsDry {
		mix := e.wetDryMix

		vecmath.ScaleBlockInPlace(e.dry[0][:n], 1-mix)
		vecmath.ScaleBlockInPlace(e.dry[1][:n], 1-mix)
		vecmath.ScaleBlockInPlace(left, mix)
		vecmath.ScaleBlockInPlace(right, mix)
		vecmath.AddBlockInPlace(left, e.dry[0][:n])
		vecmath.AddBlockInPlace(right, e.dry[1][:n])
	}

	// The suppressor analyzes the post-EQ signal, so the analyzer feed
	// happens before it; the suppressor never hears its own output.
	e.postAnalyzer.PushStereo(left, right)

	if e.sup.Enabled() {
		e.sup.ProcessSpectrum(e.postAnalyzer.Magnitudes())
		e.sup.ApplyToBuffer(left, right)
	}

	if math.Abs(e.outputGain-1) > gainBypassEpsilon {
		vecmath.ScaleBlockInPlace(left, e.outputGain)
		vecmath.ScaleBlockInPlace(right, e.outputGain)
	}

	if haveScratch && e.delta {
		for i := 0; i < n; i++ {
			left[i] = e.inCopy[0][i] - left[i]
			right[i] = e.inCopy[1][i] - right[i]
		}
	}
}
