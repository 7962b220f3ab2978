package eq

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-eq/dsp/core"
)

// Processor chains twelve bands in series, bracketed by input and
// output gain stages.
type Processor struct {
	sampleRate float64
	bands      [MaxBands]*Band

	inputGainDB  float64
	outputGainDB float64
	inputGain    float64
	outputGain   float64
}

// NewProcessor returns a processor with all band slots at their
// defaults (inactive).
func NewProcessor(sampleRate float64) (*Processor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("eq: invalid sample rate %g", sampleRate)
	}

	p := &Processor{
		sampleRate: sampleRate,
		inputGain:  1,
		outputGain: 1,
	}

	for i := range p.bands {
		band, err := NewBand(sampleRate, i)
		if err != nil {
			return nil, err
		}

		p.bands[i] = band
	}

	return p, nil
}

// Prepare propagates sample rate and block size to every band and
// resets state. Not audio-thread safe.
func (p *Processor) Prepare(sampleRate float64, blockSize int) {
	if sampleRate > 0 {
		p.sampleRate = sampleRate
	}

	for _, b := range p.bands {
		b.Prepare(p.sampleRate, blockSize)
	}
}

// Reset zeroes all filter state.
func (p *Processor) Reset() {
	for _, b := range p.bands {
		b.Reset()
	}
}

// SampleRate returns the prepared sample rate.
func (p *Processor) SampleRate() float64 { return p.sampleRate }

// Band returns band slot i, or nil if out of range.
func (p *Processor) Band(i int) *Band {
	if i < 0 || i >= MaxBands {
		return nil
	}

	return p.bands[i]
}

// SetBandParameters installs parameters on band slot i.
func (p *Processor) SetBandParameters(i int, params BandParameters) error {
	if i < 0 || i >= MaxBands {
		return fmt.Errorf("eq: band index %d out of range", i)
	}

	p.bands[i].SetParameters(params)

	return nil
}

// CopyBand duplicates the parameters of band src onto band dst.
func (p *Processor) CopyBand(src, dst int) error {
	if src < 0 || src >= MaxBands || dst < 0 || dst >= MaxBands {
		return fmt.Errorf("eq: band copy %d -> %d out of range", src, dst)
	}

	if src != dst {
		p.bands[dst].SetParameters(p.bands[src].Parameters())
	}

	return nil
}

// SetInputGainDB sets the pre-cascade gain stage.
func (p *Processor) SetInputGainDB(db float64) {
	p.inputGainDB = db
	p.inputGain = core.DBToLinear(db)
}

// SetOutputGainDB sets the post-cascade gain stage.
func (p *Processor) SetOutputGainDB(db float64) {
	p.outputGainDB = db
	p.outputGain = core.DBToLinear(db)
}

// InputGainDB returns the pre-cascade gain in dB.
func (p *Processor) InputGainDB() float64 { return p.inputGainDB }

// OutputGainDB returns the post-cascade gain in dB.
func (p *Processor) OutputGainDB() float64 { return p.outputGainDB }

// ProcessBlock runs input gain, the active bands in index order, and
// output gain, all in place. When any band is soloed, only soloed bands
// process.
func (p *Processor) ProcessBlock(left, right []float64) {
	if math.Abs(p.inputGain-1) > gainBypassEpsilon {
		vecmath.ScaleBlockInPlace(left, p.inputGain)
		vecmath.ScaleBlockInPlace(right, p.inputGain)
	}

	solo := p.anySolo()

	for _, b := range p.bands {
		if solo && !b.params.Solo {
			continue
		}

		b.ProcessBlock(left, right)
	}

	if math.Abs(p.outputGain-1) > gainBypassEpsilon {
		vecmath.ScaleBlockInPlace(left, p.outputGain)
		vecmath.ScaleBlockInPlace(right, p.outputGain)
	}
}

func (p *Processor) anySolo() bool {
	for _, b := range p.bands {
		if b.params.Active && b.params.Solo {
			return true
		}
	}

	return false
}

// TotalMagnitudeDB returns the composite magnitude response at freqHz:
// the sum of the active, non-bypassed band responses plus output gain.
func (p *Processor) TotalMagnitudeDB(freqHz float64) float64 {
	sum := p.outputGainDB
	for _, b := range p.bands {
		sum += b.MagnitudeDB(freqHz)
	}

	return sum
}

// MagnitudeResponse fills out with the composite magnitude in dB at
// each frequency in freqs. Used by analyzer displays and by the
// linear-phase response sampler.
func (p *Processor) MagnitudeResponse(freqs, out []float64) error {
	if len(freqs) != len(out) {
		return fmt.Errorf("eq: response length mismatch %d != %d", len(freqs), len(out))
	}

	for i, f := range freqs {
		out[i] = p.TotalMagnitudeDB(f)
	}

	return nil
}

// TotalGainReductionDB returns the sum of the current dynamic gain
// reductions across active bands, for metering.
func (p *Processor) TotalGainReductionDB() float64 {
	sum := 0.0

	for _, b := range p.bands {
		if b.params.Active && !b.params.Bypassed && b.params.DynamicEnabled {
			sum += b.lastGainReductionDB
		}
	}

	return sum
}
