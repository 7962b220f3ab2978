package eq

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-eq/dsp/core"
	"github.com/cwbudde/algo-eq/dsp/filter/biquad"
	"github.com/cwbudde/algo-eq/dsp/filter/svf"
)

const (
	numChannels = 2

	// envelopeFloor keeps the envelope log conversion finite at silence.
	envelopeFloor = 1e-10

	// gainDivisorEpsilon guards the dynamic gain-scale division when the
	// band gain is 0 dB.
	gainDivisorEpsilon = 1e-6

	// defaultBlockSize sizes scratch before Prepare declares the real
	// block size.
	defaultBlockSize = 2048
)

// Band is one logical equalizer band. Static mode runs a biquad cascade
// per channel (up to eight sections for steep cuts); dynamic mode runs a
// modulation-stable SVF per channel driven by a linked envelope follower.
type Band struct {
	sampleRate float64
	params     BandParameters

	cascade [numChannels][MaxCascade]*biquad.Filter
	stages  int

	dyn          [numChannels]*svf.Filter
	envelope     [numChannels]float64
	attackCoeff  float64
	releaseCoeff float64

	lastGainReductionDB float64
	lastEffectiveGainDB float64

	// Mid/Side scratch, sized at Prepare.
	mid, side []float64
}

// NewBand returns a band initialized with the defaults for slot index.
func NewBand(sampleRate float64, index int) (*Band, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("eq: invalid sample rate %g", sampleRate)
	}

	b := &Band{
		sampleRate: sampleRate,
		stages:     1,
		mid:        make([]float64, defaultBlockSize),
		side:       make([]float64, defaultBlockSize),
	}

	for ch := 0; ch < numChannels; ch++ {
		for k := 0; k < MaxCascade; k++ {
			b.cascade[ch][k] = biquad.NewFilter()
		}

		b.dyn[ch] = svf.New(sampleRate)
	}

	b.SetParameters(DefaultBandParameters(index))

	return b, nil
}

// Prepare resizes scratch buffers for the given block size and resets
// all filter state. Not audio-thread safe.
func (b *Band) Prepare(sampleRate float64, blockSize int) {
	if sampleRate > 0 {
		b.sampleRate = sampleRate
	}

	b.mid = core.EnsureLen(b.mid, blockSize)
	b.side = core.EnsureLen(b.side, blockSize)

	for ch := 0; ch < numChannels; ch++ {
		b.dyn[ch].Prepare(b.sampleRate)
	}

	b.applyParameters(true)
	b.Reset()
}

// Reset zeroes filter and envelope state without touching parameters.
func (b *Band) Reset() {
	for ch := 0; ch < numChannels; ch++ {
		for k := 0; k < MaxCascade; k++ {
			b.cascade[ch][k].Reset()
		}

		b.dyn[ch].Reset()
		b.envelope[ch] = 0
	}

	b.lastGainReductionDB = 0
	b.lastEffectiveGainDB = b.params.GainDB
}

// Parameters returns the band's current parameter snapshot.
func (b *Band) Parameters() BandParameters {
	return b.params
}

// SetParameters installs new parameters, recomputing biquad targets
// (picked up by the coefficient crossfade) and SVF coefficients. Safe
// to call concurrently with processing; smoothing absorbs the jump.
func (b *Band) SetParameters(p BandParameters) {
	p.clamp()
	b.params = p
	b.applyParameters(false)
}

func (b *Band) applyParameters(force bool) {
	p := b.params

	b.rebuildCascade(p)

	b.attackCoeff = envelopeCoeff(p.AttackMS, b.sampleRate)
	b.releaseCoeff = envelopeCoeff(p.ReleaseMS, b.sampleRate)

	st := svfType(p.Type)

	gain := p.GainDB
	if !p.Type.UsesGain() {
		gain = 0
	}

	for ch := 0; ch < numChannels; ch++ {
		if force || b.dyn[ch].NeedsFullUpdate(st, p.Frequency, p.Q) {
			b.dyn[ch].SetParameters(st, p.Frequency, gain, p.Q)
		} else {
			b.dyn[ch].UpdateGainOnly(gain)
		}
	}
}

// rebuildCascade recomputes the target coefficients for every cascade
// stage. Cut filters expand to a Butterworth cascade of
// clamp(ceil(slope/12), 1, 8) sections; all other types occupy stage 0
// with the remaining stages coerced to unity.
func (b *Band) rebuildCascade(p BandParameters) {
	var coeffs [MaxCascade]biquad.Coefficients

	stages := 1

	switch p.Type {
	case LowCut, HighCut:
		stages = core.ClampInt((p.SlopeDBPerOct+11)/12, 1, MaxCascade)
		for k := 0; k < stages; k++ {
			q := biquad.ButterworthStageQ(k, stages)
			if p.Type == LowCut {
				coeffs[k] = biquad.LowCut(p.Frequency, q, b.sampleRate)
			} else {
				coeffs[k] = biquad.HighCut(p.Frequency, q, b.sampleRate)
			}
		}
	case Bell:
		coeffs[0] = biquad.Bell(p.Frequency, p.GainDB, p.Q, b.sampleRate)
	case LowShelf:
		coeffs[0] = biquad.LowShelf(p.Frequency, p.GainDB, p.Q, b.sampleRate)
	case HighShelf:
		coeffs[0] = biquad.HighShelf(p.Frequency, p.GainDB, p.Q, b.sampleRate)
	case Notch:
		coeffs[0] = biquad.Notch(p.Frequency, p.Q, b.sampleRate)
	case BandPass:
		coeffs[0] = biquad.BandPass(p.Frequency, p.Q, b.sampleRate)
	case TiltShelf:
		coeffs[0] = biquad.TiltShelf(p.Frequency, p.GainDB, b.sampleRate)
	case AllPass:
		coeffs[0] = biquad.AllPass(p.Frequency, p.Q, b.sampleRate)
	case FlatTilt:
		coeffs[0] = biquad.FlatTilt(p.Frequency, p.GainDB, b.sampleRate)
	default:
		coeffs[0] = biquad.Unity()
	}

	for k := stages; k < MaxCascade; k++ {
		coeffs[k] = biquad.Unity()
	}

	b.stages = stages

	for ch := 0; ch < numChannels; ch++ {
		for k := 0; k < MaxCascade; k++ {
			b.cascade[ch][k].SetCoefficients(coeffs[k])
		}
	}
}

// ProcessBlock filters the stereo block in place. Inactive or bypassed
// bands leave the buffer untouched.
func (b *Band) ProcessBlock(left, right []float64) {
	if !b.params.Active || b.params.Bypassed {
		return
	}

	if b.params.DynamicEnabled {
		b.processDynamic(left, right)
		return
	}

	switch b.params.Channel {
	case Stereo:
		b.runCascade(0, left)
		b.runCascade(1, right)
	case LeftOnly:
		b.runCascade(0, left)
	case RightOnly:
		b.runCascade(1, right)
	case Mid, Side:
		b.processMidSide(left, right, func(buf []float64) {
			b.runCascade(0, buf)
		})
	}
}

func (b *Band) runCascade(ch int, buf []float64) {
	for k := 0; k < b.stages; k++ {
		b.cascade[ch][k].ProcessBlock(buf)
	}
}

// processMidSide encodes the block to M/S, applies filter to the
// selected component, and decodes back to L/R.
func (b *Band) processMidSide(left, right []float64, filter func([]float64)) {
	n := len(left)
	if n > cap(b.mid) {
		// Block larger than prepared; degrade to bypass rather than
		// allocate on the audio path.
		return
	}

	mid := b.mid[:n]
	side := b.side[:n]

	for i := 0; i < n; i++ {
		mid[i] = 0.5 * (left[i] + right[i])
		side[i] = 0.5 * (left[i] - right[i])
	}

	if b.params.Channel == Mid {
		filter(mid)
	} else {
		filter(side)
	}

	for i := 0; i < n; i++ {
		left[i] = mid[i] + side[i]
		right[i] = mid[i] - side[i]
	}
}

func (b *Band) processDynamic(left, right []float64) {
	switch b.params.Channel {
	case Mid, Side:
		b.processMidSide(left, right, func(buf []float64) {
			for i, x := range buf {
				gain := b.dynamicGain(x*x, x*x)
				b.applyDynamicGain(gain)
				buf[i] = b.dyn[0].ProcessSample(x)
			}
		})
	case LeftOnly:
		for i, x := range left {
			gain := b.dynamicGain(x*x, 0)
			b.applyDynamicGain(gain)
			left[i] = b.dyn[0].ProcessSample(x)
		}
	case RightOnly:
		for i, x := range right {
			gain := b.dynamicGain(0, x*x)
			b.applyDynamicGain(gain)
			right[i] = b.dyn[1].ProcessSample(x)
		}
	default:
		for i := range left {
			l, r := left[i], right[i]
			gain := b.dynamicGain(l*l, r*r)
			b.applyDynamicGain(gain)
			left[i] = b.dyn[0].ProcessSample(l)
			right[i] = b.dyn[1].ProcessSample(r)
		}
	}
}

// dynamicGain advances both channel envelopes on the squared inputs and
// returns the effective band gain in dB for this sample.
func (b *Band) dynamicGain(sqL, sqR float64) float64 {
	b.envelope[0] = b.advanceEnvelope(b.envelope[0], sqL)
	b.envelope[1] = b.advanceEnvelope(b.envelope[1], sqR)

	// Linked detection: the louder channel drives both filters.
	env := b.envelope[0]
	if b.envelope[1] > env {
		env = b.envelope[1]
	}

	envDB := core.PowerToDB(env, envelopeFloor)

	reduction := 0.0
	if envDB > b.params.ThresholdDB {
		reduction = (envDB - b.params.ThresholdDB) * (1 - 1/b.params.Ratio)
	}

	b.lastGainReductionDB = reduction

	// Scale clamped to [0, 1] so reduction beyond the band's own gain
	// can never invert its polarity.
	gain := b.params.GainDB
	scale := core.Clamp(1-reduction/(math.Abs(gain)+gainDivisorEpsilon), 0, 1)
	eff := gain * scale
	b.lastEffectiveGainDB = eff

	return eff
}

func (b *Band) applyDynamicGain(gainDB float64) {
	b.dyn[0].UpdateGainOnly(gainDB)
	b.dyn[1].UpdateGainOnly(gainDB)
}

func (b *Band) advanceEnvelope(env, sq float64) float64 {
	coeff := b.releaseCoeff
	if sq > env {
		coeff = b.attackCoeff
	}

	return coeff*env + (1-coeff)*sq
}

// GainReductionDB returns the most recent dynamic gain reduction, for
// metering. Zero when dynamic mode is off or below threshold.
func (b *Band) GainReductionDB() float64 {
	return b.lastGainReductionDB
}

// EffectiveGainDB returns the gain currently driving the dynamic SVFs.
func (b *Band) EffectiveGainDB() float64 {
	return b.lastEffectiveGainDB
}

// MagnitudeDB returns the band's contribution to the composite response
// at freqHz, summing the target magnitudes of the cascade stages.
// Inactive or bypassed bands contribute zero.
func (b *Band) MagnitudeDB(freqHz float64) float64 {
	if !b.params.Active || b.params.Bypassed {
		return 0
	}

	sum := 0.0
	for k := 0; k < b.stages; k++ {
		sum += b.cascade[0][k].MagnitudeDB(freqHz, b.sampleRate)
	}

	return sum
}

// envelopeCoeff converts a time constant in ms to a one-pole coefficient.
func envelopeCoeff(ms, sampleRate float64) float64 {
	samples := ms * 0.001 * sampleRate
	if samples < 1 {
		samples = 1
	}

	return math.Exp(-1 / samples)
}

// svfType maps a band filter type onto the SVF shape set. The tilt
// types have no SVF form and fall back to Bell for dynamic mode.
func svfType(t FilterType) svf.Type {
	switch t {
	case LowShelf:
		return svf.LowShelf
	case HighShelf:
		return svf.HighShelf
	case LowCut:
		return svf.LowCut
	case HighCut:
		return svf.HighCut
	case Notch:
		return svf.Notch
	case BandPass:
		return svf.BandPass
	case AllPass:
		return svf.AllPass
	default:
		return svf.Bell
	}
}
