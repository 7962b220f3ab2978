// Package suppress implements dynamic resonance suppression: spectral
// peaks standing proud of their local neighborhood are detected on an
// externally supplied FFT magnitude vector and attenuated through a
// sixteen-band state-variable filterbank, preserving transients and
// broadband content.
package suppress

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-eq/dsp/core"
	"github.com/cwbudde/algo-eq/dsp/filter/svf"
)

const (
	// MaxBins is FFT/2+1 for the largest supported FFT (8192).
	MaxBins = 4097

	// MinBins is the smallest magnitude vector worth analyzing; shorter
	// inputs are ignored for the block.
	MinBins = 10

	// NumBands is the size of the suppression filterbank.
	NumBands = 16

	numChannels = 2

	// bandGainSnapDB snaps near-zero band targets to exactly zero, and
	// gates which bands actually run their filter.
	bandGainSnapDB = 0.1

	// bandGainSmoothing is the one-pole coefficient toward the band
	// target: at most ~30% change per block, fast enough for resonances
	// without audible pumping.
	bandGainSmoothing = 0.3

	// rebuildHysteresisHz avoids filterbank rebuilds on sub-0.1 Hz
	// band-range wiggle.
	rebuildHysteresisHz = 0.1

	// grAttackMS/grReleaseMS smooth the per-bin gain reduction.
	grAttackMS  = 5.0
	grReleaseMS = 50.0

	// transientFluxFactor scales the sensitivity setting into a spectral
	// flux threshold in dB.
	transientFluxFactor = 10.0
)

// Settings is the user-facing control record.
type Settings struct {
	// Depth scales the computed gain reduction (0..1).
	Depth float64

	// Speed interpolates the envelope attack between 20 and 1 ms and the
	// release between 200 and 20 ms (0 = slowest).
	Speed float64

	// Selectivity narrows the local-average window and lowers the
	// effective threshold (0..1).
	Selectivity float64

	// Sharpness weights the worst-case bin against the band average when
	// projecting onto the filterbank (0 = pure average, 1 = pure minimum).
	Sharpness float64

	// LowFreq/HighFreq bound the analyzed and suppressed range in Hz.
	LowFreq  float64
	HighFreq float64

	// ThresholdDB is the deviation above the local average, in dB, at
	// which suppression engages. The magnitude is used; the sign carried
	// by the parameter layout is ignored.
	ThresholdDB float64

	Ratio       float64
	KneeWidthDB float64

	TransientProtection bool

	// TransientSensitivity (0..1) sets both the flux threshold and the
	// protection amount.
	TransientSensitivity float64
}

// DefaultSettings returns the control record defaults.
func DefaultSettings() Settings {
	return Settings{
		Depth:                1,
		Speed:                0.5,
		Selectivity:          0.5,
		Sharpness:            0.5,
		LowFreq:              100,
		HighFreq:             16000,
		ThresholdDB:          -10,
		Ratio:                4,
		KneeWidthDB:          6,
		TransientProtection:  true,
		TransientSensitivity: 0.5,
	}
}

func (s *Settings) clamp() {
	s.Depth = core.Clamp(s.Depth, 0, 1)
	s.Speed = core.Clamp(s.Speed, 0, 1)
	s.Selectivity = core.Clamp(s.Selectivity, 0, 1)
	s.Sharpness = core.Clamp(s.Sharpness, 0, 1)
	s.LowFreq = core.Clamp(s.LowFreq, 20, 20000)
	s.HighFreq = core.Clamp(s.HighFreq, s.LowFreq, 20000)
	s.Ratio = core.Clamp(s.Ratio, 1, 10)
	s.KneeWidthDB = core.Clamp(s.KneeWidthDB, 0, 24)
	s.TransientSensitivity = core.Clamp(s.TransientSensitivity, 0, 1)
}

// BandStatus reports one filterbank band for metering displays.
type BandStatus struct {
	CenterFreq float64
	GainDB     float64
}

// Suppressor holds the analysis state and the filterbank. All arrays
// are allocated at construction for the maximum FFT size; the audio
// path never allocates.
type Suppressor struct {
	sampleRate float64
	blockSize  int
	settings   Settings
	enabled    bool

	fftSize int
	numBins int

	// Per-bin analysis state, fixed capacity.
	envelope  []float64
	reduction []float64 // smoothed gain reduction per bin, <= 0 dB
	localAvg  []float64
	prefix    []float64
	prevMag   []float64
	scratch   []float64

	transientActive bool

	// Filterbank.
	bandFreq   [NumBands]float64
	bandGain   [NumBands]float64
	bandTarget [NumBands]float64
	bandQ      float64
	filters    [numChannels][NumBands]*svf.Filter

	builtLow  float64
	builtHigh float64
}

// New returns a suppressor prepared for the given rate and block size.
func New(sampleRate float64, blockSize int) (*Suppressor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("suppress: invalid sample rate %g", sampleRate)
	}

	if blockSize <= 0 {
		return nil, fmt.Errorf("suppress: invalid block size %d", blockSize)
	}

	s := &Suppressor{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		settings:   DefaultSettings(),
		enabled:    true,
		fftSize:    4096,
		numBins:    4096/2 + 1,
		envelope:   make([]float64, MaxBins),
		reduction:  make([]float64, MaxBins),
		localAvg:   make([]float64, MaxBins),
		prefix:     make([]float64, MaxBins+1),
		prevMag:    make([]float64, MaxBins),
		scratch:    make([]float64, MaxBins),
	}

	for ch := 0; ch < numChannels; ch++ {
		for b := 0; b < NumBands; b++ {
			s.filters[ch][b] = svf.New(sampleRate)
		}
	}

	s.rebuildFilterbank()

	return s, nil
}

// Prepare updates rate and block size and resets analysis state.
// Not audio-thread safe.
func (s *Suppressor) Prepare(sampleRate float64, blockSize int) {
	if sampleRate > 0 {
		s.sampleRate = sampleRate
	}

	if blockSize > 0 {
		s.blockSize = blockSize
	}

	for ch := 0; ch < numChannels; ch++ {
		for b := 0; b < NumBands; b++ {
			s.filters[ch][b].Prepare(s.sampleRate)
		}
	}

	s.builtLow = 0
	s.builtHigh = 0
	s.rebuildFilterbank()
	s.Reset()
}

// Reset zeroes analysis and filter state.
func (s *Suppressor) Reset() {
	core.Zero(s.envelope)
	core.Zero(s.reduction)
	core.Zero(s.prevMag)

	s.transientActive = false

	for b := 0; b < NumBands; b++ {
		s.bandGain[b] = 0
		s.bandTarget[b] = 0
	}

	for ch := 0; ch < numChannels; ch++ {
		for b := 0; b < NumBands; b++ {
			s.filters[ch][b].Reset()
		}
	}
}

// SetEnabled toggles the whole suppressor.
func (s *Suppressor) SetEnabled(on bool) { s.enabled = on }

// Enabled reports whether the suppressor is active.
func (s *Suppressor) Enabled() bool { return s.enabled }

// Settings returns the current control record.
func (s *Suppressor) Settings() Settings { return s.settings }

// SetSettings installs a control record. The filterbank is rebuilt only
// when the frequency range actually moved.
func (s *Suppressor) SetSettings(st Settings) {
	st.clamp()
	s.settings = st

	if math.Abs(st.LowFreq-s.builtLow) > rebuildHysteresisHz ||
		math.Abs(st.HighFreq-s.builtHigh) > rebuildHysteresisHz {
		s.rebuildFilterbank()
	}
}

// SetFFTSize declares the expected magnitude vector length (size/2+1
// bins) for bin-to-frequency conversion.
func (s *Suppressor) SetFFTSize(n int) {
	if n <= 0 {
		return
	}

	bins := n/2 + 1
	if bins > MaxBins {
		bins = MaxBins
	}

	s.fftSize = n
	s.numBins = bins
}

// BinToFrequency converts a bin index of the declared FFT size to Hz.
func (s *Suppressor) BinToFrequency(bin int) float64 {
	return float64(bin) * s.sampleRate / float64(s.fftSize)
}

// ProcessSpectrum runs the per-block analysis phase over a magnitude
// vector in dB. Vectors outside [MinBins, MaxBins] are ignored.
func (s *Suppressor) ProcessSpectrum(magsDB []float64) {
	if !s.enabled {
		return
	}

	n := len(magsDB)
	if n < MinBins || n > MaxBins {
		return
	}

	s.computeLocalAverage(magsDB)
	s.detectTransient(magsDB)
	s.updateReductions(magsDB)
	s.smoothSpatial(n)
	s.projectToBands(n)
}

// computeLocalAverage fills localAvg with the mean magnitude in a
// symmetric window around each bin, excluding the center bin. A prefix
// sum keeps the total cost O(n).
func (s *Suppressor) computeLocalAverage(magsDB []float64) {
	n := len(magsDB)

	half := s.windowHalfWidth()

	s.prefix[0] = 0
	for i, m := range magsDB {
		s.prefix[i+1] = s.prefix[i] + m
	}

	for i := 0; i < n; i++ {
		lo := i - half
		if lo < 0 {
			lo = 0
		}

		hi := i + half
		if hi > n-1 {
			hi = n - 1
		}

		count := hi - lo // excluding center
		if count <= 0 {
			s.localAvg[i] = magsDB[i]
			continue
		}

		sum := s.prefix[hi+1] - s.prefix[lo] - magsDB[i]
		s.localAvg[i] = sum / float64(count)
	}
}

// windowHalfWidth derives the local-average half window from
// selectivity: full width 21..51 bins, rounded to the next odd integer.
func (s *Suppressor) windowHalfWidth() int {
	w := int(21 + (1-s.settings.Selectivity)*30)
	if w%2 == 0 {
		w++
	}

	return w / 2
}

// detectTransient computes rectified spectral flux against the previous
// block and updates the previous-magnitude buffer in place.
func (s *Suppressor) detectTransient(magsDB []float64) {
	flux := 0.0

	for i, m := range magsDB {
		if d := m - s.prevMag[i]; d > 0 {
			flux += d
		}

		s.prevMag[i] = m
	}

	flux /= float64(len(magsDB))
	s.transientActive = flux > transientFluxFactor*s.settings.TransientSensitivity
}

// updateReductions advances the per-bin envelope on the deviation from
// the local average and converts it into a smoothed gain reduction.
func (s *Suppressor) updateReductions(magsDB []float64) {
	st := s.settings

	attack := blockCoeff(lerp(20, 1, st.Speed), s.sampleRate, s.blockSize)
	release := blockCoeff(lerp(200, 20, st.Speed), s.sampleRate, s.blockSize)

	grAttack := blockCoeff(grAttackMS, s.sampleRate, s.blockSize)
	grRelease := blockCoeff(grReleaseMS, s.sampleRate, s.blockSize)

	threshold := math.Abs(st.ThresholdDB) * (1 - 0.5*st.Selectivity)
	slope := 1 - 1/st.Ratio
	knee := st.KneeWidthDB

	lowBin, highBin := s.binRange(len(magsDB))

	for i := 0; i < len(magsDB); i++ {
		if i < lowBin || i > highBin {
			// Out-of-range bins decay to neutral.
			s.reduction[i] *= grRelease
			continue
		}

		deviation := magsDB[i] - s.localAvg[i]

		coeff := release
		if deviation > s.envelope[i] {
			coeff = attack
		}

		s.envelope[i] = coeff*s.envelope[i] + (1-coeff)*deviation

		target := kneeReduction(s.envelope[i], threshold, slope, knee) * st.Depth
		if s.transientActive && st.TransientProtection {
			target *= 1 - st.TransientSensitivity
		}

		if target < s.reduction[i] {
			// Deeper reduction: attack smoothing.
			s.reduction[i] = grAttack*s.reduction[i] + (1-grAttack)*target
		} else {
			s.reduction[i] = grRelease*s.reduction[i] + (1-grRelease)*target
		}
	}
}

// kneeReduction returns the (non-positive) gain reduction in dB for an
// envelope level against a threshold, using a quadratic soft knee.
func kneeReduction(env, threshold, slope, knee float64) float64 {
	over := env - threshold

	switch {
	case knee > 0 && over > -knee/2 && over < knee/2:
		d := over + knee/2
		return -slope * d * d / (2 * knee)
	case over > 0:
		return -slope * over
	default:
		return 0
	}
}

// smoothSpatial runs a symmetric 5-tap filter over the reduction array
// to avoid narrow-bin artifacts.
func (s *Suppressor) smoothSpatial(n int) {
	taps := [5]float64{0.1, 0.2, 0.4, 0.2, 0.1}

	copy(s.scratch[:n], s.reduction[:n])

	for i := 0; i < n; i++ {
		sum := 0.0
		weight := 0.0

		for t := -2; t <= 2; t++ {
			j := i + t
			if j < 0 || j >= n {
				continue
			}

			w := taps[t+2]
			sum += w * s.scratch[j]
			weight += w
		}

		s.reduction[i] = sum / weight
	}
}

// projectToBands maps the per-bin reductions onto the sixteen-band
// filterbank and advances the smoothed band gains.
func (s *Suppressor) projectToBands(n int) {
	for b := 0; b < NumBands; b++ {
		loHz, hiHz := s.bandEdges(b)

		loBin := int(loHz * float64(s.fftSize) / s.sampleRate)
		hiBin := int(hiHz * float64(s.fftSize) / s.sampleRate)
		loBin = core.ClampInt(loBin, 0, n-1)
		hiBin = core.ClampInt(hiBin, loBin, n-1)

		sum := 0.0
		minimum := 0.0
		count := 0

		for i := loBin; i <= hiBin; i++ {
			sum += s.reduction[i]
			if s.reduction[i] < minimum {
				minimum = s.reduction[i]
			}

			count++
		}

		target := 0.0
		if count > 0 {
			// Blend of average and worst case: the mean under-reacts to
			// one sharp peak, the minimum over-reacts to one outlier.
			// Sharpness 0.5 is the even split.
			mean := sum / float64(count)
			target = (1-s.settings.Sharpness)*mean + s.settings.Sharpness*minimum
		}

		if target > -bandGainSnapDB {
			target = 0
		}

		s.bandTarget[b] = target
		s.bandGain[b] += bandGainSmoothing * (target - s.bandGain[b])
	}
}

// ApplyToBuffer runs the filterbank over the stereo block in place.
// Only bands currently reducing more than the snap threshold spend any
// filter work.
func (s *Suppressor) ApplyToBuffer(left, right []float64) {
	if !s.enabled {
		return
	}

	for b := 0; b < NumBands; b++ {
		if s.bandGain[b] >= -bandGainSnapDB {
			continue
		}

		for ch := 0; ch < numChannels; ch++ {
			s.filters[ch][b].UpdateGainOnly(s.bandGain[b])
		}

		s.filters[0][b].ProcessBlock(left)
		s.filters[1][b].ProcessBlock(right)
	}
}

// BandStatusInto fills out with per-band center frequency and current
// gain. Out must have NumBands capacity; the filled slice is returned.
func (s *Suppressor) BandStatusInto(out []BandStatus) []BandStatus {
	out = out[:0]

	for b := 0; b < NumBands; b++ {
		out = append(out, BandStatus{
			CenterFreq: s.bandFreq[b],
			GainDB:     s.bandGain[b],
		})
	}

	return out
}

// BandGainDB returns the current smoothed gain of filterbank band b.
func (s *Suppressor) BandGainDB(b int) float64 {
	if b < 0 || b >= NumBands {
		return 0
	}

	return s.bandGain[b]
}

// BinReductionDB returns the smoothed per-bin gain reduction at bin i.
func (s *Suppressor) BinReductionDB(i int) float64 {
	if i < 0 || i >= MaxBins {
		return 0
	}

	return s.reduction[i]
}

// TotalGainReductionDB returns the sum of active band gains, for
// metering.
func (s *Suppressor) TotalGainReductionDB() float64 {
	sum := 0.0
	for b := 0; b < NumBands; b++ {
		sum += s.bandGain[b]
	}

	return sum
}

// TransientActive reports whether the last analyzed block was flagged
// as a transient.
func (s *Suppressor) TransientActive() bool { return s.transientActive }

// rebuildFilterbank recomputes the sixteen log-spaced band centers and
// the shared constant Q, and pushes full parameter updates to the SVFs.
func (s *Suppressor) rebuildFilterbank() {
	low := math.Max(s.settings.LowFreq, 20)
	high := math.Min(s.settings.HighFreq, 20000)

	if high <= low {
		high = low * 2
	}

	octaves := math.Log2(high / low)
	octavesPerBand := octaves / NumBands

	// Constant Q from bandwidth in octaves.
	s.bandQ = 1 / (2 * math.Sinh(math.Ln2/2*octavesPerBand))

	ratio := math.Pow(high/low, 1.0/NumBands)

	edge := low
	for b := 0; b < NumBands; b++ {
		next := edge * ratio
		s.bandFreq[b] = math.Sqrt(edge * next) // geometric band center
		edge = next
	}

	for ch := 0; ch < numChannels; ch++ {
		for b := 0; b < NumBands; b++ {
			s.filters[ch][b].SetParameters(svf.Bell, s.bandFreq[b], s.bandGain[b], s.bandQ)
		}
	}

	s.builtLow = s.settings.LowFreq
	s.builtHigh = s.settings.HighFreq
}

// bandEdges returns the Hz range of filterbank band b.
func (s *Suppressor) bandEdges(b int) (float64, float64) {
	low := math.Max(s.settings.LowFreq, 20)
	high := math.Min(s.settings.HighFreq, 20000)

	if high <= low {
		high = low * 2
	}

	ratio := math.Pow(high/low, 1.0/NumBands)
	lo := low * math.Pow(ratio, float64(b))

	return lo, lo * ratio
}

// binRange converts the settings frequency range to bin indices for a
// vector of n bins.
func (s *Suppressor) binRange(n int) (int, int) {
	binHz := s.sampleRate / float64(s.fftSize)

	lo := int(math.Ceil(s.settings.LowFreq / binHz))
	hi := int(math.Floor(s.settings.HighFreq / binHz))

	lo = core.ClampInt(lo, 0, n-1)
	hi = core.ClampInt(hi, lo, n-1)

	return lo, hi
}

// blockCoeff converts a time constant in ms into a per-block one-pole
// coefficient.
func blockCoeff(ms, sampleRate float64, blockSize int) float64 {
	samples := ms * 0.001 * sampleRate

	blocks := samples / float64(blockSize)
	if blocks < 1 {
		blocks = 1
	}

	return math.Exp(-1 / blocks)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
