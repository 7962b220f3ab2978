// Package oversample provides streaming integer-factor oversampling for
// stereo blocks. Each 2x step is a half-band polyphase FIR pair: an
// interpolator running ahead of the nonlinear or high-frequency-sensitive
// processing and a matching decimator behind it. Factors compose, so 4x
// is two cascaded 2x stages.
package oversample

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFactor indicates an unsupported oversampling factor.
var ErrInvalidFactor = errors.New("oversample: invalid factor")

// Factor selects the oversampling ratio.
type Factor int

const (
	// FactorOff disables oversampling (ratio 1).
	FactorOff Factor = iota
	// Factor2x doubles the internal rate.
	Factor2x
	// Factor4x quadruples the internal rate.
	Factor4x
)

// Ratio returns the integer rate multiplier for f.
func (f Factor) Ratio() int {
	switch f {
	case Factor2x:
		return 2
	case Factor4x:
		return 4
	default:
		return 1
	}
}

const (
	numChannels = 2

	defaultTaps       = 63
	defaultKaiserBeta = 9.0

	defaultBlockSize = 2048
)

type config struct {
	taps       int
	kaiserBeta float64
}

// Option configures the oversampler filters.
type Option func(*config)

// WithTaps overrides the half-band FIR length. The value is forced odd.
func WithTaps(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.taps = n | 1
		}
	}
}

// WithKaiserBeta overrides the Kaiser window beta parameter.
func WithKaiserBeta(beta float64) Option {
	return func(cfg *config) {
		if beta >= 0 {
			cfg.kaiserBeta = beta
		}
	}
}

// delayLine is a fixed-length ring holding the most recent FIR inputs.
type delayLine struct {
	buf []float64
	pos int
}

func newDelayLine(n int) delayLine {
	return delayLine{buf: make([]float64, n)}
}

func (d *delayLine) reset() {
	for i := range d.buf {
		d.buf[i] = 0
	}

	d.pos = 0
}

func (d *delayLine) push(x float64) {
	d.pos--
	if d.pos < 0 {
		d.pos = len(d.buf) - 1
	}

	d.buf[d.pos] = x
}

// dot computes sum taps[k]*x[n-k] over the stored history.
func (d *delayLine) dot(taps []float64) float64 {
	var y float64

	idx := d.pos
	n := len(d.buf)

	for _, c := range taps {
		y += c * d.buf[idx]

		idx++
		if idx == n {
			idx = 0
		}
	}

	return y
}

// stage is one 2x interpolate/decimate pair with per-channel state.
type stage struct {
	up   [numChannels]delayLine
	down [numChannels]delayLine
}

// Oversampler converts stereo blocks to a higher internal rate and back.
type Oversampler struct {
	factor Factor

	taps []float64
	// Polyphase halves of the half-band prototype for interpolation.
	even []float64
	odd  []float64

	stages []stage

	// Intermediate-rate scratch, sized at Prepare.
	buf2 [numChannels][]float64
	buf4 [numChannels][]float64

	maxBlock int
}

// New creates an oversampler for the given factor.
func New(factor Factor, opts ...Option) (*Oversampler, error) {
	if factor != FactorOff && factor != Factor2x && factor != Factor4x {
		return nil, ErrInvalidFactor
	}

	cfg := config{taps: defaultTaps, kaiserBeta: defaultKaiserBeta}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	taps, err := designHalfband(cfg.taps, cfg.kaiserBeta)
	if err != nil {
		return nil, err
	}

	even := make([]float64, 0, (len(taps)+1)/2)
	odd := make([]float64, 0, len(taps)/2)

	for i, c := range taps {
		if i%2 == 0 {
			even = append(even, c)
		} else {
			odd = append(odd, c)
		}
	}

	o := &Oversampler{
		factor: factor,
		taps:   taps,
		even:   even,
		odd:    odd,
	}

	numStages := 0

	switch factor {
	case Factor2x:
		numStages = 1
	case Factor4x:
		numStages = 2
	}

	o.stages = make([]stage, numStages)
	for s := range o.stages {
		for ch := 0; ch < numChannels; ch++ {
			o.stages[s].up[ch] = newDelayLine(len(even))
			o.stages[s].down[ch] = newDelayLine(len(taps))
		}
	}

	o.Prepare(defaultBlockSize)

	return o, nil
}

// Prepare sizes the intermediate-rate buffers for blocks of up to
// blockSize frames. Process calls never allocate afterwards.
func (o *Oversampler) Prepare(blockSize int) {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}

	o.maxBlock = blockSize

	for ch := 0; ch < numChannels; ch++ {
		if cap(o.buf2[ch]) < 2*blockSize {
			o.buf2[ch] = make([]float64, 2*blockSize)
		}

		if cap(o.buf4[ch]) < 4*blockSize {
			o.buf4[ch] = make([]float64, 4*blockSize)
		}
	}

	o.Reset()
}

// Reset clears all filter state.
func (o *Oversampler) Reset() {
	for s := range o.stages {
		for ch := 0; ch < numChannels; ch++ {
			o.stages[s].up[ch].reset()
			o.stages[s].down[ch].reset()
		}
	}
}

// Factor returns the configured oversampling factor.
func (o *Oversampler) Factor() Factor {
	return o.factor
}

// Ratio returns the integer rate multiplier.
func (o *Oversampler) Ratio() int {
	return o.factor.Ratio()
}

// LatencyInSamples reports the base-rate round-trip delay of the
// interpolate/decimate chain.
func (o *Oversampler) LatencyInSamples() int {
	if len(o.stages) == 0 {
		return 0
	}

	groupDelay := float64(len(o.taps)-1) / 2

	// Stage s runs at rate 2^(s+1); its up and down filters each add
	// the prototype group delay at that rate.
	latency := 0.0
	for s := range o.stages {
		latency += 2 * groupDelay / float64(uint(2)<<uint(s))
	}

	return int(math.Round(latency))
}

// Upsample converts a stereo block to the internal rate and returns the
// upsampled views. With FactorOff the inputs are returned unchanged.
// Blocks longer than the prepared size are passed through untouched.
func (o *Oversampler) Upsample(left, right []float64) (upLeft, upRight []float64) {
	n := len(left)
	if o.factor == FactorOff || n == 0 || n > o.maxBlock {
		return left, right
	}

	in := [numChannels][]float64{left, right}
	out := o.buf2

	o.upsampleStage(&o.stages[0], in, out, n)

	if o.factor == Factor4x {
		o.upsampleStage(&o.stages[1], out, o.buf4, 2*n)
		out = o.buf4
	}

	ratio := o.Ratio()

	return out[0][:n*ratio], out[1][:n*ratio]
}

// Downsample converts the processed internal-rate block back to the base
// rate, writing into left and right. The up slices must come from the
// matching Upsample call.
func (o *Oversampler) Downsample(upLeft, upRight, left, right []float64) {
	n := len(left)
	if o.factor == FactorOff || n == 0 || n > o.maxBlock {
		return
	}

	in := [numChannels][]float64{upLeft, upRight}

	if o.factor == Factor4x {
		o.downsampleStage(&o.stages[1], in, o.buf2, 2*n)
		in = o.buf2
	}

	o.downsampleStage(&o.stages[0], in, [numChannels][]float64{left, right}, n)
}

// upsampleStage writes 2*n samples per channel into out from n inputs.
func (o *Oversampler) upsampleStage(s *stage, in, out [numChannels][]float64, n int) {
	for ch := 0; ch < numChannels; ch++ {
		d := &s.up[ch]
		src := in[ch]
		dst := out[ch]

		for i := 0; i < n; i++ {
			d.push(src[i])

			// Zero-stuffing halves the signal power, hence the
			// factor of two on both polyphase branches.
			dst[2*i] = 2 * d.dot(o.even)
			dst[2*i+1] = 2 * d.dot(o.odd)
		}
	}
}

// downsampleStage writes n samples per channel into out from 2*n inputs.
func (o *Oversampler) downsampleStage(s *stage, in, out [numChannels][]float64, n int) {
	for ch := 0; ch < numChannels; ch++ {
		d := &s.down[ch]
		src := in[ch]
		dst := out[ch]

		for i := 0; i < n; i++ {
			d.push(src[2*i])
			d.push(src[2*i+1])

			dst[i] = d.dot(o.taps)
		}
	}
}

// designHalfband designs an odd-length Kaiser-windowed half-band lowpass
// with cutoff at a quarter of the doubled rate, normalized to unity DC
// gain.
func designHalfband(numTaps int, beta float64) ([]float64, error) {
	if numTaps < 3 || numTaps%2 == 0 {
		return nil, fmt.Errorf("oversample: tap count %d must be odd and >= 3", numTaps)
	}

	taps := make([]float64, numTaps)
	center := float64(numTaps-1) / 2

	for n := range taps {
		t := float64(n) - center
		taps[n] = 0.5 * sinc(0.5*t) * kaiserWindow(n, numTaps, beta)
	}

	var sum float64
	for _, v := range taps {
		sum += v
	}

	if sum == 0 {
		return nil, errors.New("oversample: designed zero-sum filter")
	}

	for i := range taps {
		taps[i] /= sum
	}

	return taps, nil
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1
	}

	pix := math.Pi * x

	return math.Sin(pix) / pix
}

func kaiserWindow(i, n int, beta float64) float64 {
	if n <= 1 || beta == 0 {
		return 1
	}

	t := 2*float64(i)/float64(n-1) - 1
	a := math.Sqrt(math.Max(0, 1-t*t))

	return besselI0(beta*a) / besselI0(beta)
}

func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0

	x2 := (x * x) / 4
	for k := 1; k < 64; k++ {
		term *= x2 / float64(k*k)

		sum += term
		if term < 1e-16*sum {
			break
		}
	}

	return sum
}
