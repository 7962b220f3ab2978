package eq

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-eq/dsp/filter/biquad"
	"github.com/cwbudde/algo-eq/internal/testutil"
)

const (
	testSampleRate = 48000.0
	testBlockSize  = 512
)

func newTestBand(t *testing.T, p BandParameters) *Band {
	t.Helper()

	b, err := NewBand(testSampleRate, 0)
	if err != nil {
		t.Fatal(err)
	}

	b.SetParameters(p)
	b.Prepare(testSampleRate, testBlockSize)

	return b
}

func bellParams() BandParameters {
	p := DefaultBandParameters(0)
	p.Active = true
	p.Type = Bell
	p.Frequency = 1000
	p.GainDB = 6
	p.Q = 1

	return p
}

// processSine runs a sine through the band and returns the gain in dB
// relative to the input, measured after a warm-up period.
func processSine(t *testing.T, b *Band, freq, amplitude float64) float64 {
	t.Helper()

	total := int(testSampleRate)
	in := testutil.DeterministicSine(freq, testSampleRate, amplitude, total)

	left := append([]float64(nil), in...)
	right := append([]float64(nil), in...)

	for off := 0; off < total; off += testBlockSize {
		end := off + testBlockSize
		if end > total {
			end = total
		}

		b.ProcessBlock(left[off:end], right[off:end])
	}

	warm := int(0.05 * testSampleRate)

	return testutil.RMSdB(left[warm:]) - testutil.RMSdB(in[warm:])
}

func TestImpulseFirstSampleMatchesBellB0(t *testing.T) {
	b := newTestBand(t, bellParams())

	left := testutil.Impulse(testBlockSize, 0)
	right := make([]float64, testBlockSize)

	b.ProcessBlock(left, right)

	want := biquad.Bell(1000, 6, 1, testSampleRate).B0
	if math.Abs(left[0]-want) > 1e-12 {
		t.Errorf("impulse response[0] = %v, want b0 = %v", left[0], want)
	}

	for i, v := range right {
		if v != 0 {
			t.Fatalf("silent channel modified at %d: %v", i, v)
		}
	}
}

func TestBellSineGain(t *testing.T) {
	b := newTestBand(t, bellParams())

	// A -20 dBFS tone at the bell center comes out 6 dB hotter.
	gain := processSine(t, b, 1000, 0.1)
	if math.Abs(gain-6) > 0.1 {
		t.Errorf("bell center gain %.3f dB, want 6", gain)
	}
}

func TestLowCutButterworthCascade(t *testing.T) {
	p := DefaultBandParameters(0)
	p.Active = true
	p.Type = LowCut
	p.Frequency = 200
	p.SlopeDBPerOct = 48

	b := newTestBand(t, p)

	if b.stages != 4 {
		t.Fatalf("cascade stages = %d, want 4", b.stages)
	}

	// A 4-section Butterworth high-pass is -3 dB at the corner and
	// falls 48 dB per octave below it.
	if got := b.MagnitudeDB(200); math.Abs(got-(-3.01)) > 0.3 {
		t.Errorf("magnitude at corner %.2f dB, want -3", got)
	}

	if got := b.MagnitudeDB(100); math.Abs(got-(-24)) > 0.5 {
		t.Errorf("magnitude one octave down %.2f dB, want -24", got)
	}
}

func TestSideBandLeavesCenteredSignal(t *testing.T) {
	p := bellParams()
	p.Channel = Side
	p.Frequency = 3000

	b := newTestBand(t, p)

	in := testutil.DeterministicSine(3000, testSampleRate, 0.5, testBlockSize)
	left := append([]float64(nil), in...)
	right := append([]float64(nil), in...)

	b.ProcessBlock(left, right)

	// A centered signal has no side component, so a side-only band
	// cannot change it.
	testutil.RequireSliceNearlyEqual(t, left, in, 1e-12)
	testutil.RequireSliceNearlyEqual(t, right, in, 1e-12)
}

func TestMidBandFiltersCenteredSignal(t *testing.T) {
	p := bellParams()
	p.Channel = Mid

	b := newTestBand(t, p)

	gain := processSine(t, b, 1000, 0.1)
	if math.Abs(gain-6) > 0.1 {
		t.Errorf("mid-mode gain on centered tone %.3f dB, want 6", gain)
	}
}

func TestChannelModesTouchOnlyTheirChannel(t *testing.T) {
	for _, mode := range []ChannelMode{LeftOnly, RightOnly} {
		p := bellParams()
		p.Channel = mode

		b := newTestBand(t, p)

		in := testutil.DeterministicSine(1000, testSampleRate, 0.1, testBlockSize)
		left := append([]float64(nil), in...)
		right := append([]float64(nil), in...)

		b.ProcessBlock(left, right)

		touched, untouched := left, right
		if mode == RightOnly {
			touched, untouched = right, left
		}

		testutil.RequireSliceNearlyEqual(t, untouched, in, 0)

		if testutil.MaxAbsDiff(touched, in) < 1e-6 {
			t.Errorf("mode %v did not filter its channel", mode)
		}
	}
}

func TestBypassedBandIsBitExact(t *testing.T) {
	p := bellParams()
	p.Bypassed = true

	b := newTestBand(t, p)

	in := testutil.DeterministicNoise(5, 0.5, testBlockSize)
	left := append([]float64(nil), in...)
	right := append([]float64(nil), in...)

	b.ProcessBlock(left, right)

	for i := range in {
		if left[i] != in[i] || right[i] != in[i] {
			t.Fatalf("bypassed band altered sample %d", i)
		}
	}
}

func TestZeroInputDecays(t *testing.T) {
	b := newTestBand(t, bellParams())

	noise := testutil.DeterministicNoise(11, 1, testBlockSize)
	left := append([]float64(nil), noise...)
	right := append([]float64(nil), noise...)
	b.ProcessBlock(left, right)

	// Nudge the parameters mid-stream, then feed silence.
	p := b.Parameters()
	p.GainDB = -6
	b.SetParameters(p)

	silentL := make([]float64, testBlockSize)
	silentR := make([]float64, testBlockSize)

	for block := 0; block < 4; block++ {
		for i := range silentL {
			silentL[i] = 0
			silentR[i] = 0
		}

		b.ProcessBlock(silentL, silentR)
	}

	for i := range silentL {
		if math.Abs(silentL[i]) > 1e-12 || math.Abs(silentR[i]) > 1e-12 {
			t.Fatalf("residual at %d after zero input: %g %g",
				i, silentL[i], silentR[i])
		}
	}
}

func TestDynamicSteadyStateReduction(t *testing.T) {
	p := bellParams()
	p.DynamicEnabled = true
	p.ThresholdDB = -30
	p.Ratio = 4
	// Peak-riding detector: snap up instantly, hold between peaks.
	p.AttackMS = 0.1
	p.ReleaseMS = 2000

	b := newTestBand(t, p)

	// -20 dBFS tone, 10 dB over threshold: reduction = 10 * (1 - 1/4).
	processSine(t, b, 1000, 0.1)

	if gr := b.GainReductionDB(); math.Abs(gr-7.5) > 0.5 {
		t.Errorf("steady-state gain reduction %.2f dB, want 7.5", gr)
	}

	// Reduction beyond the band's own +6 dB clamps instead of
	// inverting polarity.
	if eff := b.EffectiveGainDB(); eff < 0 || eff > 6 {
		t.Errorf("effective gain %.2f dB outside [0, 6]", eff)
	}
}

// measureAttackBlocks returns the number of 64-sample blocks until the
// gain reduction reaches 90% of its steady-state value.
func measureAttackBlocks(t *testing.T, attackMS float64) int {
	t.Helper()

	p := bellParams()
	p.DynamicEnabled = true
	p.ThresholdDB = -30
	p.Ratio = 4
	p.AttackMS = attackMS
	p.ReleaseMS = 200

	b := newTestBand(t, p)

	const block = 64

	sine := testutil.DeterministicSine(1000, testSampleRate, 1, 2*int(testSampleRate))

	// First pass: find the steady-state reduction.
	work := append([]float64(nil), sine...)
	dup := append([]float64(nil), sine...)

	for off := 0; off+block <= len(work); off += block {
		b.ProcessBlock(work[off:off+block], dup[off:off+block])
	}

	steady := b.GainReductionDB()

	b.Reset()

	copy(work, sine)
	copy(dup, sine)

	for off := 0; off+block <= len(work); off += block {
		b.ProcessBlock(work[off:off+block], dup[off:off+block])

		if b.GainReductionDB() >= 0.9*steady {
			return off / block
		}
	}

	t.Fatalf("attack %g ms never reached 90%% of steady reduction", attackMS)

	return 0
}

func TestAttackTimeTracksParameter(t *testing.T) {
	slow := measureAttackBlocks(t, 50)
	fast := measureAttackBlocks(t, 25)

	if fast == 0 || slow == 0 {
		t.Skip("crossing faster than one block")
	}

	ratio := float64(slow) / float64(fast)
	if ratio < 1.6 || ratio > 2.4 {
		t.Errorf("doubling attack scaled crossing by %.2f, want ~2", ratio)
	}
}

func TestReleaseTimeTracksParameter(t *testing.T) {
	measure := func(releaseMS float64) int {
		p := bellParams()
		p.DynamicEnabled = true
		p.ThresholdDB = -30
		p.Ratio = 4
		p.AttackMS = 1
		p.ReleaseMS = releaseMS

		b := newTestBand(t, p)

		const block = 64

		sine := testutil.DeterministicSine(1000, testSampleRate, 1, int(testSampleRate))
		work := append([]float64(nil), sine...)
		dup := append([]float64(nil), sine...)

		for off := 0; off+block <= len(work); off += block {
			b.ProcessBlock(work[off:off+block], dup[off:off+block])
		}

		steady := b.GainReductionDB()

		silentL := make([]float64, block)
		silentR := make([]float64, block)

		for i := 0; i < 2000; i++ {
			for j := range silentL {
				silentL[j] = 0
				silentR[j] = 0
			}

			b.ProcessBlock(silentL, silentR)

			if b.GainReductionDB() <= steady/2 {
				return i
			}
		}

		t.Fatalf("release %g ms never halved the reduction", releaseMS)

		return 0
	}

	slow := measure(200)
	fast := measure(100)

	ratio := float64(slow) / float64(fast)
	if ratio < 1.6 || ratio > 2.4 {
		t.Errorf("doubling release scaled decay by %.2f, want ~2", ratio)
	}
}

func TestParameterClamping(t *testing.T) {
	p := DefaultBandParameters(0)
	p.Frequency = 1e6
	p.GainDB = 99
	p.Q = 1000
	p.Ratio = 0

	b := newTestBand(t, p)
	got := b.Parameters()

	if got.Frequency > MaxFrequency || got.GainDB > MaxGainDB ||
		got.Q > MaxQ || got.Ratio < MinRatio {
		t.Errorf("parameters escaped their ranges: %+v", got)
	}
}

func BenchmarkBandProcessBlock(b *testing.B) {
	band, err := NewBand(testSampleRate, 0)
	if err != nil {
		b.Fatal(err)
	}

	p := bellParams()
	band.SetParameters(p)
	band.Prepare(testSampleRate, testBlockSize)

	left := make([]float64, testBlockSize)
	right := make([]float64, testBlockSize)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		band.ProcessBlock(left, right)
	}
}

func BenchmarkBandDynamicProcessBlock(b *testing.B) {
	band, err := NewBand(testSampleRate, 0)
	if err != nil {
		b.Fatal(err)
	}

	p := bellParams()
	p.DynamicEnabled = true
	band.SetParameters(p)
	band.Prepare(testSampleRate, testBlockSize)

	left := make([]float64, testBlockSize)
	right := make([]float64, testBlockSize)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		band.ProcessBlock(left, right)
	}
}
