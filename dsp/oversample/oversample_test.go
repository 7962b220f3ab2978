package oversample

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-eq/internal/testutil"
)

const (
	testSampleRate = 48000.0
	testBlockSize  = 512
)

func TestFactorRatio(t *testing.T) {
	cases := []struct {
		factor Factor
		want   int
	}{
		{FactorOff, 1},
		{Factor2x, 2},
		{Factor4x, 4},
	}

	for _, tc := range cases {
		if got := tc.factor.Ratio(); got != tc.want {
			t.Errorf("Ratio(%v) = %d, want %d", tc.factor, got, tc.want)
		}
	}
}

func TestInvalidFactor(t *testing.T) {
	if _, err := New(Factor(42)); err == nil {
		t.Fatal("expected error for unsupported factor")
	}
}

func TestOffPassesSlicesThrough(t *testing.T) {
	o, err := New(FactorOff)
	if err != nil {
		t.Fatal(err)
	}

	left := testutil.DeterministicNoise(1, 0.5, testBlockSize)
	right := testutil.DeterministicNoise(2, 0.5, testBlockSize)

	upL, upR := o.Upsample(left, right)
	if &upL[0] != &left[0] || &upR[0] != &right[0] {
		t.Fatal("FactorOff should return the input slices unchanged")
	}

	if o.LatencyInSamples() != 0 {
		t.Errorf("FactorOff latency %d, want 0", o.LatencyInSamples())
	}
}

func TestUpsampledLength(t *testing.T) {
	for _, tc := range []struct {
		factor Factor
		ratio  int
	}{{Factor2x, 2}, {Factor4x, 4}} {
		o, err := New(tc.factor)
		if err != nil {
			t.Fatal(err)
		}

		left := make([]float64, testBlockSize)
		right := make([]float64, testBlockSize)

		upL, upR := o.Upsample(left, right)
		if len(upL) != tc.ratio*testBlockSize || len(upR) != tc.ratio*testBlockSize {
			t.Errorf("factor %v: upsampled length %d, want %d",
				tc.factor, len(upL), tc.ratio*testBlockSize)
		}
	}
}

func roundTrip(t *testing.T, o *Oversampler, in []float64) []float64 {
	t.Helper()

	out := make([]float64, len(in))

	for off := 0; off < len(in); off += testBlockSize {
		end := off + testBlockSize
		if end > len(in) {
			end = len(in)
		}

		left := append([]float64(nil), in[off:end]...)
		right := append([]float64(nil), in[off:end]...)

		upL, upR := o.Upsample(left, right)
		o.Downsample(upL, upR, left, right)

		copy(out[off:end], left)
	}

	return out
}

func TestRoundTripDelayedIdentity2x(t *testing.T) {
	o, err := New(Factor2x)
	if err != nil {
		t.Fatal(err)
	}

	total := 8192
	in := testutil.DeterministicSine(1000, testSampleRate, 0.5, total)
	out := roundTrip(t, o, in)

	lat := o.LatencyInSamples()
	if lat <= 0 {
		t.Fatalf("latency %d, want > 0", lat)
	}

	for i := 2048; i < total; i++ {
		if math.Abs(out[i]-in[i-lat]) > 1e-3 {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i-lat])
		}
	}
}

func TestRoundTripDelayedIdentity4x(t *testing.T) {
	o, err := New(Factor4x)
	if err != nil {
		t.Fatal(err)
	}

	total := 8192
	// The 4x chain has a half-sample fractional delay, so use a low
	// frequency where the rounded lag stays within tolerance.
	in := testutil.DeterministicSine(100, testSampleRate, 0.5, total)
	out := roundTrip(t, o, in)

	lat := o.LatencyInSamples()

	for i := 2048; i < total; i++ {
		if math.Abs(out[i]-in[i-lat]) > 5e-3 {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i-lat])
		}
	}
}

func TestDecimatorRejectsOutOfBandTone(t *testing.T) {
	o, err := New(Factor2x)
	if err != nil {
		t.Fatal(err)
	}

	// A 30 kHz tone at the doubled rate sits above the base-rate
	// Nyquist and must be removed before decimation.
	total := 4096
	tone := testutil.DeterministicSine(30000, 2*testSampleRate, 0.5, 2*total)

	left := make([]float64, total)
	right := make([]float64, total)

	o.Downsample(tone[:2*total], tone[:2*total], left, right)

	if level := testutil.RMSdB(left[512:]); level > -60 {
		t.Errorf("out-of-band tone leaked through decimator at %.1f dB", level)
	}
}

func TestDCPreserved(t *testing.T) {
	o, err := New(Factor2x)
	if err != nil {
		t.Fatal(err)
	}

	total := 4096
	in := make([]float64, total)

	for i := range in {
		in[i] = 1
	}

	out := roundTrip(t, o, in)

	if math.Abs(out[total-1]-1) > 1e-6 {
		t.Errorf("DC gain %v, want 1", out[total-1])
	}
}

func TestResetClearsState(t *testing.T) {
	o, err := New(Factor2x)
	if err != nil {
		t.Fatal(err)
	}

	in := testutil.DeterministicNoise(7, 1, testBlockSize)
	roundTrip(t, o, in)

	o.Reset()

	silent := make([]float64, testBlockSize)
	out := roundTrip(t, o, silent)

	for i, v := range out {
		if v != 0 {
			t.Fatalf("state leaked after Reset at %d: %v", i, v)
		}
	}
}

func TestOddTapCountEnforced(t *testing.T) {
	o, err := New(Factor2x, WithTaps(64))
	if err != nil {
		t.Fatal(err)
	}

	if len(o.taps)%2 == 0 {
		t.Errorf("tap count %d, want odd", len(o.taps))
	}
}

func BenchmarkRoundTrip2x(b *testing.B) {
	o, err := New(Factor2x)
	if err != nil {
		b.Fatal(err)
	}

	left := make([]float64, testBlockSize)
	right := make([]float64, testBlockSize)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		upL, upR := o.Upsample(left, right)
		o.Downsample(upL, upR, left, right)
	}
}
