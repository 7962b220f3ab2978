package suppress

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-eq/internal/testutil"
)

const (
	testSampleRate = 48000.0
	testBlockSize  = 512
	testFFTSize    = 4096
)

func newTestSuppressor(t *testing.T, st Settings) *Suppressor {
	t.Helper()

	s, err := New(testSampleRate, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}

	s.SetFFTSize(testFFTSize)
	s.SetSettings(st)

	return s
}

func binFor(freq float64) int {
	return int(freq * testFFTSize / testSampleRate)
}

func TestSmoothSpectrumNoReduction(t *testing.T) {
	s := newTestSuppressor(t, DefaultSettings())

	mags := testutil.PinkishSpectrumDB(1, testFFTSize/2+1, -30)

	for block := 0; block < 20; block++ {
		s.ProcessSpectrum(mags)
	}

	// A spectrum with no local peaks must leave every bin (and band)
	// essentially untouched.
	for i := range mags {
		if r := s.BinReductionDB(i); r < -0.5 {
			t.Fatalf("bin %d reduced %.2f dB on a smooth spectrum", i, r)
		}
	}

	for b := 0; b < NumBands; b++ {
		if g := s.BandGainDB(b); g < -0.5 {
			t.Fatalf("band %d at %.2f dB on a smooth spectrum", b, g)
		}
	}
}

func TestSpikeSuppression(t *testing.T) {
	st := DefaultSettings()
	st.LowFreq = 500
	st.HighFreq = 5000
	st.Selectivity = 1
	st.ThresholdDB = -1
	st.Ratio = 10
	st.TransientProtection = false

	s := newTestSuppressor(t, st)

	mags := testutil.PinkishSpectrumDB(1, testFFTSize/2+1, -30)
	spikeBin := binFor(2000)
	mags[spikeBin] += 20

	for block := 0; block < 10; block++ {
		s.ProcessSpectrum(mags)
	}

	if r := s.BinReductionDB(spikeBin); r > -6 {
		t.Errorf("spike bin reduction %.2f dB, want below -6", r)
	}

	// Bins five or more away from the spike stay essentially untouched.
	for _, off := range []int{-8, -5, 5, 8} {
		if r := s.BinReductionDB(spikeBin + off); r < -1 {
			t.Errorf("bin at offset %d reduced %.2f dB", off, r)
		}
	}

	// The filterbank band containing 2 kHz pulls down; the edge bands
	// at 500 Hz and 5 kHz stay put.
	spikeBand := bandContaining(s, 2000)
	if g := s.BandGainDB(spikeBand); g > -2 {
		t.Errorf("2 kHz band gain %.2f dB, want below -2", g)
	}

	if g := s.BandGainDB(0); g < -1 {
		t.Errorf("500 Hz band moved to %.2f dB", g)
	}

	if g := s.BandGainDB(NumBands - 1); g < -1 {
		t.Errorf("5 kHz band moved to %.2f dB", g)
	}
}

func bandContaining(s *Suppressor, freq float64) int {
	best := 0
	bestDist := math.Inf(1)

	for b := 0; b < NumBands; b++ {
		d := math.Abs(math.Log(s.bandFreq[b] / freq))
		if d < bestDist {
			bestDist = d
			best = b
		}
	}

	return best
}

func TestTransientProtectionWeakensReduction(t *testing.T) {
	run := func(protect bool) float64 {
		st := DefaultSettings()
		st.LowFreq = 500
		st.HighFreq = 5000
		st.Selectivity = 1
		st.ThresholdDB = -1
		st.Ratio = 10
		st.TransientProtection = protect
		st.TransientSensitivity = 0.5

		s := newTestSuppressor(t, st)

		base := testutil.PinkishSpectrumDB(1, testFFTSize/2+1, -30)
		for block := 0; block < 5; block++ {
			s.ProcessSpectrum(base)
		}

		// Broadband jump plus spike in one block: spectral flux marks it
		// as a transient.
		hit := make([]float64, len(base))
		for i := range base {
			hit[i] = base[i] + 15
		}

		spikeBin := binFor(2000)
		hit[spikeBin] += 20
		s.ProcessSpectrum(hit)

		if protect && !s.TransientActive() {
			t.Fatal("broadband jump not flagged as transient")
		}

		return s.BinReductionDB(spikeBin)
	}

	protected := run(true)
	unprotected := run(false)

	if protected <= unprotected {
		t.Errorf("protected reduction %.2f dB not weaker than unprotected %.2f dB",
			protected, unprotected)
	}
}

func TestInvalidVectorIsNoOp(t *testing.T) {
	s := newTestSuppressor(t, DefaultSettings())

	short := testutil.PinkishSpectrumDB(2, MinBins-1, -30)
	s.ProcessSpectrum(short)

	long := testutil.PinkishSpectrumDB(2, MaxBins+1, -30)
	s.ProcessSpectrum(long)

	for b := 0; b < NumBands; b++ {
		if s.BandGainDB(b) != 0 {
			t.Fatalf("band %d moved on invalid input", b)
		}
	}
}

func TestDisabledPassesAudioThrough(t *testing.T) {
	s := newTestSuppressor(t, DefaultSettings())
	s.SetEnabled(false)

	mags := testutil.PinkishSpectrumDB(1, testFFTSize/2+1, -30)
	mags[binFor(2000)] += 30

	for block := 0; block < 10; block++ {
		s.ProcessSpectrum(mags)
	}

	left := testutil.DeterministicNoise(5, 0.5, testBlockSize)
	right := append([]float64(nil), left...)
	ref := append([]float64(nil), left...)

	s.ApplyToBuffer(left, right)

	for i := range ref {
		if left[i] != ref[i] || right[i] != ref[i] {
			t.Fatal("disabled suppressor modified the buffer")
		}
	}
}

func TestApplyAttenuatesResonantTone(t *testing.T) {
	st := DefaultSettings()
	st.LowFreq = 500
	st.HighFreq = 5000
	st.Selectivity = 1
	st.ThresholdDB = -1
	st.Ratio = 10
	st.TransientProtection = false

	s := newTestSuppressor(t, st)

	mags := testutil.PinkishSpectrumDB(1, testFFTSize/2+1, -30)
	mags[binFor(2000)] += 20

	for block := 0; block < 10; block++ {
		s.ProcessSpectrum(mags)
	}

	n := int(testSampleRate / 2)
	left := testutil.DeterministicSine(2000, testSampleRate, 0.1, n)
	right := append([]float64(nil), left...)
	ref := append([]float64(nil), left...)

	for off := 0; off+testBlockSize <= n; off += testBlockSize {
		s.ApplyToBuffer(left[off:off+testBlockSize], right[off:off+testBlockSize])
	}

	warm := int(testSampleRate * 0.05)
	diff := testutil.RMSdB(left[warm:]) - testutil.RMSdB(ref[warm:])

	if diff > -1 {
		t.Errorf("resonant tone attenuated only %.2f dB", diff)
	}
}

func TestSettingsClamping(t *testing.T) {
	s := newTestSuppressor(t, Settings{
		Depth:       5,
		Speed:       -1,
		Selectivity: 2,
		LowFreq:     1,
		HighFreq:    90000,
		Ratio:       100,
	})

	got := s.Settings()

	if got.Depth != 1 || got.Speed != 0 || got.Selectivity != 1 {
		t.Errorf("control clamping failed: %+v", got)
	}

	if got.LowFreq != 20 || got.HighFreq != 20000 || got.Ratio != 10 {
		t.Errorf("range clamping failed: %+v", got)
	}
}

func TestFilterbankRebuildHysteresis(t *testing.T) {
	s := newTestSuppressor(t, DefaultSettings())

	before := s.bandFreq

	st := s.Settings()
	st.LowFreq += 0.05
	s.SetSettings(st)

	if s.bandFreq != before {
		t.Error("sub-0.1 Hz change rebuilt the filterbank")
	}

	st.LowFreq += 10
	s.SetSettings(st)

	if s.bandFreq == before {
		t.Error("10 Hz change did not rebuild the filterbank")
	}
}

func TestBandStatus(t *testing.T) {
	s := newTestSuppressor(t, DefaultSettings())

	status := s.BandStatusInto(make([]BandStatus, 0, NumBands))
	if len(status) != NumBands {
		t.Fatalf("got %d bands, want %d", len(status), NumBands)
	}

	for b := 1; b < NumBands; b++ {
		if status[b].CenterFreq <= status[b-1].CenterFreq {
			t.Fatal("band centers not monotonically increasing")
		}
	}
}

func BenchmarkProcessSpectrum(b *testing.B) {
	s, err := New(testSampleRate, testBlockSize)
	if err != nil {
		b.Fatal(err)
	}

	s.SetFFTSize(testFFTSize)

	mags := testutil.PinkishSpectrumDB(1, testFFTSize/2+1, -30)
	mags[binFor(2000)] += 20

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.ProcessSpectrum(mags)
	}
}
