package fifo

import (
	"sync"
	"testing"

	"github.com/cwbudde/algo-eq/internal/testutil"
)

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	cases := []struct {
		request int
		want    int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{500, 512},
		{1024, 1024},
	}

	for _, tc := range cases {
		f, err := New(tc.request)
		if err != nil {
			t.Fatal(err)
		}

		if got := f.Cap(); got != tc.want {
			t.Errorf("New(%d).Cap() = %d, want %d", tc.request, got, tc.want)
		}
	}
}

func TestInvalidCapacity(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestPushPopOrder(t *testing.T) {
	f, err := New(64)
	if err != nil {
		t.Fatal(err)
	}

	in := testutil.DeterministicNoise(1, 1, 48)
	if n := f.Push(in); n != len(in) {
		t.Fatalf("Push wrote %d, want %d", n, len(in))
	}

	out := make([]float64, len(in))
	if n := f.Pop(out); n != len(in) {
		t.Fatalf("Pop read %d, want %d", n, len(in))
	}

	testutil.RequireSliceNearlyEqual(t, out, in, 0)
}

func TestPartialPushWhenFull(t *testing.T) {
	f, err := New(16)
	if err != nil {
		t.Fatal(err)
	}

	in := make([]float64, 20)
	for i := range in {
		in[i] = float64(i)
	}

	if n := f.Push(in); n != 16 {
		t.Fatalf("Push into empty 16-slot ring wrote %d", n)
	}

	if n := f.Push(in); n != 0 {
		t.Fatalf("Push into full ring wrote %d", n)
	}

	out := make([]float64, 4)
	if n := f.Pop(out); n != 4 {
		t.Fatalf("Pop read %d, want 4", n)
	}

	if n := f.Push(in); n != 4 {
		t.Fatalf("Push after partial drain wrote %d, want 4", n)
	}
}

func TestPopFromEmpty(t *testing.T) {
	f, err := New(8)
	if err != nil {
		t.Fatal(err)
	}

	out := make([]float64, 8)
	if n := f.Pop(out); n != 0 {
		t.Fatalf("Pop from empty ring read %d", n)
	}
}

func TestWrapAround(t *testing.T) {
	f, err := New(8)
	if err != nil {
		t.Fatal(err)
	}

	// Shift the indices past the ring boundary repeatedly.
	chunk := make([]float64, 5)
	out := make([]float64, 5)

	for round := 0; round < 10; round++ {
		for i := range chunk {
			chunk[i] = float64(round*5 + i)
		}

		if n := f.Push(chunk); n != 5 {
			t.Fatalf("round %d: Push wrote %d", round, n)
		}

		if n := f.Pop(out); n != 5 {
			t.Fatalf("round %d: Pop read %d", round, n)
		}

		testutil.RequireSliceNearlyEqual(t, out, chunk, 0)
	}
}

func TestReset(t *testing.T) {
	f, err := New(32)
	if err != nil {
		t.Fatal(err)
	}

	f.Push(make([]float64, 20))
	f.Reset()

	if f.Len() != 0 {
		t.Fatalf("Len() = %d after Reset", f.Len())
	}

	if f.Free() != 32 {
		t.Fatalf("Free() = %d after Reset", f.Free())
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	f, err := New(256)
	if err != nil {
		t.Fatal(err)
	}

	const total = 100000

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		buf := make([]float64, 64)
		sent := 0

		for sent < total {
			n := len(buf)
			if total-sent < n {
				n = total - sent
			}

			for i := 0; i < n; i++ {
				buf[i] = float64(sent + i)
			}

			sent += f.Push(buf[:n])
		}
	}()

	var mismatch bool

	go func() {
		defer wg.Done()

		buf := make([]float64, 64)
		received := 0

		for received < total {
			n := f.Pop(buf)
			for i := 0; i < n; i++ {
				if buf[i] != float64(received+i) {
					mismatch = true

					return
				}
			}

			received += n
		}
	}()

	wg.Wait()

	if mismatch {
		t.Fatal("consumer observed out-of-order or corrupted samples")
	}
}

func BenchmarkPushPop(b *testing.B) {
	f, err := New(4096)
	if err != nil {
		b.Fatal(err)
	}

	block := make([]float64, 512)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		f.Push(block)
		f.Pop(block)
	}
}
