package core

// EnsureLen returns buf resized to length n, reallocating only when the
// capacity is insufficient. Prepare paths use this; audio paths must not.
func EnsureLen(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}

	return buf[:n]
}

// Zero sets every element of buf to 0.
func Zero(buf []float64) {
	for i := range buf {
		buf[i] = 0
	}
}
