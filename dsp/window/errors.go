package window

import (
	"errors"
	"fmt"
)

var (
	errEmptyCoeffs      = errors.New("window: empty coefficients")
	errZeroCoherentGain = errors.New("window: zero coherent gain")
	errMismatchedLength = errors.New("window: mismatched slice lengths")
)

func validateLength(size int) error {
	if size <= 0 {
		return fmt.Errorf("window: invalid size %d", size)
	}

	return nil
}

func validateKaiser(size int, beta float64) error {
	if size <= 0 {
		return fmt.Errorf("window: invalid size %d", size)
	}

	if beta < 0 {
		return fmt.Errorf("window: invalid kaiser beta %g", beta)
	}

	return nil
}
