package mesh

import "errors"

var (
	// ErrInvalidInputShape is returned when point sets are empty, differ in length,
	// or contain rows that are not 3-dimensional.
	ErrInvalidInputShape = errors.New("invalid input shape")

	// ErrDegenerateCorrespondence is returned when the correspondence geometry cannot
	// determine a transform: non-positive leading eigenvalue, or zero source
	// dispersion while scale is estimated.
	ErrDegenerateCorrespondence = errors.New("degenerate correspondence")

	// ErrEigenDecompositionFailure is returned when the symmetric eigen-solver does not converge.
	ErrEigenDecompositionFailure = errors.New("eigen decomposition failed")

	// ErrInvalidConfig is returned for out-of-range registration settings.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownStrategy is returned when a strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown registration strategy")

	// ErrUnknownIndex is returned when a nearest-neighbour index kind is not known.
	ErrUnknownIndex = errors.New("unknown nearest neighbour index")
)
