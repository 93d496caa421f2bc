package find

import "errors"

var (
	// ErrCapacityExceeded reports that the number of candidate maxima passed
	// the configured ceiling, or that the surviving peaks exceed the output
	// mask's representable label range. The result still carries statistics.
	ErrCapacityExceeded = errors.New("peak capacity exceeded")

	// ErrInvalidConfiguration reports a bad parameter set (dimension
	// mismatch, negative radius and similar). Raised before any pass runs.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
