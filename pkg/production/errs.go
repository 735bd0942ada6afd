package production

import "errors"

var (
	// ErrTypeOutOfRange indicates a production type outside 0..32.
	ErrTypeOutOfRange = errors.New("production: type out of range")

	// ErrTypeUndefined indicates a production type with no entry in the
	// loaded line master.
	ErrTypeUndefined = errors.New("production: type not configured")

	// ErrMasterInvalid indicates a master file that parsed but failed
	// validation (bad key, fully <= 0, seconds_per_product <= 0).
	ErrMasterInvalid = errors.New("production: invalid master")
)
