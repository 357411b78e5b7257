package reconcile

import "errors"

var (
	// ErrShiftParse marks malformed shift time data. The runner turns it
	// into a SKIP_MISSING_DATA outcome; it never crashes a batch.
	ErrShiftParse = errors.New("malformed shift time data")

	// ErrConfiguration indicates a broken deployment (no default checkout
	// tolerance resolvable at all). Fatal before any mutation.
	ErrConfiguration = errors.New("no default checkout tolerance configured")
)
