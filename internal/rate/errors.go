package rate

import "errors"

var (
	// ErrStoreUnavailable is an exported constant or variable used by the authentication engine.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
