package collect

import "errors"

// Failure kinds reported by fetch and publish capabilities. Implementations
// wrap these so callers can branch with errors.Is.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("timed out")
	ErrMalformed    = errors.New("malformed response")
	ErrNotInstalled = errors.New("tool not installed")
	ErrUnsupported  = errors.New("not supported by this source")
)
