package errors

import "errors"

// Local store errors.
var (
	ErrNotFound = errors.New("node not found")
)

// Remote service errors.
var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrAPIRequest   = errors.New("API request failed")
	ErrAPIResponse  = errors.New("unexpected API response")
)

// Browser bridge errors.
var (
	ErrBridgeClosed = errors.New("browser bridge closed")
)
