package inference

import "errors"

var (
	// ErrUnavailable means no candidate endpoint produced an HTTP response.
	ErrUnavailable = errors.New("inference unavailable")
	// ErrTimeout means a request timed out; a hung backend is terminal for
	// the whole call, alternates are not tried.
	ErrTimeout = errors.New("inference timeout")
	// ErrOverloaded maps a 429 from the backend.
	ErrOverloaded = errors.New("inference overloaded")
	// ErrRequestFailed maps any other error status from the backend.
	ErrRequestFailed = errors.New("inference request failed")
	// ErrBadResponse means the backend answered with a body the client
	// cannot interpret as an image.
	ErrBadResponse = errors.New("inference bad response")
)
