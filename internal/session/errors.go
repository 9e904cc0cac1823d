package session

import "errors"

var (
	// ErrUnauthorized signals a missing or unknown session id.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound signals a resource the session does not own.
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken signals an unknown or already consumed download token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoHistory signals an undo attempt with no previous result to restore.
	ErrNoHistory = errors.New("no previous result")
)
