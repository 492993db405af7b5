package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Lockout state errors surfaced at the API boundary
	ErrPermanentlyLocked = errors.New("principal is permanently locked")
)
