package model

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidName  = errors.New("invalid display name")
	ErrConflict     = errors.New("display name already taken")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited, slow down")
	ErrUnbound      = errors.New("connection is not bound to an identity or room")
	ErrAlreadyBound = errors.New("connection is already bound")
	ErrUnknownType  = errors.New("unknown frame type")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorage is the only fatal class: callers must not swallow it.
	ErrStorage = errors.New("storage unavailable")
)
