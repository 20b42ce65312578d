package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUnknownJob        = errors.New("unknown job")
	ErrInvalidJobType    = errors.New("invalid job type")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyPromoted   = errors.New("asset already promoted")
	ErrWorkerUnavailable = errors.New("worker unavailable")
	ErrInvalidCallback   = errors.New("invalid callback payload")
)
