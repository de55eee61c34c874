package domain

import "errors"

var (
	ErrDraftNotFound    = errors.New("draft not found")
	ErrDraftExists      = errors.New("draft already exists")
	ErrStatusConflict   = errors.New("draft status changed concurrently")
	ErrInvalidState     = errors.New("command not allowed in current draft status")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrSecretNotFound   = errors.New("secret not found")
	ErrSecretReadOnly   = errors.New("secret backend is read-only")
	ErrInvalidSecretRef = errors.New("invalid secret reference")
	ErrTransient        = errors.New("transient failure")
	ErrRejectedByTarget = errors.New("rejected by external system")
	ErrCaptureFailed    = errors.New("audio capture failed")
	ErrSessionActive    = errors.New("a session is already active")
	ErrNoActiveSession  = errors.New("no active session")
)
