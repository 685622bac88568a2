package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrProviderFailure   = errors.New("provider failure")
	ErrMissingHandle     = errors.New("provider returned no generation handle")
	ErrGenerationTimeout = errors.New("generation polling exhausted")
	ErrVersionConflict   = errors.New("job version conflict")
	ErrTerminalStatus    = errors.New("job already reached a terminal status")
)
