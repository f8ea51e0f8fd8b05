package conveyor

import "errors"

var (
	// Admission errors.
	ErrDraining      = errors.New("conveyor: engine is draining, no new admissions")
	ErrUnknownKind   = errors.New("conveyor: no handler registered for job kind")
	ErrInvalidConfig = errors.New("conveyor: invalid configuration")

	// Lookup errors.
	ErrJobNotFound = errors.New("conveyor: job not found")

	// Execution errors.
	ErrTimedOut  = errors.New("conveyor: attempt exceeded job timeout")
	ErrCancelled = errors.New("conveyor: job cancelled by shutdown")

	// State errors.
	ErrInvalidTransition = errors.New("conveyor: invalid status transition")
	ErrNotStarted        = errors.New("conveyor: engine not started")

	// Store errors.
	ErrStoreClosed = errors.New("conveyor: history store closed")
)
