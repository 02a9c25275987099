package domain

import "errors"

var (
	// ErrInvalidPackages is returned when a request names no packages.
	ErrInvalidPackages = errors.New("at least one package is required")

	// ErrInvalidDuration is returned for non-positive durations.
	ErrInvalidDuration = errors.New("duration must be positive")

	// ErrNotBlocking is returned when an operation requires an active block.
	ErrNotBlocking = errors.New("no active block")

	// ErrPermissionDenied is returned when an OS grant the loop needs is missing.
	ErrPermissionDenied = errors.New("required permission not granted")

	// ErrInvalidBlockState rejects writes that break the BlockState write-time invariant.
	ErrInvalidBlockState = errors.New("invalid block state")

	// ErrInvalidPauseState rejects writes that break the PauseState invariant.
	ErrInvalidPauseState = errors.New("invalid pause state")

	// ErrScheduleNotFound is returned when cancelling an unknown schedule.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInvalidSchedule is returned for malformed schedules.
	ErrInvalidSchedule = errors.New("invalid schedule")
)
