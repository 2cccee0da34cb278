package incidents

import "errors"

var (
	// ErrNotFound indicates a missing incident or employee.
	ErrNotFound = errors.New("incident: not found")
	// ErrInvalidTransition indicates the action is illegal for the current status.
	ErrInvalidTransition = errors.New("incident: invalid state transition")
	// ErrNotAssigned indicates the actor is not the current assignee.
	ErrNotAssigned = errors.New("incident: not assigned to caller")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("incident: validation failed")
	// ErrConflict indicates a lost version race; re-fetch and retry.
	ErrConflict = errors.New("incident: version conflict")
	// ErrAlreadyAssigned is returned when the assignee claims their own incident.
	ErrAlreadyAssigned = &alreadyAssignedError{}
)

type alreadyAssignedError struct{}

func (*alreadyAssignedError) Error() string { return "incident: already assigned to caller" }

// Is lets callers treat a self-claim as a conflict.
func (*alreadyAssignedError) Is(target error) bool { return target == ErrConflict }
