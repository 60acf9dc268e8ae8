package shared

import "errors"

// Error taxonomy shared by every module. Guard and validation failures are
// raised before any write attempt; ErrStoreConflict is raised after a failed
// atomic unit and is safe to retry verbatim since nothing partial commits.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed or incomplete payload.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates the actor lacks the role or department for the action.
	ErrUnauthorized = errors.New("actor not permitted")
	// ErrInvalidTransition indicates a trigger attempted from a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateActive indicates the job already carries an active document of that kind.
	ErrDuplicateActive = errors.New("active document already exists")
	// ErrStoreConflict indicates the store rejected an atomic multi-write unit.
	ErrStoreConflict = errors.New("store rejected atomic write")
)
