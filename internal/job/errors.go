package job

import "errors"

var (
	// ErrNotFound means the job id does not resolve.
	ErrNotFound = errors.New("job not found")

	// ErrForbidden means the caller is not the job's owner.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition means a lifecycle operation was applied to a state
	// that has no such outgoing transition. Seeing it in production is a
	// defect in the calling code, not a user error.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation covers bad creation input (missing title, owner, images).
	ErrValidation = errors.New("validation failed")
)
