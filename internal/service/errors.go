package service

import "errors"

var (
	// ErrForbidden is returned when the session's role does not permit the
	// operation.
	ErrForbidden = errors.New("operation not permitted for this role")
	// ErrInvalidAccount wraps account validation failures.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrProtectedAccount guards the built-in administrator from deletion.
	ErrProtectedAccount = errors.New("account is protected")
	// ErrInvalidRecord wraps record validation failures.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrRecordDeleted is returned when editing a record in the terminal state.
	ErrRecordDeleted = errors.New("record is deleted")
	// ErrNegativeAge rejects negative year counts.
	ErrNegativeAge = errors.New("years must not be negative")
)
