package model

import "errors"

// Error kinds shared by every package. Wrap them with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	// ErrValidation is always user-correctable: bad id, date or priority.
	ErrValidation = errors.New("invalid input")
	ErrNotFound   = errors.New("task not found")
	// ErrAuth covers a missing or expired credential and rejected codes.
	ErrAuth = errors.New("calendar authorization")
	// ErrSync is any calendar provider failure.
	ErrSync        = errors.New("calendar sync failed")
	ErrPersistence = errors.New("task storage failed")
)
