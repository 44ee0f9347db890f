package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint was violated.
	ErrConflict = errors.New("repository: conflict")
	// ErrInvalidArgument indicates malformed input reached the store.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrAccountNotFound indicates a ledger entry's owning account is gone.
	ErrAccountNotFound = errors.New("repository: owning account not found")
	// ErrAlreadySettled indicates the conditional settle lost to an earlier one.
	ErrAlreadySettled = errors.New("repository: ledger entry already settled")
)
