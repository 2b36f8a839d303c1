package graph

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when required input is missing or malformed.
var ErrValidation = errors.New("validation failed")

// ErrConflict is returned when an operation would violate a uniqueness invariant.
var ErrConflict = errors.New("conflict")

// ErrInvalidState is returned when an operation is illegal for the current
// state of a state machine (harvest buckets, import batches).
var ErrInvalidState = errors.New("invalid state")
