package database

import "errors"

// ErrNoActiveModel is returned when an operation requires an active
// classifier version and none exists yet.
var ErrNoActiveModel = errors.New("no active classifier version")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")
