package domain

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting a row whose unique key is
	// already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrBindingConflict is returned when rebinding local content to a
	// different external identity.
	ErrBindingConflict = errors.New("external binding conflict")

	// ErrNoSession is returned when a user has no stored PDS session.
	ErrNoSession = errors.New("no outbound session")

	// ErrUnauthorized is returned when the PDS rejects a session that could
	// not be refreshed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCycleInProgress is returned when a polling cycle is triggered while
	// another is still running.
	ErrCycleInProgress = errors.New("polling cycle already in progress")
)
