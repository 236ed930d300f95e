package reftrace

import "errors"

var (
	// ErrEmptyTarget is returned by RunScan when no target was given.
	ErrEmptyTarget = errors.New("reftrace: empty scan target")

	// ErrSessionNotFound is returned when a session reference matches no
	// stored session.
	ErrSessionNotFound = errors.New("reftrace: session not found")

	// ErrAmbiguousSession is returned when a session ID prefix matches more
	// than one stored session.
	ErrAmbiguousSession = errors.New("reftrace: ambiguous session prefix")

	// ErrNoAnalysis is returned by layer queries when nothing has been
	// analyzed yet.
	ErrNoAnalysis = errors.New("reftrace: no analysis")
)
