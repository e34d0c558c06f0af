package session

import (
	"errors"
	"fmt"
)

// Sentinel errors drivers wrap to classify navigation failures.
var (
	// ErrSessionDead means the browser handle is unusable and must be replaced.
	ErrSessionDead = errors.New("browser session dead")
	// ErrTimeout means the navigation did not complete in time.
	ErrTimeout = errors.New("navigation timeout")
	// ErrPermanent means retrying the same URL cannot succeed.
	ErrPermanent = errors.New("permanent navigation failure")
	// ErrUnrecoverable matches any FetchError returned once retries are spent.
	ErrUnrecoverable = errors.New("fetch unrecoverable")
)

// Class is the failure class of one navigation attempt.
type Class int

// Failure classes.
const (
	ClassOK Class = iota
	ClassTransient
	ClassSessionDead
	ClassUnrecoverable
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassTransient:
		return "transient"
	case ClassSessionDead:
		return "session_dead"
	case ClassUnrecoverable:
		return "unrecoverable"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classify maps a driver error to its failure class. Unknown errors are transient.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, ErrSessionDead):
		return ClassSessionDead
	case errors.Is(err, ErrPermanent):
		return ClassUnrecoverable
	default:
		return ClassTransient
	}
}

// FetchError is returned by Fetcher.Fetch when a URL could not be loaded.
type FetchError struct {
	URL      string
	Attempts int
	// Class is the class of the final attempt.
	Class Class
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s unrecoverable after %d attempt(s), last %s: %v", e.URL, e.Attempts, e.Class, e.Err)
}

// Unwrap exposes the last attempt's error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrUnrecoverable for every FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrUnrecoverable
}
