// Package source holds what the concrete source implementations share.
package source

import (
	"errors"
	"fmt"
)

// FetchError tells the caller whether retrying a fetch can help.
type FetchError struct {
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient fetch error: %v", e.Err)
	}
	return fmt.Sprintf("fetch error: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	return &FetchError{Transient: true, Err: err}
}

func Fatal(err error) error {
	return &FetchError{Transient: false, Err: err}
}

// IsTransient reports whether err is worth retrying. Errors that were not
// classified are treated as transient.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return err != nil
}
