package delivery

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindMarkup
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindMarkup:
		return "markup_rejected"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// SendError is returned by senders to tell the client how to react.
type SendError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// classify treats any error that is not a SendError as transient.
func classify(err error) *SendError {
	var se *SendError
	if errors.As(err, &se) {
		return se
	}
	return &SendError{Kind: KindTransient, Err: err}
}
