package comm

import "errors"

// ErrNotSupported is returned by every operation when service workers are
// unsupported by the host or disabled by configuration.
var ErrNotSupported = errors.New("service workers are disabled or not supported by this browser")

// AckError is a failure status reported by the worker for a correlated
// request. Its message is the worker's error text, unmodified.
type AckError struct {
	Nonce   uint64
	Message string
}

func (e *AckError) Error() string { return e.Message }
