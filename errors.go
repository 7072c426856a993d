package ahsp

import (
	"errors"
	"fmt"

	"github.com/mladen5000/strain-ahsp/errkind"
)

// Error kinds. Match them with errors.Is.
var (
	ErrIO                error = errkind.IO
	ErrNetwork           error = errkind.Network
	ErrProviderProtocol  error = errkind.ProviderProtocol
	ErrStorage           error = errkind.Storage
	ErrSerialization     error = errkind.Serialization
	ErrTaxonomy          error = errkind.Taxonomy
	ErrSignature         error = errkind.Signature
	ErrNotFound          error = errkind.NotFound
	ErrInvalidParameters error = errkind.InvalidParameters
)

var (
	// ErrNoneSucceeded is returned when every attempted item of a batch failed.
	ErrNoneSucceeded = errors.New("no reference succeeded")

	// ErrClosed is returned by a closed Manager.
	ErrClosed = errors.New("manager is closed")
)

// IsRetryable reports whether err may succeed if repeated.
func IsRetryable(err error) bool { return errkind.IsRetryable(err) }

// BatchError reports a batch in which no attempted item succeeded.
//
// It matches ErrNoneSucceeded. The error of the first failed item can be
// accessed via errors.Unwrap, so errors.Is also sees its kind.
type BatchError struct {
	Op        string
	Attempted int
	cause     error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("%s: 0 of %d succeeded", e.Op, e.Attempted)
	if e.cause != nil {
		msg += ": first failure: " + e.cause.Error()
	}
	return msg
}

func (e *BatchError) Unwrap() error { return e.cause }

// Is matches ErrNoneSucceeded.
func (e *BatchError) Is(target error) bool { return target == ErrNoneSucceeded }
