// Package errkind defines the closed error taxonomy shared by every layer of
// the signature database.
//
// Each failure carries exactly one Kind. Lower layers wrap their own sentinel
// errors in an *Error so that callers can branch on the kind without knowing
// which subsystem failed:
//
//	if errors.Is(err, errkind.NotFound) { ... }
//	if errkind.Of(err) == errkind.Network { retry() }
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	// Unknown is the zero Kind; it is reported for errors that were never classified.
	Unknown Kind = iota
	// IO covers disk and cache access failures.
	IO
	// Network covers an unreachable provider or an expired timeout. Network errors are retryable.
	Network
	// ProviderProtocol covers malformed or unexpected responses from a genome source.
	ProviderProtocol
	// Storage covers embedded-store failures, including corruption detected on read.
	Storage
	// Serialization covers encode/decode failures of a persisted record.
	Serialization
	// Taxonomy covers a missing or malformed lineage.
	Taxonomy
	// Signature covers sketch construction failures.
	Signature
	// NotFound reports an absent id or accession.
	NotFound
	// InvalidParameters reports configuration or arguments that violate constraints.
	InvalidParameters
)

var kindNames = [...]string{
	Unknown:           "unknown",
	IO:                "io",
	Network:           "network",
	ProviderProtocol:  "provider protocol",
	Storage:           "storage",
	Serialization:     "serialization",
	Taxonomy:          "taxonomy",
	Signature:         "signature",
	NotFound:          "not found",
	InvalidParameters: "invalid parameters",
}

// String returns the human readable name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Retryable reports whether an operation that failed with this kind may succeed if repeated.
func (k Kind) Retryable() bool { return k == Network }

// Error is the concrete error type of the taxonomy.
//
// Err is the lower-level cause. It is informational only: the taxonomy does
// not own or interpret it, but it is reachable through errors.Unwrap.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "store.get"
	Detail string // human readable detail, e.g. the id involved
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind target, so errors.Is(err, errkind.NotFound) works through
// any number of wrapping layers.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: cause}
}

// Wrap classifies err. It returns nil for a nil err and keeps an existing
// classification instead of nesting a second one.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of returns the kind of the outermost classified error in err's chain.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsRetryable reports whether err is classified with a retryable kind.
func IsRetryable(err error) bool {
	return Of(err).Retryable()
}
