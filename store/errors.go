package store

import (
	"errors"

	"github.com/mladen5000/strain-ahsp/errkind"
)

var (
	// ErrNotFound is returned when a signature id is absent.
	ErrNotFound = errors.New("signature not found")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrCorrupt is returned when a stored record fails its integrity checks.
	ErrCorrupt = errors.New("corrupt record")

	// ErrVersion is returned for records written by an unknown format version.
	ErrVersion = errors.New("unsupported record version")

	// ErrParamsMismatch is returned when a signature was built with parameters
	// or a hash family that differ from the database's.
	ErrParamsMismatch = errors.New("signature parameters differ from database")

	// ErrEmptyTerm is returned for a taxonomy lookup with a blank term.
	ErrEmptyTerm = errors.New("empty taxonomy term")
)

func notFound(op, id string) error {
	return errkind.New(errkind.NotFound, op, id, ErrNotFound)
}

func corrupt(op, id string, err error) error {
	return errkind.New(errkind.Serialization, op, id, err)
}

func storageErr(op string, err error) error {
	return errkind.Wrap(errkind.Storage, op, err)
}
