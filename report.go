package ahsp

import (
	"github.com/mladen5000/strain-ahsp/signature"
)

// Status is the outcome of one item of a batch.
type Status uint8

const (
	// StatusFailed means the item was attempted and failed; see ItemResult.Err.
	StatusFailed Status = iota
	// StatusAdded means a new signature was committed.
	StatusAdded
	// StatusReplaced means an existing signature was overwritten.
	StatusReplaced
	// StatusSkipped means the id was already present and left untouched.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusAdded:
		return "added"
	case StatusReplaced:
		return "replaced"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Reference is a genome resolved by DownloadReferences.
type Reference struct {
	Accession string
	ID        string
	Metadata  signature.Metadata

	// Present reports that the id was already in the database, so nothing
	// was fetched.
	Present bool
	// Cached reports that the sequence came from the cache.
	Cached bool
	// Bytes is the size of the cached sequence.
	Bytes int64

	Err error
}

// ItemResult is the outcome of one reference.
type ItemResult struct {
	Accession string
	ID        string
	Status    Status
	Err       error
}

// Report lists the outcome of every reference of a batch, in input order.
type Report struct {
	Items []ItemResult
}

// Added returns the ids whose signatures were written, replacements included.
func (r *Report) Added() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, it := range r.Items {
		if it.Status == StatusAdded || it.Status == StatusReplaced {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Failed returns the failed items.
func (r *Report) Failed() []ItemResult {
	if r == nil {
		return nil
	}
	var out []ItemResult
	for _, it := range r.Items {
		if it.Status == StatusFailed {
			out = append(out, it)
		}
	}
	return out
}

// Count returns the number of items with the given status.
func (r *Report) Count(s Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, it := range r.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// attempted counts items that were not skipped.
func (r *Report) attempted() int {
	return len(r.Items) - r.Count(StatusSkipped)
}

// firstErr returns the error of the first failed item.
func (r *Report) firstErr() error {
	for _, it := range r.Items {
		if it.Err != nil {
			return it.Err
		}
	}
	return nil
}
