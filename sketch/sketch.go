// Package sketch builds bottom-k MinHash sketches of nucleotide sequences.
//
// Every k-mer is hashed canonically (the minimum of the hash of the k-mer and
// of its reverse complement), so a sketch does not depend on the strand that
// was sequenced. Windows containing anything other than A, C, G or T are
// skipped. Construction streams the sequence once and keeps only the size
// smallest distinct hashes, so memory use is independent of genome length.
package sketch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mladen5000/strain-ahsp/errkind"
)

var (
	// ErrEmptySequence is returned when a sequence is empty or has no A, C, G or T base.
	ErrEmptySequence = errors.New("sequence is empty or contains no ACGT bases")

	// ErrInvalidParameters is returned when k or the sketch size are out of range.
	ErrInvalidParameters = errors.New("invalid sketch parameters")

	// ErrIncompatible is returned when two sketches were built with different k, size or hash family.
	ErrIncompatible = errors.New("incompatible sketches")
)

// Sketch is the bottom-k summary of the canonical k-mers of one sequence.
type Sketch struct {
	K      int      // k-mer length
	Size   int      // configured bound on len(Hashes)
	Family string   // hash family
	Hashes []uint64 // strictly ascending, distinct
}

// Len returns the number of hashes held.
func (s Sketch) Len() int { return len(s.Hashes) }

// Empty reports whether the sketch holds no hash.
func (s Sketch) Empty() bool { return len(s.Hashes) == 0 }

// Compatible reports whether s and o can be compared.
func (s Sketch) Compatible(o Sketch) bool {
	return s.K == o.K && s.Size == o.Size && s.Family == o.Family
}

// Equal reports whether s and o are identical.
func (s Sketch) Equal(o Sketch) bool {
	return s.Compatible(o) && slices.Equal(s.Hashes, o.Hashes)
}

// Validate checks the structural invariants of the sketch.
func (s Sketch) Validate() error {
	if err := ValidateParams(s.K, s.Size); err != nil {
		return err
	}
	if len(s.Hashes) > s.Size {
		return fmt.Errorf("%w: %d hashes exceed size %d", ErrInvalidParameters, len(s.Hashes), s.Size)
	}
	for i := 1; i < len(s.Hashes); i++ {
		if s.Hashes[i] <= s.Hashes[i-1] {
			return fmt.Errorf("%w: hashes not strictly ascending at %d", ErrInvalidParameters, i)
		}
	}
	return nil
}

// ValidateParams checks k and size.
func ValidateParams(k, size int) error {
	if k <= 0 || k > MaxK {
		return errkind.New(errkind.InvalidParameters, "sketch.params",
			fmt.Sprintf("k must be in [1, %d], got %d", MaxK, k), ErrInvalidParameters)
	}
	if size <= 0 {
		return errkind.New(errkind.InvalidParameters, "sketch.params",
			fmt.Sprintf("sketch size must be positive, got %d", size), ErrInvalidParameters)
	}
	return nil
}

// Stats describes one sketch construction.
type Stats struct {
	Bases   int // valid ACGT bases
	Windows int // valid k windows hashed
}

// Build returns the bottom-size sketch of the canonical k-mers of seq.
//
// A sequence with valid bases but shorter than k yields an empty sketch and
// no error.
func Build(seq []byte, k, size int) (Sketch, error) {
	sk, _, err := BuildWithStats(seq, k, size)
	return sk, err
}

// BuildWithStats is Build that also reports construction statistics.
func BuildWithStats(seq []byte, k, size int) (Sketch, Stats, error) {
	if err := ValidateParams(k, size); err != nil {
		return Sketch{}, Stats{}, err
	}
	if len(seq) == 0 {
		return Sketch{}, Stats{}, errkind.New(errkind.Signature, "sketch.build", "", ErrEmptySequence)
	}

	bk := NewBottomK(size)
	bases, windows := newKmerScanner(k).scan(seq, func(h uint64) { bk.Add(h) })
	if bases == 0 {
		return Sketch{}, Stats{}, errkind.New(errkind.Signature, "sketch.build", "", ErrEmptySequence)
	}

	return Sketch{
		K:      k,
		Size:   size,
		Family: Family,
		Hashes: bk.Sorted(),
	}, Stats{Bases: bases, Windows: windows}, nil
}

// Jaccard estimates the Jaccard similarity of the k-mer sets behind a and b.
//
// It uses the bottom-k estimator: the s smallest distinct hashes of the union
// (s being the smaller sketch length) are a uniform sample of the union, and
// the fraction of them present in both sketches estimates |A∩B|/|A∪B|.
// When both sketches hold every k-mer of their sequence the result is exact.
func Jaccard(a, b Sketch) (float64, error) {
	if !a.Compatible(b) {
		return 0, errkind.New(errkind.InvalidParameters, "sketch.jaccard",
			fmt.Sprintf("k=%d/%d size=%d/%d family=%s/%s", a.K, b.K, a.Size, b.Size, a.Family, b.Family),
			ErrIncompatible)
	}
	if a.Empty() && b.Empty() {
		return 1, nil
	}
	if a.Empty() || b.Empty() {
		return 0, nil
	}

	limit := a.Size
	var seen, shared int
	i, j := 0, 0
	for seen < limit && (i < len(a.Hashes) || j < len(b.Hashes)) {
		switch {
		case j >= len(b.Hashes) || (i < len(a.Hashes) && a.Hashes[i] < b.Hashes[j]):
			i++
		case i >= len(a.Hashes) || b.Hashes[j] < a.Hashes[i]:
			j++
		default:
			shared++
			i++
			j++
		}
		seen++
	}
	return float64(shared) / float64(seen), nil
}

// Containment estimates the fraction of a's k-mers that are also in b.
// Only hashes of a that fall within b's range can be judged.
func Containment(a, b Sketch) (float64, error) {
	if !a.Compatible(b) {
		return 0, errkind.New(errkind.InvalidParameters, "sketch.containment", "", ErrIncompatible)
	}
	if a.Empty() || b.Empty() {
		return 0, nil
	}
	bound := b.Hashes[len(b.Hashes)-1]
	var considered, shared int
	j := 0
	for _, h := range a.Hashes {
		if h > bound {
			break
		}
		considered++
		for j < len(b.Hashes) && b.Hashes[j] < h {
			j++
		}
		if j < len(b.Hashes) && b.Hashes[j] == h {
			shared++
		}
	}
	if considered == 0 {
		return 0, nil
	}
	return float64(shared) / float64(considered), nil
}
