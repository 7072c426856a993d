package testutil

import (
	"math/rand"
	"slices"
	"sync"
)

var bases = [4]byte{'A', 'C', 'G', 'T'}

var complement [256]byte

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	complement['A'], complement['C'], complement['G'], complement['T'] = 'T', 'G', 'C', 'A'
	complement['a'], complement['c'], complement['g'], complement['t'] = 't', 'g', 'c', 'a'
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Sequence returns n uniformly random upper-case ACGT bases.
// Locks only once per call.
func (r *RNG) Sequence(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = bases[r.rand.Intn(4)]
	}
	return out
}

// Mutate returns a copy of seq where each base is substituted with
// probability rate by a different base.
func (r *RNG) Mutate(seq []byte, rate float64) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(seq)
	for i, b := range out {
		if r.rand.Float64() >= rate {
			continue
		}
		for {
			nb := bases[r.rand.Intn(4)]
			if nb != b {
				out[i] = nb
				break
			}
		}
	}
	return out
}

// Sprinkle returns a copy of seq with roughly rate of its positions replaced by sym.
func (r *RNG) Sprinkle(seq []byte, sym byte, rate float64) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(seq)
	for i := range out {
		if r.rand.Float64() < rate {
			out[i] = sym
		}
	}
	return out
}

// ReverseComplement returns the reverse complement of seq.
// Symbols other than ACGT map to N.
func ReverseComplement(seq []byte) []byte {
	n := len(seq)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = complement[seq[n-1-i]]
	}
	return out
}

// BruteForceBottomK returns the size smallest distinct values of hashes in
// ascending order. It is the reference the streaming sketch is checked against.
func BruteForceBottomK(hashes []uint64, size int) []uint64 {
	out := slices.Clone(hashes)
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) > size {
		out = out[:size]
	}
	return out
}
