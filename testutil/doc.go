// Package testutil provides testing utilities for the signature database.
//
// This package is intended for use in tests and benchmarks only.
// It provides seeded generators for nucleotide sequences, reverse
// complements and brute-force reference sketches.
//
// # Random Sequence Generation
//
//	rng := testutil.NewRNG(seed)
//	seq := rng.Sequence(10_000)          // uniform ACGT
//	mut := rng.Mutate(seq, 0.01)         // ~1% substitutions
//	rc := testutil.ReverseComplement(seq)
//
// # Reference Sketches
//
//	want := testutil.BruteForceBottomK(hashes, size)
package testutil
