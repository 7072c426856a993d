package sketch

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Family names the hash family used for every sketch built by this package.
// Sketches are only comparable when they share the family, k and size.
const Family = "xxh64-2bit/v1"

// MaxK is the largest k-mer length a packed 64-bit word can hold.
const MaxK = 32

const invalidBase = 4

// baseCode maps a nucleotide to its 2-bit code; anything else is invalidBase.
var baseCode [256]uint8

func init() {
	for i := range baseCode {
		baseCode[i] = invalidBase
	}
	for _, p := range []struct {
		b    byte
		code uint8
	}{{'A', 0}, {'C', 1}, {'G', 2}, {'T', 3}} {
		baseCode[p.b] = p.code
		baseCode[p.b+'a'-'A'] = p.code
	}
}

// IsBase reports whether b is one of ACGT (either case).
func IsBase(b byte) bool { return baseCode[b] != invalidBase }

// hashWord hashes a packed k-mer word.
func hashWord(w uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], w)
	return xxhash.Sum64(buf[:])
}

// kmerScanner rolls the forward and reverse-complement words of a k window.
type kmerScanner struct {
	k     int
	mask  uint64
	shift uint // position of the first base of the reverse complement word
}

func newKmerScanner(k int) kmerScanner {
	mask := ^uint64(0)
	if k < MaxK {
		mask = (uint64(1) << (2 * uint(k))) - 1
	}
	return kmerScanner{k: k, mask: mask, shift: 2 * uint(k-1)}
}

// scan calls fn with the canonical hash of every window of seq that contains
// only ACGT. It returns the number of valid bases and valid windows seen.
func (s kmerScanner) scan(seq []byte, fn func(uint64)) (bases, windows int) {
	var fwd, rev uint64
	run := 0
	for _, b := range seq {
		c := baseCode[b]
		if c == invalidBase {
			run = 0
			continue
		}
		bases++
		fwd = ((fwd << 2) | uint64(c)) & s.mask
		rev = (rev >> 2) | (uint64(3-c) << s.shift)
		run++
		if run < s.k {
			continue
		}
		windows++
		hf, hr := hashWord(fwd), hashWord(rev)
		if hr < hf {
			hf = hr
		}
		fn(hf)
	}
	return bases, windows
}

// CanonicalHash returns the canonical hash of a single k-mer.
// It reports false when kmer is empty, longer than MaxK or contains a non-ACGT symbol.
func CanonicalHash(kmer []byte) (uint64, bool) {
	if len(kmer) == 0 || len(kmer) > MaxK {
		return 0, false
	}
	var (
		out   uint64
		found bool
	)
	newKmerScanner(len(kmer)).scan(kmer, func(h uint64) {
		out, found = h, true
	})
	return out, found
}
