package store

import (
	"cmp"
	"encoding/binary"
	"slices"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/signature"
)

func decodeOrdinal(key []byte) uint64 {
	if len(key) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// Get returns the signature with the given id.
func (db *DB) Get(id string) (*signature.Signature, error) {
	const op = "store.get"
	id = signature.IDFromAccession(id)
	var sig *signature.Signature
	err := db.view(op, func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSignatures).Get([]byte(id))
		if raw == nil {
			return notFound(op, id)
		}
		var err error
		sig, err = decodeRecord(raw)
		if err != nil {
			return corrupt(op, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// Has reports whether a signature with the given id exists.
func (db *DB) Has(id string) (bool, error) {
	var ok bool
	err := db.view("store.has", func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketOrdinals).Get([]byte(signature.IDFromAccession(id))) != nil
		return nil
	})
	return ok, err
}

// Count returns the number of stored signatures.
func (db *DB) Count() (int, error) {
	var n int
	err := db.view("store.count", func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketOrdinals).Stats().KeyN
		return nil
	})
	return n, err
}

// IDs returns every signature id in key order.
func (db *DB) IDs() ([]string, error) {
	var ids []string
	err := db.view("store.ids", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOrdinals).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// ForEach calls fn for every stored record in id order. A record that fails
// to decode is passed with a nil signature and a Serialization error, so the
// caller decides whether to skip it or abort. Iteration stops at the first
// error fn returns, which ForEach then returns.
func (db *DB) ForEach(fn func(id string, sig *signature.Signature, err error) error) error {
	const op = "store.foreach"
	return db.view(op, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSignatures).ForEach(func(k, v []byte) error {
			id := string(k)
			sig, err := decodeRecord(v)
			if err != nil {
				return fn(id, nil, corrupt(op, id, err))
			}
			return fn(id, sig, nil)
		})
	})
}

// All returns every stored signature in id order. The order is stable across
// runs. It fails on the first record that cannot be decoded.
func (db *DB) All() ([]*signature.Signature, error) {
	var out []*signature.Signature
	err := db.ForEach(func(_ string, sig *signature.Signature, err error) error {
		if err != nil {
			return err
		}
		out = append(out, sig)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchIDs returns the ids indexed under term in insertion order.
func (db *DB) SearchIDs(term string) ([]string, error) {
	var ids []string
	err := db.searchTerm("store.search_ids", term, func(tx *bbolt.Tx, id string) error {
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// SearchByTaxonomy returns every signature whose lineage contains term
// exactly, in insertion order. No match yields an empty result.
func (db *DB) SearchByTaxonomy(term string) ([]*signature.Signature, error) {
	const op = "store.search"
	var out []*signature.Signature
	err := db.searchTerm(op, term, func(tx *bbolt.Tx, id string) error {
		raw := tx.Bucket(bucketSignatures).Get([]byte(id))
		if raw == nil {
			return errkind.New(errkind.Storage, op, id, ErrCorrupt)
		}
		sig, err := decodeRecord(raw)
		if err != nil {
			return corrupt(op, id, err)
		}
		out = append(out, sig)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) searchTerm(op, term string, fn func(tx *bbolt.Tx, id string) error) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return errkind.New(errkind.Taxonomy, op, "", ErrEmptyTerm)
	}
	return db.view(op, func(tx *bbolt.Tx) error {
		bm, err := loadBitmap(tx.Bucket(bucketTaxonomy), term)
		if err != nil {
			return err
		}
		ids := tx.Bucket(bucketIDs)
		it := bm.Iterator()
		for it.HasNext() {
			ord := it.Next()
			id := ids.Get(ordinalKey(ord))
			if id == nil {
				return errkind.New(errkind.Storage, op, term, ErrCorrupt)
			}
			if err := fn(tx, string(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// TermCount is one taxonomy index entry.
type TermCount struct {
	Term  string
	Count uint64
}

// Terms lists the taxonomy index in term order.
func (db *DB) Terms() ([]TermCount, error) {
	var out []TermCount
	err := db.view("store.terms", func(tx *bbolt.Tx) error {
		tax := tx.Bucket(bucketTaxonomy)
		return tax.ForEach(func(k, _ []byte) error {
			bm, err := loadBitmap(tax, string(k))
			if err != nil {
				return err
			}
			out = append(out, TermCount{Term: string(k), Count: bm.GetCardinality()})
			return nil
		})
	})
	return out, err
}

// Match is one Nearest result.
type Match struct {
	ID         string
	Similarity float64 // weighted Jaccard estimate
	Distance   float64 // Mash distance at the macro resolution
	Metadata   signature.Metadata
}

// Nearest returns the n stored signatures most similar to query, best
// first. Ties are broken by id. Records that fail to decode abort the scan.
func (db *DB) Nearest(query *signature.Signature, n int, w signature.Weights) ([]Match, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Match
	err := db.ForEach(func(id string, sig *signature.Signature, err error) error {
		if err != nil {
			return err
		}
		s, err := signature.Similarity(query, sig, w)
		if err != nil {
			return errkind.Wrap(errkind.InvalidParameters, "store.nearest", err)
		}
		d, err := signature.Distance(query, sig)
		if err != nil {
			return errkind.Wrap(errkind.InvalidParameters, "store.nearest", err)
		}
		out = append(out, Match{ID: id, Similarity: s, Distance: d, Metadata: sig.Metadata})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Stats summarizes the database.
type Stats struct {
	Path       string
	Signatures int
	Terms      int
	Params     signature.Params // zero until the first signature is added
	Family     string
	Version    int
	SizeBytes  int64
}

// Stats returns a summary of the database.
func (db *DB) Stats() (Stats, error) {
	st := Stats{Path: db.path}
	err := db.view("store.stats", func(tx *bbolt.Tx) error {
		s, err := db.readSchema(tx.Bucket(bucketMeta))
		if err != nil {
			return err
		}
		st.Params, _ = s.params()
		st.Family = s.Family
		st.Version = s.Version
		st.Signatures = tx.Bucket(bucketOrdinals).Stats().KeyN
		st.Terms = tx.Bucket(bucketTaxonomy).Stats().KeyN
		st.SizeBytes = tx.Size()
		return nil
	})
	return st, err
}
