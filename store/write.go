package store

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/sketch"
)

// Outcome reports what a write did.
type Outcome uint8

const (
	// Inserted means the id was new.
	Inserted Outcome = iota + 1
	// Replaced means an existing record with the id was overwritten.
	Replaced
	// Kept means the id already existed and was left untouched.
	Kept
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Kept:
		return "kept"
	default:
		return "unknown"
	}
}

// Add stores sig and returns its id. An existing record with the same id is
// replaced, together with its taxonomy postings.
func (db *DB) Add(sig *signature.Signature) (string, error) {
	_, err := db.Put(sig, true)
	if err != nil {
		return "", err
	}
	return sig.ID, nil
}

// Put stores sig. With overwrite unset an existing id is kept as is and the
// outcome is Kept; the check and the write share one transaction.
func (db *DB) Put(sig *signature.Signature, overwrite bool) (Outcome, error) {
	const op = "store.put"
	if sig == nil {
		return 0, errkind.New(errkind.InvalidParameters, op, "nil signature", nil)
	}
	if err := sig.Validate(); err != nil {
		return 0, err
	}
	if sig.Macro.Family != sketch.Family || sig.Meso.Family != sketch.Family {
		return 0, errkind.New(errkind.InvalidParameters, op,
			fmt.Sprintf("%s: hash family %q", sig.ID, sig.Macro.Family), ErrParamsMismatch)
	}
	if sig.Meso.Size != sig.Macro.Size {
		return 0, errkind.New(errkind.InvalidParameters, op,
			fmt.Sprintf("%s: macro and meso sizes differ", sig.ID), ErrParamsMismatch)
	}
	rec, err := encodeRecord(sig, db.opts.compression)
	if err != nil {
		return 0, err
	}
	id := []byte(sig.ID)
	terms := sig.Metadata.Terms()

	var outcome Outcome
	err = db.update(op, func(tx *bbolt.Tx) error {
		if err := db.guardParams(tx, sig.Params()); err != nil {
			return err
		}

		ords := tx.Bucket(bucketOrdinals)
		var ordKey []byte
		if existing := ords.Get(id); existing != nil {
			if !overwrite {
				outcome = Kept
				return nil
			}
			ordKey = append([]byte(nil), existing...)
			if err := db.dropPostings(tx, sig.ID, ordKey); err != nil {
				return err
			}
			outcome = Replaced
		} else {
			seq, err := ords.NextSequence()
			if err != nil {
				return err
			}
			ordKey = ordinalKey(seq)
			if err := ords.Put(id, ordKey); err != nil {
				return err
			}
			if err := tx.Bucket(bucketIDs).Put(ordKey, id); err != nil {
				return err
			}
			outcome = Inserted
		}

		if err := tx.Bucket(bucketSignatures).Put(id, rec); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTerms).Put(id, encodeTerms(terms)); err != nil {
			return err
		}
		tax := tx.Bucket(bucketTaxonomy)
		ord := decodeOrdinal(ordKey)
		for _, t := range terms {
			bm, err := loadBitmap(tax, t)
			if err != nil {
				return err
			}
			bm.Add(ord)
			if err := storeBitmap(tax, t, bm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// guardParams enforces that every signature of the database is comparable.
// The first write records the parameters.
func (db *DB) guardParams(tx *bbolt.Tx, p signature.Params) error {
	meta := tx.Bucket(bucketMeta)
	s, err := db.readSchema(meta)
	if err != nil {
		return err
	}
	if have, ok := s.params(); ok {
		if have != p {
			return errkind.New(errkind.InvalidParameters, "store.put",
				fmt.Sprintf("database has %s, signature has %s", have, p), ErrParamsMismatch)
		}
		return nil
	}
	s.Version = SchemaVersion
	s.Family = sketch.Family
	s.MacroK, s.MesoK, s.SketchSize = p.MacroK, p.MesoK, p.SketchSize
	return db.writeSchema(meta, s)
}

// dropPostings removes ordKey from the postings of every term id was indexed under.
func (db *DB) dropPostings(tx *bbolt.Tx, id string, ordKey []byte) error {
	raw := tx.Bucket(bucketTerms).Get([]byte(id))
	if raw == nil {
		return nil
	}
	terms, err := decodeTerms(raw)
	if err != nil {
		return corrupt("store.terms", id, err)
	}
	tax := tx.Bucket(bucketTaxonomy)
	ord := decodeOrdinal(ordKey)
	for _, t := range terms {
		bm, err := loadBitmap(tax, t)
		if err != nil {
			return err
		}
		bm.Remove(ord)
		if err := storeBitmap(tax, t, bm); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the signature with the given id and its taxonomy postings.
// A missing id is reported as NotFound.
func (db *DB) Remove(id string) error {
	const op = "store.remove"
	key := []byte(signature.IDFromAccession(id))
	return db.update(op, func(tx *bbolt.Tx) error {
		ords := tx.Bucket(bucketOrdinals)
		existing := ords.Get(key)
		if existing == nil {
			return notFound(op, string(key))
		}
		ordKey := append([]byte(nil), existing...)
		if err := db.dropPostings(tx, string(key), ordKey); err != nil {
			return err
		}
		for _, del := range []struct {
			bucket []byte
			key    []byte
		}{
			{bucketSignatures, key},
			{bucketTerms, key},
			{bucketOrdinals, key},
			{bucketIDs, ordKey},
		} {
			if err := tx.Bucket(del.bucket).Delete(del.key); err != nil {
				return err
			}
		}
		return nil
	})
}
