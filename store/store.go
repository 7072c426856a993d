// Package store is the embedded signature database.
//
// Signatures live in a bbolt file with two logical key spaces: the primary
// index (signature id to encoded record) and the taxonomy index (lineage term
// to a roaring bitmap of signature ordinals). Every mutation runs in a single
// bbolt write transaction, so a crash or a concurrent reader observes either
// the state before or after a write, never a mix of both.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.etcd.io/bbolt"

	"github.com/mladen5000/strain-ahsp/codec"
	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/sketch"
)

// SchemaVersion is the layout version recorded in the meta bucket.
const SchemaVersion = 1

const fileMode = 0o600

var (
	bucketSignatures = []byte("signatures") // id -> record
	bucketOrdinals   = []byte("ordinals")   // id -> uint64 ordinal
	bucketIDs        = []byte("ids")        // ordinal -> id
	bucketTerms      = []byte("terms")      // id -> indexed terms
	bucketTaxonomy   = []byte("taxonomy")   // term -> roaring64 bitmap of ordinals
	bucketMeta       = []byte("meta")

	allBuckets = [][]byte{bucketSignatures, bucketOrdinals, bucketIDs, bucketTerms, bucketTaxonomy, bucketMeta}

	keySchema = []byte("schema")
)

type options struct {
	compression codec.Compression
	timeout     time.Duration
	readOnly    bool
	noSync      bool
	params      *signature.Params
	codec       codec.Codec
}

// Option configures Open.
type Option func(*options)

// WithCompression sets the compression of newly written records.
// Existing records keep the compression they were written with.
func WithCompression(c codec.Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithTimeout bounds how long Open waits for the file lock held by another process.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithReadOnly opens the database with a shared lock; mutations fail.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithNoSync skips fsync on commit. Only for tests and rebuildable bulk loads.
func WithNoSync() Option {
	return func(o *options) { o.noSync = true }
}

// WithParams pins the signature parameters of the database. A new database
// records them; an existing one must match.
func WithParams(p signature.Params) Option {
	return func(o *options) { o.params = &p }
}

// WithCodec sets the codec of the schema document in the meta bucket.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// schema is the document kept under meta/schema.
type schema struct {
	Version    int    `json:"version"`
	Family     string `json:"family"`
	MacroK     int    `json:"macro_k,omitempty"`
	MesoK      int    `json:"meso_k,omitempty"`
	SketchSize int    `json:"sketch_size,omitempty"`
}

func (s schema) params() (signature.Params, bool) {
	p := signature.Params{MacroK: s.MacroK, MesoK: s.MesoK, SketchSize: s.SketchSize}
	return p, p.SketchSize > 0
}

// DB is a signature database. It is safe for concurrent use; bbolt
// serializes writers and gives readers consistent snapshots.
type DB struct {
	bolt   *bbolt.DB
	path   string
	opts   options
	closed atomic.Bool
}

// Open opens or creates the database at path. The parent directory is
// created when missing.
func Open(path string, optFns ...Option) (*DB, error) {
	o := options{
		compression: codec.None,
		timeout:     time.Second,
		codec:       codec.Default,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if !o.compression.Valid() {
		return nil, errkind.New(errkind.InvalidParameters, "store.open", o.compression.String(), nil)
	}
	if o.params != nil {
		if err := o.params.Validate(); err != nil {
			return nil, err
		}
	}

	if !o.readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errkind.Wrap(errkind.IO, "store.open", err)
		}
	}
	bdb, err := bbolt.Open(path, fileMode, &bbolt.Options{
		Timeout:  o.timeout,
		ReadOnly: o.readOnly,
		NoSync:   o.noSync,
	})
	if err != nil {
		return nil, errkind.New(errkind.Storage, "store.open", path, err)
	}

	db := &DB{bolt: bdb, path: path, opts: o}
	if err := db.init(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) init() error {
	check := func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return errkind.New(errkind.Storage, "store.open", db.path, fmt.Errorf("not a signature database"))
		}
		s, err := db.readSchema(meta)
		if err != nil {
			return err
		}
		if s.Version > SchemaVersion {
			return errkind.New(errkind.Storage, "store.open", db.path,
				fmt.Errorf("%w: schema %d is newer than %d", ErrVersion, s.Version, SchemaVersion))
		}
		if s.Family != "" && s.Family != sketch.Family {
			return errkind.New(errkind.InvalidParameters, "store.open", s.Family, ErrParamsMismatch)
		}
		if db.opts.params != nil {
			if p, ok := s.params(); ok && p != *db.opts.params {
				return errkind.New(errkind.InvalidParameters, "store.open",
					fmt.Sprintf("database has %s, requested %s", p, db.opts.params), ErrParamsMismatch)
			}
		}
		return nil
	}

	if db.opts.readOnly {
		return storageErr("store.open", db.bolt.View(check))
	}
	return storageErr("store.open", db.bolt.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		if err := check(tx); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keySchema) != nil {
			return nil
		}
		s := schema{Version: SchemaVersion, Family: sketch.Family}
		if p := db.opts.params; p != nil {
			s.MacroK, s.MesoK, s.SketchSize = p.MacroK, p.MesoK, p.SketchSize
		}
		return db.writeSchema(meta, s)
	}))
}

func (db *DB) readSchema(meta *bbolt.Bucket) (schema, error) {
	raw := meta.Get(keySchema)
	if raw == nil {
		return schema{}, nil
	}
	var s schema
	if err := db.opts.codec.Unmarshal(raw, &s); err != nil {
		return schema{}, corrupt("store.schema", string(keySchema), err)
	}
	return s, nil
}

func (db *DB) writeSchema(meta *bbolt.Bucket, s schema) error {
	raw, err := db.opts.codec.Marshal(s)
	if err != nil {
		return corrupt("store.schema", string(keySchema), err)
	}
	return meta.Put(keySchema, raw)
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Params returns the signature parameters recorded in the database. ok is
// false while no signature has been added and none were pinned.
func (db *DB) Params() (p signature.Params, ok bool, err error) {
	err = db.view("store.params", func(tx *bbolt.Tx) error {
		s, err := db.readSchema(tx.Bucket(bucketMeta))
		if err != nil {
			return err
		}
		p, ok = s.params()
		return nil
	})
	return p, ok, err
}

// Close releases the database file. It is safe to call more than once.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	return storageErr("store.close", db.bolt.Close())
}

func (db *DB) view(op string, fn func(*bbolt.Tx) error) error {
	if db.closed.Load() {
		return errkind.New(errkind.Storage, op, "", ErrClosed)
	}
	return storageErr(op, db.bolt.View(fn))
}

func (db *DB) update(op string, fn func(*bbolt.Tx) error) error {
	if db.closed.Load() {
		return errkind.New(errkind.Storage, op, "", ErrClosed)
	}
	return storageErr(op, db.bolt.Update(fn))
}

func ordinalKey(ord uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, ord)
}

func loadBitmap(b *bbolt.Bucket, term string) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	raw := b.Get([]byte(term))
	if raw == nil {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(raw); err != nil {
		return nil, corrupt("store.taxonomy", term, fmt.Errorf("%w: posting list: %w", ErrCorrupt, err))
	}
	return bm, nil
}

func storeBitmap(b *bbolt.Bucket, term string, bm *roaring64.Bitmap) error {
	if bm.IsEmpty() {
		return b.Delete([]byte(term))
	}
	bm.RunOptimize()
	raw, err := bm.MarshalBinary()
	if err != nil {
		return corrupt("store.taxonomy", term, err)
	}
	return b.Put([]byte(term), raw)
}
