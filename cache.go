package ahsp

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/mladen5000/strain-ahsp/blobstore"
	"github.com/mladen5000/strain-ahsp/codec"
	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/signature"
)

const (
	seqSuffix  = ".seq"
	metaSuffix = ".meta.json"

	cacheEntryVersion = 1
)

// cacheEntry is the metadata document of a cached genome. It is written
// after the sequence, so its presence marks a complete entry.
type cacheEntry struct {
	Version   int                `json:"version"`
	Metadata  signature.Metadata `json:"metadata"`
	Bytes     int64              `json:"bytes"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// genomeCache keeps fetched genomes keyed by accession.
type genomeCache struct {
	store blobstore.BlobStore
	codec codec.Codec
	ttl   time.Duration
	now   func() time.Time
}

func newGenomeCache(s blobstore.BlobStore, c codec.Codec, ttl time.Duration) *genomeCache {
	return &genomeCache{store: s, codec: c, ttl: ttl, now: time.Now}
}

// cacheKey maps an accession to a blob name prefix.
func cacheKey(accession string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(accession) {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	key := b.String()
	if key == "" || key == "." || key == ".." {
		key = "_" + key
	}
	return key
}

// lookup returns the cached metadata of accession. ok is false for a miss:
// no entry, an expired one, or a sequence that does not match its document.
func (c *genomeCache) lookup(ctx context.Context, accession string) (cacheEntry, bool, error) {
	const op = "cache.lookup"
	key := cacheKey(accession)
	raw, err := blobstore.ReadAll(ctx, c.store, key+metaSuffix)
	if errors.Is(err, blobstore.ErrNotFound) {
		return cacheEntry{}, false, nil
	}
	if err != nil {
		return cacheEntry{}, false, errkind.New(errkind.IO, op, accession, err)
	}
	var e cacheEntry
	if err := c.codec.Unmarshal(raw, &e); err != nil || e.Version != cacheEntryVersion {
		return cacheEntry{}, false, nil
	}
	if c.ttl > 0 && c.now().Sub(e.FetchedAt) > c.ttl {
		return cacheEntry{}, false, nil
	}

	b, err := c.store.Open(ctx, key+seqSuffix)
	if errors.Is(err, blobstore.ErrNotFound) {
		return cacheEntry{}, false, nil
	}
	if err != nil {
		return cacheEntry{}, false, errkind.New(errkind.IO, op, accession, err)
	}
	size := b.Size()
	_ = b.Close()
	if size != e.Bytes {
		return cacheEntry{}, false, nil
	}
	return e, true, nil
}

// put stores a genome: sequence first, then the metadata document.
func (c *genomeCache) put(ctx context.Context, accession string, seq []byte, meta signature.Metadata) (cacheEntry, error) {
	const op = "cache.put"
	key := cacheKey(accession)
	e := cacheEntry{
		Version:   cacheEntryVersion,
		Metadata:  meta,
		Bytes:     int64(len(seq)),
		FetchedAt: c.now().UTC(),
	}
	doc, err := c.codec.Marshal(e)
	if err != nil {
		return cacheEntry{}, errkind.New(errkind.Serialization, op, accession, err)
	}
	if err := c.store.Put(ctx, key+seqSuffix, seq); err != nil {
		return cacheEntry{}, errkind.New(errkind.IO, op, accession, err)
	}
	if err := c.store.Put(ctx, key+metaSuffix, doc); err != nil {
		return cacheEntry{}, errkind.New(errkind.IO, op, accession, err)
	}
	return e, nil
}

// open opens the cached sequence of accession.
func (c *genomeCache) open(ctx context.Context, accession string) (blobstore.Blob, error) {
	const op = "cache.open"
	b, err := c.store.Open(ctx, cacheKey(accession)+seqSuffix)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, errkind.New(errkind.NotFound, op, accession, err)
	}
	if err != nil {
		return nil, errkind.New(errkind.IO, op, accession, err)
	}
	return b, nil
}

// contents returns the whole blob. Mappable blobs are not copied; the slice
// is then valid until b is closed.
func contents(ctx context.Context, b blobstore.Blob) ([]byte, error) {
	if m, ok := b.(blobstore.Mappable); ok {
		return m.Bytes()
	}
	data := make([]byte, b.Size())
	n, err := b.ReadAt(ctx, data, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(data)) {
		return nil, err
	}
	return data, nil
}
