package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/mladen5000/strain-ahsp/codec"
	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/internal/hash"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/testutil"
)

var testParams = signature.Params{MacroK: 15, MesoK: 9, SketchSize: 64}

func openTest(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sigs.db"), append([]Option{WithNoSync()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func makeSig(t *testing.T, rng *testutil.RNG, acc string, lineage ...string) *signature.Signature {
	t.Helper()
	sig, err := signature.Build(rng.Sequence(2_000), signature.Metadata{
		Accession: acc,
		Organism:  acc + " sp.",
		TaxID:     int64(len(acc)),
		Lineage:   lineage,
		Source:    "test",
	}, testParams)
	require.NoError(t, err)
	return sig
}

func ids(sigs []*signature.Signature) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.ID
	}
	return out
}

func TestAddGet_RoundTrip(t *testing.T) {
	for _, c := range []codec.Compression{codec.None, codec.Zstd, codec.LZ4} {
		t.Run(c.String(), func(t *testing.T) {
			db := openTest(t, WithCompression(c))
			sig := makeSig(t, testutil.NewRNG(1), "GCF_000005845.2", "Bacteria", "Proteobacteria", "Escherichia coli")
			sig.Metadata.AssemblyLevel = "Complete Genome"
			sig.Metadata.ReleaseDate = "2013/09/26"

			id, err := db.Add(sig)
			require.NoError(t, err)
			assert.Equal(t, "GCF_000005845.2", id)

			got, err := db.Get(id)
			require.NoError(t, err)
			if diff := cmp.Diff(sig, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAddGet_EmptyLineage(t *testing.T) {
	db := openTest(t)
	sig, err := signature.Build(testutil.NewRNG(11).Sequence(2_000), signature.Metadata{
		Accession: "GCF_000001405.40",
		Lineage:   []string{},
	}, testParams)
	require.NoError(t, err)
	assert.Nil(t, sig.Metadata.Lineage)

	_, err = db.Add(sig)
	require.NoError(t, err)
	got, err := db.Get(sig.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(sig, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := openTest(t)

	_, err := db.Get("missing")
	require.ErrorIs(t, err, errkind.NotFound)
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := db.Has("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearchByTaxonomy(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(2)

	var bacteria []string
	for i := range 5 {
		acc := fmt.Sprintf("B%d", i)
		_, err := db.Add(makeSig(t, rng, acc, "Bacteria", "Firmicutes"))
		require.NoError(t, err)
		bacteria = append(bacteria, acc)
	}
	_, err := db.Add(makeSig(t, rng, "A0", "Archaea"))
	require.NoError(t, err)

	got, err := db.SearchByTaxonomy("Bacteria")
	require.NoError(t, err)
	assert.Equal(t, bacteria, ids(got))

	got, err = db.SearchByTaxonomy(" Archaea ")
	require.NoError(t, err)
	assert.Equal(t, []string{"A0"}, ids(got))

	// Only the lineage is indexed.
	got, err = db.SearchByTaxonomy("B3 sp.")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Exact terms only.
	got, err = db.SearchByTaxonomy("Bact")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = db.SearchByTaxonomy("  ")
	require.ErrorIs(t, err, errkind.Taxonomy)

	terms, err := db.Terms()
	require.NoError(t, err)
	counts := map[string]uint64{}
	for _, tc := range terms {
		counts[tc.Term] = tc.Count
	}
	assert.Equal(t, uint64(5), counts["Bacteria"])
	assert.Equal(t, uint64(5), counts["Firmicutes"])
	assert.Equal(t, uint64(1), counts["Archaea"])
}

func TestAdd_ReplaceDropsStalePostings(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(3)

	first := makeSig(t, rng, "X", "Bacteria", "Firmicutes")
	out, err := db.Put(first, true)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	second := makeSig(t, rng, "X", "Bacteria", "Actinobacteria")
	out, err = db.Put(second, true)
	require.NoError(t, err)
	assert.Equal(t, Replaced, out)

	n, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.SearchByTaxonomy("Firmicutes")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = db.SearchByTaxonomy("Actinobacteria")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Macro.Equal(second.Macro))

	got, err = db.SearchByTaxonomy("Bacteria")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	terms, err := db.Terms()
	require.NoError(t, err)
	for _, tc := range terms {
		assert.NotEqual(t, "Firmicutes", tc.Term, "empty posting list must be deleted")
	}
}

func TestSearchByTaxonomy_LineageOnly(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(21)

	a, err := signature.Build(rng.Sequence(2_000), signature.Metadata{
		Accession: "A",
		Organism:  "Bacillus",
		Lineage:   []string{"Bacteria", "Firmicutes"},
	}, testParams)
	require.NoError(t, err)
	b, err := signature.Build(rng.Sequence(2_000), signature.Metadata{
		Accession: "B",
		Organism:  "Bacillus subtilis",
		Lineage:   []string{"Bacteria", "Bacillus"},
	}, testParams)
	require.NoError(t, err)
	for _, sig := range []*signature.Signature{a, b} {
		_, err := db.Add(sig)
		require.NoError(t, err)
	}

	tests := []struct {
		term string
		want []string
	}{
		{"Bacillus", []string{"B"}},
		{"Bacillus subtilis", nil},
		{"Firmicutes", []string{"A"}},
		{"Bacteria", []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got, err := db.SearchByTaxonomy(tt.term)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, ids(got))
			for _, sig := range got {
				assert.Contains(t, sig.Metadata.Lineage, tt.term)
			}
		})
	}
}

func TestPut_KeepExisting(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(4)

	first := makeSig(t, rng, "X", "Bacteria")
	_, err := db.Add(first)
	require.NoError(t, err)

	out, err := db.Put(makeSig(t, rng, "X", "Archaea"), false)
	require.NoError(t, err)
	assert.Equal(t, Kept, out)

	got, err := db.Get("X")
	require.NoError(t, err)
	assert.True(t, got.Macro.Equal(first.Macro))

	archaea, err := db.SearchIDs("Archaea")
	require.NoError(t, err)
	assert.Empty(t, archaea)
}

func TestRemove(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(5)

	for _, acc := range []string{"A", "B", "C"} {
		_, err := db.Add(makeSig(t, rng, acc, "Bacteria"))
		require.NoError(t, err)
	}
	require.NoError(t, db.Remove("B"))

	_, err := db.Get("B")
	require.ErrorIs(t, err, errkind.NotFound)

	got, err := db.SearchIDs("Bacteria")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, got)

	err = db.Remove("B")
	require.ErrorIs(t, err, errkind.NotFound)

	// A removed id can be added again.
	_, err = db.Add(makeSig(t, rng, "B", "Bacteria"))
	require.NoError(t, err)
	got, err = db.SearchIDs("Bacteria")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "B"}, got)
}

func TestAll_StableOrder(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(6)

	for _, acc := range []string{"zeta", "alpha", "mu"} {
		_, err := db.Add(makeSig(t, rng, acc))
		require.NoError(t, err)
	}

	first, err := db.All()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, ids(first))

	second, err := db.All()
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(second))

	all, err := db.IDs()
	require.NoError(t, err)
	assert.Equal(t, ids(first), all)
}

func TestCorruptRecord(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(7)

	for _, acc := range []string{"good", "bad"} {
		_, err := db.Add(makeSig(t, rng, acc, "Bacteria"))
		require.NoError(t, err)
	}
	require.NoError(t, db.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSignatures)
		raw := append([]byte(nil), b.Get([]byte("bad"))...)
		raw[len(raw)-1] ^= 0xff
		return b.Put([]byte("bad"), raw)
	}))

	_, err := db.Get("bad")
	require.ErrorIs(t, err, errkind.Serialization)
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = db.All()
	require.ErrorIs(t, err, errkind.Serialization)

	_, err = db.SearchByTaxonomy("Bacteria")
	require.ErrorIs(t, err, errkind.Serialization)

	// ForEach lets the caller skip bad records.
	var good []string
	var skipped int
	require.NoError(t, db.ForEach(func(id string, sig *signature.Signature, err error) error {
		if err != nil {
			skipped++
			return nil
		}
		good = append(good, sig.ID)
		return nil
	}))
	assert.Equal(t, []string{"good"}, good)
	assert.Equal(t, 1, skipped)

	// Remove still works because postings are tracked apart from the record.
	require.NoError(t, db.Remove("bad"))
}

func TestDecodeRecord_NeverPanics(t *testing.T) {
	sig := makeSig(t, testutil.NewRNG(8), "acc", "Bacteria", "Escherichia coli")
	for _, c := range []codec.Compression{codec.None, codec.Zstd} {
		rec, err := encodeRecord(sig, c)
		require.NoError(t, err)

		for n := range len(rec) {
			_, err := decodeRecord(rec[:n])
			require.Error(t, err, "prefix %d", n)
		}

		bad := append([]byte(nil), rec...)
		bad[4] = recordVersion + 1
		_, err = decodeRecord(bad)
		require.ErrorIs(t, err, ErrVersion)

		_, err = decodeRecord(rec)
		require.NoError(t, err)
	}
}

func TestDecodeRecord_HostilePayload(t *testing.T) {
	// A valid header around a payload that claims a huge sketch.
	payload := appendString(nil, "id")
	payload = append(payload, 15, 0xff, 0xff, 0xff, 0x07) // k, size 2^24-1
	payload = appendString(payload, "xxh64-2bit/v1")
	payload = append(payload, 0xff, 0xff, 0xff, 0x07) // hash count
	rec := make([]byte, headerSize, headerSize+len(payload))
	copy(rec, recordMagic)
	rec[4] = recordVersion
	rec = append(rec, payload...)
	fixHeader(rec)

	_, err := decodeRecord(rec)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestParamsGuard(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(9)

	_, ok, err := db.Params()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.Add(makeSig(t, rng, "A"))
	require.NoError(t, err)

	p, ok, err := db.Params()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testParams, p)

	other, err := signature.Build(rng.Sequence(2_000), signature.Metadata{Accession: "B"},
		signature.Params{MacroK: 21, MesoK: 9, SketchSize: 64})
	require.NoError(t, err)
	_, err = db.Add(other)
	require.ErrorIs(t, err, errkind.InvalidParameters)
	require.ErrorIs(t, err, ErrParamsMismatch)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sigs.db")
	rng := testutil.NewRNG(10)

	db, err := Open(path, WithCompression(codec.LZ4))
	require.NoError(t, err)
	sig := makeSig(t, rng, "persisted", "Bacteria")
	_, err = db.Add(sig)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Get("persisted")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, err, errkind.Storage)

	_, err = Open(path, WithParams(signature.DefaultParams()))
	require.ErrorIs(t, err, ErrParamsMismatch)

	ro, err := Open(path, WithReadOnly(), WithParams(testParams))
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.SearchByTaxonomy("Bacteria")
	require.NoError(t, err)
	require.Len(t, got, 1)
	if diff := cmp.Diff(sig, got[0]); diff != "" {
		t.Fatalf("reopened mismatch (-want +got):\n%s", diff)
	}

	_, err = ro.Add(makeSig(t, rng, "other"))
	require.ErrorIs(t, err, errkind.Storage)

	st, err := ro.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Signatures)
	assert.Equal(t, 1, st.Terms)
	assert.Equal(t, testParams, st.Params)
	assert.Equal(t, SchemaVersion, st.Version)
}

func TestConcurrentAdds(t *testing.T) {
	db := openTest(t)

	const writers, perWriter = 8, 10
	sigs := make([][]*signature.Signature, writers)
	for w := range writers {
		rng := testutil.NewRNG(int64(100 + w))
		for i := range perWriter {
			sigs[w] = append(sigs[w], makeSig(t, rng, fmt.Sprintf("w%d-%d", w, i), "Bacteria", fmt.Sprintf("clade-%d", w)))
		}
	}
	racer := makeSig(t, testutil.NewRNG(99), "shared", "Bacteria")

	var wg sync.WaitGroup
	errs := make(chan error, writers*(perWriter+1))
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range sigs[w] {
				if _, err := db.Add(s); err != nil {
					errs <- err
				}
				if _, err := db.SearchIDs("Bacteria"); err != nil {
					errs <- err
				}
			}
			if _, err := db.Add(racer); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter+1, n)

	got, err := db.SearchIDs("Bacteria")
	require.NoError(t, err)
	assert.Len(t, got, writers*perWriter+1)

	for w := range writers {
		clade, err := db.SearchIDs(fmt.Sprintf("clade-%d", w))
		require.NoError(t, err)
		assert.Len(t, clade, perWriter)
	}
}

func TestNearest(t *testing.T) {
	db := openTest(t)
	rng := testutil.NewRNG(11)

	base := rng.Sequence(5_000)
	build := func(acc string, seq []byte) *signature.Signature {
		sig, err := signature.Build(seq, signature.Metadata{Accession: acc}, testParams)
		require.NoError(t, err)
		return sig
	}
	for acc, seq := range map[string][]byte{
		"same":    base,
		"close":   rng.Mutate(base, 0.01),
		"distant": rng.Sequence(5_000),
	} {
		_, err := db.Add(build(acc, seq))
		require.NoError(t, err)
	}

	got, err := db.Nearest(build("query", base), 2, signature.EqualWeights)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "same", got[0].ID)
	assert.Equal(t, 1.0, got[0].Similarity)
	assert.Equal(t, 0.0, got[0].Distance)
	assert.Equal(t, "close", got[1].ID)

	none, err := db.Nearest(build("query", base), 0, signature.EqualWeights)
	require.NoError(t, err)
	assert.Empty(t, none)

	incompatible, err := signature.Build(base, signature.Metadata{Accession: "q"}, signature.DefaultParams())
	require.NoError(t, err)
	_, err = db.Nearest(incompatible, 1, signature.EqualWeights)
	require.ErrorIs(t, err, errkind.InvalidParameters)
}

func TestPut_Invalid(t *testing.T) {
	db := openTest(t)

	_, err := db.Put(nil, true)
	require.ErrorIs(t, err, errkind.InvalidParameters)

	sig := makeSig(t, testutil.NewRNG(12), "A")
	sig.Macro.Family = "md5"
	sig.Meso.Family = "md5"
	_, err = db.Add(sig)
	require.ErrorIs(t, err, ErrParamsMismatch)

	n, err := db.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

// fixHeader rewrites checksum and length of an uncompressed record.
func fixHeader(rec []byte) {
	rec[5] = byte(codec.None)
	binary.LittleEndian.PutUint32(rec[6:], hash.CRC32C(rec[headerSize:]))
	binary.LittleEndian.PutUint32(rec[10:], uint32(len(rec)-headerSize))
}
