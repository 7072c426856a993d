package signature

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/sketch"
	"github.com/mladen5000/strain-ahsp/testutil"
)

func meta(acc string, lineage ...string) Metadata {
	return Metadata{Accession: acc, Organism: acc + " organism", TaxID: 562, Lineage: lineage, Source: "test"}
}

func TestBuild_Deterministic(t *testing.T) {
	seq := testutil.NewRNG(1).Sequence(30_000)
	p := DefaultParams()

	a, err := Build(seq, meta("A"), p)
	require.NoError(t, err)
	b, err := Build(seq, meta("A"), p)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "A", a.ID)
	assert.Equal(t, 21, a.Macro.K)
	assert.Equal(t, 11, a.Meso.K)
	assert.Equal(t, int64(30_000), a.Metadata.Length)
	assert.InDelta(t, 50.0, a.Metadata.GCContent, 2.0)
	require.NoError(t, a.Validate())
}

func TestBuild_StrandInvariant(t *testing.T) {
	seq := testutil.NewRNG(2).Sequence(40_000)

	fwd, err := Build(seq, meta("A"), DefaultParams())
	require.NoError(t, err)
	rev, err := Build(testutil.ReverseComplement(seq), meta("A"), DefaultParams())
	require.NoError(t, err)

	assert.True(t, fwd.Macro.Equal(rev.Macro))
	assert.True(t, fwd.Meso.Equal(rev.Meso))
}

func TestBuild_GenomeScale(t *testing.T) {
	if testing.Short() {
		t.Skip("genome-scale build")
	}
	seq := testutil.NewRNG(5).Sequence(5_000_000)

	sig, err := Build(seq, meta("big"), Params{MacroK: 21, MesoK: 11, SketchSize: 1000})
	require.NoError(t, err)

	assert.Len(t, sig.Macro.Hashes, 1000)
	assert.Len(t, sig.Meso.Hashes, 1000)
	require.NoError(t, sig.Validate())
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(nil, meta("A"), DefaultParams())
	require.ErrorIs(t, err, sketch.ErrEmptySequence)
	assert.Equal(t, errkind.Signature, errkind.Of(err))
	assert.Contains(t, err.Error(), "A")

	_, err = Build([]byte("ACGT"), meta("A"), Params{MacroK: 21, MesoK: 0, SketchSize: 10})
	require.ErrorIs(t, err, errkind.InvalidParameters)

	_, err = Build([]byte("ACGT"), meta("A"), Params{MacroK: 21, MesoK: 11, SketchSize: 0})
	require.ErrorIs(t, err, sketch.ErrInvalidParameters)

	_, err = Build([]byte("ACGT"), meta("  "), DefaultParams())
	require.ErrorIs(t, err, errkind.InvalidParameters)
}

func TestBuild_ShortSequence(t *testing.T) {
	// Long enough for meso (k=11) but not for macro (k=21).
	sig, err := Build([]byte("ACGTTGCAAGGCTTA"), meta("short"), DefaultParams())
	require.NoError(t, err)

	assert.True(t, sig.Macro.Empty())
	assert.False(t, sig.Meso.Empty())
}

func TestNewBuilder(t *testing.T) {
	_, err := NewBuilder(Params{}, 4)
	require.ErrorIs(t, err, errkind.InvalidParameters)

	b, err := NewBuilder(DefaultParams(), 0)
	require.NoError(t, err)
	assert.Positive(t, b.Workers())
	assert.Equal(t, DefaultParams(), b.Params())
}

func TestBuildBatch_IsolationAndOrder(t *testing.T) {
	rng := testutil.NewRNG(9)
	b, err := NewBuilder(DefaultParams(), 3)
	require.NoError(t, err)

	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{Sequence: rng.Sequence(5_000), Metadata: meta(fmt.Sprintf("acc-%02d", i))}
	}
	items[3].Sequence = nil
	items[7].Sequence = []byte("NNNNNNNNNNNN")

	results := b.BuildBatch(context.Background(), items)
	require.Len(t, results, len(items))

	for i, r := range results {
		if i == 3 || i == 7 {
			require.Error(t, r.Err, "item %d", i)
			assert.ErrorIs(t, r.Err, sketch.ErrEmptySequence)
			assert.Nil(t, r.Signature)
			continue
		}
		require.NoError(t, r.Err, "item %d", i)
		assert.Equal(t, fmt.Sprintf("acc-%02d", i), r.Signature.ID)

		want, err := b.Build(items[i].Sequence, items[i].Metadata)
		require.NoError(t, err)
		assert.Equal(t, want, r.Signature)
	}
}

func TestBuildBatch_Canceled(t *testing.T) {
	b, err := NewBuilder(DefaultParams(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := b.BuildBatch(ctx, []Item{{Sequence: []byte("ACGT"), Metadata: meta("A")}})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestMetadata_Terms(t *testing.T) {
	m := meta("A", "Bacteria", " Proteobacteria ", "", "Bacteria", "Escherichia coli")

	assert.Equal(t, []string{"Bacteria", "Proteobacteria", "Escherichia coli"}, m.Terms())
	assert.Equal(t, "Escherichia coli", m.Leaf())
	assert.Equal(t, "B organism", meta("B").Leaf())

	c := m.Clone()
	c.Lineage[0] = "changed"
	assert.Equal(t, "Bacteria", m.Lineage[0])
	assert.Nil(t, Metadata{Lineage: []string{}}.Clone().Lineage)
}

func TestSimilarity(t *testing.T) {
	rng := testutil.NewRNG(21)
	seq := rng.Sequence(200_000)

	a, err := Build(seq, meta("a"), DefaultParams())
	require.NoError(t, err)
	near, err := Build(rng.Mutate(seq, 0.005), meta("b"), DefaultParams())
	require.NoError(t, err)
	far, err := Build(rng.Sequence(200_000), meta("c"), DefaultParams())
	require.NoError(t, err)

	s, err := Similarity(a, a, EqualWeights)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)

	sNear, err := Similarity(a, near, Weights{})
	require.NoError(t, err)
	sFar, err := Similarity(a, far, EqualWeights)
	require.NoError(t, err)
	assert.Greater(t, sNear, sFar)

	d, err := Distance(a, near)
	require.NoError(t, err)
	assert.InDelta(t, 0.005, d, 0.003)

	other, err := Build(seq, meta("x"), Params{MacroK: 15, MesoK: 11, SketchSize: 1000})
	require.NoError(t, err)
	_, err = Similarity(a, other, EqualWeights)
	require.ErrorIs(t, err, sketch.ErrIncompatible)
}

func TestMashDistance(t *testing.T) {
	assert.Equal(t, 0.0, MashDistance(1, 21))
	assert.Equal(t, 1.0, MashDistance(0, 21))
	assert.InDelta(t, 0.0193, MashDistance(0.5, 21), 0.001)
}
