package fasta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `>NC_000913.3 Escherichia coli str. K-12 substr. MG1655, complete genome
AGCTTTTCAT TCTGACTGCA
acggcaatat
; comment line

>plasmid1
GGGG
`

func TestParse(t *testing.T) {
	recs, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "NC_000913.3", recs[0].ID)
	assert.Equal(t, "Escherichia coli str. K-12 substr. MG1655, complete genome", recs[0].Description)
	assert.Equal(t, "AGCTTTTCATTCTGACTGCAACGGCAATAT", string(recs[0].Seq))
	assert.Equal(t, "plasmid1", recs[1].ID)
	assert.Equal(t, "GGGG", string(recs[1].Seq))
}

func TestParse_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	seq, err := ReadSequence(&buf)
	require.NoError(t, err)
	assert.Equal(t, "AGCTTTTCATTCTGACTGCAACGGCAATATNGGGG", string(seq))
}

func TestParse_Headerless(t *testing.T) {
	recs, err := Parse(strings.NewReader("acgt\r\nACGT\r\n"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "", recs[0].ID)
	assert.Equal(t, "ACGTACGT", string(recs[0].Seq))
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.ErrorIs(t, err, ErrNoRecords)

	_, err = Parse(strings.NewReader("\n\n; only comments\n"))
	require.ErrorIs(t, err, ErrNoRecords)
}

func TestConcat(t *testing.T) {
	assert.Equal(t, "", string(Concat(nil)))
	assert.Equal(t, "AC", string(Concat([]Record{{Seq: []byte("AC")}})))
	assert.Equal(t, "ANCNG", string(Concat([]Record{{Seq: []byte("A")}, {Seq: []byte("C")}, {Seq: []byte("G")}})))
}
