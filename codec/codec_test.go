package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Accession string   `json:"accession"`
	TaxID     int64    `json:"tax_id"`
	Lineage   []string `json:"lineage"`
}

func mustMarshal(t *testing.T, c Codec, v any) []byte {
	t.Helper()
	b, err := c.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCodecs(t *testing.T) {
	in := payload{Accession: "GCF_000005845.2", TaxID: 511145, Lineage: []string{"Bacteria", "Escherichia coli"}}

	for _, name := range []string{"json", "go-json"} {
		t.Run(name, func(t *testing.T) {
			c, ok := ByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			var out payload
			require.NoError(t, c.Unmarshal(mustMarshal(t, c, in), &out))
			assert.Equal(t, in, out)
		})
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)

	assert.Equal(t, mustMarshal(t, JSON{}, in), mustMarshal(t, GoJSON{}, in))

	c, ok := ByName(" JSON ")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())
	c, ok = ByName("")
	require.True(t, ok)
	assert.Equal(t, Default.Name(), c.Name())
}

func TestCompression(t *testing.T) {
	src := bytes.Repeat([]byte("ACGTTGCAAGGCTTAC"), 4096)

	for _, c := range []Compression{None, Zstd, LZ4} {
		t.Run(c.String(), func(t *testing.T) {
			z, err := Compress(c, src)
			require.NoError(t, err)
			if c != None {
				assert.Less(t, len(z), len(src))
			}
			out, err := Decompress(c, z, 0)
			require.NoError(t, err)
			assert.Equal(t, src, out)

			if c != None {
				_, err = Decompress(c, z, len(src)-1)
				require.Error(t, err)
			}
		})
	}
}

func TestCompression_Corrupt(t *testing.T) {
	for _, c := range []Compression{Zstd, LZ4} {
		_, err := Decompress(c, []byte("definitely not compressed"), 0)
		assert.Error(t, err, c.String())
	}
	_, err := Compress(Compression(9), nil)
	assert.Error(t, err)
	assert.False(t, Compression(9).Valid())
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": None, "none": None, "ZSTD": Zstd, " lz4 ": LZ4} {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}
