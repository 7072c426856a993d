package ncbi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/resource"
)

const ecoliXML = `<?xml version="1.0" ?>
<!DOCTYPE TaxaSet PUBLIC "-//NLM//DTD Taxon, 14th January 2002//EN" "https://www.ncbi.nlm.nih.gov/entrez/query/DTD/taxon.dtd">
<TaxaSet><Taxon>
	<TaxId>562</TaxId>
	<ScientificName>Escherichia coli</ScientificName>
	<Rank>species</Rank>
	<Lineage>cellular organisms; Bacteria; Pseudomonadota; Gammaproteobacteria; Enterobacterales; Enterobacteriaceae; Escherichia</Lineage>
	<LineageEx>
		<Taxon><TaxId>131567</TaxId><ScientificName>cellular organisms</ScientificName><Rank>no rank</Rank></Taxon>
		<Taxon><TaxId>2</TaxId><ScientificName>Bacteria</ScientificName><Rank>superkingdom</Rank></Taxon>
		<Taxon><TaxId>561</TaxId><ScientificName>Escherichia</ScientificName><Rank>genus</Rank></Taxon>
	</LineageEx>
</Taxon></TaxaSet>`

type fakeNCBI struct {
	t        *testing.T
	srv      *httptest.Server
	requests atomic.Int64
	apiKeys  atomic.Int64
	genome   atomic.Pointer[[]byte]
}

func gzipFASTA(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newFakeNCBI(t *testing.T) *fakeNCBI {
	f := &fakeNCBI{t: t}
	f.setGenome(gzipFASTA(t, ">chr\nACGTACGTAC\n>plasmid p1\nggccttaa\n"))
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		f.count(r)
		term := r.URL.Query().Get("term")
		switch {
		case strings.Contains(term, "GCF_000005845.2[Assembly Accession]"):
			fmt.Fprint(w, `{"esearchresult":{"count":"1","idlist":["79781"]}}`)
		case strings.Contains(term, "[Assembly Accession]"):
			fmt.Fprint(w, `{"esearchresult":{"count":"0","idlist":[]}}`)
		case strings.HasPrefix(term, "escherichia coli"):
			assert.Contains(t, term, `"latest"[filter]`)
			assert.Equal(t, "2", r.URL.Query().Get("retmax"))
			fmt.Fprint(w, `{"esearchresult":{"count":"2","idlist":["79781","1000"]}}`)
		case strings.HasPrefix(term, "broken "):
			fmt.Fprint(w, `{"esearchresult":{"ERROR":"Invalid query"}}`)
		default:
			fmt.Fprint(w, `{"esearchresult":{"count":"0","idlist":[]}}`)
		}
	})
	mux.HandleFunc("/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
		f.count(r)
		fmt.Fprintf(w, `{"result":{"uids":["79781","1000"],
			"79781":{"uid":"79781","assemblyaccession":"GCF_000005845.2","assemblyname":"ASM584v2",
				"speciesname":"Escherichia coli","taxid":"562","assemblylevel":"Complete Genome",
				"submissiondate":"2013/09/26 00:00","ftppath_genbank":"",
				"ftppath_refseq":"%[1]s/genomes/GCF_000005845.2_ASM584v2"},
			"1000":{"uid":"1000","assemblyaccession":"GCA_000001000.1","speciesname":"Escherichia coli","taxid":562,
				"ftppath_genbank":"%[1]s/genomes/GCA_000001000.1_X"}}}`, f.srv.URL)
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		f.count(r)
		assert.Equal(t, "taxonomy", r.URL.Query().Get("db"))
		switch r.URL.Query().Get("id") {
		case "562":
			fmt.Fprint(w, ecoliXML)
		case "7":
			fmt.Fprint(w, "<TaxaSet><Taxon>")
		default:
			fmt.Fprint(w, `<TaxaSet></TaxaSet>`)
		}
	})
	mux.HandleFunc("/genomes/GCF_000005845.2_ASM584v2/GCF_000005845.2_ASM584v2_genomic.fna.gz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(*f.genome.Load())
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeNCBI) setGenome(b []byte) { f.genome.Store(&b) }

func (f *fakeNCBI) count(r *http.Request) {
	f.requests.Add(1)
	if r.URL.Query().Get("api_key") != "" {
		f.apiKeys.Add(1)
	}
}

func (f *fakeNCBI) client(t *testing.T, optFns ...func(*Options)) *Client {
	t.Helper()
	fns := append([]func(*Options){func(o *Options) {
		o.BaseURL = f.srv.URL
		o.RequestsPerSecond = 1000
		o.Timeout = 5 * time.Second
	}}, optFns...)
	c, err := New(fns...)
	require.NoError(t, err)
	return c
}

func TestSearch(t *testing.T) {
	f := newFakeNCBI(t)
	c := f.client(t)
	ctx := context.Background()

	accs, err := c.Search(ctx, "escherichia coli", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"GCF_000005845.2", "GCA_000001000.1"}, accs)

	accs, err = c.Search(ctx, "nothing matches", 2)
	require.NoError(t, err)
	assert.Empty(t, accs)

	_, err = c.Search(ctx, "broken", 2)
	require.ErrorIs(t, err, errkind.ProviderProtocol)

	_, err = c.Search(ctx, "  ", 2)
	require.ErrorIs(t, err, errkind.InvalidParameters)
	assert.Zero(t, f.apiKeys.Load())
}

func TestFetch(t *testing.T) {
	f := newFakeNCBI(t)
	ctrl := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	c := f.client(t, func(o *Options) { o.Resources = ctrl })

	g, err := c.Fetch(context.Background(), " GCF_000005845.2 ")
	require.NoError(t, err)
	assert.Equal(t, "ACGTACGTACNGGCCTTAA", string(g.Sequence))

	m := g.Metadata
	assert.Equal(t, "GCF_000005845.2", m.Accession)
	assert.Equal(t, "Escherichia coli", m.Organism)
	assert.Equal(t, int64(562), m.TaxID)
	assert.Equal(t, "ncbi", m.Source)
	assert.Equal(t, "Complete Genome", m.AssemblyLevel)
	assert.Equal(t, []string{"cellular organisms", "Bacteria", "Escherichia", "Escherichia coli"}, m.Lineage)
}

func TestFetch_Errors(t *testing.T) {
	f := newFakeNCBI(t)
	c := f.client(t)
	ctx := context.Background()

	_, err := c.Fetch(ctx, "GCF_999")
	require.ErrorIs(t, err, errkind.NotFound)

	gz := gzipFASTA(t, ">chr\n"+strings.Repeat("ACGTTGCA", 512))
	f.setGenome(gz[:len(gz)/2])
	_, err = c.Fetch(ctx, "GCF_000005845.2")
	require.ErrorIs(t, err, errkind.ProviderProtocol)

	f.setGenome(gzipFASTA(t, strings.Repeat("ACGT", 1024)))
	small := f.client(t, func(o *Options) { o.MaxGenomeBytes = 8 })
	_, err = small.Fetch(ctx, "GCF_000005845.2")
	require.ErrorIs(t, err, errkind.ProviderProtocol)
}

func TestFetchLineage(t *testing.T) {
	f := newFakeNCBI(t)
	c := f.client(t)
	ctx := context.Background()

	_, err := c.FetchLineage(ctx, 1)
	require.ErrorIs(t, err, errkind.NotFound)

	_, err = c.FetchLineage(ctx, 7)
	require.ErrorIs(t, err, errkind.ProviderProtocol)

	_, err = c.FetchLineage(ctx, 0)
	require.ErrorIs(t, err, errkind.InvalidParameters)
}

func TestParseLineage_FlatLineage(t *testing.T) {
	raw := []byte(`<TaxaSet><Taxon><TaxId>9</TaxId><ScientificName>Buchnera aphidicola</ScientificName>
		<Lineage>cellular organisms; Bacteria;; Erwiniaceae; Buchnera</Lineage></Taxon></TaxaSet>`)
	got, err := parseLineage("test", 9, raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"cellular organisms", "Bacteria", "Erwiniaceae", "Buchnera", "Buchnera aphidicola"}, got)
}

func TestAPIKey(t *testing.T) {
	f := newFakeNCBI(t)
	key := "secret"
	c := f.client(t, func(o *Options) { o.APIKey = &key })

	_, err := c.Search(context.Background(), "escherichia coli", 2)
	require.NoError(t, err)
	assert.Equal(t, f.requests.Load(), f.apiKeys.Load())

	blank := " "
	c2, err := New(func(o *Options) { o.APIKey = &blank })
	require.NoError(t, err)
	assert.Nil(t, c2.opts.APIKey)
	assert.Equal(t, 3.0, c2.opts.RequestsPerSecond)

	c3, err := New(func(o *Options) { o.APIKey = &key })
	require.NoError(t, err)
	assert.Equal(t, 10.0, c3.opts.RequestsPerSecond)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		kind      errkind.Kind
		retryable bool
	}{
		{http.StatusNotFound, errkind.NotFound, false},
		{http.StatusTooManyRequests, errkind.Network, true},
		{http.StatusBadGateway, errkind.Network, true},
		{http.StatusBadRequest, errkind.ProviderProtocol, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			key := "k"
			c, err := New(func(o *Options) {
				o.BaseURL = srv.URL
				o.APIKey = &key
				o.RequestsPerSecond = 1000
			})
			require.NoError(t, err)

			_, err = c.Search(context.Background(), "x", 1)
			require.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.retryable, errkind.IsRetryable(err))
			assert.NotContains(t, err.Error(), "api_key=k")
		})
	}
}

func TestTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Timeout = 50 * time.Millisecond
		o.RequestsPerSecond = 1000
	})
	require.NoError(t, err)

	_, err = c.FetchLineage(context.Background(), 562)
	require.ErrorIs(t, err, errkind.Network)
	assert.True(t, errkind.IsRetryable(err))
}

func TestGenomeURL(t *testing.T) {
	u, err := genomeURL(assemblySummary{
		Accession:  "GCF_000005845.2",
		FTPGenBank: "ftp://ftp.ncbi.nlm.nih.gov/genomes/all/GCA/000/005/845/GCA_000005845.2_ASM584v2",
		FTPRefSeq:  "ftp://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/000/005/845/GCF_000005845.2_ASM584v2/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/000/005/845/GCF_000005845.2_ASM584v2/GCF_000005845.2_ASM584v2_genomic.fna.gz", u)

	u, err = genomeURL(assemblySummary{Accession: "GCA_1", FTPGenBank: "https://host/dir/GCA_1_x"})
	require.NoError(t, err)
	assert.Equal(t, "https://host/dir/GCA_1_x/GCA_1_x_genomic.fna.gz", u)

	_, err = genomeURL(assemblySummary{Accession: "GCA_1"})
	require.ErrorIs(t, err, ErrNoFTPPath)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(func(o *Options) { o.BaseURL = "" })
	require.ErrorIs(t, err, errkind.InvalidParameters)
	_, err = New(func(o *Options) { o.Timeout = -1 })
	require.ErrorIs(t, err, errkind.InvalidParameters)
}
