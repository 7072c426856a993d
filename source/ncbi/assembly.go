package ncbi

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/fasta"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/source"
)

type esearchResponse struct {
	Result struct {
		Count string   `json:"count"`
		IDs   []string `json:"idlist"`
		Error string   `json:"ERROR"`
	} `json:"esearchresult"`
	Error string `json:"error"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
	Error  string                     `json:"error"`
}

// assemblySummary is the subset of an assembly esummary document we use.
type assemblySummary struct {
	UID            string  `json:"uid"`
	Accession      string  `json:"assemblyaccession"`
	Name           string  `json:"assemblyname"`
	Species        string  `json:"speciesname"`
	Organism       string  `json:"organism"`
	TaxID          flexInt `json:"taxid"`
	Level          string  `json:"assemblylevel"`
	SubmissionDate string  `json:"submissiondate"`
	FTPRefSeq      string  `json:"ftppath_refseq"`
	FTPGenBank     string  `json:"ftppath_genbank"`
	Error          string  `json:"error"`
}

// flexInt accepts both quoted and bare JSON integers; esummary uses both.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("taxid %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

func (c *Client) esearch(ctx context.Context, op, term string, limit int) ([]string, error) {
	raw, err := c.eutil(ctx, op, "esearch.fcgi", url.Values{
		"db":      {"assembly"},
		"term":    {term},
		"retmax":  {strconv.Itoa(limit)},
		"retmode": {"json"},
	})
	if err != nil {
		return nil, err
	}
	var resp esearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errkind.New(errkind.ProviderProtocol, op, "esearch", err)
	}
	if msg := firstNonEmpty(resp.Error, resp.Result.Error); msg != "" {
		return nil, errkind.New(errkind.ProviderProtocol, op, "esearch: "+msg, nil)
	}
	return resp.Result.IDs, nil
}

// esummary returns the summaries of uids in the order NCBI lists them.
func (c *Client) esummary(ctx context.Context, op string, uids []string) ([]assemblySummary, error) {
	raw, err := c.eutil(ctx, op, "esummary.fcgi", url.Values{
		"db":      {"assembly"},
		"id":      {strings.Join(uids, ",")},
		"retmode": {"json"},
	})
	if err != nil {
		return nil, err
	}
	var resp esummaryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errkind.New(errkind.ProviderProtocol, op, "esummary", err)
	}
	if resp.Error != "" {
		return nil, errkind.New(errkind.ProviderProtocol, op, "esummary: "+resp.Error, nil)
	}
	if resp.Result == nil {
		return nil, errkind.New(errkind.ProviderProtocol, op, "esummary: missing result", nil)
	}

	order := uids
	if listed, ok := resp.Result["uids"]; ok {
		if err := json.Unmarshal(listed, &order); err != nil {
			return nil, errkind.New(errkind.ProviderProtocol, op, "esummary uids", err)
		}
	}
	out := make([]assemblySummary, 0, len(order))
	for _, uid := range order {
		doc, ok := resp.Result[uid]
		if !ok {
			continue
		}
		var s assemblySummary
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, errkind.New(errkind.ProviderProtocol, op, "esummary uid "+uid, err)
		}
		if s.Error != "" || s.Accession == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Search implements source.Source. Only the latest version of each
// assembly is considered.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	const op = "ncbi.search"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errkind.New(errkind.InvalidParameters, op, "empty query", nil)
	}
	if limit <= 0 {
		return nil, nil
	}
	uids, err := c.esearch(ctx, op, query+` AND "latest"[filter]`, limit)
	if err != nil || len(uids) == 0 {
		return nil, err
	}
	docs, err := c.esummary(ctx, op, uids)
	if err != nil {
		return nil, err
	}
	accs := make([]string, 0, len(docs))
	for _, d := range docs {
		if len(accs) == limit {
			break
		}
		accs = append(accs, d.Accession)
	}
	return accs, nil
}

// summary resolves one accession to its esummary document.
func (c *Client) summary(ctx context.Context, op, accession string) (assemblySummary, error) {
	uids, err := c.esearch(ctx, op, accession+"[Assembly Accession]", 1)
	if err != nil {
		return assemblySummary{}, err
	}
	if len(uids) == 0 {
		return assemblySummary{}, errkind.New(errkind.NotFound, op, "accession "+accession, nil)
	}
	docs, err := c.esummary(ctx, op, uids[:1])
	if err != nil {
		return assemblySummary{}, err
	}
	if len(docs) == 0 {
		return assemblySummary{}, errkind.New(errkind.NotFound, op, "accession "+accession, nil)
	}
	return docs[0], nil
}

// Fetch implements source.Source.
func (c *Client) Fetch(ctx context.Context, accession string) (*source.Genome, error) {
	const op = "ncbi.fetch"
	accession = strings.TrimSpace(accession)
	if accession == "" {
		return nil, errkind.New(errkind.InvalidParameters, op, "empty accession", nil)
	}

	doc, err := c.summary(ctx, op, accession)
	if err != nil {
		return nil, err
	}
	fileURL, err := genomeURL(doc)
	if err != nil {
		return nil, errkind.New(errkind.ProviderProtocol, op, doc.Accession, err)
	}
	gz, err := c.get(ctx, op, fileURL, c.opts.MaxGenomeBytes, true)
	if err != nil {
		return nil, err
	}
	seq, err := decodeFASTA(gz)
	if err != nil {
		return nil, errkind.New(errkind.ProviderProtocol, op, doc.Accession, err)
	}

	meta := signature.Metadata{
		Accession:     doc.Accession,
		Organism:      firstNonEmpty(doc.Species, doc.Organism),
		TaxID:         int64(doc.TaxID),
		Source:        sourceName,
		AssemblyLevel: doc.Level,
		ReleaseDate:   doc.SubmissionDate,
	}
	if meta.TaxID > 0 {
		meta.Lineage, err = c.FetchLineage(ctx, meta.TaxID)
		if err != nil {
			return nil, err
		}
	}
	return &source.Genome{Sequence: seq, Metadata: meta}, nil
}

// genomeURL returns the genomic FASTA of an assembly. RefSeq accessions
// prefer the RefSeq directory; the FTP scheme is served over HTTPS.
func genomeURL(doc assemblySummary) (string, error) {
	dir := doc.FTPGenBank
	if strings.HasPrefix(doc.Accession, "GCF_") || dir == "" {
		dir = firstNonEmpty(doc.FTPRefSeq, doc.FTPGenBank)
	}
	dir = strings.TrimRight(dir, "/")
	if dir == "" {
		return "", ErrNoFTPPath
	}
	if rest, ok := strings.CutPrefix(dir, "ftp://"); ok {
		dir = "https://" + rest
	}
	return dir + "/" + path.Base(dir) + "_genomic.fna.gz", nil
}

func decodeFASTA(data []byte) ([]byte, error) {
	recs, err := fasta.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return fasta.Concat(recs), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
