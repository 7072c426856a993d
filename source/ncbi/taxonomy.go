package ncbi

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mladen5000/strain-ahsp/errkind"
)

type taxaSet struct {
	XMLName xml.Name `xml:"TaxaSet"`
	Taxa    []taxon  `xml:"Taxon"`
}

type taxon struct {
	TaxID     int64  `xml:"TaxId"`
	Name      string `xml:"ScientificName"`
	Rank      string `xml:"Rank"`
	Lineage   string `xml:"Lineage"`
	LineageEx []struct {
		TaxID int64  `xml:"TaxId"`
		Name  string `xml:"ScientificName"`
	} `xml:"LineageEx>Taxon"`
}

// FetchLineage implements source.Source. The lineage runs from the root to
// the taxon itself.
func (c *Client) FetchLineage(ctx context.Context, taxID int64) ([]string, error) {
	const op = "ncbi.lineage"
	if taxID <= 0 {
		return nil, errkind.New(errkind.InvalidParameters, op, fmt.Sprintf("taxid %d", taxID), nil)
	}
	id := strconv.FormatInt(taxID, 10)
	raw, err := c.eutil(ctx, op, "efetch.fcgi", url.Values{
		"db":      {"taxonomy"},
		"id":      {id},
		"retmode": {"xml"},
	})
	if err != nil {
		return nil, err
	}
	return parseLineage(op, taxID, raw)
}

func parseLineage(op string, taxID int64, raw []byte) ([]string, error) {
	var set taxaSet
	if err := xml.Unmarshal(raw, &set); err != nil {
		return nil, errkind.New(errkind.ProviderProtocol, op, fmt.Sprintf("taxid %d", taxID), err)
	}
	for _, t := range set.Taxa {
		if t.TaxID != taxID {
			continue
		}
		var lineage []string
		if len(t.LineageEx) > 0 {
			for _, l := range t.LineageEx {
				if name := strings.TrimSpace(l.Name); name != "" {
					lineage = append(lineage, name)
				}
			}
		} else {
			for _, name := range strings.Split(t.Lineage, ";") {
				if name = strings.TrimSpace(name); name != "" {
					lineage = append(lineage, name)
				}
			}
		}
		if name := strings.TrimSpace(t.Name); name != "" {
			lineage = append(lineage, name)
		}
		if len(lineage) == 0 {
			return nil, errkind.New(errkind.Taxonomy, op, fmt.Sprintf("taxid %d has no lineage", taxID), nil)
		}
		return lineage, nil
	}
	return nil, errkind.New(errkind.NotFound, op, fmt.Sprintf("taxid %d", taxID), nil)
}
