package source

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/signature"
)

// Static is an in-memory Source over a fixed catalogue. It serves offline
// catalogues and tests. It is safe for concurrent use.
type Static struct {
	name string

	mu       sync.RWMutex
	genomes  map[string]Genome
	order    []string
	lineages map[int64][]string
	failures map[string]error
	fetches  map[string]int
}

var _ Source = (*Static)(nil)

// NewStatic returns an empty catalogue named name.
func NewStatic(name string) *Static {
	if name == "" {
		name = "static"
	}
	return &Static{
		name:     name,
		genomes:  make(map[string]Genome),
		lineages: make(map[int64][]string),
		failures: make(map[string]error),
		fetches:  make(map[string]int),
	}
}

// Name implements Source.
func (s *Static) Name() string { return s.name }

// AddGenome adds g under its accession. The lineage is also registered
// under the taxonomy id when one is set.
func (s *Static) AddGenome(g Genome) {
	acc := strings.TrimSpace(g.Metadata.Accession)
	g.Metadata = g.Metadata.Clone()
	g.Metadata.Accession = acc
	if g.Metadata.Source == "" {
		g.Metadata.Source = s.name
	}
	g.Sequence = slices.Clone(g.Sequence)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.genomes[acc]; !ok {
		s.order = append(s.order, acc)
	}
	s.genomes[acc] = g
	if g.Metadata.TaxID != 0 && len(g.Metadata.Lineage) > 0 {
		s.lineages[g.Metadata.TaxID] = slices.Clone(g.Metadata.Lineage)
	}
}

// AddLineage registers a lineage for FetchLineage.
func (s *Static) AddLineage(taxID int64, lineage []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineages[taxID] = slices.Clone(lineage)
}

// FailFetch makes every Fetch of accession return err. A nil err clears it.
func (s *Static) FailFetch(accession string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, accession)
		return
	}
	s.failures[accession] = err
}

// Fetches returns how often accession was fetched successfully.
func (s *Static) Fetches(accession string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches[accession]
}

// Search matches query case-insensitively against accession, organism and
// lineage terms. An empty query matches everything. Results keep insertion
// order.
func (s *Static) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errkind.New(errkind.Network, "source.search", s.name, err)
	}
	if limit <= 0 {
		return nil, nil
	}
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, acc := range s.order {
		if len(out) == limit {
			break
		}
		if q == "" || matches(s.genomes[acc].Metadata, q) {
			out = append(out, acc)
		}
	}
	return out, nil
}

func matches(m signature.Metadata, q string) bool {
	if strings.Contains(strings.ToLower(m.Accession), q) || strings.Contains(strings.ToLower(m.Organism), q) {
		return true
	}
	for _, t := range m.Lineage {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// Fetch implements Source. The returned genome is a copy.
func (s *Static) Fetch(ctx context.Context, accession string) (*Genome, error) {
	const op = "source.fetch"
	if err := ctx.Err(); err != nil {
		return nil, errkind.New(errkind.Network, op, accession, err)
	}
	acc := strings.TrimSpace(accession)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[acc]; err != nil {
		return nil, errkind.Wrap(errkind.ProviderProtocol, op, err)
	}
	g, ok := s.genomes[acc]
	if !ok {
		return nil, errkind.New(errkind.NotFound, op, fmt.Sprintf("%s: accession %q", s.name, acc), nil)
	}
	s.fetches[acc]++
	return &Genome{Sequence: slices.Clone(g.Sequence), Metadata: g.Metadata.Clone()}, nil
}

// FetchLineage implements Source.
func (s *Static) FetchLineage(ctx context.Context, taxID int64) ([]string, error) {
	const op = "source.lineage"
	if err := ctx.Err(); err != nil {
		return nil, errkind.New(errkind.Network, op, s.name, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lineages[taxID]
	if !ok {
		return nil, errkind.New(errkind.NotFound, op, fmt.Sprintf("%s: taxid %d", s.name, taxID), nil)
	}
	return slices.Clone(l), nil
}
