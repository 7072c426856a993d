// Package source defines the boundary to external genome providers.
//
// A Source searches a provider catalogue, fetches genome sequences together
// with their metadata, and resolves taxonomy ids to lineages. Implementations
// map every failure into the errkind taxonomy:
//
//   - errkind.Network for unreachable providers and expired timeouts (retryable)
//   - errkind.ProviderProtocol for malformed or unexpected responses
//   - errkind.NotFound for unknown accessions and taxonomy ids
//
// Sources do not retry; the caller owns the retry policy.
package source

import (
	"context"

	"github.com/mladen5000/strain-ahsp/signature"
)

// Genome is a fetched genome: the concatenated sequence of all its records
// and its metadata, lineage included.
type Genome struct {
	Sequence []byte
	Metadata signature.Metadata
}

// Source is a genome provider.
type Source interface {
	// Name identifies the provider in metadata and logs.
	Name() string

	// Search returns up to limit accessions matching query.
	Search(ctx context.Context, query string, limit int) ([]string, error)

	// Fetch downloads the genome with the given accession.
	Fetch(ctx context.Context, accession string) (*Genome, error)

	// FetchLineage returns the lineage of a taxonomy id, root to leaf.
	FetchLineage(ctx context.Context, taxID int64) ([]string, error)
}
