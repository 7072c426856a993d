// Package ahsp builds and maintains a database of multi-resolution genomic
// signatures for strain-level taxonomic profiling.
//
// A Manager searches a genome provider, caches the fetched sequences by
// accession, sketches them into signatures on a bounded worker pool and
// commits them to an embedded signature store indexed by lineage.
//
// # Quick Start
//
//	cfg := ahsp.DefaultConfig()
//	cfg.DBPath = "./refs.db"
//	cfg.CacheDir = "./genome_cache"
//
//	m, err := ahsp.New(cfg, nil) // nil selects the NCBI source
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	report, err := m.SearchAndAddReferences(ctx, "escherichia coli", 5)
//	fmt.Println(report.Added())
//
//	sigs, err := m.Database().SearchByTaxonomy("Bacteria")
//
// # Failure Model
//
// Batch operations isolate failures per item: one genome that cannot be
// fetched or sketched never keeps the others from being added. Each item of
// a Report carries its own status and typed error. When every attempted item
// fails, the batch itself fails with ErrNoneSucceeded.
//
// Every error is classified with an errkind.Kind, re-exported here as
// ErrIO, ErrNetwork, ErrNotFound and so on:
//
//	if errors.Is(err, ahsp.ErrNotFound) { ... }
//	if ahsp.IsRetryable(err) { ... }
//
// # Idempotence
//
// Accessions already in the database are skipped without being fetched,
// and accessions already in the cache are not downloaded again. Running the
// same query twice therefore adds nothing the second time. WithReplace
// rebuilds and overwrites existing signatures instead.
package ahsp
