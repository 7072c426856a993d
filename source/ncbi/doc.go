// Package ncbi implements source.Source on the NCBI E-utilities.
//
// Assemblies are found with esearch/esummary on the assembly database,
// lineages come from efetch on the taxonomy database, and sequences are
// downloaded as gzipped FASTA from the assembly's FTP directory (served over
// HTTPS). E-utility requests are rate limited to 3 per second, or 10 per
// second when an API key is configured.
//
// Usage:
//
//	key := os.Getenv("NCBI_API_KEY")
//	c, err := ncbi.New(func(o *ncbi.Options) {
//		o.APIKey = &key
//		o.Timeout = 30 * time.Second
//	})
//	accs, err := c.Search(ctx, "escherichia coli", 5)
package ncbi
