package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	ahsp "github.com/mladen5000/strain-ahsp"
	"github.com/mladen5000/strain-ahsp/fasta"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/store"
)

func paramFlags(cmd *cobra.Command) {
	def := signature.DefaultParams()
	cmd.Flags().Int("macro-k", def.MacroK, "k-mer size of the macro sketch")
	cmd.Flags().Int("meso-k", def.MesoK, "k-mer size of the meso sketch")
	cmd.Flags().Int("sketch-size", def.SketchSize, "hashes kept per sketch")
}

func (c *cli) initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database from the genomes matching a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.config()
			if err := c.resolveParams(&cfg); err != nil {
				return err
			}
			m, done, err := c.openManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer done()

			empty, err := m.IsEmpty()
			if err != nil {
				return err
			}
			if !empty {
				fmt.Fprintln(c.out, "Database already contains signatures. Use 'add-references' to add more.")
				return nil
			}
			query := c.v.GetString("query")
			fmt.Fprintf(c.out, "Initializing database with references for query: %s\n", query)
			report, err := m.SearchAndAddReferences(cmd.Context(), query, c.v.GetInt("max-refs"))
			c.printReport(report)
			return err
		},
	}
	cmd.Flags().StringP("query", "q", "", "provider search query, e.g. \"Escherichia coli\"")
	cmd.Flags().IntP("max-refs", "m", 20, "maximum number of genomes to add")
	_ = cmd.MarkFlagRequired("query")
	paramFlags(cmd)
	return cmd
}

func (c *cli) addReferencesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-references",
		Short: "Add the genomes matching a query to the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.config()
			if err := c.resolveParams(&cfg); err != nil {
				return err
			}
			var extra []ahsp.Option
			if c.v.GetBool("replace") {
				extra = append(extra, ahsp.WithReplace())
			}
			m, done, err := c.openManager(cmd.Context(), cfg, extra...)
			if err != nil {
				return err
			}
			defer done()

			query := c.v.GetString("query")
			fmt.Fprintf(c.out, "Adding references for query: %s\n", query)
			report, err := m.SearchAndAddReferences(cmd.Context(), query, c.v.GetInt("max-refs"))
			c.printReport(report)
			return err
		},
	}
	cmd.Flags().StringP("query", "q", "", "provider search query")
	cmd.Flags().IntP("max-refs", "m", 10, "maximum number of genomes to add")
	cmd.Flags().Bool("replace", false, "rebuild signatures that are already present")
	_ = cmd.MarkFlagRequired("query")
	paramFlags(cmd)
	return cmd
}

func (c *cli) printReport(report *ahsp.Report) {
	if report == nil {
		return
	}
	fmt.Fprintf(c.out, "Added %d reference signatures:\n", len(report.Added()))
	for _, it := range report.Items {
		switch it.Status {
		case ahsp.StatusAdded, ahsp.StatusReplaced:
			fmt.Fprintf(c.out, "  - %s\n", it.ID)
		}
	}
	var skipped int
	for _, it := range report.Items {
		if it.Status == ahsp.StatusSkipped {
			skipped++
		}
	}
	if skipped > 0 {
		fmt.Fprintf(c.out, "Skipped %d already present.\n", skipped)
	}
	if failed := report.Failed(); len(failed) > 0 {
		fmt.Fprintf(c.out, "Failed %d:\n", len(failed))
		for _, it := range failed {
			fmt.Fprintf(c.out, "  ! %s: %v\n", it.Accession, it.Err)
		}
	}
}

func (c *cli) listReferencesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-references",
		Short: "List the signatures in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.Count()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Database contains %d reference signatures:\n", n)
			return db.ForEach(func(id string, sig *signature.Signature, err error) error {
				if err != nil {
					c.logger.Warn("skipping unreadable record", "id", id, "error", err)
					fmt.Fprintf(c.out, "  ! %s: unreadable\n", id)
					return nil
				}
				fmt.Fprintf(c.out, "  - %s\t%s\n", id, describe(sig.Metadata))
				return nil
			})
		},
	}
}

func describe(m signature.Metadata) string {
	name := m.Organism
	if name == "" {
		name = m.Leaf()
	}
	if name == "" {
		return "-"
	}
	return name
}

func (c *cli) searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find signatures by taxonomy term",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			term := c.v.GetString("term")
			sigs, err := db.SearchByTaxonomy(term)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Found %d matches for term '%s':\n", len(sigs), term)
			for _, s := range sigs {
				fmt.Fprintf(c.out, "  - %s\t%s\n", s.ID, describe(s.Metadata))
			}
			return nil
		},
	}
	cmd.Flags().String("term", "", "lineage term, matched exactly")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID...",
		Short: "Remove signatures from the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(c.v.GetString("db-path"))
			if err != nil {
				return err
			}
			defer db.Close()

			var errs []error
			for _, id := range args {
				switch err := db.Remove(id); {
				case err == nil:
					fmt.Fprintf(c.out, "Removed %s\n", signature.IDFromAccession(id))
				case errors.Is(err, ahsp.ErrNotFound):
					fmt.Fprintf(c.out, "Not found: %s\n", id)
				default:
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

func (c *cli) compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare ID [ID]",
		Short: "Compare two signatures, or rank the database against one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := signature.Weights{Macro: c.v.GetFloat64("macro-weight"), Meso: c.v.GetFloat64("meso-weight")}
			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			query, err := db.Get(args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 {
				other, err := db.Get(args[1])
				if err != nil {
					return err
				}
				sim, err := signature.Similarity(query, other, w)
				if err != nil {
					return err
				}
				dist, err := signature.Distance(query, other)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%s vs %s\n  similarity: %.4f\n  distance:   %.4f\n", query.ID, other.ID, sim, dist)
				return nil
			}

			top := c.v.GetInt("top")
			matches, err := db.Nearest(query, top+1, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Nearest to %s:\n", query.ID)
			shown := 0
			for _, m := range matches {
				if m.ID == query.ID || shown == top {
					continue
				}
				shown++
				fmt.Fprintf(c.out, "  %2d. %s\t%.4f\t%.4f\t%s\n", shown, m.ID, m.Similarity, m.Distance, describe(m.Metadata))
			}
			return nil
		},
	}
	cmd.Flags().Int("top", 10, "number of neighbours to list with a single id")
	cmd.Flags().Float64("macro-weight", signature.EqualWeights.Macro, "weight of the macro sketch")
	cmd.Flags().Float64("meso-weight", signature.EqualWeights.Meso, "weight of the meso sketch")
	return cmd
}

func (c *cli) classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [ID]",
		Short: "Assign a stored signature or a FASTA file to the finest supported rank",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.v.GetString("fasta")
			if (path == "") == (len(args) == 0) {
				return errors.New("classify takes either an ID or --fasta")
			}
			th := store.DefaultThresholds()
			for r := store.RankDomain; r <= store.RankStrain; r++ {
				th[r] = c.v.GetFloat64(thresholdFlag(r))
			}
			w := signature.Weights{Macro: c.v.GetFloat64("macro-weight"), Meso: c.v.GetFloat64("meso-weight")}

			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			var query *signature.Signature
			if path != "" {
				query, err = c.sketchFile(db, path)
			} else {
				query, err = db.Get(args[0])
			}
			if err != nil {
				return err
			}

			res, err := db.Classify(query, th, w)
			if err != nil {
				return err
			}
			lineage := "-"
			if len(res.Lineage) > 0 {
				lineage = strings.Join(res.Lineage, "; ")
			}
			fmt.Fprintf(c.out, "%s\n", query.ID)
			fmt.Fprintf(c.out, "  rank:       %s\n", res.Rank)
			fmt.Fprintf(c.out, "  confidence: %.4f\n", res.Confidence)
			fmt.Fprintf(c.out, "  taxon:      %s\n", res.Taxon)
			fmt.Fprintf(c.out, "  lineage:    %s\n", lineage)
			fmt.Fprintf(c.out, "  best match: %s\t%.4f (macro %.4f, meso %.4f)\n",
				res.Match.ID, res.Match.Similarity, res.Macro, res.Meso)
			return nil
		},
	}
	cmd.Flags().String("fasta", "", "classify the genome in this FASTA file, optionally gzipped")
	cmd.Flags().Float64("macro-weight", signature.EqualWeights.Macro, "weight of the macro sketch")
	cmd.Flags().Float64("meso-weight", signature.EqualWeights.Meso, "weight of the meso sketch")
	def := store.DefaultThresholds()
	for r := store.RankDomain; r <= store.RankStrain; r++ {
		cmd.Flags().Float64(thresholdFlag(r), def[r], "minimum confidence for the "+r.String()+" rank")
	}
	return cmd
}

func thresholdFlag(r store.Rank) string {
	return strings.ReplaceAll(r.String(), " ", "-") + "-threshold"
}

// sketchFile builds a signature for the genome in path with the database's
// parameters.
func (c *cli) sketchFile(db *store.DB, path string) (*signature.Signature, error) {
	p, ok, err := db.Params()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("database has no signatures: %w", ahsp.ErrNotFound)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	seq, err := fasta.ReadSequence(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	name := filepath.Base(path)
	return signature.Build(seq, signature.Metadata{Accession: name, Source: "file"}, p)
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			st, err := db.Stats()
			if err != nil {
				return err
			}
			params := "unset"
			if st.Params.SketchSize > 0 {
				params = st.Params.String()
			}
			fmt.Fprintf(c.out, "path:       %s\n", st.Path)
			fmt.Fprintf(c.out, "schema:     v%d %s\n", st.Version, strings.TrimSpace(st.Family))
			fmt.Fprintf(c.out, "params:     %s\n", params)
			fmt.Fprintf(c.out, "signatures: %d\n", st.Signatures)
			fmt.Fprintf(c.out, "terms:      %d\n", st.Terms)
			fmt.Fprintf(c.out, "size:       %d bytes\n", st.SizeBytes)
			return nil
		},
	}
}
