// Package signature builds multi-resolution genomic signatures.
//
// A Signature pairs a coarse "macro" sketch (large k, specific) with a finer
// "meso" sketch (small k, sensitive) and the metadata of the genome it was
// built from. Signatures are immutable once built.
package signature

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/sketch"
)

// Metadata describes the genome a signature was built from.
type Metadata struct {
	Accession     string   `json:"accession"`
	Organism      string   `json:"organism"`
	TaxID         int64    `json:"taxid"`
	Lineage       []string `json:"lineage"` // root to leaf
	Length        int64    `json:"length"`  // valid bases in the sequence
	Source        string   `json:"source"`
	AssemblyLevel string   `json:"assembly_level,omitempty"`
	ReleaseDate   string   `json:"release_date,omitempty"`
	GCContent     float64  `json:"gc_content,omitempty"` // percent
}

// Clone returns a deep copy of m. An empty lineage becomes nil, which is
// also how a stored record decodes it.
func (m Metadata) Clone() Metadata {
	if len(m.Lineage) == 0 {
		m.Lineage = nil
	} else {
		m.Lineage = slices.Clone(m.Lineage)
	}
	return m
}

// Terms returns the distinct, trimmed lineage terms in lineage order.
func (m Metadata) Terms() []string {
	seen := make(map[string]struct{}, len(m.Lineage))
	out := make([]string, 0, len(m.Lineage))
	for _, t := range m.Lineage {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Leaf returns the most specific lineage term, or the organism name.
func (m Metadata) Leaf() string {
	terms := m.Terms()
	if len(terms) > 0 {
		return terms[len(terms)-1]
	}
	return m.Organism
}

// Signature is the multi-resolution fingerprint of one genome.
type Signature struct {
	ID       string
	Macro    sketch.Sketch
	Meso     sketch.Sketch
	Metadata Metadata
}

// Params reports the parameters the signature was built with.
func (s *Signature) Params() Params {
	return Params{MacroK: s.Macro.K, MesoK: s.Meso.K, SketchSize: s.Macro.Size}
}

// Validate checks identity and sketch invariants.
func (s *Signature) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errkind.New(errkind.InvalidParameters, "signature.validate", "empty id", nil)
	}
	if err := s.Macro.Validate(); err != nil {
		return errkind.Wrap(errkind.Signature, "signature.validate", fmt.Errorf("macro: %w", err))
	}
	if err := s.Meso.Validate(); err != nil {
		return errkind.Wrap(errkind.Signature, "signature.validate", fmt.Errorf("meso: %w", err))
	}
	return nil
}

// IDFromAccession derives a signature id from an accession.
func IDFromAccession(accession string) string {
	return strings.TrimSpace(accession)
}

// Params are the construction parameters shared by every signature of a database.
type Params struct {
	MacroK     int
	MesoK      int
	SketchSize int
}

// DefaultParams returns the default construction parameters.
func DefaultParams() Params {
	return Params{MacroK: 21, MesoK: 11, SketchSize: 1000}
}

// Validate checks that every parameter is in range.
func (p Params) Validate() error {
	if err := sketch.ValidateParams(p.MacroK, p.SketchSize); err != nil {
		return fmt.Errorf("macro: %w", err)
	}
	if err := sketch.ValidateParams(p.MesoK, p.SketchSize); err != nil {
		return fmt.Errorf("meso: %w", err)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("macro_k=%d meso_k=%d sketch_size=%d", p.MacroK, p.MesoK, p.SketchSize)
}
