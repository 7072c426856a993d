package store

import (
	"errors"
	"fmt"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/sketch"
)

// ErrNoReferences is returned by Classify when the database holds no
// signature other than the query.
var ErrNoReferences = errors.New("no reference signatures")

// Rank is a taxonomic rank. Ranks map to lineage positions, Domain first.
type Rank uint8

const (
	RankUnknown Rank = iota
	RankDomain
	RankPhylum
	RankClass
	RankOrder
	RankFamily
	RankGenus
	RankSpecies
	RankStrainGroup
	RankStrain
)

var rankNames = [...]string{"unknown", "domain", "phylum", "class", "order", "family", "genus", "species", "strain group", "strain"}

func (r Rank) String() string {
	if int(r) < len(rankNames) {
		return rankNames[r]
	}
	return "unknown"
}

// Parent returns the next coarser rank. Domain has RankUnknown as parent.
func (r Rank) Parent() Rank {
	if r == RankUnknown || r > RankStrain {
		return RankUnknown
	}
	return r - 1
}

// Thresholds holds the minimum confidence per rank. Ranks that are absent
// use DefaultThresholds.
type Thresholds map[Rank]float64

// DefaultThresholds returns the stock thresholds, strictest at the domain.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RankDomain:      0.95,
		RankPhylum:      0.92,
		RankClass:       0.90,
		RankOrder:       0.87,
		RankFamily:      0.85,
		RankGenus:       0.80,
		RankSpecies:     0.75,
		RankStrainGroup: 0.70,
		RankStrain:      0.65,
	}
}

func (t Thresholds) at(r Rank) float64 {
	if v, ok := t[r]; ok {
		return v
	}
	return DefaultThresholds()[r]
}

func (t Thresholds) validate() error {
	for r, v := range t {
		if r == RankUnknown || r > RankStrain || v < 0 || v > 1 {
			return errkind.New(errkind.InvalidParameters, "store.classify",
				fmt.Sprintf("threshold %s=%g", r, v), nil)
		}
	}
	return nil
}

// rankStep is the confidence credited for each rank a classification moves up
// from species.
const rankStep = 0.05

// Classification is the result of Classify.
type Classification struct {
	Rank       Rank
	Confidence float64
	Taxon      string   // last lineage term at Rank, or the reference id
	Lineage    []string // reference lineage cut at Rank
	Match      Match    // best reference by weighted similarity
	Macro      float64  // Jaccard estimate at the macro resolution
	Meso       float64  // Jaccard estimate at the meso resolution
}

// Classify assigns query the finest rank its best reference supports.
//
// The strain rank is tested with the weighted similarity, the strain group
// with the meso Jaccard and species with the macro Jaccard. Below species the
// macro confidence is credited rankStep per coarser rank until a threshold is
// met; a query that fails even the domain threshold is RankUnknown with an
// empty lineage. A stored signature with the query's id is never its own
// reference.
func (db *DB) Classify(query *signature.Signature, th Thresholds, w signature.Weights) (Classification, error) {
	const op = "store.classify"
	if query == nil {
		return Classification{}, errkind.New(errkind.InvalidParameters, op, "nil query", nil)
	}
	if err := th.validate(); err != nil {
		return Classification{}, err
	}
	matches, err := db.Nearest(query, 2, w)
	if err != nil {
		return Classification{}, err
	}
	var best *Match
	for i := range matches {
		if matches[i].ID != query.ID {
			best = &matches[i]
			break
		}
	}
	if best == nil {
		return Classification{}, errkind.New(errkind.NotFound, op, query.ID, ErrNoReferences)
	}

	ref, err := db.Get(best.ID)
	if err != nil {
		return Classification{}, err
	}
	macro, err := sketch.Jaccard(query.Macro, ref.Macro)
	if err != nil {
		return Classification{}, errkind.Wrap(errkind.InvalidParameters, op, err)
	}
	meso, err := sketch.Jaccard(query.Meso, ref.Meso)
	if err != nil {
		return Classification{}, errkind.Wrap(errkind.InvalidParameters, op, err)
	}

	rank, conf := assignRank(best.Similarity, macro, meso, th)
	c := Classification{
		Rank:       rank,
		Confidence: conf,
		Lineage:    cutLineage(ref.Metadata.Terms(), rank),
		Match:      *best,
		Macro:      macro,
		Meso:       meso,
	}
	c.Taxon = ref.ID
	if n := len(c.Lineage); n > 0 {
		c.Taxon = c.Lineage[n-1]
	}
	return c, nil
}

func assignRank(weighted, macro, meso float64, th Thresholds) (Rank, float64) {
	if weighted >= th.at(RankStrain) {
		return RankStrain, weighted
	}
	if meso >= th.at(RankStrainGroup) {
		return RankStrainGroup, meso
	}
	for r, steps := RankSpecies, 0; r != RankUnknown; r, steps = r.Parent(), steps+1 {
		conf := macro + rankStep*float64(steps)
		if conf >= th.at(r) {
			return r, conf
		}
	}
	return RankUnknown, 0
}

// cutLineage returns the lineage down to rank. A lineage shorter than the
// rank's depth is returned whole.
func cutLineage(lineage []string, r Rank) []string {
	if r == RankUnknown {
		return nil
	}
	if n := int(r); n < len(lineage) {
		return lineage[:n]
	}
	return lineage
}
