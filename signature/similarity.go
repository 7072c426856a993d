package signature

import (
	"math"

	"github.com/mladen5000/strain-ahsp/sketch"
)

// Weights balances the two resolutions in Similarity.
type Weights struct {
	Macro float64
	Meso  float64
}

// EqualWeights gives both resolutions the same influence.
var EqualWeights = Weights{Macro: 0.5, Meso: 0.5}

// Similarity is the weighted Jaccard estimate of a and b over both
// resolutions. Weights are normalised; zero weights fall back to EqualWeights.
func Similarity(a, b *Signature, w Weights) (float64, error) {
	if w.Macro < 0 || w.Meso < 0 || w.Macro+w.Meso == 0 {
		w = EqualWeights
	}
	jm, err := sketch.Jaccard(a.Macro, b.Macro)
	if err != nil {
		return 0, err
	}
	js, err := sketch.Jaccard(a.Meso, b.Meso)
	if err != nil {
		return 0, err
	}
	return (w.Macro*jm + w.Meso*js) / (w.Macro + w.Meso), nil
}

// MashDistance converts a Jaccard estimate at k-mer length k into the Mash
// distance, an estimate of the per-base substitution rate.
func MashDistance(jaccard float64, k int) float64 {
	if jaccard <= 0 {
		return 1
	}
	if jaccard >= 1 {
		return 0
	}
	return -math.Log(2*jaccard/(1+jaccard)) / float64(k)
}

// Distance returns the Mash distance of a and b at the macro resolution.
func Distance(a, b *Signature) (float64, error) {
	j, err := sketch.Jaccard(a.Macro, b.Macro)
	if err != nil {
		return 0, err
	}
	return MashDistance(j, a.Macro.K), nil
}
