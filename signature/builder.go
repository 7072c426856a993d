package signature

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/sketch"
)

// Builder turns sequences into signatures. It holds only immutable
// parameters and is safe for concurrent use.
type Builder struct {
	params  Params
	workers int
}

// NewBuilder returns a Builder. workers bounds BuildBatch parallelism;
// values <= 0 default to GOMAXPROCS.
func NewBuilder(params Params, workers int) (*Builder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Builder{params: params, workers: workers}, nil
}

// Params returns the construction parameters.
func (b *Builder) Params() Params { return b.params }

// Workers returns the BuildBatch parallelism bound.
func (b *Builder) Workers() int { return b.workers }

// Build sketches seq at both resolutions.
func (b *Builder) Build(seq []byte, meta Metadata) (*Signature, error) {
	return Build(seq, meta, b.params)
}

// Build sketches seq at both resolutions with explicit parameters.
//
// Length and, when unset, GC content of the metadata are filled from the
// sequence.
func Build(seq []byte, meta Metadata, p Params) (*Signature, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	id := IDFromAccession(meta.Accession)
	if id == "" {
		return nil, errkind.New(errkind.InvalidParameters, "signature.build", "metadata has no accession", nil)
	}

	macro, stats, err := sketch.BuildWithStats(seq, p.MacroK, p.SketchSize)
	if err != nil {
		return nil, withID(err, id)
	}
	meso, err := sketch.Build(seq, p.MesoK, p.SketchSize)
	if err != nil {
		return nil, withID(err, id)
	}

	meta = meta.Clone()
	meta.Length = int64(stats.Bases)
	if meta.GCContent == 0 {
		meta.GCContent = gcPercent(seq, stats.Bases)
	}

	return &Signature{ID: id, Macro: macro, Meso: meso, Metadata: meta}, nil
}

func withID(err error, id string) error {
	if e, ok := err.(*errkind.Error); ok && e.Detail == "" {
		cp := *e
		cp.Detail = id
		return &cp
	}
	return err
}

func gcPercent(seq []byte, bases int) float64 {
	if bases == 0 {
		return 0
	}
	gc := 0
	for _, c := range seq {
		switch c {
		case 'G', 'C', 'g', 'c':
			gc++
		}
	}
	return 100 * float64(gc) / float64(bases)
}

// Item is one BuildBatch input.
type Item struct {
	Sequence []byte
	Metadata Metadata
}

// Result is one BuildBatch output; exactly one of Signature and Err is set.
type Result struct {
	Signature *Signature
	Err       error
}

// BuildBatch builds every item on at most Workers goroutines.
//
// The result slice has one entry per item, in input order. A failing item
// never affects the others. If ctx is canceled, items not yet started fail
// with the context error.
func (b *Builder) BuildBatch(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Err: err}
				return nil
			}
			sig, err := b.Build(items[i].Sequence, items[i].Metadata)
			results[i] = Result{Signature: sig, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
