package ahsp

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mladen5000/strain-ahsp/blobstore"
	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/resource"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/source"
	"github.com/mladen5000/strain-ahsp/source/ncbi"
	"github.com/mladen5000/strain-ahsp/store"
)

// Manager coordinates a genome source, the genome cache and the signature
// database. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	src     source.Source
	db      *store.DB
	cache   *genomeCache
	builder *signature.Builder
	rc      *resource.Controller
	opts    options
	closed  atomic.Bool
}

// New opens the signature database and the genome cache. A nil src selects
// the NCBI source configured with the APIKey and FetchTimeout of cfg.
//
// Failing to open the database or to create the cache directory is fatal.
func New(cfg Config, src source.Source, optFns ...Option) (*Manager, error) {
	const op = "ahsp.new"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(optFns)

	builder, err := signature.NewBuilder(cfg.Params(), cfg.Threads)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameters, op, err)
	}

	rc := o.resources
	if rc == nil {
		rc = resource.NewController(resource.Config{
			MemoryLimitBytes:     cfg.MemoryLimitBytes,
			MaxConcurrentFetches: int64(cfg.Threads),
		})
	}

	if src == nil {
		src, err = ncbi.New(func(no *ncbi.Options) {
			no.APIKey = cfg.APIKey
			if cfg.FetchTimeout > 0 {
				no.Timeout = cfg.FetchTimeout
			}
			no.Resources = rc
		})
		if err != nil {
			return nil, err
		}
	}

	cache := o.cache
	if cache == nil {
		if strings.TrimSpace(cfg.CacheDir) == "" {
			return nil, errkind.New(errkind.InvalidParameters, op, "cache directory is required", nil)
		}
		ls, err := blobstore.NewLocalStore(cfg.CacheDir)
		if err != nil {
			return nil, errkind.New(errkind.IO, op, "cache directory "+cfg.CacheDir, err)
		}
		cache = ls
	}

	storeOpts := []store.Option{
		store.WithCompression(o.compression),
		store.WithParams(cfg.Params()),
		store.WithCodec(o.codec),
	}
	if o.noSync {
		storeOpts = append(storeOpts, store.WithNoSync())
	}
	db, err := store.Open(cfg.DBPath, storeOpts...)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:     cfg,
		src:     src,
		db:      db,
		cache:   newGenomeCache(cache, o.codec, cfg.CacheTTL),
		builder: builder,
		rc:      rc,
		opts:    o,
	}, nil
}

// Config returns the configuration the Manager was built with.
func (m *Manager) Config() Config { return m.cfg }

// Database returns the signature database.
func (m *Manager) Database() *store.DB { return m.db }

// IsEmpty reports whether the database holds no signature.
func (m *Manager) IsEmpty() (bool, error) {
	n, err := m.db.Count()
	return n == 0, err
}

// Close closes the database. It is safe to call more than once.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.db.Close()
}

// SearchAndAddReferences downloads the references matching query and adds
// their signatures.
func (m *Manager) SearchAndAddReferences(ctx context.Context, query string, limit int) (*Report, error) {
	refs, err := m.DownloadReferences(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return m.ProcessReferences(ctx, refs)
}

// DownloadReferences searches the source and makes every match available in
// the cache, fetching at most Threads genomes at a time.
//
// Accessions already in the database are marked Present and not fetched,
// unless WithReplace is set. Accessions already cached are not fetched again.
// A failing accession is reported in its Reference.Err; only a failed search
// fails the call.
func (m *Manager) DownloadReferences(ctx context.Context, query string, limit int) ([]Reference, error) {
	const op = "ahsp.download"
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if limit < 1 {
		return nil, errkind.New(errkind.InvalidParameters, op, "limit must be positive", nil)
	}

	start := time.Now()
	sctx, cancel := m.callContext(ctx)
	accs, err := m.src.Search(sctx, query, limit)
	cancel()
	if err != nil {
		err = classify(op, query, err)
	}
	m.opts.logger.LogSearch(ctx, query, len(accs), err)
	m.opts.metricsCollector.RecordSearch(len(accs), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	accs = uniqueAccessions(accs, limit)

	refs := make([]Reference, len(accs))
	var g errgroup.Group
	g.SetLimit(m.cfg.Threads)
	for i, acc := range accs {
		g.Go(func() error {
			refs[i] = m.download(ctx, acc)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range refs {
		if r.Err != nil {
			failed++
		}
	}
	m.opts.logger.LogBatch(ctx, "download", len(refs), failed)
	return refs, nil
}

func (m *Manager) download(ctx context.Context, accession string) Reference {
	ref := Reference{Accession: accession, ID: signature.IDFromAccession(accession)}
	if !m.opts.replace {
		ok, err := m.db.Has(ref.ID)
		if err != nil {
			ref.Err = err
			return ref
		}
		if ok {
			ref.Present = true
			return ref
		}
	}

	start := time.Now()
	e, hit, err := m.cache.lookup(ctx, accession)
	if err == nil && !hit {
		e, err = m.fetch(ctx, accession)
	}
	m.opts.logger.LogFetch(ctx, accession, hit, e.Bytes, err)
	m.opts.metricsCollector.RecordFetch(hit, e.Bytes, time.Since(start), err)
	if err != nil {
		ref.Err = err
		return ref
	}
	ref.Metadata, ref.Cached, ref.Bytes = e.Metadata, hit, e.Bytes
	return ref
}

// fetch downloads one genome into the cache under a fetch slot.
func (m *Manager) fetch(ctx context.Context, accession string) (cacheEntry, error) {
	const op = "ahsp.fetch"
	if err := m.rc.AcquireFetch(ctx); err != nil {
		return cacheEntry{}, errkind.New(errkind.Network, op, accession, err)
	}
	defer m.rc.ReleaseFetch()

	fctx, cancel := m.callContext(ctx)
	defer cancel()
	g, err := m.src.Fetch(fctx, accession)
	if err != nil {
		return cacheEntry{}, classify(op, accession, err)
	}
	if len(g.Sequence) == 0 {
		return cacheEntry{}, errkind.New(errkind.ProviderProtocol, op, accession+": empty sequence", nil)
	}

	meta := g.Metadata.Clone()
	meta.Accession = accession
	if meta.Source == "" {
		meta.Source = m.src.Name()
	}
	if len(meta.Terms()) == 0 && meta.TaxID > 0 {
		lineage, err := m.src.FetchLineage(fctx, meta.TaxID)
		if err != nil {
			return cacheEntry{}, classify(op, accession, err)
		}
		meta.Lineage = lineage
	}
	return m.cache.put(ctx, accession, g.Sequence, meta)
}

// ProcessReferences builds the signatures of refs from the cache and commits
// them. Items are handled in order; the report lists one result per ref.
//
// Refs that failed to download are reported as failed, refs already present
// as skipped. Sequences are loaded in chunks bounded by the memory limit and
// built on Threads workers. If every attempted item fails, the report is
// returned together with a *BatchError matching ErrNoneSucceeded.
func (m *Manager) ProcessReferences(ctx context.Context, refs []Reference) (*Report, error) {
	const op = "ahsp.process"
	if m.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	report := &Report{Items: make([]ItemResult, len(refs))}
	var pending []int
	for i, ref := range refs {
		it := ItemResult{Accession: ref.Accession, ID: ref.ID}
		if it.ID == "" {
			it.ID = signature.IDFromAccession(ref.Accession)
		}
		report.Items[i] = it
		switch {
		case ref.Err != nil:
			m.fail(ctx, report, i, ref.Err)
		case ref.Present && !m.opts.replace:
			report.Items[i].Status = StatusSkipped
		default:
			pending = append(pending, i)
		}
	}

	for len(pending) > 0 {
		n := m.processChunk(ctx, refs, pending, report)
		pending = pending[n:]
	}

	failed := report.Count(StatusFailed)
	m.opts.logger.LogBatch(ctx, "process", len(report.Items), failed)
	m.opts.metricsCollector.RecordBatch(len(report.Items), failed, time.Since(start))
	if attempted := report.attempted(); attempted > 0 && failed == attempted {
		return report, &BatchError{Op: op, Attempted: attempted, cause: report.firstErr()}
	}
	return report, nil
}

type loadedRef struct {
	idx      int
	blob     blobstore.Blob
	reserved int64
}

// processChunk loads, builds and commits a prefix of pending and returns its
// length, which is at least one.
func (m *Manager) processChunk(ctx context.Context, refs []Reference, pending []int, report *Report) int {
	const op = "ahsp.process"
	var (
		batch []loadedRef
		items []signature.Item
	)
	defer func() {
		for _, l := range batch {
			_ = l.blob.Close()
			m.rc.ReleaseMemory(l.reserved)
		}
	}()

	maxItems := 2 * m.cfg.Threads
	i := 0
	for ; i < len(pending) && len(batch) < maxItems; i++ {
		idx := pending[i]
		ref := refs[idx]

		meta := ref.Metadata
		if meta.Accession == "" {
			e, ok, err := m.cache.lookup(ctx, ref.Accession)
			if err == nil && !ok {
				err = errkind.New(errkind.NotFound, op, ref.Accession+": not cached", nil)
			}
			if err != nil {
				m.fail(ctx, report, idx, err)
				continue
			}
			meta = e.Metadata
		}

		b, err := m.cache.open(ctx, ref.Accession)
		if err != nil {
			m.fail(ctx, report, idx, err)
			continue
		}
		var reserved int64
		if len(batch) == 0 {
			reserved, err = m.rc.AcquireMemory(ctx, b.Size())
			if err != nil {
				_ = b.Close()
				m.fail(ctx, report, idx, errkind.New(errkind.IO, op, ref.Accession, err))
				continue
			}
		} else {
			var ok bool
			if reserved, ok = m.rc.TryAcquireMemory(b.Size()); !ok {
				_ = b.Close()
				break
			}
		}
		seq, err := contents(ctx, b)
		if err != nil {
			_ = b.Close()
			m.rc.ReleaseMemory(reserved)
			m.fail(ctx, report, idx, errkind.New(errkind.IO, op, ref.Accession, err))
			continue
		}
		meta.Accession = ref.Accession
		batch = append(batch, loadedRef{idx: idx, blob: b, reserved: reserved})
		items = append(items, signature.Item{Sequence: seq, Metadata: meta})
	}
	if len(items) == 0 {
		return i
	}

	buildStart := time.Now()
	results := m.builder.BuildBatch(ctx, items)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	m.opts.metricsCollector.RecordBuild(len(results), failed, time.Since(buildStart))

	for j, r := range results {
		idx := batch[j].idx
		m.opts.logger.LogBuild(ctx, refs[idx].Accession, r.Err)
		if r.Err != nil {
			m.fail(ctx, report, idx, r.Err)
			continue
		}
		m.commit(ctx, report, idx, r.Signature)
	}
	return i
}

func (m *Manager) commit(ctx context.Context, report *Report, idx int, sig *signature.Signature) {
	start := time.Now()
	outcome, err := m.db.Put(sig, m.opts.replace)
	it := &report.Items[idx]
	it.ID = sig.ID
	switch {
	case err != nil:
		it.Status, it.Err = StatusFailed, err
	case outcome == store.Inserted:
		it.Status = StatusAdded
	case outcome == store.Replaced:
		it.Status = StatusReplaced
	default:
		it.Status = StatusSkipped
	}
	m.opts.logger.LogAdd(ctx, sig.ID, it.Status, err)
	m.opts.metricsCollector.RecordAdd(it.Status, time.Since(start), err)
}

func (m *Manager) fail(ctx context.Context, report *Report, idx int, err error) {
	it := &report.Items[idx]
	it.Status, it.Err = StatusFailed, err
	m.opts.logger.WarnContext(ctx, "reference failed",
		"accession", it.Accession,
		"kind", errkind.Of(err).String(),
		"error", err,
	)
}

// callContext applies the fetch timeout to one provider call.
func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.FetchTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

// classify maps source errors that carry no kind. Expired or canceled
// calls are network failures; anything else is a protocol violation.
func classify(op, detail string, err error) error {
	if errkind.Of(err) != errkind.Unknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errkind.New(errkind.Network, op, detail, err)
	}
	return errkind.New(errkind.ProviderProtocol, op, detail, err)
}

// uniqueAccessions trims accessions and drops blanks and repeats.
func uniqueAccessions(accs []string, limit int) []string {
	seen := make(map[string]struct{}, len(accs))
	out := make([]string, 0, len(accs))
	for _, a := range accs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out
}
