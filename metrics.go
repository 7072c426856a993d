package ahsp

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// metrics/prometheus for a Prometheus implementation.
type MetricsCollector interface {
	// RecordSearch is called after each provider search.
	RecordSearch(results int, duration time.Duration, err error)

	// RecordFetch is called after each genome is resolved. cached reports
	// a cache hit; bytes is the sequence size.
	RecordFetch(cached bool, bytes int64, duration time.Duration, err error)

	// RecordBuild is called after each batch of signatures is built.
	RecordBuild(count, failed int, duration time.Duration)

	// RecordAdd is called after each signature commit.
	RecordAdd(status Status, duration time.Duration, err error)

	// RecordBatch is called after each ProcessReferences call.
	// count is the number of items, failed the number that failed.
	RecordBatch(count, failed int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordFetch(bool, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordBuild(int, int, time.Duration)           {}
func (NoopMetricsCollector) RecordAdd(Status, time.Duration, error)        {}
func (NoopMetricsCollector) RecordBatch(int, int, time.Duration)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	SearchCount     atomic.Int64
	SearchErrors    atomic.Int64
	FetchCount      atomic.Int64
	FetchCacheHits  atomic.Int64
	FetchErrors     atomic.Int64
	FetchBytes      atomic.Int64
	FetchTotalNanos atomic.Int64
	BuildCount      atomic.Int64
	BuildFailed     atomic.Int64
	BuildTotalNanos atomic.Int64
	AddCount        atomic.Int64
	AddSkipped      atomic.Int64
	AddErrors       atomic.Int64
	BatchCount      atomic.Int64
	BatchItems      atomic.Int64
	BatchFailed     atomic.Int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(results int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(cached bool, bytes int64, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err != nil:
		b.FetchErrors.Add(1)
	case cached:
		b.FetchCacheHits.Add(1)
	default:
		b.FetchBytes.Add(bytes)
	}
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(count, failed int, duration time.Duration) {
	b.BuildCount.Add(int64(count))
	b.BuildFailed.Add(int64(failed))
	b.BuildTotalNanos.Add(duration.Nanoseconds())
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(status Status, duration time.Duration, err error) {
	switch {
	case err != nil:
		b.AddErrors.Add(1)
	case status == StatusSkipped:
		b.AddSkipped.Add(1)
	default:
		b.AddCount.Add(1)
	}
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(count, failed int, duration time.Duration) {
	b.BatchCount.Add(1)
	b.BatchItems.Add(int64(count))
	b.BatchFailed.Add(int64(failed))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		FetchCount:     b.FetchCount.Load(),
		FetchCacheHits: b.FetchCacheHits.Load(),
		FetchErrors:    b.FetchErrors.Load(),
		FetchBytes:     b.FetchBytes.Load(),
		FetchAvgNanos:  avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		BuildCount:     b.BuildCount.Load(),
		BuildFailed:    b.BuildFailed.Load(),
		AddCount:       b.AddCount.Load(),
		AddSkipped:     b.AddSkipped.Load(),
		AddErrors:      b.AddErrors.Load(),
		BatchCount:     b.BatchCount.Load(),
		BatchItems:     b.BatchItems.Load(),
		BatchFailed:    b.BatchFailed.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount    int64
	SearchErrors   int64
	FetchCount     int64
	FetchCacheHits int64
	FetchErrors    int64
	FetchBytes     int64
	FetchAvgNanos  int64
	BuildCount     int64
	BuildFailed    int64
	AddCount       int64
	AddSkipped     int64
	AddErrors      int64
	BatchCount     int64
	BatchItems     int64
	BatchFailed    int64
}
