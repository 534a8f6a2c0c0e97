package scanngo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTrain is called after each partitioner training run.
	// duration is the total time taken, err is nil if successful.
	RecordTrain(duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of neighbors requested, duration is the time taken,
	// err is nil if successful.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordRetrieveChunks is called after each chunk retrieval.
	// chunks is the number of chunks processed.
	RecordRetrieveChunks(chunks int, duration time.Duration, err error)

	// RecordUpload is called after each artifact upload.
	RecordUpload(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrain(time.Duration, error)               {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordRetrieveChunks(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordUpload(time.Duration, error)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainCount          atomic.Int64
	TrainErrors         atomic.Int64
	TrainTotalNanos     atomic.Int64
	SearchCount         atomic.Int64
	SearchErrors        atomic.Int64
	SearchTotalNanos    atomic.Int64
	RetrieveCount       atomic.Int64
	RetrieveErrors      atomic.Int64
	RetrieveTotalChunks atomic.Int64
	UploadCount         atomic.Int64
	UploadErrors        atomic.Int64
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(duration time.Duration, err error) {
	b.TrainCount.Add(1)
	b.TrainTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordRetrieveChunks implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetrieveChunks(chunks int, duration time.Duration, err error) {
	b.RetrieveCount.Add(1)
	b.RetrieveTotalChunks.Add(int64(chunks))
	if err != nil {
		b.RetrieveErrors.Add(1)
	}
}

// RecordUpload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpload(duration time.Duration, err error) {
	b.UploadCount.Add(1)
	if err != nil {
		b.UploadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainCount:          b.TrainCount.Load(),
		TrainErrors:         b.TrainErrors.Load(),
		SearchCount:         b.SearchCount.Load(),
		SearchErrors:        b.SearchErrors.Load(),
		SearchAvgNanos:      b.getAvgSearchNanos(),
		RetrieveCount:       b.RetrieveCount.Load(),
		RetrieveErrors:      b.RetrieveErrors.Load(),
		RetrieveTotalChunks: b.RetrieveTotalChunks.Load(),
		UploadCount:         b.UploadCount.Load(),
		UploadErrors:        b.UploadErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainCount          int64
	TrainErrors         int64
	SearchCount         int64
	SearchErrors        int64
	SearchAvgNanos      int64
	RetrieveCount       int64
	RetrieveErrors      int64
	RetrieveTotalChunks int64
	UploadCount         int64
	UploadErrors        int64
}
