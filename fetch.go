package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrFetchFailed is the hard failure signal from a batch fetch, distinct from
// an exhausted (empty) page.
var ErrFetchFailed = errors.New("batch fetch failed")

// BatchFetcher wraps a DataAPIAdapter with bounded retries and exponential
// backoff. Transport errors, timeouts, and non-2xx statuses are transient and
// retried; a malformed response envelope fails immediately since re-sending
// the same request cannot fix its shape.
type BatchFetcher struct {
	adapter    DataAPIAdapter
	maxRetries int
	baseDelay  time.Duration
	metrics    *Metrics
	log        *slog.Logger

	// sleep is swappable so tests can observe backoff without waiting.
	sleep func(time.Duration)
}

func NewBatchFetcher(adapter DataAPIAdapter, maxRetries int, baseDelay time.Duration, m *Metrics, log *slog.Logger) *BatchFetcher {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &BatchFetcher{
		adapter:    adapter,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		metrics:    m,
		log:        log,
		sleep:      time.Sleep,
	}
}

// Fetch retrieves one page at the given offset. It returns ErrFetchFailed
// (wrapped) after all attempts fail or immediately on a malformed envelope.
// A returned page with zero records is the normal exhaustion signal.
func (f *BatchFetcher) Fetch(ctx context.Context, offset, limit int) (Page, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		f.log.Info("fetching batch",
			"offset", offset, "limit", limit,
			"attempt", attempt, "max_attempts", f.maxRetries)

		page, meta, err := f.adapter.FetchPage(ctx, offset, limit)
		f.metrics.RecordRequest(meta.StatusCode, float64(meta.Latency.Milliseconds()))

		if err == nil {
			f.log.Info("batch fetched", "offset", offset, "records", len(page.Records), "latency_ms", meta.Latency.Milliseconds())
			return page, nil
		}
		if errors.Is(err, errMalformedEnvelope) {
			f.metrics.RecordFetchError()
			f.log.Error("malformed response envelope", "offset", offset, "error", err)
			return Page{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		if ctx.Err() != nil {
			f.metrics.RecordFetchError()
			return Page{}, fmt.Errorf("%w: %v", ErrFetchFailed, ctx.Err())
		}

		lastErr = err
		f.log.Warn("batch request failed",
			"offset", offset, "attempt", attempt, "status", meta.StatusCode, "error", err)
		if attempt < f.maxRetries {
			delay := f.baseDelay << uint(attempt-1)
			f.metrics.RecordRetry()
			f.log.Info("backing off before retry", "offset", offset, "delay", delay.String())
			f.sleep(delay)
		}
	}
	f.metrics.RecordFetchError()
	f.log.Error("batch fetch exhausted retries", "offset", offset, "attempts", f.maxRetries, "error", lastErr)
	return Page{}, fmt.Errorf("%w after %d attempts: %v", ErrFetchFailed, f.maxRetries, lastErr)
}

// PaginationDriver walks the offset cursor until exhaustion, a fetch failure,
// or the defensive page cap, concatenating pages into one raw table.
type PaginationDriver struct {
	fetcher   *BatchFetcher
	batchSize int
	maxPages  int
	metrics   *Metrics
	log       *slog.Logger
}

func NewPaginationDriver(f *BatchFetcher, batchSize, maxPages int, m *Metrics, log *slog.Logger) *PaginationDriver {
	if batchSize <= 0 {
		batchSize = 10000
	}
	if maxPages <= 0 {
		maxPages = 1000
	}
	return &PaginationDriver{fetcher: f, batchSize: batchSize, maxPages: maxPages, metrics: m, log: log}
}

// FetchAll harvests every available page. A failure on page N does not
// invalidate pages 0..N-1: whatever accumulated is returned as final
// (at-most-once harvesting per run). The returned table may be empty.
func (d *PaginationDriver) FetchAll(ctx context.Context) *Table {
	acc := NewTable(nil)
	offset := 0
	for page := 0; page < d.maxPages; page++ {
		p, err := d.fetcher.Fetch(ctx, offset, d.batchSize)
		if err != nil {
			d.log.Warn("pagination aborted, keeping partial results",
				"offset", offset, "rows_accumulated", acc.NumRows(), "error", err)
			return acc
		}
		if len(p.Records) == 0 {
			d.log.Info("pagination complete", "offset", offset, "rows_total", acc.NumRows())
			return acc
		}
		acc.Concat(pageToTable(p))
		d.metrics.RecordRowsFetched(len(p.Records))
		offset += d.batchSize
	}
	d.log.Warn("pagination stopped at defensive page cap",
		"max_pages", d.maxPages, "rows_total", acc.NumRows())
	return acc
}
