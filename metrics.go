package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"
)

// Metrics accumulates run counters across the process lifetime (one run, or
// many in daemon mode) and serves them in Prometheus text exposition format.
type Metrics struct {
	mu sync.Mutex

	reqTotalByCode map[int]uint64
	retries        uint64
	fetchErrors    uint64
	latLastMs      float64

	rowsFetched    uint64
	rowsDropped    uint64
	rowsFiltered   uint64
	duplicates     uint64
	runsTotal      uint64
	runsFailed     uint64
	lastRunSeconds float64

	start time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		reqTotalByCode: make(map[int]uint64, 8),
		start:          time.Now(),
	}
}

func (m *Metrics) RecordRequest(code int, ms float64) {
	m.mu.Lock()
	m.reqTotalByCode[code]++
	m.latLastMs = ms
	m.mu.Unlock()
}

func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func (m *Metrics) RecordFetchError() {
	m.mu.Lock()
	m.fetchErrors++
	m.mu.Unlock()
}

func (m *Metrics) RecordRowsFetched(n int) {
	m.mu.Lock()
	m.rowsFetched += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) RecordRowsDropped(n int) {
	m.mu.Lock()
	m.rowsDropped += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) RecordRowsFiltered(n int) {
	m.mu.Lock()
	m.rowsFiltered += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) RecordDuplicates(n int) {
	m.mu.Lock()
	m.duplicates += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) RecordRun(dur time.Duration, failed bool) {
	m.mu.Lock()
	m.runsTotal++
	if failed {
		m.runsFailed++
	}
	m.lastRunSeconds = dur.Seconds()
	m.mu.Unlock()
}

// startMetrics serves /metrics and /debug/pprof/* when addr is non-empty.
func startMetrics(addr string, m *Metrics) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP ingest_http_requests_total Total upstream API requests\n")
		fmt.Fprintf(w, "# TYPE ingest_http_requests_total counter\n")
		for code, n := range m.reqTotalByCode {
			fmt.Fprintf(w, "ingest_http_requests_total{code=\"%d\"} %d\n", code, n)
		}
		fmt.Fprintf(w, "# HELP ingest_http_retries_total Retried upstream requests\n# TYPE ingest_http_retries_total counter\ningest_http_retries_total %d\n", m.retries)
		fmt.Fprintf(w, "# HELP ingest_fetch_errors_total Batches that hard-failed\n# TYPE ingest_fetch_errors_total counter\ningest_fetch_errors_total %d\n", m.fetchErrors)
		fmt.Fprintf(w, "# HELP ingest_http_latency_ms_last Latency of the most recent request\n# TYPE ingest_http_latency_ms_last gauge\ningest_http_latency_ms_last %f\n", m.latLastMs)
		fmt.Fprintf(w, "# HELP ingest_rows_fetched_total Raw rows fetched from the API\n# TYPE ingest_rows_fetched_total counter\ningest_rows_fetched_total %d\n", m.rowsFetched)
		fmt.Fprintf(w, "# HELP ingest_rows_dropped_total Rows dropped by validation\n# TYPE ingest_rows_dropped_total counter\ningest_rows_dropped_total %d\n", m.rowsDropped)
		fmt.Fprintf(w, "# HELP ingest_rows_filtered_total Rows removed by configured filters\n# TYPE ingest_rows_filtered_total counter\ningest_rows_filtered_total %d\n", m.rowsFiltered)
		fmt.Fprintf(w, "# HELP ingest_duplicates_removed_total Duplicate records removed in reconciliation\n# TYPE ingest_duplicates_removed_total counter\ningest_duplicates_removed_total %d\n", m.duplicates)
		fmt.Fprintf(w, "# HELP ingest_runs_total Pipeline runs\n# TYPE ingest_runs_total counter\ningest_runs_total %d\n", m.runsTotal)
		fmt.Fprintf(w, "# HELP ingest_runs_failed_total Failed pipeline runs\n# TYPE ingest_runs_failed_total counter\ningest_runs_failed_total %d\n", m.runsFailed)
		fmt.Fprintf(w, "# HELP ingest_last_run_seconds Duration of the most recent run\n# TYPE ingest_last_run_seconds gauge\ningest_last_run_seconds %f\n", m.lastRunSeconds)
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
