package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ───────── Defaults ─────────

const (
	defaultEndpoint  = "https://api.data.gov.in/resource/9ef84268-d588-465a-a308-a864a43d0070"
	defaultOutCSV    = "data/market_data_master.csv"
	defaultBatchSize = 10000 // API limit per request
	defaultRetries   = 3
	defaultTimeout   = 30 // seconds
	defaultMaxPages  = 1000
)

// apiKeyEnv supplies the upstream API key. Its absence is a fatal
// configuration error for any real fetch attempt.
const apiKeyEnv = "MANDI_API_KEY"

// ───────── Config ─────────

type config struct {
	endpoint   string
	out        string
	batchSize  int
	maxRetries int
	timeoutSec int
	maxPages   int

	adapter     string // mock|http-json
	mockRecords int
	configFile  string

	healthcheck bool
	jsonLogs    bool
	metricsAddr string

	daemon       bool
	daemonMinSec int
	daemonMaxSec int

	pgDSN      string
	pgSchema   string
	pgBatch    int
	pgMaxConns int
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.endpoint, "endpoint", envString("DATA_API_URL", defaultEndpoint), "Upstream resource endpoint. Env: DATA_API_URL")
	flag.StringVar(&cfg.out, "out", envString("OUT_CSV", defaultOutCSV), "Master CSV path. Env: OUT_CSV")
	flag.IntVar(&cfg.batchSize, "batch-size", envInt("BATCH_SIZE", defaultBatchSize), "Records per page request. Env: BATCH_SIZE")
	flag.IntVar(&cfg.maxRetries, "max-retries", envInt("MAX_RETRIES", defaultRetries), "Attempts per batch before hard failure. Env: MAX_RETRIES")
	flag.IntVar(&cfg.timeoutSec, "timeout", envInt("FETCH_TIMEOUT_SEC", defaultTimeout), "Per-request timeout in seconds. Env: FETCH_TIMEOUT_SEC")
	flag.IntVar(&cfg.maxPages, "max-pages", envInt("MAX_PAGES", defaultMaxPages), "Defensive pagination cap. Env: MAX_PAGES")

	flag.StringVar(&cfg.adapter, "adapter", envString("ADAPTER", "http-json"), "Adapter: http-json|mock. Env: ADAPTER")
	flag.IntVar(&cfg.mockRecords, "mock-records", envInt("MOCK_RECORDS", 250), "Total synthetic records served by the mock adapter. Env: MOCK_RECORDS")
	flag.StringVar(&cfg.configFile, "config", envString("CONFIG_FILE", ""), "Optional YAML config with row filters. Env: CONFIG_FILE")

	flag.BoolVar(&cfg.healthcheck, "healthcheck", false, "Validate config and output path, then exit")
	flag.BoolVar(&cfg.jsonLogs, "json-logs", envBool("JSON_LOGS", false), "Emit JSON log lines instead of text. Env: JSON_LOGS")
	flag.StringVar(&cfg.metricsAddr, "metrics", envString("METRICS_ADDR", ""), "Serve /metrics and /debug/pprof/* on this address, e.g. :6060. Env: METRICS_ADDR")

	flag.BoolVar(&cfg.daemon, "daemon", envBool("DAEMON", false), "Run forever: sleep between runs. Env: DAEMON")
	flag.IntVar(&cfg.daemonMinSec, "daemon-min-sec", envInt("DAEMON_MIN_SEC", 3600), "Daemon: minimum seconds between runs. Env: DAEMON_MIN_SEC")
	flag.IntVar(&cfg.daemonMaxSec, "daemon-max-sec", envInt("DAEMON_MAX_SEC", 7200), "Daemon: maximum seconds between runs. Env: DAEMON_MAX_SEC")

	flag.StringVar(&cfg.pgDSN, "pg-dsn", envString("PG_DSN", ""), "Postgres DSN (enables the mirror sink). Env: PG_DSN")
	flag.StringVar(&cfg.pgSchema, "pg-schema", envString("PG_SCHEMA", "public"), "Target Postgres schema. Env: PG_SCHEMA")
	flag.IntVar(&cfg.pgBatch, "pg-batch", envInt("PG_BATCH", 500), "Mirror insert batch size. Env: PG_BATCH")
	flag.IntVar(&cfg.pgMaxConns, "pg-max-conns", envInt("PG_MAX_CONNS", 2), "Mirror max connections. Env: PG_MAX_CONNS")

	flag.Parse()

	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.maxRetries <= 0 {
		cfg.maxRetries = defaultRetries
	}
	if cfg.maxPages <= 0 {
		cfg.maxPages = defaultMaxPages
	}
	if cfg.daemonMaxSec < cfg.daemonMinSec {
		cfg.daemonMaxSec = cfg.daemonMinSec
	}
	return cfg
}

func newLogger(jsonLogs bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildAdapter(cfg config) (DataAPIAdapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.adapter)) {
	case "mock":
		return NewMockAdapter(cfg.mockRecords), nil
	case "http-json", "httpjson", "http", "":
		apiKey := os.Getenv(apiKeyEnv)
		if strings.TrimSpace(apiKey) == "" {
			return nil, fmt.Errorf("%s is not set; refusing to fetch", apiKeyEnv)
		}
		return NewHTTPJSONAdapter(HTTPJSONAdapterOptions{
			Endpoint: cfg.endpoint,
			APIKey:   apiKey,
			Timeout:  time.Duration(cfg.timeoutSec) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q", cfg.adapter)
	}
}

// ───────── One pipeline run ─────────

type runSummary struct {
	Event         string  `json:"event"`
	RunID         string  `json:"run_id"`
	Adapter       string  `json:"adapter"`
	RowsFetched   int     `json:"rows_fetched"`
	RowsDropped   int     `json:"rows_dropped"`
	RowsFiltered  int     `json:"rows_filtered"`
	Duplicates    int     `json:"duplicates_removed"`
	RowsPersisted int     `json:"rows_persisted"`
	Columns       int     `json:"columns"`
	Mirrored      int     `json:"rows_mirrored"`
	DurationSec   float64 `json:"duration_sec"`
	OK            bool    `json:"ok"`
}

var errRunFailed = errors.New("pipeline run failed")

// runOnce executes one full fetch → normalize → validate → filter →
// reconcile → persist pass.
func runOnce(ctx context.Context, cfg config, adapter DataAPIAdapter, runCfg RunConfig, m *Metrics, log *slog.Logger) error {
	start := time.Now()
	runID := uuid.NewString()
	log = log.With("run_id", runID)
	sum := runSummary{Event: "summary", RunID: runID, Adapter: cfg.adapter}
	failed := true
	defer func() {
		sum.DurationSec = time.Since(start).Seconds()
		sum.OK = !failed
		m.RecordRun(time.Since(start), failed)
		if b, err := json.Marshal(sum); err == nil {
			fmt.Println(string(b))
		}
	}()

	lockPath := cfg.out + ".lock"
	if !acquireLock(lockPath) {
		log.Error("another writer holds the master lock, aborting", "lock", lockPath)
		return fmt.Errorf("%w: lock held", errRunFailed)
	}
	var lockAlive int32 = 1
	defer func() {
		atomic.StoreInt32(&lockAlive, 0)
		releaseLock(lockPath)
	}()
	go lockHeartbeat(lockPath, &lockAlive)

	log.Info("mandi data fetch started", "endpoint", cfg.endpoint, "batch_size", cfg.batchSize)

	fetcher := NewBatchFetcher(adapter, cfg.maxRetries, 2*time.Second, m, log)
	driver := NewPaginationDriver(fetcher, cfg.batchSize, cfg.maxPages, m, log)
	raw := driver.FetchAll(ctx)
	sum.RowsFetched = raw.NumRows()
	if raw.NumRows() == 0 {
		log.Error("no data fetched from API, aborting run")
		return fmt.Errorf("%w: no data fetched", errRunFailed)
	}

	clean := NewNormalizer(log).Normalize(raw)
	clean, droppedRows := NewValidator(log, m).Validate(clean)
	sum.RowsDropped = droppedRows
	if clean.NumRows() == 0 {
		log.Error("validation left zero usable rows, aborting run")
		return fmt.Errorf("%w: zero usable rows after validation", errRunFailed)
	}

	filtered := runCfg.Filters.Apply(clean, log)
	m.RecordRowsFiltered(filtered)
	sum.RowsFiltered = filtered
	if clean.NumRows() == 0 {
		log.Error("configured filters left zero rows, aborting run")
		return fmt.Errorf("%w: zero rows after filters", errRunFailed)
	}

	final, dupes, err := NewReconciler(cfg.out, log, m).Reconcile(clean)
	if err != nil {
		log.Error("reconciliation failed", "error", err)
		return fmt.Errorf("%w: %v", errRunFailed, err)
	}
	sum.Duplicates = dupes
	sum.RowsPersisted = final.NumRows()
	sum.Columns = final.NumCols()

	if err := NewPersister(log).Persist(final, cfg.out); err != nil {
		log.Error("persist failed, prior master left untouched", "error", err)
		return fmt.Errorf("%w: %v", errRunFailed, err)
	}

	if cfg.pgDSN != "" {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		defer cancel()
		sink, err := NewPGSink(mctx, cfg.pgDSN, cfg.pgSchema, cfg.pgBatch, cfg.pgMaxConns, log)
		if err != nil {
			log.Error("postgres mirror unavailable", "error", err)
			return fmt.Errorf("%w: %v", errRunFailed, err)
		}
		defer sink.Close()
		if err := sink.EnsureSchema(mctx); err != nil {
			log.Error("postgres mirror schema", "error", err)
			return fmt.Errorf("%w: %v", errRunFailed, err)
		}
		n, err := sink.Mirror(mctx, final)
		if err != nil {
			log.Error("postgres mirror failed", "error", err)
			return fmt.Errorf("%w: %v", errRunFailed, err)
		}
		sum.Mirrored = n
	}

	log.Info("fetch completed successfully",
		"rows", final.NumRows(), "cols", final.NumCols(),
		"duration_sec", fmt.Sprintf("%.2f", time.Since(start).Seconds()))
	failed = false
	return nil
}

func healthcheck(cfg config) error {
	dir := filepath.Dir(cfg.out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	if strings.EqualFold(cfg.adapter, "http-json") && strings.TrimSpace(os.Getenv(apiKeyEnv)) == "" {
		return fmt.Errorf("%s is not set", apiKeyEnv)
	}
	fmt.Println("healthcheck=ok")
	return nil
}

// ───────── Main ─────────

func main() {
	cfg := parseFlags()
	log := newLogger(cfg.jsonLogs)

	if cfg.healthcheck {
		if err := healthcheck(cfg); err != nil {
			log.Error("healthcheck failed", "error", err)
			os.Exit(2)
		}
		return
	}

	runCfg, err := LoadRunConfig(cfg.configFile)
	if err != nil {
		log.Error("invalid config file", "path", cfg.configFile, "error", err)
		os.Exit(2)
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}

	metrics := NewMetrics()
	startMetrics(cfg.metricsAddr, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if !cfg.daemon {
		if err := runOnce(ctx, cfg, adapter, runCfg, metrics, log); err != nil {
			os.Exit(1)
		}
		return
	}

	minSleep := time.Duration(cfg.daemonMinSec) * time.Second
	maxSleep := time.Duration(cfg.daemonMaxSec) * time.Second
	for ctx.Err() == nil {
		if err := runOnce(ctx, cfg, adapter, runCfg, metrics, log); err != nil {
			log.Warn("run failed, will retry next cycle", "error", err)
		}
		sleep := minSleep
		if span := maxSleep - minSleep; span > 0 {
			sleep += time.Duration(rand.Int63n(int64(span)))
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
		}
	}
}
