package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Page is one batch of raw records returned by a single paginated fetch.
// An empty Records slice is the normal exhaustion signal, distinct from a
// fetch error.
type Page struct {
	Records []map[string]string
}

// FetchMeta carries request-level telemetry for logging and metrics.
type FetchMeta struct {
	StatusCode int
	Latency    time.Duration
}

// DataAPIAdapter abstracts the upstream records API. The real adapter talks
// HTTP; the mock adapter synthesizes offline pages for demos and tests.
type DataAPIAdapter interface {
	// FetchPage issues one paginated request. A nil error with zero records
	// means the offset is past the end of the dataset.
	FetchPage(ctx context.Context, offset, limit int) (Page, FetchMeta, error)
}

// errMalformedEnvelope marks a response that arrived but did not contain the
// expected {"records": [...]} shape. It is a shape violation, not exhaustion,
// and is never retried.
var errMalformedEnvelope = errors.New("malformed response envelope")

// ───────── HTTP JSON adapter ─────────

// HTTPJSONAdapter fetches records from a data.gov.in-style resource endpoint:
//
//	GET {base}?api-key=...&format=json&limit=...&offset=...
//	  -> {"records":[{field: value, ...}, ...], ...}
type HTTPJSONAdapter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type HTTPJSONAdapterOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

func NewHTTPJSONAdapter(opts HTTPJSONAdapterOptions) (*HTTPJSONAdapter, error) {
	ep := strings.TrimSpace(opts.Endpoint)
	if ep == "" {
		return nil, errors.New("endpoint is required")
	}
	if _, err := url.Parse(ep); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	to := opts.Timeout
	if to <= 0 {
		to = 30 * time.Second
	}
	return &HTTPJSONAdapter{
		endpoint: strings.TrimRight(ep, "/"),
		apiKey:   strings.TrimSpace(opts.APIKey),
		client:   &http.Client{Timeout: to},
	}, nil
}

func (a *HTTPJSONAdapter) FetchPage(ctx context.Context, offset, limit int) (Page, FetchMeta, error) {
	start := time.Now()
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return Page{}, FetchMeta{Latency: time.Since(start)}, err
	}
	q := u.Query()
	q.Set("api-key", a.apiKey)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, FetchMeta{Latency: time.Since(start)}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Page{}, FetchMeta{Latency: time.Since(start)}, err
	}
	defer resp.Body.Close()
	meta := FetchMeta{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	meta.Latency = time.Since(start)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, meta, fmt.Errorf("http status %d", resp.StatusCode)
	}
	p, err := parseEnvelope(body)
	return p, meta, err
}

// parseEnvelope decodes the {"records":[...]} payload. A present-but-empty
// records array is valid (exhaustion); a missing key or undecodable body is
// errMalformedEnvelope. Scalar field values of any JSON type are flattened
// to strings, matching the upstream convention of string-typed fields.
func parseEnvelope(body []byte) (Page, error) {
	var envelope struct {
		Records *[]map[string]any `json:"records"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if envelope.Records == nil {
		return Page{}, fmt.Errorf("%w: missing records key", errMalformedEnvelope)
	}
	out := make([]map[string]string, 0, len(*envelope.Records))
	for _, rec := range *envelope.Records {
		row := make(map[string]string, len(rec))
		for k, v := range rec {
			row[k] = flattenScalar(v)
		}
		out = append(out, row)
	}
	return Page{Records: out}, nil
}

func flattenScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// pageColumns derives a deterministic column order for a batch: canonical
// columns first (in canonical order), then any passthrough keys sorted.
// JSON object key order is not recoverable from Go maps, so sorted extras are
// the stable choice.
func pageColumns(records []map[string]string) []string {
	present := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			present[k] = true
		}
	}
	cols := make([]string, 0, len(present))
	for _, c := range canonicalColumns {
		if present[c] {
			cols = append(cols, c)
			delete(present, c)
		}
	}
	extras := make([]string, 0, len(present))
	for k := range present {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	return append(cols, extras...)
}

// pageToTable converts a page into a raw all-string table whose columns are
// exactly the keys the API returned for that batch.
func pageToTable(p Page) *Table {
	t := NewTable(pageColumns(p.Records))
	for _, rec := range p.Records {
		row := make([]Cell, t.NumCols())
		for j, c := range t.Columns() {
			// Empty and whitespace-only values are null from the start, the
			// same emptiness the master loader produces on a CSV round trip.
			if v, ok := rec[c]; ok && strings.TrimSpace(v) != "" {
				row[j] = StringCell(v)
			}
		}
		// AppendRow only fails for oversized rows, which cannot happen here.
		_ = t.AppendRow(row)
	}
	return t
}

// ───────── Mock adapter (offline-safe) ─────────

// MockAdapter produces deterministic synthetic mandi records without network
// calls. It serves a fixed number of records, then exhausts.
type MockAdapter struct {
	total int
}

func NewMockAdapter(total int) *MockAdapter {
	if total <= 0 {
		total = 250
	}
	return &MockAdapter{total: total}
}

var mockStates = []string{"Karnataka", "Maharashtra", "Punjab", "Gujarat"}
var mockCommodities = []string{"Wheat", "Onion", "Tomato", "Rice"}

func (m *MockAdapter) FetchPage(ctx context.Context, offset, limit int) (Page, FetchMeta, error) {
	start := time.Now()
	select {
	case <-ctx.Done():
		return Page{}, FetchMeta{Latency: time.Since(start)}, ctx.Err()
	default:
	}
	if offset >= m.total {
		return Page{Records: []map[string]string{}}, FetchMeta{StatusCode: 200, Latency: time.Since(start)}, nil
	}
	end := offset + limit
	if end > m.total {
		end = m.total
	}
	records := make([]map[string]string, 0, end-offset)
	for i := offset; i < end; i++ {
		minP := 900 + (i%40)*25
		day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i%365)
		records = append(records, map[string]string{
			"state":        mockStates[i%len(mockStates)],
			"district":     fmt.Sprintf("District %d", i%12),
			"market":       fmt.Sprintf("Market %d", i%30),
			"commodity":    mockCommodities[i%len(mockCommodities)],
			"variety":      "Local",
			"grade":        "FAQ",
			"arrival_date": day.Format("02/01/2006"),
			"min_price":    strconv.Itoa(minP),
			"max_price":    strconv.Itoa(minP + 300),
			"modal_price":  strconv.Itoa(minP + 150),
		})
	}
	return Page{Records: records}, FetchMeta{StatusCode: 200, Latency: time.Since(start)}, nil
}
