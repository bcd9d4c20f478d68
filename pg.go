package main

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink mirrors the reconciled dataset into Postgres. The CSV master stays
// the canonical artifact; the mirror exists for SQL consumers. Rows upsert on
// the identity key so re-running the pipeline is idempotent against the table.
type PGSink struct {
	pool   *pgxpool.Pool
	schema string
	batch  int
	log    *slog.Logger
}

// schemaNamePattern constrains the target schema to a plain identifier so it
// can be spliced into DDL without quoting surprises.
var schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewPGSink(ctx context.Context, dsn, schema string, batch, maxConns int, log *slog.Logger) (*PGSink, error) {
	if schema == "" {
		schema = "public"
	}
	if !schemaNamePattern.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing pg dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if batch <= 0 {
		batch = 500
	}
	return &PGSink{pool: pool, schema: schema, batch: batch, log: log}, nil
}

func (s *PGSink) Close() { s.pool.Close() }

// EnsureSchema creates the mirror table and its identity-key uniqueness
// constraint if they do not exist.
func (s *PGSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			state        text NOT NULL DEFAULT '',
			district     text NOT NULL DEFAULT '',
			market       text NOT NULL DEFAULT '',
			commodity    text NOT NULL DEFAULT '',
			variety      text NOT NULL DEFAULT '',
			grade        text NOT NULL DEFAULT '',
			arrival_date date NOT NULL,
			min_price    double precision,
			max_price    double precision,
			modal_price  double precision,
			ingested_at  timestamptz NOT NULL DEFAULT now(),
			UNIQUE (state, district, market, commodity, variety, grade, arrival_date)
		)`, s.table())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring mirror table: %w", err)
	}
	return nil
}

func (s *PGSink) table() string {
	return fmt.Sprintf(`"%s".mandi_prices`, s.schema)
}

// Mirror upserts every row of the reconciled table. Returns the number of
// rows written.
func (s *PGSink) Mirror(ctx context.Context, t *Table) (int, error) {
	if t.NumRows() == 0 {
		return 0, nil
	}
	stmt := `INSERT INTO ` + s.table() + `
		(state, district, market, commodity, variety, grade, arrival_date,
		 min_price, max_price, modal_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (state, district, market, commodity, variety, grade, arrival_date)
		DO UPDATE SET
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			modal_price = EXCLUDED.modal_price,
			ingested_at = now()`

	total := 0
	for i := 0; i < t.NumRows(); i += s.batch {
		j := i + s.batch
		if j > t.NumRows() {
			j = t.NumRows()
		}
		b := &pgx.Batch{}
		count := 0
		for r := i; r < j; r++ {
			date, ok := t.Cell(r, "arrival_date").Time()
			if !ok {
				// Validation guarantees dated rows; anything else is legacy
				// master data the mirror cannot key.
				continue
			}
			b.Queue(stmt,
				textOrEmpty(t, r, "state"),
				textOrEmpty(t, r, "district"),
				textOrEmpty(t, r, "market"),
				textOrEmpty(t, r, "commodity"),
				textOrEmpty(t, r, "variety"),
				textOrEmpty(t, r, "grade"),
				date,
				numOrNil(t, r, "min_price"),
				numOrNil(t, r, "max_price"),
				numOrNil(t, r, "modal_price"),
			)
			count++
		}
		br := s.pool.SendBatch(ctx, b)
		for k := 0; k < count; k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return total, fmt.Errorf("mirror batch at row %d: %w", i, err)
			}
			total++
		}
		if err := br.Close(); err != nil {
			return total, fmt.Errorf("closing mirror batch: %w", err)
		}
	}
	s.log.Info("mirrored dataset to postgres", "rows", total, "table", s.table())
	return total, nil
}

func textOrEmpty(t *Table, row int, col string) string {
	s, _ := t.Cell(row, col).Text()
	return s
}

func numOrNil(t *Table, row int, col string) *float64 {
	if f, ok := t.Cell(row, col).Num(); ok {
		return &f
	}
	return nil
}

// mirrorTimeout bounds the whole mirror step so a wedged database cannot hang
// a daemon-mode loop indefinitely.
const mirrorTimeout = 5 * time.Minute
