package main

import "log/slog"

// Validator enforces the persisted-record invariants: min_price > 0,
// max_price >= min_price, arrival_date present. Violating rows are dropped
// and counted; the counts are observational (logs and metrics only).
type Validator struct {
	log     *slog.Logger
	metrics *Metrics
}

func NewValidator(log *slog.Logger, m *Metrics) *Validator {
	return &Validator{log: log, metrics: m}
}

// Validate returns the cleaned table and the total number of rows dropped.
// Checks whose column is absent are skipped, so a partial schema degrades
// gracefully instead of failing. Validation is idempotent.
func (v *Validator) Validate(t *Table) (*Table, int) {
	hasMin := t.HasColumn("min_price")
	hasMax := t.HasColumn("max_price")
	hasDate := t.HasColumn("arrival_date")

	var badPrice, badRange, badDate int
	dropped := t.Filter(func(t *Table, r int) bool {
		var minP float64
		if hasMin {
			f, ok := t.Cell(r, "min_price").Num()
			if !ok || f <= 0 {
				badPrice++
				return false
			}
			minP = f
		}
		if hasMax {
			f, ok := t.Cell(r, "max_price").Num()
			if !ok || (hasMin && f < minP) {
				badRange++
				return false
			}
		}
		if hasDate {
			if _, ok := t.Cell(r, "arrival_date").Time(); !ok {
				badDate++
				return false
			}
		}
		return true
	})

	if dropped > 0 {
		v.log.Info("validation dropped rows",
			"total", dropped,
			"invalid_min_price", badPrice,
			"invalid_price_range", badRange,
			"missing_arrival_date", badDate)
	}
	v.metrics.RecordRowsDropped(dropped)
	return t, dropped
}
