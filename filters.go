package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the optional YAML configuration file. Every field is optional;
// absent filters simply do not constrain the dataset.
type RunConfig struct {
	Filters FilterConfig `yaml:"filters"`
}

// FilterConfig declares present-only row filters. Each present field becomes
// one pure predicate and all predicates combine via logical AND. A filter
// whose column is absent from the table is skipped.
type FilterConfig struct {
	States         []string `yaml:"states"`
	Districts      []string `yaml:"districts"`
	Commodities    []string `yaml:"commodities"`
	MinArrivalDate string   `yaml:"min_arrival_date"` // ISO date, inclusive
}

// LoadRunConfig reads and parses the YAML config file. A missing path returns
// an empty config.
func LoadRunConfig(path string) (RunConfig, error) {
	var cfg RunConfig
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if _, _, err := cfg.Filters.predicates(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type rowPredicate func(t *Table, row int) bool

// predicates compiles the present filters. The returned names parallel the
// predicates and exist for logging.
func (f FilterConfig) predicates() ([]rowPredicate, []string, error) {
	var preds []rowPredicate
	var names []string

	if p := membershipPredicate("state", f.States); p != nil {
		preds = append(preds, p)
		names = append(names, "states")
	}
	if p := membershipPredicate("district", f.Districts); p != nil {
		preds = append(preds, p)
		names = append(names, "districts")
	}
	if p := membershipPredicate("commodity", f.Commodities); p != nil {
		preds = append(preds, p)
		names = append(names, "commodities")
	}
	if strings.TrimSpace(f.MinArrivalDate) != "" {
		floor, err := time.Parse(dateLayout, strings.TrimSpace(f.MinArrivalDate))
		if err != nil {
			return nil, nil, fmt.Errorf("min_arrival_date %q: want %s: %w", f.MinArrivalDate, dateLayout, err)
		}
		preds = append(preds, func(t *Table, row int) bool {
			if !t.HasColumn("arrival_date") {
				return true
			}
			d, ok := t.Cell(row, "arrival_date").Time()
			if !ok {
				return true
			}
			return !d.Before(floor)
		})
		names = append(names, "min_arrival_date")
	}
	return preds, names, nil
}

func membershipPredicate(col string, allowed []string) rowPredicate {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return func(t *Table, row int) bool {
		if !t.HasColumn(col) {
			return true
		}
		s, ok := t.Cell(row, col).Text()
		if !ok {
			return false
		}
		return set[strings.ToLower(s)]
	}
}

// Apply drops rows failing any present filter and returns the number removed.
func (f FilterConfig) Apply(t *Table, log *slog.Logger) int {
	preds, names, err := f.predicates()
	if err != nil {
		// Config was validated at load time; a failure here is a programming
		// error, not an operator error.
		log.Error("filter compilation failed", "error", err)
		return 0
	}
	if len(preds) == 0 {
		return 0
	}
	removed := t.Filter(func(t *Table, row int) bool {
		for _, p := range preds {
			if !p(t, row) {
				return false
			}
		}
		return true
	})
	if removed > 0 {
		log.Info("row filters applied", "filters", strings.Join(names, ","), "rows_removed", removed)
	}
	return removed
}
