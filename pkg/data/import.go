package data

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

const (
	insertStateSQL = `INSERT INTO state (source, imported_at, rows_loaded, rows_skipped, min_date, max_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			imported_at = excluded.imported_at,
			rows_loaded = excluded.rows_loaded,
			rows_skipped = excluded.rows_skipped,
			min_date = excluded.min_date,
			max_date = excluded.max_date
	`

	selectStateSQL = `SELECT imported_at, rows_loaded, rows_skipped, min_date, max_date FROM state WHERE source = ?`
)

var stateQueries = map[string]string{
	"purchases": "SELECT COUNT(*) FROM purchase",
	"customers": "SELECT COUNT(DISTINCT customer_id) FROM purchase",
	"invoices":  "SELECT COUNT(DISTINCT invoice) FROM purchase",
	"countries": "SELECT COUNT(DISTINCT country) FROM purchase",
	"rfm":       "SELECT COUNT(*) FROM rfm",
	"churn":     "SELECT COUNT(*) FROM churn",
	"clv":       "SELECT COUNT(*) FROM clv",
}

// ImportState records one completed dataset import.
type ImportState struct {
	Source      string `json:"source" yaml:"source"`
	ImportedAt  string `json:"imported_at" yaml:"imported_at"`
	RowsLoaded  int    `json:"rows_loaded" yaml:"rows_loaded"`
	RowsSkipped int    `json:"rows_skipped" yaml:"rows_skipped"`
	MinDate     string `json:"min_date" yaml:"min_date"`
	MaxDate     string `json:"max_date" yaml:"max_date"`
}

// ImportSummary is the result of a dataset import.
type ImportSummary struct {
	Source      string          `json:"source" yaml:"source"`
	Stats       *CleanStats     `json:"stats" yaml:"stats"`
	Customers   int64           `json:"customers" yaml:"customers"`
	MinDate     string          `json:"min_date,omitempty" yaml:"min_date,omitempty"`
	MaxDate     string          `json:"max_date,omitempty" yaml:"max_date,omitempty"`
	Substituted []*Substitution `json:"substituted,omitempty" yaml:"substituted,omitempty"`
}

// ImportFile parses a local dataset file, loads the cleaned rows, and
// applies stored substitutions. source identifies where the file came
// from (URL or path) for state bookkeeping.
func ImportFile(db *sql.DB, path, source string) (*ImportSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	if prior, err := GetImportState(db, source); err != nil {
		return nil, err
	} else if prior != nil {
		return nil, errors.Errorf("source already imported on %s (use --fresh to re-import)", prior.ImportedAt)
	}

	list, stats, err := ParseDataset(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dataset: %s", path)
	}
	if len(list) == 0 {
		return nil, errors.Errorf("no usable rows in dataset: %s", path)
	}

	slog.Debug("saving purchases", "rows", len(list))
	if err := SavePurchases(db, list); err != nil {
		return nil, errors.Wrap(err, "failed to save purchases")
	}

	subs, err := ApplySubstitutions(db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply substitutions")
	}

	minDate, maxDate := list[0].Date, list[0].Date
	for _, p := range list {
		if p.Date.Before(minDate) {
			minDate = p.Date
		}
		if p.Date.After(maxDate) {
			maxDate = p.Date
		}
	}

	customers := make(map[int64]bool, 1024)
	for _, p := range list {
		customers[p.CustomerID] = true
	}

	res := &ImportSummary{
		Source:      source,
		Stats:       stats,
		Customers:   int64(len(customers)),
		MinDate:     minDate.UTC().Format(dateOnlyFormat),
		MaxDate:     maxDate.UTC().Format(dateOnlyFormat),
		Substituted: subs,
	}

	if err := saveImportState(db, res); err != nil {
		return nil, err
	}

	return res, nil
}

func saveImportState(db *sql.DB, s *ImportSummary) error {
	stmt, err := db.Prepare(insertStateSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare state insert statement")
	}
	defer stmt.Close()

	skipped := s.Stats.Rows - s.Stats.Loaded
	now := time.Now().UTC().Format(dateFormat)
	if _, err := stmt.Exec(s.Source, now, s.Stats.Loaded, skipped, s.MinDate, s.MaxDate); err != nil {
		return errors.Wrap(err, "failed to insert state")
	}
	return nil
}

// GetImportState returns the stored state for source, nil if none.
func GetImportState(db *sql.DB, source string) (*ImportState, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	s := &ImportState{Source: source}
	err := db.QueryRow(selectStateSQL, source).Scan(&s.ImportedAt, &s.RowsLoaded, &s.RowsSkipped, &s.MinDate, &s.MaxDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query import state")
	}
	return s, nil
}

// GetDataState returns row counts for the main and derived tables.
func GetDataState(db *sql.DB) (map[string]int64, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	state := make(map[string]int64)
	for k, q := range stateQueries {
		var count int64
		if err := db.QueryRow(q).Scan(&count); err != nil {
			return nil, errors.Wrapf(err, "error getting %s count", k)
		}
		state[k] = count
	}

	return state, nil
}
