package data

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

const (
	insertSubSQL = `INSERT INTO sub (type, old, new) VALUES (?, ?, ?)
		ON CONFLICT(type, old) DO UPDATE SET new = excluded.new
	`

	selectSubSQL = `SELECT type, old, new FROM sub`

	updatePurchasePropertySQL = `UPDATE purchase SET %s = ? WHERE %s = ?`
)

var (
	// UpdatableProperties are the purchase columns a substitution may target.
	UpdatableProperties = []string{
		"country",
		"description",
	}

	// countryAliases standardizes the spelling quirks the retail
	// dataset ships with. Applied on every import before any stored
	// substitutions.
	countryAliases = map[string]string{
		"EIRE":               "Ireland",
		"USA":                "United States",
		"RSA":                "South Africa",
		"Czech Republic":     "Czechia",
		"European Community": "Unspecified",
	}
)

// Substitution is a global value rewrite on one purchase column.
type Substitution struct {
	Prop    string `json:"prop" yaml:"prop"`
	Old     string `json:"old" yaml:"old"`
	New     string `json:"new" yaml:"new"`
	Records int64  `json:"records" yaml:"records"`
}

func applySub(db *sql.DB, sub *Substitution) error {
	if db == nil {
		return errDBNotInitialized
	}
	if sub == nil {
		return nil
	}

	if !Contains(UpdatableProperties, sub.Prop) {
		return errors.Errorf("invalid property: %s (permitted options: %v)", sub.Prop, UpdatableProperties)
	}

	stmt, err := db.Prepare(fmt.Sprintf(updatePurchasePropertySQL, sub.Prop, sub.Prop))
	if err != nil {
		return errors.Wrap(err, "failed to prepare substitution statement")
	}
	defer stmt.Close()

	res, err := stmt.Exec(sub.New, sub.Old)
	if err != nil {
		return errors.Wrap(err, "failed to execute substitution statement")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	sub.Records = rows

	return nil
}

// SaveAndApplySub stores a substitution and applies it to the already
// imported purchases.
func SaveAndApplySub(db *sql.DB, prop, old, new string) (*Substitution, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if old == "" || new == "" {
		return nil, errors.New("both old and new values are required")
	}

	s := &Substitution{Prop: prop, Old: old, New: new}
	if err := applySub(db, s); err != nil {
		return nil, err
	}

	if _, err := db.Exec(insertSubSQL, prop, old, new); err != nil {
		return nil, errors.Wrap(err, "failed to save substitution")
	}

	return s, nil
}

func listSubs(db *sql.DB) ([]*Substitution, error) {
	rows, err := db.Query(selectSubSQL)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to query substitutions")
	}
	defer rows.Close()

	list := make([]*Substitution, 0)
	for rows.Next() {
		s := &Substitution{}
		if err := rows.Scan(&s.Prop, &s.Old, &s.New); err != nil {
			return nil, errors.Wrap(err, "failed to scan substitution row")
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ApplySubstitutions applies the built-in country aliases followed by
// all stored substitutions. Returns the ones that changed any rows.
func ApplySubstitutions(db *sql.DB) ([]*Substitution, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	list := make([]*Substitution, 0)
	for old, new := range countryAliases {
		list = append(list, &Substitution{Prop: "country", Old: old, New: new})
	}

	stored, err := listSubs(db)
	if err != nil {
		return nil, err
	}
	list = append(list, stored...)

	applied := make([]*Substitution, 0)
	for _, s := range list {
		if err := applySub(db, s); err != nil {
			return nil, err
		}
		if s.Records > 0 {
			applied = append(applied, s)
		}
	}

	return applied, nil
}
