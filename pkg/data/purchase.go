package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const (
	insertPurchaseSQL = `INSERT INTO purchase (
			invoice, stock_code, description, quantity, unit_price, invoice_date, customer_id, country, total_price
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectPurchaseSQL = `SELECT
			id,
			invoice,
			stock_code,
			description,
			quantity,
			unit_price,
			invoice_date,
			customer_id,
			country,
			total_price
		FROM purchase
		WHERE invoice = COALESCE(?, invoice)
		AND customer_id = COALESCE(?, customer_id)
		AND country = COALESCE(?, country)
		AND stock_code = COALESCE(?, stock_code)
		AND invoice_date >= COALESCE(?, invoice_date)
		AND invoice_date <= COALESCE(?, invoice_date)
		ORDER BY invoice_date DESC, invoice
		LIMIT ? OFFSET ?
	`

	deletePurchasesSQL = `DELETE FROM purchase`
)

// Purchase is a single cleaned line item from the retail dataset.
type Purchase struct {
	ID          int64     `json:"id,omitempty" yaml:"id,omitempty"`
	Invoice     string    `json:"invoice" yaml:"invoice"`
	StockCode   string    `json:"stock_code" yaml:"stock_code"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Quantity    int       `json:"quantity" yaml:"quantity"`
	UnitPrice   float64   `json:"unit_price" yaml:"unit_price"`
	Date        time.Time `json:"date" yaml:"date"`
	CustomerID  int64     `json:"customer_id" yaml:"customer_id"`
	Country     string    `json:"country" yaml:"country"`
	TotalPrice  float64   `json:"total_price" yaml:"total_price"`
}

// PurchaseSearchCriteria narrows SearchPurchases. Nil fields match all.
type PurchaseSearchCriteria struct {
	Invoice    *string `json:"invoice,omitempty"`
	CustomerID *int64  `json:"customer_id,omitempty"`
	Country    *string `json:"country,omitempty"`
	StockCode  *string `json:"stock_code,omitempty"`
	FromDate   *string `json:"from,omitempty"`
	ToDate     *string `json:"to,omitempty"`
	Page       int     `json:"page,omitempty"`
	PageSize   int     `json:"page_size,omitempty"`
}

// SavePurchases inserts the given rows in a single transaction.
func SavePurchases(db *sql.DB, list []*Purchase) error {
	if db == nil {
		return errDBNotInitialized
	}

	stmt, err := db.Prepare(insertPurchaseSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare purchase insert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	for _, p := range list {
		_, err = tx.Stmt(stmt).Exec(
			p.Invoice, p.StockCode, p.Description, p.Quantity, p.UnitPrice,
			p.Date.UTC().Format(dateFormat), p.CustomerID, p.Country, p.TotalPrice)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return errors.Wrap(rbErr, "failed to rollback transaction")
			}
			return errors.Wrapf(err, "failed to insert purchase: %s/%s", p.Invoice, p.StockCode)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// SearchPurchases returns stored purchases matching the criteria.
func SearchPurchases(db *sql.DB, q *PurchaseSearchCriteria) ([]*Purchase, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if q == nil {
		q = &PurchaseSearchCriteria{}
	}
	if q.PageSize == 0 {
		q.PageSize = 100
	}
	if q.Page < 1 {
		q.Page = 1
	}

	stmt, err := db.Prepare(selectPurchaseSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare purchase search statement")
	}
	defer stmt.Close()

	offset := (q.Page - 1) * q.PageSize
	rows, err := stmt.Query(q.Invoice, q.CustomerID, q.Country, q.StockCode, q.FromDate, q.ToDate, q.PageSize, offset)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute purchase search statement")
	}
	defer rows.Close()

	list := make([]*Purchase, 0)
	for rows.Next() {
		p := &Purchase{}
		var date string
		if err := rows.Scan(&p.ID, &p.Invoice, &p.StockCode, &p.Description, &p.Quantity,
			&p.UnitPrice, &date, &p.CustomerID, &p.Country, &p.TotalPrice); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		p.Date, err = time.Parse(dateFormat, date)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse purchase date: %s", date)
		}
		list = append(list, p)
	}

	return list, rows.Err()
}

// ClearPurchases deletes all purchase rows along with the derived
// tables computed from them.
func ClearPurchases(db *sql.DB) error {
	if db == nil {
		return errDBNotInitialized
	}

	for _, q := range []string{deletePurchasesSQL, "DELETE FROM rfm", "DELETE FROM churn", "DELETE FROM clv", "DELETE FROM state"} {
		if _, err := db.Exec(q); err != nil {
			return errors.Wrapf(err, "failed to execute: %s", q)
		}
	}
	return nil
}

// LastPurchaseDate returns the max invoice date in the dataset.
func LastPurchaseDate(db *sql.DB) (time.Time, error) {
	if db == nil {
		return time.Time{}, errDBNotInitialized
	}

	var date sql.NullString
	if err := db.QueryRow("SELECT MAX(invoice_date) FROM purchase").Scan(&date); err != nil {
		return time.Time{}, errors.Wrap(err, "failed to query last purchase date")
	}
	if !date.Valid {
		return time.Time{}, errors.New("no purchases imported")
	}

	t, err := time.Parse(dateFormat, date.String)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse date: %s", date.String)
	}
	return t, nil
}
