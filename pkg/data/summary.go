package data

import (
	"database/sql"
	"strconv"

	"github.com/pkg/errors"
)

const (
	topListLimitDefault = 10

	selectSummarySQL = `SELECT
			COUNT(*),
			COUNT(DISTINCT customer_id),
			COUNT(DISTINCT invoice),
			COALESCE(SUM(total_price), 0),
			COALESCE(MIN(date(invoice_date)), ''),
			COALESCE(MAX(date(invoice_date)), '')
		FROM purchase
	`

	selectDailySeriesSQL = `SELECT
			dates.date,
			COUNT(p.id) AS purchases,
			COALESCE(SUM(p.total_price), 0) AS revenue
		FROM (
			WITH RECURSIVE dates(date) AS (
				VALUES(?)
				UNION ALL
				SELECT date(date, '+1 day')
				FROM dates
				WHERE date < ?
			)
			SELECT date FROM dates
		) dates
		LEFT JOIN purchase p ON date(p.invoice_date) = dates.date
		GROUP BY dates.date
		ORDER BY dates.date
	`

	selectWeekdaySQL = `SELECT
			CAST(strftime('%w', invoice_date) AS INTEGER) AS dow,
			COUNT(*)
		FROM purchase
		GROUP BY dow
	`

	selectHourSQL = `SELECT
			CAST(strftime('%H', invoice_date) AS INTEGER) AS hour,
			COUNT(*)
		FROM purchase
		GROUP BY hour
		ORDER BY hour
	`

	selectTopCountriesSQL = `SELECT
			country,
			COUNT(*) AS purchases
		FROM purchase
		GROUP BY country
		ORDER BY 2 DESC
		LIMIT ?
	`

	selectTopProductsSQL = `SELECT
			description,
			SUM(quantity) AS quantity
		FROM purchase
		WHERE description != ''
		GROUP BY description
		ORDER BY 2 DESC
		LIMIT ?
	`
)

// weekdayNames is Monday-first, matching the reporting order.
var weekdayNames = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DatasetSummary holds the headline dataset metrics.
type DatasetSummary struct {
	Purchases     int64   `json:"purchases" yaml:"purchases"`
	Customers     int64   `json:"customers" yaml:"customers"`
	Orders        int64   `json:"orders" yaml:"orders"`
	Revenue       float64 `json:"revenue" yaml:"revenue"`
	AvgOrderValue float64 `json:"avg_order_value" yaml:"avg_order_value"`
	MinDate       string  `json:"min_date,omitempty" yaml:"min_date,omitempty"`
	MaxDate       string  `json:"max_date,omitempty" yaml:"max_date,omitempty"`
}

// DailySeries is a dense per-day activity series over the dataset range.
type DailySeries struct {
	Dates     []string  `json:"dates"`
	Purchases []int     `json:"purchases"`
	Revenue   []float64 `json:"revenue"`
}

// ListItem is one entry of a named top-N counting query.
type ListItem struct {
	Name  string `json:"name" yaml:"name"`
	Count int64  `json:"count" yaml:"count"`
}

// GetDatasetSummary returns the headline metrics for the imported data.
func GetDatasetSummary(db *sql.DB) (*DatasetSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	s := &DatasetSummary{}
	err := db.QueryRow(selectSummarySQL).Scan(&s.Purchases, &s.Customers, &s.Orders, &s.Revenue, &s.MinDate, &s.MaxDate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query dataset summary")
	}

	if s.Orders > 0 {
		s.AvgOrderValue = s.Revenue / float64(s.Orders)
	}
	return s, nil
}

// GetDailySeries returns per-day purchase counts and revenue with a
// dense date axis (days without activity show as zero).
func GetDailySeries(db *sql.DB) (*DailySeries, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	summary, err := GetDatasetSummary(db)
	if err != nil {
		return nil, err
	}

	series := &DailySeries{
		Dates:     make([]string, 0),
		Purchases: make([]int, 0),
		Revenue:   make([]float64, 0),
	}
	if summary.MinDate == "" {
		return series, nil
	}

	stmt, err := db.Prepare(selectDailySeriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare daily series statement")
	}
	defer stmt.Close()

	rows, err := stmt.Query(summary.MinDate, summary.MaxDate)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute daily series statement")
	}
	defer rows.Close()

	for rows.Next() {
		var date string
		var purchases int
		var revenue float64
		if err := rows.Scan(&date, &purchases, &revenue); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		series.Dates = append(series.Dates, date)
		series.Purchases = append(series.Purchases, purchases)
		series.Revenue = append(series.Revenue, revenue)
	}

	return series, rows.Err()
}

// GetWeekdayCounts returns purchase counts by day of week, Monday first.
func GetWeekdayCounts(db *sql.DB) ([]*ListItem, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectWeekdaySQL)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute weekday statement")
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var dow int
		var count int64
		if err := rows.Scan(&dow, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		counts[dow] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read weekday rows")
	}

	// strftime %w is Sunday=0; reorder Monday-first.
	list := make([]*ListItem, 0, len(weekdayNames))
	for i, name := range weekdayNames {
		dow := (i + 1) % 7
		list = append(list, &ListItem{Name: name, Count: counts[dow]})
	}
	return list, nil
}

// GetHourCounts returns purchase counts by hour of day.
func GetHourCounts(db *sql.DB) ([]*ListItem, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectHourSQL)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute hour statement")
	}
	defer rows.Close()

	list := make([]*ListItem, 0)
	for rows.Next() {
		var hour int
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, &ListItem{Name: strconv.Itoa(hour), Count: count})
	}
	return list, rows.Err()
}

// GetTopCountries returns the countries with the most purchases.
func GetTopCountries(db *sql.DB, limit int) ([]*ListItem, error) {
	return topList(db, selectTopCountriesSQL, limit)
}

// GetTopProducts returns the products with the highest quantity sold.
func GetTopProducts(db *sql.DB, limit int) ([]*ListItem, error) {
	return topList(db, selectTopProductsSQL, limit)
}

func topList(db *sql.DB, query string, limit int) ([]*ListItem, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = topListLimitDefault
	}

	rows, err := db.Query(query, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute top list statement")
	}
	defer rows.Close()

	list := make([]*ListItem, 0, limit)
	for rows.Next() {
		item := &ListItem{}
		if err := rows.Scan(&item.Name, &item.Count); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, item)
	}
	return list, rows.Err()
}
