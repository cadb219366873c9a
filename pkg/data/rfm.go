package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const (
	// Scores are quintiles; recency is inverted so that recent
	// customers score high.
	selectRFMMetricsSQL = `WITH metrics AS (
			SELECT
				customer_id,
				CAST(julianday(?) - julianday(MAX(invoice_date)) AS INTEGER) AS recency_days,
				COUNT(DISTINCT invoice) AS frequency,
				SUM(total_price) AS monetary
			FROM purchase
			GROUP BY customer_id
		)
		SELECT
			customer_id,
			recency_days,
			frequency,
			monetary,
			6 - NTILE(5) OVER (ORDER BY recency_days) AS r_score,
			NTILE(5) OVER (ORDER BY frequency) AS f_score,
			NTILE(5) OVER (ORDER BY monetary) AS m_score
		FROM metrics
		ORDER BY customer_id
	`

	insertRFMSQL = `INSERT INTO rfm (customer_id, recency_days, frequency, monetary, r_score, f_score, m_score, segment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectRFMSQL = `SELECT customer_id, recency_days, frequency, monetary, r_score, f_score, m_score, segment
		FROM rfm
		WHERE segment = COALESCE(?, segment)
		ORDER BY monetary DESC
		LIMIT ?
	`

	selectSegmentStatsSQL = `SELECT
			segment,
			COUNT(*) AS customers,
			AVG(recency_days) AS avg_recency,
			AVG(frequency) AS avg_frequency,
			AVG(monetary) AS avg_monetary
		FROM rfm
		GROUP BY segment
		ORDER BY 2 DESC
	`
)

// Segment labels, from best to worst.
const (
	SegmentChampions          = "Champions"
	SegmentLoyal              = "Loyal Customers"
	SegmentPotentialLoyalists = "Potential Loyalists"
	SegmentAtRisk             = "At Risk"
	SegmentLost               = "Lost"
	SegmentLowValue           = "Low-Value"
)

// RFMScore is one customer's recency/frequency/monetary profile.
type RFMScore struct {
	CustomerID  int64   `json:"customer_id" yaml:"customer_id"`
	RecencyDays int     `json:"recency_days" yaml:"recency_days"`
	Frequency   int     `json:"frequency" yaml:"frequency"`
	Monetary    float64 `json:"monetary" yaml:"monetary"`
	RScore      int     `json:"r_score" yaml:"r_score"`
	FScore      int     `json:"f_score" yaml:"f_score"`
	MScore      int     `json:"m_score" yaml:"m_score"`
	Segment     string  `json:"segment" yaml:"segment"`
}

// SegmentStat summarizes one RFM segment.
type SegmentStat struct {
	Segment      string  `json:"segment" yaml:"segment"`
	Customers    int64   `json:"customers" yaml:"customers"`
	AvgRecency   float64 `json:"avg_recency" yaml:"avg_recency"`
	AvgFrequency float64 `json:"avg_frequency" yaml:"avg_frequency"`
	AvgMonetary  float64 `json:"avg_monetary" yaml:"avg_monetary"`
}

// RFMResult is the outcome of an RFM computation pass.
type RFMResult struct {
	ReferenceDate string         `json:"reference_date" yaml:"reference_date"`
	Customers     int            `json:"customers" yaml:"customers"`
	Segments      []*SegmentStat `json:"segments" yaml:"segments"`
}

// segmentFor maps R and F scores to a segment label. The rules are
// evaluated in order and the last matching rule wins, so a very recent
// one-time buyer lands in Potential Loyalists rather than Champions.
func segmentFor(r, f int) string {
	segment := SegmentLowValue
	if r >= 4 {
		segment = SegmentChampions
	}
	if r >= 2 && r < 4 && f >= 3 {
		segment = SegmentLoyal
	}
	if r >= 3 && f < 3 {
		segment = SegmentPotentialLoyalists
	}
	if r < 2 && f >= 4 {
		segment = SegmentAtRisk
	}
	if r < 2 && f < 2 {
		segment = SegmentLost
	}
	return segment
}

// ComputeRFM recomputes the rfm table from the imported purchases.
// The reference date is one day after the last purchase in the dataset.
func ComputeRFM(db *sql.DB) (*RFMResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	last, err := LastPurchaseDate(db)
	if err != nil {
		return nil, err
	}
	reference := last.AddDate(0, 0, 1)

	scores, err := queryRFMMetrics(db, reference)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, errors.New("no customers to score")
	}

	if _, err := db.Exec("DELETE FROM rfm"); err != nil {
		return nil, errors.Wrap(err, "failed to clear rfm table")
	}

	stmt, err := db.Prepare(insertRFMSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare rfm insert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	for _, s := range scores {
		s.Segment = segmentFor(s.RScore, s.FScore)
		if _, err := tx.Stmt(stmt).Exec(s.CustomerID, s.RecencyDays, s.Frequency, s.Monetary,
			s.RScore, s.FScore, s.MScore, s.Segment); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return nil, errors.Wrap(rbErr, "failed to rollback transaction")
			}
			return nil, errors.Wrapf(err, "failed to insert rfm row for customer %d", s.CustomerID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}

	stats, err := GetSegmentStats(db)
	if err != nil {
		return nil, err
	}

	return &RFMResult{
		ReferenceDate: reference.UTC().Format(dateOnlyFormat),
		Customers:     len(scores),
		Segments:      stats,
	}, nil
}

func queryRFMMetrics(db *sql.DB, reference time.Time) ([]*RFMScore, error) {
	stmt, err := db.Prepare(selectRFMMetricsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare rfm metrics statement")
	}
	defer stmt.Close()

	rows, err := stmt.Query(reference.UTC().Format(dateFormat))
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute rfm metrics statement")
	}
	defer rows.Close()

	list := make([]*RFMScore, 0)
	for rows.Next() {
		s := &RFMScore{}
		if err := rows.Scan(&s.CustomerID, &s.RecencyDays, &s.Frequency, &s.Monetary,
			&s.RScore, &s.FScore, &s.MScore); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// QueryRFM returns stored RFM scores, optionally filtered by segment.
func QueryRFM(db *sql.DB, segment *string, limit int) ([]*RFMScore, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(selectRFMSQL, segment, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute rfm select statement")
	}
	defer rows.Close()

	list := make([]*RFMScore, 0)
	for rows.Next() {
		s := &RFMScore{}
		if err := rows.Scan(&s.CustomerID, &s.RecencyDays, &s.Frequency, &s.Monetary,
			&s.RScore, &s.FScore, &s.MScore, &s.Segment); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// GetSegmentStats returns per-segment averages from the rfm table.
func GetSegmentStats(db *sql.DB) ([]*SegmentStat, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectSegmentStatsSQL)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute segment stats statement")
	}
	defer rows.Close()

	list := make([]*SegmentStat, 0)
	for rows.Next() {
		s := &SegmentStat{}
		if err := rows.Scan(&s.Segment, &s.Customers, &s.AvgRecency, &s.AvgFrequency, &s.AvgMonetary); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
