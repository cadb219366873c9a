package data

import (
	"database/sql"
	"math"

	"github.com/pkg/errors"
)

const (
	// CLVHorizonMonthsDefault is the projection horizon for lifetime
	// value, in 30-day periods.
	CLVHorizonMonthsDefault = 12

	// CLVDiscountRateDefault is the default per-period discount rate.
	CLVDiscountRateDefault = 0.01

	selectCLVSummarySQL = `SELECT
			customer_id,
			COUNT(DISTINCT invoice) - 1 AS frequency,
			julianday(MAX(invoice_date)) - julianday(MIN(invoice_date)) AS recency_days,
			julianday(?) - julianday(MIN(invoice_date)) AS age_days,
			SUM(total_price) / COUNT(DISTINCT invoice) AS monetary_value
		FROM purchase
		GROUP BY customer_id
		ORDER BY customer_id
	`

	insertCLVSQL = `INSERT INTO clv (
			customer_id, frequency, recency_days, age_days, monetary_value,
			predicted_purchases_30d, predicted_purchases_60d, predicted_purchases_90d,
			probability_alive, expected_avg_value, clv
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectCLVSQL = `SELECT customer_id, frequency, recency_days, age_days, monetary_value,
			COALESCE(predicted_purchases_30d, 0), COALESCE(predicted_purchases_60d, 0),
			COALESCE(predicted_purchases_90d, 0), COALESCE(probability_alive, 0),
			COALESCE(expected_avg_value, 0), COALESCE(clv, 0)
		FROM clv
		ORDER BY clv DESC
		LIMIT ?
	`

	selectSegmentCLVSQL = `SELECT r.segment, COUNT(*), AVG(c.clv), SUM(c.clv)
		FROM clv c
		JOIN rfm r ON r.customer_id = c.customer_id
		GROUP BY r.segment
		ORDER BY AVG(c.clv) DESC
	`
)

// CLVCustomer is one customer's purchase history summary and lifetime
// value estimates.
type CLVCustomer struct {
	CustomerID            int64   `json:"customer_id" yaml:"customer_id"`
	Frequency             int     `json:"frequency" yaml:"frequency"`
	RecencyDays           float64 `json:"recency_days" yaml:"recency_days"`
	AgeDays               float64 `json:"age_days" yaml:"age_days"`
	MonetaryValue         float64 `json:"monetary_value" yaml:"monetary_value"`
	PredictedPurchases30d float64 `json:"predicted_purchases_30d" yaml:"predicted_purchases_30d"`
	PredictedPurchases60d float64 `json:"predicted_purchases_60d" yaml:"predicted_purchases_60d"`
	PredictedPurchases90d float64 `json:"predicted_purchases_90d" yaml:"predicted_purchases_90d"`
	ProbabilityAlive      float64 `json:"probability_alive" yaml:"probability_alive"`
	ExpectedAvgValue      float64 `json:"expected_avg_value" yaml:"expected_avg_value"`
	CLV                   float64 `json:"clv" yaml:"clv"`
}

// SegmentCLV aggregates lifetime value over one RFM segment.
type SegmentCLV struct {
	Segment   string  `json:"segment" yaml:"segment"`
	Customers int     `json:"customers" yaml:"customers"`
	AvgCLV    float64 `json:"avg_clv" yaml:"avg_clv"`
	TotalCLV  float64 `json:"total_clv" yaml:"total_clv"`
}

// CLVResult is the outcome of a lifetime value computation pass.
type CLVResult struct {
	Customers     int               `json:"customers" yaml:"customers"`
	Repeaters     int               `json:"repeaters" yaml:"repeaters"`
	HorizonMonths int               `json:"horizon_months" yaml:"horizon_months"`
	DiscountRate  float64           `json:"discount_rate" yaml:"discount_rate"`
	AvgCLV        float64           `json:"avg_clv" yaml:"avg_clv"`
	TotalCLV      float64           `json:"total_clv" yaml:"total_clv"`
	Purchase      *BGNBDParams      `json:"purchase_model" yaml:"purchase_model"`
	Monetary      *GammaGammaParams `json:"monetary_model" yaml:"monetary_model"`
	Segments      []*SegmentCLV     `json:"segments,omitempty" yaml:"segments,omitempty"`
}

// ComputeCLV fits the BG/NBD and Gamma-Gamma models over the purchase
// history, scores every customer, and rewrites the clv table. The
// horizon is in 30-day periods, the discount rate per period.
func ComputeCLV(db *sql.DB, horizonMonths int, discountRate float64) (*CLVResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if horizonMonths <= 0 {
		horizonMonths = CLVHorizonMonthsDefault
	}
	if discountRate <= 0 {
		discountRate = CLVDiscountRateDefault
	}

	last, err := LastPurchaseDate(db)
	if err != nil {
		return nil, err
	}

	customers, err := queryCLVSummary(db, last.UTC().Format(dateFormat))
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, errors.New("no customers to score")
	}

	obs := make([]bgnbdObs, len(customers))
	var repeatFreq, repeatValue []float64
	for i, c := range customers {
		obs[i] = bgnbdObs{x: float64(c.Frequency), tx: c.RecencyDays, t: c.AgeDays}
		if c.Frequency > 0 && c.MonetaryValue > 0 {
			repeatFreq = append(repeatFreq, float64(c.Frequency))
			repeatValue = append(repeatValue, c.MonetaryValue)
		}
	}
	if len(repeatFreq) == 0 {
		return nil, errors.New("no repeat purchasers: cannot fit lifetime value models")
	}

	bg, err := FitBGNBD(obs)
	if err != nil {
		return nil, err
	}
	gg, err := FitGammaGamma(repeatFreq, repeatValue)
	if err != nil {
		return nil, err
	}

	total := 0.0
	for _, c := range customers {
		x := float64(c.Frequency)
		c.PredictedPurchases30d = finiteOrZero(bg.ExpectedPurchases(30, x, c.RecencyDays, c.AgeDays))
		c.PredictedPurchases60d = finiteOrZero(bg.ExpectedPurchases(60, x, c.RecencyDays, c.AgeDays))
		c.PredictedPurchases90d = finiteOrZero(bg.ExpectedPurchases(90, x, c.RecencyDays, c.AgeDays))
		c.ProbabilityAlive = bg.ProbabilityAlive(x, c.RecencyDays, c.AgeDays)
		c.ExpectedAvgValue = finiteOrZero(gg.ExpectedAverageValue(x, c.MonetaryValue))
		c.CLV = finiteOrZero(LifetimeValue(bg, x, c.RecencyDays, c.AgeDays, c.ExpectedAvgValue, horizonMonths, discountRate))
		total += c.CLV
	}

	if err := saveCLV(db, customers); err != nil {
		return nil, err
	}

	segments, err := GetSegmentCLV(db)
	if err != nil {
		return nil, err
	}

	return &CLVResult{
		Customers:     len(customers),
		Repeaters:     len(repeatFreq),
		HorizonMonths: horizonMonths,
		DiscountRate:  discountRate,
		AvgCLV:        total / float64(len(customers)),
		TotalCLV:      total,
		Purchase:      bg,
		Monetary:      gg,
		Segments:      segments,
	}, nil
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func queryCLVSummary(db *sql.DB, reference string) ([]*CLVCustomer, error) {
	stmt, err := db.Prepare(selectCLVSummarySQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare clv summary statement")
	}
	defer stmt.Close()

	rows, err := stmt.Query(reference)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute clv summary statement")
	}
	defer rows.Close()

	list := make([]*CLVCustomer, 0)
	for rows.Next() {
		c := &CLVCustomer{}
		if err := rows.Scan(&c.CustomerID, &c.Frequency, &c.RecencyDays, &c.AgeDays, &c.MonetaryValue); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func saveCLV(db *sql.DB, customers []*CLVCustomer) error {
	if _, err := db.Exec("DELETE FROM clv"); err != nil {
		return errors.Wrap(err, "failed to clear clv table")
	}

	stmt, err := db.Prepare(insertCLVSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare clv insert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	for _, c := range customers {
		if _, err := tx.Stmt(stmt).Exec(c.CustomerID, c.Frequency, c.RecencyDays, c.AgeDays,
			c.MonetaryValue, c.PredictedPurchases30d, c.PredictedPurchases60d,
			c.PredictedPurchases90d, c.ProbabilityAlive, c.ExpectedAvgValue, c.CLV); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return errors.Wrap(rbErr, "failed to rollback transaction")
			}
			return errors.Wrapf(err, "failed to insert clv row for customer %d", c.CustomerID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// QueryCLV returns stored lifetime value rows, highest value first.
func QueryCLV(db *sql.DB, limit int) ([]*CLVCustomer, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(selectCLVSQL, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute clv select statement")
	}
	defer rows.Close()

	list := make([]*CLVCustomer, 0)
	for rows.Next() {
		c := &CLVCustomer{}
		if err := rows.Scan(&c.CustomerID, &c.Frequency, &c.RecencyDays, &c.AgeDays,
			&c.MonetaryValue, &c.PredictedPurchases30d, &c.PredictedPurchases60d,
			&c.PredictedPurchases90d, &c.ProbabilityAlive, &c.ExpectedAvgValue, &c.CLV); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// GetSegmentCLV averages stored lifetime value per RFM segment. The
// result is empty until both the rfm and clv tables are populated.
func GetSegmentCLV(db *sql.DB) ([]*SegmentCLV, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectSegmentCLVSQL)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute segment clv statement")
	}
	defer rows.Close()

	list := make([]*SegmentCLV, 0)
	for rows.Next() {
		s := &SegmentCLV{}
		if err := rows.Scan(&s.Segment, &s.Customers, &s.AvgCLV, &s.TotalCLV); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
