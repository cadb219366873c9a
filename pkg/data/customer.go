package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const (
	selectCustomerListSQL = `SELECT
			customer_id,
			MAX(country) AS country,
			MIN(invoice_date) AS first_purchase,
			MAX(invoice_date) AS last_purchase,
			COUNT(DISTINCT invoice) AS invoices,
			COUNT(*) AS transactions,
			SUM(quantity) AS total_quantity,
			SUM(total_price) AS total_spend
		FROM purchase
		WHERE country = COALESCE(?, country)
		GROUP BY customer_id
		ORDER BY total_spend DESC
		LIMIT ?
	`

	selectCustomerSQL = `SELECT
			customer_id,
			MAX(country) AS country,
			MIN(invoice_date) AS first_purchase,
			MAX(invoice_date) AS last_purchase,
			COUNT(DISTINCT invoice) AS invoices,
			COUNT(*) AS transactions,
			SUM(quantity) AS total_quantity,
			SUM(total_price) AS total_spend
		FROM purchase
		WHERE customer_id = ?
		GROUP BY customer_id
	`

	customerRecentPurchases = 10
)

// CustomerSummary is one customer's purchase aggregates.
type CustomerSummary struct {
	CustomerID    int64     `json:"customer_id" yaml:"customer_id"`
	Country       string    `json:"country" yaml:"country"`
	FirstPurchase time.Time `json:"first_purchase" yaml:"first_purchase"`
	LastPurchase  time.Time `json:"last_purchase" yaml:"last_purchase"`
	Invoices      int       `json:"invoices" yaml:"invoices"`
	Transactions  int       `json:"transactions" yaml:"transactions"`
	TotalQuantity int       `json:"total_quantity" yaml:"total_quantity"`
	TotalSpend    float64   `json:"total_spend" yaml:"total_spend"`
}

// CustomerDetail joins a customer's aggregates with whatever derived
// scores have been computed for them.
type CustomerDetail struct {
	CustomerSummary `yaml:",inline"`

	RFM             *RFMScore      `json:"rfm,omitempty" yaml:"rfm,omitempty"`
	Churn           *ChurnCustomer `json:"churn,omitempty" yaml:"churn,omitempty"`
	CLV             *CLVCustomer   `json:"clv,omitempty" yaml:"clv,omitempty"`
	RecentPurchases []*Purchase    `json:"recent_purchases" yaml:"recent_purchases"`
}

// ListCustomers returns per-customer aggregates, biggest spenders
// first, optionally filtered by country.
func ListCustomers(db *sql.DB, country *string, limit int) ([]*CustomerSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(selectCustomerListSQL, country, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute customer list statement")
	}
	defer rows.Close()

	list := make([]*CustomerSummary, 0)
	for rows.Next() {
		c := &CustomerSummary{}
		if err := scanCustomerSummary(rows.Scan, c); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// GetCustomer returns one customer's full profile: aggregates, derived
// scores where computed, and their most recent purchases. Returns nil
// when the customer has no purchases.
func GetCustomer(db *sql.DB, customerID int64) (*CustomerDetail, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	d := &CustomerDetail{}
	row := db.QueryRow(selectCustomerSQL, customerID)
	if err := scanCustomerSummary(row.Scan, &d.CustomerSummary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var err error
	if d.RFM, err = getCustomerRFM(db, customerID); err != nil {
		return nil, err
	}
	if d.Churn, err = getCustomerChurn(db, customerID); err != nil {
		return nil, err
	}
	if d.CLV, err = getCustomerCLV(db, customerID); err != nil {
		return nil, err
	}

	d.RecentPurchases, err = SearchPurchases(db, &PurchaseSearchCriteria{
		CustomerID: &customerID,
		PageSize:   customerRecentPurchases,
	})
	if err != nil {
		return nil, err
	}

	return d, nil
}

type scanFunc func(dest ...any) error

func scanCustomerSummary(scan scanFunc, c *CustomerSummary) error {
	var first, last string
	if err := scan(&c.CustomerID, &c.Country, &first, &last,
		&c.Invoices, &c.Transactions, &c.TotalQuantity, &c.TotalSpend); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return errors.Wrap(err, "failed to scan row")
	}

	var err error
	if c.FirstPurchase, err = time.Parse(dateFormat, first); err != nil {
		return errors.Wrapf(err, "failed to parse date: %s", first)
	}
	if c.LastPurchase, err = time.Parse(dateFormat, last); err != nil {
		return errors.Wrapf(err, "failed to parse date: %s", last)
	}
	return nil
}

func getCustomerRFM(db *sql.DB, customerID int64) (*RFMScore, error) {
	s := &RFMScore{}
	err := db.QueryRow(`SELECT customer_id, recency_days, frequency, monetary, r_score, f_score, m_score, segment
		FROM rfm WHERE customer_id = ?`, customerID).
		Scan(&s.CustomerID, &s.RecencyDays, &s.Frequency, &s.Monetary,
			&s.RScore, &s.FScore, &s.MScore, &s.Segment)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query rfm score")
	}
	return s, nil
}

func getCustomerChurn(db *sql.DB, customerID int64) (*ChurnCustomer, error) {
	c := &ChurnCustomer{}
	err := db.QueryRow(`SELECT customer_id, lifetime_days, days_since_last, transactions, invoices,
			total_quantity, avg_quantity, std_quantity, total_spend, avg_spend, std_spend,
			avg_order_value, purchase_frequency, churned, COALESCE(risk, 0)
		FROM churn WHERE customer_id = ?`, customerID).
		Scan(&c.CustomerID, &c.LifetimeDays, &c.DaysSinceLast, &c.Transactions, &c.Invoices,
			&c.TotalQuantity, &c.AvgQuantity, &c.StdQuantity, &c.TotalSpend, &c.AvgSpend,
			&c.StdSpend, &c.AvgOrderValue, &c.PurchaseFrequency, &c.Churned, &c.Risk)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query churn row")
	}
	return c, nil
}

func getCustomerCLV(db *sql.DB, customerID int64) (*CLVCustomer, error) {
	c := &CLVCustomer{}
	err := db.QueryRow(`SELECT customer_id, frequency, recency_days, age_days, monetary_value,
			COALESCE(predicted_purchases_30d, 0), COALESCE(predicted_purchases_60d, 0),
			COALESCE(predicted_purchases_90d, 0), COALESCE(probability_alive, 0),
			COALESCE(expected_avg_value, 0), COALESCE(clv, 0)
		FROM clv WHERE customer_id = ?`, customerID).
		Scan(&c.CustomerID, &c.Frequency, &c.RecencyDays, &c.AgeDays, &c.MonetaryValue,
			&c.PredictedPurchases30d, &c.PredictedPurchases60d, &c.PredictedPurchases90d,
			&c.ProbabilityAlive, &c.ExpectedAvgValue, &c.CLV)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query clv row")
	}
	return c, nil
}
