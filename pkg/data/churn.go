package data

import (
	"database/sql"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/retailkit/crmctl/pkg/stats"
)

const (
	// ChurnThresholdDaysDefault labels a customer churned after this
	// many days without a purchase.
	ChurnThresholdDaysDefault = 90

	churnTrainSplit  = 0.7
	churnTrainSeed   = 42
	churnMinModelSet = 20

	selectChurnFeaturesSQL = `SELECT
			customer_id,
			CAST(julianday(MAX(invoice_date)) - julianday(MIN(invoice_date)) AS INTEGER) AS lifetime_days,
			CAST(julianday(?) - julianday(MAX(invoice_date)) AS INTEGER) AS days_since_last,
			COUNT(*) AS transactions,
			COUNT(DISTINCT invoice) AS invoices,
			SUM(quantity) AS total_quantity,
			AVG(quantity) AS avg_quantity,
			AVG(quantity * quantity) - AVG(quantity) * AVG(quantity) AS var_quantity,
			SUM(total_price) AS total_spend,
			AVG(total_price) AS avg_spend,
			AVG(total_price * total_price) - AVG(total_price) * AVG(total_price) AS var_spend
		FROM purchase
		GROUP BY customer_id
		ORDER BY customer_id
	`

	insertChurnSQL = `INSERT INTO churn (
			customer_id, lifetime_days, days_since_last, transactions, invoices,
			total_quantity, avg_quantity, std_quantity, total_spend, avg_spend, std_spend,
			avg_order_value, purchase_frequency, churned, risk
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectChurnSQL = `SELECT customer_id, lifetime_days, days_since_last, transactions, invoices,
			total_quantity, avg_quantity, std_quantity, total_spend, avg_spend, std_spend,
			avg_order_value, purchase_frequency, churned, COALESCE(risk, 0)
		FROM churn
		WHERE churned = COALESCE(?, churned)
		ORDER BY risk DESC
		LIMIT ?
	`
)

// churnFeatureNames is the model feature order. days_since_last is
// deliberately excluded: it defines the label.
var churnFeatureNames = []string{
	"lifetime_days",
	"transactions",
	"invoices",
	"total_quantity",
	"avg_quantity",
	"std_quantity",
	"total_spend",
	"avg_spend",
	"std_spend",
	"avg_order_value",
	"purchase_frequency",
}

// ChurnCustomer is one customer's engineered features and churn status.
type ChurnCustomer struct {
	CustomerID        int64   `json:"customer_id" yaml:"customer_id"`
	LifetimeDays      int     `json:"lifetime_days" yaml:"lifetime_days"`
	DaysSinceLast     int     `json:"days_since_last" yaml:"days_since_last"`
	Transactions      int     `json:"transactions" yaml:"transactions"`
	Invoices          int     `json:"invoices" yaml:"invoices"`
	TotalQuantity     int     `json:"total_quantity" yaml:"total_quantity"`
	AvgQuantity       float64 `json:"avg_quantity" yaml:"avg_quantity"`
	StdQuantity       float64 `json:"std_quantity" yaml:"std_quantity"`
	TotalSpend        float64 `json:"total_spend" yaml:"total_spend"`
	AvgSpend          float64 `json:"avg_spend" yaml:"avg_spend"`
	StdSpend          float64 `json:"std_spend" yaml:"std_spend"`
	AvgOrderValue     float64 `json:"avg_order_value" yaml:"avg_order_value"`
	PurchaseFrequency float64 `json:"purchase_frequency" yaml:"purchase_frequency"`
	Churned           bool    `json:"churned" yaml:"churned"`
	Risk              float64 `json:"risk" yaml:"risk"`
}

// FeatureWeight reports one model coefficient on standardized input.
type FeatureWeight struct {
	Feature string  `json:"feature" yaml:"feature"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

// ChurnModelReport summarizes the fitted risk model.
type ChurnModelReport struct {
	TrainSize int              `json:"train_size" yaml:"train_size"`
	TestSize  int              `json:"test_size" yaml:"test_size"`
	Accuracy  float64          `json:"accuracy" yaml:"accuracy"`
	AUC       float64          `json:"auc" yaml:"auc"`
	Weights   []*FeatureWeight `json:"weights" yaml:"weights"`
}

// ChurnResult is the outcome of a churn computation pass.
type ChurnResult struct {
	ThresholdDays int               `json:"threshold_days" yaml:"threshold_days"`
	Customers     int               `json:"customers" yaml:"customers"`
	Churned       int               `json:"churned" yaml:"churned"`
	ChurnRate     float64           `json:"churn_rate" yaml:"churn_rate"`
	Model         *ChurnModelReport `json:"model,omitempty" yaml:"model,omitempty"`
}

func (c *ChurnCustomer) featureVector() []float64 {
	return []float64{
		float64(c.LifetimeDays),
		float64(c.Transactions),
		float64(c.Invoices),
		float64(c.TotalQuantity),
		c.AvgQuantity,
		c.StdQuantity,
		c.TotalSpend,
		c.AvgSpend,
		c.StdSpend,
		c.AvgOrderValue,
		c.PurchaseFrequency,
	}
}

// ComputeChurn labels every customer against the inactivity threshold,
// fits a logistic risk model on the engineered features, and rewrites
// the churn table.
func ComputeChurn(db *sql.DB, thresholdDays int) (*ChurnResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if thresholdDays <= 0 {
		thresholdDays = ChurnThresholdDaysDefault
	}

	last, err := LastPurchaseDate(db)
	if err != nil {
		return nil, err
	}

	customers, err := queryChurnFeatures(db, last.UTC().Format(dateFormat))
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, errors.New("no customers to label")
	}

	churned := 0
	for _, c := range customers {
		c.Churned = c.DaysSinceLast > thresholdDays
		if c.Churned {
			churned++
		}
	}

	res := &ChurnResult{
		ThresholdDays: thresholdDays,
		Customers:     len(customers),
		Churned:       churned,
		ChurnRate:     float64(churned) / float64(len(customers)),
	}

	// A risk model only makes sense with both classes present and a
	// workable sample.
	if len(customers) >= churnMinModelSet && churned > 0 && churned < len(customers) {
		report, err := fitChurnModel(customers)
		if err != nil {
			return nil, err
		}
		res.Model = report
	}

	if err := saveChurn(db, customers); err != nil {
		return nil, err
	}

	return res, nil
}

func fitChurnModel(customers []*ChurnCustomer) (*ChurnModelReport, error) {
	// Deterministic shuffle so repeated runs produce the same split.
	rng := rand.New(rand.NewSource(churnTrainSeed))
	order := rng.Perm(len(customers))

	split := int(float64(len(customers)) * churnTrainSplit)
	trainX := make([][]float64, 0, split)
	trainY := make([]bool, 0, split)
	testX := make([][]float64, 0, len(customers)-split)
	testY := make([]bool, 0, len(customers)-split)

	for i, idx := range order {
		c := customers[idx]
		if i < split {
			trainX = append(trainX, c.featureVector())
			trainY = append(trainY, c.Churned)
		} else {
			testX = append(testX, c.featureVector())
			testY = append(testY, c.Churned)
		}
	}

	model, err := stats.FitLogistic(trainX, trainY, 800, 0.3, 0.001)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fit churn model")
	}

	scores := make([]float64, len(testX))
	correct := 0
	for i, x := range testX {
		scores[i] = model.Predict(x)
		if (scores[i] >= 0.5) == testY[i] {
			correct++
		}
	}

	accuracy := 0.0
	if len(testX) > 0 {
		accuracy = float64(correct) / float64(len(testX))
	}

	weights := make([]*FeatureWeight, len(churnFeatureNames))
	for i, name := range churnFeatureNames {
		weights[i] = &FeatureWeight{Feature: name, Weight: model.Weights[i]}
	}

	for _, c := range customers {
		c.Risk = model.Predict(c.featureVector())
	}

	return &ChurnModelReport{
		TrainSize: len(trainX),
		TestSize:  len(testX),
		Accuracy:  accuracy,
		AUC:       stats.AUC(scores, testY),
		Weights:   weights,
	}, nil
}

func queryChurnFeatures(db *sql.DB, reference string) ([]*ChurnCustomer, error) {
	stmt, err := db.Prepare(selectChurnFeaturesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare churn features statement")
	}
	defer stmt.Close()

	rows, err := stmt.Query(reference)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute churn features statement")
	}
	defer rows.Close()

	list := make([]*ChurnCustomer, 0)
	for rows.Next() {
		c := &ChurnCustomer{}
		var varQty, varSpend float64
		if err := rows.Scan(&c.CustomerID, &c.LifetimeDays, &c.DaysSinceLast, &c.Transactions,
			&c.Invoices, &c.TotalQuantity, &c.AvgQuantity, &varQty,
			&c.TotalSpend, &c.AvgSpend, &varSpend); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}

		c.StdQuantity = math.Sqrt(math.Max(varQty, 0))
		c.StdSpend = math.Sqrt(math.Max(varSpend, 0))
		if c.Invoices > 0 {
			c.AvgOrderValue = c.TotalSpend / float64(c.Invoices)
		}
		if c.LifetimeDays > 0 {
			c.PurchaseFrequency = float64(c.Invoices) / (float64(c.LifetimeDays) / 30.0)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func saveChurn(db *sql.DB, customers []*ChurnCustomer) error {
	if _, err := db.Exec("DELETE FROM churn"); err != nil {
		return errors.Wrap(err, "failed to clear churn table")
	}

	stmt, err := db.Prepare(insertChurnSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare churn insert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	for _, c := range customers {
		if _, err := tx.Stmt(stmt).Exec(c.CustomerID, c.LifetimeDays, c.DaysSinceLast,
			c.Transactions, c.Invoices, c.TotalQuantity, c.AvgQuantity, c.StdQuantity,
			c.TotalSpend, c.AvgSpend, c.StdSpend, c.AvgOrderValue, c.PurchaseFrequency,
			c.Churned, c.Risk); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return errors.Wrap(rbErr, "failed to rollback transaction")
			}
			return errors.Wrapf(err, "failed to insert churn row for customer %d", c.CustomerID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// QueryChurn returns stored churn rows, optionally filtered by label,
// highest risk first.
func QueryChurn(db *sql.DB, churned *bool, limit int) ([]*ChurnCustomer, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(selectChurnSQL, churned, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to execute churn select statement")
	}
	defer rows.Close()

	list := make([]*ChurnCustomer, 0)
	for rows.Next() {
		c := &ChurnCustomer{}
		if err := rows.Scan(&c.CustomerID, &c.LifetimeDays, &c.DaysSinceLast, &c.Transactions,
			&c.Invoices, &c.TotalQuantity, &c.AvgQuantity, &c.StdQuantity,
			&c.TotalSpend, &c.AvgSpend, &c.StdSpend, &c.AvgOrderValue, &c.PurchaseFrequency,
			&c.Churned, &c.Risk); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
