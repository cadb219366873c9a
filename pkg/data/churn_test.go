package data

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChurn_Labels(t *testing.T) {
	db := setupTestDB(t)

	latest := time.Date(2011, 12, 9, 12, 0, 0, 0, time.UTC)

	// Active: purchases right up to the end of the window.
	insertPurchase(t, db, "A1", 100, latest.AddDate(0, 0, -200), 2, 3.0)
	insertPurchase(t, db, "A2", 100, latest.AddDate(0, 0, -10), 1, 4.5)
	insertPurchase(t, db, "A3", 100, latest, 3, 2.0)

	// Churned: quiet for well over the threshold.
	insertPurchase(t, db, "B1", 200, latest.AddDate(0, 0, -300), 5, 1.5)
	insertPurchase(t, db, "B2", 200, latest.AddDate(0, 0, -250), 2, 2.5)

	res, err := ComputeChurn(db, 90)
	require.NoError(t, err)

	assert.Equal(t, 90, res.ThresholdDays)
	assert.Equal(t, 2, res.Customers)
	assert.Equal(t, 1, res.Churned)
	assert.InDelta(t, 0.5, res.ChurnRate, 0.001)
	// Too few customers for a model.
	assert.Nil(t, res.Model)

	rows, err := QueryChurn(db, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[int64]*ChurnCustomer{}
	for _, c := range rows {
		byID[c.CustomerID] = c
	}

	active := byID[100]
	require.NotNil(t, active)
	assert.False(t, active.Churned)
	assert.Equal(t, 3, active.Transactions)
	assert.Equal(t, 3, active.Invoices)
	assert.Equal(t, 200, active.LifetimeDays)
	assert.Equal(t, 0, active.DaysSinceLast)
	assert.InDelta(t, 16.5, active.TotalSpend, 0.001)
	assert.InDelta(t, 5.5, active.AvgOrderValue, 0.001)
	assert.InDelta(t, 3.0/(200.0/30.0), active.PurchaseFrequency, 0.001)

	gone := byID[200]
	require.NotNil(t, gone)
	assert.True(t, gone.Churned)
	assert.Equal(t, 250, gone.DaysSinceLast)
	assert.Equal(t, 50, gone.LifetimeDays)
}

func TestComputeChurn_SingleInvoiceCustomer(t *testing.T) {
	db := setupTestDB(t)

	when := time.Date(2011, 6, 1, 9, 30, 0, 0, time.UTC)
	insertPurchase(t, db, "ONE", 300, when, 4, 2.5)

	res, err := ComputeChurn(db, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Customers)
	assert.Equal(t, 0, res.Churned)

	rows, err := QueryChurn(db, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	c := rows[0]
	assert.Equal(t, 0, c.LifetimeDays)
	// Zero lifetime must not divide.
	assert.Equal(t, 0.0, c.PurchaseFrequency)
	assert.Equal(t, 0.0, c.StdQuantity)
	assert.Equal(t, 0.0, c.StdSpend)
}

func TestComputeChurn_FitsModel(t *testing.T) {
	db := setupTestDB(t)

	latest := time.Date(2011, 12, 9, 0, 0, 0, 0, time.UTC)

	// Two well separated populations, enough of each for a split.
	for i := 0; i < 15; i++ {
		id := int64(1000 + i)
		insertPurchase(t, db, "ACT1-"+strconv.Itoa(i), id, latest.AddDate(0, 0, -120-i), 8, 5.0)
		insertPurchase(t, db, "ACT2-"+strconv.Itoa(i), id, latest.AddDate(0, 0, -60-i), 10, 5.0)
		insertPurchase(t, db, "ACT3-"+strconv.Itoa(i), id, latest.AddDate(0, 0, -i), 12, 5.0)
	}
	for i := 0; i < 15; i++ {
		id := int64(2000 + i)
		insertPurchase(t, db, "GONE-"+strconv.Itoa(i), id, latest.AddDate(0, 0, -200-i), 1, 1.0)
	}

	res, err := ComputeChurn(db, 90)
	require.NoError(t, err)
	require.NotNil(t, res.Model)

	assert.Equal(t, 30, res.Customers)
	assert.Equal(t, 15, res.Churned)
	assert.Equal(t, 21, res.Model.TrainSize)
	assert.Equal(t, 9, res.Model.TestSize)
	assert.Len(t, res.Model.Weights, len(churnFeatureNames))
	// Populations are trivially separable, the model should notice.
	assert.GreaterOrEqual(t, res.Model.AUC, 0.5)
	assert.Greater(t, res.Model.Accuracy, 0.8)

	churnedOnly := true
	rows, err := QueryChurn(db, &churnedOnly, 50)
	require.NoError(t, err)
	assert.Len(t, rows, 15)
	for _, c := range rows {
		assert.True(t, c.Churned)
	}

	// Churned customers should carry higher risk than active ones.
	activeOnly := false
	activeRows, err := QueryChurn(db, &activeOnly, 50)
	require.NoError(t, err)
	require.NotEmpty(t, activeRows)
	assert.Greater(t, rows[0].Risk, activeRows[len(activeRows)-1].Risk)
}

func TestComputeChurn_Reruns(t *testing.T) {
	db := setupTestDB(t)

	latest := time.Date(2011, 12, 9, 0, 0, 0, 0, time.UTC)
	insertPurchase(t, db, "R1", 400, latest.AddDate(0, 0, -5), 2, 2.0)
	insertPurchase(t, db, "R2", 500, latest.AddDate(0, 0, -150), 2, 2.0)

	_, err := ComputeChurn(db, 90)
	require.NoError(t, err)
	_, err = ComputeChurn(db, 90)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM churn").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestComputeChurn_Empty(t *testing.T) {
	db := setupTestDB(t)
	_, err := ComputeChurn(db, 90)
	assert.Error(t, err)
}

func TestComputeChurn_NilDB(t *testing.T) {
	_, err := ComputeChurn(nil, 90)
	assert.Error(t, err)
}
