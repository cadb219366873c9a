//go:build integration

package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupWarehouse(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("warehouse"),
		postgres.WithUsername("crm"),
		postgres.WithPassword("crm"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(ctr))
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPushWarehouse(t *testing.T) {
	db := setupTestDB(t)
	dsn := setupWarehouse(t)
	ctx := context.Background()

	end := time.Date(2011, 12, 9, 0, 0, 0, 0, time.UTC)
	for c := 0; c < 6; c++ {
		id := int64(100 + c)
		insertPurchase(t, db, "P1-"+itoa64(id), id, end.AddDate(0, 0, -c*40-30), 2, 5.0)
		insertPurchase(t, db, "P2-"+itoa64(id), id, end.AddDate(0, 0, -c*40), 3, 4.0)
	}

	_, err := ComputeRFM(db)
	require.NoError(t, err)
	_, err = ComputeChurn(db, 90)
	require.NoError(t, err)
	_, err = ComputeCLV(db, 6, 0.01)
	require.NoError(t, err)

	res, err := PushWarehouse(ctx, db, dsn)
	require.NoError(t, err)
	require.Len(t, res.Tables, 3)
	for _, tp := range res.Tables {
		assert.Equal(t, int64(6), tp.Rows, tp.Table)
	}

	wh, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer wh.Close()

	for _, table := range []string{"crm_rfm", "crm_churn", "crm_clv"} {
		var count int
		require.NoError(t, wh.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&count))
		assert.Equal(t, 6, count, table)
	}

	var segment string
	require.NoError(t, wh.QueryRow(
		"SELECT segment FROM crm_rfm WHERE customer_id = 100").Scan(&segment))
	assert.NotEmpty(t, segment)

	// A second push replaces rather than appends.
	_, err = PushWarehouse(ctx, db, dsn)
	require.NoError(t, err)
	var count int
	require.NoError(t, wh.QueryRow("SELECT COUNT(*) FROM crm_rfm").Scan(&count))
	assert.Equal(t, 6, count)
}

func TestPushWarehouse_BadDSN(t *testing.T) {
	db := setupTestDB(t)
	_, err := PushWarehouse(context.Background(), db, "")
	assert.Error(t, err)
}
