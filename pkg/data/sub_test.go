package data

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertCountryPurchase(t *testing.T, db *sql.DB, invoice, country string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO purchase
		(invoice, stock_code, description, quantity, unit_price, invoice_date, customer_id, country, total_price)
		VALUES (?, 'SKU1', 'LANTERN', 1, 2.0, ?, 100, ?, 2.0)`,
		invoice, time.Date(2011, 6, 1, 0, 0, 0, 0, time.UTC).Format(dateFormat), country)
	require.NoError(t, err)
}

func TestSaveAndApplySub(t *testing.T) {
	db := setupTestDB(t)
	insertCountryPurchase(t, db, "A1", "U.K.")
	insertCountryPurchase(t, db, "A2", "U.K.")
	insertCountryPurchase(t, db, "A3", "France")

	s, err := SaveAndApplySub(db, "country", "U.K.", "United Kingdom")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Records)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM purchase WHERE country = 'United Kingdom'").Scan(&count))
	assert.Equal(t, 2, count)

	// The substitution is stored for future imports.
	stored, err := listSubs(db)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "country", stored[0].Prop)
	assert.Equal(t, "U.K.", stored[0].Old)
}

func TestSaveAndApplySub_InvalidProperty(t *testing.T) {
	db := setupTestDB(t)
	_, err := SaveAndApplySub(db, "quantity", "1", "2")
	assert.Error(t, err)
}

func TestSaveAndApplySub_MissingValues(t *testing.T) {
	db := setupTestDB(t)
	_, err := SaveAndApplySub(db, "country", "", "X")
	assert.Error(t, err)
	_, err = SaveAndApplySub(db, "country", "X", "")
	assert.Error(t, err)
}

func TestApplySubstitutions_BuiltinAliases(t *testing.T) {
	db := setupTestDB(t)
	insertCountryPurchase(t, db, "A1", "EIRE")
	insertCountryPurchase(t, db, "A2", "USA")
	insertCountryPurchase(t, db, "A3", "Germany")

	applied, err := ApplySubstitutions(db)
	require.NoError(t, err)
	// Only the aliases that changed rows are reported.
	assert.Len(t, applied, 2)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM purchase WHERE country IN ('Ireland', 'United States')").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestApplySubstitutions_IncludesStored(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Exec("INSERT INTO sub (type, old, new) VALUES ('description', 'LANTERN', 'METAL LANTERN')")
	require.NoError(t, err)
	insertCountryPurchase(t, db, "A1", "France")

	applied, err := ApplySubstitutions(db)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "description", applied[0].Prop)
	assert.Equal(t, int64(1), applied[0].Records)
}

func TestApplySubstitutions_NilDB(t *testing.T) {
	_, err := ApplySubstitutions(nil)
	assert.Error(t, err)
}
