package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestImportFile(t *testing.T) {
	db := setupTestDB(t)

	csv := testCSVHeader +
		"536365,85123A,WHITE HANGING HEART,6,2010-12-01 08:26:00,2.55,17850,EIRE\n" +
		"536366,71053,WHITE METAL LANTERN,4,2010-12-05 10:00:00,3.39,13047,France\n" +
		"C536367,84879,CANCELLED,2,2010-12-06 11:00:00,1.69,13047,France\n"
	path := writeTestCSV(t, csv)

	res, err := ImportFile(db, path, "test-source")
	require.NoError(t, err)

	assert.Equal(t, "test-source", res.Source)
	assert.Equal(t, 3, res.Stats.Rows)
	assert.Equal(t, 2, res.Stats.Loaded)
	assert.Equal(t, 1, res.Stats.Cancelled)
	assert.Equal(t, int64(2), res.Customers)
	assert.Equal(t, "2010-12-01", res.MinDate)
	assert.Equal(t, "2010-12-05", res.MaxDate)

	// Built-in country alias applied on import.
	require.Len(t, res.Substituted, 1)
	assert.Equal(t, "EIRE", res.Substituted[0].Old)
	assert.Equal(t, "Ireland", res.Substituted[0].New)

	state, err := GetImportState(db, "test-source")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 2, state.RowsLoaded)
	assert.Equal(t, 1, state.RowsSkipped)
	assert.NotEmpty(t, state.ImportedAt)
}

func TestImportFile_AlreadyImported(t *testing.T) {
	db := setupTestDB(t)

	csv := testCSVHeader +
		"536365,85123A,HEART,6,2010-12-01 08:26:00,2.55,17850,France\n"
	path := writeTestCSV(t, csv)

	_, err := ImportFile(db, path, "src")
	require.NoError(t, err)

	_, err = ImportFile(db, path, "src")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already imported")

	// A different source is fine.
	_, err = ImportFile(db, path, "src2")
	assert.NoError(t, err)
}

func TestImportFile_AfterClear(t *testing.T) {
	db := setupTestDB(t)

	csv := testCSVHeader +
		"536365,85123A,HEART,6,2010-12-01 08:26:00,2.55,17850,France\n"
	path := writeTestCSV(t, csv)

	_, err := ImportFile(db, path, "src")
	require.NoError(t, err)
	require.NoError(t, ClearPurchases(db))

	_, err = ImportFile(db, path, "src")
	assert.NoError(t, err)
}

func TestImportFile_NoUsableRows(t *testing.T) {
	db := setupTestDB(t)

	csv := testCSVHeader +
		"C536367,84879,CANCELLED,2,2010-12-06 11:00:00,1.69,13047,France\n"
	path := writeTestCSV(t, csv)

	_, err := ImportFile(db, path, "src")
	assert.Error(t, err)
}

func TestImportFile_MissingFile(t *testing.T) {
	db := setupTestDB(t)
	_, err := ImportFile(db, filepath.Join(t.TempDir(), "nope.csv"), "src")
	assert.Error(t, err)
}

func TestGetDataState(t *testing.T) {
	db := setupTestDB(t)

	state, err := GetDataState(db)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state["purchases"])

	csv := testCSVHeader +
		"536365,85123A,HEART,6,2010-12-01 08:26:00,2.55,17850,France\n" +
		"536366,71053,LANTERN,4,2010-12-05 10:00:00,3.39,13047,France\n"
	path := writeTestCSV(t, csv)
	_, err = ImportFile(db, path, "src")
	require.NoError(t, err)

	state, err = GetDataState(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state["purchases"])
	assert.Equal(t, int64(2), state["customers"])
	assert.Equal(t, int64(2), state["invoices"])
	assert.Equal(t, int64(1), state["countries"])
	assert.Equal(t, int64(0), state["rfm"])
}
