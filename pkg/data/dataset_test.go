package data

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCSVHeader = "InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n"

func TestParseCSV_CleanRows(t *testing.T) {
	csv := testCSVHeader +
		"536365,85123A,WHITE HANGING HEART,6,2010-12-01 08:26:00,2.55,17850,United Kingdom\n" +
		"536365,71053,WHITE METAL LANTERN,6,2010-12-01 08:26:00,3.39,17850,United Kingdom\n"

	list, stats, err := parseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 2, stats.Loaded)

	p := list[0]
	assert.Equal(t, "536365", p.Invoice)
	assert.Equal(t, "85123A", p.StockCode)
	assert.Equal(t, int64(17850), p.CustomerID)
	assert.InDelta(t, 15.30, p.TotalPrice, 1e-9)
	assert.Equal(t, 2010, p.Date.Year())
}

func TestParseCSV_DropRules(t *testing.T) {
	csv := testCSVHeader +
		"536365,85123A,OK,6,2010-12-01 08:26:00,2.55,17850,United Kingdom\n" +
		"536366,85123A,NO CUSTOMER,6,2010-12-01 08:26:00,2.55,,United Kingdom\n" +
		"536367,85123A,NEGATIVE QTY,-2,2010-12-01 08:26:00,2.55,17850,United Kingdom\n" +
		"536368,85123A,ZERO PRICE,3,2010-12-01 08:26:00,0,17850,United Kingdom\n" +
		"C536369,85123A,CANCELLED,3,2010-12-01 08:26:00,2.55,17850,United Kingdom\n" +
		"536370,85123A,BAD DATE,3,not-a-date,2.55,17850,United Kingdom\n"

	list, stats, err := parseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 6, stats.Rows)
	assert.Equal(t, 1, stats.Loaded)
	assert.Equal(t, 1, stats.MissingCustomer)
	assert.Equal(t, 1, stats.NonPositiveQty)
	assert.Equal(t, 1, stats.NonPositivePrice)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 1, stats.Malformed)
}

func TestParseCSV_FloatCustomerID(t *testing.T) {
	// Excel exports often carry customer ids as floats (17850.0).
	csv := testCSVHeader +
		"536365,85123A,OK,6,2010-12-01 08:26:00,2.55,17850.0,United Kingdom\n"

	list, _, err := parseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(17850), list[0].CustomerID)
}

func TestParseCSV_MissingColumns(t *testing.T) {
	_, _, err := parseCSV(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.Error(t, err)
}

func TestParseDataset_UnsupportedFormat(t *testing.T) {
	_, _, err := ParseDataset("data.parquet")
	assert.Error(t, err)
}

func TestMapColumns_Variants(t *testing.T) {
	idx, err := mapColumns([]string{"Invoice", "stock_code", "Description", "Quantity", "invoice_date", "Price", "Customer_ID", "Country"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.invoice)
	assert.Equal(t, 5, idx.price)
	assert.Equal(t, 6, idx.customer)
}

func TestParseDatasetDate_Layouts(t *testing.T) {
	for _, val := range []string{
		"2010-12-01 08:26:00",
		"2010-12-01 08:26",
		"12/1/10 08:26",
		"2010-12-01",
	} {
		d, err := parseDatasetDate(val)
		require.NoError(t, err, val)
		assert.Equal(t, 2010, d.Year(), val)
	}
}
