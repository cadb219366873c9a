package data

import (
	"archive/zip"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// CleanStats accounts for every row seen during dataset parsing.
type CleanStats struct {
	Rows             int `json:"rows"`
	Loaded           int `json:"loaded"`
	MissingCustomer  int `json:"missing_customer"`
	NonPositiveQty   int `json:"non_positive_quantity"`
	NonPositivePrice int `json:"non_positive_price"`
	Cancelled        int `json:"cancelled"`
	Malformed        int `json:"malformed"`
}

// rowIter yields one record at a time, io.EOF at the end.
type rowIter func() ([]string, error)

var datasetDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"1/2/06 15:04",
	"1/2/2006 15:04",
	"01/02/2006 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDataset reads a retail transaction dataset from a local file and
// returns the cleaned rows. Supported formats: .csv, .xlsx, and .zip
// archives containing either.
func ParseDataset(path string) ([]*Purchase, *CleanStats, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		file, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open dataset: %s", path)
		}
		defer file.Close()
		return parseCSV(file)
	case ".xlsx":
		return parseXLSX(path)
	case ".zip":
		return parseZip(path)
	default:
		return nil, nil, errors.Errorf("unsupported dataset format: %s", path)
	}
}

func parseZip(path string) ([]*Purchase, *CleanStats, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open zip archive: %s", path)
	}
	defer r.Close()

	for _, zf := range r.File {
		ext := strings.ToLower(filepath.Ext(zf.Name))
		if ext != ".xlsx" && ext != ".csv" {
			continue
		}

		slog.Debug("extracting dataset from archive", "file", zf.Name)
		rc, err := zf.Open()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open archive member: %s", zf.Name)
		}

		// Extract next to the archive so the format parsers can work
		// off a regular file.
		tmpPath := filepath.Join(filepath.Dir(path), filepath.Base(zf.Name))
		out, err := os.Create(tmpPath)
		if err != nil {
			rc.Close()
			return nil, nil, errors.Wrapf(err, "failed to create extracted file: %s", tmpPath)
		}
		if _, err = io.Copy(out, rc); err != nil {
			rc.Close()
			out.Close()
			return nil, nil, errors.Wrapf(err, "failed to extract: %s", zf.Name)
		}
		rc.Close()
		out.Close()
		defer os.Remove(tmpPath)

		return ParseDataset(tmpPath)
	}

	return nil, nil, errors.Errorf("no csv or xlsx file found in archive: %s", path)
}

func parseXLSX(path string) ([]*Purchase, *CleanStats, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open xlsx: %s", path)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.Errorf("no sheets in xlsx: %s", path)
	}

	rows, err := file.Rows(sheets[0])
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to iterate sheet: %s", sheets[0])
	}
	defer rows.Close()

	next := func() ([]string, error) {
		if !rows.Next() {
			if err := rows.Error(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return rows.Columns()
	}

	return parseRows(next)
}

func parseCSV(r io.Reader) ([]*Purchase, *CleanStats, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	return parseRows(reader.Read)
}

func parseRows(next rowIter) ([]*Purchase, *CleanStats, error) {
	header, err := next()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read dataset header")
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, nil, err
	}

	stats := &CleanStats{}
	list := make([]*Purchase, 0)

	for {
		record, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to read dataset row")
		}
		stats.Rows++

		p, reason := cleanRow(record, cols)
		if p == nil {
			switch reason {
			case skipMissingCustomer:
				stats.MissingCustomer++
			case skipNonPositiveQty:
				stats.NonPositiveQty++
			case skipNonPositivePrice:
				stats.NonPositivePrice++
			case skipCancelled:
				stats.Cancelled++
			default:
				stats.Malformed++
			}
			continue
		}

		stats.Loaded++
		list = append(list, p)
	}

	return list, stats, nil
}

type columnIndex struct {
	invoice, stockCode, description, quantity, date, price, customer, country int
}

// mapColumns resolves the dataset header to column positions. Accepts
// the UCI Online Retail names and common variants, case-insensitively.
func mapColumns(header []string) (*columnIndex, error) {
	idx := &columnIndex{
		invoice: -1, stockCode: -1, description: -1, quantity: -1,
		date: -1, price: -1, customer: -1, country: -1,
	}

	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "invoiceno", "invoice", "invoice_no":
			idx.invoice = i
		case "stockcode", "stock_code":
			idx.stockCode = i
		case "description":
			idx.description = i
		case "quantity":
			idx.quantity = i
		case "invoicedate", "invoice_date", "date":
			idx.date = i
		case "unitprice", "unit_price", "price":
			idx.price = i
		case "customerid", "customer_id", "customer":
			idx.customer = i
		case "country":
			idx.country = i
		}
	}

	if idx.invoice < 0 || idx.quantity < 0 || idx.date < 0 || idx.price < 0 || idx.customer < 0 {
		return nil, errors.Errorf("dataset header missing required columns: %v", header)
	}
	return idx, nil
}

type skipReason int

const (
	skipNone skipReason = iota
	skipMissingCustomer
	skipNonPositiveQty
	skipNonPositivePrice
	skipCancelled
	skipMalformed
)

// cleanRow applies the cleaning rules: rows without a customer id,
// non-positive quantities or prices, and cancellation invoices
// (prefixed with "C") are dropped.
func cleanRow(record []string, cols *columnIndex) (*Purchase, skipReason) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	customer := field(cols.customer)
	if customer == "" {
		return nil, skipMissingCustomer
	}
	customerID, err := strconv.ParseFloat(customer, 64)
	if err != nil {
		return nil, skipMalformed
	}

	invoice := field(cols.invoice)
	if invoice == "" {
		return nil, skipMalformed
	}
	if strings.HasPrefix(invoice, "C") {
		return nil, skipCancelled
	}

	qty, err := strconv.Atoi(field(cols.quantity))
	if err != nil {
		return nil, skipMalformed
	}
	if qty <= 0 {
		return nil, skipNonPositiveQty
	}

	price, err := strconv.ParseFloat(field(cols.price), 64)
	if err != nil {
		return nil, skipMalformed
	}
	if price <= 0 {
		return nil, skipNonPositivePrice
	}

	date, err := parseDatasetDate(field(cols.date))
	if err != nil {
		return nil, skipMalformed
	}

	return &Purchase{
		Invoice:     invoice,
		StockCode:   field(cols.stockCode),
		Description: field(cols.description),
		Quantity:    qty,
		UnitPrice:   price,
		Date:        date,
		CustomerID:  int64(customerID),
		Country:     field(cols.country),
		TotalPrice:  float64(qty) * price,
	}, skipNone
}

func parseDatasetDate(val string) (time.Time, error) {
	for _, layout := range datasetDateLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized date: %s", val)
}
