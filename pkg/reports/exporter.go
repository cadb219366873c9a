// Package reports writes derived tables and chart pages to a local
// output directory.
package reports

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/retailkit/crmctl/pkg/data"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"

	dirMode = 0755

	exportLimit = 1 << 20
)

// Options controls what Write produces.
type Options struct {
	Dir    string
	Format string // json or csv
	TopN   int
}

// Result lists the artifacts a report run produced.
type Result struct {
	Dir    string   `json:"dir" yaml:"dir"`
	Files  []string `json:"files" yaml:"files"`
	Charts []string `json:"charts" yaml:"charts"`
}

// table is one exportable dataset: a JSON payload plus its tabular
// form for CSV output.
type table struct {
	name    string
	payload any
	header  []string
	rows    [][]string
}

// Write exports the derived tables in the requested format and renders
// the chart pages into opts.Dir.
func Write(ctx context.Context, db *sql.DB, opts *Options) (*Result, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if opts == nil || opts.Dir == "" {
		return nil, errors.New("output directory required")
	}
	format := opts.Format
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, errors.Errorf("invalid format: %s (permitted options: %s, %s)", format, FormatJSON, FormatCSV)
	}

	if err := os.MkdirAll(opts.Dir, dirMode); err != nil {
		return nil, errors.Wrapf(err, "failed to create output dir: %s", opts.Dir)
	}

	tables, err := collectTables(db, opts.TopN)
	if err != nil {
		return nil, err
	}

	res := &Result{Dir: opts.Dir}
	stamp := time.Now().Format("20060102_150405")
	for _, t := range tables {
		path := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.%s", t.name, stamp, format))
		if format == FormatCSV {
			err = writeCSV(path, t)
		} else {
			err = writeJSON(path, t.payload)
		}
		if err != nil {
			return nil, err
		}
		slog.Debug("exported table", "file", path)
		res.Files = append(res.Files, path)
	}

	charts, err := writeCharts(ctx, db, opts.Dir)
	if err != nil {
		return nil, err
	}
	res.Charts = charts

	return res, nil
}

func collectTables(db *sql.DB, topN int) ([]*table, error) {
	tables := make([]*table, 0, 8)

	summary, err := data.GetDatasetSummary(db)
	if err != nil {
		return nil, err
	}
	tables = append(tables, &table{
		name:    "summary",
		payload: summary,
		header:  []string{"purchases", "customers", "orders", "revenue", "avg_order_value", "min_date", "max_date"},
		rows: [][]string{{
			strconv.FormatInt(summary.Purchases, 10),
			strconv.FormatInt(summary.Customers, 10),
			strconv.FormatInt(summary.Orders, 10),
			formatFloat(summary.Revenue),
			formatFloat(summary.AvgOrderValue),
			summary.MinDate,
			summary.MaxDate,
		}},
	})

	segments, err := data.GetSegmentStats(db)
	if err != nil {
		return nil, err
	}
	segTable := &table{
		name:    "rfm_segments",
		payload: segments,
		header:  []string{"segment", "customers", "avg_recency", "avg_frequency", "avg_monetary"},
	}
	for _, s := range segments {
		segTable.rows = append(segTable.rows, []string{
			s.Segment, strconv.FormatInt(s.Customers, 10),
			formatFloat(s.AvgRecency), formatFloat(s.AvgFrequency), formatFloat(s.AvgMonetary),
		})
	}
	tables = append(tables, segTable)

	scores, err := data.QueryRFM(db, nil, exportLimit)
	if err != nil {
		return nil, err
	}
	rfmTable := &table{
		name:    "rfm_customers",
		payload: scores,
		header:  []string{"customer_id", "recency_days", "frequency", "monetary", "r_score", "f_score", "m_score", "segment"},
	}
	for _, s := range scores {
		rfmTable.rows = append(rfmTable.rows, []string{
			strconv.FormatInt(s.CustomerID, 10), strconv.Itoa(s.RecencyDays), strconv.Itoa(s.Frequency),
			formatFloat(s.Monetary), strconv.Itoa(s.RScore), strconv.Itoa(s.FScore), strconv.Itoa(s.MScore), s.Segment,
		})
	}
	tables = append(tables, rfmTable)

	churn, err := data.QueryChurn(db, nil, exportLimit)
	if err != nil {
		return nil, err
	}
	churnTable := &table{
		name:    "churn_customers",
		payload: churn,
		header:  []string{"customer_id", "days_since_last", "invoices", "total_spend", "churned", "risk"},
	}
	for _, c := range churn {
		churnTable.rows = append(churnTable.rows, []string{
			strconv.FormatInt(c.CustomerID, 10), strconv.Itoa(c.DaysSinceLast), strconv.Itoa(c.Invoices),
			formatFloat(c.TotalSpend), strconv.FormatBool(c.Churned), formatFloat(c.Risk),
		})
	}
	tables = append(tables, churnTable)

	clv, err := data.QueryCLV(db, exportLimit)
	if err != nil {
		return nil, err
	}
	clvTable := &table{
		name:    "clv_customers",
		payload: clv,
		header:  []string{"customer_id", "frequency", "monetary_value", "probability_alive", "expected_avg_value", "clv"},
	}
	for _, c := range clv {
		clvTable.rows = append(clvTable.rows, []string{
			strconv.FormatInt(c.CustomerID, 10), strconv.Itoa(c.Frequency), formatFloat(c.MonetaryValue),
			formatFloat(c.ProbabilityAlive), formatFloat(c.ExpectedAvgValue), formatFloat(c.CLV),
		})
	}
	tables = append(tables, clvTable)

	segCLV, err := data.GetSegmentCLV(db)
	if err != nil {
		return nil, err
	}
	segCLVTable := &table{
		name:    "segment_clv",
		payload: segCLV,
		header:  []string{"segment", "customers", "avg_clv", "total_clv"},
	}
	for _, s := range segCLV {
		segCLVTable.rows = append(segCLVTable.rows, []string{
			s.Segment, strconv.Itoa(s.Customers), formatFloat(s.AvgCLV), formatFloat(s.TotalCLV),
		})
	}
	tables = append(tables, segCLVTable)

	countries, err := data.GetTopCountries(db, topN)
	if err != nil {
		return nil, err
	}
	tables = append(tables, listTable("top_countries", countries))

	products, err := data.GetTopProducts(db, topN)
	if err != nil {
		return nil, err
	}
	tables = append(tables, listTable("top_products", products))

	return tables, nil
}

func listTable(name string, items []*data.ListItem) *table {
	t := &table{
		name:    name,
		payload: items,
		header:  []string{"name", "count"},
	}
	for _, i := range items {
		t.rows = append(t.rows, []string{i.Name, strconv.FormatInt(i.Count, 10)})
	}
	return t
}

func writeJSON(path string, payload any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create file: %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return errors.Wrapf(err, "failed to write JSON: %s", path)
	}
	return nil
}

func writeCSV(path string, t *table) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create file: %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.header); err != nil {
		return errors.Wrapf(err, "failed to write CSV header: %s", path)
	}
	if err := w.WriteAll(t.rows); err != nil {
		return errors.Wrapf(err, "failed to write CSV rows: %s", path)
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "failed to flush CSV: %s", path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// renderConcurrently runs the chart writers in parallel, collecting
// the produced file paths.
func renderConcurrently(ctx context.Context, writers []func() (string, error)) ([]string, error) {
	g, _ := errgroup.WithContext(ctx)
	paths := make([]string, len(writers))
	for i, w := range writers {
		g.Go(func() error {
			path, err := w()
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
