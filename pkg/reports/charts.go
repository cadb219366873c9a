package reports

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"

	"github.com/retailkit/crmctl/pkg/data"
)

const clvHistogramBins = 10

// writeCharts renders the chart pages for whichever derived tables
// have been computed. Charts whose source table is empty are skipped.
func writeCharts(ctx context.Context, db *sql.DB, dir string) ([]string, error) {
	writers := []func() (string, error){
		func() (string, error) { return writeSegmentChart(db, dir) },
		func() (string, error) { return writeDailyChart(db, dir) },
		func() (string, error) { return writeChurnChart(db, dir) },
		func() (string, error) { return writeCLVChart(db, dir) },
	}
	return renderConcurrently(ctx, writers)
}

func writeSegmentChart(db *sql.DB, dir string) (string, error) {
	segments, err := data.GetSegmentStats(db)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(segments))
	values := make([]opts.BarData, 0, len(segments))
	for _, s := range segments {
		names = append(names, s.Segment)
		values = append(values, opts.BarData{Value: s.Customers})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Customer segments", Subtitle: "customers per RFM segment"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Customer segments"}),
	)
	bar.SetXAxis(names).AddSeries("customers", values)

	return renderChart(bar, filepath.Join(dir, "segments.html"))
}

func writeDailyChart(db *sql.DB, dir string) (string, error) {
	series, err := data.GetDailySeries(db)
	if err != nil {
		return "", err
	}
	if len(series.Dates) == 0 {
		return "", nil
	}

	purchases := make([]opts.LineData, 0, len(series.Dates))
	revenue := make([]opts.LineData, 0, len(series.Dates))
	for i := range series.Dates {
		purchases = append(purchases, opts.LineData{Value: series.Purchases[i]})
		revenue = append(revenue, opts.LineData{Value: series.Revenue[i]})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Daily activity", Subtitle: "transactions and revenue per day"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Daily activity"}),
	)
	line.SetXAxis(series.Dates).
		AddSeries("transactions", purchases).
		AddSeries("revenue", revenue)

	return renderChart(line, filepath.Join(dir, "daily.html"))
}

func writeChurnChart(db *sql.DB, dir string) (string, error) {
	rows, err := data.QueryChurn(db, nil, exportLimit)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	churned := 0
	for _, c := range rows {
		if c.Churned {
			churned++
		}
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Churn split"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Churn split"}),
	)
	pie.AddSeries("customers", []opts.PieData{
		{Name: "churned", Value: churned},
		{Name: "active", Value: len(rows) - churned},
	})

	return renderChart(pie, filepath.Join(dir, "churn.html"))
}

func writeCLVChart(db *sql.DB, dir string) (string, error) {
	rows, err := data.QueryCLV(db, exportLimit)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	maxCLV := 0.0
	for _, c := range rows {
		if c.CLV > maxCLV {
			maxCLV = c.CLV
		}
	}
	width := maxCLV / clvHistogramBins
	if width <= 0 {
		width = 1
	}

	counts := make([]int, clvHistogramBins)
	for _, c := range rows {
		bin := int(math.Floor(c.CLV / width))
		if bin >= clvHistogramBins {
			bin = clvHistogramBins - 1
		}
		if bin < 0 {
			bin = 0
		}
		counts[bin]++
	}

	labels := make([]string, clvHistogramBins)
	values := make([]opts.BarData, clvHistogramBins)
	for i := 0; i < clvHistogramBins; i++ {
		labels[i] = fmt.Sprintf("%.0f-%.0f", float64(i)*width, float64(i+1)*width)
		values[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Lifetime value", Subtitle: "customers per CLV bucket"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Lifetime value"}),
	)
	bar.SetXAxis(labels).AddSeries("customers", values)

	return renderChart(bar, filepath.Join(dir, "clv.html"))
}

type renderable interface {
	Render(w io.Writer) error
}

func renderChart(c renderable, path string) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create chart file: %s", path)
	}
	defer f.Close()

	if err := c.Render(f); err != nil {
		return "", errors.Wrapf(err, "failed to render chart: %s", path)
	}
	return path, nil
}
