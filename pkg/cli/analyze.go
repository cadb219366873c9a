package cli

import (
	"fmt"
	"log/slog"

	urfave "github.com/urfave/cli/v2"

	"github.com/retailkit/crmctl/pkg/data"
)

var (
	thresholdFlag = &urfave.IntFlag{
		Name:  "threshold",
		Usage: "Days without a purchase before a customer counts as churned (optional, default: configured value)",
	}

	horizonFlag = &urfave.IntFlag{
		Name:  "horizon",
		Usage: "CLV projection horizon in months (optional, default: configured value)",
	}

	discountFlag = &urfave.Float64Flag{
		Name:  "discount",
		Usage: "Monthly discount rate for CLV (optional, default: configured value)",
	}

	analyzeCmd = &urfave.Command{
		Name:    "analyze",
		Aliases: []string{"a"},
		Usage:   "Computes analytics over the imported data",
		Subcommands: []*urfave.Command{
			{
				Name:   "summary",
				Usage:  "Descriptive statistics for the dataset",
				Action: cmdAnalyzeSummary,
			},
			{
				Name:   "rfm",
				Usage:  "Recency/frequency/monetary scores and segments",
				Action: cmdAnalyzeRFM,
			},
			{
				Name:   "churn",
				Usage:  "Churn labels and per-customer risk",
				Flags:  []urfave.Flag{thresholdFlag},
				Action: cmdAnalyzeChurn,
			},
			{
				Name:   "clv",
				Usage:  "Customer lifetime value projection",
				Flags:  []urfave.Flag{horizonFlag, discountFlag},
				Action: cmdAnalyzeCLV,
			},
			{
				Name:   "all",
				Usage:  "Runs every analysis in dependency order",
				Flags:  []urfave.Flag{thresholdFlag, horizonFlag, discountFlag},
				Action: cmdAnalyzeAll,
			},
		},
	}
)

type analyzeSummary struct {
	Dataset   *data.DatasetSummary `json:"dataset" yaml:"dataset"`
	Weekdays  []*data.ListItem     `json:"weekdays" yaml:"weekdays"`
	Hours     []*data.ListItem     `json:"hours" yaml:"hours"`
	Countries []*data.ListItem     `json:"top_countries" yaml:"top_countries"`
	Products  []*data.ListItem     `json:"top_products" yaml:"top_products"`
}

func cmdAnalyzeSummary(c *urfave.Context) error {
	cfg := getConfig(c)

	ds, err := data.GetDatasetSummary(cfg.DB)
	if err != nil {
		return fmt.Errorf("getting dataset summary: %w", err)
	}

	weekdays, err := data.GetWeekdayCounts(cfg.DB)
	if err != nil {
		return fmt.Errorf("getting weekday counts: %w", err)
	}

	hours, err := data.GetHourCounts(cfg.DB)
	if err != nil {
		return fmt.Errorf("getting hour counts: %w", err)
	}

	countries, err := data.GetTopCountries(cfg.DB, cfg.Conf.TopListSize)
	if err != nil {
		return fmt.Errorf("getting top countries: %w", err)
	}

	products, err := data.GetTopProducts(cfg.DB, cfg.Conf.TopListSize)
	if err != nil {
		return fmt.Errorf("getting top products: %w", err)
	}

	return encode(&analyzeSummary{
		Dataset:   ds,
		Weekdays:  weekdays,
		Hours:     hours,
		Countries: countries,
		Products:  products,
	})
}

func cmdAnalyzeRFM(c *urfave.Context) error {
	cfg := getConfig(c)

	res, err := data.ComputeRFM(cfg.DB)
	if err != nil {
		return fmt.Errorf("computing RFM: %w", err)
	}
	return encode(res)
}

func cmdAnalyzeChurn(c *urfave.Context) error {
	cfg := getConfig(c)

	res, err := data.ComputeChurn(cfg.DB, churnThreshold(c))
	if err != nil {
		return fmt.Errorf("computing churn: %w", err)
	}
	return encode(res)
}

func cmdAnalyzeCLV(c *urfave.Context) error {
	cfg := getConfig(c)

	horizon, discount := clvParams(c)
	res, err := data.ComputeCLV(cfg.DB, horizon, discount)
	if err != nil {
		return fmt.Errorf("computing CLV: %w", err)
	}
	return encode(res)
}

type analyzeAllResult struct {
	RFM   *data.RFMResult   `json:"rfm" yaml:"rfm"`
	Churn *data.ChurnResult `json:"churn" yaml:"churn"`
	CLV   *data.CLVResult   `json:"clv" yaml:"clv"`
}

// cmdAnalyzeAll runs the full pipeline. RFM first, because the CLV
// per-segment rollup joins against the rfm table.
func cmdAnalyzeAll(c *urfave.Context) error {
	cfg := getConfig(c)

	slog.Info("computing RFM segments")
	rfm, err := data.ComputeRFM(cfg.DB)
	if err != nil {
		return fmt.Errorf("computing RFM: %w", err)
	}

	slog.Info("computing churn risk")
	churn, err := data.ComputeChurn(cfg.DB, churnThreshold(c))
	if err != nil {
		return fmt.Errorf("computing churn: %w", err)
	}

	slog.Info("computing CLV")
	horizon, discount := clvParams(c)
	clv, err := data.ComputeCLV(cfg.DB, horizon, discount)
	if err != nil {
		return fmt.Errorf("computing CLV: %w", err)
	}

	return encode(&analyzeAllResult{RFM: rfm, Churn: churn, CLV: clv})
}

func churnThreshold(c *urfave.Context) int {
	if t := c.Int(thresholdFlag.Name); t > 0 {
		return t
	}
	return getConfig(c).Conf.ChurnThresholdDays
}

func clvParams(c *urfave.Context) (int, float64) {
	cfg := getConfig(c)
	horizon := cfg.Conf.CLVHorizonMonths
	if h := c.Int(horizonFlag.Name); h > 0 {
		horizon = h
	}
	discount := cfg.Conf.CLVDiscountRate
	if d := c.Float64(discountFlag.Name); d > 0 {
		discount = d
	}
	return horizon, discount
}
