package cli

import (
	"fmt"
	"log/slog"

	urfave "github.com/urfave/cli/v2"

	"github.com/retailkit/crmctl/pkg/reports"
)

var (
	outDirFlag = &urfave.StringFlag{
		Name:     "out",
		Usage:    "Output directory for report files",
		Required: true,
	}

	reportFormatFlag = &urfave.StringFlag{
		Name:  "report-format",
		Usage: fmt.Sprintf("Report table format [%s, %s]", reports.FormatJSON, reports.FormatCSV),
		Value: reports.FormatJSON,
	}

	reportCmd = &urfave.Command{
		Name:    "report",
		Aliases: []string{"r"},
		Usage:   "Writes analysis tables and charts to a directory",
		Flags: []urfave.Flag{
			outDirFlag,
			reportFormatFlag,
		},
		Action: cmdReport,
	}
)

func cmdReport(c *urfave.Context) error {
	cfg := getConfig(c)

	opts := &reports.Options{
		Dir:    c.String(outDirFlag.Name),
		Format: c.String(reportFormatFlag.Name),
		TopN:   cfg.Conf.TopListSize,
	}

	slog.Info("writing report", "dir", opts.Dir, "format", opts.Format)
	res, err := reports.Write(c.Context, cfg.DB, opts)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return encode(res)
}
