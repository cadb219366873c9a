package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	urfave "github.com/urfave/cli/v2"

	"github.com/retailkit/crmctl/pkg/data"
	"github.com/retailkit/crmctl/pkg/net"
)

var (
	sourceFlag = &urfave.StringFlag{
		Name:  "source",
		Usage: "Dataset URL or local file path (optional, default: configured dataset URL)",
	}

	freshFlag = &urfave.BoolFlag{
		Name:  "fresh",
		Usage: "Clears previously imported data first (optional, default: false)",
	}

	importCmd = &urfave.Command{
		Name:    "import",
		Aliases: []string{"i"},
		Usage:   "Downloads and imports the transaction dataset",
		Flags: []urfave.Flag{
			sourceFlag,
			freshFlag,
		},
		Action: cmdImport,
	}
)

func cmdImport(c *urfave.Context) error {
	cfg := getConfig(c)

	source := c.String(sourceFlag.Name)
	if source == "" {
		source = cfg.Conf.DatasetURL
	}

	if c.Bool(freshFlag.Name) {
		slog.Info("clearing previously imported data")
		if err := data.ClearPurchases(cfg.DB); err != nil {
			return fmt.Errorf("clearing data: %w", err)
		}
	}

	localPath := source
	if isURL(source) {
		dir, err := os.MkdirTemp("", "crmctl-import-")
		if err != nil {
			return fmt.Errorf("creating temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		localPath = filepath.Join(dir, downloadFileName(source))
		slog.Info("downloading dataset", "url", source)
		if err := net.Download(c.Context, source, localPath); err != nil {
			return fmt.Errorf("downloading %s: %w", source, err)
		}
	}

	slog.Info("importing dataset", "path", localPath)
	res, err := data.ImportFile(cfg.DB, localPath, source)
	if err != nil {
		return fmt.Errorf("importing %s: %w", localPath, err)
	}

	return encode(res)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// downloadFileName derives a usable local file name from the dataset URL,
// unescaping the common + encoding so extension sniffing still works.
func downloadFileName(url string) string {
	name := url
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "?"); i >= 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, "+", "_")
	if name == "" {
		name = "dataset.zip"
	}
	return name
}
