package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	urfave "github.com/urfave/cli/v2"

	"github.com/retailkit/crmctl/pkg/data"
)

var (
	yesFlag = &urfave.BoolFlag{
		Name:  "yes",
		Usage: "Skips the confirmation prompt (optional, default: false)",
	}

	resetCmd = &urfave.Command{
		Name:  "reset",
		Usage: "Deletes the local database and starts fresh",
		Flags: []urfave.Flag{
			yesFlag,
		},
		Action: cmdReset,
	}
)

func cmdReset(c *urfave.Context) error {
	cfg := getConfig(c)

	if !c.Bool(yesFlag.Name) {
		fmt.Printf("Delete %s and all imported data? [y/N]: ", cfg.DBPath)
		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if cfg.DB != nil {
		if err := cfg.DB.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
		cfg.DB = nil
	}

	if err := os.Remove(cfg.DBPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing database file %s: %w", cfg.DBPath, err)
	}
	slog.Info("database removed", "path", cfg.DBPath)

	if err := data.Init(cfg.DBPath); err != nil {
		return fmt.Errorf("re-initializing database: %w", err)
	}

	db, err := data.GetDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("reopening database: %w", err)
	}
	cfg.DB = db

	fmt.Println("Database reset")
	return nil
}
