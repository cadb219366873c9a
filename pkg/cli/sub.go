package cli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"

	"github.com/retailkit/crmctl/pkg/data"
)

var (
	subPropFlag = &urfave.StringFlag{
		Name:     "type",
		Usage:    "Property to substitute [country, description]",
		Required: true,
	}

	subOldFlag = &urfave.StringFlag{
		Name:     "old",
		Usage:    "Value to replace",
		Required: true,
	}

	subNewFlag = &urfave.StringFlag{
		Name:     "new",
		Usage:    "Replacement value",
		Required: true,
	}

	substituteCmd = &urfave.Command{
		Name:    "substitute",
		Aliases: []string{"s"},
		Usage:   "Saves a value substitution and applies it to the imported data",
		Flags: []urfave.Flag{
			subPropFlag,
			subOldFlag,
			subNewFlag,
		},
		Action: cmdSubstitute,
	}
)

func cmdSubstitute(c *urfave.Context) error {
	cfg := getConfig(c)

	sub, err := data.SaveAndApplySub(cfg.DB,
		c.String(subPropFlag.Name),
		c.String(subOldFlag.Name),
		c.String(subNewFlag.Name))
	if err != nil {
		return fmt.Errorf("applying substitution: %w", err)
	}
	return encode(sub)
}
