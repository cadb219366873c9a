package cli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"

	"github.com/retailkit/crmctl/pkg/data"
)

const queryResultLimitDefault = 500

var (
	limitFlag = &urfave.IntFlag{
		Name:  "limit",
		Usage: fmt.Sprintf("Limits number of result (optional, default: %d)", queryResultLimitDefault),
		Value: queryResultLimitDefault,
	}

	countryFlag = &urfave.StringFlag{
		Name:  "country",
		Usage: "Filters results by country (optional)",
	}

	segmentFlag = &urfave.StringFlag{
		Name:  "segment",
		Usage: "Filters results by RFM segment name (optional)",
	}

	customerIDFlag = &urfave.Int64Flag{
		Name:     "id",
		Usage:    "Customer ID",
		Required: true,
	}

	customerListIDFlag = &urfave.Int64Flag{
		Name:  "customer",
		Usage: "Filters results by customer ID (optional)",
	}

	churnedFlag = &urfave.BoolFlag{
		Name:  "churned",
		Usage: "Limits results to churned customers (optional)",
	}

	invoiceFlag = &urfave.StringFlag{
		Name:  "invoice",
		Usage: "Filters results by invoice number (optional)",
	}

	stockCodeFlag = &urfave.StringFlag{
		Name:  "stock",
		Usage: "Filters results by stock code (optional)",
	}

	sinceFlag = &urfave.StringFlag{
		Name:  "since",
		Usage: "Filters results to purchases on or after this date, YYYY-MM-DD (optional)",
	}

	queryCmd = &urfave.Command{
		Name:    "query",
		Aliases: []string{"q"},
		Usage:   "List and detail operations on the imported data",
		Subcommands: []*urfave.Command{
			{
				Name:  "customer",
				Usage: "Customer operations",
				Subcommands: []*urfave.Command{
					{
						Name:   "list",
						Usage:  "Lists customers ordered by total spend",
						Flags:  []urfave.Flag{countryFlag, limitFlag},
						Action: cmdQueryCustomerList,
					},
					{
						Name:   "detail",
						Usage:  "Single customer with RFM, churn, CLV, and recent purchases",
						Flags:  []urfave.Flag{customerIDFlag},
						Action: cmdQueryCustomerDetail,
					},
				},
			},
			{
				Name:   "segment",
				Usage:  "Lists customers by RFM score, optionally for one segment",
				Flags:  []urfave.Flag{segmentFlag, limitFlag},
				Action: cmdQuerySegment,
			},
			{
				Name:   "churn",
				Usage:  "Lists customers ordered by churn risk",
				Flags:  []urfave.Flag{churnedFlag, limitFlag},
				Action: cmdQueryChurn,
			},
			{
				Name:   "clv",
				Usage:  "Lists customers ordered by lifetime value",
				Flags:  []urfave.Flag{limitFlag},
				Action: cmdQueryCLV,
			},
			{
				Name:   "transactions",
				Usage:  "Searches raw purchase records",
				Flags: []urfave.Flag{
					invoiceFlag,
					customerListIDFlag,
					countryFlag,
					stockCodeFlag,
					sinceFlag,
					limitFlag,
				},
				Action: cmdQueryTransactions,
			},
			{
				Name:   "state",
				Usage:  "Row counts for the main and derived tables",
				Action: cmdQueryState,
			},
		},
	}
)

func cmdQueryCustomerList(c *urfave.Context) error {
	cfg := getConfig(c)

	var country *string
	if v := c.String(countryFlag.Name); v != "" {
		country = &v
	}

	list, err := data.ListCustomers(cfg.DB, country, c.Int(limitFlag.Name))
	if err != nil {
		return fmt.Errorf("listing customers: %w", err)
	}
	return encode(list)
}

func cmdQueryCustomerDetail(c *urfave.Context) error {
	cfg := getConfig(c)

	id := c.Int64(customerIDFlag.Name)
	detail, err := data.GetCustomer(cfg.DB, id)
	if err != nil {
		return fmt.Errorf("getting customer %d: %w", id, err)
	}
	if detail == nil {
		return fmt.Errorf("customer %d not found", id)
	}
	return encode(detail)
}

func cmdQuerySegment(c *urfave.Context) error {
	cfg := getConfig(c)

	var segment *string
	if v := c.String(segmentFlag.Name); v != "" {
		segment = &v
	}

	list, err := data.QueryRFM(cfg.DB, segment, c.Int(limitFlag.Name))
	if err != nil {
		return fmt.Errorf("querying RFM scores: %w", err)
	}
	return encode(list)
}

func cmdQueryChurn(c *urfave.Context) error {
	cfg := getConfig(c)

	var churned *bool
	if c.IsSet(churnedFlag.Name) {
		v := c.Bool(churnedFlag.Name)
		churned = &v
	}

	list, err := data.QueryChurn(cfg.DB, churned, c.Int(limitFlag.Name))
	if err != nil {
		return fmt.Errorf("querying churn risk: %w", err)
	}
	return encode(list)
}

func cmdQueryCLV(c *urfave.Context) error {
	cfg := getConfig(c)

	list, err := data.QueryCLV(cfg.DB, c.Int(limitFlag.Name))
	if err != nil {
		return fmt.Errorf("querying CLV: %w", err)
	}
	return encode(list)
}

func cmdQueryTransactions(c *urfave.Context) error {
	cfg := getConfig(c)

	q := &data.PurchaseSearchCriteria{
		PageSize: c.Int(limitFlag.Name),
	}
	if v := c.String(invoiceFlag.Name); v != "" {
		q.Invoice = &v
	}
	if c.IsSet(customerListIDFlag.Name) {
		v := c.Int64(customerListIDFlag.Name)
		q.CustomerID = &v
	}
	if v := c.String(countryFlag.Name); v != "" {
		q.Country = &v
	}
	if v := c.String(stockCodeFlag.Name); v != "" {
		q.StockCode = &v
	}
	if v := c.String(sinceFlag.Name); v != "" {
		q.FromDate = &v
	}

	list, err := data.SearchPurchases(cfg.DB, q)
	if err != nil {
		return fmt.Errorf("searching purchases: %w", err)
	}
	return encode(list)
}

func cmdQueryState(c *urfave.Context) error {
	cfg := getConfig(c)

	state, err := data.GetDataState(cfg.DB)
	if err != nil {
		return fmt.Errorf("getting data state: %w", err)
	}
	return encode(state)
}
