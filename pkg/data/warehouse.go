package data

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	warehouseRFMDDL = `CREATE TABLE IF NOT EXISTS crm_rfm (
		customer_id BIGINT PRIMARY KEY,
		recency_days INTEGER NOT NULL,
		frequency INTEGER NOT NULL,
		monetary DOUBLE PRECISION NOT NULL,
		r_score INTEGER NOT NULL,
		f_score INTEGER NOT NULL,
		m_score INTEGER NOT NULL,
		segment TEXT NOT NULL
	)`

	warehouseChurnDDL = `CREATE TABLE IF NOT EXISTS crm_churn (
		customer_id BIGINT PRIMARY KEY,
		lifetime_days INTEGER NOT NULL,
		days_since_last INTEGER NOT NULL,
		transactions INTEGER NOT NULL,
		invoices INTEGER NOT NULL,
		total_spend DOUBLE PRECISION NOT NULL,
		avg_order_value DOUBLE PRECISION NOT NULL,
		purchase_frequency DOUBLE PRECISION NOT NULL,
		churned BOOLEAN NOT NULL,
		risk DOUBLE PRECISION NOT NULL
	)`

	warehouseCLVDDL = `CREATE TABLE IF NOT EXISTS crm_clv (
		customer_id BIGINT PRIMARY KEY,
		frequency INTEGER NOT NULL,
		recency_days DOUBLE PRECISION NOT NULL,
		age_days DOUBLE PRECISION NOT NULL,
		monetary_value DOUBLE PRECISION NOT NULL,
		probability_alive DOUBLE PRECISION NOT NULL,
		expected_avg_value DOUBLE PRECISION NOT NULL,
		clv DOUBLE PRECISION NOT NULL
	)`
)

// TablePush reports one table pushed to the warehouse.
type TablePush struct {
	Table string `json:"table" yaml:"table"`
	Rows  int64  `json:"rows" yaml:"rows"`
}

// PushResult is the outcome of a warehouse push.
type PushResult struct {
	Tables []*TablePush `json:"tables" yaml:"tables"`
}

// PushWarehouse copies the derived tables (rfm, churn, clv) from the
// local database into a Postgres warehouse. Tables are created on
// first push and fully replaced on each subsequent one.
func PushWarehouse(ctx context.Context, db *sql.DB, dsn string) (*PushResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if dsn == "" {
		return nil, errors.New("warehouse DSN not provided")
	}

	wh, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open warehouse connection")
	}
	defer wh.Close()

	if err := wh.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to reach warehouse")
	}

	res := &PushResult{}

	rfmRows, err := pushRFM(ctx, db, wh)
	if err != nil {
		return nil, err
	}
	res.Tables = append(res.Tables, &TablePush{Table: "crm_rfm", Rows: rfmRows})

	churnRows, err := pushChurn(ctx, db, wh)
	if err != nil {
		return nil, err
	}
	res.Tables = append(res.Tables, &TablePush{Table: "crm_churn", Rows: churnRows})

	clvRows, err := pushCLV(ctx, db, wh)
	if err != nil {
		return nil, err
	}
	res.Tables = append(res.Tables, &TablePush{Table: "crm_clv", Rows: clvRows})

	return res, nil
}

func pushRFM(ctx context.Context, db, wh *sql.DB) (int64, error) {
	scores, err := QueryRFM(db, nil, 1<<30)
	if err != nil {
		return 0, err
	}
	return replaceWarehouseTable(ctx, wh, "crm_rfm", warehouseRFMDDL,
		[]string{"customer_id", "recency_days", "frequency", "monetary", "r_score", "f_score", "m_score", "segment"},
		len(scores), func(i int) []any {
			s := scores[i]
			return []any{s.CustomerID, s.RecencyDays, s.Frequency, s.Monetary, s.RScore, s.FScore, s.MScore, s.Segment}
		})
}

func pushChurn(ctx context.Context, db, wh *sql.DB) (int64, error) {
	rows, err := QueryChurn(db, nil, 1<<30)
	if err != nil {
		return 0, err
	}
	return replaceWarehouseTable(ctx, wh, "crm_churn", warehouseChurnDDL,
		[]string{"customer_id", "lifetime_days", "days_since_last", "transactions", "invoices",
			"total_spend", "avg_order_value", "purchase_frequency", "churned", "risk"},
		len(rows), func(i int) []any {
			c := rows[i]
			return []any{c.CustomerID, c.LifetimeDays, c.DaysSinceLast, c.Transactions, c.Invoices,
				c.TotalSpend, c.AvgOrderValue, c.PurchaseFrequency, c.Churned, c.Risk}
		})
}

func pushCLV(ctx context.Context, db, wh *sql.DB) (int64, error) {
	rows, err := QueryCLV(db, 1<<30)
	if err != nil {
		return 0, err
	}
	return replaceWarehouseTable(ctx, wh, "crm_clv", warehouseCLVDDL,
		[]string{"customer_id", "frequency", "recency_days", "age_days", "monetary_value",
			"probability_alive", "expected_avg_value", "clv"},
		len(rows), func(i int) []any {
			c := rows[i]
			return []any{c.CustomerID, c.Frequency, c.RecencyDays, c.AgeDays, c.MonetaryValue,
				c.ProbabilityAlive, c.ExpectedAvgValue, c.CLV}
		})
}

// replaceWarehouseTable truncates and refills one warehouse table
// inside a single transaction using the COPY protocol.
func replaceWarehouseTable(ctx context.Context, wh *sql.DB, table, ddl string, columns []string, n int, row func(i int) []any) (int64, error) {
	if _, err := wh.ExecContext(ctx, ddl); err != nil {
		return 0, errors.Wrapf(err, "failed to create warehouse table %s", table)
	}

	tx, err := wh.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin warehouse transaction")
	}

	if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return 0, errors.Wrap(rbErr, "failed to rollback warehouse transaction")
		}
		return 0, errors.Wrapf(err, "failed to truncate warehouse table %s", table)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return 0, errors.Wrap(rbErr, "failed to rollback warehouse transaction")
		}
		return 0, errors.Wrapf(err, "failed to prepare copy for %s", table)
	}

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			stmt.Close()
			if rbErr := tx.Rollback(); rbErr != nil {
				return 0, errors.Wrap(rbErr, "failed to rollback warehouse transaction")
			}
			return 0, errors.Wrapf(err, "failed to copy row into %s", table)
		}
	}

	// Flush the copy buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		if rbErr := tx.Rollback(); rbErr != nil {
			return 0, errors.Wrap(rbErr, "failed to rollback warehouse transaction")
		}
		return 0, errors.Wrapf(err, "failed to flush copy into %s", table)
	}
	if err := stmt.Close(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return 0, errors.Wrap(rbErr, "failed to rollback warehouse transaction")
		}
		return 0, errors.Wrapf(err, "failed to close copy for %s", table)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit warehouse transaction")
	}
	return int64(n), nil
}
