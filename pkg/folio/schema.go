package folio

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column placeholders expanded per dialect:
//   {{pk}}  auto-increment primary key
//   {{num}} exact decimal column
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id {{pk}},
		name TEXT NOT NULL UNIQUE,
		currency TEXT NOT NULL,
		price {{num}},
		price_currency TEXT,
		price_updated_at TEXT,
		price_url TEXT,
		dividend_url TEXT,
		distributes_dividends INTEGER NOT NULL DEFAULT 0,
		dividend_withholding_tax {{num}},
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id {{pk}},
		user_id TEXT NOT NULL,
		asset_id BIGINT NOT NULL REFERENCES assets(id),
		action TEXT NOT NULL CHECK (action IN ('buy', 'sell')),
		quantity {{num}} NOT NULL,
		price {{num}} NOT NULL,
		price_currency TEXT NOT NULL,
		commission {{num}} NOT NULL,
		commission_currency TEXT NOT NULL,
		amount {{num}} NOT NULL,
		amount_currency TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		notes TEXT,
		import_batch TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_asset ON transactions(user_id, asset_id, transaction_date, id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, transaction_date)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id {{pk}},
		user_id TEXT NOT NULL,
		asset_id BIGINT NOT NULL REFERENCES assets(id),
		transaction_id BIGINT NOT NULL UNIQUE REFERENCES transactions(id),
		average_price {{num}} NOT NULL,
		average_price_currency TEXT NOT NULL,
		quantity_on_hand {{num}} NOT NULL,
		amount_on_hand {{num}} NOT NULL,
		amount_on_hand_currency TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_user_asset ON positions(user_id, asset_id)`,
	`CREATE TABLE IF NOT EXISTS dividends (
		id {{pk}},
		asset_id BIGINT NOT NULL REFERENCES assets(id),
		ex_date TEXT NOT NULL,
		pay_date TEXT,
		value {{num}} NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (asset_id, ex_date)
	)`,
	`CREATE TABLE IF NOT EXISTS realized_profits (
		id {{pk}},
		user_id TEXT NOT NULL,
		asset_id BIGINT NOT NULL REFERENCES assets(id),
		kind TEXT NOT NULL CHECK (kind IN ('trade', 'dividend')),
		transaction_id BIGINT UNIQUE REFERENCES transactions(id),
		dividend_id BIGINT REFERENCES dividends(id),
		amount {{num}} NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, dividend_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_realized_profits_user_asset ON realized_profits(user_id, asset_id)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id {{pk}},
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE (user_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS asset_tags (
		asset_id BIGINT NOT NULL REFERENCES assets(id),
		tag_id BIGINT NOT NULL REFERENCES tags(id),
		user_id TEXT NOT NULL,
		PRIMARY KEY (asset_id, tag_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS portfolios (
		id {{pk}},
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS portfolio_tags (
		portfolio_id BIGINT NOT NULL REFERENCES portfolios(id),
		tag_id BIGINT NOT NULL REFERENCES tags(id),
		PRIMARY KEY (portfolio_id, tag_id)
	)`,
	`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		snapshot_date TEXT NOT NULL,
		total_value {{num}} NOT NULL,
		currency TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, snapshot_date)
	)`,
	`CREATE TABLE IF NOT EXISTS exchange_rates (
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		rate {{num}} NOT NULL,
		source TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (from_currency, to_currency)
	)`,
}

func (d dialect) expandDDL(stmt string) string {
	pk, num := "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT"
	if d == dialectPostgres {
		pk, num = "BIGSERIAL PRIMARY KEY", "NUMERIC"
	}
	return strings.NewReplacer("{{pk}}", pk, "{{num}}", num).Replace(stmt)
}

func initDatabase(ctx context.Context, db *sql.DB, d dialect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range schemaStatements {
		if err := exec(ctx, tx, d.expandDDL(stmt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func exec(ctx context.Context, tx *sql.Tx, q string) error {
	if _, err := tx.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}
