package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS channels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL UNIQUE,
    buy_size REAL NOT NULL DEFAULT 1.0,
    buy_quote TEXT NOT NULL DEFAULT 'USDT',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL,
    user_id TEXT NOT NULL UNIQUE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS filters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword TEXT NOT NULL UNIQUE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channel_accounts (
    channel_id INTEGER NOT NULL,
    account_id INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (channel_id, account_id),
    FOREIGN KEY(channel_id) REFERENCES channels(id),
    FOREIGN KEY(account_id) REFERENCES accounts(id)
);

CREATE TABLE IF NOT EXISTS channel_filters (
    channel_id INTEGER NOT NULL,
    filter_id INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (channel_id, filter_id),
    FOREIGN KEY(channel_id) REFERENCES channels(id),
    FOREIGN KEY(filter_id) REFERENCES filters(id)
);

CREATE TABLE IF NOT EXISTS tweets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    text TEXT NOT NULL,
    is_quote BOOLEAN NOT NULL DEFAULT 0,
    is_reply BOOLEAN NOT NULL DEFAULT 0,
    is_retweet BOOLEAN NOT NULL DEFAULT 0,
    user_id TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(account_id) REFERENCES accounts(id)
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    tweet_id INTEGER NOT NULL,
    channel_id INTEGER NOT NULL,
    base TEXT NOT NULL,
    quote TEXT NOT NULL,
    size REAL NOT NULL,
    buy_exchange_id TEXT NOT NULL DEFAULT '',
    buy_price REAL NOT NULL DEFAULT 0,
    buy_orig_qty REAL NOT NULL DEFAULT 0,
    buy_executed_qty REAL NOT NULL DEFAULT 0,
    buy_type TEXT NOT NULL DEFAULT '',
    buy_balance REAL NOT NULL DEFAULT 0,
    buy_time DATETIME,
    sell_exchange_id TEXT NOT NULL DEFAULT '',
    sell_price REAL NOT NULL DEFAULT 0,
    sell_orig_qty REAL NOT NULL DEFAULT 0,
    sell_executed_qty REAL NOT NULL DEFAULT 0,
    sell_type TEXT NOT NULL DEFAULT '',
    sell_balance REAL NOT NULL DEFAULT 0,
    sell_time DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(tweet_id) REFERENCES tweets(id),
    FOREIGN KEY(channel_id) REFERENCES channels(id)
);

CREATE INDEX IF NOT EXISTS idx_orders_buy_exchange_id ON orders(buy_exchange_id);
CREATE INDEX IF NOT EXISTS idx_orders_sell_exchange_id ON orders(sell_exchange_id);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "channels", "buy_quote", "TEXT NOT NULL DEFAULT 'USDT'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "buy_balance", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "sell_balance", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
