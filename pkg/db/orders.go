package db

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateOrder inserts a new pending order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, tweet_id, channel_id, base, quote, size)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.TweetID, o.ChannelID, o.Base, o.Quote, o.Size)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

const orderColumns = `
	id, tweet_id, channel_id, base, quote, size,
	buy_exchange_id, buy_price, buy_orig_qty, buy_executed_qty, buy_type, buy_balance, buy_time,
	sell_exchange_id, sell_price, sell_orig_qty, sell_executed_qty, sell_type, sell_balance, sell_time,
	created_at`

// GetOrder returns an order by its id or ErrNotFound.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// GetOrderByAnyID resolves an order by its own id or by the exchange id of
// either leg. Trade summaries accept all three.
func (d *Database) GetOrderByAnyID(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE id = ? OR (buy_exchange_id != '' AND buy_exchange_id = ?) OR (sell_exchange_id != '' AND sell_exchange_id = ?)
	`, id, id, id)
	return scanOrder(row)
}

// ListChannelOrders returns a channel's orders, newest first.
func (d *Database) ListChannelOrders(ctx context.Context, channelID int64) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE channel_id = ? ORDER BY created_at DESC, id DESC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}
	return res, rows.Err()
}

// MarkOrderBought records the buy leg. The transition only fires while the
// order is still pending; the returned bool reports whether it did.
func (d *Database) MarkOrderBought(ctx context.Context, id string, ex Execution) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET buy_exchange_id = ?, buy_price = ?, buy_orig_qty = ?, buy_executed_qty = ?,
		    buy_type = ?, buy_balance = ?, buy_time = ?
		WHERE id = ? AND buy_time IS NULL
	`, ex.ExchangeID, ex.Price, ex.OrigQty, ex.ExecutedQty, ex.Type, ex.Balance, ex.Time, id)
	if err != nil {
		return false, fmt.Errorf("mark order bought: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkOrderSold records the sell leg. Requires an executed buy leg and no
// prior sell; the returned bool reports whether the transition fired.
func (d *Database) MarkOrderSold(ctx context.Context, id string, ex Execution) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET sell_exchange_id = ?, sell_price = ?, sell_orig_qty = ?, sell_executed_qty = ?,
		    sell_type = ?, sell_balance = ?, sell_time = ?
		WHERE id = ? AND buy_time IS NOT NULL AND sell_time IS NULL
	`, ex.ExchangeID, ex.Price, ex.OrigQty, ex.ExecutedQty, ex.Type, ex.Balance, ex.Time, id)
	if err != nil {
		return false, fmt.Errorf("mark order sold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o        Order
		buyTime  sql.NullTime
		sellTime sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.TweetID, &o.ChannelID, &o.Base, &o.Quote, &o.Size,
		&o.Buy.ExchangeID, &o.Buy.Price, &o.Buy.OrigQty, &o.Buy.ExecutedQty, &o.Buy.Type, &o.Buy.Balance, &buyTime,
		&o.Sell.ExchangeID, &o.Sell.Price, &o.Sell.OrigQty, &o.Sell.ExecutedQty, &o.Sell.Type, &o.Sell.Balance, &sellTime,
		&o.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if buyTime.Valid {
		o.Buy.Time = buyTime.Time
	}
	if sellTime.Valid {
		o.Sell.Time = sellTime.Time
	}
	return &o, nil
}
