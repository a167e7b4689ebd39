package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ----------------------------------------
// Channels
// ----------------------------------------

// FindOrCreateChannel returns the channel for a chat id, creating it with the
// given defaults on first contact.
func (d *Database) FindOrCreateChannel(ctx context.Context, chatID string, buySize float64, buyQuote string) (*Channel, error) {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO channels (chat_id, buy_size, buy_quote)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING
	`, chatID, buySize, strings.ToUpper(buyQuote))
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	return d.GetChannelByChatID(ctx, chatID)
}

// GetChannelByChatID returns the channel for a chat id or ErrNotFound.
func (d *Database) GetChannelByChatID(ctx context.Context, chatID string) (*Channel, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, chat_id, buy_size, buy_quote, created_at
		FROM channels WHERE chat_id = ?
	`, chatID)
	var c Channel
	if err := row.Scan(&c.ID, &c.ChatID, &c.BuySize, &c.BuyQuote, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	return &c, nil
}

// ListChannels returns all channels.
func (d *Database) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, chat_id, buy_size, buy_quote, created_at
		FROM channels ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var res []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.ChatID, &c.BuySize, &c.BuyQuote, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateChannelBuySize sets the buy size fraction for a channel.
func (d *Database) UpdateChannelBuySize(ctx context.Context, channelID int64, size float64) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE channels SET buy_size = ? WHERE id = ?`, size, channelID)
	return err
}

// UpdateChannelBuyQuote sets the default quote currency for a channel.
func (d *Database) UpdateChannelBuyQuote(ctx context.Context, channelID int64, quote string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE channels SET buy_quote = ? WHERE id = ?`, strings.ToUpper(quote), channelID)
	return err
}

// ----------------------------------------
// Accounts
// ----------------------------------------

// FindOrCreateAccount returns the account for an external user id, creating it
// if needed. Accounts are shared across channels; uniqueness is by user id.
func (d *Database) FindOrCreateAccount(ctx context.Context, username, userID string) (*Account, error) {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (username, user_id)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, username, userID)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	row := d.DB.QueryRowContext(ctx, `
		SELECT id, username, user_id, created_at FROM accounts WHERE user_id = ?
	`, userID)
	var a Account
	if err := row.Scan(&a.ID, &a.Username, &a.UserID, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// AddChannelAccount associates an account with a channel.
func (d *Database) AddChannelAccount(ctx context.Context, channelID, accountID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO channel_accounts (channel_id, account_id)
		VALUES (?, ?)
		ON CONFLICT(channel_id, account_id) DO NOTHING
	`, channelID, accountID)
	return err
}

// RemoveChannelAccount drops the association; the account row survives since
// other channels may still follow it.
func (d *Database) RemoveChannelAccount(ctx context.Context, channelID, accountID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM channel_accounts WHERE channel_id = ? AND account_id = ?
	`, channelID, accountID)
	return err
}

// ListChannelAccounts returns the accounts a channel follows, oldest first.
func (d *Database) ListChannelAccounts(ctx context.Context, channelID int64) ([]Account, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT a.id, a.username, a.user_id, a.created_at
		FROM accounts a
		JOIN channel_accounts ca ON ca.account_id = a.id
		WHERE ca.channel_id = ?
		ORDER BY ca.rowid
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query channel accounts: %w", err)
	}
	defer rows.Close()

	var res []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Username, &a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Filters
// ----------------------------------------

// FindOrCreateFilter returns the filter for a keyword, creating it if needed.
// Keywords are stored upper-cased for case-insensitive matching.
func (d *Database) FindOrCreateFilter(ctx context.Context, keyword string) (*Filter, error) {
	keyword = strings.ToUpper(keyword)
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO filters (keyword)
		VALUES (?)
		ON CONFLICT(keyword) DO NOTHING
	`, keyword)
	if err != nil {
		return nil, fmt.Errorf("insert filter: %w", err)
	}

	row := d.DB.QueryRowContext(ctx, `
		SELECT id, keyword, created_at FROM filters WHERE keyword = ?
	`, keyword)
	var f Filter
	if err := row.Scan(&f.ID, &f.Keyword, &f.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan filter: %w", err)
	}
	return &f, nil
}

// AddChannelFilter associates a filter with a channel.
func (d *Database) AddChannelFilter(ctx context.Context, channelID, filterID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO channel_filters (channel_id, filter_id)
		VALUES (?, ?)
		ON CONFLICT(channel_id, filter_id) DO NOTHING
	`, channelID, filterID)
	return err
}

// RemoveChannelFilter drops the association.
func (d *Database) RemoveChannelFilter(ctx context.Context, channelID, filterID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM channel_filters WHERE channel_id = ? AND filter_id = ?
	`, channelID, filterID)
	return err
}

// ListChannelFilters returns a channel's active keywords in the order they
// were added. Matching walks this order, so keep it stable.
func (d *Database) ListChannelFilters(ctx context.Context, channelID int64) ([]Filter, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT f.id, f.keyword, f.created_at
		FROM filters f
		JOIN channel_filters cf ON cf.filter_id = f.id
		WHERE cf.channel_id = ?
		ORDER BY cf.rowid
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query channel filters: %w", err)
	}
	defer rows.Close()

	var res []Filter
	for rows.Next() {
		var f Filter
		if err := rows.Scan(&f.ID, &f.Keyword, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Tweets
// ----------------------------------------

// CreateTweet appends a captured event. Tweets are never updated.
func (d *Database) CreateTweet(ctx context.Context, t Tweet) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO tweets (account_id, text, is_quote, is_reply, is_retweet, user_id, timestamp_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.AccountID, t.Text, t.IsQuote, t.IsReply, t.IsRetweet, t.UserID, t.TimestampMS)
	if err != nil {
		return 0, fmt.Errorf("insert tweet: %w", err)
	}
	return res.LastInsertId()
}
