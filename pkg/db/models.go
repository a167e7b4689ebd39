package db

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// OrderState is the lifecycle position of an order.
type OrderState string

const (
	OrderPending OrderState = "PENDING"
	OrderBought  OrderState = "BOUGHT"
	OrderSold    OrderState = "SOLD"
)

// Channel is a destination the bot posts matches and fills to.
type Channel struct {
	ID        int64
	ChatID    string
	BuySize   float64 // fraction of available quote balance
	BuyQuote  string
	CreatedAt time.Time
}

// Account is a followed identity on the event stream.
type Account struct {
	ID        int64
	Username  string
	UserID    string // external numeric id, unique
	CreatedAt time.Time
}

// Filter is a keyword, stored upper-cased.
type Filter struct {
	ID        int64
	Keyword   string
	CreatedAt time.Time
}

// Tweet is an immutable captured event.
type Tweet struct {
	ID          int64
	AccountID   int64
	Text        string
	IsQuote     bool
	IsReply     bool
	IsRetweet   bool
	UserID      string
	TimestampMS int64
	CreatedAt   time.Time
}

// Execution holds one leg's fill data. A zero Time means the leg has not
// executed.
type Execution struct {
	ExchangeID  string
	Price       float64
	OrigQty     float64
	ExecutedQty float64
	Type        string
	Balance     float64 // quote balance remaining right after the fill
	Time        time.Time
}

// Executed reports whether the leg has run.
func (e Execution) Executed() bool { return !e.Time.IsZero() }

// Order is the trade lifecycle record linking a tweet to exchange fills.
type Order struct {
	ID        string
	TweetID   int64
	ChannelID int64
	Base      string
	Quote     string
	Size      float64 // fraction of available quote balance
	Buy       Execution
	Sell      Execution
	CreatedAt time.Time
}

// State derives the lifecycle state from the executed legs.
func (o *Order) State() OrderState {
	switch {
	case o.Sell.Executed():
		return OrderSold
	case o.Buy.Executed():
		return OrderBought
	default:
		return OrderPending
	}
}
