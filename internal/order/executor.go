// Package order runs the trade lifecycle: open a pending order from a
// matched tweet, execute the buy under exchange lot constraints, close the
// position with a sell, and reconcile profit from fill history.
package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"traderbird-core/pkg/db"
	"traderbird-core/pkg/exchanges/common"
)

// ErrInvalidState marks an operation against the wrong lifecycle state. It is
// a benign no-op: the order was not touched and nothing was sent anywhere.
var ErrInvalidState = errors.New("order in wrong state")

// Executor persists order transitions and talks to the exchange gateway.
type Executor struct {
	DB      *db.Database
	Gateway common.Gateway
	Rules   common.Rulebook // loaded once at startup

	// Per-channel serialization of read-balance, size, submit. Two
	// concurrent buys on one channel must not size against the same
	// stale balance.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewExecutor builds an executor over the given store and gateway.
func NewExecutor(database *db.Database, gw common.Gateway, rules common.Rulebook) *Executor {
	return &Executor{
		DB:      database,
		Gateway: gw,
		Rules:   rules,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// OpenOrder creates a pending order linked to a tweet and channel. No
// exchange interaction happens until the buy is triggered.
func (e *Executor) OpenOrder(ctx context.Context, tweetID, channelID int64, base, quote string, size float64) (string, error) {
	o := db.Order{
		ID:        uuid.NewString(),
		TweetID:   tweetID,
		ChannelID: channelID,
		Base:      base,
		Quote:     quote,
		Size:      size,
	}
	if err := e.DB.CreateOrder(ctx, o); err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{
		"order": o.ID,
		"pair":  base + quote,
		"size":  size,
	}).Info("order opened")
	return o.ID, nil
}

// ExecuteBuy sizes and submits the market buy for a pending order. Calling it
// on a bought or sold order is a no-op reporting ErrInvalidState; exchange
// failures leave the order pending and untouched.
func (e *Executor) ExecuteBuy(ctx context.Context, orderID string) (*db.Order, error) {
	o, err := e.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.State() != db.OrderPending {
		return nil, fmt.Errorf("%w: buy on %s order %s", ErrInvalidState, o.State(), o.ID)
	}

	lock := e.channelLock(o.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent buy may have won the race.
	o, err = e.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.State() != db.OrderPending {
		return nil, fmt.Errorf("%w: buy on %s order %s", ErrInvalidState, o.State(), o.ID)
	}

	pair := o.Base + o.Quote

	balance, err := e.Gateway.GetAvailableBalance(ctx, o.Quote)
	if err != nil {
		return nil, err
	}
	if balance <= 0 {
		return nil, fmt.Errorf("%w: no available %s balance", common.ErrRejected, o.Quote)
	}

	price, err := e.Gateway.GetPrice(ctx, o.Base, o.Quote)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: no price for %s", common.ErrRejected, pair)
	}

	qty := o.Size * balance / price
	if rules, ok := e.Rules.Lookup(pair); ok {
		qty = Quantize(qty, rules.StepSize)
		if rules.MinQty > 0 && qty < rules.MinQty {
			return nil, fmt.Errorf("%w: quantity %v below minimum %v", common.ErrRejected, qty, rules.MinQty)
		}
		if rules.MaxQty > 0 && qty > rules.MaxQty {
			return nil, fmt.Errorf("%w: quantity %v above maximum %v", common.ErrRejected, qty, rules.MaxQty)
		}
	}

	res, err := e.Gateway.MarketBuy(ctx, pair, qty)
	if err != nil {
		return nil, err
	}

	remaining, err := e.Gateway.GetAvailableBalance(ctx, o.Quote)
	if err != nil {
		// The fill already happened; never abandon the transition over a
		// failed balance read.
		logrus.WithError(err).WithField("order", o.ID).Warn("post-fill balance read failed")
		remaining = 0
	}

	exec := db.Execution{
		ExchangeID:  res.OrderID,
		Price:       res.Price,
		OrigQty:     res.OrigQty,
		ExecutedQty: res.ExecutedQty,
		Type:        res.Type,
		Balance:     remaining,
		Time:        time.Now(),
	}
	ok, err := e.DB.MarkOrderBought(ctx, o.ID, exec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: buy already executed for order %s", ErrInvalidState, o.ID)
	}

	o.Buy = exec
	logrus.WithFields(logrus.Fields{
		"order":       o.ID,
		"pair":        pair,
		"qty":         res.ExecutedQty,
		"price":       res.Price,
		"exchange_id": res.OrderID,
	}).Info("buy executed")
	return o, nil
}

// ExecuteSell closes the position by selling exactly the executed buy
// quantity. Only a bought order can sell; anything else is a no-op reporting
// ErrInvalidState.
func (e *Executor) ExecuteSell(ctx context.Context, orderID string) (*db.Order, error) {
	o, err := e.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.State() != db.OrderBought {
		return nil, fmt.Errorf("%w: sell on %s order %s", ErrInvalidState, o.State(), o.ID)
	}

	lock := e.channelLock(o.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent sell may have won the race.
	o, err = e.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.State() != db.OrderBought {
		return nil, fmt.Errorf("%w: sell on %s order %s", ErrInvalidState, o.State(), o.ID)
	}

	pair := o.Base + o.Quote
	qty := o.Buy.ExecutedQty

	res, err := e.Gateway.MarketSell(ctx, pair, qty)
	if err != nil {
		return nil, err
	}

	remaining, err := e.Gateway.GetAvailableBalance(ctx, o.Quote)
	if err != nil {
		logrus.WithError(err).WithField("order", o.ID).Warn("post-fill balance read failed")
		remaining = 0
	}

	exec := db.Execution{
		ExchangeID:  res.OrderID,
		Price:       res.Price,
		OrigQty:     res.OrigQty,
		ExecutedQty: res.ExecutedQty,
		Type:        res.Type,
		Balance:     remaining,
		Time:        time.Now(),
	}
	ok, err := e.DB.MarkOrderSold(ctx, o.ID, exec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: sell already executed for order %s", ErrInvalidState, o.ID)
	}

	o.Sell = exec
	logrus.WithFields(logrus.Fields{
		"order":       o.ID,
		"pair":        pair,
		"qty":         res.ExecutedQty,
		"price":       res.Price,
		"exchange_id": res.OrderID,
	}).Info("sell executed")
	return o, nil
}

// Summary aggregates both legs' fill history. Callers must use these totals
// rather than re-deriving them, so rounding stays consistent everywhere.
type Summary struct {
	Order        *db.Order
	BuyFills     []common.Fill
	SellFills    []common.Fill
	BuyNotional  float64
	SellNotional float64
	BuyFee       float64
	SellFee      float64
	GrossProfit  float64
	NetProfit    float64
}

// TradeSummary resolves an order by its id or either leg's exchange id and
// computes realized profit from the exchange's fill history.
func (e *Executor) TradeSummary(ctx context.Context, id string) (*Summary, error) {
	o, err := e.DB.GetOrderByAnyID(ctx, id)
	if err != nil {
		return nil, err
	}

	pair := o.Base + o.Quote
	s := &Summary{Order: o}

	if o.Buy.Executed() {
		fills, err := e.Gateway.GetTradeHistory(ctx, pair, o.Buy.ExchangeID)
		if err != nil {
			return nil, err
		}
		s.BuyFills = fills
		for _, f := range fills {
			s.BuyNotional += f.Price * f.Qty
			s.BuyFee += f.Commission
		}
	}
	if o.Sell.Executed() {
		fills, err := e.Gateway.GetTradeHistory(ctx, pair, o.Sell.ExchangeID)
		if err != nil {
			return nil, err
		}
		s.SellFills = fills
		for _, f := range fills {
			s.SellNotional += f.Price * f.Qty
			s.SellFee += f.Commission
		}
	}

	s.GrossProfit = s.SellNotional - s.BuyNotional
	s.NetProfit = s.GrossProfit - (s.BuyFee + s.SellFee)
	return s, nil
}

// Quantize truncates qty down to the nearest step multiple. It never rounds
// up: the result always satisfies Quantize(q, s) <= q.
func Quantize(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Trunc(qty/step) * step
}

func (e *Executor) channelLock(channelID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[channelID] = lock
	}
	return lock
}
