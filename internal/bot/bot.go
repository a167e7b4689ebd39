// Package bot wires one channel's stream, keyword matching, trading and
// price tracking into a single unit the API layer drives.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"traderbird-core/internal/events"
	"traderbird-core/internal/filter"
	"traderbird-core/internal/order"
	"traderbird-core/internal/stream"
	"traderbird-core/internal/tracker"
	"traderbird-core/pkg/config"
	"traderbird-core/pkg/db"
	"traderbird-core/pkg/exchanges/common"
	"traderbird-core/pkg/twitter"
)

// Bot runs one channel: its followed accounts, keyword filters, trade
// lifecycle and tracked pairs.
type Bot struct {
	Channel  *db.Channel
	DB       *db.Database
	Stream   *stream.Manager
	Executor *order.Executor
	Tracker  *tracker.Tracker
	Bus      *events.Bus
	Gateway  common.Gateway
	Cfg      *config.Config

	log *logrus.Entry

	// mu guards accounts, filters and the channel's buy settings.
	mu       sync.Mutex
	accounts map[string]db.Account // external user id -> account
	filters  []db.Filter           // matching order
}

// New assembles a bot for a persisted channel. LoadData must run before
// Start.
func New(ch *db.Channel, database *db.Database, transport stream.Transport, exec *order.Executor, bus *events.Bus, gw common.Gateway, cfg *config.Config) *Bot {
	b := &Bot{
		Channel:  ch,
		DB:       database,
		Executor: exec,
		Bus:      bus,
		Gateway:  gw,
		Cfg:      cfg,
		accounts: make(map[string]db.Account),
		log:      logrus.WithField("channel", ch.ChatID),
	}
	b.Stream = stream.New(stream.Config{
		Transport: transport,
		ChannelID: ch.ChatID,
		OnTweet:   b.HandleTweet,
		OnError: func(err error) {
			bus.Publish(events.EventError, events.Broadcast{
				ChatID: ch.ChatID,
				Text:   "Stream error: " + err.Error(),
			})
		},
		Backoff:    cfg.StreamBackoff,
		MaxBackoff: cfg.StreamBackoffCeil,
	})
	b.Tracker = tracker.New(gw, bus, ch.ChatID, cfg.PriceTrackInterval)
	return b
}

// LoadData hydrates the followed accounts and keyword filters from the store
// and seeds the stream membership.
func (b *Bot) LoadData(ctx context.Context) error {
	accounts, err := b.DB.ListChannelAccounts(ctx, b.Channel.ID)
	if err != nil {
		return err
	}
	filters, err := b.DB.ListChannelFilters(ctx, b.Channel.ID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.accounts = make(map[string]db.Account, len(accounts))
	for _, a := range accounts {
		b.accounts[a.UserID] = a
	}
	b.filters = filters
	b.mu.Unlock()

	for _, a := range accounts {
		b.Stream.AddIdentity(a.UserID)
	}
	b.log.WithFields(logrus.Fields{
		"accounts": len(accounts),
		"filters":  len(filters),
	}).Info("channel data loaded")
	return nil
}

// Start brings up the stream session and the price tracker.
func (b *Bot) Start(ctx context.Context) {
	b.Stream.Start(ctx)
	b.Tracker.Start(ctx)
}

// Stop tears both down.
func (b *Bot) Stop() {
	b.Stream.Stop()
	b.Tracker.Stop()
}

// HandleTweet classifies an incoming event, runs keyword matching, persists a
// capture and broadcasts it with inline buy actions.
func (b *Bot) HandleTweet(ev *twitter.Event) {
	b.mu.Lock()
	account, followed := b.accounts[ev.User.ID]
	keywords := make([]string, len(b.filters))
	for i, f := range b.filters {
		keywords[i] = f.Keyword
	}
	buySize, buyQuote := b.Channel.BuySize, b.Channel.BuyQuote
	b.mu.Unlock()

	if !followed {
		// The stream also delivers replies and mentions from strangers.
		return
	}

	kind := filter.Classify(ev)
	annotated, matched := filter.Annotate(ev.Text, keywords)
	if !filter.ShouldCapture(matched, keywords) {
		return
	}

	ctx := context.Background()
	tweetID, err := b.DB.CreateTweet(ctx, db.Tweet{
		AccountID:   account.ID,
		Text:        ev.Text,
		IsQuote:     ev.IsQuote(),
		IsReply:     ev.IsReply(),
		IsRetweet:   ev.IsRetweet(),
		UserID:      ev.User.ID,
		TimestampMS: ev.EventTime(),
	})
	if err != nil {
		b.log.WithError(err).Error("persist tweet")
		return
	}

	sizePct := buySize * 100
	buttons := make([]events.Button, 0, len(matched))
	for _, kw := range matched {
		buttons = append(buttons, events.Button{
			Text: fmt.Sprintf("buy %g%% %s/%s", sizePct, kw, buyQuote),
			Data: fmt.Sprintf("buy %d %s %s", tweetID, kw, buyQuote),
		})
	}

	b.Bus.Publish(events.EventTweetMatch, events.Broadcast{
		ChatID:  b.Channel.ChatID,
		Text:    fmt.Sprintf("[%s] @%s: %s", kind, account.Username, annotated),
		Buttons: buttons,
	})
	b.log.WithFields(logrus.Fields{
		"tweet":   tweetID,
		"kind":    kind,
		"matched": matched,
	}).Info("tweet captured")
}

// ----------------------------------------
// Account management
// ----------------------------------------

// AddAccount follows a screen name. The returned string is ready to display.
func (b *Bot) AddAccount(ctx context.Context, screenName string) (string, error) {
	screenName = strings.TrimPrefix(strings.TrimSpace(screenName), "@")
	if screenName == "" {
		return "Give me a username to follow.", nil
	}

	user, err := b.Stream.LookupIdentity(ctx, screenName)
	if err != nil {
		if errors.Is(err, twitter.ErrUserNotFound) {
			return fmt.Sprintf("No user named @%s.", screenName), nil
		}
		return "", err
	}

	b.mu.Lock()
	_, dup := b.accounts[user.ID]
	b.mu.Unlock()
	if dup {
		return fmt.Sprintf("Already following @%s.", user.ScreenName), nil
	}

	account, err := b.DB.FindOrCreateAccount(ctx, user.ScreenName, user.ID)
	if err != nil {
		return "", err
	}
	if err := b.DB.AddChannelAccount(ctx, b.Channel.ID, account.ID); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.accounts[account.UserID] = *account
	b.mu.Unlock()
	b.Stream.AddIdentity(account.UserID)

	return fmt.Sprintf("Now following @%s.", account.Username), nil
}

// RemoveAccount unfollows a screen name.
func (b *Bot) RemoveAccount(ctx context.Context, screenName string) (string, error) {
	screenName = strings.TrimPrefix(strings.TrimSpace(screenName), "@")

	b.mu.Lock()
	var found *db.Account
	for _, a := range b.accounts {
		if strings.EqualFold(a.Username, screenName) {
			cp := a
			found = &cp
			break
		}
	}
	b.mu.Unlock()

	if found == nil {
		return fmt.Sprintf("Not following @%s.", screenName), nil
	}
	if err := b.DB.RemoveChannelAccount(ctx, b.Channel.ID, found.ID); err != nil {
		return "", err
	}

	b.mu.Lock()
	delete(b.accounts, found.UserID)
	b.mu.Unlock()
	b.Stream.RemoveIdentity(found.UserID)

	return fmt.Sprintf("Stopped following @%s.", found.Username), nil
}

// ListAccounts renders the followed accounts.
func (b *Bot) ListAccounts(ctx context.Context) (string, error) {
	accounts, err := b.DB.ListChannelAccounts(ctx, b.Channel.ID)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "Not following anyone yet.", nil
	}
	lines := make([]string, len(accounts))
	for i, a := range accounts {
		lines[i] = "@" + a.Username
	}
	return "Following:\n" + strings.Join(lines, "\n"), nil
}

// ----------------------------------------
// Filter management
// ----------------------------------------

// AddFilter activates a keyword for this channel.
func (b *Bot) AddFilter(ctx context.Context, keyword string) (string, error) {
	keyword = strings.ToUpper(strings.TrimSpace(keyword))
	if keyword == "" {
		return "Give me a keyword to watch.", nil
	}

	b.mu.Lock()
	for _, f := range b.filters {
		if f.Keyword == keyword {
			b.mu.Unlock()
			return fmt.Sprintf("Already watching %s.", keyword), nil
		}
	}
	b.mu.Unlock()

	f, err := b.DB.FindOrCreateFilter(ctx, keyword)
	if err != nil {
		return "", err
	}
	if err := b.DB.AddChannelFilter(ctx, b.Channel.ID, f.ID); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.filters = append(b.filters, *f)
	b.mu.Unlock()

	return fmt.Sprintf("Watching %s.", keyword), nil
}

// RemoveFilter deactivates a keyword for this channel.
func (b *Bot) RemoveFilter(ctx context.Context, keyword string) (string, error) {
	keyword = strings.ToUpper(strings.TrimSpace(keyword))

	b.mu.Lock()
	idx := -1
	var target db.Filter
	for i, f := range b.filters {
		if f.Keyword == keyword {
			idx = i
			target = f
			break
		}
	}
	b.mu.Unlock()

	if idx < 0 {
		return fmt.Sprintf("Not watching %s.", keyword), nil
	}
	if err := b.DB.RemoveChannelFilter(ctx, b.Channel.ID, target.ID); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.filters = append(b.filters[:idx], b.filters[idx+1:]...)
	b.mu.Unlock()

	return fmt.Sprintf("Stopped watching %s.", keyword), nil
}

// ListFilters renders the active keywords in matching order.
func (b *Bot) ListFilters(ctx context.Context) (string, error) {
	filters, err := b.DB.ListChannelFilters(ctx, b.Channel.ID)
	if err != nil {
		return "", err
	}
	if len(filters) == 0 {
		return "No keywords yet; everything gets through.", nil
	}
	words := make([]string, len(filters))
	for i, f := range filters {
		words[i] = f.Keyword
	}
	return "Watching: " + strings.Join(words, ", "), nil
}

// ----------------------------------------
// Channel settings
// ----------------------------------------

// SetSize updates the buy size from a percentage argument like "25".
func (b *Bot) SetSize(ctx context.Context, arg string) (string, error) {
	pct, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(arg), "%"), 64)
	if err != nil || pct <= 0 || pct > 100 {
		return "Size must be a percentage between 0 and 100.", nil
	}
	size := pct / 100
	if err := b.DB.UpdateChannelBuySize(ctx, b.Channel.ID, size); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.Channel.BuySize = size
	b.mu.Unlock()
	return fmt.Sprintf("Buy size set to %g%% of available balance.", pct), nil
}

// SetQuote updates the default quote currency, restricted to the allow list.
func (b *Bot) SetQuote(ctx context.Context, quote string) (string, error) {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if !b.Cfg.QuoteAllowed(quote) {
		return fmt.Sprintf("%s is not a supported quote currency (%s).", quote, strings.Join(b.Cfg.QuoteAllowList, ", ")), nil
	}
	if err := b.DB.UpdateChannelBuyQuote(ctx, b.Channel.ID, quote); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.Channel.BuyQuote = quote
	b.mu.Unlock()
	return fmt.Sprintf("Quote currency set to %s.", quote), nil
}

// Price looks up the current price of base against the channel's quote, or an
// explicit quote when given.
func (b *Bot) Price(ctx context.Context, base, quote string) (string, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		_, quote = b.buySettings()
	}
	price, err := b.Gateway.GetPrice(ctx, base, quote)
	if err != nil {
		if errors.Is(err, common.ErrUnknownSymbol) {
			return fmt.Sprintf("No such pair %s%s.", base, quote), nil
		}
		return "", err
	}
	return fmt.Sprintf("%s%s @ %v", base, quote, price), nil
}

// ----------------------------------------
// Trading
// ----------------------------------------

// Buy opens an order against a captured tweet and executes the market buy at
// the channel's configured size. Rejections come back as displayable text,
// not errors.
func (b *Bot) Buy(ctx context.Context, tweetID int64, base, quote string) (string, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	size, defQuote := b.buySettings()
	if quote == "" {
		quote = defQuote
	}

	orderID, err := b.Executor.OpenOrder(ctx, tweetID, b.Channel.ID, base, quote, size)
	if err != nil {
		return "", err
	}
	o, err := b.Executor.ExecuteBuy(ctx, orderID)
	if err != nil {
		if msg, ok := tradeFailureText(err); ok {
			return msg, nil
		}
		return "", err
	}

	text := fmt.Sprintf("Bought %g %s%s @ %g (order %s)", o.Buy.ExecutedQty, o.Base, o.Quote, o.Buy.Price, o.Buy.ExchangeID)
	b.Bus.Publish(events.EventOrderBought, events.Broadcast{
		ChatID: b.Channel.ChatID,
		Text:   text,
		Buttons: []events.Button{
			{Text: fmt.Sprintf("sell %s%s", o.Base, o.Quote), Data: "sell " + o.ID},
		},
	})
	return text, nil
}

// Sell closes a bought order and reports realized profit.
func (b *Bot) Sell(ctx context.Context, orderID string) (string, error) {
	o, err := b.Executor.ExecuteSell(ctx, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Sprintf("No order %s.", orderID), nil
		}
		if msg, ok := tradeFailureText(err); ok {
			return msg, nil
		}
		return "", err
	}

	// A closed position no longer needs price updates.
	_ = b.Tracker.Untrack(o.Base, o.Quote)

	text := fmt.Sprintf("Sold %g %s%s @ %g (order %s)", o.Sell.ExecutedQty, o.Base, o.Quote, o.Sell.Price, o.Sell.ExchangeID)
	if s, err := b.Executor.TradeSummary(ctx, o.ID); err == nil {
		text += fmt.Sprintf("\nGross %+.8g, net %+.8g %s after fees", s.GrossProfit, s.NetProfit, o.Quote)
	} else {
		b.log.WithError(err).WithField("order", o.ID).Warn("trade summary unavailable")
	}
	b.Bus.Publish(events.EventOrderSold, events.Broadcast{
		ChatID: b.Channel.ChatID,
		Text:   text,
	})
	return text, nil
}

// Summary reports a trade's fills and realized profit by order id or either
// leg's exchange order id.
func (b *Bot) Summary(ctx context.Context, id string) (string, error) {
	s, err := b.Executor.TradeSummary(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Sprintf("No order %s.", id), nil
		}
		return "", err
	}

	o := s.Order
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s %s%s (%s)\n", o.ID, o.Base, o.Quote, o.State())
	for _, f := range s.BuyFills {
		fmt.Fprintf(&sb, "buy  %g @ %g (fee %g %s)\n", f.Qty, f.Price, f.Commission, f.CommissionAsset)
	}
	for _, f := range s.SellFills {
		fmt.Fprintf(&sb, "sell %g @ %g (fee %g %s)\n", f.Qty, f.Price, f.Commission, f.CommissionAsset)
	}
	if o.State() == db.OrderSold {
		fmt.Fprintf(&sb, "Gross %+.8g, net %+.8g %s after fees", s.GrossProfit, s.NetProfit, o.Quote)
	} else {
		fmt.Fprintf(&sb, "Spent %.8g %s so far", s.BuyNotional, o.Quote)
	}
	return sb.String(), nil
}

// Track starts price broadcasts for an order's pair.
func (b *Bot) Track(ctx context.Context, id string) (string, error) {
	o, err := b.DB.GetOrderByAnyID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Sprintf("No order %s.", id), nil
		}
		return "", err
	}
	key := o.Buy.ExchangeID
	if key == "" {
		key = o.ID
	}
	if err := b.Tracker.Track(key, o.Base, o.Quote); err != nil {
		if errors.Is(err, tracker.ErrAlreadyTracking) {
			return fmt.Sprintf("Already tracking %s%s.", o.Base, o.Quote), nil
		}
		return "", err
	}
	return fmt.Sprintf("Tracking %s%s.", o.Base, o.Quote), nil
}

// Untrack stops price broadcasts for an order's pair. The pair match ignores
// which order started the tracking.
func (b *Bot) Untrack(ctx context.Context, id string) (string, error) {
	o, err := b.DB.GetOrderByAnyID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Sprintf("No order %s.", id), nil
		}
		return "", err
	}
	if err := b.Tracker.Untrack(o.Base, o.Quote); err != nil {
		if errors.Is(err, tracker.ErrNotTracking) {
			return fmt.Sprintf("Not tracking %s%s.", o.Base, o.Quote), nil
		}
		return "", err
	}
	return fmt.Sprintf("Stopped tracking %s%s.", o.Base, o.Quote), nil
}

// UntrackAll clears every tracked pair.
func (b *Bot) UntrackAll() string {
	n := b.Tracker.UntrackAll()
	if n == 0 {
		return "Nothing was being tracked."
	}
	return fmt.Sprintf("Stopped tracking %d pair(s).", n)
}

// buySettings snapshots the channel's buy size and quote. SetSize and SetQuote
// mutate them from request goroutines while the stream delivers tweets.
func (b *Bot) buySettings() (float64, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Channel.BuySize, b.Channel.BuyQuote
}

// tradeFailureText maps expected trade failures to operator-facing text.
func tradeFailureText(err error) (string, bool) {
	switch {
	case errors.Is(err, order.ErrInvalidState):
		return "Nothing to do: " + err.Error(), true
	case errors.Is(err, common.ErrRejected):
		return "Order rejected: " + err.Error(), true
	case errors.Is(err, common.ErrUnknownSymbol):
		return "Unknown trading pair.", true
	case errors.Is(err, common.ErrUnavailable):
		return "Exchange unavailable, try again shortly.", true
	}
	return "", false
}
