package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderbird-core/internal/events"
	"traderbird-core/pkg/exchanges/common"
)

type priceGateway struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (g *priceGateway) GetPrice(_ context.Context, base, quote string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prices[base+quote]
	if !ok {
		return 0, fmt.Errorf("%w: %s%s", common.ErrUnknownSymbol, base, quote)
	}
	return p, nil
}

func (g *priceGateway) GetAvailableBalance(context.Context, string) (float64, error) {
	return 0, nil
}
func (g *priceGateway) MarketBuy(context.Context, string, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (g *priceGateway) MarketSell(context.Context, string, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (g *priceGateway) GetTradeHistory(context.Context, string, string) ([]common.Fill, error) {
	return nil, nil
}
func (g *priceGateway) LoadInstrumentRules(context.Context) (common.Rulebook, error) {
	return nil, nil
}

func TestTrackRejectsDuplicatePair(t *testing.T) {
	tr := New(&priceGateway{}, events.NewBus(), "chat-1", time.Minute)

	require.NoError(t, tr.Track("order-1", "btc", "usdt"))

	// Same pair under a different order id is still a duplicate.
	err := tr.Track("order-2", "BTC", "USDT")
	require.ErrorIs(t, err, ErrAlreadyTracking)

	assert.Equal(t, []string{"BTCUSDT"}, tr.Tracked())
}

func TestUntrack(t *testing.T) {
	tr := New(&priceGateway{}, events.NewBus(), "chat-1", time.Minute)

	require.NoError(t, tr.Track("order-1", "BTC", "USDT"))
	require.NoError(t, tr.Untrack("BTC", "USDT"))
	require.ErrorIs(t, tr.Untrack("BTC", "USDT"), ErrNotTracking)
	assert.Empty(t, tr.Tracked())
}

func TestUntrackMatchesByPairNotOrderID(t *testing.T) {
	tr := New(&priceGateway{}, events.NewBus(), "chat-1", time.Minute)

	// Tracked under order-a; removable through any order of the same pair.
	require.NoError(t, tr.Track("order-a", "BTC", "USDT"))
	require.NoError(t, tr.Untrack("btc", "usdt"))
	assert.Empty(t, tr.Tracked())
}

func TestUntrackAll(t *testing.T) {
	tr := New(&priceGateway{}, events.NewBus(), "chat-1", time.Minute)
	require.NoError(t, tr.Track("o1", "BTC", "USDT"))
	require.NoError(t, tr.Track("o2", "ETH", "USDT"))

	assert.Equal(t, 2, tr.UntrackAll())
	assert.Equal(t, 0, tr.UntrackAll())
}

func TestTickBroadcastsPricesAndIsolatesFailures(t *testing.T) {
	gw := &priceGateway{prices: map[string]float64{"ETHUSDT": 3100.5}}
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 10)
	defer unsub()

	tr := New(gw, bus, "chat-1", time.Minute)
	require.NoError(t, tr.Track("o1", "BTC", "USDT")) // no price, fetch fails
	require.NoError(t, tr.Track("o2", "ETH", "USDT"))

	tr.tick(context.Background())

	select {
	case msg := <-ticks:
		b, ok := msg.(events.Broadcast)
		require.True(t, ok)
		assert.Equal(t, "chat-1", b.ChatID)
		assert.Equal(t, "ETHUSDT @ 3100.5", b.Text)
	case <-time.After(time.Second):
		t.Fatal("no price tick broadcast")
	}

	// The failed pair must not produce a tick.
	select {
	case msg := <-ticks:
		t.Fatalf("unexpected extra broadcast: %v", msg)
	default:
	}
}
