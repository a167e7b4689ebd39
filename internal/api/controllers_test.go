package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"traderbird-core/internal/bot"
	"traderbird-core/internal/events"
	"traderbird-core/internal/order"
	"traderbird-core/internal/stream"
	"traderbird-core/pkg/config"
	"traderbird-core/pkg/db"
	"traderbird-core/pkg/exchanges/common"
	"traderbird-core/pkg/twitter"
)

type noopTransport struct{}

func (noopTransport) Open(ctx context.Context, _ []string) (stream.Session, error) {
	return noopSession{done: ctx.Done()}, nil
}

func (noopTransport) LookupUser(_ context.Context, screenName string) (twitter.User, error) {
	return twitter.User{ID: "id-" + screenName, ScreenName: screenName}, nil
}

type noopSession struct {
	done <-chan struct{}
}

func (s noopSession) ReadEvent() (*twitter.Event, error) {
	<-s.done
	return nil, context.Canceled
}

func (s noopSession) Close() error { return nil }

type noopGateway struct{}

func (noopGateway) GetPrice(_ context.Context, base, quote string) (float64, error) {
	if base+quote != "BTCUSDT" {
		return 0, fmt.Errorf("%w: %s%s", common.ErrUnknownSymbol, base, quote)
	}
	return 50000, nil
}
func (noopGateway) GetAvailableBalance(context.Context, string) (float64, error) { return 1000, nil }
func (noopGateway) MarketBuy(_ context.Context, _ string, qty float64) (common.OrderResult, error) {
	return common.OrderResult{OrderID: "x-1", Price: 50000, OrigQty: qty, ExecutedQty: qty, Type: "MARKET"}, nil
}
func (noopGateway) MarketSell(_ context.Context, _ string, qty float64) (common.OrderResult, error) {
	return common.OrderResult{OrderID: "x-2", Price: 50000, OrigQty: qty, ExecutedQty: qty, Type: "MARKET"}, nil
}
func (noopGateway) GetTradeHistory(context.Context, string, string) ([]common.Fill, error) {
	return nil, nil
}
func (noopGateway) LoadInstrumentRules(context.Context) (common.Rulebook, error) { return nil, nil }

func newTestAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		StreamBackoff:      10 * time.Millisecond,
		StreamBackoffCeil:  time.Second,
		PriceTrackInterval: time.Minute,
		DefaultBuySize:     1.0,
		DefaultQuote:       "USDT",
		QuoteAllowList:     []string{"BTC", "ETH", "USDT"},
	}

	bus := events.NewBus()
	gw := noopGateway{}
	exec := order.NewExecutor(database, gw, nil)
	registry := bot.NewRegistry(database, noopTransport{}, exec, bus, gw, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := registry.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(registry.Shutdown)

	server := NewServer(registry, bus, database, SystemMeta{Venue: "binance", Testnet: true, Version: "test"})
	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res.StatusCode
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestAPIServer(t)
	var body map[string]string
	if code := getJSON(t, ts.URL+"/health", &body); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}

func TestSystemStatus(t *testing.T) {
	ts := newTestAPIServer(t)
	var body struct {
		Venue   string `json:"venue"`
		Testnet bool   `json:"testnet"`
	}
	if code := getJSON(t, ts.URL+"/api/system/status", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Venue != "binance" || !body.Testnet {
		t.Errorf("system status = %+v", body)
	}
}

func TestFilterEndpoints(t *testing.T) {
	ts := newTestAPIServer(t)
	base := ts.URL + "/api/channels/chat-1"

	var out map[string]string
	if code := postJSON(t, base+"/filters", map[string]string{"keyword": "btc"}, &out); code != http.StatusOK {
		t.Fatalf("add filter status = %d", code)
	}
	if out["message"] != "Watching BTC." {
		t.Errorf("add filter message = %q", out["message"])
	}

	if code := getJSON(t, base+"/filters", &out); code != http.StatusOK {
		t.Fatalf("list filters status = %d", code)
	}
	if out["message"] != "Watching: BTC" {
		t.Errorf("list filters message = %q", out["message"])
	}

	// Missing body field is a 400, not a 500.
	if code := postJSON(t, base+"/filters", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("bad request status = %d", code)
	}
}

func TestPriceEndpoint(t *testing.T) {
	ts := newTestAPIServer(t)
	base := ts.URL + "/api/channels/chat-1"

	var out map[string]string
	if code := getJSON(t, base+"/price/btc", &out); code != http.StatusOK {
		t.Fatalf("price status = %d", code)
	}
	if out["message"] != "BTCUSDT @ 50000" {
		t.Errorf("price message = %q", out["message"])
	}
}

func TestBuyEndpoint(t *testing.T) {
	ts := newTestAPIServer(t)
	base := ts.URL + "/api/channels/chat-1"

	var out map[string]string
	if code := postJSON(t, base+"/buy", map[string]any{"base": "BTC"}, &out); code != http.StatusOK {
		t.Fatalf("buy status = %d: %v", code, out)
	}
	if out["message"] == "" {
		t.Error("buy returned empty message")
	}

	var orders struct {
		Orders []struct {
			State string `json:"state"`
		} `json:"orders"`
	}
	if code := getJSON(t, base+"/orders", &orders); code != http.StatusOK {
		t.Fatalf("orders status = %d", code)
	}
	if len(orders.Orders) != 1 || orders.Orders[0].State != "BOUGHT" {
		t.Errorf("orders = %+v", orders)
	}
}
