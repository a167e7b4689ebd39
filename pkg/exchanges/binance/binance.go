// Package binance implements the exchange gateway against the Binance spot
// REST API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"traderbird-core/pkg/exchanges/common"
)

const codeUnknownSymbol = -1121

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client is a Binance spot client implementing common.Gateway.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *common.TimeSync
	limiter    *rate.Limiter
}

// New builds a client; testnet toggles the host.
func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	client := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Spot allows 1200 request weight per minute; stay at ~20/s.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	client.timeSync = common.NewTimeSync(client.GetServerTime)
	return client
}

// StartTimeSync keeps the signing timestamp aligned with the server clock.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime() (int64, error) {
	body, err := c.doPublic(context.Background(), c.baseURL+"/api/v3/time")
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// GetPrice returns the last traded price for base+quote.
func (c *Client) GetPrice(ctx context.Context, base, quote string) (float64, error) {
	pair := strings.ToUpper(base + quote)
	body, err := c.doPublic(ctx, c.baseURL+"/api/v3/ticker/price?symbol="+pair)
	if err != nil {
		return 0, err
	}
	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", res.Price, err)
	}
	return price, nil
}

// GetAvailableBalance returns the free balance for a currency.
func (c *Client) GetAvailableBalance(ctx context.Context, currency string) (float64, error) {
	params := url.Values{}
	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/api/v3/account", params)
	if err != nil {
		return 0, err
	}
	var res struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	currency = strings.ToUpper(currency)
	for _, bal := range res.Balances {
		if bal.Asset == currency {
			free, err := strconv.ParseFloat(bal.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("parse balance %q: %w", bal.Free, err)
			}
			return free, nil
		}
	}
	return 0, nil
}

// MarketBuy submits a market buy for qty of the pair's base asset.
func (c *Client) MarketBuy(ctx context.Context, pair string, qty float64) (common.OrderResult, error) {
	return c.marketOrder(ctx, pair, "BUY", qty)
}

// MarketSell submits a market sell for qty of the pair's base asset.
func (c *Client) MarketSell(ctx context.Context, pair string, qty float64) (common.OrderResult, error) {
	return c.marketOrder(ctx, pair, "SELL", qty)
}

func (c *Client) marketOrder(ctx context.Context, pair, side string, qty float64) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance: API key/secret required")
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(qty))
	params.Set("newOrderRespType", "FULL")

	body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/api/v3/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		Type        string `json:"type"`
		Fills       []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}

	res := common.OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		OrigQty:     toFloat(resp.OrigQty),
		ExecutedQty: toFloat(resp.ExecutedQty),
		Type:        resp.Type,
	}
	// Market orders carry no order price; derive the average from the fills.
	var notional, filled float64
	for _, f := range resp.Fills {
		p, q := toFloat(f.Price), toFloat(f.Qty)
		notional += p * q
		filled += q
	}
	if filled > 0 {
		res.Price = notional / filled
	}
	return res, nil
}

// GetTradeHistory returns the fills for one exchange order.
func (c *Client) GetTradeHistory(ctx context.Context, pair, exchangeOrderID string) ([]common.Fill, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))
	params.Set("orderId", exchangeOrderID)

	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/api/v3/myTrades", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	fills := make([]common.Fill, 0, len(raw))
	for _, t := range raw {
		fills = append(fills, common.Fill{
			Price:           toFloat(t.Price),
			Qty:             toFloat(t.Qty),
			Commission:      toFloat(t.Commission),
			CommissionAsset: t.CommissionAsset,
		})
	}
	return fills, nil
}

// LoadInstrumentRules fetches lot constraints for every listed pair.
func (c *Client) LoadInstrumentRules(ctx context.Context) (common.Rulebook, error) {
	body, err := c.doPublic(ctx, c.baseURL+"/api/v3/exchangeInfo")
	if err != nil {
		return nil, err
	}

	var res struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
				MaxQty     string `json:"maxQty"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	book := make(common.Rulebook, len(res.Symbols))
	for _, sym := range res.Symbols {
		for _, f := range sym.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			book[strings.ToUpper(sym.Symbol)] = common.InstrumentRules{
				MinQty:   toFloat(f.MinQty),
				MaxQty:   toFloat(f.MaxQty),
				StepSize: toFloat(f.StepSize),
			}
		}
	}
	return book, nil
}

func (c *Client) doPublic(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		timestamp = c.timeSync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

	// The signature covers everything else and must come last.
	encoded := params.Encode()
	encoded += "&signature=" + sign(encoded, c.cfg.APISecret)

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		// For GET/DELETE Binance expects signed params in the query string.
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	return c.do(req)
}

// do runs one request and maps failures onto the gateway error taxonomy.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", common.ErrUnavailable, err)
	}

	switch {
	case res.StatusCode < 300:
		return body, nil
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", common.ErrUnavailable, res.StatusCode, string(body))
	default:
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Code == codeUnknownSymbol {
			return nil, fmt.Errorf("%w: %s", common.ErrUnknownSymbol, apiErr.Msg)
		}
		if apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return nil, fmt.Errorf("%w: %s", common.ErrRejected, apiErr.Msg)
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
