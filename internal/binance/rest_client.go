package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hanyx21/BOOM/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
)

// Bar is one OHLCV observation for a fixed interval, ordered by open time.
type Bar struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Ticker24h is a 24-hour rolling ticker snapshot for one symbol.
type Ticker24h struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	QuoteVolume        float64
}

// MarketDataClient is the read-only market data surface the engine consumes.
type MarketDataClient interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetKlines(ctx context.Context, pair, interval string, limit int) ([]Bar, error)
	Get24hTickers(ctx context.Context) ([]Ticker24h, error)
	GetPrices(ctx context.Context, pairs []string) (map[string]float64, error)
	GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error)
}

// RestClient is a client for the Binance spot REST API.
// It implements the MarketDataClient interface.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure RestClient implements the interface
var _ MarketDataClient = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// ExchangeSymbol converts a "BTC/USDT" pair into Binance's "BTCUSDT" form.
func ExchangeSymbol(pair string) string {
	return strings.ReplaceAll(strings.ToUpper(pair), "/", "")
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	var lastStatus string
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			lastStatus = resp.Status()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}
		if i == maxRetries-1 {
			break // no point sleeping after the last attempt
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
	}
	return nil, fmt.Errorf("request failed after %d attempts, last status %s", maxRetries, lastStatus)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, "GET", "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// GetKlines fetches up to limit OHLCV bars for one pair at the given interval.
// Bars come back oldest first, the order Binance serves them in.
func (c *RestClient) GetKlines(ctx context.Context, pair, interval string, limit int) ([]Bar, error) {
	// The klines payload is an array of arrays with mixed number/string entries.
	var raw [][]interface{}

	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   ExchangeSymbol(pair),
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", pair, err)
	}

	result := resp.Result().(*[][]interface{})
	bars := make([]Bar, 0, len(*result))
	for _, row := range *result {
		bar, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kline for %s: %w", pair, err)
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

// parseKline converts one raw kline row into a Bar.
// Layout: [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []interface{}) (Bar, error) {
	if len(row) < 6 {
		return Bar{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}

	openTime, ok := row[0].(float64)
	if !ok {
		return Bar{}, fmt.Errorf("kline open time is not a number: %v", row[0])
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return Bar{}, fmt.Errorf("kline field %d is not a string: %v", i, row[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i-1] = v
	}

	return Bar{
		OpenTime: int64(openTime),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

// ticker24hRaw mirrors the wire form, where every number is a string.
type ticker24hRaw struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
}

// Get24hTickers fetches the 24-hour rolling statistics for all symbols.
func (c *RestClient) Get24hTickers(ctx context.Context) ([]Ticker24h, error) {
	var raw []ticker24hRaw

	req := c.client.R().
		SetContext(ctx).
		SetResult(&raw).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/ticker/24hr", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get 24h tickers: %w", err)
	}

	result := resp.Result().(*[]ticker24hRaw)
	tickers := make([]Ticker24h, 0, len(*result))
	for _, r := range *result {
		last, err1 := strconv.ParseFloat(r.LastPrice, 64)
		pct, err2 := strconv.ParseFloat(r.PriceChangePercent, 64)
		qv, err3 := strconv.ParseFloat(r.QuoteVolume, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			c.logger.Warn("Skipping unparseable ticker", zap.String("symbol", r.Symbol))
			continue
		}
		tickers = append(tickers, Ticker24h{
			Symbol:             r.Symbol,
			LastPrice:          last,
			PriceChangePercent: pct,
			QuoteVolume:        qv,
		})
	}

	return tickers, nil
}

// tickerPrice represents the response for a single ticker price.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrices fetches the latest price for the given pairs, keyed by pair
// (slash form). Pairs missing from the exchange response are omitted.
func (c *RestClient) GetPrices(ctx context.Context, pairs []string) (map[string]float64, error) {
	var prices []*tickerPrice

	req := c.client.R().
		SetContext(ctx).
		SetResult(&prices).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/ticker/price", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker prices: %w", err)
	}

	result := resp.Result().(*[]*tickerPrice)
	bySymbol := make(map[string]float64, len(*result))
	for _, p := range *result {
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			continue
		}
		bySymbol[p.Symbol] = v
	}

	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		if v, ok := bySymbol[ExchangeSymbol(pair)]; ok {
			out[pair] = v
		}
	}
	return out, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// LOT_SIZE carries the step/min quantity, NOTIONAL the minimum order value.
type Filter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// GetExchangeInfo fetches exchange trading rules and symbol information.
func (c *RestClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetContext(ctx).
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}
