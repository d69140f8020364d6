package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

const (
	defaultRESTURL = "https://api.bybit.com"
	klinePageSize  = 1000
	recvWindow     = "5000"
)

// Symbols matching these fragments are not part of the tradable universe.
var excludedSymbolFragments = []string{"USDC", "USDE", "USTC"}

// Client is the Bybit v5 REST implementation of Gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
}

// NewClient creates a Bybit REST client. baseURL may be empty for the
// production endpoint.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	if baseURL == "" {
		baseURL = defaultRESTURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
	}
}

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, payload interface{}) (json.RawMessage, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		// Request signing is handled by the deployment's API gateway;
		// only identification headers are attached here.
		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.RetCode != 0 {
		return nil, &APIError{RetCode: parsed.RetCode, RetMsg: parsed.RetMsg}
	}
	return parsed.Result, nil
}

type instrumentsResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		LotSizeFilter struct {
			QtyStep string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

func tradable(symbol string) bool {
	for _, fragment := range excludedSymbolFragments {
		if strings.Contains(symbol, fragment) {
			return false
		}
	}
	return !strings.Contains(symbol, "-") && !strings.HasSuffix(symbol, "PERP")
}

// FetchInstruments lists linear perpetual instruments, following the
// pagination cursor and filtering out non-USDT contracts.
func (c *Client) FetchInstruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", "linear")
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		result, err := c.request(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil)
		if err != nil {
			return nil, err
		}
		var page instrumentsResult
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("decode instruments: %w", err)
		}
		for _, item := range page.List {
			if !tradable(item.Symbol) {
				continue
			}
			step, _ := strconv.ParseFloat(item.LotSizeFilter.QtyStep, 64)
			out = append(out, Instrument{Symbol: item.Symbol, QtyStep: step})
		}
		if page.NextPageCursor == "" {
			break
		}
		cursor = page.NextPageCursor
	}
	return out, nil
}

// FetchInstrument returns a single instrument's metadata.
func (c *Client) FetchInstrument(ctx context.Context, symbol string) (Instrument, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	result, err := c.request(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil)
	if err != nil {
		return Instrument{}, err
	}
	var page instrumentsResult
	if err := json.Unmarshal(result, &page); err != nil {
		return Instrument{}, fmt.Errorf("decode instrument: %w", err)
	}
	if len(page.List) == 0 {
		return Instrument{}, fmt.Errorf("instrument %s not found", symbol)
	}
	step, _ := strconv.ParseFloat(page.List[0].LotSizeFilter.QtyStep, 64)
	return Instrument{Symbol: page.List[0].Symbol, QtyStep: step}, nil
}

type klineResult struct {
	List [][]string `json:"list"`
}

func parseKlineRow(row []string) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("kline timestamp: %w", err)
	}
	fields := make([]float64, 5)
	for i := 0; i < 5; i++ {
		fields[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
	}
	return market.Candle{
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

// FetchKlines pages candles oldest-first in 1000-row batches. The
// trailing still-open candle of each page is stripped; malformed rows are
// logged and dropped.
func (c *Client) FetchKlines(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	var out []market.Candle
	for {
		params := url.Values{}
		params.Set("category", "linear")
		params.Set("symbol", symbol)
		params.Set("interval", timeframe)
		params.Set("limit", strconv.Itoa(klinePageSize))
		if start > 0 {
			params.Set("start", strconv.FormatInt(start, 10))
		}
		if end > 0 {
			params.Set("end", strconv.FormatInt(end, 10))
		}
		result, err := c.request(ctx, http.MethodGet, "/v5/market/kline", params, nil)
		if err != nil {
			return nil, err
		}
		var page klineResult
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("decode klines: %w", err)
		}
		rows := page.List
		if len(rows) == 0 {
			break
		}
		rows = rows[:len(rows)-1] // exclude the open candle

		var lastTs int64
		for _, row := range rows {
			candle, err := parseKlineRow(row)
			if err != nil {
				logger.Warnf("Skipping malformed kline for %s/%s: %v", symbol, timeframe, err)
				continue
			}
			if !candle.Valid() {
				logger.Warnf("Skipping invalid historical candle for %s/%s: %+v", symbol, timeframe, candle)
				continue
			}
			out = append(out, candle)
			lastTs = candle.Timestamp
		}
		if len(rows) < klinePageSize-1 || lastTs == 0 {
			break
		}
		start = lastTs + 1 // page forward without gaps
	}
	return out, nil
}

type tickerResult struct {
	List []struct {
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

// GetTicker returns the last traded price for the symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	result, err := c.request(ctx, http.MethodGet, "/v5/market/tickers", params, nil)
	if err != nil {
		return 0, err
	}
	var parsed tickerResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	if len(parsed.List) == 0 {
		return 0, fmt.Errorf("no ticker data for %s", symbol)
	}
	price, err := strconv.ParseFloat(parsed.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last price: %w", err)
	}
	return price, nil
}

type balanceResult struct {
	List []struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
	} `json:"list"`
}

// GetBalance returns the unified account wallet balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	result, err := c.request(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil)
	if err != nil {
		return 0, err
	}
	var parsed balanceResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	if len(parsed.List) == 0 {
		return 0, fmt.Errorf("no wallet balance data")
	}
	balance, err := strconv.ParseFloat(parsed.List[0].TotalWalletBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wallet balance: %w", err)
	}
	return balance, nil
}

type positionResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		Leverage      string `json:"leverage"`
		UnrealisedPnl string `json:"unrealisedPnl"`
	} `json:"list"`
}

// GetPosition returns the exchange's view of the symbol's position. A
// flat symbol yields Size 0 and no error.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*PositionInfo, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	result, err := c.request(ctx, http.MethodGet, "/v5/position/list", params, nil)
	if err != nil {
		return nil, err
	}
	var parsed positionResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	info := &PositionInfo{Symbol: symbol}
	if len(parsed.List) == 0 {
		return info, nil
	}
	row := parsed.List[0]
	info.Size, _ = strconv.ParseFloat(row.Size, 64)
	if info.Size <= 0 {
		return info, nil
	}
	if row.Side == "Buy" {
		info.Side = "long"
	} else {
		info.Side = "short"
	}
	info.EntryPrice, _ = strconv.ParseFloat(row.AvgPrice, 64)
	info.Leverage, _ = strconv.ParseFloat(row.Leverage, 64)
	info.UnrealizedPnL, _ = strconv.ParseFloat(row.UnrealisedPnl, 64)
	return info, nil
}

// SetLeverage adjusts both buy and sell leverage for the symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	lv := strconv.FormatFloat(leverage, 'f', -1, 64)
	payload := map[string]string{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lv,
		"sellLeverage": lv,
	}
	_, err := c.request(ctx, http.MethodPost, "/v5/position/set-leverage", nil, payload)
	return err
}

type orderResult struct {
	OrderID string `json:"orderId"`
}

// PlaceOrder submits a market order, with SL/TP attached when set.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        req.Side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"timeInForce": "GTC",
		"reduceOnly":  req.ReduceOnly,
	}
	if req.StopLoss > 0 {
		payload["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TakeProfit > 0 {
		payload["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}
	result, err := c.request(ctx, http.MethodPost, "/v5/order/create", nil, payload)
	if err != nil {
		return "", err
	}
	var parsed orderResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	return parsed.OrderID, nil
}
