package connector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/yanun0323/logs"

	"tradeagent/internal/schema"
)

const (
	bybitDefaultBaseURL = "https://api.bybit.com"
	bybitRecvWindow     = "5000"
	bybitKlinePageLimit = 200

	restAttempts = 3
	restBackoff  = 500 * time.Millisecond
)

// BybitConfig holds the REST credentials and endpoints.
type BybitConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Bybit implements Connector against the bybit v5 API.
type Bybit struct {
	cfg    BybitConfig
	client *http.Client
	// now is swappable for deterministic signature tests
	now func() time.Time
}

// NewBybit builds the REST client.
func NewBybit(cfg BybitConfig) *Bybit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = bybitDefaultBaseURL
	}
	return &Bybit{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func bybitCategory(market schema.Market) string {
	if market == schema.MarketFuture {
		return "linear"
	}
	return "spot"
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign produces the v5 request signature over
// timestamp + apiKey + recvWindow + payload.
func (b *Bybit) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(timestamp + b.cfg.APIKey + bybitRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *Bybit) do(ctx context.Context, method, path string, query url.Values, body any, signed bool, out any) error {
	var payload string
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return err
		}
		payload = string(reqBody)
	} else if len(query) > 0 {
		payload = canonicalQuery(query)
	}

	u := b.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + canonicalQuery(query)
	}

	var lastErr error
	for attempt := 0; attempt < restAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(restBackoff << (attempt - 1)):
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if signed {
			ts := strconv.FormatInt(b.now().UnixMilli(), 10)
			req.Header.Set("X-BAPI-API-KEY", b.cfg.APIKey)
			req.Header.Set("X-BAPI-TIMESTAMP", ts)
			req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
			req.Header.Set("X-BAPI-SIGN", b.sign(ts, payload))
		}

		resp, err := b.client.Do(req)
		if err != nil {
			lastErr = err
			logs.Errorf("bybit: %s %s: %s", method, path, err)
			continue
		}
		lastErr = decodeBybit(resp, out)
		if lastErr == nil {
			return nil
		}
		logs.Errorf("bybit: %s %s: %s", method, path, lastErr)
	}
	return lastErr
}

func decodeBybit(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bybit api status %d: %s", resp.StatusCode, string(body))
	}
	var env bybitEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.RetCode != 0 {
		return fmt.Errorf("bybit api error %d: %s", env.RetCode, env.RetMsg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// canonicalQuery encodes the values with stable key order, which the
// signature requires to match the request line byte for byte.
func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(k))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(q.Get(k)))
	}
	return buf.String()
}

func (b *Bybit) GetAssetInfo(ctx context.Context, market schema.Market, symbol string) (schema.Asset, error) {
	q := url.Values{"category": {bybitCategory(market)}, "symbol": {symbol}}
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				MinOrderQty   string `json:"minOrderQty"`
				MaxOrderQty   string `json:"maxOrderQty"`
				QtyStep       string `json:"qtyStep"`
				BasePrecision string `json:"basePrecision"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := b.do(ctx, http.MethodGet, "/v5/market/instruments-info", q, nil, false, &result); err != nil {
		return schema.Asset{}, err
	}
	if len(result.List) == 0 {
		return schema.Asset{}, fmt.Errorf("bybit: symbol %s not found in %s", symbol, bybitCategory(market))
	}
	item := result.List[0]
	step := parseF(item.LotSizeFilter.QtyStep)
	if step == 0 {
		step = parseF(item.LotSizeFilter.BasePrecision)
	}
	tick := parseF(item.PriceFilter.TickSize)
	return schema.Asset{
		Market:         market,
		Symbol:         item.Symbol,
		Ticker:         item.BaseCoin,
		BaseTicker:     item.QuoteCoin,
		Trading:        item.Status == "Trading",
		MinOrderAmount: parseF(item.LotSizeFilter.MinOrderQty),
		MaxOrderAmount: parseF(item.LotSizeFilter.MaxOrderQty),
		ValueStep:      step,
		PriceStep:      tick,
		TickSize:       tick,
	}, nil
}

func (b *Bybit) GetBalances(ctx context.Context) ([]schema.Balance, error) {
	return b.walletBalances(ctx, "UNIFIED")
}

func (b *Bybit) GetFunds(ctx context.Context) ([]schema.FundingBalance, error) {
	balances, err := b.walletBalances(ctx, "FUND")
	if err != nil {
		return nil, err
	}
	funds := make([]schema.FundingBalance, 0, len(balances))
	for _, bal := range balances {
		funds = append(funds, schema.FundingBalance{
			Ticker:    bal.Ticker,
			Balance:   bal.Value,
			Available: bal.Value - bal.Locked,
		})
	}
	return funds, nil
}

func (b *Bybit) walletBalances(ctx context.Context, accountType string) ([]schema.Balance, error) {
	q := url.Values{"accountType": {accountType}}
	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := b.do(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil, true, &result); err != nil {
		return nil, err
	}
	var out []schema.Balance
	for _, acct := range result.List {
		for _, c := range acct.Coin {
			out = append(out, schema.Balance{
				Ticker: c.Coin,
				Value:  parseF(c.WalletBalance),
				Locked: parseF(c.Locked),
			})
		}
	}
	return out, nil
}

func (b *Bybit) GetPositions(ctx context.Context) ([]schema.Position, error) {
	q := url.Values{"category": {"linear"}, "settleCoin": {"USDT"}}
	var result struct {
		List []struct {
			Symbol         string `json:"symbol"`
			Side           string `json:"side"`
			Size           string `json:"size"`
			PositionValue  string `json:"positionValue"`
			AvgPrice       string `json:"avgPrice"`
			Leverage       string `json:"leverage"`
			CurRealisedPnl string `json:"curRealisedPnl"`
			CreatedTime    string `json:"createdTime"`
		} `json:"list"`
	}
	if err := b.do(ctx, http.MethodGet, "/v5/position/list", q, nil, true, &result); err != nil {
		return nil, err
	}
	var out []schema.Position
	for _, p := range result.List {
		size := parseF(p.Size)
		if size == 0 {
			continue
		}
		value := size
		base := parseF(p.PositionValue)
		if p.Side == "Sell" {
			value, base = -value, -base
		}
		ts, _ := strconv.ParseInt(p.CreatedTime, 10, 64)
		out = append(out, schema.Position{
			Market:      schema.MarketFuture,
			Ticker:      p.Symbol,
			Value:       value,
			BaseValue:   base,
			OpenPrice:   parseF(p.AvgPrice),
			Leverage:    int(parseF(p.Leverage)),
			RealizedPnL: parseF(p.CurRealisedPnl),
			CreatedTS:   ts,
		})
	}
	return out, nil
}

func (b *Bybit) GetOrders(ctx context.Context, market schema.Market, symbol string) ([]schema.OpenOrder, error) {
	q := url.Values{"category": {bybitCategory(market)}, "symbol": {symbol}}
	var result struct {
		List []bybitOrder `json:"list"`
	}
	if err := b.do(ctx, http.MethodGet, "/v5/order/realtime", q, nil, true, &result); err != nil {
		return nil, err
	}
	out := make([]schema.OpenOrder, 0, len(result.List))
	for _, o := range result.List {
		value := parseF(o.Qty)
		if o.Side == "Sell" {
			value = -value
		}
		out = append(out, schema.OpenOrder{
			ID:        o.OrderID,
			Ticker:    o.Symbol,
			Value:     value,
			OpenPrice: parseF(o.Price),
		})
	}
	return out, nil
}

func (b *Bybit) GetPriceHistory(ctx context.Context, market schema.Market, symbol string, timeframe int, from, to time.Time, fn func(TimedCandle) error) error {
	start := from.UnixMilli()
	end := to.UnixMilli()
	for start < end {
		q := url.Values{
			"category": {bybitCategory(market)},
			"symbol":   {symbol},
			"interval": {strconv.Itoa(timeframe)},
			"start":    {strconv.FormatInt(start, 10)},
			"end":      {strconv.FormatInt(end, 10)},
			"limit":    {strconv.Itoa(bybitKlinePageLimit)},
		}
		var result struct {
			List [][]string `json:"list"`
		}
		if err := b.do(ctx, http.MethodGet, "/v5/market/kline", q, nil, false, &result); err != nil {
			return err
		}
		if len(result.List) == 0 {
			return nil
		}
		// the venue returns newest first; walk backwards for oldest-first
		pageEnd := start
		for i := len(result.List) - 1; i >= 0; i-- {
			row := result.List[i]
			if len(row) < 6 {
				continue
			}
			ts, _ := strconv.ParseInt(row[0], 10, 64)
			if ts < start {
				continue
			}
			if err := fn(TimedCandle{TS: ts, Candle: schema.Candle{
				Open:   parseF(row[1]),
				High:   parseF(row[2]),
				Low:    parseF(row[3]),
				Close:  parseF(row[4]),
				Volume: parseF(row[5]),
			}}); err != nil {
				return err
			}
			if ts >= pageEnd {
				pageEnd = ts + int64(timeframe)*60_000
			}
		}
		if pageEnd <= start {
			return nil
		}
		start = pageEnd
	}
	return nil
}

type bybitOrder struct {
	OrderID      string `json:"orderId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Qty          string `json:"qty"`
	Price        string `json:"price"`
	OrderStatus  string `json:"orderStatus"`
	AvgPrice     string `json:"avgPrice"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	CumExecFee   string `json:"cumExecFee"`
	RejectReason string `json:"rejectReason"`
	UpdatedTime  string `json:"updatedTime"`
}

func (b *Bybit) PlaceOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	side := "Buy"
	qty := req.Value
	if qty < 0 {
		side = "Sell"
		qty = -qty
	}
	body := map[string]any{
		"category":  bybitCategory(req.Market),
		"symbol":    req.Ticker,
		"side":      side,
		"orderType": "Market",
		"qty":       strconv.FormatFloat(qty, 'f', -1, 64),
	}
	if req.Price > 0 && req.Slippage > 0 {
		// cap adverse fill instead of a plain market order
		limit := req.Price * (1 + req.Slippage)
		if side == "Sell" {
			limit = req.Price * (1 - req.Slippage)
		}
		body["orderType"] = "Limit"
		body["price"] = strconv.FormatFloat(limit, 'f', -1, 64)
		body["timeInForce"] = "IOC"
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.do(ctx, http.MethodPost, "/v5/order/create", nil, body, true, &result); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, market schema.Market, symbol, orderID string) error {
	body := map[string]any{
		"category": bybitCategory(market),
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return b.do(ctx, http.MethodPost, "/v5/order/cancel", nil, body, true, nil)
}

func (b *Bybit) FetchOrderResults(ctx context.Context, market schema.Market, symbol string, orderIDs []string) ([]schema.Fill, error) {
	pending := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		pending[id] = true
	}
	var fills []schema.Fill
	for attempt := 0; attempt < restAttempts && len(pending) > 0; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fills, ctx.Err()
			case <-time.After(restBackoff):
			}
		}
		q := url.Values{"category": {bybitCategory(market)}, "symbol": {symbol}}
		var result struct {
			List []bybitOrder `json:"list"`
		}
		if err := b.do(ctx, http.MethodGet, "/v5/order/history", q, nil, true, &result); err != nil {
			return fills, err
		}
		for _, o := range result.List {
			if !pending[o.OrderID] {
				continue
			}
			fill, terminal := fillFromOrder(market, o)
			if !terminal {
				continue
			}
			fills = append(fills, fill)
			delete(pending, o.OrderID)
		}
	}
	return fills, nil
}

// fillFromOrder maps a venue order record onto the fill-report shape. Only
// terminal statuses produce a fill.
func fillFromOrder(market schema.Market, o bybitOrder) (schema.Fill, bool) {
	var status schema.FillStatus
	switch o.OrderStatus {
	case "Filled", "PartiallyFilledCanceled":
		status = schema.FillStatusExecuted
	case "Cancelled", "Deactivated":
		status = schema.FillStatusCancelled
	case "Rejected":
		status = schema.FillStatusRejected
	default:
		return schema.Fill{}, false
	}
	value := parseF(o.CumExecQty)
	base := parseF(o.CumExecValue)
	if o.Side == "Sell" {
		value, base = -value, -base
	}
	ts, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
	return schema.Fill{
		OrderID:   o.OrderID,
		Market:    market,
		Ticker:    o.Symbol,
		Value:     value,
		BaseValue: base,
		Price:     parseF(o.AvgPrice),
		Fee:       parseF(o.CumExecFee),
		TS:        ts,
		Status:    status,
		Reason:    o.RejectReason,
	}, true
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

var _ Connector = (*Bybit)(nil)
