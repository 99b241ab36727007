package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/shopspring/decimal"
)

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// Quote is one exchange's contribution to a weighted price.
type Quote struct {
	Exchange  string          `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// exchangeDef describes a single price-feed source.
type exchangeDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context) (decimal.Decimal, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// ExchangeSource
// ──────────────────────────────────────────────────────────────────────────────

// ExchangeSource fetches the spot price of the configured pair from several
// exchanges in parallel, computes a weighted average and caches the result.
type ExchangeSource struct {
	client *http.Client
	cfg    config.PriceConfig

	mu          sync.RWMutex
	cachedPrice decimal.Decimal
	cacheTime   time.Time
	lastQuotes  []Quote

	statusMu    sync.RWMutex
	lastSuccess map[string]time.Time
	exchanges   []exchangeDef
}

// NewExchangeSource constructs an ExchangeSource from the price config.
func NewExchangeSource(cfg config.PriceConfig) *ExchangeSource {
	es := &ExchangeSource{
		client: &http.Client{Timeout: cfg.FetchTimeout},
		cfg:    cfg,
		lastSuccess: map[string]time.Time{
			exchangeBinance: {},
			exchangeBybit:   {},
			exchangeOKX:     {},
		},
	}
	es.exchanges = []exchangeDef{
		{name: exchangeBinance, weight: decimal.NewFromInt(int64(cfg.BinanceWeight)), fetch: es.fetchBinance},
		{name: exchangeBybit, weight: decimal.NewFromInt(int64(cfg.BybitWeight)), fetch: es.fetchBybit},
		{name: exchangeOKX, weight: decimal.NewFromInt(int64(cfg.OKXWeight)), fetch: es.fetchOKX},
	}
	return es
}

// Observe implements Source.
func (es *ExchangeSource) Observe(ctx context.Context) (fixedpoint.Q96, error) {
	price, _, err := es.WeightedPrice(ctx)
	if err != nil {
		return fixedpoint.Q96{}, err
	}
	return fixedpoint.FromDecimal(price)
}

// WeightedPrice returns the current price as a weighted average of all
// reachable exchanges. A fresh cached value (< CacheTTL) is returned
// immediately. Weights are re-normalised over the sources that answered; at
// least one must succeed.
func (es *ExchangeSource) WeightedPrice(ctx context.Context) (decimal.Decimal, []Quote, error) {
	es.mu.RLock()
	if !es.cacheTime.IsZero() && time.Since(es.cacheTime) < es.cfg.CacheTTL {
		price, quotes := es.cachedPrice, es.lastQuotes
		es.mu.RUnlock()
		return price, quotes, nil
	}
	es.mu.RUnlock()

	type result struct {
		name  string
		price decimal.Decimal
		err   error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, es.client.Timeout)
	defer cancel()

	resultCh := make(chan result, len(es.exchanges))
	for _, ex := range es.exchanges {
		go func() {
			p, err := ex.fetch(fetchCtx)
			resultCh <- result{name: ex.name, price: p, err: err}
		}()
	}

	raw := make(map[string]result, len(es.exchanges))
	for range es.exchanges {
		r := <-resultCh
		raw[r.name] = r
	}

	var quotes []Quote
	var sumWeighted, sumWeights decimal.Decimal
	now := time.Now()

	for _, ex := range es.exchanges {
		r := raw[ex.name]
		if r.err != nil || !r.price.IsPositive() || ex.weight.IsZero() {
			continue
		}
		quotes = append(quotes, Quote{Exchange: ex.name, Price: r.price, Weight: ex.weight, FetchedAt: now})
		sumWeighted = sumWeighted.Add(r.price.Mul(ex.weight))
		sumWeights = sumWeights.Add(ex.weight)

		es.statusMu.Lock()
		es.lastSuccess[ex.name] = now
		es.statusMu.Unlock()
	}

	if len(quotes) == 0 {
		return decimal.Zero, nil, fmt.Errorf("rate.WeightedPrice: all exchange fetches failed")
	}

	weightedAvg := sumWeighted.Div(sumWeights)

	es.mu.Lock()
	es.cachedPrice = weightedAvg
	es.cacheTime = now
	es.lastQuotes = quotes
	es.mu.Unlock()

	return weightedAvg, quotes, nil
}

// CachedPrice returns the most recently cached price and true if the cache is
// still within its TTL.
func (es *ExchangeSource) CachedPrice() (decimal.Decimal, bool) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	if es.cacheTime.IsZero() || time.Since(es.cacheTime) >= es.cfg.CacheTTL {
		return decimal.Zero, false
	}
	return es.cachedPrice, true
}

// ExchangeStatus returns exchange name → whether it answered in the last 5
// seconds.
func (es *ExchangeSource) ExchangeStatus() map[string]bool {
	threshold := 5 * time.Second
	es.statusMu.RLock()
	defer es.statusMu.RUnlock()

	status := make(map[string]bool, len(es.lastSuccess))
	for name, t := range es.lastSuccess {
		status[name] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchBinance: GET /api/v3/ticker/price?symbol=ETHUSDT → {"price":"..."}
func (es *ExchangeSource) fetchBinance(ctx context.Context) (decimal.Decimal, error) {
	body, err := es.doGet(ctx, es.cfg.BinanceURL+"/api/v3/ticker/price?symbol="+es.cfg.Base+es.cfg.Quote)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	return decimal.NewFromString(resp.Price)
}

// fetchBybit: GET /v5/market/tickers?category=spot&symbol=ETHUSDT
func (es *ExchangeSource) fetchBybit(ctx context.Context) (decimal.Decimal, error) {
	body, err := es.doGet(ctx, es.cfg.BybitURL+"/v5/market/tickers?category=spot&symbol="+es.cfg.Base+es.cfg.Quote)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}
	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	return decimal.NewFromString(resp.Result.List[0].LastPrice)
}

// fetchOKX: GET /api/v5/market/ticker?instId=ETH-USDT
func (es *ExchangeSource) fetchOKX(ctx context.Context) (decimal.Decimal, error) {
	body, err := es.doGet(ctx, es.cfg.OKXURL+"/api/v5/market/ticker?instId="+es.cfg.Base+"-"+es.cfg.Quote)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}
	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("okx parse: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Last == "" {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	return decimal.NewFromString(resp.Data[0].Last)
}

func (es *ExchangeSource) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "lotmarket/1.0")

	resp, err := es.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
