// Package ticker polls a CoinGecko-compatible price API and caches the latest quote per symbol.
package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinIDs maps the symbols agents trade to CoinGecko ids.
var DefaultCoinIDs = map[string]string{
	"VIRTUAL": "virtual-protocol",
	"AI16Z":   "ai16z",
	"SEN":     "sentient",
	"NUMO":    "numogram",
	"FART":    "fartcoin",
	"GRIFF":   "griffain",
	"TERM":    "termi",
	"DAOS":    "daos",
	"SWARM":   "swarms",
	"CLAWNCH": "clawnch",
}

// Quote is the last known USD price of a symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	CoinID    string          `json:"coinId"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change24h"`
	Volume24h decimal.Decimal `json:"volume24h"`
	MarketCap decimal.Decimal `json:"marketCap"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// apiPrice is one entry of the simple/price response.
type apiPrice struct {
	USD       decimal.Decimal `json:"usd"`
	Change24h decimal.Decimal `json:"usd_24h_change"`
	Volume24h decimal.Decimal `json:"usd_24h_vol"`
	MarketCap decimal.Decimal `json:"usd_market_cap"`
}

// Broadcaster receives quote updates. *websocket.Hub satisfies it.
type Broadcaster interface {
	Broadcast(v any)
}

// Ticker is safe for concurrent use.
type Ticker struct {
	baseURL    string
	httpClient *http.Client
	coinIDs    map[string]string // symbol -> coin id
	interval   time.Duration
	out        Broadcaster
	logger     *slog.Logger

	mu     sync.RWMutex
	quotes map[string]Quote
}

// New creates a Ticker for baseURL, e.g. "https://api.coingecko.com/api/v3". out may be nil.
func New(baseURL string, coinIDs map[string]string, interval time.Duration, out Broadcaster, logger *slog.Logger) *Ticker {
	if len(coinIDs) == 0 {
		coinIDs = DefaultCoinIDs
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ids := make(map[string]string, len(coinIDs))
	for sym, id := range coinIDs {
		ids[strings.ToUpper(sym)] = id
	}
	return &Ticker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		coinIDs:    ids,
		interval:   interval,
		out:        out,
		logger:     logger.With(slog.String("component", "ticker")),
		quotes:     make(map[string]Quote),
	}
}

// Run polls until ctx is done. Poll errors are logged and the previous quotes are kept.
func (t *Ticker) Run(ctx context.Context) error {
	t.logger.Info("price ticker started", slog.Duration("interval", t.interval), slog.Int("symbols", len(t.coinIDs)))
	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		if err := t.Poll(ctx); err != nil && ctx.Err() == nil {
			t.logger.Warn("price poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// Poll fetches every configured symbol once and updates the cache.
func (t *Ticker) Poll(ctx context.Context) error {
	ids := make([]string, 0, len(t.coinIDs))
	for _, id := range t.coinIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_market_cap", "true")

	body, err := t.doGet(ctx, "/simple/price?"+params.Encode())
	if err != nil {
		return fmt.Errorf("ticker: get prices: %w", err)
	}
	var prices map[string]apiPrice
	if err := json.Unmarshal(body, &prices); err != nil {
		return fmt.Errorf("ticker: decode prices: %w", err)
	}

	now := time.Now().UTC()
	updated := make([]Quote, 0, len(prices))
	t.mu.Lock()
	for sym, id := range t.coinIDs {
		p, ok := prices[id]
		if !ok {
			continue
		}
		q := Quote{
			Symbol:    sym,
			CoinID:    id,
			Price:     p.USD,
			Change24h: p.Change24h,
			Volume24h: p.Volume24h,
			MarketCap: p.MarketCap,
			UpdatedAt: now,
		}
		t.quotes[sym] = q
		updated = append(updated, q)
	}
	t.mu.Unlock()

	sort.Slice(updated, func(i, j int) bool { return updated[i].Symbol < updated[j].Symbol })
	if t.out != nil && len(updated) > 0 {
		t.out.Broadcast(updated)
	}
	return nil
}

func (t *Ticker) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Quote returns the cached quote for symbol. ok is false for unknown or never-fetched symbols.
func (t *Ticker) Quote(symbol string) (Quote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.quotes[strings.ToUpper(strings.TrimSpace(symbol))]
	return q, ok
}

// Quotes returns a copy of every cached quote, sorted by symbol.
func (t *Ticker) Quotes() []Quote {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Quote, 0, len(t.quotes))
	for _, q := range t.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Tracks reports whether symbol is configured.
func (t *Ticker) Tracks(symbol string) bool {
	_, ok := t.coinIDs[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}
