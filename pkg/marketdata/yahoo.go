package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoResult = errors.New("marketdata: yahoo returned no result")

// Yahoo fetches live quotes from the Yahoo Finance v8 chart endpoint
// and sector classifications from the quoteSummary assetProfile module.
// Quotes are cached for a short TTL to stay under rate limits.
type Yahoo struct {
	cli *http.Client
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	price   decimal.Decimal
	fetched time.Time
}

func NewYahoo() *Yahoo {
	return &Yahoo{
		cli:   &http.Client{Timeout: 8 * time.Second},
		ttl:   60 * time.Second,
		cache: make(map[string]cachedQuote),
	}
}

func (y *Yahoo) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = normalize(symbol)
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty symbol", ErrSymbolUnknown)
	}

	y.mu.RLock()
	if c, ok := y.cache[symbol]; ok && time.Since(c.fetched) < y.ttl {
		y.mu.RUnlock()
		return c.price, nil
	}
	y.mu.RUnlock()

	url := fmt.Sprintf("https://query2.finance.yahoo.com/v8/finance/chart/%s?interval=1m&range=1d", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("User-Agent", "brokerd/1.0")

	resp, err := y.cli.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("yahoo chart http %d for %s", resp.StatusCode, symbol)
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Meta struct {
					RegularMarketPrice float64 `json:"regularMarketPrice"`
				} `json:"meta"`
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Close []float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return decimal.Decimal{}, err
	}
	if len(raw.Chart.Result) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNoResult, symbol)
	}

	r := raw.Chart.Result[0]
	price := r.Meta.RegularMarketPrice

	// Fallback: last non-zero close when the meta quote is missing.
	if price <= 0 && len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] > 0 {
				price = closes[i]
				break
			}
		}
	}
	if price <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNoResult, symbol)
	}

	quote := decimal.NewFromFloat(price)
	y.mu.Lock()
	y.cache[symbol] = cachedQuote{price: quote, fetched: time.Now()}
	y.mu.Unlock()
	return quote, nil
}

func (y *Yahoo) Sector(ctx context.Context, symbol string) (string, error) {
	symbol = normalize(symbol)
	url := fmt.Sprintf("https://query2.finance.yahoo.com/v10/finance/quoteSummary/%s?modules=assetProfile", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "brokerd/1.0")

	resp, err := y.cli.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("yahoo quoteSummary http %d for %s", resp.StatusCode, symbol)
	}

	var raw struct {
		QuoteSummary struct {
			Result []struct {
				AssetProfile struct {
					Sector string `json:"sector"`
				} `json:"assetProfile"`
			} `json:"result"`
		} `json:"quoteSummary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}
	if len(raw.QuoteSummary.Result) == 0 || raw.QuoteSummary.Result[0].AssetProfile.Sector == "" {
		return "", fmt.Errorf("%w: %s", ErrNoResult, symbol)
	}
	return raw.QuoteSummary.Result[0].AssetProfile.Sector, nil
}
