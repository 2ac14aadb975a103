// Package marketdata provides price and sector oracles. Implementations
// return plain decimals and errors; the broker package decides how a
// failure maps onto trade or analytics behavior.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrSymbolUnknown = errors.New("marketdata: symbol unknown")

// Static serves prices and sectors from a fixed in-memory table.
// Used in dev mode and tests.
type Static struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	sectors map[string]string
}

func NewStatic() *Static {
	return &Static{
		prices:  make(map[string]decimal.Decimal),
		sectors: make(map[string]string),
	}
}

// NewStaticDev seeds a handful of liquid names so the service is usable
// without network access.
func NewStaticDev() *Static {
	s := NewStatic()
	seed := []struct {
		symbol, sector string
		price          float64
	}{
		{"AAPL", "Technology", 150.00},
		{"MSFT", "Technology", 320.00},
		{"GOOGL", "Communication Services", 140.00},
		{"AMZN", "Consumer Cyclical", 130.00},
		{"JPM", "Financial Services", 155.00},
		{"XOM", "Energy", 105.00},
		{"JNJ", "Healthcare", 160.00},
	}
	for _, q := range seed {
		s.SetPrice(q.symbol, decimal.NewFromFloat(q.price))
		s.SetSector(q.symbol, q.sector)
	}
	return s
}

func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[normalize(symbol)] = price
}

func (s *Static) SetSector(symbol, sector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectors[normalize(symbol)] = sector
}

// RemovePrice makes subsequent Price calls fail for the symbol.
func (s *Static) RemovePrice(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, normalize(symbol))
}

func (s *Static) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[normalize(symbol)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}
	return price, nil
}

func (s *Static) Sector(ctx context.Context, symbol string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sector, ok := s.sectors[normalize(symbol)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}
	return sector, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
