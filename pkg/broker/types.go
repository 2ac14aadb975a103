package broker

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// ParseSide normalizes a user-supplied side string.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return "", false
	}
}

// NormalizeSymbol uppercases and trims a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Account is the mutable per-user record. CashBalance is only ever
// mutated as a side effect of a committed Transaction.
type Account struct {
	ID              string          `json:"id"`
	CashBalance     decimal.Decimal `json:"cashBalance"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Transaction is one immutable BUY/SELL event in the append-only log.
// CreatedAt is monotonically non-decreasing per user and is the
// ordering key for all replay.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// wellFormed reports whether a logged record is safe to replay.
// Malformed records are skipped by the read paths, never fatal.
func (t Transaction) wellFormed() bool {
	return !t.CreatedAt.IsZero() && t.TotalAmount.IsPositive() && t.Side.Valid()
}

// Holding is the running replay state for one symbol.
type Holding struct {
	Quantity  int64
	TotalCost decimal.Decimal
}

// AvgCost returns the weighted-average cost basis per unit.
func (h Holding) AvgCost() decimal.Decimal {
	if h.Quantity <= 0 {
		return decimal.Zero
	}
	return h.TotalCost.Div(decimal.NewFromInt(h.Quantity))
}

// Position is a derived, never-stored view of one open holding
// marked to the live price.
type Position struct {
	Symbol            string          `json:"symbol"`
	NetQuantity       int64           `json:"netQuantity"`
	AvgCost           decimal.Decimal `json:"avgCost"`
	CurrentPrice      decimal.Decimal `json:"currentPrice"`
	MarketValue       decimal.Decimal `json:"marketValue"`
	UnrealizedPnL     decimal.Decimal `json:"unrealizedPnl"`
	GainPercent       float64         `json:"gainPercent"`
	AllocationPercent float64         `json:"allocationPercent"`
}

// EquityPoint is one sample of the reconstructed equity curve.
// Equity is cash plus holdings valued at the last price recorded in
// the log itself, so the curve is reproducible without market data.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// RiskLevel classifies single-position concentration.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// SectorAllocation is one sector's share of total equity.
type SectorAllocation struct {
	Sector            string  `json:"sector"`
	MarketValue       float64 `json:"marketValue"`
	AllocationPercent float64 `json:"allocationPercent"`
}

// PortfolioSnapshot aggregates derived analytics. Ephemeral: rebuilt
// on every read, never persisted.
type PortfolioSnapshot struct {
	UserID            string             `json:"userId"`
	AsOf              time.Time          `json:"asOf"`
	TotalEquity       float64            `json:"totalEquity"`
	TotalReturnPct    float64            `json:"totalReturnPct"`
	CashAllocationPct float64            `json:"cashAllocationPct"`
	LargestPosition   *Position          `json:"largestPosition,omitempty"`
	ConcentrationRisk RiskLevel          `json:"concentrationRisk"`
	SectorBreakdown   []SectorAllocation `json:"sectorBreakdown"`
	Volatility        float64            `json:"volatility"`
	SharpeRatio       float64            `json:"sharpeRatio"`
	AnnualizedReturn  float64            `json:"annualizedReturn"`
	TopGainer         *Position          `json:"topGainer,omitempty"`
	TopLoser          *Position          `json:"topLoser,omitempty"`
}

// Portfolio is the balance + positions view returned by the API.
type Portfolio struct {
	UserID           string          `json:"userId"`
	CashBalance      decimal.Decimal `json:"cashBalance"`
	StartingBalance  decimal.Decimal `json:"startingBalance"`
	Positions        []Position      `json:"positions"`
	TotalMarketValue decimal.Decimal `json:"totalMarketValue"`
	TotalEquity      decimal.Decimal `json:"totalEquity"`
}

// TradeReceipt reports the committed result of ExecuteTrade.
type TradeReceipt struct {
	TransactionID string          `json:"transactionId"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	CreatedAt     time.Time       `json:"createdAt"`
}
