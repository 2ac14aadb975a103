package broker

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// UnknownSector labels positions whose sector lookup failed.
	UnknownSector = "Unknown"

	// DefaultRiskFreeRate feeds the Sharpe ratio when none is configured.
	DefaultRiskFreeRate = 0.03

	tradingDaysPerYear = 252
)

// Analytics derives portfolio views and risk metrics from the ledger.
// Everything is recomputed on read; the only cached state is the
// sector lookup.
type Analytics struct {
	store    Store
	oracle   PriceOracle
	sectors  *SectorCache
	riskFree float64
	log      *zap.SugaredLogger
}

func NewAnalytics(store Store, oracle PriceOracle, sectors *SectorCache, riskFree float64, logger *zap.SugaredLogger) *Analytics {
	if riskFree <= 0 {
		riskFree = DefaultRiskFreeRate
	}
	return &Analytics{
		store:    store,
		oracle:   oracle,
		sectors:  sectors,
		riskFree: riskFree,
		log:      logger,
	}
}

// Portfolio returns the balance plus live-priced positions. A position
// whose price cannot be fetched is omitted from the list (never
// fabricated with a stale price) but stays fully present in the ledger.
func (a *Analytics) Portfolio(ctx context.Context, userID string) (Portfolio, error) {
	acct, err := a.store.Account(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}
	txs, err := a.store.Transactions(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}

	positions := a.positions(ctx, txs)
	totalMV := decimal.Zero
	for _, p := range positions {
		totalMV = totalMV.Add(p.MarketValue)
	}
	for i := range positions {
		if totalMV.IsPositive() {
			share, _ := positions[i].MarketValue.Div(totalMV).Float64()
			positions[i].AllocationPercent = round2(share * 100)
		}
	}

	return Portfolio{
		UserID:           userID,
		CashBalance:      acct.CashBalance,
		StartingBalance:  acct.StartingBalance,
		Positions:        positions,
		TotalMarketValue: totalMV,
		TotalEquity:      acct.CashBalance.Add(totalMV),
	}, nil
}

// EquityCurve rebuilds the user's equity time series from the log.
func (a *Analytics) EquityCurve(ctx context.Context, userID string) ([]EquityPoint, error) {
	acct, err := a.store.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := a.store.Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildEquityCurve(acct.StartingBalance, txs), nil
}

// Snapshot composes live positions with the equity curve into the
// full analytics view. Market-data failures degrade (skipped position,
// "Unknown" sector) rather than failing the snapshot.
func (a *Analytics) Snapshot(ctx context.Context, userID string) (PortfolioSnapshot, error) {
	acct, err := a.store.Account(ctx, userID)
	if err != nil {
		return PortfolioSnapshot{}, err
	}
	txs, err := a.store.Transactions(ctx, userID)
	if err != nil {
		return PortfolioSnapshot{}, err
	}

	positions := a.positions(ctx, txs)
	totalMV := decimal.Zero
	for _, p := range positions {
		totalMV = totalMV.Add(p.MarketValue)
	}
	for i := range positions {
		if totalMV.IsPositive() {
			share, _ := positions[i].MarketValue.Div(totalMV).Float64()
			positions[i].AllocationPercent = round2(share * 100)
		}
	}

	totalEquity := acct.CashBalance.Add(totalMV)
	equityF, _ := totalEquity.Float64()
	cashF, _ := acct.CashBalance.Float64()
	startF, _ := acct.StartingBalance.Float64()

	totalReturn := 0.0
	if startF != 0 {
		totalReturn = (equityF - startF) / startF
	}

	curve := BuildEquityCurve(acct.StartingBalance, txs)
	returns := dailyReturns(curve)
	vol := annualizedVolatility(returns)
	annRet := annualizedReturn(totalReturn, len(returns))

	sharpe := 0.0
	if vol != 0 {
		sharpe = (annRet - a.riskFree) / vol
	}

	snap := PortfolioSnapshot{
		UserID:            userID,
		AsOf:              time.Now().UTC(),
		TotalEquity:       round2(equityF),
		TotalReturnPct:    round2(totalReturn * 100),
		ConcentrationRisk: RiskLow,
		SectorBreakdown:   a.sectorBreakdown(ctx, positions, equityF),
		Volatility:        round4(vol),
		SharpeRatio:       round4(sharpe),
		AnnualizedReturn:  round4(annRet),
	}
	if equityF > 0 {
		snap.CashAllocationPct = round2(cashF / equityF * 100)
	}

	if len(positions) > 0 {
		largest := positions[0]
		for _, p := range positions[1:] {
			if p.MarketValue.GreaterThan(largest.MarketValue) {
				largest = p
			}
		}
		snap.LargestPosition = &largest
		if equityF > 0 {
			mvF, _ := largest.MarketValue.Float64()
			snap.ConcentrationRisk = concentrationRisk(mvF / equityF * 100)
		}

		gainer, loser := positions[0], positions[0]
		for _, p := range positions[1:] {
			if p.GainPercent > gainer.GainPercent {
				gainer = p
			}
			if p.GainPercent < loser.GainPercent {
				loser = p
			}
		}
		snap.TopGainer = &gainer
		if loser.Symbol != gainer.Symbol {
			snap.TopLoser = &loser
		}
	}

	return snap, nil
}

// positions replays the log and marks each open holding to the live
// price. Unpriceable symbols are skipped with a warning.
func (a *Analytics) positions(ctx context.Context, txs []Transaction) []Position {
	book := ReplayPositions(txs)

	symbols := make([]string, 0, len(book))
	for sym := range book {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	positions := make([]Position, 0, len(book))
	for _, sym := range symbols {
		h := book[sym]
		price, err := a.oracle.Price(ctx, sym)
		if err != nil || !price.IsPositive() {
			a.log.Warnw("position_price_unavailable", "symbol", sym, "err", err)
			continue
		}
		qty := decimal.NewFromInt(h.Quantity)
		avgCost := h.AvgCost()
		pos := Position{
			Symbol:        sym,
			NetQuantity:   h.Quantity,
			AvgCost:       avgCost,
			CurrentPrice:  price,
			MarketValue:   price.Mul(qty),
			UnrealizedPnL: price.Sub(avgCost).Mul(qty),
		}
		if avgCost.IsPositive() {
			gain, _ := price.Sub(avgCost).Div(avgCost).Float64()
			pos.GainPercent = round2(gain * 100)
		}
		positions = append(positions, pos)
	}
	return positions
}

// sectorBreakdown groups live market value by sector, as a percentage
// of total equity, sorted descending by allocation.
func (a *Analytics) sectorBreakdown(ctx context.Context, positions []Position, totalEquity float64) []SectorAllocation {
	bySector := make(map[string]float64)
	for _, p := range positions {
		mv, _ := p.MarketValue.Float64()
		bySector[a.sector(ctx, p.Symbol)] += mv
	}

	out := make([]SectorAllocation, 0, len(bySector))
	for sector, mv := range bySector {
		alloc := SectorAllocation{Sector: sector, MarketValue: round2(mv)}
		if totalEquity > 0 {
			alloc.AllocationPercent = round2(mv / totalEquity * 100)
		}
		out = append(out, alloc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AllocationPercent != out[j].AllocationPercent {
			return out[i].AllocationPercent > out[j].AllocationPercent
		}
		return out[i].Sector < out[j].Sector
	})
	return out
}

// sector resolves a symbol's sector through the cache, degrading to
// UnknownSector on any lookup failure.
func (a *Analytics) sector(ctx context.Context, symbol string) string {
	if a.sectors != nil {
		if s, ok := a.sectors.Get(symbol); ok {
			return s
		}
	}
	s, err := a.oracle.Sector(ctx, symbol)
	if err != nil || s == "" {
		a.log.Debugw("sector_lookup_failed", "symbol", symbol, "err", err)
		return UnknownSector
	}
	if a.sectors != nil {
		a.sectors.Set(symbol, s)
	}
	return s
}

// dailyReturns collapses the equity curve to one value per UTC
// calendar day (last value of the day wins) and computes simple
// day-over-day returns, skipping a day whose predecessor is zero.
func dailyReturns(curve []EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}

	byDay := make(map[time.Time]float64)
	days := make([]time.Time, 0)
	for _, p := range curve {
		day := p.Timestamp.UTC().Truncate(24 * time.Hour)
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		eq, _ := p.Equity.Float64()
		byDay[day] = eq // later points overwrite: last value of the day wins
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	returns := make([]float64, 0, len(days))
	for i := 1; i < len(days); i++ {
		prev := byDay[days[i-1]]
		if prev == 0 {
			continue
		}
		returns = append(returns, (byDay[days[i]]-prev)/prev)
	}
	return returns
}

// annualizedVolatility is the Bessel-corrected sample standard
// deviation of daily returns scaled by sqrt(252). Needs at least two
// returns, otherwise 0.
func annualizedVolatility(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n - 1)

	return math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}

// annualizedReturn compounds the holding-period total return over n
// distinct return-days: (1+total)^(252/n) - 1. Zero when n is zero.
func annualizedReturn(totalReturn float64, n int) float64 {
	if n == 0 {
		return 0
	}
	base := 1 + totalReturn
	if base <= 0 {
		return -1
	}
	return math.Pow(base, tradingDaysPerYear/float64(n)) - 1
}

// concentrationRisk classifies the largest position's share of total
// equity. Thresholds are strict: exactly 40% is still MEDIUM, exactly
// 25% is still LOW.
func concentrationRisk(largestPct float64) RiskLevel {
	switch {
	case largestPct > 40:
		return RiskHigh
	case largestPct > 25:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Rounding happens at the output boundary only; internal computation
// keeps full precision.
func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
