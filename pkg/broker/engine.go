package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paperledger/brokerd/pkg/util"
)

// Store is the ledger abstraction the engine requires: an append-only
// transaction log plus a mutable account record, with an atomic
// pair-write for the commit. Implementations live in pkg/ledger.
type Store interface {
	CreateAccount(ctx context.Context, acct Account) error
	Account(ctx context.Context, userID string) (Account, error)
	// Transactions returns the full log for a user in ascending
	// CreatedAt order (commit order on ties).
	Transactions(ctx context.Context, userID string) ([]Transaction, error)
	// Commit persists the updated account and appends the transaction
	// as one atomic unit. On error nothing is observable.
	Commit(ctx context.Context, acct Account, tx Transaction) error
	Close() error
}

// PriceOracle is the external market-data dependency. Price failures
// abort trades; Sector failures degrade to "Unknown" in analytics.
type PriceOracle interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Sector(ctx context.Context, symbol string) (string, error)
}

// TradeFeed receives committed trades (e.g. a Kafka publisher).
// Publish failures are logged, never propagated into the trade result.
type TradeFeed interface {
	PublishTrade(ctx context.Context, tx Transaction) error
}

// DefaultStartingBalance is mirrored into CashBalance at onboarding.
var DefaultStartingBalance = decimal.NewFromInt(100000)

// Engine validates and atomically commits BUY/SELL events.
//
// Trade execution for a given account is serializable: a per-account
// mutex is held across the whole read-validate-commit sequence, so
// concurrent trades cannot interleave their balance reads and writes.
type Engine struct {
	store  Store
	oracle PriceOracle
	clock  util.Clock
	log    *zap.SugaredLogger

	feed    TradeFeed          // optional
	OnTrade func(Transaction)  // optional post-commit hook (websocket broadcast)

	mu        sync.Mutex
	accounts  map[string]*sync.Mutex
	lastStamp map[string]time.Time
}

func NewEngine(store Store, oracle PriceOracle, clock util.Clock, logger *zap.SugaredLogger) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		store:     store,
		oracle:    oracle,
		clock:     clock,
		log:       logger,
		accounts:  make(map[string]*sync.Mutex),
		lastStamp: make(map[string]time.Time),
	}
}

// WithFeed attaches a post-commit trade publisher.
func (e *Engine) WithFeed(feed TradeFeed) *Engine {
	e.feed = feed
	return e
}

// OpenAccount creates an account with the given starting balance
// mirrored into the cash balance. A non-positive balance falls back to
// DefaultStartingBalance.
func (e *Engine) OpenAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (Account, error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	if !startingBalance.IsPositive() {
		startingBalance = DefaultStartingBalance
	}
	acct := Account{
		ID:              userID,
		CashBalance:     startingBalance,
		StartingBalance: startingBalance,
		CreatedAt:       e.clock.Now(),
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, err
	}
	e.log.Infow("account_opened", "user", userID, "starting_balance", startingBalance.String())
	return acct, nil
}

// Account returns the current account record.
func (e *Engine) Account(ctx context.Context, userID string) (Account, error) {
	return e.store.Account(ctx, userID)
}

// Transactions returns the user's full log in replay order.
func (e *Engine) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	return e.store.Transactions(ctx, userID)
}

// ExecuteTrade validates and commits one BUY/SELL event.
//
// Exactly one balance mutation and one transaction append happen per
// successful call, or none on failure. No internal retries: the caller
// decides whether to retry. A context timeout aborts like any other
// failure, with no partial effect.
func (e *Engine) ExecuteTrade(ctx context.Context, userID, symbol string, side Side, quantity int64) (TradeReceipt, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return TradeReceipt{}, fmt.Errorf("%w: empty symbol", ErrInvalidInput)
	}
	if quantity < 1 {
		return TradeReceipt{}, fmt.Errorf("%w: quantity must be >= 1, got %d", ErrInvalidInput, quantity)
	}
	if !side.Valid() {
		return TradeReceipt{}, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidInput, side)
	}

	// Price fetch happens before any mutation; it is the only step
	// outside the atomic scope, so a failure here aborts cleanly.
	price, err := e.oracle.Price(ctx, symbol)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}
	if !price.IsPositive() {
		return TradeReceipt{}, fmt.Errorf("%w: %s: non-positive price %s", ErrPriceUnavailable, symbol, price)
	}
	totalAmount := price.Mul(decimal.NewFromInt(quantity))

	lock := e.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return TradeReceipt{}, err
	}

	acct, err := e.store.Account(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return TradeReceipt{}, err
		}
		return TradeReceipt{}, fmt.Errorf("%w: read account: %v", ErrStoreFailure, err)
	}

	switch side {
	case SideBuy:
		if acct.CashBalance.LessThan(totalAmount) {
			return TradeReceipt{}, fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientBalance, totalAmount, acct.CashBalance)
		}
		acct.CashBalance = acct.CashBalance.Sub(totalAmount)
	case SideSell:
		txs, err := e.store.Transactions(ctx, userID)
		if err != nil {
			return TradeReceipt{}, fmt.Errorf("%w: read log: %v", ErrStoreFailure, err)
		}
		if net := NetQuantity(txs, symbol); net < quantity {
			return TradeReceipt{}, fmt.Errorf("%w: %s: have %d, selling %d",
				ErrInsufficientHoldings, symbol, net, quantity)
		}
		acct.CashBalance = acct.CashBalance.Add(totalAmount)
	}

	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		TotalAmount: totalAmount,
		CreatedAt:   e.stampLocked(ctx, userID),
	}

	if err := e.store.Commit(ctx, acct, tx); err != nil {
		return TradeReceipt{}, fmt.Errorf("%w: commit: %v", ErrStoreFailure, err)
	}

	e.log.Infow("trade_committed",
		"user", userID,
		"tx", tx.ID,
		"symbol", symbol,
		"side", side,
		"quantity", quantity,
		"price", price.String(),
		"total", totalAmount.String(),
		"balance", acct.CashBalance.String(),
	)

	e.afterCommit(tx)

	return TradeReceipt{
		TransactionID: tx.ID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		Price:         price,
		TotalAmount:   totalAmount,
		NewBalance:    acct.CashBalance,
		CreatedAt:     tx.CreatedAt,
	}, nil
}

// stampLocked assigns a per-user monotonically non-decreasing commit
// timestamp. Caller must hold the account lock. On first use after a
// restart the floor is seeded from the persisted log.
func (e *Engine) stampLocked(ctx context.Context, userID string) time.Time {
	e.mu.Lock()
	last, seeded := e.lastStamp[userID]
	e.mu.Unlock()

	if !seeded {
		if txs, err := e.store.Transactions(ctx, userID); err == nil && len(txs) > 0 {
			last = txs[len(txs)-1].CreatedAt
		}
	}

	now := e.clock.Now()
	if now.Before(last) {
		now = last
	}

	e.mu.Lock()
	e.lastStamp[userID] = now
	e.mu.Unlock()
	return now
}

// afterCommit runs fire-and-forget hooks. The trade is already
// committed; hook failures must not affect the result.
func (e *Engine) afterCommit(tx Transaction) {
	if e.OnTrade != nil {
		e.OnTrade(tx)
	}
	if e.feed != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.feed.PublishTrade(ctx, tx); err != nil {
				e.log.Warnw("trade_feed_publish_failed", "tx", tx.ID, "err", err)
			}
		}()
	}
}

func (e *Engine) accountLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.accounts[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.accounts[userID] = lock
	}
	return lock
}
