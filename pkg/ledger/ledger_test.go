package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/brokerd/pkg/broker"
)

// storeFactory builds a fresh Store per test so both backends run the
// same suite.
type storeFactory func(t *testing.T) broker.Store

func newTestPebble(t *testing.T) broker.Store {
	t.Helper()
	store, err := NewPebble(t.TempDir())
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testAccount(id string, balance int64) broker.Account {
	b := decimal.NewFromInt(balance)
	return broker.Account{
		ID:              id,
		CashBalance:     b,
		StartingBalance: b,
		CreatedAt:       time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	}
}

func testTx(userID, symbol string, side broker.Side, qty int64, price int64, at time.Time) broker.Transaction {
	p := decimal.NewFromInt(price)
	return broker.Transaction{
		ID:          userID + "-" + symbol + "-" + at.Format("150405"),
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		Price:       p,
		TotalAmount: p.Mul(decimal.NewFromInt(qty)),
		CreatedAt:   at,
	}
}

func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("account roundtrip", func(t *testing.T) {
		store := newStore(t)
		acct := testAccount("alice", 100000)
		if err := store.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := store.Account(ctx, "alice")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.ID != acct.ID || !got.CashBalance.Equal(acct.CashBalance) {
			t.Errorf("got %+v, want %+v", got, acct)
		}
		if !got.CreatedAt.Equal(acct.CreatedAt) {
			t.Errorf("created at = %s, want %s", got.CreatedAt, acct.CreatedAt)
		}
	})

	t.Run("duplicate account rejected", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateAccount(ctx, testAccount("alice", 1)); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := store.CreateAccount(ctx, testAccount("alice", 2))
		if !errors.Is(err, broker.ErrAccountExists) {
			t.Errorf("err = %v, want ErrAccountExists", err)
		}
	})

	t.Run("missing account", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Account(ctx, "ghost")
		if !errors.Is(err, broker.ErrAccountNotFound) {
			t.Errorf("err = %v, want ErrAccountNotFound", err)
		}
	})

	t.Run("commit updates both records", func(t *testing.T) {
		store := newStore(t)
		acct := testAccount("alice", 100000)
		if err := store.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("create: %v", err)
		}

		at := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
		tx := testTx("alice", "AAPL", broker.SideBuy, 100, 150, at)
		acct.CashBalance = acct.CashBalance.Sub(tx.TotalAmount)
		if err := store.Commit(ctx, acct, tx); err != nil {
			t.Fatalf("commit: %v", err)
		}

		got, _ := store.Account(ctx, "alice")
		if !got.CashBalance.Equal(decimal.NewFromInt(85000)) {
			t.Errorf("balance = %s, want 85000", got.CashBalance)
		}
		txs, err := store.Transactions(ctx, "alice")
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		if len(txs) != 1 || txs[0].ID != tx.ID {
			t.Fatalf("log = %+v, want the committed tx", txs)
		}
		if !txs[0].Price.Equal(tx.Price) || !txs[0].TotalAmount.Equal(tx.TotalAmount) {
			t.Errorf("amounts lost precision: %+v", txs[0])
		}
	})

	t.Run("commit to missing account fails", func(t *testing.T) {
		store := newStore(t)
		at := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
		err := store.Commit(ctx, testAccount("ghost", 0), testTx("ghost", "AAPL", broker.SideBuy, 1, 1, at))
		if !errors.Is(err, broker.ErrAccountNotFound) {
			t.Errorf("err = %v, want ErrAccountNotFound", err)
		}
	})

	t.Run("log keeps commit order", func(t *testing.T) {
		store := newStore(t)
		acct := testAccount("alice", 1000000)
		if err := store.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("create: %v", err)
		}

		base := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
		const n = 15 // past one digit, to catch lexicographic key ordering bugs
		for i := 0; i < n; i++ {
			tx := testTx("alice", "AAPL", broker.SideBuy, int64(i+1), 10, base.Add(time.Duration(i)*time.Second))
			if err := store.Commit(ctx, acct, tx); err != nil {
				t.Fatalf("commit %d: %v", i, err)
			}
		}

		txs, err := store.Transactions(ctx, "alice")
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		if len(txs) != n {
			t.Fatalf("log length = %d, want %d", len(txs), n)
		}
		for i, tx := range txs {
			if tx.Quantity != int64(i+1) {
				t.Fatalf("entry %d has quantity %d, out of commit order", i, tx.Quantity)
			}
		}
	})

	t.Run("logs are isolated per user", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"alice", "alicia"} { // prefix collision candidates
			if err := store.CreateAccount(ctx, testAccount(id, 100000)); err != nil {
				t.Fatalf("create %s: %v", id, err)
			}
		}
		at := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
		if err := store.Commit(ctx, testAccount("alice", 99000), testTx("alice", "AAPL", broker.SideBuy, 1, 1000, at)); err != nil {
			t.Fatalf("commit: %v", err)
		}

		txs, _ := store.Transactions(ctx, "alicia")
		if len(txs) != 0 {
			t.Errorf("alicia's log = %+v, want empty", txs)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) broker.Store { return NewMemory() })
}

func TestPebbleStore(t *testing.T) {
	runStoreSuite(t, newTestPebble)
}

func TestPebbleSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewPebble(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	acct := testAccount("alice", 100000)
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	acct.CashBalance = decimal.NewFromInt(85000)
	if err := store.Commit(ctx, acct, testTx("alice", "AAPL", broker.SideBuy, 100, 150, at)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewPebble(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Account(ctx, "alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.CashBalance.Equal(decimal.NewFromInt(85000)) {
		t.Errorf("balance = %s, want 85000", got.CashBalance)
	}
	txs, _ := reopened.Transactions(ctx, "alice")
	if len(txs) != 1 {
		t.Errorf("log length = %d, want 1", len(txs))
	}
}
