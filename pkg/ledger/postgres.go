package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/paperledger/brokerd/pkg/broker"
)

// Postgres backs the ledger with two tables. Commit runs the account
// update and the log insert inside one SQL transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id               TEXT PRIMARY KEY,
	cash_balance     NUMERIC(20,8) NOT NULL,
	starting_balance NUMERIC(20,8) NOT NULL,
	created_at       TIMESTAMPTZ   NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT          NOT NULL REFERENCES accounts(id),
	symbol       TEXT          NOT NULL,
	side         TEXT          NOT NULL,
	quantity     BIGINT        NOT NULL,
	price        NUMERIC(20,8) NOT NULL,
	total_amount NUMERIC(20,8) NOT NULL,
	created_at   TIMESTAMPTZ   NOT NULL,
	seq          BIGSERIAL
);
CREATE INDEX IF NOT EXISTS transactions_user_seq ON transactions (user_id, seq);
`

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) CreateAccount(ctx context.Context, acct broker.Account) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, cash_balance, starting_balance, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		acct.ID, acct.CashBalance.String(), acct.StartingBalance.String(), acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account %s: %w", acct.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return broker.ErrAccountExists
	}
	return nil
}

func (s *Postgres) Account(ctx context.Context, userID string) (broker.Account, error) {
	var (
		acct          broker.Account
		cash, initial string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, cash_balance::text, starting_balance::text, created_at
		 FROM accounts WHERE id = $1`, userID).
		Scan(&acct.ID, &cash, &initial, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return broker.Account{}, broker.ErrAccountNotFound
	}
	if err != nil {
		return broker.Account{}, fmt.Errorf("select account %s: %w", userID, err)
	}
	if acct.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return broker.Account{}, fmt.Errorf("parse cash balance: %w", err)
	}
	if acct.StartingBalance, err = decimal.NewFromString(initial); err != nil {
		return broker.Account{}, fmt.Errorf("parse starting balance: %w", err)
	}
	return acct, nil
}

func (s *Postgres) Transactions(ctx context.Context, userID string) ([]broker.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, side, quantity, price::text, total_amount::text, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("select log for %s: %w", userID, err)
	}
	defer rows.Close()

	var txs []broker.Transaction
	for rows.Next() {
		var (
			tx           broker.Transaction
			price, total string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Symbol, &tx.Side,
			&tx.Quantity, &price, &total, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if tx.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse total: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Postgres) Commit(ctx context.Context, acct broker.Account, tx broker.Transaction) error {
	sqlTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback(ctx)

	tag, err := sqlTx.Exec(ctx,
		`UPDATE accounts SET cash_balance = $2 WHERE id = $1`,
		acct.ID, acct.CashBalance.String())
	if err != nil {
		return fmt.Errorf("update account %s: %w", acct.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return broker.ErrAccountNotFound
	}

	if _, err := sqlTx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, symbol, side, quantity, price, total_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.ID, tx.UserID, tx.Symbol, tx.Side, tx.Quantity,
		tx.Price.String(), tx.TotalAmount.String(), tx.CreatedAt); err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}

	if err := sqlTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var _ broker.Store = (*Postgres)(nil)
var _ broker.Store = (*Memory)(nil)
