package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/paperledger/brokerd/pkg/broker"
)

// Pebble persists the ledger in a local pebble database. Commit writes
// the account record, the transaction record and the bumped sequence
// counter in one synced batch, so the pair-write is atomic on disk.
type Pebble struct {
	db *pebble.DB
}

func NewPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db}, nil
}

func (s *Pebble) Close() error { return s.db.Close() }

func (s *Pebble) CreateAccount(ctx context.Context, acct broker.Account) error {
	key := accountKey(acct.ID)
	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return broker.ErrAccountExists
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("check account %s: %w", acct.ID, err)
	}
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("save account %s: %w", acct.ID, err)
	}
	return nil
}

func (s *Pebble) Account(ctx context.Context, userID string) (broker.Account, error) {
	data, closer, err := s.db.Get(accountKey(userID))
	if err == pebble.ErrNotFound {
		return broker.Account{}, broker.ErrAccountNotFound
	}
	if err != nil {
		return broker.Account{}, fmt.Errorf("get account %s: %w", userID, err)
	}
	defer closer.Close()

	var acct broker.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return broker.Account{}, fmt.Errorf("unmarshal account %s: %w", userID, err)
	}
	return acct, nil
}

func (s *Pebble) Transactions(ctx context.Context, userID string) ([]broker.Transaction, error) {
	prefix := txPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log for %s: %w", userID, err)
	}
	defer iter.Close()

	var txs []broker.Transaction
	for iter.First(); iter.Valid(); iter.Next() {
		var tx broker.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			continue // skip invalid entries
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *Pebble) Commit(ctx context.Context, acct broker.Account, tx broker.Transaction) error {
	acctData, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	txData, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	seq, err := s.nextSeq(tx.UserID)
	if err != nil {
		return err
	}
	var seqData [8]byte
	binary.BigEndian.PutUint64(seqData[:], seq)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(accountKey(acct.ID), acctData, nil); err != nil {
		return fmt.Errorf("batch account: %w", err)
	}
	if err := batch.Set(txKey(tx.UserID, seq), txData, nil); err != nil {
		return fmt.Errorf("batch transaction: %w", err)
	}
	if err := batch.Set(seqKey(tx.UserID), seqData[:], nil); err != nil {
		return fmt.Errorf("batch sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// nextSeq returns the sequence number for the next log entry. The
// engine serializes commits per account, so read-then-write is safe.
func (s *Pebble) nextSeq(userID string) (uint64, error) {
	data, closer, err := s.db.Get(seqKey(userID))
	if err == pebble.ErrNotFound {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get sequence for %s: %w", userID, err)
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(data) + 1, nil
}

var _ broker.Store = (*Pebble)(nil)
