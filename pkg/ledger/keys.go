package ledger

import "fmt"

// Pebble key schema.
// Transactions are keyed by a zero-padded per-user sequence so a
// prefix scan yields the log in commit order; the sequence counter is
// written in the same atomic batch as the record it numbers.
const (
	prefixAccount = "acct:" // account record:      "acct:{user}"
	prefixTx      = "tx:"   // transaction record:  "tx:{user}:{seq:020d}"
	prefixSeq     = "seq:"  // per-user log length: "seq:{user}"
)

func accountKey(userID string) []byte {
	return []byte(prefixAccount + userID)
}

func txKey(userID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTx, userID, seq))
}

func txPrefix(userID string) []byte {
	return []byte(prefixTx + userID + ":")
}

func seqKey(userID string) []byte {
	return []byte(prefixSeq + userID)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
