package clients

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/web3ai/x402gate/types"
)

// ErrTxNotFound is returned when the queried network has no record of the
// hash yet. A just-broadcast transaction routinely takes a few seconds to be
// indexed, so callers treat this as "retry later", not as a failure.
var ErrTxNotFound = errors.New("transaction not found on chain")

// Transaction is the chain-agnostic view of an on-chain transfer.
// Value is in the native unit of the chain (e.g. MON, not wei).
type Transaction struct {
	Hash  string
	From  string
	To    string
	Value decimal.Decimal
}

// Receipt carries the execution result of a mined transaction.
type Receipt struct {
	TxHash      string
	Success     bool
	BlockNumber uint64
}

// ChainClient fetches transaction data from a remote ledger RPC endpoint.
// Implementations are read-only; wrong-network lookups are a caller error.
type ChainClient interface {
	// FetchTransaction returns the transaction and, if already mined, its
	// receipt. A found-but-unmined transaction comes back with a nil
	// receipt. An unindexed hash yields ErrTxNotFound.
	FetchTransaction(ctx context.Context, txHash string) (*Transaction, *Receipt, error)

	Network() types.Network
	Close()
}
