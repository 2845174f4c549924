package core

import (
	"context"

	"github.com/cockroachdb/apd/v3"
)

// The carrying ledger is an opaque dependency: the driver consumes blocks
// and transactions through these projections and never writes back.

// Block is one atomic unit of ledger history.
type Block struct {
	Height uint64
	Hash   string
}

// TxInput is the slice of a ledger transaction input the driver needs: the
// sender recovered from the input's public key.
type TxInput struct {
	Sender Address
}

// LedgerTransaction is the projection of a confirmed ledger transaction.
type LedgerTransaction struct {
	Hash     string
	Coinbase bool
	Inputs   []TxInput
	Outputs  []TxOutput
	Fees     *apd.Decimal
	Message  []byte

	// SizeBytes is the length of the serialized transaction, the divisor of
	// the fee rate.
	SizeBytes int
}

// DistinctSenders counts the distinct sender identities across the inputs.
func (tx *LedgerTransaction) DistinctSenders() int {
	seen := make(map[Address]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		seen[in.Sender] = struct{}{}
	}
	return len(seen)
}

// Sender returns the single sender of a candidate transaction.
func (tx *LedgerTransaction) Sender() Address {
	if len(tx.Inputs) == 0 {
		return ""
	}
	return tx.Inputs[0].Sender
}

// DVMProjection builds the transaction view exposed to contract code.
func (tx *LedgerTransaction) DVMProjection() *DVMTransaction {
	return &DVMTransaction{TxHash: tx.Hash, Outputs: tx.Outputs}
}

// ChainReader is the read side of the ledger database. GetBlockByID returns
// nil (and no error) while the height has not been mined yet.
type ChainReader interface {
	GetBlockByID(ctx context.Context, height uint64) (*Block, error)
	GetBlockTransactions(ctx context.Context, blockHash string) ([]*LedgerTransaction, error)
}
