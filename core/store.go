package core

import "context"

// TransactionRow is one persisted execution record.
type TransactionRow struct {
	ContractHash ContractHash
	TxHash       string
	OutputIndex  int
	PayloadHex   string
}

// EventRow is one persisted event record, keyed by
// (tx_hash, output_index, contract_hash).
type EventRow struct {
	TxHash       string
	OutputIndex  int
	ContractHash ContractHash
	Name         string
	ArgsJSON     string
}

// BlockMutation batches everything a processed block writes. The store must
// apply it transactionally: either all tables receive the rows and the
// cursor advances, or none do.
type BlockMutation struct {
	Height       uint64
	Created      []CreatedContract
	States       map[ContractHash]string
	Transactions []TransactionRow
	Events       []EventRow
}

// StateStore owns the persistent contract tables. Implementations live in
// the storage package; the in-memory one backs tests and read-only servers.
type StateStore interface {
	// GetContractSources returns the decompressed source of each deployed
	// contract among hashes. Unknown hashes are simply absent.
	GetContractSources(ctx context.Context, hashes []ContractHash) (map[ContractHash]string, error)

	// GetContractStates returns the latest persisted state row at or before
	// maxHeight for each contract among hashes. Contracts with no row are
	// absent from the result; callers decode the missing entry as an empty
	// state.
	GetContractStates(ctx context.Context, hashes []ContractHash, maxHeight uint64) (map[ContractHash]string, error)

	// GetTransactionRows returns every persisted execution record for a
	// ledger transaction hash.
	GetTransactionRows(ctx context.Context, txHash string) ([]TransactionRow, error)

	// Cursor returns the last fully processed block height. ok is false
	// before the first block is processed.
	Cursor(ctx context.Context) (height uint64, ok bool, err error)

	// CommitBlock atomically persists a processed block and advances the
	// cursor.
	CommitBlock(ctx context.Context, mut *BlockMutation) error
}
