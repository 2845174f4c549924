package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/denaro-coin/dvm/core"
)

// ChainDB adapts the carrying ledger's database to the driver's ChainReader.
// The ledger schema is consumed read-only; the engine owns none of these
// tables.
type ChainDB struct {
	pool *pgxpool.Pool
}

func NewChainDB(pool *pgxpool.Pool) *ChainDB { return &ChainDB{pool: pool} }

// OpenChainDB connects to the ledger database.
func OpenChainDB(ctx context.Context, dsn string) (*ChainDB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	return &ChainDB{pool: pool}, nil
}

func (c *ChainDB) Close() { c.pool.Close() }

func (c *ChainDB) GetBlockByID(ctx context.Context, height uint64) (*core.Block, error) {
	var hash string
	err := c.pool.QueryRow(ctx,
		`SELECT hash FROM blocks WHERE id = $1`, int64(height)).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &core.Block{Height: height, Hash: hash}, nil
}

func (c *ChainDB) GetBlockTransactions(ctx context.Context, blockHash string) ([]*core.LedgerTransaction, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT tx_hash, tx_hex, message, inputs_addresses, outputs_addresses, outputs_amounts, fees
		   FROM transactions WHERE block_hash = $1`,
		blockHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.LedgerTransaction
	for rows.Next() {
		var (
			txHash, txHex string
			message       []byte
			inputAddrs    []string
			outputAddrs   []string
			outputAmounts []string
			feesText      string
		)
		if err := rows.Scan(&txHash, &txHex, &message, &inputAddrs, &outputAddrs, &outputAmounts, &feesText); err != nil {
			return nil, err
		}
		tx := &core.LedgerTransaction{
			Hash:      txHash,
			Coinbase:  len(inputAddrs) == 0,
			Message:   message,
			SizeBytes: hex.DecodedLen(len(txHex)),
		}
		for _, addr := range inputAddrs {
			tx.Inputs = append(tx.Inputs, core.TxInput{Sender: core.Address(addr)})
		}
		if len(outputAddrs) != len(outputAmounts) {
			return nil, fmt.Errorf("transaction %s: %d output addresses but %d amounts",
				txHash, len(outputAddrs), len(outputAmounts))
		}
		for i, addr := range outputAddrs {
			amount, _, err := new(apd.Decimal).SetString(outputAmounts[i])
			if err != nil {
				return nil, fmt.Errorf("transaction %s output %d amount: %w", txHash, i, err)
			}
			tx.Outputs = append(tx.Outputs, core.TxOutput{
				Address: core.Address(addr),
				Amount:  amount,
			})
		}
		fees, _, err := new(apd.Decimal).SetString(feesText)
		if err != nil {
			return nil, fmt.Errorf("transaction %s fees: %w", txHash, err)
		}
		tx.Fees = fees
		out = append(out, tx)
	}
	return out, rows.Err()
}

var _ core.ChainReader = (*ChainDB)(nil)
