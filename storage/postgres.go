package storage

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/denaro-coin/dvm/core"
)

// PostgresStore persists the engine-owned tables. Sources are stored
// zlib-compressed; state rows are append-only and resolved with a
// DISTINCT ON latest-at-or-before-height query; a block commits all of its
// rows plus the cursor in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS dvm (
    contract_hash        CHAR(64) PRIMARY KEY,
    creation_transaction CHAR(64) NOT NULL,
    source_code          BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS dvm_state (
    contract_hash CHAR(64) NOT NULL,
    block_no      BIGINT NOT NULL,
    state         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS dvm_state_lookup ON dvm_state (contract_hash, block_no DESC);
CREATE TABLE IF NOT EXISTS dvm_transactions (
    contract_hash CHAR(64) NOT NULL,
    tx_hash       CHAR(64) NOT NULL,
    output_index  INT NOT NULL,
    payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS dvm_transactions_tx ON dvm_transactions (tx_hash);
CREATE TABLE IF NOT EXISTS dvm_events (
    tx_hash       CHAR(64) NOT NULL,
    output_index  INT NOT NULL,
    contract_hash CHAR(64) NOT NULL,
    name          TEXT NOT NULL,
    args          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dvm_cursor (
    id       BOOLEAN PRIMARY KEY DEFAULT TRUE,
    block_no BIGINT NOT NULL
);
`

// NewPostgresStore connects and ensures the owned schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logrus.Infof("connected to state store")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) GetContractSources(ctx context.Context, hashes []core.ContractHash) (map[core.ContractHash]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contract_hash, source_code FROM dvm WHERE contract_hash = ANY($1)`,
		hashesToHex(hashes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[core.ContractHash]string, len(hashes))
	for rows.Next() {
		var (
			hashHex string
			blob    []byte
		)
		if err := rows.Scan(&hashHex, &blob); err != nil {
			return nil, err
		}
		hash, err := core.ParseContractHash(hashHex)
		if err != nil {
			return nil, err
		}
		src, err := inflateSource(blob)
		if err != nil {
			return nil, fmt.Errorf("contract %s source: %w", hashHex, err)
		}
		out[hash] = src
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetContractStates(ctx context.Context, hashes []core.ContractHash, maxHeight uint64) (map[core.ContractHash]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (contract_hash) contract_hash, state
		   FROM dvm_state
		  WHERE contract_hash = ANY($1) AND block_no <= $2
		  ORDER BY contract_hash, block_no DESC`,
		hashesToHex(hashes), int64(min64(maxHeight, 1<<62)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[core.ContractHash]string, len(hashes))
	for rows.Next() {
		var hashHex, state string
		if err := rows.Scan(&hashHex, &state); err != nil {
			return nil, err
		}
		hash, err := core.ParseContractHash(hashHex)
		if err != nil {
			return nil, err
		}
		out[hash] = state
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTransactionRows(ctx context.Context, txHash string) ([]core.TransactionRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contract_hash, tx_hash, output_index, payload
		   FROM dvm_transactions WHERE tx_hash = $1 ORDER BY output_index`,
		txHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.TransactionRow
	for rows.Next() {
		var (
			row     core.TransactionRow
			hashHex string
		)
		if err := rows.Scan(&hashHex, &row.TxHash, &row.OutputIndex, &row.PayloadHex); err != nil {
			return nil, err
		}
		if row.ContractHash, err = core.ParseContractHash(hashHex); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Cursor(ctx context.Context) (uint64, bool, error) {
	var blockNo int64
	err := s.pool.QueryRow(ctx, `SELECT block_no FROM dvm_cursor WHERE id`).Scan(&blockNo)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(blockNo), true, nil
}

func (s *PostgresStore) CommitBlock(ctx context.Context, mut *core.BlockMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range mut.Created {
		if _, err := tx.Exec(ctx,
			`INSERT INTO dvm (contract_hash, creation_transaction, source_code) VALUES ($1, $2, $3)`,
			c.Hash.Hex(), c.TxHash, deflateSource(c.Source)); err != nil {
			return err
		}
	}
	for hash, state := range mut.States {
		if _, err := tx.Exec(ctx,
			`INSERT INTO dvm_state (contract_hash, block_no, state) VALUES ($1, $2, $3)`,
			hash.Hex(), int64(mut.Height), state); err != nil {
			return err
		}
	}
	for _, row := range mut.Transactions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO dvm_transactions (contract_hash, tx_hash, output_index, payload) VALUES ($1, $2, $3, $4)`,
			row.ContractHash.Hex(), row.TxHash, row.OutputIndex, row.PayloadHex); err != nil {
			return err
		}
	}
	for _, row := range mut.Events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO dvm_events (tx_hash, output_index, contract_hash, name, args) VALUES ($1, $2, $3, $4, $5)`,
			row.TxHash, row.OutputIndex, row.ContractHash.Hex(), row.Name, row.ArgsJSON); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO dvm_cursor (id, block_no) VALUES (TRUE, $1)
		 ON CONFLICT (id) DO UPDATE SET block_no = EXCLUDED.block_no`,
		int64(mut.Height)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func hashesToHex(hashes []core.ContractHash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

func deflateSource(src string) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write([]byte(src))
	_ = zw.Close()
	return buf.Bytes()
}

func inflateSource(blob []byte) (string, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	defer zr.Close()
	src, err := io.ReadAll(zr)
	if err != nil {
		return "", err
	}
	return string(src), nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

var _ core.StateStore = (*PostgresStore)(nil)
