package storage

import (
	"context"
	"sync"

	"github.com/denaro-coin/dvm/core"
)

// MemoryStore is the in-memory StateStore used by tests and disposable
// read-only servers. It mirrors the PostgreSQL row layout, including the
// latest-at-or-before-height state lookup.
type MemoryStore struct {
	mu sync.RWMutex

	sources map[core.ContractHash]string
	states  map[core.ContractHash][]stateRow
	txRows  []core.TransactionRow
	events  []core.EventRow

	cursor    uint64
	cursorSet bool
}

type stateRow struct {
	height uint64
	state  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[core.ContractHash]string),
		states:  make(map[core.ContractHash][]stateRow),
	}
}

func (s *MemoryStore) GetContractSources(_ context.Context, hashes []core.ContractHash) (map[core.ContractHash]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.ContractHash]string, len(hashes))
	for _, h := range hashes {
		if src, ok := s.sources[h]; ok {
			out[h] = src
		}
	}
	return out, nil
}

func (s *MemoryStore) GetContractStates(_ context.Context, hashes []core.ContractHash, maxHeight uint64) (map[core.ContractHash]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.ContractHash]string, len(hashes))
	for _, h := range hashes {
		var (
			best       string
			bestHeight uint64
			found      bool
		)
		for _, row := range s.states[h] {
			if row.height <= maxHeight && (!found || row.height >= bestHeight) {
				best, bestHeight, found = row.state, row.height, true
			}
		}
		if found {
			out[h] = best
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTransactionRows(_ context.Context, txHash string) ([]core.TransactionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.TransactionRow
	for _, row := range s.txRows {
		if row.TxHash == txHash {
			out = append(out, row)
		}
	}
	return out, nil
}

// EventRows returns the persisted events for a transaction hash.
func (s *MemoryStore) EventRows(txHash string) []core.EventRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.EventRow
	for _, row := range s.events {
		if row.TxHash == txHash {
			out = append(out, row)
		}
	}
	return out
}

func (s *MemoryStore) Cursor(_ context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, s.cursorSet, nil
}

func (s *MemoryStore) CommitBlock(_ context.Context, mut *core.BlockMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range mut.Created {
		s.sources[c.Hash] = c.Source
	}
	for hash, state := range mut.States {
		s.states[hash] = append(s.states[hash], stateRow{height: mut.Height, state: state})
	}
	s.txRows = append(s.txRows, mut.Transactions...)
	s.events = append(s.events, mut.Events...)
	s.cursor = mut.Height
	s.cursorSet = true
	return nil
}

var _ core.StateStore = (*MemoryStore)(nil)
