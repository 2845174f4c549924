package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/sirupsen/logrus"
)

// Driver runs the per-block execution pipeline: filter candidate
// transactions, decode their call-lists, load the working set, dispatch each
// call under snapshot/revert discipline, meter gas, and persist the block's
// rows atomically. A single logical executor owns the loop; contract bodies
// run to completion (or timeout) on the dispatching goroutine.
type Driver struct {
	dvm   *DVM
	chain ChainReader
	cfg   DriverConfig
}

// DriverConfig enumerates the knobs of the block loop.
type DriverConfig struct {
	// VMAddress marks ledger outputs as VM-bound.
	VMAddress Address
	// Smallest is the ledger's minimum monetary unit, the fee-rate floor
	// divisor for zero-fee transactions.
	Smallest *apd.Decimal
	// PollInterval is the wait between probes for the next block.
	PollInterval time.Duration
	// StartHeight is the first block to process when no cursor exists.
	StartHeight uint64
}

func NewDriver(dvm *DVM, chain ChainReader, cfg DriverConfig) (*Driver, error) {
	if cfg.VMAddress == "" {
		return nil, fmt.Errorf("driver: VM address is required")
	}
	if cfg.Smallest == nil || cfg.Smallest.Sign() <= 0 {
		return nil, fmt.Errorf("driver: smallest unit must be positive")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.StartHeight == 0 {
		cfg.StartHeight = 1
	}
	return &Driver{dvm: dvm, chain: chain, cfg: cfg}, nil
}

// Run processes blocks sequentially from the cursor until the context is
// cancelled or a persistence failure aborts the loop. A cancelled block is
// discarded whole; the cursor stays at the prior height.
func (d *Driver) Run(ctx context.Context) error {
	next, err := d.nextHeight(ctx)
	if err != nil {
		return err
	}
	logrus.Infof("dvm driver starting at block %d", next)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := d.chain.GetBlockByID(ctx, next)
		if err != nil {
			return fmt.Errorf("fetch block %d: %w", next, err)
		}
		if block == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.PollInterval):
			}
			continue
		}
		if err := d.ProcessBlock(ctx, block); err != nil {
			return err
		}
		next = block.Height + 1
	}
}

func (d *Driver) nextHeight(ctx context.Context) (uint64, error) {
	cursor, ok, err := d.dvm.store.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: read cursor: %v", ErrPersistence, err)
	}
	if !ok {
		return d.cfg.StartHeight, nil
	}
	return cursor + 1, nil
}

// candidateCall is one decoded record paired with the output funding it.
type candidateCall struct {
	record      CallRecord
	tx          *LedgerTransaction
	outputIndex int
	budget      *apd.Decimal
	feeRate     *apd.Decimal
	sender      Address
}

// ProcessBlock executes every call delivered by the block and persists the
// result. Per-call failures are isolated by snapshot restore; only a failed
// ledger fetch, contract load, state encoding or external write aborts the
// block.
func (d *Driver) ProcessBlock(ctx context.Context, block *Block) error {
	txs, err := d.chain.GetBlockTransactions(ctx, block.Hash)
	if err != nil {
		return fmt.Errorf("fetch transactions of block %d: %w", block.Height, err)
	}

	calls := d.collectCalls(txs)
	if len(calls) == 0 {
		return d.persist(ctx, block, nil, nil, nil, nil)
	}

	targets := make([]ContractHash, 0, len(calls))
	for _, call := range calls {
		if cc, ok := call.record.(*ContractCall); ok {
			targets = append(targets, cc.ContractHash)
		}
	}
	contracts, err := d.dvm.LoadContracts(ctx, targets, block.Height)
	if err != nil {
		return err
	}
	ectx := NewExecutionContext(contracts)

	var (
		txRows    []TransactionRow
		eventRows []EventRow
		created   []CreatedContract
	)
	for _, call := range calls {
		row, events, newContracts, err := d.dispatch(ectx, block, call)
		if err != nil {
			logrus.Warnf("Call in block %d tx %s output %d reversed: %v",
				block.Height, call.tx.Hash, call.outputIndex, err)
			continue
		}
		if row != nil {
			txRows = append(txRows, *row)
		}
		eventRows = append(eventRows, events...)
		created = append(created, newContracts...)
	}

	states := make(map[ContractHash]string, len(ectx.Contracts))
	for hash, c := range ectx.Contracts {
		state, err := c.StateJSON()
		if err != nil {
			return fmt.Errorf("%w: encode state of %s: %v", ErrPersistence, hash.Hex(), err)
		}
		states[hash] = state
	}
	return d.persist(ctx, block, created, states, txRows, eventRows)
}

// collectCalls filters the block's transactions down to fundable call
// records: non-coinbase, single-sender transactions with outputs addressed
// to the VM. The k-th VM-bound output funds the k-th record of the
// transaction's call-list.
func (d *Driver) collectCalls(txs []*LedgerTransaction) []candidateCall {
	var calls []candidateCall
	for _, tx := range txs {
		if tx.Coinbase || len(tx.Inputs) == 0 {
			continue
		}
		var vmOutputs []int
		for i, out := range tx.Outputs {
			if out.Address == d.cfg.VMAddress {
				vmOutputs = append(vmOutputs, i)
			}
		}
		if len(vmOutputs) == 0 {
			continue
		}
		if tx.DistinctSenders() > 1 {
			logrus.Warnf("Skipping transaction %s: more than one sender", tx.Hash)
			continue
		}
		list, err := DecodeCallList(tx.Message)
		if err != nil {
			logrus.Warnf("Skipping transaction %s: invalid payload: %v", tx.Hash, err)
			continue
		}
		if len(list.Records) == 0 {
			logrus.Debugf("Transaction %s carries no calls", tx.Hash)
			continue
		}
		feeRate, err := FeeRate(tx.Fees, tx.SizeBytes, d.cfg.Smallest)
		if err != nil {
			logrus.Warnf("Skipping transaction %s: %v", tx.Hash, err)
			continue
		}
		if len(list.Records) > len(vmOutputs) {
			logrus.Warnf("Transaction %s carries %d calls but only %d funding outputs; extra calls dropped",
				tx.Hash, len(list.Records), len(vmOutputs))
		}
		for k, rec := range list.Records {
			if k >= len(vmOutputs) {
				break
			}
			idx := vmOutputs[k]
			calls = append(calls, candidateCall{
				record:      rec,
				tx:          tx,
				outputIndex: idx,
				budget:      tx.Outputs[idx].Amount,
				feeRate:     feeRate,
				sender:      tx.Sender(),
			})
		}
	}
	return calls
}

// dispatch runs one call under the snapshot/revert discipline and meters it.
// It returns the rows the call contributes when it commits; the error return
// reports why a call reverted or was skipped.
func (d *Driver) dispatch(ectx *ExecutionContext, block *Block, call candidateCall) (*TransactionRow, []EventRow, []CreatedContract, error) {
	snap, err := snapshotWorkingSet(ectx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	var target ContractHash
	runCall := func() error {
		switch rec := call.record.(type) {
		case *ContractCreation:
			hash, err := DeriveContractHash(block.Hash, call.tx.Hash, uint8(call.outputIndex))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrDeployment, err)
			}
			target = hash
			ectx.BeginDispatch(call.tx.DVMProjection(), target)
			if _, err := d.dvm.CreateContract(ectx, rec, hash, call.tx.Hash, call.sender); err != nil {
				return err
			}
			logrus.Infof("Created contract %s", hash.Hex())
			return nil
		case *ContractCall:
			target = rec.ContractHash
			if _, ok := ectx.Contracts[target]; !ok {
				return fmt.Errorf("%w: %s", ErrUnknownContract, target.Hex())
			}
			if rec.Method == "constructor" {
				return fmt.Errorf("%w: cannot call constructor", ErrForbiddenMethod)
			}
			args := []Value{}
			if rec.Args != nil {
				args = rec.Args.Items()
			}
			ectx.BeginDispatch(call.tx.DVMProjection(), target)
			_, err := ectx.Contracts[target].Invoke(rec.Method, args, CallOpts{
				Sender:    call.sender,
				HasSender: true,
				External:  true,
			})
			return err
		default:
			return fmt.Errorf("%w: unknown record type %T", ErrMalformedPayload, call.record)
		}
	}

	if err := runCall(); err != nil {
		if rerr := snap.restore(ectx); rerr != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, rerr)
		}
		// UnknownContract and ForbiddenMethod are skips, not reverts, but
		// both leave the working set untouched either way.
		return nil, nil, nil, err
	}

	after, err := snapshotWorkingSet(ectx)
	if err != nil {
		if rerr := snap.restore(ectx); rerr != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, rerr)
		}
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	eventsSize, err := pendingEventsSize(ectx.Events)
	if err != nil {
		if rerr := snap.restore(ectx); rerr != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, rerr)
		}
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	totalGas := MeterGas(snap.size, after.size, eventsSize, ectx.InstanceCount())
	required, err := RequiredFee(totalGas, call.feeRate)
	if err != nil {
		if rerr := snap.restore(ectx); rerr != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, rerr)
		}
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	budget := call.budget
	if budget == nil {
		budget = new(apd.Decimal)
	}
	if budget.Cmp(required) < 0 {
		if rerr := snap.restore(ectx); rerr != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, rerr)
		}
		return nil, nil, nil, fmt.Errorf("%w: requires %s, output carries %s",
			ErrInsufficientGas, required.Text('f'), budget.Text('f'))
	}

	payload, err := call.record.Payload()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	row := &TransactionRow{
		ContractHash: target,
		TxHash:       call.tx.Hash,
		OutputIndex:  call.outputIndex,
		PayloadHex:   fmt.Sprintf("%x", payload),
	}
	eventRows := make([]EventRow, 0, len(ectx.Events))
	for _, ev := range ectx.Events {
		argsJSON, err := ev.Event.ArgsJSON()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: encode event %s: %v", ErrExecution, ev.Event.Name, err)
		}
		eventRows = append(eventRows, EventRow{
			TxHash:       call.tx.Hash,
			OutputIndex:  call.outputIndex,
			ContractHash: ev.Contract,
			Name:         ev.Event.Name,
			ArgsJSON:     argsJSON,
		})
	}
	return row, eventRows, append([]CreatedContract(nil), ectx.Created...), nil
}

func (d *Driver) persist(ctx context.Context, block *Block, created []CreatedContract, states map[ContractHash]string, txRows []TransactionRow, eventRows []EventRow) error {
	mut := &BlockMutation{
		Height:       block.Height,
		Created:      created,
		States:       states,
		Transactions: txRows,
		Events:       eventRows,
	}
	if err := d.dvm.store.CommitBlock(ctx, mut); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: commit block %d: %v", ErrPersistence, block.Height, err)
	}
	if len(txRows) > 0 || len(created) > 0 {
		logrus.Infof("Processed block %d: %d calls committed, %d contracts created",
			block.Height, len(txRows), len(created))
	}
	return nil
}
