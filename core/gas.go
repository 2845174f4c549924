package core

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/apd/v3"
)

// Gas is metered after the fact: the cost of a call is the change it made to
// the working set's encoded size plus a fixed surcharge per activated
// contract instance, priced at the enclosing transaction's per-byte fee
// rate and paid by the funding output's amount.

// InstanceGas is the surcharge per contract instance activated during a
// dispatch. It bounds cross-contract recursion economically.
const InstanceGas = 1024

// FeeRate derives the per-byte price from the transaction's fees and
// serialized length. Zero-fee transactions are floored at 1/smallest so no
// call is ever free.
func FeeRate(fees *apd.Decimal, txSizeBytes int, smallest *apd.Decimal) (*apd.Decimal, error) {
	rate := new(apd.Decimal)
	if fees != nil && fees.Sign() > 0 {
		if txSizeBytes <= 0 {
			return nil, fmt.Errorf("transaction size must be positive")
		}
		if _, err := decCtx.Quo(rate, fees, apd.New(int64(txSizeBytes), 0)); err != nil {
			return nil, err
		}
		rate.Reduce(rate)
		return rate, nil
	}
	if smallest == nil || smallest.Sign() <= 0 {
		return nil, fmt.Errorf("smallest unit must be positive")
	}
	if _, err := decCtx.Quo(rate, apd.New(1, 0), smallest); err != nil {
		return nil, err
	}
	rate.Reduce(rate)
	return rate, nil
}

// workingSetSnapshot holds the encoded form of every contract's variables
// before a dispatch. Restoring decodes the rows back; the byte total doubles
// as the metering input.
type workingSetSnapshot struct {
	states map[ContractHash][]byte
	size   int
}

// snapshotWorkingSet encodes every contract's variable map. Contracts whose
// state fails to encode make the snapshot fail, which the driver treats as
// an execution error for the pending call.
func snapshotWorkingSet(ectx *ExecutionContext) (*workingSetSnapshot, error) {
	snap := &workingSetSnapshot{states: make(map[ContractHash][]byte, len(ectx.Contracts))}
	hashes := make([]ContractHash, 0, len(ectx.Contracts))
	for h := range ectx.Contracts {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return string(hashes[i][:]) < string(hashes[j][:])
	})
	for _, h := range hashes {
		enc, err := Serialize(ectx.Contracts[h].Variables)
		if err != nil {
			return nil, fmt.Errorf("snapshot contract %s: %w", h.Hex(), err)
		}
		snap.states[h] = enc
		snap.size += len(enc)
	}
	return snap, nil
}

// restore rolls the working set back to the snapshot: contracts created
// since are dropped, every other contract's variables are decoded back.
func (s *workingSetSnapshot) restore(ectx *ExecutionContext) error {
	for h := range ectx.Contracts {
		if _, ok := s.states[h]; !ok {
			delete(ectx.Contracts, h)
		}
	}
	for h, enc := range s.states {
		c, ok := ectx.Contracts[h]
		if !ok {
			return fmt.Errorf("restore: contract %s vanished from the working set", h.Hex())
		}
		v, err := Deserialize(enc)
		if err != nil {
			return fmt.Errorf("restore contract %s: %w", h.Hex(), err)
		}
		vars, ok := v.(*Map)
		if !ok {
			return fmt.Errorf("restore contract %s: snapshot is not a map", h.Hex())
		}
		c.Variables = vars
	}
	return nil
}

// pendingEventsSize measures the encoded size of the dispatch's pending
// events, which is billed on top of the state delta.
func pendingEventsSize(events []EmittedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	items := make([]Value, len(events))
	for i, ev := range events {
		items[i] = NewTuple(Str(ev.Event.Name), ev.Event.Fields)
	}
	enc, err := Serialize(NewList(items...))
	if err != nil {
		return 0, err
	}
	return len(enc), nil
}

// MeterGas computes the total gas of a dispatch from the observed size
// delta, the pending events and the activated instance count. The delta is
// absolute: shrinking state costs the same as growing it by as much.
func MeterGas(sizeBefore, sizeAfter, eventsSize, instances int) int64 {
	delta := sizeAfter - sizeBefore
	if delta < 0 {
		delta = -delta
	}
	return int64(delta) + int64(eventsSize) + int64(instances)*InstanceGas
}

// RequiredFee prices metered gas at the transaction's fee rate.
func RequiredFee(totalGas int64, feeRate *apd.Decimal) (*apd.Decimal, error) {
	required := new(apd.Decimal)
	if _, err := decCtx.Mul(required, apd.New(totalGas, 0), feeRate); err != nil {
		return nil, err
	}
	required.Reduce(required)
	return required, nil
}
