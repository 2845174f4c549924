package core

import "fmt"

// CreatedContract records a deployment pending persistence. Created
// contracts become durable only when the enclosing call commits and the
// block persists.
type CreatedContract struct {
	Hash   ContractHash
	TxHash string
	Source string
}

// ExecutionContext carries everything a dispatch mutates: the working set,
// the active-instance stack, the current transaction projection and the
// pending event and creation registers. The driver owns one per block and
// threads it through every host call; contracts only ever see the immutable
// projections (`address`, `transaction`).
type ExecutionContext struct {
	// Contracts is the working set: every contract touched by the block,
	// keyed by hash.
	Contracts map[ContractHash]*Contract

	// Tx is the ledger transaction enclosing the current dispatch.
	Tx *DVMTransaction

	// Current is the contract whose method body is executing.
	Current ContractHash

	// instances is the active-instance list for the current dispatch. Handle
	// creation appends and never pops, so its high-water length meters
	// invocation depth.
	instances []ContractHash

	// Events and Created are the per-dispatch pending registers, discarded
	// on revert.
	Events  []EmittedEvent
	Created []CreatedContract
}

// NewExecutionContext wraps a working set and binds every member to the new
// context.
func NewExecutionContext(contracts map[ContractHash]*Contract) *ExecutionContext {
	if contracts == nil {
		contracts = make(map[ContractHash]*Contract)
	}
	ectx := &ExecutionContext{Contracts: contracts}
	for _, c := range contracts {
		c.Bind(ectx)
	}
	return ectx
}

// BeginDispatch resets the per-call registers for a new call targeting the
// given contract.
func (e *ExecutionContext) BeginDispatch(tx *DVMTransaction, target ContractHash) {
	e.Tx = tx
	e.Current = target
	e.instances = e.instances[:0]
	e.instances = append(e.instances, target)
	e.Events = nil
	e.Created = nil
}

// EnterInstance registers a cross-contract handle for target. It fails when
// the hash already sits on the active-instance list, which forbids a
// contract from re-entering itself.
func (e *ExecutionContext) EnterInstance(target ContractHash) error {
	for _, h := range e.instances {
		if h == target {
			return fmt.Errorf("contract %s cannot call itself", target.Hex())
		}
	}
	e.instances = append(e.instances, target)
	return nil
}

// InstanceCount returns the number of contract instances activated by the
// current dispatch. Each one adds a fixed surcharge to the metered gas.
func (e *ExecutionContext) InstanceCount() int { return len(e.instances) }

// AddContract installs a freshly created contract into the working set and
// binds it.
func (e *ExecutionContext) AddContract(c *Contract) {
	e.Contracts[c.Hash] = c
	c.Bind(e)
}

// Emit appends a pending event for the currently executing contract.
func (e *ExecutionContext) Emit(ev *Event) {
	e.Events = append(e.Events, EmittedEvent{Contract: e.Current, Event: ev})
}
