package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DVM is the execution engine facade: it rebuilds contracts from persisted
// source and state, creates new ones, and answers read-only queries against
// disposable working sets.
type DVM struct {
	store StateStore
	host  *Host
}

func NewDVM(store StateStore, host *Host) *DVM {
	if host == nil {
		host = NewHost(0)
	}
	return &DVM{store: store, host: host}
}

func (d *DVM) Store() StateStore { return d.store }

func (d *DVM) Host() *Host { return d.host }

// LoadContracts rebuilds the working set for the given hashes: one
// consolidated fetch of sources and latest states at or before maxHeight,
// then one compile per contract. Contracts whose source no longer evaluates
// are skipped with a logged reason, like any other malformed input.
func (d *DVM) LoadContracts(ctx context.Context, hashes []ContractHash, maxHeight uint64) (map[ContractHash]*Contract, error) {
	contracts := make(map[ContractHash]*Contract, len(hashes))
	if len(hashes) == 0 {
		return contracts, nil
	}
	sources, err := d.store.GetContractSources(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("%w: load sources: %v", ErrPersistence, err)
	}
	states, err := d.store.GetContractStates(ctx, hashes, maxHeight)
	if err != nil {
		return nil, fmt.Errorf("%w: load states: %v", ErrPersistence, err)
	}
	for hash, source := range sources {
		vars, err := DecodeStateJSON(states[hash])
		if err != nil {
			logrus.Warnf("Contract %s state row is unreadable: %v", hash.Hex(), err)
			continue
		}
		c := NewContract(hash, vars)
		if err := d.host.Compile(c, source); err != nil {
			logrus.Warnf("Contract %s has not been loaded: %v", hash.Hex(), err)
			continue
		}
		contracts[hash] = c
	}
	return contracts, nil
}

// CreateContract compiles and instantiates a creation record inside the
// given execution context, runs the constructor when one is declared, and
// registers the new contract in the working set and the pending-creation
// list. Any failure leaves the contract uncreated.
func (d *DVM) CreateContract(ectx *ExecutionContext, cc *ContractCreation, hash ContractHash, txHash string, sender Address) (*Contract, error) {
	c := NewContract(hash, NewMap())
	if err := d.host.Compile(c, cc.Source); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeployment, err)
	}
	c.Bind(ectx)
	if _, ok := c.Method("constructor"); ok {
		args := []Value{}
		if cc.Args != nil {
			args = cc.Args.Items()
		}
		if _, err := c.Invoke("constructor", args, CallOpts{Sender: sender, HasSender: true}); err != nil {
			return nil, fmt.Errorf("%w: constructor: %v", ErrDeployment, err)
		}
	}
	if _, err := c.StateJSON(); err != nil {
		return nil, fmt.Errorf("%w: initial state is not encodable: %v", ErrDeployment, err)
	}
	ectx.AddContract(c)
	ectx.Created = append(ectx.Created, CreatedContract{Hash: hash, TxHash: txHash, Source: cc.Source})
	return c, nil
}

// ReadContract serves the read-only query path: it rebuilds a disposable
// working set for the contract and either returns the named state variable
// or invokes the named exported method. Mutations die with the working set.
func (d *DVM) ReadContract(ctx context.Context, hash ContractHash, name string, args []Value) (Value, error) {
	contracts, err := d.LoadContracts(ctx, []ContractHash{hash}, ^uint64(0))
	if err != nil {
		return nil, err
	}
	c, ok := contracts[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, hash.Hex())
	}
	if v, ok := c.Variables.GetStr(name); ok {
		return v, nil
	}
	ectx := NewExecutionContext(contracts)
	ectx.BeginDispatch(nil, hash)
	return c.Invoke(name, args, CallOpts{External: true})
}

// ReadContractNamed is ReadContract for callers holding named string
// arguments, such as the query server's query-string parameters. Arguments
// are matched to the method's declared parameters by name and coerced
// through the usual lenient rules.
func (d *DVM) ReadContractNamed(ctx context.Context, hash ContractHash, name string, namedArgs map[string]string) (Value, error) {
	contracts, err := d.LoadContracts(ctx, []ContractHash{hash}, ^uint64(0))
	if err != nil {
		return nil, err
	}
	c, ok := contracts[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, hash.Hex())
	}
	if v, ok := c.Variables.GetStr(name); ok {
		return v, nil
	}
	m, ok := c.Method(name)
	if !ok {
		return nil, fmt.Errorf("%w: no method %s", ErrForbiddenMethod, name)
	}
	args := make([]Value, 0, len(m.Params))
	for _, p := range m.Params {
		raw, ok := namedArgs[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing argument %s", ErrArgumentType, p.Name)
		}
		args = append(args, Str(raw))
	}
	ectx := NewExecutionContext(contracts)
	ectx.BeginDispatch(nil, hash)
	return c.Invoke(name, args, CallOpts{External: true})
}

// ContractSource returns the stored source of a deployed contract.
func (d *DVM) ContractSource(ctx context.Context, hash ContractHash) (string, error) {
	sources, err := d.store.GetContractSources(ctx, []ContractHash{hash})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	src, ok := sources[hash]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownContract, hash.Hex())
	}
	return src, nil
}
