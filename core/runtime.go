package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultMethodTimeout is the wall-clock budget for a single method
// invocation when none is configured.
const DefaultMethodTimeout = 10 * time.Millisecond

type jsCallable = goja.Callable

// Host compiles contract source into isolated execution contexts and
// enforces the per-call wall-clock budget. Contract code runs inside a goja
// interpreter that exposes exactly the whitelisted primitives and nothing
// else: no host I/O, no reflection, no clock, no randomness.
type Host struct {
	Timeout time.Duration
}

func NewHost(timeout time.Duration) *Host {
	if timeout <= 0 {
		timeout = DefaultMethodTimeout
	}
	return &Host{Timeout: timeout}
}

// contractRuntime is the per-contract evaluation context. Each contract owns
// its own interpreter; values cross between contracts only through the host,
// as codec Values.
type contractRuntime struct {
	host *Host
	vm   *goja.Runtime
	c    *Contract

	deployed *goja.Object

	// views maps live wrapper objects back to the Values they wrap, so
	// assigning a state container to another slot aliases instead of
	// re-copying.
	views map[*goja.Object]Value
}

// Compile evaluates the contract source in a fresh isolated context and
// populates the contract's method table from the single Contract.deploy call
// the source must make.
func (h *Host) Compile(c *Contract, source string) error {
	rt := &contractRuntime{
		host:  h,
		vm:    goja.New(),
		c:     c,
		views: make(map[*goja.Object]Value),
	}
	rt.installGlobals()

	prg, err := goja.Compile(fmt.Sprintf("contract <%s>", c.Hash.Hex()), source, true)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if _, err := rt.run(func() (goja.Value, error) { return rt.vm.RunProgram(prg) }); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if rt.deployed == nil {
		return fmt.Errorf("source deploys no contract")
	}
	if err := rt.buildMethodTable(); err != nil {
		return err
	}
	c.Source = source
	c.rt = rt
	return nil
}

// run executes fn under the wall-clock budget, translating interrupts and
// thrown values into execution errors.
func (rt *contractRuntime) run(fn func() (goja.Value, error)) (goja.Value, error) {
	timer := time.AfterFunc(rt.host.Timeout, func() {
		rt.vm.Interrupt("wall-clock budget exceeded")
	})
	defer timer.Stop()
	defer rt.vm.ClearInterrupt()

	res, err := fn()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: method timed out after %s", ErrExecution, rt.host.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	return res, nil
}

func (rt *contractRuntime) installGlobals() {
	vm := rt.vm

	// Determinism: no clock, no randomness.
	_ = vm.Set("Date", goja.Undefined())
	if m, ok := vm.Get("Math").(*goja.Object); ok {
		_ = m.Set("random", goja.Undefined())
	}

	_ = vm.Set("self", vm.NewDynamicObject(&selfView{rt: rt}))

	contractObj := vm.NewObject()
	_ = contractObj.Set("deploy", func(call goja.FunctionCall) goja.Value {
		if rt.deployed != nil {
			rt.throw(fmt.Errorf("cannot deploy: already deployed"))
		}
		o, ok := call.Argument(0).(*goja.Object)
		if !ok {
			rt.throw(fmt.Errorf("cannot deploy: argument must be a method table"))
		}
		rt.deployed = o
		return goja.Undefined()
	})
	_ = vm.Set("Contract", contractObj)

	// "private" is a strict-mode reserved word, so the non-exported wrapper
	// is named internal.
	_ = vm.Set("exported", rt.methodDescriptor(true))
	_ = vm.Set("internal", rt.methodDescriptor(false))

	_ = vm.Set("Decimal", func(call goja.FunctionCall) goja.Value {
		return rt.newDecimal(rt.toDecimalArg(call.Argument(0)))
	})

	_ = vm.Set("Event", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fields := NewMap()
		if o, ok := call.Argument(1).(*goja.Object); ok {
			for _, key := range o.Keys() {
				v, err := rt.jsToValue(o.Get(key))
				if err != nil {
					rt.throw(fmt.Errorf("event field %s: %w", key, err))
				}
				fields.SetStr(key, v)
			}
		}
		return rt.newEvent(&Event{Name: name, Fields: fields})
	})

	_ = vm.Set("emit", func(call goja.FunctionCall) goja.Value {
		ev := rt.eventArg(call.Argument(0))
		rt.requireContext().Emit(ev)
		return goja.Undefined()
	})

	_ = vm.Set("load_contract", func(call goja.FunctionCall) goja.Value {
		hash, err := ParseContractHash(call.Argument(0).String())
		if err != nil {
			rt.throw(err)
		}
		ectx := rt.requireContext()
		callee, ok := ectx.Contracts[hash]
		if !ok {
			rt.throw(fmt.Errorf("contract <%s> must be present in the working set", hash.Hex()))
		}
		if err := ectx.EnterInstance(hash); err != nil {
			rt.throw(err)
		}
		return vm.NewDynamicObject(&handleView{rt: rt, callee: callee})
	})

	_ = vm.Set("assert", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			msg := "assertion failed"
			if arg := call.Argument(1); !goja.IsUndefined(arg) {
				msg = arg.String()
			}
			rt.throw(errors.New(msg))
		}
		return goja.Undefined()
	})
}

// methodDescriptor builds the exported/private wrapper: it packages a
// parameter signature and a function body into a descriptor consumed by
// Contract.deploy.
func (rt *contractRuntime) methodDescriptor(exported bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		params := call.Argument(0)
		if !goja.IsUndefined(params) {
			if _, ok := params.(*goja.Object); !ok {
				rt.throw(fmt.Errorf("method signature must be an object"))
			}
		}
		if _, ok := goja.AssertFunction(call.Argument(1)); !ok {
			rt.throw(fmt.Errorf("method body must be a function"))
		}
		o := rt.vm.NewObject()
		_ = o.Set("__dvm_method__", exported)
		_ = o.Set("params", params)
		_ = o.Set("fn", call.Argument(1))
		return o
	}
}

func (rt *contractRuntime) buildMethodTable() error {
	for _, name := range rt.deployed.Keys() {
		desc, ok := rt.deployed.Get(name).(*goja.Object)
		if !ok {
			return fmt.Errorf("method %s must be declared with exported() or internal()", name)
		}
		marker := desc.Get("__dvm_method__")
		if marker == nil || goja.IsUndefined(marker) {
			return fmt.Errorf("method %s must be declared with exported() or internal()", name)
		}
		fnVal := desc.Get("fn")
		if fnVal == nil {
			return fmt.Errorf("method %s has no body", name)
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return fmt.Errorf("method %s has no body", name)
		}
		var params []Param
		if po, ok := desc.Get("params").(*goja.Object); ok {
			for _, pname := range po.Keys() {
				kindName := po.Get(pname).String()
				kind, ok := KindFromName(kindName)
				if !ok {
					return fmt.Errorf("method %s parameter %s has unknown type %q", name, pname, kindName)
				}
				params = append(params, Param{Name: pname, Kind: kind})
			}
		}
		m := &Method{
			Name:     name,
			Params:   params,
			Exported: marker.ToBoolean(),
			fn:       fn,
		}
		if err := rt.c.addMethod(m); err != nil {
			return err
		}
	}
	return nil
}

func (rt *contractRuntime) requireContext() *ExecutionContext {
	if rt.c.ectx == nil {
		rt.throw(fmt.Errorf("no execution context bound"))
	}
	return rt.c.ectx
}

// throw raises a JS exception from native code.
func (rt *contractRuntime) throw(err error) {
	panic(rt.vm.NewGoError(err))
}

// CallOpts carries the caller identity for a method invocation.
type CallOpts struct {
	// Sender is the external account on whose behalf the driver dispatches.
	Sender Address
	// HasSender distinguishes an empty sender from an absent one.
	HasSender bool
	// CallerContract is set when the call arrives through a cross-contract
	// handle; it takes the sender slot, lifted to an Address.
	CallerContract *ContractHash
	// External restricts the call to exported methods.
	External bool
}

// Invoke runs a method under the host's wall-clock budget, applying the
// sender convention and the lenient argument coercions. The contract must
// have been compiled and bound to an execution context.
func (c *Contract) Invoke(name string, args []Value, opts CallOpts) (Value, error) {
	if c.rt == nil {
		return nil, fmt.Errorf("%w: contract %s is not compiled", ErrExecution, c.Hash.Hex())
	}
	m, ok := c.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: no method %s", ErrForbiddenMethod, name)
	}
	if opts.External && !m.Exported {
		return nil, fmt.Errorf("%w: method %s is not exported", ErrForbiddenMethod, name)
	}

	full := args
	if m.wantsSender() {
		switch {
		case opts.CallerContract != nil:
			full = append([]Value{Str(opts.CallerContract.Address())}, args...)
		case opts.HasSender:
			full = append([]Value{Str(opts.Sender)}, args...)
		case len(args) == len(m.Params):
			// Trusted in-contract callers supply the sender explicitly.
		default:
			return nil, fmt.Errorf("%w: sender has not been passed", ErrArgumentType)
		}
	}
	if len(full) != len(m.Params) {
		return nil, fmt.Errorf("%w: method %s takes %d arguments, got %d",
			ErrArgumentType, name, len(m.Params), len(full))
	}

	jsArgs := make([]goja.Value, len(full))
	for i, arg := range full {
		coerced, err := coerceArg(arg, m.Params[i])
		if err != nil {
			return nil, err
		}
		jv, err := c.rt.valueToJS(coerced)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrExecution, i+1, err)
		}
		jsArgs[i] = jv
	}

	ectx := c.ectx
	if ectx == nil {
		return nil, fmt.Errorf("%w: contract %s has no execution context", ErrExecution, c.Hash.Hex())
	}
	prev := ectx.Current
	ectx.Current = c.Hash
	defer func() { ectx.Current = prev }()

	res, err := c.rt.run(func() (goja.Value, error) {
		return m.fn(goja.Undefined(), jsArgs...)
	})
	if err != nil {
		return nil, err
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	out, err := c.rt.jsToValue(res)
	if err != nil {
		return nil, fmt.Errorf("%w: method %s returned an unsupported value: %v", ErrExecution, name, err)
	}
	return out, nil
}

// coerceArg applies the two lenient coercions before the declared-type
// check: a string argument declared decimal is parsed as decimal, and one
// declared integer is parsed as a decimal integer.
func coerceArg(v Value, p Param) (Value, error) {
	if s, ok := v.(Str); ok {
		switch p.Kind {
		case KindDecimal:
			d, err := ParseDec(string(s))
			if err != nil {
				return nil, fmt.Errorf("%w: parameter %s: %v", ErrArgumentType, p.Name, err)
			}
			return d, nil
		case KindInt:
			i, ok := newIntFromDecimalString(string(s))
			if !ok {
				return nil, fmt.Errorf("%w: parameter %s: %q is not an integer", ErrArgumentType, p.Name, s)
			}
			return i, nil
		}
	}
	if v.Kind() != p.Kind {
		return nil, fmt.Errorf("%w: parameter %s must be %s, not %s",
			ErrArgumentType, p.Name, p.Kind, v.Kind())
	}
	return v, nil
}
