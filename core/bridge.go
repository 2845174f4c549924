package core

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/cockroachdb/apd/v3"
	"github.com/dop251/goja"
)

// Conversions between codec Values and interpreter values, plus the live
// container views contract code mutates. Maps and lists read out of state
// are wrapped, not copied: writes through the wrapper land directly in the
// owning contract's variable map.

type decHandle struct{ D *apd.Decimal }

type eventHandle struct{ E *Event }

func newIntFromDecimalString(s string) (Int, bool) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int{}, false
	}
	return Int{b}, true
}

func (rt *contractRuntime) valueToJS(v Value) (goja.Value, error) {
	switch t := v.(type) {
	case Str:
		return rt.vm.ToValue(string(t)), nil
	case Bool:
		return rt.vm.ToValue(bool(t)), nil
	case Int:
		i64, ok := t.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s does not fit the interpreter's range", t.String())
		}
		return rt.vm.ToValue(i64), nil
	case Bytes:
		return rt.vm.ToValue(rt.vm.NewArrayBuffer(append([]byte(nil), t...))), nil
	case Dec:
		return rt.newDecimal(t.APD()), nil
	case *Map:
		o := rt.vm.NewDynamicObject(&mapView{rt: rt, m: t})
		rt.views[o] = t
		return o, nil
	case *List:
		o := rt.vm.NewDynamicArray(&listView{rt: rt, l: t})
		rt.views[o] = t
		return o, nil
	case *Tuple:
		o := rt.vm.NewDynamicArray(&tupleView{rt: rt, t: t})
		rt.views[o] = t
		return o, nil
	}
	return nil, fmt.Errorf("value kind %s cannot enter the interpreter", v.Kind())
}

// maxConvertDepth bounds value nesting across the interpreter boundary so a
// cyclic object graph surfaces as an execution error instead of exhausting
// the stack.
const maxConvertDepth = 64

func (rt *contractRuntime) jsToValue(v goja.Value) (Value, error) {
	return rt.jsToValueDepth(v, 0)
}

func (rt *contractRuntime) jsToValueDepth(v goja.Value, depth int) (Value, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nesting exceeds %d levels", maxConvertDepth)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("null is not a storable value")
	}
	if o, ok := v.(*goja.Object); ok {
		if wrapped, ok := rt.views[o]; ok {
			return wrapped, nil
		}
		if d := o.Get("_dec"); d != nil {
			if h, ok := d.Export().(decHandle); ok {
				return DecFromAPD(h.D), nil
			}
		}
		if e := o.Get("_ev"); e != nil {
			if _, ok := e.Export().(eventHandle); ok {
				return nil, fmt.Errorf("events are not storable values")
			}
		}
		switch exported := o.Export().(type) {
		case goja.ArrayBuffer:
			return Bytes(append([]byte(nil), exported.Bytes()...)), nil
		}
		if o.ClassName() == "Array" {
			n := int(o.Get("length").ToInteger())
			items := make([]Value, n)
			for i := 0; i < n; i++ {
				item, err := rt.jsToValueDepth(o.Get(strconv.Itoa(i)), depth+1)
				if err != nil {
					return nil, err
				}
				items[i] = item
			}
			return NewList(items...), nil
		}
		if _, isFn := goja.AssertFunction(o); isFn {
			return nil, fmt.Errorf("functions are not storable values")
		}
		m := NewMap()
		for _, key := range o.Keys() {
			val, err := rt.jsToValueDepth(o.Get(key), depth+1)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", key, err)
			}
			m.SetStr(key, val)
		}
		return m, nil
	}
	switch exported := v.Export().(type) {
	case string:
		return Str(exported), nil
	case bool:
		return Bool(exported), nil
	case int64:
		return NewInt(exported), nil
	case float64:
		if exported == math.Trunc(exported) && math.Abs(exported) < math.MaxInt64 {
			return NewInt(int64(exported)), nil
		}
		return nil, fmt.Errorf("non-integral number %v is not a storable value", exported)
	}
	return nil, fmt.Errorf("%s is not a storable value", v.ExportType())
}

// mustJS converts for contexts that cannot return an error (dynamic views).
func (rt *contractRuntime) mustJS(v Value) goja.Value {
	jv, err := rt.valueToJS(v)
	if err != nil {
		rt.throw(err)
	}
	return jv
}

// propertyName renders a map key as the property name contract code
// addresses it by.
func propertyName(v Value) string {
	switch t := v.(type) {
	case Str:
		return string(t)
	case Int:
		return t.String()
	case Bool:
		return strconv.FormatBool(bool(t))
	case Dec:
		return t.String()
	case Bytes:
		return hex.EncodeToString(t)
	}
	return canonicalKey(v)
}

//---------------------------------------------------------------------
// Live container views
//---------------------------------------------------------------------

type mapView struct {
	rt *contractRuntime
	m  *Map
}

func (v *mapView) Get(key string) goja.Value {
	for i := 0; i < v.m.Len(); i++ {
		k, val := v.m.Entry(i)
		if propertyName(k) == key {
			return v.rt.mustJS(val)
		}
	}
	return goja.Undefined()
}

func (v *mapView) Set(key string, val goja.Value) bool {
	gv, err := v.rt.jsToValue(val)
	if err != nil {
		v.rt.throw(fmt.Errorf("cannot write %s: %w", key, err))
	}
	for i := 0; i < v.m.Len(); i++ {
		k, _ := v.m.Entry(i)
		if propertyName(k) == key {
			v.m.Set(k, gv)
			return true
		}
	}
	v.m.Set(Str(key), gv)
	return true
}

func (v *mapView) Has(key string) bool {
	for i := 0; i < v.m.Len(); i++ {
		k, _ := v.m.Entry(i)
		if propertyName(k) == key {
			return true
		}
	}
	return false
}

func (v *mapView) Delete(key string) bool {
	for i := 0; i < v.m.Len(); i++ {
		k, _ := v.m.Entry(i)
		if propertyName(k) == key {
			return v.m.Delete(k)
		}
	}
	return true
}

func (v *mapView) Keys() []string {
	out := make([]string, 0, v.m.Len())
	for i := 0; i < v.m.Len(); i++ {
		k, _ := v.m.Entry(i)
		out = append(out, propertyName(k))
	}
	return out
}

type listView struct {
	rt *contractRuntime
	l  *List
}

func (v *listView) Len() int { return v.l.Len() }

func (v *listView) Get(i int) goja.Value {
	if i < 0 || i >= v.l.Len() {
		return goja.Undefined()
	}
	return v.rt.mustJS(v.l.At(i))
}

func (v *listView) Set(i int, val goja.Value) bool {
	gv, err := v.rt.jsToValue(val)
	if err != nil {
		v.rt.throw(fmt.Errorf("cannot write index %d: %w", i, err))
	}
	switch {
	case i >= 0 && i < v.l.Len():
		v.l.SetAt(i, gv)
	case i == v.l.Len():
		v.l.Append(gv)
	default:
		return false
	}
	return true
}

func (v *listView) SetLen(n int) bool {
	if n < 0 {
		return false
	}
	v.l.SetLen(n)
	return true
}

// tupleView is the read-only rendition of a fixed-length sequence.
type tupleView struct {
	rt *contractRuntime
	t  *Tuple
}

func (v *tupleView) Len() int { return v.t.Len() }

func (v *tupleView) Get(i int) goja.Value {
	if i < 0 || i >= v.t.Len() {
		return goja.Undefined()
	}
	return v.rt.mustJS(v.t.At(i))
}

func (v *tupleView) Set(int, goja.Value) bool { return false }

func (v *tupleView) SetLen(int) bool { return false }

//---------------------------------------------------------------------
// self — the contract instance seen by its own code
//---------------------------------------------------------------------

type selfView struct {
	rt *contractRuntime
}

func (v *selfView) Get(key string) goja.Value {
	rt := v.rt
	switch key {
	case "address":
		return rt.vm.ToValue(rt.c.Hash.Hex())
	case "transaction":
		if rt.c.ectx == nil || rt.c.ectx.Tx == nil {
			return goja.Undefined()
		}
		return rt.transactionObject(rt.c.ectx.Tx)
	}
	if _, ok := rt.c.methods[key]; ok {
		return rt.vm.ToValue(rt.selfCall(key))
	}
	if val, ok := rt.c.Variables.GetStr(key); ok {
		return rt.mustJS(val)
	}
	return goja.Undefined()
}

func (v *selfView) Set(key string, val goja.Value) bool {
	gv, err := v.rt.jsToValue(val)
	if err != nil {
		v.rt.throw(fmt.Errorf("cannot write %s: %w", key, err))
	}
	if err := v.rt.c.setVariable(key, gv); err != nil {
		v.rt.throw(err)
	}
	return true
}

func (v *selfView) Has(key string) bool {
	if key == "address" || key == "transaction" {
		return true
	}
	if _, ok := v.rt.c.methods[key]; ok {
		return true
	}
	_, ok := v.rt.c.Variables.GetStr(key)
	return ok
}

func (v *selfView) Delete(string) bool { return false }

func (v *selfView) Keys() []string {
	out := make([]string, 0, v.rt.c.Variables.Len())
	for i := 0; i < v.rt.c.Variables.Len(); i++ {
		k, _ := v.rt.c.Variables.Entry(i)
		if s, ok := k.(Str); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// selfCall wraps an own method for in-contract invocation. Internal calls
// supply every declared parameter explicitly; no sender is injected.
func (rt *contractRuntime) selfCall(name string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]Value, len(call.Arguments))
		for i, a := range call.Arguments {
			gv, err := rt.jsToValue(a)
			if err != nil {
				rt.throw(fmt.Errorf("argument %d of %s: %w", i+1, name, err))
			}
			args[i] = gv
		}
		res, err := rt.c.Invoke(name, args, CallOpts{})
		if err != nil {
			rt.throw(err)
		}
		if res == nil {
			return goja.Undefined()
		}
		return rt.mustJS(res)
	}
}

func (rt *contractRuntime) transactionObject(tx *DVMTransaction) goja.Value {
	o := rt.vm.NewObject()
	_ = o.Set("hash", tx.TxHash)
	outputs := make([]goja.Value, len(tx.Outputs))
	for i, out := range tx.Outputs {
		oo := rt.vm.NewObject()
		_ = oo.Set("address", string(out.Address))
		_ = oo.Set("amount", rt.newDecimal(out.Amount))
		outputs[i] = oo
	}
	_ = o.Set("outputs", outputs)
	return o
}

//---------------------------------------------------------------------
// Cross-contract handles
//---------------------------------------------------------------------

// handleView is the restricted handle returned by load_contract: the
// callee's exported methods plus its address, nothing else. Invocations set
// the callee's implicit caller to the calling contract's address.
type handleView struct {
	rt     *contractRuntime
	callee *Contract
}

func (v *handleView) Get(key string) goja.Value {
	if key == "address" {
		return v.rt.vm.ToValue(v.callee.Hash.Hex())
	}
	if key == "constructor" {
		return goja.Undefined()
	}
	m, ok := v.callee.Method(key)
	if !ok || !m.Exported {
		return goja.Undefined()
	}
	rt := v.rt
	callee := v.callee
	return rt.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		args := make([]Value, len(call.Arguments))
		for i, a := range call.Arguments {
			gv, err := rt.jsToValue(a)
			if err != nil {
				rt.throw(fmt.Errorf("argument %d of %s: %w", i+1, key, err))
			}
			args[i] = gv
		}
		caller := rt.c.Hash
		res, err := callee.Invoke(key, args, CallOpts{CallerContract: &caller, External: true})
		if err != nil {
			rt.throw(err)
		}
		if res == nil {
			return goja.Undefined()
		}
		return rt.mustJS(res)
	})
}

func (v *handleView) Set(string, goja.Value) bool { return false }

func (v *handleView) Has(key string) bool {
	if key == "address" {
		return true
	}
	if key == "constructor" {
		return false
	}
	m, ok := v.callee.Method(key)
	return ok && m.Exported
}

func (v *handleView) Delete(string) bool { return false }

func (v *handleView) Keys() []string {
	out := []string{"address"}
	for _, name := range v.callee.MethodNames() {
		if m, _ := v.callee.Method(name); m.Exported && name != "constructor" {
			out = append(out, name)
		}
	}
	return out
}

//---------------------------------------------------------------------
// Decimal and Event wrappers
//---------------------------------------------------------------------

func (rt *contractRuntime) toDecimalArg(v goja.Value) *apd.Decimal {
	if o, ok := v.(*goja.Object); ok {
		if d := o.Get("_dec"); d != nil {
			if h, ok := d.Export().(decHandle); ok {
				return h.D
			}
		}
		rt.throw(fmt.Errorf("cannot convert object to decimal"))
	}
	switch exported := v.Export().(type) {
	case string:
		d, err := parseDecimal(exported)
		if err != nil {
			rt.throw(err)
		}
		return d
	case int64:
		return apd.New(exported, 0)
	case float64:
		if exported == math.Trunc(exported) && math.Abs(exported) < math.MaxInt64 {
			return apd.New(int64(exported), 0)
		}
	}
	rt.throw(fmt.Errorf("cannot convert %s to decimal", v.ExportType()))
	return nil
}

// newDecimal wraps an immutable decimal for contract code. Arithmetic goes
// through the engine-wide 28-digit context.
func (rt *contractRuntime) newDecimal(d *apd.Decimal) *goja.Object {
	val := new(apd.Decimal)
	if d != nil {
		val.Set(d)
	}
	o := rt.vm.NewObject()
	_ = o.Set("_dec", rt.vm.ToValue(decHandle{D: val}))

	binary := func(op func(res, a, b *apd.Decimal) (apd.Condition, error)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			other := rt.toDecimalArg(call.Argument(0))
			res := new(apd.Decimal)
			if _, err := op(res, val, other); err != nil {
				rt.throw(err)
			}
			return rt.newDecimal(res)
		}
	}
	_ = o.Set("add", binary(decCtx.Add))
	_ = o.Set("sub", binary(decCtx.Sub))
	_ = o.Set("mul", binary(decCtx.Mul))
	_ = o.Set("div", binary(decCtx.Quo))

	cmp := func(v goja.Value) int { return val.Cmp(rt.toDecimalArg(v)) }
	_ = o.Set("cmp", func(call goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(cmp(call.Argument(0)))
	})
	_ = o.Set("lt", func(call goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(cmp(call.Argument(0)) < 0)
	})
	_ = o.Set("lte", func(call goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(cmp(call.Argument(0)) <= 0)
	})
	_ = o.Set("gt", func(call goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(cmp(call.Argument(0)) > 0)
	})
	_ = o.Set("gte", func(call goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(cmp(call.Argument(0)) >= 0)
	})
	_ = o.Set("eq", func(call goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(cmp(call.Argument(0)) == 0)
	})
	_ = o.Set("neg", func(goja.FunctionCall) goja.Value {
		res := new(apd.Decimal).Neg(val)
		return rt.newDecimal(res)
	})
	_ = o.Set("isZero", func(goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(val.IsZero())
	})
	_ = o.Set("isNegative", func(goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(val.Negative && !val.IsZero())
	})
	_ = o.Set("toString", func(goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(canonicalDecimalString(val))
	})
	return o
}

func (rt *contractRuntime) newEvent(ev *Event) *goja.Object {
	o := rt.vm.NewObject()
	_ = o.Set("_ev", rt.vm.ToValue(eventHandle{E: ev}))
	_ = o.Set("name", ev.Name)
	return o
}

func (rt *contractRuntime) eventArg(v goja.Value) *Event {
	if o, ok := v.(*goja.Object); ok {
		if e := o.Get("_ev"); e != nil {
			if h, ok := e.Export().(eventHandle); ok {
				return h.E
			}
		}
	}
	rt.throw(fmt.Errorf("you can only emit instances of Event"))
	return nil
}
