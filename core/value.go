package core

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Kind identifies one of the eight wire-stable value types understood by the
// serializer. The numeric values are part of the wire format and must not be
// reordered.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindStr
	KindBytes
	KindDecimal
	KindMap
	KindList
	KindTuple
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindStr:
		return "str"
	case KindBytes:
		return "bytes"
	case KindDecimal:
		return "decimal"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindBool:
		return "bool"
	}
	return "invalid"
}

// KindFromName resolves a method signature kind string ("int", "str", ...).
func KindFromName(name string) (Kind, bool) {
	for k := KindInt; k <= KindBool; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return KindInvalid, false
}

// Value is the tagged sum over every type a contract variable, method
// argument or event field can hold. Values are recursively composable.
type Value interface {
	Kind() Kind
	// Copy returns a deep copy sharing no mutable state with the receiver.
	Copy() Value
}

// Int is a signed integer of arbitrary width.
type Int struct{ b *big.Int }

func NewInt(v int64) Int { return Int{big.NewInt(v)} }
func IntFromBig(b *big.Int) Int { return Int{new(big.Int).Set(b)} }
func (i Int) Kind() Kind { return KindInt }
func (i Int) Copy() Value { return Int{new(big.Int).Set(i.big())} }
func (i Int) Big() *big.Int { return new(big.Int).Set(i.big()) }
func (i Int) Int64() (int64, bool) { return i.big().Int64(), i.big().IsInt64() }
func (i Int) String() string { return i.big().String() }

func (i Int) big() *big.Int {
	if i.b == nil {
		return new(big.Int)
	}
	return i.b
}

// Str is a UTF-8 string.
type Str string

func (s Str) Kind() Kind { return KindStr }
func (s Str) Copy() Value { return s }

// Bool is a boolean.
type Bool bool

func (b Bool) Kind() Kind { return KindBool }
func (b Bool) Copy() Value { return b }

// Bytes is a raw byte string.
type Bytes []byte

func (b Bytes) Kind() Kind { return KindBytes }
func (b Bytes) Copy() Value { return Bytes(append([]byte(nil), b...)) }

// Dec is an arbitrary-precision base-10 decimal, bounded at 28 significant
// digits by the codec.
type Dec struct{ d *apd.Decimal }

func DecFromAPD(d *apd.Decimal) Dec { return Dec{new(apd.Decimal).Set(d)} }

// ParseDec parses a decimal literal.
func ParseDec(s string) (Dec, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return Dec{}, err
	}
	return Dec{d}, nil
}

func (d Dec) Kind() Kind { return KindDecimal }
func (d Dec) Copy() Value { return Dec{new(apd.Decimal).Set(d.apd())} }

// APD returns the underlying decimal. Callers must not mutate it.
func (d Dec) APD() *apd.Decimal { return d.apd() }

func (d Dec) String() string { return canonicalDecimalString(d.apd()) }

func (d Dec) apd() *apd.Decimal {
	if d.d == nil {
		return new(apd.Decimal)
	}
	return d.d
}

// Map is a mapping from Value to Value preserving insertion order.
type Map struct {
	keys  []Value
	vals  []Value
	index map[string]int
}

func NewMap() *Map { return &Map{index: make(map[string]int)} }

func (m *Map) Kind() Kind { return KindMap }

func (m *Map) Copy() Value {
	out := NewMap()
	for i, k := range m.keys {
		out.Set(k.Copy(), m.vals[i].Copy())
	}
	return out
}

func (m *Map) Len() int { return len(m.keys) }

// Set inserts or replaces the entry for key, keeping the original insertion
// position on replacement.
func (m *Map) Set(key, val Value) {
	ck := canonicalKey(key)
	if i, ok := m.index[ck]; ok {
		m.vals[i] = val
		return
	}
	m.index[ck] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
}

func (m *Map) Get(key Value) (Value, bool) {
	i, ok := m.index[canonicalKey(key)]
	if !ok {
		return nil, false
	}
	return m.vals[i], true
}

func (m *Map) Delete(key Value) bool {
	ck := canonicalKey(key)
	i, ok := m.index[ck]
	if !ok {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, ck)
	for k, j := range m.index {
		if j > i {
			m.index[k] = j - 1
		}
	}
	return true
}

// Entry returns the i-th key/value pair in insertion order.
func (m *Map) Entry(i int) (Value, Value) { return m.keys[i], m.vals[i] }

func (m *Map) Keys() []Value { return append([]Value(nil), m.keys...) }

// GetStr is a convenience accessor for string-keyed maps such as contract
// variable maps.
func (m *Map) GetStr(key string) (Value, bool) { return m.Get(Str(key)) }

func (m *Map) SetStr(key string, val Value) { m.Set(Str(key), val) }

// List is an ordered, mutable sequence.
type List struct{ items []Value }

func NewList(items ...Value) *List { return &List{items: items} }

func (l *List) Kind() Kind { return KindList }

func (l *List) Copy() Value {
	out := make([]Value, len(l.items))
	for i, v := range l.items {
		out[i] = v.Copy()
	}
	return &List{items: out}
}

func (l *List) Len() int { return len(l.items) }
func (l *List) At(i int) Value { return l.items[i] }
func (l *List) SetAt(i int, v Value) { l.items[i] = v }
func (l *List) Append(v Value) { l.items = append(l.items, v) }
func (l *List) Items() []Value { return l.items }
func (l *List) SetLen(n int) {
	for len(l.items) < n {
		l.items = append(l.items, Bool(false))
	}
	l.items = l.items[:n]
}

// Tuple is a fixed-length sequence. It shares the List layout but keeps its
// own wire tag so round trips preserve which variant was used.
type Tuple struct{ items []Value }

func NewTuple(items ...Value) *Tuple { return &Tuple{items: items} }

func (t *Tuple) Kind() Kind { return KindTuple }

func (t *Tuple) Copy() Value {
	out := make([]Value, len(t.items))
	for i, v := range t.items {
		out[i] = v.Copy()
	}
	return &Tuple{items: out}
}

func (t *Tuple) Len() int { return len(t.items) }
func (t *Tuple) At(i int) Value { return t.items[i] }
func (t *Tuple) Items() []Value { return t.items }

// Equal reports deep equality between two values. Integers and decimals
// compare numerically, maps compare without regard to insertion order, and
// lists never equal tuples.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Int:
		return av.big().Cmp(b.(Int).big()) == 0
	case Str:
		return av == b.(Str)
	case Bool:
		return av == b.(Bool)
	case Bytes:
		bv := b.(Bytes)
		return string(av) == string(bv)
	case Dec:
		return av.apd().Cmp(b.(Dec).apd()) == 0
	case *Map:
		bv := b.(*Map)
		if av.Len() != bv.Len() {
			return false
		}
		for i := range av.keys {
			other, ok := bv.Get(av.keys[i])
			if !ok || !Equal(av.vals[i], other) {
				return false
			}
		}
		return true
	case *List:
		bv := b.(*List)
		if av.Len() != bv.Len() {
			return false
		}
		for i := range av.items {
			if !Equal(av.items[i], bv.items[i]) {
				return false
			}
		}
		return true
	case *Tuple:
		bv := b.(*Tuple)
		if av.Len() != bv.Len() {
			return false
		}
		for i := range av.items {
			if !Equal(av.items[i], bv.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// canonicalKey renders a value as a deterministic string usable as a Go map
// key. It is injective across kinds via the leading tag.
func canonicalKey(v Value) string {
	var sb strings.Builder
	writeCanonicalKey(&sb, v)
	return sb.String()
}

func writeCanonicalKey(sb *strings.Builder, v Value) {
	sb.WriteByte(byte(v.Kind()))
	switch t := v.(type) {
	case Int:
		sb.WriteString(t.String())
	case Str:
		sb.WriteString(string(t))
	case Bool:
		if t {
			sb.WriteByte(1)
		} else {
			sb.WriteByte(0)
		}
	case Bytes:
		sb.WriteString(hex.EncodeToString(t))
	case Dec:
		sb.WriteString(t.String())
	case *Map:
		for i := range t.keys {
			writeCanonicalKey(sb, t.keys[i])
			writeCanonicalKey(sb, t.vals[i])
		}
	case *List:
		for _, it := range t.items {
			writeCanonicalKey(sb, it)
		}
	case *Tuple:
		for _, it := range t.items {
			writeCanonicalKey(sb, it)
		}
	}
	sb.WriteByte(0)
}
