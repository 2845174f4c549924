package core

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// ValueToInterface lowers a Value into plain Go data suitable for JSON
// rendering on the query surface: decimals and oversized integers become
// strings, bytes become hex, maps become objects keyed by property name.
func ValueToInterface(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Str:
		return string(t)
	case Bool:
		return bool(t)
	case Int:
		if i64, ok := t.Int64(); ok {
			return i64
		}
		return t.String()
	case Bytes:
		return hex.EncodeToString(t)
	case Dec:
		return t.String()
	case *Map:
		out := make(map[string]any, t.Len())
		for i := 0; i < t.Len(); i++ {
			k, val := t.Entry(i)
			out[propertyName(k)] = ValueToInterface(val)
		}
		return out
	case *List:
		out := make([]any, t.Len())
		for i, item := range t.Items() {
			out[i] = ValueToInterface(item)
		}
		return out
	case *Tuple:
		out := make([]any, t.Len())
		for i, item := range t.Items() {
			out[i] = ValueToInterface(item)
		}
		return out
	}
	return nil
}

// ValueFromJSON parses JSON into a Value, preserving object member order.
// Integral numbers become integers, fractional ones decimals; null has no
// Value counterpart and is rejected.
func ValueFromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key must be a string")
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				m.SetStr(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			l := NewList()
			for dec.More() {
				item, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				l.Append(item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return l, nil
		}
		return nil, fmt.Errorf("unexpected JSON delimiter %v", t)
	case string:
		return Str(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if b, ok := new(big.Int).SetString(t.String(), 10); ok {
			return Int{b}, nil
		}
		d, err := ParseDec(t.String())
		if err != nil {
			return nil, err
		}
		return d, nil
	case nil:
		return nil, fmt.Errorf("null has no value representation")
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// TupleFromJSONArgs parses a JSON argument list into the tuple a call
// record carries.
func TupleFromJSONArgs(data []byte) (*Tuple, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewTuple(), nil
	}
	v, err := ValueFromJSON(data)
	if err != nil {
		return nil, err
	}
	l, ok := v.(*List)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON array, got %s", v.Kind())
	}
	return NewTuple(l.Items()...), nil
}
