package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"unicode/utf8"
)

// Self-describing binary codec for Values. One byte identifies the type tag,
// followed by a tag-specific payload; strings, bytes, decimals and
// collections prefix their length with a recursively encoded integer. Both
// directions stream from a cursor with no seeks or look-ahead.

// ErrInvalidType is returned when a decoder hits an unrecognized type tag.
// The payload framing layer relies on it to detect bare single records.
var ErrInvalidType = errors.New("invalid serialized type")

// maxEncodedLen caps string, bytes and decimal payload lengths.
const maxEncodedLen = 1<<32 - 1

// Serialize encodes a value into its self-describing binary form.
func Serialize(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a single value from data, ignoring any trailing bytes.
func Deserialize(data []byte) (Value, error) {
	return decodeValue(bytes.NewReader(data))
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	if v == nil {
		return fmt.Errorf("cannot serialize nil value")
	}
	buf.WriteByte(byte(v.Kind()))
	switch t := v.(type) {
	case Bool:
		if t {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case Int:
		return encodeIntBody(buf, t.big())
	case Str:
		if len(t) > maxEncodedLen {
			return fmt.Errorf("string length cannot be larger than 2^32-1")
		}
		if err := encodeValue(buf, NewInt(int64(len(t)))); err != nil {
			return err
		}
		buf.WriteString(string(t))
	case Bytes:
		if len(t) > maxEncodedLen {
			return fmt.Errorf("bytes length cannot be larger than 2^32-1")
		}
		if err := encodeValue(buf, NewInt(int64(len(t)))); err != nil {
			return err
		}
		buf.Write(t)
	case Dec:
		if n := decimalDigits(t.apd()); n > MaxDecimalDigits {
			return fmt.Errorf("decimal precision %d exceeds %d significant digits", n, MaxDecimalDigits)
		}
		s := canonicalDecimalString(t.apd())
		if err := encodeValue(buf, NewInt(int64(len(s)))); err != nil {
			return err
		}
		buf.WriteString(s)
	case *Map:
		if err := encodeValue(buf, NewInt(int64(t.Len()))); err != nil {
			return err
		}
		for i := 0; i < t.Len(); i++ {
			k, val := t.Entry(i)
			if err := encodeValue(buf, k); err != nil {
				return err
			}
			if err := encodeValue(buf, val); err != nil {
				return err
			}
		}
	case *List:
		if err := encodeValue(buf, NewInt(int64(t.Len()))); err != nil {
			return err
		}
		for _, item := range t.Items() {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
	case *Tuple:
		if err := encodeValue(buf, NewInt(int64(t.Len()))); err != nil {
			return err
		}
		for _, item := range t.Items() {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("type %T is unsupported", v)
	}
	return nil
}

// encodeIntBody writes the little-endian two's-complement body. The byte
// length is ceil(bit_length/8)*2, always even, so every magnitude carries at
// least one full spare byte of sign extension; zero encodes empty.
func encodeIntBody(buf *bytes.Buffer, v *big.Int) error {
	length := (v.BitLen() + 7) / 8 * 2
	if length > 0xffff {
		return fmt.Errorf("integer too large to serialize")
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(length))
	buf.Write(hdr[:])
	if length == 0 {
		return nil
	}
	t := new(big.Int)
	if v.Sign() < 0 {
		t.Lsh(big.NewInt(1), uint(8*length))
		t.Add(t, v)
	} else {
		t.Set(v)
	}
	be := t.Bytes()
	le := make([]byte, length)
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	buf.Write(le)
	return nil
}

func decodeValue(r *bytes.Reader) (Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing type tag", ErrInvalidType)
	}
	k := Kind(tag)
	if k < KindInt || k > KindBool {
		return nil, ErrInvalidType
	}
	switch k {
	case KindBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, truncated(err)
		}
		return Bool(b != 0), nil
	case KindInt:
		return decodeIntBody(r)
	case KindStr:
		raw, err := decodeSized(r)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("serialized string is not valid UTF-8")
		}
		return Str(raw), nil
	case KindBytes:
		raw, err := decodeSized(r)
		if err != nil {
			return nil, err
		}
		return Bytes(raw), nil
	case KindDecimal:
		raw, err := decodeSized(r)
		if err != nil {
			return nil, err
		}
		d, err := parseDecimal(string(raw))
		if err != nil {
			return nil, err
		}
		return Dec{d}, nil
	case KindMap:
		n, err := decodeCount(r)
		if err != nil {
			return nil, err
		}
		m := NewMap()
		for i := 0; i < n; i++ {
			key, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			val, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			m.Set(key, val)
		}
		return m, nil
	case KindList:
		n, err := decodeCount(r)
		if err != nil {
			return nil, err
		}
		items := make([]Value, n)
		for i := 0; i < n; i++ {
			if items[i], err = decodeValue(r); err != nil {
				return nil, err
			}
		}
		return NewList(items...), nil
	case KindTuple:
		n, err := decodeCount(r)
		if err != nil {
			return nil, err
		}
		items := make([]Value, n)
		for i := 0; i < n; i++ {
			if items[i], err = decodeValue(r); err != nil {
				return nil, err
			}
		}
		return NewTuple(items...), nil
	}
	return nil, ErrInvalidType
}

func decodeIntBody(r *bytes.Reader) (Value, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, truncated(err)
	}
	length := int(binary.LittleEndian.Uint16(hdr[:]))
	if length == 0 {
		return NewInt(0), nil
	}
	le := make([]byte, length)
	if _, err := io.ReadFull(r, le); err != nil {
		return nil, truncated(err)
	}
	be := make([]byte, length)
	for i, b := range le {
		be[length-1-i] = b
	}
	v := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		bound := new(big.Int).Lsh(big.NewInt(1), uint(8*length))
		v.Sub(v, bound)
	}
	return Int{v}, nil
}

// decodeCount reads a recursively encoded collection count.
func decodeCount(r *bytes.Reader) (int, error) {
	v, err := decodeValue(r)
	if err != nil {
		return 0, err
	}
	n, ok := v.(Int)
	if !ok {
		return 0, fmt.Errorf("serialized length must be an integer, got %s", v.Kind())
	}
	i64, fits := n.Int64()
	if !fits || i64 < 0 || i64 > maxEncodedLen {
		return 0, fmt.Errorf("serialized length %s out of range", n.String())
	}
	// Length fields larger than the remaining buffer are rejected before any
	// allocation.
	if i64 > int64(r.Len()) {
		return 0, fmt.Errorf("serialized length %d exceeds remaining %d bytes", i64, r.Len())
	}
	return int(i64), nil
}

func decodeSized(r *bytes.Reader) ([]byte, error) {
	n, err := decodeCount(r)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, truncated(err)
	}
	return raw, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("truncated serialized value")
	}
	return err
}
