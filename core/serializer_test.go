package core

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"
)

func mustSerialize(t *testing.T, v Value) []byte {
	t.Helper()
	b, err := Serialize(v)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return b
}

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	out, err := Deserialize(mustSerialize(t, v))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	return out
}

func dec(t *testing.T, s string) Dec {
	t.Helper()
	d, err := ParseDec(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestSerializeRoundTrip(t *testing.T) {
	inner := NewMap()
	inner.Set(NewInt(7), Str("99"))
	m := NewMap()
	m.Set(Str("asd"), NewList(NewInt(2), NewTuple(NewInt(3), NewInt(6), inner)))
	m.Set(Str("a"), dec(t, "0.99999959834754397836892756"))

	cases := []Value{
		NewInt(0),
		NewInt(1),
		NewInt(-1),
		NewInt(255),
		NewInt(-256),
		IntFromBig(new(big.Int).Lsh(big.NewInt(1), 200)),
		IntFromBig(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 200))),
		Str(""),
		Str("hello, 世界"),
		Bool(true),
		Bool(false),
		Bytes{},
		Bytes{0x00, 0xff, 0x10},
		dec(t, "123.123232"),
		dec(t, "-42"),
		NewList(),
		NewTuple(),
		NewList(Str("x"), NewInt(1), Bool(true)),
		NewTuple(Str("x"), NewInt(1)),
		m,
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if !Equal(v, got) {
			t.Fatalf("round trip mismatch for %s: %#v != %#v", v.Kind(), v, got)
		}
		if got.Kind() != v.Kind() {
			t.Fatalf("kind not preserved: %s became %s", v.Kind(), got.Kind())
		}
	}
}

// The wire layout is fixed: this pins a handful of exact encodings.
func TestSerializeWireFormat(t *testing.T) {
	cases := []struct {
		v    Value
		want []byte
	}{
		{NewInt(0), []byte{0x01, 0x00, 0x00}},
		{NewInt(1), []byte{0x01, 0x02, 0x00, 0x01, 0x00}},
		{NewInt(-1), []byte{0x01, 0x02, 0x00, 0xff, 0xff}},
		{Bool(true), []byte{0x08, 0x01}},
		{Bool(false), []byte{0x08, 0x00}},
		{Str("ab"), []byte{0x02, 0x01, 0x02, 0x00, 0x02, 0x00, 'a', 'b'}},
		{Bytes{0xaa}, []byte{0x03, 0x01, 0x02, 0x00, 0x01, 0x00, 0xaa}},
	}
	for _, c := range cases {
		got := mustSerialize(t, c.v)
		if !bytes.Equal(got, c.want) {
			t.Fatalf("wire mismatch for %v: got %x want %x", c.v, got, c.want)
		}
	}
}

func TestSerializeMapPreservesOrder(t *testing.T) {
	m := NewMap()
	m.Set(Str("z"), NewInt(1))
	m.Set(Str("a"), NewInt(2))
	m.Set(NewInt(5), Str("five"))

	out := roundTrip(t, m).(*Map)
	keys := out.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[0] != Str("z") || keys[1] != Str("a") || !Equal(keys[2], NewInt(5)) {
		t.Fatalf("iteration order not preserved: %#v", keys)
	}
}

func TestSerializeTupleListDistinct(t *testing.T) {
	l := NewList(NewInt(1), NewInt(2))
	tu := NewTuple(NewInt(1), NewInt(2))
	lb := mustSerialize(t, l)
	tb := mustSerialize(t, tu)
	if bytes.Equal(lb, tb) {
		t.Fatal("list and tuple must encode with distinct tags")
	}
	if _, ok := roundTrip(t, l).(*List); !ok {
		t.Fatal("list did not decode as list")
	}
	if _, ok := roundTrip(t, tu).(*Tuple); !ok {
		t.Fatal("tuple did not decode as tuple")
	}
	if Equal(l, tu) {
		t.Fatal("list must not equal tuple")
	}
}

func TestSerializeDecimalNormalization(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"2.500", "2.5"},
		{"2.000", "2.0"},
		{"100", "100.0"},
		{"-3", "-3.0"},
		{"0", "0.0"},
		{"0.1230", "0.123"},
	}
	for _, c := range cases {
		got := roundTrip(t, dec(t, c.in)).(Dec)
		if got.String() != c.want {
			t.Fatalf("normalize %q: got %q want %q", c.in, got.String(), c.want)
		}
		if !Equal(got, dec(t, c.in)) {
			t.Fatalf("normalized %q no longer equals original numerically", c.in)
		}
	}
}

func TestSerializeDecimalPrecisionLimit(t *testing.T) {
	ok := dec(t, "0."+strings.Repeat("1", 28))
	if _, err := Serialize(ok); err != nil {
		t.Fatalf("28 digits must encode: %v", err)
	}
	over := dec(t, "0."+strings.Repeat("1", 29))
	if _, err := Serialize(over); err == nil {
		t.Fatal("29 significant digits must be rejected at encode time")
	}
}

func TestDeserializeErrors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"invalid tag", []byte{0x64, 0x00}},
		{"empty", nil},
		{"truncated int", []byte{0x01, 0x04, 0x00, 0x01}},
		{"truncated string", []byte{0x02, 0x01, 0x02, 0x00, 0x05, 0x00, 'a'}},
		{"oversized length", []byte{0x02, 0x01, 0x02, 0x00, 0xff, 0x7f}},
		{"bad utf8", append([]byte{0x02, 0x01, 0x02, 0x00, 0x01, 0x00}, 0xff)},
		{"bad decimal", []byte{0x04, 0x01, 0x02, 0x00, 0x01, 0x00, 'x'}},
	}
	for _, c := range cases {
		if _, err := Deserialize(c.data); err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}
	if _, err := Deserialize([]byte{0x64}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("invalid tag must yield ErrInvalidType, got %v", err)
	}
}

func TestSerializeIntLengthRule(t *testing.T) {
	// length is ceil(bit_length/8)*2: 255 needs one byte, encodes with two.
	got := mustSerialize(t, NewInt(255))
	want := []byte{0x01, 0x02, 0x00, 0xff, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
	// 256 crosses into nine bits, so four bytes.
	got = mustSerialize(t, NewInt(256))
	want = []byte{0x01, 0x04, 0x00, 0x00, 0x01, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func FuzzDeserialize(f *testing.F) {
	seeds := [][]byte{
		{0x01, 0x00, 0x00},
		{0x08, 0x01},
		{0x02, 0x01, 0x02, 0x00, 0x02, 0x00, 'a', 'b'},
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := Deserialize(data)
		if err != nil {
			return
		}
		enc, err := Serialize(v)
		if err != nil {
			return
		}
		again, err := Deserialize(enc)
		if err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
		if !Equal(v, again) {
			t.Fatalf("unstable round trip: %#v != %#v", v, again)
		}
	})
}
