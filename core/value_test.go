package core

import (
	"testing"
)

func TestMapInsertionSemantics(t *testing.T) {
	m := NewMap()
	m.Set(Str("a"), NewInt(1))
	m.Set(Str("b"), NewInt(2))
	m.Set(Str("a"), NewInt(3))
	if m.Len() != 2 {
		t.Fatalf("replacement must not grow the map, len=%d", m.Len())
	}
	k, v := m.Entry(0)
	if k != Str("a") || !Equal(v, NewInt(3)) {
		t.Fatalf("replaced entry lost its position: %v=%v", k, v)
	}
	if !m.Delete(Str("a")) {
		t.Fatal("delete failed")
	}
	if _, ok := m.GetStr("a"); ok {
		t.Fatal("deleted key still present")
	}
	if v, ok := m.GetStr("b"); !ok || !Equal(v, NewInt(2)) {
		t.Fatal("remaining key lost after delete")
	}
}

func TestMapNonStringKeys(t *testing.T) {
	m := NewMap()
	m.Set(NewInt(1), Str("one"))
	m.Set(dec(t, "1.5"), Str("one and a half"))
	m.Set(Bytes{0x01}, Str("raw"))
	if v, ok := m.Get(NewInt(1)); !ok || v != Str("one") {
		t.Fatal("int key lookup failed")
	}
	if v, ok := m.Get(dec(t, "1.50")); !ok || v != Str("one and a half") {
		t.Fatal("decimal keys must compare by canonical form")
	}
	if _, ok := m.Get(Str("1")); ok {
		t.Fatal("string key must not collide with int key")
	}
}

func TestEqualSemantics(t *testing.T) {
	if !Equal(dec(t, "100"), dec(t, "100.000")) {
		t.Fatal("decimal equality must ignore trailing zeroes")
	}
	if Equal(NewInt(1), dec(t, "1")) {
		t.Fatal("int and decimal are distinct kinds")
	}
	a := NewMap()
	a.Set(Str("x"), NewInt(1))
	a.Set(Str("y"), NewInt(2))
	b := NewMap()
	b.Set(Str("y"), NewInt(2))
	b.Set(Str("x"), NewInt(1))
	if !Equal(a, b) {
		t.Fatal("map equality must not depend on insertion order")
	}
}

func TestCopyIsDeep(t *testing.T) {
	inner := NewList(NewInt(1))
	m := NewMap()
	m.Set(Str("l"), inner)
	c := m.Copy().(*Map)
	inner.Append(NewInt(2))
	got, _ := c.GetStr("l")
	if got.(*List).Len() != 1 {
		t.Fatal("copy shares state with the original")
	}
}

func TestKindFromName(t *testing.T) {
	for _, name := range []string{"int", "str", "bytes", "decimal", "map", "list", "tuple", "bool"} {
		k, ok := KindFromName(name)
		if !ok || k.String() != name {
			t.Fatalf("kind %q did not round trip", name)
		}
	}
	if _, ok := KindFromName("float"); ok {
		t.Fatal("float is not a supported kind")
	}
}
