package heap

import (
	"testing"

	"mvm/value"
)

func TestToBoolTruthinessTable(t *testing.T) {
	h := newTestHeap(t)
	cases := []struct {
		v    value.Value
		want bool
	}{
		{value.Undefined, false},
		{value.Null, false},
		{value.False, false},
		{value.True, true},
		{value.NaN, false},
		{value.NegZero, false},
		{value.Deleted, false},
		{value.Int14(0), false},
		{value.Int14(1), true},
		{value.Int14(-1), true},
	}
	for _, c := range cases {
		if got := h.ToBool(c.v); got != c.want {
			t.Errorf("ToBool(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestToInt32NaNResult(t *testing.T) {
	h := newTestHeap(t)
	if _, err := h.ToInt32(value.Undefined); err == nil {
		t.Fatal("ToInt32(undefined) did not error")
	}
	if _, err := h.ToInt32(value.NaN); err == nil {
		t.Fatal("ToInt32(NaN) did not error")
	}
	n, err := h.ToInt32(value.Int14(5))
	if err != nil || n != 5 {
		t.Fatalf("ToInt32(5) = (%d, %v), want (5, nil)", n, err)
	}
}

func TestEqualClassesNeverCompareAcross(t *testing.T) {
	h := newTestHeap(t)
	if h.Equal(value.Int14(0), value.False) {
		t.Error("Int14(0) compared equal to false across classes")
	}
	if h.Equal(value.NaN, value.NaN) {
		t.Error("NaN compared equal to itself")
	}
	if !h.Equal(value.Int14(3), value.Int14(3)) {
		t.Error("identical int14 values compared unequal")
	}
}

func TestToStringUTF8Numeric(t *testing.T) {
	h := newTestHeap(t)
	s, err := h.ToStringUTF8(value.Int14(-5))
	if err != nil || s != "-5" {
		t.Fatalf("ToStringUTF8(-5) = (%q, %v)", s, err)
	}
	s, err = h.ToStringUTF8(value.Undefined)
	if err != nil || s != "undefined" {
		t.Fatalf("ToStringUTF8(undefined) = (%q, %v)", s, err)
	}
}

func TestToPropertyNameIntegerLikeStringsAreRangeErrors(t *testing.T) {
	h := newTestHeap(t)
	s := h.Allocate(len("0")+1, value.TCString)
	copy(h.Deref(s).Payload(), "0")
	if _, err := h.ToPropertyName(s); err == nil {
		t.Fatal("ToPropertyName(\"0\") did not error")
	}

	s2 := h.Allocate(len("01")+1, value.TCString)
	copy(h.Deref(s2).Payload(), "01")
	_, err := h.ToPropertyName(s2)
	if err != nil {
		t.Fatalf("ToPropertyName(\"01\") errored: %v", err)
	}
}

func TestToPropertyNameInternsPlainStrings(t *testing.T) {
	h := newTestHeap(t)
	a := h.Allocate(len("hello")+1, value.TCString)
	copy(h.Deref(a).Payload(), "hello")
	b := h.Allocate(len("hello")+1, value.TCString)
	copy(h.Deref(b).Payload(), "hello")

	na, err := h.ToPropertyName(a)
	if err != nil {
		t.Fatalf("ToPropertyName(a): %v", err)
	}
	nb, err := h.ToPropertyName(b)
	if err != nil {
		t.Fatalf("ToPropertyName(b): %v", err)
	}
	if na != nb {
		t.Fatalf("two equal strings interned to different values: %v != %v", na, nb)
	}
}
