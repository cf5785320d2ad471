package heap

import (
	"encoding/binary"
	"math"
	"strconv"

	"mvm/mvmerr"
	"mvm/value"
)

// Type is the public value classification of type_of, one
// of { undefined, null, boolean, number, string, function, object, array,
// class, symbol, big_int }.
type Type int

const (
	TypeUndefined Type = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeFunction
	TypeObject
	TypeArray
	TypeClass
	TypeSymbol
	TypeBigInt
)

var typeNames = [...]string{
	"undefined", "null", "boolean", "number", "string",
	"function", "object", "array", "class", "symbol", "big_int",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "invalid"
}

// DeepTypeOf classifies a Value by its discriminator bits, then for
// pointers by the referenced allocation's type code.
func (h *Heap) DeepTypeOf(v value.Value) Type {
	switch {
	case v == value.Undefined:
		return TypeUndefined
	case v == value.Null:
		return TypeNull
	case v == value.True, v == value.False:
		return TypeBoolean
	case v == value.NaN, v == value.NegZero:
		return TypeNumber
	case v == value.StrProto, v == value.StrLength:
		return TypeString
	case v == value.Deleted:
		return TypeUndefined
	case v.IsInt14():
		return TypeNumber
	}

	ref := h.Deref(v)
	if !ref.Valid() {
		return TypeUndefined
	}
	switch ref.Header().TypeCode() {
	case value.TCInt32, value.TCFloat64:
		return TypeNumber
	case value.TCString, value.TCInternedString:
		return TypeString
	case value.TCFunction, value.TCHostFunc, value.TCClosure:
		return TypeFunction
	case value.TCPropertyList:
		return TypeObject
	case value.TCArray:
		return TypeArray
	case value.TCClass:
		return TypeClass
	case value.TCSymbol:
		return TypeSymbol
	default:
		return TypeUndefined
	}
}

// ToInt32 implements to_int32. NaN and undefined signal a
// NaN-result error rather than silently producing 0, matching the
// original engine's MVM_E_NAN_RESULT partitioning.
func (h *Heap) ToInt32(v value.Value) (int32, *mvmerr.Error) {
	switch {
	case v.IsInt14():
		return v.AsInt14(), nil
	case v == value.Undefined, v == value.NaN:
		return 0, mvmerr.New(mvmerr.NaNResult)
	case v == value.Null, v == value.NegZero:
		return 0, nil
	case v == value.False:
		return 0, nil
	case v == value.True:
		return 1, nil
	}
	ref := h.Deref(v)
	if !ref.Valid() {
		return 0, mvmerr.New(mvmerr.NaNResult)
	}
	switch ref.Header().TypeCode() {
	case value.TCInt32:
		return int32(binary.LittleEndian.Uint32(ref.Payload())), nil
	case value.TCFloat64:
		f := math.Float64frombits(binary.LittleEndian.Uint64(ref.Payload()))
		return int32(f), nil
	default:
		return 0, mvmerr.New(mvmerr.NaNResult)
	}
}

// ToFloat64 widens any numeric Value to float64; non-numeric values
// produce NaN rather than an error, since float64 has a NaN to spare.
func (h *Heap) ToFloat64(v value.Value) float64 {
	switch {
	case v.IsInt14():
		return float64(v.AsInt14())
	case v == value.NaN:
		return math.NaN()
	case v == value.NegZero:
		return math.Copysign(0, -1)
	case v == value.Undefined, v == value.Null:
		return math.NaN()
	}
	ref := h.Deref(v)
	if !ref.Valid() {
		return math.NaN()
	}
	switch ref.Header().TypeCode() {
	case value.TCInt32:
		return float64(int32(binary.LittleEndian.Uint32(ref.Payload())))
	case value.TCFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(ref.Payload()))
	default:
		return math.NaN()
	}
}

// ToBool implements the engine's truthiness table.
func (h *Heap) ToBool(v value.Value) bool {
	switch {
	case v == value.Undefined, v == value.Null, v == value.False,
		v == value.NaN, v == value.NegZero, v == value.Deleted:
		return false
	case v == value.True:
		return true
	case v.IsInt14():
		return v.AsInt14() != 0
	}
	ref := h.Deref(v)
	if !ref.Valid() {
		return false
	}
	switch ref.Header().TypeCode() {
	case value.TCInt32:
		return int32(binary.LittleEndian.Uint32(ref.Payload())) != 0
	case value.TCFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(ref.Payload())) != 0
	case value.TCString, value.TCInternedString:
		return len(h.stringContent(ref)) > 0
	default:
		return true
	}
}

// stringContent strips the implicit trailing NUL byte 
// includes in a string allocation's size.
func (h *Heap) stringContent(ref Ref) []byte {
	p := ref.Payload()
	if len(p) > 0 && p[len(p)-1] == 0 {
		return p[:len(p)-1]
	}
	return p
}

// ToStringUTF8 implements to_string numeric/literal fast
// paths. Objects, arrays, functions and non-numeric references are not
// implemented in the core , matching the original engine.
func (h *Heap) ToStringUTF8(v value.Value) (string, *mvmerr.Error) {
	switch {
	case v == value.Undefined:
		return "undefined", nil
	case v == value.Null:
		return "null", nil
	case v == value.True:
		return "true", nil
	case v == value.False:
		return "false", nil
	case v == value.NaN:
		return "NaN", nil
	case v == value.NegZero:
		return "0", nil
	case v.IsInt14():
		return strconv.FormatInt(int64(v.AsInt14()), 10), nil
	}
	ref := h.Deref(v)
	if !ref.Valid() {
		return "", mvmerr.New(mvmerr.TypeError)
	}
	switch ref.Header().TypeCode() {
	case value.TCInt32:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(ref.Payload()))), 10), nil
	case value.TCFloat64:
		f := math.Float64frombits(binary.LittleEndian.Uint64(ref.Payload()))
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case value.TCString, value.TCInternedString:
		return string(h.stringContent(ref)), nil
	default:
		return "", mvmerr.New(mvmerr.NotImplemented)
	}
}

// equalClass is the six-class partition of equality table.
type equalClass int

const (
	classNone equalClass = iota
	classNotEqual
	classNonPtr
	classReference
	classPtrValueAndType
	classString
)

func (h *Heap) equalClassOf(v value.Value) equalClass {
	if v == value.NaN {
		return classNotEqual
	}
	switch {
	case v == value.Undefined, v == value.Null, v == value.True, v == value.False,
		v == value.NegZero, v == value.Deleted, v.IsInt14():
		return classNonPtr
	case v == value.StrProto, v == value.StrLength:
		return classString
	}
	ref := h.Deref(v)
	if !ref.Valid() {
		return classNonPtr
	}
	switch ref.Header().TypeCode() {
	case value.TCTombstone, value.TCSymbol, value.TCClass, value.TCVirtual:
		return classNone
	case value.TCInt32, value.TCFloat64, value.TCHostFunc:
		return classPtrValueAndType
	case value.TCString, value.TCInternedString:
		return classString
	default:
		return classReference
	}
}

// Equal implements strict equality: operands in different equality
// classes always compare unequal.
func (h *Heap) Equal(a, b value.Value) bool {
	ca, cb := h.equalClassOf(a), h.equalClassOf(b)
	if ca != cb {
		return false
	}
	switch ca {
	case classNone, classNotEqual:
		return false
	case classNonPtr:
		return a == b
	case classReference:
		return a == b
	case classPtrValueAndType:
		refA, refB := h.Deref(a), h.Deref(b)
		if refA.Header() != refB.Header() {
			return false
		}
		return bytesEqual(refA.Payload(), refB.Payload())
	case classString:
		return bytesEqual(h.stringBytesOf(a), h.stringBytesOf(b))
	default:
		return false
	}
}

func (h *Heap) stringBytesOf(v value.Value) []byte {
	switch v {
	case value.StrProto:
		return []byte("__proto__")
	case value.StrLength:
		return []byte("length")
	}
	return h.stringContent(h.Deref(v))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ToPropertyName implements to_property_name, normalizing
// a property key and, for a plain RAM string that isn't a decimal integer,
// interning it as a side effect.
func (h *Heap) ToPropertyName(key value.Value) (value.Value, *mvmerr.Error) {
	switch {
	case key.IsInt14() && key.AsInt14() >= 0:
		return key, nil
	case key == value.StrLength, key == value.StrProto:
		return key, nil
	}
	ref := h.Deref(key)
	if !ref.Valid() {
		return value.Undefined, mvmerr.New(mvmerr.TypeError)
	}
	switch ref.Header().TypeCode() {
	case value.TCInternedString:
		return key, nil
	case value.TCInt32:
		return value.Undefined, mvmerr.New(mvmerr.RangeError)
	case value.TCString:
		content := h.stringContent(ref)
		if looksLikeNonNegativeInteger(content) {
			return value.Undefined, mvmerr.New(mvmerr.RangeError)
		}
		return h.InternString(key), nil
	default:
		return value.Undefined, mvmerr.New(mvmerr.TypeError)
	}
}

func looksLikeNonNegativeInteger(s []byte) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return false // "0" is an int key; "01" is not, per the original's strtod-style parse
	}
	return true
}
