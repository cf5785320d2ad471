package heap

import (
	"bytes"
	"sort"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"mvm/mvmerr"
	"mvm/value"
)

// NewString allocates a fresh (not yet interned) TCString holding s, with
// an implicit trailing NUL byte. s is validated as well-formed UTF-8 via
// the strict decoder in golang.org/x/text/encoding/unicode first: a host
// handing this engine malformed bytes gets a TypeError, not a string
// allocation carrying a payload no script-visible string operation can
// assume is well-formed.
func (h *Heap) NewString(s string) (value.Value, *mvmerr.Error) {
	if _, _, err := transform.String(unicode.UTF8.NewDecoder(), s); err != nil {
		return value.Undefined, mvmerr.Wrap(mvmerr.TypeError, err)
	}
	size := len(s) + 1
	v := h.Allocate(size, value.TCString)
	ref := h.Deref(v)
	p := ref.Payload()
	copy(p, s)
	p[len(s)] = 0
	return v, nil
}

// InternString converts a freshly allocated TCString allocation into its
// canonical TCInternedString. It first binary searches the ROM
// STRING_TABLE (sorted ascending, so sort.Search applies directly), then
// walks the unsorted RAM chain rooted at BuiltinInternedStrings for an
// exact match, and finally upgrades candidate in place and links it onto
// the RAM chain if no match exists anywhere.
func (h *Heap) InternString(candidate value.Value) value.Value {
	ref := resolveShortPtrIn(h.first, candidate)
	str1 := ref.Payload()

	if v, ok := h.searchROMStringTable(str1); ok {
		return v
	}
	if v, ok := h.searchRAMStringChain(str1); ok {
		return v
	}

	ref.setHeader(value.MakeHeader(len(str1), value.TCInternedString))
	h.linkInternedString(candidate)
	return candidate
}

func (h *Heap) searchROMStringTable(str1 []byte) (value.Value, bool) {
	table := h.stringTable
	i := sort.Search(len(table), func(i int) bool {
		return bytes.Compare(h.romStringBytes(table[i]), str1) >= 0
	})
	if i < len(table) && bytes.Equal(h.romStringBytes(table[i]), str1) {
		return table[i], true
	}
	return value.Value(0), false
}

func (h *Heap) romStringBytes(v value.Value) []byte {
	ref := h.Deref(v)
	return ref.Payload()
}

// searchRAMStringChain does a linear scan: the RAM chain is insertion
// ordered, not sorted, since strings are interned in arbitrary program
// order.
func (h *Heap) searchRAMStringChain(str1 []byte) (value.Value, bool) {
	cell := h.GetBuiltin(BuiltinInternedStrings)
	for cell != value.Null {
		ref := resolveShortPtrIn(h.first, cell)
		next := ref.Word(0)
		str2 := ref.Word(1)
		str2Bytes := resolveShortPtrIn(h.first, str2).Payload()
		if bytes.Equal(str2Bytes, str1) {
			return str2, true
		}
		cell = next
	}
	return value.Value(0), false
}

func (h *Heap) linkInternedString(str value.Value) {
	cellV := h.Allocate(4, value.TCStringCell)
	cellRef := resolveShortPtrIn(h.first, cellV)
	cellRef.SetWord(0, h.GetBuiltin(BuiltinInternedStrings))
	cellRef.SetWord(1, str)
	h.SetBuiltin(BuiltinInternedStrings, cellV)
}
