package heap

import (
	"testing"

	"mvm/mvmerr"
	"mvm/value"
)

func TestNewStringAllocatesValidUTF8(t *testing.T) {
	h := newTestHeap(t)
	v, err := h.NewString("widget")
	if err != nil {
		t.Fatalf("NewString(\"widget\") returned error: %v", err)
	}
	ref := h.Deref(v)
	if ref.Header().TypeCode() != value.TCString {
		t.Fatalf("NewString did not allocate a TCString")
	}
	if got := h.stringContent(ref); string(got) != "widget" {
		t.Fatalf("NewString payload = %q, want %q", got, "widget")
	}
}

func TestNewStringRejectsMalformedUTF8(t *testing.T) {
	h := newTestHeap(t)
	malformed := string([]byte{0xff, 0xfe, 0x80})
	_, err := h.NewString(malformed)
	if err == nil {
		t.Fatal("NewString accepted malformed UTF-8 without error")
	}
	if err.Code() != mvmerr.TypeError {
		t.Fatalf("NewString(malformed) code = %v, want TypeError", err.Code())
	}
}

func TestInternStringLinksOntoRAMChainOnFirstUse(t *testing.T) {
	h := newTestHeap(t)
	s := h.Allocate(len("widget")+1, value.TCString)
	copy(h.Deref(s).Payload(), "widget")

	interned := h.InternString(s)
	if h.Deref(interned).Header().TypeCode() != value.TCInternedString {
		t.Fatalf("InternString did not upgrade the allocation's type code")
	}
	if h.GetBuiltin(BuiltinInternedStrings) == value.Null {
		t.Fatal("interning did not link onto the RAM chain")
	}
}

func TestInternStringReturnsSameValueForRepeatedContent(t *testing.T) {
	h := newTestHeap(t)
	a := h.Allocate(len("widget")+1, value.TCString)
	copy(h.Deref(a).Payload(), "widget")
	b := h.Allocate(len("widget")+1, value.TCString)
	copy(h.Deref(b).Payload(), "widget")

	ia := h.InternString(a)
	ib := h.InternString(b)
	if ia != ib {
		t.Fatalf("interning the same content twice produced different values: %v != %v", ia, ib)
	}
}

func TestInternStringFindsROMStringTableMatch(t *testing.T) {
	h := newTestHeap(t)

	// Build a tiny ROM image: two-byte header (4-byte payload, TCInternedString)
	// followed by "bar", starting at offset 20 (an offset below 18 encodes
	// below WellKnownEnd and would be indistinguishable from a well-known
	// singleton, which never happens in a real image since section offsets
	// start past the header). globalsOffset is set past it so Deref treats
	// it as ROM.
	const pad = 20
	payload := []byte("bar\x00")
	hdr := value.MakeHeader(len(payload), value.TCInternedString)
	img := make([]byte, pad)
	img = append(img, byte(hdr), byte(hdr>>8))
	img = append(img, payload...)
	romEntry := value.BytecodeMappedPtr(pad)
	h.SetImageContext(img, 0, len(img), len(img), len(img))
	h.SetStringTable([]value.Value{romEntry})

	candidate := h.Allocate(len("bar")+1, value.TCString)
	copy(h.Deref(candidate).Payload(), "bar")

	got := h.InternString(candidate)
	if got != romEntry {
		t.Fatalf("InternString(\"bar\") = %v, want the ROM table entry %v", got, romEntry)
	}
}
