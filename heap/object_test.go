package heap

import (
	"testing"

	"mvm/mvmerr"
	"mvm/port"
	"mvm/value"
)

func TestObjectSetGetOverwrite(t *testing.T) {
	h := newTestHeap(t)
	obj := h.NewObject(value.Null)
	key := value.Int14(7)
	if err := h.SetProperty(obj, key, value.Int14(1)); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if err := h.SetProperty(obj, key, value.Int14(2)); err != nil {
		t.Fatalf("SetProperty overwrite: %v", err)
	}
	got, err := h.GetProperty(obj, key)
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if got != value.Int14(2) {
		t.Fatalf("property = %v, want 2 (overwrite must not append a duplicate)", got)
	}
}

func TestObjectGetMissingFallsBackToPrototype(t *testing.T) {
	h := newTestHeap(t)
	proto := h.NewObject(value.Null)
	if err := h.SetProperty(proto, value.Int14(1), value.Int14(99)); err != nil {
		t.Fatalf("SetProperty on prototype: %v", err)
	}
	obj := h.NewObject(proto)

	got, err := h.GetProperty(obj, value.Int14(1))
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if got != value.Int14(99) {
		t.Fatalf("inherited property = %v, want 99", got)
	}

	got, err = h.GetProperty(obj, value.Int14(2))
	if err != nil {
		t.Fatalf("GetProperty missing: %v", err)
	}
	if got != value.Undefined {
		t.Fatalf("missing property = %v, want undefined", got)
	}
}

func TestSetPropertyOnROMAsserts(t *testing.T) {
	gotFatal := false
	cfg := port.Normalize(port.Config{
		BucketSize: 64,
		Fatal: func(code mvmerr.Code) {
			if code == mvmerr.AttemptToWriteToROM {
				gotFatal = true
			}
			panic("fatal")
		},
	})
	h := New(cfg)

	// Fake a ROM-resident PropertyList below globalsOffset: Deref resolves
	// it directly against the bytecode slice, so ref.IsRAM() is false and
	// SetProperty must reach the assertion before even scanning the chain.
	// The allocation is padded to start at offset 20: a BytecodeMappedPtr
	// for an offset below 18 encodes below WellKnownEnd (37) and is
	// indistinguishable from the well-known singletons (Undefined, Null,
	// ...), which never happens in a real restored image since section
	// offsets start past the header.
	const pad = 20
	hdr := value.MakeHeader(4, value.TCPropertyList)
	img := make([]byte, pad+6)
	img[pad] = byte(hdr)
	img[pad+1] = byte(hdr >> 8)
	h.SetImageContext(img, 0, pad+6, pad+6, pad+6)
	romObj := value.BytecodeMappedPtr(pad)

	func() {
		defer func() { recover() }()
		h.SetProperty(romObj, value.Int14(1), value.Int14(1))
	}()
	if !gotFatal {
		t.Fatal("writing to a ROM object did not reach the fatal hook with AttemptToWriteToROM")
	}
}
