package heap

import (
	"testing"

	"mvm/value"
)

func TestNewClosureStoresScopeAndTarget(t *testing.T) {
	h := newTestHeap(t)
	scope := h.NewScope(value.Undefined, 2)
	target := value.BytecodeMappedPtr(100)
	c := h.NewClosure(scope, target)

	ref := h.Deref(c)
	if ref.Word(0) != scope {
		t.Fatalf("closure scope = %v, want %v", ref.Word(0), scope)
	}
	if ref.Word(1) != target {
		t.Fatalf("closure target = %v, want %v", ref.Word(1), target)
	}
}

func TestFindScopedVariableOwnSlot(t *testing.T) {
	h := newTestHeap(t)
	scope := h.NewScope(value.Undefined, 3)
	h.FindScopedVariable(scope, 1).Set(value.Int14(7))
	got := h.FindScopedVariable(scope, 1).Get()
	if got != value.Int14(7) {
		t.Fatalf("own-slot read = %v, want 7", got)
	}
}

func TestFindScopedVariableWalksToParent(t *testing.T) {
	h := newTestHeap(t)
	parent := h.NewScope(value.Undefined, 2)
	h.FindScopedVariable(parent, 0).Set(value.Int14(42))
	child := h.NewScope(parent, 1)

	// child has 1 own slot (index 0); index 1 must fall through to the
	// parent's slot 0.
	got := h.FindScopedVariable(child, 1).Get()
	if got != value.Int14(42) {
		t.Fatalf("parent-slot read through child chain = %v, want 42", got)
	}
}

func TestFindScopedVariableWritesThroughToParent(t *testing.T) {
	h := newTestHeap(t)
	parent := h.NewScope(value.Undefined, 1)
	child := h.NewScope(parent, 0)

	h.FindScopedVariable(child, 0).Set(value.Int14(9))
	got := h.FindScopedVariable(parent, 0).Get()
	if got != value.Int14(9) {
		t.Fatalf("write through child chain did not reach parent slot: got %v, want 9", got)
	}
}
