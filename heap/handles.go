package heap

import "mvm/value"

// Handle is a GC root owned by the host, threaded onto the VM's handle
// list. It is a doubly-linked list node; the host embeds one in its own
// memory and calls InitializeHandle/ReleaseHandle to register/unregister
// it as a root.
type Handle struct {
	Value      value.Value
	prev, next *Handle
	h          *Heap
}

// InitializeHandle threads a new handle onto the heap's handle list,
// rooting v until ReleaseHandle is called.
func (h *Heap) InitializeHandle(v value.Value) *Handle {
	handle := &Handle{Value: v, h: h}
	handle.next = h.handles
	if h.handles != nil {
		h.handles.prev = handle
	}
	h.handles = handle
	return handle
}

// ReleaseHandle unlinks a handle, after which its value is no longer a GC
// root.
func (h *Heap) ReleaseHandle(handle *Handle) {
	if handle.prev != nil {
		handle.prev.next = handle.next
	} else if h.handles == handle {
		h.handles = handle.next
	}
	if handle.next != nil {
		handle.next.prev = handle.prev
	}
	handle.prev, handle.next, handle.h = nil, nil, nil
}

// CloneHandle allocates a new handle referencing the same value as
// handle, threaded onto the same list.
func (h *Heap) CloneHandle(handle *Handle) *Handle {
	return h.InitializeHandle(handle.Value)
}

func (h *Heap) forEachHandle(f func(*Handle)) {
	for cur := h.handles; cur != nil; cur = cur.next {
		f(cur)
	}
}
