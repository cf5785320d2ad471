package port

// Allocator is the single malloc/free contract the heap's bucket chain
// grows and shrinks through. heap.Heap calls Alloc to grow the bucket list
// and Free when a bucket is retired after a collection.
type Allocator interface {
	Alloc(n int) []byte
	Free(b []byte)
}

// GoAllocator backs heap buckets with ordinary Go-GC'd byte slices. This is
// the default: an in-process embeddable VM simulates the resource
// constrained microcontroller memory model (bucketed bump allocation,
// explicit collection) without needing the host process to actually manage
// raw OS memory.
type GoAllocator struct{}

func (GoAllocator) Alloc(n int) []byte { return make([]byte, n) }
func (GoAllocator) Free(b []byte)      {}
