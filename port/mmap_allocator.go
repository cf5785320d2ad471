//go:build mmapheap

package port

import "github.com/edsrzf/mmap-go"

// MmapAllocator backs heap buckets with real OS-mapped pages via
// github.com/edsrzf/mmap-go. Not wired into DefaultConfig: an embeddable VM
// that hosts may instantiate hundreds of at a time has no use for
// page-level OS isolation by default, so this type only exists behind the
// "mmapheap" build tag for a host that explicitly wants it.
type MmapAllocator struct{}

func (MmapAllocator) Alloc(n int) []byte {
	m, err := mmap.MapRegion(nil, n, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		panic(err)
	}
	return []byte(m)
}

func (MmapAllocator) Free(b []byte) {
	m := mmap.MMap(b)
	_ = m.Unmap()
}
