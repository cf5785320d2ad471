package heap

// bucket is one slab in the linked list that makes up the GC heap.
// startOffset is the bucket's starting byte-offset within the overall
// logical heap address space, used to translate ShortPtr offsets into
// this bucket's backing slice.
type bucket struct {
	startOffset int
	data        []byte // capacity is len(data); used bytes are data[:used]
	used        int
	prev, next  *bucket
}

func newBucket(start, capacity int) *bucket {
	return &bucket{startOffset: start, data: make([]byte, capacity)}
}

// contains reports whether the logical offset falls within this bucket.
func (b *bucket) contains(offset int) bool {
	return offset >= b.startOffset && offset < b.startOffset+len(b.data)
}

// end is the logical offset one past this bucket's capacity.
func (b *bucket) end() int { return b.startOffset + len(b.data) }
