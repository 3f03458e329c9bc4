package core

// physicalBlock is a fixed-size slab of KV cache, either on device or on
// host. It lives in BlockManager's arena indexed by BlockID; ref-count
// is a field of the arena entry rather than a general shared-ownership
// primitive (spec.md §9), so all references to a block funnel through
// BlockManager's methods.
//
// ref-count 0 implies the block is on the free list; a block shared by
// >=2 sequences is immutable and must be copied on the next write
// (copy-on-write).
type physicalBlock struct {
	id       BlockID
	device   BlockDevice
	refCount int
	hash     string // content hash once the block is full, empty otherwise
	numFilled int    // tokens currently occupying this block (<= blockSize)

	// prevFree/nextFree thread an intrusive doubly-linked free list per
	// device pool, grounded on the teacher's KVBlock.PrevFree/NextFree
	// LRU list (sim/kvcache.go).
	prevFree, nextFree *physicalBlock
}

func (b *physicalBlock) inUse() bool { return b.refCount > 0 }
