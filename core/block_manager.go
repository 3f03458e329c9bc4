package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// AllocStatus is the outcome of a capacity check against the block
// pools, mirroring spec.md §4.1's can_allocate contract.
type AllocStatus int

const (
	AllocOK AllocStatus = iota
	AllocLater
	AllocNever
)

// ErrNoFreeBlocks is returned when a pool cannot satisfy an allocation.
// Admission checks report the condition as AllocLater; AppendSlot,
// SwapOut and SwapIn return this error directly.
var ErrNoFreeBlocks = errors.New("no free blocks")

// CowEvent records a copy-on-write triggered by AppendSlot: the executor
// must materialize a physical copy from Src to Dst before or during the
// next forward pass (spec.md §4.1).
type CowEvent struct {
	Src, Dst BlockID
}

// pool is one device's free-list arena: a block-id-indexed slice plus an
// intrusive doubly-linked free list, grounded on sim/kvcache.go's
// KVCacheState (FreeHead/FreeTail/popFreeBlock/appendToFreeList).
type pool struct {
	device    BlockDevice
	offset    BlockID // first id owned by this pool; keeps device/host id spaces disjoint
	blocks    []*physicalBlock
	freeHead  *physicalBlock
	freeTail  *physicalBlock
	usedCount int
}

func newPool(device BlockDevice, offset BlockID, n int) *pool {
	p := &pool{device: device, offset: offset, blocks: make([]*physicalBlock, n)}
	for i := 0; i < n; i++ {
		b := &physicalBlock{id: offset + BlockID(i), device: device}
		p.blocks[i] = b
		p.appendFree(b)
	}
	return p
}

// at returns the block for a global BlockID known to belong to this pool.
func (p *pool) at(id BlockID) *physicalBlock {
	return p.blocks[int(id-p.offset)]
}

// owns reports whether id falls within this pool's id range.
func (p *pool) owns(id BlockID) bool {
	return id >= p.offset && int(id-p.offset) < len(p.blocks)
}

func (p *pool) appendFree(b *physicalBlock) {
	b.nextFree = nil
	if p.freeTail != nil {
		p.freeTail.nextFree = b
		b.prevFree = p.freeTail
		p.freeTail = b
	} else {
		p.freeHead = b
		p.freeTail = b
		b.prevFree = nil
	}
}

func (p *pool) removeFree(b *physicalBlock) {
	if b.prevFree != nil {
		b.prevFree.nextFree = b.nextFree
	} else {
		p.freeHead = b.nextFree
	}
	if b.nextFree != nil {
		b.nextFree.prevFree = b.prevFree
	} else {
		p.freeTail = b.prevFree
	}
	b.nextFree, b.prevFree = nil, nil
}

func (p *pool) numFree() int { return len(p.blocks) - p.usedCount }

// pop removes a block from the free list and readies it for reuse,
// clearing any stale prefix-cache hash the way sim/kvcache.go's
// popFreeBlock does.
func (p *pool) pop(hashToBlock map[string]BlockID) *physicalBlock {
	b := p.freeHead
	if b == nil {
		return nil
	}
	p.removeFree(b)
	if b.hash != "" {
		delete(hashToBlock, b.hash)
		b.hash = ""
	}
	b.numFilled = 0
	p.usedCount++
	return b
}

func (p *pool) release(b *physicalBlock) {
	p.usedCount--
	p.appendFree(b)
}

// BlockManager owns the fixed pool of device KV-cache blocks and the
// smaller host (swap) pool. It is the sole owner of block ref-counts and
// the prefix-cache hash index; every mutation to block state funnels
// through its methods (spec.md §9).
type BlockManager struct {
	blockSize            int
	prefixCachingEnabled bool

	device *pool
	host   *pool

	// hashToBlock indexes device blocks only: prefix caching reuses
	// cached prompt prefixes already resident on the GPU, not on host.
	hashToBlock map[string]BlockID

	lookups, hits int
}

// NewBlockManager constructs a manager with numDeviceBlocks device slots
// and numHostBlocks host (swap) slots, each sized blockSizeTokens.
func NewBlockManager(numDeviceBlocks, numHostBlocks, blockSizeTokens int, prefixCachingEnabled bool) *BlockManager {
	return &BlockManager{
		blockSize:            blockSizeTokens,
		prefixCachingEnabled: prefixCachingEnabled,
		device:               newPool(DeviceGPU, 0, numDeviceBlocks),
		host:                 newPool(DeviceHost, BlockID(numDeviceBlocks), numHostBlocks),
		hashToBlock:          make(map[string]BlockID),
	}
}

// NumFreeDeviceBlocks returns the number of unallocated device blocks.
func (bm *BlockManager) NumFreeDeviceBlocks() int { return bm.device.numFree() }

// NumTotalDeviceBlocks returns the fixed size of the device pool.
func (bm *BlockManager) NumTotalDeviceBlocks() int { return len(bm.device.blocks) }

// NumFreeHostBlocks returns the number of unallocated host blocks.
func (bm *BlockManager) NumFreeHostBlocks() int { return bm.host.numFree() }

// PrefixHitRate returns the fraction of prompt blocks satisfied from the
// prefix cache across the manager's lifetime, or 0 if prefix caching is
// disabled or nothing has been allocated yet.
func (bm *BlockManager) PrefixHitRate() float64 {
	if bm.lookups == 0 {
		return 0
	}
	return float64(bm.hits) / float64(bm.lookups)
}

func hashPrefix(tokens []int) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(t))
	}
	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:])
}

// blocksNeeded returns how many free-pool slots Allocate will have to
// consume to hold promptLen tokens for a fresh group, accounting for
// prefix-cache hits when enabled. Used by CanAllocate; it does not
// mutate any state.
//
// A cache hit only avoids consuming a free slot when the matched block
// is already in use by another live group (refCount > 0): Allocate just
// bumps its ref-count in place. A hit whose block is idle on the free
// list (refCount == 0) still has to be popped off that list to be
// resurrected, so it consumes a free slot exactly like a genuine miss —
// counting it as free here would let CanAllocate admit a group that
// Allocate cannot actually satisfy.
func (bm *BlockManager) blocksNeeded(promptTokenIDs []int) int {
	total := numBlocksFor(len(promptTokenIDs), bm.blockSize)
	if !bm.prefixCachingEnabled {
		return total
	}
	freeHits := 0
	for i := 0; i < total; i++ {
		end := (i + 1) * bm.blockSize
		if end > len(promptTokenIDs) {
			break // partial trailing block is never a cache hit
		}
		h := hashPrefix(promptTokenIDs[:end])
		id, ok := bm.hashToBlock[h]
		if !ok {
			break // a genuine miss means every deeper block is a miss too
		}
		if bm.device.at(id).refCount > 0 {
			freeHits++ // already referenced elsewhere: a ref-count bump, no free slot consumed
		}
		// refCount == 0: still a content match (the chain continues), but
		// resurrecting an idle cached block costs a free slot like a miss.
	}
	return total - freeHits
}

func templatePrompt(group *SequenceGroup) []int {
	for _, s := range group.Seqs {
		return s.PromptTokenIDs
	}
	return nil
}

// CanAllocate reports whether a fresh group's prompt can be admitted now
// (AllocOK), might fit once other groups free blocks (AllocLater), or
// will never fit even in an empty cache (AllocNever).
func (bm *BlockManager) CanAllocate(group *SequenceGroup) AllocStatus {
	prompt := templatePrompt(group)
	worstCase := numBlocksFor(len(prompt), bm.blockSize)
	if worstCase > len(bm.device.blocks) {
		return AllocNever
	}
	if bm.blocksNeeded(prompt) > bm.NumFreeDeviceBlocks() {
		return AllocLater
	}
	return AllocOK
}

// Allocate reserves device blocks for every (same-prompt) sequence in
// group, sharing blocks across siblings with ref-count == len(siblings)
// (spec.md §4.1's allocation policy). Callers must have already checked
// CanAllocate == AllocOK; Allocate panics if allocation still fails,
// since that indicates a caller bug (a concurrent mutation the single-
// threaded engine promises cannot happen).
func (bm *BlockManager) Allocate(group *SequenceGroup) {
	seqs := group.GetSeqs(nil)
	if len(seqs) == 0 {
		return
	}
	prompt := seqs[0].PromptTokenIDs
	n := len(seqs)
	total := numBlocksFor(len(prompt), bm.blockSize)

	ids := make([]BlockID, 0, total)
	for i := 0; i < total; i++ {
		start := i * bm.blockSize
		end := start + bm.blockSize
		if end > len(prompt) {
			end = len(prompt)
		}
		chunkLen := end - start
		full := chunkLen == bm.blockSize

		bm.lookups++
		if bm.prefixCachingEnabled && full {
			if h := hashPrefix(prompt[:end]); true {
				if id, ok := bm.hashToBlock[h]; ok {
					blk := bm.device.at(id)
					if blk.numFilled == bm.blockSize {
						if blk.refCount == 0 {
							bm.device.removeFree(blk)
							bm.device.usedCount++
						}
						blk.refCount += n
						ids = append(ids, id)
						bm.hits++
						continue
					}
				}
			}
		}

		blk := bm.device.pop(bm.hashToBlock)
		if blk == nil {
			panic("core: Allocate called without a prior AllocOK check")
		}
		blk.refCount = n
		blk.numFilled = chunkLen
		if full {
			blk.hash = hashPrefix(prompt[:end])
			bm.hashToBlock[blk.hash] = blk.id
		}
		ids = append(ids, blk.id)
	}

	for _, s := range seqs {
		s.BlockTable = &BlockTable{Blocks: append([]BlockID(nil), ids...)}
	}
}

// block looks up a device-pool block by its global BlockID.
func (bm *BlockManager) block(id BlockID) *physicalBlock {
	return bm.device.at(id)
}

// CanAppendSlot reports whether extending seq by one token is possible
// without preemption: either its write block has room, or a free device
// block is available for growth/copy-on-write.
func (bm *BlockManager) CanAppendSlot(seq *Sequence) bool {
	lastID, ok := seq.BlockTable.LastBlock()
	if !ok {
		return bm.NumFreeDeviceBlocks() > 0
	}
	blk := bm.block(lastID)
	if blk.numFilled < bm.blockSize && blk.refCount <= 1 {
		return true // room in a block only this sequence owns
	}
	return bm.NumFreeDeviceBlocks() > 0
}

// AppendSlot extends seq by one generated token's worth of storage. It
// returns a non-nil CowEvent when the write triggered a copy-on-write
// (the write block was shared), and an error (ErrNoFreeBlocks) when no
// device block is available — the scheduler interprets that as "this
// sequence's group must be preempted".
func (bm *BlockManager) AppendSlot(seq *Sequence) (*CowEvent, error) {
	lastID, ok := seq.BlockTable.LastBlock()
	if !ok {
		blk := bm.device.pop(bm.hashToBlock)
		if blk == nil {
			return nil, ErrNoFreeBlocks
		}
		blk.refCount = 1
		blk.numFilled = 1
		seq.BlockTable.Append(blk.id)
		return nil, nil
	}

	last := bm.block(lastID)
	if last.numFilled < bm.blockSize {
		if last.refCount > 1 {
			fresh := bm.device.pop(bm.hashToBlock)
			if fresh == nil {
				return nil, ErrNoFreeBlocks
			}
			fresh.refCount = 1
			fresh.numFilled = last.numFilled + 1
			last.refCount--
			if last.refCount == 0 {
				bm.device.release(last)
			}
			seq.BlockTable.ReplaceLast(fresh.id)
			return &CowEvent{Src: lastID, Dst: fresh.id}, nil
		}
		last.numFilled++
		return nil, nil
	}

	fresh := bm.device.pop(bm.hashToBlock)
	if fresh == nil {
		return nil, ErrNoFreeBlocks
	}
	fresh.refCount = 1
	fresh.numFilled = 1
	seq.BlockTable.Append(fresh.id)
	return nil, nil
}

// Fork shares parent's blocks with child (beam-search sibling),
// incrementing each shared block's ref-count. The next write by either
// sequence to a shared block triggers copy-on-write via AppendSlot.
func (bm *BlockManager) Fork(parent, child *Sequence) {
	child.BlockTable = &BlockTable{Blocks: append([]BlockID(nil), parent.BlockTable.Blocks...)}
	for _, id := range parent.BlockTable.Blocks {
		bm.block(id).refCount++
	}
}

// Free returns seq's blocks to the device or host free list once their
// ref-count reaches zero, decrementing shared blocks without releasing
// them while siblings still reference them.
func (bm *BlockManager) Free(seq *Sequence) {
	for _, id := range seq.BlockTable.Blocks {
		blk, p := bm.lookup(id)
		blk.refCount--
		if blk.refCount == 0 {
			p.release(blk)
		}
	}
	seq.BlockTable.Blocks = nil
}

// lookup finds a block by id in whichever pool owns that id range (device
// and host ids occupy disjoint, offset ranges — see newPool — so this is
// never ambiguous).
func (bm *BlockManager) lookup(id BlockID) (*physicalBlock, *pool) {
	if bm.device.owns(id) {
		return bm.device.at(id), bm.device
	}
	return bm.host.at(id), bm.host
}

// groupBlockIDs returns the unique block ids referenced by group's
// sequences in the given status, and for each block how many of its
// references come from within this group (comparing that count with the
// block's refCount tells whether a different group also holds it).
func (bm *BlockManager) groupBlockIDs(group *SequenceGroup, status SeqStatus) ([]BlockID, map[BlockID]int) {
	counts := map[BlockID]int{}
	var order []BlockID
	for _, s := range group.GetSeqs(func(st SeqStatus) bool { return st == status }) {
		for _, id := range s.BlockTable.Blocks {
			if _, seen := counts[id]; !seen {
				order = append(order, id)
			}
			counts[id]++
		}
	}
	return order, counts
}

// CanSwapOut reports whether every device block the group's running
// sequences reference is exclusively owned by this group (spec.md:
// "swaps are atomic... either the entire group is swapped or the
// scheduler aborts") and the host pool has room for all of them.
func (bm *BlockManager) CanSwapOut(group *SequenceGroup) bool {
	ids, counts := bm.groupBlockIDs(group, SeqRunning)
	if len(ids) > bm.NumFreeHostBlocks() {
		return false
	}
	for _, id := range ids {
		blk := bm.device.at(id)
		if blk.refCount != counts[id] {
			return false // referenced outside this group; cannot relocate
		}
	}
	return true
}

// SwapOut moves every device block referenced by group's running
// sequences to the host pool, returning the device->host id mapping for
// the executor to materialize, and marks those sequences swapped.
func (bm *BlockManager) SwapOut(group *SequenceGroup) (map[BlockID]BlockID, error) {
	if !bm.CanSwapOut(group) {
		return nil, ErrNoFreeBlocks
	}
	ids, counts := bm.groupBlockIDs(group, SeqRunning)
	mapping := make(map[BlockID]BlockID, len(ids))
	for _, src := range ids {
		srcBlk := bm.device.at(src)
		dst := bm.host.pop(nil)
		dst.refCount = counts[src]
		dst.numFilled = srcBlk.numFilled
		mapping[src] = dst.id
		bm.device.release(srcBlk)
		srcBlk.refCount = 0
		srcBlk.hash = ""
	}
	for _, s := range group.GetSeqs(func(st SeqStatus) bool { return st == SeqRunning }) {
		for i, id := range s.BlockTable.Blocks {
			s.BlockTable.Blocks[i] = mapping[id]
		}
		s.Status = SeqSwapped
	}
	return mapping, nil
}

// CanSwapIn reports whether the device pool has room to take back every
// block currently swapped out for group.
func (bm *BlockManager) CanSwapIn(group *SequenceGroup) bool {
	ids, _ := bm.groupBlockIDs(group, SeqSwapped)
	return len(ids) <= bm.NumFreeDeviceBlocks()
}

// SwapIn is the inverse of SwapOut: moves group's host blocks back to
// the device pool and marks its sequences running again.
func (bm *BlockManager) SwapIn(group *SequenceGroup) (map[BlockID]BlockID, error) {
	if !bm.CanSwapIn(group) {
		return nil, ErrNoFreeBlocks
	}
	ids, counts := bm.groupBlockIDs(group, SeqSwapped)
	mapping := make(map[BlockID]BlockID, len(ids))
	for _, src := range ids {
		srcBlk := bm.host.at(src)
		dst := bm.device.pop(bm.hashToBlock)
		dst.refCount = counts[src]
		dst.numFilled = srcBlk.numFilled
		mapping[src] = dst.id
		bm.host.release(srcBlk)
		srcBlk.refCount = 0
	}
	for _, s := range group.GetSeqs(func(st SeqStatus) bool { return st == SeqSwapped }) {
		for i, id := range s.BlockTable.Blocks {
			s.BlockTable.Blocks[i] = mapping[id]
		}
		s.Status = SeqRunning
	}
	return mapping, nil
}
