package state

import (
	"fmt"
	"math/big"

	"gsymex/internal/smt"
)

// AllocKind tells how an allocation came to be and how long it lives.
type AllocKind int

const (
	StackAlloc AllocKind = iota
	HeapAlloc
	GlobalAlloc
)

func (k AllocKind) String() string {
	switch k {
	case StackAlloc:
		return "stack"
	case HeapAlloc:
		return "heap"
	default:
		return "global"
	}
}

// Allocation is one contiguous region of path memory. The base address
// is concrete, handed out gap-separated by the bump allocator, so
// aliasing between distinct allocations is impossible by construction.
// bytes holds one 8-bit cell per byte; a nil cell is uninitialized and
// materializes as a fresh symbol on first touch.
type Allocation struct {
	ID    int64
	Base  uint64
	Size  uint64
	Align uint64
	Kind  AllocKind
	Dead  bool

	bytes []*smt.BitVec
}

// BaseBV is the base address as a pointer-width constant.
func (a *Allocation) BaseBV() *smt.BitVec {
	return smt.NewBitVecVal(u64(a.Base), ptrBits)
}

// EndBig is base+size as a big integer, for range constraints.
func (a *Allocation) EndBig() *big.Int {
	return new(big.Int).SetUint64(a.Base + a.Size)
}

// Contains reports whether the concrete address falls in [base, base+size).
func (a *Allocation) Contains(addr uint64) bool {
	return addr >= a.Base && addr-a.Base < a.Size
}

// clone copies the allocation with its own byte array.
func (a *Allocation) clone() *Allocation {
	dup := *a
	dup.bytes = make([]*smt.BitVec, len(a.bytes))
	copy(dup.bytes, a.bytes)
	return &dup
}

// symbolName names the first-touch symbol of one byte.
func (a *Allocation) symbolName(offset uint64) string {
	return fmt.Sprintf("mem%d_%d", a.ID, offset)
}

// arenaBase leaves the zero page unmapped so null pointers never
// resolve to an allocation.
const arenaBase uint64 = 0x1000_0000

// allocGap separates consecutive allocations so off-by-one accesses do
// not silently land in a neighbour.
const allocGap uint64 = 64

// BumpAllocator hands out gap-separated concrete base addresses.
type BumpAllocator struct {
	next   uint64
	nextID int64
}

func NewBumpAllocator() *BumpAllocator {
	return &BumpAllocator{next: arenaBase}
}

func (b *BumpAllocator) clone() *BumpAllocator {
	dup := *b
	return &dup
}

// Reserve returns a fresh (id, base) for size bytes at the alignment.
func (b *BumpAllocator) Reserve(size, align uint64) (int64, uint64) {
	if align == 0 {
		align = 1
	}
	base := (b.next + align - 1) / align * align
	b.next = base + size + allocGap
	id := b.nextID
	b.nextID++
	return id, base
}
