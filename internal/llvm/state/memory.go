package state

import (
	"math/big"

	"github.com/benbjohnson/immutable"

	"gsymex/internal/smt"
)

const ptrBits = 64

func u64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// int64Comparer orders allocation ids. Implements immutable.Comparer.
type int64Comparer struct{}

func (c *int64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(int64), b.(int64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}

// Memory is the per-path byte store: a persistent map from allocation
// id to allocation. Forking shares the map; a fork clones an
// allocation's byte array the first time it writes to it, so unmodified
// allocations stay shared between parent and children.
type Memory struct {
	allocator *BumpAllocator
	allocs    *immutable.SortedMap
	owned     map[int64]bool
	threshold uint64
}

// NewMemory creates an empty memory. threshold bounds the byte range an
// access at a symbolic offset may span.
func NewMemory(threshold uint64) *Memory {
	return &Memory{
		allocator: NewBumpAllocator(),
		allocs:    immutable.NewSortedMap(&int64Comparer{}),
		owned:     make(map[int64]bool),
		threshold: threshold,
	}
}

// Fork returns a memory sharing every allocation with the receiver.
// Both sides lose byte-array ownership, so either clones before its
// next write.
func (m *Memory) Fork() *Memory {
	m.owned = make(map[int64]bool)
	return &Memory{
		allocator: m.allocator.clone(),
		allocs:    m.allocs,
		owned:     make(map[int64]bool),
		threshold: m.threshold,
	}
}

// Allocate reserves size bytes at the alignment and returns the new
// allocation. A zero size still reserves a distinct base address.
func (m *Memory) Allocate(size, align uint64, kind AllocKind) *Allocation {
	id, base := m.allocator.Reserve(size, align)
	alloc := &Allocation{
		ID:    id,
		Base:  base,
		Size:  size,
		Align: align,
		Kind:  kind,
		bytes: make([]*smt.BitVec, size),
	}
	m.allocs = m.allocs.Set(id, alloc)
	m.owned[id] = true
	return alloc
}

func (m *Memory) Get(id int64) (*Allocation, bool) {
	v, ok := m.allocs.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Allocation), true
}

// Live returns the live allocations in id order.
func (m *Memory) Live() []*Allocation {
	var result []*Allocation
	itr := m.allocs.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		alloc := v.(*Allocation)
		if !alloc.Dead {
			result = append(result, alloc)
		}
	}
	return result
}

// FindConcrete locates the allocation containing a concrete address.
// Dead allocations are returned too, so the caller can distinguish
// UseAfterFree from OutOfBounds.
func (m *Memory) FindConcrete(addr uint64) (*Allocation, bool) {
	itr := m.allocs.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		alloc := v.(*Allocation)
		if alloc.Contains(addr) {
			return alloc, true
		}
	}
	return nil, false
}

// Free marks the allocation dead. Freeing twice is DoubleFree.
func (m *Memory) Free(id int64) *PathError {
	alloc, ok := m.Get(id)
	if !ok {
		return NewPathError(InternalInvariant, "free of unknown allocation %d", id)
	}
	if alloc.Dead {
		return NewPathError(DoubleFree, "allocation %d freed twice", id)
	}
	dup := alloc.clone()
	dup.Dead = true
	m.allocs = m.allocs.Set(id, dup)
	m.owned[id] = true
	return nil
}

// ReleaseStack marks the stack allocations of a popped frame dead, so
// later accesses raise UseAfterFree as for freed heap memory. Unlike
// Free it reports nothing: unknown or already dead ids are skipped.
func (m *Memory) ReleaseStack(ids []int64) {
	for _, id := range ids {
		if alloc, ok := m.Get(id); ok && !alloc.Dead {
			dup := alloc.clone()
			dup.Dead = true
			m.allocs = m.allocs.Set(id, dup)
			m.owned[id] = true
		}
	}
}

// mutable returns the allocation with an exclusively-owned byte array,
// cloning it if it is still shared with a forked path.
func (m *Memory) mutable(id int64) (*Allocation, *PathError) {
	alloc, ok := m.Get(id)
	if !ok {
		return nil, NewPathError(InternalInvariant, "unknown allocation %d", id)
	}
	if alloc.Dead {
		return nil, NewPathError(UseAfterFree, "allocation %d is dead", id)
	}
	if m.owned[id] {
		return alloc, nil
	}
	dup := alloc.clone()
	m.allocs = m.allocs.Set(id, dup)
	m.owned[id] = true
	return dup, nil
}

func (m *Memory) checkBounds(alloc *Allocation, off, n uint64) *PathError {
	if off > alloc.Size || alloc.Size-off < n {
		return NewPathError(OutOfBounds,
			"access of %d bytes at offset %d in allocation %d of %d bytes",
			n, off, alloc.ID, alloc.Size)
	}
	return nil
}

// ReadBytes reads n consecutive cells starting at a concrete offset.
// Uninitialized cells materialize as fresh 8-bit symbols (first touch).
func (m *Memory) ReadBytes(id int64, off, n uint64) ([]*smt.BitVec, *PathError) {
	alloc, ok := m.Get(id)
	if !ok {
		return nil, NewPathError(InternalInvariant, "unknown allocation %d", id)
	}
	if alloc.Dead {
		return nil, NewPathError(UseAfterFree, "read from freed allocation %d", id)
	}
	if err := m.checkBounds(alloc, off, n); err != nil {
		return nil, err
	}
	result := make([]*smt.BitVec, n)
	for i := uint64(0); i < n; i++ {
		cell := alloc.bytes[off+i]
		if cell == nil {
			// First touch mutates, so reads also go through COW.
			var err *PathError
			if alloc, err = m.mutable(id); err != nil {
				return nil, err
			}
			cell = smt.NewBitVec(alloc.symbolName(off+i), 8)
			alloc.bytes[off+i] = cell
		}
		result[i] = cell
	}
	return result, nil
}

// WriteBytes overwrites cells starting at a concrete offset.
func (m *Memory) WriteBytes(id int64, off uint64, cells []*smt.BitVec) *PathError {
	alloc, err := m.mutable(id)
	if err != nil {
		return err
	}
	if berr := m.checkBounds(alloc, off, uint64(len(cells))); berr != nil {
		return berr
	}
	for i, cell := range cells {
		if cell.Size() != 8 {
			return NewPathError(InternalInvariant, "memory cell width %d", cell.Size())
		}
		alloc.bytes[off+uint64(i)] = cell
	}
	return nil
}

// materialize gives every cell of the allocation a term so a symbolic
// offset access can fold over them.
func (m *Memory) materialize(id int64) (*Allocation, *PathError) {
	alloc, err := m.mutable(id)
	if err != nil {
		return nil, err
	}
	for i, cell := range alloc.bytes {
		if cell == nil {
			alloc.bytes[i] = smt.NewBitVec(alloc.symbolName(uint64(i)), 8)
		}
	}
	return alloc, nil
}

// ReadBytesSym reads n cells at a symbolic in-allocation offset,
// yielding for each cell an ite nest over the feasible concrete
// offsets. The caller has already constrained off to [0, size-n].
func (m *Memory) ReadBytesSym(id int64, off *smt.BitVec, n uint64) ([]*smt.BitVec, *PathError) {
	alloc, err := m.materialize(id)
	if err != nil {
		return nil, err
	}
	if alloc.Size > m.threshold {
		return nil, NewPathError(UnsupportedSymbolicOffset,
			"symbolic offset over %d bytes exceeds threshold %d", alloc.Size, m.threshold)
	}
	if n > alloc.Size {
		return nil, NewPathError(OutOfBounds,
			"read of %d bytes from allocation %d of %d bytes", n, alloc.ID, alloc.Size)
	}
	result := make([]*smt.BitVec, n)
	for i := uint64(0); i < n; i++ {
		acc := alloc.bytes[i]
		for k := uint64(1); k <= alloc.Size-n; k++ {
			hit := off.Eq(smt.NewBitVecVal(u64(k), ptrBits))
			acc = smt.Ite(hit, alloc.bytes[k+i], acc)
		}
		result[i] = acc
	}
	return result, nil
}

// WriteBytesSym writes cells at a symbolic in-allocation offset. Every
// cell of the allocation becomes an ite between its old value and the
// written byte.
func (m *Memory) WriteBytesSym(id int64, off *smt.BitVec, cells []*smt.BitVec) *PathError {
	alloc, err := m.materialize(id)
	if err != nil {
		return err
	}
	if alloc.Size > m.threshold {
		return NewPathError(UnsupportedSymbolicOffset,
			"symbolic offset over %d bytes exceeds threshold %d", alloc.Size, m.threshold)
	}
	n := uint64(len(cells))
	if n > alloc.Size {
		return NewPathError(OutOfBounds,
			"write of %d bytes to allocation %d of %d bytes", n, alloc.ID, alloc.Size)
	}
	old := make([]*smt.BitVec, len(alloc.bytes))
	copy(old, alloc.bytes)
	for j := uint64(0); j < alloc.Size; j++ {
		acc := old[j]
		for i := uint64(0); i < n; i++ {
			if j < i || j-i > alloc.Size-n {
				continue
			}
			hit := off.Eq(smt.NewBitVecVal(u64(j-i), ptrBits))
			acc = smt.Ite(hit, cells[i], acc)
		}
		alloc.bytes[j] = acc
	}
	return nil
}
