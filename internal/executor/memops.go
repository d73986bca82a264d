package executor

import (
	"math/big"
	"fmt"

	"gsymex/internal/llvm/state"
	"gsymex/internal/smt"
)

// resolution is the outcome of decomposing a pointer: either a unique
// (allocation, offset) pair, or fork children when several allocations
// stay feasible. Children re-execute the same instruction with a
// constraint pinning the pointer to one allocation each.
type resolution struct {
	alloc    *state.Allocation
	offset   *smt.BitVec // pointer width, in-allocation byte offset
	children []*state.Path
}

// inAlloc builds base <= ptr < base+size for a candidate allocation.
func inAlloc(ptr *smt.BitVec, alloc *state.Allocation) *smt.Bool {
	base := alloc.BaseBV()
	end := smt.NewBitVecVal(alloc.EndBig(), 64)
	return base.Ule(ptr).And(ptr.Ult(end))
}

// resolve decomposes a pointer into an allocation and byte offset. A
// concrete pointer resolves directly; a symbolic pointer is checked
// against every live allocation and forks when more than one is
// feasible. No feasible allocation is OutOfBounds.
func (ex *Executor) resolve(p *state.Path, ptr *smt.BitVec) (*resolution, *state.PathError) {
	if ptr.IsConcrete() {
		addr := ptr.ConstUint64()
		alloc, ok := p.Memory.FindConcrete(addr)
		if !ok {
			return nil, state.NewPathError(state.OutOfBounds, "address 0x%x maps to no allocation", addr)
		}
		return &resolution{
			alloc:  alloc,
			offset: smt.NewBitVecValInt64(int64(addr-alloc.Base), 64),
		}, nil
	}

	var candidates []*state.Allocation
	for _, alloc := range p.Memory.Live() {
		ok, err := ex.feasible(p, inAlloc(ptr, alloc))
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, alloc)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, state.NewPathError(state.OutOfBounds, "pointer %s maps to no allocation", ptr)
	case 1:
		alloc := candidates[0]
		if err := ex.assume(p, inAlloc(ptr, alloc)); err != nil {
			return nil, err
		}
		return &resolution{
			alloc:  alloc,
			offset: ptr.Sub(alloc.BaseBV()),
		}, nil
	default:
		children := make([]*state.Path, len(candidates))
		for i, alloc := range candidates {
			children[i] = p.Fork(ex.nextID(), inAlloc(ptr, alloc))
		}
		return &resolution{children: children}, nil
	}
}

// memLoad reads n bytes through a pointer, little-endian. A non-nil
// children slice means the caller must fork instead.
func (ex *Executor) memLoad(p *state.Path, ptr *smt.BitVec, n uint64) (*smt.BitVec, []*state.Path, *state.PathError) {
	res, err := ex.resolve(p, ptr)
	if err != nil {
		return nil, nil, err
	}
	if res.children != nil {
		return nil, res.children, nil
	}
	cells, err := ex.readResolved(p, res, n)
	if err != nil {
		return nil, nil, err
	}
	return concatBytes(cells), nil, nil
}

// readResolved reads from a pinned (allocation, offset) pair, handling
// symbolic offsets and their bounds.
func (ex *Executor) readResolved(p *state.Path, res *resolution, n uint64) ([]*smt.BitVec, *state.PathError) {
	alloc := res.alloc
	if res.offset.IsConcrete() {
		cells, err := p.Memory.ReadBytes(alloc.ID, res.offset.ConstUint64(), n)
		if err != nil {
			return nil, err
		}
		return cells, nil
	}
	if err := ex.boundSymbolicOffset(p, res, n); err != nil {
		return nil, err
	}
	return p.Memory.ReadBytesSym(alloc.ID, res.offset, n)
}

// memStore writes a value through a pointer, little-endian.
func (ex *Executor) memStore(p *state.Path, ptr, val *smt.BitVec, n uint64) ([]*state.Path, *state.PathError) {
	res, err := ex.resolve(p, ptr)
	if err != nil {
		return nil, err
	}
	if res.children != nil {
		return res.children, nil
	}
	cells := splitBytes(val, n)
	if res.offset.IsConcrete() {
		return nil, p.Memory.WriteBytes(res.alloc.ID, res.offset.ConstUint64(), cells)
	}
	if err := ex.boundSymbolicOffset(p, res, n); err != nil {
		return nil, err
	}
	return nil, p.Memory.WriteBytesSym(res.alloc.ID, res.offset, cells)
}

// boundSymbolicOffset raises OutOfBounds if an n-byte access at the
// symbolic offset can escape the allocation, then pins the offset into
// range for the ite fold.
func (ex *Executor) boundSymbolicOffset(p *state.Path, res *resolution, n uint64) *state.PathError {
	alloc := res.alloc
	if n > alloc.Size {
		return state.NewPathError(state.OutOfBounds,
			"access of %d bytes in allocation %d of %d bytes", n, alloc.ID, alloc.Size)
	}
	limit := smt.NewBitVecValInt64(int64(alloc.Size-n), 64)
	escapes, err := ex.feasible(p, res.offset.Ugt(limit))
	if err != nil {
		return err
	}
	if escapes {
		return state.NewPathError(state.OutOfBounds,
			"symbolic offset may escape allocation %d", alloc.ID)
	}
	return ex.assume(p, res.offset.Ule(limit))
}

// concreteLength turns a possibly-symbolic length into one concrete
// value, forking when several lengths are feasible. Bounded by
// DefaultMaxLengthForks; more feasible lengths than that is an
// unsupported access.
func (ex *Executor) concreteLength(p *state.Path, length *smt.BitVec) (uint64, []*state.Path, *state.PathError) {
	if length.IsConcrete() {
		return length.ConstUint64(), nil, nil
	}
	values, err := ex.solutions(p, length, DefaultMaxLengthForks)
	if err != nil {
		return 0, nil, err
	}
	switch len(values) {
	case 0:
		return 0, nil, state.NewPathError(state.InternalInvariant, "length %s has no solution", length)
	case 1:
		pin := length.Eq(smt.NewBitVecVal(values[0], length.Size()))
		if err := ex.assume(p, pin); err != nil {
			return 0, nil, err
		}
		return values[0].Uint64(), nil, nil
	default:
		children := make([]*state.Path, len(values))
		for i, v := range values {
			children[i] = p.Fork(ex.nextID(), length.Eq(smt.NewBitVecVal(v, length.Size())))
		}
		return 0, children, nil
	}
}

// solutions enumerates up to max satisfying concrete values for bv
// under the active scope, by repeatedly excluding found models.
func (ex *Executor) solutions(p *state.Path, bv *smt.BitVec, max int) ([]*big.Int, *state.PathError) {
	if err := ex.solver.Push(); err != nil {
		return nil, state.NewPathError(state.InternalInvariant, "%v", err)
	}
	defer func() { _ = ex.solver.Pop() }()

	var values []*big.Int
	for len(values) <= max {
		status := ex.solver.Check()
		if status == smt.Unsat {
			return values, nil
		}
		if status == smt.Unknown {
			if ex.config.UnknownPolicy == TreatAsError {
				return nil, state.NewPathError(state.SolverUnknown, "solution enumeration unknown")
			}
			p.Warn("solver unknown during solution enumeration")
			return values, nil
		}
		model, err := ex.solver.Model()
		if err != nil {
			return nil, state.NewPathError(state.InternalInvariant, "%v", err)
		}
		v, err := model.Eval(bv)
		if err != nil {
			return nil, state.NewPathError(state.InternalInvariant, "%v", err)
		}
		values = append(values, v)
		if aerr := ex.solver.Assert(bv.Ne(smt.NewBitVecVal(v, bv.Size()))); aerr != nil {
			return nil, state.NewPathError(state.InternalInvariant, "%v", aerr)
		}
	}
	return nil, state.NewPathError(state.UnsupportedSymbolicOffset,
		"more than %d feasible values for %s", max, bv)
}

// memCopy implements the memcpy and memmove primitives: all source
// bytes are staged before the destination is written, which matches
// forward copy for dst < src and reverse copy otherwise.
func (ex *Executor) memCopy(p *state.Path, dst, src, length *smt.BitVec) ([]*state.Path, *state.PathError) {
	n, children, err := ex.concreteLength(p, length)
	if err != nil || children != nil {
		return children, err
	}
	if n == 0 {
		return nil, nil
	}
	srcRes, err := ex.resolve(p, src)
	if err != nil {
		return nil, err
	}
	if srcRes.children != nil {
		return srcRes.children, nil
	}
	dstRes, err := ex.resolve(p, dst)
	if err != nil {
		return nil, err
	}
	if dstRes.children != nil {
		return dstRes.children, nil
	}
	cells, err := ex.readResolved(p, srcRes, n)
	if err != nil {
		return nil, err
	}
	return nil, ex.writeResolved(p, dstRes, cells)
}

func (ex *Executor) writeResolved(p *state.Path, res *resolution, cells []*smt.BitVec) *state.PathError {
	if res.offset.IsConcrete() {
		return p.Memory.WriteBytes(res.alloc.ID, res.offset.ConstUint64(), cells)
	}
	if err := ex.boundSymbolicOffset(p, res, uint64(len(cells))); err != nil {
		return err
	}
	return p.Memory.WriteBytesSym(res.alloc.ID, res.offset, cells)
}

// memSet fills n bytes with one 8-bit value.
func (ex *Executor) memSet(p *state.Path, dst, val, length *smt.BitVec) ([]*state.Path, *state.PathError) {
	if val.Size() != 8 {
		val = val.Trunc(8)
	}
	n, children, err := ex.concreteLength(p, length)
	if err != nil || children != nil {
		return children, err
	}
	if n == 0 {
		return nil, nil
	}
	dstRes, err := ex.resolve(p, dst)
	if err != nil {
		return nil, err
	}
	if dstRes.children != nil {
		return dstRes.children, nil
	}
	cells := make([]*smt.BitVec, n)
	for i := range cells {
		cells[i] = val
	}
	return nil, ex.writeResolved(p, dstRes, cells)
}

// checkAlignment warns when an access cannot be shown aligned; a
// concrete misaligned address is still only a warning by default.
func (ex *Executor) checkAlignment(p *state.Path, ptr *smt.BitVec, align uint64) {
	if align <= 1 {
		return
	}
	if ptr.IsConcrete() {
		if ptr.ConstUint64()%align != 0 {
			p.Warn(fmt.Sprintf("misaligned access: 0x%x %% %d != 0", ptr.ConstUint64(), align))
		}
		return
	}
	mask := smt.NewBitVecValInt64(int64(align-1), 64)
	zero := smt.NewBitVecValInt64(0, 64)
	misaligned, err := ex.feasible(p, ptr.And(mask).Ne(zero))
	if err == nil && misaligned {
		p.Warn(fmt.Sprintf("possibly misaligned access (align %d)", align))
	}
}
