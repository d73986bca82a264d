package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"gsymex/internal/llvm/state"
	"gsymex/internal/smt"
)

// Intrinsic gives engine semantics to a declared function: an LLVM
// intrinsic or a builtin hook the analyzed program calls to talk to the
// engine. A non-nil children slice means the call forked.
type Intrinsic func(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError)

type prefixHook struct {
	prefix string
	fn     Intrinsic
}

// Intrinsics is the registry: exact names first, then the longest
// matching prefix for the type-suffixed llvm.* families.
type Intrinsics struct {
	fixed    map[string]Intrinsic
	prefixes []prefixHook
}

func (in *Intrinsics) addFixed(name string, fn Intrinsic) {
	in.fixed[name] = fn
}

func (in *Intrinsics) addPrefix(prefix string, fn Intrinsic) {
	in.prefixes = append(in.prefixes, prefixHook{prefix: prefix, fn: fn})
}

func (in *Intrinsics) Lookup(name string) Intrinsic {
	if fn, ok := in.fixed[name]; ok {
		return fn
	}
	var best Intrinsic
	bestLen := -1
	for _, h := range in.prefixes {
		if strings.HasPrefix(name, h.prefix) && len(h.prefix) > bestLen {
			best = h.fn
			bestLen = len(h.prefix)
		}
	}
	return best
}

func defaultIntrinsics() *Intrinsics {
	in := &Intrinsics{fixed: make(map[string]Intrinsic)}

	in.addFixed("llvm.assume", intrAssume)

	// Builtin hooks used by analyzed programs.
	in.addFixed("symbolic", hookSymbolic)
	in.addFixed("assume", intrAssume)
	in.addFixed("malloc", hookMalloc)
	in.addFixed("calloc", hookCalloc)
	in.addFixed("realloc", hookRealloc)
	in.addFixed("free", hookFree)
	in.addFixed("abort", hookAbort)
	in.addFixed("exit", hookExit)

	in.addPrefix("llvm.memcpy", intrMemCopy)
	in.addPrefix("llvm.memmove", intrMemCopy)
	in.addPrefix("llvm.memset", intrMemSet)

	in.addPrefix("llvm.uadd.with.overflow", overflowIntrinsic(false, opAdd))
	in.addPrefix("llvm.sadd.with.overflow", overflowIntrinsic(true, opAdd))
	in.addPrefix("llvm.usub.with.overflow", overflowIntrinsic(false, opSub))
	in.addPrefix("llvm.ssub.with.overflow", overflowIntrinsic(true, opSub))
	in.addPrefix("llvm.umul.with.overflow", overflowIntrinsic(false, opMul))
	in.addPrefix("llvm.smul.with.overflow", overflowIntrinsic(true, opMul))

	in.addPrefix("llvm.uadd.sat", satIntrinsic(false, opAdd))
	in.addPrefix("llvm.sadd.sat", satIntrinsic(true, opAdd))
	in.addPrefix("llvm.usub.sat", satIntrinsic(false, opSub))
	in.addPrefix("llvm.ssub.sat", satIntrinsic(true, opSub))

	in.addPrefix("llvm.umax", minmaxIntrinsic((*smt.BitVec).Ugt))
	in.addPrefix("llvm.umin", minmaxIntrinsic((*smt.BitVec).Ult))
	in.addPrefix("llvm.smax", minmaxIntrinsic((*smt.BitVec).Sgt))
	in.addPrefix("llvm.smin", minmaxIntrinsic((*smt.BitVec).Slt))

	in.addPrefix("llvm.expect", intrExpect)

	// Markers with no effect on execution.
	in.addPrefix("llvm.lifetime", intrNoop)
	in.addPrefix("llvm.dbg", intrNoop)
	in.addPrefix("llvm.experimental.noalias", intrNoop)
	in.addPrefix("llvm.var.annotation", intrNoop)
	in.addPrefix("llvm.prefetch", intrNoop)

	return in
}

// execCall dispatches a call: into an IR function body, to a registered
// intrinsic, or forks over the feasible targets of an indirect call.
func (ex *Executor) execCall(p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	switch callee := call.Callee.(type) {
	case *ir.Func:
		return ex.callFunction(p, call, callee)
	case *ir.InlineAsm:
		return nil, state.NewPathError(state.UnsupportedInstruction, "inline assembly")
	default:
		return ex.callIndirect(p, call)
	}
}

func (ex *Executor) callIndirect(p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	ptr, err := ex.operand(p, call.Callee)
	if err != nil {
		return nil, err
	}
	if ptr.IsConcrete() {
		fn, ok := ex.project.FunctionAt(ptr.ConstUint64())
		if !ok {
			return nil, state.NewPathError(state.OutOfBounds,
				"indirect call to 0x%x, which is no function", ptr.ConstUint64())
		}
		return ex.callFunction(p, call, fn)
	}
	// Symbolic target: fork per feasible function address.
	var children []*state.Path
	var single *smt.Bool
	var singleFn *ir.Func
	count := 0
	for _, module := range ex.project.Modules() {
		for _, fn := range module.Funcs {
			addr, ok := ex.project.FunctionAddress(fn.Name())
			if !ok {
				continue
			}
			hit := ptr.Eq(smt.NewBitVecVal(u64big(addr), 64))
			feas, ferr := ex.feasible(p, hit)
			if ferr != nil {
				return nil, ferr
			}
			if !feas {
				continue
			}
			count++
			single, singleFn = hit, fn
			children = append(children, p.Fork(ex.nextID(), hit))
		}
	}
	switch count {
	case 0:
		return nil, state.NewPathError(state.OutOfBounds, "indirect call resolves to no function")
	case 1:
		if aerr := ex.assume(p, single); aerr != nil {
			return nil, aerr
		}
		return ex.callFunction(p, call, singleFn)
	default:
		return children, nil
	}
}

func (ex *Executor) callFunction(p *state.Path, call *ir.InstCall, fn *ir.Func) ([]*state.Path, *state.PathError) {
	if len(fn.Blocks) == 0 {
		h := ex.intrinsics.Lookup(fn.Name())
		if h == nil {
			return nil, state.NewPathError(state.UnsupportedIntrinsic, "%s", fn.Name())
		}
		return h(ex, p, call)
	}
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) < len(fn.Params) {
		return nil, state.NewPathError(state.InternalInvariant,
			"%s takes %d arguments, call has %d", fn.Name(), len(fn.Params), len(args))
	}
	var retDst value.Named
	if !types.Equal(call.Type(), types.Void) {
		retDst = call
	}
	p.PushFrame(fn, retDst)
	frame := p.Frame()
	for i, param := range fn.Params {
		if aerr := frame.AssignRegister(param, args[i]); aerr != nil {
			return nil, aerr
		}
	}
	frame.VarArgs = args[len(fn.Params):]
	return nil, nil
}

func (ex *Executor) callArgs(p *state.Path, call *ir.InstCall) ([]*smt.BitVec, *state.PathError) {
	args := make([]*smt.BitVec, len(call.Args))
	for i, arg := range call.Args {
		bv, err := ex.operand(p, arg)
		if err != nil {
			return nil, err
		}
		args[i] = bv
	}
	return args, nil
}

// finishCall assigns a call result if the call produces one, then moves
// past the call.
func (ex *Executor) finishCall(p *state.Path, call *ir.InstCall, result *smt.BitVec) *state.PathError {
	if result != nil && !types.Equal(call.Type(), types.Void) {
		return ex.assign(p, call, result)
	}
	ex.advance(p)
	return nil
}

func intrNoop(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	ex.advance(p)
	return nil, nil
}

// intrAssume asserts the condition onto the path constraint. An
// infeasible assumption quietly ends the path as AssumptionUnsat.
func intrAssume(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, state.NewPathError(state.InternalInvariant, "assume without condition")
	}
	cond := args[0]
	var b *smt.Bool
	if cond.Size() == 1 {
		b = cond.AsBool()
	} else {
		b = cond.Ne(smt.NewBitVecValInt64(0, cond.Size()))
	}
	if aerr := ex.assume(p, b); aerr != nil {
		return nil, aerr
	}
	if ex.solver.Check() == smt.Unsat {
		p.Terminate(state.AssumptionUnsat)
		return nil, nil
	}
	return nil, ex.finishCall(p, call, nil)
}

// hookSymbolic replaces size bytes behind ptr with one fresh named
// symbol of size*8 bits and registers it as a path input.
func hookSymbolic(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, state.NewPathError(state.InternalInvariant, "symbolic takes (ptr, size)")
	}
	n, children, err := ex.concreteLength(p, args[1])
	if err != nil || children != nil {
		return children, err
	}
	res, err := ex.resolve(p, args[0])
	if err != nil {
		return nil, err
	}
	if res.children != nil {
		return res.children, nil
	}
	ex.symbolicSeq++
	content := smt.NewBitVec(fmt.Sprintf("symbolic%d", ex.symbolicSeq), uint32(n*8))
	if werr := ex.writeResolved(p, res, splitBytes(content, n)); werr != nil {
		return nil, werr
	}
	p.AddInput(content)
	return nil, ex.finishCall(p, call, nil)
}

func hookMalloc(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, state.NewPathError(state.InternalInvariant, "malloc takes (size)")
	}
	n, children, err := ex.concreteLength(p, args[0])
	if err != nil || children != nil {
		return children, err
	}
	alloc := p.Memory.Allocate(n, 16, state.HeapAlloc)
	return nil, ex.finishCall(p, call, alloc.BaseBV())
}

func hookCalloc(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, state.NewPathError(state.InternalInvariant, "calloc takes (count, size)")
	}
	count, children, err := ex.concreteLength(p, args[0])
	if err != nil || children != nil {
		return children, err
	}
	size, children, err := ex.concreteLength(p, args[1])
	if err != nil || children != nil {
		return children, err
	}
	n := count * size
	alloc := p.Memory.Allocate(n, 16, state.HeapAlloc)
	zero := smt.NewBitVecValInt64(0, 8)
	cells := make([]*smt.BitVec, n)
	for i := range cells {
		cells[i] = zero
	}
	if werr := p.Memory.WriteBytes(alloc.ID, 0, cells); werr != nil {
		return nil, werr
	}
	return nil, ex.finishCall(p, call, alloc.BaseBV())
}

func hookRealloc(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, state.NewPathError(state.InternalInvariant, "realloc takes (ptr, size)")
	}
	ptr := args[0]
	n, children, err := ex.concreteLength(p, args[1])
	if err != nil || children != nil {
		return children, err
	}
	dst := p.Memory.Allocate(n, 16, state.HeapAlloc)
	if ptr.IsConcrete() && ptr.ConstUint64() == 0 {
		return nil, ex.finishCall(p, call, dst.BaseBV())
	}
	res, err := ex.resolve(p, ptr)
	if err != nil {
		return nil, err
	}
	if res.children != nil {
		return res.children, nil
	}
	keep := res.alloc.Size
	if n < keep {
		keep = n
	}
	if keep > 0 {
		cells, rerr := ex.readResolved(p, res, keep)
		if rerr != nil {
			return nil, rerr
		}
		if werr := p.Memory.WriteBytes(dst.ID, 0, cells); werr != nil {
			return nil, werr
		}
	}
	if ferr := p.Memory.Free(res.alloc.ID); ferr != nil {
		return nil, ferr
	}
	return nil, ex.finishCall(p, call, dst.BaseBV())
}

func hookFree(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, state.NewPathError(state.InternalInvariant, "free takes (ptr)")
	}
	ptr := args[0]
	if ptr.IsConcrete() {
		addr := ptr.ConstUint64()
		if addr == 0 {
			// free(NULL) is a no-op.
			return nil, ex.finishCall(p, call, nil)
		}
		alloc, ok := p.Memory.FindConcrete(addr)
		if !ok {
			return nil, state.NewPathError(state.OutOfBounds, "free of 0x%x, which is no allocation", addr)
		}
		if addr != alloc.Base {
			return nil, state.NewPathError(state.OutOfBounds, "free of interior pointer 0x%x", addr)
		}
		if ferr := p.Memory.Free(alloc.ID); ferr != nil {
			return nil, ferr
		}
		return nil, ex.finishCall(p, call, nil)
	}
	res, err := ex.resolve(p, ptr)
	if err != nil {
		return nil, err
	}
	if res.children != nil {
		return res.children, nil
	}
	if ferr := p.Memory.Free(res.alloc.ID); ferr != nil {
		return nil, ferr
	}
	return nil, ex.finishCall(p, call, nil)
}

func hookAbort(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	return nil, state.NewPathError(state.UnreachableReached, "abort called")
}

func hookExit(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	for len(p.Frames) > 0 {
		p.PopFrame()
	}
	p.Terminate(state.ReturnedVoid)
	return nil, nil
}

func intrMemCopy(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) < 3 {
		return nil, state.NewPathError(state.InternalInvariant, "memcpy takes (dst, src, len)")
	}
	children, err := ex.memCopy(p, args[0], args[1], args[2])
	if err != nil || children != nil {
		return children, err
	}
	return nil, ex.finishCall(p, call, nil)
}

func intrMemSet(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) < 3 {
		return nil, state.NewPathError(state.InternalInvariant, "memset takes (dst, val, len)")
	}
	children, err := ex.memSet(p, args[0], args[1], args[2])
	if err != nil || children != nil {
		return children, err
	}
	return nil, ex.finishCall(p, call, nil)
}

func intrExpect(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
	args, err := ex.callArgs(p, call)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, state.NewPathError(state.InternalInvariant, "expect without argument")
	}
	return nil, ex.finishCall(p, call, args[0])
}

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
)

// overflowResult computes the wrapped result and the overflow bit of a
// checked arithmetic operation at width w.
func overflowResult(signed bool, op arithOp, a, b *smt.BitVec) (*smt.BitVec, *smt.Bool) {
	w := a.Size()
	extra := uint32(1)
	if op == opMul {
		extra = w
	}
	var wa, wb *smt.BitVec
	if signed {
		wa, wb = a.SExt(w+extra), b.SExt(w+extra)
	} else {
		wa, wb = a.ZExt(w+extra), b.ZExt(w+extra)
	}
	var full *smt.BitVec
	switch op {
	case opAdd:
		full = wa.Add(wb)
	case opSub:
		full = wa.Sub(wb)
	default:
		full = wa.Mul(wb)
	}
	result := full.Trunc(w)
	var redone *smt.BitVec
	if signed {
		redone = result.SExt(w + extra)
	} else {
		redone = result.ZExt(w + extra)
	}
	return result, full.Ne(redone)
}

// overflowIntrinsic builds the {result, overflow} struct in its layout
// representation.
func overflowIntrinsic(signed bool, op arithOp) Intrinsic {
	return func(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
		args, err := ex.callArgs(p, call)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, state.NewPathError(state.InternalInvariant, "overflow intrinsic takes two arguments")
		}
		result, overflow := overflowResult(signed, op, args[0], args[1])
		st, ok := call.Type().(*types.StructType)
		if !ok {
			return nil, state.NewPathError(state.InternalInvariant, "overflow intrinsic returns %v", call.Type())
		}
		layout := ex.project.Layout()
		total, terr := layout.BitSizeOf(st)
		if terr != nil {
			return nil, state.NewPathError(state.InternalInvariant, "%v", terr)
		}
		ovOff, oerr := layout.FieldOffset(st, 1)
		if oerr != nil {
			return nil, state.NewPathError(state.InternalInvariant, "%v", oerr)
		}
		packed := result
		if pad := uint32(ovOff*8) - packed.Size(); pad > 0 {
			packed = smt.Concat(smt.NewBitVecValInt64(0, pad), packed)
		}
		packed = smt.Concat(overflow.AsBitVec(), packed)
		if pad := total - packed.Size(); pad > 0 {
			packed = smt.Concat(smt.NewBitVecValInt64(0, pad), packed)
		}
		return nil, ex.finishCall(p, call, packed)
	}
}

// satResult saturates the operation to the bounds of width w.
func satResult(signed bool, op arithOp, a, b *smt.BitVec) *smt.BitVec {
	w := a.Size()
	if !signed {
		switch op {
		case opAdd:
			full := a.ZExt(w + 1).Add(b.ZExt(w + 1))
			allOnes := smt.NewBitVecValInt64(-1, w)
			return smt.Ite(full.Extract(w, w).Eq(smt.NewBitVecValInt64(1, 1)), allOnes, full.Trunc(w))
		default: // opSub
			return smt.Ite(a.Ult(b), smt.NewBitVecValInt64(0, w), a.Sub(b))
		}
	}
	var full *smt.BitVec
	wa, wb := a.SExt(w+1), b.SExt(w+1)
	if op == opAdd {
		full = wa.Add(wb)
	} else {
		full = wa.Sub(wb)
	}
	maxS := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(w-1)), big.NewInt(1))
	minS := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(w-1)))
	overMax := full.Sgt(smt.NewBitVecVal(maxS, w+1))
	underMin := full.Slt(smt.NewBitVecVal(minS, w+1))
	return smt.Ite(overMax, smt.NewBitVecVal(maxS, w),
		smt.Ite(underMin, smt.NewBitVecVal(minS, w), full.Trunc(w)))
}

func satIntrinsic(signed bool, op arithOp) Intrinsic {
	return func(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
		args, err := ex.callArgs(p, call)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, state.NewPathError(state.InternalInvariant, "saturating intrinsic takes two arguments")
		}
		result, rerr := ex.lanewise(call, args[0], args[1], func(a, b *smt.BitVec) *smt.BitVec {
			return satResult(signed, op, a, b)
		})
		if rerr != nil {
			return nil, rerr
		}
		return nil, ex.finishCall(p, call, result)
	}
}

func minmaxIntrinsic(cmp func(a, b *smt.BitVec) *smt.Bool) Intrinsic {
	return func(ex *Executor, p *state.Path, call *ir.InstCall) ([]*state.Path, *state.PathError) {
		args, err := ex.callArgs(p, call)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, state.NewPathError(state.InternalInvariant, "min/max intrinsic takes two arguments")
		}
		result, rerr := ex.lanewise(call, args[0], args[1], func(a, b *smt.BitVec) *smt.BitVec {
			return smt.Ite(cmp(a, b), a, b)
		})
		if rerr != nil {
			return nil, rerr
		}
		return nil, ex.finishCall(p, call, result)
	}
}

// lanewise applies a scalar function per lane when the call returns a
// vector, or directly otherwise.
func (ex *Executor) lanewise(call *ir.InstCall, a, b *smt.BitVec, f func(a, b *smt.BitVec) *smt.BitVec) (*smt.BitVec, *state.PathError) {
	vt, ok := call.Type().(*types.VectorType)
	if !ok {
		return f(a, b), nil
	}
	laneWidth, err := ex.project.Layout().BitSizeOf(vt.ElemType)
	if err != nil {
		return nil, state.NewPathError(state.UnsupportedInstruction, "%v", err)
	}
	as := splitLanes(a, vt.Len, laneWidth)
	bs := splitLanes(b, vt.Len, laneWidth)
	results := make([]*smt.BitVec, vt.Len)
	for i := range as {
		results[i] = f(as[i], bs[i])
	}
	return joinLanes(results), nil
}

func u64big(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
