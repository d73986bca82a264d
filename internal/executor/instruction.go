package executor

import (
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"gsymex/internal/llvm/state"
	"gsymex/internal/smt"
)

// binFn is the scalar effect of a binary instruction; vector forms
// apply it per lane.
type binFn func(a, b *smt.BitVec) (*smt.BitVec, *state.PathError)

func pure(f func(a, b *smt.BitVec) *smt.BitVec) binFn {
	return func(a, b *smt.BitVec) (*smt.BitVec, *state.PathError) {
		return f(a, b), nil
	}
}

// opcodeName derives the IR opcode from the instruction type.
func opcodeName(inst interface{}) string {
	name := fmt.Sprintf("%T", inst)
	name = strings.TrimPrefix(name, "*ir.Inst")
	name = strings.TrimPrefix(name, "*ir.Term")
	return strings.ToLower(name)
}

func asBlock(v interface{}) *ir.Block {
	b, _ := v.(*ir.Block)
	return b
}

func (ex *Executor) execInstruction(p *state.Path, inst ir.Instruction) ([]*state.Path, *state.PathError) {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		return nil, ex.binop(p, inst, inst.X, inst.Y, pure((*smt.BitVec).Add))
	case *ir.InstSub:
		return nil, ex.binop(p, inst, inst.X, inst.Y, pure((*smt.BitVec).Sub))
	case *ir.InstMul:
		return nil, ex.binop(p, inst, inst.X, inst.Y, pure((*smt.BitVec).Mul))
	case *ir.InstUDiv:
		return nil, ex.binop(p, inst, inst.X, inst.Y, ex.guarded(p, (*smt.BitVec).UDiv))
	case *ir.InstSDiv:
		return nil, ex.binop(p, inst, inst.X, inst.Y, ex.guarded(p, (*smt.BitVec).SDiv))
	case *ir.InstURem:
		return nil, ex.binop(p, inst, inst.X, inst.Y, ex.guarded(p, (*smt.BitVec).URem))
	case *ir.InstSRem:
		return nil, ex.binop(p, inst, inst.X, inst.Y, ex.guarded(p, (*smt.BitVec).SRem))

	case *ir.InstAnd:
		return nil, ex.binop(p, inst, inst.X, inst.Y, pure((*smt.BitVec).And))
	case *ir.InstOr:
		return nil, ex.binop(p, inst, inst.X, inst.Y, pure((*smt.BitVec).Or))
	case *ir.InstXor:
		return nil, ex.binop(p, inst, inst.X, inst.Y, pure((*smt.BitVec).Xor))
	case *ir.InstShl:
		return nil, ex.binop(p, inst, inst.X, inst.Y, ex.shift((*smt.BitVec).Shl))
	case *ir.InstLShr:
		return nil, ex.binop(p, inst, inst.X, inst.Y, ex.shift((*smt.BitVec).LShr))
	case *ir.InstAShr:
		return nil, ex.binop(p, inst, inst.X, inst.Y, ex.shift((*smt.BitVec).AShr))

	case *ir.InstICmp:
		return nil, ex.icmp(p, inst)

	case *ir.InstExtractValue:
		return nil, ex.extractValue(p, inst)
	case *ir.InstInsertValue:
		return nil, ex.insertValue(p, inst)

	case *ir.InstAlloca:
		return ex.alloca(p, inst)
	case *ir.InstLoad:
		return ex.load(p, inst)
	case *ir.InstStore:
		return ex.store(p, inst)
	case *ir.InstGetElementPtr:
		return nil, ex.gep(p, inst)

	case *ir.InstTrunc:
		return nil, ex.resize(p, inst, inst.From, inst.To, false)
	case *ir.InstZExt:
		return nil, ex.resize(p, inst, inst.From, inst.To, false)
	case *ir.InstSExt:
		return nil, ex.resize(p, inst, inst.From, inst.To, true)
	case *ir.InstPtrToInt:
		return nil, ex.resize(p, inst, inst.From, inst.To, false)
	case *ir.InstIntToPtr:
		return nil, ex.resize(p, inst, inst.From, inst.To, false)
	case *ir.InstBitCast:
		x, err := ex.operand(p, inst.From)
		if err != nil {
			return nil, err
		}
		return nil, ex.assign(p, inst, x)
	case *ir.InstAddrSpaceCast:
		// Address spaces are unmodeled; treated as bitcast.
		x, err := ex.operand(p, inst.From)
		if err != nil {
			return nil, err
		}
		return nil, ex.assign(p, inst, x)

	case *ir.InstPhi:
		return nil, ex.phi(p, inst)
	case *ir.InstSelect:
		return nil, ex.selectInst(p, inst)
	case *ir.InstCall:
		return ex.execCall(p, inst)

	default:
		return nil, state.NewPathError(state.UnsupportedInstruction, "%s", opcodeName(inst))
	}
}

// guarded wraps division: DivByZero when the divisor can be zero under
// the path constraint, otherwise the divisor is asserted non-zero.
func (ex *Executor) guarded(p *state.Path, f func(a, b *smt.BitVec) *smt.BitVec) binFn {
	return func(a, b *smt.BitVec) (*smt.BitVec, *state.PathError) {
		zero := smt.NewBitVecValInt64(0, b.Size())
		if b.IsConcrete() {
			if b.ConstValue().Sign() == 0 {
				return nil, state.NewPathError(state.DivByZero, "concrete zero divisor")
			}
			return f(a, b), nil
		}
		canZero, err := ex.feasible(p, b.Eq(zero))
		if err != nil {
			return nil, err
		}
		if canZero {
			return nil, state.NewPathError(state.DivByZero, "divisor can be zero")
		}
		if aerr := ex.assume(p, b.Ne(zero)); aerr != nil {
			return nil, aerr
		}
		return f(a, b), nil
	}
}

// shift models oversized concrete shift amounts as poison: a fresh
// unconstrained symbol. Symbolic amounts go through the masked shift.
func (ex *Executor) shift(f func(a, b *smt.BitVec) *smt.BitVec) binFn {
	return func(a, b *smt.BitVec) (*smt.BitVec, *state.PathError) {
		if b.IsConcrete() && b.ConstUint64() >= uint64(a.Size()) {
			return ex.freshPoison(a.Size()), nil
		}
		return f(a, b), nil
	}
}

// binop evaluates both operands and applies f, per lane for vectors.
func (ex *Executor) binop(p *state.Path, inst value.Named, xv, yv value.Value, f binFn) *state.PathError {
	x, err := ex.operand(p, xv)
	if err != nil {
		return err
	}
	y, err := ex.operand(p, yv)
	if err != nil {
		return err
	}
	if vt, ok := inst.Type().(*types.VectorType); ok {
		laneWidth, lerr := ex.project.Layout().BitSizeOf(vt.ElemType)
		if lerr != nil {
			return state.NewPathError(state.UnsupportedInstruction, "%v", lerr)
		}
		xs := splitLanes(x, vt.Len, laneWidth)
		ys := splitLanes(y, vt.Len, laneWidth)
		results := make([]*smt.BitVec, vt.Len)
		for i := range xs {
			r, ferr := f(xs[i], ys[i])
			if ferr != nil {
				return ferr
			}
			results[i] = r
		}
		return ex.assign(p, inst, joinLanes(results))
	}
	result, ferr := f(x, y)
	if ferr != nil {
		return ferr
	}
	return ex.assign(p, inst, result)
}

// splitLanes slices a lane-concatenated vector value, lane 0 lowest.
func splitLanes(bv *smt.BitVec, n uint64, w uint32) []*smt.BitVec {
	lanes := make([]*smt.BitVec, n)
	for i := uint64(0); i < n; i++ {
		lo := uint32(i) * w
		lanes[i] = bv.Extract(lo+w-1, lo)
	}
	return lanes
}

func joinLanes(lanes []*smt.BitVec) *smt.BitVec {
	var result *smt.BitVec
	for i := len(lanes) - 1; i >= 0; i-- {
		if result == nil {
			result = lanes[i]
		} else {
			result = smt.Concat(result, lanes[i])
		}
	}
	return result
}

func icmpFn(pred enum.IPred) func(a, b *smt.BitVec) *smt.Bool {
	switch pred {
	case enum.IPredEQ:
		return (*smt.BitVec).Eq
	case enum.IPredNE:
		return (*smt.BitVec).Ne
	case enum.IPredUGT:
		return (*smt.BitVec).Ugt
	case enum.IPredUGE:
		return (*smt.BitVec).Uge
	case enum.IPredULT:
		return (*smt.BitVec).Ult
	case enum.IPredULE:
		return (*smt.BitVec).Ule
	case enum.IPredSGT:
		return (*smt.BitVec).Sgt
	case enum.IPredSGE:
		return (*smt.BitVec).Sge
	case enum.IPredSLT:
		return (*smt.BitVec).Slt
	default:
		return (*smt.BitVec).Sle
	}
}

func (ex *Executor) icmp(p *state.Path, inst *ir.InstICmp) *state.PathError {
	x, err := ex.operand(p, inst.X)
	if err != nil {
		return err
	}
	y, err := ex.operand(p, inst.Y)
	if err != nil {
		return err
	}
	cmp := icmpFn(inst.Pred)
	if vt, ok := inst.X.Type().(*types.VectorType); ok {
		laneWidth, lerr := ex.project.Layout().BitSizeOf(vt.ElemType)
		if lerr != nil {
			return state.NewPathError(state.UnsupportedInstruction, "%v", lerr)
		}
		xs := splitLanes(x, vt.Len, laneWidth)
		ys := splitLanes(y, vt.Len, laneWidth)
		results := make([]*smt.BitVec, vt.Len)
		for i := range xs {
			results[i] = cmp(xs[i], ys[i]).AsBitVec()
		}
		return ex.assign(p, inst, joinLanes(results))
	}
	return ex.assign(p, inst, cmp(x, y).AsBitVec())
}

func (ex *Executor) extractValue(p *state.Path, inst *ir.InstExtractValue) *state.PathError {
	x, err := ex.operand(p, inst.X)
	if err != nil {
		return err
	}
	layout := ex.project.Layout()
	offset, fieldType, oerr := layout.OffsetOf(inst.X.Type(), inst.Indices)
	if oerr != nil {
		return state.NewPathError(state.InternalInvariant, "extractvalue: %v", oerr)
	}
	width, werr := layout.BitSizeOf(fieldType)
	if werr != nil {
		return state.NewPathError(state.UnsupportedInstruction, "%v", werr)
	}
	lo := uint32(offset * 8)
	return ex.assign(p, inst, x.Extract(lo+width-1, lo))
}

func (ex *Executor) insertValue(p *state.Path, inst *ir.InstInsertValue) *state.PathError {
	x, err := ex.operand(p, inst.X)
	if err != nil {
		return err
	}
	elem, err := ex.operand(p, inst.Elem)
	if err != nil {
		return err
	}
	layout := ex.project.Layout()
	offset, fieldType, oerr := layout.OffsetOf(inst.X.Type(), inst.Indices)
	if oerr != nil {
		return state.NewPathError(state.InternalInvariant, "insertvalue: %v", oerr)
	}
	width, werr := layout.BitSizeOf(fieldType)
	if werr != nil {
		return state.NewPathError(state.UnsupportedInstruction, "%v", werr)
	}
	if elem.Size() != width {
		return state.NewPathError(state.InternalInvariant,
			"insertvalue element width %d, field width %d", elem.Size(), width)
	}
	lo := uint32(offset * 8)
	result := elem
	if lo > 0 {
		result = smt.Concat(result, x.Extract(lo-1, 0))
	}
	if lo+width < x.Size() {
		result = smt.Concat(x.Extract(x.Size()-1, lo+width), result)
	}
	return ex.assign(p, inst, result)
}

func (ex *Executor) alloca(p *state.Path, inst *ir.InstAlloca) ([]*state.Path, *state.PathError) {
	layout := ex.project.Layout()
	elemSize, err := layout.SizeOf(inst.ElemType)
	if err != nil {
		return nil, state.NewPathError(state.UnsupportedInstruction, "alloca: %v", err)
	}
	count := uint64(1)
	if inst.NElems != nil {
		nbv, oerr := ex.operand(p, inst.NElems)
		if oerr != nil {
			return nil, oerr
		}
		var children []*state.Path
		count, children, oerr = ex.concreteLength(p, nbv)
		if oerr != nil || children != nil {
			return children, oerr
		}
	}
	align := uint64(inst.Align)
	if align == 0 {
		if align, err = layout.AlignOf(inst.ElemType); err != nil {
			align = 1
		}
	}
	alloc := p.Memory.Allocate(elemSize*count, align, state.StackAlloc)
	frame := p.Frame()
	frame.Allocas = append(frame.Allocas, alloc.ID)
	return nil, ex.assign(p, inst, alloc.BaseBV())
}

func (ex *Executor) load(p *state.Path, inst *ir.InstLoad) ([]*state.Path, *state.PathError) {
	layout := ex.project.Layout()
	n, serr := layout.SizeOf(inst.ElemType)
	if serr != nil {
		return nil, state.NewPathError(state.UnsupportedInstruction, "load: %v", serr)
	}
	ptr, err := ex.operand(p, inst.Src)
	if err != nil {
		return nil, err
	}
	ex.checkAlignment(p, ptr, uint64(inst.Align))
	value, children, err := ex.memLoad(p, ptr, n)
	if err != nil || children != nil {
		return children, err
	}
	width, werr := layout.BitSizeOf(inst.ElemType)
	if werr != nil {
		return nil, state.NewPathError(state.UnsupportedInstruction, "%v", werr)
	}
	if value.Size() > width {
		value = value.Trunc(width)
	}
	return nil, ex.assign(p, inst, value)
}

func (ex *Executor) store(p *state.Path, inst *ir.InstStore) ([]*state.Path, *state.PathError) {
	layout := ex.project.Layout()
	n, serr := layout.SizeOf(inst.Src.Type())
	if serr != nil {
		return nil, state.NewPathError(state.UnsupportedInstruction, "store: %v", serr)
	}
	val, err := ex.operand(p, inst.Src)
	if err != nil {
		return nil, err
	}
	ptr, err := ex.operand(p, inst.Dst)
	if err != nil {
		return nil, err
	}
	ex.checkAlignment(p, ptr, uint64(inst.Align))
	children, err := ex.memStore(p, ptr, val, n)
	if err != nil || children != nil {
		return children, err
	}
	ex.advance(p)
	return nil, nil
}

// gep folds the index chain into a byte offset: pointer plus the sum of
// strides, signed 64-bit arithmetic, symbolic indices allowed except
// into struct fields.
func (ex *Executor) gep(p *state.Path, inst *ir.InstGetElementPtr) *state.PathError {
	layout := ex.project.Layout()
	base, err := ex.operand(p, inst.Src)
	if err != nil {
		return err
	}
	offset := smt.NewBitVecValInt64(0, 64)
	cur := inst.ElemType
	for i, idxV := range inst.Indices {
		if i > 0 {
			if st, ok := cur.(*types.StructType); ok {
				ci, isConst := indexConst(idxV)
				if !isConst {
					return state.NewPathError(state.InternalInvariant, "symbolic struct index in gep")
				}
				fieldOff, ferr := layout.FieldOffset(st, int(ci))
				if ferr != nil {
					return state.NewPathError(state.InternalInvariant, "gep: %v", ferr)
				}
				offset = offset.Add(smt.NewBitVecValInt64(int64(fieldOff), 64))
				cur = st.Fields[ci]
				continue
			}
			switch ct := cur.(type) {
			case *types.ArrayType:
				cur = ct.ElemType
			case *types.VectorType:
				cur = ct.ElemType
			default:
				return state.NewPathError(state.InternalInvariant, "cannot gep into %v", cur)
			}
		}
		stride, serr := layout.StrideOf(cur)
		if serr != nil {
			return state.NewPathError(state.UnsupportedInstruction, "gep: %v", serr)
		}
		idx, oerr := ex.operand(p, idxV)
		if oerr != nil {
			return oerr
		}
		idx = resize64(idx)
		offset = offset.Add(idx.Mul(smt.NewBitVecValInt64(int64(stride), 64)))
	}
	return ex.assign(p, inst, base.Add(offset))
}

// resize64 brings an index to pointer width, sign extending.
func resize64(bv *smt.BitVec) *smt.BitVec {
	if bv.Size() < 64 {
		return bv.SExt(64)
	}
	if bv.Size() > 64 {
		return bv.Trunc(64)
	}
	return bv
}

func indexConst(v value.Value) (int64, bool) {
	if ci, ok := v.(*constant.Int); ok {
		return ci.X.Int64(), true
	}
	return 0, false
}

// resize implements trunc/zext/sext/ptrtoint/inttoptr by adjusting the
// operand to the destination width.
func (ex *Executor) resize(p *state.Path, inst value.Named, from value.Value, to types.Type, signed bool) *state.PathError {
	x, err := ex.operand(p, from)
	if err != nil {
		return err
	}
	width, werr := ex.project.Layout().BitSizeOf(to)
	if werr != nil {
		return state.NewPathError(state.UnsupportedInstruction, "%v", werr)
	}
	switch {
	case width < x.Size():
		x = x.Trunc(width)
	case width > x.Size() && signed:
		x = x.SExt(width)
	case width > x.Size():
		x = x.ZExt(width)
	}
	return ex.assign(p, inst, x)
}

// phi selects the incoming value matching the predecessor block.
func (ex *Executor) phi(p *state.Path, inst *ir.InstPhi) *state.PathError {
	prev := p.Frame().PrevBlock
	if prev == nil {
		return state.NewPathError(state.InternalInvariant, "phi with no predecessor")
	}
	for _, inc := range inst.Incs {
		pred := asBlock(inc.Pred)
		if pred == nil || pred.Ident() != prev.Ident() {
			continue
		}
		x, err := ex.operand(p, inc.X)
		if err != nil {
			return err
		}
		return ex.assign(p, inst, x)
	}
	return state.NewPathError(state.InternalInvariant,
		"phi has no incoming value for %s", prev.Ident())
}

func (ex *Executor) selectInst(p *state.Path, inst *ir.InstSelect) *state.PathError {
	cond, err := ex.operand(p, inst.Cond)
	if err != nil {
		return err
	}
	x, err := ex.operand(p, inst.ValueTrue)
	if err != nil {
		return err
	}
	y, err := ex.operand(p, inst.ValueFalse)
	if err != nil {
		return err
	}
	if vt, ok := inst.Cond.Type().(*types.VectorType); ok {
		laneWidth, lerr := ex.project.Layout().BitSizeOf(inst.Type())
		if lerr != nil {
			return state.NewPathError(state.UnsupportedInstruction, "%v", lerr)
		}
		laneWidth /= uint32(vt.Len)
		conds := splitLanes(cond, vt.Len, 1)
		xs := splitLanes(x, vt.Len, laneWidth)
		ys := splitLanes(y, vt.Len, laneWidth)
		results := make([]*smt.BitVec, vt.Len)
		for i := range conds {
			results[i] = smt.Ite(conds[i].AsBool(), xs[i], ys[i])
		}
		return ex.assign(p, inst, joinLanes(results))
	}
	return ex.assign(p, inst, smt.Ite(cond.AsBool(), x, y))
}

func (ex *Executor) execTerminator(p *state.Path, term ir.Terminator) ([]*state.Path, *state.PathError) {
	switch t := term.(type) {
	case *ir.TermRet:
		return nil, ex.ret(p, t)

	case *ir.TermBr:
		target := asBlock(t.Target)
		if target == nil {
			return nil, state.NewPathError(state.InternalInvariant, "br target is no block")
		}
		p.Frame().EnterBlock(target)
		return nil, nil

	case *ir.TermCondBr:
		return ex.condBr(p, t)

	case *ir.TermSwitch:
		return ex.execSwitch(p, t)

	case *ir.TermIndirectBr:
		return ex.indirectBr(p, t)

	case *ir.TermUnreachable:
		return nil, state.NewPathError(state.UnreachableReached, "unreachable executed")

	default:
		return nil, state.NewPathError(state.UnsupportedInstruction, "%s", opcodeName(term))
	}
}

func (ex *Executor) ret(p *state.Path, t *ir.TermRet) *state.PathError {
	var ret *smt.BitVec
	if t.X != nil {
		var err *state.PathError
		if ret, err = ex.operand(p, t.X); err != nil {
			return err
		}
	}
	frame := p.PopFrame()
	if len(p.Frames) == 0 {
		p.RetVal = ret
		if ret != nil {
			p.Terminate(state.Returned)
		} else {
			p.Terminate(state.ReturnedVoid)
		}
		return nil
	}
	if frame.RetDst != nil {
		if ret == nil {
			return state.NewPathError(state.InternalInvariant,
				"void return into register %s", frame.RetDst.Ident())
		}
		if err := p.Frame().AssignRegister(frame.RetDst, ret); err != nil {
			return err
		}
	}
	ex.advance(p)
	return nil
}

// condBr checks both branch conditions for feasibility, drops unsat
// sides, and forks when both survive, true child first.
func (ex *Executor) condBr(p *state.Path, t *ir.TermCondBr) ([]*state.Path, *state.PathError) {
	condBV, err := ex.operand(p, t.Cond)
	if err != nil {
		return nil, err
	}
	cond := condBV.AsBool()
	trueBlock := asBlock(t.TargetTrue)
	falseBlock := asBlock(t.TargetFalse)
	if trueBlock == nil || falseBlock == nil {
		return nil, state.NewPathError(state.InternalInvariant, "condbr target is no block")
	}
	trueOK, err := ex.feasible(p, cond)
	if err != nil {
		return nil, err
	}
	notCond := cond.Not()
	falseOK, err := ex.feasible(p, notCond)
	if err != nil {
		return nil, err
	}
	switch {
	case trueOK && falseOK:
		childTrue := p.Fork(ex.nextID(), cond)
		childTrue.Frame().EnterBlock(trueBlock)
		childFalse := p.Fork(ex.nextID(), notCond)
		childFalse.Frame().EnterBlock(falseBlock)
		return []*state.Path{childTrue, childFalse}, nil
	case trueOK:
		if aerr := ex.assume(p, cond); aerr != nil {
			return nil, aerr
		}
		p.Frame().EnterBlock(trueBlock)
		return nil, nil
	case falseOK:
		if aerr := ex.assume(p, notCond); aerr != nil {
			return nil, aerr
		}
		p.Frame().EnterBlock(falseBlock)
		return nil, nil
	default:
		p.Warn("both branch sides infeasible")
		p.Terminate(state.AssumptionUnsat)
		return nil, nil
	}
}

type switchTarget struct {
	cond  *smt.Bool
	block *ir.Block
}

func (ex *Executor) execSwitch(p *state.Path, t *ir.TermSwitch) ([]*state.Path, *state.PathError) {
	x, err := ex.operand(p, t.X)
	if err != nil {
		return nil, err
	}
	defaultCond := smt.NewBoolVal(true)
	var targets []switchTarget
	for _, c := range t.Cases {
		cv, cerr := ex.operand(p, c.X)
		if cerr != nil {
			return nil, cerr
		}
		hit := x.Eq(cv)
		defaultCond = defaultCond.And(hit.Not())
		block := asBlock(c.Target)
		if block == nil {
			return nil, state.NewPathError(state.InternalInvariant, "switch case target is no block")
		}
		targets = append(targets, switchTarget{cond: hit, block: block})
	}
	defaultBlock := asBlock(t.TargetDefault)
	if defaultBlock == nil {
		return nil, state.NewPathError(state.InternalInvariant, "switch default is no block")
	}
	targets = append(targets, switchTarget{cond: defaultCond, block: defaultBlock})
	return ex.branchTargets(p, targets)
}

// branchTargets keeps the feasible targets, continuing in place for one
// and forking for several, in declaration order.
func (ex *Executor) branchTargets(p *state.Path, targets []switchTarget) ([]*state.Path, *state.PathError) {
	var live []switchTarget
	for _, target := range targets {
		ok, err := ex.feasible(p, target.cond)
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, target)
		}
	}
	switch len(live) {
	case 0:
		p.Warn("no feasible branch target")
		p.Terminate(state.AssumptionUnsat)
		return nil, nil
	case 1:
		if err := ex.assume(p, live[0].cond); err != nil {
			return nil, err
		}
		p.Frame().EnterBlock(live[0].block)
		return nil, nil
	default:
		children := make([]*state.Path, len(live))
		for i, target := range live {
			child := p.Fork(ex.nextID(), target.cond)
			child.Frame().EnterBlock(target.block)
			children[i] = child
		}
		return children, nil
	}
}

// indirectBr forks over the valid targets whose block address can equal
// the operand.
func (ex *Executor) indirectBr(p *state.Path, t *ir.TermIndirectBr) ([]*state.Path, *state.PathError) {
	addr, err := ex.operand(p, t.Addr)
	if err != nil {
		return nil, err
	}
	fnName := p.Frame().Fn.Name()
	var targets []switchTarget
	for _, tv := range t.ValidTargets {
		block := asBlock(tv)
		if block == nil {
			continue
		}
		blockAddr, ok := ex.project.BlockAddress(fnName, block.Ident())
		if !ok {
			continue
		}
		hit := addr.Eq(smt.NewBitVecVal(u64big(blockAddr), 64))
		targets = append(targets, switchTarget{cond: hit, block: block})
	}
	if len(targets) == 0 {
		return nil, state.NewPathError(state.UnreachableReached, "indirectbr with no valid target")
	}
	return ex.branchTargets(p, targets)
}
