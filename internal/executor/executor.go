// Package executor drives symbolic execution: it advances paths one
// instruction at a time, forks them on symbolic control flow, prunes
// infeasible branches with the solver and reports every completed path.
package executor

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gsymex/internal/llvm/state"
	"gsymex/internal/project"
	"gsymex/internal/smt"
	"gsymex/internal/strategy"
)

// Executor owns the worklist, the shared solver and the intrinsic
// registry. It is single-threaded; paths never run concurrently.
type Executor struct {
	project    *project.Project
	solver     *smt.Solver
	strat      strategy.Strategy
	config     Config
	intrinsics *Intrinsics

	// activeTrail mirrors the constraints currently asserted on the
	// solver, one scope per constraint.
	activeTrail *state.Constraint

	deadline    time.Time
	cancelled   int32
	nextPathID  int
	poisonSeq   int
	symbolicSeq int
}

func NewExecutor(p *project.Project, config Config) *Executor {
	ex := &Executor{
		project:     p,
		solver:      smt.NewSolver(),
		config:      config,
		activeTrail: state.NewConstraints(),
	}
	if config.BFS {
		ex.strat = strategy.NewBFS()
	} else {
		ex.strat = strategy.NewDFS()
	}
	ex.intrinsics = defaultIntrinsics()
	return ex
}

// Cancel asks the executor to stop; polled between steps. Remaining
// paths drain as Cancelled reports.
func (ex *Executor) Cancel() {
	atomic.StoreInt32(&ex.cancelled, 1)
}

func (ex *Executor) isCancelled() bool {
	return atomic.LoadInt32(&ex.cancelled) != 0
}

func (ex *Executor) nextID() int {
	id := ex.nextPathID
	ex.nextPathID++
	return id
}

// Run explores every feasible path through the named entry function.
// With args nil every parameter becomes a fresh symbolic input;
// otherwise the given bitvectors are bound in order.
func (ex *Executor) Run(entry string, args []*smt.BitVec) ([]*Report, error) {
	fn, ok := ex.project.Function(entry)
	if !ok {
		return nil, errors.Errorf("function %s not found", entry)
	}
	if len(fn.Blocks) == 0 {
		return nil, errors.Errorf("function %s has no body", entry)
	}
	path := state.NewPath(ex.nextID(), fn, ex.config.threshold())
	if err := ex.initGlobals(path); err != nil {
		return nil, err
	}
	if err := ex.bindArguments(path, fn, args); err != nil {
		return nil, err
	}
	if ex.config.Timeout > 0 {
		ex.deadline = time.Now().Add(ex.config.Timeout)
	}
	_ = ex.strat.Push(path)

	var reports []*Report
	log.Infof("exploring %s", entry)
	for ex.strat.HasNext() {
		if ex.config.MaxPaths > 0 && len(reports) >= ex.config.MaxPaths {
			log.Infof("max paths reached, %d paths left unexplored", ex.strat.Size())
			break
		}
		p, err := ex.strat.Pop()
		if err != nil {
			return reports, errors.Wrap(err, "worklist")
		}
		if ex.isCancelled() {
			p.Terminate(state.Cancelled)
		} else if !ex.deadline.IsZero() && time.Now().After(ex.deadline) {
			p.Terminate(state.Bound)
			p.Warn("wall-clock timeout")
		}
		if err := ex.activate(p); err != nil {
			p.Fail(state.NewPathError(state.InternalInvariant, "activate: %v", err))
		}
		var children []*state.Path
		if p.Status == state.Running {
			children = ex.step(p)
		}
		if p.Status != state.Running {
			report := ex.buildReport(p)
			log.Debugf("%s", report)
			reports = append(reports, report)
			continue
		}
		if len(children) > 0 {
			_ = ex.strat.Push(children...)
		} else {
			_ = ex.strat.Push(p)
		}
	}
	log.Infof("explored %d paths", len(reports))
	return reports, nil
}

// activate restores the solver scope stack to match the path: pop to
// the common prefix with the previously active trail, then push and
// assert the remainder. Afterwards the scope depth equals the path
// constraint length.
func (ex *Executor) activate(p *state.Path) error {
	k := ex.activeTrail.CommonPrefix(p.Constraints)
	if err := ex.solver.PopTo(k); err != nil {
		return err
	}
	for i := k; i < p.Constraints.Len(); i++ {
		if err := ex.solver.Push(); err != nil {
			return err
		}
		if err := ex.solver.Assert(p.Constraints.At(i)); err != nil {
			return err
		}
	}
	ex.activeTrail = p.Constraints.Clone()
	return nil
}

// assume appends cond to the active path constraint, mirrored on the
// live solver scope.
func (ex *Executor) assume(p *state.Path, cond *smt.Bool) *state.PathError {
	p.AddConstraint(cond)
	if err := ex.solver.Push(); err != nil {
		return state.NewPathError(state.InternalInvariant, "%v", err)
	}
	if err := ex.solver.Assert(cond); err != nil {
		return state.NewPathError(state.InternalInvariant, "%v", err)
	}
	ex.activeTrail.Append(cond)
	return nil
}

// feasible asks whether the active scope plus cond is satisfiable.
func (ex *Executor) feasible(p *state.Path, cond *smt.Bool) (bool, *state.PathError) {
	status, err := ex.solver.CheckAssuming(cond)
	if err != nil {
		return false, state.NewPathError(state.InternalInvariant, "%v", err)
	}
	switch status {
	case smt.Sat:
		return true, nil
	case smt.Unsat:
		return false, nil
	default:
		if ex.config.UnknownPolicy == TreatAsError {
			return false, state.NewPathError(state.SolverUnknown, "feasibility check unknown")
		}
		p.Warn("solver returned unknown, branch kept")
		return true, nil
	}
}

// step executes one instruction on the path. Panics out of the
// expression layer (width mismatches and the like) terminate the path
// as InternalInvariant instead of killing the executor.
func (ex *Executor) step(p *state.Path) (children []*state.Path) {
	defer func() {
		if r := recover(); r != nil {
			p.Fail(state.NewPathError(state.InternalInvariant, "%v", r))
			children = nil
		}
	}()
	if ex.config.MaxStepsPerPath > 0 && p.Steps >= ex.config.MaxStepsPerPath {
		p.Terminate(state.Bound)
		p.Warn("per-path step limit reached")
		return nil
	}
	p.Steps++
	var err *state.PathError
	if inst := p.CurrentInst(); inst != nil {
		children, err = ex.execInstruction(p, inst)
	} else {
		children, err = ex.execTerminator(p, p.Terminator())
	}
	if err != nil {
		p.Fail(err)
		return nil
	}
	return children
}

// advance moves the cursor past the current instruction.
func (ex *Executor) advance(p *state.Path) {
	p.Frame().InstIdx++
}

// assign binds the result register of a value instruction and advances.
func (ex *Executor) assign(p *state.Path, inst value.Named, bv *smt.BitVec) *state.PathError {
	if err := p.Frame().AssignRegister(inst, bv); err != nil {
		return err
	}
	ex.advance(p)
	return nil
}

// operand evaluates a value in the context of the innermost frame:
// registers first, then constant lowering.
func (ex *Executor) operand(p *state.Path, v value.Value) (*smt.BitVec, *state.PathError) {
	if named, ok := v.(value.Named); ok {
		if bv, ok := p.Frame().Register(named); ok {
			return bv, nil
		}
	}
	if c, ok := v.(constant.Constant); ok {
		bv, err := ex.project.LowerConstant(c, p)
		if err != nil {
			return nil, state.NewPathError(state.InternalInvariant, "lower constant: %v", err)
		}
		return bv, nil
	}
	return nil, state.NewPathError(state.InternalInvariant, "operand %v has no value", v)
}

// freshPoison models poison values as unconstrained symbols.
func (ex *Executor) freshPoison(width uint32) *smt.BitVec {
	ex.poisonSeq++
	return smt.NewBitVec(fmt.Sprintf("poison%d", ex.poisonSeq), width)
}

// initGlobals lays out every module global in path memory: addresses
// first so initializers may reference each other, then the lowered
// initializer bytes.
func (ex *Executor) initGlobals(p *state.Path) error {
	layout := ex.project.Layout()
	globals := ex.project.Globals()
	allocs := make([]*state.Allocation, len(globals))
	for i, g := range globals {
		size, err := layout.SizeOf(g.ContentType)
		if err != nil {
			return errors.Wrapf(err, "global %s", g.Name())
		}
		align, err := layout.AlignOf(g.ContentType)
		if err != nil {
			return errors.Wrapf(err, "global %s", g.Name())
		}
		alloc := p.Memory.Allocate(size, align, state.GlobalAlloc)
		allocs[i] = alloc
		p.BindGlobal(g.Name(), alloc.BaseBV())
	}
	for i, g := range globals {
		if g.Init == nil {
			continue
		}
		bv, err := ex.project.LowerConstant(g.Init, p)
		if err != nil {
			return errors.Wrapf(err, "global %s initializer", g.Name())
		}
		cells := splitBytes(bv, allocs[i].Size)
		if werr := p.Memory.WriteBytes(allocs[i].ID, 0, cells); werr != nil {
			return errors.Wrapf(werr, "global %s", g.Name())
		}
	}
	return nil
}

// bindArguments sets up the entry frame registers. Scalar and aggregate
// parameters become fresh symbols; pointer parameters receive a
// symbolic allocation and a pointer to it.
func (ex *Executor) bindArguments(p *state.Path, fn *ir.Func, args []*smt.BitVec) error {
	layout := ex.project.Layout()
	if args != nil && len(args) != len(fn.Params) {
		return errors.Errorf("%s takes %d arguments, got %d", fn.Name(), len(fn.Params), len(args))
	}
	for i, param := range fn.Params {
		if args != nil {
			if err := p.Frame().AssignRegister(param, args[i]); err != nil {
				return err
			}
			continue
		}
		name := inputName(param.Ident())
		var bv *smt.BitVec
		if pt, ok := param.Typ.(*types.PointerType); ok {
			pointee, err := ex.pointeeSize(pt)
			if err != nil {
				return errors.Wrapf(err, "parameter %s", name)
			}
			alloc := p.Memory.Allocate(pointee, 8, state.StackAlloc)
			content := smt.NewBitVec(name, uint32(pointee*8))
			if werr := p.Memory.WriteBytes(alloc.ID, 0, splitBytes(content, pointee)); werr != nil {
				return werr
			}
			p.AddInput(content)
			bv = alloc.BaseBV()
		} else {
			width, err := layout.BitSizeOf(param.Typ)
			if err != nil {
				return errors.Wrapf(err, "parameter %s", name)
			}
			bv = smt.NewBitVec(name, width)
			p.AddInput(bv)
		}
		if err := p.Frame().AssignRegister(param, bv); err != nil {
			return err
		}
	}
	return nil
}

// pointeeSize picks the allocation size behind an all-symbolic pointer
// argument. Opaque or zero-sized pointees get a default buffer.
func (ex *Executor) pointeeSize(pt *types.PointerType) (uint64, error) {
	const defaultBuffer = 64
	if pt.ElemType == nil {
		return defaultBuffer, nil
	}
	size, err := ex.project.Layout().SizeOf(pt.ElemType)
	if err != nil || size == 0 {
		return defaultBuffer, nil
	}
	return size, nil
}

func inputName(ident string) string {
	if len(ident) > 0 && ident[0] == '%' {
		return ident[1:]
	}
	return ident
}

// splitBytes slices a value into little-endian 8-bit cells, zero
// padding up to the allocation size.
func splitBytes(bv *smt.BitVec, size uint64) []*smt.BitVec {
	bits := uint32(size * 8)
	if bv.Size() < bits {
		bv = bv.ZExt(bits)
	}
	cells := make([]*smt.BitVec, size)
	for i := uint64(0); i < size; i++ {
		cells[i] = bv.Extract(uint32(i*8+7), uint32(i*8))
	}
	return cells
}

// concatBytes joins little-endian cells into one value.
func concatBytes(cells []*smt.BitVec) *smt.BitVec {
	var result *smt.BitVec
	for i := len(cells) - 1; i >= 0; i-- {
		if result == nil {
			result = cells[i]
		} else {
			result = smt.Concat(result, cells[i])
		}
	}
	return result
}
