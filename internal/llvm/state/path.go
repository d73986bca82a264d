// Package state holds the replicable unit of work of the engine: the
// path state with its call stack, register files, symbolic memory and
// path constraint. Forking a path is cheap; memory is shared
// copy-on-write at allocation granularity.
package state

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"gsymex/internal/smt"
)

// Status is the lifecycle state of a path.
type Status int

const (
	Running Status = iota
	Returned
	ReturnedVoid
	Errored
	AssumptionUnsat
	Cancelled
	Bound
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Returned:
		return "Returned"
	case ReturnedVoid:
		return "Void"
	case Errored:
		return "Error"
	case AssumptionUnsat:
		return "AssumptionUnsat"
	case Cancelled:
		return "Cancelled"
	default:
		return "Bound"
	}
}

// Path is one control-flow trace under exploration.
type Path struct {
	ID     int
	Frames []*Frame
	Memory *Memory

	Constraints *Constraint
	Status      Status
	Err         *PathError
	RetVal      *smt.BitVec

	// Inputs are the named symbols a report must concretize: entry
	// arguments and bytes marked by the symbolic hook.
	Inputs *smt.Set

	// Warnings collect non-fatal diagnostics (unknown solver results,
	// unprovable alignment).
	Warnings []string

	Steps int

	globals map[string]*smt.BitVec
}

// NewPath builds a path positioned at the entry of fn. Globals are laid
// out by the executor before arguments are bound.
func NewPath(id int, fn *ir.Func, threshold uint64) *Path {
	return &Path{
		ID:          id,
		Frames:      []*Frame{NewFrame(fn)},
		Memory:      NewMemory(threshold),
		Constraints: NewConstraints(),
		Inputs:      smt.NewSet(),
		globals:     make(map[string]*smt.BitVec),
	}
}

// Frame returns the innermost activation frame.
func (p *Path) Frame() *Frame {
	return p.Frames[len(p.Frames)-1]
}

// CurrentInst returns the instruction the path is about to execute, or
// nil if the cursor sits on the block terminator.
func (p *Path) CurrentInst() ir.Instruction {
	f := p.Frame()
	if f.InstIdx < len(f.Block.Insts) {
		return f.Block.Insts[f.InstIdx]
	}
	return nil
}

// Terminator returns the current block terminator.
func (p *Path) Terminator() ir.Terminator {
	return p.Frame().Block.Term
}

// PushFrame enters a called function. retDst is the caller register
// that receives the return value once the callee returns, nil for void
// calls.
func (p *Path) PushFrame(fn *ir.Func, retDst value.Named) {
	frame := NewFrame(fn)
	frame.RetDst = retDst
	p.Frames = append(p.Frames, frame)
}

// PopFrame releases the innermost frame and its stack allocations.
func (p *Path) PopFrame() *Frame {
	frame := p.Frame()
	p.Memory.ReleaseStack(frame.Allocas)
	p.Frames = p.Frames[:len(p.Frames)-1]
	return frame
}

// AddConstraint appends to the path constraint. The executor mirrors
// the append with a solver push+assert while the path is active.
func (p *Path) AddConstraint(cond *smt.Bool) {
	p.Constraints.Append(cond)
}

// AddInput registers a named symbolic input for report extraction.
func (p *Path) AddInput(bv *smt.BitVec) {
	p.Inputs.Add(bv)
}

// Warn records a non-fatal diagnostic on the path.
func (p *Path) Warn(msg string) {
	p.Warnings = append(p.Warnings, msg)
}

// BindGlobal records the address of a lowered global.
func (p *Path) BindGlobal(name string, addr *smt.BitVec) {
	p.globals[name] = addr
}

// GlobalAddress implements project.GlobalResolver.
func (p *Path) GlobalAddress(name string) (*smt.BitVec, bool) {
	addr, ok := p.globals[name]
	return addr, ok
}

// Fork duplicates the path with cond appended to the child constraint.
// The memory is shared copy-on-write; frames and the constraint list
// are cloned. The caller assigns the child id.
func (p *Path) Fork(id int, cond *smt.Bool) *Path {
	child := &Path{
		ID:          id,
		Frames:      make([]*Frame, len(p.Frames)),
		Memory:      p.Memory.Fork(),
		Constraints: p.Constraints.Clone(),
		Status:      Running,
		Inputs:      p.Inputs.Clone(),
		Warnings:    append([]string(nil), p.Warnings...),
		Steps:       p.Steps,
		globals:     p.globals,
	}
	for i, frame := range p.Frames {
		child.Frames[i] = frame.Clone()
	}
	if cond != nil {
		child.Constraints.Append(cond)
	}
	return child
}

// Terminate marks the path finished with the given status.
func (p *Path) Terminate(status Status) {
	p.Status = status
}

// Fail marks the path errored.
func (p *Path) Fail(err *PathError) {
	p.Status = Errored
	p.Err = err
}
