package state

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"gsymex/internal/smt"
)

// Frame is one activation record: the function, the block cursor, the
// SSA register file and the stack allocations owned by this call.
// Registers are keyed by value identity, not by printed name, so IR
// built programmatically works the same as parsed IR.
type Frame struct {
	Fn        *ir.Func
	Block     *ir.Block
	PrevBlock *ir.Block
	InstIdx   int

	// RetDst is the caller register receiving the return value, nil
	// for void calls and for the entry frame.
	RetDst value.Named

	// Allocas are released when the frame pops.
	Allocas []int64

	// VarArgs holds the extra arguments of a variadic call.
	VarArgs []*smt.BitVec

	registers map[value.Named]*smt.BitVec
}

func NewFrame(fn *ir.Func) *Frame {
	f := &Frame{
		Fn:        fn,
		registers: make(map[value.Named]*smt.BitVec),
	}
	if len(fn.Blocks) > 0 {
		f.Block = fn.Blocks[0]
	}
	return f
}

// AssignRegister binds an SSA register. Registers are write-once within
// a frame; rebinding is an invariant violation in the input IR.
func (f *Frame) AssignRegister(reg value.Named, bv *smt.BitVec) *PathError {
	if _, ok := f.registers[reg]; ok {
		return NewPathError(InternalInvariant, "register %s assigned twice in %s", reg.Ident(), f.Fn.Name())
	}
	f.registers[reg] = bv
	return nil
}

func (f *Frame) Register(reg value.Named) (*smt.BitVec, bool) {
	bv, ok := f.registers[reg]
	return bv, ok
}

// EnterBlock moves the cursor to the start of a block, remembering the
// predecessor for phi resolution.
func (f *Frame) EnterBlock(b *ir.Block) {
	f.PrevBlock = f.Block
	f.Block = b
	f.InstIdx = 0
}

func (f *Frame) Clone() *Frame {
	dup := &Frame{
		Fn:        f.Fn,
		Block:     f.Block,
		PrevBlock: f.PrevBlock,
		InstIdx:   f.InstIdx,
		RetDst:    f.RetDst,
		Allocas:   make([]int64, len(f.Allocas)),
		VarArgs:   make([]*smt.BitVec, len(f.VarArgs)),
		registers: make(map[value.Named]*smt.BitVec, len(f.registers)),
	}
	copy(dup.Allocas, f.Allocas)
	copy(dup.VarArgs, f.VarArgs)
	for k, v := range f.registers {
		dup.registers[k] = v
	}
	return dup
}
