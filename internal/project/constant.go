package project

import (
	"fmt"
	"math/big"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/pkg/errors"

	"gsymex/internal/smt"
)

// GlobalResolver supplies the per-path addresses of lowered globals.
// Implemented by state.Path, since global storage lives in path memory.
type GlobalResolver interface {
	GlobalAddress(name string) (*smt.BitVec, bool)
}

var undefCounter int

// LowerConstant evaluates a constant expression to a bitvector in the
// register representation: little-endian, with aggregate field padding.
func (p *Project) LowerConstant(c constant.Constant, globals GlobalResolver) (*smt.BitVec, error) {
	switch c := c.(type) {
	case *constant.Int:
		return smt.NewBitVecVal(c.X, uint32(c.Typ.BitSize)), nil

	case *constant.Null:
		return smt.NewBitVecValInt64(0, PointerBits), nil

	case *constant.Undef:
		// Undef bits carry no constraint; a fresh symbol models any
		// bit pattern the program could observe.
		width, err := p.layout.BitSizeOf(c.Typ)
		if err != nil {
			return nil, err
		}
		undefCounter++
		return smt.NewBitVec(fmt.Sprintf("undef%d", undefCounter), width), nil

	case *constant.ZeroInitializer:
		width, err := p.layout.BitSizeOf(c.Typ)
		if err != nil {
			return nil, err
		}
		return smt.NewBitVecValInt64(0, width), nil

	case *constant.CharArray:
		return smt.NewBitVecValFromBytes(c.X), nil

	case *constant.Array:
		stride, err := p.layout.StrideOf(c.Typ.ElemType)
		if err != nil {
			return nil, err
		}
		return p.lowerElements(c.Elems, stride, globals)

	case *constant.Vector:
		var result *smt.BitVec
		for i := len(c.Elems) - 1; i >= 0; i-- {
			lane, err := p.LowerConstant(c.Elems[i], globals)
			if err != nil {
				return nil, err
			}
			if result == nil {
				result = lane
			} else {
				result = smt.Concat(result, lane)
			}
		}
		return result, nil

	case *constant.Struct:
		return p.lowerStruct(c, globals)

	case *ir.Global:
		if globals != nil {
			if addr, ok := globals.GlobalAddress(c.Name()); ok {
				return addr, nil
			}
		}
		return nil, errors.Errorf("global %s has no address", c.Name())

	case *ir.Func:
		if addr, ok := p.FunctionAddress(c.Name()); ok {
			return smt.NewBitVecVal(toBig(addr), PointerBits), nil
		}
		return nil, errors.Errorf("function %s has no address", c.Name())

	case *constant.BlockAddress:
		fnName, okF := namedName(c.Func)
		blockIdent, okB := namedIdent(c.Block)
		if !okF || !okB {
			return nil, errors.Errorf("malformed blockaddress %v", c)
		}
		if addr, ok := p.BlockAddress(fnName, blockIdent); ok {
			return smt.NewBitVecVal(toBig(addr), PointerBits), nil
		}
		return nil, errors.Errorf("blockaddress %v not indexed", c)

	case *constant.ExprGetElementPtr:
		base, err := p.LowerConstant(c.Src, globals)
		if err != nil {
			return nil, err
		}
		offset, err := p.gepConstOffset(c.ElemType, c.Indices)
		if err != nil {
			return nil, err
		}
		return base.Add(smt.NewBitVecValInt64(offset, PointerBits)), nil

	case *constant.ExprBitCast:
		return p.LowerConstant(c.From, globals)

	case *constant.ExprPtrToInt:
		return p.lowerResized(c.From, c.To, globals)

	case *constant.ExprIntToPtr:
		return p.lowerResized(c.From, c.To, globals)

	case *constant.ExprTrunc:
		return p.lowerResized(c.From, c.To, globals)

	case *constant.ExprZExt:
		from, err := p.LowerConstant(c.From, globals)
		if err != nil {
			return nil, err
		}
		width, err := p.layout.BitSizeOf(c.To)
		if err != nil {
			return nil, err
		}
		return from.ZExt(width), nil

	case *constant.ExprSExt:
		from, err := p.LowerConstant(c.From, globals)
		if err != nil {
			return nil, err
		}
		width, err := p.layout.BitSizeOf(c.To)
		if err != nil {
			return nil, err
		}
		return from.SExt(width), nil

	case *constant.ExprAdd:
		return p.lowerBinExpr(c.X, c.Y, globals, (*smt.BitVec).Add)
	case *constant.ExprSub:
		return p.lowerBinExpr(c.X, c.Y, globals, (*smt.BitVec).Sub)
	case *constant.ExprMul:
		return p.lowerBinExpr(c.X, c.Y, globals, (*smt.BitVec).Mul)

	default:
		return nil, errors.Errorf("constant %T not supported", c)
	}
}

func (p *Project) lowerBinExpr(x, y constant.Constant, globals GlobalResolver,
	op func(*smt.BitVec, *smt.BitVec) *smt.BitVec) (*smt.BitVec, error) {
	lhv, err := p.LowerConstant(x, globals)
	if err != nil {
		return nil, err
	}
	rhv, err := p.LowerConstant(y, globals)
	if err != nil {
		return nil, err
	}
	return op(lhv, rhv), nil
}

// lowerResized lowers a constant then zero-extends or truncates it to
// the width of the destination type, the ptrtoint/inttoptr rule.
func (p *Project) lowerResized(from constant.Constant, to types.Type, globals GlobalResolver) (*smt.BitVec, error) {
	inner, err := p.LowerConstant(from, globals)
	if err != nil {
		return nil, err
	}
	width, err := p.layout.BitSizeOf(to)
	if err != nil {
		return nil, err
	}
	if width < inner.Size() {
		return inner.Trunc(width), nil
	}
	return inner.ZExt(width), nil
}

// lowerElements concatenates array elements little-endian, padding each
// to the element stride.
func (p *Project) lowerElements(elems []constant.Constant, stride uint64, globals GlobalResolver) (*smt.BitVec, error) {
	var result *smt.BitVec
	strideBits := uint32(stride * 8)
	for i := len(elems) - 1; i >= 0; i-- {
		elem, err := p.LowerConstant(elems[i], globals)
		if err != nil {
			return nil, err
		}
		if elem.Size() < strideBits {
			elem = elem.ZExt(strideBits)
		}
		if result == nil {
			result = elem
		} else {
			result = smt.Concat(result, elem)
		}
	}
	if result == nil {
		return smt.NewBitVecValInt64(0, 8), nil
	}
	return result, nil
}

func (p *Project) lowerStruct(c *constant.Struct, globals GlobalResolver) (*smt.BitVec, error) {
	total, err := p.layout.BitSizeOf(c.Typ)
	if err != nil {
		return nil, err
	}
	var result *smt.BitVec
	bits := uint32(0)
	for i, field := range c.Fields {
		offset, err := p.layout.FieldOffset(c.Typ, i)
		if err != nil {
			return nil, err
		}
		fieldBV, err := p.LowerConstant(field, globals)
		if err != nil {
			return nil, err
		}
		if pad := uint32(offset*8) - bits; pad > 0 {
			result = padAbove(result, pad)
			bits += pad
		}
		if result == nil {
			result = fieldBV
		} else {
			result = smt.Concat(fieldBV, result)
		}
		bits += fieldBV.Size()
	}
	if pad := total - bits; pad > 0 {
		result = padAbove(result, pad)
	}
	if result == nil {
		return smt.NewBitVecValInt64(0, total), nil
	}
	return result, nil
}

func padAbove(low *smt.BitVec, bits uint32) *smt.BitVec {
	pad := smt.NewBitVecValInt64(0, bits)
	if low == nil {
		return pad
	}
	return smt.Concat(pad, low)
}

// gepConstOffset folds fully-constant getelementptr indices into a byte
// offset, signed 64-bit arithmetic.
func (p *Project) gepConstOffset(elemType types.Type, indices []constant.Constant) (int64, error) {
	ints := make([]int64, len(indices))
	for i, idx := range indices {
		ci, ok := idx.(*constant.Int)
		if !ok {
			return 0, errors.Errorf("non-constant gep index %T", idx)
		}
		ints[i] = ci.X.Int64()
	}
	if len(ints) == 0 {
		return 0, nil
	}
	stride, err := p.layout.StrideOf(elemType)
	if err != nil {
		return 0, err
	}
	offset := ints[0] * int64(stride)
	cur := elemType
	for _, idx := range ints[1:] {
		switch ct := cur.(type) {
		case *types.StructType:
			fieldOff, err := p.layout.FieldOffset(ct, int(idx))
			if err != nil {
				return 0, err
			}
			offset += int64(fieldOff)
			cur = ct.Fields[idx]
		case *types.ArrayType:
			stride, err := p.layout.StrideOf(ct.ElemType)
			if err != nil {
				return 0, err
			}
			offset += idx * int64(stride)
			cur = ct.ElemType
		case *types.VectorType:
			elemSize, err := p.layout.SizeOf(ct.ElemType)
			if err != nil {
				return 0, err
			}
			offset += idx * int64(elemSize)
			cur = ct.ElemType
		default:
			return 0, errors.Errorf("cannot gep into %v", cur)
		}
	}
	return offset, nil
}

func toBig(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func namedName(v interface{}) (string, bool) {
	n, ok := v.(interface{ Name() string })
	if !ok {
		return "", false
	}
	return n.Name(), true
}

func namedIdent(v interface{}) (string, bool) {
	n, ok := v.(interface{ Ident() string })
	if !ok {
		return "", false
	}
	return n.Ident(), true
}
