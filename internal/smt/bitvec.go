package smt

import (
	"fmt"
	"math/big"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
)

// MaxWidth is the largest bitvector width the engine will build.
const MaxWidth = 4096

// BitVec is a fixed-width bitvector term. The width is immutable and
// every composition is width-checked; mixing widths is an internal
// invariant violation and panics (the executor turns the panic into an
// InternalInvariant path error).
type BitVec struct {
	name  string
	value yices2.TermT
	size  uint32
}

func checkWidth(size uint32) {
	if size == 0 || size > MaxWidth {
		panic(fmt.Sprintf("smt: bitvector width %d out of range", size))
	}
}

func mustSameSize(op string, lhv, rhv *BitVec) {
	if lhv.size != rhv.size {
		panic(fmt.Sprintf("smt: %s width mismatch: %d vs %d", op, lhv.size, rhv.size))
	}
}

// NewBitVec creates a fresh unconstrained symbol of the given width.
func NewBitVec(name string, size uint32) *BitVec {
	checkWidth(size)
	term := yices2.NewUninterpretedTerm(yices2.BvType(size))
	if errcode := yices2.SetTermName(term, name); errcode < 0 {
		// Name collisions only matter for diagnostics, keep going.
		_ = errcode
	}
	return &BitVec{
		name:  name,
		value: term,
		size:  size,
	}
}

func NewBitVecValInt64(value int64, size uint32) *BitVec {
	checkWidth(size)
	return &BitVec{
		value: yices2.BvconstInt64(size, value),
		size:  size,
	}
}

func NewBitVecVal(value *big.Int, size uint32) *BitVec {
	checkWidth(size)
	v := make([]int32, size)
	w := new(big.Int)
	if value.Sign() < 0 {
		// two's complement wraparound
		w.Add(value, new(big.Int).Lsh(big.NewInt(1), uint(size)))
	} else {
		w.Set(value)
	}
	for j := 0; j < w.BitLen() && j < int(size); j++ {
		v[j] = int32(w.Bit(j))
	}
	return &BitVec{
		value: yices2.BvconstFromArray(v),
		size:  size,
	}
}

// NewBitVecValFromBytes builds a constant from little-endian bytes.
func NewBitVecValFromBytes(data []byte) *BitVec {
	v := make([]int32, len(data)*8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			v[i*8+j] = int32((b >> j) & 1)
		}
	}
	return &BitVec{
		value: yices2.BvconstFromArray(v),
		size:  uint32(len(data) * 8),
	}
}

func NewBitVecFromTerm(value yices2.TermT, size uint32) *BitVec {
	checkWidth(size)
	return &BitVec{
		value: value,
		size:  size,
	}
}

// Ite builds a width-preserving if-then-else over a boolean condition.
func Ite(cond *Bool, then, els *BitVec) *BitVec {
	mustSameSize("ite", then, els)
	return &BitVec{
		value: yices2.Ite(cond.value, then.value, els.value),
		size:  then.size,
	}
}

// Concat appends lo below hi; the result width is the sum of both.
func Concat(hi, lo *BitVec) *BitVec {
	return &BitVec{
		value: yices2.Bvconcat2(hi.value, lo.value),
		size:  hi.size + lo.size,
	}
}

// Concats concatenates values, first argument highest.
func Concats(values ...*BitVec) *BitVec {
	if len(values) == 0 {
		return nil
	}
	result := values[0]
	for _, v := range values[1:] {
		result = Concat(result, v)
	}
	return result
}

func (bv *BitVec) GetRaw() yices2.TermT { return bv.value }
func (bv *BitVec) GetName() string      { return bv.name }
func (bv *BitVec) Size() uint32         { return bv.size }

// WithName returns the same term carrying a diagnostic name.
func (bv *BitVec) WithName(name string) *BitVec {
	return &BitVec{name: name, value: bv.value, size: bv.size}
}

// IsConcrete reports whether the term is a bitvector constant.
func (bv *BitVec) IsConcrete() bool {
	return yices2.TermConstructor(bv.value) == yices2.TrmCnstrBvConstant
}

func (bv *BitVec) IsSymbolic() bool { return !bv.IsConcrete() }

// ConstValue returns the unsigned value of a constant term.
func (bv *BitVec) ConstValue() *big.Int {
	intVal := make([]int32, bv.size)
	if errcode := yices2.BvConstValue(bv.value, intVal); errcode != 0 {
		panic(fmt.Sprintf("smt: ConstValue on non-constant term: %s", yices2.ErrorString()))
	}
	result := big.NewInt(0)
	for i := range intVal {
		result.SetBit(result, i, uint(intVal[i]))
	}
	return result
}

// ConstUint64 is ConstValue truncated to uint64, for address math.
func (bv *BitVec) ConstUint64() uint64 {
	return bv.ConstValue().Uint64()
}

func (bv *BitVec) String() string {
	if bv.IsConcrete() {
		return bv.ConstValue().String()
	}
	if bv.name != "" {
		return fmt.Sprintf("%s:bv%d", bv.name, bv.size)
	}
	return fmt.Sprintf("term%d:bv%d", bv.value, bv.size)
}

func (bv *BitVec) Add(other *BitVec) *BitVec {
	mustSameSize("add", bv, other)
	return &BitVec{value: yices2.Bvadd(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) Sub(other *BitVec) *BitVec {
	mustSameSize("sub", bv, other)
	return &BitVec{value: yices2.Bvsub(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) Mul(other *BitVec) *BitVec {
	mustSameSize("mul", bv, other)
	return &BitVec{value: yices2.Bvmul(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) UDiv(other *BitVec) *BitVec {
	mustSameSize("udiv", bv, other)
	return &BitVec{value: yices2.Bvdiv(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) SDiv(other *BitVec) *BitVec {
	mustSameSize("sdiv", bv, other)
	return &BitVec{value: yices2.Bvsdiv(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) URem(other *BitVec) *BitVec {
	mustSameSize("urem", bv, other)
	return &BitVec{value: yices2.Bvrem(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) SRem(other *BitVec) *BitVec {
	mustSameSize("srem", bv, other)
	return &BitVec{value: yices2.Bvsrem(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) Neg() *BitVec {
	return &BitVec{value: yices2.Bvneg(bv.value), size: bv.size}
}

func (bv *BitVec) And(other *BitVec) *BitVec {
	mustSameSize("and", bv, other)
	return &BitVec{value: yices2.Bvand2(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) Or(other *BitVec) *BitVec {
	mustSameSize("or", bv, other)
	return &BitVec{value: yices2.Bvor2(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) Xor(other *BitVec) *BitVec {
	mustSameSize("xor", bv, other)
	return &BitVec{value: yices2.Bvxor2(bv.value, other.value), size: bv.size}
}

func (bv *BitVec) Not() *BitVec {
	return &BitVec{value: yices2.Bvnot(bv.value), size: bv.size}
}

// maskShift interprets the shift amount modulo the bit width.
func (bv *BitVec) maskShift(amount *BitVec) yices2.TermT {
	mustSameSize("shift", bv, amount)
	width := yices2.BvconstInt64(bv.size, int64(bv.size))
	return yices2.Bvrem(amount.value, width)
}

func (bv *BitVec) Shl(amount *BitVec) *BitVec {
	return &BitVec{value: yices2.Bvshl(bv.value, bv.maskShift(amount)), size: bv.size}
}

func (bv *BitVec) LShr(amount *BitVec) *BitVec {
	return &BitVec{value: yices2.Bvlshr(bv.value, bv.maskShift(amount)), size: bv.size}
}

func (bv *BitVec) AShr(amount *BitVec) *BitVec {
	return &BitVec{value: yices2.Bvashr(bv.value, bv.maskShift(amount)), size: bv.size}
}

// ZExt widens with zero bits. The new width must not be smaller.
func (bv *BitVec) ZExt(size uint32) *BitVec {
	checkWidth(size)
	if size < bv.size {
		panic(fmt.Sprintf("smt: zext %d -> %d shrinks", bv.size, size))
	}
	if size == bv.size {
		return bv
	}
	return &BitVec{
		value: yices2.ZeroExtend(bv.value, size-bv.size),
		size:  size,
	}
}

// SExt widens replicating the sign bit.
func (bv *BitVec) SExt(size uint32) *BitVec {
	checkWidth(size)
	if size < bv.size {
		panic(fmt.Sprintf("smt: sext %d -> %d shrinks", bv.size, size))
	}
	if size == bv.size {
		return bv
	}
	return &BitVec{
		value: yices2.SignExtend(bv.value, size-bv.size),
		size:  size,
	}
}

// Trunc keeps the low bits. The new width must not be larger.
func (bv *BitVec) Trunc(size uint32) *BitVec {
	checkWidth(size)
	if size > bv.size {
		panic(fmt.Sprintf("smt: trunc %d -> %d grows", bv.size, size))
	}
	if size == bv.size {
		return bv
	}
	return bv.Extract(size-1, 0)
}

// Extract slices bits [lo, hi], both inclusive.
func (bv *BitVec) Extract(hi, lo uint32) *BitVec {
	if hi >= bv.size || lo > hi {
		panic(fmt.Sprintf("smt: extract [%d:%d] of bv%d", hi, lo, bv.size))
	}
	return &BitVec{
		value: yices2.Bvextract(bv.value, lo, hi),
		size:  hi - lo + 1,
	}
}

func (bv *BitVec) Eq(other *BitVec) *Bool {
	mustSameSize("eq", bv, other)
	return &Bool{value: yices2.BveqAtom(bv.value, other.value)}
}

func (bv *BitVec) Ne(other *BitVec) *Bool {
	mustSameSize("ne", bv, other)
	return &Bool{value: yices2.BvneqAtom(bv.value, other.value)}
}

func (bv *BitVec) Ult(other *BitVec) *Bool {
	mustSameSize("ult", bv, other)
	return &Bool{value: yices2.BvltAtom(bv.value, other.value)}
}

func (bv *BitVec) Ule(other *BitVec) *Bool {
	mustSameSize("ule", bv, other)
	return &Bool{value: yices2.BvleAtom(bv.value, other.value)}
}

func (bv *BitVec) Ugt(other *BitVec) *Bool {
	mustSameSize("ugt", bv, other)
	return &Bool{value: yices2.BvgtAtom(bv.value, other.value)}
}

func (bv *BitVec) Uge(other *BitVec) *Bool {
	mustSameSize("uge", bv, other)
	return &Bool{value: yices2.BvgeAtom(bv.value, other.value)}
}

func (bv *BitVec) Slt(other *BitVec) *Bool {
	mustSameSize("slt", bv, other)
	return &Bool{value: yices2.BvsltAtom(bv.value, other.value)}
}

func (bv *BitVec) Sle(other *BitVec) *Bool {
	mustSameSize("sle", bv, other)
	return &Bool{value: yices2.BvsleAtom(bv.value, other.value)}
}

func (bv *BitVec) Sgt(other *BitVec) *Bool {
	mustSameSize("sgt", bv, other)
	return &Bool{value: yices2.BvsgtAtom(bv.value, other.value)}
}

func (bv *BitVec) Sge(other *BitVec) *Bool {
	mustSameSize("sge", bv, other)
	return &Bool{value: yices2.BvsgeAtom(bv.value, other.value)}
}

// AsBool converts a width-1 bitvector to the boolean it denotes.
func (bv *BitVec) AsBool() *Bool {
	if bv.size != 1 {
		panic(fmt.Sprintf("smt: AsBool on bv%d", bv.size))
	}
	return bv.Eq(NewBitVecValInt64(1, 1))
}
