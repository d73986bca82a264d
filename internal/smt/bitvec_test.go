package smt

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ConstRoundTrip(t *testing.T) {
	Init()
	defer Exit()

	a := NewBitVecValInt64(666, 32)
	assert.Equal(t, uint32(32), a.Size())
	assert.True(t, a.IsConcrete())
	assert.Equal(t, int64(666), a.ConstValue().Int64())

	b := NewBitVecVal(big.NewInt(-1), 8)
	assert.Equal(t, int64(255), b.ConstValue().Int64())
}

func Test_ConstFromBytes(t *testing.T) {
	Init()
	defer Exit()

	// little-endian: low byte first
	bv := NewBitVecValFromBytes([]byte{0xcd, 0xab})
	assert.Equal(t, uint32(16), bv.Size())
	assert.Equal(t, int64(0xabcd), bv.ConstValue().Int64())
}

func Test_Arithmetic(t *testing.T) {
	Init()
	defer Exit()

	a := NewBitVecValInt64(5, 64)
	b := NewBitVecValInt64(10, 64)
	assert.Equal(t, int64(15), a.Add(b).ConstValue().Int64())
	assert.Equal(t, int64(50), a.Mul(b).ConstValue().Int64())

	// two's complement wraparound
	c := NewBitVecValInt64(255, 8)
	one := NewBitVecValInt64(1, 8)
	assert.Equal(t, int64(0), c.Add(one).ConstValue().Int64())

	// sdiv with a negative divisor
	n := NewBitVecValInt64(200, 64)
	d := NewBitVecValInt64(-10, 64)
	got := n.SDiv(d).ConstValue()
	want := new(big.Int).Add(got, big.NewInt(20))
	assert.Equal(t, 0, want.Cmp(new(big.Int).Lsh(big.NewInt(1), 64)))
}

func Test_ConcatExtract(t *testing.T) {
	Init()
	defer Exit()

	hi := NewBitVecValInt64(0xab, 8)
	lo := NewBitVecValInt64(0xcd, 8)
	both := Concat(hi, lo)
	assert.Equal(t, uint32(16), both.Size())
	assert.Equal(t, int64(0xabcd), both.ConstValue().Int64())
	assert.Equal(t, int64(0xcd), both.Extract(7, 0).ConstValue().Int64())
	assert.Equal(t, int64(0xab), both.Extract(15, 8).ConstValue().Int64())
}

func Test_WidthChanges(t *testing.T) {
	Init()
	defer Exit()

	x := NewBitVecValInt64(0x80, 8)
	assert.Equal(t, int64(0x80), x.ZExt(16).ConstValue().Int64())
	assert.Equal(t, int64(0xff80), x.SExt(16).ConstValue().Int64())

	// trunc after zext is identity
	assert.Equal(t, int64(0x80), x.ZExt(32).Trunc(8).ConstValue().Int64())
	// trunc after sext back to the original width is identity
	assert.Equal(t, int64(0x80), x.SExt(32).Trunc(8).ConstValue().Int64())
}

func Test_Shifts(t *testing.T) {
	Init()
	defer Exit()

	x := NewBitVecValInt64(1, 8)
	assert.Equal(t, int64(8), x.Shl(NewBitVecValInt64(3, 8)).ConstValue().Int64())
	// shift amounts are taken modulo the width
	assert.Equal(t, int64(2), x.Shl(NewBitVecValInt64(9, 8)).ConstValue().Int64())

	y := NewBitVecValInt64(-8, 8)
	assert.Equal(t, int64(0xfe), y.AShr(NewBitVecValInt64(2, 8)).ConstValue().Int64())
	assert.Equal(t, int64(0x3e), y.LShr(NewBitVecValInt64(2, 8)).ConstValue().Int64())
}

func Test_WidthMismatchPanics(t *testing.T) {
	Init()
	defer Exit()

	a := NewBitVecValInt64(1, 8)
	b := NewBitVecValInt64(1, 16)
	assert.Panics(t, func() { a.Add(b) })
	assert.Panics(t, func() { a.Eq(b) })
	assert.Panics(t, func() { a.Trunc(16) })
	assert.Panics(t, func() { a.ZExt(4) })
}

func Test_CompareSelf(t *testing.T) {
	Init()
	defer Exit()

	solver := NewSolver()
	x := NewBitVec("x", 64)

	// icmp eq x, x is constant true, ne constant false
	assert.NoError(t, solver.Assert(x.Eq(x)))
	assert.Equal(t, Sat, solver.Check())

	status, err := solver.CheckAssuming(x.Ne(x))
	assert.NoError(t, err)
	assert.Equal(t, Unsat, status)
}

func Test_IteAndBool(t *testing.T) {
	Init()
	defer Exit()

	cond := NewBoolVal(true)
	a := NewBitVecValInt64(1, 8)
	b := NewBitVecValInt64(2, 8)
	assert.Equal(t, int64(1), Ite(cond, a, b).ConstValue().Int64())
	assert.Equal(t, int64(2), Ite(cond.Not(), a, b).ConstValue().Int64())

	one := NewBitVecValInt64(1, 1)
	assert.True(t, one.AsBool().IsTrue() || one.AsBool().IsSymbolic())
}
