package executor

import (
	"math/big"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gsymex/internal/llvm/state"
	"gsymex/internal/project"
	"gsymex/internal/smt"
)

const testDataLayout = "e-m:e-i64:64-f80:128-n8:16:32:64-S128"

func newTestModule() *ir.Module {
	m := ir.NewModule()
	m.DataLayout = testDataLayout
	return m
}

func runModule(t *testing.T, m *ir.Module, entry string, config Config) []*Report {
	t.Helper()
	smt.Init()
	t.Cleanup(smt.Exit)
	proj, err := project.NewProject([]*ir.Module{m})
	require.NoError(t, err)
	ex := NewExecutor(proj, config)
	reports, err := ex.Run(entry, nil)
	require.NoError(t, err)
	return reports
}

func singleReturn(t *testing.T, m *ir.Module, entry string) *Report {
	t.Helper()
	reports := runModule(t, m, entry, Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Returned, reports[0].Status)
	require.NotNil(t, reports[0].RetVal)
	return reports[0]
}

func Test_AddConstants(t *testing.T) {
	m := newTestModule()
	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	sum := entry.NewAdd(constant.NewInt(types.I64, 5), constant.NewInt(types.I64, 10))
	entry.NewRet(sum)

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(15), report.RetVal.Int64())
	assert.Equal(t, uint32(64), report.RetWidth)
}

func Test_AddCommutes(t *testing.T) {
	m := newTestModule()
	a := constant.NewInt(types.I64, 1234)
	b := constant.NewInt(types.I64, 5678)

	f1 := m.NewFunc("ab", types.I64)
	e1 := f1.NewBlock("entry")
	e1.NewRet(e1.NewAdd(a, b))

	f2 := m.NewFunc("ba", types.I64)
	e2 := f2.NewBlock("entry")
	e2.NewRet(e2.NewAdd(b, a))

	smt.Init()
	t.Cleanup(smt.Exit)
	proj, err := project.NewProject([]*ir.Module{m})
	require.NoError(t, err)

	r1, err := NewExecutor(proj, Config{}).Run("ab", nil)
	require.NoError(t, err)
	r2, err := NewExecutor(proj, Config{}).Run("ba", nil)
	require.NoError(t, err)
	require.Len(t, r1, 1)
	require.Len(t, r2, 1)
	assert.Equal(t, r1[0].RetVal, r2[0].RetVal)
}

func Test_Division(t *testing.T) {
	m := newTestModule()
	f := m.NewFunc("udiv", types.I64)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewUDiv(constant.NewInt(types.I64, 200), constant.NewInt(types.I64, 10)))

	g := m.NewFunc("sdiv", types.I64)
	gentry := g.NewBlock("entry")
	gentry.NewRet(gentry.NewSDiv(constant.NewInt(types.I64, 200), constant.NewInt(types.I64, -10)))

	smt.Init()
	t.Cleanup(smt.Exit)
	proj, err := project.NewProject([]*ir.Module{m})
	require.NoError(t, err)

	r1, err := NewExecutor(proj, Config{}).Run("udiv", nil)
	require.NoError(t, err)
	require.Len(t, r1, 1)
	assert.Equal(t, int64(20), r1[0].RetVal.Int64())

	r2, err := NewExecutor(proj, Config{}).Run("sdiv", nil)
	require.NoError(t, err)
	require.Len(t, r2, 1)
	// -20 in two's complement at width 64
	want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(20))
	assert.Equal(t, 0, want.Cmp(r2[0].RetVal))
}

func Test_DivByZero(t *testing.T) {
	m := newTestModule()
	x := ir.NewParam("x", types.I64)
	f := m.NewFunc("main", types.I64, x)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewUDiv(constant.NewInt(types.I64, 200), x))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Errored, reports[0].Status)
	assert.Equal(t, state.DivByZero, reports[0].Err.Kind)
	assert.NotEmpty(t, reports[0].Site)
}

func Test_DivGuardedByAssume(t *testing.T) {
	m := newTestModule()
	assume := m.NewFunc("assume", types.Void, ir.NewParam("cond", types.I1))
	x := ir.NewParam("x", types.I64)
	f := m.NewFunc("main", types.I64, x)
	entry := f.NewBlock("entry")
	nonzero := entry.NewICmp(enum.IPredNE, x, constant.NewInt(types.I64, 0))
	entry.NewCall(assume, nonzero)
	entry.NewRet(entry.NewUDiv(constant.NewInt(types.I64, 200), x))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Returned, reports[0].Status)
	require.Len(t, reports[0].Inputs, 1)
	assert.NotEqual(t, int64(0), reports[0].Inputs[0].Value.Int64())
}

func Test_ExtractValue(t *testing.T) {
	m := newTestModule()
	agg := constant.NewArray(nil,
		constant.NewInt(types.I32, 1),
		constant.NewInt(types.I32, 2),
		constant.NewInt(types.I32, 3),
		constant.NewInt(types.I32, 4))
	f := m.NewFunc("main", types.I32)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewExtractValue(agg, 2))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(3), report.RetVal.Int64())
}

func Test_InsertValue(t *testing.T) {
	m := newTestModule()
	agg := constant.NewArray(nil,
		constant.NewInt(types.I8, 1),
		constant.NewInt(types.I8, 2),
		constant.NewInt(types.I8, 3),
		constant.NewInt(types.I8, 4))
	f := m.NewFunc("main", types.NewArray(4, types.I8))
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewInsertValue(agg, constant.NewInt(types.I8, 10), 1))

	report := singleReturn(t, m, "main")
	assert.Equal(t, uint64(0x04030a01), report.RetVal.Uint64())
	assert.Equal(t, uint32(32), report.RetWidth)
}

func Test_SAddWithOverflow(t *testing.T) {
	m := newTestModule()
	retType := types.NewStruct(types.I8, types.I1)
	intr := m.NewFunc("llvm.sadd.with.overflow.i8", retType,
		ir.NewParam("a", types.I8), ir.NewParam("b", types.I8))

	f := m.NewFunc("result", types.I8)
	entry := f.NewBlock("entry")
	pair := entry.NewCall(intr, constant.NewInt(types.I8, 120), constant.NewInt(types.I8, 10))
	entry.NewRet(entry.NewExtractValue(pair, 0))

	g := m.NewFunc("overflowed", types.I1)
	gentry := g.NewBlock("entry")
	gpair := gentry.NewCall(intr, constant.NewInt(types.I8, 120), constant.NewInt(types.I8, 10))
	gentry.NewRet(gentry.NewExtractValue(gpair, 1))

	smt.Init()
	t.Cleanup(smt.Exit)
	proj, err := project.NewProject([]*ir.Module{m})
	require.NoError(t, err)

	r1, err := NewExecutor(proj, Config{}).Run("result", nil)
	require.NoError(t, err)
	require.Len(t, r1, 1)
	assert.Equal(t, uint64(0x82), r1[0].RetVal.Uint64())

	r2, err := NewExecutor(proj, Config{}).Run("overflowed", nil)
	require.NoError(t, err)
	require.Len(t, r2, 1)
	assert.Equal(t, uint64(1), r2[0].RetVal.Uint64())
}

func Test_UAddSat(t *testing.T) {
	m := newTestModule()
	i4 := types.NewInt(4)
	intr := m.NewFunc("llvm.uadd.sat.i4", i4,
		ir.NewParam("a", i4), ir.NewParam("b", i4))
	f := m.NewFunc("main", i4)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewCall(intr, constant.NewInt(i4, 8), constant.NewInt(i4, 8)))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(15), report.RetVal.Int64())
}

func Test_SAddSatClamps(t *testing.T) {
	m := newTestModule()
	intr := m.NewFunc("llvm.sadd.sat.i8", types.I8,
		ir.NewParam("a", types.I8), ir.NewParam("b", types.I8))
	f := m.NewFunc("main", types.I8)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewCall(intr, constant.NewInt(types.I8, 120), constant.NewInt(types.I8, 10)))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(127), report.RetVal.Int64())
}

func Test_UMaxIntrinsic(t *testing.T) {
	m := newTestModule()
	intr := m.NewFunc("llvm.umax.i32", types.I32,
		ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	f := m.NewFunc("main", types.I32)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewCall(intr, constant.NewInt(types.I32, 7), constant.NewInt(types.I32, 42)))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(42), report.RetVal.Int64())
}

func Test_SymbolicBranchForksTwice(t *testing.T) {
	m := newTestModule()
	c := ir.NewParam("c", types.I1)
	f := m.NewFunc("main", types.I64, c)
	entry := f.NewBlock("entry")
	bbTrue := f.NewBlock("bb.true")
	bbFalse := f.NewBlock("bb.false")
	entry.NewCondBr(c, bbTrue, bbFalse)
	bbTrue.NewRet(constant.NewInt(types.I64, 1))
	bbFalse.NewRet(constant.NewInt(types.I64, 0))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 2)

	// true child first, reproducibly
	require.Equal(t, state.Returned, reports[0].Status)
	assert.Equal(t, int64(1), reports[0].RetVal.Int64())
	require.Len(t, reports[0].Inputs, 1)
	assert.Equal(t, "c", reports[0].Inputs[0].Name)
	assert.Equal(t, int64(1), reports[0].Inputs[0].Value.Int64())

	require.Equal(t, state.Returned, reports[1].Status)
	assert.Equal(t, int64(0), reports[1].RetVal.Int64())
	assert.Equal(t, int64(0), reports[1].Inputs[0].Value.Int64())
}

func Test_SwitchEnumeratesCases(t *testing.T) {
	m := newTestModule()
	x := ir.NewParam("x", types.I8)
	f := m.NewFunc("main", types.I64, x)
	entry := f.NewBlock("entry")
	bb1 := f.NewBlock("case1")
	bb2 := f.NewBlock("case2")
	bbd := f.NewBlock("default")
	entry.NewSwitch(x, bbd,
		ir.NewCase(constant.NewInt(types.I8, 1), bb1),
		ir.NewCase(constant.NewInt(types.I8, 2), bb2))
	bb1.NewRet(constant.NewInt(types.I64, 11))
	bb2.NewRet(constant.NewInt(types.I64, 22))
	bbd.NewRet(constant.NewInt(types.I64, 33))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 3)
	assert.Equal(t, int64(11), reports[0].RetVal.Int64())
	assert.Equal(t, int64(22), reports[1].RetVal.Int64())
	assert.Equal(t, int64(33), reports[2].RetVal.Int64())
	assert.Equal(t, int64(1), reports[0].Inputs[0].Value.Int64())
	assert.Equal(t, int64(2), reports[1].Inputs[0].Value.Int64())
}

func Test_PhiSelectsPredecessor(t *testing.T) {
	m := newTestModule()
	c := ir.NewParam("c", types.I1)
	f := m.NewFunc("main", types.I64, c)
	entry := f.NewBlock("entry")
	bbTrue := f.NewBlock("bb.true")
	bbFalse := f.NewBlock("bb.false")
	merge := f.NewBlock("merge")
	entry.NewCondBr(c, bbTrue, bbFalse)
	bbTrue.NewBr(merge)
	bbFalse.NewBr(merge)
	phi := merge.NewPhi(
		ir.NewIncoming(constant.NewInt(types.I64, 1), bbTrue),
		ir.NewIncoming(constant.NewInt(types.I64, 2), bbFalse))
	merge.NewRet(phi)

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 2)
	assert.Equal(t, int64(1), reports[0].RetVal.Int64())
	assert.Equal(t, int64(2), reports[1].RetVal.Int64())
}

func Test_SelectUnderAssume(t *testing.T) {
	m := newTestModule()
	assume := m.NewFunc("assume", types.Void, ir.NewParam("cond", types.I1))
	c := ir.NewParam("c", types.I1)
	f := m.NewFunc("main", types.I64, c)
	entry := f.NewBlock("entry")
	entry.NewCall(assume, c)
	sel := entry.NewSelect(c, constant.NewInt(types.I64, 5), constant.NewInt(types.I64, 9))
	entry.NewRet(sel)

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	assert.Equal(t, int64(5), reports[0].RetVal.Int64())
}

func Test_AssumptionUnsat(t *testing.T) {
	m := newTestModule()
	assume := m.NewFunc("assume", types.Void, ir.NewParam("cond", types.I1))
	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	entry.NewCall(assume, constant.False)
	entry.NewRet(constant.NewInt(types.I64, 1))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	assert.Equal(t, state.AssumptionUnsat, reports[0].Status)
	assert.Nil(t, reports[0].RetVal)
}

func Test_CallAndReturn(t *testing.T) {
	m := newTestModule()
	a := ir.NewParam("a", types.I64)
	b := ir.NewParam("b", types.I64)
	callee := m.NewFunc("plus", types.I64, a, b)
	centry := callee.NewBlock("entry")
	centry.NewRet(centry.NewAdd(a, b))

	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	got := entry.NewCall(callee, constant.NewInt(types.I64, 40), constant.NewInt(types.I64, 2))
	entry.NewRet(got)

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(42), report.RetVal.Int64())
}

func Test_StoreLoadRoundTrip(t *testing.T) {
	m := newTestModule()
	x := ir.NewParam("x", types.I64)
	f := m.NewFunc("main", types.I64, x)
	entry := f.NewBlock("entry")
	slot := entry.NewAlloca(types.I64)
	entry.NewStore(x, slot)
	entry.NewRet(entry.NewLoad(types.I64, slot))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Returned, reports[0].Status)
	require.Len(t, reports[0].Inputs, 1)
	// the loaded value is the stored input under any model
	assert.Equal(t, reports[0].Inputs[0].Value, reports[0].RetVal)
}

func Test_GlobalInitializer(t *testing.T) {
	m := newTestModule()
	g := m.NewGlobalDef("g", constant.NewInt(types.I32, 77))
	f := m.NewFunc("main", types.I32)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewLoad(types.I32, g))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(77), report.RetVal.Int64())
}

func Test_GepIntoGlobalArray(t *testing.T) {
	m := newTestModule()
	arrType := types.NewArray(4, types.I32)
	init := constant.NewArray(arrType,
		constant.NewInt(types.I32, 1),
		constant.NewInt(types.I32, 2),
		constant.NewInt(types.I32, 3),
		constant.NewInt(types.I32, 4))
	g := m.NewGlobalDef("arr", init)

	f := m.NewFunc("main", types.I32)
	entry := f.NewBlock("entry")
	ptr := entry.NewGetElementPtr(arrType, g,
		constant.NewInt(types.I64, 0), constant.NewInt(types.I64, 2))
	entry.NewRet(entry.NewLoad(types.I32, ptr))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(3), report.RetVal.Int64())
}

func Test_Memcpy(t *testing.T) {
	m := newTestModule()
	i64ptr := types.NewPointer(types.I64)
	memcpy := m.NewFunc("llvm.memcpy.p0.p0.i64", types.Void,
		ir.NewParam("dst", i64ptr), ir.NewParam("src", i64ptr),
		ir.NewParam("len", types.I64), ir.NewParam("volatile", types.I1))

	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	dst := entry.NewAlloca(types.I64)
	src := entry.NewAlloca(types.I64)
	// dst bytes: 06 00 07 00 cb fe 43 65
	entry.NewStore(constant.NewInt(types.I64, 0x6543fecb00070006), dst)
	// src bytes: cd ab 34 12 67 56 be be
	entry.NewStore(constant.NewInt(types.I64, -0x4141a998edcb5433), src)
	entry.NewCall(memcpy, dst, src, constant.NewInt(types.I64, 5), constant.False)
	entry.NewRet(entry.NewLoad(types.I64, dst))

	report := singleReturn(t, m, "main")
	assert.Equal(t, uint64(0x6543fe671234abcd), report.RetVal.Uint64())
}

func Test_MemcpyPreservesSource(t *testing.T) {
	m := newTestModule()
	i64ptr := types.NewPointer(types.I64)
	memcpy := m.NewFunc("llvm.memcpy.p0.p0.i64", types.Void,
		ir.NewParam("dst", i64ptr), ir.NewParam("src", i64ptr),
		ir.NewParam("len", types.I64), ir.NewParam("volatile", types.I1))

	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	dst := entry.NewAlloca(types.I64)
	src := entry.NewAlloca(types.I64)
	entry.NewStore(constant.NewInt(types.I64, 0), dst)
	entry.NewStore(constant.NewInt(types.I64, 0x1122334455667788), src)
	entry.NewCall(memcpy, dst, src, constant.NewInt(types.I64, 8), constant.False)
	entry.NewRet(entry.NewLoad(types.I64, src))

	report := singleReturn(t, m, "main")
	assert.Equal(t, uint64(0x1122334455667788), report.RetVal.Uint64())
}

func Test_MemsetFills(t *testing.T) {
	m := newTestModule()
	i64ptr := types.NewPointer(types.I64)
	memset := m.NewFunc("llvm.memset.p0.i64", types.Void,
		ir.NewParam("dst", i64ptr), ir.NewParam("val", types.I8),
		ir.NewParam("len", types.I64), ir.NewParam("volatile", types.I1))

	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	dst := entry.NewAlloca(types.I64)
	entry.NewStore(constant.NewInt(types.I64, 0), dst)
	entry.NewCall(memset, dst, constant.NewInt(types.I8, 0xab), constant.NewInt(types.I64, 3), constant.False)
	entry.NewRet(entry.NewLoad(types.I64, dst))

	report := singleReturn(t, m, "main")
	assert.Equal(t, uint64(0x0000000000ababab), report.RetVal.Uint64())
}

func Test_SymbolicHook(t *testing.T) {
	m := newTestModule()
	i32ptr := types.NewPointer(types.I32)
	symbolic := m.NewFunc("symbolic", types.Void,
		ir.NewParam("ptr", i32ptr), ir.NewParam("size", types.I64))

	f := m.NewFunc("main", types.I32)
	entry := f.NewBlock("entry")
	slot := entry.NewAlloca(types.I32)
	entry.NewStore(constant.NewInt(types.I32, 0), slot)
	entry.NewCall(symbolic, slot, constant.NewInt(types.I64, 4))
	entry.NewRet(entry.NewLoad(types.I32, slot))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Returned, reports[0].Status)
	require.Len(t, reports[0].Inputs, 1)
	assert.Equal(t, "symbolic1", reports[0].Inputs[0].Name)
	assert.Equal(t, reports[0].Inputs[0].Value, reports[0].RetVal)
}

func Test_HeapLifecycleErrors(t *testing.T) {
	m := newTestModule()
	i8ptr := types.NewPointer(types.I8)
	malloc := m.NewFunc("malloc", i8ptr, ir.NewParam("size", types.I64))
	free := m.NewFunc("free", types.Void, ir.NewParam("ptr", i8ptr))

	f := m.NewFunc("main", types.Void)
	entry := f.NewBlock("entry")
	buf := entry.NewCall(malloc, constant.NewInt(types.I64, 16))
	entry.NewCall(free, buf)
	entry.NewCall(free, buf)
	entry.NewRet(nil)

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Errored, reports[0].Status)
	assert.Equal(t, state.DoubleFree, reports[0].Err.Kind)
}

func Test_UseAfterFree(t *testing.T) {
	m := newTestModule()
	i8ptr := types.NewPointer(types.I8)
	malloc := m.NewFunc("malloc", i8ptr, ir.NewParam("size", types.I64))
	free := m.NewFunc("free", types.Void, ir.NewParam("ptr", i8ptr))

	f := m.NewFunc("main", types.I8)
	entry := f.NewBlock("entry")
	buf := entry.NewCall(malloc, constant.NewInt(types.I64, 16))
	entry.NewCall(free, buf)
	entry.NewRet(entry.NewLoad(types.I8, buf))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Errored, reports[0].Status)
	assert.Equal(t, state.UseAfterFree, reports[0].Err.Kind)
}

func Test_Unreachable(t *testing.T) {
	m := newTestModule()
	f := m.NewFunc("main", types.Void)
	entry := f.NewBlock("entry")
	entry.NewUnreachable()

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Errored, reports[0].Status)
	assert.Equal(t, state.UnreachableReached, reports[0].Err.Kind)
}

func Test_UnsupportedInstruction(t *testing.T) {
	m := newTestModule()
	f := m.NewFunc("main", types.Float)
	entry := f.NewBlock("entry")
	sum := entry.NewFAdd(constant.NewFloat(types.Float, 1), constant.NewFloat(types.Float, 2))
	entry.NewRet(sum)

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 1)
	require.Equal(t, state.Errored, reports[0].Status)
	require.Equal(t, state.UnsupportedInstruction, reports[0].Err.Kind)
	assert.Contains(t, reports[0].Err.Detail, "fadd")
}

func Test_StepBound(t *testing.T) {
	m := newTestModule()
	f := m.NewFunc("main", types.Void)
	entry := f.NewBlock("entry")
	loop := f.NewBlock("loop")
	entry.NewBr(loop)
	loop.NewBr(loop)

	reports := runModule(t, m, "main", Config{MaxStepsPerPath: 10})
	require.Len(t, reports, 1)
	assert.Equal(t, state.Bound, reports[0].Status)
}

func Test_MaxPathsCapsReports(t *testing.T) {
	m := newTestModule()
	a := ir.NewParam("a", types.I1)
	b := ir.NewParam("b", types.I1)
	f := m.NewFunc("main", types.I64, a, b)
	entry := f.NewBlock("entry")
	bb1 := f.NewBlock("bb1")
	bb2 := f.NewBlock("bb2")
	bb3 := f.NewBlock("bb3")
	bb4 := f.NewBlock("bb4")
	entry.NewCondBr(a, bb1, bb2)
	bb1.NewCondBr(b, bb3, bb4)
	bb2.NewRet(constant.NewInt(types.I64, 2))
	bb3.NewRet(constant.NewInt(types.I64, 3))
	bb4.NewRet(constant.NewInt(types.I64, 4))

	reports := runModule(t, m, "main", Config{MaxPaths: 2})
	assert.Len(t, reports, 2)
}

func Test_ScopeDepthMatchesConstraints(t *testing.T) {
	m := newTestModule()
	c := ir.NewParam("c", types.I1)
	f := m.NewFunc("main", types.I64, c)
	entry := f.NewBlock("entry")
	bbTrue := f.NewBlock("bb.true")
	bbFalse := f.NewBlock("bb.false")
	entry.NewCondBr(c, bbTrue, bbFalse)
	bbTrue.NewRet(constant.NewInt(types.I64, 1))
	bbFalse.NewRet(constant.NewInt(types.I64, 0))

	smt.Init()
	t.Cleanup(smt.Exit)
	proj, err := project.NewProject([]*ir.Module{m})
	require.NoError(t, err)
	ex := NewExecutor(proj, Config{})
	reports, err := ex.Run("main", nil)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	// the solver still sits on the last activated path's constraints
	assert.Equal(t, ex.activeTrail.Len(), ex.solver.Depth())
	for _, report := range reports {
		assert.Len(t, report.Constraints, 1)
	}
}

func Test_BitcastAndConversions(t *testing.T) {
	m := newTestModule()
	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	small := entry.NewTrunc(constant.NewInt(types.I64, 0x1ff), types.I8)
	wide := entry.NewZExt(small, types.I64)
	entry.NewRet(entry.NewBitCast(wide, types.I64))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(0xff), report.RetVal.Int64())
}

func Test_SExtNegative(t *testing.T) {
	m := newTestModule()
	f := m.NewFunc("main", types.I16)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewSExt(constant.NewInt(types.I8, -2), types.I16))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(0xfffe), report.RetVal.Int64())
}

func Test_VectorAddLanewise(t *testing.T) {
	m := newTestModule()
	vecType := types.NewVector(4, types.I8)
	a := constant.NewVector(vecType,
		constant.NewInt(types.I8, 1), constant.NewInt(types.I8, 2),
		constant.NewInt(types.I8, 3), constant.NewInt(types.I8, 255))
	b := constant.NewVector(vecType,
		constant.NewInt(types.I8, 10), constant.NewInt(types.I8, 10),
		constant.NewInt(types.I8, 10), constant.NewInt(types.I8, 1))
	f := m.NewFunc("main", vecType)
	entry := f.NewBlock("entry")
	entry.NewRet(entry.NewAdd(a, b))

	report := singleReturn(t, m, "main")
	// lanes wrap independently: [11, 12, 13, 0]
	assert.Equal(t, uint64(0x000d0c0b), report.RetVal.Uint64())
}

func Test_SymbolicPointerForksPerAllocation(t *testing.T) {
	m := newTestModule()
	c := ir.NewParam("c", types.I1)
	f := m.NewFunc("main", types.I64, c)
	entry := f.NewBlock("entry")
	a := entry.NewAlloca(types.I64)
	b := entry.NewAlloca(types.I64)
	entry.NewStore(constant.NewInt(types.I64, 111), a)
	entry.NewStore(constant.NewInt(types.I64, 222), b)
	ptr := entry.NewSelect(c, a, b)
	entry.NewRet(entry.NewLoad(types.I64, ptr))

	reports := runModule(t, m, "main", Config{})
	require.Len(t, reports, 2)
	require.Equal(t, state.Returned, reports[0].Status)
	require.Equal(t, state.Returned, reports[1].Status)
	assert.Equal(t, int64(111), reports[0].RetVal.Int64())
	assert.Equal(t, int64(222), reports[1].RetVal.Int64())
	assert.Equal(t, int64(1), reports[0].Inputs[0].Value.Int64())
	assert.Equal(t, int64(0), reports[1].Inputs[0].Value.Int64())
}

func Test_CallocZeroes(t *testing.T) {
	m := newTestModule()
	i8ptr := types.NewPointer(types.I8)
	calloc := m.NewFunc("calloc", i8ptr,
		ir.NewParam("count", types.I64), ir.NewParam("size", types.I64))

	f := m.NewFunc("main", types.I64)
	entry := f.NewBlock("entry")
	buf := entry.NewCall(calloc, constant.NewInt(types.I64, 2), constant.NewInt(types.I64, 4))
	cast := entry.NewBitCast(buf, types.NewPointer(types.I64))
	entry.NewRet(entry.NewLoad(types.I64, cast))

	report := singleReturn(t, m, "main")
	assert.Equal(t, int64(0), report.RetVal.Int64())
}
