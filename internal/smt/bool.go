package smt

import (
	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
)

// Bool is a boolean term, used for path constraints and branch
// feasibility queries.
type Bool struct {
	name  string
	value yices2.TermT
}

func NewBoolVal(value bool) *Bool {
	if value {
		return &Bool{value: yices2.True()}
	}
	return &Bool{value: yices2.False()}
}

func NewBoolFromTerm(term yices2.TermT) *Bool {
	return &Bool{value: term}
}

func (b *Bool) GetRaw() yices2.TermT { return b.value }
func (b *Bool) GetName() string      { return b.name }

func (b *Bool) Not() *Bool {
	return &Bool{value: yices2.Not(b.value)}
}

func (b *Bool) And(other *Bool) *Bool {
	return &Bool{value: yices2.And2(b.value, other.value)}
}

func (b *Bool) Or(other *Bool) *Bool {
	return &Bool{value: yices2.Or2(b.value, other.value)}
}

func (b *Bool) IsSymbolic() bool {
	return yices2.TermConstructor(b.value) != yices2.TrmCnstrBoolConstant
}

func (b *Bool) IsTrue() bool {
	if b.IsSymbolic() {
		return false
	}
	var val int32
	yices2.BoolConstValue(b.value, &val)
	return val != 0
}

func (b *Bool) IsFalse() bool {
	if b.IsSymbolic() {
		return false
	}
	var val int32
	yices2.BoolConstValue(b.value, &val)
	return val == 0
}

// AsBitVec lowers the boolean to a width-1 bitvector.
func (b *Bool) AsBitVec() *BitVec {
	one := NewBitVecValInt64(1, 1)
	zero := NewBitVecValInt64(0, 1)
	return Ite(b, one, zero)
}
