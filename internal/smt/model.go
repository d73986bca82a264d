package smt

import (
	"math/big"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
	"github.com/pkg/errors"
)

// Model is a satisfying assignment extracted from the solver.
type Model struct {
	raw *yices2.ModelT
}

// Eval returns the unsigned concrete value the model assigns to bv.
func (m *Model) Eval(bv *BitVec) (*big.Int, error) {
	intVal := make([]int32, bv.Size())
	if errcode := yices2.GetBvValue(*m.raw, bv.GetRaw(), intVal); errcode != 0 {
		return nil, errors.Errorf("model eval: %s", yices2.ErrorString())
	}
	result := big.NewInt(0)
	for i := range intVal {
		result.SetBit(result, i, uint(intVal[i]))
	}
	return result, nil
}

// EvalSigned interprets the assignment in two's complement.
func (m *Model) EvalSigned(bv *BitVec) (*big.Int, error) {
	v, err := m.Eval(bv)
	if err != nil {
		return nil, err
	}
	if v.Bit(int(bv.Size())-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(bv.Size())))
	}
	return v, nil
}
