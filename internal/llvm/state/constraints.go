package state

import (
	"gsymex/internal/smt"
)

// Constraint is the ordered list of boolean terms that must all hold on
// a path. Its length always equals the solver scope depth the executor
// maintains for the path.
type Constraint struct {
	constraints []*smt.Bool
}

func NewConstraints(constraints ...*smt.Bool) *Constraint {
	c := &Constraint{
		constraints: make([]*smt.Bool, len(constraints)),
	}
	copy(c.constraints, constraints)
	return c
}

func (c *Constraint) Append(values ...*smt.Bool) {
	c.constraints = append(c.constraints, values...)
}

func (c *Constraint) Len() int { return len(c.constraints) }

// At returns the i-th constraint in assertion order.
func (c *Constraint) At(i int) *smt.Bool { return c.constraints[i] }

// List returns the constraints in assertion order.
func (c *Constraint) List() []*smt.Bool {
	result := make([]*smt.Bool, len(c.constraints))
	copy(result, c.constraints)
	return result
}

func (c *Constraint) Clone() *Constraint {
	return NewConstraints(c.constraints...)
}

// CommonPrefix returns how many leading constraints the receiver shares
// with the other list, used for solver scope reconstruction.
func (c *Constraint) CommonPrefix(other *Constraint) int {
	n := 0
	for n < len(c.constraints) && n < len(other.constraints) {
		if c.constraints[n].GetRaw() != other.constraints[n].GetRaw() {
			break
		}
		n++
	}
	return n
}
