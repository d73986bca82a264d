package smt

import (
	"fmt"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
	"github.com/pkg/errors"
)

// Status is the outcome of a satisfiability check.
type Status int

const (
	Sat Status = iota
	Unsat
	Unknown
)

func (s Status) String() string {
	switch s {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Init initializes the yices runtime. Call once per process before any
// term is built; pair with Exit.
func Init() { yices2.Init() }

// Exit releases the yices runtime.
func Exit() { yices2.Exit() }

// Solver wraps a single yices context with a push/pop scope stack. The
// executor shares one solver across all paths and keeps the scope depth
// equal to the active path's constraint count.
type Solver struct {
	ctx   yices2.ContextT
	depth int
}

func NewSolver() *Solver {
	s := &Solver{}
	yices2.InitContext(yices2.ConfigT{}, &s.ctx)
	return s
}

// Depth returns the number of open scopes.
func (s *Solver) Depth() int { return s.depth }

func (s *Solver) Push() error {
	if errcode := yices2.Push(s.ctx); errcode < 0 {
		return errors.Errorf("solver push: %s", yices2.ErrorString())
	}
	s.depth++
	return nil
}

func (s *Solver) Pop() error {
	if s.depth == 0 {
		return errors.New("solver pop: no open scope")
	}
	if errcode := yices2.Pop(s.ctx); errcode < 0 {
		return errors.Errorf("solver pop: %s", yices2.ErrorString())
	}
	s.depth--
	return nil
}

// PopTo pops scopes until the given depth.
func (s *Solver) PopTo(depth int) error {
	for s.depth > depth {
		if err := s.Pop(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solver) Assert(b *Bool) error {
	if errcode := yices2.AssertFormula(s.ctx, b.GetRaw()); errcode < 0 {
		return errors.Errorf("solver assert: %s", yices2.ErrorString())
	}
	return nil
}

func (s *Solver) Check() Status {
	status := yices2.CheckContext(s.ctx, yices2.ParamT{})
	switch status {
	case yices2.StatusSat:
		return Sat
	case yices2.StatusUnsat:
		return Unsat
	default:
		return Unknown
	}
}

// CheckAssuming checks satisfiability of the current scope plus the
// given conditions, without leaving them asserted.
func (s *Solver) CheckAssuming(conds ...*Bool) (Status, error) {
	if err := s.Push(); err != nil {
		return Unknown, err
	}
	for _, c := range conds {
		if err := s.Assert(c); err != nil {
			_ = s.Pop()
			return Unknown, err
		}
	}
	status := s.Check()
	if err := s.Pop(); err != nil {
		return Unknown, err
	}
	return status, nil
}

// Model returns a satisfying assignment. Only valid immediately after a
// Check that returned Sat.
func (s *Solver) Model() (*Model, error) {
	raw := yices2.GetModel(s.ctx, 1)
	if raw == nil {
		return nil, fmt.Errorf("solver model: %s", yices2.ErrorString())
	}
	return &Model{raw: raw}, nil
}
