package executor

import (
	"fmt"
	"math/big"
	"strings"

	"gsymex/internal/llvm/state"
	"gsymex/internal/smt"
)

// InputValue is the concrete witness for one named symbolic input.
type InputValue struct {
	Name  string
	Width uint32
	Value *big.Int
}

// Report describes one completed path.
type Report struct {
	PathID int
	Status state.Status
	Err    *state.PathError

	// RetVal is the concrete return value under the chosen model, nil
	// for void returns and non-returning terminations.
	RetVal   *big.Int
	RetWidth uint32

	// Inputs are concrete assignments for all named symbolic inputs,
	// in creation order.
	Inputs []InputValue

	// Constraints is the ordered path constraint, kept as a debug
	// artifact.
	Constraints []*smt.Bool

	// Site is the instruction the path stopped at, set on error.
	Site string

	Warnings []string
	Steps    int
}

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "path %d: %s", r.PathID, r.Status)
	if r.Err != nil {
		fmt.Fprintf(&sb, " (%v)", r.Err)
	}
	if r.Site != "" {
		fmt.Fprintf(&sb, " at %s", r.Site)
	}
	if r.RetVal != nil {
		fmt.Fprintf(&sb, " -> 0x%x:bv%d", r.RetVal, r.RetWidth)
	}
	for _, in := range r.Inputs {
		fmt.Fprintf(&sb, "\n  %s = 0x%x", in.Name, in.Value)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "\n  warning: %s", w)
	}
	return sb.String()
}

// buildReport concretizes the path under its final constraint. The
// solver scope must already match the path.
func (ex *Executor) buildReport(p *state.Path) *Report {
	report := &Report{
		PathID:      p.ID,
		Status:      p.Status,
		Err:         p.Err,
		Constraints: p.Constraints.List(),
		Warnings:    p.Warnings,
		Steps:       p.Steps,
	}
	if p.Err != nil {
		report.Site = ex.describeSite(p)
	}
	if p.Status == state.AssumptionUnsat {
		return report
	}
	status := ex.solver.Check()
	if status != smt.Sat {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("no model extracted: final check is %s", status))
		return report
	}
	model, err := ex.solver.Model()
	if err != nil {
		report.Warnings = append(report.Warnings, err.Error())
		return report
	}
	if p.RetVal != nil {
		if v, err := model.Eval(p.RetVal); err == nil {
			report.RetVal = v
			report.RetWidth = p.RetVal.Size()
		} else {
			report.Warnings = append(report.Warnings, err.Error())
		}
	}
	for _, in := range p.Inputs.Items() {
		v, err := model.Eval(in)
		if err != nil {
			report.Warnings = append(report.Warnings, err.Error())
			continue
		}
		report.Inputs = append(report.Inputs, InputValue{
			Name:  in.GetName(),
			Width: in.Size(),
			Value: v,
		})
	}
	return report
}

func (ex *Executor) describeSite(p *state.Path) string {
	if len(p.Frames) == 0 {
		return ""
	}
	f := p.Frame()
	if inst := p.CurrentInst(); inst != nil {
		return fmt.Sprintf("%s/%s#%d", f.Fn.Name(), f.Block.Ident(), f.InstIdx)
	}
	return fmt.Sprintf("%s/%s#term", f.Fn.Name(), f.Block.Ident())
}
