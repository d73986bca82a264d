// Package project is the read-only view over the parsed LLVM modules:
// function lookup, data-layout resolution and constant lowering. It is
// shared by every path the executor explores.
package project

import (
	"github.com/llir/llvm/ir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Base addresses for the deterministic ids handed to functions and
// basic blocks. They live far away from the bump allocator arena so a
// lowered function pointer or block address never aliases an
// allocation.
const (
	functionAddrBase = 0xf000_0000_0000_0000
	blockAddrBase    = 0xb000_0000_0000_0000
)

// Project is the immutable module set under execution.
type Project struct {
	modules []*ir.Module
	layout  *DataLayout

	funcs      map[string]*ir.Func
	funcAddrs  map[string]uint64
	addrFuncs  map[uint64]*ir.Func
	blockAddrs map[string]map[string]uint64
}

// NewProject indexes the given modules. All modules must carry the same
// data-layout string; mismatches are rejected.
func NewProject(modules []*ir.Module) (*Project, error) {
	if len(modules) == 0 {
		return nil, errors.New("no modules given")
	}
	layout, err := ParseDataLayout(modules[0].DataLayout)
	if err != nil {
		return nil, err
	}
	p := &Project{
		modules:    modules,
		layout:     layout,
		funcs:      make(map[string]*ir.Func),
		funcAddrs:  make(map[string]uint64),
		addrFuncs:  make(map[uint64]*ir.Func),
		blockAddrs: make(map[string]map[string]uint64),
	}
	var nextFn, nextBlock uint64
	for _, module := range modules {
		if module.DataLayout != modules[0].DataLayout {
			return nil, errors.Errorf("mismatched data layout %q vs %q",
				module.DataLayout, modules[0].DataLayout)
		}
		for _, f := range module.Funcs {
			name := f.Name()
			if _, ok := p.funcs[name]; ok {
				log.Debugf("duplicate function %s, keeping first definition", name)
				continue
			}
			p.funcs[name] = f
			addr := uint64(functionAddrBase) + nextFn*16
			nextFn++
			p.funcAddrs[name] = addr
			p.addrFuncs[addr] = f
			blocks := make(map[string]uint64, len(f.Blocks))
			for _, b := range f.Blocks {
				blocks[b.Ident()] = uint64(blockAddrBase) + nextBlock*16
				nextBlock++
			}
			p.blockAddrs[name] = blocks
		}
	}
	log.Debugf("project: %d modules, %d functions", len(modules), len(p.funcs))
	return p, nil
}

func (p *Project) Layout() *DataLayout  { return p.layout }
func (p *Project) Modules() []*ir.Module { return p.modules }

// Function looks a function up by linkage name.
func (p *Project) Function(name string) (*ir.Func, bool) {
	f, ok := p.funcs[name]
	return f, ok
}

// Globals returns every global of the module set in declaration order.
func (p *Project) Globals() []*ir.Global {
	var result []*ir.Global
	for _, module := range p.modules {
		result = append(result, module.Globals...)
	}
	return result
}

// FunctionAddress is the deterministic id a lowered pointer to the
// function carries.
func (p *Project) FunctionAddress(name string) (uint64, bool) {
	addr, ok := p.funcAddrs[name]
	return addr, ok
}

// FunctionAt maps a concrete pointer value back to the function it
// identifies, for indirect calls.
func (p *Project) FunctionAt(addr uint64) (*ir.Func, bool) {
	f, ok := p.addrFuncs[addr]
	return f, ok
}

// BlockAddress is the deterministic id of a blockaddress constant.
func (p *Project) BlockAddress(fn, block string) (uint64, bool) {
	blocks, ok := p.blockAddrs[fn]
	if !ok {
		return 0, false
	}
	addr, ok := blocks[block]
	return addr, ok
}
