// Package strategy implements the path selection strategies of the
// executor worklist.
package strategy

import (
	"gsymex/internal/llvm/state"
)

type Strategy interface {
	Size() int
	HasNext() bool
	Pop() (*state.Path, error)
	Push(...*state.Path) error
}
