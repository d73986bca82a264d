package strategy

import (
	"fmt"

	"gsymex/internal/llvm/state"
)

// DFS explores paths depth first.
type DFS struct {
	paths []*state.Path
}

func NewDFS() *DFS {
	return &DFS{
		paths: make([]*state.Path, 0),
	}
}

func (dfs *DFS) Size() int {
	return len(dfs.paths)
}

func (dfs *DFS) HasNext() bool {
	return len(dfs.paths) > 0
}

func (dfs *DFS) Pop() (*state.Path, error) {
	if len(dfs.paths) == 0 {
		return nil, fmt.Errorf("path queue is empty")
	}
	path := dfs.paths[len(dfs.paths)-1]
	dfs.paths = dfs.paths[:len(dfs.paths)-1]
	return path, nil
}

// Push enqueues paths so the first argument is explored next; fork
// children arrive true-child first and reports stay reproducible.
func (dfs *DFS) Push(paths ...*state.Path) error {
	for i := len(paths) - 1; i >= 0; i-- {
		dfs.paths = append(dfs.paths, paths[i])
	}
	return nil
}
