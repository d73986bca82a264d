package strategy

import (
	"fmt"

	"gsymex/internal/llvm/state"
)

// BFS explores paths breadth first.
type BFS struct {
	paths []*state.Path
}

func NewBFS() *BFS {
	return &BFS{
		paths: make([]*state.Path, 0),
	}
}

func (bfs *BFS) Size() int {
	return len(bfs.paths)
}

func (bfs *BFS) HasNext() bool {
	return len(bfs.paths) > 0
}

func (bfs *BFS) Pop() (*state.Path, error) {
	if len(bfs.paths) == 0 {
		return nil, fmt.Errorf("path queue is empty")
	}
	path := bfs.paths[0]
	bfs.paths = bfs.paths[1:]
	return path, nil
}

func (bfs *BFS) Push(paths ...*state.Path) error {
	bfs.paths = append(bfs.paths, paths...)
	return nil
}
