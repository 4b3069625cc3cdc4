package runexec

import (
	"sync"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/execution/blockexec"
)

// Registry maps the closed set of block kinds to their system
// implementations. Exactly one implementation per block type; unresolved
// types execute as a no-op.
type Registry struct {
	mu     sync.RWMutex
	stages map[domain.BlockType]blockexec.StageFunc
}

func NewRegistry() *Registry {
	return &Registry{stages: make(map[domain.BlockType]blockexec.StageFunc)}
}

// Register binds a system implementation to a block type, replacing any
// previous binding.
func (r *Registry) Register(blockType domain.BlockType, fn blockexec.StageFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[blockType] = fn
}

// Resolve returns the implementation for the block type, falling back to
// a no-op when none is registered.
func (r *Registry) Resolve(blockType domain.BlockType) blockexec.StageFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.stages[blockType]; ok && fn != nil {
		return fn
	}
	return func(*domain.ExecutionContext) error { return nil }
}
