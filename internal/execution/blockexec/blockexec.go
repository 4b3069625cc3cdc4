// Package blockexec executes one pipeline block with the fixed hook
// precedence: override > before > system > after, override being
// exclusive of the other three.
package blockexec

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/execution/hookrt"
)

// StageFunc is a registered system implementation for one block type. A
// returned error (or a panic) is contained at the block boundary and
// converted into a block failure.
type StageFunc func(*domain.ExecutionContext) error

// HookSource lists the hooks registered for an experiment, in
// registration order. Callers filter to the current block.
type HookSource interface {
	ListHooks(ctx context.Context, experimentID string) ([]domain.Hook, error)
}

// Executor runs blocks against execution contexts.
type Executor struct {
	hooks HookSource
}

func New(hooks HookSource) *Executor {
	if hooks == nil {
		return nil
	}
	return &Executor{hooks: hooks}
}

// ExecuteBlock runs one block to a terminal per-block outcome. It never
// returns an error to its caller: every failure, including a panic in a
// stage implementation or hook, is logged and converted into a failed
// status plus an error string.
func (e *Executor) ExecuteBlock(
	ctx context.Context,
	block *domain.Block,
	ec *domain.ExecutionContext,
	system StageFunc,
	experimentID string,
) (ok bool, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("Block execution failed: %v\n%s", r, debug.Stack())
			ec.Log("ERROR: " + msg)
			block.Status = domain.BlockFailed
			ok = false
			errMsg = msg
		}
	}()

	ec.SetCurrentBlock(block.ID)
	ec.Log(fmt.Sprintf("=== Executing block: %s ===", block.Type))

	if !block.Enabled {
		ec.Log(fmt.Sprintf("Block %s is disabled, skipping", block.Type))
		block.Status = domain.BlockSkipped
		ec.MarkBlockComplete(block.ID)
		return true, ""
	}

	block.Status = domain.BlockRunning

	allHooks, err := e.hooks.ListHooks(ctx, experimentID)
	if err != nil {
		msg := fmt.Sprintf("Block execution failed: load hooks: %v", err)
		ec.Log("ERROR: " + msg)
		block.Status = domain.BlockFailed
		return false, msg
	}

	var overrideHooks, beforeHooks, afterHooks []domain.Hook
	for _, h := range allHooks {
		if h.BlockID != block.ID {
			continue
		}
		switch h.Role {
		case domain.HookOverride:
			overrideHooks = append(overrideHooks, h)
		case domain.HookBefore:
			beforeHooks = append(beforeHooks, h)
		case domain.HookAfter:
			afterHooks = append(afterHooks, h)
		}
	}

	if len(overrideHooks) > 0 {
		// Override hooks replace the system implementation entirely.
		ec.Log(fmt.Sprintf("Found %d override hook(s), system logic will be skipped", len(overrideHooks)))
		for _, hook := range overrideHooks {
			success, output := hookrt.Execute(hook, ec, string(block.Type))
			if !success {
				block.Status = domain.BlockFailed
				return false, fmt.Sprintf("Override hook failed: %s", output)
			}
		}
	} else {
		for _, hook := range beforeHooks {
			ec.Log("Executing before hook")
			success, output := hookrt.Execute(hook, ec, string(block.Type))
			if !success {
				block.Status = domain.BlockFailed
				return false, fmt.Sprintf("Before hook failed: %s", output)
			}
		}

		ec.Log(fmt.Sprintf("Executing system logic for %s", block.Type))
		if err := runSystem(system, ec); err != nil {
			msg := fmt.Sprintf("System logic failed: %v", err)
			ec.Log("ERROR: " + msg)
			block.Status = domain.BlockFailed
			return false, msg
		}

		for _, hook := range afterHooks {
			ec.Log("Executing after hook")
			success, output := hookrt.Execute(hook, ec, string(block.Type))
			if !success {
				block.Status = domain.BlockFailed
				return false, fmt.Sprintf("After hook failed: %s", output)
			}
		}
	}

	block.Status = domain.BlockCompleted
	ec.MarkBlockComplete(block.ID)
	ec.Log(fmt.Sprintf("Block %s completed successfully", block.Type))
	return true, ""
}

// runSystem invokes the stage implementation once, converting a panic
// into an error carrying the stack trace.
func runSystem(system StageFunc, ec *domain.ExecutionContext) (err error) {
	if system == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v\n%s", r, debug.Stack())
		}
	}()
	return system(ec)
}
