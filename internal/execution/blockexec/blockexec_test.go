package blockexec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

type fakeHookSource struct {
	hooks []domain.Hook
	err   error
}

func (f *fakeHookSource) ListHooks(ctx context.Context, experimentID string) ([]domain.Hook, error) {
	return f.hooks, f.err
}

func hookFor(blockID string, role domain.HookRole, code string) domain.Hook {
	return domain.Hook{
		ID:           "hook-" + string(role),
		ExperimentID: "exp-1",
		BlockID:      blockID,
		Role:         role,
		Source:       domain.HookInline,
		Code:         code,
		CodeHash:     domain.HashCode(code),
	}
}

func testBlock() *domain.Block {
	return &domain.Block{
		ID:      "block-1",
		Type:    domain.BlockEvaluation,
		Enabled: true,
		Status:  domain.BlockIdle,
	}
}

func testEC() *domain.ExecutionContext {
	return domain.NewExecutionContext("run-1", 42, "ds.csv")
}

func TestExecuteBlockDisabledSkips(t *testing.T) {
	exec := New(&fakeHookSource{})
	block := testBlock()
	block.Enabled = false
	ec := testEC()

	systemRan := false
	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, func(*domain.ExecutionContext) error {
		systemRan = true
		return nil
	}, "exp-1")

	if !ok || msg != "" {
		t.Fatalf("disabled block must succeed: %v %q", ok, msg)
	}
	if systemRan {
		t.Fatalf("system logic ran for a disabled block")
	}
	if block.Status != domain.BlockSkipped {
		t.Fatalf("status = %s, want skipped", block.Status)
	}
	if done := ec.CompletedBlocks(); len(done) != 1 || done[0] != block.ID {
		t.Fatalf("skipped block not marked complete: %v", done)
	}
}

func TestExecuteBlockOrdering(t *testing.T) {
	hooks := &fakeHookSource{hooks: []domain.Hook{
		hookFor("block-1", domain.HookAfter, "log \"after ran\""),
		hookFor("block-1", domain.HookBefore, "log \"before ran\""),
	}}
	exec := New(hooks)
	block := testBlock()
	ec := testEC()

	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, func(c *domain.ExecutionContext) error {
		c.Log("system ran")
		return nil
	}, "exp-1")
	if !ok {
		t.Fatalf("block failed: %s", msg)
	}
	if block.Status != domain.BlockCompleted {
		t.Fatalf("status = %s, want completed", block.Status)
	}

	logs := strings.Join(ec.DrainLogs(), "\n")
	before := strings.Index(logs, "before ran")
	system := strings.Index(logs, "system ran")
	after := strings.Index(logs, "after ran")
	if before < 0 || system < 0 || after < 0 {
		t.Fatalf("missing stage logs: %q", logs)
	}
	if !(before < system && system < after) {
		t.Fatalf("stages ran out of order: %q", logs)
	}
}

func TestExecuteBlockOverrideSkipsSystem(t *testing.T) {
	hooks := &fakeHookSource{hooks: []domain.Hook{
		hookFor("block-1", domain.HookBefore, "log \"before ran\""),
		hookFor("block-1", domain.HookOverride, "log \"override ran\""),
		hookFor("block-1", domain.HookAfter, "log \"after ran\""),
	}}
	exec := New(hooks)
	block := testBlock()
	ec := testEC()

	systemRan := false
	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, func(*domain.ExecutionContext) error {
		systemRan = true
		return nil
	}, "exp-1")
	if !ok {
		t.Fatalf("block failed: %s", msg)
	}
	if systemRan {
		t.Fatalf("system logic ran despite an override hook")
	}

	logs := strings.Join(ec.DrainLogs(), "\n")
	if !strings.Contains(logs, "Found 1 override hook(s), system logic will be skipped") {
		t.Fatalf("missing override log: %q", logs)
	}
	if !strings.Contains(logs, "override ran") {
		t.Fatalf("override hook did not run: %q", logs)
	}
	if strings.Contains(logs, "before ran") || strings.Contains(logs, "after ran") {
		t.Fatalf("before/after hooks ran despite an override: %q", logs)
	}
}

func TestExecuteBlockBeforeFailureShortCircuits(t *testing.T) {
	hooks := &fakeHookSource{hooks: []domain.Hook{
		hookFor("block-1", domain.HookBefore, "fail \"precondition\""),
		hookFor("block-1", domain.HookAfter, "log \"after ran\""),
	}}
	exec := New(hooks)
	block := testBlock()
	ec := testEC()

	systemRan := false
	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, func(*domain.ExecutionContext) error {
		systemRan = true
		return nil
	}, "exp-1")
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.HasPrefix(msg, "Before hook failed:") {
		t.Fatalf("unexpected message: %q", msg)
	}
	if systemRan {
		t.Fatalf("system logic ran after a failed before hook")
	}
	if block.Status != domain.BlockFailed {
		t.Fatalf("status = %s, want failed", block.Status)
	}
	if strings.Contains(strings.Join(ec.DrainLogs(), "\n"), "after ran") {
		t.Fatalf("after hook ran despite the before failure")
	}
}

func TestExecuteBlockSystemFailureSkipsAfter(t *testing.T) {
	hooks := &fakeHookSource{hooks: []domain.Hook{
		hookFor("block-1", domain.HookAfter, "log \"after ran\""),
	}}
	exec := New(hooks)
	block := testBlock()
	ec := testEC()

	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, func(*domain.ExecutionContext) error {
		return errors.New("boom")
	}, "exp-1")
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(msg, "System logic failed: boom") {
		t.Fatalf("unexpected message: %q", msg)
	}
	if block.Status != domain.BlockFailed {
		t.Fatalf("status = %s, want failed", block.Status)
	}
	if strings.Contains(strings.Join(ec.DrainLogs(), "\n"), "after ran") {
		t.Fatalf("after hook ran despite the system failure")
	}
}

func TestExecuteBlockContainsPanic(t *testing.T) {
	exec := New(&fakeHookSource{})
	block := testBlock()
	ec := testEC()

	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, func(*domain.ExecutionContext) error {
		panic("stage blew up")
	}, "exp-1")
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(msg, "stage blew up") {
		t.Fatalf("panic message lost: %q", msg)
	}
	if block.Status != domain.BlockFailed {
		t.Fatalf("status = %s, want failed", block.Status)
	}
}

func TestExecuteBlockFiltersHooksByBlock(t *testing.T) {
	hooks := &fakeHookSource{hooks: []domain.Hook{
		hookFor("other-block", domain.HookOverride, "fail \"wrong block\""),
	}}
	exec := New(hooks)
	block := testBlock()
	ec := testEC()

	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, nil, "exp-1")
	if !ok {
		t.Fatalf("hooks for another block affected execution: %s", msg)
	}
	if block.Status != domain.BlockCompleted {
		t.Fatalf("status = %s, want completed", block.Status)
	}
}

func TestExecuteBlockHookLoadFailure(t *testing.T) {
	exec := New(&fakeHookSource{err: errors.New("db down")})
	block := testBlock()
	ec := testEC()

	ok, msg := exec.ExecuteBlock(context.Background(), block, ec, nil, "exp-1")
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(msg, "load hooks: db down") {
		t.Fatalf("unexpected message: %q", msg)
	}
	if block.Status != domain.BlockFailed {
		t.Fatalf("status = %s, want failed", block.Status)
	}
}
