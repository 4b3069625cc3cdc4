package domain

import "testing"

func newTestRun() Run {
	return Run{
		ID:               "run-1",
		ExperimentID:     "exp-1",
		PipelineSnapshot: NewPipeline().Snapshot(),
		DatasetSHA256:    "abc123",
		Seed:             DefaultSeed,
		Status:           RunCreated,
	}
}

func TestRunLifecycleHappyPath(t *testing.T) {
	run := newTestRun()
	if run.Terminal() {
		t.Fatalf("created run must not be terminal")
	}
	if err := run.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != RunRunning || run.StartedAt == nil {
		t.Fatalf("start did not transition: status=%s", run.Status)
	}
	if err := run.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if run.Status != RunCompleted || run.CompletedAt == nil {
		t.Fatalf("complete did not transition: status=%s", run.Status)
	}
	if !run.Terminal() {
		t.Fatalf("completed run must be terminal")
	}
}

func TestRunGuardsInvalidTransitions(t *testing.T) {
	run := newTestRun()
	if err := run.Complete(); err == nil {
		t.Fatalf("expected error completing a created run")
	}
	if err := run.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := run.Start(); err == nil {
		t.Fatalf("expected error starting a running run")
	}
	if err := run.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := run.Fail("boom", ""); err == nil {
		t.Fatalf("expected error failing a completed run")
	}
	if err := run.Complete(); err == nil {
		t.Fatalf("expected error completing a completed run")
	}
}

func TestRunFailRecordsBlock(t *testing.T) {
	run := newTestRun()
	if err := run.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := run.Fail("System logic failed: all model training failed", "block-7"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if run.Status != RunFailed || !run.Terminal() {
		t.Fatalf("fail did not transition: status=%s", run.Status)
	}
	if run.ErrorMessage == "" || run.FailedBlockID != "block-7" {
		t.Fatalf("fail did not record details: %q %q", run.ErrorMessage, run.FailedBlockID)
	}
	if run.CompletedAt == nil {
		t.Fatalf("failed run must carry a completion time")
	}
}

func TestRunFailFromCreated(t *testing.T) {
	run := newTestRun()
	if err := run.Fail("Dataset not found", ""); err != nil {
		t.Fatalf("fail from created: %v", err)
	}
	if run.Status != RunFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
}
