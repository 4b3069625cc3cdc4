package hookrt

import (
	"strings"
	"testing"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

func newHook(role domain.HookRole, code string) domain.Hook {
	return domain.Hook{
		ID:           "hook-1",
		ExperimentID: "exp-1",
		BlockID:      "block-1",
		Role:         role,
		Source:       domain.HookInline,
		Code:         code,
		CodeHash:     domain.HashCode(code),
	}
}

func newContext() *domain.ExecutionContext {
	ec := domain.NewExecutionContext("run-1", 42, "ds.csv")
	ec.DetectedTask = "classification"
	ec.TargetColumn = "label"
	ec.FeatureNames = []string{"a", "b", "c"}
	ec.Metrics["accuracy"] = 0.9
	return ec
}

func TestExecuteSetAndLog(t *testing.T) {
	code := strings.Join([]string{
		"# adjust recorded metrics",
		"set metrics.adjusted = [metrics.accuracy] * 100",
		"log \"accuracy recorded\"",
	}, "\n")
	ec := newContext()

	ok, output := Execute(newHook(domain.HookAfter, code), ec, "evaluation")
	if !ok {
		t.Fatalf("hook failed: %s", output)
	}
	if got, want := ec.Metrics["adjusted"], 90.0; got != want {
		t.Fatalf("set did not apply: got %v want %v", got, want)
	}
	logs := strings.Join(ec.DrainLogs(), "\n")
	if !strings.Contains(logs, "Executing after hook for evaluation") {
		t.Fatalf("missing execution log: %q", logs)
	}
	if !strings.Contains(logs, "accuracy recorded") {
		t.Fatalf("missing hook log line: %q", logs)
	}
}

func TestExecuteEmitCapturesOutput(t *testing.T) {
	code := "emit \"line one\"\nemit [metrics.accuracy]"
	ec := newContext()

	ok, output := Execute(newHook(domain.HookBefore, code), ec, "evaluation")
	if !ok {
		t.Fatalf("hook failed: %s", output)
	}
	if output != "line one\n0.9\n" {
		t.Fatalf("unexpected captured output: %q", output)
	}
	logs := strings.Join(ec.DrainLogs(), "\n")
	if !strings.Contains(logs, "Hook output: line one") {
		t.Fatalf("captured output not logged: %q", logs)
	}
}

func TestExecuteFailDirective(t *testing.T) {
	code := "set metadata.touched = 1\nfail \"threshold not met\""
	ec := newContext()

	ok, msg := Execute(newHook(domain.HookAfter, code), ec, "evaluation")
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(msg, "Hook execution failed") || !strings.Contains(msg, "threshold not met") {
		t.Fatalf("unexpected failure message: %q", msg)
	}
	if !strings.Contains(msg, "at line 2") {
		t.Fatalf("failure must name the failing line: %q", msg)
	}
	// Mutations before the failing line stick.
	if got := ec.Metadata["touched"]; got != 1.0 {
		t.Fatalf("earlier mutation rolled back: %v", got)
	}
	logs := strings.Join(ec.DrainLogs(), "\n")
	if !strings.Contains(logs, "ERROR: Hook execution failed") {
		t.Fatalf("failure not logged: %q", logs)
	}
}

func TestExecuteConditionalExpression(t *testing.T) {
	code := "set metadata.grade = [metrics.accuracy] >= 0.8 ? \"pass\" : \"fail\""
	ec := newContext()

	ok, msg := Execute(newHook(domain.HookAfter, code), ec, "evaluation")
	if !ok {
		t.Fatalf("hook failed: %s", msg)
	}
	if got := ec.Metadata["grade"]; got != "pass" {
		t.Fatalf("conditional result: %v", got)
	}
}

func TestExecuteReadableSurface(t *testing.T) {
	code := strings.Join([]string{
		"set metadata.echo_run = run_id",
		"set metadata.echo_seed = seed",
		"set metadata.echo_task = detected_task",
		"set metadata.echo_features = feature_count",
	}, "\n")
	ec := newContext()

	ok, msg := Execute(newHook(domain.HookBefore, code), ec, "preprocessing")
	if !ok {
		t.Fatalf("hook failed: %s", msg)
	}
	if ec.Metadata["echo_run"] != "run-1" {
		t.Fatalf("run_id not readable: %v", ec.Metadata["echo_run"])
	}
	if ec.Metadata["echo_seed"] != 42.0 {
		t.Fatalf("seed not readable: %v", ec.Metadata["echo_seed"])
	}
	if ec.Metadata["echo_task"] != "classification" {
		t.Fatalf("detected_task not readable: %v", ec.Metadata["echo_task"])
	}
	if ec.Metadata["echo_features"] != 3.0 {
		t.Fatalf("feature_count not readable: %v", ec.Metadata["echo_features"])
	}
}

func TestExecuteWritesVisibleWithinHook(t *testing.T) {
	code := "set metrics.base = 10\nset metrics.doubled = [metrics.base] * 2"
	ec := newContext()

	ok, msg := Execute(newHook(domain.HookAfter, code), ec, "evaluation")
	if !ok {
		t.Fatalf("hook failed: %s", msg)
	}
	if got := ec.Metrics["doubled"]; got != 20.0 {
		t.Fatalf("earlier write not visible to later statement: %v", got)
	}
}

func TestExecuteRejectsUnknownTarget(t *testing.T) {
	ec := newContext()
	ok, msg := Execute(newHook(domain.HookAfter, "set raw_data.rows = 1"), ec, "preprocessing")
	if ok {
		t.Fatalf("expected failure for unwritable target")
	}
	if !strings.Contains(msg, "unknown assignment target") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestExecuteFeatureImportanceRequiresNumeric(t *testing.T) {
	ec := newContext()
	ok, msg := Execute(newHook(domain.HookAfter, "set feature_importance.a = \"high\""), ec, "explainability")
	if ok {
		t.Fatalf("expected failure for non-numeric importance")
	}
	if !strings.Contains(msg, "must be numeric") {
		t.Fatalf("unexpected message: %q", msg)
	}

	ok, msg = Execute(newHook(domain.HookAfter, "set feature_importance.a = 0.75"), ec, "explainability")
	if !ok {
		t.Fatalf("numeric importance rejected: %s", msg)
	}
	if ec.FeatureImportance["a"] != 0.75 {
		t.Fatalf("importance not applied: %v", ec.FeatureImportance)
	}
}

func TestExecuteSyntaxErrorNamesLine(t *testing.T) {
	ec := newContext()
	ok, msg := Execute(newHook(domain.HookBefore, "log \"ok\"\nfrobnicate 1"), ec, "training")
	if ok {
		t.Fatalf("expected parse failure")
	}
	if !strings.Contains(msg, "line 2") || !strings.Contains(msg, "unknown directive") {
		t.Fatalf("unexpected message: %q", msg)
	}
}
