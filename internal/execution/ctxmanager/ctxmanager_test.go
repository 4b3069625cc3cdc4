package ctxmanager

import (
	"strings"
	"testing"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

func testRun() *domain.Run {
	return &domain.Run{
		ID:               "run-1",
		ExperimentID:     "exp-1",
		PipelineSnapshot: domain.NewPipeline().Snapshot(),
		DatasetSHA256:    "abc",
		Seed:             123,
		Status:           domain.RunCreated,
	}
}

func TestCreateBindsRunIdentity(t *testing.T) {
	run := testRun()
	ec := Create(run, "ws/ds/file.csv")
	if ec.RunID != run.ID || ec.Seed != run.Seed || ec.DatasetPath != "ws/ds/file.csv" {
		t.Fatalf("context identity mismatch: %+v", ec)
	}
	if ec.RNG == nil {
		t.Fatalf("expected a seeded generator on the context")
	}

	logs := strings.Join(ec.DrainLogs(), "\n")
	if !strings.Contains(logs, "Execution context created for run run-1") {
		t.Fatalf("missing creation log: %q", logs)
	}
	if !strings.Contains(logs, "Global seed set to 123") {
		t.Fatalf("missing seed log: %q", logs)
	}
}

func TestCreateGeneratorsMatchForSameSeed(t *testing.T) {
	a := Create(testRun(), "ds")
	b := Create(testRun(), "ds")
	for i := 0; i < 50; i++ {
		if a.RNG.Int63() != b.RNG.Int63() {
			t.Fatalf("same-seed contexts diverged at draw %d", i)
		}
	}
}

func TestValidate(t *testing.T) {
	if Validate(nil) {
		t.Fatalf("nil context must be invalid")
	}
	ec := Create(testRun(), "ds")
	if !Validate(ec) {
		t.Fatalf("fresh context must be valid")
	}
	ec.DatasetPath = "  "
	if Validate(ec) {
		t.Fatalf("context without dataset path must be invalid")
	}
}

func TestDestroyClearsHeavyState(t *testing.T) {
	ec := Create(testRun(), "ds")
	ec.CandidateModels = []domain.ModelSpec{{Name: "m"}}
	Destroy(ec)
	if ec.RawData != nil || ec.ProcessedData != nil || ec.TrainData != nil || ec.TestData != nil {
		t.Fatalf("frames not cleared")
	}
	if ec.CandidateModels != nil || ec.TrainedModels != nil || ec.BestModel != nil {
		t.Fatalf("models not cleared")
	}
	logs := strings.Join(ec.DrainLogs(), "\n")
	if !strings.Contains(logs, "Execution context destroyed for run run-1") {
		t.Fatalf("missing destruction log: %q", logs)
	}
}
