package pipelineoverlay

import (
	"strings"
	"testing"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

const sampleOverlay = `
global_config:
  random_state: 7
blocks:
  preprocessing:
    config:
      test_size: 0.3
  explainability:
    enabled: false
`

func TestParse(t *testing.T) {
	overlay, err := Parse([]byte(sampleOverlay))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if overlay.GlobalConfig["random_state"] != 7 {
		t.Fatalf("global config = %v", overlay.GlobalConfig)
	}
	pre, ok := overlay.Blocks["preprocessing"]
	if !ok || pre.Config["test_size"] != 0.3 {
		t.Fatalf("preprocessing overlay = %+v", pre)
	}
	exp := overlay.Blocks["explainability"]
	if exp.Enabled == nil || *exp.Enabled {
		t.Fatalf("explainability enablement = %+v", exp.Enabled)
	}
}

func TestParseRejectsUnknownBlock(t *testing.T) {
	_, err := Parse([]byte("blocks:\n  deployment:\n    enabled: false\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown block type") {
		t.Fatalf("expected unknown block error, got %v", err)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("blocks: [")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestApply(t *testing.T) {
	pipeline := domain.NewPipeline()
	originalHash := pipeline.VersionHash

	overlay, err := Parse([]byte(sampleOverlay))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Apply(&pipeline, overlay); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pre, _ := pipeline.BlockByType(domain.BlockPreprocessing)
	if pre.Config["test_size"] != 0.3 {
		t.Fatalf("config not merged: %v", pre.Config)
	}
	exp, _ := pipeline.BlockByType(domain.BlockExplainability)
	if exp.Enabled {
		t.Fatalf("enablement not applied")
	}
	if pipeline.GlobalConfig["random_state"] != 7 {
		t.Fatalf("global config not merged: %v", pipeline.GlobalConfig)
	}

	if pipeline.VersionHash == originalHash {
		t.Fatalf("version hash not recomputed")
	}
	if pipeline.VersionHash != pipeline.ComputeHash() {
		t.Fatalf("version hash stale after apply")
	}
}

func TestApplyKeepsUnnamedKeys(t *testing.T) {
	pipeline := domain.NewPipeline()
	for i := range pipeline.Blocks {
		if pipeline.Blocks[i].Type == domain.BlockPreprocessing {
			pipeline.Blocks[i].Config["impute"] = "drop"
		}
	}

	overlay, err := Parse([]byte("blocks:\n  preprocessing:\n    config:\n      test_size: 0.25\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Apply(&pipeline, overlay); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pre, _ := pipeline.BlockByType(domain.BlockPreprocessing)
	if pre.Config["impute"] != "drop" || pre.Config["test_size"] != 0.25 {
		t.Fatalf("merge lost keys: %v", pre.Config)
	}
}

func TestApplyNilPipeline(t *testing.T) {
	if err := Apply(nil, Overlay{}); err == nil {
		t.Fatalf("expected error for nil pipeline")
	}
}
