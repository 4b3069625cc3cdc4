package domain

import (
	"testing"
)

func TestNewPipelineHasCanonicalBlocks(t *testing.T) {
	p := NewPipeline()
	if err := p.Validate(); err != nil {
		t.Fatalf("new pipeline invalid: %v", err)
	}
	if len(p.Blocks) != len(CanonicalBlockOrder) {
		t.Fatalf("expected %d blocks, got %d", len(CanonicalBlockOrder), len(p.Blocks))
	}
	for i, block := range p.OrderedBlocks() {
		if block.Type != CanonicalBlockOrder[i] {
			t.Fatalf("position %d: expected %s, got %s", i, CanonicalBlockOrder[i], block.Type)
		}
		if block.Position != i {
			t.Fatalf("block %s: expected position %d, got %d", block.Type, i, block.Position)
		}
		if !block.Enabled {
			t.Fatalf("block %s: expected enabled by default", block.Type)
		}
		if block.Status != BlockIdle {
			t.Fatalf("block %s: expected idle status, got %s", block.Type, block.Status)
		}
	}
	if p.VersionHash == "" {
		t.Fatalf("expected version hash to be set")
	}
}

func TestComputeHashIgnoresIdentity(t *testing.T) {
	p := NewPipeline()
	h := p.ComputeHash()

	// New block IDs and transient statuses must not change the hash.
	for i := range p.Blocks {
		p.Blocks[i].ID = "other-" + p.Blocks[i].ID
		p.Blocks[i].Status = BlockCompleted
	}
	p.ID = "different-pipeline"
	if got := p.ComputeHash(); got != h {
		t.Fatalf("hash changed with identity: %s vs %s", got, h)
	}
}

func TestComputeHashReflectsContent(t *testing.T) {
	p := NewPipeline()
	h := p.ComputeHash()

	p.Blocks[3].Config["strategy"] = "custom"
	if got := p.ComputeHash(); got == h {
		t.Fatalf("hash did not change with block config")
	}

	p2 := NewPipeline()
	h2 := p2.ComputeHash()
	p2.Blocks[0].Enabled = false
	if got := p2.ComputeHash(); got == h2 {
		t.Fatalf("hash did not change with enablement")
	}

	p3 := NewPipeline()
	h3 := p3.ComputeHash()
	p3.GlobalConfig["seed_policy"] = "fixed"
	if got := p3.ComputeHash(); got == h3 {
		t.Fatalf("hash did not change with global config")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	p := NewPipeline()
	p.Blocks[2].Config["drop_na"] = true
	p.Blocks[2].Status = BlockCompleted

	snap := p.Snapshot()
	if snap.ID == p.ID {
		t.Fatalf("snapshot must get a new pipeline identity")
	}
	for _, block := range snap.Blocks {
		if block.Status != BlockIdle {
			t.Fatalf("snapshot block %s: expected idle, got %s", block.Type, block.Status)
		}
	}

	// Later edits to the draft must not leak into the snapshot.
	p.Blocks[2].Config["drop_na"] = false
	p.GlobalConfig["added"] = "later"
	if got := snap.Blocks[2].Config["drop_na"]; got != true {
		t.Fatalf("snapshot config mutated through draft: %v", got)
	}
	if _, ok := snap.GlobalConfig["added"]; ok {
		t.Fatalf("snapshot global config mutated through draft")
	}
}

func TestSnapshotHashMatchesDraftContent(t *testing.T) {
	p := NewPipeline()
	p.Blocks[5].Config["trials"] = 10
	p.VersionHash = p.ComputeHash()

	snap := p.Snapshot()
	if snap.VersionHash != p.VersionHash {
		t.Fatalf("snapshot of unchanged content must hash equally: %s vs %s", snap.VersionHash, p.VersionHash)
	}
}

func TestValidateRejectsDuplicatePositions(t *testing.T) {
	p := NewPipeline()
	p.Blocks[1].Position = 0
	if err := p.Validate(); err == nil {
		t.Fatalf("expected duplicate position error")
	}
}

func TestValidateRejectsUnknownBlockType(t *testing.T) {
	p := NewPipeline()
	p.Blocks[0].Type = "quantum_annealing"
	if err := p.Validate(); err == nil {
		t.Fatalf("expected unknown block type error")
	}
}
