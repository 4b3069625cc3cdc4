package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// BlockType enumerates the ten canonical pipeline stages.
type BlockType string

const (
	BlockDataIngestion       BlockType = "data_ingestion"
	BlockTaskResolution      BlockType = "task_resolution"
	BlockPreprocessing       BlockType = "preprocessing"
	BlockFeatureEngineering  BlockType = "feature_engineering"
	BlockModelSelection      BlockType = "model_selection"
	BlockHyperparameterTuning BlockType = "hyperparameter_tuning"
	BlockTraining            BlockType = "training"
	BlockEvaluation          BlockType = "evaluation"
	BlockExplainability      BlockType = "explainability"
	BlockOutputPackaging     BlockType = "output_packaging"
)

// CanonicalBlockOrder is the fixed execution order, positions 0-9. Hook
// attachment and failure-block reporting are expressed relative to it.
var CanonicalBlockOrder = []BlockType{
	BlockDataIngestion,
	BlockTaskResolution,
	BlockPreprocessing,
	BlockFeatureEngineering,
	BlockModelSelection,
	BlockHyperparameterTuning,
	BlockTraining,
	BlockEvaluation,
	BlockExplainability,
	BlockOutputPackaging,
}

// KnownBlockType reports whether t is one of the canonical stage kinds.
func KnownBlockType(t BlockType) bool {
	for _, known := range CanonicalBlockOrder {
		if t == known {
			return true
		}
	}
	return false
}

// BlockStatus is the per-stage execution status.
type BlockStatus string

const (
	BlockIdle      BlockStatus = "idle"
	BlockRunning   BlockStatus = "running"
	BlockCompleted BlockStatus = "completed"
	BlockFailed    BlockStatus = "failed"
	BlockSkipped   BlockStatus = "skipped"
)

// Block is one pipeline stage. Blocks never execute themselves; they are
// data describing what the run executor should do.
type Block struct {
	ID       string
	Type     BlockType
	Position int
	Config   Metadata
	Status   BlockStatus
	Enabled  bool

	// Hook references in registration order, by role.
	BeforeHooks   []string
	AfterHooks    []string
	OverrideHooks []string
}

func (b Block) clone() Block {
	out := b
	out.Config = b.Config.Clone()
	out.BeforeHooks = append([]string(nil), b.BeforeHooks...)
	out.AfterHooks = append([]string(nil), b.AfterHooks...)
	out.OverrideHooks = append([]string(nil), b.OverrideHooks...)
	return out
}

// Pipeline is the ordered workflow definition. A pipeline is mutable while
// owned by an experiment (draft) and immutable once snapshotted for a run.
type Pipeline struct {
	ID           string
	Blocks       []Block
	GlobalConfig Metadata
	VersionHash  string
	CreatedAt    time.Time
}

// NewPipeline creates a draft pipeline with the ten canonical blocks in
// order, all enabled, and a freshly computed version hash.
func NewPipeline() Pipeline {
	blocks := make([]Block, 0, len(CanonicalBlockOrder))
	for i, blockType := range CanonicalBlockOrder {
		blocks = append(blocks, Block{
			ID:       uuid.NewString(),
			Type:     blockType,
			Position: i,
			Config:   Metadata{},
			Status:   BlockIdle,
			Enabled:  true,
		})
	}
	p := Pipeline{
		ID:           uuid.NewString(),
		Blocks:       blocks,
		GlobalConfig: Metadata{},
		CreatedAt:    time.Now().UTC(),
	}
	p.VersionHash = p.ComputeHash()
	return p
}

// BlockByType returns the first block of the given type, if present.
func (p Pipeline) BlockByType(t BlockType) (Block, bool) {
	for _, b := range p.Blocks {
		if b.Type == t {
			return b, true
		}
	}
	return Block{}, false
}

// OrderedBlocks returns the blocks sorted by ascending position.
func (p Pipeline) OrderedBlocks() []Block {
	ordered := append([]Block(nil), p.Blocks...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	return ordered
}

// Validate checks that block positions are unique and contiguous from zero.
func (p Pipeline) Validate() error {
	seen := make(map[int]BlockType, len(p.Blocks))
	for _, b := range p.Blocks {
		if !KnownBlockType(b.Type) {
			return fmt.Errorf("unknown block type %q", b.Type)
		}
		if other, dup := seen[b.Position]; dup {
			return fmt.Errorf("duplicate block position %d (%s, %s)", b.Position, other, b.Type)
		}
		seen[b.Position] = b.Type
	}
	for i := range p.Blocks {
		if _, ok := seen[i]; !ok {
			return fmt.Errorf("block positions are not contiguous: missing position %d", i)
		}
	}
	return nil
}

// ComputeHash returns the version hash of the pipeline. The hash is a pure
// function of the block list ordered by position and the global config;
// identical content always yields an identical hash regardless of pipeline
// identity or creation time.
func (p Pipeline) ComputeHash() string {
	payload := pipelineHashPayload{
		Blocks:       make([]blockHashPayload, 0, len(p.Blocks)),
		GlobalConfig: p.GlobalConfig,
	}
	for _, b := range p.OrderedBlocks() {
		payload.Blocks = append(payload.Blocks, blockHashPayload{
			Type:          string(b.Type),
			Position:      b.Position,
			Config:        b.Config,
			Enabled:       b.Enabled,
			BeforeHooks:   b.BeforeHooks,
			AfterHooks:    b.AfterHooks,
			OverrideHooks: b.OverrideHooks,
		})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Metadata values come from JSON/YAML decoding and are always
		// marshalable; reaching this means a programming error upstream.
		panic(fmt.Sprintf("pipeline hash payload not marshalable: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Snapshot deep-copies the pipeline under a new identity and recomputes the
// version hash. The returned pipeline is the immutable copy bound to a run;
// later edits to the draft never reach it.
func (p Pipeline) Snapshot() Pipeline {
	blocks := make([]Block, 0, len(p.Blocks))
	for _, b := range p.Blocks {
		copied := b.clone()
		copied.Status = BlockIdle
		blocks = append(blocks, copied)
	}
	snapshot := Pipeline{
		ID:           uuid.NewString(),
		Blocks:       blocks,
		GlobalConfig: p.GlobalConfig.Clone(),
		CreatedAt:    time.Now().UTC(),
	}
	snapshot.VersionHash = snapshot.ComputeHash()
	return snapshot
}

// Stable JSON shape for hashing. Field order is fixed by the struct and
// map keys are sorted by encoding/json, so equal content hashes equally.
type pipelineHashPayload struct {
	Blocks       []blockHashPayload `json:"blocks"`
	GlobalConfig Metadata           `json:"global_config"`
}

type blockHashPayload struct {
	Type          string   `json:"type"`
	Position      int      `json:"position"`
	Config        Metadata `json:"config"`
	Enabled       bool     `json:"enabled"`
	BeforeHooks   []string `json:"before_hooks"`
	AfterHooks    []string `json:"after_hooks"`
	OverrideHooks []string `json:"override_hooks"`
}
