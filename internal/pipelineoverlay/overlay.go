// Package pipelineoverlay parses YAML pipeline overlays and applies them
// to an experiment's draft pipeline. An overlay adjusts per-block
// configuration and enablement plus the pipeline's global config; it
// never adds, removes, or reorders blocks.
package pipelineoverlay

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

type Overlay struct {
	GlobalConfig map[string]any          `yaml:"global_config,omitempty"`
	Blocks       map[string]BlockOverlay `yaml:"blocks,omitempty"`
}

type BlockOverlay struct {
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// Parse decodes an overlay and rejects unknown block types.
func Parse(input []byte) (Overlay, error) {
	var overlay Overlay
	if err := yaml.Unmarshal(input, &overlay); err != nil {
		return Overlay{}, fmt.Errorf("decode overlay: %w", err)
	}
	if err := overlay.Validate(); err != nil {
		return Overlay{}, err
	}
	return overlay, nil
}

func (o Overlay) Validate() error {
	for name := range o.Blocks {
		blockType := domain.BlockType(strings.TrimSpace(name))
		if !domain.KnownBlockType(blockType) {
			return fmt.Errorf("unknown block type: %q", name)
		}
	}
	return nil
}

// Apply merges the overlay into the pipeline and recomputes its version
// hash. Overlay config keys replace existing keys; keys absent from the
// overlay are kept.
func Apply(pipeline *domain.Pipeline, overlay Overlay) error {
	if pipeline == nil {
		return errors.New("pipeline is required")
	}
	if err := overlay.Validate(); err != nil {
		return err
	}

	for name, blockOverlay := range overlay.Blocks {
		blockType := domain.BlockType(strings.TrimSpace(name))
		var block *domain.Block
		for i := range pipeline.Blocks {
			if pipeline.Blocks[i].Type == blockType {
				block = &pipeline.Blocks[i]
				break
			}
		}
		if block == nil {
			return fmt.Errorf("block type not present in pipeline: %q", name)
		}
		if blockOverlay.Enabled != nil {
			block.Enabled = *blockOverlay.Enabled
		}
		if len(blockOverlay.Config) > 0 {
			if block.Config == nil {
				block.Config = domain.Metadata{}
			}
			for k, v := range blockOverlay.Config {
				block.Config[k] = v
			}
		}
	}

	if len(overlay.GlobalConfig) > 0 {
		if pipeline.GlobalConfig == nil {
			pipeline.GlobalConfig = domain.Metadata{}
		}
		for k, v := range overlay.GlobalConfig {
			pipeline.GlobalConfig[k] = v
		}
	}

	pipeline.VersionHash = pipeline.ComputeHash()
	return nil
}
