package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// HookRole determines where user code is interleaved into a block.
type HookRole string

const (
	HookBefore   HookRole = "before"
	HookAfter    HookRole = "after"
	HookOverride HookRole = "override"
)

// HookSource records where the hook code came from.
type HookSource string

const (
	HookInline HookSource = "inline"
	HookFile   HookSource = "file"
)

// Hook is user-supplied code bound to exactly one block. The code hash is
// the versioning mechanism referenced by run reproducibility: identical
// code always yields the same hash regardless of registration time.
type Hook struct {
	ID           string
	ExperimentID string
	BlockID      string
	Role         HookRole
	Source       HookSource
	Code         string
	CodeHash     string
	FilePath     string
	CreatedAt    time.Time
}

// HashCode computes the deterministic content hash of hook code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (h Hook) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return errors.New("hook id is required")
	}
	if strings.TrimSpace(h.ExperimentID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(h.BlockID) == "" {
		return errors.New("block id is required")
	}
	switch h.Role {
	case HookBefore, HookAfter, HookOverride:
	default:
		return errors.New("hook role must be before, after, or override")
	}
	switch h.Source {
	case HookInline, HookFile:
	default:
		return errors.New("hook source must be inline or file")
	}
	if strings.TrimSpace(h.Code) == "" {
		return errors.New("hook code is required")
	}
	if h.CodeHash != HashCode(h.Code) {
		return errors.New("code hash does not match code")
	}
	return nil
}
