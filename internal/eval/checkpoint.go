package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// Checkpoint records evaluation progress at the moment a run halted.
// LastCompletedIndex counts questions fully graded; the question at that
// index is the one to re-evaluate on resume.
type Checkpoint struct {
	LastCompletedIndex int    `json:"last_completed_index"`
	LastFile           string `json:"last_file"`
	CitationEnabled    bool   `json:"citation_enabled"`
	Timestamp          string `json:"timestamp"`
}

const checkpointFile = "checkpoint.json"

// checkpointPath is mode-level: results/<mode>/checkpoint.json, overwritten
// by each halt.
func checkpointPath(resultsDir, mode string) string {
	return filepath.Join(resultsDir, mode, checkpointFile)
}

// SaveCheckpoint writes the checkpoint for a mode.
func SaveCheckpoint(resultsDir, mode string, cp Checkpoint) error {
	cp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	path := checkpointPath(resultsDir, mode)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("eval.SaveCheckpoint: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("eval.SaveCheckpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("eval.SaveCheckpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint for a mode. A missing file returns
// (nil, nil).
func LoadCheckpoint(resultsDir, mode string) (*Checkpoint, error) {
	data, err := os.ReadFile(checkpointPath(resultsDir, mode))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eval.LoadCheckpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("eval.LoadCheckpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint after a run finishes cleanly.
func DeleteCheckpoint(resultsDir, mode string) error {
	err := os.Remove(checkpointPath(resultsDir, mode))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("eval.DeleteCheckpoint: %w", err)
	}
	return nil
}

// ValidateResume refuses to resume when the stored citation mode differs
// from the current configuration.
func ValidateResume(cp *Checkpoint, citationEnabled bool) error {
	if cp.CitationEnabled == citationEnabled {
		return nil
	}
	return model.NewError(model.KindConfigMismatch, "eval.ValidateResume",
		fmt.Sprintf("checkpoint was written with citation grading %s but the current config has it %s; "+
			"align the config or delete the checkpoint",
			onOff(cp.CitationEnabled), onOff(citationEnabled)), nil)
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
