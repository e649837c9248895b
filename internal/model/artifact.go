package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/feature"
)

// Artifact bundles everything needed to serve a trained model: the
// classifier weights, the fitted vectorizer, and training metadata.
// It is stored as a single JSON file.
type Artifact struct {
	ModelVersion string                    `json:"model_version"`
	TrainedAt    string                    `json:"trained_at"`
	Model        *Logistic                 `json:"model"`
	Vectorizer   *feature.FittedVectorizer `json:"vectorizer"`
	Metrics      Metrics                   `json:"metrics"`
}

// SaveArtifact writes the artifact as indented JSON, creating parent
// directories as needed.
func SaveArtifact(a *Artifact, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return nil
}

// LoadArtifact reads a trained artifact from disk and validates that
// the model and vectorizer agree on the feature width.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	if a.Model == nil || a.Vectorizer == nil {
		return nil, fmt.Errorf("artifact %s is missing model or vectorizer", path)
	}
	if got, want := len(a.Model.Weights), a.Vectorizer.Width(); got != want {
		return nil, fmt.Errorf("artifact %s: model has %d weights but vectorizer emits %d features",
			path, got, want)
	}

	return &a, nil
}
