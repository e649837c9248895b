package model

import (
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

func fittedVectorizer(t *testing.T) *feature.FittedVectorizer {
	t.Helper()

	apps := []*domain.CreditApplication{
		{
			ApplicationID: "A-1", Age: 30, Gender: domain.GenderMale,
			MaritalStatus: "SINGLE", Education: domain.EducationS1,
			HousingType: domain.HousingRented, AnnualIncome: 60_000_000,
			EmploymentStatus: domain.EmploymentPermanent,
			LoanAmount:       30_000_000, LoanTermMonths: 12,
		},
		{
			ApplicationID: "A-2", Age: 45, Gender: domain.GenderFemale,
			MaritalStatus: "MARRIED", Education: domain.EducationSMA,
			HousingType: domain.HousingOwned, AnnualIncome: 150_000_000,
			EmploymentStatus: domain.EmploymentSelfEmployed,
			LoanAmount:       80_000_000, LoanTermMonths: 36,
		},
	}

	v, err := feature.Fit(apps)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	return v
}

func TestArtifactRoundTrip(t *testing.T) {
	v := fittedVectorizer(t)

	weights := make([]float64, v.Width())
	for i := range weights {
		weights[i] = float64(i) * 0.1
	}

	artifact := &Artifact{
		ModelVersion: "v20260801-120000",
		TrainedAt:    "2026-08-01T12:00:00Z",
		Model:        &Logistic{Weights: weights, Bias: -0.7},
		Vectorizer:   v,
		Metrics:      Metrics{Accuracy: 0.92, AUC: 0.88, Samples: 400},
	}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveArtifact(artifact, path); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}

	loaded, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}

	if loaded.ModelVersion != artifact.ModelVersion {
		t.Errorf("ModelVersion = %s, want %s", loaded.ModelVersion, artifact.ModelVersion)
	}
	if loaded.Model.Bias != artifact.Model.Bias {
		t.Errorf("Bias = %v, want %v", loaded.Model.Bias, artifact.Model.Bias)
	}
	if len(loaded.Model.Weights) != len(weights) {
		t.Errorf("weight count = %d, want %d", len(loaded.Model.Weights), len(weights))
	}
	if loaded.Vectorizer.Width() != v.Width() {
		t.Errorf("vectorizer width = %d, want %d", loaded.Vectorizer.Width(), v.Width())
	}
	if loaded.Metrics.AUC != 0.88 {
		t.Errorf("AUC = %v, want 0.88", loaded.Metrics.AUC)
	}
}

func TestLoadArtifactValidation(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadArtifact(filepath.Join(t.TempDir(), "missing.json"))
		if err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("WeightWidthMismatch", func(t *testing.T) {
		v := fittedVectorizer(t)

		artifact := &Artifact{
			ModelVersion: "v1",
			Model:        &Logistic{Weights: []float64{0.1}, Bias: 0},
			Vectorizer:   v,
		}

		path := filepath.Join(t.TempDir(), "bad.json")
		if err := SaveArtifact(artifact, path); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}

		if _, err := LoadArtifact(path); err == nil {
			t.Error("expected error for weight/width mismatch")
		}
	})
}
