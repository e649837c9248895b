package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func validApplication(id string) *domain.CreditApplication {
	return &domain.CreditApplication{
		ApplicationID:         id,
		Age:                   35,
		Gender:                domain.GenderFemale,
		MaritalStatus:         "MARRIED",
		Education:             domain.EducationS1,
		HousingType:           domain.HousingOwned,
		AnnualIncome:          120_000_000,
		EmploymentStatus:      domain.EmploymentPermanent,
		WorkExperienceYears:   8,
		ExistingLoansCount:    1,
		TotalExistingDebt:     5_000_000,
		CreditCardUtilization: 0.3,
		PastDelinquencies:     0,
		LoanAmount:            50_000_000,
		LoanTermMonths:        12,
	}
}

func TestSQLiteRepository(t *testing.T) {
	tmpPath := filepath.Join(t.TempDir(), "kestrel-test.db")

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetApplication", func(t *testing.T) {
		app := validApplication("APP-001")

		if err := repo.SaveApplication(ctx, "req-001", app); err != nil {
			t.Fatalf("SaveApplication failed: %v", err)
		}

		retrieved, err := repo.GetApplication(ctx, app.ApplicationID)
		if err != nil {
			t.Fatalf("GetApplication failed: %v", err)
		}

		if retrieved.ApplicationID != app.ApplicationID {
			t.Errorf("expected ID %s, got %s", app.ApplicationID, retrieved.ApplicationID)
		}
		if retrieved.AnnualIncome != app.AnnualIncome {
			t.Errorf("expected AnnualIncome %.2f, got %.2f", app.AnnualIncome, retrieved.AnnualIncome)
		}
		if retrieved.Education != app.Education {
			t.Errorf("expected Education %s, got %s", app.Education, retrieved.Education)
		}
		if retrieved.LoanTermMonths != app.LoanTermMonths {
			t.Errorf("expected LoanTermMonths %d, got %d", app.LoanTermMonths, retrieved.LoanTermMonths)
		}
	})

	t.Run("SaveApplicationUpsert", func(t *testing.T) {
		app := validApplication("APP-001")
		app.LoanAmount = 75_000_000

		if err := repo.SaveApplication(ctx, "req-002", app); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		retrieved, err := repo.GetApplication(ctx, "APP-001")
		if err != nil {
			t.Fatalf("GetApplication failed: %v", err)
		}
		if retrieved.LoanAmount != 75_000_000 {
			t.Errorf("expected updated LoanAmount, got %.2f", retrieved.LoanAmount)
		}
	})

	t.Run("AuditEntries", func(t *testing.T) {
		entries := []*domain.AuditEntry{
			{
				RequestID:          "req-a",
				Timestamp:          "2026-03-01T10:00:00.000000000Z",
				ModelVersion:       "v1",
				PredictionScore:    0.1234,
				RiskCategory:       domain.RiskVeryLow,
				Decision:           domain.DecisionApprove,
				ExplanationSummary: "summary a",
				MaskedFeaturesHash: "hash-a",
				UserID:             "analyst-1",
			},
			{
				RequestID:          "req-b",
				Timestamp:          "2026-03-02T10:00:00.000000000Z",
				ModelVersion:       "v1",
				PredictionScore:    0.8311,
				RiskCategory:       domain.RiskVeryHigh,
				Decision:           domain.DecisionReject,
				ExplanationSummary: "summary b",
				MaskedFeaturesHash: "hash-b",
				UserID:             "analyst-2",
			},
			{
				RequestID:          "req-c",
				Timestamp:          "2026-03-03T10:00:00.000000000Z",
				ModelVersion:       "v1",
				PredictionScore:    0.4501,
				RiskCategory:       domain.RiskMedium,
				Decision:           domain.DecisionApprove,
				ExplanationSummary: "summary c",
				MaskedFeaturesHash: "hash-c",
				UserID:             "analyst-1",
			},
		}

		for _, e := range entries {
			if err := repo.AppendAuditEntry(ctx, e); err != nil {
				t.Fatalf("AppendAuditEntry failed: %v", err)
			}
		}

		t.Run("ListChronological", func(t *testing.T) {
			all, err := repo.ListAuditEntries(ctx)
			if err != nil {
				t.Fatalf("ListAuditEntries failed: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 entries, got %d", len(all))
			}
			if all[0].RequestID != "req-a" || all[2].RequestID != "req-c" {
				t.Errorf("entries out of chronological order: %s, %s, %s",
					all[0].RequestID, all[1].RequestID, all[2].RequestID)
			}
		})

		t.Run("QueryDateRange", func(t *testing.T) {
			got, err := repo.QueryAuditEntries(ctx, "2026-03-02", "2026-03-02", 100)
			if err != nil {
				t.Fatalf("QueryAuditEntries failed: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 entry in range, got %d", len(got))
			}
			if got[0].RequestID != "req-b" {
				t.Errorf("expected req-b, got %s", got[0].RequestID)
			}
			if got[0].PredictionScore != 0.8311 {
				t.Errorf("expected score 0.8311, got %.4f", got[0].PredictionScore)
			}
		})

		t.Run("QueryLimitKeepsLatest", func(t *testing.T) {
			got, err := repo.QueryAuditEntries(ctx, "", "", 2)
			if err != nil {
				t.Fatalf("QueryAuditEntries failed: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(got))
			}
			// Limit keeps the most recent entries, returned oldest first.
			if got[0].RequestID != "req-b" || got[1].RequestID != "req-c" {
				t.Errorf("expected req-b then req-c, got %s then %s",
					got[0].RequestID, got[1].RequestID)
			}
		})

		t.Run("QueryStartDateOnly", func(t *testing.T) {
			got, err := repo.QueryAuditEntries(ctx, "2026-03-03", "", 100)
			if err != nil {
				t.Fatalf("QueryAuditEntries failed: %v", err)
			}
			if len(got) != 1 || got[0].RequestID != "req-c" {
				t.Errorf("expected only req-c from start date, got %d entries", len(got))
			}
		})
	})

	t.Run("Policies", func(t *testing.T) {
		policy := &domain.PolicyConfig{
			ID:         "policy-dsr",
			Name:       "High DSR rejection",
			Version:    "1.0.0",
			Expression: "debt_service_ratio > 0.6",
			Action:     domain.DecisionReject,
			Reason:     "debt service ratio too high",
			Priority:   100,
			Enabled:    true,
		}

		if err := repo.SavePolicy(ctx, policy); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		retrieved, err := repo.GetPolicy(ctx, "policy-dsr")
		if err != nil {
			t.Fatalf("GetPolicy failed: %v", err)
		}
		if retrieved.Expression != policy.Expression {
			t.Errorf("expected expression %q, got %q", policy.Expression, retrieved.Expression)
		}
		if retrieved.Action != domain.DecisionReject {
			t.Errorf("expected action REJECT, got %s", retrieved.Action)
		}

		list, err := repo.ListPolicies(ctx)
		if err != nil {
			t.Fatalf("ListPolicies failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 enabled policy, got %d", len(list))
		}
	})

	t.Run("ModelRecords", func(t *testing.T) {
		rec1 := &domain.ModelRecord{
			Version:      "v20260301-100000",
			TrainedAt:    "2026-03-01T10:00:00Z",
			Accuracy:     0.91,
			AUC:          0.87,
			FeatureCount: 25,
			ArtifactPath: "/tmp/model_v1.json",
			Active:       true,
		}
		rec2 := &domain.ModelRecord{
			Version:      "v20260401-100000",
			TrainedAt:    "2026-04-01T10:00:00Z",
			Accuracy:     0.93,
			AUC:          0.89,
			FeatureCount: 25,
			ArtifactPath: "/tmp/model_v2.json",
			Active:       true,
		}

		if err := repo.SaveModelRecord(ctx, rec1); err != nil {
			t.Fatalf("SaveModelRecord failed: %v", err)
		}
		if err := repo.SaveModelRecord(ctx, rec2); err != nil {
			t.Fatalf("SaveModelRecord failed: %v", err)
		}

		active, err := repo.GetActiveModelRecord(ctx)
		if err != nil {
			t.Fatalf("GetActiveModelRecord failed: %v", err)
		}
		// Activating v2 must deactivate v1.
		if active.Version != rec2.Version {
			t.Errorf("expected active model %s, got %s", rec2.Version, active.Version)
		}
		if active.AUC != rec2.AUC {
			t.Errorf("expected AUC %.2f, got %.2f", rec2.AUC, active.AUC)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetApplication(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetPolicy(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
