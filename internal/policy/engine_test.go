package policy

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func policyApplication() *domain.CreditApplication {
	return &domain.CreditApplication{
		ApplicationID:         "APP-POL",
		Age:                   23,
		Gender:                domain.GenderMale,
		MaritalStatus:         "SINGLE",
		Education:             domain.EducationSMA,
		HousingType:           domain.HousingRented,
		AnnualIncome:          48_000_000,
		EmploymentStatus:      domain.EmploymentContract,
		WorkExperienceYears:   2,
		ExistingLoansCount:    2,
		TotalExistingDebt:     30_000_000,
		CreditCardUtilization: 0.85,
		PastDelinquencies:     1,
		LoanAmount:            40_000_000,
		LoanTermMonths:        24,
	}
}

func policyRatios(t *testing.T, app *domain.CreditApplication) *domain.DerivedRatios {
	t.Helper()
	ratios, err := feature.ComputeRatios(app)
	if err != nil {
		t.Fatalf("ComputeRatios failed: %v", err)
	}
	return ratios
}

func TestValidatePolicy(t *testing.T) {
	e := testEngine(t)

	tests := []struct {
		name    string
		cfg     *domain.PolicyConfig
		wantErr bool
	}{
		{
			name: "Valid",
			cfg: &domain.PolicyConfig{
				ID: "p1", Name: "delinquency block",
				Expression: "past_delinquencies > 0 && probability > 0.3",
				Action:     domain.DecisionReject,
			},
		},
		{
			name: "ValidApprove",
			cfg: &domain.PolicyConfig{
				ID: "p2", Name: "low risk fast-track",
				Expression: "risk_category == 'VERY_LOW'",
				Action:     domain.DecisionApprove,
			},
		},
		{
			name: "NonBoolExpression",
			cfg: &domain.PolicyConfig{
				ID: "p3", Name: "bad",
				Expression: "annual_income + 1.0",
				Action:     domain.DecisionReject,
			},
			wantErr: true,
		},
		{
			name: "UnknownVariable",
			cfg: &domain.PolicyConfig{
				ID: "p4", Name: "bad",
				Expression: "credit_score > 700",
				Action:     domain.DecisionReject,
			},
			wantErr: true,
		},
		{
			name: "InvalidAction",
			cfg: &domain.PolicyConfig{
				ID: "p5", Name: "bad",
				Expression: "age < 25",
				Action:     "ESCALATE",
			},
			wantErr: true,
		},
		{
			name: "SyntaxError",
			cfg: &domain.PolicyConfig{
				ID: "p6", Name: "bad",
				Expression: "age >",
				Action:     domain.DecisionReject,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidatePolicy(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluateAll(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	policies := []*domain.PolicyConfig{
		{
			ID: "high-util", Name: "High utilization",
			Expression: "credit_card_utilization > 0.8",
			Action:     domain.DecisionReject,
			Reason:     "card utilization too high",
			Priority:   50, Enabled: true,
		},
		{
			ID: "delinquent", Name: "Past delinquency",
			Expression: "past_delinquencies > 0 && is_high_risk_dsr",
			Action:     domain.DecisionReject,
			Reason:     "delinquency with high DSR",
			Priority:   100, Enabled: true,
		},
		{
			ID: "senior", Name: "Senior applicant",
			Expression: "age > 60",
			Action:     domain.DecisionReject,
			Reason:     "manual review required",
			Priority:   10, Enabled: true,
		},
		{
			ID: "disabled", Name: "Disabled policy",
			Expression: "true",
			Action:     domain.DecisionReject,
			Priority:   999, Enabled: false,
		},
	}

	if err := e.LoadPolicies(policies); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	if e.PolicyCount() != 3 {
		t.Errorf("PolicyCount = %d, want 3 (disabled policy skipped)", e.PolicyCount())
	}

	app := policyApplication()
	ratios := policyRatios(t, app)

	results := e.EvaluateAll(ctx, app, ratios, 0.45, domain.RiskMedium)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	t.Run("PriorityOrder", func(t *testing.T) {
		for i := 1; i < len(results); i++ {
			if results[i-1].Priority < results[i].Priority {
				t.Errorf("results not sorted by priority desc at %d", i)
			}
		}
		if results[0].PolicyID != "delinquent" {
			t.Errorf("highest priority first, got %s", results[0].PolicyID)
		}
	})

	t.Run("TriggerStates", func(t *testing.T) {
		byID := make(map[string]*domain.PolicyResult)
		for _, r := range results {
			byID[r.PolicyID] = r
		}

		if !byID["high-util"].Triggered {
			t.Error("high-util should trigger at 0.85 utilization")
		}
		if !byID["delinquent"].Triggered {
			t.Error("delinquent should trigger with 1 delinquency and high DSR")
		}
		if byID["senior"].Triggered {
			t.Error("senior should not trigger for a 23-year-old")
		}
	})

	t.Run("TriggeredCarriesAction", func(t *testing.T) {
		for _, r := range results {
			if r.Triggered && r.Action != domain.DecisionReject {
				t.Errorf("policy %s triggered without action", r.PolicyID)
			}
		}
	})
}

func TestApply(t *testing.T) {
	e := testEngine(t)

	t.Run("NoResults", func(t *testing.T) {
		decision, applied := e.Apply(domain.DecisionApprove, nil)
		if decision != domain.DecisionApprove || applied != nil {
			t.Errorf("expected base decision untouched, got %s", decision)
		}
	})

	t.Run("FirstTriggeredWins", func(t *testing.T) {
		results := []*domain.PolicyResult{
			{PolicyID: "a", Triggered: false, Priority: 200},
			{PolicyID: "b", Triggered: true, Action: domain.DecisionReject, Priority: 100},
			{PolicyID: "c", Triggered: true, Action: domain.DecisionApprove, Priority: 50},
		}

		decision, applied := e.Apply(domain.DecisionApprove, results)
		if decision != domain.DecisionReject {
			t.Errorf("decision = %s, want REJECT from first triggered policy", decision)
		}
		if applied == nil || applied.PolicyID != "b" {
			t.Error("expected policy b to be applied")
		}
	})

	t.Run("ErroredPolicySkipped", func(t *testing.T) {
		results := []*domain.PolicyResult{
			{PolicyID: "broken", Triggered: true, Action: domain.DecisionReject, Error: "eval error", Priority: 100},
			{PolicyID: "ok", Triggered: true, Action: domain.DecisionApprove, Priority: 50},
		}

		decision, applied := e.Apply(domain.DecisionReject, results)
		if decision != domain.DecisionApprove {
			t.Errorf("decision = %s, want APPROVE from the non-errored policy", decision)
		}
		if applied == nil || applied.PolicyID != "ok" {
			t.Error("expected the non-errored policy to be applied")
		}
	})
}

func TestReloadPolicies(t *testing.T) {
	e := testEngine(t)

	first := []*domain.PolicyConfig{
		{ID: "old", Name: "old", Expression: "age < 21", Action: domain.DecisionReject, Enabled: true},
	}
	if err := e.LoadPolicies(first); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	second := []*domain.PolicyConfig{
		{ID: "new-a", Name: "a", Expression: "probability > 0.9", Action: domain.DecisionReject, Enabled: true},
		{ID: "new-b", Name: "b", Expression: "loan_amount > 100000000.0", Action: domain.DecisionReject, Enabled: true},
	}
	if err := e.ReloadPolicies(second); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}

	if e.PolicyCount() != 2 {
		t.Errorf("PolicyCount = %d, want 2 after reload", e.PolicyCount())
	}
	for _, p := range e.LoadedPolicies() {
		if p.ID == "old" {
			t.Error("old policy must be gone after reload")
		}
	}
}

func TestReloadRejectsInvalid(t *testing.T) {
	e := testEngine(t)

	good := []*domain.PolicyConfig{
		{ID: "good", Name: "good", Expression: "age < 21", Action: domain.DecisionReject, Enabled: true},
	}
	if err := e.LoadPolicies(good); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	bad := []*domain.PolicyConfig{
		{ID: "bad", Name: "bad", Expression: "not valid (", Action: domain.DecisionReject, Enabled: true},
	}
	if err := e.ReloadPolicies(bad); err == nil {
		t.Fatal("expected reload to fail on invalid policy")
	}

	// Failed reload must not clobber the loaded set.
	if e.PolicyCount() != 1 {
		t.Errorf("PolicyCount = %d, want 1 after failed reload", e.PolicyCount())
	}
}
