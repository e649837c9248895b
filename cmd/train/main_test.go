package main

import (
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

func trainApplication(id string, income float64) *domain.CreditApplication {
	label := 0
	return &domain.CreditApplication{
		ApplicationID:         id,
		Age:                   35,
		Gender:                domain.GenderFemale,
		MaritalStatus:         "MARRIED",
		Education:             domain.EducationS1,
		HousingType:           domain.HousingOwned,
		AnnualIncome:          income,
		EmploymentStatus:      domain.EmploymentPermanent,
		WorkExperienceYears:   8,
		ExistingLoansCount:    1,
		TotalExistingDebt:     10_000_000,
		CreditCardUtilization: 0.3,
		PastDelinquencies:     0,
		LoanAmount:            50_000_000,
		LoanTermMonths:        24,
		IsDefault:             &label,
	}
}

func TestTransformAll(t *testing.T) {
	apps := []*domain.CreditApplication{
		trainApplication("TRAIN-1", 120_000_000),
		trainApplication("TRAIN-2", 60_000_000),
	}
	bad := 1
	apps[1].EmploymentStatus = domain.EmploymentUnemployed
	apps[1].IsDefault = &bad

	vec, err := feature.Fit(apps)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	t.Run("RowsAndLabels", func(t *testing.T) {
		features, labels, err := transformAll(vec, apps)
		if err != nil {
			t.Fatalf("transformAll failed: %v", err)
		}
		if len(features) != 2 || len(labels) != 2 {
			t.Fatalf("got %d rows, %d labels, want 2 and 2", len(features), len(labels))
		}
		for i, row := range features {
			if len(row) != vec.Width() {
				t.Errorf("row %d width = %d, want %d", i, len(row), vec.Width())
			}
		}
		if labels[0] != 0 || labels[1] != 1 {
			t.Errorf("labels = %v, want [0 1]", labels)
		}
	})

	t.Run("DegenerateRowFails", func(t *testing.T) {
		broken := []*domain.CreditApplication{
			trainApplication("TRAIN-OK", 120_000_000),
			trainApplication("TRAIN-BAD", 0),
		}

		features, labels, err := transformAll(vec, broken)
		if !errors.Is(err, feature.ErrDegenerateInput) {
			t.Fatalf("err = %v, want ErrDegenerateInput", err)
		}
		if features != nil || labels != nil {
			t.Error("expected no partial output on failure")
		}
	})
}

func TestGenerateSyntheticData(t *testing.T) {
	apps := generateSyntheticData(200, 7)
	if len(apps) != 200 {
		t.Fatalf("got %d rows, want 200", len(apps))
	}

	var defaults int
	for i, app := range apps {
		if err := app.Validate(); err != nil {
			t.Fatalf("row %d failed validation: %v", i, err)
		}
		if app.IsDefault == nil {
			t.Fatalf("row %d has no label", i)
		}
		defaults += *app.IsDefault
	}
	if defaults == 0 || defaults == len(apps) {
		t.Errorf("defaults = %d of %d, want both classes present", defaults, len(apps))
	}

	again := generateSyntheticData(200, 7)
	if apps[0].AnnualIncome != again[0].AnnualIncome || apps[0].Age != again[0].Age {
		t.Error("generation is not deterministic for a fixed seed")
	}
}
