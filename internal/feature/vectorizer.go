package feature

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// NumericFeatures is the fixed declared order of numeric columns in
// the output vector. The last three are derived by ComputeRatios.
var NumericFeatures = []string{
	"age", "annual_income", "work_experience_years",
	"existing_loans_count", "total_existing_debt",
	"credit_card_utilization", "past_delinquencies",
	"loan_amount", "loan_term_months",
	"debt_service_ratio", "income_to_loan_ratio", "disposable_income",
}

// CategoricalFeatures is the fixed declared order of one-hot encoded
// columns, following the numeric block.
var CategoricalFeatures = []string{
	"gender", "marital_status", "education",
	"housing_type", "employment_status",
}

// NumericStats holds the per-feature statistics learned at fit time.
type NumericStats struct {
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
}

// FittedVectorizer converts applications into fixed-order numeric
// vectors using statistics and vocabularies learned by Fit. It is
// immutable after Fit and safe for concurrent use. Any prediction or
// explanation must use the same fitted instance that produced the
// training vectors.
type FittedVectorizer struct {
	Numeric map[string]NumericStats `json:"numeric"`

	// Vocab maps each categorical feature to its fit-time category
	// vocabulary in lexical order. Categories unseen at fit time
	// encode as an all-zero indicator row.
	Vocab map[string][]string `json:"vocab"`

	// Names is the full output column order: numeric features first,
	// then "<feature>_<category>" one-hot columns.
	Names []string `json:"featureNames"`
}

// Fit learns imputation medians, standardization statistics, and
// categorical vocabularies from the training applications.
func Fit(apps []*domain.CreditApplication) (*FittedVectorizer, error) {
	if len(apps) == 0 {
		return nil, fmt.Errorf("cannot fit vectorizer on empty training set")
	}

	cols := make(map[string][]float64, len(NumericFeatures))
	vocabSets := make(map[string]map[string]struct{}, len(CategoricalFeatures))
	for _, name := range CategoricalFeatures {
		vocabSets[name] = make(map[string]struct{})
	}

	for i, app := range apps {
		ratios, err := ComputeRatios(app)
		if err != nil {
			return nil, fmt.Errorf("training row %d: %w", i, err)
		}
		for _, name := range NumericFeatures {
			cols[name] = append(cols[name], numericValue(app, ratios, name))
		}
		for _, name := range CategoricalFeatures {
			vocabSets[name][categoricalValue(app, name)] = struct{}{}
		}
	}

	v := &FittedVectorizer{
		Numeric: make(map[string]NumericStats, len(NumericFeatures)),
		Vocab:   make(map[string][]string, len(CategoricalFeatures)),
	}

	for _, name := range NumericFeatures {
		median, err := stats.Median(cols[name])
		if err != nil {
			return nil, fmt.Errorf("median of %s: %w", name, err)
		}
		mean, err := stats.Mean(cols[name])
		if err != nil {
			return nil, fmt.Errorf("mean of %s: %w", name, err)
		}
		std, err := stats.StandardDeviationPopulation(cols[name])
		if err != nil {
			return nil, fmt.Errorf("std of %s: %w", name, err)
		}
		v.Numeric[name] = NumericStats{Median: median, Mean: mean, Std: std}
	}

	for _, name := range CategoricalFeatures {
		categories := make([]string, 0, len(vocabSets[name]))
		for c := range vocabSets[name] {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		v.Vocab[name] = categories
	}

	v.Names = buildNames(v.Vocab)
	return v, nil
}

// Transform produces the fixed-order feature vector for one
// application: standardized numerics followed by one-hot categoricals.
// It never fails for well-typed input beyond the ratio guard; unseen
// categories degrade to all-zero indicators.
func (v *FittedVectorizer) Transform(app *domain.CreditApplication) ([]float64, error) {
	ratios, err := ComputeRatios(app)
	if err != nil {
		return nil, err
	}

	vec := make([]float64, 0, len(v.Names))

	for _, name := range NumericFeatures {
		st := v.Numeric[name]
		x := numericValue(app, ratios, name)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = st.Median
		}
		// A zero-variance feature contributes 0 rather than dividing by zero.
		if st.Std == 0 {
			vec = append(vec, 0)
			continue
		}
		vec = append(vec, (x-st.Mean)/st.Std)
	}

	for _, name := range CategoricalFeatures {
		val := categoricalValue(app, name)
		for _, category := range v.Vocab[name] {
			if val == category {
				vec = append(vec, 1)
			} else {
				vec = append(vec, 0)
			}
		}
	}

	return vec, nil
}

// FeatureNames returns the output column names in vector order.
func (v *FittedVectorizer) FeatureNames() []string {
	return v.Names
}

// Width returns the output vector length.
func (v *FittedVectorizer) Width() int {
	return len(v.Names)
}

func buildNames(vocab map[string][]string) []string {
	names := make([]string, 0, len(NumericFeatures))
	names = append(names, NumericFeatures...)
	for _, feature := range CategoricalFeatures {
		for _, category := range vocab[feature] {
			names = append(names, feature+"_"+category)
		}
	}
	return names
}

func numericValue(app *domain.CreditApplication, ratios *domain.DerivedRatios, name string) float64 {
	switch name {
	case "age":
		return float64(app.Age)
	case "annual_income":
		return app.AnnualIncome
	case "work_experience_years":
		return float64(app.WorkExperienceYears)
	case "existing_loans_count":
		return float64(app.ExistingLoansCount)
	case "total_existing_debt":
		return app.TotalExistingDebt
	case "credit_card_utilization":
		return app.CreditCardUtilization
	case "past_delinquencies":
		return float64(app.PastDelinquencies)
	case "loan_amount":
		return app.LoanAmount
	case "loan_term_months":
		return float64(app.LoanTermMonths)
	case "debt_service_ratio":
		return ratios.DebtServiceRatio
	case "income_to_loan_ratio":
		return ratios.IncomeToLoanRatio
	case "disposable_income":
		return ratios.DisposableIncome
	default:
		return 0
	}
}

func categoricalValue(app *domain.CreditApplication, name string) string {
	switch name {
	case "gender":
		return string(app.Gender)
	case "marital_status":
		return app.MaritalStatus
	case "education":
		return string(app.Education)
	case "housing_type":
		return string(app.HousingType)
	case "employment_status":
		return string(app.EmploymentStatus)
	default:
		return ""
	}
}
