// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidApplication indicates an application that failed boundary validation.
var ErrInvalidApplication = errors.New("invalid application")

// Gender is the applicant's declared gender.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// Education is the applicant's highest completed education level,
// ordered SD < SMP < SMA < D3 < S1 < S2 < S3.
type Education string

const (
	EducationSD  Education = "SD"
	EducationSMP Education = "SMP"
	EducationSMA Education = "SMA"
	EducationD3  Education = "D3"
	EducationS1  Education = "S1"
	EducationS2  Education = "S2"
	EducationS3  Education = "S3"
)

// HousingType describes the applicant's housing situation.
type HousingType string

const (
	HousingOwned   HousingType = "OWNED"
	HousingRented  HousingType = "RENTED"
	HousingParents HousingType = "PARENTS"
)

// EmploymentStatus describes the applicant's employment arrangement.
type EmploymentStatus string

const (
	EmploymentPermanent    EmploymentStatus = "PERMANENT"
	EmploymentContract     EmploymentStatus = "CONTRACT"
	EmploymentSelfEmployed EmploymentStatus = "SELF_EMPLOYED"
	EmploymentUnemployed   EmploymentStatus = "UNEMPLOYED"
)

// CreditApplication is one loan request as received from the API layer.
// Validate must be called at the boundary before the application enters
// the scoring pipeline.
type CreditApplication struct {
	ApplicationID string `json:"application_id"`

	// Demographics
	Age           int         `json:"age"`
	Gender        Gender      `json:"gender"`
	MaritalStatus string      `json:"marital_status"`
	Education     Education   `json:"education"`
	HousingType   HousingType `json:"housing_type"`

	// Financials
	AnnualIncome        float64          `json:"annual_income"`
	EmploymentStatus    EmploymentStatus `json:"employment_status"`
	WorkExperienceYears int              `json:"work_experience_years"`

	// Credit history
	ExistingLoansCount    int     `json:"existing_loans_count"`
	TotalExistingDebt     float64 `json:"total_existing_debt"`
	CreditCardUtilization float64 `json:"credit_card_utilization"`
	PastDelinquencies     int     `json:"past_delinquencies"`

	// Loan request
	LoanAmount     float64 `json:"loan_amount"`
	LoanTermMonths int     `json:"loan_term_months"`

	// Ground-truth default label, present only in training data.
	// 0 = good, 1 = default.
	IsDefault *int `json:"is_default,omitempty"`
}

var validGenders = map[Gender]bool{GenderMale: true, GenderFemale: true}

var validEducations = map[Education]bool{
	EducationSD: true, EducationSMP: true, EducationSMA: true,
	EducationD3: true, EducationS1: true, EducationS2: true, EducationS3: true,
}

var validHousing = map[HousingType]bool{
	HousingOwned: true, HousingRented: true, HousingParents: true,
}

var validEmployment = map[EmploymentStatus]bool{
	EmploymentPermanent: true, EmploymentContract: true,
	EmploymentSelfEmployed: true, EmploymentUnemployed: true,
}

// Validate checks all field constraints. It returns an error wrapping
// ErrInvalidApplication on the first violation found.
func (a *CreditApplication) Validate() error {
	switch {
	case a.ApplicationID == "":
		return fmt.Errorf("%w: application_id is required", ErrInvalidApplication)
	case a.Age < 18 || a.Age > 70:
		return fmt.Errorf("%w: age must be between 18 and 70, got %d", ErrInvalidApplication, a.Age)
	case !validGenders[a.Gender]:
		return fmt.Errorf("%w: unknown gender %q", ErrInvalidApplication, a.Gender)
	case !validEducations[a.Education]:
		return fmt.Errorf("%w: unknown education %q", ErrInvalidApplication, a.Education)
	case !validHousing[a.HousingType]:
		return fmt.Errorf("%w: unknown housing_type %q", ErrInvalidApplication, a.HousingType)
	case a.AnnualIncome <= 0:
		return fmt.Errorf("%w: annual_income must be positive", ErrInvalidApplication)
	case !validEmployment[a.EmploymentStatus]:
		return fmt.Errorf("%w: unknown employment_status %q", ErrInvalidApplication, a.EmploymentStatus)
	case a.WorkExperienceYears < 0:
		return fmt.Errorf("%w: work_experience_years must be non-negative", ErrInvalidApplication)
	case a.ExistingLoansCount < 0:
		return fmt.Errorf("%w: existing_loans_count must be non-negative", ErrInvalidApplication)
	case a.TotalExistingDebt < 0:
		return fmt.Errorf("%w: total_existing_debt must be non-negative", ErrInvalidApplication)
	case a.CreditCardUtilization < 0 || a.CreditCardUtilization > 1:
		return fmt.Errorf("%w: credit_card_utilization must be in [0,1]", ErrInvalidApplication)
	case a.PastDelinquencies < 0:
		return fmt.Errorf("%w: past_delinquencies must be non-negative", ErrInvalidApplication)
	case a.LoanAmount <= 0:
		return fmt.Errorf("%w: loan_amount must be positive", ErrInvalidApplication)
	case a.LoanTermMonths < 1 || a.LoanTermMonths > 60:
		return fmt.Errorf("%w: loan_term_months must be between 1 and 60, got %d", ErrInvalidApplication, a.LoanTermMonths)
	}

	if a.IsDefault != nil && *a.IsDefault != 0 && *a.IsDefault != 1 {
		return fmt.Errorf("%w: is_default must be 0 or 1", ErrInvalidApplication)
	}

	return nil
}

// DerivedRatios holds the regulatory risk ratios computed from one
// application. They are created fresh per scoring call and never
// persisted standalone.
type DerivedRatios struct {
	MonthlyIncome       float64 `json:"monthly_income"`
	NewInstallment      float64 `json:"new_installment"`
	ExistingMonthlyDebt float64 `json:"existing_monthly_debt"`
	DebtServiceRatio    float64 `json:"debt_service_ratio"`
	IncomeToLoanRatio   float64 `json:"income_to_loan_ratio"`
	DisposableIncome    float64 `json:"disposable_income"`
	IsHighRiskDSR       int     `json:"is_high_risk_dsr"`
}
