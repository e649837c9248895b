// Package feature provides feature engineering for credit applications:
// derived risk ratios and the fit/transform vectorizer.
package feature

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrDegenerateInput indicates a zero or negative denominator that
// would produce NaN/Inf in ratio computation.
var ErrDegenerateInput = errors.New("degenerate ratio input")

// Monthly minimum-payment heuristic applied to total existing debt.
const minimumPaymentRate = 0.03

// DSR above this level flags the application as high risk.
const highRiskDSRThreshold = 0.4

// ComputeRatios derives the regulatory risk ratios for one application.
// Pure and deterministic: no side effects, same input gives same output.
//
// The new-loan installment is a straight-line approximation
// (amount / term), not an amortized payment. This is a documented
// limitation inherited from the scoring methodology.
func ComputeRatios(app *domain.CreditApplication) (*domain.DerivedRatios, error) {
	if app.AnnualIncome <= 0 {
		return nil, fmt.Errorf("%w: annual_income must be positive, got %v", ErrDegenerateInput, app.AnnualIncome)
	}
	if app.LoanAmount <= 0 {
		return nil, fmt.Errorf("%w: loan_amount must be positive, got %v", ErrDegenerateInput, app.LoanAmount)
	}
	if app.LoanTermMonths <= 0 {
		return nil, fmt.Errorf("%w: loan_term_months must be positive, got %d", ErrDegenerateInput, app.LoanTermMonths)
	}

	monthlyIncome := app.AnnualIncome / 12
	newInstallment := app.LoanAmount / float64(app.LoanTermMonths)
	existingMonthlyDebt := app.TotalExistingDebt * minimumPaymentRate

	r := &domain.DerivedRatios{
		MonthlyIncome:       monthlyIncome,
		NewInstallment:      newInstallment,
		ExistingMonthlyDebt: existingMonthlyDebt,
		DebtServiceRatio:    (existingMonthlyDebt + newInstallment) / monthlyIncome,
		IncomeToLoanRatio:   app.AnnualIncome / app.LoanAmount,
		DisposableIncome:    monthlyIncome - existingMonthlyDebt - newInstallment,
	}

	if r.DebtServiceRatio > highRiskDSRThreshold {
		r.IsHighRiskDSR = 1
	}

	return r, nil
}
