// Package policy provides the CEL-Go based underwriting policy engine.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates underwriting override policies against scored
// applications. Policies are CEL boolean expressions; a triggered
// policy can override the threshold-derived decision.
type Engine struct {
	mu               sync.RWMutex
	env              *cel.Env
	compiledPolicies map[string]*CompiledPolicy
	maxWorkers       int
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  *domain.PolicyConfig
	Program cel.Program
}

// NewEngine creates a policy engine with the scoring variable surface.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("app", cel.MapType(cel.StringType, cel.DynType)),
		// Applicant fields
		cel.Variable("age", cel.IntType),
		cel.Variable("gender", cel.StringType),
		cel.Variable("marital_status", cel.StringType),
		cel.Variable("education", cel.StringType),
		cel.Variable("housing_type", cel.StringType),
		cel.Variable("annual_income", cel.DoubleType),
		cel.Variable("employment_status", cel.StringType),
		cel.Variable("work_experience_years", cel.IntType),
		cel.Variable("existing_loans_count", cel.IntType),
		cel.Variable("total_existing_debt", cel.DoubleType),
		cel.Variable("credit_card_utilization", cel.DoubleType),
		cel.Variable("past_delinquencies", cel.IntType),
		cel.Variable("loan_amount", cel.DoubleType),
		cel.Variable("loan_term_months", cel.IntType),
		// Derived ratios
		cel.Variable("debt_service_ratio", cel.DoubleType),
		cel.Variable("income_to_loan_ratio", cel.DoubleType),
		cel.Variable("disposable_income", cel.DoubleType),
		cel.Variable("is_high_risk_dsr", cel.BoolType),
		// Model output
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("risk_category", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:              env,
		compiledPolicies: make(map[string]*CompiledPolicy),
		maxWorkers:       maxWorkers,
	}, nil
}

// ValidatePolicy compiles a policy without loading it into the engine.
func (e *Engine) ValidatePolicy(cfg *domain.PolicyConfig) error {
	if cfg == nil {
		return fmt.Errorf("policy config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(cfg)
	return err
}

// LoadPolicy compiles and loads one policy into the engine.
func (e *Engine) LoadPolicy(cfg *domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(cfg)
	if err != nil {
		return err
	}

	e.compiledPolicies[cfg.ID] = compiled
	return nil
}

// LoadPolicies compiles and loads all enabled policies.
func (e *Engine) LoadPolicies(configs []*domain.PolicyConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPolicy(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadPolicies replaces all loaded policies atomically. Enables
// hot-reloading from the database.
func (e *Engine) ReloadPolicies(configs []*domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*CompiledPolicy)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compilePolicy(cfg)
		if err != nil {
			return err
		}
		fresh[cfg.ID] = compiled
	}

	e.compiledPolicies = fresh
	return nil
}

// EvaluateAll evaluates every loaded policy in parallel. Results are
// ordered by priority descending, then policy ID, so evaluation is
// deterministic regardless of goroutine scheduling.
func (e *Engine) EvaluateAll(ctx context.Context, app *domain.CreditApplication,
	ratios *domain.DerivedRatios, probability float64,
	category domain.RiskCategory) []*domain.PolicyResult {

	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiledPolicies))
	for _, p := range e.compiledPolicies {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 {
		return nil
	}

	activation := buildActivation(app, ratios, probability, category)

	results := make([]*domain.PolicyResult, len(policies))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, p := range policies {
		wg.Add(1)
		go func(idx int, cp *CompiledPolicy) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluatePolicy(cp, activation)
		}(i, p)
	}

	wg.Wait()

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Priority != results[b].Priority {
			return results[a].Priority > results[b].Priority
		}
		return results[a].PolicyID < results[b].PolicyID
	})

	return results
}

// Apply resolves the final decision: the highest-priority triggered
// policy wins; with none triggered, the base decision stands.
func (e *Engine) Apply(base domain.Decision, results []*domain.PolicyResult) (domain.Decision, *domain.PolicyResult) {
	for _, r := range results {
		if r.Triggered && r.Error == "" {
			return r.Action, r
		}
	}
	return base, nil
}

// PolicyCount returns the number of loaded policies.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledPolicies)
}

// LoadedPolicies returns the currently loaded policy configurations.
func (e *Engine) LoadedPolicies() []*domain.PolicyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.PolicyConfig, 0, len(e.compiledPolicies))
	for _, compiled := range e.compiledPolicies {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// Close clears all loaded policies.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledPolicies = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compilePolicy(cfg *domain.PolicyConfig) (*CompiledPolicy, error) {
	if cfg.Action != domain.DecisionApprove && cfg.Action != domain.DecisionReject {
		return nil, fmt.Errorf("policy %s: action must be APPROVE or REJECT, got %q", cfg.ID, cfg.Action)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}

func evaluatePolicy(cp *CompiledPolicy, activation map[string]any) *domain.PolicyResult {
	result := &domain.PolicyResult{
		PolicyID: cp.Config.ID,
		Name:     cp.Config.Name,
		Priority: cp.Config.Priority,
	}

	out, _, err := cp.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	if triggered, ok := out.(types.Bool); ok && bool(triggered) {
		result.Triggered = true
		result.Action = cp.Config.Action
		result.Reason = cp.Config.Reason
	}

	return result
}

func buildActivation(app *domain.CreditApplication, ratios *domain.DerivedRatios,
	probability float64, category domain.RiskCategory) map[string]any {

	return map[string]any{
		"app": map[string]any{
			"application_id": app.ApplicationID,
			"age":            app.Age,
			"annual_income":  app.AnnualIncome,
			"loan_amount":    app.LoanAmount,
		},
		"age":                     app.Age,
		"gender":                  string(app.Gender),
		"marital_status":          app.MaritalStatus,
		"education":               string(app.Education),
		"housing_type":            string(app.HousingType),
		"annual_income":           app.AnnualIncome,
		"employment_status":       string(app.EmploymentStatus),
		"work_experience_years":   app.WorkExperienceYears,
		"existing_loans_count":    app.ExistingLoansCount,
		"total_existing_debt":     app.TotalExistingDebt,
		"credit_card_utilization": app.CreditCardUtilization,
		"past_delinquencies":      app.PastDelinquencies,
		"loan_amount":             app.LoanAmount,
		"loan_term_months":        app.LoanTermMonths,
		"debt_service_ratio":      ratios.DebtServiceRatio,
		"income_to_loan_ratio":    ratios.IncomeToLoanRatio,
		"disposable_income":       ratios.DisposableIncome,
		"is_high_risk_dsr":        ratios.IsHighRiskDSR == 1,
		"probability":             probability,
		"risk_category":           string(category),
	}
}
