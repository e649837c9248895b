package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

// Auditor records completed scoring calls to the append-only audit log.
type Auditor interface {
	Record(ctx context.Context, requestID string, app *domain.CreditApplication,
		probability float64, category domain.RiskCategory, decision domain.Decision,
		summary, modelVersion, userID string) (string, error)
}

// PolicyEvaluator applies underwriting override policies to a
// threshold-derived decision.
type PolicyEvaluator interface {
	EvaluateAll(ctx context.Context, app *domain.CreditApplication,
		ratios *domain.DerivedRatios, probability float64,
		category domain.RiskCategory) []*domain.PolicyResult
	Apply(base domain.Decision, results []*domain.PolicyResult) (domain.Decision, *domain.PolicyResult)
}

// Request is one scoring call. RequestID is generated when empty;
// UserID defaults to "anonymous".
type Request struct {
	Application *domain.CreditApplication `json:"application"`
	RequestID   string                    `json:"request_id,omitempty"`
	UserID      string                    `json:"user_id,omitempty"`
}

// Result is the complete outcome of one scoring call.
type Result struct {
	RequestID     string                `json:"request_id"`
	ApplicationID string                `json:"application_id"`
	Prediction    domain.Prediction     `json:"prediction"`
	Ratios        *domain.DerivedRatios `json:"ratios"`
	Explanation   *domain.Explanation   `json:"explanation,omitempty"`
	AppliedPolicy *domain.PolicyResult  `json:"applied_policy,omitempty"`
	ModelVersion  string                `json:"model_version"`
	Timestamp     string                `json:"timestamp"`
}

// Scorer orchestrates the scoring pipeline. The classifier and
// vectorizer are required; auditor, policies, cache, and bus are
// optional and skipped when nil.
type Scorer struct {
	vectorizer   *feature.FittedVectorizer
	classifier   domain.Classifier
	policies     PolicyEvaluator
	auditor      Auditor
	cache        domain.Cache
	bus          domain.EventBus
	cfg          domain.ScoringConfig
	modelVersion string
	logger       *slog.Logger
}

// NewScorer creates a scoring pipeline.
func NewScorer(
	vectorizer *feature.FittedVectorizer,
	classifier domain.Classifier,
	policies PolicyEvaluator,
	auditor Auditor,
	cache domain.Cache,
	bus domain.EventBus,
	cfg domain.ScoringConfig,
	modelVersion string,
	logger *slog.Logger,
) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = 5
	}
	if cfg.ExplainTopK <= 0 {
		cfg.ExplainTopK = explain.DefaultTopK
	}
	return &Scorer{
		vectorizer:   vectorizer,
		classifier:   classifier,
		policies:     policies,
		auditor:      auditor,
		cache:        cache,
		bus:          bus,
		cfg:          cfg,
		modelVersion: modelVersion,
		logger:       logger,
	}
}

// ModelVersion returns the version of the model being served.
func (s *Scorer) ModelVersion() string { return s.modelVersion }

// Score runs the full pipeline for one application. A classifier
// failure aborts the call; attribution, audit, cache, and bus failures
// do not.
func (s *Scorer) Score(ctx context.Context, req *Request) (*Result, error) {
	if req.Application == nil {
		return nil, fmt.Errorf("%w: application is required", domain.ErrInvalidApplication)
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	ratios, err := feature.ComputeRatios(req.Application)
	if err != nil {
		return nil, err
	}

	vec, err := s.vectorizer.Transform(req.Application)
	if err != nil {
		return nil, err
	}

	probability, err := s.predict(ctx, vec)
	if err != nil {
		return nil, err
	}

	category := Categorize(probability)
	decision := Decide(probability, s.cfg.RiskThreshold)

	var explanation *domain.Explanation
	if s.cfg.ExplainEnabled {
		explanation = s.explain(vec, probability, category, requestID)
	}

	var applied *domain.PolicyResult
	if s.policies != nil {
		results := s.policies.EvaluateAll(ctx, req.Application, ratios, probability, category)
		decision, applied = s.policies.Apply(decision, results)
	}

	result := &Result{
		RequestID:     requestID,
		ApplicationID: req.Application.ApplicationID,
		Prediction: domain.Prediction{
			Probability:  probability,
			RiskCategory: category,
			Decision:     decision,
		},
		Ratios:        ratios,
		Explanation:   explanation,
		AppliedPolicy: applied,
		ModelVersion:  s.modelVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	s.record(ctx, requestID, req.Application, result, userID)
	s.publish(ctx, result)
	s.snapshot(ctx, result, userID)

	return result, nil
}

func (s *Scorer) predict(ctx context.Context, vec []float64) (float64, error) {
	timeout := time.Duration(s.cfg.ClassifierTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probability, err := s.classifier.PredictProbability(ctx, vec)
	if err != nil {
		return 0, fmt.Errorf("classifier prediction failed: %w", err)
	}
	return probability, nil
}

func (s *Scorer) explain(vec []float64, probability float64, category domain.RiskCategory, requestID string) *domain.Explanation {
	dec, ok := s.classifier.(domain.Decomposer)
	if !ok {
		return explain.Failure("classifier does not support attribution")
	}

	exp, err := explain.Explain(vec, s.vectorizer.FeatureNames(), dec, probability, s.cfg.ExplainTopK)
	if err != nil {
		s.logger.Warn("attribution failed",
			slog.String("requestId", requestID),
			slog.String("error", err.Error()))
		return explain.Failure(err.Error())
	}
	exp.RiskCategory = category
	return exp
}

func (s *Scorer) record(ctx context.Context, requestID string, app *domain.CreditApplication, result *Result, userID string) {
	if s.auditor == nil || !s.cfg.AuditEnabled {
		return
	}

	summary := "No explanation available"
	if result.Explanation != nil && !result.Explanation.Failed {
		summary = result.Explanation.Summary
	}

	if _, err := s.auditor.Record(ctx, requestID, app,
		result.Prediction.Probability, result.Prediction.RiskCategory,
		result.Prediction.Decision, summary, s.modelVersion, userID); err != nil {
		s.logger.Warn("audit recording failed",
			slog.String("requestId", requestID),
			slog.String("error", err.Error()))
	}
}

func (s *Scorer) publish(ctx context.Context, result *Result) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicApplicationScored, payload); err != nil {
		s.logger.Warn("failed to publish scored event",
			slog.String("requestId", result.RequestID),
			slog.String("error", err.Error()))
	}
	if result.Prediction.Decision == domain.DecisionReject {
		if err := s.bus.Publish(ctx, domain.TopicDecisionReject, payload); err != nil {
			s.logger.Warn("failed to publish reject event",
				slog.String("requestId", result.RequestID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scorer) snapshot(ctx context.Context, result *Result, userID string) {
	if s.cache == nil {
		return
	}

	snap := &domain.ScoreSnapshot{
		RequestID:    result.RequestID,
		Probability:  result.Prediction.Probability,
		RiskCategory: result.Prediction.RiskCategory,
		Decision:     result.Prediction.Decision,
		ModelVersion: result.ModelVersion,
		Timestamp:    result.Timestamp,
	}
	if err := s.cache.SetScore(ctx, result.RequestID, snap, 15*time.Minute); err != nil {
		s.logger.Warn("failed to cache score",
			slog.String("requestId", result.RequestID),
			slog.String("error", err.Error()))
	}
	if _, err := s.cache.IncrementCounter(ctx, "scores:"+userID, time.Hour); err != nil {
		s.logger.Debug("failed to increment score counter",
			slog.String("userId", userID),
			slog.String("error", err.Error()))
	}
}
