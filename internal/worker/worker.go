// Package worker provides async application scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker scores applications submitted through the EventBus instead of
// the synchronous HTTP path. Results are published to the scored topic
// the same way synchronous scoring publishes them.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	scorer *scoring.Scorer

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds the number of applications scored in parallel.
	Concurrency int
}

// NewWorker creates a new async scoring worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, scorer *scoring.Scorer, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		scorer: scorer,
		sem:    make(chan struct{}, cfg.Concurrency),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the application received topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationReceived, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("async scoring worker started",
		"topic", domain.TopicApplicationReceived,
		"concurrency", cap(w.sem),
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.sem <- struct{}{}
		defer func() { <-w.sem }()

		w.scoreMessage(ctx, msg)
	}()
	return nil
}

func (w *Worker) scoreMessage(ctx context.Context, msg *domain.Message) {
	start := time.Now()

	var req scoring.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse scoring request",
			"message_id", msg.ID,
			"error", err,
		)
		return
	}

	if req.Application == nil {
		slog.Error("scoring request has no application", "message_id", msg.ID)
		return
	}
	if err := req.Application.Validate(); err != nil {
		slog.Error("invalid application in scoring request",
			"message_id", msg.ID,
			"error", err,
		)
		return
	}

	result, err := w.scorer.Score(ctx, &req)
	if err != nil {
		slog.Error("async scoring failed",
			"application_id", req.Application.ApplicationID,
			"error", err,
		)
		return
	}

	// Persist the application for later retrieval; scoring already
	// happened so a save failure is not fatal.
	if w.repo != nil {
		if err := w.repo.SaveApplication(ctx, result.RequestID, req.Application); err != nil {
			slog.Error("failed to save application",
				"application_id", req.Application.ApplicationID,
				"error", err,
			)
		}
	}

	slog.Info("application scored",
		"application_id", result.ApplicationID,
		"request_id", result.RequestID,
		"probability", result.Prediction.Probability,
		"decision", result.Prediction.Decision,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("async scoring worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
