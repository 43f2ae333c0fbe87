// Package worker provides async stage processing for the pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/workflow"
)

// Worker runs pipeline stages asynchronously from the EventBus.
// The API publishes stage requests; the worker executes them and the
// workflow service emits completion events.
type Worker struct {
	bus      domain.EventBus
	workflow *workflow.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, wf *workflow.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		workflow: wf,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing stage requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicStageRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("stage worker started",
		"topic", domain.TopicStageRequested,
	)

	return nil
}

// handleMessage runs a single requested stage.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var ev domain.StageEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse stage request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	batch, err := w.workflow.RunStage(ctx, ev.BatchID, ev.Stage)
	if err != nil {
		// Locked and already-complete requests are expected under
		// duplicate delivery; don't escalate them.
		if errors.Is(err, domain.ErrStageLocked) {
			slog.Warn("stage request out of order",
				"batch_id", ev.BatchID,
				"stage", ev.Stage,
				"error", err,
			)
			return nil
		}
		slog.Error("stage run failed",
			"batch_id", ev.BatchID,
			"stage", ev.Stage,
			"error", err,
		)
		return err
	}

	slog.Info("stage request processed",
		"batch_id", batch.ID,
		"stage", ev.Stage,
		"status", batch.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
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

	slog.Info("stage worker stopped")
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
