package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/metrics"
	"go.uber.org/zap"
)

// sagaStep is one idempotent unit of a persisted multi-step operation.
type sagaStep struct {
	name string
	run  func(ctx context.Context) error
	// bestEffort steps log their failure and count as done.
	bestEffort bool
}

// stepError identifies the step a saga stopped at.
type stepError struct {
	step int
	name string
	err  error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.step, e.name, e.err)
}

func (e *stepError) Unwrap() error { return e.err }

// sagaRunner executes steps in order, persisting the furthest completed step
// so a later run with the same id skips what is already done.
type sagaRunner struct {
	store  SagaStore
	logger *zap.Logger
	now    func() time.Time
}

func newSagaRunner(store SagaStore, logger *zap.Logger) *sagaRunner {
	return &sagaRunner{store: store, logger: logger.Named("saga"), now: time.Now}
}

// load returns the run with id, creating and persisting a new one if absent.
func (r *sagaRunner) load(ctx context.Context, id, kind, userID string, payload any) (*domain.SagaRun, error) {
	run, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run != nil {
		return run, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode saga payload: %w", err)
	}
	now := r.now()
	run = &domain.SagaRun{
		ID:        id,
		Kind:      kind,
		UserID:    userID,
		Payload:   raw,
		Status:    domain.SagaRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Save(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// execute runs the steps after run.CompletedStep. It returns a *stepError for
// the first required step that fails.
func (r *sagaRunner) execute(ctx context.Context, run *domain.SagaRun, steps []sagaStep) error {
	log := r.logger.With(zap.String("saga_id", run.ID), zap.String("kind", run.Kind))
	run.Status = domain.SagaRunning

	for i, step := range steps {
		n := i + 1
		if n <= run.CompletedStep {
			metrics.SagaSteps.WithLabelValues(run.Kind, step.name, "skipped").Inc()
			continue
		}

		if err := step.run(ctx); err != nil {
			if !step.bestEffort {
				metrics.SagaSteps.WithLabelValues(run.Kind, step.name, "failed").Inc()
				log.Error("saga step failed", zap.String("step", step.name), zap.Error(err))
				run.Status = domain.SagaFailed
				run.LastError = err.Error()
				r.save(ctx, run)
				return &stepError{step: n, name: step.name, err: err}
			}
			metrics.SagaSteps.WithLabelValues(run.Kind, step.name, "skipped_on_error").Inc()
			log.Warn("best-effort saga step failed, continuing", zap.String("step", step.name), zap.Error(err))
			run.LastError = err.Error()
		} else {
			metrics.SagaSteps.WithLabelValues(run.Kind, step.name, "completed").Inc()
		}

		run.CompletedStep = n
		r.save(ctx, run)
	}

	run.Status = domain.SagaCompleted
	run.LastError = ""
	r.save(ctx, run)
	log.Info("saga completed")
	return nil
}

// save persists progress. Steps are idempotent, so a lost write only costs
// repeating a step on resume.
func (r *sagaRunner) save(ctx context.Context, run *domain.SagaRun) {
	run.UpdatedAt = r.now()
	if err := r.store.Save(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to persist saga progress", zap.String("saga_id", run.ID), zap.Error(err))
	}
}
