package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper drops cache entries that are too old to serve even as a fallback.
type Sweeper interface {
	Sweep() int
}

// ReconcilerConfig tunes the background loop.
type ReconcilerConfig struct {
	Interval    time.Duration
	Batch       int
	StaleAfter  time.Duration
	ResumeAfter time.Duration
}

// Reconciler periodically catches up on missed webhooks and resumes stalled
// plan changes.
type Reconciler struct {
	sync        *SyncService
	planChanges *PlanChangeService
	sweeper     Sweeper
	cfg         ReconcilerConfig
	logger      *zap.Logger
}

// NewReconciler creates a new Reconciler. sweeper may be nil.
func NewReconciler(sync *SyncService, planChanges *PlanChangeService, sweeper Sweeper, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		sync:        sync,
		planChanges: planChanges,
		sweeper:     sweeper,
		cfg:         cfg,
		logger:      logger.Named("reconciler"),
	}
}

// Start runs the loop in a background goroutine until ctx is cancelled. A
// zero interval disables it.
func (r *Reconciler) Start(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		r.logger.Info("reconciler disabled")
		return
	}
	go func() {
		r.RunOnce(ctx)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) {
	started := time.Now()

	applied, err := r.sync.ReconcileStale(ctx, r.cfg.StaleAfter, r.cfg.Batch)
	if err != nil {
		r.logger.Error("failed to reconcile stale subscriptions", zap.Error(err))
	}

	resumed, err := r.planChanges.ResumePending(ctx, r.cfg.ResumeAfter, r.cfg.Batch)
	if err != nil {
		r.logger.Error("failed to resume plan changes", zap.Error(err))
	}

	swept := 0
	if r.sweeper != nil {
		swept = r.sweeper.Sweep()
	}

	if applied > 0 || resumed > 0 || swept > 0 {
		r.logger.Info("reconcile pass",
			zap.Int("applied", applied),
			zap.Int("resumed", resumed),
			zap.Int("swept", swept),
			zap.Duration("took", time.Since(started)),
		)
	}
}
