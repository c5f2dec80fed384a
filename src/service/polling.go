package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type ReconcileConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	// MaxPendingAge expires operations that never got a receipt. Zero keeps them pending.
	MaxPendingAge time.Duration
}

// ReconcileWorker periodically settles journaled operations nobody is waiting on.
type ReconcileWorker struct {
	operations *OperationService
	config     ReconcileConfig
}

func NewReconcileWorker(operations *OperationService, config ReconcileConfig) *ReconcileWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.PollingInterval <= 0 {
		config.PollingInterval = 30 * time.Second
	}
	return &ReconcileWorker{operations: operations, config: config}
}

// logger wraps the execution context with component info
func (w *ReconcileWorker) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "reconcile-worker").Logger()
	return &l
}

// Start runs the reconcile loop until ctx is cancelled.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.logger(ctx).Info().
		Dur("polling_interval", w.config.PollingInterval).
		Msg("starting reconcile worker")

	ticker := time.NewTicker(w.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger(ctx).Info().Msg("reconcile worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *ReconcileWorker) poll(ctx context.Context) {
	settled, err := w.operations.Reconcile(ctx, w.config.BatchSize, w.config.MaxPendingAge)
	if err != nil {
		w.logger(ctx).Error().Err(err).Msg("reconcile cycle failed")
		return
	}
	w.logger(ctx).Debug().Int("settled", settled).Msg("reconcile cycle completed")
}
