package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Requeuer is a background worker that polls for failed transmissions
// with remaining retry budget and feeds them back through the pipeline.
//
// It processes logs sequentially within each polling batch. Multiple
// instances can run concurrently; the optimistic version check on log
// updates prevents duplicate sends.
type Requeuer struct {
	pipeline *Pipeline
	logger   *slog.Logger

	pollInterval time.Duration
	batchSize    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RequeuerConfig holds requeuer configuration
type RequeuerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultRequeuerConfig returns sensible defaults
func DefaultRequeuerConfig() *RequeuerConfig {
	return &RequeuerConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
	}
}

// NewRequeuer creates a background retry worker
func NewRequeuer(p *Pipeline, cfg *RequeuerConfig, logger *slog.Logger) *Requeuer {
	if cfg == nil {
		cfg = DefaultRequeuerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requeuer{
		pipeline:     p,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
	}
}

// Start begins background retry processing
func (r *Requeuer) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()
	r.logger.Info("requeuer started", "poll_interval", r.pollInterval)
}

// Stop gracefully stops the requeuer
func (r *Requeuer) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("requeuer stopped")
}

func (r *Requeuer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.processRetries()
		}
	}
}

func (r *Requeuer) processRetries() {
	tenants, err := r.pipeline.store.ListTenantsWithActivity(r.ctx)
	if err != nil {
		r.logger.Error("failed to list tenants with activity", "error", err)
		return
	}

	for _, tenantID := range tenants {
		r.processTenantRetries(tenantID)
	}
}

func (r *Requeuer) processTenantRetries(tenantID string) {
	logs, err := r.pipeline.store.ListRetryable(r.ctx, tenantID, r.batchSize)
	if err != nil {
		r.logger.Error("failed to list retryable logs", "tenant", tenantID, "error", err)
		return
	}

	for _, tlog := range logs {
		log := r.logger.With(
			"tenant", tenantID,
			"log_id", tlog.ID,
			"document_id", tlog.DocumentID,
		)

		updated, err := r.pipeline.Retry(r.ctx, tenantID, tlog.ID)
		switch {
		case err == nil:
			log.Info("retry succeeded", "retry_count", updated.RetryCount)
		case errors.Is(err, ErrInvalidTransition):
			// Someone else already moved the log on, nothing to do
		default:
			log.Warn("retry failed", "error", err)
		}
	}
}
