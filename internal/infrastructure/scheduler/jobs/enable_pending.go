// Package jobs contains the scheduled sweep jobs. All three sweeps
// re-derive from the store and publish the same tasks and events as the
// event-driven paths, so a sweep and a late-delivered event converge on
// identical state.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
	"github.com/felipe0410/enrolment-sub004/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENABLE PENDING JOB
// ══════════════════════════════════════════════════════════════════════════════

// EnablePendingJob re-drives the dependency gate over every pending
// enrolment. A pending enrolment whose module-completed event was lost
// stays pending forever without this backstop; with it, the enrolment
// unlocks at most one sweep interval late.
type EnablePendingJob struct {
	store    enrolment.Store
	resolver content.Resolver
	tasks    shared.TaskPublisher
	retrier  *retry.Retrier
	logger   *slog.Logger
	config   EnablePendingConfig
}

// EnablePendingConfig contains configuration for the enable-pending sweep.
type EnablePendingConfig struct {
	// PageSize is the number of pending enrolments fetched per page.
	PageSize int

	// MaxPages bounds one sweep; the next run picks up the remainder.
	MaxPages int
}

// DefaultEnablePendingConfig returns sensible defaults.
func DefaultEnablePendingConfig() EnablePendingConfig {
	return EnablePendingConfig{
		PageSize: 200,
		MaxPages: 50,
	}
}

// NewEnablePendingJob creates a new EnablePendingJob.
func NewEnablePendingJob(
	store enrolment.Store,
	resolver content.Resolver,
	tasks shared.TaskPublisher,
	logger *slog.Logger,
	config EnablePendingConfig,
) *EnablePendingJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultEnablePendingConfig().PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultEnablePendingConfig().MaxPages
	}
	return &EnablePendingJob{
		store:    store,
		resolver: resolver,
		tasks:    tasks,
		retrier:  retry.StoreRetrier(),
		logger:   logger.With("job", "enable-pending"),
		config:   config,
	}
}

// Name returns the unique name of the job.
func (j *EnablePendingJob) Name() string { return "enable-pending" }

// Description returns a human-readable description of the job.
func (j *EnablePendingJob) Description() string {
	return "re-evaluates pending enrolments against their module prerequisites"
}

// Run walks the pending enrolments in pages and enqueues a per-enrolment
// dependency check for each. The check itself decides whether the
// prerequisites are met; the sweep only guarantees it happens.
func (j *EnablePendingJob) Run(ctx context.Context) error {
	started := time.Now()
	scheduled := 0

	for page := 0; page < j.config.MaxPages; page++ {
		var pending []*enrolment.Enrolment
		err := j.retrier.Do(ctx, func(ctx context.Context) error {
			batch, err := j.store.ListPending(ctx, enrolment.ListOptions{
				Limit:  j.config.PageSize,
				Offset: page * j.config.PageSize,
			})
			if err != nil {
				return retry.Retryable(err)
			}
			pending = batch
			return nil
		})
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			break
		}

		for _, e := range pending {
			moduleID, ok := j.moduleOf(ctx, e)
			if !ok {
				continue
			}
			err := j.tasks.PublishTask(shared.TaskCheckModuleEnrolment, shared.CheckModuleEnrolmentPayload{
				ModuleID:    moduleID,
				EnrolmentID: e.ID,
			})
			if err != nil {
				return err
			}
			scheduled++
		}

		if len(pending) < j.config.PageSize {
			break
		}
	}

	if scheduled > 0 {
		j.logger.Info("pending sweep scheduled checks",
			"checks", scheduled,
			"duration", time.Since(started).String(),
		)
	}
	return nil
}

// moduleOf resolves which module gates the pending enrolment: the node
// itself when it is a module, its parent when it is an item.
func (j *EnablePendingJob) moduleOf(ctx context.Context, e *enrolment.Enrolment) (string, bool) {
	isModule, err := j.resolver.IsModule(ctx, e.LOID)
	if err == nil && isModule {
		return e.LOID, true
	}
	if e.ParentLOID != "" {
		return e.ParentLOID, true
	}
	return "", false
}
