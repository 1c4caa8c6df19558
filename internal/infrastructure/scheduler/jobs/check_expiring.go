package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
	"github.com/felipe0410/enrolment-sub004/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK EXPIRING JOB
// ══════════════════════════════════════════════════════════════════════════════

// CheckExpiringJob emits a warning event for every active, not-completed
// enrolment whose due date falls inside the warning window. Downstream
// notification services consume the events; this engine only detects.
type CheckExpiringJob struct {
	store   enrolment.Store
	events  shared.EventPublisher
	retrier *retry.Retrier
	logger  *slog.Logger
	config  CheckExpiringConfig
}

// CheckExpiringConfig contains configuration for the expiring sweep.
type CheckExpiringConfig struct {
	// Window is how far ahead of the due date the warning fires.
	Window time.Duration

	// PageSize is the number of enrolments fetched per page.
	PageSize int

	// MaxPages bounds one sweep.
	MaxPages int
}

// DefaultCheckExpiringConfig returns sensible defaults.
func DefaultCheckExpiringConfig() CheckExpiringConfig {
	return CheckExpiringConfig{
		Window:   48 * time.Hour,
		PageSize: 200,
		MaxPages: 50,
	}
}

// NewCheckExpiringJob creates a new CheckExpiringJob.
func NewCheckExpiringJob(
	store enrolment.Store,
	events shared.EventPublisher,
	logger *slog.Logger,
	config CheckExpiringConfig,
) *CheckExpiringJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Window <= 0 {
		config.Window = DefaultCheckExpiringConfig().Window
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultCheckExpiringConfig().PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultCheckExpiringConfig().MaxPages
	}
	return &CheckExpiringJob{
		store:   store,
		events:  events,
		retrier: retry.StoreRetrier(),
		logger:  logger.With("job", "check-expiring"),
		config:  config,
	}
}

// Name returns the unique name of the job.
func (j *CheckExpiringJob) Name() string { return "check-expiring" }

// Description returns a human-readable description of the job.
func (j *CheckExpiringJob) Description() string {
	return "emits warning events for enrolments approaching their due date"
}

// Run pages through enrolments due inside the window and publishes an
// expiring event per record. Re-emission on consecutive sweeps is
// expected; consumers dedup on their side.
func (j *CheckExpiringJob) Run(ctx context.Context) error {
	now := time.Now().UTC()
	until := now.Add(j.config.Window)
	emitted := 0

	for page := 0; page < j.config.MaxPages; page++ {
		var due []*enrolment.Enrolment
		err := j.retrier.Do(ctx, func(ctx context.Context) error {
			batch, err := j.store.ListDueBetween(ctx, now, until, enrolment.ListOptions{
				Limit:  j.config.PageSize,
				Offset: page * j.config.PageSize,
			})
			if err != nil {
				return retry.Retryable(err)
			}
			due = batch
			return nil
		})
		if err != nil {
			return err
		}
		if len(due) == 0 {
			break
		}

		for _, e := range due {
			if e.DueDate == nil {
				continue
			}
			event := shared.NewEnrolmentExpiringEvent(e.ID, e.UserID, e.LOID, *e.DueDate)
			if err := j.events.Publish(event); err != nil {
				return err
			}
			emitted++
		}

		if len(due) < j.config.PageSize {
			break
		}
	}

	if emitted > 0 {
		j.logger.Info("expiring sweep emitted warnings", "warnings", emitted)
	}
	return nil
}
