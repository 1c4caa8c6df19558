package jobs

import (
	"context"
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
	"github.com/felipe0410/enrolment-sub004/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE COURSES JOB
// ══════════════════════════════════════════════════════════════════════════════

// CourseLister enumerates the course nodes to sweep.
type CourseLister interface {
	ListCourseIDs(ctx context.Context) ([]string, error)
}

// ReconcileCoursesJob enqueues a structural reconciliation pass for
// every course. Link-changed events trigger reconciliation eagerly; this
// sweep catches hierarchy edits whose events were lost, and repairs
// accumulate over consecutive runs because each pass is bounded.
type ReconcileCoursesJob struct {
	courses      CourseLister
	tasks        shared.TaskPublisher
	storeRetrier *retry.Retrier
	queueRetrier *retry.Retrier
	logger       *slog.Logger
}

// NewReconcileCoursesJob creates a new ReconcileCoursesJob.
func NewReconcileCoursesJob(courses CourseLister, tasks shared.TaskPublisher, logger *slog.Logger) *ReconcileCoursesJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileCoursesJob{
		courses:      courses,
		tasks:        tasks,
		storeRetrier: retry.StoreRetrier(),
		queueRetrier: retry.QueueRetrier(),
		logger:       logger.With("job", "reconcile-courses"),
	}
}

// Name returns the unique name of the job.
func (j *ReconcileCoursesJob) Name() string { return "reconcile-courses" }

// Description returns a human-readable description of the job.
func (j *ReconcileCoursesJob) Description() string {
	return "schedules a structural consistency pass over every course"
}

// Run enqueues one reconcile task per course. Enqueue failures are
// retried in place: a transient full buffer should not abort the sweep
// for every remaining course.
func (j *ReconcileCoursesJob) Run(ctx context.Context) error {
	var courseIDs []string
	err := j.storeRetrier.Do(ctx, func(ctx context.Context) error {
		ids, err := j.courses.ListCourseIDs(ctx)
		if err != nil {
			return retry.Retryable(err)
		}
		courseIDs = ids
		return nil
	})
	if err != nil {
		return err
	}

	for _, courseID := range courseIDs {
		err := j.queueRetrier.Do(ctx, func(ctx context.Context) error {
			return retry.Retryable(j.tasks.PublishTask(shared.TaskReconcileCourse, shared.ReconcileCoursePayload{
				CourseID: courseID,
			}))
		})
		if err != nil {
			return err
		}
	}

	if len(courseIDs) > 0 {
		j.logger.Info("reconciliation sweep scheduled", "courses", len(courseIDs))
	}
	return nil
}
