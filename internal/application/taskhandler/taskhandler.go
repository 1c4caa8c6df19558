// Package taskhandler routes queue tasks to the engines. Each handler
// decodes the payload, treats it as a hint, and lets the engine
// re-derive current state; malformed payloads are marked permanent so
// they dead-letter immediately instead of burning retries.
package taskhandler

import (
	"context"
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/application/engine"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
	"github.com/felipe0410/enrolment-sub004/pkg/retry"
)

// Registrar binds handlers to task types; the task queue implements it.
type Registrar interface {
	Register(taskType shared.TaskType, handler shared.TaskHandler) error
}

// Register wires the dependency-gate and reconciler task types.
func Register(reg Registrar, gate *engine.DependencyGate, reconciler *engine.Reconciler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "taskhandler")

	if err := reg.Register(shared.TaskCheckModuleEnrolments, func(task shared.Task) error {
		var payload shared.CheckModuleEnrolmentsPayload
		if err := task.DecodePayload(&payload); err != nil {
			return retry.Permanent(err)
		}
		return gate.CheckModuleEnrolments(context.Background(), payload.ModuleID, payload.UserID)
	}); err != nil {
		return err
	}

	if err := reg.Register(shared.TaskCheckModuleEnrolment, func(task shared.Task) error {
		var payload shared.CheckModuleEnrolmentPayload
		if err := task.DecodePayload(&payload); err != nil {
			return retry.Permanent(err)
		}
		return gate.CheckModuleEnrolment(context.Background(), payload.ModuleID, payload.EnrolmentID)
	}); err != nil {
		return err
	}

	return reg.Register(shared.TaskReconcileCourse, func(task shared.Task) error {
		var payload shared.ReconcileCoursePayload
		if err := task.DecodePayload(&payload); err != nil {
			return retry.Permanent(err)
		}
		fixes, err := reconciler.Reconcile(context.Background(), payload.CourseID)
		if err != nil {
			return err
		}
		if len(fixes) > 0 {
			logger.Info("reconciliation task applied fixes",
				"course_id", payload.CourseID, "fixes", len(fixes))
		}
		return nil
	})
}
