package engine

import (
	"context"
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCY GATE
// Three-phase fan-out: one module completion can affect many dependent
// modules, each dependent module can hold many pending enrolments for
// the learner, and each pending enrolment needs its own re-check. Each
// phase does bounded work and is independently retryable; re-running any
// phase twice is harmless because every step re-derives truth from
// current state rather than trusting the message payload.
// ══════════════════════════════════════════════════════════════════════════════

// DependencyGate unlocks sibling modules gated behind declared
// prerequisites once those prerequisites complete.
type DependencyGate struct {
	store     enrolment.Store
	resolver  content.Resolver
	tasks     shared.TaskPublisher
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewDependencyGate creates a new DependencyGate.
func NewDependencyGate(
	store enrolment.Store,
	resolver content.Resolver,
	tasks shared.TaskPublisher,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *DependencyGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &DependencyGate{
		store:     store,
		resolver:  resolver,
		tasks:     tasks,
		publisher: publisher,
		logger:    logger.With("engine", "dependency_gate"),
	}
}

// OnModuleCompleted is phase 1: fans one completed module enrolment out
// into one task per dependent module for the same learner.
func (g *DependencyGate) OnModuleCompleted(ctx context.Context, e *enrolment.Enrolment) error {
	dependents, err := g.resolver.DependentsOf(ctx, e.LOID)
	if err != nil {
		if shared.IsBenign(err) {
			g.logger.Warn("dependents lookup skipped", "lo_id", e.LOID, "error", err)
			return nil
		}
		return err
	}
	for _, depModuleID := range dependents {
		payload := shared.CheckModuleEnrolmentsPayload{
			ModuleID: depModuleID,
			UserID:   e.UserID,
		}
		if err := g.tasks.PublishTask(shared.TaskCheckModuleEnrolments, payload); err != nil {
			// Publish failure is fatal here: aborting keeps store state
			// and emitted-task state consistent for a later replay.
			return shared.WrapError("gate", "OnModuleCompleted", shared.ErrDependencyUnavailable, "enqueue dependent check", err)
		}
	}
	if len(dependents) > 0 {
		g.logger.Info("fanned out dependent module checks",
			"module_id", e.LOID,
			"user_id", e.UserID,
			"dependents", len(dependents),
		)
	}
	return nil
}

// CheckModuleEnrolments is phase 2: enumerates the learner's pending
// enrolments under one dependent module and emits one phase-3 task per
// enrolment, bounding the size of any single unit of work.
func (g *DependencyGate) CheckModuleEnrolments(ctx context.Context, moduleID, userID string) error {
	isModule, err := g.resolver.IsModule(ctx, moduleID)
	if err != nil {
		if shared.IsBenign(err) {
			g.logger.Warn("module lookup failed, dropping check", "module_id", moduleID, "error", err)
			return nil
		}
		return err
	}
	if !isModule {
		// The node was deleted or retyped after the task was enqueued;
		// fan-out is best-effort and tolerates stale targets.
		g.logger.Warn("target is not a module, dropping check", "module_id", moduleID)
		return nil
	}

	pendingIDs, err := g.store.ListPendingByModule(ctx, moduleID, userID)
	if err != nil {
		return err
	}
	for _, enrolmentID := range pendingIDs {
		payload := shared.CheckModuleEnrolmentPayload{
			ModuleID:    moduleID,
			EnrolmentID: enrolmentID,
		}
		if err := g.tasks.PublishTask(shared.TaskCheckModuleEnrolment, payload); err != nil {
			return shared.WrapError("gate", "CheckModuleEnrolments", shared.ErrDependencyUnavailable, "enqueue enrolment check", err)
		}
	}
	return nil
}

// CheckModuleEnrolment is phase 3: re-derives "dependencies completed"
// for one pending enrolment and transitions it to in-progress when all
// prerequisite modules are completed for this learner.
func (g *DependencyGate) CheckModuleEnrolment(ctx context.Context, moduleID, enrolmentID string) error {
	e, err := g.store.Load(ctx, enrolmentID)
	if err != nil {
		if shared.IsBenign(err) {
			g.logger.Warn("pending enrolment vanished, dropping check", "enrolment_id", enrolmentID)
			return nil
		}
		return err
	}
	if !e.IsActive() || e.Status != enrolment.StatusPending {
		// Someone else already enabled (or archived) it; no-op.
		return nil
	}

	satisfied, err := g.DependenciesCompleted(ctx, moduleID, e)
	if err != nil {
		if shared.IsBenign(err) {
			g.logger.Warn("prerequisite lookup failed, dropping check", "module_id", moduleID, "error", err)
			return nil
		}
		return err
	}
	if !satisfied {
		return nil
	}

	original := e.Status
	tctx := enrolment.TransitionContext{
		Action:  enrolment.ActionInvalidPendingDependent,
		ActorID: enrolment.SystemActorID,
		Note:    "module dependencies satisfied",
	}
	if err := g.store.ChangeStatus(ctx, e, enrolment.StatusInProgress, tctx); err != nil {
		if shared.IsBenign(err) {
			return nil
		}
		return err
	}

	g.logger.Info("pending enrolment enabled",
		"enrolment_id", e.ID,
		"module_id", moduleID,
		"user_id", e.UserID,
	)
	if g.publisher != nil {
		ev := shared.NewEnrolmentStatusChangedEvent(
			e.ID, e.UserID, e.LOID, e.ParentLOID, e.TakenPortalID,
			string(e.Status), string(original), enrolment.ActionInvalidPendingDependent,
		)
		if err := g.publisher.Publish(ev); err != nil {
			g.logger.Error("failed to publish enable event", "enrolment_id", e.ID, "error", err)
		}
	}
	return nil
}

// DependenciesCompleted reports whether every prerequisite module of
// moduleID has a completed enrolment for the learner that owns e. A
// prerequisite with no enrolment at all counts as unsatisfied.
func (g *DependencyGate) DependenciesCompleted(ctx context.Context, moduleID string, e *enrolment.Enrolment) (bool, error) {
	prereqs, err := g.resolver.PrerequisitesOf(ctx, moduleID)
	if err != nil {
		return false, err
	}
	for _, prereqID := range prereqs {
		pe, err := g.store.LoadByLOAndUser(ctx, prereqID, e.UserID, e.TakenPortalID)
		if err != nil {
			if shared.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		if !pe.IsCompleted() {
			return false, nil
		}
	}
	return true, nil
}
