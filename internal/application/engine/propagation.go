// Package engine contains the consistency engines that keep derived
// enrolment state converged: ancestor completion cascade, cross-branch
// dependency gating, structural reconciliation after content edits, and
// completion due-date resolution.
//
// Every engine re-derives truth from current stored state rather than
// trusting message payloads, and treats "already in target state" as a
// successful no-op, so arbitrary reordering and at-least-once redelivery
// are safe.
package engine

import (
	"context"
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS PROPAGATION ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Propagator cascades completion state up the enrolment tree: when a
// child completes, its parent completes if and only if every active
// child of that parent is now completed, recursively toward the root.
type Propagator struct {
	store     enrolment.Store
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewPropagator creates a new Propagator.
func NewPropagator(store enrolment.Store, publisher shared.EventPublisher, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{
		store:     store,
		publisher: publisher,
		logger:    logger.With("engine", "propagator"),
	}
}

// OnChildCompleted checks whether the parent of the given enrolment
// should also complete, recursing toward the root. The children-completed
// predicate is computed fresh from current state on every call, which
// makes redelivery of the same completion signal a no-op.
func (p *Propagator) OnChildCompleted(ctx context.Context, child *enrolment.Enrolment) error {
	if child == nil || child.IsRoot() {
		return nil
	}

	parent, err := p.store.ParentEnrolment(ctx, child)
	if err != nil {
		if shared.IsBenign(err) {
			p.logger.Warn("parent enrolment missing, skipping cascade",
				"enrolment_id", child.ID,
				"parent_enrolment_id", child.ParentEnrolmentID,
			)
			return nil
		}
		return err
	}
	if parent == nil {
		return nil
	}
	return p.Recompute(ctx, parent)
}

// Recompute re-evaluates one parent enrolment against its current active
// children and completes it when they are all completed, then continues
// the cascade on the parent's own ancestor. Recursion terminates at the
// root or at the first ancestor not yet fully satisfied.
func (p *Propagator) Recompute(ctx context.Context, parent *enrolment.Enrolment) error {
	for parent != nil {
		if !parent.IsActive() {
			return nil
		}
		if parent.Status == enrolment.StatusCompleted {
			// Ancestor already converged; nothing above can change.
			return nil
		}

		count, err := p.store.ActiveChildCount(ctx, parent)
		if err != nil {
			return err
		}
		if count == 0 {
			// A node with zero children is vacuously "children completed"
			// but must not auto-complete from the cascade alone; it is
			// driven by direct status change instead.
			return nil
		}

		done, err := p.store.ChildrenCompleted(ctx, parent)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}

		original := parent.Status
		tctx := enrolment.TransitionContext{
			Action:  enrolment.ActionUpdateParentEnrolment,
			ActorID: enrolment.SystemActorID,
			Note:    "all active children completed",
		}
		if err := p.store.ChangeStatus(ctx, parent, enrolment.StatusCompleted, tctx); err != nil {
			if shared.IsBenign(err) {
				p.logger.Warn("parent transition skipped", "enrolment_id", parent.ID, "error", err)
				return nil
			}
			return err
		}

		p.logger.Info("parent enrolment completed by cascade",
			"enrolment_id", parent.ID,
			"lo_id", parent.LOID,
			"user_id", parent.UserID,
		)
		p.publish(parent, original)

		if parent.IsRoot() {
			return nil
		}
		grand, err := p.store.ParentEnrolment(ctx, parent)
		if err != nil {
			if shared.IsBenign(err) {
				return nil
			}
			return err
		}
		parent = grand
	}
	return nil
}

// publish emits the status-changed event for an ancestor transition so
// downstream consumers (the dependency gate in particular) observe
// cascade-driven module completions the same way as direct ones.
func (p *Propagator) publish(e *enrolment.Enrolment, original enrolment.Status) {
	if p.publisher == nil {
		return
	}
	ev := shared.NewEnrolmentStatusChangedEvent(
		e.ID, e.UserID, e.LOID, e.ParentLOID, e.TakenPortalID,
		string(e.Status), string(original), enrolment.ActionUpdateParentEnrolment,
	)
	if err := p.publisher.Publish(ev); err != nil {
		// The cron re-sweep converges state even if this event is lost.
		p.logger.Error("failed to publish cascade event", "enrolment_id", e.ID, "error", err)
	}
}
