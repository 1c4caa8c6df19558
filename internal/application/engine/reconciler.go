package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STRUCTURAL RECONCILER
// Repairs enrolment parent linkage after the content hierarchy itself is
// edited: items moved between modules leave misplaced enrolments, items
// detached leave orphans. Each pass is bounded and idempotent; the
// reconciler is designed to be invoked repeatedly (event-driven and via
// the periodic re-sweep) until no more invalid rows are found.
// ══════════════════════════════════════════════════════════════════════════════

// FixKind classifies one repair performed by a reconciliation pass.
type FixKind string

const (
	// FixReparent re-homed a misplaced item enrolment under its current module.
	FixReparent FixKind = "reparent"
	// FixCreateParent created a module enrolment to re-home an item under.
	FixCreateParent FixKind = "create-parent"
	// FixArchiveOrphan archived an enrolment whose item left its module.
	FixArchiveOrphan FixKind = "archive-orphan"
	// FixArchiveDuplicate archived an item enrolment that would duplicate
	// an established one under the item's current module.
	FixArchiveDuplicate FixKind = "archive-duplicate"
)

// FixAction records one repair for observability and tests.
type FixAction struct {
	Kind        FixKind
	EnrolmentID string
	LOID        string
	OldParentLO string
	NewParentLO string
}

// ReconcilerConfig contains tuning knobs for the reconciler.
type ReconcilerConfig struct {
	// BatchSize caps the number of invalid rows repaired per invocation.
	// The reconciler is re-invoked until a pass finds nothing.
	BatchSize int
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{BatchSize: 50}
}

// Reconciler detects and repairs enrolments whose parent linkage no
// longer matches the current content hierarchy.
type Reconciler struct {
	store      enrolment.Store
	resolver   content.Resolver
	propagator *Propagator
	logger     *slog.Logger
	config     ReconcilerConfig
}

// NewReconciler creates a new Reconciler.
func NewReconciler(
	store enrolment.Store,
	resolver content.Resolver,
	propagator *Propagator,
	logger *slog.Logger,
	config ReconcilerConfig,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReconcilerConfig().BatchSize
	}
	return &Reconciler{
		store:      store,
		resolver:   resolver,
		propagator: propagator,
		logger:     logger.With("engine", "reconciler"),
		config:     config,
	}
}

// Reconcile runs one bounded repair pass over a course and returns the
// fixes applied. Running it on an already-consistent course makes zero
// changes.
func (r *Reconciler) Reconcile(ctx context.Context, courseID string) ([]FixAction, error) {
	graph, err := r.resolver.CourseGraph(ctx, courseID)
	if err != nil {
		if shared.IsBenign(err) {
			r.logger.Warn("course vanished, dropping reconcile", "course_id", courseID)
			return nil, nil
		}
		return nil, err
	}

	fixes := make([]FixAction, 0)
	budget := r.config.BatchSize

	for _, moduleID := range graph.ModuleIDs(courseID) {
		if budget <= 0 {
			break
		}
		applied, err := r.repairMisplaced(ctx, graph, moduleID, budget)
		if err != nil {
			return fixes, err
		}
		fixes = append(fixes, applied...)
		budget -= len(applied)
	}

	for _, moduleID := range graph.ModuleIDs(courseID) {
		if budget <= 0 {
			break
		}
		applied, err := r.repairOrphans(ctx, graph, moduleID, budget)
		if err != nil {
			return fixes, err
		}
		fixes = append(fixes, applied...)
		budget -= len(applied)
	}

	if len(fixes) > 0 {
		r.logger.Info("reconciliation pass applied fixes",
			"course_id", courseID,
			"fixes", len(fixes),
		)
	}
	return fixes, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Misplaced items: lo_id is one of this module's items, parent_lo_id is not
// this module. Left behind when an item moved between modules.
// ─────────────────────────────────────────────────────────────────────────────

func (r *Reconciler) repairMisplaced(ctx context.Context, graph *content.Graph, moduleID string, limit int) ([]FixAction, error) {
	itemIDs := graph.ItemIDs(moduleID)
	if len(itemIDs) == 0 {
		return nil, nil
	}

	refs, err := r.store.FindMisplaced(ctx, moduleID, itemIDs, limit)
	if err != nil {
		return nil, err
	}

	fixes := make([]FixAction, 0, len(refs))
	for _, ref := range refs {
		// Single-item content directly enrolled has no module wrapper and
		// an empty parent; it is exempt from misplacement repair.
		single, err := r.resolver.IsSingleItem(ctx, ref.LOID)
		if err == nil && single {
			continue
		}
		if ref.ParentLOID == "" {
			continue
		}

		// An item can belong to several modules of the same course. A row
		// parented under any module that still contains the item is valid;
		// only rows whose parent lost the item are misplaced.
		if slices.Contains(graph.ModulesOf(ref.LOID), ref.ParentLOID) {
			continue
		}

		e, err := r.store.Load(ctx, ref.EnrolmentID)
		if err != nil {
			if shared.IsBenign(err) {
				continue
			}
			return fixes, err
		}
		if !e.IsActive() {
			continue
		}

		// Filter false positives: unrelated courses can share the same
		// item. Only enrolments whose root ancestor is this course are
		// genuinely misplaced here.
		under, err := r.underCourse(ctx, e, graph.CourseID())
		if err != nil {
			return fixes, err
		}
		if !under {
			continue
		}

		applied, err := r.rehome(ctx, e, moduleID)
		if err != nil {
			return fixes, err
		}
		fixes = append(fixes, applied...)
	}
	return fixes, nil
}

// rehome moves a misplaced item enrolment under its current module,
// creating or reusing a module enrolment for the learner and recomputing
// completion on both the parent that lost a child and the one that
// gained it.
func (r *Reconciler) rehome(ctx context.Context, e *enrolment.Enrolment, newModuleID string) ([]FixAction, error) {
	fixes := make([]FixAction, 0, 2)
	oldParentLO := e.ParentLOID

	newParent, err := r.store.LoadByLOAndUser(ctx, newModuleID, e.UserID, e.TakenPortalID)
	switch {
	case err == nil:
		// The learner already has an enrolment on the new module. If an
		// established enrolment for this item already sits under it, this
		// record is a duplicate: archive it and keep the richer history
		// on the established one.
		other, otherErr := r.store.LoadByParentAndLO(ctx, newParent.ID, e.LOID)
		if otherErr == nil && other.ID != e.ID {
			tctx := enrolment.TransitionContext{
				Action:  enrolment.ActionStructureArchiveDup,
				ActorID: enrolment.SystemActorID,
				Note:    fmt.Sprintf("duplicate of %s under module %s", other.ID, newModuleID),
			}
			if err := r.store.DeleteEnrolment(ctx, e, enrolment.SystemActorID, tctx); err != nil {
				return fixes, err
			}
			fixes = append(fixes, FixAction{
				Kind:        FixArchiveDuplicate,
				EnrolmentID: e.ID,
				LOID:        e.LOID,
				OldParentLO: oldParentLO,
				NewParentLO: newModuleID,
			})
			return fixes, nil
		}

	case shared.IsNotFound(err):
		// Clone the old module enrolment into one for the new module,
		// downgrading completed to in-progress since its set of children
		// is changing.
		oldParent, opErr := r.store.LoadByLOAndUser(ctx, oldParentLO, e.UserID, e.TakenPortalID)
		if opErr != nil {
			if shared.IsBenign(opErr) {
				r.logger.Warn("old module enrolment missing, cannot re-home",
					"enrolment_id", e.ID, "old_parent_lo", oldParentLO)
				return fixes, nil
			}
			return fixes, opErr
		}
		newParent, err = r.cloneModuleEnrolment(ctx, oldParent, newModuleID)
		if err != nil {
			return fixes, err
		}
		fixes = append(fixes, FixAction{
			Kind:        FixCreateParent,
			EnrolmentID: newParent.ID,
			LOID:        newModuleID,
		})

	default:
		return fixes, err
	}

	e.Reparent(newModuleID, newParent.ID, enrolment.TransitionContext{
		Action:  enrolment.ActionStructureReparent,
		ActorID: enrolment.SystemActorID,
		Note:    fmt.Sprintf("item moved from module %s to %s", oldParentLO, newModuleID),
	})
	if err := r.store.Update(ctx, e); err != nil {
		return fixes, err
	}
	fixes = append(fixes, FixAction{
		Kind:        FixReparent,
		EnrolmentID: e.ID,
		LOID:        e.LOID,
		OldParentLO: oldParentLO,
		NewParentLO: newModuleID,
	})

	// The old parent lost a child and the new parent gained one; both
	// completion states may have flipped.
	if err := r.recomputeByLO(ctx, oldParentLO, e.UserID, e.TakenPortalID); err != nil {
		return fixes, err
	}
	if err := r.propagator.Recompute(ctx, newParent); err != nil {
		return fixes, err
	}
	return fixes, nil
}

// cloneModuleEnrolment creates an enrolment on the new module mirroring
// the learner's enrolment on the old one.
func (r *Reconciler) cloneModuleEnrolment(ctx context.Context, oldParent *enrolment.Enrolment, newModuleID string) (*enrolment.Enrolment, error) {
	clone, err := enrolment.New(oldParent.UserID, oldParent.ProfileID, newModuleID, oldParent.TakenPortalID)
	if err != nil {
		return nil, err
	}
	clone.WithParent(oldParent.ParentLOID, oldParent.ParentEnrolmentID)

	status := oldParent.Status
	if status == enrolment.StatusCompleted {
		status = enrolment.StatusInProgress
	}
	if status != clone.Status {
		tctx := enrolment.TransitionContext{
			Action:  enrolment.ActionStructureReparent,
			ActorID: enrolment.SystemActorID,
			Note:    fmt.Sprintf("module enrolment created from %s during structural repair", oldParent.ID),
		}
		if err := clone.Transition(status, tctx); err != nil {
			return nil, err
		}
	}
	if err := r.store.Create(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Orphans: parent_lo_id is one of this course's modules but lo_id is no
// longer among that module's items. Left behind when an item was removed.
// ─────────────────────────────────────────────────────────────────────────────

func (r *Reconciler) repairOrphans(ctx context.Context, graph *content.Graph, moduleID string, limit int) ([]FixAction, error) {
	itemIDs := graph.ItemIDs(moduleID)

	orphans, err := r.store.FindOrphans(ctx, moduleID, itemIDs, limit)
	if err != nil {
		return nil, err
	}

	fixes := make([]FixAction, 0, len(orphans))
	for _, orphan := range orphans {
		if !orphan.IsActive() {
			continue
		}

		tctx := enrolment.TransitionContext{
			Action:  enrolment.ActionStructureArchiveOrphan,
			ActorID: enrolment.SystemActorID,
			Note:    fmt.Sprintf("item %s removed from module %s", orphan.LOID, moduleID),
		}
		if err := r.store.DeleteEnrolment(ctx, orphan, enrolment.SystemActorID, tctx); err != nil {
			return fixes, err
		}
		fixes = append(fixes, FixAction{
			Kind:        FixArchiveOrphan,
			EnrolmentID: orphan.ID,
			LOID:        orphan.LOID,
			OldParentLO: moduleID,
		})

		// Losing a child can flip a formerly-incomplete module to
		// complete, so recompute after the archive.
		if err := r.recomputeByLO(ctx, moduleID, orphan.UserID, orphan.TakenPortalID); err != nil {
			return fixes, err
		}
	}
	return fixes, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// underCourse walks the parent chain of e and reports whether its root
// ancestor tracks the given course.
func (r *Reconciler) underCourse(ctx context.Context, e *enrolment.Enrolment, courseID string) (bool, error) {
	current := e
	// Bounded walk: hierarchies are course -> module -> item, but stale
	// data could loop, so cap the depth.
	for depth := 0; depth < 16; depth++ {
		if current.IsRoot() {
			return current.LOID == courseID, nil
		}
		parent, err := r.store.ParentEnrolment(ctx, current)
		if err != nil {
			if shared.IsBenign(err) {
				return false, nil
			}
			return false, err
		}
		if parent == nil {
			return current.LOID == courseID, nil
		}
		current = parent
	}
	r.logger.Warn("parent chain too deep, treating as unrelated", "enrolment_id", e.ID)
	return false, nil
}

// recomputeByLO recomputes completion for the learner's enrolment on the
// given node, if one still exists.
func (r *Reconciler) recomputeByLO(ctx context.Context, loID, userID, portalID string) error {
	if loID == "" {
		return nil
	}
	parent, err := r.store.LoadByLOAndUser(ctx, loID, userID, portalID)
	if err != nil {
		if shared.IsBenign(err) {
			return nil
		}
		return err
	}
	return r.propagator.Recompute(ctx, parent)
}
