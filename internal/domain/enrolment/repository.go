package enrolment

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// The enrolment store is the single source of truth. All engines read
// then conditionally write against it; no cross-enrolment locks are
// taken. Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ListOptions controls pagination of list queries. Sweep jobs use the
// offset to walk the table in bounded batches.
type ListOptions struct {
	Limit  int
	Offset int
}

// MisplacedRef describes an item enrolment whose parent link no longer
// matches the current hierarchy: LOID is one of the module's items but
// ParentLOID differs from the module.
type MisplacedRef struct {
	EnrolmentID string
	UserID      string
	LOID        string
	ParentLOID  string
}

// Store defines the persistence contract consumed by the engines.
type Store interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Core reads
	// ─────────────────────────────────────────────────────────────────────────

	// Load returns an enrolment by ID.
	// Returns shared.ErrEnrolmentNotFound if it does not exist.
	Load(ctx context.Context, id string) (*Enrolment, error)

	// LoadByLOAndUser returns the active (non-archived) enrolment for the
	// given node, learner and portal, or shared.ErrEnrolmentNotFound.
	LoadByLOAndUser(ctx context.Context, loID, userID, portalID string) (*Enrolment, error)

	// ParentEnrolment returns the parent enrolment of e, or nil when e is
	// a root enrolment.
	ParentEnrolment(ctx context.Context, e *Enrolment) (*Enrolment, error)

	// LoadByParentAndLO returns the active enrolment on the given node
	// whose parent is the given enrolment, or shared.ErrEnrolmentNotFound.
	// Unlike LoadByLOAndUser this stays unambiguous while structural
	// repair briefly holds two active records for the same node.
	LoadByParentAndLO(ctx context.Context, parentEnrolmentID, loID string) (*Enrolment, error)

	// ChildrenCompleted reports whether every active, non-archived
	// enrolment whose parent is e is completed. A parent with zero active
	// children is vacuously true; callers guard against auto-completing
	// from that alone. Computed fresh from current state, never from
	// counters.
	ChildrenCompleted(ctx context.Context, e *Enrolment) (bool, error)

	// ActiveChildCount returns the number of active children under e.
	ActiveChildCount(ctx context.Context, e *Enrolment) (int, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Writes
	// ─────────────────────────────────────────────────────────────────────────

	// Create persists a new enrolment. Returns
	// shared.ErrEnrolmentAlreadyExists when an active enrolment for the
	// same (user, node, portal) triple exists.
	Create(ctx context.Context, e *Enrolment) error

	// ChangeStatus transitions an enrolment and appends history in a
	// single conditional row update. Transitioning to the current status
	// is a successful no-op.
	ChangeStatus(ctx context.Context, e *Enrolment, newStatus Status, tctx TransitionContext) error

	// Update persists field changes on an existing enrolment, including
	// any history entries appended since it was loaded.
	Update(ctx context.Context, e *Enrolment) error

	// DeleteEnrolment archives an enrolment as a revision (soft delete).
	DeleteEnrolment(ctx context.Context, e *Enrolment, actorID string, tctx TransitionContext) error

	// ─────────────────────────────────────────────────────────────────────────
	// Dependency gate queries
	// ─────────────────────────────────────────────────────────────────────────

	// ListPendingByModule returns the IDs of pending, active enrolments
	// owned by the user anywhere under the given module (the module
	// enrolment itself and per-item enrolments), across portals.
	ListPendingByModule(ctx context.Context, moduleID, userID string) ([]string, error)

	// ListPending returns pending active enrolments in stable order for
	// the enable-pending sweep.
	ListPending(ctx context.Context, opts ListOptions) ([]*Enrolment, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Structural reconciliation queries (bounded)
	// ─────────────────────────────────────────────────────────────────────────

	// FindMisplaced returns up to limit item enrolments whose LOID is in
	// itemIDs but whose ParentLOID is not moduleID.
	FindMisplaced(ctx context.Context, moduleID string, itemIDs []string, limit int) ([]MisplacedRef, error)

	// FindOrphans returns up to limit enrolments whose ParentLOID is
	// moduleID but whose LOID is not in itemIDs (items removed from the
	// module).
	FindOrphans(ctx context.Context, moduleID string, itemIDs []string, limit int) ([]*Enrolment, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Due-date sweep queries
	// ─────────────────────────────────────────────────────────────────────────

	// ListDueBetween returns active, not-completed enrolments whose due
	// date falls in [from, to), paged for the check-expiring sweep.
	ListDueBetween(ctx context.Context, from, to time.Time, opts ListOptions) ([]*Enrolment, error)
}
