// Package enrolment contains the enrolment aggregate: a record of one
// learner's engagement with one content node, including its typed
// transition history and the parent linkage that ties it into the
// content hierarchy.
package enrolment

import (
	"time"

	"github.com/google/uuid"

	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status represents the lifecycle status of an enrolment.
type Status string

const (
	// StatusNotStarted means the enrolment exists but the learner has not begun.
	StatusNotStarted Status = "not-started"
	// StatusPending means the enrolment is gated behind unmet module dependencies.
	StatusPending Status = "pending"
	// StatusInProgress means the learner is actively working on the node.
	StatusInProgress Status = "in-progress"
	// StatusCompleted means the node is done.
	StatusCompleted Status = "completed"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// rank orders statuses for the no-regression rule. Archived/deleted is an
// orthogonal marker, not a status.
func (s Status) rank() int {
	switch s {
	case StatusNotStarted:
		return 0
	case StatusPending:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// AtLeast reports whether s is at or beyond other in the lifecycle order.
func (s Status) AtLeast(other Status) bool {
	return s.rank() >= other.rank()
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTION TAGS
// ══════════════════════════════════════════════════════════════════════════════

// Action tags recorded in the transition history. They identify which
// mechanism performed a transition so converged state stays auditable.
const (
	ActionEnrol                   = "enrol"
	ActionReEnrol                 = "re-enrol"
	ActionUpdateParentEnrolment   = "update-parent-enrolment"
	ActionInvalidPendingDependent = "invalid-pending-dependent-enrolment"
	ActionStructureReparent       = "structure-reparent"
	ActionStructureArchiveOrphan  = "structure-archive-orphan"
	ActionStructureArchiveDup     = "structure-archive-duplicate"
	ActionAdminRevision           = "admin-revision"
)

// SystemActorID identifies transitions performed by the engine itself
// rather than a person.
const SystemActorID = "system"

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// TransitionRecord is one entry of the append-only history log kept on
// every enrolment. Old/new pass are pointers because pass is tri-state.
type TransitionRecord struct {
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	OldPass   *bool     `json:"old_pass,omitempty"`
	NewPass   *bool     `json:"new_pass,omitempty"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}

// TransitionContext carries who performed a transition and why.
type TransitionContext struct {
	Action  string
	ActorID string
	Note    string
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLMENT
// ══════════════════════════════════════════════════════════════════════════════

// Enrolment tracks a learner's engagement with one content node.
// At most one non-archived enrolment exists per (UserID, LOID,
// TakenPortalID); superseded records are kept as archived revisions.
type Enrolment struct {
	ID        string
	UserID    string
	ProfileID string

	// LOID is the content node this enrolment tracks. ParentLOID and
	// ParentEnrolmentID point at the immediate ancestor; both are empty
	// for root enrolments and for directly-enrolled single-item content.
	LOID              string
	ParentLOID        string
	ParentEnrolmentID string

	TakenPortalID string

	Status   Status
	Archived bool

	Pass   *bool
	Result *float64

	StartDate *time.Time
	EndDate   *time.Time
	DueDate   *time.Time

	History []TransitionRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a new active enrolment for the given learner and node.
func New(userID, profileID, loID, portalID string) (*Enrolment, error) {
	if userID == "" || loID == "" || portalID == "" {
		return nil, shared.NewDomainError("enrolment", "New", shared.ErrEmptyValue, "user, node and portal are required")
	}
	now := time.Now().UTC()
	e := &Enrolment{
		ID:            uuid.NewString(),
		UserID:        userID,
		ProfileID:     profileID,
		LOID:          loID,
		TakenPortalID: portalID,
		Status:        StatusNotStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.appendHistory(TransitionRecord{
		Action:    ActionEnrol,
		ActorID:   SystemActorID,
		OldStatus: "",
		NewStatus: StatusNotStarted,
		At:        now,
	})
	return e, nil
}

// WithParent sets the parent linkage. The caller guarantees that
// parentEnrolment tracks parentLOID for the same user and portal.
func (e *Enrolment) WithParent(parentLOID, parentEnrolmentID string) *Enrolment {
	e.ParentLOID = parentLOID
	e.ParentEnrolmentID = parentEnrolmentID
	return e
}

// IsRoot reports whether the enrolment has no ancestor.
func (e *Enrolment) IsRoot() bool {
	return e.ParentEnrolmentID == ""
}

// IsActive reports whether the enrolment participates in completion
// predicates: not archived.
func (e *Enrolment) IsActive() bool {
	return !e.Archived
}

// IsCompleted reports whether the enrolment is completed and active.
func (e *Enrolment) IsCompleted() bool {
	return e.Status == StatusCompleted && !e.Archived
}

// Transition moves the enrolment to a new status, appending a history
// record. Automatic transitions (system actor) never regress status;
// administrative revisions may.
func (e *Enrolment) Transition(newStatus Status, tctx TransitionContext) error {
	if !newStatus.Valid() {
		return shared.ErrInvalidStatus
	}
	if e.Archived {
		return shared.ErrEnrolmentArchived
	}
	if e.Status == newStatus {
		// Already in target state: successful no-op under redelivery.
		return nil
	}
	if tctx.ActorID == SystemActorID && !newStatus.AtLeast(e.Status) {
		return shared.ErrStatusRegression
	}

	now := time.Now().UTC()
	e.appendHistory(TransitionRecord{
		Action:    tctx.Action,
		ActorID:   tctx.ActorID,
		OldStatus: e.Status,
		NewStatus: newStatus,
		OldPass:   e.Pass,
		NewPass:   e.Pass,
		Note:      tctx.Note,
		At:        now,
	})
	e.Status = newStatus
	e.UpdatedAt = now

	switch newStatus {
	case StatusInProgress:
		if e.StartDate == nil {
			e.StartDate = &now
		}
	case StatusCompleted:
		if e.EndDate == nil {
			e.EndDate = &now
		}
	}
	return nil
}

// Archive soft-deletes the enrolment, preserving it as a revision. The
// record keeps its status so history stays interpretable.
func (e *Enrolment) Archive(tctx TransitionContext) {
	if e.Archived {
		return
	}
	now := time.Now().UTC()
	e.appendHistory(TransitionRecord{
		Action:    tctx.Action,
		ActorID:   tctx.ActorID,
		OldStatus: e.Status,
		NewStatus: e.Status,
		Note:      tctx.Note,
		At:        now,
	})
	e.Archived = true
	e.UpdatedAt = now
}

// Reparent re-homes the enrolment under a new parent node/enrolment,
// appending an explanatory history record.
func (e *Enrolment) Reparent(parentLOID, parentEnrolmentID string, tctx TransitionContext) {
	now := time.Now().UTC()
	e.appendHistory(TransitionRecord{
		Action:    tctx.Action,
		ActorID:   tctx.ActorID,
		OldStatus: e.Status,
		NewStatus: e.Status,
		Note:      tctx.Note,
		At:        now,
	})
	e.ParentLOID = parentLOID
	e.ParentEnrolmentID = parentEnrolmentID
	e.UpdatedAt = now
}

// SetResult records a score and pass flag, appending history.
func (e *Enrolment) SetResult(result float64, pass bool, tctx TransitionContext) {
	now := time.Now().UTC()
	oldPass := e.Pass
	e.Pass = &pass
	e.Result = &result
	e.appendHistory(TransitionRecord{
		Action:    tctx.Action,
		ActorID:   tctx.ActorID,
		OldStatus: e.Status,
		NewStatus: e.Status,
		OldPass:   oldPass,
		NewPass:   e.Pass,
		Note:      tctx.Note,
		At:        now,
	})
	e.UpdatedAt = now
}

// ValidateParentLink checks the parent-linkage invariant against the
// given parent record: a nonzero ParentEnrolmentID must reference an
// enrolment on ParentLOID for the same user and portal.
func (e *Enrolment) ValidateParentLink(parent *Enrolment) error {
	if e.ParentEnrolmentID == "" {
		return nil
	}
	if parent == nil {
		return shared.ErrParentLinkMismatch
	}
	if parent.ID != e.ParentEnrolmentID ||
		parent.LOID != e.ParentLOID ||
		parent.UserID != e.UserID ||
		parent.TakenPortalID != e.TakenPortalID {
		return shared.ErrParentLinkMismatch
	}
	return nil
}

func (e *Enrolment) appendHistory(rec TransitionRecord) {
	e.History = append(e.History, rec)
}
