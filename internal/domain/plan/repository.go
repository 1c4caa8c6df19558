package plan

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store defines the persistence contract for plans and their enrolment
// links. All mutating operations are idempotent: merge-create-or-update
// and link-or-skip.
type Store interface {
	// Load returns a plan by ID, or shared.ErrPlanNotFound.
	Load(ctx context.Context, id string) (*Plan, error)

	// FindByEntity returns the plan for (entityType, entityID, userID),
	// or shared.ErrPlanNotFound.
	FindByEntity(ctx context.Context, entityType, entityID, userID string) (*Plan, error)

	// MergeCreate creates the plan if no record exists for its
	// (EntityType, EntityID, UserID) key, otherwise merges the due date
	// into the existing record. Returns the stored plan.
	MergeCreate(ctx context.Context, p *Plan) (*Plan, error)

	// LinkEnrolment associates a plan with an enrolment. Creating a link
	// that already exists is a successful no-op.
	LinkEnrolment(ctx context.Context, planID, enrolmentID string) error

	// UnlinkEnrolment removes the association if present.
	UnlinkEnrolment(ctx context.Context, planID, enrolmentID string) error

	// FoundLink reports whether the association exists.
	FoundLink(ctx context.Context, planID, enrolmentID string) (bool, error)
}
