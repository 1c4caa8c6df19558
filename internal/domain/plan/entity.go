// Package plan contains the scheduling Plan aggregate: an intended or
// assigned completion target, independent of any enrolment but linkable
// to enrolments through an association table.
package plan

import (
	"time"

	"github.com/google/uuid"

	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// Status represents the lifecycle status of a plan.
type Status string

const (
	// StatusOpen means the plan target has not been met.
	StatusOpen Status = "open"
	// StatusMet means the linked work completed before the due date.
	StatusMet Status = "met"
	// StatusOverdue means the due date passed without completion.
	StatusOverdue Status = "overdue"
)

// Plan is a scheduling record. Plans are merged, not duplicated, per
// (EntityType, EntityID, UserID): producers that resolve the same target
// for the same learner update the existing record.
type Plan struct {
	ID         string
	UserID     string
	InstanceID string // tenant/portal instance
	EntityType string // content.EntityTypeEdge or content.EntityTypeNode
	EntityID   string
	Status     Status
	DueDate    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a new open plan for the given target and learner.
func New(userID, instanceID, entityType, entityID string, dueDate *time.Time) (*Plan, error) {
	if userID == "" || entityID == "" {
		return nil, shared.NewDomainError("plan", "New", shared.ErrEmptyValue, "user and entity are required")
	}
	now := time.Now().UTC()
	return &Plan{
		ID:         uuid.NewString(),
		UserID:     userID,
		InstanceID: instanceID,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     StatusOpen,
		DueDate:    dueDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Merge folds a newly resolved due date into an existing plan. The
// earlier due date wins so a plan never silently loosens a deadline.
func (p *Plan) Merge(dueDate *time.Time) bool {
	if dueDate == nil {
		return false
	}
	if p.DueDate == nil || dueDate.Before(*p.DueDate) {
		p.DueDate = dueDate
		p.UpdatedAt = time.Now().UTC()
		return true
	}
	return false
}
