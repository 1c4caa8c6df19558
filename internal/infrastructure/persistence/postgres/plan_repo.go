package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/felipe0410/enrolment-sub004/internal/domain/plan"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PLAN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const planColumns = `id, user_id, instance_id, entity_type, entity_id, status, due_date, created_at, updated_at`

// PlanRepository implements plan.Store for PostgreSQL.
type PlanRepository struct {
	conn *Connection
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(conn *Connection) *PlanRepository {
	return &PlanRepository{conn: conn}
}

// Load returns a plan by ID.
func (r *PlanRepository) Load(ctx context.Context, id string) (*plan.Plan, error) {
	query := fmt.Sprintf(`SELECT %s FROM plans WHERE id = $1`, planColumns)

	row := r.conn.QueryRow(ctx, query, id)
	return r.scanPlan(row)
}

// FindByEntity returns the plan for (entityType, entityID, userID).
func (r *PlanRepository) FindByEntity(ctx context.Context, entityType, entityID, userID string) (*plan.Plan, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM plans
		WHERE entity_type = $1 AND entity_id = $2 AND user_id = $3
	`, planColumns)

	row := r.conn.QueryRow(ctx, query, entityType, entityID, userID)
	return r.scanPlan(row)
}

// MergeCreate creates the plan if no record exists for its
// (EntityType, EntityID, UserID) key, otherwise merges the due date into
// the existing record. The earlier due date wins so a plan never
// silently loosens a deadline. Returns the stored plan; callers compare
// IDs to detect whether a new record was created.
func (r *PlanRepository) MergeCreate(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	query := fmt.Sprintf(`
		INSERT INTO plans (id, user_id, instance_id, entity_type, entity_id, status, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_type, entity_id, user_id) DO UPDATE SET
			due_date = CASE
				WHEN EXCLUDED.due_date IS NOT NULL
				 AND (plans.due_date IS NULL OR EXCLUDED.due_date < plans.due_date)
				THEN EXCLUDED.due_date
				ELSE plans.due_date
			END,
			updated_at = CASE
				WHEN EXCLUDED.due_date IS NOT NULL
				 AND (plans.due_date IS NULL OR EXCLUDED.due_date < plans.due_date)
				THEN EXCLUDED.updated_at
				ELSE plans.updated_at
			END
		RETURNING %s
	`, planColumns)

	row := r.conn.QueryRow(ctx, query,
		p.ID,
		p.UserID,
		p.InstanceID,
		p.EntityType,
		p.EntityID,
		string(p.Status),
		p.DueDate,
		p.CreatedAt,
		p.UpdatedAt,
	)

	stored, err := r.scanPlan(row)
	if err != nil {
		return nil, fmt.Errorf("failed to merge-create plan: %w", err)
	}
	return stored, nil
}

// LinkEnrolment associates a plan with an enrolment. An existing link is
// a successful no-op.
func (r *PlanRepository) LinkEnrolment(ctx context.Context, planID, enrolmentID string) error {
	query := `
		INSERT INTO enrolment_plans (plan_id, enrolment_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (plan_id, enrolment_id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query, planID, enrolmentID, time.Now().UTC())
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrPlanNotFound
		}
		return fmt.Errorf("failed to link enrolment to plan: %w", err)
	}

	return nil
}

// UnlinkEnrolment removes the association if present.
func (r *PlanRepository) UnlinkEnrolment(ctx context.Context, planID, enrolmentID string) error {
	_, err := r.conn.Exec(ctx,
		"DELETE FROM enrolment_plans WHERE plan_id = $1 AND enrolment_id = $2",
		planID, enrolmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to unlink enrolment from plan: %w", err)
	}

	return nil
}

// FoundLink reports whether the association exists.
func (r *PlanRepository) FoundLink(ctx context.Context, planID, enrolmentID string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM enrolment_plans WHERE plan_id = $1 AND enrolment_id = $2)",
		planID, enrolmentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check plan link: %w", err)
	}
	return exists, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// scanPlan scans a single plan from a row.
func (r *PlanRepository) scanPlan(row pgx.Row) (*plan.Plan, error) {
	var p plan.Plan
	var status string

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.InstanceID,
		&p.EntityType,
		&p.EntityID,
		&status,
		&p.DueDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if IsNoRows(err) {
		return nil, shared.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}

	p.Status = plan.Status(status)
	return &p, nil
}
