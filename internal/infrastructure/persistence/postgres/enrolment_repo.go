package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const enrolmentColumns = `id, user_id, profile_id, lo_id, parent_lo_id, parent_enrolment_id,
	   taken_portal_id, status, archived, pass, result,
	   start_date, end_date, due_date, history, created_at, updated_at`

// EnrolmentRepository implements enrolment.Store for PostgreSQL.
type EnrolmentRepository struct {
	conn *Connection
}

// NewEnrolmentRepository creates a new EnrolmentRepository.
func NewEnrolmentRepository(conn *Connection) *EnrolmentRepository {
	return &EnrolmentRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Core reads
// ─────────────────────────────────────────────────────────────────────────────

// Load returns an enrolment by ID.
func (r *EnrolmentRepository) Load(ctx context.Context, id string) (*enrolment.Enrolment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolments WHERE id = $1`, enrolmentColumns)

	row := r.conn.QueryRow(ctx, query, id)
	return r.scanEnrolment(row)
}

// LoadByLOAndUser returns the active enrolment for (node, learner, portal).
// The oldest record wins when structural repair briefly holds two.
func (r *EnrolmentRepository) LoadByLOAndUser(ctx context.Context, loID, userID, portalID string) (*enrolment.Enrolment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM enrolments
		WHERE lo_id = $1 AND user_id = $2 AND taken_portal_id = $3 AND NOT archived
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, enrolmentColumns)

	row := r.conn.QueryRow(ctx, query, loID, userID, portalID)
	return r.scanEnrolment(row)
}

// ParentEnrolment returns the parent enrolment of e, or nil for roots.
func (r *EnrolmentRepository) ParentEnrolment(ctx context.Context, e *enrolment.Enrolment) (*enrolment.Enrolment, error) {
	if e.ParentEnrolmentID == "" {
		return nil, nil
	}
	return r.Load(ctx, e.ParentEnrolmentID)
}

// LoadByParentAndLO returns the active enrolment on the given node whose
// parent is the given enrolment.
func (r *EnrolmentRepository) LoadByParentAndLO(ctx context.Context, parentEnrolmentID, loID string) (*enrolment.Enrolment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM enrolments
		WHERE parent_enrolment_id = $1 AND lo_id = $2 AND NOT archived
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, enrolmentColumns)

	row := r.conn.QueryRow(ctx, query, parentEnrolmentID, loID)
	return r.scanEnrolment(row)
}

// ChildrenCompleted reports whether every active child of e is completed.
// Computed fresh against current rows, never from counters.
func (r *EnrolmentRepository) ChildrenCompleted(ctx context.Context, e *enrolment.Enrolment) (bool, error) {
	var incomplete bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM enrolments
			WHERE parent_enrolment_id = $1 AND NOT archived AND status <> 'completed'
		)
	`, e.ID).Scan(&incomplete)
	if err != nil {
		return false, fmt.Errorf("failed to check children completion: %w", err)
	}
	return !incomplete, nil
}

// ActiveChildCount returns the number of active children under e.
func (r *EnrolmentRepository) ActiveChildCount(ctx context.Context, e *enrolment.Enrolment) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM enrolments WHERE parent_enrolment_id = $1 AND NOT archived",
		e.ID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count children: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create persists a new enrolment. An active enrolment for the same
// (user, node, portal) triple rejects the insert.
func (r *EnrolmentRepository) Create(ctx context.Context, e *enrolment.Enrolment) error {
	historyJSON, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := `
		INSERT INTO enrolments (
			id, user_id, profile_id, lo_id, parent_lo_id, parent_enrolment_id,
			taken_portal_id, status, archived, pass, result,
			start_date, end_date, due_date, history, created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		WHERE NOT EXISTS (
			SELECT 1 FROM enrolments
			WHERE lo_id = $4 AND user_id = $2 AND taken_portal_id = $7
			  AND NOT archived
		)
	`

	tag, err := r.conn.Exec(ctx, query,
		e.ID,
		e.UserID,
		e.ProfileID,
		e.LOID,
		e.ParentLOID,
		e.ParentEnrolmentID,
		e.TakenPortalID,
		string(e.Status),
		e.Archived,
		e.Pass,
		e.Result,
		e.StartDate,
		e.EndDate,
		e.DueDate,
		historyJSON,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrEnrolmentAlreadyExists
		}
		return fmt.Errorf("failed to create enrolment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrEnrolmentAlreadyExists
	}

	return nil
}

// ChangeStatus transitions an enrolment and persists the result,
// including the appended history record. Transitioning to the current
// status is a successful no-op.
func (r *EnrolmentRepository) ChangeStatus(ctx context.Context, e *enrolment.Enrolment, newStatus enrolment.Status, tctx enrolment.TransitionContext) error {
	if err := e.Transition(newStatus, tctx); err != nil {
		return err
	}
	return r.Update(ctx, e)
}

// Update persists field changes on an existing enrolment.
func (r *EnrolmentRepository) Update(ctx context.Context, e *enrolment.Enrolment) error {
	historyJSON, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := `
		UPDATE enrolments SET
			parent_lo_id = $1,
			parent_enrolment_id = $2,
			status = $3,
			archived = $4,
			pass = $5,
			result = $6,
			start_date = $7,
			end_date = $8,
			due_date = $9,
			history = $10,
			updated_at = $11
		WHERE id = $12
	`

	result, err := r.conn.Exec(ctx, query,
		e.ParentLOID,
		e.ParentEnrolmentID,
		string(e.Status),
		e.Archived,
		e.Pass,
		e.Result,
		e.StartDate,
		e.EndDate,
		e.DueDate,
		historyJSON,
		time.Now().UTC(),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrolment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrEnrolmentNotFound
	}

	return nil
}

// DeleteEnrolment archives an enrolment as a revision (soft delete).
func (r *EnrolmentRepository) DeleteEnrolment(ctx context.Context, e *enrolment.Enrolment, actorID string, tctx enrolment.TransitionContext) error {
	e.Archive(tctx)
	return r.Update(ctx, e)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dependency gate queries
// ─────────────────────────────────────────────────────────────────────────────

// ListPendingByModule returns the IDs of the user's pending active
// enrolments on the module or any item under it, across portals.
func (r *EnrolmentRepository) ListPendingByModule(ctx context.Context, moduleID, userID string) ([]string, error) {
	query := `
		SELECT id FROM enrolments
		WHERE user_id = $1 AND status = 'pending' AND NOT archived
		  AND (lo_id = $2 OR parent_lo_id = $2)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.conn.Query(ctx, query, userID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending by module: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan enrolment id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListPending returns pending active enrolments in stable order for the
// enable-pending sweep.
func (r *EnrolmentRepository) ListPending(ctx context.Context, opts enrolment.ListOptions) ([]*enrolment.Enrolment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM enrolments
		WHERE status = 'pending' AND NOT archived
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`, enrolmentColumns)

	rows, err := r.conn.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending enrolments: %w", err)
	}
	defer rows.Close()

	return r.scanEnrolments(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Structural reconciliation queries
// ─────────────────────────────────────────────────────────────────────────────

// FindMisplaced returns up to limit item enrolments whose node is one of
// the module's items but whose parent node is not the module.
func (r *EnrolmentRepository) FindMisplaced(ctx context.Context, moduleID string, itemIDs []string, limit int) ([]enrolment.MisplacedRef, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, user_id, lo_id, parent_lo_id FROM enrolments
		WHERE lo_id = ANY($1) AND parent_lo_id <> $2 AND NOT archived
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`

	rows, err := r.conn.Query(ctx, query, itemIDs, moduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find misplaced enrolments: %w", err)
	}
	defer rows.Close()

	var refs []enrolment.MisplacedRef
	for rows.Next() {
		var ref enrolment.MisplacedRef
		if err := rows.Scan(&ref.EnrolmentID, &ref.UserID, &ref.LOID, &ref.ParentLOID); err != nil {
			return nil, fmt.Errorf("failed to scan misplaced ref: %w", err)
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// FindOrphans returns up to limit enrolments parented on the module whose
// node is no longer among its items.
func (r *EnrolmentRepository) FindOrphans(ctx context.Context, moduleID string, itemIDs []string, limit int) ([]*enrolment.Enrolment, error) {
	// A module stripped of all its items orphans every child. The empty
	// set needs its own query: a nil slice reaches Postgres as NULL and
	// ANY(NULL) makes the WHERE clause match nothing.
	if len(itemIDs) == 0 {
		query := fmt.Sprintf(`
			SELECT %s FROM enrolments
			WHERE parent_lo_id = $1 AND NOT archived
			ORDER BY created_at ASC, id ASC
			LIMIT $2
		`, enrolmentColumns)

		rows, err := r.conn.Query(ctx, query, moduleID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to find orphan enrolments: %w", err)
		}
		defer rows.Close()

		return r.scanEnrolments(rows)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM enrolments
		WHERE parent_lo_id = $1 AND NOT (lo_id = ANY($2)) AND NOT archived
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, enrolmentColumns)

	rows, err := r.conn.Query(ctx, query, moduleID, itemIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphan enrolments: %w", err)
	}
	defer rows.Close()

	return r.scanEnrolments(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Due-date sweep queries
// ─────────────────────────────────────────────────────────────────────────────

// ListDueBetween returns active, not-completed enrolments whose due date
// falls in [from, to).
func (r *EnrolmentRepository) ListDueBetween(ctx context.Context, from, to time.Time, opts enrolment.ListOptions) ([]*enrolment.Enrolment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM enrolments
		WHERE due_date >= $1 AND due_date < $2
		  AND status <> 'completed' AND NOT archived
		ORDER BY due_date ASC, id ASC
		LIMIT $3 OFFSET $4
	`, enrolmentColumns)

	rows, err := r.conn.Query(ctx, query, from, to, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list due enrolments: %w", err)
	}
	defer rows.Close()

	return r.scanEnrolments(rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanEnrolment scans a single enrolment from a row.
func (r *EnrolmentRepository) scanEnrolment(row pgx.Row) (*enrolment.Enrolment, error) {
	var e enrolment.Enrolment
	var status string
	var historyJSON []byte

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.ProfileID,
		&e.LOID,
		&e.ParentLOID,
		&e.ParentEnrolmentID,
		&e.TakenPortalID,
		&status,
		&e.Archived,
		&e.Pass,
		&e.Result,
		&e.StartDate,
		&e.EndDate,
		&e.DueDate,
		&historyJSON,
		&e.CreatedAt,
		&e.UpdatedAt,
	)

	if IsNoRows(err) {
		return nil, shared.ErrEnrolmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan enrolment: %w", err)
	}

	e.Status = enrolment.Status(status)
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &e.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}

	return &e, nil
}

// scanEnrolments scans multiple enrolments from rows.
func (r *EnrolmentRepository) scanEnrolments(rows pgx.Rows) ([]*enrolment.Enrolment, error) {
	var enrolments []*enrolment.Enrolment

	for rows.Next() {
		var e enrolment.Enrolment
		var status string
		var historyJSON []byte

		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.ProfileID,
			&e.LOID,
			&e.ParentLOID,
			&e.ParentEnrolmentID,
			&e.TakenPortalID,
			&status,
			&e.Archived,
			&e.Pass,
			&e.Result,
			&e.StartDate,
			&e.EndDate,
			&e.DueDate,
			&historyJSON,
			&e.CreatedAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrolment: %w", err)
		}

		e.Status = enrolment.Status(status)
		if len(historyJSON) > 0 {
			if err := json.Unmarshal(historyJSON, &e.History); err != nil {
				return nil, fmt.Errorf("failed to unmarshal history: %w", err)
			}
		}

		enrolments = append(enrolments, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return enrolments, nil
}
