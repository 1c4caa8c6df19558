package postgres

import (
	"context"
	"fmt"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// HIERARCHY REPOSITORY IMPLEMENTATION
// Read-only view over content_nodes and content_edges, implementing
// content.Resolver. CourseGraph is the hot path: one query loads every
// edge of a course and the graph answers the rest in memory. The
// per-node methods query directly for callers that hold no graph.
// ══════════════════════════════════════════════════════════════════════════════

// Node types stored in content_nodes.
const (
	nodeTypeCourse     = "course"
	nodeTypeModule     = "module"
	nodeTypeItem       = "item"
	nodeTypeSingleItem = "single-item"
)

// HierarchyRepository implements content.Resolver for PostgreSQL.
type HierarchyRepository struct {
	conn *Connection
}

// NewHierarchyRepository creates a new HierarchyRepository.
func NewHierarchyRepository(conn *Connection) *HierarchyRepository {
	return &HierarchyRepository{conn: conn}
}

// CourseGraph builds the adjacency snapshot for one course.
func (r *HierarchyRepository) CourseGraph(ctx context.Context, courseID string) (*content.Graph, error) {
	snapshot, err := r.CourseSnapshot(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return snapshot.Build(), nil
}

// CourseSnapshot loads the serializable graph inputs for one course:
// every edge plus the single-item nodes it reuses. Caches store the
// snapshot and rebuild the graph on read.
func (r *HierarchyRepository) CourseSnapshot(ctx context.Context, courseID string) (*content.Snapshot, error) {
	nodeType, err := r.nodeType(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if nodeType != nodeTypeCourse {
		return nil, shared.NewDomainError("content", "CourseSnapshot", shared.ErrNodeNotFound,
			fmt.Sprintf("node %s is not a course", courseID))
	}

	edges, err := r.courseEdges(ctx, courseID)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, `
		SELECT DISTINCT n.id
		FROM content_nodes n
		JOIN content_edges e ON e.to_id = n.id
		WHERE e.course_id = $1 AND n.node_type = $2
	`, courseID, nodeTypeSingleItem)
	if err != nil {
		return nil, fmt.Errorf("failed to query single-item nodes: %w", err)
	}
	defer rows.Close()

	singleItems, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan single-item nodes: %w", err)
	}

	return &content.Snapshot{
		CourseID:      courseID,
		Edges:         edges,
		SingleItemIDs: singleItems,
	}, nil
}

// ModuleIDsOf returns the modules belonging to a course.
func (r *HierarchyRepository) ModuleIDsOf(ctx context.Context, courseID string) ([]string, error) {
	return r.edgeTargets(ctx, courseID, content.EdgeHasModule)
}

// ItemIDsOf returns the items belonging to a module.
func (r *HierarchyRepository) ItemIDsOf(ctx context.Context, moduleID string) ([]string, error) {
	nodeType, err := r.nodeType(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if nodeType != nodeTypeModule {
		return nil, shared.NewDomainError("content", "ItemIDsOf", shared.ErrNotAModule,
			fmt.Sprintf("node %s has type %s", moduleID, nodeType))
	}
	return r.edgeTargets(ctx, moduleID, content.EdgeHasItem)
}

// DependentsOf returns the modules that declare moduleID as a prerequisite.
func (r *HierarchyRepository) DependentsOf(ctx context.Context, moduleID string) ([]string, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT from_id FROM content_edges
		WHERE to_id = $1 AND edge_type = $2
		ORDER BY from_id ASC
	`, moduleID, string(content.EdgeModuleDependency))
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// PrerequisitesOf returns the modules the given module depends on.
func (r *HierarchyRepository) PrerequisitesOf(ctx context.Context, moduleID string) ([]string, error) {
	return r.edgeTargets(ctx, moduleID, content.EdgeModuleDependency)
}

// IsModule reports whether the node exists and is a module.
func (r *HierarchyRepository) IsModule(ctx context.Context, nodeID string) (bool, error) {
	nodeType, err := r.nodeType(ctx, nodeID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return nodeType == nodeTypeModule, nil
}

// IsSingleItem reports whether the node is directly-enrollable
// single-item content.
func (r *HierarchyRepository) IsSingleItem(ctx context.Context, nodeID string) (bool, error) {
	nodeType, err := r.nodeType(ctx, nodeID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return nodeType == nodeTypeSingleItem, nil
}

// CompletionRuleOf returns the completion rule for a node, preferring an
// occurrence-scoped rule under scopedParentID.
func (r *HierarchyRepository) CompletionRuleOf(ctx context.Context, nodeID, scopedParentID string) (*content.CompletionRule, error) {
	if scopedParentID != "" {
		rule, err := r.loadRule(ctx, nodeID, scopedParentID)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}
	return r.loadRule(ctx, nodeID, "")
}

// ListCourseIDs returns every course node, for the periodic
// reconciliation sweep.
func (r *HierarchyRepository) ListCourseIDs(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT id FROM content_nodes WHERE node_type = $1 ORDER BY id ASC",
		nodeTypeCourse,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// nodeType returns the node's type, or shared.ErrNodeNotFound.
func (r *HierarchyRepository) nodeType(ctx context.Context, nodeID string) (string, error) {
	var nodeType string
	err := r.conn.QueryRow(ctx,
		"SELECT node_type FROM content_nodes WHERE id = $1",
		nodeID,
	).Scan(&nodeType)

	if IsNoRows(err) {
		return "", shared.ErrNodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query node type: %w", err)
	}
	return nodeType, nil
}

// courseEdges loads every edge of one course.
func (r *HierarchyRepository) courseEdges(ctx context.Context, courseID string) ([]content.Edge, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, edge_type, from_id, to_id, scoped_parent_id,
			   COALESCE(rule_type, ''), COALESCE(rule_value, '')
		FROM content_edges
		WHERE course_id = $1
		ORDER BY id ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query course edges: %w", err)
	}
	defer rows.Close()

	var edges []content.Edge
	for rows.Next() {
		var e content.Edge
		var edgeType, ruleType, ruleValue string

		err := rows.Scan(&e.ID, &edgeType, &e.From, &e.To, &e.ScopedParentID, &ruleType, &ruleValue)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content edge: %w", err)
		}

		e.Type = content.EdgeType(edgeType)
		if e.Type == content.EdgeSuggestedCompletion && ruleType != "" {
			e.Rule = &content.CompletionRule{
				Type:  content.RuleType(ruleType),
				Value: ruleValue,
			}
		}

		edges = append(edges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return edges, nil
}

// edgeTargets returns the to_id of every edge of the given type leaving
// fromID, in stable order.
func (r *HierarchyRepository) edgeTargets(ctx context.Context, fromID string, edgeType content.EdgeType) ([]string, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT to_id FROM content_edges
		WHERE from_id = $1 AND edge_type = $2
		ORDER BY to_id ASC
	`, fromID, string(edgeType))
	if err != nil {
		return nil, fmt.Errorf("failed to query edge targets: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// loadRule returns the suggested-completion rule on nodeID for the given
// scope, or nil when none is attached.
func (r *HierarchyRepository) loadRule(ctx context.Context, nodeID, scopedParentID string) (*content.CompletionRule, error) {
	var edgeID, ruleType, ruleValue string
	err := r.conn.QueryRow(ctx, `
		SELECT id, COALESCE(rule_type, ''), COALESCE(rule_value, '')
		FROM content_edges
		WHERE to_id = $1 AND edge_type = $2 AND scoped_parent_id = $3
		ORDER BY id ASC
		LIMIT 1
	`, nodeID, string(content.EdgeSuggestedCompletion), scopedParentID).Scan(&edgeID, &ruleType, &ruleValue)

	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query completion rule: %w", err)
	}
	if ruleType == "" {
		return nil, nil
	}

	rule := &content.CompletionRule{
		Type:  content.RuleType(ruleType),
		Value: ruleValue,
	}
	// Scoped rules key resulting plans on the occurrence edge, global
	// rules on the node itself.
	if scopedParentID != "" {
		rule.EntityType = content.EntityTypeEdge
		rule.EntityID = edgeID
	} else {
		rule.EntityType = content.EntityTypeNode
		rule.EntityID = nodeID
	}

	return rule, nil
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
