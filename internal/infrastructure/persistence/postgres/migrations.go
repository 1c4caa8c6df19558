// Package postgres implements the PostgreSQL persistence layer.
package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_enrolments",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_content",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_plans",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE ENROLMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create enrolments table
-- Version: 001

CREATE TABLE IF NOT EXISTS enrolments (
    id UUID PRIMARY KEY,
    user_id VARCHAR(100) NOT NULL,
    profile_id VARCHAR(100) NOT NULL DEFAULT '',
    lo_id VARCHAR(100) NOT NULL,
    parent_lo_id VARCHAR(100) NOT NULL DEFAULT '',
    parent_enrolment_id VARCHAR(100) NOT NULL DEFAULT '',
    taken_portal_id VARCHAR(100) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'not-started',
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    pass BOOLEAN,
    result DOUBLE PRECISION,
    start_date TIMESTAMP WITH TIME ZONE,
    end_date TIMESTAMP WITH TIME ZONE,
    due_date TIMESTAMP WITH TIME ZONE,

    -- Append-only transition history, one JSON array per record
    history JSONB NOT NULL DEFAULT '[]'::jsonb,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_status CHECK (status IN ('not-started', 'pending', 'in-progress', 'completed'))
);

-- Dedup of active (user, lo, portal) is enforced by the application and
-- repaired by structural reconciliation; repair legitimately holds two
-- active records for the same node during a re-home, so no unique index.
CREATE INDEX IF NOT EXISTS idx_enrolments_lo_user ON enrolments(lo_id, user_id, taken_portal_id) WHERE NOT archived;
CREATE INDEX IF NOT EXISTS idx_enrolments_parent ON enrolments(parent_enrolment_id) WHERE NOT archived;
CREATE INDEX IF NOT EXISTS idx_enrolments_parent_lo ON enrolments(parent_lo_id) WHERE NOT archived;
CREATE INDEX IF NOT EXISTS idx_enrolments_pending ON enrolments(user_id) WHERE NOT archived AND status = 'pending';
CREATE INDEX IF NOT EXISTS idx_enrolments_due ON enrolments(due_date) WHERE NOT archived AND due_date IS NOT NULL;
`

const migration001Down = `
DROP TABLE IF EXISTS enrolments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE CONTENT
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create content nodes and edges
-- Version: 002

CREATE TABLE IF NOT EXISTS content_nodes (
    id VARCHAR(100) PRIMARY KEY,
    node_type VARCHAR(20) NOT NULL,
    title VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_node_type CHECK (node_type IN ('course', 'module', 'item', 'single-item'))
);

CREATE TABLE IF NOT EXISTS content_edges (
    id VARCHAR(100) PRIMARY KEY,
    edge_type VARCHAR(40) NOT NULL,
    from_id VARCHAR(100) NOT NULL,
    to_id VARCHAR(100) NOT NULL,

    -- Denormalized course scope so one query loads a whole course graph
    course_id VARCHAR(100) NOT NULL DEFAULT '',

    -- Suggested-completion payload; scoped_parent_id restricts the rule
    -- to one occurrence of to_id under that parent
    scoped_parent_id VARCHAR(100) NOT NULL DEFAULT '',
    rule_type VARCHAR(60),
    rule_value VARCHAR(100),

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_edge_type CHECK (edge_type IN ('has-module', 'has-item', 'module-dependency', 'has-suggested-completion'))
);

CREATE INDEX IF NOT EXISTS idx_content_edges_course ON content_edges(course_id);
CREATE INDEX IF NOT EXISTS idx_content_edges_from ON content_edges(from_id, edge_type);
CREATE INDEX IF NOT EXISTS idx_content_edges_to ON content_edges(to_id, edge_type);
`

const migration002Down = `
DROP TABLE IF EXISTS content_edges;
DROP TABLE IF EXISTS content_nodes;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE PLANS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create plans and enrolment links
-- Version: 003

CREATE TABLE IF NOT EXISTS plans (
    id UUID PRIMARY KEY,
    user_id VARCHAR(100) NOT NULL,
    instance_id VARCHAR(100) NOT NULL DEFAULT '',
    entity_type VARCHAR(10) NOT NULL,
    entity_id VARCHAR(100) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'open',
    due_date TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_plan_status CHECK (status IN ('open', 'met', 'overdue')),

    -- Plans are merged, not duplicated, per resolution target
    UNIQUE(entity_type, entity_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_plans_user ON plans(user_id);
CREATE INDEX IF NOT EXISTS idx_plans_due ON plans(due_date) WHERE due_date IS NOT NULL;

CREATE TABLE IF NOT EXISTS enrolment_plans (
    plan_id UUID NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    enrolment_id UUID NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (plan_id, enrolment_id)
);

CREATE INDEX IF NOT EXISTS idx_enrolment_plans_enrolment ON enrolment_plans(enrolment_id);
`

const migration003Down = `
DROP TABLE IF EXISTS enrolment_plans;
DROP TABLE IF EXISTS plans;
`
