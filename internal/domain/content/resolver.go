package content

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER INTERFACE
// Read-only view over the content graph, answering structural questions
// for the engines. Implementations live in infrastructure/persistence;
// tests use fixture graphs directly.
// ══════════════════════════════════════════════════════════════════════════════

// Resolver answers hierarchy questions against current content state.
type Resolver interface {
	// CourseGraph builds the adjacency snapshot for one course, including
	// its dependency and suggested-completion edges.
	// Returns shared.ErrNodeNotFound when the course does not exist.
	CourseGraph(ctx context.Context, courseID string) (*Graph, error)

	// ModuleIDsOf returns the modules belonging to a course.
	ModuleIDsOf(ctx context.Context, courseID string) ([]string, error)

	// ItemIDsOf returns the items belonging to a module.
	// Returns shared.ErrNotAModule when the node exists but is not a module.
	ItemIDsOf(ctx context.Context, moduleID string) ([]string, error)

	// DependentsOf returns the modules that declare moduleID as a
	// prerequisite.
	DependentsOf(ctx context.Context, moduleID string) ([]string, error)

	// PrerequisitesOf returns the modules the given module depends on.
	PrerequisitesOf(ctx context.Context, moduleID string) ([]string, error)

	// IsModule reports whether the node exists and is a module.
	IsModule(ctx context.Context, nodeID string) (bool, error)

	// IsSingleItem reports whether the node is directly-enrollable
	// single-item content with no module wrapper.
	IsSingleItem(ctx context.Context, nodeID string) (bool, error)

	// CompletionRuleOf returns the completion rule for a node, preferring
	// an occurrence-scoped rule under scopedParentID. Returns nil, nil
	// when no rule is attached.
	CompletionRuleOf(ctx context.Context, nodeID, scopedParentID string) (*CompletionRule, error)
}
