// Package content models the learning-content hierarchy: courses contain
// modules, modules contain items, sibling modules can declare dependency
// edges, and nodes can carry suggested-completion rules. The hierarchy is
// materialized as an explicit in-memory graph built once per resolution or
// reconciliation call, so the engines never re-query per recursion step
// and can be tested against fixture graphs.
package content

import (
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// EDGES
// ══════════════════════════════════════════════════════════════════════════════

// EdgeType identifies the relationship an edge expresses.
type EdgeType string

const (
	// EdgeHasModule links a course to a module it contains.
	EdgeHasModule EdgeType = "has-module"
	// EdgeHasItem links a module to a learning item it contains.
	EdgeHasItem EdgeType = "has-item"
	// EdgeModuleDependency declares a prerequisite between sibling modules:
	// From depends on To.
	EdgeModuleDependency EdgeType = "module-dependency"
	// EdgeSuggestedCompletion attaches a completion rule to a node. When
	// scoped to a has-item occurrence it overrides the node-global rule.
	EdgeSuggestedCompletion EdgeType = "has-suggested-completion"
)

// Edge is a directed, typed edge between two content nodes. Rule is set
// only for EdgeSuggestedCompletion edges.
type Edge struct {
	ID   string
	Type EdgeType
	From string
	To   string

	// Rule carries the completion-rule payload on suggested-completion
	// edges. ScopedParentID restricts the rule to the occurrence of node
	// To under that specific parent, for single-item content reused
	// across modules.
	Rule           *CompletionRule
	ScopedParentID string
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION RULES
// ══════════════════════════════════════════════════════════════════════════════

// RuleType identifies how a completion due date is derived.
type RuleType string

const (
	// RuleFixedDate resolves to a literal date.
	RuleFixedDate RuleType = "fixed-due-date"
	// RuleSinceEnrolmentStart adds an interval to the enrolment's own start.
	RuleSinceEnrolmentStart RuleType = "duration-since-enrolment-start"
	// RuleSinceParentEnrolmentStart anchors on the parent enrolment,
	// composing recursively when the parent has a rule of its own.
	RuleSinceParentEnrolmentStart RuleType = "duration-since-parent-enrolment-start"
	// RuleSinceCourseEnrolmentStart anchors on the top-level course enrolment.
	RuleSinceCourseEnrolmentStart RuleType = "duration-since-course-enrolment-start"
)

// Known reports whether the rule type is one of the defined values.
// Unknown types signal corrupt rule definitions, not transient faults.
func (t RuleType) Known() bool {
	switch t {
	case RuleFixedDate, RuleSinceEnrolmentStart, RuleSinceParentEnrolmentStart, RuleSinceCourseEnrolmentStart:
		return true
	}
	return false
}

// CompletionRule is the declarative due-date definition attached to a
// node. EntityType/EntityID identify what a resulting Plan is keyed on:
// the suggested-completion edge when the rule is occurrence-scoped, the
// node itself otherwise.
type CompletionRule struct {
	Type       RuleType
	Value      string // literal date or interval phrase, e.g. "3 days"
	EntityType string // "ro" (edge occurrence) or "lo" (node)
	EntityID   string
}

// Plan entity types used by CompletionRule and the due-date resolver.
const (
	EntityTypeEdge = "ro"
	EntityTypeNode = "lo"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRAPH
// ══════════════════════════════════════════════════════════════════════════════

// Graph is an adjacency-map view over one course's content subtree plus
// its dependency and rule edges. It is immutable after Build.
type Graph struct {
	courseID string

	modulesByCourse map[string][]string // courseID -> module IDs
	itemsByModule   map[string][]string // moduleID -> item IDs
	moduleOfItem    map[string][]string // itemID -> module IDs (reused items have several)
	dependsOn       map[string][]string // moduleID -> prerequisite module IDs
	dependents      map[string][]string // moduleID -> modules that require it

	// rules key: nodeID, plus nodeID+"\x00"+scopedParentID for scoped rules.
	rules map[string]*CompletionRule

	singleItem map[string]bool
}

// Build constructs a Graph from a set of edges for one course.
func Build(courseID string, edges []Edge) *Graph {
	g := &Graph{
		courseID:        courseID,
		modulesByCourse: make(map[string][]string),
		itemsByModule:   make(map[string][]string),
		moduleOfItem:    make(map[string][]string),
		dependsOn:       make(map[string][]string),
		dependents:      make(map[string][]string),
		rules:           make(map[string]*CompletionRule),
		singleItem:      make(map[string]bool),
	}
	for i := range edges {
		e := edges[i]
		switch e.Type {
		case EdgeHasModule:
			g.modulesByCourse[e.From] = append(g.modulesByCourse[e.From], e.To)
		case EdgeHasItem:
			g.itemsByModule[e.From] = append(g.itemsByModule[e.From], e.To)
			g.moduleOfItem[e.To] = append(g.moduleOfItem[e.To], e.From)
		case EdgeModuleDependency:
			g.dependsOn[e.From] = append(g.dependsOn[e.From], e.To)
			g.dependents[e.To] = append(g.dependents[e.To], e.From)
		case EdgeSuggestedCompletion:
			if e.Rule != nil {
				rule := *e.Rule
				if rule.EntityID == "" {
					if e.ScopedParentID != "" {
						rule.EntityType = EntityTypeEdge
						rule.EntityID = e.ID
					} else {
						rule.EntityType = EntityTypeNode
						rule.EntityID = e.To
					}
				}
				g.rules[ruleKey(e.To, e.ScopedParentID)] = &rule
			}
		}
	}
	// Stable iteration order for deterministic fan-out and tests.
	for _, m := range g.modulesByCourse {
		sort.Strings(m)
	}
	for _, it := range g.itemsByModule {
		sort.Strings(it)
	}
	for _, d := range g.dependents {
		sort.Strings(d)
	}
	return g
}

func ruleKey(nodeID, scopedParentID string) string {
	if scopedParentID == "" {
		return nodeID
	}
	return nodeID + "\x00" + scopedParentID
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the serializable form of one course's graph inputs, used
// by caches that hold course structure across process boundaries.
type Snapshot struct {
	CourseID      string   `json:"course_id"`
	Edges         []Edge   `json:"edges"`
	SingleItemIDs []string `json:"single_item_ids,omitempty"`
}

// Build materializes the snapshot into a Graph.
func (s *Snapshot) Build() *Graph {
	g := Build(s.CourseID, s.Edges)
	for _, id := range s.SingleItemIDs {
		g.MarkSingleItem(id)
	}
	return g
}

// CourseID returns the course this graph was built for.
func (g *Graph) CourseID() string {
	return g.courseID
}

// ModuleIDs returns the modules belonging to the given course.
func (g *Graph) ModuleIDs(courseID string) []string {
	return g.modulesByCourse[courseID]
}

// ItemIDs returns the items belonging to the given module.
func (g *Graph) ItemIDs(moduleID string) []string {
	return g.itemsByModule[moduleID]
}

// IsModule reports whether the node is a module of this graph's course.
func (g *Graph) IsModule(nodeID string) bool {
	for _, m := range g.modulesByCourse[g.courseID] {
		if m == nodeID {
			return true
		}
	}
	return false
}

// Dependents returns the modules that declare moduleID as a prerequisite.
func (g *Graph) Dependents(moduleID string) []string {
	return g.dependents[moduleID]
}

// Prerequisites returns the modules the given module depends on.
func (g *Graph) Prerequisites(moduleID string) []string {
	return g.dependsOn[moduleID]
}

// ModulesOf returns the modules that currently contain the given item.
func (g *Graph) ModulesOf(itemID string) []string {
	return g.moduleOfItem[itemID]
}

// CompletionRule returns the rule attached to nodeID, preferring a rule
// scoped to the occurrence under scopedParentID over the node-global
// rule. Returns nil when no rule applies.
func (g *Graph) CompletionRule(nodeID, scopedParentID string) *CompletionRule {
	if scopedParentID != "" {
		if r, ok := g.rules[ruleKey(nodeID, scopedParentID)]; ok {
			return r
		}
	}
	return g.rules[nodeID]
}

// MarkSingleItem flags a node as directly-enrollable single-item content
// (no module wrapper). Such enrolments are exempt from misplacement
// repair.
func (g *Graph) MarkSingleItem(nodeID string) {
	g.singleItem[nodeID] = true
}

// IsSingleItem reports whether the node is single-item content.
func (g *Graph) IsSingleItem(nodeID string) bool {
	return g.singleItem[nodeID]
}
