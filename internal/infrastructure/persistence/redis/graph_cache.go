package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRAPH CACHE
// Caching decorator around the hierarchy resolver. Whole-course graph
// loads are the hot path of every cascade, so their snapshots are kept
// in Redis under a short TTL; link-changed events invalidate eagerly,
// the TTL backstops missed invalidations. Per-node lookups stay
// uncached: they are single-row queries.
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotSource resolves hierarchy questions and additionally exposes
// the serializable course snapshot the cache stores.
type SnapshotSource interface {
	content.Resolver
	CourseSnapshot(ctx context.Context, courseID string) (*content.Snapshot, error)
}

// GraphCache implements content.Resolver with Redis-cached course graphs.
type GraphCache struct {
	source SnapshotSource
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewGraphCache creates a caching resolver over the given source.
func NewGraphCache(source SnapshotSource, cache *Cache, logger *slog.Logger) *GraphCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphCache{
		source: source,
		cache:  cache,
		ttl:    TTLGraphCache,
		logger: logger.With("component", "graph-cache"),
	}
}

// CourseGraph returns the cached graph for a course, loading and caching
// it on a miss. Cache failures degrade to direct loads.
func (g *GraphCache) CourseGraph(ctx context.Context, courseID string) (*content.Graph, error) {
	key := PrefixGraph + courseID

	var snapshot content.Snapshot
	err := g.cache.Get(ctx, key, &snapshot)
	if err == nil {
		return snapshot.Build(), nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		g.logger.Warn("graph cache read failed, loading direct", "course_id", courseID, "error", err)
	}

	fresh, err := g.source.CourseSnapshot(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if err := g.cache.Set(ctx, key, fresh, g.ttl); err != nil {
		g.logger.Warn("graph cache write failed", "course_id", courseID, "error", err)
	}

	return fresh.Build(), nil
}

// Invalidate drops the cached graph for a course. Wired to the
// content.link_changed event so structural edits are visible to the
// next cascade immediately.
func (g *GraphCache) Invalidate(ctx context.Context, courseID string) error {
	return g.cache.Delete(ctx, PrefixGraph+courseID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Uncached pass-throughs
// ──────────────────────────────────────────────────────────────────────────────

// ModuleIDsOf returns the modules belonging to a course.
func (g *GraphCache) ModuleIDsOf(ctx context.Context, courseID string) ([]string, error) {
	return g.source.ModuleIDsOf(ctx, courseID)
}

// ItemIDsOf returns the items belonging to a module.
func (g *GraphCache) ItemIDsOf(ctx context.Context, moduleID string) ([]string, error) {
	return g.source.ItemIDsOf(ctx, moduleID)
}

// DependentsOf returns the modules that declare moduleID as a prerequisite.
func (g *GraphCache) DependentsOf(ctx context.Context, moduleID string) ([]string, error) {
	return g.source.DependentsOf(ctx, moduleID)
}

// PrerequisitesOf returns the modules the given module depends on.
func (g *GraphCache) PrerequisitesOf(ctx context.Context, moduleID string) ([]string, error) {
	return g.source.PrerequisitesOf(ctx, moduleID)
}

// IsModule reports whether the node exists and is a module.
func (g *GraphCache) IsModule(ctx context.Context, nodeID string) (bool, error) {
	return g.source.IsModule(ctx, nodeID)
}

// IsSingleItem reports whether the node is single-item content.
func (g *GraphCache) IsSingleItem(ctx context.Context, nodeID string) (bool, error) {
	return g.source.IsSingleItem(ctx, nodeID)
}

// CompletionRuleOf returns the completion rule for a node.
func (g *GraphCache) CompletionRuleOf(ctx context.Context, nodeID, scopedParentID string) (*content.CompletionRule, error) {
	return g.source.CompletionRuleOf(ctx, nodeID, scopedParentID)
}
