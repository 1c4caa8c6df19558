package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
)

func newTestReconciler(store *memStore, resolver *fixtureResolver, config ReconcilerConfig) *Reconciler {
	prop := NewPropagator(store, &memEvents{}, testLogger())
	return NewReconciler(store, resolver, prop, testLogger(), config)
}

func fixKinds(fixes []FixAction) []FixKind {
	kinds := make([]FixKind, 0, len(fixes))
	for _, f := range fixes {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

func TestReconciler_RehomesItemMovedBetweenModules(t *testing.T) {
	ctx := context.Background()

	// The hierarchy now places item-x under module-2; the enrolments
	// still reflect the old layout under module-1.
	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-1": {},
		"module-2": {"item-x"},
	}))
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), DefaultReconcilerConfig())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	oldModule := enrol(store, "u1", "module-1", root, enrolment.StatusCompleted)
	item := enrol(store, "u1", "item-x", oldModule, enrolment.StatusInProgress)

	fixes, err := rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []FixKind{FixCreateParent, FixReparent}, fixKinds(fixes))

	newModule, err := store.LoadByLOAndUser(ctx, "module-2", "u1", testPortal)
	require.NoError(t, err)
	assert.Equal(t, enrolment.StatusInProgress, newModule.Status,
		"a module enrolment created during repair must not inherit completed")
	assert.Equal(t, "course-1", newModule.ParentLOID)

	assert.Equal(t, "module-2", item.ParentLOID)
	assert.Equal(t, newModule.ID, item.ParentEnrolmentID)

	// A second pass over the repaired course is a no-op.
	fixes, err = rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestReconciler_SharedItemStaysUnderEitherContainingModule(t *testing.T) {
	ctx := context.Background()

	// item-x belongs to both modules of the course. An enrolment parented
	// under either of them is consistent; sweeping the other module must
	// not drag the item back and forth between the two.
	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-1": {"item-x"},
		"module-2": {"item-x"},
	}))
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), DefaultReconcilerConfig())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	item := enrol(store, "u1", "item-x", module, enrolment.StatusInProgress)

	for pass := 0; pass < 2; pass++ {
		fixes, err := rec.Reconcile(ctx, "course-1")
		require.NoError(t, err)
		assert.Empty(t, fixes)
	}
	assert.Equal(t, "module-1", item.ParentLOID)
	assert.Equal(t, module.ID, item.ParentEnrolmentID)
}

func TestReconciler_SkipsEnrolmentsOfUnrelatedCourses(t *testing.T) {
	ctx := context.Background()

	// item-x is reused by course-2; that hierarchy is untouched and its
	// enrolments must not be dragged under course-1's module.
	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-2": {"item-x"},
	}))
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), DefaultReconcilerConfig())

	otherRoot := enrol(store, "u2", "course-2", nil, enrolment.StatusInProgress)
	otherModule := enrol(store, "u2", "module-9", otherRoot, enrolment.StatusInProgress)
	otherItem := enrol(store, "u2", "item-x", otherModule, enrolment.StatusInProgress)

	fixes, err := rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Empty(t, fixes)
	assert.Equal(t, "module-9", otherItem.ParentLOID)
	assert.False(t, otherItem.Archived)
}

func TestReconciler_ArchivesOrphanAndRecomputesParent(t *testing.T) {
	ctx := context.Background()

	// item-2 was removed from module-1; only item-1 remains.
	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-1": {"item-1"},
	}))
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), DefaultReconcilerConfig())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	enrol(store, "u1", "item-1", module, enrolment.StatusCompleted)
	removed := enrol(store, "u1", "item-2", module, enrolment.StatusInProgress)

	fixes, err := rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, []FixKind{FixArchiveOrphan}, fixKinds(fixes))

	assert.True(t, removed.Archived)
	assert.Equal(t, enrolment.StatusCompleted, module.Status,
		"losing the incomplete orphan flips the module to complete")
	assert.Equal(t, enrolment.StatusCompleted, root.Status)

	fixes, err = rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestReconciler_ArchivesAllChildrenOfEmptiedModule(t *testing.T) {
	ctx := context.Background()

	// Every item was removed from module-1; each remaining child
	// enrolment is an orphan.
	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-1": {},
	}))
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), DefaultReconcilerConfig())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	gone1 := enrol(store, "u1", "item-1", module, enrolment.StatusInProgress)
	gone2 := enrol(store, "u1", "item-2", module, enrolment.StatusCompleted)

	fixes, err := rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, []FixKind{FixArchiveOrphan, FixArchiveOrphan}, fixKinds(fixes))
	assert.True(t, gone1.Archived)
	assert.True(t, gone2.Archived)

	fixes, err = rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestReconciler_ArchivesDuplicateKeepsEstablished(t *testing.T) {
	ctx := context.Background()

	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-1": {},
		"module-2": {"item-x"},
	}))
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), DefaultReconcilerConfig())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	oldModule := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	newModule := enrol(store, "u1", "module-2", root, enrolment.StatusInProgress)
	established := enrol(store, "u1", "item-x", newModule, enrolment.StatusCompleted)
	duplicate := enrol(store, "u1", "item-x", oldModule, enrolment.StatusInProgress)

	fixes, err := rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, []FixKind{FixArchiveDuplicate}, fixKinds(fixes))

	assert.True(t, duplicate.Archived)
	assert.False(t, established.Archived)
	assert.Equal(t, "module-2", established.ParentLOID)
	assert.Equal(t, enrolment.StatusCompleted, established.Status,
		"the record with the richer history survives untouched")
}

func TestReconciler_SingleItemContentExempt(t *testing.T) {
	ctx := context.Background()

	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-1": {"item-x"},
	}))
	graph.MarkSingleItem("item-x")
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), DefaultReconcilerConfig())

	// Directly-enrolled single-item content has no module wrapper.
	direct := enrol(store, "u1", "item-x", nil, enrolment.StatusInProgress)

	fixes, err := rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Empty(t, fixes)
	assert.Empty(t, direct.ParentLOID)
}

func TestReconciler_BoundedBatch(t *testing.T) {
	ctx := context.Background()

	graph := content.Build("course-1", courseEdges("course-1", map[string][]string{
		"module-1": {"item-1"},
	}))
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(graph), ReconcilerConfig{BatchSize: 1})

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	enrol(store, "u1", "item-2", module, enrolment.StatusInProgress)
	enrol(store, "u1", "item-3", module, enrolment.StatusInProgress)

	// Two orphans, a budget of one: the pass repairs one row and leaves
	// the rest for the next invocation.
	fixes, err := rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Len(t, fixes, 1)

	fixes, err = rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Len(t, fixes, 1)

	fixes, err = rec.Reconcile(ctx, "course-1")
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestReconciler_UnknownCourseIsBenign(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rec := newTestReconciler(store, newFixtureResolver(), DefaultReconcilerConfig())

	fixes, err := rec.Reconcile(ctx, "course-gone")
	assert.NoError(t, err)
	assert.Empty(t, fixes)
}
