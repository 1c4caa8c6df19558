package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func complete(t *testing.T, s *memStore, e *enrolment.Enrolment) {
	t.Helper()
	err := s.ChangeStatus(context.Background(), e, enrolment.StatusCompleted, enrolment.TransitionContext{
		Action:  enrolment.ActionAdminRevision,
		ActorID: "learner",
	})
	require.NoError(t, err)
}

func TestPropagator_CompletesParentWhenAllChildrenDone(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	events := &memEvents{}
	prop := NewPropagator(store, events, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	item1 := enrol(store, "u1", "item-1", module, enrolment.StatusInProgress)
	item2 := enrol(store, "u1", "item-2", module, enrolment.StatusInProgress)

	complete(t, store, item1)
	require.NoError(t, prop.OnChildCompleted(ctx, item1))
	assert.Equal(t, enrolment.StatusInProgress, module.Status, "one incomplete sibling must hold the parent back")

	complete(t, store, item2)
	require.NoError(t, prop.OnChildCompleted(ctx, item2))
	assert.Equal(t, enrolment.StatusCompleted, module.Status)
	assert.Equal(t, enrolment.StatusCompleted, root.Status, "cascade must continue to the root")

	changed := events.ofType(shared.EventEnrolmentStatusChanged)
	require.Len(t, changed, 2)
	for _, ev := range changed {
		sc := ev.(shared.EnrolmentStatusChangedEvent)
		assert.True(t, sc.BecameCompleted())
		assert.Equal(t, enrolment.ActionUpdateParentEnrolment, sc.Action)
	}
}

func TestPropagator_RedeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	events := &memEvents{}
	prop := NewPropagator(store, events, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	item := enrol(store, "u1", "item-1", module, enrolment.StatusInProgress)

	complete(t, store, item)
	require.NoError(t, prop.OnChildCompleted(ctx, item))
	require.Equal(t, enrolment.StatusCompleted, module.Status)

	historyBefore := len(module.History)
	eventsBefore := len(events.ofType(shared.EventEnrolmentStatusChanged))

	// Same completion signal delivered again.
	require.NoError(t, prop.OnChildCompleted(ctx, item))

	assert.Equal(t, enrolment.StatusCompleted, module.Status)
	assert.Len(t, module.History, historyBefore, "redelivery must not append history")
	assert.Len(t, events.ofType(shared.EventEnrolmentStatusChanged), eventsBefore)
}

func TestPropagator_ConvergesRegardlessOfCompletionOrder(t *testing.T) {
	ctx := context.Background()

	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}
	for _, order := range orders {
		store := newMemStore()
		prop := NewPropagator(store, &memEvents{}, testLogger())

		root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
		m1 := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
		m2 := enrol(store, "u1", "module-2", root, enrolment.StatusInProgress)
		items := []*enrolment.Enrolment{
			enrol(store, "u1", "item-1", m1, enrolment.StatusInProgress),
			enrol(store, "u1", "item-2", m1, enrolment.StatusInProgress),
			enrol(store, "u1", "item-3", m2, enrolment.StatusInProgress),
			enrol(store, "u1", "item-4", m2, enrolment.StatusInProgress),
		}

		for _, idx := range order {
			complete(t, store, items[idx])
			require.NoError(t, prop.OnChildCompleted(ctx, items[idx]))
		}

		assert.Equal(t, enrolment.StatusCompleted, m1.Status, "order %v", order)
		assert.Equal(t, enrolment.StatusCompleted, m2.Status, "order %v", order)
		assert.Equal(t, enrolment.StatusCompleted, root.Status, "order %v", order)
	}
}

func TestPropagator_ZeroChildrenNeverAutoCompletes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	events := &memEvents{}
	prop := NewPropagator(store, events, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)

	require.NoError(t, prop.Recompute(ctx, module))

	assert.Equal(t, enrolment.StatusInProgress, module.Status,
		"a childless node is vacuously satisfied but must not auto-complete")
	assert.Empty(t, events.ofType(shared.EventEnrolmentStatusChanged))
}

func TestPropagator_ArchivedChildrenExcluded(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	prop := NewPropagator(store, &memEvents{}, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusInProgress)
	item1 := enrol(store, "u1", "item-1", module, enrolment.StatusInProgress)
	item2 := enrol(store, "u1", "item-2", module, enrolment.StatusInProgress)

	item2.Archive(enrolment.TransitionContext{
		Action:  enrolment.ActionStructureArchiveOrphan,
		ActorID: enrolment.SystemActorID,
	})
	store.put(item2)

	complete(t, store, item1)
	require.NoError(t, prop.OnChildCompleted(ctx, item1))

	assert.Equal(t, enrolment.StatusCompleted, module.Status,
		"archived revisions must not hold the parent open")
}

func TestPropagator_MissingParentIsBenign(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	prop := NewPropagator(store, &memEvents{}, testLogger())

	item := enrol(store, "u1", "item-1", nil, enrolment.StatusInProgress)
	item.ParentLOID = "module-gone"
	item.ParentEnrolmentID = "enrolment-gone"
	store.put(item)

	complete(t, store, item)
	assert.NoError(t, prop.OnChildCompleted(ctx, item))
}

func TestPropagator_CompletedAncestorStopsCascade(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	events := &memEvents{}
	prop := NewPropagator(store, events, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := enrol(store, "u1", "module-1", root, enrolment.StatusCompleted)
	item := enrol(store, "u1", "item-1", module, enrolment.StatusCompleted)

	require.NoError(t, prop.OnChildCompleted(ctx, item))

	assert.Equal(t, enrolment.StatusInProgress, root.Status,
		"an already-converged ancestor ends the walk")
	assert.Empty(t, events.ofType(shared.EventEnrolmentStatusChanged))
}
