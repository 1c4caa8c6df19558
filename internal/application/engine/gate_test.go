package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// drive dispatches queued gate tasks until the queue is empty, the way
// the worker pool would.
func drive(t *testing.T, ctx context.Context, gate *DependencyGate, tasks *memTasks) {
	t.Helper()
	for {
		batch := tasks.drain()
		if len(batch) == 0 {
			return
		}
		for _, task := range batch {
			switch task.Type {
			case shared.TaskCheckModuleEnrolments:
				p := task.Payload.(shared.CheckModuleEnrolmentsPayload)
				require.NoError(t, gate.CheckModuleEnrolments(ctx, p.ModuleID, p.UserID))
			case shared.TaskCheckModuleEnrolment:
				p := task.Payload.(shared.CheckModuleEnrolmentPayload)
				require.NoError(t, gate.CheckModuleEnrolment(ctx, p.ModuleID, p.EnrolmentID))
			default:
				t.Fatalf("unexpected task type %s", task.Type)
			}
		}
	}
}

// gatedCourse builds a course where module-b declares module-a as a
// prerequisite.
func gatedCourse() *content.Graph {
	edges := courseEdges("course-1", map[string][]string{
		"module-a": {"item-a1"},
		"module-b": {"item-b1"},
	})
	edges = append(edges, content.Edge{
		ID: "dep-b-a", Type: content.EdgeModuleDependency, From: "module-b", To: "module-a",
	})
	return content.Build("course-1", edges)
}

func TestDependencyGate_UnlocksDependentsWhenPrerequisiteCompletes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	resolver := newFixtureResolver(gatedCourse())
	tasks := &memTasks{}
	events := &memEvents{}
	gate := NewDependencyGate(store, resolver, tasks, events, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	moduleA := enrol(store, "u1", "module-a", root, enrolment.StatusCompleted)
	moduleB := enrol(store, "u1", "module-b", root, enrolment.StatusPending)
	itemB := enrol(store, "u1", "item-b1", moduleB, enrolment.StatusPending)

	require.NoError(t, gate.OnModuleCompleted(ctx, moduleA))
	drive(t, ctx, gate, tasks)

	assert.Equal(t, enrolment.StatusInProgress, moduleB.Status)
	assert.Equal(t, enrolment.StatusInProgress, itemB.Status)

	changed := events.ofType(shared.EventEnrolmentStatusChanged)
	require.Len(t, changed, 2)
	for _, ev := range changed {
		sc := ev.(shared.EnrolmentStatusChangedEvent)
		assert.Equal(t, enrolment.ActionInvalidPendingDependent, sc.Action)
		assert.Equal(t, string(enrolment.StatusPending), sc.OriginalStatus)
	}
}

func TestDependencyGate_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	resolver := newFixtureResolver(gatedCourse())
	tasks := &memTasks{}
	events := &memEvents{}
	gate := NewDependencyGate(store, resolver, tasks, events, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	moduleA := enrol(store, "u1", "module-a", root, enrolment.StatusCompleted)
	moduleB := enrol(store, "u1", "module-b", root, enrolment.StatusPending)
	enrol(store, "u1", "item-b1", moduleB, enrolment.StatusPending)

	require.NoError(t, gate.OnModuleCompleted(ctx, moduleA))
	drive(t, ctx, gate, tasks)

	historyBefore := len(moduleB.History)
	eventsBefore := len(events.ofType(shared.EventEnrolmentStatusChanged))

	// The completion event is delivered a second time.
	require.NoError(t, gate.OnModuleCompleted(ctx, moduleA))
	drive(t, ctx, gate, tasks)

	assert.Equal(t, enrolment.StatusInProgress, moduleB.Status)
	assert.Len(t, moduleB.History, historyBefore)
	assert.Len(t, events.ofType(shared.EventEnrolmentStatusChanged), eventsBefore)
}

func TestDependencyGate_UnsatisfiedPrerequisiteKeepsPending(t *testing.T) {
	ctx := context.Background()
	edges := courseEdges("course-1", map[string][]string{
		"module-a": {"item-a1"},
		"module-b": {"item-b1"},
		"module-c": {"item-c1"},
	})
	edges = append(edges,
		content.Edge{ID: "dep-b-a", Type: content.EdgeModuleDependency, From: "module-b", To: "module-a"},
		content.Edge{ID: "dep-b-c", Type: content.EdgeModuleDependency, From: "module-b", To: "module-c"},
	)
	store := newMemStore()
	resolver := newFixtureResolver(content.Build("course-1", edges))
	tasks := &memTasks{}
	gate := NewDependencyGate(store, resolver, tasks, &memEvents{}, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	moduleA := enrol(store, "u1", "module-a", root, enrolment.StatusCompleted)
	moduleB := enrol(store, "u1", "module-b", root, enrolment.StatusPending)
	// No enrolment on module-c at all: that prerequisite is unsatisfied.

	require.NoError(t, gate.OnModuleCompleted(ctx, moduleA))
	drive(t, ctx, gate, tasks)

	assert.Equal(t, enrolment.StatusPending, moduleB.Status)
}

func TestDependencyGate_StaleModuleTargetDropped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	resolver := newFixtureResolver(gatedCourse())
	tasks := &memTasks{}
	gate := NewDependencyGate(store, resolver, tasks, &memEvents{}, testLogger())

	// The node was deleted (or was never a module) after the task was
	// enqueued.
	require.NoError(t, gate.CheckModuleEnrolments(ctx, "item-a1", "u1"))
	require.NoError(t, gate.CheckModuleEnrolments(ctx, "node-gone", "u1"))

	assert.Empty(t, tasks.drain())
}

func TestDependencyGate_VanishedEnrolmentDropped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	gate := NewDependencyGate(store, newFixtureResolver(gatedCourse()), &memTasks{}, &memEvents{}, testLogger())

	assert.NoError(t, gate.CheckModuleEnrolment(ctx, "module-b", "enrolment-gone"))
}

func TestDependencyGate_NoDependentsNoFanOut(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	resolver := newFixtureResolver(gatedCourse())
	tasks := &memTasks{}
	gate := NewDependencyGate(store, resolver, tasks, &memEvents{}, testLogger())

	root := enrol(store, "u1", "course-1", nil, enrolment.StatusInProgress)
	// module-b has no dependents; nothing waits on it.
	moduleB := enrol(store, "u1", "module-b", root, enrolment.StatusCompleted)

	require.NoError(t, gate.OnModuleCompleted(ctx, moduleB))
	assert.Empty(t, tasks.drain())
}
