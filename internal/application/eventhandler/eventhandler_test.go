package eventhandler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipe0410/enrolment-sub004/internal/application/engine"
	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubStore implements the subset of enrolment.Store the handlers
// exercise; unimplemented methods panic via the embedded interface.
type stubStore struct {
	enrolment.Store
	byID map[string]*enrolment.Enrolment
}

func (s *stubStore) Load(ctx context.Context, id string) (*enrolment.Enrolment, error) {
	e, ok := s.byID[id]
	if !ok {
		return nil, shared.ErrEnrolmentNotFound
	}
	return e, nil
}

func (s *stubStore) ParentEnrolment(ctx context.Context, e *enrolment.Enrolment) (*enrolment.Enrolment, error) {
	if e.ParentEnrolmentID == "" {
		return nil, nil
	}
	return s.Load(ctx, e.ParentEnrolmentID)
}

func (s *stubStore) ActiveChildCount(ctx context.Context, e *enrolment.Enrolment) (int, error) {
	n := 0
	for _, c := range s.byID {
		if c.ParentEnrolmentID == e.ID && !c.Archived {
			n++
		}
	}
	return n, nil
}

func (s *stubStore) ChildrenCompleted(ctx context.Context, e *enrolment.Enrolment) (bool, error) {
	for _, c := range s.byID {
		if c.ParentEnrolmentID == e.ID && !c.Archived && c.Status != enrolment.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (s *stubStore) ChangeStatus(ctx context.Context, e *enrolment.Enrolment, newStatus enrolment.Status, tctx enrolment.TransitionContext) error {
	return e.Transition(newStatus, tctx)
}

// stubResolver answers IsModule and DependentsOf from fixed sets.
type stubResolver struct {
	content.Resolver
	modules    map[string]bool
	dependents map[string][]string
}

func (r *stubResolver) IsModule(ctx context.Context, nodeID string) (bool, error) {
	return r.modules[nodeID], nil
}

func (r *stubResolver) DependentsOf(ctx context.Context, moduleID string) ([]string, error) {
	return r.dependents[moduleID], nil
}

type stubTasks struct {
	published []shared.TaskType
	payloads  []interface{}
}

func (t *stubTasks) PublishTask(taskType shared.TaskType, payload interface{}) error {
	t.published = append(t.published, taskType)
	t.payloads = append(t.payloads, payload)
	return nil
}

type stubEvents struct{}

func (stubEvents) Publish(event shared.Event) error { return nil }

func mustEnrolment(t *testing.T, userID, loID string, parent *enrolment.Enrolment, status enrolment.Status) *enrolment.Enrolment {
	t.Helper()
	e, err := enrolment.New(userID, "profile", loID, "portal-1")
	require.NoError(t, err)
	if parent != nil {
		e.WithParent(parent.LOID, parent.ID)
	}
	if status != enrolment.StatusNotStarted {
		require.NoError(t, e.Transition(status, enrolment.TransitionContext{
			Action: enrolment.ActionEnrol, ActorID: enrolment.SystemActorID,
		}))
	}
	return e
}

func TestOnEnrolmentChanged_ModuleCompletionCascadesAndFansOut(t *testing.T) {
	root := mustEnrolment(t, "u1", "course-1", nil, enrolment.StatusInProgress)
	module := mustEnrolment(t, "u1", "module-a", root, enrolment.StatusCompleted)

	store := &stubStore{byID: map[string]*enrolment.Enrolment{root.ID: root, module.ID: module}}
	resolver := &stubResolver{
		modules:    map[string]bool{"module-a": true, "module-b": true},
		dependents: map[string][]string{"module-a": {"module-b"}},
	}
	tasks := &stubTasks{}
	prop := engine.NewPropagator(store, stubEvents{}, testLogger())
	gate := engine.NewDependencyGate(store, resolver, tasks, stubEvents{}, testLogger())
	h := NewOnEnrolmentChangedHandler(store, resolver, prop, gate, testLogger())

	ev := shared.NewEnrolmentStatusChangedEvent(
		module.ID, "u1", "module-a", "course-1", "portal-1",
		string(enrolment.StatusCompleted), string(enrolment.StatusInProgress),
		enrolment.ActionAdminRevision,
	)
	require.NoError(t, h.Handle(ev))

	assert.Equal(t, enrolment.StatusCompleted, root.Status,
		"the module was the course's only child, so the course completes")
	require.Len(t, tasks.published, 1)
	assert.Equal(t, shared.TaskCheckModuleEnrolments, tasks.published[0])
	assert.Equal(t, shared.CheckModuleEnrolmentsPayload{ModuleID: "module-b", UserID: "u1"}, tasks.payloads[0])
}

func TestOnEnrolmentChanged_IgnoresNonCompletionEdges(t *testing.T) {
	store := &stubStore{byID: map[string]*enrolment.Enrolment{}}
	tasks := &stubTasks{}
	resolver := &stubResolver{modules: map[string]bool{}}
	prop := engine.NewPropagator(store, stubEvents{}, testLogger())
	gate := engine.NewDependencyGate(store, resolver, tasks, stubEvents{}, testLogger())
	h := NewOnEnrolmentChangedHandler(store, resolver, prop, gate, testLogger())

	ev := shared.NewEnrolmentStatusChangedEvent(
		"e1", "u1", "module-a", "course-1", "portal-1",
		string(enrolment.StatusInProgress), string(enrolment.StatusPending),
		enrolment.ActionInvalidPendingDependent,
	)
	require.NoError(t, h.Handle(ev))
	assert.Empty(t, tasks.published)
}

func TestOnEnrolmentChanged_StalePayloadDropped(t *testing.T) {
	// The record was reopened between the event being emitted and
	// handled; the payload claims completed but the store disagrees.
	module := mustEnrolment(t, "u1", "module-a", nil, enrolment.StatusInProgress)
	store := &stubStore{byID: map[string]*enrolment.Enrolment{module.ID: module}}
	tasks := &stubTasks{}
	resolver := &stubResolver{modules: map[string]bool{"module-a": true}}
	prop := engine.NewPropagator(store, stubEvents{}, testLogger())
	gate := engine.NewDependencyGate(store, resolver, tasks, stubEvents{}, testLogger())
	h := NewOnEnrolmentChangedHandler(store, resolver, prop, gate, testLogger())

	ev := shared.NewEnrolmentStatusChangedEvent(
		module.ID, "u1", "module-a", "", "portal-1",
		string(enrolment.StatusCompleted), string(enrolment.StatusInProgress),
		enrolment.ActionAdminRevision,
	)
	require.NoError(t, h.Handle(ev))

	assert.Empty(t, tasks.published)
	assert.Equal(t, enrolment.StatusInProgress, module.Status)
}

func TestOnLinkChanged_SchedulesReconciliation(t *testing.T) {
	tasks := &stubTasks{}
	h := NewOnLinkChangedHandler(tasks, testLogger())

	require.NoError(t, h.Handle(shared.NewContentLinkChangedEvent("course-1", "unlink")))

	require.Len(t, tasks.published, 1)
	assert.Equal(t, shared.TaskReconcileCourse, tasks.published[0])
	assert.Equal(t, shared.ReconcileCoursePayload{CourseID: "course-1"}, tasks.payloads[0])
}

func TestOnLinkChanged_DropsEventWithoutCourse(t *testing.T) {
	tasks := &stubTasks{}
	h := NewOnLinkChangedHandler(tasks, testLogger())

	require.NoError(t, h.Handle(shared.NewContentLinkChangedEvent("", "publish")))
	assert.Empty(t, tasks.published)
}
