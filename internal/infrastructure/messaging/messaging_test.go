package messaging

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode: false,
		Logger:    testLogger(),
	})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var gotStatus, gotPlan int32
	require.NoError(t, bus.Subscribe(shared.EventEnrolmentStatusChanged, func(event shared.Event) error {
		atomic.AddInt32(&gotStatus, 1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventPlanCreated, func(event shared.Event) error {
		atomic.AddInt32(&gotPlan, 1)
		return nil
	}))

	ev := shared.NewEnrolmentStatusChangedEvent("e1", "u1", "lo1", "", "p1", "completed", "in-progress", "")
	require.NoError(t, bus.Publish(ev))
	require.NoError(t, bus.Publish(ev))

	assert.Equal(t, int32(2), atomic.LoadInt32(&gotStatus))
	assert.Equal(t, int32(0), atomic.LoadInt32(&gotPlan))
}

func TestInMemoryEventBus_ClosedBusRejectsPublish(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewContentLinkChangedEvent("c1", "publish"))
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestDecodeEvent_RoundTripsConcreteTypes(t *testing.T) {
	original := shared.NewEnrolmentStatusChangedEvent(
		"e1", "u1", "module-a", "course-1", "portal-1",
		"completed", "in-progress", "update-parent-enrolment",
	)
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeEvent(shared.EventEnrolmentStatusChanged, raw)
	require.NoError(t, err)

	sc, ok := decoded.(shared.EnrolmentStatusChangedEvent)
	require.True(t, ok, "remote events must decode to the same concrete type")
	assert.Equal(t, original.EnrolmentID, sc.EnrolmentID)
	assert.Equal(t, original.Status, sc.Status)
	assert.True(t, sc.BecameCompleted())
}

func TestDecodeEvent_UpdatedDecodesAsCreatedShape(t *testing.T) {
	// Created and updated carry the same payload and share a handler, so
	// an updated event off the wire must come back as the created type.
	original := shared.NewEnrolmentCreatedEvent("e1", "u1", "item-1", "module-a", "portal-1", "not-started")
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeEvent(shared.EventEnrolmentUpdated, raw)
	require.NoError(t, err)

	created, ok := decoded.(shared.EnrolmentCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, "e1", created.EnrolmentID)
	assert.Equal(t, "item-1", created.LOID)
}

func TestDecodeEvent_UnsupportedType(t *testing.T) {
	_, err := DecodeEvent(shared.EventCronTick, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrEventNotSupported)
}

func TestTaskQueue_ProcessesPublishedTasks(t *testing.T) {
	config := DefaultTaskQueueConfig()
	config.Workers = 2
	config.Logger = testLogger()
	queue := NewTaskQueue(config)

	done := make(chan shared.Task, 1)
	require.NoError(t, queue.Register(shared.TaskReconcileCourse, func(task shared.Task) error {
		done <- task
		return nil
	}))

	queue.Start()
	defer queue.Stop()

	require.NoError(t, queue.PublishTask(shared.TaskReconcileCourse, shared.ReconcileCoursePayload{CourseID: "course-1"}))

	select {
	case task := <-done:
		var payload shared.ReconcileCoursePayload
		require.NoError(t, task.DecodePayload(&payload))
		assert.Equal(t, "course-1", payload.CourseID)
		assert.Equal(t, shared.TaskReconcileCourse, task.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not processed")
	}
}

func TestTaskQueue_DeadLettersNonRetryableFailure(t *testing.T) {
	config := DefaultTaskQueueConfig()
	config.Workers = 1
	config.Logger = testLogger()
	queue := NewTaskQueue(config)

	handled := make(chan struct{}, 8)
	require.NoError(t, queue.Register(shared.TaskCheckModuleEnrolment, func(task shared.Task) error {
		handled <- struct{}{}
		// Corrupt data: retrying cannot help.
		return shared.ErrUnknownRuleType
	}))

	queue.Start()
	defer queue.Stop()

	require.NoError(t, queue.PublishTask(shared.TaskCheckModuleEnrolment, shared.CheckModuleEnrolmentPayload{
		ModuleID: "m1", EnrolmentID: "e1",
	}))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not attempted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for queue.DeadLetters().Size() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, 1, queue.DeadLetters().Size())
	entry, ok := queue.DeadLetters().Pop()
	require.True(t, ok)
	assert.Equal(t, 1, entry.Attempts, "data-integrity failures must not burn retries")
}

func TestTaskQueue_RejectsPublishAfterStop(t *testing.T) {
	config := DefaultTaskQueueConfig()
	config.Logger = testLogger()
	queue := NewTaskQueue(config)
	queue.Start()
	queue.Stop()

	err := queue.PublishTask(shared.TaskReconcileCourse, shared.ReconcileCoursePayload{CourseID: "c1"})
	assert.ErrorIs(t, err, ErrTaskQueueClosed)
}
