package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType identifies a unit of asynchronous fan-out work.
type TaskType string

// Task types consumed by the task queue workers. Each type caps a
// different axis of fan-out: dependents × users × pending enrolments.
const (
	// TaskCheckModuleEnrolments enumerates one user's pending enrolments
	// under one dependent module (dependency gate, phase 2).
	TaskCheckModuleEnrolments TaskType = "dependency.check_module"

	// TaskCheckModuleEnrolment re-evaluates a single pending enrolment
	// against its module prerequisites (dependency gate, phase 3).
	TaskCheckModuleEnrolment TaskType = "dependency.check_enrolment"

	// TaskReconcileCourse runs one bounded structural reconciliation pass
	// over a course.
	TaskReconcileCourse TaskType = "reconcile.course"
)

// Task is a single asynchronously-delivered unit of work. Payloads are
// hints, not truth: every consumer re-derives state from the store, so
// redelivery and reordering are safe.
type Task struct {
	ID         string          `json:"id"`
	Type       TaskType        `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempt    int             `json:"attempt"`
}

// CheckModuleEnrolmentsPayload is the payload for TaskCheckModuleEnrolments.
type CheckModuleEnrolmentsPayload struct {
	ModuleID string `json:"module_id"`
	UserID   string `json:"user_id"`
}

// CheckModuleEnrolmentPayload is the payload for TaskCheckModuleEnrolment.
type CheckModuleEnrolmentPayload struct {
	ModuleID    string `json:"module_id"`
	EnrolmentID string `json:"enrolment_id"`
}

// ReconcileCoursePayload is the payload for TaskReconcileCourse.
type ReconcileCoursePayload struct {
	CourseID string `json:"course_id"`
}

// DecodePayload unmarshals the task payload into dst.
// Returns ErrMalformedPayload when the payload cannot be decoded.
func (t Task) DecodePayload(dst interface{}) error {
	if len(t.Payload) == 0 {
		return WrapError("task", "DecodePayload", ErrMalformedPayload, "empty payload", nil)
	}
	if err := json.Unmarshal(t.Payload, dst); err != nil {
		return WrapError("task", "DecodePayload", ErrMalformedPayload, fmt.Sprintf("decode %s", t.Type), err)
	}
	return nil
}

// TaskPublisher hands tasks off to the queue. A publish is a hand-off,
// not a blocking call: delivery is at-least-once and unordered.
type TaskPublisher interface {
	// PublishTask enqueues a task of the given type with the given payload.
	PublishTask(taskType TaskType, payload interface{}) error
}

// TaskHandler processes one task to completion.
type TaskHandler func(task Task) error
