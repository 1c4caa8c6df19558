// Package shared contains common domain types, errors, events, and contracts
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event mirrors an external signal the engine consumes or emits.
const (
	// Enrolment events
	EventEnrolmentCreated       EventType = "enrolment.created"
	EventEnrolmentUpdated       EventType = "enrolment.updated"
	EventEnrolmentStatusChanged EventType = "enrolment.status_changed"
	EventEnrolmentArchived      EventType = "enrolment.archived"
	EventEnrolmentExpiring      EventType = "enrolment.expiring"

	// Content structure events
	EventContentLinkChanged EventType = "content.link_changed"

	// Plan events
	EventPlanCreated EventType = "plan.created"

	// System events
	EventCronTick EventType = "system.cron_tick"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrolment Events
// ═══════════════════════════════════════════════════════════════════════════

// EnrolmentStatusChangedEvent is emitted when an enrolment transitions
// between statuses. OriginalStatus carries the pre-transition status so
// handlers can detect the "became completed" edge.
type EnrolmentStatusChangedEvent struct {
	BaseEvent
	EnrolmentID    string `json:"enrolment_id"`
	UserID         string `json:"user_id"`
	LOID           string `json:"lo_id"`
	ParentLOID     string `json:"parent_lo_id,omitempty"`
	TakenPortalID  string `json:"taken_portal_id"`
	Status         string `json:"status"`
	OriginalStatus string `json:"original_status"`
	Action         string `json:"action,omitempty"`
}

// Payload implements Event interface.
func (e EnrolmentStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrolment_id":    e.EnrolmentID,
		"user_id":         e.UserID,
		"lo_id":           e.LOID,
		"parent_lo_id":    e.ParentLOID,
		"taken_portal_id": e.TakenPortalID,
		"status":          e.Status,
		"original_status": e.OriginalStatus,
		"action":          e.Action,
	}
}

// BecameCompleted reports whether this change transitioned the enrolment
// into the completed status (as opposed to a redelivery of an already
// completed record).
func (e EnrolmentStatusChangedEvent) BecameCompleted() bool {
	return e.Status == "completed" && e.OriginalStatus != "completed"
}

// NewEnrolmentStatusChangedEvent creates a new EnrolmentStatusChangedEvent.
func NewEnrolmentStatusChangedEvent(enrolmentID, userID, loID, parentLOID, portalID, status, original, action string) EnrolmentStatusChangedEvent {
	return EnrolmentStatusChangedEvent{
		BaseEvent:      NewBaseEvent(EventEnrolmentStatusChanged, enrolmentID),
		EnrolmentID:    enrolmentID,
		UserID:         userID,
		LOID:           loID,
		ParentLOID:     parentLOID,
		TakenPortalID:  portalID,
		Status:         status,
		OriginalStatus: original,
		Action:         action,
	}
}

// EnrolmentCreatedEvent is emitted when a new enrolment record is created.
type EnrolmentCreatedEvent struct {
	BaseEvent
	EnrolmentID   string `json:"enrolment_id"`
	UserID        string `json:"user_id"`
	LOID          string `json:"lo_id"`
	ParentLOID    string `json:"parent_lo_id,omitempty"`
	TakenPortalID string `json:"taken_portal_id"`
	Status        string `json:"status"`
}

// Payload implements Event interface.
func (e EnrolmentCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrolment_id":    e.EnrolmentID,
		"user_id":         e.UserID,
		"lo_id":           e.LOID,
		"parent_lo_id":    e.ParentLOID,
		"taken_portal_id": e.TakenPortalID,
		"status":          e.Status,
	}
}

// NewEnrolmentCreatedEvent creates a new EnrolmentCreatedEvent.
func NewEnrolmentCreatedEvent(enrolmentID, userID, loID, parentLOID, portalID, status string) EnrolmentCreatedEvent {
	return EnrolmentCreatedEvent{
		BaseEvent:     NewBaseEvent(EventEnrolmentCreated, enrolmentID),
		EnrolmentID:   enrolmentID,
		UserID:        userID,
		LOID:          loID,
		ParentLOID:    parentLOID,
		TakenPortalID: portalID,
		Status:        status,
	}
}

// EnrolmentExpiringEvent is emitted by the check-expiring sweep for
// enrolments whose due date falls inside the warning window.
type EnrolmentExpiringEvent struct {
	BaseEvent
	EnrolmentID string    `json:"enrolment_id"`
	UserID      string    `json:"user_id"`
	LOID        string    `json:"lo_id"`
	DueDate     time.Time `json:"due_date"`
}

// Payload implements Event interface.
func (e EnrolmentExpiringEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrolment_id": e.EnrolmentID,
		"user_id":      e.UserID,
		"lo_id":        e.LOID,
		"due_date":     e.DueDate.Format(time.RFC3339),
	}
}

// NewEnrolmentExpiringEvent creates a new EnrolmentExpiringEvent.
func NewEnrolmentExpiringEvent(enrolmentID, userID, loID string, dueDate time.Time) EnrolmentExpiringEvent {
	return EnrolmentExpiringEvent{
		BaseEvent:   NewBaseEvent(EventEnrolmentExpiring, enrolmentID),
		EnrolmentID: enrolmentID,
		UserID:      userID,
		LOID:        loID,
		DueDate:     dueDate,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Content Structure Events
// ═══════════════════════════════════════════════════════════════════════════

// ContentLinkChangedEvent is emitted when the content hierarchy is edited:
// an item moved between modules, attached, or detached. The aggregate is
// the course whose subtree changed.
type ContentLinkChangedEvent struct {
	BaseEvent
	CourseID string `json:"course_id"`
	Action   string `json:"action"` // e.g., "publish", "link", "unlink"
}

// Payload implements Event interface.
func (e ContentLinkChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id": e.CourseID,
		"action":    e.Action,
	}
}

// NewContentLinkChangedEvent creates a new ContentLinkChangedEvent.
func NewContentLinkChangedEvent(courseID, action string) ContentLinkChangedEvent {
	return ContentLinkChangedEvent{
		BaseEvent: NewBaseEvent(EventContentLinkChanged, courseID),
		CourseID:  courseID,
		Action:    action,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Plan Events
// ═══════════════════════════════════════════════════════════════════════════

// PlanCreatedEvent is emitted when a scheduling plan is created by any
// producer (due-date resolver, assignment, group rollout).
type PlanCreatedEvent struct {
	BaseEvent
	PlanID     string     `json:"plan_id"`
	UserID     string     `json:"user_id"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

// Payload implements Event interface.
func (e PlanCreatedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"plan_id":     e.PlanID,
		"user_id":     e.UserID,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
	}
	if e.DueDate != nil {
		p["due_date"] = e.DueDate.Format(time.RFC3339)
	}
	return p
}

// NewPlanCreatedEvent creates a new PlanCreatedEvent.
func NewPlanCreatedEvent(planID, userID, entityType, entityID string, dueDate *time.Time) PlanCreatedEvent {
	return PlanCreatedEvent{
		BaseEvent:  NewBaseEvent(EventPlanCreated, planID),
		PlanID:     planID,
		UserID:     userID,
		EntityType: entityType,
		EntityID:   entityID,
		DueDate:    dueDate,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
