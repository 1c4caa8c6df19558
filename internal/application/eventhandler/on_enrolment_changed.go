// Package eventhandler contains the domain event handlers. They are the
// reactive part of the system: each handler consumes one event type off
// the bus and drives the matching engine. Payloads are treated as hints
// only; every handler reloads current state from the store before
// acting, so redelivered and reordered events converge to the same
// result.
package eventhandler

import (
	"context"
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/application/engine"
	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ENROLMENT STATUS CHANGED
// Every status change can ripple two ways: upward through the ancestor
// cascade, and sideways through the dependency gate when the change
// completed a module that other modules wait on.
// ═══════════════════════════════════════════════════════════════════════════

// OnEnrolmentChangedHandler reacts to enrolment status transitions.
type OnEnrolmentChangedHandler struct {
	store      enrolment.Store
	resolver   content.Resolver
	propagator *engine.Propagator
	gate       *engine.DependencyGate
	logger     *slog.Logger
}

// NewOnEnrolmentChangedHandler creates a new OnEnrolmentChangedHandler.
func NewOnEnrolmentChangedHandler(
	store enrolment.Store,
	resolver content.Resolver,
	propagator *engine.Propagator,
	gate *engine.DependencyGate,
	logger *slog.Logger,
) *OnEnrolmentChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnEnrolmentChangedHandler{
		store:      store,
		resolver:   resolver,
		propagator: propagator,
		gate:       gate,
		logger:     logger.With("handler", "on_enrolment_changed"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnEnrolmentChangedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	changed, ok := event.(shared.EnrolmentStatusChangedEvent)
	if !ok {
		h.logger.Warn("received non-EnrolmentStatusChangedEvent", "event_type", event.EventType())
		return nil
	}
	if !changed.BecameCompleted() {
		// Only the not-completed -> completed edge triggers downstream
		// work; other transitions are already final.
		return nil
	}

	// The payload is a hint. Reload the record so a stale or reordered
	// delivery cannot propagate state that no longer holds.
	e, err := h.store.Load(ctx, changed.EnrolmentID)
	if err != nil {
		if shared.IsBenign(err) {
			h.logger.Warn("enrolment vanished, dropping event", "enrolment_id", changed.EnrolmentID)
			return nil
		}
		return err
	}
	if !e.IsCompleted() {
		h.logger.Debug("enrolment no longer completed, dropping event", "enrolment_id", e.ID)
		return nil
	}

	if err := h.propagator.OnChildCompleted(ctx, e); err != nil {
		return err
	}

	isModule, err := h.resolver.IsModule(ctx, e.LOID)
	if err != nil {
		if shared.IsBenign(err) {
			return nil
		}
		return err
	}
	if isModule {
		return h.gate.OnModuleCompleted(ctx, e)
	}
	return nil
}
