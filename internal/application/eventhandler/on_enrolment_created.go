package eventhandler

import (
	"context"
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/application/engine"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ENROLMENT CREATED
// A fresh enrolment may carry a completion rule on its node; resolving
// it here materializes the due date up front instead of on first read.
// ═══════════════════════════════════════════════════════════════════════════

// OnEnrolmentCreatedHandler resolves completion due dates for newly
// created enrolments.
type OnEnrolmentCreatedHandler struct {
	store    enrolment.Store
	duedates *engine.DueDateResolver
	logger   *slog.Logger
}

// NewOnEnrolmentCreatedHandler creates a new OnEnrolmentCreatedHandler.
func NewOnEnrolmentCreatedHandler(
	store enrolment.Store,
	duedates *engine.DueDateResolver,
	logger *slog.Logger,
) *OnEnrolmentCreatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnEnrolmentCreatedHandler{
		store:    store,
		duedates: duedates,
		logger:   logger.With("handler", "on_enrolment_created"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnEnrolmentCreatedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	created, ok := event.(shared.EnrolmentCreatedEvent)
	if !ok {
		h.logger.Warn("received non-EnrolmentCreatedEvent", "event_type", event.EventType())
		return nil
	}

	e, err := h.store.Load(ctx, created.EnrolmentID)
	if err != nil {
		if shared.IsBenign(err) {
			h.logger.Warn("enrolment vanished, dropping event", "enrolment_id", created.EnrolmentID)
			return nil
		}
		return err
	}
	if !e.IsActive() {
		return nil
	}

	if err := h.duedates.Apply(ctx, e); err != nil {
		if shared.IsDataIntegrity(err) {
			// A corrupt rule definition must not wedge the queue on
			// retries; it is logged loudly and needs a content fix.
			h.logger.Error("completion rule cannot be resolved",
				"enrolment_id", e.ID, "lo_id", e.LOID, "error", err)
			return nil
		}
		return err
	}
	return nil
}
