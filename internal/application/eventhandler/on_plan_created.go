package eventhandler

import (
	"context"
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/application/engine"
	"github.com/felipe0410/enrolment-sub004/internal/domain/plan"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PLAN CREATED
// Plans can be produced outside the due-date resolver (assignments,
// group rollouts). When one lands for a node the learner is enrolled
// on, the enrolment is linked to it.
// ═══════════════════════════════════════════════════════════════════════════

// OnPlanCreatedHandler links externally created plans to matching
// enrolments.
type OnPlanCreatedHandler struct {
	plans    plan.Store
	duedates *engine.DueDateResolver
	logger   *slog.Logger
}

// NewOnPlanCreatedHandler creates a new OnPlanCreatedHandler.
func NewOnPlanCreatedHandler(plans plan.Store, duedates *engine.DueDateResolver, logger *slog.Logger) *OnPlanCreatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnPlanCreatedHandler{
		plans:    plans,
		duedates: duedates,
		logger:   logger.With("handler", "on_plan_created"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnPlanCreatedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	planEvent, ok := event.(shared.PlanCreatedEvent)
	if !ok {
		h.logger.Warn("received non-PlanCreatedEvent", "event_type", event.EventType())
		return nil
	}

	p, err := h.plans.Load(ctx, planEvent.PlanID)
	if err != nil {
		if shared.IsBenign(err) {
			h.logger.Warn("plan vanished, dropping event", "plan_id", planEvent.PlanID)
			return nil
		}
		return err
	}
	return h.duedates.LinkPlan(ctx, p)
}
