package eventhandler

import (
	"log/slog"

	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CONTENT LINK CHANGED
// Hierarchy edits arrive as coarse per-course signals. The handler only
// enqueues a reconciliation task; the bounded repair pass itself runs on
// the task queue so a burst of edits cannot monopolize the bus consumer.
// ═══════════════════════════════════════════════════════════════════════════

// OnLinkChangedHandler schedules structural reconciliation for courses
// whose subtree was edited.
type OnLinkChangedHandler struct {
	tasks  shared.TaskPublisher
	logger *slog.Logger
}

// NewOnLinkChangedHandler creates a new OnLinkChangedHandler.
func NewOnLinkChangedHandler(tasks shared.TaskPublisher, logger *slog.Logger) *OnLinkChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnLinkChangedHandler{
		tasks:  tasks,
		logger: logger.With("handler", "on_link_changed"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnLinkChangedHandler) Handle(event shared.Event) error {
	linkEvent, ok := event.(shared.ContentLinkChangedEvent)
	if !ok {
		h.logger.Warn("received non-ContentLinkChangedEvent", "event_type", event.EventType())
		return nil
	}
	if linkEvent.CourseID == "" {
		h.logger.Warn("link change without course, dropping", "action", linkEvent.Action)
		return nil
	}

	payload := shared.ReconcileCoursePayload{CourseID: linkEvent.CourseID}
	if err := h.tasks.PublishTask(shared.TaskReconcileCourse, payload); err != nil {
		return shared.WrapError("eventhandler", "OnLinkChanged", shared.ErrDependencyUnavailable,
			"enqueue reconciliation", err)
	}

	h.logger.Info("scheduled course reconciliation",
		"course_id", linkEvent.CourseID,
		"action", linkEvent.Action,
	)
	return nil
}
