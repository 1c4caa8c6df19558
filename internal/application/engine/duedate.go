package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/plan"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
	"github.com/felipe0410/enrolment-sub004/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION DUE-DATE RESOLVER
// Evaluates the declarative completion rule attached to a node into a
// concrete due date for one enrolment, then materializes a Plan record
// and links it. Rules scoped to "this item within this specific parent"
// win over node-global rules, so a reusable item can carry different
// deadlines under different modules.
// ══════════════════════════════════════════════════════════════════════════════

// maxRuleDepth caps duration-since-parent-enrolment-start composition.
// Deeper chains than this indicate a cycle in the rule definitions.
const maxRuleDepth = 10

// DueDateResolver resolves completion rules into due dates and plans.
type DueDateResolver struct {
	store     enrolment.Store
	plans     plan.Store
	resolver  content.Resolver
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewDueDateResolver creates a new DueDateResolver.
func NewDueDateResolver(
	store enrolment.Store,
	plans plan.Store,
	resolver content.Resolver,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *DueDateResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DueDateResolver{
		store:     store,
		plans:     plans,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger.With("engine", "duedate"),
	}
}

// Resolve evaluates the completion rule for the given node/occurrence
// against the enrolment. Returns (nil, nil) when no rule is attached.
// An unknown rule type is a hard failure: it signals a corrupt rule
// definition, not a transient condition.
func (d *DueDateResolver) Resolve(ctx context.Context, loID, parentLOID string, e *enrolment.Enrolment) (*time.Time, error) {
	rule, err := d.resolver.CompletionRuleOf(ctx, loID, parentLOID)
	if err != nil {
		if shared.IsBenign(err) {
			return nil, nil
		}
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}
	due, err := d.resolveRule(ctx, rule, parentLOID, e, 0)
	if err != nil {
		return nil, err
	}
	return &due, nil
}

// resolveRule dispatches on the rule type, composing through parent
// rules up to maxRuleDepth.
func (d *DueDateResolver) resolveRule(ctx context.Context, rule *content.CompletionRule, parentLOID string, e *enrolment.Enrolment, depth int) (time.Time, error) {
	if depth > maxRuleDepth {
		return time.Time{}, shared.NewDomainError("plan", "Resolve", shared.ErrDataIntegrity, "completion rule chain too deep")
	}

	switch rule.Type {
	case content.RuleFixedDate:
		due, err := timeutil.ParseDate(rule.Value)
		if err != nil {
			return time.Time{}, shared.WrapError("plan", "Resolve", shared.ErrDataIntegrity, "fixed due date", err)
		}
		return due, nil

	case content.RuleSinceEnrolmentStart:
		iv, err := timeutil.ParseInterval(rule.Value)
		if err != nil {
			return time.Time{}, shared.WrapError("plan", "Resolve", shared.ErrDataIntegrity, "rule interval", err)
		}
		return iv.AddTo(timeutil.OrNow(e.StartDate)), nil

	case content.RuleSinceParentEnrolmentStart:
		iv, err := timeutil.ParseInterval(rule.Value)
		if err != nil {
			return time.Time{}, shared.WrapError("plan", "Resolve", shared.ErrDataIntegrity, "rule interval", err)
		}
		anchor, err := d.parentAnchor(ctx, parentLOID, e, depth)
		if err != nil {
			return time.Time{}, err
		}
		return iv.AddTo(anchor), nil

	case content.RuleSinceCourseEnrolmentStart:
		iv, err := timeutil.ParseInterval(rule.Value)
		if err != nil {
			return time.Time{}, shared.WrapError("plan", "Resolve", shared.ErrDataIntegrity, "rule interval", err)
		}
		anchor, err := d.courseAnchor(ctx, e)
		if err != nil {
			return time.Time{}, err
		}
		return iv.AddTo(anchor), nil

	default:
		return time.Time{}, shared.WrapError("plan", "Resolve", shared.ErrDataIntegrity,
			string(rule.Type), shared.ErrUnknownRuleType)
	}
}

// parentAnchor finds the anchor date for a duration-since-parent rule:
// when the parent node carries a rule of its own, the parent's resolved
// due date is the anchor (composing through arbitrary nesting depth);
// otherwise the parent enrolment's start date.
func (d *DueDateResolver) parentAnchor(ctx context.Context, parentLOID string, e *enrolment.Enrolment, depth int) (time.Time, error) {
	if parentLOID == "" {
		return timeutil.OrNow(e.StartDate), nil
	}
	pe, err := d.store.LoadByLOAndUser(ctx, parentLOID, e.UserID, e.TakenPortalID)
	if err != nil {
		if shared.IsBenign(err) {
			// No parent enrolment yet; anchor on this enrolment instead.
			return timeutil.OrNow(e.StartDate), nil
		}
		return time.Time{}, err
	}

	parentRule, err := d.resolver.CompletionRuleOf(ctx, parentLOID, pe.ParentLOID)
	if err != nil && !shared.IsBenign(err) {
		return time.Time{}, err
	}
	if parentRule != nil {
		return d.resolveRule(ctx, parentRule, pe.ParentLOID, pe, depth+1)
	}
	return timeutil.OrNow(pe.StartDate), nil
}

// courseAnchor walks up to the top-level course enrolment and returns
// its start date.
func (d *DueDateResolver) courseAnchor(ctx context.Context, e *enrolment.Enrolment) (time.Time, error) {
	current := e
	for depth := 0; depth < 16; depth++ {
		if current.IsRoot() {
			return timeutil.OrNow(current.StartDate), nil
		}
		parent, err := d.store.ParentEnrolment(ctx, current)
		if err != nil {
			if shared.IsBenign(err) {
				return timeutil.OrNow(current.StartDate), nil
			}
			return time.Time{}, err
		}
		if parent == nil {
			return timeutil.OrNow(current.StartDate), nil
		}
		current = parent
	}
	return time.Time{}, shared.NewDomainError("plan", "Resolve", shared.ErrDataIntegrity, "enrolment ancestry too deep")
}

// Apply resolves the due date for an enrolment and, when one is
// produced, merge-creates the matching Plan and links it to the
// enrolment. Both side effects are idempotent: a second resolution for
// the same (entity, user) merges rather than duplicating, and linking
// skips existing links.
func (d *DueDateResolver) Apply(ctx context.Context, e *enrolment.Enrolment) error {
	rule, err := d.resolver.CompletionRuleOf(ctx, e.LOID, e.ParentLOID)
	if err != nil {
		if shared.IsBenign(err) {
			return nil
		}
		return err
	}
	if rule == nil {
		return nil
	}

	due, err := d.resolveRule(ctx, rule, e.ParentLOID, e, 0)
	if err != nil {
		return err
	}

	p, err := plan.New(e.UserID, e.TakenPortalID, rule.EntityType, rule.EntityID, &due)
	if err != nil {
		return err
	}
	stored, err := d.plans.MergeCreate(ctx, p)
	if err != nil {
		return err
	}
	if err := d.plans.LinkEnrolment(ctx, stored.ID, e.ID); err != nil {
		return err
	}

	// Mirror the due date onto the enrolment so expiry sweeps can query
	// it without joining plans.
	if e.DueDate == nil || !e.DueDate.Equal(due) {
		e.DueDate = &due
		if err := d.store.Update(ctx, e); err != nil {
			return err
		}
	}

	d.logger.Info("due date resolved",
		"enrolment_id", e.ID,
		"lo_id", e.LOID,
		"plan_id", stored.ID,
		"due_date", due.Format(time.RFC3339),
	)
	if d.publisher != nil && stored.ID == p.ID {
		// A new plan (not a merge) is announced to other consumers.
		ev := shared.NewPlanCreatedEvent(stored.ID, stored.UserID, stored.EntityType, stored.EntityID, stored.DueDate)
		if err := d.publisher.Publish(ev); err != nil {
			d.logger.Error("failed to publish plan event", "plan_id", stored.ID, "error", err)
		}
	}
	return nil
}

// LinkPlan associates an externally created plan with the learner's
// matching enrolment, if one exists. Used when plan.created events
// arrive from other producers (assignment, group rollout).
func (d *DueDateResolver) LinkPlan(ctx context.Context, p *plan.Plan) error {
	if p.EntityType != content.EntityTypeNode {
		// Occurrence-scoped plans are linked by the resolver that created
		// them; there is no node to look an enrolment up by.
		return nil
	}
	e, err := d.store.LoadByLOAndUser(ctx, p.EntityID, p.UserID, p.InstanceID)
	if err != nil {
		if shared.IsBenign(err) {
			return nil
		}
		return err
	}
	found, err := d.plans.FoundLink(ctx, p.ID, e.ID)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return d.plans.LinkEnrolment(ctx, p.ID, e.ID)
}
