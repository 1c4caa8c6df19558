package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/enrolment"
	"github.com/felipe0410/enrolment-sub004/internal/domain/plan"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY ENROLMENT STORE
// ══════════════════════════════════════════════════════════════════════════════

type memStore struct {
	mu         sync.Mutex
	enrolments map[string]*enrolment.Enrolment
}

func newMemStore() *memStore {
	return &memStore{enrolments: make(map[string]*enrolment.Enrolment)}
}

func (s *memStore) put(e *enrolment.Enrolment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrolments[e.ID] = e
}

func (s *memStore) Load(ctx context.Context, id string) (*enrolment.Enrolment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrolments[id]
	if !ok {
		return nil, shared.ErrEnrolmentNotFound
	}
	return e, nil
}

func (s *memStore) LoadByLOAndUser(ctx context.Context, loID, userID, portalID string) (*enrolment.Enrolment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrolments {
		if e.LOID == loID && e.UserID == userID && e.TakenPortalID == portalID && !e.Archived {
			return e, nil
		}
	}
	return nil, shared.ErrEnrolmentNotFound
}

func (s *memStore) ParentEnrolment(ctx context.Context, e *enrolment.Enrolment) (*enrolment.Enrolment, error) {
	if e.ParentEnrolmentID == "" {
		return nil, nil
	}
	return s.Load(ctx, e.ParentEnrolmentID)
}

func (s *memStore) LoadByParentAndLO(ctx context.Context, parentEnrolmentID, loID string) (*enrolment.Enrolment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrolments {
		if e.ParentEnrolmentID == parentEnrolmentID && e.LOID == loID && !e.Archived {
			return e, nil
		}
	}
	return nil, shared.ErrEnrolmentNotFound
}

func (s *memStore) activeChildren(parentID string) []*enrolment.Enrolment {
	children := make([]*enrolment.Enrolment, 0)
	for _, e := range s.enrolments {
		if e.ParentEnrolmentID == parentID && !e.Archived {
			children = append(children, e)
		}
	}
	return children
}

func (s *memStore) ChildrenCompleted(ctx context.Context, e *enrolment.Enrolment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.activeChildren(e.ID) {
		if c.Status != enrolment.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (s *memStore) ActiveChildCount(ctx context.Context, e *enrolment.Enrolment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeChildren(e.ID)), nil
}

func (s *memStore) Create(ctx context.Context, e *enrolment.Enrolment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.enrolments {
		if existing.LOID == e.LOID && existing.UserID == e.UserID &&
			existing.TakenPortalID == e.TakenPortalID && !existing.Archived {
			return shared.ErrEnrolmentAlreadyExists
		}
	}
	s.enrolments[e.ID] = e
	return nil
}

func (s *memStore) ChangeStatus(ctx context.Context, e *enrolment.Enrolment, newStatus enrolment.Status, tctx enrolment.TransitionContext) error {
	if err := e.Transition(newStatus, tctx); err != nil {
		return err
	}
	s.put(e)
	return nil
}

func (s *memStore) Update(ctx context.Context, e *enrolment.Enrolment) error {
	s.put(e)
	return nil
}

func (s *memStore) DeleteEnrolment(ctx context.Context, e *enrolment.Enrolment, actorID string, tctx enrolment.TransitionContext) error {
	e.Archive(tctx)
	s.put(e)
	return nil
}

func (s *memStore) ListPendingByModule(ctx context.Context, moduleID, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for _, e := range s.enrolments {
		if e.UserID != userID || e.Archived || e.Status != enrolment.StatusPending {
			continue
		}
		if e.LOID == moduleID || e.ParentLOID == moduleID {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) ListPending(ctx context.Context, opts enrolment.ListOptions) ([]*enrolment.Enrolment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*enrolment.Enrolment, 0)
	for _, e := range s.enrolments {
		if !e.Archived && e.Status == enrolment.StatusPending {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, opts), nil
}

func (s *memStore) FindMisplaced(ctx context.Context, moduleID string, itemIDs []string, limit int) ([]enrolment.MisplacedRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := toSet(itemIDs)
	refs := make([]enrolment.MisplacedRef, 0)
	for _, e := range s.enrolments {
		if e.Archived || !items[e.LOID] || e.ParentLOID == moduleID || e.ParentLOID == "" {
			continue
		}
		refs = append(refs, enrolment.MisplacedRef{
			EnrolmentID: e.ID,
			UserID:      e.UserID,
			LOID:        e.LOID,
			ParentLOID:  e.ParentLOID,
		})
		if len(refs) >= limit {
			break
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].EnrolmentID < refs[j].EnrolmentID })
	return refs, nil
}

func (s *memStore) FindOrphans(ctx context.Context, moduleID string, itemIDs []string, limit int) ([]*enrolment.Enrolment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := toSet(itemIDs)
	orphans := make([]*enrolment.Enrolment, 0)
	for _, e := range s.enrolments {
		if e.Archived || e.ParentLOID != moduleID || items[e.LOID] {
			continue
		}
		orphans = append(orphans, e)
		if len(orphans) >= limit {
			break
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })
	return orphans, nil
}

func (s *memStore) ListDueBetween(ctx context.Context, from, to time.Time, opts enrolment.ListOptions) ([]*enrolment.Enrolment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*enrolment.Enrolment, 0)
	for _, e := range s.enrolments {
		if e.Archived || e.Status == enrolment.StatusCompleted || e.DueDate == nil {
			continue
		}
		if !e.DueDate.Before(from) && e.DueDate.Before(to) {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, opts), nil
}

func page(all []*enrolment.Enrolment, opts enrolment.ListOptions) []*enrolment.Enrolment {
	if opts.Offset >= len(all) {
		return nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE HIERARCHY RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

type fixtureResolver struct {
	graphs map[string]*content.Graph
}

func newFixtureResolver(graphs ...*content.Graph) *fixtureResolver {
	r := &fixtureResolver{graphs: make(map[string]*content.Graph)}
	for _, g := range graphs {
		r.graphs[g.CourseID()] = g
	}
	return r
}

func (r *fixtureResolver) CourseGraph(ctx context.Context, courseID string) (*content.Graph, error) {
	g, ok := r.graphs[courseID]
	if !ok {
		return nil, shared.ErrNodeNotFound
	}
	return g, nil
}

func (r *fixtureResolver) ModuleIDsOf(ctx context.Context, courseID string) ([]string, error) {
	g, ok := r.graphs[courseID]
	if !ok {
		return nil, shared.ErrNodeNotFound
	}
	return g.ModuleIDs(courseID), nil
}

func (r *fixtureResolver) ItemIDsOf(ctx context.Context, moduleID string) ([]string, error) {
	for _, g := range r.graphs {
		if g.IsModule(moduleID) {
			return g.ItemIDs(moduleID), nil
		}
	}
	return nil, shared.ErrNotAModule
}

func (r *fixtureResolver) DependentsOf(ctx context.Context, moduleID string) ([]string, error) {
	for _, g := range r.graphs {
		if deps := g.Dependents(moduleID); len(deps) > 0 {
			return deps, nil
		}
	}
	return nil, nil
}

func (r *fixtureResolver) PrerequisitesOf(ctx context.Context, moduleID string) ([]string, error) {
	for _, g := range r.graphs {
		if pre := g.Prerequisites(moduleID); len(pre) > 0 {
			return pre, nil
		}
	}
	return nil, nil
}

func (r *fixtureResolver) IsModule(ctx context.Context, nodeID string) (bool, error) {
	for _, g := range r.graphs {
		if g.IsModule(nodeID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fixtureResolver) IsSingleItem(ctx context.Context, nodeID string) (bool, error) {
	for _, g := range r.graphs {
		if g.IsSingleItem(nodeID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fixtureResolver) CompletionRuleOf(ctx context.Context, nodeID, scopedParentID string) (*content.CompletionRule, error) {
	for _, g := range r.graphs {
		if rule := g.CompletionRule(nodeID, scopedParentID); rule != nil {
			return rule, nil
		}
	}
	return nil, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY TASK PUBLISHER AND EVENT SINK
// ══════════════════════════════════════════════════════════════════════════════

type memTasks struct {
	mu    sync.Mutex
	tasks []recordedTask
}

type recordedTask struct {
	Type    shared.TaskType
	Payload interface{}
}

func (t *memTasks) PublishTask(taskType shared.TaskType, payload interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = append(t.tasks, recordedTask{Type: taskType, Payload: payload})
	return nil
}

func (t *memTasks) drain() []recordedTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.tasks
	t.tasks = nil
	return out
}

type memEvents struct {
	mu     sync.Mutex
	events []shared.Event
}

func (s *memEvents) Publish(event shared.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memEvents) ofType(t shared.EventType) []shared.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]shared.Event, 0)
	for _, e := range s.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY PLAN STORE
// ══════════════════════════════════════════════════════════════════════════════

type memPlans struct {
	mu    sync.Mutex
	plans map[string]*plan.Plan
	links map[string]bool // planID+"|"+enrolmentID
}

func newMemPlans() *memPlans {
	return &memPlans{
		plans: make(map[string]*plan.Plan),
		links: make(map[string]bool),
	}
}

func (s *memPlans) Load(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, shared.ErrPlanNotFound
	}
	return p, nil
}

func (s *memPlans) FindByEntity(ctx context.Context, entityType, entityID, userID string) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.EntityType == entityType && p.EntityID == entityID && p.UserID == userID {
			return p, nil
		}
	}
	return nil, shared.ErrPlanNotFound
}

func (s *memPlans) MergeCreate(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.plans {
		if existing.EntityType == p.EntityType && existing.EntityID == p.EntityID && existing.UserID == p.UserID {
			existing.Merge(p.DueDate)
			return existing, nil
		}
	}
	s.plans[p.ID] = p
	return p, nil
}

func (s *memPlans) LinkEnrolment(ctx context.Context, planID, enrolmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[planID+"|"+enrolmentID] = true
	return nil
}

func (s *memPlans) UnlinkEnrolment(ctx context.Context, planID, enrolmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, planID+"|"+enrolmentID)
	return nil
}

func (s *memPlans) FoundLink(ctx context.Context, planID, enrolmentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[planID+"|"+enrolmentID], nil
}

func (s *memPlans) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

const testPortal = "portal-1"

// enrol creates and stores an active enrolment with the given status.
func enrol(s *memStore, userID, loID string, parent *enrolment.Enrolment, status enrolment.Status) *enrolment.Enrolment {
	e, err := enrolment.New(userID, "profile-"+userID, loID, testPortal)
	if err != nil {
		panic(err)
	}
	if parent != nil {
		e.WithParent(parent.LOID, parent.ID)
	}
	if status != enrolment.StatusNotStarted {
		tctx := enrolment.TransitionContext{Action: enrolment.ActionEnrol, ActorID: enrolment.SystemActorID}
		if status == enrolment.StatusCompleted {
			// Walk through in-progress so start/end dates are set.
			if err := e.Transition(enrolment.StatusInProgress, tctx); err != nil {
				panic(err)
			}
		}
		if err := e.Transition(status, tctx); err != nil {
			panic(err)
		}
	}
	s.put(e)
	return e
}

// courseEdges builds the has-module/has-item edges for a simple course.
func courseEdges(courseID string, modules map[string][]string) []content.Edge {
	edges := make([]content.Edge, 0)
	for moduleID, items := range modules {
		edges = append(edges, content.Edge{
			ID: courseID + "-m" + moduleID, Type: content.EdgeHasModule, From: courseID, To: moduleID,
		})
		for _, itemID := range items {
			edges = append(edges, content.Edge{
				ID: moduleID + "-i" + itemID, Type: content.EdgeHasItem, From: moduleID, To: itemID,
			})
		}
	}
	return edges
}
