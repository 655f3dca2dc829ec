// Package memory implements the record store in process memory. It is the
// reference store used by default and in tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/blueprint"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store is a mutex-guarded in-memory record store. All entity kinds share one
// monotonically increasing id sequence. Records are copied on the way in and
// out so callers never alias stored state.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	now    func() time.Time

	agents      map[int64]*agent.Agent
	deployments map[int64]*deployment.Deployment
	blueprints  map[int64]*blueprint.Blueprint
	logs        map[int64]*activity.Log
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		agents:      make(map[int64]*agent.Agent),
		deployments: make(map[int64]*deployment.Deployment),
		blueprints:  make(map[int64]*blueprint.Blueprint),
		logs:        make(map[int64]*activity.Log),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// id must be called with mu held for writing.
func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- Agents ---

func (s *Store) ListAgents(_ context.Context) ([]agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, copyAgent(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i].UpdatedAt, out[i].ID, out[j].UpdatedAt, out[j].ID)
	})
	return out, nil
}

func (s *Store) GetAgent(_ context.Context, id int64) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent %d: %w", id, domain.ErrNotFound)
	}
	c := copyAgent(a)
	return &c, nil
}

func (s *Store) GetAgentByName(_ context.Context, name string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.agents {
		if a.Name == name {
			c := copyAgent(a)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("get agent %q: %w", name, domain.ErrNotFound)
}

func (s *Store) CreateAgent(_ context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.agents {
		if a.Name == req.Name {
			return nil, fmt.Errorf("create agent %q: %w", req.Name, domain.ErrConflict)
		}
	}

	now := s.now()
	a := &agent.Agent{
		ID:          s.id(),
		Name:        req.Name,
		Description: req.Description,
		Prompt:      req.Prompt,
		Status:      agent.StatusCreating,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.agents[a.ID] = a
	c := copyAgent(a)
	return &c, nil
}

func (s *Store) UpdateAgent(_ context.Context, id int64, u agent.Update) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("update agent %d: %w", id, domain.ErrNotFound)
	}
	u.Apply(a, s.now())
	c := copyAgent(a)
	return &c, nil
}

func (s *Store) DeleteAgent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("delete agent %d: %w", id, domain.ErrNotFound)
	}
	delete(s.agents, id)

	// Dependent records keep their rows but lose the agent reference.
	for _, d := range s.deployments {
		if d.AgentID != nil && *d.AgentID == id {
			d.AgentID = nil
		}
	}
	for _, b := range s.blueprints {
		if b.AgentID != nil && *b.AgentID == id {
			b.AgentID = nil
		}
	}
	for _, l := range s.logs {
		if l.AgentID != nil && *l.AgentID == id {
			l.AgentID = nil
		}
	}
	return nil
}

// --- Deployments ---

func (s *Store) ListDeployments(_ context.Context) ([]deployment.Deployment, error) {
	return s.listDeployments(func(*deployment.Deployment) bool { return true }), nil
}

func (s *Store) ListDeploymentsByAgent(_ context.Context, agentID int64) ([]deployment.Deployment, error) {
	return s.listDeployments(func(d *deployment.Deployment) bool {
		return d.AgentID != nil && *d.AgentID == agentID
	}), nil
}

func (s *Store) listDeployments(keep func(*deployment.Deployment) bool) []deployment.Deployment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]deployment.Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		if keep(d) {
			out = append(out, copyDeployment(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out
}

func (s *Store) GetDeployment(_ context.Context, id int64) (*deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("get deployment %d: %w", id, domain.ErrNotFound)
	}
	c := copyDeployment(d)
	return &c, nil
}

func (s *Store) CreateDeployment(_ context.Context, agentID *int64) (*deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := deployment.New(copyPtr(agentID), s.now())
	d.ID = s.id()
	s.deployments[d.ID] = &d
	c := copyDeployment(&d)
	return &c, nil
}

func (s *Store) UpdateDeployment(_ context.Context, id int64, u deployment.Update) (*deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("update deployment %d: %w", id, domain.ErrNotFound)
	}
	next := copyDeployment(d)
	if err := u.Apply(&next, s.now()); err != nil {
		return nil, fmt.Errorf("update deployment %d: %w", id, err)
	}
	s.deployments[id] = &next
	c := copyDeployment(&next)
	return &c, nil
}

// --- Blueprints ---

func (s *Store) ListBlueprints(_ context.Context) ([]blueprint.Blueprint, error) {
	return s.listBlueprints(func(*blueprint.Blueprint) bool { return true }), nil
}

func (s *Store) ListBlueprintsByAgent(_ context.Context, agentID int64) ([]blueprint.Blueprint, error) {
	return s.listBlueprints(func(b *blueprint.Blueprint) bool {
		return b.AgentID != nil && *b.AgentID == agentID
	}), nil
}

func (s *Store) listBlueprints(keep func(*blueprint.Blueprint) bool) []blueprint.Blueprint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]blueprint.Blueprint, 0, len(s.blueprints))
	for _, b := range s.blueprints {
		if keep(b) {
			c := *b
			c.AgentID = copyPtr(b.AgentID)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out
}

func (s *Store) GetBlueprint(_ context.Context, id int64) (*blueprint.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blueprints[id]
	if !ok {
		return nil, fmt.Errorf("get blueprint %d: %w", id, domain.ErrNotFound)
	}
	c := *b
	c.AgentID = copyPtr(b.AgentID)
	return &c, nil
}

func (s *Store) CreateBlueprint(_ context.Context, req blueprint.CreateRequest) (*blueprint.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &blueprint.Blueprint{
		ID:        s.id(),
		AgentID:   copyPtr(req.AgentID),
		Name:      req.Name,
		Version:   req.Version,
		Content:   req.Content,
		CreatedAt: s.now(),
	}
	s.blueprints[b.ID] = b
	c := *b
	c.AgentID = copyPtr(b.AgentID)
	return &c, nil
}

// --- Activity logs ---

func (s *Store) ListActivityLogs(_ context.Context, opts activity.ListOptions) ([]activity.Log, error) {
	limit := opts.EffectiveLimit()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]activity.Log, 0, min(limit, len(s.logs)))
	if limit == 0 {
		return out, nil
	}
	for _, l := range s.logs {
		if opts.AgentID != nil && (l.AgentID == nil || *l.AgentID != *opts.AgentID) {
			continue
		}
		out = append(out, copyLog(l))
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateActivityLog(_ context.Context, req activity.CreateRequest) (*activity.Log, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := &activity.Log{
		ID:           s.id(),
		Level:        req.Level,
		Message:      req.Message,
		AgentID:      copyPtr(req.AgentID),
		DeploymentID: copyPtr(req.DeploymentID),
		Metadata:     maps.Clone(req.Metadata),
		CreatedAt:    s.now(),
	}
	s.logs[l.ID] = l
	c := copyLog(l)
	return &c, nil
}

// newer orders by timestamp descending, breaking ties by id descending so
// records created within the same clock tick keep insertion order.
func newer(ti time.Time, idi int64, tj time.Time, idj int64) bool {
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return idi > idj
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyAgent(a *agent.Agent) agent.Agent {
	c := *a
	c.LastRun = copyPtr(a.LastRun)
	c.GithubURL = copyPtr(a.GithubURL)
	c.RenderURL = copyPtr(a.RenderURL)
	c.Metadata = maps.Clone(a.Metadata)
	return c
}

func copyDeployment(d *deployment.Deployment) deployment.Deployment {
	c := *d
	c.AgentID = copyPtr(d.AgentID)
	c.Logs = copyPtr(d.Logs)
	c.Error = copyPtr(d.Error)
	c.CompletedAt = copyPtr(d.CompletedAt)
	return c
}

func copyLog(l *activity.Log) activity.Log {
	c := *l
	c.AgentID = copyPtr(l.AgentID)
	c.DeploymentID = copyPtr(l.DeploymentID)
	c.Metadata = maps.Clone(l.Metadata)
	return c
}
