package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/blueprint"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/port/broadcast"
	"github.com/Strob0t/AgentForge/internal/port/cache"
	"github.com/Strob0t/AgentForge/internal/port/database"
)

const statsCacheKey = "stats:v1"

// Stats is the dashboard summary.
type Stats struct {
	ActiveAgents      int        `json:"active_agents"`
	TotalDeployments  int        `json:"total_deployments"`
	SuccessRate       int        `json:"success_rate"`
	WeeklyDeployments int        `json:"weekly_deployments"`
	LastDeployTime    *time.Time `json:"last_deploy_time"`
}

// ComputeStats derives Stats from the current records. Deployments must be
// ordered newest first.
func ComputeStats(agents []agent.Agent, deployments []deployment.Deployment, now time.Time) Stats {
	var st Stats
	for i := range agents {
		if agents[i].Status == agent.StatusRunning {
			st.ActiveAgents++
		}
	}

	st.TotalDeployments = len(deployments)
	weekAgo := now.AddDate(0, 0, -7)
	var succeeded int
	for i := range deployments {
		if deployments[i].Status == deployment.StatusSuccess {
			succeeded++
		}
		if deployments[i].CreatedAt.After(weekAgo) {
			st.WeeklyDeployments++
		}
	}
	if st.TotalDeployments > 0 {
		st.SuccessRate = int(math.Round(100 * float64(succeeded) / float64(st.TotalDeployments)))
		t := deployments[0].CreatedAt
		st.LastDeployTime = &t
	}
	return st
}

// RecordService serves the operator record API.
type RecordService struct {
	store    database.Store
	hub      broadcast.Broadcaster
	cache    cache.Cache
	statsTTL time.Duration
	now      func() time.Time
}

// NewRecordService creates a RecordService. hub and c may be nil.
func NewRecordService(store database.Store, hub broadcast.Broadcaster, c cache.Cache, statsTTL time.Duration) *RecordService {
	return &RecordService{store: store, hub: hub, cache: c, statsTTL: statsTTL, now: time.Now}
}

// ListAgents returns all agents, most recently updated first.
func (s *RecordService) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	return s.store.ListAgents(ctx)
}

// GetAgent returns an agent by ID.
func (s *RecordService) GetAgent(ctx context.Context, id int64) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// GetAgentByName returns an agent by its unique name.
func (s *RecordService) GetAgentByName(ctx context.Context, name string) (*agent.Agent, error) {
	return s.store.GetAgentByName(ctx, name)
}

// UpdateAgent applies an operator edit and broadcasts the result. Edits are
// not serialized against an in-flight run; the last write wins.
func (s *RecordService) UpdateAgent(ctx context.Context, id int64, u agent.OperatorUpdate) (*agent.Agent, error) {
	current, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.ValidateFor(current.Status); err != nil {
		return nil, err
	}
	a, err := s.store.UpdateAgent(ctx, id, u.ToUpdate())
	if err != nil {
		return nil, fmt.Errorf("update agent %d: %w", id, err)
	}
	s.invalidateStats(ctx)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventAgentUpdated, a)
	}
	return a, nil
}

// DeleteAgent hard-deletes an agent. Related records keep a dangling reference.
func (s *RecordService) DeleteAgent(ctx context.Context, id int64) error {
	if err := s.store.DeleteAgent(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventAgentDeleted, map[string]int64{"id": id})
	}
	return nil
}

// ListBlueprints returns all blueprints, newest first.
func (s *RecordService) ListBlueprints(ctx context.Context) ([]blueprint.Blueprint, error) {
	return s.store.ListBlueprints(ctx)
}

// ListAgentBlueprints returns the blueprints of one agent.
func (s *RecordService) ListAgentBlueprints(ctx context.Context, agentID int64) ([]blueprint.Blueprint, error) {
	return s.store.ListBlueprintsByAgent(ctx, agentID)
}

// GetBlueprint returns a blueprint by ID.
func (s *RecordService) GetBlueprint(ctx context.Context, id int64) (*blueprint.Blueprint, error) {
	return s.store.GetBlueprint(ctx, id)
}

// ListDeployments returns all deployments, newest first.
func (s *RecordService) ListDeployments(ctx context.Context) ([]deployment.Deployment, error) {
	return s.store.ListDeployments(ctx)
}

// ListAgentDeployments returns the deployments of one agent.
func (s *RecordService) ListAgentDeployments(ctx context.Context, agentID int64) ([]deployment.Deployment, error) {
	return s.store.ListDeploymentsByAgent(ctx, agentID)
}

// GetDeployment returns a deployment by ID.
func (s *RecordService) GetDeployment(ctx context.Context, id int64) (*deployment.Deployment, error) {
	return s.store.GetDeployment(ctx, id)
}

// ListActivity returns activity logs, newest first.
func (s *RecordService) ListActivity(ctx context.Context, opts activity.ListOptions) ([]activity.Log, error) {
	return s.store.ListActivityLogs(ctx, opts)
}

// Stats returns the dashboard summary, served from cache when fresh.
func (s *RecordService) Stats(ctx context.Context) (Stats, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, statsCacheKey); err == nil && ok {
			var st Stats
			if err := json.Unmarshal(data, &st); err == nil {
				return st, nil
			}
		}
	}

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list agents: %w", err)
	}
	deployments, err := s.store.ListDeployments(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list deployments: %w", err)
	}
	st := ComputeStats(agents, deployments, s.now())

	if s.cache != nil && s.statsTTL > 0 {
		if data, err := json.Marshal(st); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, data, s.statsTTL); err != nil {
				slog.Debug("stats cache set failed", "error", err)
			}
		}
	}
	return st, nil
}

// InvalidateStats drops the cached summary. It is hooked to completed runs.
func (s *RecordService) InvalidateStats(ctx context.Context) {
	s.invalidateStats(ctx)
}

func (s *RecordService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		slog.Debug("stats cache delete failed", "error", err)
	}
}
