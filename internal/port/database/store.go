// Package database defines the record store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/blueprint"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
)

// Store is the port interface for the record store. Implementations must be
// safe for concurrent use. Lists are ordered newest first. Updates and
// deletes of unknown ids return an error wrapping domain.ErrNotFound.
type Store interface {
	// Agents
	ListAgents(ctx context.Context) ([]agent.Agent, error)
	GetAgent(ctx context.Context, id int64) (*agent.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*agent.Agent, error)
	CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error)
	UpdateAgent(ctx context.Context, id int64, u agent.Update) (*agent.Agent, error)
	DeleteAgent(ctx context.Context, id int64) error

	// Deployments
	ListDeployments(ctx context.Context) ([]deployment.Deployment, error)
	ListDeploymentsByAgent(ctx context.Context, agentID int64) ([]deployment.Deployment, error)
	GetDeployment(ctx context.Context, id int64) (*deployment.Deployment, error)
	CreateDeployment(ctx context.Context, agentID *int64) (*deployment.Deployment, error)
	UpdateDeployment(ctx context.Context, id int64, u deployment.Update) (*deployment.Deployment, error)

	// Blueprints
	ListBlueprints(ctx context.Context) ([]blueprint.Blueprint, error)
	ListBlueprintsByAgent(ctx context.Context, agentID int64) ([]blueprint.Blueprint, error)
	GetBlueprint(ctx context.Context, id int64) (*blueprint.Blueprint, error)
	CreateBlueprint(ctx context.Context, req blueprint.CreateRequest) (*blueprint.Blueprint, error)

	// Activity logs
	ListActivityLogs(ctx context.Context, opts activity.ListOptions) ([]activity.Log, error)
	CreateActivityLog(ctx context.Context, req activity.CreateRequest) (*activity.Log, error)
}
