package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/blueprint"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const agentColumns = `id, name, description, prompt, code, status, version, created_at, updated_at, last_run, github_url, render_url, metadata`

// --- Agents ---

func (s *Store) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return orEmpty(agents), rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id int64) (*agent.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get agent %d", id)
	}
	return &a, nil
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (*agent.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = $1`, name))
	if err != nil {
		return nil, notFoundWrap(err, "get agent %q", name)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`INSERT INTO agents (name, description, prompt, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+agentColumns,
		req.Name, req.Description, req.Prompt, string(agent.StatusCreating)))
	if err != nil {
		return nil, conflictWrap(err, "create agent %q", req.Name)
	}
	return &a, nil
}

// UpdateAgent applies u under a row lock so concurrent partial updates of the
// same agent do not lose fields.
func (s *Store) UpdateAgent(ctx context.Context, id int64, u agent.Update) (*agent.Agent, error) {
	var out agent.Agent
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		a, err := scanAgent(tx.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFoundWrap(err, "update agent %d", id)
		}
		u.Apply(&a, time.Now().UTC())

		meta, err := marshalMetadata(a.Metadata)
		if err != nil {
			return err
		}
		out, err = scanAgent(tx.QueryRow(ctx,
			`UPDATE agents SET description = $2, code = $3, status = $4, updated_at = $5,
			        last_run = $6, github_url = $7, render_url = $8, metadata = $9
			 WHERE id = $1
			 RETURNING `+agentColumns,
			id, a.Description, a.Code, string(a.Status), a.UpdatedAt, a.LastRun, a.GithubURL, a.RenderURL, meta))
		if err != nil {
			return fmt.Errorf("update agent %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) DeleteAgent(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete agent %d", id)
}

func scanAgent(row scannable) (agent.Agent, error) {
	var (
		a      agent.Agent
		status string
		meta   []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Prompt, &a.Code, &status, &a.Version,
		&a.CreatedAt, &a.UpdatedAt, &a.LastRun, &a.GithubURL, &a.RenderURL, &meta)
	if err != nil {
		return a, err
	}
	a.Status = agent.Status(status)
	a.Metadata, err = unmarshalMetadata(meta)
	return a, err
}

// --- Deployments ---

const deploymentColumns = `id, agent_id, status, stage, progress, logs, error, created_at, completed_at`

func (s *Store) ListDeployments(ctx context.Context) ([]deployment.Deployment, error) {
	return s.queryDeployments(ctx, "list deployments",
		`SELECT `+deploymentColumns+` FROM deployments ORDER BY created_at DESC, id DESC`)
}

func (s *Store) ListDeploymentsByAgent(ctx context.Context, agentID int64) ([]deployment.Deployment, error) {
	return s.queryDeployments(ctx, "list deployments by agent",
		`SELECT `+deploymentColumns+` FROM deployments WHERE agent_id = $1 ORDER BY created_at DESC, id DESC`, agentID)
}

func (s *Store) queryDeployments(ctx context.Context, op, query string, args ...any) ([]deployment.Deployment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []deployment.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, d)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) GetDeployment(ctx context.Context, id int64) (*deployment.Deployment, error) {
	d, err := scanDeployment(s.pool.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get deployment %d", id)
	}
	return &d, nil
}

func (s *Store) CreateDeployment(ctx context.Context, agentID *int64) (*deployment.Deployment, error) {
	fresh := deployment.New(agentID, time.Now().UTC())
	d, err := scanDeployment(s.pool.QueryRow(ctx,
		`INSERT INTO deployments (agent_id, status, stage, progress, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+deploymentColumns,
		fresh.AgentID, string(fresh.Status), fresh.Stage.String(), fresh.Progress, fresh.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	return &d, nil
}

// UpdateDeployment validates u against the locked row before writing, so the
// progress and completion invariants hold under concurrent writers.
func (s *Store) UpdateDeployment(ctx context.Context, id int64, u deployment.Update) (*deployment.Deployment, error) {
	var out deployment.Deployment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		d, err := scanDeployment(tx.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFoundWrap(err, "update deployment %d", id)
		}
		if err := u.Apply(&d, time.Now().UTC()); err != nil {
			return fmt.Errorf("update deployment %d: %w", id, err)
		}
		out, err = scanDeployment(tx.QueryRow(ctx,
			`UPDATE deployments SET status = $2, stage = $3, progress = $4, logs = $5, error = $6, completed_at = $7
			 WHERE id = $1
			 RETURNING `+deploymentColumns,
			id, string(d.Status), d.Stage.String(), d.Progress, d.Logs, d.Error, d.CompletedAt))
		if err != nil {
			return fmt.Errorf("update deployment %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func scanDeployment(row scannable) (deployment.Deployment, error) {
	var (
		d             deployment.Deployment
		status, stage string
	)
	err := row.Scan(&d.ID, &d.AgentID, &status, &stage, &d.Progress, &d.Logs, &d.Error, &d.CreatedAt, &d.CompletedAt)
	if err != nil {
		return d, err
	}
	d.Status = deployment.Status(status)
	d.Stage, err = deployment.ParseStage(stage)
	return d, err
}

// --- Blueprints ---

const blueprintColumns = `id, agent_id, name, version, content, created_at`

func (s *Store) ListBlueprints(ctx context.Context) ([]blueprint.Blueprint, error) {
	return s.queryBlueprints(ctx, "list blueprints",
		`SELECT `+blueprintColumns+` FROM blueprints ORDER BY created_at DESC, id DESC`)
}

func (s *Store) ListBlueprintsByAgent(ctx context.Context, agentID int64) ([]blueprint.Blueprint, error) {
	return s.queryBlueprints(ctx, "list blueprints by agent",
		`SELECT `+blueprintColumns+` FROM blueprints WHERE agent_id = $1 ORDER BY created_at DESC, id DESC`, agentID)
}

func (s *Store) queryBlueprints(ctx context.Context, op, query string, args ...any) ([]blueprint.Blueprint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []blueprint.Blueprint
	for rows.Next() {
		b, err := scanBlueprint(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, b)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) GetBlueprint(ctx context.Context, id int64) (*blueprint.Blueprint, error) {
	b, err := scanBlueprint(s.pool.QueryRow(ctx, `SELECT `+blueprintColumns+` FROM blueprints WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get blueprint %d", id)
	}
	return &b, nil
}

func (s *Store) CreateBlueprint(ctx context.Context, req blueprint.CreateRequest) (*blueprint.Blueprint, error) {
	b, err := scanBlueprint(s.pool.QueryRow(ctx,
		`INSERT INTO blueprints (agent_id, name, version, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+blueprintColumns,
		req.AgentID, req.Name, req.Version, req.Content))
	if err != nil {
		return nil, fmt.Errorf("create blueprint: %w", err)
	}
	return &b, nil
}

func scanBlueprint(row scannable) (blueprint.Blueprint, error) {
	var b blueprint.Blueprint
	err := row.Scan(&b.ID, &b.AgentID, &b.Name, &b.Version, &b.Content, &b.CreatedAt)
	return b, err
}

// --- Activity logs ---

const activityColumns = `id, level, message, agent_id, deployment_id, metadata, created_at`

func (s *Store) ListActivityLogs(ctx context.Context, opts activity.ListOptions) ([]activity.Log, error) {
	limit := opts.EffectiveLimit()
	if limit == 0 {
		return []activity.Log{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_logs
		 WHERE ($1::BIGINT IS NULL OR agent_id = $1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, opts.AgentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	var out []activity.Log
	for rows.Next() {
		l, err := scanActivityLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		out = append(out, l)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) CreateActivityLog(ctx context.Context, req activity.CreateRequest) (*activity.Log, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	meta, err := marshalMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}
	l, err := scanActivityLog(s.pool.QueryRow(ctx,
		`INSERT INTO activity_logs (level, message, agent_id, deployment_id, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+activityColumns,
		string(req.Level), req.Message, req.AgentID, req.DeploymentID, meta))
	if err != nil {
		return nil, fmt.Errorf("create activity log: %w", err)
	}
	return &l, nil
}

func scanActivityLog(row scannable) (activity.Log, error) {
	var (
		l     activity.Log
		level string
		meta  []byte
	)
	err := row.Scan(&l.ID, &level, &l.Message, &l.AgentID, &l.DeploymentID, &meta, &l.CreatedAt)
	if err != nil {
		return l, err
	}
	l.Level = activity.Level(level)
	l.Metadata, err = unmarshalMetadata(meta)
	return l, err
}
