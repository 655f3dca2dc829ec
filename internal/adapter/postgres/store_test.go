package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/Strob0t/AgentForge/internal/adapter/postgres"
	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/blueprint"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
)

// setupStore creates a pgxpool connection, runs all migrations, truncates the
// record tables and returns a ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := config.Defaults().Postgres
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `TRUNCATE activity_logs, blueprints, deployments, agents`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return postgres.NewStore(pool)
}

func TestAgentCRUD(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, agent.CreateRequest{Name: "pg-agent", Description: "d", Prompt: "Create a pg agent"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != agent.StatusCreating || a.Version != 1 {
		t.Errorf("unexpected new agent %+v", a)
	}

	updated, err := s.UpdateAgent(ctx, a.ID, agent.Update{
		Code:      agent.Ptr("print('hi')"),
		Status:    agent.Ptr(agent.StatusTesting),
		GithubURL: agent.Ptr("https://github.com/acme/agents/commit/abc"),
		Metadata:  map[string]any{"language": "python"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Code != "print('hi')" || updated.Status != agent.StatusTesting {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.Metadata["language"] != "python" {
		t.Errorf("metadata not stored: %v", updated.Metadata)
	}

	byName, err := s.GetAgentByName(ctx, "pg-agent")
	if err != nil {
		t.Fatal(err)
	}
	if byName.ID != a.ID {
		t.Errorf("expected id %d, got %d", a.ID, byName.ID)
	}

	if _, err := s.CreateAgent(ctx, agent.CreateRequest{Name: "pg-agent"}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}

	if err := s.DeleteAgent(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAgent(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteAgent(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}

func TestDeleteAgentNullsReferences(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, agent.CreateRequest{Name: "pg-orphan"})
	if err != nil {
		t.Fatal(err)
	}
	d, err := s.CreateDeployment(ctx, &a.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateBlueprint(ctx, blueprint.CreateRequest{AgentID: &a.ID, Name: "v1-pg-orphan", Version: "v1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAgent(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	gotD, err := s.GetDeployment(ctx, d.ID)
	if err != nil {
		t.Fatalf("deployment should survive agent delete: %v", err)
	}
	if gotD.AgentID != nil {
		t.Errorf("deployment agent_id = %d, want nil", *gotD.AgentID)
	}
	gotB, err := s.GetBlueprint(ctx, b.ID)
	if err != nil {
		t.Fatalf("blueprint should survive agent delete: %v", err)
	}
	if gotB.AgentID != nil {
		t.Errorf("blueprint agent_id = %d, want nil", *gotB.AgentID)
	}
}

func TestUpdateMissingRecords(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.UpdateAgent(ctx, 424242, agent.Update{Status: agent.Ptr(agent.StatusFailed)}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.UpdateDeployment(ctx, 424242, deployment.Update{Progress: agent.Ptr(10)}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeploymentInvariants(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, agent.CreateRequest{Name: "dep-agent"})
	if err != nil {
		t.Fatal(err)
	}
	d, err := s.CreateDeployment(ctx, &a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != deployment.StatusPending || d.Stage != deployment.StageCodeGeneration {
		t.Errorf("unexpected initial deployment %+v", d)
	}

	d, err = s.UpdateDeployment(ctx, d.ID, deployment.Update{
		Status:   agent.Ptr(deployment.StatusInProgress),
		Stage:    agent.Ptr(deployment.StageTesting),
		Progress: agent.Ptr(40),
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Stage != deployment.StageTesting || d.CompletedAt != nil {
		t.Errorf("unexpected deployment %+v", d)
	}

	if _, err := s.UpdateDeployment(ctx, d.ID, deployment.Update{Progress: agent.Ptr(10)}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected decreasing progress to fail validation, got %v", err)
	}

	d, err = s.UpdateDeployment(ctx, d.ID, deployment.Update{Status: agent.Ptr(deployment.StatusSuccess), Progress: agent.Ptr(100)})
	if err != nil {
		t.Fatal(err)
	}
	if d.CompletedAt == nil {
		t.Error("expected completed_at for success")
	}

	deps, err := s.ListDeploymentsByAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 {
		t.Errorf("expected 1 deployment, got %d", len(deps))
	}
}

func TestBlueprintsAndLogs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, agent.CreateRequest{Name: "bp-agent"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateBlueprint(ctx, blueprint.CreateRequest{AgentID: &a.ID, Name: "v1-bp-agent", Version: "v1", Content: "# doc"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBlueprint(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "v1-bp-agent" || got.Content != "# doc" {
		t.Errorf("unexpected blueprint %+v", got)
	}

	for i := range 3 {
		_, err := s.CreateActivityLog(ctx, activity.CreateRequest{
			Level:    activity.LevelInfo,
			Message:  fmt.Sprintf("entry %d", i),
			AgentID:  &a.ID,
			Metadata: map[string]any{"n": i},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	two := 2
	logs, err := s.ListActivityLogs(ctx, activity.ListOptions{Limit: &two, AgentID: &a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Message != "entry 2" {
		t.Errorf("expected newest first, got %q", logs[0].Message)
	}

	zero := 0
	logs, err = s.ListActivityLogs(ctx, activity.ListOptions{Limit: &zero})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no logs for zero limit, got %d", len(logs))
	}
}
