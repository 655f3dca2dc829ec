// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/admission"
	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/blueprint"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
	"github.com/Strob0t/AgentForge/internal/logger"
	"github.com/Strob0t/AgentForge/internal/port/database"
	"github.com/Strob0t/AgentForge/internal/port/stagebackend"
)

// maxNameAttempts bounds the suffixes tried when a generated name is taken.
const maxNameAttempts = 50

// PipelineService drives one prompt through generation, testing, publication
// and release. Runs are sequential internally; independent runs share only
// the store.
type PipelineService struct {
	store    database.Store
	backends stagebackend.Backends
	cfg      config.Pipeline
	pool     *admission.Pool
	metrics  *otel.Metrics
	now      func() time.Time
}

// NewPipelineService creates a PipelineService. The admission pool is sized
// from cfg.MaxConcurrentRuns.
func NewPipelineService(store database.Store, backends stagebackend.Backends, cfg config.Pipeline) *PipelineService {
	return &PipelineService{
		store:    store,
		backends: backends,
		cfg:      cfg,
		pool:     admission.NewPool(cfg.MaxConcurrentRuns),
		now:      time.Now,
	}
}

// SetMetrics attaches pipeline instruments.
func (s *PipelineService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// InFlight returns the number of runs currently executing.
func (s *PipelineService) InFlight() int64 {
	return s.pool.InFlight()
}

// RunDeployment executes the pipeline for a pre-validated prompt. Events are
// written to events (which may be nil) in checkpoint order and every run that
// gets admitted ends with exactly one complete event. The returned agent is
// the final running agent.
func (s *PipelineService) RunDeployment(ctx context.Context, prompt string, events chan<- deployment.Event) (*agent.Agent, error) {
	var result *agent.Agent
	err := s.pool.Run(ctx, func() error {
		r := &run{svc: s, prompt: prompt, events: events, started: s.now()}
		var err error
		result, err = r.execute(ctx)
		return err
	})
	return result, err
}

// run holds the state of one pipeline execution.
type run struct {
	svc     *PipelineService
	prompt  string
	events  chan<- deployment.Event
	started time.Time

	agent        *agent.Agent
	deploymentID int64
	stage        deployment.Stage
	progress     int
	log          *slog.Logger
	span         trace.Span
}

func (r *run) execute(ctx context.Context) (*agent.Agent, error) {
	r.log = slog.Default().With("component", "pipeline")
	r.svc.metrics.RunStarted(ctx)

	ctx, r.span = otel.StartDeploymentSpan(ctx)
	a, err := r.stages(ctx)
	otel.EndSpan(r.span, err)

	if err != nil {
		r.fail(ctx, err)
		r.svc.metrics.RunFinished(ctx, r.stage.String())
		return nil, err
	}
	r.svc.metrics.RunFinished(ctx, "")
	return a, nil
}

func (r *run) stages(ctx context.Context) (*agent.Agent, error) {
	gen, err := r.generate(ctx)
	if err != nil {
		return nil, err
	}
	result, err := r.test(ctx, gen)
	if err != nil {
		return nil, err
	}
	if err := r.publish(ctx, gen, result); err != nil {
		return nil, err
	}
	return r.release(ctx)
}

// generate runs the code_generation stage and creates the agent and
// deployment records.
func (r *run) generate(ctx context.Context) (pipeline.GeneratedCode, error) {
	r.checkpoint(ctx, deployment.StageCodeGeneration, deployment.StageCodeGeneration.EntryProgress(), "Generating agent code...")
	r.activity(ctx, activity.LevelInfo, "Starting agent deployment from prompt: "+truncate(r.prompt, 100)+"...",
		map[string]any{"prompt": r.prompt})

	var gen pipeline.GeneratedCode
	err := r.timed(ctx, deployment.StageCodeGeneration, r.svc.cfg.GenerateTimeout, func(ctx context.Context) error {
		var err error
		gen, err = r.svc.backends.Generator.Generate(ctx, r.prompt)
		return err
	})
	if err != nil {
		return gen, pipeline.Classify(err, pipeline.KindGeneration)
	}

	a, err := r.createAgent(ctx, gen)
	if err != nil {
		return gen, err
	}
	r.agent = a
	gen.Name = a.Name

	d, err := r.svc.store.CreateDeployment(ctx, &a.ID)
	if err != nil {
		return gen, fmt.Errorf("create deployment: %w", err)
	}
	r.deploymentID = d.ID
	r.log = r.log.With("deployment_id", d.ID, "agent", a.Name)
	r.span.SetAttributes(attribute.Int64("deployment.id", d.ID), attribute.String("agent.name", a.Name))

	if _, err := r.svc.store.UpdateDeployment(ctx, d.ID, deployment.Update{
		Status:   agent.Ptr(deployment.StatusInProgress),
		Stage:    agent.Ptr(deployment.StageCodeGeneration),
		Progress: agent.Ptr(r.progress),
	}); err != nil {
		return gen, fmt.Errorf("start deployment: %w", err)
	}

	if err := r.updateAgent(ctx, agent.Update{Code: &gen.Code, Status: agent.Ptr(agent.StatusTesting)}); err != nil {
		return gen, err
	}

	r.checkpoint(ctx, deployment.StageCodeGeneration, deployment.StageCodeGeneration.ExitProgress(), "Code generation completed")
	r.activity(ctx, activity.LevelSuccess, fmt.Sprintf("Generated %s.py (%d characters)", gen.Name, len(gen.Code)),
		map[string]any{"dependencies": gen.Dependencies})
	return gen, nil
}

// createAgent persists the agent, suffixing the generated name when it is
// already taken.
func (r *run) createAgent(ctx context.Context, gen pipeline.GeneratedCode) (*agent.Agent, error) {
	name := gen.Name
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		if attempt > 1 {
			name = fmt.Sprintf("%s-%d", gen.Name, attempt)
		}
		a, err := r.svc.store.CreateAgent(ctx, agent.CreateRequest{
			Name:        name,
			Description: gen.Description,
			Prompt:      r.prompt,
		})
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("create agent: %w", err)
		}
	}
	return nil, pipeline.NewError(pipeline.KindGeneration, fmt.Sprintf("Agent name %q is already taken", gen.Name), domain.ErrConflict)
}

// test runs the testing stage with at most one repair cycle.
func (r *run) test(ctx context.Context, gen pipeline.GeneratedCode) (pipeline.TestResult, error) {
	stage := deployment.StageTesting
	r.checkpoint(ctx, stage, stage.EntryProgress(), "Testing agent functionality...")

	var result pipeline.TestResult
	_ = r.timed(ctx, stage, 0, func(ctx context.Context) error {
		result = r.svc.backends.Tester.Run(ctx, r.agent.Code, gen.Name)
		return nil
	})

	if !result.Success {
		r.activity(ctx, activity.LevelWarn, "Initial test failed: "+result.Failure(),
			map[string]any{"test_output": result.Output})
		r.checkpoint(ctx, stage, deployment.RepairProgress, "Auto-fixing code issues...")
		r.svc.metrics.Repair(ctx)

		fixed, err := r.svc.backends.Repairer.Fix(ctx, r.agent.Code, result.Failure())
		if err == nil {
			err = r.updateAgent(ctx, agent.Update{Code: &fixed})
		}
		if err != nil {
			msg := pipeline.Message(err)
			r.log.Warn("repair failed", "error", err)
			r.activity(ctx, activity.LevelError, "Auto-fix failed: "+msg, map[string]any{"fix_error": msg})
		} else {
			_ = r.timed(ctx, stage, 0, func(ctx context.Context) error {
				result = r.svc.backends.Tester.Run(ctx, fixed, gen.Name)
				return nil
			})
		}
	}

	if !result.Success {
		return result, pipeline.NewError(pipeline.KindTestFailure, "Agent testing failed: "+result.Failure(), nil).
			WithDetail("output", result.Output)
	}

	r.checkpoint(ctx, stage, stage.ExitProgress(), "Testing completed successfully")
	r.activity(ctx, activity.LevelSuccess, fmt.Sprintf("Agent testing passed (%dms)", result.ExecutionTime),
		map[string]any{"test_result": result})
	return result, nil
}

// publish runs the github_push stage. The blueprint is persisted only after
// the publisher accepted it.
func (r *run) publish(ctx context.Context, gen pipeline.GeneratedCode, result pipeline.TestResult) error {
	stage := deployment.StageGithubPush
	r.checkpoint(ctx, stage, stage.EntryProgress(), "Pushing to GitHub...")

	doc := blueprint.Render(r.agent, gen, result)
	var pub pipeline.PublishResult
	err := r.timed(ctx, stage, r.svc.cfg.PublishTimeout, func(ctx context.Context) error {
		var err error
		pub, err = r.svc.backends.Publisher.Publish(ctx, r.agent.Name, r.agent.Code, doc)
		return err
	})
	if err != nil {
		return pipeline.Classify(err, pipeline.KindPublish)
	}

	if _, err := r.svc.store.CreateBlueprint(ctx, blueprint.CreateRequest{
		AgentID: &r.agent.ID,
		Name:    blueprint.Name(r.agent.Name, r.agent.Version),
		Version: blueprint.VersionTag(r.agent.Version),
		Content: doc,
	}); err != nil {
		return fmt.Errorf("create blueprint: %w", err)
	}

	if err := r.updateAgent(ctx, agent.Update{GithubURL: &pub.URL, Status: agent.Ptr(agent.StatusDeploying)}); err != nil {
		return err
	}

	r.checkpoint(ctx, stage, stage.ExitProgress(), "GitHub push completed")
	r.activity(ctx, activity.LevelSuccess, "GitHub push completed",
		map[string]any{"github_url": pub.URL, "commit_sha": pub.Reference})
	return nil
}

// release runs the render_deploy stage and completes the deployment.
func (r *run) release(ctx context.Context) (*agent.Agent, error) {
	stage := deployment.StageRenderDeploy
	r.checkpoint(ctx, stage, stage.EntryProgress(), "Triggering Render deployment...")

	var rel pipeline.ReleaseResult
	err := r.timed(ctx, stage, r.svc.cfg.ReleaseTimeout, func(ctx context.Context) error {
		var err error
		rel, err = r.svc.backends.Releaser.Trigger(ctx)
		return err
	})
	if err != nil {
		return nil, pipeline.Classify(err, pipeline.KindRelease)
	}

	now := r.svc.now()
	u := agent.Update{Status: agent.Ptr(agent.StatusRunning), LastRun: &now}
	if rel.URL != "" {
		u.RenderURL = &rel.URL
	}
	if err := r.updateAgent(ctx, u); err != nil {
		return nil, err
	}

	if _, err := r.svc.store.UpdateDeployment(ctx, r.deploymentID, deployment.Update{
		Status:   agent.Ptr(deployment.StatusSuccess),
		Stage:    agent.Ptr(stage),
		Progress: agent.Ptr(stage.ExitProgress()),
	}); err != nil {
		return nil, fmt.Errorf("complete deployment: %w", err)
	}
	r.progress = stage.ExitProgress()

	final := *r.agent
	r.emit(ctx, deployment.SuccessEvent(r.deploymentID, &final))
	r.activity(ctx, activity.LevelSuccess, fmt.Sprintf("Agent '%s' deployed successfully", r.agent.Name),
		map[string]any{"render_url": rel.URL, "deploy_id": rel.ReleaseID})
	r.log.Info("deployment succeeded", "duration", r.svc.now().Sub(r.started))
	return &final, nil
}

// fail runs the compensation sequence. Writes use a context detached from
// cancellation so the records reach a terminal state.
func (r *run) fail(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := pipeline.Message(cause)
	r.log.Error("deployment failed", "stage", r.stage.String(), "kind", pipeline.KindOf(cause).String(), "error", cause)

	if r.agent != nil {
		if _, err := r.svc.store.UpdateAgent(ctx, r.agent.ID, agent.Update{Status: agent.Ptr(agent.StatusFailed)}); err != nil {
			r.log.Warn("mark agent failed", "error", err)
		}
	}
	if r.deploymentID != 0 {
		if _, err := r.svc.store.UpdateDeployment(ctx, r.deploymentID, deployment.Update{
			Status: agent.Ptr(deployment.StatusFailed),
			Error:  &msg,
		}); err != nil {
			r.log.Warn("mark deployment failed", "error", err)
		}
	}

	r.activity(ctx, activity.LevelError, "Deployment failed: "+msg, map[string]any{"error": msg, "prompt": r.prompt})
	r.emit(ctx, deployment.FailureEvent(r.deploymentID, r.stage, r.progress, msg))
}

// checkpoint records stage entry/exit on the deployment and emits a progress event.
func (r *run) checkpoint(ctx context.Context, stage deployment.Stage, progress int, message string) {
	r.stage, r.progress = stage, progress
	if r.deploymentID != 0 {
		if _, err := r.svc.store.UpdateDeployment(ctx, r.deploymentID, deployment.Update{
			Stage:    &stage,
			Progress: &progress,
		}); err != nil {
			r.log.Warn("checkpoint update failed", "stage", stage.String(), "progress", progress, "error", err)
		}
	}
	r.emit(ctx, deployment.ProgressEvent(r.deploymentID, stage, progress, message))
}

func (r *run) emit(ctx context.Context, ev deployment.Event) {
	if r.events == nil {
		return
	}
	if ev.RunID == "" {
		ev.RunID = logger.RequestID(ctx)
	}
	select {
	case r.events <- ev:
	case <-ctx.Done():
		r.log.Warn("progress event not delivered", "type", string(ev.Type), "error", ctx.Err())
	}
}

func (r *run) activity(ctx context.Context, level activity.Level, message string, meta map[string]any) {
	req := activity.CreateRequest{Level: level, Message: message, Metadata: meta}
	if r.agent != nil {
		req.AgentID = &r.agent.ID
	}
	if r.deploymentID != 0 {
		id := r.deploymentID
		req.DeploymentID = &id
	}
	if _, err := r.svc.store.CreateActivityLog(ctx, req); err != nil {
		r.log.Warn("activity log write failed", "message", message, "error", err)
	}
}

func (r *run) updateAgent(ctx context.Context, u agent.Update) error {
	a, err := r.svc.store.UpdateAgent(ctx, r.agent.ID, u)
	if err != nil {
		return fmt.Errorf("update agent %d: %w", r.agent.ID, err)
	}
	r.agent = a
	return nil
}

// timed runs one backend call inside a stage span, bounded by timeout when
// it is positive.
func (r *run) timed(ctx context.Context, stage deployment.Stage, timeout time.Duration, fn func(context.Context) error) error {
	ctx = logger.WithDeploymentID(ctx, r.deploymentID)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, span := otel.StartStageSpan(ctx, stage.String())
	start := time.Now()
	err := fn(ctx)
	if err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out after %s: %w", stage, timeout, context.DeadlineExceeded)
	}
	r.svc.metrics.RecordStage(ctx, stage.String(), time.Since(start), err != nil)
	otel.EndSpan(span, err)
	return err
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
