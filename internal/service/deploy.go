package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/logger"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
)

// MinPromptLength is the shortest prompt accepted for a deployment.
const MinPromptLength = 10

// DeployRequest is the caller-facing deploy payload.
type DeployRequest struct {
	Prompt           string `json:"prompt"`
	AutoDeploy       *bool  `json:"auto_deploy,omitempty"`
	ExtensiveTesting *bool  `json:"extensive_testing,omitempty"`
}

// Validate checks the prompt length.
func (r DeployRequest) Validate() error {
	if utf8.RuneCountInString(r.Prompt) < MinPromptLength {
		return fmt.Errorf("%w: Prompt must be at least %d characters", domain.ErrValidation, MinPromptLength)
	}
	return nil
}

// DeployService is the boundary in front of the pipeline: it validates
// requests and starts runs in the background. Runs are not cancellable once
// started.
type DeployService struct {
	pipeline *PipelineService
	notifier *ProgressNotifier
	queue    messagequeue.Queue
	buffer   int
	wg       sync.WaitGroup
}

// NewDeployService creates a DeployService. queue may be nil.
func NewDeployService(p *PipelineService, notifier *ProgressNotifier, queue messagequeue.Queue, buffer int) *DeployService {
	if buffer < 1 {
		buffer = 1
	}
	return &DeployService{pipeline: p, notifier: notifier, queue: queue, buffer: buffer}
}

// Start validates req and launches a run. It returns the run's correlation ID
// without waiting for the run.
func (s *DeployService) Start(ctx context.Context, req DeployRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	runID := logger.RequestID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	runCtx := logger.WithRequestID(context.WithoutCancel(ctx), runID)

	slog.InfoContext(runCtx, "deployment requested",
		"prompt_chars", utf8.RuneCountInString(req.Prompt),
		"auto_deploy", boolOr(req.AutoDeploy, true),
		"extensive_testing", boolOr(req.ExtensiveTesting, false),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, req.Prompt)
	}()
	return runID, nil
}

func (s *DeployService) run(ctx context.Context, prompt string) {
	events := make(chan deployment.Event, s.buffer)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		if s.notifier != nil {
			s.notifier.Forward(ctx, events)
			return
		}
		for range events {
		}
	}()

	if _, err := s.pipeline.RunDeployment(ctx, prompt, events); err != nil {
		slog.WarnContext(ctx, "deployment run ended with error", "error", err)
	}
	close(events)
	<-forwarded
}

// Wait blocks until all started runs have finished.
func (s *DeployService) Wait() {
	s.wg.Wait()
}

// Subscribe starts consuming deployments.request messages. Without a queue
// it is a no-op.
func (s *DeployService) Subscribe(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectDeploymentRequest, s.HandleRequest)
}

// HandleRequest starts a run for a queued request. Invalid prompts are
// acknowledged and dropped since redelivery cannot fix them.
func (s *DeployService) HandleRequest(ctx context.Context, _ string, data []byte) error {
	var payload messagequeue.DeploymentRequestPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("unmarshal deploy request: %w", err)
	}
	if payload.RequestID != "" {
		ctx = logger.WithRequestID(ctx, payload.RequestID)
	}

	_, err := s.Start(ctx, DeployRequest{
		Prompt:           payload.Prompt,
		AutoDeploy:       payload.AutoDeploy,
		ExtensiveTesting: payload.ExtensiveTesting,
	})
	if errors.Is(err, domain.ErrValidation) {
		slog.WarnContext(ctx, "queued deploy request rejected", "error", err)
		return nil
	}
	return err
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
