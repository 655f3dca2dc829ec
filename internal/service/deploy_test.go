package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/logger"
	"github.com/Strob0t/AgentForge/internal/port/broadcast"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
	"github.com/Strob0t/AgentForge/internal/service"
)

func TestDeployRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{"empty", "", true},
		{"too short", "make bot", true},
		{"exactly ten", "0123456789", false},
		{"multibyte counted as runes", "ünïcödé bö", false},
		{"normal", reviewerPrompt, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.DeployRequest{Prompt: tt.prompt}.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate(%q) = %v, wantErr %v", tt.prompt, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDeployServiceStartRunsInBackground(t *testing.T) {
	h := newHarness(config.Pipeline{})
	hub := &recordingHub{}
	notifier := service.NewProgressNotifier(hub, nil, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go notifier.Run(ctx)

	svc := service.NewDeployService(h.svc, notifier, nil, 16)

	reqCtx, reqCancel := context.WithCancel(logger.WithRequestID(context.Background(), "req-1"))
	runID, err := svc.Start(reqCtx, service.DeployRequest{Prompt: reviewerPrompt})
	if err != nil {
		t.Fatal(err)
	}
	// The run is detached from the request.
	reqCancel()
	if runID != "req-1" {
		t.Errorf("expected request id to be reused, got %q", runID)
	}

	svc.Wait()

	deps, _ := h.store.ListDeployments(context.Background())
	if len(deps) != 1 || deps[0].Status != deployment.StatusSuccess {
		t.Fatalf("expected one successful deployment, got %+v", deps)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		types := hub.types()
		if len(types) > 0 && types[len(types)-1] == broadcast.EventDeploymentComplete {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("complete event never reached the hub, got %v", hub.types())
}

func TestDeployServiceStartRejectsShortPrompt(t *testing.T) {
	h := newHarness(config.Pipeline{})
	svc := service.NewDeployService(h.svc, nil, nil, 4)

	if _, err := svc.Start(context.Background(), service.DeployRequest{Prompt: "short"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	svc.Wait()
	if h.generator.calls.Load() != 0 {
		t.Error("generator must not run for invalid prompts")
	}
}

func TestDeployServiceQueueRequests(t *testing.T) {
	h := newHarness(config.Pipeline{})
	queue := newRecordingQueue()
	svc := service.NewDeployService(h.svc, nil, queue, 4)

	if _, err := svc.Subscribe(context.Background()); err != nil {
		t.Fatal(err)
	}
	handler := queue.handlers[messagequeue.SubjectDeploymentRequest]
	if handler == nil {
		t.Fatal("expected a handler on the request subject")
	}

	if err := handler(context.Background(), messagequeue.SubjectDeploymentRequest, []byte(`{"prompt":"tiny"}`)); err != nil {
		t.Errorf("invalid prompts should be acknowledged, got %v", err)
	}
	if err := handler(context.Background(), messagequeue.SubjectDeploymentRequest, []byte(`{not json`)); err == nil {
		t.Error("malformed payload should return an error")
	}
	if err := handler(context.Background(), messagequeue.SubjectDeploymentRequest,
		[]byte(`{"prompt":"`+reviewerPrompt+`","request_id":"q-7"}`)); err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	if h.generator.calls.Load() != 1 {
		t.Errorf("expected one run, got %d", h.generator.calls.Load())
	}
}

func TestDeployServiceSubscribeWithoutQueue(t *testing.T) {
	svc := service.NewDeployService(newHarness(config.Pipeline{}).svc, nil, nil, 4)
	cancel, err := svc.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cancel()
}
