// Package render implements the Releaser stage backend on a Render deploy hook.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
	"github.com/Strob0t/AgentForge/internal/port/stagebackend"
	"github.com/Strob0t/AgentForge/internal/resilience"
)

var _ stagebackend.Releaser = (*Releaser)(nil)

const triggerName = "agent-deployment"

// Releaser posts to the configured deploy hook.
type Releaser struct {
	hook    string
	client  *http.Client
	breaker *resilience.Breaker
	now     func() time.Time
	log     *slog.Logger
}

// NewReleaser creates a releaser. An empty hook makes every Trigger fail.
func NewReleaser(cfg config.Render, breaker *resilience.Breaker) *Releaser {
	return &Releaser{
		hook: cfg.DeployHook,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		now:     time.Now,
		log:     slog.Default().With("component", "render"),
	}
}

type triggerRequest struct {
	Trigger   string `json:"trigger"`
	Timestamp string `json:"timestamp"`
}

type triggerResponse struct {
	DeployID string `json:"deployId"`
	Status   string `json:"status"`
	URL      string `json:"url"`
}

// Trigger starts a release. Missing response fields default to
// deployId "unknown" and status "triggered".
func (r *Releaser) Trigger(ctx context.Context) (pipeline.ReleaseResult, error) {
	if r.hook == "" {
		return pipeline.ReleaseResult{}, pipeline.NewError(pipeline.KindRelease, "Render webhook URL not configured", nil)
	}

	body, err := json.Marshal(triggerRequest{
		Trigger:   triggerName,
		Timestamp: r.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return pipeline.ReleaseResult{}, pipeline.NewError(pipeline.KindRelease, "Failed to trigger Render deployment: "+err.Error(), err)
	}

	var out triggerResponse
	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.post(ctx, body, &out)
	})
	if err != nil {
		return pipeline.ReleaseResult{}, pipeline.NewError(pipeline.KindRelease, "Failed to trigger Render deployment: "+err.Error(), err)
	}

	res := pipeline.ReleaseResult{ReleaseID: out.DeployID, Status: out.Status, URL: out.URL}
	if res.ReleaseID == "" {
		res.ReleaseID = "unknown"
	}
	if res.Status == "" {
		res.Status = "triggered"
	}
	r.log.Info("release triggered", "release_id", res.ReleaseID, "status", res.Status)
	return res, nil
}

func (r *Releaser) post(ctx context.Context, body []byte, out *triggerResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.hook, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("Render webhook failed: %s", http.StatusText(resp.StatusCode)) //nolint:staticcheck // user-facing message
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
		return err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
