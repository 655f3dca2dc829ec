// Package github implements the Publisher stage backend: it commits agent
// source and blueprints to a GitHub repository.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain/blueprint"
	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
	"github.com/Strob0t/AgentForge/internal/port/stagebackend"
	"github.com/Strob0t/AgentForge/internal/resilience"
)

var _ stagebackend.Publisher = (*Publisher)(nil)

// Publisher writes agents/<name>.py and blueprints/v1-<name>.md, creating or
// updating each file.
type Publisher struct {
	client  *gh.Client
	owner   string
	repo    string
	branch  string
	breaker *resilience.Breaker
	log     *slog.Logger
}

// NewPublisher creates a publisher authenticated with the configured token.
// An empty token yields an anonymous client whose writes fail.
func NewPublisher(ctx context.Context, cfg config.GitHub, breaker *resilience.Breaker) *Publisher {
	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &Publisher{
		client:  gh.NewClient(httpClient),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
		breaker: breaker,
		log:     slog.Default().With("component", "github", "repo", cfg.Owner+"/"+cfg.Repo),
	}
}

// Publish commits the agent source and its blueprint. The returned reference
// is the SHA of the source commit.
func (p *Publisher) Publish(ctx context.Context, name, code, document string) (pipeline.PublishResult, error) {
	agentPath := fmt.Sprintf("agents/%s.py", name)
	blueprintPath := fmt.Sprintf("blueprints/%s.md", blueprint.Name(name, 1))

	sha, err := p.put(ctx, agentPath, "Add/Update agent: "+name, code)
	if err != nil {
		return pipeline.PublishResult{}, publishError(err)
	}
	if _, err := p.put(ctx, blueprintPath, "Add blueprint for agent: "+name, document); err != nil {
		return pipeline.PublishResult{}, publishError(err)
	}

	url := fmt.Sprintf("https://github.com/%s/%s/commit/%s", p.owner, p.repo, sha)
	p.log.Info("agent published", "agent", name, "commit", sha)
	return pipeline.PublishResult{Reference: sha, URL: url}, nil
}

// put creates or updates one file and returns the commit SHA.
func (p *Publisher) put(ctx context.Context, path, message, content string) (string, error) {
	var commitSHA string
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		existing, err := p.existingSHA(ctx, path)
		if err != nil {
			return classify(err)
		}

		opts := &gh.RepositoryContentFileOptions{
			Message: gh.String(message),
			Content: []byte(content),
			SHA:     existing,
		}
		if p.branch != "" {
			opts.Branch = gh.String(p.branch)
		}

		var resp *gh.RepositoryContentResponse
		if existing == nil {
			resp, _, err = p.client.Repositories.CreateFile(ctx, p.owner, p.repo, path, opts)
		} else {
			resp, _, err = p.client.Repositories.UpdateFile(ctx, p.owner, p.repo, path, opts)
		}
		if err != nil {
			return classify(err)
		}
		commitSHA = resp.Commit.GetSHA()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return commitSHA, nil
}

// existingSHA returns the blob SHA of path, or nil when the file does not exist.
func (p *Publisher) existingSHA(ctx context.Context, path string) (*string, error) {
	var opts *gh.RepositoryContentGetOptions
	if p.branch != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: p.branch}
	}
	file, _, resp, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if file == nil {
		return nil, nil
	}
	return file.SHA, nil
}

// classify marks request errors as permanent so they do not trip the breaker.
func classify(err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
	}
	return err
}

func publishError(err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return pipeline.NewError(pipeline.KindPublish, "rate limited", err)
	}
	msg := err.Error()
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Message != "" {
		msg = respErr.Message
	}
	return pipeline.NewError(pipeline.KindPublish, "Failed to push to GitHub: "+msg, err)
}
