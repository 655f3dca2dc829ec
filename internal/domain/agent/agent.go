// Package agent defines the Agent domain entity: one generated unit of code
// and its hosting state.
package agent

import (
	"fmt"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusCreating  Status = "creating"
	StatusTesting   Status = "testing"
	StatusDeploying Status = "deploying"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreating, StatusTesting, StatusDeploying, StatusRunning, StatusPaused, StatusFailed:
		return true
	}
	return false
}

// Agent is a generated program together with where it was published and released.
type Agent struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Prompt      string         `json:"prompt"`
	Code        string         `json:"code"`
	Status      Status         `json:"status"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastRun     *time.Time     `json:"last_run"`
	GithubURL   *string        `json:"github_url"`
	RenderURL   *string        `json:"render_url"`
	Metadata    map[string]any `json:"metadata"`
}

// CreateRequest holds the fields needed to create an agent. New agents start
// in StatusCreating with version 1 and empty code.
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// Validate checks the create request.
func (r CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: agent name is required", domain.ErrValidation)
	}
	return nil
}

// Update is a partial update. Nil fields are left unchanged.
type Update struct {
	Description *string        `json:"description,omitempty"`
	Code        *string        `json:"code,omitempty"`
	Status      *Status        `json:"status,omitempty"`
	LastRun     *time.Time     `json:"last_run,omitempty"`
	GithubURL   *string        `json:"github_url,omitempty"`
	RenderURL   *string        `json:"render_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Apply writes the non-nil fields of u onto a and stamps UpdatedAt.
func (u Update) Apply(a *Agent, now time.Time) {
	if u.Description != nil {
		a.Description = *u.Description
	}
	if u.Code != nil {
		a.Code = *u.Code
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.LastRun != nil {
		t := *u.LastRun
		a.LastRun = &t
	}
	if u.GithubURL != nil {
		s := *u.GithubURL
		a.GithubURL = &s
	}
	if u.RenderURL != nil {
		s := *u.RenderURL
		a.RenderURL = &s
	}
	if u.Metadata != nil {
		a.Metadata = u.Metadata
	}
	a.UpdatedAt = now
}

// OperatorUpdate is what an operator may change outside a pipeline run.
type OperatorUpdate struct {
	Description *string        `json:"description,omitempty"`
	Status      *Status        `json:"status,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ValidateFor checks the operator update against the agent's current status.
// Operators may only toggle between running and paused.
func (u OperatorUpdate) ValidateFor(current Status) error {
	if u.Status == nil {
		return nil
	}
	next := *u.Status
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, next)
	}
	if next == current {
		return nil
	}
	switch {
	case current == StatusRunning && next == StatusPaused:
	case current == StatusPaused && next == StatusRunning:
	default:
		return fmt.Errorf("%w: cannot change status from %s to %s", domain.ErrValidation, current, next)
	}
	return nil
}

// ToUpdate converts the operator update into a store update.
func (u OperatorUpdate) ToUpdate() Update {
	return Update{Description: u.Description, Status: u.Status, Metadata: u.Metadata}
}

// Ptr returns a pointer to v. Handy for building partial updates.
func Ptr[T any](v T) *T { return &v }
