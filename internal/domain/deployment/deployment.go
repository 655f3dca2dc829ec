// Package deployment defines the Deployment entity: one execution attempt of
// the four-stage pipeline, plus the progress events it emits.
package deployment

import (
	"fmt"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
)

// Status represents the lifecycle state of a deployment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends the deployment.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Deployment tracks one pipeline run. CompletedAt is set if and only if
// Status is terminal.
type Deployment struct {
	ID          int64      `json:"id"`
	AgentID     *int64     `json:"agent_id"`
	Status      Status     `json:"status"`
	Stage       Stage      `json:"stage"`
	Progress    int        `json:"progress"`
	Logs        *string    `json:"logs"`
	Error       *string    `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// New returns a pending deployment for the given agent.
func New(agentID *int64, now time.Time) Deployment {
	return Deployment{
		AgentID:   agentID,
		Status:    StatusPending,
		Stage:     StageCodeGeneration,
		CreatedAt: now,
	}
}

// Update is a partial update. Nil fields are left unchanged.
type Update struct {
	Status   *Status `json:"status,omitempty"`
	Stage    *Stage  `json:"stage,omitempty"`
	Progress *int    `json:"progress,omitempty"`
	Logs     *string `json:"logs,omitempty"`
	Error    *string `json:"error,omitempty"`
}

// Apply validates u against d and writes it. Progress must stay within
// [0,100] and never decrease. CompletedAt follows the status: it is stamped
// with now on the transition into a terminal status and cleared otherwise.
func (u Update) Apply(d *Deployment, now time.Time) error {
	if u.Progress != nil {
		p := *u.Progress
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: progress %d out of range", domain.ErrValidation, p)
		}
		if p < d.Progress {
			return fmt.Errorf("%w: progress cannot decrease from %d to %d", domain.ErrValidation, d.Progress, p)
		}
	}
	if u.Stage != nil && !u.Stage.Valid() {
		return fmt.Errorf("%w: invalid stage", domain.ErrValidation)
	}

	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Stage != nil {
		d.Stage = *u.Stage
	}
	if u.Progress != nil {
		d.Progress = *u.Progress
	}
	if u.Logs != nil {
		s := *u.Logs
		d.Logs = &s
	}
	if u.Error != nil {
		s := *u.Error
		d.Error = &s
	}

	switch {
	case d.Status.Terminal() && d.CompletedAt == nil:
		t := now
		d.CompletedAt = &t
	case !d.Status.Terminal():
		d.CompletedAt = nil
	}
	return nil
}
