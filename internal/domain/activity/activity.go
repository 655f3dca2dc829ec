// Package activity defines the append-only audit trail.
package activity

import (
	"fmt"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
)

// DefaultLimit caps activity listings when no limit is given.
const DefaultLimit = 100

// Level is the severity of an activity entry.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelSuccess:
		return true
	}
	return false
}

// Log is one audit trail entry.
type Log struct {
	ID           int64          `json:"id"`
	Level        Level          `json:"level"`
	Message      string         `json:"message"`
	AgentID      *int64         `json:"agent_id"`
	DeploymentID *int64         `json:"deployment_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CreateRequest holds the fields for appending an entry.
type CreateRequest struct {
	Level        Level          `json:"level"`
	Message      string         `json:"message"`
	AgentID      *int64         `json:"agent_id"`
	DeploymentID *int64         `json:"deployment_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the request.
func (r *CreateRequest) Validate() error {
	if !r.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", domain.ErrValidation, r.Level)
	}
	if r.Message == "" {
		return fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	return nil
}

// ListOptions filters activity listings. A nil Limit means DefaultLimit.
type ListOptions struct {
	Limit   *int
	AgentID *int64
}

// EffectiveLimit resolves the result cap. Negative limits are treated as zero.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit == nil {
		return DefaultLimit
	}
	if *o.Limit < 0 {
		return 0
	}
	return *o.Limit
}
