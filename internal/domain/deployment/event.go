package deployment

import "github.com/Strob0t/AgentForge/internal/domain/agent"

// EventType distinguishes heartbeat events from the terminal event of a run.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
)

// Event is a progress notification for one pipeline run. Progress values are
// fixed checkpoints and never decrease within a run. Exactly one
// EventComplete ends every run. RunID is set on every event, including the
// ones emitted before the deployment record exists.
type Event struct {
	Type         EventType    `json:"type"`
	RunID        string       `json:"run_id,omitempty"`
	DeploymentID int64        `json:"deployment_id,omitempty"`
	Stage        *Stage       `json:"stage,omitempty"`
	Progress     *int         `json:"progress,omitempty"`
	Message      string       `json:"message,omitempty"`
	Success      *bool        `json:"success,omitempty"`
	Error        string       `json:"error,omitempty"`
	Agent        *agent.Agent `json:"agent,omitempty"`
}

// ProgressEvent builds a stage heartbeat.
func ProgressEvent(deploymentID int64, stage Stage, progress int, message string) Event {
	return Event{
		Type:         EventProgress,
		DeploymentID: deploymentID,
		Stage:        &stage,
		Progress:     &progress,
		Message:      message,
	}
}

// SuccessEvent builds the terminal event of a successful run.
func SuccessEvent(deploymentID int64, a *agent.Agent) Event {
	stage, progress, ok := StageRenderDeploy, 100, true
	return Event{
		Type:         EventComplete,
		DeploymentID: deploymentID,
		Stage:        &stage,
		Progress:     &progress,
		Message:      "Deployment completed successfully",
		Success:      &ok,
		Agent:        a,
	}
}

// FailureEvent builds the terminal event of a failed run. It repeats the
// last reached checkpoint so progress stays non-decreasing.
func FailureEvent(deploymentID int64, stage Stage, progress int, errMsg string) Event {
	ok := false
	return Event{
		Type:         EventComplete,
		DeploymentID: deploymentID,
		Stage:        &stage,
		Progress:     &progress,
		Message:      "Deployment failed",
		Success:      &ok,
		Error:        errMsg,
	}
}
