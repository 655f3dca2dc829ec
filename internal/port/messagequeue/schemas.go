package messagequeue

// DeploymentRequestPayload is the schema for deployments.request messages.
type DeploymentRequestPayload struct {
	Prompt           string `json:"prompt"`
	AutoDeploy       *bool  `json:"auto_deploy,omitempty"`
	ExtensiveTesting *bool  `json:"extensive_testing,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// DeploymentEventPayload is the schema for deployments.progress and
// deployments.complete messages. It mirrors deployment.Event.
type DeploymentEventPayload struct {
	Type         string  `json:"type"`
	RunID        string  `json:"run_id,omitempty"`
	DeploymentID int64   `json:"deployment_id,omitempty"`
	Stage        *string `json:"stage,omitempty"`
	Progress     *int    `json:"progress,omitempty"`
	Message      string  `json:"message,omitempty"`
	Success      *bool   `json:"success,omitempty"`
	Error        string  `json:"error,omitempty"`
	Agent        any     `json:"agent,omitempty"`
}
