package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch subject {
	case SubjectDeploymentRequest:
		var req DeploymentRequestPayload
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if req.Prompt == "" {
			return fmt.Errorf("schema validation failed for %s: prompt is required", subject)
		}
		return nil
	case SubjectDeploymentProgress, SubjectDeploymentComplete:
		target = &DeploymentEventPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
