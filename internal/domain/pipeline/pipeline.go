// Package pipeline defines the values exchanged between the deployment
// orchestrator and its stage backends.
package pipeline

import "time"

// GeneratedCode is the output of the generation stage.
type GeneratedCode struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
}

// TestResult describes one test attempt. Testers report timeouts and setup
// problems as unsuccessful results rather than errors.
type TestResult struct {
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"execution_time_ms"`
}

// Failure returns the text handed to the repairer for a failed result.
func (r TestResult) Failure() string {
	if r.Error != "" {
		return r.Error
	}
	return "Test failed"
}

// PublishResult references the published source on the code host.
type PublishResult struct {
	Reference string `json:"reference"` // commit SHA
	URL       string `json:"url"`
}

// ReleaseResult references a triggered release.
type ReleaseResult struct {
	ReleaseID string `json:"release_id"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
}

// Elapsed converts a duration into the millisecond figure stored on results.
func Elapsed(d time.Duration) int64 { return d.Milliseconds() }
