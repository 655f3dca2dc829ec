package deployment

import (
	"fmt"

	"github.com/Strob0t/AgentForge/internal/domain"
)

// Stage is one ordered phase of the deployment pipeline. The zero value is
// CodeGeneration; the numeric value is the stage index.
type Stage int

const (
	StageCodeGeneration Stage = iota
	StageTesting
	StageGithubPush
	StageRenderDeploy
)

var stageNames = [...]string{
	StageCodeGeneration: "code_generation",
	StageTesting:        "testing",
	StageGithubPush:     "github_push",
	StageRenderDeploy:   "render_deploy",
}

// Progress checkpoints emitted on stage entry and exit.
var stageCheckpoints = [...][2]int{
	StageCodeGeneration: {10, 25},
	StageTesting:        {40, 60},
	StageGithubPush:     {70, 85},
	StageRenderDeploy:   {90, 100},
}

// RepairProgress is the checkpoint reported when the repair cycle starts.
const RepairProgress = 50

// Stages returns all stages in execution order.
func Stages() []Stage {
	return []Stage{StageCodeGeneration, StageTesting, StageGithubPush, StageRenderDeploy}
}

// Valid reports whether s is one of the four pipeline stages.
func (s Stage) Valid() bool {
	return s >= StageCodeGeneration && s <= StageRenderDeploy
}

// Index returns the position of s in the pipeline.
func (s Stage) Index() int { return int(s) }

// Before reports whether s runs before other.
func (s Stage) Before(other Stage) bool { return s < other }

// EntryProgress is the progress percentage reported when s starts.
func (s Stage) EntryProgress() int { return stageCheckpoints[s][0] }

// ExitProgress is the progress percentage reported when s completes.
func (s Stage) ExitProgress() int { return stageCheckpoints[s][1] }

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage converts the wire name of a stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stage %q", domain.ErrValidation, name)
}

// MarshalText encodes the stage as its wire name.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

// UnmarshalText decodes a wire name.
func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// StepState is how a stage renders relative to the deployment's current stage.
type StepState string

const (
	StepPending   StepState = "pending"
	StepActive    StepState = "active"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
)

// StateOf derives the display state of stage s for deployment d.
func (d *Deployment) StateOf(s Stage) StepState {
	switch {
	case s.Before(d.Stage):
		return StepCompleted
	case s != d.Stage:
		return StepPending
	case d.Status == StatusSuccess:
		return StepCompleted
	case d.Status == StatusFailed:
		return StepFailed
	case d.Status == StatusPending:
		return StepPending
	default:
		return StepActive
	}
}
