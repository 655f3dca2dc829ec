// Package stagebackend defines the ports for the external collaborators the
// deployment pipeline calls, one per stage.
package stagebackend

import (
	"context"

	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
)

// Generator turns a prompt into code. It fails with a pipeline.KindGeneration
// error when no usable output is produced.
type Generator interface {
	Generate(ctx context.Context, prompt string) (pipeline.GeneratedCode, error)
}

// Repairer rewrites failing code. Errors are pipeline.KindRepair.
type Repairer interface {
	Fix(ctx context.Context, code, errorText string) (string, error)
}

// Tester exercises generated code. It never returns an error for a failing
// or timed-out test; those are reported through the result.
type Tester interface {
	Run(ctx context.Context, code, name string) pipeline.TestResult
}

// Publisher pushes an agent's source and blueprint to the code host.
// Errors are pipeline.KindPublish.
type Publisher interface {
	Publish(ctx context.Context, name, code, document string) (pipeline.PublishResult, error)
}

// Releaser triggers a release of the hosted service. Errors, including a
// missing release target, are pipeline.KindRelease.
type Releaser interface {
	Trigger(ctx context.Context) (pipeline.ReleaseResult, error)
}

// Backends bundles the stage collaborators of one pipeline.
type Backends struct {
	Generator Generator
	Repairer  Repairer
	Tester    Tester
	Publisher Publisher
	Releaser  Releaser
}
