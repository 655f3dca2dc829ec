// Package blueprint defines the immutable deployment snapshot document.
package blueprint

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
)

// notDeployed is printed for references that are not set yet.
const notDeployed = "Not deployed"

// Blueprint is a snapshot of one successful publication of an agent.
// Blueprints are written once and never updated.
type Blueprint struct {
	ID        int64     `json:"id"`
	AgentID   *int64    `json:"agent_id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest holds the fields for persisting a blueprint.
type CreateRequest struct {
	AgentID *int64 `json:"agent_id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Content string `json:"content"`
}

// VersionTag returns the version label for an agent version, e.g. "v1".
func VersionTag(version int) string {
	if version < 1 {
		version = 1
	}
	return fmt.Sprintf("v%d", version)
}

// Name returns the blueprint name for an agent at a version, e.g. "v1-code-reviewer".
func Name(agentName string, version int) string {
	return VersionTag(version) + "-" + agentName
}

// Render assembles the blueprint markdown. The output depends only on its
// inputs; the creation time is taken from the agent record.
func Render(a *agent.Agent, gen pipeline.GeneratedCode, result pipeline.TestResult) string {
	var b strings.Builder

	version := a.Version
	if version < 1 {
		version = 1
	}

	fmt.Fprintf(&b, "# %s - Agent Blueprint %s\n\n", a.Name, VersionTag(version))

	b.WriteString("## Overview\n")
	fmt.Fprintf(&b, "- **Name**: %s\n", a.Name)
	fmt.Fprintf(&b, "- **Description**: %s\n", a.Description)
	fmt.Fprintf(&b, "- **Created**: %s\n", a.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Status**: %s\n\n", a.Status)

	b.WriteString("## Original Prompt\n")
	writeFence(&b, "", a.Prompt)

	b.WriteString("## Generated Code\n")
	writeFence(&b, "python", a.Code)

	b.WriteString("## Dependencies\n")
	if len(gen.Dependencies) == 0 {
		b.WriteString("- none\n")
	}
	for _, dep := range gen.Dependencies {
		fmt.Fprintf(&b, "- %s\n", dep)
	}
	b.WriteString("\n")

	b.WriteString("## Test Results\n")
	fmt.Fprintf(&b, "- **Success**: %t\n", result.Success)
	fmt.Fprintf(&b, "- **Execution Time**: %dms\n", result.ExecutionTime)
	b.WriteString("- **Output**:\n")
	writeFence(&b, "", result.Output)

	b.WriteString("## Metadata\n")
	fmt.Fprintf(&b, "- **Version**: %d\n", version)
	fmt.Fprintf(&b, "- **GitHub URL**: %s\n", orNotDeployed(a.GithubURL))
	fmt.Fprintf(&b, "- **Render URL**: %s\n\n", orNotDeployed(a.RenderURL))

	b.WriteString("---\nGenerated by AgentForge Autonomous Agent System\n")
	return b.String()
}

func writeFence(b *strings.Builder, lang, body string) {
	fmt.Fprintf(b, "```%s\n", lang)
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n```\n\n")
}

func orNotDeployed(ref *string) string {
	if ref == nil || *ref == "" {
		return notDeployed
	}
	return *ref
}
