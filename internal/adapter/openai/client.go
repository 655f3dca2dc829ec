// Package openai implements the Generator and Repairer stage backends on the
// OpenAI chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
	"github.com/Strob0t/AgentForge/internal/port/stagebackend"
	"github.com/Strob0t/AgentForge/internal/resilience"
)

var (
	_ stagebackend.Generator = (*Client)(nil)
	_ stagebackend.Repairer  = (*Client)(nil)
)

const generateSystemPrompt = `You are an expert Python developer specializing in creating autonomous agents. Given a user prompt, generate a complete Python script that fulfills the requirements.

Rules:
1. Always create a complete, runnable Python script
2. Include proper error handling and logging
3. Use standard libraries when possible
4. If external APIs are needed, use environment variables for keys
5. Create a main() function that can be called
6. Include docstrings and comments
7. Return JSON with: code, name, description, dependencies

The script should be production-ready and handle edge cases appropriately.`

const repairSystemPrompt = "You are a Python debugging expert. Fix the provided code based on the error message. Return only the corrected code."

const repairTemperature = 0.1

// defaultDependencies are assumed when the model reply carries no metadata.
var defaultDependencies = []string{"requests", "json", "os", "logging"}

// Client generates and repairs agent code via chat completions.
type Client struct {
	api     *goopenai.Client
	cfg     config.OpenAI
	breaker *resilience.Breaker
	log     *slog.Logger
}

// NewClient creates a client from config. BaseURL overrides the API endpoint
// (OpenAI-compatible proxies, tests).
func NewClient(cfg config.OpenAI, breaker *resilience.Breaker) *Client {
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		api:     goopenai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		breaker: breaker,
		log:     slog.Default().With("component", "openai", "model", cfg.Model),
	}
}

// Generate turns a prompt into a Python agent.
func (c *Client) Generate(ctx context.Context, prompt string) (pipeline.GeneratedCode, error) {
	content, err := c.complete(ctx, goopenai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: generateSystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return pipeline.GeneratedCode{}, pipeline.NewError(pipeline.KindGeneration, "Code generation failed: "+errText(err), err)
	}
	if strings.TrimSpace(content) == "" {
		return pipeline.GeneratedCode{}, pipeline.NewError(pipeline.KindGeneration, "No response from code generator", nil)
	}

	gen := ParseGenerated(content, prompt)
	if strings.TrimSpace(gen.Code) == "" {
		return pipeline.GeneratedCode{}, pipeline.NewError(pipeline.KindGeneration, "Code generator returned no code", nil)
	}
	c.log.Debug("code generated", "name", gen.Name, "chars", len(gen.Code))
	return gen, nil
}

// Fix asks the model to repair code given the failure text. An empty reply
// keeps the original code.
func (c *Client) Fix(ctx context.Context, code, errorText string) (string, error) {
	content, err := c.complete(ctx, goopenai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: repairSystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: fmt.Sprintf("Fix this Python code:\n\nCode:\n%s\n\nError:\n%s", code, errorText)},
		},
		Temperature: repairTemperature,
		MaxTokens:   c.cfg.RepairMaxTokens,
	})
	if err != nil {
		return "", pipeline.NewError(pipeline.KindRepair, "Code repair failed: "+errText(err), err)
	}
	fixed := StripCodeFence(content)
	if strings.TrimSpace(fixed) == "" {
		return code, nil
	}
	return fixed, nil
}

func (c *Client) complete(ctx context.Context, req goopenai.ChatCompletionRequest) (string, error) {
	var content string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			if isClientError(err) {
				return resilience.Permanent(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return nil
		}
		c.log.Debug("completion received", "finish_reason", resp.Choices[0].FinishReason, "tokens", resp.Usage.TotalTokens)
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		c.log.Error("openai call failed", "error", err)
		return "", err
	}
	return content, nil
}

// isClientError reports 4xx responses other than rate limiting.
func isClientError(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}

// errText returns the short message of an OpenAI error.
func errText(err error) string {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

var (
	pythonFence = regexp.MustCompile("(?s)```python\\n(.*?)\\n```")
	promptName  = regexp.MustCompile(`(?i)create (?:a |an )?([\w\s-]+)`)
	fenceOpen   = regexp.MustCompile("^```[a-zA-Z]*\\n?")
	fenceClose  = regexp.MustCompile("\\n?```\\s*$")
	unsafeName  = regexp.MustCompile(`[^a-z0-9_-]+`)
)

// maxNameWords caps names derived from free-form prompts.
const maxNameWords = 4

// ParseGenerated interprets a model reply. JSON replies are used as is;
// anything else is treated as code (a fenced python block if present) with
// metadata derived from the prompt.
func ParseGenerated(content, prompt string) pipeline.GeneratedCode {
	var gen pipeline.GeneratedCode
	if err := json.Unmarshal([]byte(strings.TrimSpace(StripJSONFence(content))), &gen); err == nil && gen.Code != "" {
		gen.Name = SanitizeName(gen.Name)
		if gen.Name == "" {
			gen.Name = NameFromPrompt(prompt)
		}
		if gen.Description == "" {
			gen.Description = describe(prompt)
		}
		if gen.Dependencies == nil {
			gen.Dependencies = append([]string(nil), defaultDependencies...)
		}
		return gen
	}

	code := content
	if m := pythonFence.FindStringSubmatch(content); m != nil {
		code = m[1]
	}
	return pipeline.GeneratedCode{
		Code:         code,
		Name:         NameFromPrompt(prompt),
		Description:  describe(prompt),
		Dependencies: append([]string(nil), defaultDependencies...),
	}
}

// NameFromPrompt derives a kebab-case agent name from "create a X" prompts.
func NameFromPrompt(prompt string) string {
	m := promptName.FindStringSubmatch(prompt)
	if m == nil {
		return "generated-agent"
	}
	words := strings.Fields(strings.ToLower(m[1]))
	if len(words) > maxNameWords {
		words = words[:maxNameWords]
	}
	if name := SanitizeName(strings.Join(words, "-")); name != "" {
		return name
	}
	return "generated-agent"
}

// SanitizeName lowercases a name and keeps only characters safe for file paths.
func SanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), "-")
	name = unsafeName.ReplaceAllString(name, "-")
	return strings.Trim(name, "-_")
}

// StripCodeFence removes a surrounding markdown code fence.
func StripCodeFence(s string) string {
	s = fenceOpen.ReplaceAllString(strings.TrimSpace(s), "")
	return fenceClose.ReplaceAllString(s, "")
}

// StripJSONFence removes a ```json fence some models wrap JSON replies in.
func StripJSONFence(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```json") {
		return StripCodeFence(t)
	}
	return s
}

func describe(prompt string) string {
	p := prompt
	if r := []rune(p); len(r) > 100 {
		p = string(r[:100])
	}
	return "Agent generated from: " + p + "..."
}
