// Package pyexec implements the Tester stage backend by compiling and
// importing generated Python code in a scratch directory.
package pyexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
	"github.com/Strob0t/AgentForge/internal/port/stagebackend"
)

var _ stagebackend.Tester = (*Tester)(nil)

// smokeScript imports the module without calling main so the test has no
// side effects beyond module-level code.
const smokeScript = `import importlib
import sys
sys.path.insert(0, sys.argv[1])
try:
    mod = importlib.import_module(sys.argv[2])
    print("Import successful")
    if hasattr(mod, "main"):
        print("Main function found")
    print("Basic validation passed")
except Exception as e:
    print(f"Error: {e}")
    sys.exit(1)
`

var moduleUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Tester runs a syntax check and an import smoke test under a time bound.
type Tester struct {
	python  string
	timeout time.Duration
	workDir string
	log     *slog.Logger

	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewTester creates a Tester from config.
func NewTester(cfg config.Tester) *Tester {
	return &Tester{
		python:      cfg.Python,
		timeout:     cfg.Timeout,
		workDir:     cfg.WorkDir,
		log:         slog.Default().With("component", "pyexec"),
		execCommand: exec.CommandContext,
	}
}

// Run tests code. It never returns an error: timeouts and setup problems are
// reported as failed results.
func (t *Tester) Run(ctx context.Context, code, name string) pipeline.TestResult {
	start := time.Now()
	result := t.run(ctx, code, name)
	result.ExecutionTime = pipeline.Elapsed(time.Since(start))
	t.log.Info("agent test finished", "agent", name, "success", result.Success, "duration_ms", result.ExecutionTime)
	return result
}

func (t *Tester) run(ctx context.Context, code, name string) pipeline.TestResult {
	dir, err := os.MkdirTemp(t.workDir, "agentforge-test-*")
	if err != nil {
		return pipeline.TestResult{Error: "Test setup error: " + err.Error()}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			t.log.Warn("remove test dir", "dir", dir, "error", err)
		}
	}()

	// The agent module lives in its own directory so no agent name can
	// shadow the smoke script or a module the interpreter runs from dir.
	srcDir := filepath.Join(dir, "src")
	if err := os.Mkdir(srcDir, 0o700); err != nil {
		return pipeline.TestResult{Error: "Test setup error: " + err.Error()}
	}
	module := ModuleName(name)
	src := filepath.Join(srcDir, module+".py")
	if err := os.WriteFile(src, []byte(code), 0o600); err != nil {
		return pipeline.TestResult{Error: "Test setup error: " + err.Error()}
	}
	smoke := filepath.Join(dir, "smoke_test.py")
	if err := os.WriteFile(smoke, []byte(smokeScript), 0o600); err != nil {
		return pipeline.TestResult{Error: "Test setup error: " + err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, errText, err := t.exec(ctx, dir, "-m", "py_compile", src)
	if err != nil {
		if timedOut(ctx) {
			return pipeline.TestResult{Output: out, Error: t.timeoutText()}
		}
		return pipeline.TestResult{Output: out, Error: "Syntax Error: " + firstNonEmpty(errText, err.Error())}
	}

	out, errText, err = t.exec(ctx, dir, smoke, srcDir, module)
	switch {
	case err == nil:
		return pipeline.TestResult{Success: true, Output: out, Error: errText}
	case timedOut(ctx):
		return pipeline.TestResult{Output: out, Error: t.timeoutText()}
	default:
		return pipeline.TestResult{Output: out, Error: firstNonEmpty(errText, lastLine(out), err.Error())}
	}
}

func (t *Tester) exec(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error) {
	cmd := t.execCommand(ctx, t.python, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !timedOut(ctx) {
		err = fmt.Errorf("run %s: %w", t.python, err)
	}
	return outBuf.String(), strings.TrimSpace(errBuf.String()), err
}

func (t *Tester) timeoutText() string {
	return fmt.Sprintf("Test timeout after %d seconds", int(t.timeout.Round(time.Second)/time.Second))
}

// ModuleName turns an agent name into an importable Python module name.
func ModuleName(name string) string {
	m := moduleUnsafe.ReplaceAllString(name, "_")
	if m == "" || (m[0] >= '0' && m[0] <= '9') {
		m = "agent_" + m
	}
	return m
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
