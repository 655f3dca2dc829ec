package deployment

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
)

func TestStageOrderAndCheckpoints(t *testing.T) {
	stages := Stages()
	if len(stages) != 4 {
		t.Fatalf("expected 4 stages, got %d", len(stages))
	}
	last := 0
	for i, s := range stages {
		if s.Index() != i {
			t.Errorf("stage %s: expected index %d, got %d", s, i, s.Index())
		}
		if s.EntryProgress() <= last {
			t.Errorf("stage %s: entry %d not after previous checkpoint %d", s, s.EntryProgress(), last)
		}
		if s.ExitProgress() <= s.EntryProgress() {
			t.Errorf("stage %s: exit %d not after entry %d", s, s.ExitProgress(), s.EntryProgress())
		}
		last = s.ExitProgress()
	}
	if last != 100 {
		t.Errorf("expected final checkpoint 100, got %d", last)
	}
	if !StageTesting.Before(StageGithubPush) || StageRenderDeploy.Before(StageTesting) {
		t.Error("Before does not follow pipeline order")
	}
}

func TestStageJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Stage Stage `json:"stage"`
	}{StageGithubPush})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"stage":"github_push"}` {
		t.Errorf("unexpected encoding %s", data)
	}

	var out struct {
		Stage Stage `json:"stage"`
	}
	if err := json.Unmarshal([]byte(`{"stage":"render_deploy"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.Stage != StageRenderDeploy {
		t.Errorf("expected render_deploy, got %s", out.Stage)
	}

	if err := json.Unmarshal([]byte(`{"stage":"lint"}`), &out); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages() {
		got, err := ParseStage(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStage(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStage("deploy"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUpdateApplyProgressMonotonic(t *testing.T) {
	now := time.Now()
	d := New(nil, now)

	p := 40
	if err := (Update{Progress: &p}).Apply(&d, now); err != nil {
		t.Fatal(err)
	}

	lower := 25
	if err := (Update{Progress: &lower}).Apply(&d, now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for decreasing progress, got %v", err)
	}
	if d.Progress != 40 {
		t.Errorf("rejected update must not change progress, got %d", d.Progress)
	}

	tooHigh := 101
	if err := (Update{Progress: &tooHigh}).Apply(&d, now); err == nil {
		t.Error("expected error for progress > 100")
	}
}

func TestUpdateApplyCompletedAtInvariant(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	done := created.Add(time.Minute)
	d := New(nil, created)

	inProgress := StatusInProgress
	if err := (Update{Status: &inProgress}).Apply(&d, created); err != nil {
		t.Fatal(err)
	}
	if d.CompletedAt != nil {
		t.Fatal("in_progress deployment must not have CompletedAt")
	}

	failed := StatusFailed
	msg := "rate limited"
	if err := (Update{Status: &failed, Error: &msg}).Apply(&d, done); err != nil {
		t.Fatal(err)
	}
	if d.CompletedAt == nil || !d.CompletedAt.Equal(done) {
		t.Fatalf("expected CompletedAt %v, got %v", done, d.CompletedAt)
	}
	if d.Error == nil || *d.Error != "rate limited" {
		t.Errorf("expected error text, got %v", d.Error)
	}
}

func TestStateOf(t *testing.T) {
	d := Deployment{Status: StatusInProgress, Stage: StageGithubPush}

	want := map[Stage]StepState{
		StageCodeGeneration: StepCompleted,
		StageTesting:        StepCompleted,
		StageGithubPush:     StepActive,
		StageRenderDeploy:   StepPending,
	}
	for s, w := range want {
		if got := d.StateOf(s); got != w {
			t.Errorf("StateOf(%s) = %s, want %s", s, got, w)
		}
	}

	d.Status = StatusFailed
	if got := d.StateOf(StageGithubPush); got != StepFailed {
		t.Errorf("expected failed current stage, got %s", got)
	}
}

func TestFailureEventKeepsProgress(t *testing.T) {
	ev := FailureEvent(3, StageTesting, 50, "Agent testing failed: boom")
	if ev.Type != EventComplete {
		t.Errorf("expected complete event, got %s", ev.Type)
	}
	if ev.Success == nil || *ev.Success {
		t.Error("expected success=false")
	}
	if ev.Progress == nil || *ev.Progress != 50 {
		t.Errorf("expected progress 50, got %v", ev.Progress)
	}
	if ev.Error == "" {
		t.Error("expected non-empty error")
	}
}
