package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
)

func TestOperatorUpdateValidateFor(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		next    *Status
		wantErr bool
	}{
		{"no status change", StatusTesting, nil, false},
		{"pause running", StatusRunning, Ptr(StatusPaused), false},
		{"resume paused", StatusPaused, Ptr(StatusRunning), false},
		{"same status", StatusFailed, Ptr(StatusFailed), false},
		{"pause failed", StatusFailed, Ptr(StatusPaused), true},
		{"force running while testing", StatusTesting, Ptr(StatusRunning), true},
		{"unknown status", StatusRunning, Ptr(Status("exploded")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := OperatorUpdate{Status: tt.next}.ValidateFor(tt.current)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUpdateApply(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	a := Agent{Name: "code-reviewer", Status: StatusCreating, Code: ""}

	Update{
		Code:      Ptr("print('hi')"),
		Status:    Ptr(StatusTesting),
		GithubURL: Ptr("https://github.com/o/r/commit/abc"),
	}.Apply(&a, now)

	if a.Code != "print('hi')" {
		t.Errorf("code not applied: %q", a.Code)
	}
	if a.Status != StatusTesting {
		t.Errorf("status not applied: %s", a.Status)
	}
	if a.GithubURL == nil || *a.GithubURL != "https://github.com/o/r/commit/abc" {
		t.Errorf("github url not applied: %v", a.GithubURL)
	}
	if a.RenderURL != nil {
		t.Errorf("render url should stay nil, got %v", *a.RenderURL)
	}
	if !a.UpdatedAt.Equal(now) {
		t.Errorf("expected UpdatedAt %v, got %v", now, a.UpdatedAt)
	}
}

func TestCreateRequestValidate(t *testing.T) {
	if err := (CreateRequest{}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := (CreateRequest{Name: "x"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
