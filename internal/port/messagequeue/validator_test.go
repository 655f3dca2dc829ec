package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateDeploymentRequest(t *testing.T) {
	data := []byte(`{"prompt":"Create a scraper for product prices","auto_deploy":true}`)
	if err := Validate(SubjectDeploymentRequest, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDeploymentRequestMissingPrompt(t *testing.T) {
	err := Validate(SubjectDeploymentRequest, []byte(`{"auto_deploy":true}`))
	if err == nil {
		t.Fatal("expected error for missing prompt")
	}
	if !strings.Contains(err.Error(), "prompt is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateDeploymentEvent(t *testing.T) {
	data := []byte(`{"type":"progress","deployment_id":3,"stage":"testing","progress":40,"message":"Testing agent functionality..."}`)
	if err := Validate(SubjectDeploymentProgress, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateWrongFieldType(t *testing.T) {
	data := []byte(`{"type":"progress","progress":"forty"}`)
	err := Validate(SubjectDeploymentProgress, data)
	if err == nil {
		t.Fatal("expected schema error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectDeploymentComplete, []byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubjectPasses(t *testing.T) {
	if err := Validate("agents.heartbeat", []byte(`{"anything":1}`)); err != nil {
		t.Fatalf("unknown subject should pass, got %v", err)
	}
}
