package permissions

import (
	"context"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func TestRequireGranted(t *testing.T) {
	a := NewStatic(config.Default().Permissions)
	if err := Require(context.Background(), a, Microphone, Recognition); err != nil {
		t.Fatalf("expected grants, got %v", err)
	}
}

func TestRequireDenied(t *testing.T) {
	cfg := config.Default().Permissions
	cfg.Recognition = "denied"
	err := Require(context.Background(), NewStatic(cfg), Microphone, Recognition)
	if !IsDenied(err) {
		t.Fatalf("expected denied error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Settings") {
		t.Fatalf("expected settings hint, got %q", err.Error())
	}
}

func TestUndeterminedResolvesOnRequest(t *testing.T) {
	cfg := config.Default().Permissions
	cfg.Microphone = "undetermined"
	a := NewStatic(cfg)
	a.SetPromptAnswer(Denied)
	if a.Status(Microphone) != Undetermined {
		t.Fatalf("expected undetermined before prompt")
	}
	st, err := a.Request(context.Background(), Microphone)
	if err != nil || st != Denied {
		t.Fatalf("expected denied answer, got %s %v", st, err)
	}
	if a.Status(Microphone) != Denied {
		t.Fatalf("expected answer to stick")
	}
}
