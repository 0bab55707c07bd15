// Package permissions models the platform authorizations a session needs.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type Kind string

const (
	Microphone    Kind = "microphone"
	Recognition   Kind = "recognition"
	Notifications Kind = "notifications"
)

type Status string

const (
	Granted      Status = "granted"
	Denied       Status = "denied"
	Undetermined Status = "undetermined"
)

// Authorizer reports and requests capability grants.
type Authorizer interface {
	Status(kind Kind) Status
	// Request prompts for an undetermined grant and returns the resulting status.
	Request(ctx context.Context, kind Kind) (Status, error)
}

// DeniedError means the user has to change the grant in system settings.
type DeniedError struct {
	Kind Kind
}

func (e *DeniedError) Error() string {
	switch e.Kind {
	case Microphone:
		return "Microphone access denied. Enable it in Settings to record."
	case Recognition:
		return "Speech recognition access denied. Enable it in Settings to transcribe."
	default:
		return fmt.Sprintf("%s access denied. Enable it in Settings.", e.Kind)
	}
}

// IsDenied reports whether err is a DeniedError.
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}

// Require requests every kind and fails on the first one not granted.
func Require(ctx context.Context, a Authorizer, kinds ...Kind) error {
	for _, kind := range kinds {
		status, err := a.Request(ctx, kind)
		if err != nil {
			return fmt.Errorf("request %s permission: %w", kind, err)
		}
		if status != Granted {
			return &DeniedError{Kind: kind}
		}
	}
	return nil
}

// Static answers from configuration. An undetermined grant becomes the
// configured prompt answer the first time it is requested.
type Static struct {
	mu       sync.Mutex
	statuses map[Kind]Status
	answer   Status
}

func NewStatic(cfg config.PermissionsConfig) *Static {
	return &Static{
		statuses: map[Kind]Status{
			Microphone:    Status(cfg.Microphone),
			Recognition:   Status(cfg.Recognition),
			Notifications: Status(cfg.Notifications),
		},
		answer: Granted,
	}
}

// SetPromptAnswer changes how undetermined grants resolve.
func (s *Static) SetPromptAnswer(status Status) {
	s.mu.Lock()
	s.answer = status
	s.mu.Unlock()
}

func (s *Static) Set(kind Kind, status Status) {
	s.mu.Lock()
	s.statuses[kind] = status
	s.mu.Unlock()
}

func (s *Static) Status(kind Kind) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[kind]; ok && st != "" {
		return st
	}
	return Undetermined
}

func (s *Static) Request(ctx context.Context, kind Kind) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Undetermined, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[kind]
	if st == "" || st == Undetermined {
		st = s.answer
		s.statuses[kind] = st
	}
	return st, nil
}
