// Package prefs stores user settings and the speaker-name list as individual kv entries.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/kv"
)

const (
	KeyOnboardingComplete = "hasCompletedOnboarding"
	KeyUseCase            = "selectedUseCase"
	KeySpeakers           = "speakerNames"
	keyPreferencePrefix   = "preference."
)

var ErrInvalidName = errors.New("prefs: speaker name must not be empty")

type Store struct {
	kv kv.Store
	mu sync.Mutex
}

func New(store kv.Store) *Store {
	return &Store{kv: store}
}

func (s *Store) OnboardingComplete(ctx context.Context) (bool, error) {
	return s.Bool(ctx, KeyOnboardingComplete)
}

func (s *Store) SetOnboardingComplete(ctx context.Context, done bool) error {
	return s.SetBool(ctx, KeyOnboardingComplete, done)
}

func (s *Store) UseCase(ctx context.Context) (string, error) {
	return s.String(ctx, KeyUseCase)
}

func (s *Store) SetUseCase(ctx context.Context, useCase string) error {
	return s.SetString(ctx, KeyUseCase, useCase)
}

// Preference reads a named free-form preference.
func (s *Store) Preference(ctx context.Context, name string) (string, error) {
	return s.String(ctx, keyPreferencePrefix+name)
}

func (s *Store) SetPreference(ctx context.Context, name, value string) error {
	return s.SetString(ctx, keyPreferencePrefix+name, value)
}

// Bool returns false for keys that were never written.
func (s *Store) Bool(ctx context.Context, key string) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(string(raw))
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.kv.Set(ctx, key, []byte(strconv.FormatBool(v)))
}

// String returns "" for keys that were never written.
func (s *Store) String(ctx context.Context, key string) (string, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Store) SetString(ctx context.Context, key, v string) error {
	return s.kv.Set(ctx, key, []byte(v))
}

// Speakers returns the saved speaker names in the order they were added.
func (s *Store) Speakers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakers(ctx)
}

// AddSpeaker appends name unless an equal name (case-insensitive) is already saved.
func (s *Store) AddSpeaker(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.speakers(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return names, nil
		}
	}
	names = append(names, name)
	return names, s.saveSpeakers(ctx, names)
}

func (s *Store) RemoveSpeaker(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.speakers(ctx)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !strings.EqualFold(n, strings.TrimSpace(name)) {
			out = append(out, n)
		}
	}
	return out, s.saveSpeakers(ctx, out)
}

func (s *Store) speakers(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, KeySpeakers)
	if errors.Is(err, kv.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("decode speakers: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *Store) saveSpeakers(ctx context.Context, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, KeySpeakers, data)
}
