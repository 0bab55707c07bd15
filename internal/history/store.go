package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/kv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Key is the key-value entry holding the serialized history.
const Key = "savedTranscriptions"

var (
	ErrNotFound  = errors.New("history: record not found")
	ErrDuplicate = errors.New("history: record already exists")
	ErrInvalid   = errors.New("history: invalid record")
)

// Store is the in-memory ordered collection of records, most recent first.
// Every mutation rewrites the whole collection into the backing kv entry.
type Store struct {
	mu      sync.RWMutex
	kv      kv.Store
	log     *slog.Logger
	tracer  trace.Tracer
	records []Record
}

// Open loads the persisted collection. A missing entry yields an empty history.
func Open(ctx context.Context, store kv.Store, log *slog.Logger) (*Store, error) {
	s := &Store{
		kv:     store,
		log:    log.With(slog.String("component", "history")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-scribe/history"),
	}
	data, err := store.Get(ctx, Key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	s.log.Info("history loaded", slog.Int("records", len(s.records)))
	return s, nil
}

// List returns a copy of all records in display order.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.records[i].clone(), nil
	}
	return Record{}, ErrNotFound
}

// Insert prepends rec so the newest record is at index 0.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" || strings.TrimSpace(rec.Text) == "" {
		return ErrInvalid
	}
	rec.Tags = normalizeTags(rec.Tags)
	return s.mutate(ctx, "history.insert", func(records []Record) ([]Record, error) {
		for _, r := range records {
			if r.ID == rec.ID {
				return nil, ErrDuplicate
			}
		}
		out := make([]Record, 0, len(records)+1)
		out = append(out, rec.clone())
		return append(out, records...), nil
	})
}

// Patch describes an edit of a saved record. Nil fields are left unchanged;
// a non-nil Segments replaces the segments and recomputes Text.
type Patch struct {
	Title    *string
	Favorite *bool
	Tags     []string
	Segments []Segment
}

// Edit applies every field of p to the record with id as one persisted
// mutation, so either all of them land or none do.
func (s *Store) Edit(ctx context.Context, id string, p Patch) error {
	return s.modify(ctx, "history.edit", id, func(cur *Record) error {
		if p.Title != nil {
			title := strings.TrimSpace(*p.Title)
			if title == "" {
				return ErrInvalid
			}
			cur.Title = title
		}
		if p.Favorite != nil {
			cur.Favorite = *p.Favorite
		}
		if p.Tags != nil {
			cur.Tags = normalizeTags(p.Tags)
		}
		if p.Segments != nil {
			kept, text := JoinSegments(p.Segments)
			if text == "" {
				return ErrInvalid
			}
			cur.Segments = kept
			cur.Text = text
		}
		return nil
	})
}

// Delete removes exactly the record with id; the order of the others is kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, "history.delete", func(records []Record) ([]Record, error) {
		idx := -1
		for i, r := range records {
			if r.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ErrNotFound
		}
		out := make([]Record, 0, len(records)-1)
		out = append(out, records[:idx]...)
		return append(out, records[idx+1:]...), nil
	})
}

func (s *Store) DeleteAll(ctx context.Context) error {
	return s.mutate(ctx, "history.delete_all", func([]Record) ([]Record, error) {
		return []Record{}, nil
	})
}

func (s *Store) modify(ctx context.Context, op, id string, fn func(*Record) error) error {
	return s.mutate(ctx, op, func(records []Record) ([]Record, error) {
		out := make([]Record, len(records))
		copy(out, records)
		for i := range out {
			if out[i].ID != id {
				continue
			}
			rec := out[i].clone()
			if err := fn(&rec); err != nil {
				return nil, err
			}
			out[i] = rec
			return out, nil
		}
		return nil, ErrNotFound
	})
}

// mutate computes the next collection, persists it and only then swaps it in,
// so a failed write leaves memory and storage in agreement.
func (s *Store) mutate(ctx context.Context, op string, fn func([]Record) ([]Record, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.records)
	if err != nil {
		return err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Set(ctx, Key, data); err != nil {
		span.RecordError(err)
		s.log.Warn("persist history failed", slog.String("op", op), slog.String("error", err.Error()))
		return fmt.Errorf("persist history: %w", err)
	}
	s.records = next
	span.SetAttributes(attribute.Int("history.records", len(next)))
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
