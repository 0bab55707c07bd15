package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	j, err := Open(context.Background(), config.JournalConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	if err := j.BeginSession(context.Background(), "s", "en-US"); err != nil {
		t.Fatalf("begin on ephemeral journal: %v", err)
	}
	entries, err := j.Entries(context.Background(), "s", 10)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected nothing recorded, got %v %v", entries, err)
	}
}

func TestSessionTimeline(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent"}
	j, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	if err := j.BeginSession(ctx, "s1", "en-US"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = j.Append(ctx, Entry{SessionID: "s1", Kind: KindStarted, Speaker: "Speaker 1"})
	_ = j.Append(ctx, Entry{SessionID: "s1", Kind: KindSpeaker, Speaker: "Alice", Offset: 2500 * time.Millisecond})
	_ = j.Append(ctx, Entry{SessionID: "s1", Kind: KindStopped, Offset: 4 * time.Second})
	if err := j.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := j.LinkRecord(ctx, "s1", "rec-1"); err != nil {
		t.Fatalf("link: %v", err)
	}

	entries, err := j.Entries(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 || entries[1].Kind != KindSpeaker || entries[1].Speaker != "Alice" || entries[1].Offset != 2500*time.Millisecond {
		t.Fatalf("unexpected entries %+v", entries)
	}
	sessions, err := j.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].RecordID != "rec-1" || sessions[0].EndedAt.IsZero() {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	j, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	j.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	_ = j.BeginSession(ctx, "old", "en-US")
	_ = j.Append(ctx, Entry{SessionID: "old", Kind: KindStarted})

	j.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	_ = j.BeginSession(ctx, "new", "en-US")
	if err := j.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := j.Entries(ctx, "old", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatal("expected old session pruned with its entries")
	}
	sessions, _ := j.Sessions(ctx, 10)
	if len(sessions) != 1 || sessions[0].ID != "new" {
		t.Fatalf("expected only new session, got %+v", sessions)
	}
}

func TestSessionModeResetsOnOpen(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "session"}
	j, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_ = j.BeginSession(ctx, "s1", "en-US")
	_ = j.Close()

	j, err = Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	sessions, _ := j.Sessions(ctx, 10)
	if len(sessions) != 0 {
		t.Fatalf("expected empty journal after reopen, got %+v", sessions)
	}
}
