package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/entitlement"
	"github.com/loqalabs/loqa-scribe/internal/export"
	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/kv"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/permissions"
	"github.com/loqalabs/loqa-scribe/internal/prefs"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type manualSource struct {
	mu      sync.Mutex
	handler audio.Handler
}

func (s *manualSource) Format() audio.Format { return audio.Format{SampleRate: 16000, Channels: 1} }

func (s *manualSource) Start(h audio.Handler) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return nil
}

func (s *manualSource) Stop() error {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
	return nil
}

func (s *manualSource) feed(pcm []byte) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(pcm)
	}
}

// budgetKV fails writes once its budget is spent; a negative budget never fails.
type budgetKV struct {
	*kv.Memory
	mu     sync.Mutex
	budget int
}

func (b *budgetKV) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	if b.budget == 0 {
		b.mu.Unlock()
		return errors.New("disk full")
	}
	if b.budget > 0 {
		b.budget--
	}
	b.mu.Unlock()
	return b.Memory.Set(ctx, key, value)
}

func (b *budgetKV) allow(n int) {
	b.mu.Lock()
	b.budget = n
	b.mu.Unlock()
}

type fixture struct {
	client  *bus.Client
	source  *manualSource
	history *history.Store
	ent     *entitlement.Service
	svc     *Service
	kv      *budgetKV
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(ctx, "control-test", config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000, RequestTimeout: 5000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	store := &budgetKV{Memory: kv.NewMemory(), budget: -1}
	hist, err := history.Open(ctx, store, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	cfg := config.Default()
	src := &manualSource{}
	ctrl := session.NewController(ctx, session.Options{
		Config:       cfg.Session,
		Locale:       "en-US",
		Recognizer:   stt.NewMockRecognizer(stt.BatchOptions{Locales: []string{"en-US"}, Logger: newLogger()}),
		Source:       src,
		AudioSession: audio.NewExclusiveSession(),
		Permissions:  permissions.NewStatic(cfg.Permissions),
		History:      hist,
		Logger:       newLogger(),
	})
	t.Cleanup(ctrl.Close)

	ent := entitlement.NewService(ctx, config.EntitlementConfig{}, nil, newLogger())
	svc := NewService(ctx, Options{
		Controller: ctrl,
		History:    hist,
		Prefs:      prefs.New(store),
		Gate:       ent,
		GatePDF:    true,
		Export:     export.OptionsFromConfig(cfg.Export, cfg.Session.TitleLayout),
		ExportDir:  t.TempDir(),
	}, client, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start control: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy control service")
	}
	return &fixture{client: client, source: src, history: hist, ent: ent, svc: svc, kv: store}
}

func (f *fixture) call(t *testing.T, subject string, req protocol.Request) protocol.Reply {
	t.Helper()
	var reply protocol.Reply
	if err := f.client.RequestJSON(context.Background(), subject, req, &reply); err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	return reply
}

func TestSessionRoundTripOverBus(t *testing.T) {
	f := newFixture(t)

	states, err := f.client.Conn().SubscribeSync(protocol.SubjectSessionState)
	if err != nil {
		t.Fatalf("subscribe state: %v", err)
	}

	reply := f.call(t, protocol.SubjectSessionStart, protocol.Request{})
	if !reply.OK || reply.State == nil || !reply.State.Recording {
		t.Fatalf("expected recording state, got %+v", reply)
	}
	if again := f.call(t, protocol.SubjectSessionStart, protocol.Request{}); again.OK || again.Error == "" {
		t.Fatalf("expected error on second start, got %+v", again)
	}

	f.source.feed(make([]byte, 640))
	if r := f.call(t, protocol.SubjectSessionStop, protocol.Request{}); !r.OK || r.State.Recording {
		t.Fatalf("expected idle after stop, got %+v", r)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		r := f.call(t, protocol.SubjectSessionStatus, protocol.Request{})
		if strings.Contains(r.State.Transcript, "final transcript length=640") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("final transcript never arrived, state %+v", r.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	fav := true
	saved := f.call(t, protocol.SubjectSessionSave, protocol.Request{Title: "Standup", Tags: []string{"team"}, Favorite: &fav})
	if !saved.OK || saved.Record == nil || saved.Record.Title != "Standup" || !saved.Record.Favorite {
		t.Fatalf("unexpected save reply %+v", saved)
	}

	list := f.call(t, protocol.SubjectHistoryList, protocol.Request{Tag: "team"})
	if len(list.Records) != 1 || list.Records[0].ID != saved.Record.ID {
		t.Fatalf("unexpected list %+v", list.Records)
	}

	if _, err := states.NextMsg(2 * time.Second); err != nil {
		t.Fatalf("expected published session state: %v", err)
	}
}

func TestHistoryEditingOverBus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := history.Record{ID: "r1", Text: "hello", CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), Title: "Old"}
	if err := f.history.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	fav := true
	updated := f.call(t, protocol.SubjectHistoryUpdate, protocol.Request{ID: "r1", Title: "New", Favorite: &fav, Tags: []string{"a", "A", "b"}})
	if !updated.OK || updated.Record.Title != "New" || !updated.Record.Favorite || len(updated.Record.Tags) != 2 {
		t.Fatalf("unexpected update reply %+v", updated)
	}

	md := f.call(t, protocol.SubjectHistoryExport, protocol.Request{ID: "r1", Format: "md"})
	if !md.OK || md.Filename != "New.md" || !strings.Contains(string(md.Document), "# New") {
		t.Fatalf("unexpected markdown export %+v", md)
	}

	pdf := f.call(t, protocol.SubjectHistoryExport, protocol.Request{ID: "r1", Format: "pdf"})
	if pdf.OK || pdf.Error != ErrSubscriptionRequired.Error() {
		t.Fatalf("expected gated pdf export, got %+v", pdf)
	}
	f.ent.Set(true)
	pdf = f.call(t, protocol.SubjectHistoryExport, protocol.Request{ID: "r1", Format: "pdf"})
	if !pdf.OK || pdf.MIME != "application/pdf" || len(pdf.Document) == 0 {
		t.Fatalf("expected pdf after subscribing, got ok=%v err=%s", pdf.OK, pdf.Error)
	}

	if r := f.call(t, protocol.SubjectHistoryDelete, protocol.Request{ID: "missing"}); r.OK {
		t.Fatal("expected error deleting unknown record")
	}
	if r := f.call(t, protocol.SubjectHistoryDelete, protocol.Request{ID: "r1"}); !r.OK {
		t.Fatalf("delete failed: %s", r.Error)
	}
	if f.history.Len() != 0 {
		t.Fatal("expected empty history")
	}
}

func TestHistoryUpdateIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := history.Record{ID: "r1", Text: "hello", CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), Title: "Old"}
	if err := f.history.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	fav := true
	f.kv.allow(1)
	updated := f.call(t, protocol.SubjectHistoryUpdate, protocol.Request{ID: "r1", Title: "New", Favorite: &fav, Tags: []string{"team"}})
	if !updated.OK || updated.Record.Title != "New" || !updated.Record.Favorite || len(updated.Record.Tags) != 1 {
		t.Fatalf("expected every field applied with a single write, got %+v", updated)
	}

	off := false
	failed := f.call(t, protocol.SubjectHistoryUpdate, protocol.Request{ID: "r1", Title: "Newer", Favorite: &off, Tags: []string{"other"}})
	if failed.OK {
		t.Fatal("expected update to fail once storage rejects writes")
	}
	got, err := f.history.Get("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "New" || !got.Favorite || len(got.Tags) != 1 || got.Tags[0] != "team" {
		t.Fatalf("failed update left partial changes: %+v", got)
	}
}

func TestPrefsOverBus(t *testing.T) {
	f := newFixture(t)
	value := func(v string) *string { return &v }

	r := f.call(t, protocol.SubjectPrefsGet, protocol.Request{})
	if !r.OK || r.Prefs == nil || r.Prefs.OnboardingComplete || r.Prefs.UseCase != "" {
		t.Fatalf("unexpected defaults %+v", r)
	}

	r = f.call(t, protocol.SubjectPrefsSet, protocol.Request{Key: prefs.KeyOnboardingComplete, Value: value("true")})
	if !r.OK || !r.Prefs.OnboardingComplete {
		t.Fatalf("expected onboarding complete, got %+v", r)
	}
	r = f.call(t, protocol.SubjectPrefsSet, protocol.Request{Key: prefs.KeyUseCase, Value: value(" meetings ")})
	if !r.OK || r.Prefs.UseCase != "meetings" {
		t.Fatalf("unexpected use case %+v", r.Prefs)
	}
	r = f.call(t, protocol.SubjectPrefsSet, protocol.Request{Key: "locale", Value: value("de-DE")})
	if !r.OK || r.Prefs.Values["locale"] != "de-DE" {
		t.Fatalf("unexpected named preference %+v", r.Prefs)
	}
	r = f.call(t, protocol.SubjectPrefsGet, protocol.Request{Key: "locale"})
	if r.Prefs.Values["locale"] != "de-DE" || !r.Prefs.OnboardingComplete {
		t.Fatalf("preference not persisted %+v", r.Prefs)
	}

	if r := f.call(t, protocol.SubjectPrefsSet, protocol.Request{Key: prefs.KeyOnboardingComplete, Value: value("maybe")}); r.OK {
		t.Fatal("expected invalid boolean to be rejected")
	}
	if r := f.call(t, protocol.SubjectPrefsSet, protocol.Request{Key: "locale"}); r.OK || r.Error != ErrInvalidPreference.Error() {
		t.Fatalf("expected missing value error, got %+v", r)
	}
}

func TestSpeakersOverBus(t *testing.T) {
	f := newFixture(t)
	f.call(t, protocol.SubjectSpeakersAdd, protocol.Request{Speaker: "Alice"})
	r := f.call(t, protocol.SubjectSpeakersAdd, protocol.Request{Speaker: "Bob"})
	if len(r.Speakers) != 2 {
		t.Fatalf("expected two speakers, got %v", r.Speakers)
	}
	r = f.call(t, protocol.SubjectSpeakersRemove, protocol.Request{Speaker: "alice"})
	if len(r.Speakers) != 1 || r.Speakers[0] != "Bob" {
		t.Fatalf("unexpected speakers %v", r.Speakers)
	}
	r = f.call(t, protocol.SubjectSpeakersList, protocol.Request{})
	if len(r.Speakers) != 1 {
		t.Fatalf("unexpected list %v", r.Speakers)
	}
}

func TestInvalidRequest(t *testing.T) {
	f := newFixture(t)
	msg, err := f.client.Conn().Request(protocol.SubjectSessionStatus, []byte("{"), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply protocol.Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.OK || !strings.Contains(reply.Error, "invalid request") {
		t.Fatalf("expected invalid request reply, got %+v", reply)
	}
}

func TestShareAndSavedExportOverBus(t *testing.T) {
	f := newFixture(t)
	rec := history.Record{ID: "r2", Text: "shared words", CreatedAt: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), Title: "Retro"}
	if err := f.history.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	text := f.call(t, protocol.SubjectHistoryShare, protocol.Request{ID: "r2"})
	if !text.OK || !strings.Contains(text.Text, "shared words") {
		t.Fatalf("unexpected text share %+v", text)
	}
	if doc := f.call(t, protocol.SubjectHistoryShare, protocol.Request{ID: "r2", Format: "document"}); doc.OK {
		t.Fatal("expected document share to require a subscription")
	}
	f.ent.Set(true)
	doc := f.call(t, protocol.SubjectHistoryShare, protocol.Request{ID: "r2", Format: "document"})
	if !doc.OK || doc.MIME != "application/pdf" || len(doc.Document) == 0 {
		t.Fatalf("unexpected document share ok=%v err=%s", doc.OK, doc.Error)
	}

	saved := f.call(t, protocol.SubjectHistoryExport, protocol.Request{ID: "r2", Format: "txt", Save: true})
	if !saved.OK || saved.Filename != "Retro.txt" || saved.Path == "" {
		t.Fatalf("unexpected saved export %+v", saved)
	}
	data, err := os.ReadFile(saved.Path)
	if err != nil || !strings.Contains(string(data), "shared words") {
		t.Fatalf("expected export on disk, got %q, %v", data, err)
	}
}
