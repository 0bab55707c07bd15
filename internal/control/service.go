// Package control exposes the session controller, history and speaker list
// as NATS request/reply subjects.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/export"
	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/prefs"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/nats-io/nats.go"
)

// ErrSubscriptionRequired is returned for gated exports without an entitlement.
var ErrSubscriptionRequired = errors.New("this export requires an active subscription")

var ErrInvalidPreference = errors.New("preference key and value are required")

// Gate decides whether a gated feature is available.
type Gate interface {
	Allowed(gated bool) bool
}

type Options struct {
	Controller *session.Controller
	History    *history.Store
	Prefs      *prefs.Store
	Gate       Gate
	GatePDF    bool
	Export     export.Options
	ExportDir  string
	Timeout    time.Duration
}

type handler func(ctx context.Context, req protocol.Request) (protocol.Reply, error)

type Service struct {
	opts   Options
	bus    *bus.Client
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	ready  bool
}

func NewService(parent context.Context, opts Options, busClient *bus.Client, log *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		opts:   opts,
		bus:    busClient,
		log:    log.With(slog.String("component", "control")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	routes := map[string]handler{
		protocol.SubjectSessionStart:   s.handleStart,
		protocol.SubjectSessionStop:    s.handleStop,
		protocol.SubjectSessionPause:   s.handlePause,
		protocol.SubjectSessionResume:  s.handleResume,
		protocol.SubjectSessionSpeaker: s.handleSpeaker,
		protocol.SubjectSessionSave:    s.handleSave,
		protocol.SubjectSessionDiscard: s.handleDiscard,
		protocol.SubjectSessionStatus:  s.handleStatus,
		protocol.SubjectSessionDismiss: s.handleDismiss,
		protocol.SubjectHistoryList:    s.handleHistoryList,
		protocol.SubjectHistoryGet:     s.handleHistoryGet,
		protocol.SubjectHistoryUpdate:  s.handleHistoryUpdate,
		protocol.SubjectHistoryDelete:  s.handleHistoryDelete,
		protocol.SubjectHistoryClear:   s.handleHistoryClear,
		protocol.SubjectHistoryShare:   s.handleHistoryShare,
		protocol.SubjectHistoryExport:  s.handleHistoryExport,
		protocol.SubjectSpeakersList:   s.handleSpeakersList,
		protocol.SubjectSpeakersAdd:    s.handleSpeakersAdd,
		protocol.SubjectSpeakersRemove: s.handleSpeakersRemove,
		protocol.SubjectPrefsGet:       s.handlePrefsGet,
		protocol.SubjectPrefsSet:       s.handlePrefsSet,
	}
	conn := s.bus.Conn()
	for subject, h := range routes {
		sub, err := conn.Subscribe(subject, s.wrap(subject, h))
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	updates, cancel := s.opts.Controller.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.publishStates(updates)
	}()

	s.ready = true
	s.log.Info("control service ready", slog.Int("subjects", len(routes)))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready && s.bus.Healthy()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) publishStates(updates <-chan session.State) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := s.bus.PublishJSON(protocol.SubjectSessionState, toState(st)); err != nil {
				s.log.Warn("failed to publish session state", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Service) wrap(subject string, h handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var req protocol.Request
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.respond(msg, protocol.Reply{Error: "invalid request: " + err.Error()})
				return
			}
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.Timeout)
		defer cancel()

		reply, err := h(ctx, req)
		if err != nil {
			s.log.Debug("request failed", slog.String("subject", subject), slog.String("error", err.Error()))
			reply.OK = false
			reply.Error = err.Error()
		} else {
			reply.OK = true
		}
		s.respond(msg, reply)
	}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Warn("failed to marshal reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to send reply", slog.String("error", err.Error()))
	}
}

func (s *Service) stateReply(err error) (protocol.Reply, error) {
	return protocol.Reply{State: toState(s.opts.Controller.Snapshot())}, err
}

func (s *Service) handleStart(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	return s.stateReply(s.opts.Controller.Start(ctx))
}

func (s *Service) handleStop(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	return s.stateReply(s.opts.Controller.Stop(ctx))
}

func (s *Service) handlePause(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	return s.stateReply(s.opts.Controller.Pause(ctx))
}

func (s *Service) handleResume(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	return s.stateReply(s.opts.Controller.Resume(ctx))
}

func (s *Service) handleSpeaker(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	return s.stateReply(s.opts.Controller.SwitchSpeaker(ctx, req.Speaker))
}

func (s *Service) handleSave(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	opts := session.SaveOptions{Title: req.Title, Tags: req.Tags}
	if req.Favorite != nil {
		opts.Favorite = *req.Favorite
	}
	rec, err := s.opts.Controller.Save(ctx, opts)
	if err != nil {
		return protocol.Reply{}, err
	}
	out := toRecord(rec)
	return protocol.Reply{Record: &out}, nil
}

func (s *Service) handleDiscard(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	return s.stateReply(s.opts.Controller.Discard(ctx))
}

func (s *Service) handleStatus(_ context.Context, _ protocol.Request) (protocol.Reply, error) {
	return s.stateReply(nil)
}

func (s *Service) handleDismiss(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	return s.stateReply(s.opts.Controller.DismissError(ctx))
}

func (s *Service) handleHistoryList(_ context.Context, req protocol.Request) (protocol.Reply, error) {
	q := history.Query{
		Text:          req.Query,
		Tag:           req.Tag,
		FavoritesOnly: req.Favorite != nil && *req.Favorite,
		Sort:          history.SortOrder(req.Sort),
	}
	return protocol.Reply{Records: toRecords(history.Filter(s.opts.History.List(), q))}, nil
}

func (s *Service) handleHistoryGet(_ context.Context, req protocol.Request) (protocol.Reply, error) {
	rec, err := s.opts.History.Get(req.ID)
	if err != nil {
		return protocol.Reply{}, err
	}
	out := toRecord(rec)
	return protocol.Reply{Record: &out}, nil
}

func (s *Service) handleHistoryUpdate(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	patch := history.Patch{Favorite: req.Favorite, Tags: req.Tags}
	if req.Title != "" {
		patch.Title = &req.Title
	}
	if err := s.opts.History.Edit(ctx, req.ID, patch); err != nil {
		return protocol.Reply{}, err
	}
	return s.handleHistoryGet(ctx, req)
}

func (s *Service) handleHistoryDelete(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	return protocol.Reply{}, s.opts.History.Delete(ctx, req.ID)
}

func (s *Service) handleHistoryClear(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	return protocol.Reply{}, s.opts.History.DeleteAll(ctx)
}

func (s *Service) handleHistoryExport(_ context.Context, req protocol.Request) (protocol.Reply, error) {
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return protocol.Reply{}, err
	}
	if format == export.FormatPDF && s.opts.Gate != nil && !s.opts.Gate.Allowed(s.opts.GatePDF) {
		return protocol.Reply{}, ErrSubscriptionRequired
	}
	rec, err := s.opts.History.Get(req.ID)
	if err != nil {
		return protocol.Reply{}, err
	}
	if req.Save {
		if s.opts.ExportDir == "" {
			return protocol.Reply{}, errors.New("no export directory configured")
		}
		path, err := export.WriteFile(s.opts.ExportDir, rec, format, s.opts.Export)
		if err != nil {
			return protocol.Reply{}, err
		}
		return protocol.Reply{Path: path, Filename: filepath.Base(path), MIME: format.MIME()}, nil
	}
	doc, err := export.Render(rec, format, s.opts.Export)
	if err != nil {
		return protocol.Reply{}, err
	}
	return protocol.Reply{Document: doc.Data, Filename: doc.Filename, MIME: doc.MIME}, nil
}

// handleHistoryShare builds a share payload: plain text by default, a PDF
// document when Format is "document".
func (s *Service) handleHistoryShare(_ context.Context, req protocol.Request) (protocol.Reply, error) {
	kind := export.ShareText
	if req.Format == string(export.ShareDocument) {
		if s.opts.Gate != nil && !s.opts.Gate.Allowed(s.opts.GatePDF) {
			return protocol.Reply{}, ErrSubscriptionRequired
		}
		kind = export.ShareDocument
	}
	rec, err := s.opts.History.Get(req.ID)
	if err != nil {
		return protocol.Reply{}, err
	}
	p, err := export.Share(rec, kind, s.opts.Export)
	if err != nil {
		return protocol.Reply{}, err
	}
	if p.Document != nil {
		return protocol.Reply{Document: p.Document.Data, Filename: p.Document.Filename, MIME: p.Document.MIME}, nil
	}
	return protocol.Reply{Text: p.Text}, nil
}

func (s *Service) handleSpeakersList(ctx context.Context, _ protocol.Request) (protocol.Reply, error) {
	names, err := s.opts.Prefs.Speakers(ctx)
	return protocol.Reply{Speakers: names}, err
}

func (s *Service) handleSpeakersAdd(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	names, err := s.opts.Prefs.AddSpeaker(ctx, req.Speaker)
	return protocol.Reply{Speakers: names}, err
}

func (s *Service) handleSpeakersRemove(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	names, err := s.opts.Prefs.RemoveSpeaker(ctx, req.Speaker)
	return protocol.Reply{Speakers: names}, err
}

func (s *Service) handlePrefsGet(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	p, err := s.preferences(ctx, strings.TrimSpace(req.Key))
	return protocol.Reply{Prefs: p}, err
}

// handlePrefsSet writes one preference. The onboarding flag and use case have
// their own keys; any other key is stored as a named preference.
func (s *Service) handlePrefsSet(ctx context.Context, req protocol.Request) (protocol.Reply, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" || req.Value == nil {
		return protocol.Reply{}, ErrInvalidPreference
	}
	value := strings.TrimSpace(*req.Value)
	var err error
	switch key {
	case prefs.KeyOnboardingComplete:
		done, perr := strconv.ParseBool(value)
		if perr != nil {
			return protocol.Reply{}, fmt.Errorf("%s expects true or false", key)
		}
		err = s.opts.Prefs.SetOnboardingComplete(ctx, done)
	case prefs.KeyUseCase:
		err = s.opts.Prefs.SetUseCase(ctx, value)
	default:
		err = s.opts.Prefs.SetPreference(ctx, key, value)
	}
	if err != nil {
		return protocol.Reply{}, err
	}
	return s.handlePrefsGet(ctx, req)
}

func (s *Service) preferences(ctx context.Context, key string) (*protocol.Preferences, error) {
	done, err := s.opts.Prefs.OnboardingComplete(ctx)
	if err != nil {
		return nil, err
	}
	useCase, err := s.opts.Prefs.UseCase(ctx)
	if err != nil {
		return nil, err
	}
	out := &protocol.Preferences{OnboardingComplete: done, UseCase: useCase}
	if key != "" && key != prefs.KeyOnboardingComplete && key != prefs.KeyUseCase {
		v, err := s.opts.Prefs.Preference(ctx, key)
		if err != nil {
			return nil, err
		}
		out.Values = map[string]string{key: v}
	}
	return out, nil
}
