package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/journal"
	"github.com/loqalabs/loqa-scribe/internal/notify"
	"github.com/loqalabs/loqa-scribe/internal/permissions"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// History receives saved records.
type History interface {
	Insert(ctx context.Context, rec history.Record) error
}

// Timeline records session lifecycle entries.
type Timeline interface {
	BeginSession(ctx context.Context, sessionID, locale string) error
	Append(ctx context.Context, e journal.Entry) error
	EndSession(ctx context.Context, sessionID string) error
	LinkRecord(ctx context.Context, sessionID, recordID string) error
}

// Options wires the controller's collaborators. Recorders, Notifier and
// Timeline are optional.
type Options struct {
	Config       config.SessionConfig
	Locale       string
	Recognizer   stt.Recognizer
	Source       audio.Source
	AudioSession audio.Session
	Recorders    audio.RecorderFactory
	Permissions  permissions.Authorizer
	History      History
	Notifier     notify.Notifier
	Timeline     Timeline
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Controller serialises every state change onto one goroutine. Public methods
// and recognizer callbacks post closures to it; nothing else touches loop state.
type Controller struct {
	opts        Options
	log         *slog.Logger
	clock       func() time.Time
	restartWait time.Duration
	settle      time.Duration
	grace       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	done   chan struct{}

	// loop state
	sessionID   string
	recording   bool
	paused      bool
	speaker     string
	text        transcript
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	finalElapse time.Duration
	errMsg      string
	graceUntil  time.Time
	stream      stt.Stream
	gen         int
	timer       *time.Timer
	recorder    audio.Recorder

	tap tap

	subMu      sync.Mutex
	subs       map[int]chan State
	nextSub    int
	snapshot   State
	subsClosed bool

	sessions metric.Int64Counter
	restarts metric.Int64Counter
	saves    metric.Int64Counter
}

func NewController(parent context.Context, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		opts:        opts,
		log:         opts.Logger.With(slog.String("component", "session")),
		clock:       opts.Clock,
		restartWait: durationMS(opts.Config.RestartAfterMS, 55*time.Second),
		settle:      durationMS(opts.Config.SettleDelayMS, 300*time.Millisecond),
		grace:       durationMS(opts.Config.StopGraceMS, time.Second),
		ctx:         ctx,
		cancel:      cancel,
		cmds:        make(chan func(), 64),
		done:        make(chan struct{}),
		speaker:     strings.TrimSpace(opts.Config.DefaultSpeaker),
		subs:        make(map[int]chan State),
	}
	if c.speaker == "" {
		c.speaker = "Speaker 1"
	}
	if err := c.initMetrics(); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	c.snapshot = c.state()
	go c.run()
	return c
}

func durationMS(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Controller) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-scribe/session")
	var err error
	if c.sessions, err = meter.Int64Counter("scribe.sessions.started",
		metric.WithDescription("Recording sessions started")); err != nil {
		return err
	}
	if c.restarts, err = meter.Int64Counter("scribe.recognition.restarts",
		metric.WithDescription("Recognition streams reopened during a session")); err != nil {
		return err
	}
	c.saves, err = meter.Int64Counter("scribe.transcriptions.saved",
		metric.WithDescription("Transcriptions saved to history"))
	return err
}

func (c *Controller) add(counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(c.ctx, 1)
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.ctx.Done():
			c.shutdown()
			return
		}
	}
}

// post queues fn on the loop; it is dropped once the controller is closed.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.cmds <- func() { res <- fn() }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-c.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops an active recording and terminates the loop.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
}

// Start begins a new recording session. Failures also land in State.Error.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() error {
		err := c.start(ctx)
		c.publish()
		return err
	})
}

func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, func() error {
		if !c.recording {
			return ErrNotRecording
		}
		c.stop("user")
		c.publish()
		return nil
	})
}

// Pause suspends the file recorder; recognition keeps running.
func (c *Controller) Pause(ctx context.Context) error {
	return c.do(ctx, func() error {
		if !c.recording {
			return ErrNotRecording
		}
		if c.paused {
			return nil
		}
		c.paused = true
		c.pausedAt = c.clock()
		if c.recorder != nil {
			c.recorder.Pause()
		}
		c.journal(journal.KindPaused, "")
		c.publish()
		return nil
	})
}

func (c *Controller) Resume(ctx context.Context) error {
	return c.do(ctx, func() error {
		if !c.recording {
			return ErrNotRecording
		}
		if !c.paused {
			return nil
		}
		c.pausedTotal += c.clock().Sub(c.pausedAt)
		c.paused = false
		if c.recorder != nil {
			c.recorder.Resume()
		}
		c.journal(journal.KindResumed, "")
		// A speaker picked while paused takes over from here.
		if c.text.speaker() != c.speaker {
			c.text.open(c.speaker, c.elapsed().Seconds())
			c.journal(journal.KindSpeaker, "")
		}
		c.publish()
		return nil
	})
}

// SwitchSpeaker attributes further speech to label. While paused the new
// segment opens on Resume; while idle it only changes the label the next
// session starts with.
func (c *Controller) SwitchSpeaker(ctx context.Context, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return ErrInvalidSpeaker
	}
	return c.do(ctx, func() error {
		c.speaker = label
		if c.recording && !c.paused {
			c.text.open(label, c.elapsed().Seconds())
			c.journal(journal.KindSpeaker, "")
		}
		c.publish()
		return nil
	})
}

// Save promotes the transcript to a history record and clears it.
func (c *Controller) Save(ctx context.Context, opts SaveOptions) (history.Record, error) {
	var rec history.Record
	err := c.do(ctx, func() error {
		var err error
		rec, err = c.save(ctx, opts)
		c.publish()
		return err
	})
	return rec, err
}

// Discard drops the transcript without saving.
func (c *Controller) Discard(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.recording {
			return ErrRecording
		}
		if c.sessionID != "" {
			c.journal(journal.KindDiscarded, "")
		}
		c.clearTransient()
		c.publish()
		return nil
	})
}

// DismissError clears the surfaced error message.
func (c *Controller) DismissError(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.errMsg = ""
		c.publish()
		return nil
	})
}

// Snapshot returns the current state, or the last published one once closed.
func (c *Controller) Snapshot() State {
	var st State
	err := c.do(context.Background(), func() error {
		st = c.state()
		return nil
	})
	if err != nil {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		return c.snapshot.clone()
	}
	return st
}

// Subscribe streams state changes. The channel holds only the latest state
// and is closed by cancel or when the controller closes.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	ch := make(chan State, 1)
	if c.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshot.clone()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Controller) start(ctx context.Context) error {
	if c.recording {
		return ErrAlreadyRecording
	}
	c.errMsg = ""
	locale := c.opts.Locale

	if c.opts.Recognizer == nil || !c.opts.Recognizer.Available(locale) {
		return c.fail(stt.NewError(stt.CodeUnavailable, fmt.Errorf("speech recognition is not available for %s", locale)),
			"Speech recognition is not available right now.")
	}
	if err := permissions.Require(ctx, c.opts.Permissions, permissions.Microphone, permissions.Recognition); err != nil {
		return c.fail(err, err.Error())
	}
	if err := c.opts.AudioSession.Activate(audio.ModeRecord); err != nil {
		return c.fail(fmt.Errorf("activate audio session: %w", err), "Could not start the audio session: "+err.Error())
	}

	sessionID := uuid.NewString()
	format := c.opts.Source.Format()

	var rec audio.Recorder
	if c.opts.Recorders != nil {
		r, err := c.opts.Recorders.NewRecorder(sessionID, format)
		if err != nil {
			_ = c.opts.AudioSession.Deactivate()
			return c.fail(fmt.Errorf("create recorder: %w", err), "Could not create the audio file: "+err.Error())
		}
		rec = r
	}

	stream, err := c.openStream(sessionID)
	if err != nil {
		closeRecorder(rec, c.log)
		_ = c.opts.AudioSession.Deactivate()
		return c.fail(err, "Could not start speech recognition: "+err.Error())
	}

	// The previous session's stream may still be draining its final result.
	c.detach()
	c.tap.set(stream, rec)
	if err := c.opts.Source.Start(c.tap.handle); err != nil {
		c.tap.set(nil, nil)
		go stream.Cancel()
		closeRecorder(rec, c.log)
		_ = c.opts.AudioSession.Deactivate()
		return c.fail(fmt.Errorf("start audio source: %w", err), "Could not start the microphone: "+err.Error())
	}

	c.sessionID = sessionID
	c.recording = true
	c.paused = false
	c.startedAt = c.clock()
	c.pausedTotal = 0
	c.finalElapse = 0
	c.graceUntil = time.Time{}
	c.recorder = rec
	c.text.reset(c.speaker)
	c.attach(stream)

	if c.opts.Timeline != nil {
		if err := c.opts.Timeline.BeginSession(c.ctx, sessionID, locale); err != nil {
			c.log.Warn("journal begin failed", slog.String("error", err.Error()))
		}
	}
	c.journal(journal.KindStarted, "")
	c.add(c.sessions)
	c.log.Info("recording started", slog.String("session_id", sessionID), slog.String("speaker", c.speaker))
	return nil
}

func (c *Controller) fail(err error, msg string) error {
	c.errMsg = msg
	c.log.Warn("recording could not start", slog.String("error", err.Error()))
	return err
}

// stop ends capture. The recognition stream is half-closed so its final
// result still lands; errors it raises during the grace window are ignored.
func (c *Controller) stop(reason string) {
	c.finalElapse = c.elapsed()
	c.graceUntil = c.clock().Add(c.grace)
	c.recording = false
	c.paused = false
	c.stopTimer()

	if err := c.opts.Source.Stop(); err != nil {
		c.log.Warn("stop audio source failed", slog.String("error", err.Error()))
	}
	c.tap.set(nil, nil)
	if c.stream != nil {
		if err := c.stream.CloseSend(); err != nil {
			c.log.Warn("close recognition stream failed", slog.String("error", err.Error()))
		}
	}
	closeRecorder(c.recorder, c.log)
	c.recorder = nil
	if err := c.opts.AudioSession.Deactivate(); err != nil {
		c.log.Warn("deactivate audio session failed", slog.String("error", err.Error()))
	}

	c.journal(journal.KindStopped, reason)
	if c.opts.Timeline != nil {
		if err := c.opts.Timeline.EndSession(c.ctx, c.sessionID); err != nil {
			c.log.Warn("journal end failed", slog.String("error", err.Error()))
		}
	}
	c.log.Info("recording stopped", slog.String("session_id", c.sessionID), slog.String("reason", reason))
}

func (c *Controller) save(ctx context.Context, opts SaveOptions) (history.Record, error) {
	if c.recording {
		return history.Record{}, ErrRecording
	}
	segments, text := history.JoinSegments(c.text.segments)
	if text == "" {
		return history.Record{}, ErrEmptyTranscript
	}
	now := c.clock()
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = history.DefaultTitle(now, c.opts.Config.TitleLayout)
	}
	rec := history.Record{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: now,
		Title:     title,
		Tags:      opts.Tags,
		Favorite:  opts.Favorite,
		Segments:  segments,
	}
	if err := c.opts.History.Insert(ctx, rec); err != nil {
		return history.Record{}, fmt.Errorf("save transcription: %w", err)
	}
	c.add(c.saves)

	go func(n notify.Notifier, msg notify.Message) {
		if err := n.Notify(context.Background(), msg); err != nil {
			c.log.Warn("notification failed", slog.String("error", err.Error()))
		}
	}(c.opts.Notifier, notify.Message{Title: "Transcription saved", Body: rec.Title, RecordID: rec.ID})

	if c.sessionID != "" {
		c.journal(journal.KindSaved, rec.ID)
		if c.opts.Timeline != nil {
			if err := c.opts.Timeline.LinkRecord(c.ctx, c.sessionID, rec.ID); err != nil {
				c.log.Warn("journal link failed", slog.String("error", err.Error()))
			}
		}
	}
	c.log.Info("transcription saved", slog.String("record_id", rec.ID), slog.Int("segments", len(segments)))
	c.clearTransient()
	return rec, nil
}

// clearTransient drops the transcript and any stream still finishing.
func (c *Controller) clearTransient() {
	c.detach()
	c.text.clear()
	c.sessionID = ""
	c.finalElapse = 0
}

func (c *Controller) elapsed() time.Duration {
	if !c.recording {
		return c.finalElapse
	}
	end := c.clock()
	if c.paused {
		end = c.pausedAt
	}
	d := end.Sub(c.startedAt) - c.pausedTotal
	if d < 0 {
		return 0
	}
	return d
}

func (c *Controller) state() State {
	return State{
		SessionID: c.sessionID,
		Recording: c.recording,
		Paused:    c.paused,
		Speaker:   c.speaker,
		Elapsed:   c.elapsed(),
		Segments:  append([]history.Segment(nil), c.text.segments...),
		Error:     c.errMsg,
		UpdatedAt: c.clock(),
	}
}

// publish stores the snapshot and offers it to every subscriber, replacing
// any state they have not read yet.
func (c *Controller) publish() {
	st := c.state()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.snapshot = st
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st.clone()
	}
}

func (c *Controller) journal(kind journal.Kind, detail string) {
	if c.opts.Timeline == nil || c.sessionID == "" {
		return
	}
	err := c.opts.Timeline.Append(c.ctx, journal.Entry{
		SessionID: c.sessionID,
		Kind:      kind,
		Speaker:   c.speaker,
		Detail:    detail,
		Offset:    c.elapsed(),
		CreatedAt: c.clock(),
	})
	if err != nil {
		c.log.Warn("journal append failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
	}
}

func (c *Controller) shutdown() {
	if c.recording {
		c.stop("shutdown")
	}
	c.detach()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.snapshot = c.state()
	c.subsClosed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

func closeRecorder(r audio.Recorder, log *slog.Logger) {
	if r == nil {
		return
	}
	if err := r.Close(); err != nil && !errors.Is(err, audio.ErrRecorderClosed) {
		log.Warn("close recorder failed", slog.String("error", err.Error()))
	}
}
