package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// BatchOptions configures the streaming adapter over a Transcriber.
type BatchOptions struct {
	Locales      []string
	PartialEvery time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// BatchRecognizer turns a Transcriber into a Recognizer by buffering pushed
// audio and re-transcribing the whole buffer for partial and final results.
type BatchRecognizer struct {
	transcriber Transcriber
	opts        BatchOptions
}

func NewBatchRecognizer(t Transcriber, opts BatchOptions) *BatchRecognizer {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &BatchRecognizer{transcriber: t, opts: opts}
}

func (r *BatchRecognizer) Available(locale string) bool {
	return r.transcriber != nil && locales(r.opts.Locales).supports(locale)
}

func (r *BatchRecognizer) Open(parent context.Context, req Request) (Stream, error) {
	if !r.Available(req.Locale) {
		return nil, NewError(CodeUnavailable, ErrLocaleMissing)
	}
	ctx, cancel := context.WithCancel(parent)
	return &batchStream{
		r:      r,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 64),
		log:    r.opts.Logger.With(slog.String("component", "stt-batch"), slog.String("session_id", req.SessionID)),
	}, nil
}

type batchStream struct {
	r      *BatchRecognizer
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	log    *slog.Logger

	mu           sync.Mutex
	buffer       []byte
	lastPartial  time.Time
	inflight     bool
	pendingFinal bool
	sendClosed   bool
	done         bool
}

func (s *batchStream) Events() <-chan Event { return s.events }

func (s *batchStream) Push(pcm []byte) error {
	s.mu.Lock()
	if s.sendClosed || s.done {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.buffer = append(s.buffer, pcm...)
	s.mu.Unlock()

	if s.req.Interim && s.shouldSchedulePartial() {
		s.schedule(false)
	}
	return nil
}

func (s *batchStream) CloseSend() error {
	s.mu.Lock()
	if s.sendClosed || s.done {
		s.mu.Unlock()
		return nil
	}
	s.sendClosed = true
	s.mu.Unlock()
	s.schedule(true)
	return nil
}

func (s *batchStream) Cancel() {
	s.cancel()
	s.mu.Lock()
	idle := !s.inflight
	s.mu.Unlock()
	if idle {
		s.finish(&Event{Kind: EventError, Err: ErrCancelled})
	}
}

func (s *batchStream) shouldSchedulePartial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	if s.lastPartial.IsZero() {
		s.lastPartial = time.Now()
		return true
	}
	interval := s.r.opts.PartialEvery
	if interval <= 0 {
		return false
	}
	if time.Since(s.lastPartial) >= interval {
		s.lastPartial = time.Now()
		return true
	}
	return false
}

func (s *batchStream) schedule(final bool) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if s.inflight {
		if final {
			s.pendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), s.buffer...)
	s.inflight = true
	s.mu.Unlock()

	go s.transcribe(pcm, final)
}

func (s *batchStream) transcribe(pcm []byte, final bool) {
	ctx, cancel := context.WithTimeout(s.ctx, s.r.opts.Timeout)
	defer cancel()

	var (
		result TranscriptResult
		err    error
	)
	if len(pcm) > 0 {
		result, err = s.r.transcriber.Transcribe(ctx, pcm, s.req.SampleRate, s.req.Channels, final)
	}
	text := strings.TrimSpace(result.Text)

	s.mu.Lock()
	s.inflight = false
	pendingFinal := s.pendingFinal
	if !final {
		s.lastPartial = time.Now()
	}
	s.mu.Unlock()

	switch {
	case s.ctx.Err() != nil:
		s.finish(&Event{Kind: EventError, Err: ErrCancelled})
	case err != nil && final:
		s.finish(&Event{Kind: EventError, Err: classify(err)})
	case err != nil:
		s.log.Warn("partial transcription failed", slog.String("error", err.Error()))
	case final && text == "":
		s.finish(&Event{Kind: EventError, Err: ErrNoSpeech})
	case final:
		s.finish(&Event{Kind: EventFinal, Text: text, Confidence: result.Confidence})
	case text != "":
		s.emit(Event{Kind: EventPartial, Text: text, Confidence: result.Confidence})
	}

	if pendingFinal && !final {
		s.schedule(true)
	}
}

// emit drops partials when the consumer lags; each partial supersedes the last.
func (s *batchStream) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *batchStream) finish(ev *Event) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	if ev != nil {
		s.events <- *ev
	}
	close(s.events)
	s.cancel()
}

func classify(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(CodeOf(err), err)
}
