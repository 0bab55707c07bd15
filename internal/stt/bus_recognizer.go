package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusRecognizer delegates recognition to a remote STT service: audio is
// published on audio.frame.<stream> and transcripts are read back from
// stt.text.partial and stt.text.final.
type BusRecognizer struct {
	bus        *bus.Client
	locales    locales
	finalAfter time.Duration
	log        *slog.Logger
}

func NewBusRecognizer(client *bus.Client, locales []string, finalTimeout time.Duration, log *slog.Logger) *BusRecognizer {
	if finalTimeout <= 0 {
		finalTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &BusRecognizer{
		bus:        client,
		locales:    locales,
		finalAfter: finalTimeout,
		log:        log.With(slog.String("component", "stt-bus")),
	}
}

func (r *BusRecognizer) Available(locale string) bool {
	return r.bus.Healthy() && r.locales.supports(locale)
}

func (r *BusRecognizer) Open(ctx context.Context, req Request) (Stream, error) {
	if !r.Available(req.Locale) {
		return nil, NewError(CodeUnavailable, errors.New("bus recognizer unavailable"))
	}
	// Each stream gets its own id so late transcripts of a restarted stream are ignored.
	s := &busStream{
		r:      r,
		req:    req,
		id:     fmt.Sprintf("%s-%s", req.SessionID, uuid.NewString()[:8]),
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}
	conn := r.bus.Conn()
	var err error
	s.subPartial, err = conn.Subscribe(protocol.SubjectTranscriptPartial, s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe partial transcripts: %w", err)
	}
	s.subFinal, err = conn.Subscribe(protocol.SubjectTranscriptFinal, s.handle)
	if err != nil {
		_ = s.subPartial.Unsubscribe()
		return nil, fmt.Errorf("subscribe final transcripts: %w", err)
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.closed:
		}
	}()
	return s, nil
}

type busStream struct {
	r      *BusRecognizer
	req    Request
	id     string
	events chan Event
	closed chan struct{}

	subPartial *nats.Subscription
	subFinal   *nats.Subscription

	mu         sync.Mutex
	seq        int
	sendClosed bool
	done       bool
	timer      *time.Timer
}

func (s *busStream) Events() <-chan Event { return s.events }

func (s *busStream) Push(pcm []byte) error {
	s.mu.Lock()
	if s.sendClosed || s.done {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.seq++
	frame := s.frame(pcm, false)
	s.mu.Unlock()
	return s.r.bus.PublishJSON(protocol.AudioFrameSubject(s.id), frame)
}

func (s *busStream) CloseSend() error {
	s.mu.Lock()
	if s.sendClosed || s.done {
		s.mu.Unlock()
		return nil
	}
	s.sendClosed = true
	s.seq++
	frame := s.frame(nil, true)
	s.timer = time.AfterFunc(s.r.finalAfter, func() {
		s.finish(Event{Kind: EventError, Err: NewError(CodeNoSpeech, errors.New("no final transcript received"))})
	})
	s.mu.Unlock()
	return s.r.bus.PublishJSON(protocol.AudioFrameSubject(s.id), frame)
}

func (s *busStream) Cancel() {
	s.finish(Event{Kind: EventError, Err: ErrCancelled})
}

func (s *busStream) frame(pcm []byte, final bool) protocol.AudioFrame {
	return protocol.AudioFrame{
		SessionID:  s.id,
		Sequence:   s.seq,
		SampleRate: s.req.SampleRate,
		Channels:   s.req.Channels,
		PCM:        pcm,
		Final:      final,
	}
}

func (s *busStream) handle(msg *nats.Msg) {
	var tr protocol.Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		s.r.log.Warn("invalid transcript payload", slog.String("error", err.Error()))
		return
	}
	if tr.SessionID != s.id {
		return
	}
	switch {
	case tr.Error != "":
		s.finish(Event{Kind: EventError, Err: NewError(ParseCode(tr.Code), errors.New(tr.Error))})
	case tr.Partial:
		if !s.req.Interim {
			return
		}
		s.mu.Lock()
		if !s.done {
			select {
			case s.events <- Event{Kind: EventPartial, Text: tr.Text, Confidence: tr.Confidence}:
			default:
			}
		}
		s.mu.Unlock()
	case strings.TrimSpace(tr.Text) == "":
		s.finish(Event{Kind: EventError, Err: ErrNoSpeech})
	default:
		s.finish(Event{Kind: EventFinal, Text: strings.TrimSpace(tr.Text), Confidence: tr.Confidence})
	}
}

func (s *busStream) finish(ev Event) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	_ = s.subPartial.Unsubscribe()
	_ = s.subFinal.Unsubscribe()
	s.events <- ev
	close(s.events)
	close(s.closed)
}
