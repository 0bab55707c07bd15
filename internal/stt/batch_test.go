package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	block chan struct{}
	calls int
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, pcm []byte, _ int, _ int, final bool) (TranscriptResult, error) {
	s.mu.Lock()
	s.calls++
	block, text, err := s.block, s.text, s.err
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return TranscriptResult{}, ctx.Err()
		}
	}
	if err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Text: text, Confidence: 0.9}, nil
}

func collect(t *testing.T, s Stream) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close, got %v", events)
		}
	}
}

func openBatch(t *testing.T, tr Transcriber, interim bool) Stream {
	t.Helper()
	r := NewBatchRecognizer(tr, BatchOptions{Locales: []string{"en-US"}, Logger: newLogger()})
	s, err := r.Open(context.Background(), Request{SessionID: "s1", Locale: "en-US", SampleRate: 16000, Channels: 1, Interim: interim})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestBatchStreamFinal(t *testing.T) {
	tr := &scriptedTranscriber{text: " hello world "}
	s := openBatch(t, tr, true)
	if err := s.Push([]byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	events := collect(t, s)
	last := events[len(events)-1]
	if last.Kind != EventFinal || last.Text != "hello world" {
		t.Fatalf("expected trimmed final, got %+v", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Kind != EventPartial {
			t.Fatalf("expected only partials before final, got %+v", ev)
		}
	}
	if err := s.Push([]byte{0, 0}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestBatchStreamNoSpeech(t *testing.T) {
	s := openBatch(t, &scriptedTranscriber{text: "   "}, false)
	if err := s.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	events := collect(t, s)
	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if CodeOf(events[0].Err) != CodeNoSpeech || !IsBenign(events[0].Err) {
		t.Fatalf("expected benign no-speech error, got %v", events[0].Err)
	}
}

func TestBatchStreamCancelInflight(t *testing.T) {
	tr := &scriptedTranscriber{text: "never", block: make(chan struct{})}
	s := openBatch(t, tr, false)
	_ = s.Push([]byte{1, 0})
	_ = s.CloseSend()
	s.Cancel()
	events := collect(t, s)
	if len(events) != 1 || CodeOf(events[0].Err) != CodeCancelled {
		t.Fatalf("expected cancelled error, got %+v", events)
	}
}

func TestBatchStreamCancelIdle(t *testing.T) {
	s := openBatch(t, &scriptedTranscriber{text: "x"}, false)
	s.Cancel()
	s.Cancel()
	events := collect(t, s)
	if len(events) != 1 || CodeOf(events[0].Err) != CodeCancelled {
		t.Fatalf("expected one cancelled error, got %+v", events)
	}
}

func TestBatchStreamFinalFailure(t *testing.T) {
	s := openBatch(t, &scriptedTranscriber{err: errors.New("model crashed")}, false)
	_ = s.Push([]byte{1, 0})
	_ = s.CloseSend()
	events := collect(t, s)
	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("expected error event, got %+v", events)
	}
	if IsBenign(events[0].Err) {
		t.Fatalf("transcriber failure must not be benign: %v", events[0].Err)
	}
	if !strings.Contains(events[0].Err.Error(), "model crashed") {
		t.Fatalf("expected wrapped cause, got %v", events[0].Err)
	}
}

func TestBatchRecognizerLocale(t *testing.T) {
	r := NewBatchRecognizer(&scriptedTranscriber{}, BatchOptions{Locales: []string{"en-US"}})
	if !r.Available("en-us") {
		t.Fatal("expected case-insensitive locale match")
	}
	if r.Available("fr-FR") {
		t.Fatal("expected fr-FR unavailable")
	}
	_, err := r.Open(context.Background(), Request{Locale: "fr-FR"})
	if CodeOf(err) != CodeUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(context.Canceled) != CodeCancelled {
		t.Fatal("context.Canceled should map to cancelled")
	}
	if CodeOf(context.DeadlineExceeded) != CodeTimeout {
		t.Fatal("deadline should map to timeout")
	}
	if CodeOf(errors.New("boom")) != CodeUnknown {
		t.Fatal("plain errors are unknown")
	}
	if ParseCode(CodeNoSpeech.String()) != CodeNoSpeech {
		t.Fatal("code string should round trip")
	}
	if IsBenign(NewError(CodeTimeout, nil)) {
		t.Fatal("timeout is not benign")
	}
}

func TestMockRecognizer(t *testing.T) {
	r := NewMockRecognizer(BatchOptions{Locales: []string{"en-US"}, Logger: newLogger()})
	s, err := r.Open(context.Background(), Request{SessionID: "m", Locale: "en-US", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Push(make([]byte, 320))
	_ = s.CloseSend()
	events := collect(t, s)
	last := events[len(events)-1]
	if last.Kind != EventFinal || last.Text != "[final transcript length=320]" {
		t.Fatalf("unexpected mock final %+v", last)
	}
}
