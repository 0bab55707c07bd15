// Package stt abstracts streaming speech recognition backends.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code classifies recognition failures.
type Code int

const (
	CodeUnknown Code = iota
	CodeCancelled
	CodeNoSpeech
	CodeUnavailable
	CodeTimeout
)

func (c Code) String() string {
	switch c {
	case CodeCancelled:
		return "cancelled"
	case CodeNoSpeech:
		return "no_speech"
	case CodeUnavailable:
		return "unavailable"
	case CodeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParseCode is the inverse of Code.String.
func ParseCode(s string) Code {
	switch s {
	case "cancelled":
		return CodeCancelled
	case "no_speech":
		return CodeNoSpeech
	case "unavailable":
		return CodeUnavailable
	case "timeout":
		return CodeTimeout
	default:
		return CodeUnknown
	}
}

// Error is a recognition failure carrying a Code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "recognition " + e.Code.String()
	}
	return fmt.Sprintf("recognition %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code Code, err error) error {
	return &Error{Code: code, Err: err}
}

var (
	ErrCancelled     = NewError(CodeCancelled, nil)
	ErrNoSpeech      = NewError(CodeNoSpeech, nil)
	ErrStreamClosed  = errors.New("stt: stream closed for sending")
	ErrLocaleMissing = errors.New("stt: locale not supported")
)

// CodeOf extracts the Code of err. Context cancellation maps to CodeCancelled.
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	return CodeUnknown
}

// IsBenign reports whether err is one of the codes a recognizer raises during
// normal operation: user cancellation and no speech detected.
func IsBenign(err error) bool {
	switch CodeOf(err) {
	case CodeCancelled, CodeNoSpeech:
		return true
	}
	return false
}

type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	default:
		return "error"
	}
}

// Event is one message of a recognition stream. Partial and final texts are
// cumulative for the stream: each replaces the previous one.
type Event struct {
	Kind       EventKind
	Text       string
	Confidence float64
	Err        error
}

// Request describes one recognition stream.
type Request struct {
	SessionID  string
	Locale     string
	SampleRate int
	Channels   int
	Interim    bool
}

// Recognizer opens recognition streams.
type Recognizer interface {
	Available(locale string) bool
	Open(ctx context.Context, req Request) (Stream, error)
}

// Stream receives captured audio and reports results. Events is closed after
// a final result or an error.
type Stream interface {
	Push(pcm []byte) error
	Events() <-chan Event
	// CloseSend signals end of audio; the last result is still delivered.
	CloseSend() error
	// Cancel aborts the stream; a pending result is dropped.
	Cancel()
}

// TranscriptResult captures batch transcriber output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Transcriber converts a buffer of PCM audio to text in one call.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}

type locales []string

func (l locales) supports(locale string) bool {
	if len(l) == 0 {
		return locale != ""
	}
	for _, s := range l {
		if strings.EqualFold(s, locale) {
			return true
		}
	}
	return false
}
