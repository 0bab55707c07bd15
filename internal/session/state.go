// Package session drives one live transcription at a time: it owns the audio
// tap, the recognition stream and the file recorder, and turns recognizer
// results into speaker-attributed segments.
package session

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/history"
)

var (
	ErrAlreadyRecording = errors.New("session: already recording")
	ErrNotRecording     = errors.New("session: not recording")
	ErrRecording        = errors.New("session: stop recording first")
	ErrEmptyTranscript  = errors.New("session: transcript is empty")
	ErrInvalidSpeaker   = errors.New("session: speaker label is empty")
	ErrClosed           = errors.New("session: controller closed")
)

// State is a point-in-time view of the controller.
type State struct {
	SessionID string
	Recording bool
	Paused    bool
	Speaker   string
	Elapsed   time.Duration
	Segments  []history.Segment
	// Error is the user-facing message of the last surfaced failure.
	Error     string
	UpdatedAt time.Time
}

// Transcript joins the non-empty segment texts.
func (s State) Transcript() string {
	_, text := history.JoinSegments(s.Segments)
	return text
}

// SaveOptions customise the saved record. A blank title defaults to the
// formatted save time.
type SaveOptions struct {
	Title    string
	Tags     []string
	Favorite bool
}

func (s State) clone() State {
	out := s
	out.Segments = append([]history.Segment(nil), s.Segments...)
	return out
}
